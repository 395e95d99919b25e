package store

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"gorm.io/gorm"

	"github.com/ModoriLabs/zk-escrow/internal/models"
	"github.com/ModoriLabs/zk-escrow/internal/registry"
)

// GormNullifierStore persists consumed nullifiers and writer permissions in
// Postgres. The nullifier primary key enforces write-once at the database
// level even if two processes share the table.
type GormNullifierStore struct {
	db *gorm.DB
}

// NewGormNullifierStore wraps an initialized gorm handle.
func NewGormNullifierStore(db *gorm.DB) *GormNullifierStore {
	return &GormNullifierStore{db: db}
}

func (s *GormNullifierStore) IsConsumed(ctx context.Context, id common.Hash) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Nullifier{}).
		Where("hash = ?", id.Hex()).Count(&count).Error
	return count > 0, err
}

func (s *GormNullifierStore) Consume(ctx context.Context, id common.Hash) error {
	err := s.db.WithContext(ctx).Create(&models.Nullifier{Hash: id.Hex()}).Error
	if err != nil && errors.Is(err, gorm.ErrDuplicatedKey) {
		return registry.ErrNullifierAlreadyUsed
	}
	return err
}

func (s *GormNullifierStore) IsWriter(ctx context.Context, addr common.Address) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.RegistryWriter{}).
		Where("address = ?", addr.Hex()).Count(&count).Error
	return count > 0, err
}

func (s *GormNullifierStore) SetWriter(ctx context.Context, addr common.Address, allowed bool) error {
	if allowed {
		row := models.RegistryWriter{Address: addr.Hex()}
		return s.db.WithContext(ctx).Where("address = ?", row.Address).FirstOrCreate(&row).Error
	}
	return s.db.WithContext(ctx).Where("address = ?", addr.Hex()).Delete(&models.RegistryWriter{}).Error
}

func (s *GormNullifierStore) Writers(ctx context.Context) ([]common.Address, error) {
	var rows []models.RegistryWriter
	if err := s.db.WithContext(ctx).Order("address").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]common.Address, 0, len(rows))
	for _, r := range rows {
		out = append(out, common.HexToAddress(r.Address))
	}
	return out, nil
}
