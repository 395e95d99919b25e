package store

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"gorm.io/gorm"

	"github.com/ModoriLabs/zk-escrow/internal/escrow"
	"github.com/ModoriLabs/zk-escrow/internal/models"
)

const (
	counterDeposits = "deposits"
	counterIntents  = "intents"
)

// GormStore persists escrow state in Postgres. Update maps directly onto a
// database transaction; the engine serializes calls, so row locking beyond
// the transaction itself is unnecessary.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps an initialized gorm handle.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Update(ctx context.Context, fn func(escrow.Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTx{db: tx})
	})
}

func (s *GormStore) View(ctx context.Context, fn func(escrow.Tx) error) error {
	return fn(&gormTx{db: s.db.WithContext(ctx)})
}

// EnsureEscrowRegistration records that a verifier serves an escrow
// instance. Idempotent: re-running is a no-op.
func (s *GormStore) EnsureEscrowRegistration(ctx context.Context, verifier, escrowAddr common.Address) error {
	row := models.EscrowRegistration{Verifier: verifier.Hex(), Escrow: escrowAddr.Hex()}
	return s.db.WithContext(ctx).
		Where("verifier = ? AND escrow = ?", row.Verifier, row.Escrow).
		FirstOrCreate(&row).Error
}

// EscrowRegistrations lists the escrow instances a verifier serves.
func (s *GormStore) EscrowRegistrations(ctx context.Context, verifier common.Address) ([]common.Address, error) {
	var rows []models.EscrowRegistration
	if err := s.db.WithContext(ctx).Where("verifier = ?", verifier.Hex()).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]common.Address, 0, len(rows))
	for _, r := range rows {
		out = append(out, common.HexToAddress(r.Escrow))
	}
	return out, nil
}

type gormTx struct {
	db *gorm.DB
}

func (t *gormTx) NextDepositID() (uint64, error) { return t.nextID(counterDeposits) }
func (t *gormTx) NextIntentID() (uint64, error)  { return t.nextID(counterIntents) }

func (t *gormTx) nextID(name string) (uint64, error) {
	var c models.Counter
	err := t.db.Where("name = ?", name).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c = models.Counter{Name: name, Value: 1}
		if err := t.db.Create(&c).Error; err != nil {
			return 0, err
		}
		return c.Value, nil
	}
	if err != nil {
		return 0, err
	}
	c.Value++
	if err := t.db.Save(&c).Error; err != nil {
		return 0, err
	}
	return c.Value, nil
}

func (t *gormTx) Deposit(id uint64) (*escrow.Deposit, error) {
	var row models.Deposit
	err := t.db.Preload("Verifiers").Preload("Rates").Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, escrow.ErrDepositNotFound
	}
	if err != nil {
		return nil, err
	}
	return depositFromModel(&row)
}

func (t *gormTx) SaveDeposit(d *escrow.Deposit) error {
	row := depositToModel(d)
	if err := t.db.Save(&models.Deposit{
		ID:              row.ID,
		Depositor:       row.Depositor,
		Token:           row.Token,
		RemainingAmount: row.RemainingAmount,
		IntentMinAmount: row.IntentMinAmount,
		IntentMaxAmount: row.IntentMaxAmount,
		CreatedAt:       row.CreatedAt,
	}).Error; err != nil {
		return err
	}
	// Replace the child rows wholesale; configs are small and this keeps
	// rate updates and verifier changes from diverging from the parent.
	if err := t.db.Where("deposit_id = ?", d.ID).Delete(&models.DepositVerifier{}).Error; err != nil {
		return err
	}
	if err := t.db.Where("deposit_id = ?", d.ID).Delete(&models.DepositCurrencyRate{}).Error; err != nil {
		return err
	}
	if len(row.Verifiers) > 0 {
		if err := t.db.Create(&row.Verifiers).Error; err != nil {
			return err
		}
	}
	if len(row.Rates) > 0 {
		if err := t.db.Create(&row.Rates).Error; err != nil {
			return err
		}
	}
	return nil
}

func (t *gormTx) DeleteDeposit(id uint64) error {
	if err := t.db.Where("deposit_id = ?", id).Delete(&models.DepositVerifier{}).Error; err != nil {
		return err
	}
	if err := t.db.Where("deposit_id = ?", id).Delete(&models.DepositCurrencyRate{}).Error; err != nil {
		return err
	}
	return t.db.Where("id = ?", id).Delete(&models.Deposit{}).Error
}

func (t *gormTx) Deposits() ([]*escrow.Deposit, error) {
	var rows []models.Deposit
	if err := t.db.Preload("Verifiers").Preload("Rates").Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	return depositsFromModels(rows)
}

func (t *gormTx) DepositsByDepositor(addr common.Address) ([]*escrow.Deposit, error) {
	var rows []models.Deposit
	err := t.db.Preload("Verifiers").Preload("Rates").
		Where("depositor = ?", addr.Hex()).Order("id").Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return depositsFromModels(rows)
}

func (t *gormTx) Intent(id uint64) (*escrow.Intent, error) {
	var row models.Intent
	err := t.db.Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, escrow.ErrIntentNotFound
	}
	if err != nil {
		return nil, err
	}
	return intentFromModel(&row)
}

func (t *gormTx) SaveIntent(i *escrow.Intent) error {
	return t.db.Save(intentToModel(i)).Error
}

func (t *gormTx) OpenIntents(depositID uint64) ([]*escrow.Intent, error) {
	var rows []models.Intent
	err := t.db.Where("deposit_id = ? AND status = ?", depositID, string(escrow.IntentOpen)).
		Order("id").Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return intentsFromModels(rows)
}

func (t *gormTx) IntentsByTaker(addr common.Address) ([]*escrow.Intent, error) {
	var rows []models.Intent
	err := t.db.Where("taker = ?", addr.Hex()).Order("id").Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return intentsFromModels(rows)
}

func (t *gormTx) IsWhitelisted(addr common.Address) (bool, error) {
	var count int64
	err := t.db.Model(&models.WhitelistedVerifier{}).
		Where("address = ?", addr.Hex()).Count(&count).Error
	return count > 0, err
}

func (t *gormTx) SetWhitelisted(addr common.Address, whitelisted bool) error {
	if whitelisted {
		row := models.WhitelistedVerifier{Address: addr.Hex()}
		return t.db.Where("address = ?", row.Address).FirstOrCreate(&row).Error
	}
	return t.db.Where("address = ?", addr.Hex()).Delete(&models.WhitelistedVerifier{}).Error
}

func (t *gormTx) Whitelisted() ([]common.Address, error) {
	var rows []models.WhitelistedVerifier
	if err := t.db.Order("address").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]common.Address, 0, len(rows))
	for _, r := range rows {
		out = append(out, common.HexToAddress(r.Address))
	}
	return out, nil
}

// ---- model conversions ----

func depositToModel(d *escrow.Deposit) *models.Deposit {
	row := &models.Deposit{
		ID:              d.ID,
		Depositor:       d.Depositor.Hex(),
		Token:           d.Token.Hex(),
		RemainingAmount: d.RemainingAmount.String(),
		IntentMinAmount: d.IntentAmountRange.Min.String(),
		IntentMaxAmount: d.IntentAmountRange.Max.String(),
		CreatedAt:       d.CreatedAt,
	}
	for addr, cfg := range d.Verifiers {
		row.Verifiers = append(row.Verifiers, models.DepositVerifier{
			DepositID:    d.ID,
			Verifier:     addr.Hex(),
			PayeeDetails: cfg.PayeeDetails,
			Data:         append([]byte(nil), cfg.Data...),
		})
		for currency, rate := range cfg.Rates {
			row.Rates = append(row.Rates, models.DepositCurrencyRate{
				DepositID: d.ID,
				Verifier:  addr.Hex(),
				Currency:  currency.Hex(),
				Rate:      rate.String(),
			})
		}
	}
	return row
}

func depositFromModel(row *models.Deposit) (*escrow.Deposit, error) {
	remaining, err := parseBig(row.RemainingAmount)
	if err != nil {
		return nil, err
	}
	min, err := parseBig(row.IntentMinAmount)
	if err != nil {
		return nil, err
	}
	max, err := parseBig(row.IntentMaxAmount)
	if err != nil {
		return nil, err
	}
	d := &escrow.Deposit{
		ID:                row.ID,
		Depositor:         common.HexToAddress(row.Depositor),
		Token:             common.HexToAddress(row.Token),
		RemainingAmount:   remaining,
		IntentAmountRange: escrow.AmountRange{Min: min, Max: max},
		Verifiers:         make(map[common.Address]*escrow.VerifierConfig, len(row.Verifiers)),
		CreatedAt:         row.CreatedAt,
	}
	for _, v := range row.Verifiers {
		d.Verifiers[common.HexToAddress(v.Verifier)] = &escrow.VerifierConfig{
			PayeeDetails: v.PayeeDetails,
			Data:         append([]byte(nil), v.Data...),
			Rates:        make(map[common.Hash]*big.Int),
		}
	}
	for _, r := range row.Rates {
		cfg, ok := d.Verifiers[common.HexToAddress(r.Verifier)]
		if !ok {
			return nil, fmt.Errorf("store: rate row for unknown verifier %s on deposit %d", r.Verifier, row.ID)
		}
		rate, err := parseBig(r.Rate)
		if err != nil {
			return nil, err
		}
		cfg.Rates[common.HexToHash(r.Currency)] = rate
	}
	return d, nil
}

func depositsFromModels(rows []models.Deposit) ([]*escrow.Deposit, error) {
	out := make([]*escrow.Deposit, 0, len(rows))
	for i := range rows {
		d, err := depositFromModel(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func intentToModel(i *escrow.Intent) *models.Intent {
	return &models.Intent{
		ID:             i.ID,
		DepositID:      i.DepositID,
		Taker:          i.Taker.Hex(),
		Verifier:       i.Verifier.Hex(),
		Currency:       i.Currency.Hex(),
		Amount:         i.Amount.String(),
		ConversionRate: i.ConversionRate.String(),
		Status:         string(i.Status),
		CreatedAt:      i.CreatedAt,
		ExpiresAt:      i.ExpiresAt,
	}
}

func intentFromModel(row *models.Intent) (*escrow.Intent, error) {
	amount, err := parseBig(row.Amount)
	if err != nil {
		return nil, err
	}
	rate, err := parseBig(row.ConversionRate)
	if err != nil {
		return nil, err
	}
	return &escrow.Intent{
		ID:             row.ID,
		DepositID:      row.DepositID,
		Taker:          common.HexToAddress(row.Taker),
		Verifier:       common.HexToAddress(row.Verifier),
		Currency:       common.HexToHash(row.Currency),
		Amount:         amount,
		ConversionRate: rate,
		Status:         escrow.IntentStatus(row.Status),
		CreatedAt:      row.CreatedAt,
		ExpiresAt:      row.ExpiresAt,
	}, nil
}

func intentsFromModels(rows []models.Intent) ([]*escrow.Intent, error) {
	out := make([]*escrow.Intent, 0, len(rows))
	for i := range rows {
		intent, err := intentFromModel(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, intent)
	}
	return out, nil
}

func parseBig(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("store: malformed amount %q", s)
	}
	return v, nil
}
