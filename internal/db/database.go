// Package db opens the Postgres connection and runs schema migrations.
package db

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ModoriLabs/zk-escrow/internal/metrics"
	"github.com/ModoriLabs/zk-escrow/internal/models"
)

// Open connects to Postgres and migrates the schema. TranslateError must
// stay on: nullifier uniqueness is enforced by mapping duplicate-key
// errors from the driver.
func Open(dsn string) (*gorm.DB, error) {
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		PrepareStmt:            true,
		TranslateError:         true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		metrics.DBConnectionStatus.Set(0)
		return nil, fmt.Errorf("connect database: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("access sql pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if err := migrate(gdb); err != nil {
		return nil, err
	}

	metrics.DBConnectionStatus.Set(1)
	logrus.WithField("max_open_conns", 20).Info("Database connected")
	return gdb, nil
}

func migrate(gdb *gorm.DB) error {
	err := gdb.AutoMigrate(
		&models.Deposit{},
		&models.DepositVerifier{},
		&models.DepositCurrencyRate{},
		&models.Intent{},
		&models.Nullifier{},
		&models.RegistryWriter{},
		&models.WhitelistedVerifier{},
		&models.EscrowRegistration{},
		&models.Counter{},
	)
	if err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}
