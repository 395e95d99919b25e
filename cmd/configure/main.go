// Command configure applies the verifier wiring to a Postgres deployment
// without starting the API: registry write permissions, the payment
// verifier whitelist and escrow registrations. Every step is idempotent,
// rerunning is safe.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/ModoriLabs/zk-escrow/internal/config"
	"github.com/ModoriLabs/zk-escrow/internal/db"
	"github.com/ModoriLabs/zk-escrow/internal/escrow"
	"github.com/ModoriLabs/zk-escrow/internal/ledger"
	"github.com/ModoriLabs/zk-escrow/internal/registry"
	"github.com/ModoriLabs/zk-escrow/internal/store"
	"github.com/ModoriLabs/zk-escrow/internal/utils"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	logger := logrus.New()
	if err := run(*configPath, logger); err != nil {
		logger.WithError(err).Error("Configure failed")
		os.Exit(1)
	}
}

func run(configPath string, logger *logrus.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Database.Driver != "postgres" {
		return fmt.Errorf("configure requires the postgres database driver")
	}

	owner, err := utils.ParseAddress(cfg.Escrow.Owner)
	if err != nil {
		return fmt.Errorf("escrow owner: %w", err)
	}
	escrowAddr := owner
	if cfg.Escrow.Address != "" {
		escrowAddr, err = utils.ParseAddress(cfg.Escrow.Address)
		if err != nil {
			return fmt.Errorf("escrow address: %w", err)
		}
	}

	gdb, err := db.Open(cfg.Database.DSN)
	if err != nil {
		return err
	}
	gs := store.NewGormStore(gdb)
	reg := registry.New(owner, store.NewGormNullifierStore(gdb), logger)

	// The ledger is never touched here; the no-op memory ledger
	// satisfies the engine constructor.
	engine, err := escrow.NewEngine(escrow.Config{
		Store:  gs,
		Assets: ledger.NewMemoryLedger(escrowAddr),
		Owner:  owner,
		Chain:  cfg.Escrow.Chain,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	ctx := context.Background()
	for _, vc := range cfg.Verifiers {
		addr, err := utils.ParseAddress(vc.Address)
		if err != nil {
			return fmt.Errorf("verifier %s address: %w", vc.Name, err)
		}

		if err := reg.AddWritePermission(ctx, owner, addr); err != nil {
			return fmt.Errorf("verifier %s write permission: %w", vc.Name, err)
		}
		if err := engine.AddWhitelistedPaymentVerifier(ctx, owner, addr); err != nil {
			return fmt.Errorf("verifier %s whitelist: %w", vc.Name, err)
		}
		if err := gs.EnsureEscrowRegistration(ctx, addr, escrowAddr); err != nil {
			return fmt.Errorf("verifier %s escrow registration: %w", vc.Name, err)
		}

		logger.WithFields(logrus.Fields{
			"name":     vc.Name,
			"verifier": addr.Hex(),
			"escrow":   escrowAddr.Hex(),
		}).Info("Verifier configured")
	}

	writers, err := reg.Writers(ctx)
	if err != nil {
		return err
	}
	logger.WithField("writers", len(writers)).Info("Configuration applied")
	return nil
}
