// Command server runs the escrow HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/ModoriLabs/zk-escrow/internal/config"
	"github.com/ModoriLabs/zk-escrow/internal/db"
	"github.com/ModoriLabs/zk-escrow/internal/escrow"
	"github.com/ModoriLabs/zk-escrow/internal/events"
	"github.com/ModoriLabs/zk-escrow/internal/handlers"
	"github.com/ModoriLabs/zk-escrow/internal/ledger"
	"github.com/ModoriLabs/zk-escrow/internal/middleware"
	"github.com/ModoriLabs/zk-escrow/internal/registry"
	"github.com/ModoriLabs/zk-escrow/internal/router"
	"github.com/ModoriLabs/zk-escrow/internal/store"
	"github.com/ModoriLabs/zk-escrow/internal/utils"
	"github.com/ModoriLabs/zk-escrow/internal/verifier"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	if lvl, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		logger.SetLevel(lvl)
	}

	if err := run(*configPath, logger); err != nil {
		logger.WithError(err).Fatal("Server exited")
	}
}

func run(configPath string, logger *logrus.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	owner, err := utils.ParseAddress(cfg.Escrow.Owner)
	if err != nil {
		return fmt.Errorf("escrow owner: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage.
	var (
		escrowStore escrow.Store
		nullStore   registry.NullifierStore
		registrar   handlers.EscrowRegistrar
	)
	switch cfg.Database.Driver {
	case "postgres":
		gdb, err := db.Open(cfg.Database.DSN)
		if err != nil {
			return err
		}
		gs := store.NewGormStore(gdb)
		escrowStore = gs
		nullStore = store.NewGormNullifierStore(gdb)
		registrar = gs
	default:
		escrowStore = store.NewMemoryStore()
		nullStore = registry.NewMemoryNullifierStore()
	}

	// Asset ledger. The escrow identity must name the account that holds
	// the pooled funds, so the erc20 driver derives it from the signing key
	// and a conflicting configured address is a boot error.
	var (
		assets     ledger.AssetLedger
		escrowAddr common.Address
	)
	switch cfg.Ledger.Driver {
	case "erc20":
		erc, err := ledger.NewERC20Ledger(ctx, ledger.ERC20Config{
			RPCURL:        cfg.Ledger.RPCURL,
			TokenAddress:  cfg.Ledger.TokenAddress,
			PrivateKeyHex: cfg.Ledger.PrivateKey,
		}, logger)
		if err != nil {
			return err
		}
		derived := erc.EscrowAddress()
		escrowAddr, err = resolveEscrowAddress(cfg.Escrow.Address, owner, &derived)
		if err != nil {
			return err
		}
		assets = erc
	default:
		escrowAddr, err = resolveEscrowAddress(cfg.Escrow.Address, owner, nil)
		if err != nil {
			return err
		}
		mem := ledger.NewMemoryLedger(escrowAddr)
		for addr, amount := range cfg.Ledger.SeedBalances {
			parsed, err := utils.ParseAddress(addr)
			if err != nil {
				return fmt.Errorf("ledger seed address %q: %w", addr, err)
			}
			value, ok := new(big.Int).SetString(amount, 10)
			if !ok {
				return fmt.Errorf("ledger seed amount %q", amount)
			}
			mem.Mint(parsed, value)
		}
		assets = mem
	}

	// Events.
	hub := events.NewHub(logger)
	defer hub.Close()
	var nc *nats.Conn
	if cfg.NATS.URL != "" {
		nc, err = events.Connect(cfg.NATS.URL, logger)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer nc.Close()
	}
	bus := events.NewBus(nc, hub, logger)

	reg := registry.New(owner, nullStore, logger)

	engine, err := escrow.NewEngine(escrow.Config{
		Store:            escrowStore,
		Assets:           assets,
		Owner:            owner,
		Address:          escrowAddr,
		Chain:            cfg.Escrow.Chain,
		IntentExpiration: cfg.Escrow.IntentExpiration(),
		Events:           bus,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	verifiers, err := wireVerifiers(ctx, cfg, owner, escrowAddr, reg, engine, registrar, logger)
	if err != nil {
		return err
	}

	// HTTP.
	tokens := middleware.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL())
	auth := middleware.NewAuthMiddleware(tokens, logger)
	h := router.Handlers{
		Auth:      handlers.NewAuthHandler(tokens, logger),
		AdminAuth: handlers.NewAdminAuthHandler(cfg.Admin, tokens, logger),
		Deposits:  handlers.NewDepositHandler(engine, logger),
		Intents:   handlers.NewIntentHandler(engine, logger),
		Admin:     handlers.NewAdminHandler(engine, reg, verifiers, registrar, logger),
		WebSocket: handlers.NewWebSocketHandler(hub, logger),
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router.New(cfg, auth, h, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", srv.Addr).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// resolveEscrowAddress picks the escrow pool identity. When the ledger
// derives the pool account itself (erc20 signing key), that account wins and
// a conflicting configured address is rejected; otherwise the configured
// address is used, defaulting to the owner.
func resolveEscrowAddress(configured string, owner common.Address, derived *common.Address) (common.Address, error) {
	if configured == "" {
		if derived != nil {
			return *derived, nil
		}
		return owner, nil
	}
	addr, err := utils.ParseAddress(configured)
	if err != nil {
		return common.Address{}, fmt.Errorf("escrow address: %w", err)
	}
	if derived != nil && addr != *derived {
		return common.Address{}, fmt.Errorf("configured escrow address %s does not match ledger signing account %s", addr.Hex(), derived.Hex())
	}
	return addr, nil
}

// wireVerifiers builds each configured verifier and performs the idempotent
// boot wiring: registry write permission, engine whitelist and escrow
// registration.
func wireVerifiers(ctx context.Context, cfg *config.Config, owner, escrowAddr common.Address, reg *registry.Registry, engine *escrow.Engine, registrar handlers.EscrowRegistrar, logger *logrus.Logger) ([]*verifier.ReclaimVerifier, error) {
	verifiers := make([]*verifier.ReclaimVerifier, 0, len(cfg.Verifiers))
	for _, vc := range cfg.Verifiers {
		addr, err := utils.ParseAddress(vc.Address)
		if err != nil {
			return nil, fmt.Errorf("verifier %s address: %w", vc.Name, err)
		}
		currencies := make([]common.Hash, 0, len(vc.Currencies))
		for _, code := range vc.Currencies {
			currencies = append(currencies, utils.CurrencyHash(code))
		}
		v, err := verifier.NewReclaim(verifier.ReclaimConfig{
			Address:         addr,
			Owner:           owner,
			Registry:        reg,
			Currencies:      currencies,
			ProviderHashes:  vc.ProviderHashes,
			TimestampBuffer: vc.TimestampBuffer(),
			Logger:          logger,
		})
		if err != nil {
			return nil, fmt.Errorf("verifier %s: %w", vc.Name, err)
		}

		if err := reg.AddWritePermission(ctx, owner, addr); err != nil {
			return nil, fmt.Errorf("verifier %s write permission: %w", vc.Name, err)
		}
		if err := engine.AddWhitelistedPaymentVerifier(ctx, owner, addr); err != nil {
			return nil, fmt.Errorf("verifier %s whitelist: %w", vc.Name, err)
		}
		if err := v.AddEscrow(owner, escrowAddr); err != nil {
			return nil, fmt.Errorf("verifier %s escrow registration: %w", vc.Name, err)
		}
		if registrar != nil {
			if err := registrar.EnsureEscrowRegistration(ctx, addr, escrowAddr); err != nil {
				return nil, fmt.Errorf("verifier %s persist registration: %w", vc.Name, err)
			}
			// Escrows registered through the admin API survive restarts.
			stored, err := registrar.EscrowRegistrations(ctx, addr)
			if err != nil {
				return nil, fmt.Errorf("verifier %s stored registrations: %w", vc.Name, err)
			}
			for _, esc := range stored {
				if err := v.AddEscrow(owner, esc); err != nil {
					return nil, fmt.Errorf("verifier %s restore registration: %w", vc.Name, err)
				}
			}
		}

		engine.RegisterVerifier(v)
		verifiers = append(verifiers, v)
		logger.WithFields(logrus.Fields{
			"name":     vc.Name,
			"verifier": addr.Hex(),
		}).Info("Payment verifier wired")
	}
	return verifiers, nil
}
