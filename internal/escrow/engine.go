package escrow

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/ModoriLabs/zk-escrow/internal/ledger"
	"github.com/ModoriLabs/zk-escrow/internal/metrics"
)

// DefaultIntentExpiration is the window an open intent stays fulfillable.
const DefaultIntentExpiration = 1800 * time.Second

// Engine owns deposits, intents and the verifier whitelist. Every mutating
// operation runs under one mutex and inside one store transaction, so state
// transitions are serialized and all-or-nothing: an error means no state
// changed.
type Engine struct {
	mu sync.Mutex

	store    Store
	assets   ledger.AssetLedger
	owner    common.Address
	address  common.Address
	chain    string
	lifetime time.Duration

	verifiers map[common.Address]PaymentVerifier

	sink EventSink
	now  func() time.Time
	log  *logrus.Entry
}

// Config wires an engine.
type Config struct {
	Store  Store
	Assets ledger.AssetLedger

	// Owner may mutate the verifier whitelist.
	Owner common.Address

	// Address is the escrow identity presented to payment verifiers.
	Address common.Address

	// Chain names the deployment environment, informational only.
	Chain string

	// IntentExpiration defaults to DefaultIntentExpiration when zero.
	IntentExpiration time.Duration

	// Events is optional; nil disables publishing.
	Events EventSink

	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time

	Logger *logrus.Logger
}

// NewEngine validates the config and builds an engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("escrow: store is required")
	}
	if cfg.Assets == nil {
		return nil, fmt.Errorf("escrow: asset ledger is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.IntentExpiration <= 0 {
		cfg.IntentExpiration = DefaultIntentExpiration
	}
	return &Engine{
		store:     cfg.Store,
		assets:    cfg.Assets,
		owner:     cfg.Owner,
		address:   cfg.Address,
		chain:     cfg.Chain,
		lifetime:  cfg.IntentExpiration,
		verifiers: make(map[common.Address]PaymentVerifier),
		sink:      cfg.Events,
		now:       cfg.Now,
		log:       cfg.Logger.WithField("component", "escrow_engine"),
	}, nil
}

// Address is the escrow identity presented to payment verifiers.
func (e *Engine) Address() common.Address { return e.address }

// Owner is the administrative principal.
func (e *Engine) Owner() common.Address { return e.owner }

// RegisterVerifier installs a verifier implementation. Done once at boot,
// before the engine serves requests; whitelisting is a separate,
// owner-gated step.
func (e *Engine) RegisterVerifier(v PaymentVerifier) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.verifiers[v.Address()] = v
}

// AddWhitelistedPaymentVerifier admits a verifier for use in new deposits
// and intents. Owner-only, idempotent: re-adding emits no event.
func (e *Engine) AddWhitelistedPaymentVerifier(ctx context.Context, caller, verifier common.Address) error {
	if caller != e.owner {
		return ErrUnauthorized
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	var added bool
	err := e.store.Update(ctx, func(tx Tx) error {
		ok, err := tx.IsWhitelisted(verifier)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		added = true
		return tx.SetWhitelisted(verifier, true)
	})
	if err != nil {
		return err
	}
	if added {
		e.emit(ctx, EventVerifierAdded, map[string]any{"verifier": verifier.Hex()})
	}
	return nil
}

// RemoveWhitelistedPaymentVerifier removes a verifier from the whitelist.
// Intents already referencing it stay fulfillable: the whitelist is checked
// at intent creation only, so a governance change cannot strand an
// in-flight payment.
func (e *Engine) RemoveWhitelistedPaymentVerifier(ctx context.Context, caller, verifier common.Address) error {
	if caller != e.owner {
		return ErrUnauthorized
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	var removed bool
	err := e.store.Update(ctx, func(tx Tx) error {
		ok, err := tx.IsWhitelisted(verifier)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		removed = true
		return tx.SetWhitelisted(verifier, false)
	})
	if err != nil {
		return err
	}
	if removed {
		e.emit(ctx, EventVerifierRemoved, map[string]any{"verifier": verifier.Hex()})
	}
	return nil
}

// IsWhitelistedPaymentVerifier reads the whitelist.
func (e *Engine) IsWhitelistedPaymentVerifier(ctx context.Context, verifier common.Address) (bool, error) {
	var ok bool
	err := e.store.View(ctx, func(tx Tx) error {
		var err error
		ok, err = tx.IsWhitelisted(verifier)
		return err
	})
	return ok, err
}

// CreateDeposit pulls amount of the token from the depositor and registers
// pooled liquidity with its verifier and rate configuration.
func (e *Engine) CreateDeposit(ctx context.Context, caller, token common.Address, amount *big.Int, rng AmountRange, verifiers []VerifierSpec) (*Deposit, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if err := validateRange(rng, amount); err != nil {
		return nil, err
	}
	if len(verifiers) == 0 {
		return nil, fmt.Errorf("%w: at least one verifier required", ErrVerifierNotAuthorized)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var (
		deposit *Deposit
		pulled  bool
	)
	err := e.store.Update(ctx, func(tx Tx) error {
		cfgs := make(map[common.Address]*VerifierConfig, len(verifiers))
		for _, spec := range verifiers {
			ok, err := tx.IsWhitelisted(spec.Address)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: %s", ErrVerifierNotAuthorized, spec.Address.Hex())
			}
			if spec.PayeeDetails == "" {
				return fmt.Errorf("%w: payee details required", ErrCurrencyNotSupported)
			}
			if len(spec.Currencies) == 0 {
				return fmt.Errorf("%w: no currencies for verifier %s", ErrCurrencyNotSupported, spec.Address.Hex())
			}
			cfg := &VerifierConfig{
				PayeeDetails: spec.PayeeDetails,
				Data:         append([]byte(nil), spec.Data...),
				Rates:        make(map[common.Hash]*big.Int, len(spec.Currencies)),
			}
			for _, cr := range spec.Currencies {
				if cr.Rate == nil || cr.Rate.Sign() <= 0 {
					return fmt.Errorf("%w: conversion rate must be positive", ErrCurrencyNotSupported)
				}
				cfg.Rates[cr.Code] = new(big.Int).Set(cr.Rate)
			}
			cfgs[spec.Address] = cfg
		}

		id, err := tx.NextDepositID()
		if err != nil {
			return err
		}

		// Funds move before the deposit row exists: a failure after this
		// point leaves the pool holding funds no deposit claims, never a
		// deposit the pool cannot cover.
		if err := e.assets.TransferFrom(ctx, caller, amount); err != nil {
			return fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
		pulled = true

		deposit = &Deposit{
			ID:              id,
			Depositor:       caller,
			Token:           token,
			RemainingAmount: new(big.Int).Set(amount),
			IntentAmountRange: AmountRange{
				Min: new(big.Int).Set(rng.Min),
				Max: new(big.Int).Set(rng.Max),
			},
			Verifiers: cfgs,
			CreatedAt: e.now(),
		}
		return tx.SaveDeposit(deposit)
	})
	if err != nil {
		if pulled {
			// Funds already moved into the pool; surface loudly rather
			// than hide it.
			e.log.WithFields(logrus.Fields{
				"depositor": caller.Hex(),
				"amount":    amount.String(),
				"error":     err.Error(),
			}).Error("state commit failed after transfer")
		}
		return nil, err
	}

	metrics.DepositsCreated.Inc()
	e.log.WithFields(logrus.Fields{
		"deposit_id": deposit.ID,
		"depositor":  caller.Hex(),
		"amount":     amount.String(),
	}).Info("deposit created")
	e.emit(ctx, EventDepositCreated, map[string]any{
		"deposit_id": deposit.ID,
		"depositor":  caller.Hex(),
		"token":      token.Hex(),
		"amount":     amount.String(),
	})
	return deposit.Clone(), nil
}

// IncreaseDeposit pulls additional funds into an existing deposit.
func (e *Engine) IncreaseDeposit(ctx context.Context, caller common.Address, depositID uint64, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var pulled bool
	err := e.store.Update(ctx, func(tx Tx) error {
		d, err := tx.Deposit(depositID)
		if err != nil {
			return err
		}
		if d.Depositor != caller {
			return ErrUnauthorized
		}
		if err := e.assets.TransferFrom(ctx, caller, amount); err != nil {
			return fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
		pulled = true
		d.RemainingAmount.Add(d.RemainingAmount, amount)
		return tx.SaveDeposit(d)
	})
	if err != nil {
		if pulled {
			e.log.WithFields(logrus.Fields{
				"deposit_id": depositID,
				"amount":     amount.String(),
				"error":      err.Error(),
			}).Error("state commit failed after transfer")
		}
		return err
	}

	e.emit(ctx, EventDepositIncreased, map[string]any{
		"deposit_id": depositID,
		"amount":     amount.String(),
	})
	return nil
}

// UpdateDepositIntentAmountRange replaces the intent size bounds,
// re-validated against the current remaining amount. Depositor-only.
func (e *Engine) UpdateDepositIntentAmountRange(ctx context.Context, caller common.Address, depositID uint64, rng AmountRange) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.store.Update(ctx, func(tx Tx) error {
		d, err := tx.Deposit(depositID)
		if err != nil {
			return err
		}
		if d.Depositor != caller {
			return ErrUnauthorized
		}
		if err := validateRange(rng, d.RemainingAmount); err != nil {
			return err
		}
		d.IntentAmountRange = AmountRange{
			Min: new(big.Int).Set(rng.Min),
			Max: new(big.Int).Set(rng.Max),
		}
		return tx.SaveDeposit(d)
	})
}

// UpdateDepositConversionRate changes the rate for one verifier+currency.
// Depositor-only; affects future intents only since open intents carry a
// frozen copy of the rate.
func (e *Engine) UpdateDepositConversionRate(ctx context.Context, caller common.Address, depositID uint64, verifier common.Address, currency common.Hash, rate *big.Int) error {
	if rate == nil || rate.Sign() <= 0 {
		return ErrInvalidAmount
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	return e.store.Update(ctx, func(tx Tx) error {
		d, err := tx.Deposit(depositID)
		if err != nil {
			return err
		}
		if d.Depositor != caller {
			return ErrUnauthorized
		}
		cfg, ok := d.Verifiers[verifier]
		if !ok {
			return fmt.Errorf("%w: %s", ErrVerifierNotAuthorized, verifier.Hex())
		}
		if _, ok := cfg.Rates[currency]; !ok {
			return ErrCurrencyNotSupported
		}
		cfg.Rates[currency] = new(big.Int).Set(rate)
		return tx.SaveDeposit(d)
	})
}

// CreateIntent reserves amount against a deposit for the taker, freezing
// the current conversion rate. The reservation and the deposit decrement
// commit atomically, so concurrent intents can never oversubscribe a pool.
func (e *Engine) CreateIntent(ctx context.Context, taker common.Address, depositID uint64, verifier common.Address, currency common.Hash, amount *big.Int) (*Intent, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var intent *Intent
	err := e.store.Update(ctx, func(tx Tx) error {
		d, err := tx.Deposit(depositID)
		if err != nil {
			return err
		}
		cfg, ok := d.Verifiers[verifier]
		if !ok {
			return fmt.Errorf("%w: not configured on deposit", ErrVerifierNotAuthorized)
		}
		whitelisted, err := tx.IsWhitelisted(verifier)
		if err != nil {
			return err
		}
		if !whitelisted {
			return fmt.Errorf("%w: not whitelisted", ErrVerifierNotAuthorized)
		}
		rate, ok := cfg.Rates[currency]
		if !ok || rate.Sign() <= 0 {
			return ErrCurrencyNotSupported
		}
		if amount.Cmp(d.IntentAmountRange.Min) < 0 || amount.Cmp(d.IntentAmountRange.Max) > 0 {
			return ErrAmountOutOfRange
		}
		if amount.Cmp(d.RemainingAmount) > 0 {
			return ErrInsufficientLiquidity
		}

		id, err := tx.NextIntentID()
		if err != nil {
			return err
		}
		now := e.now()
		intent = &Intent{
			ID:             id,
			DepositID:      depositID,
			Taker:          taker,
			Verifier:       verifier,
			Currency:       currency,
			Amount:         new(big.Int).Set(amount),
			ConversionRate: new(big.Int).Set(rate),
			Status:         IntentOpen,
			CreatedAt:      now,
			ExpiresAt:      now.Add(e.lifetime),
		}
		d.RemainingAmount.Sub(d.RemainingAmount, amount)
		if err := tx.SaveDeposit(d); err != nil {
			return err
		}
		return tx.SaveIntent(intent)
	})
	if err != nil {
		return nil, err
	}

	metrics.IntentsCreated.Inc()
	e.log.WithFields(logrus.Fields{
		"intent_id":  intent.ID,
		"deposit_id": depositID,
		"taker":      taker.Hex(),
		"amount":     amount.String(),
		"rate":       intent.ConversionRate.String(),
	}).Info("intent created")
	e.emit(ctx, EventIntentCreated, map[string]any{
		"intent_id":  intent.ID,
		"deposit_id": depositID,
		"taker":      taker.Hex(),
		"amount":     amount.String(),
		"expires_at": intent.ExpiresAt,
	})
	return intent.Clone(), nil
}

// FulfillIntent submits a payment proof for an open intent. Verification is
// delegated to the intent's verifier; on success the reserved amount is
// transferred to the taker and the intent becomes FULFILLED. On a verifier
// failure the intent stays OPEN and the taker may retry with a corrected
// proof, unless the intent has already passed its expiry.
func (e *Engine) FulfillIntent(ctx context.Context, intentID uint64, proof []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var (
		intent  *Intent
		deposit *Deposit
	)
	err := e.store.View(ctx, func(tx Tx) error {
		var err error
		intent, err = tx.Intent(intentID)
		if err != nil {
			return err
		}
		deposit, err = tx.Deposit(intent.DepositID)
		return err
	})
	if err != nil {
		return err
	}

	if intent.Status.Terminal() {
		return ErrIntentNotOpen
	}
	if e.now().After(intent.ExpiresAt) {
		return ErrIntentExpired
	}

	verifier, ok := e.verifiers[intent.Verifier]
	if !ok {
		return fmt.Errorf("%w: no implementation registered", ErrVerifierNotAuthorized)
	}

	// The bundled ledgers fail transfers only on insufficient balance, so
	// checking the pool first keeps the post-verification transfer from
	// failing after the nullifier is consumed.
	pool, err := e.assets.BalanceOf(ctx, e.address)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if pool.Cmp(intent.Amount) < 0 {
		return fmt.Errorf("%w: escrow pool below reserved amount", ErrTransferFailed)
	}

	start := e.now()
	auth, err := verifier.VerifyPayment(ctx, e.address, deposit, intent, proof)
	metrics.ProofVerifyDuration.Observe(e.now().Sub(start).Seconds())
	if err != nil {
		metrics.ProofVerifications.WithLabelValues(intent.Verifier.Hex(), "rejected").Inc()
		e.log.WithFields(logrus.Fields{
			"intent_id": intentID,
			"error":     err.Error(),
		}).Warn("payment verification rejected")
		return err
	}
	metrics.ProofVerifications.WithLabelValues(intent.Verifier.Hex(), "accepted").Inc()

	if err := e.assets.Transfer(ctx, intent.Taker, auth.Amount); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	var closed bool
	err = e.store.Update(ctx, func(tx Tx) error {
		i, err := tx.Intent(intentID)
		if err != nil {
			return err
		}
		i.Status = IntentFulfilled
		if err := tx.SaveIntent(i); err != nil {
			return err
		}
		closed, err = e.pruneDeposit(tx, i.DepositID)
		return err
	})
	if err != nil {
		// Funds already moved; surface loudly rather than hide it.
		e.log.WithFields(logrus.Fields{
			"intent_id": intentID,
			"error":     err.Error(),
		}).Error("state commit failed after transfer")
		return err
	}

	metrics.IntentsSettled.WithLabelValues("fulfilled").Inc()
	e.log.WithFields(logrus.Fields{
		"intent_id": intentID,
		"taker":     intent.Taker.Hex(),
		"amount":    auth.Amount.String(),
		"nullifier": auth.Nullifier.Hex(),
	}).Info("intent fulfilled")
	e.emit(ctx, EventIntentFulfilled, map[string]any{
		"intent_id":  intentID,
		"deposit_id": intent.DepositID,
		"taker":      intent.Taker.Hex(),
		"amount":     auth.Amount.String(),
	})
	if closed {
		e.emitDepositClosed(ctx, intent.DepositID)
	}
	return nil
}

// ExpireIntent returns an overdue reservation to its deposit. Callable by
// anyone once the deadline has passed: permissionless garbage collection,
// so a stuck reservation cannot be held hostage.
func (e *Engine) ExpireIntent(ctx context.Context, intentID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var (
		intent *Intent
		closed bool
	)
	err := e.store.Update(ctx, func(tx Tx) error {
		var err error
		intent, err = tx.Intent(intentID)
		if err != nil {
			return err
		}
		if intent.Status.Terminal() {
			return ErrIntentNotOpen
		}
		if !e.now().After(intent.ExpiresAt) {
			return ErrIntentNotExpired
		}
		intent.Status = IntentExpired
		if err := tx.SaveIntent(intent); err != nil {
			return err
		}
		if err := e.restoreReservation(tx, intent); err != nil {
			return err
		}
		closed, err = e.pruneDeposit(tx, intent.DepositID)
		return err
	})
	if err != nil {
		return err
	}

	metrics.IntentsSettled.WithLabelValues("expired").Inc()
	e.emit(ctx, EventIntentExpired, map[string]any{
		"intent_id":  intentID,
		"deposit_id": intent.DepositID,
		"amount":     intent.Amount.String(),
	})
	if closed {
		e.emitDepositClosed(ctx, intent.DepositID)
	}
	return nil
}

// CancelIntent lets the taker abandon their own open intent before the
// deadline, releasing the reservation immediately.
func (e *Engine) CancelIntent(ctx context.Context, caller common.Address, intentID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var (
		intent *Intent
		closed bool
	)
	err := e.store.Update(ctx, func(tx Tx) error {
		var err error
		intent, err = tx.Intent(intentID)
		if err != nil {
			return err
		}
		if intent.Taker != caller {
			return ErrUnauthorized
		}
		if intent.Status.Terminal() {
			return ErrIntentNotOpen
		}
		intent.Status = IntentCancelled
		if err := tx.SaveIntent(intent); err != nil {
			return err
		}
		if err := e.restoreReservation(tx, intent); err != nil {
			return err
		}
		closed, err = e.pruneDeposit(tx, intent.DepositID)
		return err
	})
	if err != nil {
		return err
	}

	metrics.IntentsSettled.WithLabelValues("cancelled").Inc()
	e.emit(ctx, EventIntentCancelled, map[string]any{
		"intent_id":  intentID,
		"deposit_id": intent.DepositID,
		"amount":     intent.Amount.String(),
	})
	if closed {
		e.emitDepositClosed(ctx, intent.DepositID)
	}
	return nil
}

// WithdrawDeposit returns all unreserved liquidity to the depositor. Open
// intents keep their reservations; the deposit row is removed once it is
// empty and no intents remain open.
//
// The record is released before the payout: a commit failure moves no
// funds, and a payout failure after the commit leaves the funds pooled,
// never a deposit the pool cannot cover.
func (e *Engine) WithdrawDeposit(ctx context.Context, caller common.Address, depositID uint64) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var (
		withdrawn *big.Int
		closed    bool
	)
	err := e.store.Update(ctx, func(tx Tx) error {
		d, err := tx.Deposit(depositID)
		if err != nil {
			return err
		}
		if d.Depositor != caller {
			return ErrUnauthorized
		}
		if d.RemainingAmount.Sign() <= 0 {
			return ErrInsufficientLiquidity
		}
		withdrawn = new(big.Int).Set(d.RemainingAmount)
		d.RemainingAmount.SetInt64(0)
		if err := tx.SaveDeposit(d); err != nil {
			return err
		}
		closed, err = e.pruneDeposit(tx, depositID)
		return err
	})
	if err != nil {
		return nil, err
	}

	if err := e.assets.Transfer(ctx, caller, withdrawn); err != nil {
		e.log.WithFields(logrus.Fields{
			"deposit_id": depositID,
			"depositor":  caller.Hex(),
			"amount":     withdrawn.String(),
			"error":      err.Error(),
		}).Error("payout failed after state commit")
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	e.emit(ctx, EventDepositWithdrawn, map[string]any{
		"deposit_id": depositID,
		"amount":     withdrawn.String(),
	})
	if closed {
		e.emitDepositClosed(ctx, depositID)
	}
	return withdrawn, nil
}

// GetDeposit reads a deposit.
func (e *Engine) GetDeposit(ctx context.Context, id uint64) (*Deposit, error) {
	var d *Deposit
	err := e.store.View(ctx, func(tx Tx) error {
		var err error
		d, err = tx.Deposit(id)
		return err
	})
	return d, err
}

// ListDeposits reads all deposits.
func (e *Engine) ListDeposits(ctx context.Context) ([]*Deposit, error) {
	var out []*Deposit
	err := e.store.View(ctx, func(tx Tx) error {
		var err error
		out, err = tx.Deposits()
		return err
	})
	return out, err
}

// GetIntent reads an intent.
func (e *Engine) GetIntent(ctx context.Context, id uint64) (*Intent, error) {
	var i *Intent
	err := e.store.View(ctx, func(tx Tx) error {
		var err error
		i, err = tx.Intent(id)
		return err
	})
	return i, err
}

// ListIntentsByTaker reads all intents opened by a taker.
func (e *Engine) ListIntentsByTaker(ctx context.Context, taker common.Address) ([]*Intent, error) {
	var out []*Intent
	err := e.store.View(ctx, func(tx Tx) error {
		var err error
		out, err = tx.IntentsByTaker(taker)
		return err
	})
	return out, err
}

// restoreReservation returns an intent's reserved amount to its deposit.
// The deposit row always survives while intents are open (pruning checks
// for open intents), so the lookup cannot miss here.
func (e *Engine) restoreReservation(tx Tx, intent *Intent) error {
	d, err := tx.Deposit(intent.DepositID)
	if err != nil {
		return err
	}
	d.RemainingAmount.Add(d.RemainingAmount, intent.Amount)
	return tx.SaveDeposit(d)
}

// pruneDeposit removes a deposit that is fully drained with no open
// intents. Reports whether the deposit was removed.
func (e *Engine) pruneDeposit(tx Tx, depositID uint64) (bool, error) {
	d, err := tx.Deposit(depositID)
	if err != nil {
		if errors.Is(err, ErrDepositNotFound) {
			return false, nil
		}
		return false, err
	}
	if d.RemainingAmount.Sign() != 0 {
		return false, nil
	}
	open, err := tx.OpenIntents(depositID)
	if err != nil {
		return false, err
	}
	if len(open) > 0 {
		return false, nil
	}
	if err := tx.DeleteDeposit(depositID); err != nil {
		return false, err
	}
	metrics.DepositsClosed.Inc()
	return true, nil
}

func (e *Engine) emitDepositClosed(ctx context.Context, depositID uint64) {
	e.emit(ctx, EventDepositClosed, map[string]any{"deposit_id": depositID})
}

func (e *Engine) emit(ctx context.Context, typ string, data map[string]any) {
	if e.sink == nil {
		return
	}
	e.sink.Publish(ctx, Event{Type: typ, At: e.now(), Data: data})
}

func validateRange(rng AmountRange, max *big.Int) error {
	if rng.Min == nil || rng.Max == nil {
		return ErrInvalidRange
	}
	if rng.Min.Sign() <= 0 || rng.Min.Cmp(rng.Max) > 0 || rng.Max.Cmp(max) > 0 {
		return ErrInvalidRange
	}
	return nil
}
