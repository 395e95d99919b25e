// Package escrow implements the custodial escrow state machine: pooled
// depositor liquidity, rate-frozen intents, and proof-gated release.
package escrow

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// IntentStatus is the lifecycle state of an intent. OPEN is the only
// non-terminal state; terminal states are never left.
type IntentStatus string

const (
	IntentOpen      IntentStatus = "OPEN"
	IntentFulfilled IntentStatus = "FULFILLED"
	IntentExpired   IntentStatus = "EXPIRED"
	IntentCancelled IntentStatus = "CANCELLED"
)

// Terminal reports whether the status admits no further transitions.
func (s IntentStatus) Terminal() bool {
	return s == IntentFulfilled || s == IntentExpired || s == IntentCancelled
}

// AmountRange bounds the size of a single intent against a deposit.
type AmountRange struct {
	Min *big.Int
	Max *big.Int
}

// VerifierConfig is the depositor-supplied configuration for one payment
// verifier on one deposit: where the fiat payment must land and at which
// conversion rates, per currency.
type VerifierConfig struct {
	// PayeeDetails identifies the fiat destination, e.g. "100202642943(토스뱅크)".
	// Proofs are matched against its keccak hash, never the raw value.
	PayeeDetails string

	// Data is opaque verifier-specific data, for the reclaim scheme an
	// ABI-encoded list of witness addresses.
	Data []byte

	// Rates maps currency hash to fiat-per-token conversion rate in 1e18
	// fixed point.
	Rates map[common.Hash]*big.Int
}

// Clone returns a deep copy so stores never hand out aliased state.
func (v *VerifierConfig) Clone() *VerifierConfig {
	out := &VerifierConfig{
		PayeeDetails: v.PayeeDetails,
		Data:         append([]byte(nil), v.Data...),
		Rates:        make(map[common.Hash]*big.Int, len(v.Rates)),
	}
	for c, r := range v.Rates {
		out.Rates[c] = new(big.Int).Set(r)
	}
	return out
}

// Deposit is pooled liquidity owned by a single depositor.
type Deposit struct {
	ID                uint64
	Depositor         common.Address
	Token             common.Address
	RemainingAmount   *big.Int
	IntentAmountRange AmountRange
	Verifiers         map[common.Address]*VerifierConfig
	CreatedAt         time.Time
}

// Clone returns a deep copy of the deposit.
func (d *Deposit) Clone() *Deposit {
	out := &Deposit{
		ID:              d.ID,
		Depositor:       d.Depositor,
		Token:           d.Token,
		RemainingAmount: new(big.Int).Set(d.RemainingAmount),
		IntentAmountRange: AmountRange{
			Min: new(big.Int).Set(d.IntentAmountRange.Min),
			Max: new(big.Int).Set(d.IntentAmountRange.Max),
		},
		Verifiers: make(map[common.Address]*VerifierConfig, len(d.Verifiers)),
		CreatedAt: d.CreatedAt,
	}
	for addr, cfg := range d.Verifiers {
		out.Verifiers[addr] = cfg.Clone()
	}
	return out
}

// Intent reserves a sub-amount of a deposit for a taker at a frozen rate.
type Intent struct {
	ID        uint64
	DepositID uint64
	Taker     common.Address
	Verifier  common.Address
	Currency  common.Hash

	// Amount is the reserved token amount, fixed at creation.
	Amount *big.Int

	// ConversionRate is copied from the deposit at creation and is immune
	// to later rate updates.
	ConversionRate *big.Int

	Status    IntentStatus
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Clone returns a deep copy of the intent.
func (i *Intent) Clone() *Intent {
	out := *i
	out.Amount = new(big.Int).Set(i.Amount)
	out.ConversionRate = new(big.Int).Set(i.ConversionRate)
	return &out
}

// ReleaseAuthorization is a verifier's go-ahead to release reserved funds.
type ReleaseAuthorization struct {
	IntentID  uint64
	Amount    *big.Int
	Nullifier common.Hash
}

// PaymentVerifier validates a fiat payment proof against an intent and its
// deposit. A successful verification consumes the proof's nullifier, so the
// same proof can never release funds twice.
type PaymentVerifier interface {
	// Address is the verifier's identity as referenced by deposits and
	// intents.
	Address() common.Address

	// VerifyPayment decodes the proof, checks currency, payee, amount and
	// freshness against the intent, records the nullifier, and authorizes
	// release. The escrow identity must have been registered with the
	// verifier beforehand.
	VerifyPayment(ctx context.Context, escrow common.Address, deposit *Deposit, intent *Intent, proof []byte) (*ReleaseAuthorization, error)
}

// VerifierSpec is the createDeposit input for one authorized verifier.
type VerifierSpec struct {
	Address      common.Address
	PayeeDetails string
	Data         []byte
	Currencies   []CurrencyRate
}

// CurrencyRate pairs a currency hash with a 1e18 fixed-point conversion rate.
type CurrencyRate struct {
	Code common.Hash
	Rate *big.Int
}

// Event is a lifecycle notification emitted after a committed state change.
type Event struct {
	Type string         `json:"type"`
	At   time.Time      `json:"at"`
	Data map[string]any `json:"data"`
}

// Event types emitted by the engine.
const (
	EventDepositCreated   = "deposit.created"
	EventDepositIncreased = "deposit.increased"
	EventDepositWithdrawn = "deposit.withdrawn"
	EventDepositClosed    = "deposit.closed"
	EventIntentCreated    = "intent.created"
	EventIntentFulfilled  = "intent.fulfilled"
	EventIntentExpired    = "intent.expired"
	EventIntentCancelled  = "intent.cancelled"
	EventVerifierAdded    = "verifier.whitelisted"
	EventVerifierRemoved  = "verifier.removed"
)

// EventSink receives engine events. Implementations must not block the
// caller for long; publishing happens outside the store transaction.
type EventSink interface {
	Publish(ctx context.Context, ev Event)
}
