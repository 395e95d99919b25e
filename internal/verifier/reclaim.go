package verifier

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/ModoriLabs/zk-escrow/internal/escrow"
	"github.com/ModoriLabs/zk-escrow/internal/registry"
	"github.com/ModoriLabs/zk-escrow/internal/utils"
)

// ReclaimVerifier validates zkTLS (reclaim) payment attestations for one
// fiat rail. A verifier serves only escrow instances registered with it,
// accepts only its configured currencies and provider hashes, and records
// every accepted proof's nullifier before authorizing release.
type ReclaimVerifier struct {
	mu sync.Mutex

	addr     common.Address
	owner    common.Address
	registry *registry.Registry
	escrows  map[common.Address]bool

	currencies     map[common.Hash]bool
	providerHashes map[string]bool

	// timestampBuffer bounds how far before intent creation the attested
	// payment may have happened.
	timestampBuffer time.Duration

	// tolerance, if set, lowers the required fiat amount; zero demands
	// the full converted amount.
	tolerance *big.Int

	now func() time.Time
	log *logrus.Entry
}

// ReclaimConfig wires a ReclaimVerifier.
type ReclaimConfig struct {
	Address  common.Address
	Owner    common.Address
	Registry *registry.Registry

	// Currencies this rail supports, e.g. keccak("KRW") for TossBank.
	Currencies []common.Hash

	// ProviderHashes identify the accepted zkTLS provider configurations.
	ProviderHashes []string

	// TimestampBuffer defaults to the intent expiration window when zero.
	TimestampBuffer time.Duration

	// Tolerance is optional; see ReclaimVerifier.tolerance.
	Tolerance *big.Int

	Now    func() time.Time
	Logger *logrus.Logger
}

// NewReclaim builds a verifier for one payment rail.
func NewReclaim(cfg ReclaimConfig) (*ReclaimVerifier, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("verifier: nullifier registry is required")
	}
	if len(cfg.Currencies) == 0 {
		return nil, fmt.Errorf("verifier: at least one currency is required")
	}
	if len(cfg.ProviderHashes) == 0 {
		return nil, fmt.Errorf("verifier: at least one provider hash is required")
	}
	if cfg.TimestampBuffer <= 0 {
		cfg.TimestampBuffer = escrow.DefaultIntentExpiration
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}

	v := &ReclaimVerifier{
		addr:            cfg.Address,
		owner:           cfg.Owner,
		registry:        cfg.Registry,
		escrows:         make(map[common.Address]bool),
		currencies:      make(map[common.Hash]bool, len(cfg.Currencies)),
		providerHashes:  make(map[string]bool, len(cfg.ProviderHashes)),
		timestampBuffer: cfg.TimestampBuffer,
		now:             cfg.Now,
		log:             cfg.Logger.WithField("component", "reclaim_verifier"),
	}
	if cfg.Tolerance != nil && cfg.Tolerance.Sign() > 0 {
		v.tolerance = new(big.Int).Set(cfg.Tolerance)
	}
	for _, c := range cfg.Currencies {
		v.currencies[c] = true
	}
	for _, h := range cfg.ProviderHashes {
		v.providerHashes[h] = true
	}
	return v, nil
}

// Address is the verifier identity referenced by deposits and intents.
func (v *ReclaimVerifier) Address() common.Address { return v.addr }

// AddEscrow registers an escrow instance this verifier will serve.
// Owner-only, idempotent.
func (v *ReclaimVerifier) AddEscrow(caller, escrowAddr common.Address) error {
	if caller != v.owner {
		return registry.ErrNotOwner
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.escrows[escrowAddr] {
		return nil
	}
	v.escrows[escrowAddr] = true
	v.log.WithField("escrow", escrowAddr.Hex()).Info("escrow registered")
	return nil
}

// IsEscrow reports whether the escrow instance is registered.
func (v *ReclaimVerifier) IsEscrow(escrowAddr common.Address) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.escrows[escrowAddr]
}

// SupportsCurrency reports whether the rail handles the currency.
func (v *ReclaimVerifier) SupportsCurrency(currency common.Hash) bool {
	return v.currencies[currency]
}

// VerifyPayment validates the proof against the intent and its deposit,
// consumes the nullifier, and authorizes release of the reserved amount.
func (v *ReclaimVerifier) VerifyPayment(ctx context.Context, escrowAddr common.Address, deposit *escrow.Deposit, intent *escrow.Intent, rawProof []byte) (*escrow.ReleaseAuthorization, error) {
	if !v.IsEscrow(escrowAddr) {
		return nil, escrow.ErrEscrowNotRegistered
	}
	if intent.Verifier != v.addr {
		return nil, fmt.Errorf("%w: intent targets %s", escrow.ErrIntentNotEligible, intent.Verifier.Hex())
	}
	if intent.Status != escrow.IntentOpen {
		return nil, fmt.Errorf("%w: intent not open", escrow.ErrIntentNotEligible)
	}
	if v.now().After(intent.ExpiresAt) {
		return nil, fmt.Errorf("%w: intent expired", escrow.ErrIntentNotEligible)
	}

	cfg, ok := deposit.Verifiers[v.addr]
	if !ok {
		return nil, fmt.Errorf("%w: verifier not configured on deposit %d", escrow.ErrIntentNotEligible, deposit.ID)
	}

	proof, err := ParseReclaimProof(rawProof)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", escrow.ErrProofMismatch, err)
	}
	if err := v.verifyClaim(proof, cfg); err != nil {
		return nil, err
	}

	details, err := proof.ExtractPaymentDetails()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", escrow.ErrProofMismatch, err)
	}
	if err := v.checkPayment(details, intent, cfg); err != nil {
		return nil, err
	}

	nullifier := proof.Nullifier()
	if err := v.registry.AddNullifier(ctx, v.addr, nullifier); err != nil {
		if errors.Is(err, registry.ErrNullifierAlreadyUsed) {
			return nil, escrow.ErrPaymentReplayed
		}
		return nil, err
	}

	v.log.WithFields(logrus.Fields{
		"intent_id": intent.ID,
		"nullifier": nullifier.Hex(),
		"amount":    details.Amount.String(),
	}).Info("payment proof accepted")

	return &escrow.ReleaseAuthorization{
		IntentID:  intent.ID,
		Amount:    new(big.Int).Set(intent.Amount),
		Nullifier: nullifier,
	}, nil
}

// verifyClaim checks claim integrity: identifier, witness signatures, and
// the signer set against the deposit's witness list.
func (v *ReclaimVerifier) verifyClaim(proof *ReclaimProof, cfg *escrow.VerifierConfig) error {
	if proof.ClaimInfo.Identifier() != proof.SignedClaim.Claim.Identifier {
		return fmt.Errorf("%w: claim identifier mismatch", escrow.ErrProofMismatch)
	}

	signers, err := proof.SignedClaim.RecoverSigners()
	if err != nil {
		return fmt.Errorf("%w: %v", escrow.ErrProofMismatch, err)
	}

	witnesses, err := DecodeWitnesses(cfg.Data)
	if err != nil {
		return fmt.Errorf("%w: %v", escrow.ErrProofMismatch, err)
	}
	allowed := make(map[common.Address]bool, len(witnesses))
	for _, w := range witnesses {
		allowed[w] = true
	}
	seen := make(map[common.Address]bool, len(signers))
	for _, signer := range signers {
		if !allowed[signer] {
			return fmt.Errorf("%w: signature from unknown witness %s", escrow.ErrProofMismatch, signer.Hex())
		}
		if seen[signer] {
			return fmt.Errorf("%w: duplicate witness signature from %s", escrow.ErrProofMismatch, signer.Hex())
		}
		seen[signer] = true
	}
	return nil
}

// checkPayment matches the extracted payment against the intent: provider,
// currency, payee, freshness, then amount.
func (v *ReclaimVerifier) checkPayment(details *PaymentDetails, intent *escrow.Intent, cfg *escrow.VerifierConfig) error {
	if !v.providerHashes[details.ProviderHash] {
		return fmt.Errorf("%w: unknown provider hash %s", escrow.ErrProofMismatch, details.ProviderHash)
	}

	currency := utils.CurrencyHash(details.CurrencyCode)
	if !v.currencies[currency] {
		return fmt.Errorf("%w: currency %s not supported by rail", escrow.ErrProofMismatch, details.CurrencyCode)
	}
	if currency != intent.Currency {
		return fmt.Errorf("%w: payment currency %s does not match intent", escrow.ErrProofMismatch, details.CurrencyCode)
	}

	if utils.PayeeHash(details.ReceivingAccount) != utils.PayeeHash(cfg.PayeeDetails) {
		return fmt.Errorf("%w: payment recipient does not match deposit payee", escrow.ErrProofMismatch)
	}

	if details.PaidAt.Add(v.timestampBuffer).Before(intent.CreatedAt) {
		return fmt.Errorf("%w: payment predates intent beyond allowed buffer", escrow.ErrProofMismatch)
	}

	required := utils.MulDown(intent.Amount, intent.ConversionRate)
	if v.tolerance != nil {
		required = new(big.Int).Sub(required, v.tolerance)
	}
	if details.Amount.Cmp(required) < 0 {
		return fmt.Errorf("%w: claimed %s, required %s", escrow.ErrInsufficientPayment, details.Amount, required)
	}
	return nil
}
