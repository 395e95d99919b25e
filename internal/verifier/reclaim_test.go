package verifier

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"

	"github.com/ModoriLabs/zk-escrow/internal/escrow"
	"github.com/ModoriLabs/zk-escrow/internal/registry"
	"github.com/ModoriLabs/zk-escrow/internal/utils"
)

const (
	testPayee        = "100012341234 (Toss Bank)"
	testProviderHash = "0x92da474c63ba5e4ce0b927c557dc78dfd4b6284c39c587725c41c55cf709cae5"
)

var (
	testOwner      = common.HexToAddress("0x1000000000000000000000000000000000000001")
	testEscrow     = common.HexToAddress("0x2000000000000000000000000000000000000002")
	verifierAddr   = common.HexToAddress("0x5000000000000000000000000000000000000005")
	testTaker      = common.HexToAddress("0x4000000000000000000000000000000000000004")
	krwHash        = utils.CurrencyHash("KRW")
	oneKRWPerToken = new(big.Int).Mul(big.NewInt(1400), utils.PreciseUnit)
)

type reclaimFixture struct {
	verifier *ReclaimVerifier
	registry *registry.Registry
	witness  *ecdsa.PrivateKey
	deposit  *escrow.Deposit
	intent   *escrow.Intent
	now      time.Time
}

func newReclaimFixture(t *testing.T) *reclaimFixture {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	witness, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	witnessData, err := EncodeWitnesses([]common.Address{crypto.PubkeyToAddress(witness.PublicKey)})
	if err != nil {
		t.Fatal(err)
	}

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	reg := registry.New(testOwner, registry.NewMemoryNullifierStore(), log)

	v, err := NewReclaim(ReclaimConfig{
		Address:        verifierAddr,
		Owner:          testOwner,
		Registry:       reg,
		Currencies:     []common.Hash{krwHash},
		ProviderHashes: []string{testProviderHash},
		Now:            func() time.Time { return now },
		Logger:         log,
	})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := reg.AddWritePermission(ctx, testOwner, verifierAddr); err != nil {
		t.Fatal(err)
	}
	if err := v.AddEscrow(testOwner, testEscrow); err != nil {
		t.Fatal(err)
	}

	deposit := &escrow.Deposit{
		ID:              1,
		Depositor:       testOwner,
		RemainingAmount: big.NewInt(0),
		Verifiers: map[common.Address]*escrow.VerifierConfig{
			verifierAddr: {
				PayeeDetails: testPayee,
				Data:         witnessData,
				Rates:        map[common.Hash]*big.Int{krwHash: oneKRWPerToken},
			},
		},
	}
	intent := &escrow.Intent{
		ID:             7,
		DepositID:      1,
		Taker:          testTaker,
		Verifier:       verifierAddr,
		Currency:       krwHash,
		Amount:         big.NewInt(10),
		ConversionRate: oneKRWPerToken,
		Status:         escrow.IntentOpen,
		CreatedAt:      now.Add(-5 * time.Minute),
		ExpiresAt:      now.Add(25 * time.Minute),
	}

	return &reclaimFixture{
		verifier: v,
		registry: reg,
		witness:  witness,
		deposit:  deposit,
		intent:   intent,
		now:      now,
	}
}

type proofOpts struct {
	amount       string
	currency     string
	payee        string
	date         time.Time
	providerHash string
	signer       *ecdsa.PrivateKey
	legacyV      bool
	tamper       func(*ReclaimProof)
}

func (f *reclaimFixture) buildProof(t *testing.T, opts proofOpts) []byte {
	t.Helper()
	if opts.amount == "" {
		opts.amount = "14000"
	}
	if opts.currency == "" {
		opts.currency = "KRW"
	}
	if opts.payee == "" {
		opts.payee = testPayee
	}
	if opts.date.IsZero() {
		opts.date = f.now.Add(-time.Minute)
	}
	if opts.providerHash == "" {
		opts.providerHash = testProviderHash
	}
	if opts.signer == nil {
		opts.signer = f.witness
	}

	contextJSON, err := json.Marshal(map[string]any{
		"extractedParameters": map[string]string{
			"amount":           opts.amount,
			"currency":         opts.currency,
			"receivingAccount": opts.payee,
			"date":             opts.date.Format(time.RFC3339),
		},
		"providerHash": opts.providerHash,
	})
	if err != nil {
		t.Fatal(err)
	}

	info := ClaimInfo{
		Provider:   "http",
		Parameters: `{"url":"https://api.tossbank.com/transfers"}`,
		Context:    string(contextJSON),
	}
	claim := ClaimData{
		Identifier: info.Identifier(),
		Owner:      crypto.PubkeyToAddress(opts.signer.PublicKey),
		TimestampS: uint64(opts.date.Unix()),
		Epoch:      1,
	}
	signed := SignedClaim{Claim: claim}
	sig, err := crypto.Sign(accounts.TextHash(signed.SignedMessage()), opts.signer)
	if err != nil {
		t.Fatal(err)
	}
	if opts.legacyV {
		sig[64] += 27
	}
	signed.Signatures = []hexutil.Bytes{sig}

	proof := &ReclaimProof{ClaimInfo: info, SignedClaim: signed}
	if opts.tamper != nil {
		opts.tamper(proof)
	}
	raw, err := json.Marshal(proof)
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func TestVerifyPaymentHappyPath(t *testing.T) {
	f := newReclaimFixture(t)
	raw := f.buildProof(t, proofOpts{})

	auth, err := f.verifier.VerifyPayment(context.Background(), testEscrow, f.deposit, f.intent, raw)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if auth.IntentID != f.intent.ID {
		t.Fatalf("intent id = %d, want %d", auth.IntentID, f.intent.ID)
	}
	if auth.Amount.Cmp(f.intent.Amount) != 0 {
		t.Fatalf("release amount = %s, want %s", auth.Amount, f.intent.Amount)
	}

	used, err := f.registry.IsNullified(context.Background(), auth.Nullifier)
	if err != nil || !used {
		t.Fatalf("nullifier not consumed: used=%v err=%v", used, err)
	}
}

func TestVerifyPaymentLegacyRecoveryID(t *testing.T) {
	f := newReclaimFixture(t)
	raw := f.buildProof(t, proofOpts{legacyV: true})
	if _, err := f.verifier.VerifyPayment(context.Background(), testEscrow, f.deposit, f.intent, raw); err != nil {
		t.Fatalf("27/28 recovery id rejected: %v", err)
	}
}

func TestVerifyPaymentReplay(t *testing.T) {
	f := newReclaimFixture(t)
	raw := f.buildProof(t, proofOpts{})

	if _, err := f.verifier.VerifyPayment(context.Background(), testEscrow, f.deposit, f.intent, raw); err != nil {
		t.Fatal(err)
	}
	_, err := f.verifier.VerifyPayment(context.Background(), testEscrow, f.deposit, f.intent, raw)
	if !errors.Is(err, escrow.ErrPaymentReplayed) {
		t.Fatalf("got %v, want ErrPaymentReplayed", err)
	}
}

func TestVerifyPaymentAmountBoundary(t *testing.T) {
	// 10 tokens at 1400 KRW per token requires exactly 14000 KRW.
	tests := []struct {
		name    string
		amount  string
		wantErr error
	}{
		{"one short", "13999", escrow.ErrInsufficientPayment},
		{"fraction truncates short", "13999.99", escrow.ErrInsufficientPayment},
		{"exact", "14000", nil},
		{"formatted with comma", "14,000", nil},
		{"overpaid", "15000", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newReclaimFixture(t)
			raw := f.buildProof(t, proofOpts{amount: tt.amount})
			_, err := f.verifier.VerifyPayment(context.Background(), testEscrow, f.deposit, f.intent, raw)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("verify: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("got %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestVerifyPaymentToleranceLowersRequirement(t *testing.T) {
	f := newReclaimFixture(t)
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	tolerant, err := NewReclaim(ReclaimConfig{
		Address:        verifierAddr,
		Owner:          testOwner,
		Registry:       f.registry,
		Currencies:     []common.Hash{krwHash},
		ProviderHashes: []string{testProviderHash},
		Tolerance:      big.NewInt(100),
		Now:            func() time.Time { return f.now },
		Logger:         log,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := tolerant.AddEscrow(testOwner, testEscrow); err != nil {
		t.Fatal(err)
	}

	raw := f.buildProof(t, proofOpts{amount: "13900"})
	if _, err := tolerant.VerifyPayment(context.Background(), testEscrow, f.deposit, f.intent, raw); err != nil {
		t.Fatalf("within tolerance: %v", err)
	}
}

func TestVerifyPaymentMismatches(t *testing.T) {
	tests := []struct {
		name string
		opts proofOpts
	}{
		{"wrong currency", proofOpts{currency: "USD"}},
		{"wrong payee", proofOpts{payee: "999999999999 (Toss Bank)"}},
		{"unknown provider", proofOpts{providerHash: "0xdeadbeef"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newReclaimFixture(t)
			raw := f.buildProof(t, tt.opts)
			_, err := f.verifier.VerifyPayment(context.Background(), testEscrow, f.deposit, f.intent, raw)
			if !errors.Is(err, escrow.ErrProofMismatch) {
				t.Fatalf("got %v, want ErrProofMismatch", err)
			}
		})
	}
}

func TestVerifyPaymentStalePayment(t *testing.T) {
	f := newReclaimFixture(t)
	// Paid well before the intent was created, beyond the default buffer.
	raw := f.buildProof(t, proofOpts{date: f.intent.CreatedAt.Add(-2 * escrow.DefaultIntentExpiration)})
	_, err := f.verifier.VerifyPayment(context.Background(), testEscrow, f.deposit, f.intent, raw)
	if !errors.Is(err, escrow.ErrProofMismatch) {
		t.Fatalf("got %v, want ErrProofMismatch", err)
	}
}

func TestVerifyPaymentUnknownWitness(t *testing.T) {
	f := newReclaimFixture(t)
	outsider, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	raw := f.buildProof(t, proofOpts{signer: outsider})
	_, verr := f.verifier.VerifyPayment(context.Background(), testEscrow, f.deposit, f.intent, raw)
	if !errors.Is(verr, escrow.ErrProofMismatch) {
		t.Fatalf("got %v, want ErrProofMismatch", verr)
	}
}

func TestVerifyPaymentTamperedContext(t *testing.T) {
	f := newReclaimFixture(t)
	raw := f.buildProof(t, proofOpts{
		amount: "1",
		tamper: func(p *ReclaimProof) {
			// Inflate the attested amount after signing; the identifier
			// no longer matches the context.
			p.ClaimInfo.Context = `{"extractedParameters":{"amount":"14000","currency":"KRW","receivingAccount":"` +
				testPayee + `","date":"2026-03-01T11:59:00Z"},"providerHash":"` + testProviderHash + `"}`
		},
	})
	_, err := f.verifier.VerifyPayment(context.Background(), testEscrow, f.deposit, f.intent, raw)
	if !errors.Is(err, escrow.ErrProofMismatch) {
		t.Fatalf("got %v, want ErrProofMismatch", err)
	}
}

func TestVerifyPaymentEligibility(t *testing.T) {
	f := newReclaimFixture(t)
	raw := f.buildProof(t, proofOpts{})

	unknownEscrow := common.HexToAddress("0x9999999999999999999999999999999999999999")
	if _, err := f.verifier.VerifyPayment(context.Background(), unknownEscrow, f.deposit, f.intent, raw); !errors.Is(err, escrow.ErrEscrowNotRegistered) {
		t.Fatalf("unregistered escrow: got %v", err)
	}

	fulfilled := f.intent.Clone()
	fulfilled.Status = escrow.IntentFulfilled
	if _, err := f.verifier.VerifyPayment(context.Background(), testEscrow, f.deposit, fulfilled, raw); !errors.Is(err, escrow.ErrIntentNotEligible) {
		t.Fatalf("non-open intent: got %v", err)
	}

	expired := f.intent.Clone()
	expired.ExpiresAt = f.now.Add(-time.Second)
	if _, err := f.verifier.VerifyPayment(context.Background(), testEscrow, f.deposit, expired, raw); !errors.Is(err, escrow.ErrIntentNotEligible) {
		t.Fatalf("expired intent: got %v", err)
	}

	other := f.intent.Clone()
	other.Verifier = unknownEscrow
	if _, err := f.verifier.VerifyPayment(context.Background(), testEscrow, f.deposit, other, raw); !errors.Is(err, escrow.ErrIntentNotEligible) {
		t.Fatalf("foreign verifier intent: got %v", err)
	}
}

func TestWitnessRoundTrip(t *testing.T) {
	witnesses := []common.Address{
		common.HexToAddress("0x2000000000000000000000000000000000000002"),
		common.HexToAddress("0x3000000000000000000000000000000000000003"),
	}
	data, err := EncodeWitnesses(witnesses)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := DecodeWitnesses(data)
	if err != nil {
		t.Fatal(err)
	}
	if fmt.Sprint(decoded) != fmt.Sprint(witnesses) {
		t.Fatalf("round trip mismatch: %v != %v", decoded, witnesses)
	}
}
