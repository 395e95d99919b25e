package escrow_test

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"

	"github.com/ModoriLabs/zk-escrow/internal/escrow"
	"github.com/ModoriLabs/zk-escrow/internal/ledger"
	"github.com/ModoriLabs/zk-escrow/internal/store"
	"github.com/ModoriLabs/zk-escrow/internal/utils"
)

var (
	owner      = common.HexToAddress("0x1000000000000000000000000000000000000001")
	escrowAddr = common.HexToAddress("0x2000000000000000000000000000000000000002")
	depositor  = common.HexToAddress("0x3000000000000000000000000000000000000003")
	taker      = common.HexToAddress("0x4000000000000000000000000000000000000004")
	tossBank   = common.HexToAddress("0x5000000000000000000000000000000000000005")

	krw = utils.CurrencyHash("KRW")
)

// stubVerifier approves or rejects every proof, recording calls.
type stubVerifier struct {
	addr  common.Address
	err   error
	calls int
}

func (v *stubVerifier) Address() common.Address { return v.addr }

func (v *stubVerifier) VerifyPayment(ctx context.Context, escrowAddr common.Address, deposit *escrow.Deposit, intent *escrow.Intent, proof []byte) (*escrow.ReleaseAuthorization, error) {
	v.calls++
	if v.err != nil {
		return nil, v.err
	}
	return &escrow.ReleaseAuthorization{
		IntentID:  intent.ID,
		Amount:    new(big.Int).Set(intent.Amount),
		Nullifier: crypto.Keccak256Hash(proof),
	}, nil
}

type fixture struct {
	engine   *escrow.Engine
	ledger   *ledger.MemoryLedger
	verifier *stubVerifier
	now      *time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	assets := ledger.NewMemoryLedger(escrowAddr)
	assets.Mint(depositor, big.NewInt(1_000_000))

	f := &fixture{ledger: assets, now: &now}
	engine, err := escrow.NewEngine(escrow.Config{
		Store:   store.NewMemoryStore(),
		Assets:  assets,
		Owner:   owner,
		Address: escrowAddr,
		Chain:   "test",
		Now:     func() time.Time { return *f.now },
		Logger:  log,
	})
	if err != nil {
		t.Fatal(err)
	}
	f.engine = engine

	f.verifier = &stubVerifier{addr: tossBank}
	engine.RegisterVerifier(f.verifier)
	if err := engine.AddWhitelistedPaymentVerifier(context.Background(), owner, tossBank); err != nil {
		t.Fatal(err)
	}
	return f
}

func (f *fixture) advance(d time.Duration) {
	*f.now = f.now.Add(d)
}

func (f *fixture) createDeposit(t *testing.T, amount, min, max int64) *escrow.Deposit {
	t.Helper()
	d, err := f.engine.CreateDeposit(context.Background(), depositor, common.Address{}, big.NewInt(amount),
		escrow.AmountRange{Min: big.NewInt(min), Max: big.NewInt(max)},
		[]escrow.VerifierSpec{{
			Address:      tossBank,
			PayeeDetails: "100012341234 (Toss Bank)",
			Currencies:   []escrow.CurrencyRate{{Code: krw, Rate: big.NewInt(1400)}},
		}})
	if err != nil {
		t.Fatalf("create deposit: %v", err)
	}
	return d
}

func (f *fixture) balance(t *testing.T, addr common.Address) int64 {
	t.Helper()
	b, err := f.ledger.BalanceOf(context.Background(), addr)
	if err != nil {
		t.Fatal(err)
	}
	return b.Int64()
}

func TestCreateDepositPullsFunds(t *testing.T) {
	f := newFixture(t)
	d := f.createDeposit(t, 1000, 10, 500)

	if f.balance(t, escrowAddr) != 1000 {
		t.Fatalf("escrow pool = %d, want 1000", f.balance(t, escrowAddr))
	}
	if f.balance(t, depositor) != 999_000 {
		t.Fatalf("depositor = %d, want 999000", f.balance(t, depositor))
	}
	if d.RemainingAmount.Int64() != 1000 {
		t.Fatalf("remaining = %s, want 1000", d.RemainingAmount)
	}
}

func TestCreateDepositRejectsNonWhitelistedVerifier(t *testing.T) {
	f := newFixture(t)
	other := common.HexToAddress("0x9999999999999999999999999999999999999999")

	_, err := f.engine.CreateDeposit(context.Background(), depositor, common.Address{}, big.NewInt(100),
		escrow.AmountRange{Min: big.NewInt(1), Max: big.NewInt(100)},
		[]escrow.VerifierSpec{{
			Address:      other,
			PayeeDetails: "acct",
			Currencies:   []escrow.CurrencyRate{{Code: krw, Rate: big.NewInt(1)}},
		}})
	if !errors.Is(err, escrow.ErrVerifierNotAuthorized) {
		t.Fatalf("got %v, want ErrVerifierNotAuthorized", err)
	}
	if f.balance(t, escrowAddr) != 0 {
		t.Fatal("rejected deposit must not move funds")
	}
}

func TestCreateDepositValidatesRange(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name     string
		min, max int64
	}{
		{"zero min", 0, 100},
		{"min above max", 200, 100},
		{"max above amount", 10, 2000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.CreateDeposit(context.Background(), depositor, common.Address{}, big.NewInt(1000),
				escrow.AmountRange{Min: big.NewInt(tt.min), Max: big.NewInt(tt.max)},
				[]escrow.VerifierSpec{{
					Address:      tossBank,
					PayeeDetails: "acct",
					Currencies:   []escrow.CurrencyRate{{Code: krw, Rate: big.NewInt(1)}},
				}})
			if !errors.Is(err, escrow.ErrInvalidRange) {
				t.Fatalf("got %v, want ErrInvalidRange", err)
			}
		})
	}
}

func TestCreateIntentReservesLiquidity(t *testing.T) {
	f := newFixture(t)
	d := f.createDeposit(t, 1000, 10, 600)
	ctx := context.Background()

	if _, err := f.engine.CreateIntent(ctx, taker, d.ID, tossBank, krw, big.NewInt(600)); err != nil {
		t.Fatalf("first intent: %v", err)
	}
	// 400 remain; another 600 cannot fit.
	_, err := f.engine.CreateIntent(ctx, taker, d.ID, tossBank, krw, big.NewInt(600))
	if !errors.Is(err, escrow.ErrInsufficientLiquidity) {
		t.Fatalf("got %v, want ErrInsufficientLiquidity", err)
	}

	got, err := f.engine.GetDeposit(ctx, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.RemainingAmount.Int64() != 400 {
		t.Fatalf("remaining = %s, want 400", got.RemainingAmount)
	}
}

func TestCreateIntentTwoHalvesExactlyDrain(t *testing.T) {
	f := newFixture(t)
	d := f.createDeposit(t, 1000, 10, 500)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := f.engine.CreateIntent(ctx, taker, d.ID, tossBank, krw, big.NewInt(500)); err != nil {
			t.Fatalf("intent %d: %v", i+1, err)
		}
	}
	got, _ := f.engine.GetDeposit(ctx, d.ID)
	if got.RemainingAmount.Sign() != 0 {
		t.Fatalf("remaining = %s, want 0", got.RemainingAmount)
	}
}

func TestCreateIntentChecks(t *testing.T) {
	f := newFixture(t)
	d := f.createDeposit(t, 1000, 10, 500)
	ctx := context.Background()

	if _, err := f.engine.CreateIntent(ctx, taker, d.ID, tossBank, krw, big.NewInt(5)); !errors.Is(err, escrow.ErrAmountOutOfRange) {
		t.Fatalf("below min: got %v", err)
	}
	if _, err := f.engine.CreateIntent(ctx, taker, d.ID, tossBank, krw, big.NewInt(501)); !errors.Is(err, escrow.ErrAmountOutOfRange) {
		t.Fatalf("above max: got %v", err)
	}
	usd := utils.CurrencyHash("USD")
	if _, err := f.engine.CreateIntent(ctx, taker, d.ID, tossBank, usd, big.NewInt(100)); !errors.Is(err, escrow.ErrCurrencyNotSupported) {
		t.Fatalf("unknown currency: got %v", err)
	}
	if _, err := f.engine.CreateIntent(ctx, taker, 999, tossBank, krw, big.NewInt(100)); !errors.Is(err, escrow.ErrDepositNotFound) {
		t.Fatalf("missing deposit: got %v", err)
	}
}

func TestIntentFreezesConversionRate(t *testing.T) {
	f := newFixture(t)
	d := f.createDeposit(t, 1000, 10, 500)
	ctx := context.Background()

	first, err := f.engine.CreateIntent(ctx, taker, d.ID, tossBank, krw, big.NewInt(100))
	if err != nil {
		t.Fatal(err)
	}
	if err := f.engine.UpdateDepositConversionRate(ctx, depositor, d.ID, tossBank, krw, big.NewInt(1500)); err != nil {
		t.Fatal(err)
	}

	got, _ := f.engine.GetIntent(ctx, first.ID)
	if got.ConversionRate.Int64() != 1400 {
		t.Fatalf("open intent rate moved to %s", got.ConversionRate)
	}

	second, err := f.engine.CreateIntent(ctx, taker, d.ID, tossBank, krw, big.NewInt(100))
	if err != nil {
		t.Fatal(err)
	}
	if second.ConversionRate.Int64() != 1500 {
		t.Fatalf("new intent rate = %s, want 1500", second.ConversionRate)
	}
}

func TestUpdateConversionRateRequiresExistingCurrency(t *testing.T) {
	f := newFixture(t)
	d := f.createDeposit(t, 1000, 10, 500)
	ctx := context.Background()

	usd := utils.CurrencyHash("USD")
	if err := f.engine.UpdateDepositConversionRate(ctx, depositor, d.ID, tossBank, usd, big.NewInt(1)); !errors.Is(err, escrow.ErrCurrencyNotSupported) {
		t.Fatalf("got %v, want ErrCurrencyNotSupported", err)
	}
	if err := f.engine.UpdateDepositConversionRate(ctx, taker, d.ID, tossBank, krw, big.NewInt(1)); !errors.Is(err, escrow.ErrUnauthorized) {
		t.Fatalf("got %v, want ErrUnauthorized", err)
	}
}

func TestFulfillIntentPaysTaker(t *testing.T) {
	f := newFixture(t)
	d := f.createDeposit(t, 1000, 10, 500)
	ctx := context.Background()

	intent, err := f.engine.CreateIntent(ctx, taker, d.ID, tossBank, krw, big.NewInt(500))
	if err != nil {
		t.Fatal(err)
	}
	if err := f.engine.FulfillIntent(ctx, intent.ID, []byte(`proof-1`)); err != nil {
		t.Fatalf("fulfill: %v", err)
	}

	if f.balance(t, taker) != 500 {
		t.Fatalf("taker balance = %d, want 500", f.balance(t, taker))
	}
	if f.balance(t, escrowAddr) != 500 {
		t.Fatalf("pool = %d, want 500", f.balance(t, escrowAddr))
	}
	got, _ := f.engine.GetIntent(ctx, intent.ID)
	if got.Status != escrow.IntentFulfilled {
		t.Fatalf("status = %s, want FULFILLED", got.Status)
	}

	// Settled intents cannot settle twice.
	if err := f.engine.FulfillIntent(ctx, intent.ID, []byte(`proof-1`)); !errors.Is(err, escrow.ErrIntentNotOpen) {
		t.Fatalf("double fulfill: got %v, want ErrIntentNotOpen", err)
	}
}

func TestFulfillRejectionKeepsIntentOpen(t *testing.T) {
	f := newFixture(t)
	d := f.createDeposit(t, 1000, 10, 500)
	ctx := context.Background()

	intent, err := f.engine.CreateIntent(ctx, taker, d.ID, tossBank, krw, big.NewInt(100))
	if err != nil {
		t.Fatal(err)
	}

	f.verifier.err = escrow.ErrInsufficientPayment
	if err := f.engine.FulfillIntent(ctx, intent.ID, []byte(`bad`)); !errors.Is(err, escrow.ErrInsufficientPayment) {
		t.Fatalf("got %v, want ErrInsufficientPayment", err)
	}

	got, _ := f.engine.GetIntent(ctx, intent.ID)
	if got.Status != escrow.IntentOpen {
		t.Fatalf("status = %s, want OPEN after rejection", got.Status)
	}

	// A corrected proof settles the same intent.
	f.verifier.err = nil
	if err := f.engine.FulfillIntent(ctx, intent.ID, []byte(`good`)); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if f.verifier.calls != 2 {
		t.Fatalf("verifier calls = %d, want 2", f.verifier.calls)
	}
}

func TestFulfillAfterExpiryRejected(t *testing.T) {
	f := newFixture(t)
	d := f.createDeposit(t, 1000, 10, 500)
	ctx := context.Background()

	intent, err := f.engine.CreateIntent(ctx, taker, d.ID, tossBank, krw, big.NewInt(100))
	if err != nil {
		t.Fatal(err)
	}
	f.advance(escrow.DefaultIntentExpiration + time.Second)

	if err := f.engine.FulfillIntent(ctx, intent.ID, []byte(`late`)); !errors.Is(err, escrow.ErrIntentExpired) {
		t.Fatalf("got %v, want ErrIntentExpired", err)
	}
	if f.verifier.calls != 0 {
		t.Fatal("verifier must not run for expired intents")
	}
}

func TestExpireIntentRestoresReservation(t *testing.T) {
	f := newFixture(t)
	d := f.createDeposit(t, 1000, 10, 500)
	ctx := context.Background()

	intent, err := f.engine.CreateIntent(ctx, taker, d.ID, tossBank, krw, big.NewInt(300))
	if err != nil {
		t.Fatal(err)
	}

	if err := f.engine.ExpireIntent(ctx, intent.ID); !errors.Is(err, escrow.ErrIntentNotExpired) {
		t.Fatalf("early expire: got %v, want ErrIntentNotExpired", err)
	}

	f.advance(escrow.DefaultIntentExpiration + time.Second)
	if err := f.engine.ExpireIntent(ctx, intent.ID); err != nil {
		t.Fatalf("expire: %v", err)
	}

	got, _ := f.engine.GetDeposit(ctx, d.ID)
	if got.RemainingAmount.Int64() != 1000 {
		t.Fatalf("remaining = %s, want 1000 after expiry", got.RemainingAmount)
	}
	it, _ := f.engine.GetIntent(ctx, intent.ID)
	if it.Status != escrow.IntentExpired {
		t.Fatalf("status = %s, want EXPIRED", it.Status)
	}

	if err := f.engine.ExpireIntent(ctx, intent.ID); !errors.Is(err, escrow.ErrIntentNotOpen) {
		t.Fatalf("re-expire: got %v, want ErrIntentNotOpen", err)
	}
}

func TestCancelIntentTakerOnly(t *testing.T) {
	f := newFixture(t)
	d := f.createDeposit(t, 1000, 10, 500)
	ctx := context.Background()

	intent, err := f.engine.CreateIntent(ctx, taker, d.ID, tossBank, krw, big.NewInt(200))
	if err != nil {
		t.Fatal(err)
	}

	if err := f.engine.CancelIntent(ctx, depositor, intent.ID); !errors.Is(err, escrow.ErrUnauthorized) {
		t.Fatalf("foreign cancel: got %v, want ErrUnauthorized", err)
	}
	if err := f.engine.CancelIntent(ctx, taker, intent.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	got, _ := f.engine.GetDeposit(ctx, d.ID)
	if got.RemainingAmount.Int64() != 1000 {
		t.Fatalf("remaining = %s, want 1000 after cancel", got.RemainingAmount)
	}
}

func TestWhitelistRemovalDoesNotStrandOpenIntents(t *testing.T) {
	f := newFixture(t)
	d := f.createDeposit(t, 1000, 10, 500)
	ctx := context.Background()

	intent, err := f.engine.CreateIntent(ctx, taker, d.ID, tossBank, krw, big.NewInt(100))
	if err != nil {
		t.Fatal(err)
	}
	if err := f.engine.RemoveWhitelistedPaymentVerifier(ctx, owner, tossBank); err != nil {
		t.Fatal(err)
	}

	// New intents against the removed verifier fail.
	if _, err := f.engine.CreateIntent(ctx, taker, d.ID, tossBank, krw, big.NewInt(100)); !errors.Is(err, escrow.ErrVerifierNotAuthorized) {
		t.Fatalf("got %v, want ErrVerifierNotAuthorized", err)
	}
	// The in-flight one still settles.
	if err := f.engine.FulfillIntent(ctx, intent.ID, []byte(`proof`)); err != nil {
		t.Fatalf("in-flight fulfill: %v", err)
	}
}

func TestWhitelistOwnerGatedAndIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.engine.AddWhitelistedPaymentVerifier(ctx, taker, tossBank); !errors.Is(err, escrow.ErrUnauthorized) {
		t.Fatalf("non-owner add: got %v", err)
	}
	// Re-adding an existing entry succeeds quietly.
	if err := f.engine.AddWhitelistedPaymentVerifier(ctx, owner, tossBank); err != nil {
		t.Fatalf("repeat add: %v", err)
	}
	ok, err := f.engine.IsWhitelistedPaymentVerifier(ctx, tossBank)
	if err != nil || !ok {
		t.Fatalf("expected whitelisted, ok=%v err=%v", ok, err)
	}
}

func TestWithdrawDepositReturnsRemainder(t *testing.T) {
	f := newFixture(t)
	d := f.createDeposit(t, 1000, 10, 500)
	ctx := context.Background()

	if _, err := f.engine.CreateIntent(ctx, taker, d.ID, tossBank, krw, big.NewInt(400)); err != nil {
		t.Fatal(err)
	}

	if _, err := f.engine.WithdrawDeposit(ctx, taker, d.ID); !errors.Is(err, escrow.ErrUnauthorized) {
		t.Fatalf("foreign withdraw: got %v", err)
	}

	withdrawn, err := f.engine.WithdrawDeposit(ctx, depositor, d.ID)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if withdrawn.Int64() != 600 {
		t.Fatalf("withdrawn = %s, want 600", withdrawn)
	}
	if f.balance(t, depositor) != 999_600 {
		t.Fatalf("depositor = %d, want 999600", f.balance(t, depositor))
	}

	// The reservation survives and still settles.
	got, err := f.engine.GetDeposit(ctx, d.ID)
	if err != nil {
		t.Fatalf("deposit should survive with open intents: %v", err)
	}
	if got.RemainingAmount.Sign() != 0 {
		t.Fatalf("remaining = %s, want 0", got.RemainingAmount)
	}

	if _, err := f.engine.WithdrawDeposit(ctx, depositor, d.ID); !errors.Is(err, escrow.ErrInsufficientLiquidity) {
		t.Fatalf("empty withdraw: got %v", err)
	}
}

func TestDepositPrunedWhenDrained(t *testing.T) {
	f := newFixture(t)
	d := f.createDeposit(t, 500, 10, 500)
	ctx := context.Background()

	intent, err := f.engine.CreateIntent(ctx, taker, d.ID, tossBank, krw, big.NewInt(500))
	if err != nil {
		t.Fatal(err)
	}
	if err := f.engine.FulfillIntent(ctx, intent.ID, []byte(`proof`)); err != nil {
		t.Fatal(err)
	}

	if _, err := f.engine.GetDeposit(ctx, d.ID); !errors.Is(err, escrow.ErrDepositNotFound) {
		t.Fatalf("drained deposit should be pruned, got %v", err)
	}
}

func TestConservation(t *testing.T) {
	f := newFixture(t)
	d := f.createDeposit(t, 1000, 10, 500)
	ctx := context.Background()

	i1, err := f.engine.CreateIntent(ctx, taker, d.ID, tossBank, krw, big.NewInt(500))
	if err != nil {
		t.Fatal(err)
	}
	i2, err := f.engine.CreateIntent(ctx, taker, d.ID, tossBank, krw, big.NewInt(300))
	if err != nil {
		t.Fatal(err)
	}

	if err := f.engine.FulfillIntent(ctx, i1.ID, []byte(`p1`)); err != nil {
		t.Fatal(err)
	}
	if err := f.engine.CancelIntent(ctx, taker, i2.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.engine.WithdrawDeposit(ctx, depositor, d.ID); err != nil {
		t.Fatal(err)
	}

	// Every token that entered the pool left it exactly once.
	if f.balance(t, escrowAddr) != 0 {
		t.Fatalf("pool = %d, want 0", f.balance(t, escrowAddr))
	}
	if f.balance(t, taker)+f.balance(t, depositor) != 1_000_000 {
		t.Fatalf("taker+depositor = %d, want 1000000", f.balance(t, taker)+f.balance(t, depositor))
	}
}

func TestIncreaseDeposit(t *testing.T) {
	f := newFixture(t)
	d := f.createDeposit(t, 1000, 10, 500)
	ctx := context.Background()

	if err := f.engine.IncreaseDeposit(ctx, taker, d.ID, big.NewInt(100)); !errors.Is(err, escrow.ErrUnauthorized) {
		t.Fatalf("foreign increase: got %v", err)
	}
	if err := f.engine.IncreaseDeposit(ctx, depositor, d.ID, big.NewInt(500)); err != nil {
		t.Fatal(err)
	}
	got, _ := f.engine.GetDeposit(ctx, d.ID)
	if got.RemainingAmount.Int64() != 1500 {
		t.Fatalf("remaining = %s, want 1500", got.RemainingAmount)
	}
	if f.balance(t, escrowAddr) != 1500 {
		t.Fatalf("pool = %d, want 1500", f.balance(t, escrowAddr))
	}
}

func TestUpdateIntentAmountRange(t *testing.T) {
	f := newFixture(t)
	d := f.createDeposit(t, 1000, 10, 500)
	ctx := context.Background()

	if err := f.engine.UpdateDepositIntentAmountRange(ctx, depositor, d.ID, escrow.AmountRange{Min: big.NewInt(50), Max: big.NewInt(900)}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.engine.CreateIntent(ctx, taker, d.ID, tossBank, krw, big.NewInt(900)); err != nil {
		t.Fatalf("intent at new max: %v", err)
	}

	// Bounds above the current remaining amount are rejected.
	err := f.engine.UpdateDepositIntentAmountRange(ctx, depositor, d.ID, escrow.AmountRange{Min: big.NewInt(50), Max: big.NewInt(500)})
	if !errors.Is(err, escrow.ErrInvalidRange) {
		t.Fatalf("got %v, want ErrInvalidRange", err)
	}
}

// commitFailStore applies the transaction but reports the commit as failed,
// the ambiguous outcome a dropped database connection produces.
type commitFailStore struct {
	escrow.Store
	fail bool
}

var errCommit = errors.New("commit: connection reset")

func (s *commitFailStore) Update(ctx context.Context, fn func(escrow.Tx) error) error {
	if err := s.Store.Update(ctx, fn); err != nil {
		return err
	}
	if s.fail {
		return errCommit
	}
	return nil
}

// payoutFailLedger fails outgoing transfers on demand.
type payoutFailLedger struct {
	*ledger.MemoryLedger
	failTransfer bool
}

func (l *payoutFailLedger) Transfer(ctx context.Context, to common.Address, amount *big.Int) error {
	if l.failTransfer {
		return errors.New("rpc: connection refused")
	}
	return l.MemoryLedger.Transfer(ctx, to, amount)
}

func TestWithdrawCommitFailureMovesNoFunds(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	assets := ledger.NewMemoryLedger(escrowAddr)
	assets.Mint(depositor, big.NewInt(1_000_000))
	cs := &commitFailStore{Store: store.NewMemoryStore()}

	engine, err := escrow.NewEngine(escrow.Config{
		Store:   cs,
		Assets:  assets,
		Owner:   owner,
		Address: escrowAddr,
		Logger:  log,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := engine.AddWhitelistedPaymentVerifier(context.Background(), owner, tossBank); err != nil {
		t.Fatal(err)
	}
	d, err := engine.CreateDeposit(context.Background(), depositor, common.Address{}, big.NewInt(1000),
		escrow.AmountRange{Min: big.NewInt(10), Max: big.NewInt(500)},
		[]escrow.VerifierSpec{{
			Address:      tossBank,
			PayeeDetails: "100012341234 (Toss Bank)",
			Currencies:   []escrow.CurrencyRate{{Code: krw, Rate: big.NewInt(1400)}},
		}})
	if err != nil {
		t.Fatal(err)
	}

	cs.fail = true
	if _, err := engine.WithdrawDeposit(context.Background(), depositor, d.ID); !errors.Is(err, errCommit) {
		t.Fatalf("withdraw err = %v, want commit failure", err)
	}

	// The payout runs only after the commit succeeds, so a failed commit
	// cannot move funds out of the pool.
	pool, _ := assets.BalanceOf(context.Background(), escrowAddr)
	if pool.Int64() != 1000 {
		t.Fatalf("escrow pool = %s, want 1000", pool)
	}
	bal, _ := assets.BalanceOf(context.Background(), depositor)
	if bal.Int64() != 999_000 {
		t.Fatalf("depositor = %s, want 999000", bal)
	}
}

func TestWithdrawPayoutFailureKeepsFundsPooled(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	assets := &payoutFailLedger{MemoryLedger: ledger.NewMemoryLedger(escrowAddr)}
	assets.Mint(depositor, big.NewInt(1_000_000))

	engine, err := escrow.NewEngine(escrow.Config{
		Store:   store.NewMemoryStore(),
		Assets:  assets,
		Owner:   owner,
		Address: escrowAddr,
		Logger:  log,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := engine.AddWhitelistedPaymentVerifier(context.Background(), owner, tossBank); err != nil {
		t.Fatal(err)
	}
	d, err := engine.CreateDeposit(context.Background(), depositor, common.Address{}, big.NewInt(1000),
		escrow.AmountRange{Min: big.NewInt(10), Max: big.NewInt(500)},
		[]escrow.VerifierSpec{{
			Address:      tossBank,
			PayeeDetails: "100012341234 (Toss Bank)",
			Currencies:   []escrow.CurrencyRate{{Code: krw, Rate: big.NewInt(1400)}},
		}})
	if err != nil {
		t.Fatal(err)
	}

	assets.failTransfer = true
	if _, err := engine.WithdrawDeposit(context.Background(), depositor, d.ID); !errors.Is(err, escrow.ErrTransferFailed) {
		t.Fatalf("withdraw err = %v, want ErrTransferFailed", err)
	}

	// The record is released but the funds stay pooled: the pool may hold
	// unclaimed surplus after a failure, never less than deposits claim.
	pool, _ := assets.BalanceOf(context.Background(), escrowAddr)
	if pool.Int64() != 1000 {
		t.Fatalf("escrow pool = %s, want 1000", pool)
	}
	bal, _ := assets.BalanceOf(context.Background(), depositor)
	if bal.Int64() != 999_000 {
		t.Fatalf("depositor = %s, want 999000", bal)
	}
}

func TestCreateDepositCommitFailureLeavesFundsInPool(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	assets := ledger.NewMemoryLedger(escrowAddr)
	assets.Mint(depositor, big.NewInt(1_000_000))
	cs := &commitFailStore{Store: store.NewMemoryStore()}

	engine, err := escrow.NewEngine(escrow.Config{
		Store:   cs,
		Assets:  assets,
		Owner:   owner,
		Address: escrowAddr,
		Logger:  log,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := engine.AddWhitelistedPaymentVerifier(context.Background(), owner, tossBank); err != nil {
		t.Fatal(err)
	}

	cs.fail = true
	_, err = engine.CreateDeposit(context.Background(), depositor, common.Address{}, big.NewInt(1000),
		escrow.AmountRange{Min: big.NewInt(10), Max: big.NewInt(500)},
		[]escrow.VerifierSpec{{
			Address:      tossBank,
			PayeeDetails: "100012341234 (Toss Bank)",
			Currencies:   []escrow.CurrencyRate{{Code: krw, Rate: big.NewInt(1400)}},
		}})
	if !errors.Is(err, errCommit) {
		t.Fatalf("create err = %v, want commit failure", err)
	}

	// The pull runs before the commit, so the failure strands funds in the
	// pool rather than recording a deposit the pool cannot cover.
	pool, _ := assets.BalanceOf(context.Background(), escrowAddr)
	if pool.Int64() != 1000 {
		t.Fatalf("escrow pool = %s, want 1000", pool)
	}
}
