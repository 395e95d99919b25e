package store

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ModoriLabs/zk-escrow/internal/escrow"
)

func sampleDeposit(id uint64) *escrow.Deposit {
	return &escrow.Deposit{
		ID:              id,
		Depositor:       common.HexToAddress("0xaaa0000000000000000000000000000000000001"),
		Token:           common.HexToAddress("0xbbb0000000000000000000000000000000000002"),
		RemainingAmount: big.NewInt(1000),
		IntentAmountRange: escrow.AmountRange{
			Min: big.NewInt(10),
			Max: big.NewInt(500),
		},
		Verifiers: map[common.Address]*escrow.VerifierConfig{
			common.HexToAddress("0xccc0000000000000000000000000000000000003"): {
				PayeeDetails: "100012341234",
				Rates: map[common.Hash]*big.Int{
					common.HexToHash("0x01"): big.NewInt(1400),
				},
			},
		},
		CreatedAt: time.Now(),
	}
}

func TestUpdateDiscardsOnError(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	sentinel := errors.New("boom")
	err := s.Update(ctx, func(tx escrow.Tx) error {
		if err := tx.SaveDeposit(sampleDeposit(1)); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}

	err = s.View(ctx, func(tx escrow.Tx) error {
		_, err := tx.Deposit(1)
		return err
	})
	if !errors.Is(err, escrow.ErrDepositNotFound) {
		t.Fatalf("failed update leaked state: %v", err)
	}
}

func TestDepositRoundTripIsIsolated(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	d := sampleDeposit(1)
	if err := s.Update(ctx, func(tx escrow.Tx) error {
		return tx.SaveDeposit(d)
	}); err != nil {
		t.Fatal(err)
	}

	// Mutating the caller's copy must not touch stored state.
	d.RemainingAmount.SetInt64(0)

	var got *escrow.Deposit
	if err := s.View(ctx, func(tx escrow.Tx) error {
		var err error
		got, err = tx.Deposit(1)
		return err
	}); err != nil {
		t.Fatal(err)
	}
	if got.RemainingAmount.Int64() != 1000 {
		t.Fatalf("stored deposit aliased caller memory: remaining=%s", got.RemainingAmount)
	}

	// And mutating the read result must not touch stored state either.
	got.Verifiers[common.HexToAddress("0xccc0000000000000000000000000000000000003")].PayeeDetails = "tampered"
	var again *escrow.Deposit
	_ = s.View(ctx, func(tx escrow.Tx) error {
		var err error
		again, err = tx.Deposit(1)
		return err
	})
	cfg := again.Verifiers[common.HexToAddress("0xccc0000000000000000000000000000000000003")]
	if cfg.PayeeDetails != "100012341234" {
		t.Fatalf("read result aliased stored state: %s", cfg.PayeeDetails)
	}
}

func TestSequencesAreMonotonic(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	var first, second uint64
	_ = s.Update(ctx, func(tx escrow.Tx) error {
		first, _ = tx.NextDepositID()
		return nil
	})
	_ = s.Update(ctx, func(tx escrow.Tx) error {
		second, _ = tx.NextDepositID()
		return nil
	})
	if first != 1 || second != 2 {
		t.Fatalf("deposit ids = %d, %d; want 1, 2", first, second)
	}

	// A failed transaction must not consume an id.
	_ = s.Update(ctx, func(tx escrow.Tx) error {
		tx.NextDepositID()
		return errors.New("rollback")
	})
	var third uint64
	_ = s.Update(ctx, func(tx escrow.Tx) error {
		third, _ = tx.NextDepositID()
		return nil
	})
	if third != 3 {
		t.Fatalf("rolled-back transaction consumed an id: got %d, want 3", third)
	}
}

func TestOpenIntentsFilters(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	taker := common.HexToAddress("0xddd0000000000000000000000000000000000004")

	err := s.Update(ctx, func(tx escrow.Tx) error {
		for i, status := range []escrow.IntentStatus{escrow.IntentOpen, escrow.IntentFulfilled, escrow.IntentOpen} {
			intent := &escrow.Intent{
				ID:             uint64(i + 1),
				DepositID:      1,
				Taker:          taker,
				Amount:         big.NewInt(100),
				ConversionRate: big.NewInt(1),
				Status:         status,
			}
			if err := tx.SaveIntent(intent); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	_ = s.View(ctx, func(tx escrow.Tx) error {
		open, err := tx.OpenIntents(1)
		if err != nil {
			t.Fatal(err)
		}
		if len(open) != 2 {
			t.Fatalf("open intents = %d, want 2", len(open))
		}
		if open[0].ID != 1 || open[1].ID != 3 {
			t.Fatalf("unexpected order: %d, %d", open[0].ID, open[1].ID)
		}
		mine, _ := tx.IntentsByTaker(taker)
		if len(mine) != 3 {
			t.Fatalf("taker intents = %d, want 3", len(mine))
		}
		return nil
	})
}

func TestWhitelistSetAndClear(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	v := common.HexToAddress("0xeee0000000000000000000000000000000000005")

	_ = s.Update(ctx, func(tx escrow.Tx) error { return tx.SetWhitelisted(v, true) })
	_ = s.View(ctx, func(tx escrow.Tx) error {
		ok, _ := tx.IsWhitelisted(v)
		if !ok {
			t.Fatal("expected whitelisted")
		}
		return nil
	})
	_ = s.Update(ctx, func(tx escrow.Tx) error { return tx.SetWhitelisted(v, false) })
	_ = s.View(ctx, func(tx escrow.Tx) error {
		ok, _ := tx.IsWhitelisted(v)
		if ok {
			t.Fatal("expected removed")
		}
		list, _ := tx.Whitelisted()
		if len(list) != 0 {
			t.Fatalf("whitelist should be empty, got %d", len(list))
		}
		return nil
	})
}
