package ledger

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// MemoryLedger is a deterministic in-process ledger used in tests and in
// local mode. Transfers fail only on insufficient balance, so a balance
// precheck guarantees a following transfer succeeds.
type MemoryLedger struct {
	mu       sync.Mutex
	escrow   common.Address
	balances map[common.Address]*big.Int
}

// NewMemoryLedger creates a ledger with the given escrow account identity.
func NewMemoryLedger(escrow common.Address) *MemoryLedger {
	return &MemoryLedger{
		escrow:   escrow,
		balances: make(map[common.Address]*big.Int),
	}
}

// Mint credits a principal, for seeding test and local balances.
func (l *MemoryLedger) Mint(addr common.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(addr, amount)
}

func (l *MemoryLedger) TransferFrom(ctx context.Context, from common.Address, amount *big.Int) error {
	return l.move(from, l.escrow, amount)
}

func (l *MemoryLedger) Transfer(ctx context.Context, to common.Address, amount *big.Int) error {
	return l.move(l.escrow, to, amount)
}

func (l *MemoryLedger) BalanceOf(ctx context.Context, addr common.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.balances[addr]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

func (l *MemoryLedger) move(from, to common.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	bal, ok := l.balances[from]
	if !ok || bal.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	bal.Sub(bal, amount)
	l.credit(to, amount)
	return nil
}

func (l *MemoryLedger) credit(addr common.Address, amount *big.Int) {
	if b, ok := l.balances[addr]; ok {
		b.Add(b, amount)
		return
	}
	l.balances[addr] = new(big.Int).Set(amount)
}
