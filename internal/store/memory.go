// Package store provides the persistence drivers behind the escrow engine
// and the nullifier registry: an in-memory driver for tests and local mode,
// and a Postgres driver over gorm.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ModoriLabs/zk-escrow/internal/escrow"
)

// MemoryStore keeps escrow state in process memory. Update works on a deep
// copy that replaces the live state only when the transaction function
// succeeds, so failed operations leave nothing behind.
type MemoryStore struct {
	mu    sync.Mutex
	state *memState
}

type memState struct {
	deposits   map[uint64]*escrow.Deposit
	intents    map[uint64]*escrow.Intent
	whitelist  map[common.Address]bool
	depositSeq uint64
	intentSeq  uint64
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: &memState{
		deposits:  make(map[uint64]*escrow.Deposit),
		intents:   make(map[uint64]*escrow.Intent),
		whitelist: make(map[common.Address]bool),
	}}
}

func (s *memState) clone() *memState {
	out := &memState{
		deposits:   make(map[uint64]*escrow.Deposit, len(s.deposits)),
		intents:    make(map[uint64]*escrow.Intent, len(s.intents)),
		whitelist:  make(map[common.Address]bool, len(s.whitelist)),
		depositSeq: s.depositSeq,
		intentSeq:  s.intentSeq,
	}
	for id, d := range s.deposits {
		out.deposits[id] = d.Clone()
	}
	for id, i := range s.intents {
		out.intents[id] = i.Clone()
	}
	for addr, ok := range s.whitelist {
		out.whitelist[addr] = ok
	}
	return out
}

func (s *MemoryStore) Update(ctx context.Context, fn func(escrow.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	work := s.state.clone()
	if err := fn(&memTx{state: work}); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (s *MemoryStore) View(ctx context.Context, fn func(escrow.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// A clone keeps read transactions from aliasing live state.
	return fn(&memTx{state: s.state.clone()})
}

type memTx struct {
	state *memState
}

func (t *memTx) NextDepositID() (uint64, error) {
	t.state.depositSeq++
	return t.state.depositSeq, nil
}

func (t *memTx) NextIntentID() (uint64, error) {
	t.state.intentSeq++
	return t.state.intentSeq, nil
}

func (t *memTx) Deposit(id uint64) (*escrow.Deposit, error) {
	d, ok := t.state.deposits[id]
	if !ok {
		return nil, escrow.ErrDepositNotFound
	}
	return d.Clone(), nil
}

func (t *memTx) SaveDeposit(d *escrow.Deposit) error {
	t.state.deposits[d.ID] = d.Clone()
	return nil
}

func (t *memTx) DeleteDeposit(id uint64) error {
	delete(t.state.deposits, id)
	return nil
}

func (t *memTx) Deposits() ([]*escrow.Deposit, error) {
	out := make([]*escrow.Deposit, 0, len(t.state.deposits))
	for _, d := range t.state.deposits {
		out = append(out, d.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) DepositsByDepositor(addr common.Address) ([]*escrow.Deposit, error) {
	var out []*escrow.Deposit
	for _, d := range t.state.deposits {
		if d.Depositor == addr {
			out = append(out, d.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) Intent(id uint64) (*escrow.Intent, error) {
	i, ok := t.state.intents[id]
	if !ok {
		return nil, escrow.ErrIntentNotFound
	}
	return i.Clone(), nil
}

func (t *memTx) SaveIntent(i *escrow.Intent) error {
	t.state.intents[i.ID] = i.Clone()
	return nil
}

func (t *memTx) OpenIntents(depositID uint64) ([]*escrow.Intent, error) {
	var out []*escrow.Intent
	for _, i := range t.state.intents {
		if i.DepositID == depositID && i.Status == escrow.IntentOpen {
			out = append(out, i.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) IntentsByTaker(addr common.Address) ([]*escrow.Intent, error) {
	var out []*escrow.Intent
	for _, i := range t.state.intents {
		if i.Taker == addr {
			out = append(out, i.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) IsWhitelisted(addr common.Address) (bool, error) {
	return t.state.whitelist[addr], nil
}

func (t *memTx) SetWhitelisted(addr common.Address, whitelisted bool) error {
	if whitelisted {
		t.state.whitelist[addr] = true
	} else {
		delete(t.state.whitelist, addr)
	}
	return nil
}

func (t *memTx) Whitelisted() ([]common.Address, error) {
	out := make([]common.Address, 0, len(t.state.whitelist))
	for addr := range t.state.whitelist {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Hex() < out[j].Hex()
	})
	return out, nil
}
