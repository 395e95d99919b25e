package registry

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// MemoryNullifierStore keeps nullifier state in process memory. Used by
// tests and by the memory storage driver.
type MemoryNullifierStore struct {
	mu       sync.Mutex
	consumed map[common.Hash]bool
	writers  map[common.Address]bool
}

// NewMemoryNullifierStore creates an empty store.
func NewMemoryNullifierStore() *MemoryNullifierStore {
	return &MemoryNullifierStore{
		consumed: make(map[common.Hash]bool),
		writers:  make(map[common.Address]bool),
	}
}

func (s *MemoryNullifierStore) IsConsumed(ctx context.Context, id common.Hash) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consumed[id], nil
}

func (s *MemoryNullifierStore) Consume(ctx context.Context, id common.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.consumed[id] {
		return ErrNullifierAlreadyUsed
	}
	s.consumed[id] = true
	return nil
}

func (s *MemoryNullifierStore) IsWriter(ctx context.Context, addr common.Address) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writers[addr], nil
}

func (s *MemoryNullifierStore) SetWriter(ctx context.Context, addr common.Address, allowed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if allowed {
		s.writers[addr] = true
	} else {
		delete(s.writers, addr)
	}
	return nil
}

func (s *MemoryNullifierStore) Writers(ctx context.Context) ([]common.Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]common.Address, 0, len(s.writers))
	for addr := range s.writers {
		out = append(out, addr)
	}
	return out, nil
}
