// Package registry implements the write-once nullifier registry that gives
// payment proofs exactly-once semantics across all verifiers.
package registry

import (
	"context"
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/ModoriLabs/zk-escrow/internal/metrics"
)

var (
	// ErrNotOwner rejects administrative calls from anyone but the owner.
	ErrNotOwner = errors.New("registry: caller is not the owner")

	// ErrNotWriter rejects nullifier writes from unpermissioned callers.
	ErrNotWriter = errors.New("registry: caller has no write permission")

	// ErrNullifierAlreadyUsed signals a replayed proof. A consumed
	// nullifier is never released again.
	ErrNullifierAlreadyUsed = errors.New("registry: nullifier already used")
)

// NullifierStore persists consumed nullifiers and writer permissions.
// Implementations must make Consume fail with ErrNullifierAlreadyUsed on a
// second write of the same id.
type NullifierStore interface {
	IsConsumed(ctx context.Context, id common.Hash) (bool, error)
	Consume(ctx context.Context, id common.Hash) error

	IsWriter(ctx context.Context, addr common.Address) (bool, error)
	SetWriter(ctx context.Context, addr common.Address, allowed bool) error
	Writers(ctx context.Context) ([]common.Address, error)
}

// Registry gates nullifier writes behind an owner-managed permission list.
type Registry struct {
	mu    sync.Mutex
	owner common.Address
	store NullifierStore
	log   *logrus.Entry
}

// New creates a registry owned by the given principal.
func New(owner common.Address, store NullifierStore, log *logrus.Logger) *Registry {
	return &Registry{
		owner: owner,
		store: store,
		log:   log.WithField("component", "nullifier_registry"),
	}
}

// Owner returns the administrative principal.
func (r *Registry) Owner() common.Address {
	return r.owner
}

// IsWriter reports whether the principal may record nullifiers.
func (r *Registry) IsWriter(ctx context.Context, addr common.Address) (bool, error) {
	return r.store.IsWriter(ctx, addr)
}

// AddWritePermission grants write permission. Owner-only, idempotent: a
// repeated grant succeeds without logging a change.
func (r *Registry) AddWritePermission(ctx context.Context, caller, addr common.Address) error {
	if caller != r.owner {
		return ErrNotOwner
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	already, err := r.store.IsWriter(ctx, addr)
	if err != nil {
		return err
	}
	if already {
		return nil
	}
	if err := r.store.SetWriter(ctx, addr, true); err != nil {
		return err
	}
	r.log.WithField("writer", addr.Hex()).Info("write permission granted")
	return nil
}

// RemoveWritePermission revokes write permission. Owner-only, idempotent.
func (r *Registry) RemoveWritePermission(ctx context.Context, caller, addr common.Address) error {
	if caller != r.owner {
		return ErrNotOwner
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	has, err := r.store.IsWriter(ctx, addr)
	if err != nil {
		return err
	}
	if !has {
		return nil
	}
	if err := r.store.SetWriter(ctx, addr, false); err != nil {
		return err
	}
	r.log.WithField("writer", addr.Hex()).Info("write permission revoked")
	return nil
}

// AddNullifier marks the identifier consumed. Fails with ErrNotWriter when
// the caller lacks permission and ErrNullifierAlreadyUsed on replay; the
// unconsumed -> consumed transition happens exactly once and is never
// reversed.
func (r *Registry) AddNullifier(ctx context.Context, caller common.Address, id common.Hash) error {
	ok, err := r.store.IsWriter(ctx, caller)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotWriter
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.Consume(ctx, id); err != nil {
		if errors.Is(err, ErrNullifierAlreadyUsed) {
			metrics.ReplaysRejected.Inc()
		}
		return err
	}
	metrics.NullifiersConsumed.Inc()
	r.log.WithFields(logrus.Fields{
		"nullifier": id.Hex(),
		"writer":    caller.Hex(),
	}).Info("nullifier consumed")
	return nil
}

// IsNullified reads consumed status without side effects; querying an
// unused id returns false, not an error.
func (r *Registry) IsNullified(ctx context.Context, id common.Hash) (bool, error) {
	return r.store.IsConsumed(ctx, id)
}

// Writers lists all principals with write permission.
func (r *Registry) Writers(ctx context.Context) ([]common.Address, error) {
	return r.store.Writers(ctx)
}
