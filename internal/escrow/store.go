package escrow

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// Store persists escrow state. Update runs fn inside a transaction: if fn
// returns an error, none of the writes performed through the Tx are kept.
// The engine serializes all Update calls, so implementations only need
// transactional discard, not concurrency control between engine operations.
type Store interface {
	Update(ctx context.Context, fn func(Tx) error) error
	View(ctx context.Context, fn func(Tx) error) error
}

// Tx is the transactional view of escrow state. Lookups return
// ErrDepositNotFound / ErrIntentNotFound for missing rows.
type Tx interface {
	NextDepositID() (uint64, error)
	NextIntentID() (uint64, error)

	Deposit(id uint64) (*Deposit, error)
	SaveDeposit(d *Deposit) error
	DeleteDeposit(id uint64) error
	Deposits() ([]*Deposit, error)
	DepositsByDepositor(addr common.Address) ([]*Deposit, error)

	Intent(id uint64) (*Intent, error)
	SaveIntent(i *Intent) error
	OpenIntents(depositID uint64) ([]*Intent, error)
	IntentsByTaker(addr common.Address) ([]*Intent, error)

	// Payment verifier whitelist, checked at intent creation time only.
	IsWhitelisted(addr common.Address) (bool, error)
	SetWhitelisted(addr common.Address, whitelisted bool) error
	Whitelisted() ([]common.Address, error)
}
