// Package ledger abstracts the fungible asset balance ledger backing the
// escrow pool. The escrow engine never inspects transfer mechanics; any
// failure is terminal for the operation that triggered it.
package ledger

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ErrInsufficientFunds is returned when a transfer exceeds the source
// balance or allowance.
var ErrInsufficientFunds = errors.New("ledger: insufficient balance or allowance")

// AssetLedger moves and reads balances of a single fungible token on behalf
// of the escrow account.
type AssetLedger interface {
	// TransferFrom pulls amount from the owner into the escrow account.
	TransferFrom(ctx context.Context, from common.Address, amount *big.Int) error

	// Transfer pushes amount from the escrow account to the recipient.
	Transfer(ctx context.Context, to common.Address, amount *big.Int) error

	// BalanceOf reads the current balance of a principal.
	BalanceOf(ctx context.Context, addr common.Address) (*big.Int, error)
}
