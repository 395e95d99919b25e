package ledger

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"
)

// erc20ABI covers the subset of the ERC-20 interface the escrow needs.
const erc20ABI = `[
  {"constant":false,"inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"name":"transferFrom","outputs":[{"name":"","type":"bool"}],"type":"function"},
  {"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"},
  {"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"}
]`

// ERC20Ledger drives a deployed ERC-20 token through a bound contract with
// the escrow account's key. Transfers are submitted and waited for one
// confirmation; a reverted transaction is reported as ErrInsufficientFunds.
type ERC20Ledger struct {
	client   *ethclient.Client
	contract *bind.BoundContract
	escrow   common.Address
	opts     *bind.TransactOpts
	log      *logrus.Entry
}

// ERC20Config configures the on-chain ledger.
type ERC20Config struct {
	RPCURL        string
	TokenAddress  string
	PrivateKeyHex string
}

// NewERC20Ledger dials the RPC endpoint and binds the token contract.
func NewERC20Ledger(ctx context.Context, cfg ERC20Config, log *logrus.Logger) (*ERC20Ledger, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	if cfg.TokenAddress == "" {
		return nil, fmt.Errorf("token address is required")
	}

	cli, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	chainID, err := cli.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}

	opts, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return nil, fmt.Errorf("transactor: %w", err)
	}

	token := common.HexToAddress(cfg.TokenAddress)
	bound := bind.NewBoundContract(token, parsed, cli, cli, cli)

	return &ERC20Ledger{
		client:   cli,
		contract: bound,
		escrow:   crypto.PubkeyToAddress(key.PublicKey),
		opts:     opts,
		log:      log.WithField("component", "erc20_ledger"),
	}, nil
}

// EscrowAddress is the on-chain account holding pooled funds.
func (l *ERC20Ledger) EscrowAddress() common.Address {
	return l.escrow
}

func (l *ERC20Ledger) TransferFrom(ctx context.Context, from common.Address, amount *big.Int) error {
	return l.transact(ctx, "transferFrom", from, l.escrow, amount)
}

func (l *ERC20Ledger) Transfer(ctx context.Context, to common.Address, amount *big.Int) error {
	return l.transact(ctx, "transfer", to, amount)
}

func (l *ERC20Ledger) BalanceOf(ctx context.Context, addr common.Address) (*big.Int, error) {
	var out []interface{}
	callOpts := &bind.CallOpts{Context: ctx}
	if err := l.contract.Call(callOpts, &out, "balanceOf", addr); err != nil {
		return nil, fmt.Errorf("balanceOf: %w", err)
	}
	bal, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("balanceOf: unexpected return type %T", out[0])
	}
	return bal, nil
}

func (l *ERC20Ledger) transact(ctx context.Context, method string, args ...interface{}) error {
	opts := *l.opts
	opts.Context = ctx

	tx, err := l.contract.Transact(&opts, method, args...)
	if err != nil {
		return fmt.Errorf("%s tx: %w", method, err)
	}

	receipt, err := bind.WaitMined(ctx, l.client, tx)
	if err != nil {
		return fmt.Errorf("%s wait: %w", method, err)
	}
	if receipt.Status == 0 {
		l.log.WithFields(logrus.Fields{
			"method": method,
			"tx":     tx.Hash().Hex(),
		}).Warn("token transfer reverted")
		return ErrInsufficientFunds
	}
	return nil
}
