package utils

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// CurrencyHash returns the canonical on-wire identifier of a fiat currency
// code, keccak256 of the upper-case ISO code (e.g. "KRW", "USD").
func CurrencyHash(code string) common.Hash {
	return crypto.Keccak256Hash([]byte(code))
}

// PayeeHash hashes opaque payee identification data (bank account details,
// payment handle, ...) so equality checks never touch the raw value.
func PayeeHash(payeeDetails string) common.Hash {
	return crypto.Keccak256Hash([]byte(payeeDetails))
}
