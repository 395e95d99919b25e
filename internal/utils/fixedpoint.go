package utils

import "math/big"

// PreciseUnit is the fixed-point scale for conversion rates: a rate of
// 1400 fiat units per token is stored as 1400 * 1e18.
var PreciseUnit = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// MulDown multiplies a token amount by a 1e18 fixed-point rate and truncates.
// Rounding down biases the required fiat amount in favour of the depositor.
func MulDown(amount, rate *big.Int) *big.Int {
	out := new(big.Int).Mul(amount, rate)
	return out.Quo(out, PreciseUnit)
}
