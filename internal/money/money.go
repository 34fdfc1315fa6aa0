// Package money provides exact fixed-point arithmetic over integer base
// units. Amounts cross every external boundary as decimal strings with a
// fixed number of implied fraction digits (6 for AlphaUSD); internally
// they are *big.Int base units so arithmetic matches on-ledger uint256
// math exactly. Never float64 for money.
package money

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

const (
	// BaseUnitDecimals is the number of implied fraction digits for
	// AlphaUSD amounts (decimals=6).
	BaseUnitDecimals = 6

	// BpsDenom is the basis-point denominator used for all fee and
	// collateral computations.
	BpsDenom = 10_000
)

// ErrInvalidFormat is returned when a decimal string cannot be represented
// exactly at the requested precision.
var ErrInvalidFormat = errors.New("money: invalid decimal amount")

// ParseBaseUnits converts a decimal string into integer base units with
// the given number of implied fraction digits. Non-numeric input and
// input with more fractional digits than the precision allows fail with
// ErrInvalidFormat. Positivity is not enforced here; callers reject
// amounts <= 0 explicitly.
func ParseBaseUnits(s string, decimals int32) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidFormat, s)
	}

	scaled := d.Shift(decimals)
	if !scaled.IsInteger() {
		return nil, fmt.Errorf("%w: %q exceeds %d fraction digits", ErrInvalidFormat, s, decimals)
	}
	return scaled.BigInt(), nil
}

// FormatBaseUnits renders integer base units as a decimal string with the
// given number of implied fraction digits. Trailing fractional zeros are
// trimmed ("30000000" at 6 decimals → "30").
func FormatBaseUnits(amount *big.Int, decimals int32) string {
	return decimal.NewFromBigInt(amount, -decimals).String()
}

// ApplyBps computes amount × bps / BpsDenom with floor division that
// rounds toward zero, never up. This must match on-ledger fee and
// collateral arithmetic exactly, including rounding direction.
func ApplyBps(amount *big.Int, bps int64) *big.Int {
	out := new(big.Int).Mul(amount, big.NewInt(bps))
	return out.Quo(out, big.NewInt(BpsDenom))
}
