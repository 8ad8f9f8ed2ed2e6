// Package fixedpoint converts between human-readable decimals and the
// contract's 6-decimal integer representation.
package fixedpoint

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Decimals is the number of fractional digits used on-chain for USD amounts,
// shares, asset value and share price.
const Decimals = 6

var (
	ErrNegative      = errors.New("fixedpoint: negative value")
	ErrTooPrecise    = fmt.Errorf("fixedpoint: more than %d fractional digits", Decimals)
	ErrNotPositive   = errors.New("fixedpoint: value must be greater than zero")
	ErrInvalidNumber = errors.New("fixedpoint: invalid decimal")
)

// ToUnits scales d by 10^6 and returns the integer the contract expects.
// Values with more than six fractional digits are rejected rather than rounded.
func ToUnits(d decimal.Decimal) (*big.Int, error) {
	if d.Sign() < 0 {
		return nil, ErrNegative
	}
	shifted := d.Shift(Decimals)
	if !shifted.IsInteger() {
		return nil, ErrTooPrecise
	}
	return shifted.BigInt(), nil
}

// FromUnits converts an on-chain integer into its decimal value.
func FromUnits(units *big.Int) decimal.Decimal {
	if units == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(units, -Decimals)
}

// Format renders d with exactly six fractional digits, e.g. "50.000000".
func Format(d decimal.Decimal) string {
	return d.StringFixed(Decimals)
}

// FormatUnits is Format(FromUnits(units)).
func FormatUnits(units *big.Int) string {
	return Format(FromUnits(units))
}

// Parse reads a decimal string.
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidNumber, s)
	}
	return d, nil
}

// ValidateAmount checks that d is a positive amount representable on-chain.
func ValidateAmount(d decimal.Decimal) error {
	if d.Sign() <= 0 {
		return ErrNotPositive
	}
	_, err := ToUnits(d)
	return err
}
