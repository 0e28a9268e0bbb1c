// Package units converts between on-chain fixed-point token amounts and
// human-readable decimal quantities.
package units

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// PricePrecision is the number of fractional digits kept when dividing two
// human amounts (prices, sell-side wants).
const PricePrecision = 20

// ToUnits returns amount × 10^decimals rounded half-up to an integer.
//
// Amounts are expected to be non-negative; for those, shopspring's
// half-away-from-zero rounding is half-up.
func ToUnits(amount decimal.Decimal, decimals int32) *big.Int {
	return amount.Shift(decimals).Round(0).BigInt()
}

// FromUnits returns v / 10^decimals. The division is exact: the result keeps
// every fractional digit of the integer amount.
func FromUnits(v *big.Int, decimals int32) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -decimals)
}

// Div divides two human amounts keeping PricePrecision fractional digits.
func Div(num, den decimal.Decimal) decimal.Decimal {
	return num.DivRound(den, PricePrecision)
}

// ParseAmount parses a human amount from user input (flags, env).
// Negative values are rejected.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("empty amount")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("amount %q is negative", s)
	}
	return d, nil
}

// Format renders v (in token units) as a plain decimal string with trailing
// zeros removed, e.g. for log lines.
func Format(v *big.Int, decimals int32) string {
	return FromUnits(v, decimals).String()
}
