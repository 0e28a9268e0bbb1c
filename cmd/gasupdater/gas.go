package main

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

var gwei = big.NewInt(1_000_000_000)

// weiToGwei rounds up so the oracle never quotes below the node.
func weiToGwei(wei *big.Int) uint64 {
	if wei == nil || wei.Sign() <= 0 {
		return 0
	}
	q, r := new(big.Int).QuoRem(wei, gwei, new(big.Int))
	if r.Sign() > 0 {
		q.Add(q, big.NewInt(1))
	}
	if !q.IsUint64() {
		return ^uint64(0)
	}
	return q.Uint64()
}

// target applies the configured cap and floor to a suggested price.
func target(suggested, minGwei, maxGwei uint64) uint64 {
	if suggested < minGwei {
		suggested = minGwei
	}
	if maxGwei > 0 && suggested > maxGwei {
		suggested = maxGwei
	}
	return suggested
}

// shouldUpdate reports whether next drifts from current by more than
// threshold, a fraction of current.
func shouldUpdate(current, next uint64, threshold decimal.Decimal) bool {
	if next == current {
		return false
	}
	if current == 0 {
		return true
	}
	cur := decimalOf(current)
	drift := decimalOf(next).Sub(cur).Abs().Div(cur)
	return drift.GreaterThan(threshold)
}

func parseThreshold(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("threshold %q: %w", raw, err)
	}
	if d.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("threshold %q: must not be negative", raw)
	}
	return d, nil
}

func decimalOf(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0)
}
