package main

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestWeiToGwei(t *testing.T) {
	require.Zero(t, weiToGwei(nil))
	require.Zero(t, weiToGwei(big.NewInt(0)))
	require.EqualValues(t, 1, weiToGwei(big.NewInt(1)))
	require.EqualValues(t, 30, weiToGwei(big.NewInt(30_000_000_000)))
	require.EqualValues(t, 31, weiToGwei(big.NewInt(30_000_000_001)))

	huge := new(big.Int).Lsh(big.NewInt(1), 200)
	require.Equal(t, ^uint64(0), weiToGwei(huge))
}

func TestTarget(t *testing.T) {
	require.EqualValues(t, 5, target(2, 5, 0))
	require.EqualValues(t, 40, target(40, 5, 0))
	require.EqualValues(t, 30, target(40, 5, 30))
}

func TestShouldUpdate(t *testing.T) {
	tenPct := decimal.RequireFromString("0.1")
	for _, tc := range []struct {
		name          string
		current, next uint64
		want          bool
	}{
		{"unchanged", 30, 30, false},
		{"unset oracle", 0, 30, true},
		{"within threshold up", 30, 33, false},
		{"beyond threshold up", 30, 34, true},
		{"within threshold down", 30, 27, false},
		{"beyond threshold down", 30, 26, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, shouldUpdate(tc.current, tc.next, tenPct))
		})
	}
	require.True(t, shouldUpdate(30, 31, decimal.Zero))
}

func TestParseThreshold(t *testing.T) {
	d, err := parseThreshold("0.05")
	require.NoError(t, err)
	require.Equal(t, "0.05", d.String())

	_, err = parseThreshold("-1")
	require.Error(t, err)
	_, err = parseThreshold("lots")
	require.Error(t, err)
}
