package units

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestToUnits(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		amount   string
		decimals int32
		want     string
	}{
		{name: "integer", amount: "1", decimals: 18, want: "1000000000000000000"},
		{name: "six decimals", amount: "123.456789", decimals: 6, want: "123456789"},
		{name: "round half up", amount: "0.0000005", decimals: 6, want: "1"},
		{name: "round down", amount: "0.00000049", decimals: 6, want: "0"},
		{name: "zero decimals", amount: "42.5", decimals: 0, want: "43"},
		{name: "beyond uint64", amount: "123456789012.123456789012345678", decimals: 18, want: "123456789012123456789012345678"},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := ToUnits(decimal.RequireFromString(tc.amount), tc.decimals)
			require.Equal(t, tc.want, got.String())
		})
	}
}

func TestFromUnits(t *testing.T) {
	t.Parallel()

	got := FromUnits(big.NewInt(123456789), 6)
	require.True(t, got.Equal(decimal.RequireFromString("123.456789")), "got %s", got)

	huge, ok := new(big.Int).SetString("340282366920938463463374607431768211455", 10)
	require.True(t, ok)
	got = FromUnits(huge, 18)
	require.Equal(t, "340282366920938463463.374607431768211455", got.String())

	require.True(t, FromUnits(nil, 18).IsZero())
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		amount   string
		decimals int32
	}{
		{"123.456789", 6},
		{"0.000001", 6},
		{"1.2", 18},
		{"0.00000000000000000001", 0},
		{"98765432109876543210.12", 2},
	}
	for _, tc := range tests {
		x := decimal.RequireFromString(tc.amount)
		if int32(-x.Exponent()) > tc.decimals {
			// Not representable at this scale; ToUnits rounds by design.
			continue
		}
		back := FromUnits(ToUnits(x, tc.decimals), tc.decimals)
		require.True(t, back.Equal(x), "amount=%s decimals=%d back=%s", tc.amount, tc.decimals, back)
	}
}

func TestDiv(t *testing.T) {
	t.Parallel()

	got := Div(decimal.NewFromInt(100), decimal.NewFromInt(120))
	require.Equal(t, "0.83333333333333333333", got.String())
	require.Equal(t, "1.2", Div(decimal.NewFromInt(120), decimal.NewFromInt(100)).String())
}

func TestParseAmount(t *testing.T) {
	t.Parallel()

	d, err := ParseAmount(" 1.25 ")
	require.NoError(t, err)
	require.Equal(t, "1.25", d.String())

	_, err = ParseAmount("")
	require.Error(t, err)
	_, err = ParseAmount("-1")
	require.Error(t, err)
	_, err = ParseAmount("abc")
	require.Error(t, err)
}
