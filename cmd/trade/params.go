package main

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mangrovedao/mangrove-archive-sub000/internal/market"
	"github.com/mangrovedao/mangrove-archive-sub000/internal/units"
)

type amounts struct {
	Volume string `long:"volume" description:"Base amount to trade"`
	Price  string `long:"price" description:"Quote per base"`
	Wants  string `long:"wants" description:"Raw amount to receive (instead of --volume/--price)"`
	Gives  string `long:"gives" description:"Raw amount to pay (instead of --volume/--price)"`
}

// params accepts either volume and price or wants and gives, never a mix.
func (a amounts) params() (market.TradeParams, error) {
	byVolume := a.Volume != "" || a.Price != ""
	byAmounts := a.Wants != "" || a.Gives != ""
	switch {
	case byVolume && byAmounts:
		return market.TradeParams{}, fmt.Errorf("use --volume/--price or --wants/--gives, not both")
	case byVolume:
		vol, price, err := parsePair(a.Volume, "--volume", a.Price, "--price")
		if err != nil {
			return market.TradeParams{}, err
		}
		return market.ByVolume(vol, price), nil
	case byAmounts:
		wants, gives, err := parsePair(a.Wants, "--wants", a.Gives, "--gives")
		if err != nil {
			return market.TradeParams{}, err
		}
		return market.ByAmounts(wants, gives), nil
	}
	return market.TradeParams{}, fmt.Errorf("amounts required: --volume/--price or --wants/--gives")
}

func parsePair(a, aName, b, bName string) (decimal.Decimal, decimal.Decimal, error) {
	x, err := units.ParseAmount(a)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%s: %w", aName, err)
	}
	y, err := units.ParseAmount(b)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%s: %w", bName, err)
	}
	return x, y, nil
}

type activation struct {
	Fee             uint64 `long:"fee" description:"Taker fee in basis points"`
	Density         string `long:"density" default:"0" description:"Minimum gives per gas, in outbound token units"`
	OverheadGasbase uint64 `long:"overhead-gasbase" default:"20000" description:"Gas charged once per market order"`
	OfferGasbase    uint64 `long:"offer-gasbase" default:"20000" description:"Gas charged per offer executed"`
}

func (a activation) density() (*big.Int, error) {
	d, ok := new(big.Int).SetString(strings.TrimSpace(a.Density), 10)
	if !ok || d.Sign() < 0 {
		return nil, fmt.Errorf("--density: invalid integer %q", a.Density)
	}
	return d, nil
}
