package market

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mangrovedao/mangrove-archive-sub000/internal/mangrove"
	"github.com/mangrovedao/mangrove-archive-sub000/internal/units"
)

var ErrInvalidTrade = errors.New("invalid trade parameters")

// TradeParams describe a market order either by volume and price or by raw
// wants and gives. Build them with ByVolume or ByAmounts.
type TradeParams struct {
	byVolume bool

	Volume decimal.Decimal
	Price  decimal.Decimal
	Wants  decimal.Decimal
	Gives  decimal.Decimal
}

// ByVolume trades volume base at price quote per base.
func ByVolume(volume, price decimal.Decimal) TradeParams {
	return TradeParams{byVolume: true, Volume: volume, Price: price}
}

// ByAmounts passes wants and gives through unchanged.
func ByAmounts(wants, gives decimal.Decimal) TradeParams {
	return TradeParams{Wants: wants, Gives: gives}
}

// Buy takes asks: wants = volume base, gives = volume*price quote.
func (m *Market) Buy(ctx context.Context, p TradeParams) (*types.Transaction, error) {
	wants, gives := p.Wants, p.Gives
	if p.byVolume {
		wants = p.Volume
		gives = p.Volume.Mul(p.Price)
	}
	return m.order(ctx, Asks, wants, gives, true)
}

// Sell takes bids: gives = volume base, wants = volume/price quote.
func (m *Market) Sell(ctx context.Context, p TradeParams) (*types.Transaction, error) {
	wants, gives := p.Wants, p.Gives
	if p.byVolume {
		if !p.Price.IsPositive() {
			return nil, fmt.Errorf("%w: sell price must be positive", ErrInvalidTrade)
		}
		gives = p.Volume
		wants = units.Div(p.Volume, p.Price)
	}
	return m.order(ctx, Bids, wants, gives, false)
}

// order submits a market order against side s. wants is in the side's
// outbound asset and gives in its inbound asset.
func (m *Market) order(ctx context.Context, s Side, wants, gives decimal.Decimal, fillWants bool) (*types.Transaction, error) {
	if wants.IsNegative() || gives.IsNegative() {
		return nil, fmt.Errorf("%w: negative amount", ErrInvalidTrade)
	}
	out, in := m.tokens(s)
	wantsUnits := m.gives(s).Units(wants)
	givesUnits := m.wants(s).Units(gives)

	tx, err := m.ex.MarketOrder(ctx, out, in, wantsUnits, givesUnits, fillWants)
	if err != nil {
		return nil, err
	}
	m.log.Info("market order",
		zap.Stringer("side", s),
		zap.Stringer("wants", wants),
		zap.Stringer("gives", gives),
		zap.String("tx", tx.Hash().Hex()),
	)
	return tx, nil
}

// SnipeParams target one offer. Wants is what the taker receives (the side's
// outbound asset), Gives what it pays (the inbound asset).
type SnipeParams struct {
	Wants     decimal.Decimal
	Gives     decimal.Decimal
	Gasreq    uint64
	FillWants bool
}

// TakeAll builds SnipeParams that consume o entirely.
func TakeAll(o Offer) SnipeParams {
	return SnipeParams{Wants: o.Gives, Gives: o.Wants, Gasreq: o.Gasreq, FillWants: true}
}

func (m *Market) snipeRequest(s Side, offerID uint64, p SnipeParams) (mangrove.SnipeRequest, error) {
	if !s.valid() {
		return mangrove.SnipeRequest{}, fmt.Errorf("%w: %s", ErrInvalidTrade, s)
	}
	if offerID == 0 {
		return mangrove.SnipeRequest{}, fmt.Errorf("%w: offer id 0", ErrInvalidTrade)
	}
	if p.Wants.IsNegative() || p.Gives.IsNegative() {
		return mangrove.SnipeRequest{}, fmt.Errorf("%w: negative amount", ErrInvalidTrade)
	}
	return mangrove.SnipeRequest{
		OfferID:   offerID,
		Wants:     m.gives(s).Units(p.Wants),
		Gives:     m.wants(s).Units(p.Gives),
		Gasreq:    p.Gasreq,
		FillWants: p.FillWants,
	}, nil
}

// Snipe sends a targeted trade on one offer of side s.
func (m *Market) Snipe(ctx context.Context, s Side, offerID uint64, p SnipeParams) (*types.Transaction, error) {
	req, err := m.snipeRequest(s, offerID, p)
	if err != nil {
		return nil, err
	}
	out, in := m.tokens(s)
	return m.ex.Snipe(ctx, out, in, req)
}

// SnipeResult is a dry-run outcome in human units.
type SnipeResult struct {
	Success   bool
	TakerGot  decimal.Decimal
	TakerGave decimal.Decimal
}

// SnipeStatic dry-runs Snipe without changing chain state.
func (m *Market) SnipeStatic(ctx context.Context, s Side, offerID uint64, p SnipeParams) (SnipeResult, error) {
	req, err := m.snipeRequest(s, offerID, p)
	if err != nil {
		return SnipeResult{}, err
	}
	out, in := m.tokens(s)
	res, err := m.ex.SnipeStatic(ctx, out, in, req)
	if err != nil {
		return SnipeResult{}, err
	}
	return SnipeResult{
		Success:   res.Success,
		TakerGot:  m.gives(s).HumanAmount(res.TakerGot),
		TakerGave: m.wants(s).HumanAmount(res.TakerGave),
	}, nil
}
