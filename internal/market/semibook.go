package market

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Offer is one resting order. Wants and Gives are in human units of the
// side's inbound and outbound assets; Volume is always in base and Price in
// quote per base.
type Offer struct {
	ID   uint64
	Prev uint64
	Next uint64

	Gasprice        uint64
	Gasreq          uint64
	OverheadGasbase uint64
	OfferGasbase    uint64
	Maker           common.Address

	Wants  decimal.Decimal
	Gives  decimal.Decimal
	Volume decimal.Decimal
	Price  decimal.Decimal
}

// Semibook is one side of a market: offers indexed by id and linked best to
// worst through their Prev/Next ids. Id 0 is the null link.
type Semibook struct {
	offers map[uint64]*Offer
	best   uint64

	OverheadGasbase uint64
	OfferGasbase    uint64
}

func newSemibook(overheadGasbase, offerGasbase uint64) *Semibook {
	return &Semibook{
		offers:          make(map[uint64]*Offer),
		OverheadGasbase: overheadGasbase,
		OfferGasbase:    offerGasbase,
	}
}

// Best is the id of the best offer, 0 when the side is empty.
func (b *Semibook) Best() uint64 { return b.best }

func (b *Semibook) Len() int { return len(b.offers) }

func (b *Semibook) Offer(id uint64) (Offer, bool) {
	o, ok := b.offers[id]
	if !ok {
		return Offer{}, false
	}
	return *o, true
}

// Offers walks from Best following Next and stops at the first id that is
// not held locally, so a truncated view yields its known prefix.
func (b *Semibook) Offers() []Offer {
	out := make([]Offer, 0, len(b.offers))
	for id := b.best; id != 0; {
		o, ok := b.offers[id]
		if !ok || len(out) == len(b.offers) {
			break
		}
		out = append(out, *o)
		id = o.Next
	}
	return out
}

// insert links o into the list. o.Prev and o.Next must already be right and
// o.ID must not be present.
func (b *Semibook) insert(o *Offer) {
	b.offers[o.ID] = o
	if o.Prev == 0 {
		b.best = o.ID
	} else if p, ok := b.offers[o.Prev]; ok {
		p.Next = o.ID
	}
	if o.Next != 0 {
		if n, ok := b.offers[o.Next]; ok {
			n.Prev = o.ID
		}
	}
}

// remove splices id out of the list and returns it, or nil when absent.
func (b *Semibook) remove(id uint64) *Offer {
	o, ok := b.offers[id]
	if !ok {
		return nil
	}
	if o.Prev == 0 {
		b.best = o.Next
	} else if p, ok := b.offers[o.Prev]; ok {
		p.Next = o.Next
	}
	if o.Next != 0 {
		if n, ok := b.offers[o.Next]; ok {
			n.Prev = o.Prev
		}
	}
	delete(b.offers, id)
	return o
}

// nextAfter resolves the successor of a new offer placed after prev. The
// second result is false when prev is not held locally.
func (b *Semibook) nextAfter(prev uint64) (uint64, bool) {
	if prev == 0 {
		return b.best, true
	}
	p, ok := b.offers[prev]
	if !ok {
		return 0, false
	}
	return p.Next, true
}

func (b *Semibook) clone() *Semibook {
	c := newSemibook(b.OverheadGasbase, b.OfferGasbase)
	c.best = b.best
	for id, o := range b.offers {
		cp := *o
		c.offers[id] = &cp
	}
	return c
}
