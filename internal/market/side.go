package market

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Side selects one of the two offer lists of a market.
type Side int

const (
	// Asks offer base for quote: outbound=base, inbound=quote.
	Asks Side = iota
	// Bids offer quote for base: outbound=quote, inbound=base.
	Bids
)

var sides = [...]Side{Asks, Bids}

func (s Side) String() string {
	switch s {
	case Asks:
		return "asks"
	case Bids:
		return "bids"
	default:
		return fmt.Sprintf("side(%d)", int(s))
	}
}

func (s Side) valid() bool { return s == Asks || s == Bids }

type role int

const (
	base role = iota
	quote
)

// sideRoles says which market asset an offer gives (outbound) and which it
// wants (inbound) on each side. Every per-side amount conversion goes
// through this table.
var sideRoles = [...]struct{ gives, wants role }{
	Asks: {gives: base, wants: quote},
	Bids: {gives: quote, wants: base},
}

// Asset is one leg of a market, resolved against the registry.
type Asset struct {
	Name     string
	Address  common.Address
	Decimals int32
}

func (m *Market) asset(r role) Asset {
	if r == base {
		return m.base
	}
	return m.quote
}

// gives is the asset offers on side s give (the list's outbound token).
func (m *Market) gives(s Side) Asset { return m.asset(sideRoles[s].gives) }

// wants is the asset offers on side s want (the list's inbound token).
func (m *Market) wants(s Side) Asset { return m.asset(sideRoles[s].wants) }

// tokens returns the (outbound, inbound) pair of side s.
func (m *Market) tokens(s Side) (common.Address, common.Address) {
	return m.gives(s).Address, m.wants(s).Address
}

// sideOf maps a directed token pair back to a side of this market.
func (m *Market) sideOf(outbound, inbound common.Address) (Side, bool) {
	for _, s := range sides {
		out, in := m.tokens(s)
		if out == outbound && in == inbound {
			return s, true
		}
	}
	return 0, false
}
