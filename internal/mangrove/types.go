package mangrove

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Network identifies the chain a handle talks to.
type Network struct {
	ChainID uint64
	Name    string
}

func (n Network) String() string {
	return fmt.Sprintf("%s(%d)", n.Name, n.ChainID)
}

// GlobalConfig mirrors the exchange-wide parameters. Gasprice is in gwei.
type GlobalConfig struct {
	Monitor   common.Address
	UseOracle bool
	Notify    bool
	Gasprice  uint64
	Gasmax    uint64
	Dead      bool
}

// LocalConfig mirrors the parameters of one directed offer list.
type LocalConfig struct {
	Active          bool
	Fee             uint64 // basis points
	Density         *big.Int
	OverheadGasbase uint64
	OfferGasbase    uint64
	Lock            bool
	Best            uint64
	Last            uint64
}

type Config struct {
	Global GlobalConfig
	Local  LocalConfig
}

// OfferData is the per-offer part of a reader page.
type OfferData struct {
	Prev     uint64
	Next     uint64
	Wants    *big.Int
	Gives    *big.Int
	Gasprice uint64
}

// OfferDetail is the per-offer detail part of a reader page.
type OfferDetail struct {
	Maker           common.Address
	Gasreq          uint64
	OverheadGasbase uint64
	OfferGasbase    uint64
}

// BookPage is one answer of the reader's paginated book call. IDs, Offers and
// Details are parallel slices; the reader pads unfilled slots with id 0.
type BookPage struct {
	NextID  uint64
	IDs     []uint64
	Offers  []OfferData
	Details []OfferDetail
}

// SnipeRequest targets one offer. Wants is in outbound token units, Gives in
// inbound token units.
type SnipeRequest struct {
	OfferID   uint64
	Wants     *big.Int
	Gives     *big.Int
	Gasreq    uint64
	FillWants bool
}

// SnipeResult is the outcome of a dry-run snipe.
type SnipeResult struct {
	Success   bool
	TakerGot  *big.Int
	TakerGave *big.Int
}

// Tuple shapes as unpacked by go-ethereum's abi package; field names follow
// abi.ToCamelCase of the component names.
type globalTuple struct {
	Monitor   common.Address
	UseOracle bool
	Notify    bool
	Gasprice  *big.Int
	Gasmax    *big.Int
	Dead      bool
}

type localTuple struct {
	Active          bool
	Fee             *big.Int
	Density         *big.Int
	OverheadGasbase *big.Int
	OfferGasbase    *big.Int
	Lock            bool
	Best            *big.Int
	Last            *big.Int
}

type offerTuple struct {
	Prev     *big.Int
	Next     *big.Int
	Wants    *big.Int
	Gives    *big.Int
	Gasprice *big.Int
}

type detailTuple struct {
	Maker           common.Address
	Gasreq          *big.Int
	OverheadGasbase *big.Int
	OfferGasbase    *big.Int
}

// u64 converts an on-chain integer that must fit in 64 bits.
type u64 struct{ err error }

func (c *u64) conv(field string, v *big.Int) uint64 {
	if c.err != nil {
		return 0
	}
	if v == nil {
		return 0
	}
	if v.Sign() < 0 || !v.IsUint64() {
		c.err = fmt.Errorf("%s overflows uint64: %s", field, v)
		return 0
	}
	return v.Uint64()
}

func (g globalTuple) decode() (GlobalConfig, error) {
	var c u64
	out := GlobalConfig{
		Monitor:   g.Monitor,
		UseOracle: g.UseOracle,
		Notify:    g.Notify,
		Gasprice:  c.conv("gasprice", g.Gasprice),
		Gasmax:    c.conv("gasmax", g.Gasmax),
		Dead:      g.Dead,
	}
	return out, c.err
}

func (l localTuple) decode() (LocalConfig, error) {
	var c u64
	out := LocalConfig{
		Active:          l.Active,
		Fee:             c.conv("fee", l.Fee),
		Density:         l.Density,
		OverheadGasbase: c.conv("overhead_gasbase", l.OverheadGasbase),
		OfferGasbase:    c.conv("offer_gasbase", l.OfferGasbase),
		Lock:            l.Lock,
		Best:            c.conv("best", l.Best),
		Last:            c.conv("last", l.Last),
	}
	return out, c.err
}

func decodePage(nextID *big.Int, ids []*big.Int, offers []offerTuple, details []detailTuple) (BookPage, error) {
	if len(ids) != len(offers) || len(ids) != len(details) {
		return BookPage{}, fmt.Errorf("book page length mismatch: ids=%d offers=%d details=%d", len(ids), len(offers), len(details))
	}

	var c u64
	page := BookPage{
		NextID:  c.conv("nextId", nextID),
		IDs:     make([]uint64, len(ids)),
		Offers:  make([]OfferData, len(ids)),
		Details: make([]OfferDetail, len(ids)),
	}
	for i := range ids {
		page.IDs[i] = c.conv("id", ids[i])
		o := offers[i]
		page.Offers[i] = OfferData{
			Prev:     c.conv("prev", o.Prev),
			Next:     c.conv("next", o.Next),
			Wants:    nonNil(o.Wants),
			Gives:    nonNil(o.Gives),
			Gasprice: c.conv("gasprice", o.Gasprice),
		}
		d := details[i]
		page.Details[i] = OfferDetail{
			Maker:           d.Maker,
			Gasreq:          c.conv("gasreq", d.Gasreq),
			OverheadGasbase: c.conv("overhead_gasbase", d.OverheadGasbase),
			OfferGasbase:    c.conv("offer_gasbase", d.OfferGasbase),
		}
	}
	if c.err != nil {
		return BookPage{}, c.err
	}
	return page, nil
}

func nonNil(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
