// Package market keeps a local replica of one market's two offer lists.
//
// A Market reads snapshots with Book, and with Subscribe it mirrors both
// sides in memory and keeps them in sync from the exchange's logs. Buy, Sell
// and Snipe convert human amounts and forward to the exchange.
package market

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mangrovedao/mangrove-archive-sub000/internal/mangrove"
	"github.com/mangrovedao/mangrove-archive-sub000/internal/registry"
	"github.com/mangrovedao/mangrove-archive-sub000/internal/units"
)

var (
	ErrAlreadySubscribed              = errors.New("market already subscribed")
	ErrNotSubscribed                  = errors.New("market not subscribed")
	ErrPartialSubscriptionUnsupported = errors.New("subscription must start from the best offer")
	ErrZeroVolumeOffer                = errors.New("offer has zero base volume")
)

const (
	// DefaultMaxOffers caps Book when BookOptions.MaxOffers is zero.
	DefaultMaxOffers = 50
	// DefaultChunkSize is the number of offers requested per reader call.
	DefaultChunkSize = 50
)

// Exchange is the part of *mangrove.Mangrove a Market uses.
type Exchange interface {
	Network() mangrove.Network
	Address() common.Address
	Config(ctx context.Context, outbound, inbound common.Address) (mangrove.Config, error)
	ReadBook(ctx context.Context, outbound, inbound common.Address, fromID uint64, maxOffers int) (mangrove.BookPage, error)
	MarketOrder(ctx context.Context, outbound, inbound common.Address, wants, gives *big.Int, fillWants bool) (*types.Transaction, error)
	Snipe(ctx context.Context, outbound, inbound common.Address, req mangrove.SnipeRequest) (*types.Transaction, error)
	SnipeStatic(ctx context.Context, outbound, inbound common.Address, req mangrove.SnipeRequest) (mangrove.SnipeResult, error)
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
}

// State is the subscription state of a Market.
type State int

const (
	Unsubscribed State = iota
	Subscribing
	Subscribed
)

func (s State) String() string {
	switch s {
	case Unsubscribed:
		return "unsubscribed"
	case Subscribing:
		return "subscribing"
	case Subscribed:
		return "subscribed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type Option func(*Market)

// WithChunkSize sets how many offers each reader call asks for.
func WithChunkSize(n int) Option {
	return func(m *Market) {
		if n > 0 {
			m.chunkSize = n
		}
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(m *Market) {
		if log != nil {
			m.log = log
		}
	}
}

type Market struct {
	log       *zap.Logger
	ex        Exchange
	reg       *registry.Registry
	base      Asset
	quote     Asset
	chunkSize int

	mu      sync.Mutex
	state   State
	gen     uint64
	books   [2]*Semibook
	session *session
}

// New resolves both assets on the exchange's network and returns an
// unsubscribed market.
func New(ex Exchange, reg *registry.Registry, baseName, quoteName string, opts ...Option) (*Market, error) {
	if ex == nil {
		return nil, fmt.Errorf("exchange required")
	}
	if reg == nil {
		return nil, fmt.Errorf("registry required")
	}
	network := ex.Network().Name

	resolve := func(name string) (Asset, error) {
		addr, err := reg.Address(name, network)
		if err != nil {
			return Asset{}, err
		}
		d, err := reg.Decimals(name)
		if err != nil {
			return Asset{}, err
		}
		return Asset{Name: name, Address: addr, Decimals: d}, nil
	}
	b, err := resolve(baseName)
	if err != nil {
		return nil, fmt.Errorf("base %s: %w", baseName, err)
	}
	q, err := resolve(quoteName)
	if err != nil {
		return nil, fmt.Errorf("quote %s: %w", quoteName, err)
	}
	if b.Address == q.Address {
		return nil, fmt.Errorf("base and quote resolve to the same token %s", b.Address.Hex())
	}

	m := &Market{
		log:       zap.NewNop(),
		ex:        ex,
		reg:       reg,
		base:      b,
		quote:     q,
		chunkSize: DefaultChunkSize,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.With(zap.String("market", m.String()))
	return m, nil
}

func (m *Market) Base() Asset  { return m.base }
func (m *Market) Quote() Asset { return m.quote }

func (m *Market) String() string { return m.base.Name + "/" + m.quote.Name }

func (m *Market) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Config is the global configuration plus the local configuration of each
// side.
type Config struct {
	Global mangrove.GlobalConfig
	Asks   mangrove.LocalConfig
	Bids   mangrove.LocalConfig
}

// Config reads both sides' configuration; it is never cached.
func (m *Market) Config(ctx context.Context) (Config, error) {
	var cfgs [2]mangrove.Config
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range sides {
		g.Go(func() error {
			out, in := m.tokens(s)
			cfg, err := m.ex.Config(gctx, out, in)
			if err != nil {
				return fmt.Errorf("%s config: %w", s, err)
			}
			cfgs[s] = cfg
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Config{}, err
	}
	return Config{Global: cfgs[Asks].Global, Asks: cfgs[Asks].Local, Bids: cfgs[Bids].Local}, nil
}

// BookOptions bound a read. FromID 0 starts at the best offer; MaxOffers 0
// means DefaultMaxOffers for Book and no limit for Subscribe.
type BookOptions struct {
	FromID    uint64
	MaxOffers int
}

// Book is a point-in-time snapshot, best offer first on each side.
type Book struct {
	Asks []Offer
	Bids []Offer
}

// Book reads both sides concurrently. It does not touch the live replica.
func (m *Market) Book(ctx context.Context, opts BookOptions) (Book, error) {
	if opts.MaxOffers <= 0 {
		opts.MaxOffers = DefaultMaxOffers
	}
	var out [2][]Offer
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range sides {
		g.Go(func() error {
			page, err := m.rawBook(gctx, s, opts.FromID, opts.MaxOffers)
			if err != nil {
				return err
			}
			offers := make([]Offer, 0, len(page.IDs))
			for i, id := range page.IDs {
				o, err := m.toOffer(s, id, page.Offers[i], page.Details[i])
				if err != nil {
					return err
				}
				offers = append(offers, o)
			}
			out[s] = offers
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Book{}, err
	}
	return Book{Asks: out[Asks], Bids: out[Bids]}, nil
}

// rawBook stitches reader pages into one answer of at most maxOffers offers
// (no limit when maxOffers <= 0) and drops everything from the first id 0 on.
func (m *Market) rawBook(ctx context.Context, s Side, fromID uint64, maxOffers int) (mangrove.BookPage, error) {
	out, in := m.tokens(s)
	var (
		acc       mangrove.BookPage
		next      = fromID
		remaining = maxOffers
	)
	for {
		chunk := m.chunkSize
		if maxOffers > 0 && remaining < chunk {
			chunk = remaining
		}
		page, err := m.ex.ReadBook(ctx, out, in, next, chunk)
		if err != nil {
			return mangrove.BookPage{}, fmt.Errorf("%s book from %d: %w", s, next, err)
		}
		if len(page.Offers) != len(page.IDs) || len(page.Details) != len(page.IDs) {
			return mangrove.BookPage{}, fmt.Errorf("%s book from %d: page length mismatch", s, next)
		}
		acc.IDs = append(acc.IDs, page.IDs...)
		acc.Offers = append(acc.Offers, page.Offers...)
		acc.Details = append(acc.Details, page.Details...)

		remaining -= chunk
		next = page.NextID
		if next == 0 || len(page.IDs) == 0 || (maxOffers > 0 && remaining <= 0) {
			break
		}
	}

	n := len(acc.IDs)
	for i, id := range acc.IDs {
		if id == 0 {
			n = i
			break
		}
	}
	if maxOffers > 0 && n > maxOffers {
		n = maxOffers
	}
	acc.IDs, acc.Offers, acc.Details = acc.IDs[:n], acc.Offers[:n], acc.Details[:n]
	acc.NextID = next
	return acc, nil
}

// toOffer converts raw offer fields of side s to an Offer.
func (m *Market) toOffer(s Side, id uint64, data mangrove.OfferData, detail mangrove.OfferDetail) (Offer, error) {
	gives := units.FromUnits(data.Gives, m.gives(s).Decimals)
	wants := units.FromUnits(data.Wants, m.wants(s).Decimals)

	baseVolume, quoteVolume := gives, wants
	if sideRoles[s].gives == quote {
		baseVolume, quoteVolume = wants, gives
	}
	if baseVolume.IsZero() {
		return Offer{}, fmt.Errorf("%s offer %d: %w", s, id, ErrZeroVolumeOffer)
	}

	return Offer{
		ID:              id,
		Prev:            data.Prev,
		Next:            data.Next,
		Gasprice:        data.Gasprice,
		Gasreq:          detail.Gasreq,
		OverheadGasbase: detail.OverheadGasbase,
		OfferGasbase:    detail.OfferGasbase,
		Maker:           detail.Maker,
		Wants:           wants,
		Gives:           gives,
		Volume:          baseVolume,
		Price:           units.Div(quoteVolume, baseVolume),
	}, nil
}

// loadSemibook reads side s from the best offer and links it.
func (m *Market) loadSemibook(ctx context.Context, s Side, maxOffers int, local mangrove.LocalConfig) (*Semibook, error) {
	page, err := m.rawBook(ctx, s, 0, maxOffers)
	if err != nil {
		return nil, err
	}
	book := newSemibook(local.OverheadGasbase, local.OfferGasbase)
	for i, id := range page.IDs {
		o, err := m.toOffer(s, id, page.Offers[i], page.Details[i])
		if err != nil {
			return nil, err
		}
		if i == 0 {
			o.Prev = 0
		}
		book.insert(&o)
	}
	return book, nil
}

// Asks returns the live asks, best first. Nil unless subscribed.
func (m *Market) Asks() []Offer { return m.offers(Asks) }

// Bids returns the live bids, best first. Nil unless subscribed.
func (m *Market) Bids() []Offer { return m.offers(Bids) }

func (m *Market) offers(s Side) []Offer {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.books[s] == nil {
		return nil
	}
	return m.books[s].Offers()
}

// Semibook returns a copy of the live side s, or nil unless subscribed.
func (m *Market) Semibook(s Side) *Semibook {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !s.valid() || m.books[s] == nil {
		return nil
	}
	return m.books[s].clone()
}

// HumanAmount converts v units of asset a to a decimal.
func (a Asset) HumanAmount(v *big.Int) decimal.Decimal { return units.FromUnits(v, a.Decimals) }

// Units converts a human amount of asset a to on-chain units.
func (a Asset) Units(v decimal.Decimal) *big.Int { return units.ToUnits(v, a.Decimals) }
