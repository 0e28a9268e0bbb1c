package market

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mangrovedao/mangrove-archive-sub000/internal/ethutil"
	"github.com/mangrovedao/mangrove-archive-sub000/internal/mangrove"
	"github.com/mangrovedao/mangrove-archive-sub000/internal/mgvwatch"
)

// EventType names the book notifications a subscriber receives.
type EventType string

const (
	OfferWrite   EventType = "OfferWrite"
	OfferFail    EventType = "OfferFail"
	OfferSuccess EventType = "OfferSuccess"
	OfferRetract EventType = "OfferRetract"
)

// BookEvent is delivered to the subscription callback after the replica has
// been updated. Offer is the written offer for OfferWrite and the removed
// offer otherwise (only ID is set when the offer was not held locally).
// TakerWants is in units of the side's outbound asset, TakerGives of its
// inbound asset.
type BookEvent struct {
	Type  EventType
	Side  Side
	Offer Offer

	Taker      common.Address
	TakerWants decimal.Decimal
	TakerGives decimal.Decimal
	StatusCode string
	MakerData  [32]byte

	Log mgvwatch.Meta
}

type Callback func(BookEvent)

type SubscribeOptions struct {
	BookOptions
	// OnError receives errors met after Subscribe returned: undecodable logs
	// and subscription failures. After a subscription failure the market is
	// Unsubscribed and may be subscribed again.
	OnError func(error)
}

// session is one Subscribed period. Events carrying a stale gen are dropped.
type session struct {
	gen     uint64
	ctx     context.Context
	cancel  context.CancelFunc
	cb      Callback
	onError func(error)
	max     int

	logs [2]chan types.Log
	subs [2]ethereum.Subscription

	lastReorg common.Hash
}

// FilterQuery matches the offer-list events of side s.
func (m *Market) FilterQuery(s Side) ethereum.FilterQuery {
	out, in := m.tokens(s)
	return ethereum.FilterQuery{
		Addresses: []common.Address{m.ex.Address()},
		Topics: [][]common.Hash{
			mgvwatch.Topics(),
			{ethutil.AddressTopic(out)},
			{ethutil.AddressTopic(in)},
		},
	}
}

// Subscribe mirrors both sides locally and keeps them in sync until
// Unsubscribe. cb is called from a single goroutine, in delivery order.
func (m *Market) Subscribe(ctx context.Context, cb Callback, opts SubscribeOptions) error {
	m.mu.Lock()
	if m.state != Unsubscribed {
		m.mu.Unlock()
		return ErrAlreadySubscribed
	}
	if opts.FromID != 0 {
		m.mu.Unlock()
		return ErrPartialSubscriptionUnsupported
	}
	m.state = Subscribing
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	s, books, err := m.open(ctx, gen, cb, opts)
	if err != nil {
		m.mu.Lock()
		m.state = Unsubscribed
		m.mu.Unlock()
		return err
	}

	m.mu.Lock()
	m.books = books
	m.session = s
	m.state = Subscribed
	m.mu.Unlock()

	m.log.Info("subscribed",
		zap.Int("asks", books[Asks].Len()),
		zap.Int("bids", books[Bids].Len()),
	)
	go m.run(s)
	return nil
}

func (m *Market) open(ctx context.Context, gen uint64, cb Callback, opts SubscribeOptions) (*session, [2]*Semibook, error) {
	cfg, err := m.Config(ctx)
	if err != nil {
		return nil, [2]*Semibook{}, err
	}
	books, err := m.loadBooks(ctx, opts.MaxOffers, cfg)
	if err != nil {
		return nil, [2]*Semibook{}, err
	}

	sctx, cancel := context.WithCancel(context.Background())
	s := &session{
		gen:     gen,
		ctx:     sctx,
		cancel:  cancel,
		cb:      cb,
		onError: opts.OnError,
		max:     opts.MaxOffers,
	}
	for _, side := range sides {
		s.logs[side] = make(chan types.Log, 256)
		sub, err := m.ex.SubscribeFilterLogs(ctx, m.FilterQuery(side), s.logs[side])
		if err != nil {
			s.close()
			return nil, [2]*Semibook{}, fmt.Errorf("subscribe %s logs: %w", side, err)
		}
		s.subs[side] = sub
	}
	return s, books, nil
}

func (m *Market) loadBooks(ctx context.Context, maxOffers int, cfg Config) ([2]*Semibook, error) {
	var books [2]*Semibook
	locals := [2]mangrove.LocalConfig{Asks: cfg.Asks, Bids: cfg.Bids}
	g, gctx := errgroup.WithContext(ctx)
	for _, side := range sides {
		g.Go(func() error {
			b, err := m.loadSemibook(gctx, side, maxOffers, locals[side])
			if err != nil {
				return err
			}
			books[side] = b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return [2]*Semibook{}, err
	}
	return books, nil
}

func (s *session) close() {
	for _, sub := range s.subs {
		if sub != nil {
			sub.Unsubscribe()
		}
	}
	s.cancel()
}

// Unsubscribe stops both log subscriptions and drops the replica. Events
// already in flight are discarded.
func (m *Market) Unsubscribe() error {
	m.mu.Lock()
	if m.state != Subscribed {
		m.mu.Unlock()
		return ErrNotSubscribed
	}
	s := m.session
	m.drop()
	m.mu.Unlock()

	s.close()
	m.log.Info("unsubscribed")
	return nil
}

// drop clears the subscription state. m.mu must be held.
func (m *Market) drop() {
	m.gen++
	m.session = nil
	m.books = [2]*Semibook{}
	m.state = Unsubscribed
}

func (m *Market) run(s *session) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case err := <-s.subs[Asks].Err():
			m.fail(s, Asks, err)
			return
		case err := <-s.subs[Bids].Err():
			m.fail(s, Bids, err)
			return
		case vLog := <-s.logs[Asks]:
			m.handle(s, Asks, vLog)
		case vLog := <-s.logs[Bids]:
			m.handle(s, Bids, vLog)
		}
	}
}

// fail ends a session whose transport gave up.
func (m *Market) fail(s *session, side Side, err error) {
	m.mu.Lock()
	if m.gen != s.gen {
		m.mu.Unlock()
		return
	}
	m.drop()
	m.mu.Unlock()
	s.close()

	if err == nil {
		err = errors.New("subscription closed")
	}
	err = fmt.Errorf("%s log subscription: %w", side, err)
	m.log.Warn("subscription lost", zap.Error(err))
	m.report(s, err)
}

func (m *Market) report(s *session, err error) {
	if s.onError != nil {
		s.onError(err)
	}
}

func (m *Market) handle(s *session, side Side, vLog types.Log) {
	ev, err := mgvwatch.DecodeLog(vLog)
	if err != nil {
		m.log.Warn("undecodable log", zap.Stringer("side", side), zap.String("tx", vLog.TxHash.Hex()), zap.Error(err))
		m.report(s, fmt.Errorf("%s log %s/%d: %w", side, vLog.TxHash.Hex(), vLog.Index, err))
		return
	}
	meta := mgvwatch.MetaOf(ev)
	if got, ok := m.sideOf(meta.Outbound, meta.Inbound); !ok || got != side {
		return
	}
	if meta.Removed {
		if meta.BlockHash != s.lastReorg {
			s.lastReorg = meta.BlockHash
			m.resync(s)
		}
		return
	}

	out, err := m.apply(s, side, ev)
	if err != nil {
		m.report(s, err)
		return
	}
	if out != nil {
		m.deliver(s, *out)
	}
}

// deliver calls the session callback unless Unsubscribe ran since the event
// was applied.
func (m *Market) deliver(s *session, ev BookEvent) {
	if s.cb == nil {
		return
	}
	m.mu.Lock()
	current := m.gen == s.gen
	m.mu.Unlock()
	if current {
		s.cb(ev)
	}
}

// apply updates the replica for one event and returns the notification to
// deliver, if any.
func (m *Market) apply(s *session, side Side, ev mgvwatch.Event) (*BookEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != s.gen {
		return nil, nil
	}
	book := m.books[side]

	switch e := ev.(type) {
	case mgvwatch.OfferWrite:
		book.remove(e.ID)
		next, ok := book.nextAfter(e.Prev)
		if !ok {
			m.log.Warn("offer written after unknown offer",
				zap.Stringer("side", side),
				zap.Uint64("id", e.ID),
				zap.Uint64("prev", e.Prev),
			)
		}
		o, err := m.toOffer(side, e.ID,
			mangrove.OfferData{Prev: e.Prev, Next: next, Wants: e.Wants, Gives: e.Gives, Gasprice: e.Gasprice},
			mangrove.OfferDetail{Maker: e.Maker, Gasreq: e.Gasreq, OverheadGasbase: book.OverheadGasbase, OfferGasbase: book.OfferGasbase},
		)
		if err != nil {
			return nil, err
		}
		book.insert(&o)
		return &BookEvent{Type: OfferWrite, Side: side, Offer: o, Log: e.Meta}, nil

	case mgvwatch.OfferFail:
		return &BookEvent{
			Type:       OfferFail,
			Side:       side,
			Offer:      removed(book, e.ID),
			Taker:      e.Taker,
			TakerWants: m.gives(side).HumanAmount(e.TakerWants),
			TakerGives: m.wants(side).HumanAmount(e.TakerGives),
			StatusCode: mgvwatch.Status(e.StatusCode),
			MakerData:  e.MakerData,
			Log:        e.Meta,
		}, nil

	case mgvwatch.OfferSuccess:
		return &BookEvent{
			Type:       OfferSuccess,
			Side:       side,
			Offer:      removed(book, e.ID),
			Taker:      e.Taker,
			TakerWants: m.gives(side).HumanAmount(e.TakerWants),
			TakerGives: m.wants(side).HumanAmount(e.TakerGives),
			Log:        e.Meta,
		}, nil

	case mgvwatch.OfferRetract:
		return &BookEvent{Type: OfferRetract, Side: side, Offer: removed(book, e.ID), Log: e.Meta}, nil

	case mgvwatch.SetGasbase:
		book.OverheadGasbase = e.OverheadGasbase
		book.OfferGasbase = e.OfferGasbase
		return nil, nil
	}
	return nil, fmt.Errorf("%w: %T", mgvwatch.ErrUnknownEvent, ev)
}

func removed(book *Semibook, id uint64) Offer {
	if o := book.remove(id); o != nil {
		return *o
	}
	return Offer{ID: id}
}

// resync rebuilds both sides from chain after a reorg removed logs the
// replica had already applied.
func (m *Market) resync(s *session) {
	m.log.Info("reorg detected, resynchronizing")
	cfg, err := m.Config(s.ctx)
	if err == nil {
		var books [2]*Semibook
		books, err = m.loadBooks(s.ctx, s.max, cfg)
		if err == nil {
			m.mu.Lock()
			if m.gen == s.gen {
				m.books = books
			}
			m.mu.Unlock()
			return
		}
	}
	if s.ctx.Err() != nil {
		return
	}
	m.log.Warn("resync failed", zap.Error(err))
	m.report(s, fmt.Errorf("resync: %w", err))
}
