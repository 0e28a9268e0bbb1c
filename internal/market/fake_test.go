package market

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/mangrovedao/mangrove-archive-sub000/internal/ethutil"
	"github.com/mangrovedao/mangrove-archive-sub000/internal/mangrove"
	"github.com/mangrovedao/mangrove-archive-sub000/internal/mgvwatch"
	"github.com/mangrovedao/mangrove-archive-sub000/internal/registry"
	"github.com/mangrovedao/mangrove-archive-sub000/internal/units"
)

var (
	exchangeAddr = common.HexToAddress("0x00000000000000000000000000000000000000ee")
	wethAddr     = common.HexToAddress("0x0000000000000000000000000000000000000001")
	usdcAddr     = common.HexToAddress("0x0000000000000000000000000000000000000002")
	daiAddr      = common.HexToAddress("0x0000000000000000000000000000000000000003")
	makerAddr    = common.HexToAddress("0x000000000000000000000000000000000000beef")
)

func testRegistry() *registry.Registry {
	reg := registry.NewEmpty()
	reg.SetAddress("WETH", "local", wethAddr)
	reg.SetAddress("USDC", "local", usdcAddr)
	reg.SetAddress("DAI", "local", daiAddr)
	reg.SetDecimals("WETH", 18)
	reg.SetDecimals("USDC", 6)
	reg.SetDecimals("DAI", 18)
	return reg
}

type pair struct{ out, in common.Address }

type fakeOffer struct {
	id     uint64
	wants  *big.Int
	gives  *big.Int
	gasreq uint64
}

type fakeList struct {
	order   []*fakeOffer
	lastID  uint64
	failing map[uint64]bool
}

type fakeSub struct {
	q    ethereum.FilterQuery
	ch   chan<- types.Log
	errc chan error
	once sync.Once
	f    *fakeExchange
}

func (s *fakeSub) Err() <-chan error { return s.errc }

func (s *fakeSub) Unsubscribe() {
	s.once.Do(func() {
		s.f.mu.Lock()
		delete(s.f.subs, s)
		s.f.mu.Unlock()
		close(s.errc)
	})
}

type marketOrder struct {
	out, in      common.Address
	wants, gives *big.Int
	fillWants    bool
}

// fakeExchange keeps price-sorted offer lists and emits the logs the real
// exchange would for every change.
type fakeExchange struct {
	mu        sync.Mutex
	lists     map[pair]*fakeList
	subs      map[*fakeSub]struct{}
	gasbase   [2]uint64
	readSizes []int
	orders    []marketOrder
	snipes    []mangrove.SnipeRequest
	nonce     uint64
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		lists:   make(map[pair]*fakeList),
		subs:    make(map[*fakeSub]struct{}),
		gasbase: [2]uint64{20_000, 10_000},
	}
}

func (f *fakeExchange) Network() mangrove.Network {
	return mangrove.Network{ChainID: 31337, Name: "local"}
}

func (f *fakeExchange) Address() common.Address { return exchangeAddr }

func (f *fakeExchange) list(out, in common.Address) *fakeList {
	p := pair{out, in}
	l, ok := f.lists[p]
	if !ok {
		l = &fakeList{failing: make(map[uint64]bool)}
		f.lists[p] = l
	}
	return l
}

func (f *fakeExchange) Config(_ context.Context, out, in common.Address) (mangrove.Config, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l := f.list(out, in)
	local := mangrove.LocalConfig{
		Active:          true,
		Fee:             15,
		Density:         big.NewInt(10),
		OverheadGasbase: f.gasbase[0],
		OfferGasbase:    f.gasbase[1],
		Last:            l.lastID,
	}
	if len(l.order) > 0 {
		local.Best = l.order[0].id
	}
	return mangrove.Config{
		Global: mangrove.GlobalConfig{Gasprice: 30, Gasmax: 2_000_000},
		Local:  local,
	}, nil
}

// ReadBook pads the page to maxOffers with zero entries like the reader.
func (f *fakeExchange) ReadBook(_ context.Context, out, in common.Address, fromID uint64, maxOffers int) (mangrove.BookPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readSizes = append(f.readSizes, maxOffers)
	l := f.list(out, in)

	page := mangrove.BookPage{
		IDs:     make([]uint64, maxOffers),
		Offers:  make([]mangrove.OfferData, maxOffers),
		Details: make([]mangrove.OfferDetail, maxOffers),
	}
	start := 0
	if fromID != 0 {
		start = len(l.order)
		for i, o := range l.order {
			if o.id == fromID {
				start = i
				break
			}
		}
	}
	i := 0
	for ; i < maxOffers && start+i < len(l.order); i++ {
		pos := start + i
		o := l.order[pos]
		page.IDs[i] = o.id
		page.Offers[i] = mangrove.OfferData{
			Prev:     l.idAt(pos - 1),
			Next:     l.idAt(pos + 1),
			Wants:    new(big.Int).Set(o.wants),
			Gives:    new(big.Int).Set(o.gives),
			Gasprice: 30,
		}
		page.Details[i] = mangrove.OfferDetail{
			Maker:           makerAddr,
			Gasreq:          o.gasreq,
			OverheadGasbase: f.gasbase[0],
			OfferGasbase:    f.gasbase[1],
		}
	}
	page.NextID = l.idAt(start + i)
	return page, nil
}

func (l *fakeList) idAt(pos int) uint64 {
	if pos < 0 || pos >= len(l.order) {
		return 0
	}
	return l.order[pos].id
}

func (l *fakeList) indexOf(id uint64) int {
	for i, o := range l.order {
		if o.id == id {
			return i
		}
	}
	return -1
}

func (l *fakeList) remove(id uint64) *fakeOffer {
	i := l.indexOf(id)
	if i < 0 {
		return nil
	}
	o := l.order[i]
	l.order = append(l.order[:i], l.order[i+1:]...)
	return o
}

func (f *fakeExchange) nextTx() *types.Transaction {
	f.nonce++
	return types.NewTx(&types.LegacyTx{Nonce: f.nonce, Gas: 21_000, GasPrice: big.NewInt(1)})
}

func (f *fakeExchange) MarketOrder(_ context.Context, out, in common.Address, wants, gives *big.Int, fillWants bool) (*types.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = append(f.orders, marketOrder{out: out, in: in, wants: wants, gives: gives, fillWants: fillWants})
	return f.nextTx(), nil
}

func (f *fakeExchange) SnipeStatic(_ context.Context, out, in common.Address, req mangrove.SnipeRequest) (mangrove.SnipeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l := f.list(out, in)
	if l.indexOf(req.OfferID) < 0 || l.failing[req.OfferID] {
		return mangrove.SnipeResult{TakerGot: new(big.Int), TakerGave: new(big.Int)}, nil
	}
	return mangrove.SnipeResult{Success: true, TakerGot: req.Wants, TakerGave: req.Gives}, nil
}

// Snipe consumes the offer entirely; failing offers are removed with an
// OfferFail log.
func (f *fakeExchange) Snipe(_ context.Context, out, in common.Address, req mangrove.SnipeRequest) (*types.Transaction, error) {
	f.mu.Lock()
	f.snipes = append(f.snipes, req)
	l := f.list(out, in)
	o := l.remove(req.OfferID)
	failing := l.failing[req.OfferID]
	tx := f.nextTx()
	f.mu.Unlock()

	if o == nil {
		return nil, errors.New("offer not live")
	}
	meta := mgvwatch.Meta{Outbound: out, Inbound: in, TxHash: tx.Hash()}
	taker := common.HexToAddress("0x7a7e")
	if failing {
		f.emit(mgvwatch.OfferFail{
			Meta: meta, ID: o.id, Taker: taker,
			TakerWants: req.Wants, TakerGives: req.Gives,
			StatusCode: mgvwatch.StatusCode("mgv/makerRevert"),
			MakerData:  mgvwatch.StatusCode("nope"),
		})
	} else {
		f.emit(mgvwatch.OfferSuccess{Meta: meta, ID: o.id, Taker: taker, TakerWants: req.Wants, TakerGives: req.Gives})
	}
	return tx, nil
}

func (f *fakeExchange) SubscribeFilterLogs(_ context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &fakeSub{q: q, ch: ch, errc: make(chan error, 1), f: f}
	f.subs[s] = struct{}{}
	return s, nil
}

func matches(q ethereum.FilterQuery, vLog types.Log) bool {
	if len(q.Addresses) > 0 && q.Addresses[0] != vLog.Address {
		return false
	}
	for i, want := range q.Topics {
		if len(want) == 0 {
			continue
		}
		if i >= len(vLog.Topics) {
			return false
		}
		ok := false
		for _, h := range want {
			if h == vLog.Topics[i] {
				ok = true
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

func (f *fakeExchange) emit(ev mgvwatch.Event) {
	vLog, err := mgvwatch.EncodeLog(exchangeAddr, ev)
	if err != nil {
		panic(err)
	}
	f.mu.Lock()
	var targets []chan<- types.Log
	for s := range f.subs {
		if matches(s.q, vLog) {
			targets = append(targets, s.ch)
		}
	}
	f.mu.Unlock()
	for _, ch := range targets {
		ch <- vLog
	}
}

// post inserts an offer after every offer with a better or equal price and
// emits its OfferWrite.
func (f *fakeExchange) post(out, in common.Address, wants, gives *big.Int, gasreq uint64) uint64 {
	f.mu.Lock()
	l := f.list(out, in)
	l.lastID++
	o := &fakeOffer{id: l.lastID, wants: wants, gives: gives, gasreq: gasreq}
	pos := len(l.order)
	for i, cur := range l.order {
		// better price for the taker: lower wants per gives
		a := new(big.Int).Mul(o.wants, cur.gives)
		b := new(big.Int).Mul(cur.wants, o.gives)
		if a.Cmp(b) < 0 {
			pos = i
			break
		}
	}
	l.order = append(l.order, nil)
	copy(l.order[pos+1:], l.order[pos:])
	l.order[pos] = o
	prev := l.idAt(pos - 1)
	f.mu.Unlock()

	f.emit(mgvwatch.OfferWrite{
		Meta:     mgvwatch.Meta{Outbound: out, Inbound: in},
		Maker:    makerAddr,
		Wants:    wants,
		Gives:    gives,
		Gasprice: 30,
		Gasreq:   gasreq,
		ID:       o.id,
		Prev:     prev,
	})
	return o.id
}

func (f *fakeExchange) retract(out, in common.Address, id uint64, silent bool) {
	f.mu.Lock()
	f.list(out, in).remove(id)
	f.mu.Unlock()
	if !silent {
		f.emit(mgvwatch.OfferRetract{Meta: mgvwatch.Meta{Outbound: out, Inbound: in}, ID: id})
	}
}

func (f *fakeExchange) setFailing(out, in common.Address, id uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.list(out, in).failing[id] = true
}

func (f *fakeExchange) setGasbase(out, in common.Address, overhead, offer uint64) {
	f.mu.Lock()
	f.gasbase = [2]uint64{overhead, offer}
	f.mu.Unlock()
	f.emit(mgvwatch.SetGasbase{Meta: mgvwatch.Meta{Outbound: out, Inbound: in}, OverheadGasbase: overhead, OfferGasbase: offer})
}

func (f *fakeExchange) breakSubs(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for s := range f.subs {
		select {
		case s.errc <- err:
		default:
		}
	}
}

func (f *fakeExchange) subCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func subscribedTopics(q ethereum.FilterQuery) (common.Address, common.Address) {
	return ethutil.TopicAddress(q.Topics[1][0]), ethutil.TopicAddress(q.Topics[2][0])
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func toUnits(s string, d int32) *big.Int { return units.ToUnits(dec(s), d) }

func ids(offers []Offer) []uint64 {
	out := make([]uint64, len(offers))
	for i, o := range offers {
		out[i] = o.ID
	}
	return out
}

func newTestMarket(t *testing.T, f *fakeExchange, base, quote string, opts ...Option) *Market {
	t.Helper()
	m, err := New(f, testRegistry(), base, quote, opts...)
	require.NoError(t, err)
	return m
}

func collect() (Callback, <-chan BookEvent) {
	ch := make(chan BookEvent, 64)
	return func(ev BookEvent) { ch <- ev }, ch
}

func waitEvent(t *testing.T, ch <-chan BookEvent) BookEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for book event")
	}
	return BookEvent{}
}

func noEvent(t *testing.T, ch <-chan BookEvent) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected book event %s for offer %d", ev.Type, ev.Offer.ID)
	case <-time.After(50 * time.Millisecond):
	}
}
