package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mangrovedao/mangrove-archive-sub000/internal/jsonl"
	"github.com/mangrovedao/mangrove-archive-sub000/internal/market"
	"github.com/mangrovedao/mangrove-archive-sub000/internal/metrics"
)

type snipeCall struct {
	side market.Side
	id   uint64
	p    market.SnipeParams
}

type fakeSniper struct {
	mu      sync.Mutex
	asks    []market.Offer
	bids    []market.Offer
	failing map[uint64]bool
	simErr  error
	statics []snipeCall
	snipes  []snipeCall
}

func (f *fakeSniper) String() string { return "WETH/USDC" }

func (f *fakeSniper) Asks() []market.Offer { return f.asks }

func (f *fakeSniper) Bids() []market.Offer { return f.bids }

func (f *fakeSniper) SnipeStatic(_ context.Context, s market.Side, id uint64, p market.SnipeParams) (market.SnipeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statics = append(f.statics, snipeCall{s, id, p})
	if f.simErr != nil {
		return market.SnipeResult{}, f.simErr
	}
	if f.failing[id] {
		return market.SnipeResult{}, nil
	}
	return market.SnipeResult{Success: true, TakerGot: p.Wants, TakerGave: p.Gives}, nil
}

func (f *fakeSniper) Snipe(_ context.Context, s market.Side, id uint64, p market.SnipeParams) (*types.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snipes = append(f.snipes, snipeCall{s, id, p})
	return types.NewTx(&types.LegacyTx{Nonce: uint64(len(f.snipes))}), nil
}

var (
	goodMaker = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	ownMaker  = common.HexToAddress("0x00000000000000000000000000000000000000bb")
)

func offer(id uint64, maker common.Address) market.Offer {
	return market.Offer{
		ID:     id,
		Maker:  maker,
		Wants:  decimal.NewFromInt(100),
		Gives:  decimal.NewFromInt(1),
		Gasreq: 80_000,
	}
}

func records(t *testing.T, buf *bytes.Buffer) []cleanRecord {
	t.Helper()
	var out []cleanRecord
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var rec cleanRecord
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		out = append(out, rec)
	}
	return out
}

func TestCleanSnipesFailingOffers(t *testing.T) {
	f := &fakeSniper{failing: map[uint64]bool{2: true}}
	var buf bytes.Buffer
	m := metrics.New()
	c := newCleaner(f, zap.NewNop(), m, jsonl.NewWriter(&buf), nil, false)

	ctx := context.Background()
	require.Equal(t, outcomeLive, c.clean(ctx, candidate{market.Asks, offer(1, goodMaker)}))
	require.Equal(t, outcomeSniped, c.clean(ctx, candidate{market.Asks, offer(2, goodMaker)}))

	require.Len(t, f.statics, 2)
	require.Len(t, f.snipes, 1)
	sn := f.snipes[0]
	require.Equal(t, market.Asks, sn.side)
	require.EqualValues(t, 2, sn.id)
	// a full take: receive what the offer gives, pay what it wants
	require.True(t, sn.p.Wants.Equal(decimal.NewFromInt(1)))
	require.True(t, sn.p.Gives.Equal(decimal.NewFromInt(100)))
	require.EqualValues(t, 80_000, sn.p.Gasreq)
	require.True(t, sn.p.FillWants)

	recs := records(t, &buf)
	require.Len(t, recs, 1)
	require.EqualValues(t, 2, recs[0].Offer)
	require.Equal(t, "sniped", recs[0].Result)
	require.NotEmpty(t, recs[0].TxHash)

	require.InDelta(t, 1, testutil.ToFloat64(m.Snipes.WithLabelValues("WETH/USDC", "asks", "sniped")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(m.Snipes.WithLabelValues("WETH/USDC", "asks", "live")), 0)
}

func TestCleanDryRunAndSkipList(t *testing.T) {
	f := &fakeSniper{failing: map[uint64]bool{1: true, 2: true}}
	var buf bytes.Buffer
	skip := map[common.Address]struct{}{ownMaker: {}}
	c := newCleaner(f, zap.NewNop(), nil, jsonl.NewWriter(&buf), skip, true)

	ctx := context.Background()
	require.Equal(t, outcomeDryRun, c.clean(ctx, candidate{market.Bids, offer(1, goodMaker)}))
	require.Equal(t, outcomeSkipped, c.clean(ctx, candidate{market.Bids, offer(2, ownMaker)}))

	require.Len(t, f.statics, 1, "skipped makers are never simulated")
	require.Empty(t, f.snipes)

	recs := records(t, &buf)
	require.Len(t, recs, 1)
	require.Equal(t, "dryrun", recs[0].Result)
	require.Equal(t, "bids", recs[0].Side)
}

func TestCleanDryRunError(t *testing.T) {
	f := &fakeSniper{simErr: errors.New("execution reverted")}
	var buf bytes.Buffer
	c := newCleaner(f, zap.NewNop(), nil, jsonl.NewWriter(&buf), nil, false)

	require.Equal(t, outcomeError, c.clean(context.Background(), candidate{market.Asks, offer(7, goodMaker)}))
	require.Empty(t, f.snipes)
	recs := records(t, &buf)
	require.Len(t, recs, 1)
	require.Contains(t, recs[0].Error, "execution reverted")
}

func TestEnqueueDeduplicates(t *testing.T) {
	f := &fakeSniper{
		asks: []market.Offer{offer(1, goodMaker), offer(2, goodMaker)},
		bids: []market.Offer{offer(1, goodMaker)},
	}
	c := newCleaner(f, zap.NewNop(), nil, nil, nil, false)

	require.Equal(t, 3, c.sweep(), "same id on both sides is two offers")
	require.Zero(t, c.sweep())

	c.onEvent(market.BookEvent{Type: market.OfferWrite, Side: market.Asks, Offer: offer(3, goodMaker)})
	c.onEvent(market.BookEvent{Type: market.OfferRetract, Side: market.Asks, Offer: offer(4, goodMaker)})
	require.Len(t, c.queue, 4)

	cand := <-c.queue
	c.done(offerKey{cand.side, cand.offer.ID})
	require.True(t, c.enqueue(cand.side, cand.offer))
}

func TestWorkDrainsQueue(t *testing.T) {
	f := &fakeSniper{failing: map[uint64]bool{2: true}}
	c := newCleaner(f, zap.NewNop(), nil, nil, nil, false)
	c.enqueue(market.Asks, offer(1, goodMaker))
	c.enqueue(market.Asks, offer(2, goodMaker))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.work(ctx) }()

	require.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return len(f.snipes) == 1
	}, time.Second, 5*time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}
