package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/mangrovedao/mangrove-archive-sub000/internal/jsonl"
	"github.com/mangrovedao/mangrove-archive-sub000/internal/market"
	"github.com/mangrovedao/mangrove-archive-sub000/internal/metrics"
)

// sniper is the part of *market.Market the cleaner drives.
type sniper interface {
	String() string
	Asks() []market.Offer
	Bids() []market.Offer
	SnipeStatic(ctx context.Context, s market.Side, offerID uint64, p market.SnipeParams) (market.SnipeResult, error)
	Snipe(ctx context.Context, s market.Side, offerID uint64, p market.SnipeParams) (*types.Transaction, error)
}

// outcome of one cleaning attempt, also the metrics label.
type outcome string

const (
	outcomeLive    outcome = "live"    // dry-run delivered; nothing to clean
	outcomeSkipped outcome = "skipped" // maker on the skip list
	outcomeDryRun  outcome = "dryrun"  // would have sniped
	outcomeSniped  outcome = "sniped"
	outcomeError   outcome = "error"
)

type candidate struct {
	side  market.Side
	offer market.Offer
}

type offerKey struct {
	side market.Side
	id   uint64
}

type cleaner struct {
	mkt     sniper
	log     *zap.Logger
	metrics *metrics.Metrics
	out     *jsonl.Writer

	skip   map[common.Address]struct{}
	dryRun bool

	queue chan candidate

	mu      sync.Mutex
	pending map[offerKey]struct{}
}

func newCleaner(mkt sniper, log *zap.Logger, m *metrics.Metrics, out *jsonl.Writer, skip map[common.Address]struct{}, dryRun bool) *cleaner {
	return &cleaner{
		mkt:     mkt,
		log:     log,
		metrics: m,
		out:     out,
		skip:    skip,
		dryRun:  dryRun,
		queue:   make(chan candidate, 1024),
		pending: make(map[offerKey]struct{}),
	}
}

// enqueue schedules o for a check. It never blocks: an offer already queued
// is not queued twice and a full queue drops the offer until the next sweep.
func (c *cleaner) enqueue(s market.Side, o market.Offer) bool {
	key := offerKey{s, o.ID}
	c.mu.Lock()
	if _, ok := c.pending[key]; ok {
		c.mu.Unlock()
		return false
	}
	c.pending[key] = struct{}{}
	c.mu.Unlock()

	select {
	case c.queue <- candidate{side: s, offer: o}:
		return true
	default:
		c.done(key)
		c.log.Debug("cleaner queue full", zap.Stringer("side", s), zap.Uint64("offer", o.ID))
		return false
	}
}

func (c *cleaner) done(key offerKey) {
	c.mu.Lock()
	delete(c.pending, key)
	c.mu.Unlock()
}

// onEvent feeds written offers to the queue.
func (c *cleaner) onEvent(ev market.BookEvent) {
	c.metrics.ObserveBook(c.mkt, ev)
	if ev.Type == market.OfferWrite {
		c.enqueue(ev.Side, ev.Offer)
	}
}

// sweep queues every offer in the replica.
func (c *cleaner) sweep() int {
	n := 0
	for _, o := range c.mkt.Asks() {
		if c.enqueue(market.Asks, o) {
			n++
		}
	}
	for _, o := range c.mkt.Bids() {
		if c.enqueue(market.Bids, o) {
			n++
		}
	}
	return n
}

// work drains the queue until ctx is done.
func (c *cleaner) work(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cand := <-c.queue:
			c.clean(ctx, cand)
			c.done(offerKey{cand.side, cand.offer.ID})
		}
	}
}

// clean dry-runs a full take of the offer and snipes it when the dry run
// reports a failure, collecting the maker's bounty.
func (c *cleaner) clean(ctx context.Context, cand candidate) outcome {
	o := cand.offer
	log := c.log.With(zap.Stringer("side", cand.side), zap.Uint64("offer", o.ID))

	var (
		res    outcome
		txHash string
		err    error
	)
	switch {
	case c.skipped(o.Maker):
		res = outcomeSkipped
	default:
		res, txHash, err = c.try(ctx, cand.side, o)
	}

	if err != nil {
		log.Warn("clean failed", zap.Error(err))
		c.metrics.Error("cleaner")
	} else if res != outcomeLive && res != outcomeSkipped {
		log.Info("failing offer", zap.String("result", string(res)), zap.String("tx", txHash))
	}
	if c.metrics != nil {
		c.metrics.Snipes.WithLabelValues(c.mkt.String(), cand.side.String(), string(res)).Inc()
	}
	if res != outcomeLive && res != outcomeSkipped {
		rec := cleanRecord{
			TsMs:   time.Now().UnixMilli(),
			Market: c.mkt.String(),
			Side:   cand.side.String(),
			Offer:  o.ID,
			Maker:  o.Maker.Hex(),
			Result: string(res),
			TxHash: txHash,
		}
		if err != nil {
			rec.Error = err.Error()
		}
		if werr := c.out.Write(rec); werr != nil {
			log.Warn("write record", zap.Error(werr))
		}
	}
	return res
}

func (c *cleaner) skipped(maker common.Address) bool {
	_, ok := c.skip[maker]
	return ok
}

func (c *cleaner) try(ctx context.Context, s market.Side, o market.Offer) (outcome, string, error) {
	params := market.TakeAll(o)
	sim, err := c.mkt.SnipeStatic(ctx, s, o.ID, params)
	if err != nil {
		return outcomeError, "", fmt.Errorf("dry run: %w", err)
	}
	if sim.Success {
		return outcomeLive, "", nil
	}
	if c.dryRun {
		return outcomeDryRun, "", nil
	}
	tx, err := c.mkt.Snipe(ctx, s, o.ID, params)
	if err != nil {
		return outcomeError, "", fmt.Errorf("snipe: %w", err)
	}
	return outcomeSniped, tx.Hash().Hex(), nil
}
