// Command book prints a market's order book and can follow it live, writing
// JSONL records and serving them to websocket clients.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mangrovedao/mangrove-archive-sub000/internal/botconfig"
	"github.com/mangrovedao/mangrove-archive-sub000/internal/feed"
	"github.com/mangrovedao/mangrove-archive-sub000/internal/jsonl"
	"github.com/mangrovedao/mangrove-archive-sub000/internal/market"
	"github.com/mangrovedao/mangrove-archive-sub000/internal/metrics"
	"github.com/mangrovedao/mangrove-archive-sub000/internal/retry"
)

type options struct {
	botconfig.Common
	Pair botconfig.Pair `group:"Market"`

	MaxOffers int    `long:"max-offers" env:"BOOK_MAX_OFFERS" default:"50" description:"Offers per side in the snapshot"`
	Follow    bool   `long:"follow" env:"BOOK_FOLLOW" description:"Keep a live replica and print every change"`
	Out       string `long:"out" env:"BOOK_OUT" default:"-" description:"JSONL output file, - for stdout"`
	Listen    string `long:"listen" env:"BOOK_LISTEN" description:"Serve /metrics and the /ws feed on this address"`
	Remote    string `long:"remote" env:"BOOK_REMOTE" description:"Print the feed of another book follower (ws://host/ws) instead of reading chain"`
}

func main() {
	var opts options
	_, stop, err := botconfig.Parse(&opts, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "book: %v\n", err)
		os.Exit(2)
	}
	if stop {
		return
	}

	log, err := opts.Logging.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "book: %v\n", err)
		os.Exit(2)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	out, err := jsonl.Open(opts.Out)
	if err != nil {
		log.Fatal("open output", zap.Error(err))
	}
	defer out.Close()

	if opts.Remote != "" {
		tail(ctx, opts.Remote, out, log)
		return
	}
	if err := run(ctx, opts, out, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("book stopped", zap.Error(err))
	}
}

func run(ctx context.Context, opts options, out *jsonl.Writer, log *zap.Logger) error {
	if err := opts.Pair.Validate(); err != nil {
		return err
	}
	if opts.Follow {
		if err := opts.Connection.RequireSubscriptions(); err != nil {
			return fmt.Errorf("--follow: %w", err)
		}
	}

	mgv, err := opts.Connection.Connect(ctx, log)
	if err != nil {
		return err
	}
	defer mgv.Close()

	mkt, err := opts.Pair.Market(ctx, mgv, log)
	if err != nil {
		return err
	}

	book, err := mkt.Book(ctx, market.BookOptions{MaxOffers: opts.MaxOffers})
	if err != nil {
		return err
	}
	writeRecord(out, log, snapshotRecord(mkt.String(), book.Asks, book.Bids))
	if !opts.Follow {
		return nil
	}

	m := metrics.New()
	router := m.Router()
	if opts.Listen != "" {
		hub := newHub(mkt, log)
		defer hub.Close()
		out = feedSink(out, hub)
		router.Handle("/ws", hub)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return metrics.ListenAndServe(gctx, opts.Listen, router, log) })
	g.Go(func() error {
		return follow(gctx, mkt, m, out, &retry.Backoff{Min: time.Second, Max: 30 * time.Second}, log)
	})
	return g.Wait()
}

// liveMarket is the part of *market.Market the follower drives.
type liveMarket interface {
	metrics.Book
	Subscribe(ctx context.Context, cb market.Callback, opts market.SubscribeOptions) error
	Unsubscribe() error
	State() market.State
}

// newHub serves the feed; every client first gets a snapshot of the replica.
func newHub(mkt metrics.Book, log *zap.Logger) *feed.Hub {
	hub := feed.NewHub(log)
	hub.Hello = func() ([]byte, error) {
		return json.Marshal(snapshotRecord(mkt.String(), mkt.Asks(), mkt.Bids()))
	}
	return hub
}

// feedSink makes every record written to out reach the hub. Without an
// output file the records are still encoded for the hub and then discarded.
func feedSink(out *jsonl.Writer, hub *feed.Hub) *jsonl.Writer {
	if out == nil {
		out = jsonl.NewWriter(io.Discard)
	}
	out.Tee(hub.Broadcast)
	return out
}

// follow keeps the market subscribed until ctx is done, resubscribing with
// backoff when the log subscription drops.
func follow(ctx context.Context, mkt liveMarket, m *metrics.Metrics, out *jsonl.Writer, backoff *retry.Backoff, log *zap.Logger) error {
	name := mkt.String()
	for {
		lost := make(chan error, 1)
		err := mkt.Subscribe(ctx, func(ev market.BookEvent) {
			m.ObserveBook(mkt, ev)
			writeRecord(out, log, eventRecord(name, ev))
		}, market.SubscribeOptions{
			OnError: func(err error) {
				m.Error("book")
				if mkt.State() == market.Unsubscribed {
					select {
					case lost <- err:
					default:
					}
					return
				}
				log.Warn("book event error", zap.Error(err))
			},
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn("subscribe failed", zap.Error(err))
			if !backoff.Wait(ctx) {
				return ctx.Err()
			}
			continue
		}
		backoff.Reset()
		m.ObserveSize(mkt)
		writeRecord(out, log, snapshotRecord(name, mkt.Asks(), mkt.Bids()))

		select {
		case <-ctx.Done():
			if err := mkt.Unsubscribe(); err != nil {
				log.Debug("unsubscribe", zap.Error(err))
			}
			return ctx.Err()
		case err := <-lost:
			log.Warn("subscription lost, resubscribing", zap.Error(err))
			if !backoff.Wait(ctx) {
				return ctx.Err()
			}
		}
	}
}

// tail prints a remote feed until ctx is done.
func tail(ctx context.Context, url string, out *jsonl.Writer, log *zap.Logger) {
	msgs, errs := feed.Follow(ctx, url, retry.Backoff{Min: time.Second, Max: 15 * time.Second})
	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			if err := out.Write(json.RawMessage(msg)); err != nil {
				log.Warn("write failed", zap.Error(err))
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			log.Warn("feed", zap.Error(err))
		}
	}
}
