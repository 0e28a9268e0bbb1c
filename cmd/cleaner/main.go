// Command cleaner watches a market and snipes offers that fail to deliver,
// collecting their bounty.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mangrovedao/mangrove-archive-sub000/internal/botconfig"
	"github.com/mangrovedao/mangrove-archive-sub000/internal/ethutil"
	"github.com/mangrovedao/mangrove-archive-sub000/internal/jsonl"
	"github.com/mangrovedao/mangrove-archive-sub000/internal/mangrove"
	"github.com/mangrovedao/mangrove-archive-sub000/internal/market"
	"github.com/mangrovedao/mangrove-archive-sub000/internal/metrics"
	"github.com/mangrovedao/mangrove-archive-sub000/internal/retry"
)

type options struct {
	botconfig.Common
	Pair botconfig.Pair `group:"Market"`

	Interval   time.Duration `long:"interval" env:"CLEANER_INTERVAL" default:"1m" description:"Full sweep and exchange liveness check period"`
	DryRun     bool          `long:"dry-run" env:"CLEANER_DRY_RUN" description:"Report failing offers without sniping them"`
	SkipMakers string        `long:"skip-makers" env:"CLEANER_SKIP_MAKERS" description:"Comma separated maker addresses never sniped"`
	Out        string        `long:"out" env:"CLEANER_OUT" default:"./out/cleaner.jsonl" description:"JSONL record of failing offers, blank to disable"`
	Listen     string        `long:"listen" env:"CLEANER_LISTEN" description:"Serve /metrics on this address"`
}

type cleanRecord struct {
	TsMs   int64  `json:"ts_ms"`
	Market string `json:"market"`
	Side   string `json:"side"`
	Offer  uint64 `json:"offer"`
	Maker  string `json:"maker"`
	Result string `json:"result"`
	TxHash string `json:"tx_hash,omitempty"`
	Error  string `json:"error,omitempty"`
}

var errDead = errors.New("exchange is dead")

func main() {
	var opts options
	_, stop, err := botconfig.Parse(&opts, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "cleaner: %v\n", err)
		os.Exit(2)
	}
	if stop {
		return
	}

	log, err := opts.Logging.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "cleaner: %v\n", err)
		os.Exit(2)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err = run(ctx, opts, log)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
	case errors.Is(err, errDead):
		log.Info("exchange is dead, stopping")
	default:
		log.Fatal("cleaner stopped", zap.Error(err))
	}
}

func run(ctx context.Context, opts options, log *zap.Logger) error {
	if err := opts.Pair.Validate(); err != nil {
		return err
	}
	if opts.Interval <= 0 {
		return fmt.Errorf("--interval must be positive")
	}
	if err := opts.Connection.RequireSubscriptions(); err != nil {
		return err
	}
	skipList, err := ethutil.ParseAddressList(opts.SkipMakers)
	if err != nil {
		return fmt.Errorf("--skip-makers: %w", err)
	}

	out, err := jsonl.Open(opts.Out)
	if err != nil {
		return err
	}
	defer out.Close()

	mgv, err := opts.Connection.Connect(ctx, log)
	if err != nil {
		return err
	}
	defer mgv.Close()
	log.Info("connected", zap.Stringer("network", mgv.Network()), zap.String("signer", mgv.Signer().Hex()))

	mkt, err := opts.Pair.Market(ctx, mgv, log)
	if err != nil {
		return err
	}
	log = log.With(zap.Stringer("market", mkt))

	m := metrics.New()
	c := newCleaner(mkt, log, m, out, ethutil.AddressSet(skipList), opts.DryRun)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return metrics.ListenAndServe(gctx, opts.Listen, m.Router(), log) })
	g.Go(func() error { return c.work(gctx) })
	g.Go(func() error { return watch(gctx, mgv, mkt, c, opts.Interval, log) })
	return g.Wait()
}

// configReader polls the exchange-wide configuration.
type configReader interface {
	Config(ctx context.Context, outbound, inbound common.Address) (mangrove.Config, error)
}

// liveBook is the subscription side of *market.Market.
type liveBook interface {
	Subscribe(ctx context.Context, cb market.Callback, opts market.SubscribeOptions) error
	Unsubscribe() error
	State() market.State
}

// watch keeps the market subscribed, sweeps the replica every interval and
// stops once the exchange reports itself dead.
func watch(ctx context.Context, mgv configReader, mkt liveBook, c *cleaner, interval time.Duration, log *zap.Logger) error {
	backoff := retry.Backoff{Min: time.Second, Max: 30 * time.Second}
	lost := make(chan error, 1)
	subscribe := func() bool {
		err := mkt.Subscribe(ctx, c.onEvent, market.SubscribeOptions{
			OnError: func(err error) {
				c.metrics.Error("subscription")
				if mkt.State() != market.Unsubscribed {
					log.Warn("book event error", zap.Error(err))
					return
				}
				select {
				case lost <- err:
				default:
				}
			},
		})
		if err != nil {
			log.Warn("subscribe failed", zap.Error(err))
			return false
		}
		backoff.Reset()
		log.Info("swept", zap.Int("queued", c.sweep()))
		return true
	}
	defer func() {
		if mkt.State() == market.Subscribed {
			_ = mkt.Unsubscribe()
		}
	}()

	for !subscribe() {
		if !backoff.Wait(ctx) {
			return ctx.Err()
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-lost:
			log.Warn("subscription lost, resubscribing", zap.Error(err))
			for !subscribe() {
				if !backoff.Wait(ctx) {
					return ctx.Err()
				}
			}
		case <-ticker.C:
			cfg, err := mgv.Config(ctx, common.Address{}, common.Address{})
			if err != nil {
				log.Warn("config poll failed", zap.Error(err))
				c.metrics.Error("config")
				continue
			}
			if cfg.Global.Dead {
				return errDead
			}
			if mkt.State() == market.Subscribed {
				log.Debug("swept", zap.Int("queued", c.sweep()))
			}
		}
	}
}
