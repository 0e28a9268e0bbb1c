// Command gasupdater keeps the exchange's gas oracle close to the node's
// suggested gas price.
package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mangrovedao/mangrove-archive-sub000/internal/botconfig"
	"github.com/mangrovedao/mangrove-archive-sub000/internal/mangrove"
	"github.com/mangrovedao/mangrove-archive-sub000/internal/metrics"
	"github.com/mangrovedao/mangrove-archive-sub000/internal/registry"
	"github.com/mangrovedao/mangrove-archive-sub000/internal/state"
	"github.com/mangrovedao/mangrove-archive-sub000/internal/units"
)

type options struct {
	botconfig.Common

	Oracle    string        `long:"oracle" env:"GAS_ORACLE" description:"Oracle address (default: the registry entry for this network)"`
	Interval  time.Duration `long:"interval" env:"GAS_INTERVAL" default:"30s" description:"Polling period"`
	Threshold string        `long:"threshold" env:"GAS_THRESHOLD" default:"0.1" description:"Relative drift that triggers an update"`
	MinGwei   uint64        `long:"min-gwei" env:"GAS_MIN_GWEI" default:"1" description:"Never push less than this"`
	MaxGwei   uint64        `long:"max-gwei" env:"GAS_MAX_GWEI" description:"Never push more than this (0 for no cap)"`
	DryRun    bool          `long:"dry-run" env:"GAS_DRY_RUN" description:"Log updates without sending them"`
	Once      bool          `long:"once" description:"Check once and exit"`
	StateFile string        `long:"state-file" env:"GAS_STATE_FILE" default:"./out/gasupdater.json" description:"Record of the last update, blank to disable"`
	Listen    string        `long:"listen" env:"GAS_LISTEN" description:"Serve /metrics on this address"`
}

func main() {
	var opts options
	_, stop, err := botconfig.Parse(&opts, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "gasupdater: %v\n", err)
		os.Exit(2)
	}
	if stop {
		return
	}

	log, err := opts.Logging.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "gasupdater: %v\n", err)
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
		log.Fatal("gasupdater stopped", zap.Error(err))
	}
}

// chain is the part of *mangrove.Mangrove the updater drives.
type chain interface {
	Network() mangrove.Network
	Config(ctx context.Context, outbound, inbound common.Address) (mangrove.Config, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SetGasprice(ctx context.Context, oracle common.Address, gwei uint64) (*types.Transaction, error)
	WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
}

var errDead = errors.New("exchange is dead")

type updater struct {
	mgv       chain
	oracle    common.Address
	threshold decimal.Decimal
	min, max  uint64
	dryRun    bool
	stateFile string
	metrics   *metrics.Metrics
	log       *zap.Logger
}

func run(ctx context.Context, opts options, log *zap.Logger) error {
	threshold, err := parseThreshold(opts.Threshold)
	if err != nil {
		return err
	}
	if opts.Interval <= 0 {
		return fmt.Errorf("--interval must be positive")
	}
	if opts.MaxGwei > 0 && opts.MaxGwei < opts.MinGwei {
		return fmt.Errorf("--max-gwei %d below --min-gwei %d", opts.MaxGwei, opts.MinGwei)
	}

	mgv, err := opts.Connection.Connect(ctx, log)
	if err != nil {
		return err
	}
	defer mgv.Close()

	oracle, err := resolveOracle(opts.Oracle, mgv.Registry(), mgv.Network().Name)
	if err != nil {
		return err
	}

	u := &updater{
		mgv:       mgv,
		oracle:    oracle,
		threshold: threshold,
		min:       opts.MinGwei,
		max:       opts.MaxGwei,
		dryRun:    opts.DryRun,
		stateFile: opts.StateFile,
		metrics:   metrics.New(),
		log:       log.With(zap.String("oracle", oracle.Hex())),
	}
	u.logLast()

	if opts.Once {
		return u.check(ctx)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return metrics.ListenAndServe(gctx, opts.Listen, u.metrics.Router(), log) })
	g.Go(func() error { return u.loop(gctx, opts.Interval) })
	return g.Wait()
}

func resolveOracle(flag string, reg *registry.Registry, network string) (common.Address, error) {
	if flag != "" {
		if !common.IsHexAddress(flag) {
			return common.Address{}, fmt.Errorf("--oracle: invalid address %q", flag)
		}
		return common.HexToAddress(flag), nil
	}
	addr, err := reg.Address(registry.OracleName, network)
	if err != nil {
		return common.Address{}, fmt.Errorf("gas oracle: %w (set --oracle)", err)
	}
	return addr, nil
}

func (u *updater) logLast() {
	var last state.GasUpdate
	ok, err := state.Load(u.stateFile, &last)
	switch {
	case err != nil:
		u.log.Warn("state file unreadable", zap.Error(err))
	case ok && last.Matches(u.mgv.Network().ChainID, u.oracle.Hex()):
		u.log.Info("last update",
			zap.Uint64("gwei", last.Gasprice),
			zap.String("tx", last.TxHash),
			zap.Time("at", last.UpdatedAt),
		)
	}
}

func (u *updater) loop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := u.check(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, errDead) {
				return err
			}
			u.log.Warn("gas check failed", zap.Error(err))
			u.metrics.Error("gasupdater")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// check compares the exchange's gas price with the node's suggestion and
// pushes the suggestion when it drifted past the threshold.
func (u *updater) check(ctx context.Context) error {
	cfg, err := u.mgv.Config(ctx, common.Address{}, common.Address{})
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if cfg.Global.Dead {
		return errDead
	}
	current := cfg.Global.Gasprice
	u.metrics.Gasprice.Set(float64(current))

	wei, err := u.mgv.SuggestGasPrice(ctx)
	if err != nil {
		return fmt.Errorf("suggest gas price: %w", err)
	}
	next := target(weiToGwei(wei), u.min, u.max)

	log := u.log.With(
		zap.Uint64("current", current),
		zap.Uint64("next", next),
		zap.String("suggested_gwei", units.Format(wei, 9)),
	)
	if !shouldUpdate(current, next, u.threshold) {
		log.Debug("gas price within threshold")
		return nil
	}
	if !cfg.Global.UseOracle {
		log.Warn("exchange ignores the oracle; updating anyway")
	}
	if u.dryRun {
		log.Info("dry run: would update gas price")
		return nil
	}

	tx, err := u.mgv.SetGasprice(ctx, u.oracle, next)
	if err != nil {
		return err
	}
	log.Info("gas price update sent", zap.String("tx", tx.Hash().Hex()))
	receipt, err := u.mgv.WaitMined(ctx, tx)
	if err != nil {
		return fmt.Errorf("wait %s: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("gas price update %s reverted", tx.Hash().Hex())
	}

	u.metrics.GasUpdates.Inc()
	u.metrics.Gasprice.Set(float64(next))
	if err := state.Save(u.stateFile, state.GasUpdate{
		ChainID:   u.mgv.Network().ChainID,
		Oracle:    u.oracle.Hex(),
		Gasprice:  next,
		TxHash:    tx.Hash().Hex(),
		UpdatedAt: time.Now().UTC(),
	}); err != nil {
		log.Warn("save state", zap.Error(err))
	}
	log.Info("gas price updated", zap.Uint64("block", receipt.BlockNumber.Uint64()))
	return nil
}
