// Command trade sends one market order, or activates a market, from the
// command line.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/mangrovedao/mangrove-archive-sub000/internal/botconfig"
	"github.com/mangrovedao/mangrove-archive-sub000/internal/mangrove"
	"github.com/mangrovedao/mangrove-archive-sub000/internal/market"
)

type options struct {
	botconfig.Common
	Pair       botconfig.Pair `group:"Market"`
	Amounts    amounts        `group:"Order"`
	Activation activation     `group:"Activation"`

	NoWait  bool          `long:"no-wait" description:"Return once the transaction is sent"`
	Timeout time.Duration `long:"timeout" default:"2m" description:"Overall deadline"`
}

const usage = "usage: trade [options] buy|sell|activate"

func main() {
	var opts options
	rest, stop, err := botconfig.Parse(&opts, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "trade: %v\n", err)
		os.Exit(2)
	}
	if stop {
		return
	}
	if len(rest) != 1 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	log, err := opts.Logging.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "trade: %v\n", err)
		os.Exit(2)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
	defer cancel()

	if err := run(ctx, strings.ToLower(rest[0]), opts, log); err != nil {
		log.Fatal("trade failed", zap.Error(err))
	}
}

func run(ctx context.Context, action string, opts options, log *zap.Logger) error {
	if err := opts.Pair.Validate(); err != nil {
		return err
	}
	var params market.TradeParams
	switch action {
	case "buy", "sell":
		p, err := opts.Amounts.params()
		if err != nil {
			return err
		}
		params = p
	case "activate":
	default:
		return fmt.Errorf("unknown action %q; %s", action, usage)
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

	var txs []*types.Transaction
	switch action {
	case "buy":
		tx, err := mkt.Buy(ctx, params)
		if err != nil {
			return err
		}
		txs = append(txs, tx)
	case "sell":
		tx, err := mkt.Sell(ctx, params)
		if err != nil {
			return err
		}
		txs = append(txs, tx)
	case "activate":
		txs, err = activate(ctx, mgv, mkt, opts.Activation)
		if err != nil {
			return err
		}
	}

	for _, tx := range txs {
		fmt.Printf("tx: %s\n", tx.Hash().Hex())
	}
	if opts.NoWait {
		return nil
	}
	for _, tx := range txs {
		receipt, err := mgv.WaitMined(ctx, tx)
		if err != nil {
			return fmt.Errorf("wait %s: %w", tx.Hash().Hex(), err)
		}
		if receipt.Status != types.ReceiptStatusSuccessful {
			return fmt.Errorf("%s reverted in block %d", tx.Hash().Hex(), receipt.BlockNumber.Uint64())
		}
		fmt.Printf("mined: %s block=%d gas=%d\n", tx.Hash().Hex(), receipt.BlockNumber.Uint64(), receipt.GasUsed)
	}
	return nil
}

// activate opens both offer lists of the market.
func activate(ctx context.Context, mgv *mangrove.Mangrove, mkt *market.Market, a activation) ([]*types.Transaction, error) {
	density, err := a.density()
	if err != nil {
		return nil, err
	}
	base, quote := mkt.Base().Address, mkt.Quote().Address
	var txs []*types.Transaction
	for _, list := range [][2]common.Address{{base, quote}, {quote, base}} {
		tx, err := mgv.Activate(ctx, list[0], list[1], a.Fee, density, a.OverheadGasbase, a.OfferGasbase)
		if err != nil {
			return txs, err
		}
		txs = append(txs, tx)
	}
	return txs, nil
}
