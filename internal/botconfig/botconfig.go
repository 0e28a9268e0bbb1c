// Package botconfig holds the command-line and environment options shared by
// the bots, and turns them into a logger, a connection and markets.
package botconfig

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	flags "github.com/jessevdk/go-flags"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mangrovedao/mangrove-archive-sub000/internal/dotenv"
	"github.com/mangrovedao/mangrove-archive-sub000/internal/ethutil"
	"github.com/mangrovedao/mangrove-archive-sub000/internal/mangrove"
	"github.com/mangrovedao/mangrove-archive-sub000/internal/market"
	"github.com/mangrovedao/mangrove-archive-sub000/internal/registry"
)

// Connection selects the node and the signing identity.
type Connection struct {
	Endpoint     string `long:"endpoint" env:"RPC_URL" description:"Node URL (ws(s):// for live updates) or network name" default:"local"`
	PrivateKey   string `long:"private-key" env:"PRIVATE_KEY" default-mask:"-" description:"Hex private key of the signer"`
	Mnemonic     string `long:"mnemonic" env:"MNEMONIC" default-mask:"-" description:"BIP-39 mnemonic of the signer"`
	AccountIndex uint32 `long:"account-index" env:"ACCOUNT_INDEX" description:"Account index under m/44'/60'/0'/0"`
	Addresses    string `long:"addresses" env:"MANGROVE_ADDRESSES" description:"NAME=0x... overrides for contracts and tokens, comma separated"`
}

// Logging selects the zap logger.
type Logging struct {
	Level  string `long:"log-level" env:"LOG_LEVEL" default:"info" description:"debug, info, warn or error"`
	Format string `long:"log-format" env:"LOG_FORMAT" default:"console" choice:"console" choice:"json" description:"Log encoding"`
}

// Pair names a market by registry asset names.
type Pair struct {
	Base  string `long:"base" env:"BASE" description:"Base asset name"`
	Quote string `long:"quote" env:"QUOTE" description:"Quote asset name"`
}

func (p Pair) Validate() error {
	if strings.TrimSpace(p.Base) == "" || strings.TrimSpace(p.Quote) == "" {
		return fmt.Errorf("market required (set --base/BASE and --quote/QUOTE)")
	}
	if p.Base == p.Quote {
		return fmt.Errorf("base and quote must differ, got %s twice", p.Base)
	}
	return nil
}

// Common is embedded by every bot's option struct.
type Common struct {
	EnvFile    string     `long:"env-file" env:"ENV_FILE" default:".env" description:"KEY=VALUE file loaded before parsing"`
	Connection Connection `group:"Connection"`
	Logging    Logging    `group:"Logging"`
}

// Parse loads the env file named by --env-file/ENV_FILE (".env" by default)
// and then parses args into opts. The bool is true when help was printed
// and the caller should exit.
func Parse(opts any, args []string) ([]string, bool, error) {
	if err := dotenv.Load(envFile(args)); err != nil {
		return nil, false, err
	}

	parser := flags.NewParser(opts, flags.HelpFlag|flags.PassDoubleDash)
	rest, err := parser.ParseArgs(args)
	if err != nil {
		var flagErr *flags.Error
		if errors.As(err, &flagErr) && flagErr.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stdout, err)
			return nil, true, nil
		}
		return nil, false, err
	}
	return rest, false, nil
}

// envFile finds the env file before the full parse so its variables can
// feed env: defaults.
func envFile(args []string) string {
	for i, a := range args {
		if v, ok := strings.CutPrefix(a, "--env-file="); ok {
			return v
		}
		if a == "--env-file" && i+1 < len(args) {
			return args[i+1]
		}
	}
	if v := strings.TrimSpace(os.Getenv("ENV_FILE")); v != "" {
		return v
	}
	return ".env"
}

// NewLogger builds a production (json) or development (console) logger.
func (l Logging) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(strings.TrimSpace(l.Level))
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	var cfg zap.Config
	switch l.Format {
	case "json":
		cfg = zap.NewProductionConfig()
	case "", "console":
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		return nil, fmt.Errorf("log format %q: want console or json", l.Format)
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	return cfg.Build()
}

// RequireSubscriptions fails unless the endpoint can push logs. Bots that
// follow a market call it before connecting.
func (c Connection) RequireSubscriptions() error {
	url, err := mangrove.ResolveEndpoint(c.Endpoint)
	if err != nil {
		return err
	}
	if !mangrove.SupportsSubscriptions(url) {
		return fmt.Errorf("live updates need a websocket endpoint (ws:// or wss://), got %s", url)
	}
	return nil
}

// Options converts the flags into connection options on reg. Address
// overrides are checked here so bad flags fail before dialing.
func (c Connection) Options(reg *registry.Registry) (mangrove.Options, error) {
	if _, err := ethutil.ParseNamedAddresses(c.Addresses); err != nil {
		return mangrove.Options{}, fmt.Errorf("addresses: %w", err)
	}
	return mangrove.Options{
		Endpoint:     c.Endpoint,
		PrivateKey:   c.PrivateKey,
		Mnemonic:     c.Mnemonic,
		AccountIndex: c.AccountIndex,
		Registry:     reg,
		Overrides:    c.Addresses,
	}, nil
}

// Connect dials the exchange with a fresh default registry.
func (c Connection) Connect(ctx context.Context, log *zap.Logger) (*mangrove.Mangrove, error) {
	opts, err := c.Options(registry.New())
	if err != nil {
		return nil, err
	}
	return mangrove.Connect(ctx, opts, log)
}

// Market builds the market of p on mgv, reading decimals() from chain for
// assets the registry has no decimals for.
func (p Pair) Market(ctx context.Context, mgv *mangrove.Mangrove, log *zap.Logger, opts ...market.Option) (*market.Market, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	reg := mgv.Registry()
	network := mgv.Network().Name
	for _, name := range []string{p.Base, p.Quote} {
		if _, err := reg.Decimals(name); err == nil {
			continue
		}
		d, err := reg.RefreshDecimals(ctx, name, network, mgv)
		if err != nil {
			return nil, err
		}
		log.Info("decimals read from chain", zap.String("asset", name), zap.Int32("decimals", d))
	}
	return market.New(mgv, reg, p.Base, p.Quote, append([]market.Option{market.WithLogger(log)}, opts...)...)
}
