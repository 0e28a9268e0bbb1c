// Package mangrove is the connection to the exchange and its book reader.
//
// A *Mangrove is only obtainable through Connect, which completes the network
// handshake and resolves the signer and contract addresses before returning.
package mangrove

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/mangrovedao/mangrove-archive-sub000/internal/registry"
)

// Backend is what a connection needs from the node client. *ethclient.Client
// satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	ChainID(ctx context.Context) (*big.Int, error)
	Close()
}

type Options struct {
	// Endpoint is a node URL or a name from DefaultEndpoints.
	Endpoint string

	// Signing material, tried in this order.
	Signer       *bind.TransactOpts
	PrivateKey   string
	Mnemonic     string
	AccountIndex uint32

	// Registry resolves the exchange and reader addresses. Required.
	Registry *registry.Registry
	// Overrides is a "NAME=0x..." list (see registry.LoadOverrides) applied
	// to Registry for the connected network before anything is resolved.
	Overrides string
}

type Mangrove struct {
	log     *zap.Logger
	backend Backend
	network Network
	reg     *registry.Registry
	abis    abis

	address common.Address
	reader  common.Address
	signer  *bind.TransactOpts

	contract *bind.BoundContract
}

// Connect dials the endpoint and returns a ready handle.
func Connect(ctx context.Context, opts Options, log *zap.Logger) (*Mangrove, error) {
	if !hasSignerMaterial(opts) {
		return nil, ErrNoSigner
	}
	url, err := ResolveEndpoint(opts.Endpoint)
	if err != nil {
		return nil, err
	}

	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	m, err := connect(ctx, client, opts, log)
	if err != nil {
		client.Close()
		return nil, err
	}
	return m, nil
}

func connect(ctx context.Context, backend Backend, opts Options, log *zap.Logger) (*Mangrove, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("registry required")
	}
	if !hasSignerMaterial(opts) {
		return nil, ErrNoSigner
	}

	parsed, err := contractABIs()
	if err != nil {
		return nil, err
	}

	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}
	network := Network{ChainID: chainID.Uint64(), Name: registry.NetworkName(chainID.Uint64())}

	if err := opts.Registry.LoadOverrides(network.Name, opts.Overrides); err != nil {
		return nil, fmt.Errorf("address overrides: %w", err)
	}

	signer, err := resolveSigner(opts, chainID)
	if err != nil {
		return nil, err
	}

	address, err := opts.Registry.Address(registry.MangroveName, network.Name)
	if err != nil {
		return nil, fmt.Errorf("resolve exchange address (registry networks %v): %w", opts.Registry.Networks(), err)
	}
	reader, err := opts.Registry.Address(registry.ReaderName, network.Name)
	if err != nil {
		return nil, fmt.Errorf("resolve reader address: %w", err)
	}

	m := &Mangrove{
		log:      log,
		backend:  backend,
		network:  network,
		reg:      opts.Registry,
		abis:     parsed,
		address:  address,
		reader:   reader,
		signer:   signer,
		contract: bind.NewBoundContract(address, parsed.mangrove, backend, backend, backend),
	}
	log.Info("connected",
		zap.Stringer("network", network),
		zap.String("signer", signer.From.Hex()),
		zap.String("mangrove", address.Hex()),
		zap.String("reader", reader.Hex()),
	)
	return m, nil
}

func (m *Mangrove) Network() Network { return m.network }

// label names addr after its registry entry on the connected network, or
// falls back to hex.
func (m *Mangrove) label(addr common.Address) string {
	if name, ok := m.reg.NameOf(addr, m.network.Name); ok {
		return name
	}
	return addr.Hex()
}

// Address is the exchange contract address.
func (m *Mangrove) Address() common.Address { return m.address }


// Signer is the address transactions are sent from.
func (m *Mangrove) Signer() common.Address { return m.signer.From }

func (m *Mangrove) Registry() *registry.Registry { return m.reg }

func (m *Mangrove) Close() { m.backend.Close() }

func (m *Mangrove) transactOpts(ctx context.Context) *bind.TransactOpts {
	opts := *m.signer
	opts.Context = ctx
	return &opts
}

func (m *Mangrove) call(ctx context.Context, contractABI abi.ABI, to common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	msg := ethereum.CallMsg{From: m.signer.From, To: &to, Data: data}
	out, err := m.backend.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, err
	}
	return contractABI.Unpack(method, out)
}

// Config reads the global parameters and the local parameters of the
// (outbound, inbound) offer list.
func (m *Mangrove) Config(ctx context.Context, outbound, inbound common.Address) (Config, error) {
	vals, err := m.call(ctx, m.abis.mangrove, m.address, "config", outbound, inbound)
	if err != nil {
		return Config{}, fmt.Errorf("config(%s,%s): %w", m.label(outbound), m.label(inbound), err)
	}
	if len(vals) != 2 {
		return Config{}, fmt.Errorf("config: unexpected result len %d", len(vals))
	}

	g := *abi.ConvertType(vals[0], new(globalTuple)).(*globalTuple)
	l := *abi.ConvertType(vals[1], new(localTuple)).(*localTuple)

	global, err := g.decode()
	if err != nil {
		return Config{}, fmt.Errorf("config global: %w", err)
	}
	local, err := l.decode()
	if err != nil {
		return Config{}, fmt.Errorf("config local: %w", err)
	}
	return Config{Global: global, Local: local}, nil
}

// ReadBook reads up to maxOffers offers of the (outbound, inbound) list
// starting at fromID (0 = best).
func (m *Mangrove) ReadBook(ctx context.Context, outbound, inbound common.Address, fromID uint64, maxOffers int) (BookPage, error) {
	vals, err := m.call(ctx, m.abis.reader, m.reader, "book",
		outbound, inbound, new(big.Int).SetUint64(fromID), big.NewInt(int64(maxOffers)))
	if err != nil {
		return BookPage{}, fmt.Errorf("book(%s,%s,%d,%d): %w", m.label(outbound), m.label(inbound), fromID, maxOffers, err)
	}
	if len(vals) != 4 {
		return BookPage{}, fmt.Errorf("book: unexpected result len %d", len(vals))
	}

	nextID, ok := vals[0].(*big.Int)
	if !ok {
		return BookPage{}, fmt.Errorf("book nextId: unexpected type %T", vals[0])
	}
	ids, ok := vals[1].([]*big.Int)
	if !ok {
		return BookPage{}, fmt.Errorf("book ids: unexpected type %T", vals[1])
	}
	offers := *abi.ConvertType(vals[2], new([]offerTuple)).(*[]offerTuple)
	details := *abi.ConvertType(vals[3], new([]detailTuple)).(*[]detailTuple)

	return decodePage(nextID, ids, offers, details)
}

// MarketOrder submits a market order and returns the pending transaction.
func (m *Mangrove) MarketOrder(ctx context.Context, outbound, inbound common.Address, wants, gives *big.Int, fillWants bool) (*types.Transaction, error) {
	tx, err := m.contract.Transact(m.transactOpts(ctx), "marketOrder", outbound, inbound, wants, gives, fillWants)
	if err != nil {
		return nil, fmt.Errorf("marketOrder: %w", err)
	}
	m.log.Debug("market order sent",
		zap.String("tx", tx.Hash().Hex()),
		zap.String("outbound", m.label(outbound)),
		zap.String("inbound", m.label(inbound)),
		zap.Stringer("wants", wants),
		zap.Stringer("gives", gives),
		zap.Bool("fill_wants", fillWants),
	)
	return tx, nil
}

func snipeArgs(outbound, inbound common.Address, req SnipeRequest) []interface{} {
	return []interface{}{
		outbound, inbound,
		new(big.Int).SetUint64(req.OfferID),
		nonNil(req.Wants), nonNil(req.Gives),
		new(big.Int).SetUint64(req.Gasreq),
		req.FillWants,
	}
}

// Snipe submits a trade against one offer.
func (m *Mangrove) Snipe(ctx context.Context, outbound, inbound common.Address, req SnipeRequest) (*types.Transaction, error) {
	tx, err := m.contract.Transact(m.transactOpts(ctx), "snipe", snipeArgs(outbound, inbound, req)...)
	if err != nil {
		return nil, fmt.Errorf("snipe offer %d: %w", req.OfferID, err)
	}
	m.log.Debug("snipe sent",
		zap.String("tx", tx.Hash().Hex()),
		zap.String("outbound", m.label(outbound)),
		zap.String("inbound", m.label(inbound)),
		zap.Uint64("offer", req.OfferID),
	)
	return tx, nil
}

// SnipeStatic dry-runs Snipe with eth_call; state is not modified.
func (m *Mangrove) SnipeStatic(ctx context.Context, outbound, inbound common.Address, req SnipeRequest) (SnipeResult, error) {
	vals, err := m.call(ctx, m.abis.mangrove, m.address, "snipe", snipeArgs(outbound, inbound, req)...)
	if err != nil {
		return SnipeResult{}, fmt.Errorf("snipe offer %d (static): %w", req.OfferID, err)
	}
	if len(vals) != 3 {
		return SnipeResult{}, fmt.Errorf("snipe: unexpected result len %d", len(vals))
	}
	success, ok1 := vals[0].(bool)
	got, ok2 := vals[1].(*big.Int)
	gave, ok3 := vals[2].(*big.Int)
	if !ok1 || !ok2 || !ok3 {
		return SnipeResult{}, fmt.Errorf("snipe: unexpected result types %T,%T,%T", vals[0], vals[1], vals[2])
	}
	return SnipeResult{Success: success, TakerGot: got, TakerGave: gave}, nil
}

// Activate opens the (outbound, inbound) offer list. Setup only; the signer
// must be the exchange governance.
func (m *Mangrove) Activate(ctx context.Context, outbound, inbound common.Address, fee uint64, density *big.Int, overheadGasbase, offerGasbase uint64) (*types.Transaction, error) {
	tx, err := m.contract.Transact(m.transactOpts(ctx), "activate",
		outbound, inbound,
		new(big.Int).SetUint64(fee),
		nonNil(density),
		new(big.Int).SetUint64(overheadGasbase),
		new(big.Int).SetUint64(offerGasbase),
	)
	if err != nil {
		return nil, fmt.Errorf("activate(%s,%s): %w", m.label(outbound), m.label(inbound), err)
	}
	return tx, nil
}

// SetGasprice pushes a gas price (gwei) to the gas oracle at oracle.
func (m *Mangrove) SetGasprice(ctx context.Context, oracle common.Address, gwei uint64) (*types.Transaction, error) {
	c := bind.NewBoundContract(oracle, m.abis.oracle, m.backend, m.backend, m.backend)
	tx, err := c.Transact(m.transactOpts(ctx), "setGasPrice", new(big.Int).SetUint64(gwei))
	if err != nil {
		return nil, fmt.Errorf("setGasPrice(%d): %w", gwei, err)
	}
	return tx, nil
}

// WaitMined blocks until tx is mined or ctx is done.
func (m *Mangrove) WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	return bind.WaitMined(ctx, m.backend, tx)
}

func (m *Mangrove) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return m.backend.SuggestGasPrice(ctx)
}

func (m *Mangrove) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return m.backend.CallContract(ctx, call, blockNumber)
}

func (m *Mangrove) SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	return m.backend.SubscribeFilterLogs(ctx, q, ch)
}
