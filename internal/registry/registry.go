// Package registry maps logical asset and contract names to their on-chain
// addresses (per network) and decimal scale.
//
// A Registry is built once per process and handed to every component that
// resolves names; it is safe for concurrent use.
package registry

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"github.com/mangrovedao/mangrove-archive-sub000/internal/ethutil"
	"github.com/mangrovedao/mangrove-archive-sub000/internal/units"
)

var (
	ErrUnknownAsset   = errors.New("unknown asset")
	ErrUnknownNetwork = errors.New("unknown network")
)

// Contract names resolved through the registry alongside tokens.
const (
	MangroveName = "Mangrove"
	ReaderName   = "MgvReader"
	OracleName   = "MgvOracle"
)

var erc20DecimalsSelector = crypto.Keccak256([]byte("decimals()"))[:4]

type Registry struct {
	mu       sync.RWMutex
	addrs    map[string]map[string]common.Address // network -> name -> address
	decimals map[string]int32
}

// New returns a registry seeded from the static defaults table.
func New() *Registry {
	r := NewEmpty()
	for network, names := range defaultAddresses {
		for name, addr := range names {
			r.SetAddress(name, network, addr)
		}
	}
	for name, d := range defaultDecimals {
		r.SetDecimals(name, d)
	}
	return r
}

// NewEmpty returns a registry with no entries.
func NewEmpty() *Registry {
	return &Registry{
		addrs:    make(map[string]map[string]common.Address),
		decimals: make(map[string]int32),
	}
}

func (r *Registry) Address(name, network string) (common.Address, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names, ok := r.addrs[network]
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %q", ErrUnknownNetwork, network)
	}
	addr, ok := names[name]
	if !ok {
		return common.Address{}, fmt.Errorf("%w: no address for %q on %s", ErrUnknownAsset, name, network)
	}
	return addr, nil
}

// SetAddress upserts the address of name on network. Setting an address is
// what makes a network known.
func (r *Registry) SetAddress(name, network string, addr common.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()

	names, ok := r.addrs[network]
	if !ok {
		names = make(map[string]common.Address)
		r.addrs[network] = names
	}
	names[name] = addr
}

// SetAddresses upserts every entry of names on network.
func (r *Registry) SetAddresses(network string, names map[string]common.Address) {
	for name, addr := range names {
		r.SetAddress(name, network, addr)
	}
}

// NameOf is the reverse lookup of Address.
func (r *Registry) NameOf(addr common.Address, network string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for name, a := range r.addrs[network] {
		if a == addr {
			return name, true
		}
	}
	return "", false
}

// Networks lists the known networks, sorted.
func (r *Registry) Networks() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.addrs))
	for n := range r.addrs {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Decimals(name string) (int32, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.decimals[name]
	if !ok {
		return 0, fmt.Errorf("%w: no decimals for %q", ErrUnknownAsset, name)
	}
	return d, nil
}

func (r *Registry) SetDecimals(name string, d int32) {
	r.mu.Lock()
	r.decimals[name] = d
	r.mu.Unlock()
}

// RefreshDecimals reads decimals() from the token contract of name on network
// and stores the result. Concurrent refreshes of one asset are not
// coordinated; they converge on the same value.
func (r *Registry) RefreshDecimals(ctx context.Context, name, network string, caller ethereum.ContractCaller) (int32, error) {
	token, err := r.Address(name, network)
	if err != nil {
		return 0, err
	}

	out, err := caller.CallContract(ctx, ethereum.CallMsg{To: &token, Data: erc20DecimalsSelector}, nil)
	if err != nil {
		return 0, fmt.Errorf("%s decimals() at %s: %w", name, token.Hex(), err)
	}
	if len(out) == 0 {
		return 0, fmt.Errorf("%s decimals() returned empty result", name)
	}
	v := new(big.Int).SetBytes(out)
	if !v.IsInt64() || v.Int64() > 77 {
		// 10^77 is the largest power of ten below 2^256.
		return 0, fmt.Errorf("%s decimals() out of range: %s", name, v)
	}

	d := int32(v.Int64())
	r.SetDecimals(name, d)
	return d, nil
}

// ToUnits converts a human amount of name to token units.
func (r *Registry) ToUnits(name string, amount decimal.Decimal) (*big.Int, error) {
	d, err := r.Decimals(name)
	if err != nil {
		return nil, err
	}
	return units.ToUnits(amount, d), nil
}

// FromUnits converts token units of name to a human amount.
func (r *Registry) FromUnits(name string, v *big.Int) (decimal.Decimal, error) {
	d, err := r.Decimals(name)
	if err != nil {
		return decimal.Zero, err
	}
	return units.FromUnits(v, d), nil
}

// LoadOverrides parses "NAME=0x..." entries (see ethutil.ParseNamedAddresses)
// and upserts them on network.
func (r *Registry) LoadOverrides(network, raw string) error {
	names, err := ethutil.ParseNamedAddresses(raw)
	if err != nil {
		return err
	}
	r.SetAddresses(network, names)
	return nil
}
