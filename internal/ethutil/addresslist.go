package ethutil

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

func splitList(raw string) []string {
	return strings.FieldsFunc(raw, func(r rune) bool {
		switch r {
		case ',', ';', ' ', '\n', '\r', '\t':
			return true
		default:
			return false
		}
	})
}

func parseHexAddress(s, raw string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid hex address %q in %q", s, raw)
	}
	return common.HexToAddress(s), nil
}

// ParseAddressList parses a list of hex addresses from a single string.
//
// Supported separators: commas and whitespace (space/newline/tab), plus semicolons.
// Duplicate addresses are ignored (first occurrence wins).
//
// Returns (nil, nil) if raw is empty/whitespace.
func ParseAddressList(raw string) ([]common.Address, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	parts := splitList(raw)
	out := make([]common.Address, 0, len(parts))
	seen := make(map[common.Address]struct{}, len(parts))
	for _, part := range parts {
		addr, err := parseHexAddress(part, raw)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	return out, nil
}

// ParseNamedAddresses parses "NAME=0x..." entries separated like
// ParseAddressList. Names are kept as written; a repeated name keeps the last
// address.
//
// Returns (nil, nil) if raw is empty/whitespace.
func ParseNamedAddresses(raw string) (map[string]common.Address, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	parts := splitList(raw)
	out := make(map[string]common.Address, len(parts))
	for _, part := range parts {
		name, hexAddr, ok := strings.Cut(part, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("expected NAME=0x... entry, got %q in %q", part, raw)
		}
		addr, err := parseHexAddress(strings.TrimSpace(hexAddr), raw)
		if err != nil {
			return nil, err
		}
		out[name] = addr
	}
	return out, nil
}

func AddressSet(addrs []common.Address) map[common.Address]struct{} {
	out := make(map[common.Address]struct{}, len(addrs))
	for _, a := range addrs {
		out[a] = struct{}{}
	}
	return out
}

// AddressTopic left-pads an address into a log topic, the way indexed address
// event parameters are stored.
func AddressTopic(a common.Address) common.Hash {
	return common.BytesToHash(a.Bytes())
}

// TopicAddress is the inverse of AddressTopic.
func TopicAddress(h common.Hash) common.Address {
	return common.BytesToAddress(h.Bytes())
}
