package registry

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

var chainNames = map[uint64]string{
	1:        "mainnet",
	137:      "matic",
	80001:    "maticmum",
	11155111: "sepolia",
	31337:    "local",
}

// NetworkName maps a chain id to the network name used as registry key.
// Unlisted chains are named "chain-<id>".
func NetworkName(chainID uint64) string {
	if name, ok := chainNames[chainID]; ok {
		return name
	}
	return fmt.Sprintf("chain-%d", chainID)
}

// Token addresses only. Exchange and reader deployments differ per install
// and are supplied through overrides (see LoadOverrides).
var defaultAddresses = map[string]map[string]common.Address{
	"matic": {
		"WETH": common.HexToAddress("0x7ceB23fD6bC0adD59E62ac25578270cFf1b9f619"),
		"DAI":  common.HexToAddress("0x8f3Cf7ad23Cd3CaDbD9735AFf958023239c6A063"),
		"USDC": common.HexToAddress("0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"),
	},
	"mainnet": {
		"WETH": common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"),
		"DAI":  common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F"),
		"USDC": common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"),
	},
}

var defaultDecimals = map[string]int32{
	"WETH": 18,
	"DAI":  18,
	"USDC": 6,
}
