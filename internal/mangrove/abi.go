package mangrove

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const mangroveABIJSON = `[
  {"inputs":[
    {"internalType":"address","name":"outbound_tkn","type":"address"},
    {"internalType":"address","name":"inbound_tkn","type":"address"}
  ],"name":"config","outputs":[
    {"components":[
      {"internalType":"address","name":"monitor","type":"address"},
      {"internalType":"bool","name":"useOracle","type":"bool"},
      {"internalType":"bool","name":"notify","type":"bool"},
      {"internalType":"uint256","name":"gasprice","type":"uint256"},
      {"internalType":"uint256","name":"gasmax","type":"uint256"},
      {"internalType":"bool","name":"dead","type":"bool"}
    ],"internalType":"struct ConfigStructs.Global","name":"global","type":"tuple"},
    {"components":[
      {"internalType":"bool","name":"active","type":"bool"},
      {"internalType":"uint256","name":"fee","type":"uint256"},
      {"internalType":"uint256","name":"density","type":"uint256"},
      {"internalType":"uint256","name":"overhead_gasbase","type":"uint256"},
      {"internalType":"uint256","name":"offer_gasbase","type":"uint256"},
      {"internalType":"bool","name":"lock","type":"bool"},
      {"internalType":"uint256","name":"best","type":"uint256"},
      {"internalType":"uint256","name":"last","type":"uint256"}
    ],"internalType":"struct ConfigStructs.Local","name":"local","type":"tuple"}
  ],"stateMutability":"view","type":"function"},
  {"inputs":[
    {"internalType":"address","name":"outbound_tkn","type":"address"},
    {"internalType":"address","name":"inbound_tkn","type":"address"},
    {"internalType":"uint256","name":"takerWants","type":"uint256"},
    {"internalType":"uint256","name":"takerGives","type":"uint256"},
    {"internalType":"bool","name":"fillWants","type":"bool"}
  ],"name":"marketOrder","outputs":[
    {"internalType":"uint256","name":"takerGot","type":"uint256"},
    {"internalType":"uint256","name":"takerGave","type":"uint256"}
  ],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[
    {"internalType":"address","name":"outbound_tkn","type":"address"},
    {"internalType":"address","name":"inbound_tkn","type":"address"},
    {"internalType":"uint256","name":"offerId","type":"uint256"},
    {"internalType":"uint256","name":"takerWants","type":"uint256"},
    {"internalType":"uint256","name":"takerGives","type":"uint256"},
    {"internalType":"uint256","name":"gasreq","type":"uint256"},
    {"internalType":"bool","name":"fillWants","type":"bool"}
  ],"name":"snipe","outputs":[
    {"internalType":"bool","name":"success","type":"bool"},
    {"internalType":"uint256","name":"takerGot","type":"uint256"},
    {"internalType":"uint256","name":"takerGave","type":"uint256"}
  ],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[
    {"internalType":"address","name":"outbound_tkn","type":"address"},
    {"internalType":"address","name":"inbound_tkn","type":"address"},
    {"internalType":"uint256","name":"fee","type":"uint256"},
    {"internalType":"uint256","name":"density","type":"uint256"},
    {"internalType":"uint256","name":"overhead_gasbase","type":"uint256"},
    {"internalType":"uint256","name":"offer_gasbase","type":"uint256"}
  ],"name":"activate","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

const readerABIJSON = `[
  {"inputs":[
    {"internalType":"address","name":"outbound_tkn","type":"address"},
    {"internalType":"address","name":"inbound_tkn","type":"address"},
    {"internalType":"uint256","name":"fromId","type":"uint256"},
    {"internalType":"uint256","name":"maxOffers","type":"uint256"}
  ],"name":"book","outputs":[
    {"internalType":"uint256","name":"nextId","type":"uint256"},
    {"internalType":"uint256[]","name":"ids","type":"uint256[]"},
    {"components":[
      {"internalType":"uint256","name":"prev","type":"uint256"},
      {"internalType":"uint256","name":"next","type":"uint256"},
      {"internalType":"uint256","name":"wants","type":"uint256"},
      {"internalType":"uint256","name":"gives","type":"uint256"},
      {"internalType":"uint256","name":"gasprice","type":"uint256"}
    ],"internalType":"struct ConfigStructs.Offer[]","name":"offers","type":"tuple[]"},
    {"components":[
      {"internalType":"address","name":"maker","type":"address"},
      {"internalType":"uint256","name":"gasreq","type":"uint256"},
      {"internalType":"uint256","name":"overhead_gasbase","type":"uint256"},
      {"internalType":"uint256","name":"offer_gasbase","type":"uint256"}
    ],"internalType":"struct ConfigStructs.OfferDetail[]","name":"details","type":"tuple[]"}
  ],"stateMutability":"view","type":"function"}
]`

const oracleABIJSON = `[
  {"inputs":[{"internalType":"uint256","name":"gasPrice","type":"uint256"}],"name":"setGasPrice","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

type abis struct {
	mangrove abi.ABI
	reader   abi.ABI
	oracle   abi.ABI
}

var (
	parsedOnce sync.Once
	parsed     abis
	parseErr   error
)

func contractABIs() (abis, error) {
	parsedOnce.Do(func() {
		if parsed.mangrove, parseErr = abi.JSON(strings.NewReader(mangroveABIJSON)); parseErr != nil {
			parseErr = fmt.Errorf("mangrove abi parse: %w", parseErr)
			return
		}
		if parsed.reader, parseErr = abi.JSON(strings.NewReader(readerABIJSON)); parseErr != nil {
			parseErr = fmt.Errorf("reader abi parse: %w", parseErr)
			return
		}
		if parsed.oracle, parseErr = abi.JSON(strings.NewReader(oracleABIJSON)); parseErr != nil {
			parseErr = fmt.Errorf("oracle abi parse: %w", parseErr)
		}
	})
	return parsed, parseErr
}
