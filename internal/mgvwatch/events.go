// Package mgvwatch decodes the exchange's offer-lifecycle logs into typed
// events.
package mgvwatch

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/mangrovedao/mangrove-archive-sub000/internal/ethutil"
)

var ErrUnknownEvent = errors.New("unknown event")

var (
	OfferWriteTopic   = crypto.Keccak256Hash([]byte("OfferWrite(address,address,address,uint256,uint256,uint256,uint256,uint256,uint256)"))
	OfferFailTopic    = crypto.Keccak256Hash([]byte("OfferFail(address,address,uint256,address,uint256,uint256,bytes32,bytes32)"))
	OfferSuccessTopic = crypto.Keccak256Hash([]byte("OfferSuccess(address,address,uint256,address,uint256,uint256)"))
	OfferRetractTopic = crypto.Keccak256Hash([]byte("OfferRetract(address,address,uint256)"))
	SetGasbaseTopic   = crypto.Keccak256Hash([]byte("SetGasbase(address,address,uint256,uint256)"))
)

// Topics returns the signature topics of every event DecodeLog understands.
func Topics() []common.Hash {
	return []common.Hash{OfferWriteTopic, OfferFailTopic, OfferSuccessTopic, OfferRetractTopic, SetGasbaseTopic}
}

// Meta carries what every event shares: the directed token pair it is scoped
// to and where the log sits on chain.
type Meta struct {
	Outbound common.Address
	Inbound  common.Address

	TxHash      common.Hash
	BlockHash   common.Hash
	BlockNumber uint64
	LogIndex    uint
	Removed     bool
}

func (m Meta) meta() Meta { return m }

// Event is one of OfferWrite, OfferFail, OfferSuccess, OfferRetract or
// SetGasbase.
type Event interface {
	meta() Meta
}

// MetaOf returns the shared fields of ev.
func MetaOf(ev Event) Meta { return ev.meta() }

type OfferWrite struct {
	Meta
	Maker    common.Address
	Wants    *big.Int
	Gives    *big.Int
	Gasprice uint64
	Gasreq   uint64
	ID       uint64
	Prev     uint64
}

type OfferFail struct {
	Meta
	ID         uint64
	Taker      common.Address
	TakerWants *big.Int
	TakerGives *big.Int
	StatusCode [32]byte
	MakerData  [32]byte
}

type OfferSuccess struct {
	Meta
	ID         uint64
	Taker      common.Address
	TakerWants *big.Int
	TakerGives *big.Int
}

type OfferRetract struct {
	Meta
	ID uint64
}

type SetGasbase struct {
	Meta
	OverheadGasbase uint64
	OfferGasbase    uint64
}

// number of 32-byte data words per event
var dataWords = map[common.Hash]int{
	OfferWriteTopic:   7,
	OfferFailTopic:    6,
	OfferSuccessTopic: 4,
	OfferRetractTopic: 1,
	SetGasbaseTopic:   2,
}

// DecodeLog decodes one exchange log.
func DecodeLog(vLog types.Log) (Event, error) {
	// topics:
	// 0: event sig
	// 1: outbound token (address indexed)
	// 2: inbound token (address indexed)
	if len(vLog.Topics) < 1 {
		return nil, fmt.Errorf("%w: no topics", ErrUnknownEvent)
	}
	sig := vLog.Topics[0]
	words, ok := dataWords[sig]
	if !ok {
		return nil, fmt.Errorf("%w: topic %s", ErrUnknownEvent, sig.Hex())
	}
	if len(vLog.Topics) < 3 {
		return nil, fmt.Errorf("unexpected topics len=%d", len(vLog.Topics))
	}
	if len(vLog.Data) < 32*words {
		return nil, fmt.Errorf("unexpected data len=%d", len(vLog.Data))
	}

	meta := Meta{
		Outbound:    ethutil.TopicAddress(vLog.Topics[1]),
		Inbound:     ethutil.TopicAddress(vLog.Topics[2]),
		TxHash:      vLog.TxHash,
		BlockHash:   vLog.BlockHash,
		BlockNumber: vLog.BlockNumber,
		LogIndex:    vLog.Index,
		Removed:     vLog.Removed,
	}

	d := wordReader(vLog.Data)

	switch sig {
	case OfferWriteTopic:
		ev := OfferWrite{
			Meta:  meta,
			Maker: d.address(0),
			Wants: d.u256(1),
			Gives: d.u256(2),
		}
		var err error
		if ev.Gasprice, err = d.u64(3, "gasprice"); err != nil {
			return nil, err
		}
		if ev.Gasreq, err = d.u64(4, "gasreq"); err != nil {
			return nil, err
		}
		if ev.ID, err = d.u64(5, "id"); err != nil {
			return nil, err
		}
		if ev.Prev, err = d.u64(6, "prev"); err != nil {
			return nil, err
		}
		return ev, nil

	case OfferFailTopic:
		id, err := d.u64(0, "id")
		if err != nil {
			return nil, err
		}
		return OfferFail{
			Meta:       meta,
			ID:         id,
			Taker:      d.address(1),
			TakerWants: d.u256(2),
			TakerGives: d.u256(3),
			StatusCode: d.bytes32(4),
			MakerData:  d.bytes32(5),
		}, nil

	case OfferSuccessTopic:
		id, err := d.u64(0, "id")
		if err != nil {
			return nil, err
		}
		return OfferSuccess{
			Meta:       meta,
			ID:         id,
			Taker:      d.address(1),
			TakerWants: d.u256(2),
			TakerGives: d.u256(3),
		}, nil

	case OfferRetractTopic:
		id, err := d.u64(0, "id")
		if err != nil {
			return nil, err
		}
		return OfferRetract{Meta: meta, ID: id}, nil

	default: // SetGasbaseTopic
		overhead, err := d.u64(0, "overhead_gasbase")
		if err != nil {
			return nil, err
		}
		offer, err := d.u64(1, "offer_gasbase")
		if err != nil {
			return nil, err
		}
		return SetGasbase{Meta: meta, OverheadGasbase: overhead, OfferGasbase: offer}, nil
	}
}

type wordReader []byte

func (d wordReader) word(i int) []byte {
	return d[i*32 : (i+1)*32]
}

func (d wordReader) u256(i int) *big.Int {
	return new(big.Int).SetBytes(d.word(i))
}

func (d wordReader) u64(i int, field string) (uint64, error) {
	v := d.u256(i)
	if !v.IsUint64() {
		return 0, fmt.Errorf("%s overflows uint64: %s", field, v)
	}
	return v.Uint64(), nil
}

func (d wordReader) address(i int) common.Address {
	return common.BytesToAddress(d.word(i))
}

func (d wordReader) bytes32(i int) [32]byte {
	var out [32]byte
	copy(out[:], d.word(i))
	return out
}

// Status renders a bytes32 status code as text, dropping the zero padding.
func Status(code [32]byte) string {
	n := len(code)
	for n > 0 && code[n-1] == 0 {
		n--
	}
	return string(code[:n])
}
