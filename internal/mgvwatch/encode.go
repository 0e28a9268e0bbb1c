package mgvwatch

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// EncodeLog builds the log the exchange at emitter would emit for ev. It is
// the inverse of DecodeLog and is used to drive replicas from simulated
// chains.
func EncodeLog(emitter common.Address, ev Event) (types.Log, error) {
	m := ev.meta()

	var (
		sig   common.Hash
		words [][]byte
	)
	switch e := ev.(type) {
	case OfferWrite:
		sig = OfferWriteTopic
		words = [][]byte{addrWord(e.Maker), bigWord(e.Wants), bigWord(e.Gives), u64Word(e.Gasprice), u64Word(e.Gasreq), u64Word(e.ID), u64Word(e.Prev)}
	case OfferFail:
		sig = OfferFailTopic
		words = [][]byte{u64Word(e.ID), addrWord(e.Taker), bigWord(e.TakerWants), bigWord(e.TakerGives), e.StatusCode[:], e.MakerData[:]}
	case OfferSuccess:
		sig = OfferSuccessTopic
		words = [][]byte{u64Word(e.ID), addrWord(e.Taker), bigWord(e.TakerWants), bigWord(e.TakerGives)}
	case OfferRetract:
		sig = OfferRetractTopic
		words = [][]byte{u64Word(e.ID)}
	case SetGasbase:
		sig = SetGasbaseTopic
		words = [][]byte{u64Word(e.OverheadGasbase), u64Word(e.OfferGasbase)}
	default:
		return types.Log{}, fmt.Errorf("%w: %T", ErrUnknownEvent, ev)
	}

	data := make([]byte, 0, 32*len(words))
	for _, w := range words {
		data = append(data, w...)
	}

	return types.Log{
		Address: emitter,
		Topics: []common.Hash{
			sig,
			common.BytesToHash(m.Outbound.Bytes()),
			common.BytesToHash(m.Inbound.Bytes()),
		},
		Data:        data,
		BlockNumber: m.BlockNumber,
		TxHash:      m.TxHash,
		BlockHash:   m.BlockHash,
		Index:       m.LogIndex,
		Removed:     m.Removed,
	}, nil
}

// StatusCode pads s into a bytes32 status code.
func StatusCode(s string) [32]byte {
	var out [32]byte
	copy(out[:], s)
	return out
}

func bigWord(v *big.Int) []byte {
	if v == nil {
		v = new(big.Int)
	}
	return v.FillBytes(make([]byte, 32))
}

func u64Word(v uint64) []byte {
	return new(big.Int).SetUint64(v).FillBytes(make([]byte, 32))
}

func addrWord(a common.Address) []byte {
	return common.LeftPadBytes(a.Bytes(), 32)
}
