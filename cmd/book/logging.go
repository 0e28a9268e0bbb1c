package main

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/mangrovedao/mangrove-archive-sub000/internal/jsonl"
	"github.com/mangrovedao/mangrove-archive-sub000/internal/market"
)

type offerRecord struct {
	ID     uint64 `json:"id"`
	Prev   uint64 `json:"prev,omitempty"`
	Next   uint64 `json:"next,omitempty"`
	Maker  string `json:"maker,omitempty"`
	Wants  string `json:"wants"`
	Gives  string `json:"gives"`
	Volume string `json:"volume"`
	Price  string `json:"price"`
	Gasreq uint64 `json:"gasreq,omitempty"`
}

type bookRecord struct {
	TsMs   int64  `json:"ts_ms"`
	Event  string `json:"event"` // snapshot | OfferWrite | OfferFail | OfferSuccess | OfferRetract
	Market string `json:"market"`
	Side   string `json:"side,omitempty"`

	Offer *offerRecord `json:"offer,omitempty"`

	Taker      string `json:"taker,omitempty"`
	TakerWants string `json:"taker_wants,omitempty"`
	TakerGives string `json:"taker_gives,omitempty"`
	Status     string `json:"status,omitempty"`

	TxHash string `json:"tx_hash,omitempty"`
	Block  uint64 `json:"block,omitempty"`

	Asks []offerRecord `json:"asks,omitempty"`
	Bids []offerRecord `json:"bids,omitempty"`
}

func toOfferRecord(o market.Offer) offerRecord {
	rec := offerRecord{
		ID:     o.ID,
		Prev:   o.Prev,
		Next:   o.Next,
		Wants:  o.Wants.String(),
		Gives:  o.Gives.String(),
		Volume: o.Volume.String(),
		Price:  o.Price.String(),
		Gasreq: o.Gasreq,
	}
	if o.Maker != (common.Address{}) {
		rec.Maker = o.Maker.Hex()
	}
	return rec
}

func toOfferRecords(offers []market.Offer) []offerRecord {
	out := make([]offerRecord, len(offers))
	for i, o := range offers {
		out[i] = toOfferRecord(o)
	}
	return out
}

func snapshotRecord(name string, asks, bids []market.Offer) bookRecord {
	return bookRecord{
		TsMs:   time.Now().UnixMilli(),
		Event:  "snapshot",
		Market: name,
		Asks:   toOfferRecords(asks),
		Bids:   toOfferRecords(bids),
	}
}

func eventRecord(name string, ev market.BookEvent) bookRecord {
	offer := toOfferRecord(ev.Offer)
	rec := bookRecord{
		TsMs:   time.Now().UnixMilli(),
		Event:  string(ev.Type),
		Market: name,
		Side:   ev.Side.String(),
		Offer:  &offer,
		Status: ev.StatusCode,
		TxHash: ev.Log.TxHash.Hex(),
		Block:  ev.Log.BlockNumber,
	}
	if ev.Type == market.OfferFail || ev.Type == market.OfferSuccess {
		rec.Taker = ev.Taker.Hex()
		rec.TakerWants = ev.TakerWants.String()
		rec.TakerGives = ev.TakerGives.String()
	}
	return rec
}

func writeRecord(w *jsonl.Writer, log *zap.Logger, rec bookRecord) {
	if err := w.Write(rec); err != nil {
		log.Warn("book record write failed", zap.Error(err))
	}
}
