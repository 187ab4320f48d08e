package switchboard

import (
	"time"

	"github.com/gagliardetto/solana-go"
)

// AggregatorRound is one update round of an aggregator. Index i of the
// per-oracle arrays always describes the same oracle.
type AggregatorRound struct {
	// NumSuccess counts successful responses; an oracle submits at most one per round.
	NumSuccess uint32
	NumError   uint32
	IsClosed   bool
	// RoundOpenSlot is the slot the round was opened at.
	RoundOpenSlot uint64
	// RoundOpenTimestamp is the unix time the round was opened at.
	RoundOpenTimestamp int64
	// Result is the median of all successful responses.
	Result       SwitchboardDecimal
	StdDeviation SwitchboardDecimal
	MinResponse  SwitchboardDecimal
	MaxResponse  SwitchboardDecimal

	OracleKeys       [MaxOracles]solana.PublicKey
	Medians          [MaxOracles]SwitchboardDecimal
	CurrentPayout    [MaxOracles]int64
	MediansFulfilled [MaxOracles]bool
	ErrorsFulfilled  [MaxOracles]bool
}

// OpenedAt returns the round open timestamp as UTC time.
func (r *AggregatorRound) OpenedAt() time.Time {
	return time.Unix(r.RoundOpenTimestamp, 0).UTC()
}

// FulfilledSlots counts oracle slots that reported either a median or an error.
func (r *AggregatorRound) FulfilledSlots() int {
	n := 0
	for i := 0; i < MaxOracles; i++ {
		if r.MediansFulfilled[i] || r.ErrorsFulfilled[i] {
			n++
		}
	}
	return n
}

func (r *AggregatorRound) read(lr *layoutReader) {
	r.NumSuccess = lr.u32()
	r.NumError = lr.u32()
	r.IsClosed = lr.bool()
	r.RoundOpenSlot = lr.u64()
	r.RoundOpenTimestamp = lr.i64()
	r.Result = lr.decimal()
	r.StdDeviation = lr.decimal()
	r.MinResponse = lr.decimal()
	r.MaxResponse = lr.decimal()
	for i := range r.OracleKeys {
		r.OracleKeys[i] = lr.pubkey()
	}
	for i := range r.Medians {
		r.Medians[i] = lr.decimal()
	}
	for i := range r.CurrentPayout {
		r.CurrentPayout[i] = lr.i64()
	}
	for i := range r.MediansFulfilled {
		r.MediansFulfilled[i] = lr.bool()
	}
	for i := range r.ErrorsFulfilled {
		r.ErrorsFulfilled[i] = lr.bool()
	}
}

func (r *AggregatorRound) write(w *layoutWriter) {
	w.u32(r.NumSuccess)
	w.u32(r.NumError)
	w.bool(r.IsClosed)
	w.u64(r.RoundOpenSlot)
	w.i64(r.RoundOpenTimestamp)
	w.decimal(r.Result)
	w.decimal(r.StdDeviation)
	w.decimal(r.MinResponse)
	w.decimal(r.MaxResponse)
	for _, pk := range r.OracleKeys {
		w.pubkey(pk)
	}
	for _, m := range r.Medians {
		w.decimal(m)
	}
	for _, p := range r.CurrentPayout {
		w.i64(p)
	}
	for _, f := range r.MediansFulfilled {
		w.bool(f)
	}
	for _, f := range r.ErrorsFulfilled {
		w.bool(f)
	}
}
