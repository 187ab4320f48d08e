package switchboard

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Packed layout of the aggregator account body (after the discriminator).
// All integers are little-endian and no field is padded.
//
//	offset  size  field
//	     0    32  name
//	    32   128  metadata
//	   160    32  reserved1
//	   192    32  queue_pubkey
//	   224     4  oracle_request_batch_size
//	   228     4  min_oracle_results
//	   232     4  min_job_results
//	   236     4  min_update_delay_seconds
//	   240     8  start_after
//	   248    20  variance_threshold
//	   268     8  force_report_period
//	   276     8  expiration
//	   284     8  consecutive_failure_count
//	   292     8  next_allowed_update_time
//	   300     1  is_locked
//	   301    32  crank_pubkey
//	   333  1097  latest_confirmed_round
//	  1430  1097  current_round
//	  2527   512  job_pubkeys_data
//	  3039   512  job_hashes
//	  3551     4  job_pubkeys_size
//	  3555    32  jobs_checksum
//	  3587    32  authority
//	  3619    32  history_buffer
//	  3651    20  previous_confirmed_round_result
//	  3671     8  previous_confirmed_round_slot
//	  3679     1  disable_crank
//	  3680    16  job_weights
//	  3696     8  creation_timestamp
//	  3704     1  resolution_mode
//	  3705   138  ebuf
const (
	DiscriminatorSize = 8
	PubkeySize        = 32
	HashSize          = 32
	MaxOracles        = 16
	MaxJobs           = 16

	// RoundSize is the packed size of an AggregatorRound.
	RoundSize = 4 + 4 + 1 + 8 + 8 + 4*DecimalSize +
		MaxOracles*PubkeySize + MaxOracles*DecimalSize + MaxOracles*8 + MaxOracles + MaxOracles

	// AggregatorBodySize is the packed size of the account body.
	AggregatorBodySize = 3843
	// AggregatorAccountSize includes the discriminator.
	AggregatorAccountSize = DiscriminatorSize + AggregatorBodySize

	offMinOracleResults     = 228
	offLatestConfirmedRound = 333
	offCurrentRound         = offLatestConfirmedRound + RoundSize
	offResolutionMode       = 3704
	ebufSize                = 138
)

func leUint32(b []byte) uint32 { return binary.LittleEndian.Uint32(b) }

func putLEUint32(b []byte, v uint32) { binary.LittleEndian.PutUint32(b, v) }

// layoutReader walks a packed buffer. Every access is bounds-checked; the
// first failure sticks and later reads return zero values.
type layoutReader struct {
	buf []byte
	off int
	err error
}

func (r *layoutReader) take(n int) []byte {
	if r.err != nil {
		return make([]byte, n)
	}
	if r.off+n > len(r.buf) {
		r.err = fmt.Errorf("%w: %d byte field at offset %d overruns %d byte buffer",
			ErrAccountDeserialization, n, r.off, len(r.buf))
		return make([]byte, n)
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *layoutReader) bytesInto(dst []byte) {
	copy(dst, r.take(len(dst)))
}

func (r *layoutReader) u8() uint8 { return r.take(1)[0] }

func (r *layoutReader) bool() bool {
	at := r.off
	v := r.u8()
	if v > 1 && r.err == nil {
		r.err = fmt.Errorf("%w: invalid bool byte %d at offset %d", ErrAccountDeserialization, v, at)
	}
	return v == 1
}

func (r *layoutReader) u32() uint32 { return binary.LittleEndian.Uint32(r.take(4)) }

func (r *layoutReader) u64() uint64 { return binary.LittleEndian.Uint64(r.take(8)) }

func (r *layoutReader) i64() int64 { return int64(r.u64()) }

func (r *layoutReader) decimal() SwitchboardDecimal { return decodeDecimal(r.take(DecimalSize)) }

func (r *layoutReader) pubkey() solana.PublicKey {
	var pk solana.PublicKey
	r.bytesInto(pk[:])
	return pk
}

// layoutWriter is the inverse of layoutReader over a pre-sized buffer.
type layoutWriter struct {
	buf []byte
	off int
}

func (w *layoutWriter) next(n int) []byte {
	b := w.buf[w.off : w.off+n]
	w.off += n
	return b
}

func (w *layoutWriter) bytes(src []byte) { copy(w.next(len(src)), src) }

func (w *layoutWriter) u8(v uint8) { w.next(1)[0] = v }

func (w *layoutWriter) bool(v bool) {
	if v {
		w.u8(1)
		return
	}
	w.u8(0)
}

func (w *layoutWriter) u32(v uint32) { binary.LittleEndian.PutUint32(w.next(4), v) }

func (w *layoutWriter) u64(v uint64) { binary.LittleEndian.PutUint64(w.next(8), v) }

func (w *layoutWriter) i64(v int64) { w.u64(uint64(v)) }

func (w *layoutWriter) decimal(d SwitchboardDecimal) { d.put(w.next(DecimalSize)) }

func (w *layoutWriter) pubkey(pk solana.PublicKey) { w.bytes(pk[:]) }
