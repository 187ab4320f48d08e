package switchboard

import (
	"encoding/binary"
	"fmt"
	"math/big"
)

// Int128 is a two's complement signed 128-bit integer stored as two words.
// The zero value is 0 and values are comparable with ==.
type Int128 struct {
	hi int64
	lo uint64
}

var (
	// MaxInt128 is 2^127 - 1.
	MaxInt128 = Int128{hi: 1<<63 - 1, lo: 1<<64 - 1}
	// MinInt128 is -2^127.
	MinInt128 = Int128{hi: -1 << 63, lo: 0}

	bigMaxInt128 = MaxInt128.BigInt()
	bigMinInt128 = MinInt128.BigInt()

	// pow10 holds every power of ten representable in 128 bits (10^0 .. 10^38).
	pow10 = buildPow10()
)

func buildPow10() []Int128 {
	out := make([]Int128, 0, 39)
	ten := big.NewInt(10)
	v := big.NewInt(1)
	for v.Cmp(bigMaxInt128) <= 0 {
		out = append(out, int128FromBigUnchecked(v))
		v = new(big.Int).Mul(v, ten)
	}
	return out
}

// Int128FromInt64 widens v.
func Int128FromInt64(v int64) Int128 {
	hi := int64(0)
	if v < 0 {
		hi = -1
	}
	return Int128{hi: hi, lo: uint64(v)}
}

// Int128FromWords builds a value from its high and low words.
func Int128FromWords(hi int64, lo uint64) Int128 {
	return Int128{hi: hi, lo: lo}
}

// Int128FromBig converts v, failing with ErrIntegerOverflow when it does not fit.
func Int128FromBig(v *big.Int) (Int128, error) {
	if v.Cmp(bigMaxInt128) > 0 || v.Cmp(bigMinInt128) < 0 {
		return Int128{}, fmt.Errorf("%w: %d-bit value does not fit in 128 bits", ErrIntegerOverflow, v.BitLen())
	}
	return int128FromBigUnchecked(v), nil
}

func int128FromBigUnchecked(v *big.Int) Int128 {
	mod := new(big.Int).Lsh(big.NewInt(1), 128)
	u := new(big.Int).Set(v)
	if u.Sign() < 0 {
		u.Add(u, mod)
	}
	lo := new(big.Int).And(u, new(big.Int).SetUint64(1<<64-1)).Uint64()
	hi := new(big.Int).Rsh(u, 64).Uint64()
	return Int128{hi: int64(hi), lo: lo}
}

// Int128FromLE decodes 16 little-endian bytes (low word first).
func Int128FromLE(b []byte) Int128 {
	return Int128{
		lo: binary.LittleEndian.Uint64(b[0:8]),
		hi: int64(binary.LittleEndian.Uint64(b[8:16])),
	}
}

// PutLE writes the value into b as 16 little-endian bytes.
func (i Int128) PutLE(b []byte) {
	binary.LittleEndian.PutUint64(b[0:8], i.lo)
	binary.LittleEndian.PutUint64(b[8:16], uint64(i.hi))
}

// Hi returns the high word.
func (i Int128) Hi() int64 { return i.hi }

// Lo returns the low word.
func (i Int128) Lo() uint64 { return i.lo }

// Sign returns -1, 0 or +1.
func (i Int128) Sign() int {
	switch {
	case i.hi < 0:
		return -1
	case i.hi == 0 && i.lo == 0:
		return 0
	default:
		return 1
	}
}

// IsZero reports whether i == 0.
func (i Int128) IsZero() bool { return i.hi == 0 && i.lo == 0 }

// BigInt returns i as a newly allocated big.Int.
func (i Int128) BigInt() *big.Int {
	v := new(big.Int).SetInt64(i.hi)
	v.Lsh(v, 64)
	return v.Add(v, new(big.Int).SetUint64(i.lo))
}

// Cmp compares i and j as signed integers.
func (i Int128) Cmp(j Int128) int {
	switch {
	case i.hi < j.hi:
		return -1
	case i.hi > j.hi:
		return 1
	case i.lo < j.lo:
		return -1
	case i.lo > j.lo:
		return 1
	default:
		return 0
	}
}

// Mul returns i*j or ErrIntegerOverflow.
func (i Int128) Mul(j Int128) (Int128, error) {
	return Int128FromBig(new(big.Int).Mul(i.BigInt(), j.BigInt()))
}

// Quo returns i/j truncated toward zero. Division by zero and MinInt128/-1
// are reported as errors.
func (i Int128) Quo(j Int128) (Int128, error) {
	if j.IsZero() {
		return Int128{}, fmt.Errorf("%w: division by zero", ErrIntegerOverflow)
	}
	return Int128FromBig(new(big.Int).Quo(i.BigInt(), j.BigInt()))
}

// Pow10 returns 10^n, failing when n > 38.
func Pow10(n uint32) (Int128, error) {
	if uint64(n) >= uint64(len(pow10)) {
		return Int128{}, fmt.Errorf("%w: 10^%d does not fit in 128 bits", ErrIntegerOverflow, n)
	}
	return pow10[n], nil
}

func (i Int128) String() string {
	return i.BigInt().String()
}
