package switchboard

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInt128_BigRoundTrip(t *testing.T) {
	for _, s := range []string{
		"0", "1", "-1", "18446744073709551616", "-18446744073709551617",
		"170141183460469231731687303715884105727",
		"-170141183460469231731687303715884105728",
	} {
		v, ok := new(big.Int).SetString(s, 10)
		require.True(t, ok)
		i, err := Int128FromBig(v)
		require.NoError(t, err, s)
		assert.Equal(t, s, i.String())
	}

	tooBig, _ := new(big.Int).SetString("170141183460469231731687303715884105728", 10)
	_, err := Int128FromBig(tooBig)
	assert.ErrorIs(t, err, ErrIntegerOverflow)
}

func TestInt128_LittleEndian(t *testing.T) {
	buf := make([]byte, 16)
	Int128FromInt64(-2).PutLE(buf)
	assert.Equal(t, Int128FromInt64(-2), Int128FromLE(buf))
	assert.Equal(t, byte(0xfe), buf[0])
	assert.Equal(t, byte(0xff), buf[15])
}

func TestInt128_Arithmetic(t *testing.T) {
	p, err := Int128FromInt64(-7).Mul(Int128FromInt64(6))
	require.NoError(t, err)
	assert.Equal(t, Int128FromInt64(-42), p)

	q, err := Int128FromInt64(-7).Quo(Int128FromInt64(2))
	require.NoError(t, err)
	assert.Equal(t, Int128FromInt64(-3), q)

	_, err = MinInt128.Quo(Int128FromInt64(-1))
	assert.ErrorIs(t, err, ErrIntegerOverflow)

	_, err = Int128FromInt64(1).Quo(Int128{})
	assert.ErrorIs(t, err, ErrIntegerOverflow)

	assert.Equal(t, -1, MinInt128.Cmp(MaxInt128))
	assert.Equal(t, 1, Int128FromInt64(0).Cmp(Int128FromInt64(-1)))
	assert.Equal(t, -1, MinInt128.Sign())
}

func TestPow10(t *testing.T) {
	p, err := Pow10(38)
	require.NoError(t, err)
	assert.Equal(t, "100000000000000000000000000000000000000", p.String())

	_, err = Pow10(39)
	assert.ErrorIs(t, err, ErrIntegerOverflow)
}
