package switchboard

import (
	"fmt"
	"math"
	"math/big"

	"github.com/shopspring/decimal"
)

// MaxScale is the largest scale accepted when a SwitchboardDecimal enters the
// arbitrary-precision domain. The oracle network never publishes more.
const MaxScale uint32 = 28

// DecimalSize is the packed size of a SwitchboardDecimal in account memory.
const DecimalSize = 20

// SwitchboardDecimal is a fixed-scale decimal: Mantissa * 10^-Scale.
//
// Values compare structurally with ==, so 1.50 {150, 2} and 1.5 {15, 1} are
// different values; Cmp and friends compare numerically.
type SwitchboardDecimal struct {
	Mantissa Int128
	Scale    uint32
}

// NewDecimal builds a decimal from its raw parts.
func NewDecimal(mantissa Int128, scale uint32) SwitchboardDecimal {
	return SwitchboardDecimal{Mantissa: mantissa, Scale: scale}
}

// NewDecimalFromInt64 is a shorthand for small literal mantissas.
func NewDecimalFromInt64(mantissa int64, scale uint32) SwitchboardDecimal {
	return NewDecimal(Int128FromInt64(mantissa), scale)
}

// maxFoldExponent is the largest power of ten an i128 mantissa can absorb.
const maxFoldExponent = 38

// DecimalFromDecimal takes the coefficient and exponent of d verbatim.
// A positive exponent is folded into the mantissa at scale 0; a zero
// coefficient folds to zero whatever its exponent.
func DecimalFromDecimal(d decimal.Decimal) (SwitchboardDecimal, error) {
	coef := d.Coefficient()
	exp := d.Exponent()
	var scale uint32
	if exp > 0 {
		if coef.Sign() == 0 {
			return SwitchboardDecimal{}, nil
		}
		if exp > maxFoldExponent {
			return SwitchboardDecimal{}, fmt.Errorf("%w: exponent %d exceeds %d", ErrDecimalConversion, exp, maxFoldExponent)
		}
		coef.Mul(coef, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exp)), nil))
	} else {
		scale = uint32(-int64(exp))
	}
	if scale > MaxScale {
		return SwitchboardDecimal{}, fmt.Errorf("%w: scale %d exceeds %d", ErrDecimalConversion, scale, MaxScale)
	}
	mantissa, err := Int128FromBig(coef)
	if err != nil {
		return SwitchboardDecimal{}, fmt.Errorf("%w: %s", ErrDecimalConversion, err.Error())
	}
	return NewDecimal(mantissa, scale), nil
}

// DecimalFromFloat64 converts f through its shortest decimal representation.
// The conversion is lossy for values without an exact binary form.
func DecimalFromFloat64(f float64) (SwitchboardDecimal, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return SwitchboardDecimal{}, fmt.Errorf("%w: %v is not finite", ErrDecimalConversion, f)
	}
	return DecimalFromDecimal(decimal.NewFromFloat(f))
}

// DecimalFromString parses s, e.g. "123.456" or "-1e-3".
func DecimalFromString(s string) (SwitchboardDecimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return SwitchboardDecimal{}, fmt.Errorf("%w: %q", ErrInvalidStrDecimalConversion, s)
	}
	return DecimalFromDecimal(d)
}

// ScaleTo returns the mantissa expressed at newScale. Downscaling truncates
// toward zero; it never rounds.
func (d SwitchboardDecimal) ScaleTo(newScale uint32) (Int128, error) {
	switch {
	case d.Scale > newScale:
		factor, err := Pow10(d.Scale - newScale)
		if err != nil {
			return Int128{}, err
		}
		return d.Mantissa.Quo(factor)
	case d.Scale < newScale:
		factor, err := Pow10(newScale - d.Scale)
		if err != nil {
			return Int128{}, err
		}
		return d.Mantissa.Mul(factor)
	default:
		return d.Mantissa, nil
	}
}

// WithScale returns d rescaled to newScale (see ScaleTo).
func (d SwitchboardDecimal) WithScale(newScale uint32) (SwitchboardDecimal, error) {
	mantissa, err := d.ScaleTo(newScale)
	if err != nil {
		return SwitchboardDecimal{}, err
	}
	return NewDecimal(mantissa, newScale), nil
}

// ToDecimal moves d into the arbitrary-precision domain.
func (d SwitchboardDecimal) ToDecimal() (decimal.Decimal, error) {
	if d.Scale > MaxScale {
		return decimal.Decimal{}, fmt.Errorf("%w: scale %d exceeds %d", ErrDecimalConversion, d.Scale, MaxScale)
	}
	return decimal.NewFromBigInt(d.Mantissa.BigInt(), -int32(d.Scale)), nil
}

// Cmp compares d and other by numeric value.
func (d SwitchboardDecimal) Cmp(other SwitchboardDecimal) (int, error) {
	a, err := d.ToDecimal()
	if err != nil {
		return 0, err
	}
	b, err := other.ToDecimal()
	if err != nil {
		return 0, err
	}
	return a.Cmp(b), nil
}

// NumericEqual reports whether d and other denote the same number.
func (d SwitchboardDecimal) NumericEqual(other SwitchboardDecimal) (bool, error) {
	c, err := d.Cmp(other)
	return c == 0, err
}

// LessThan reports d < other.
func (d SwitchboardDecimal) LessThan(other SwitchboardDecimal) (bool, error) {
	c, err := d.Cmp(other)
	return c < 0, err
}

// LessThanOrEqual reports d <= other.
func (d SwitchboardDecimal) LessThanOrEqual(other SwitchboardDecimal) (bool, error) {
	c, err := d.Cmp(other)
	return c <= 0, err
}

// GreaterThan reports d > other.
func (d SwitchboardDecimal) GreaterThan(other SwitchboardDecimal) (bool, error) {
	c, err := d.Cmp(other)
	return c > 0, err
}

// GreaterThanOrEqual reports d >= other.
func (d SwitchboardDecimal) GreaterThanOrEqual(other SwitchboardDecimal) (bool, error) {
	c, err := d.Cmp(other)
	return c >= 0, err
}

// Bool rounds d half-to-even to a whole unit and reports whether it is nonzero.
func (d SwitchboardDecimal) Bool() (bool, error) {
	v, err := d.ToDecimal()
	if err != nil {
		return false, err
	}
	return !v.RoundBank(0).IsZero(), nil
}

// Uint64 truncates d toward zero and returns it as a uint64.
func (d SwitchboardDecimal) Uint64() (uint64, error) {
	v, err := d.ToDecimal()
	if err != nil {
		return 0, err
	}
	whole := v.BigInt()
	if !whole.IsUint64() {
		return 0, fmt.Errorf("%w: %s out of uint64 range", ErrIntegerOverflow, v.String())
	}
	return whole.Uint64(), nil
}

// Int64 truncates d toward zero and returns it as an int64.
func (d SwitchboardDecimal) Int64() (int64, error) {
	v, err := d.ToDecimal()
	if err != nil {
		return 0, err
	}
	whole := v.BigInt()
	if !whole.IsInt64() {
		return 0, fmt.Errorf("%w: %s out of int64 range", ErrIntegerOverflow, v.String())
	}
	return whole.Int64(), nil
}

// Float64 returns the nearest float64.
func (d SwitchboardDecimal) Float64() (float64, error) {
	v, err := d.ToDecimal()
	if err != nil {
		return 0, err
	}
	f, _ := v.Float64()
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, fmt.Errorf("%w: %s not representable as float64", ErrIntegerOverflow, v.String())
	}
	return f, nil
}

// String renders the numeric value; unrepresentable scales fall back to the raw parts.
func (d SwitchboardDecimal) String() string {
	v, err := d.ToDecimal()
	if err != nil {
		return fmt.Sprintf("%se-%d", d.Mantissa.String(), d.Scale)
	}
	return v.String()
}

func decodeDecimal(b []byte) SwitchboardDecimal {
	return SwitchboardDecimal{
		Mantissa: Int128FromLE(b[0:16]),
		Scale:    leUint32(b[16:20]),
	}
}

func (d SwitchboardDecimal) put(b []byte) {
	d.Mantissa.PutLE(b[0:16])
	putLEUint32(b[16:20], d.Scale)
}
