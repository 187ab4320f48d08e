package switchboard

import (
	"bytes"
	"encoding/binary"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/shopspring/decimal"
)

// BorshDecimal is the serialisable twin of SwitchboardDecimal, used when a
// price travels as an instruction argument instead of account memory.
// Wire form: i128 little-endian (low word first) followed by u32 little-endian.
type BorshDecimal struct {
	Mantissa Int128
	Scale    uint32
}

// ToBorsh converts d to its wire form.
func (d SwitchboardDecimal) ToBorsh() BorshDecimal {
	return BorshDecimal{Mantissa: d.Mantissa, Scale: d.Scale}
}

// FromBorsh converts a wire decimal back; the inverse of ToBorsh.
func FromBorsh(b BorshDecimal) SwitchboardDecimal {
	return SwitchboardDecimal{Mantissa: b.Mantissa, Scale: b.Scale}
}

// Switchboard is FromBorsh as a method.
func (b BorshDecimal) Switchboard() SwitchboardDecimal { return FromBorsh(b) }

// BorshDecimalFromDecimal takes the coefficient and scale of d verbatim.
func BorshDecimalFromDecimal(d decimal.Decimal) (BorshDecimal, error) {
	sd, err := DecimalFromDecimal(d)
	if err != nil {
		return BorshDecimal{}, err
	}
	return sd.ToBorsh(), nil
}

// ToDecimal moves b into the arbitrary-precision domain.
func (b BorshDecimal) ToDecimal() (decimal.Decimal, error) {
	return FromBorsh(b).ToDecimal()
}

// MarshalWithEncoder implements bin.BinaryMarshaler.
func (b BorshDecimal) MarshalWithEncoder(encoder *bin.Encoder) error {
	if err := encoder.WriteUint64(b.Mantissa.Lo(), binary.LittleEndian); err != nil {
		return err
	}
	if err := encoder.WriteUint64(uint64(b.Mantissa.Hi()), binary.LittleEndian); err != nil {
		return err
	}
	return encoder.WriteUint32(b.Scale, binary.LittleEndian)
}

// UnmarshalWithDecoder implements bin.BinaryUnmarshaler.
func (b *BorshDecimal) UnmarshalWithDecoder(decoder *bin.Decoder) error {
	lo, err := decoder.ReadUint64(binary.LittleEndian)
	if err != nil {
		return fmt.Errorf("%w: mantissa: %s", ErrAccountDeserialization, err.Error())
	}
	hi, err := decoder.ReadUint64(binary.LittleEndian)
	if err != nil {
		return fmt.Errorf("%w: mantissa: %s", ErrAccountDeserialization, err.Error())
	}
	scale, err := decoder.ReadUint32(binary.LittleEndian)
	if err != nil {
		return fmt.Errorf("%w: scale: %s", ErrAccountDeserialization, err.Error())
	}
	b.Mantissa = Int128FromWords(int64(hi), lo)
	b.Scale = scale
	return nil
}

// MarshalBinary returns the 20 byte Borsh encoding.
func (b BorshDecimal) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := bin.NewBorshEncoder(&buf).Encode(b); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes exactly one Borsh-encoded decimal.
func (b *BorshDecimal) UnmarshalBinary(data []byte) error {
	if len(data) != DecimalSize {
		return fmt.Errorf("%w: wire decimal is %d bytes, want %d", ErrAccountDeserialization, len(data), DecimalSize)
	}
	return bin.NewBorshDecoder(data).Decode(b)
}

func (b BorshDecimal) String() string { return FromBorsh(b).String() }

var (
	_ bin.BinaryMarshaler   = BorshDecimal{}
	_ bin.BinaryUnmarshaler = (*BorshDecimal)(nil)
)
