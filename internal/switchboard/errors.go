// Package switchboard interprets Switchboard V2 aggregator accounts and the
// fixed-scale decimals they carry.
package switchboard

import "errors"

var (
	// ErrInvalidAggregatorRound indicates the latest confirmed round did not reach quorum.
	ErrInvalidAggregatorRound = errors.New("aggregator is not currently populated with a valid round")
	// ErrInvalidStrDecimalConversion indicates a string could not be parsed as a decimal.
	ErrInvalidStrDecimalConversion = errors.New("failed to convert string to decimal format")
	// ErrDecimalConversion indicates a mantissa/scale pair is not representable in the target domain.
	ErrDecimalConversion = errors.New("decimal conversion method failed")
	// ErrIntegerOverflow indicates a value does not fit the target integer width.
	ErrIntegerOverflow = errors.New("an integer overflow occurred")
	// ErrAccountDiscriminatorMismatch indicates the account is not an aggregator.
	ErrAccountDiscriminatorMismatch = errors.New("account discriminator did not match")
	// ErrAccountDeserialization indicates the account bytes do not match the expected shape.
	ErrAccountDeserialization = errors.New("failed to deserialize account")
)

// Custom program error codes as reported by the on-chain program.
const (
	CodeInvalidAggregatorRound       uint32 = 6000
	CodeInvalidStrDecimalConversion  uint32 = 6001
	CodeDecimalConversionError       uint32 = 6002
	CodeIntegerOverflowError         uint32 = 6003
	CodeAccountDiscriminatorMismatch uint32 = 6004
	CodeAccountDeserializationError  uint32 = 6008
)

var errorCodes = []struct {
	err  error
	code uint32
}{
	{ErrInvalidAggregatorRound, CodeInvalidAggregatorRound},
	{ErrInvalidStrDecimalConversion, CodeInvalidStrDecimalConversion},
	{ErrDecimalConversion, CodeDecimalConversionError},
	{ErrIntegerOverflow, CodeIntegerOverflowError},
	{ErrAccountDiscriminatorMismatch, CodeAccountDiscriminatorMismatch},
	{ErrAccountDeserialization, CodeAccountDeserializationError},
}

// ErrorCode maps an error raised by this package to its program error code.
func ErrorCode(err error) (uint32, bool) {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code, true
		}
	}
	return 0, false
}
