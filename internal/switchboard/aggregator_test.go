package switchboard

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(seed byte) solana.PublicKey {
	var pk solana.PublicKey
	for i := range pk {
		pk[i] = seed + byte(i)
	}
	return pk
}

func sampleAggregator() *AggregatorAccountData {
	a := NewZeroAggregator()
	copy(a.Name[:], "SOL_USD")
	a.QueuePubkey = testKey(1)
	a.OracleRequestBatchSize = 4
	a.MinOracleResults = 3
	a.MinJobResults = 1
	a.MinUpdateDelaySeconds = 30
	a.VarianceThreshold = NewDecimalFromInt64(5, 1)
	a.ForceReportPeriod = 3600
	a.IsLocked = true
	a.CreationTimestamp = 1_650_000_000
	a.ResolutionMode = ModeRoundResolution
	a.LatestConfirmedRound = AggregatorRound{
		NumSuccess:         3,
		NumError:           1,
		IsClosed:           true,
		RoundOpenSlot:      180_000_000,
		RoundOpenTimestamp: 1_700_000_000,
		Result:             NewDecimalFromInt64(2345678, 4),
		StdDeviation:       NewDecimalFromInt64(12, 4),
		MinResponse:        NewDecimalFromInt64(2344000, 4),
		MaxResponse:        NewDecimalFromInt64(2347000, 4),
	}
	a.LatestConfirmedRound.OracleKeys[0] = testKey(40)
	a.LatestConfirmedRound.Medians[0] = NewDecimalFromInt64(2345678, 4)
	a.LatestConfirmedRound.CurrentPayout[0] = -7
	a.LatestConfirmedRound.MediansFulfilled[0] = true
	a.LatestConfirmedRound.ErrorsFulfilled[3] = true
	a.CurrentRound.NumSuccess = 1
	a.CurrentRound.RoundOpenSlot = 180_000_100
	a.JobPubkeys[0] = testKey(80)
	a.JobHashes[0][5] = 0xaa
	a.JobPubkeysSize = 2
	a.Authority = testKey(120)
	a.JobWeights[0] = 1
	a.JobWeights[1] = 2
	a.DisableCrank = true
	return a
}

func TestRoundSize(t *testing.T) {
	assert.Equal(t, 1097, RoundSize)
	assert.Equal(t, 3851, AggregatorAccountSize)
	assert.Equal(t, offLatestConfirmedRound+2*RoundSize+512+512+4+32+32+32+20+8+1+16+8, offResolutionMode)
}

func TestMarshalParse_RoundTrip(t *testing.T) {
	a := sampleAggregator()

	raw, err := a.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, raw, AggregatorAccountSize)

	got, err := ParseAggregator(raw)
	require.NoError(t, err)
	assert.Equal(t, a, got)
	assert.Equal(t, "SOL_USD", got.FeedName())
	assert.Equal(t, 2, got.LatestConfirmedRound.FulfilledSlots())
}

func TestMarshal_FieldOffsets(t *testing.T) {
	a := sampleAggregator()
	a.MinOracleResults = 7
	a.ResolutionMode = ModeSlidingResolution

	raw, err := a.MarshalBinary()
	require.NoError(t, err)
	body := raw[DiscriminatorSize:]

	assert.Equal(t, uint32(7), binary.LittleEndian.Uint32(body[offMinOracleResults:]))
	assert.Equal(t, uint8(ModeSlidingResolution), body[offResolutionMode])
	assert.Equal(t, uint32(3), binary.LittleEndian.Uint32(body[offLatestConfirmedRound:]))
	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(body[offCurrentRound:]))

	result := decodeDecimal(body[offLatestConfirmedRound+25:])
	assert.Equal(t, a.LatestConfirmedRound.Result, result)
}

func TestParseAggregator_Errors(t *testing.T) {
	raw, err := sampleAggregator().MarshalBinary()
	require.NoError(t, err)

	_, err = ParseAggregator(raw[:AggregatorAccountSize-1])
	assert.ErrorIs(t, err, ErrAccountDeserialization)

	wrong := append([]byte(nil), raw...)
	wrong[0] ^= 0xff
	_, err = ParseAggregator(wrong)
	assert.ErrorIs(t, err, ErrAccountDiscriminatorMismatch)

	badMode := append([]byte(nil), raw...)
	badMode[DiscriminatorSize+offResolutionMode] = 2
	_, err = ParseAggregator(badMode)
	assert.ErrorIs(t, err, ErrAccountDeserialization)

	badBool := append([]byte(nil), raw...)
	badBool[DiscriminatorSize+offLatestConfirmedRound+8] = 9
	_, err = ParseAggregator(badBool)
	assert.ErrorIs(t, err, ErrAccountDeserialization)
}

func TestParseAggregator_ZeroAccount(t *testing.T) {
	raw, err := NewZeroAggregator().MarshalBinary()
	require.NoError(t, err)

	a, err := ParseAggregator(raw)
	require.NoError(t, err)
	assert.Equal(t, NewZeroAggregator(), a)
	assert.False(t, a.IsInitialized())
}

func TestGetResult_Quorum(t *testing.T) {
	a := sampleAggregator()
	a.MinOracleResults = 3

	a.LatestConfirmedRound.NumSuccess = 2
	_, err := a.GetResult()
	assert.ErrorIs(t, err, ErrInvalidAggregatorRound)

	a.LatestConfirmedRound.NumSuccess = 3
	got, err := a.GetResult()
	require.NoError(t, err)
	assert.Equal(t, a.LatestConfirmedRound.Result, got)
}

func TestGetResult_SlidingSkipsQuorum(t *testing.T) {
	a := sampleAggregator()
	a.ResolutionMode = ModeSlidingResolution
	a.MinOracleResults = 3
	a.LatestConfirmedRound.NumSuccess = 0

	got, err := a.GetResult()
	require.NoError(t, err)
	assert.Equal(t, a.LatestConfirmedRound.Result, got)
}

// An uninitialised account resolves to zero; consumers must check IsInitialized.
func TestGetResult_ZeroAccountResolvesToZero(t *testing.T) {
	a := NewZeroAggregator()

	got, err := a.GetResult()
	require.NoError(t, err)
	assert.True(t, got.Mantissa.IsZero())
	assert.False(t, a.IsInitialized())
}

func TestResolutionModeString(t *testing.T) {
	assert.Equal(t, "round", ModeRoundResolution.String())
	assert.Equal(t, "sliding", ModeSlidingResolution.String())
	assert.Equal(t, "unknown(9)", ResolutionMode(9).String())
}

func TestRound_OpenedAtAndFulfilledSlots(t *testing.T) {
	var r AggregatorRound
	r.RoundOpenTimestamp = 1_700_000_000
	r.MediansFulfilled[0] = true
	r.ErrorsFulfilled[3] = true
	r.MediansFulfilled[5] = true
	r.ErrorsFulfilled[5] = true

	assert.Equal(t, time.Unix(1_700_000_000, 0).UTC(), r.OpenedAt())
	assert.Equal(t, 3, r.FulfilledSlots())
}

func TestParseAggregator_IgnoresTrailingBytes(t *testing.T) {
	want := sampleAggregator()
	raw, err := want.MarshalBinary()
	require.NoError(t, err)

	padded := append(append([]byte(nil), raw...), 0xde, 0xad, 0xbe, 0xef)
	got, err := ParseAggregator(padded)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	reencoded, err := got.MarshalBinary()
	require.NoError(t, err)
	assert.Len(t, reencoded, AggregatorAccountSize)
}
