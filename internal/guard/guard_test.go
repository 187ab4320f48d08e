package guard

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sbfeed/internal/switchboard"
)

func liveAggregator() *switchboard.AggregatorAccountData {
	a := switchboard.NewZeroAggregator()
	a.CreationTimestamp = 1_650_000_000
	a.MinOracleResults = 2
	a.LatestConfirmedRound.NumSuccess = 3
	a.LatestConfirmedRound.RoundOpenSlot = 1000
	a.LatestConfirmedRound.RoundOpenTimestamp = 1_700_000_000
	a.LatestConfirmedRound.Result = switchboard.NewDecimalFromInt64(2500, 2)
	a.LatestConfirmedRound.StdDeviation = switchboard.NewDecimalFromInt64(5, 2)
	return a
}

func TestEvaluate_Accepts(t *testing.T) {
	g := New(Config{MaxStalenessSlots: 50, ConfFilter: decimal.RequireFromString("0.01")})

	state, err := g.Evaluate(liveAggregator(), 1040)
	require.NoError(t, err)
	assert.True(t, state.Price.Equal(decimal.RequireFromString("25")))
	assert.True(t, state.Deviation.Equal(decimal.RequireFromString("0.05")))
	assert.Equal(t, uint64(1000), state.LastUpdateSlot)
	assert.Equal(t, int64(1_700_000_000), state.OpenedAt.Unix())
}

func TestEvaluate_Uninitialized(t *testing.T) {
	g := New(Config{MaxStalenessSlots: -1})
	_, err := g.Evaluate(switchboard.NewZeroAggregator(), 0)
	assert.ErrorIs(t, err, ErrUninitializedAggregator)
	assert.Equal(t, "uninitialized", Kind(err))
}

func TestEvaluate_QuorumPassesThrough(t *testing.T) {
	a := liveAggregator()
	a.MinOracleResults = 4

	_, err := New(Config{MaxStalenessSlots: -1}).Evaluate(a, 1000)
	assert.ErrorIs(t, err, switchboard.ErrInvalidAggregatorRound)
	assert.Equal(t, "quorum", Kind(err))
	code, ok := ErrorCode(err)
	require.True(t, ok)
	assert.Equal(t, switchboard.CodeInvalidAggregatorRound, code)
}

func TestEvaluate_Stale(t *testing.T) {
	g := New(Config{MaxStalenessSlots: 50})

	_, err := g.Evaluate(liveAggregator(), 1050)
	require.NoError(t, err)

	_, err = g.Evaluate(liveAggregator(), 1051)
	assert.ErrorIs(t, err, ErrStaleFeed)
	code, _ := ErrorCode(err)
	assert.Equal(t, CodeStaleFeed, code)

	// disabled
	_, err = New(Config{MaxStalenessSlots: -1}).Evaluate(liveAggregator(), 1_000_000)
	assert.NoError(t, err)
}

func TestEvaluate_Confidence(t *testing.T) {
	g := New(Config{MaxStalenessSlots: -1, ConfFilter: decimal.RequireFromString("0.001")})

	_, err := g.Evaluate(liveAggregator(), 1000)
	assert.ErrorIs(t, err, ErrConfidenceIntervalExceeded)
	assert.Equal(t, "confidence", Kind(err))
}

func TestCheckVariance(t *testing.T) {
	dev, err := CheckVariance(decimal.NewFromInt(101), decimal.NewFromInt(100), decimal.NewFromInt(2))
	require.NoError(t, err)
	assert.True(t, dev.Equal(decimal.NewFromInt(1)))

	dev, err = CheckVariance(decimal.NewFromInt(95), decimal.NewFromInt(100), decimal.NewFromInt(2))
	assert.ErrorIs(t, err, ErrAllowedVarianceExceeded)
	assert.True(t, dev.Equal(decimal.NewFromInt(-5)))

	_, err = CheckVariance(decimal.NewFromInt(1), decimal.Zero, decimal.NewFromInt(2))
	assert.Error(t, err)
}

func TestKind(t *testing.T) {
	assert.Equal(t, "ok", Kind(nil))
	assert.Equal(t, "layout", Kind(fmt.Errorf("parse: %w", switchboard.ErrAccountDeserialization)))
	assert.Equal(t, "conversion", Kind(switchboard.ErrIntegerOverflow))
	assert.Equal(t, "other", Kind(fmt.Errorf("boom")))
}
