// Package guard applies consumer-side trust checks to a resolved Switchboard price.
package guard

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"sbfeed/internal/switchboard"
)

var (
	// ErrUninitializedAggregator indicates the account was never initialised by the oracle program.
	ErrUninitializedAggregator = errors.New("aggregator account is not initialized")
	// ErrStaleFeed indicates the latest confirmed round is older than allowed.
	ErrStaleFeed = errors.New("switchboard feed exceeded the staleness threshold")
	// ErrConfidenceIntervalExceeded indicates the round deviation is too wide relative to the price.
	ErrConfidenceIntervalExceeded = errors.New("switchboard feed exceeded the confidence interval threshold")
	// ErrAllowedVarianceExceeded indicates the price deviates too far from a reference.
	ErrAllowedVarianceExceeded = errors.New("switchboard value variance exceeded threshold")
)

// Program error codes for the consumer-side kinds.
const (
	CodeStaleFeed                  uint32 = 6009
	CodeConfidenceIntervalExceeded uint32 = 6010
	CodeAllowedVarianceExceeded    uint32 = 6012
)

// ErrorCode maps guard and core errors to program error codes.
func ErrorCode(err error) (uint32, bool) {
	switch {
	case errors.Is(err, ErrStaleFeed):
		return CodeStaleFeed, true
	case errors.Is(err, ErrConfidenceIntervalExceeded):
		return CodeConfidenceIntervalExceeded, true
	case errors.Is(err, ErrAllowedVarianceExceeded):
		return CodeAllowedVarianceExceeded, true
	}
	return switchboard.ErrorCode(err)
}

// Kind returns a short stable label for metrics and storage.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrUninitializedAggregator):
		return "uninitialized"
	case errors.Is(err, ErrStaleFeed):
		return "stale"
	case errors.Is(err, ErrConfidenceIntervalExceeded):
		return "confidence"
	case errors.Is(err, ErrAllowedVarianceExceeded):
		return "variance"
	case errors.Is(err, switchboard.ErrInvalidAggregatorRound):
		return "quorum"
	case errors.Is(err, switchboard.ErrAccountDiscriminatorMismatch):
		return "discriminator"
	case errors.Is(err, switchboard.ErrAccountDeserialization):
		return "layout"
	case errors.Is(err, switchboard.ErrDecimalConversion),
		errors.Is(err, switchboard.ErrIntegerOverflow),
		errors.Is(err, switchboard.ErrInvalidStrDecimalConversion):
		return "conversion"
	default:
		return "other"
	}
}

// Config bounds what the guard accepts.
type Config struct {
	// MaxStalenessSlots rejects rounds opened more than this many slots ago; negative disables.
	MaxStalenessSlots int64
	// ConfFilter rejects prices whose std deviation exceeds ConfFilter * |price|; zero disables.
	ConfFilter decimal.Decimal
}

// OracleState is a price that passed every check.
type OracleState struct {
	Price          decimal.Decimal
	Raw            switchboard.SwitchboardDecimal
	Deviation      decimal.Decimal
	LastUpdateSlot uint64
	OpenedAt       time.Time
	NumSuccess     uint32
	Mode           switchboard.ResolutionMode
}

// Guard evaluates aggregators against a Config.
type Guard struct {
	cfg Config
}

// New constructs a Guard.
func New(cfg Config) *Guard {
	return &Guard{cfg: cfg}
}

// Evaluate resolves the price of agg and checks it at nowSlot.
func (g *Guard) Evaluate(agg *switchboard.AggregatorAccountData, nowSlot uint64) (OracleState, error) {
	if !agg.IsInitialized() {
		return OracleState{}, ErrUninitializedAggregator
	}

	raw, err := agg.GetResult()
	if err != nil {
		return OracleState{}, err
	}
	price, err := raw.ToDecimal()
	if err != nil {
		return OracleState{}, fmt.Errorf("price: %w", err)
	}
	round := agg.LatestConfirmedRound
	deviation, err := round.StdDeviation.ToDecimal()
	if err != nil {
		return OracleState{}, fmt.Errorf("std deviation: %w", err)
	}

	state := OracleState{
		Price:          price,
		Raw:            raw,
		Deviation:      deviation,
		LastUpdateSlot: round.RoundOpenSlot,
		OpenedAt:       round.OpenedAt(),
		NumSuccess:     round.NumSuccess,
		Mode:           agg.ResolutionMode,
	}

	if g.cfg.MaxStalenessSlots >= 0 && round.RoundOpenSlot+uint64(g.cfg.MaxStalenessSlots) < nowSlot {
		return state, fmt.Errorf("%w: round opened at slot %d, now %d, max %d",
			ErrStaleFeed, round.RoundOpenSlot, nowSlot, g.cfg.MaxStalenessSlots)
	}

	if g.cfg.ConfFilter.IsPositive() {
		limit := g.cfg.ConfFilter.Mul(price.Abs())
		if deviation.GreaterThan(limit) {
			return state, fmt.Errorf("%w: deviation %s above %s", ErrConfidenceIntervalExceeded, deviation.String(), limit.String())
		}
	}

	return state, nil
}

// DeviationPct returns (price/reference - 1) * 100.
func DeviationPct(price, reference decimal.Decimal) (decimal.Decimal, error) {
	if reference.IsZero() {
		return decimal.Decimal{}, errors.New("reference price is zero")
	}
	return price.Div(reference).Sub(decimal.NewFromInt(1)).Mul(decimal.NewFromInt(100)), nil
}

// CheckVariance computes the percent deviation of price from reference and
// fails when its magnitude exceeds maxPct. A zero maxPct disables the check.
func CheckVariance(price, reference, maxPct decimal.Decimal) (decimal.Decimal, error) {
	deviation, err := DeviationPct(price, reference)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if maxPct.IsPositive() && deviation.Abs().GreaterThan(maxPct) {
		return deviation, fmt.Errorf("%w: %s%% beyond %s%%", ErrAllowedVarianceExceeded, deviation.StringFixed(3), maxPct.String())
	}
	return deviation, nil
}
