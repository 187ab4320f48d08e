package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"sbfeed/internal/fetcher"
	"sbfeed/internal/service"
	"sbfeed/internal/switchboard"
)

// SimulateOptions describe a synthetic observation.
type SimulateOptions struct {
	Price     decimal.Decimal
	Reference decimal.Decimal
	// SlotLag is the distance between the round open slot and the observed slot.
	SlotLag uint64
}

// SimulateAlert 通过合成的聚合器账户与参考价格模拟一次告警流程。
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}

	data, slot, err := syntheticAggregator(opts.Price, opts.SlotLag, time.Now().UTC())
	if err != nil {
		return err
	}

	deps := service.Dependencies{
		Feed:     &staticFeedFetcher{data: data, slot: slot},
		Notifier: a.newNotifier(),
	}
	if !opts.Reference.IsZero() {
		deps.Reference = &staticReferenceFetcher{price: opts.Reference}
	}

	cfg := *a.Config
	cfg.Alerting.Cooldown = 0
	if cfg.Solana.Aggregator == "" {
		cfg.Solana.Aggregator = "simulated"
	}
	svc := service.New(&cfg, deps, a.Logger)

	bucket := time.Now().UTC().Truncate(a.Config.Scheduler.Interval)
	sample, err := svc.Sample(ctx, bucket)
	if err != nil {
		return err
	}
	a.Logger.Info().Str("status", sample.Status).Str("kind", sample.ErrorKind).Msg("simulation finished")
	return nil
}

const simulatedOpenSlot = 250_000_000

// syntheticAggregator encodes an initialised aggregator whose latest round
// resolved to price, opened lag slots before the returned observed slot.
func syntheticAggregator(price decimal.Decimal, lag uint64, now time.Time) ([]byte, uint64, error) {
	result, err := switchboard.DecimalFromDecimal(price)
	if err != nil {
		return nil, 0, fmt.Errorf("price: %w", err)
	}

	agg := switchboard.NewZeroAggregator()
	copy(agg.Name[:], "SIMULATED")
	agg.CreationTimestamp = now.Add(-24 * time.Hour).Unix()
	agg.MinOracleResults = 1
	agg.OracleRequestBatchSize = 1
	agg.LatestConfirmedRound.NumSuccess = 1
	agg.LatestConfirmedRound.IsClosed = true
	agg.LatestConfirmedRound.RoundOpenSlot = simulatedOpenSlot
	agg.LatestConfirmedRound.RoundOpenTimestamp = now.Unix()
	agg.LatestConfirmedRound.Result = result
	agg.LatestConfirmedRound.MinResponse = result
	agg.LatestConfirmedRound.MaxResponse = result
	agg.LatestConfirmedRound.MediansFulfilled[0] = true
	agg.LatestConfirmedRound.Medians[0] = result

	data, err := agg.MarshalBinary()
	if err != nil {
		return nil, 0, err
	}
	return data, simulatedOpenSlot + lag, nil
}

type staticFeedFetcher struct {
	data []byte
	slot uint64
}

func (s *staticFeedFetcher) FetchAggregator(context.Context) (fetcher.AccountSnapshot, error) {
	return fetcher.AccountSnapshot{
		Owner:     switchboard.ProgramID,
		Data:      s.data,
		Slot:      s.slot,
		FetchedAt: time.Now().UTC(),
	}, nil
}

type staticReferenceFetcher struct {
	price decimal.Decimal
}

func (s *staticReferenceFetcher) FetchReference(context.Context) (fetcher.ReferencePrice, error) {
	return fetcher.ReferencePrice{Price: s.price, UpdatedAt: time.Now().UTC()}, nil
}

var (
	_ fetcher.FeedFetcher      = (*staticFeedFetcher)(nil)
	_ fetcher.ReferenceFetcher = (*staticReferenceFetcher)(nil)
)
