package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"sbfeed/internal/alerting"
	"sbfeed/internal/cache"
	"sbfeed/internal/config"
	"sbfeed/internal/fetcher"
	"sbfeed/internal/guard"
	"sbfeed/internal/metrics"
	"sbfeed/internal/scheduler"
	"sbfeed/internal/storage"
	"sbfeed/internal/switchboard"
)

// Dependencies are the collaborators of a Service. Only Feed is required.
type Dependencies struct {
	Scheduler *scheduler.Scheduler
	Feed      fetcher.FeedFetcher
	Reference fetcher.ReferenceFetcher
	Samples   storage.FeedSampleStore
	Alerts    storage.AlertStore
	Cache     cache.PriceCache
	Notifier  alerting.Notifier
	Metrics   *metrics.Metrics
}

// Service orchestrates fetching, validation, persistence, and alerting.
type Service struct {
	deps   Dependencies
	guard  *guard.Guard
	logger zerolog.Logger

	feed      string
	threshold decimal.Decimal
	cooldown  time.Duration
	channels  []string
	alertsOn  bool
	locker    storage.AdvisoryLocker
	lockKey   int64
	now       func() time.Time

	mu         sync.Mutex
	lastAlerts map[string]time.Time
}

// New constructs the sampling service.
func New(cfg *config.Config, deps Dependencies, logger zerolog.Logger) *Service {
	threshold := decimal.Zero
	if cfg.Alerting.ThresholdPct > 0 {
		threshold = decimal.NewFromFloat(cfg.Alerting.ThresholdPct)
	}

	var locker storage.AdvisoryLocker
	if l, ok := deps.Samples.(storage.AdvisoryLocker); ok {
		locker = l
	}

	feed := cfg.Solana.Aggregator
	if feed == "" {
		feed = "unset"
	}

	return &Service{
		deps: deps,
		guard: guard.New(guard.Config{
			MaxStalenessSlots: cfg.Guard.MaxStalenessSlots,
			ConfFilter:        decimal.NewFromFloat(cfg.Guard.ConfFilter),
		}),
		logger:     logger.With().Str("component", "service").Str("feed", feed).Logger(),
		feed:       feed,
		threshold:  threshold,
		cooldown:   cfg.Alerting.Cooldown,
		channels:   cfg.Alerting.Channels,
		alertsOn:   cfg.Alerting.Enabled,
		locker:     locker,
		lockKey:    cfg.Scheduler.AdvisoryLockKey,
		now:        func() time.Time { return time.Now().UTC() },
		lastAlerts: make(map[string]time.Time),
	}
}

// Run begins the aligned sampling loop.
func (s *Service) Run(ctx context.Context) error {
	if s.deps.Scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.deps.Scheduler.Run(ctx, s.ProcessBucket)
}

// ProcessBucket samples the feed once for bucket.
func (s *Service) ProcessBucket(ctx context.Context, bucket time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("bucket", bucket).Msg("skip bucket because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	_, err = s.Sample(ctx, bucket)
	return err
}

// Sample fetches, validates, and records one observation. Guard rejections
// are recorded and alerted but are not errors; fetch and decode failures are.
func (s *Service) Sample(ctx context.Context, bucket time.Time) (storage.FeedSample, error) {
	if s.deps.Feed == nil {
		return storage.FeedSample{}, errors.New("feed fetcher not configured")
	}

	sample := storage.FeedSample{
		Bucket:    bucket,
		Feed:      s.feed,
		Status:    storage.StatusComplete,
		ErrorKind: guard.Kind(nil),
		CreatedAt: s.now(),
	}

	started := s.now()
	snap, err := s.deps.Feed.FetchAggregator(ctx)
	s.deps.Metrics.RecordFetch(s.feed, s.now().Sub(started))
	if err != nil {
		err = fmt.Errorf("fetch aggregator: %w", err)
		s.fail(ctx, &sample, storage.StatusErrored, err)
		return sample, err
	}
	sample.Slot = snap.Slot

	agg, err := switchboard.ParseAggregator(snap.Data)
	if err != nil {
		err = fmt.Errorf("parse aggregator: %w", err)
		s.fail(ctx, &sample, storage.StatusErrored, err)
		return sample, err
	}
	sample.ResolutionMode = agg.ResolutionMode.String()

	state, err := s.guard.Evaluate(agg, snap.Slot)
	fillState(&sample, state, agg, err)
	if err != nil {
		s.fail(ctx, &sample, storage.StatusRejected, err)
		return sample, nil
	}

	if err := s.crossCheck(ctx, &sample, state); err != nil {
		s.fail(ctx, &sample, storage.StatusRejected, err)
		return sample, nil
	}

	s.persist(ctx, sample)
	s.cacheLatest(ctx, state, snap.Slot)
	s.deps.Metrics.RecordResolution(s.feed, guard.Kind(nil))
	s.deps.Metrics.RecordPrice(s.feed, state.Price, snap.Slot, state.LastUpdateSlot)

	event := s.logger.Info().Time("bucket", bucket).
		Str("price", state.Price.String()).
		Uint64("slot", snap.Slot).
		Uint64("round_open_slot", state.LastUpdateSlot)
	if sample.DeviationPct != nil {
		event = event.Str("deviation_pct", sample.DeviationPct.String())
	}
	event.Msg("sample recorded")

	return sample, nil
}

// crossCheck compares the accepted price with the reference feed. A reference
// outage only logs; the feed price stands on its own.
func (s *Service) crossCheck(ctx context.Context, sample *storage.FeedSample, state guard.OracleState) error {
	if s.deps.Reference == nil {
		return nil
	}
	ref, err := s.deps.Reference.FetchReference(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Time("bucket", sample.Bucket).Msg("reference unavailable; skipping cross check")
		return nil
	}
	refPrice := ref.Price
	sample.ReferencePrice = &refPrice

	deviation, err := guard.CheckVariance(state.Price, ref.Price, s.threshold)
	if err != nil && !errors.Is(err, guard.ErrAllowedVarianceExceeded) {
		s.logger.Warn().Err(err).Msg("cannot compute reference deviation")
		return nil
	}
	sample.DeviationPct = &deviation
	s.deps.Metrics.RecordDeviation(s.feed, deviation)
	return err
}

// fillState copies round details into sample. The price is kept for
// stale and low-confidence rounds so rejected samples stay inspectable.
func fillState(sample *storage.FeedSample, state guard.OracleState, agg *switchboard.AggregatorAccountData, evalErr error) {
	round := agg.LatestConfirmedRound
	sample.RoundOpenSlot = round.RoundOpenSlot
	sample.NumSuccess = round.NumSuccess
	if round.RoundOpenTimestamp != 0 {
		opened := round.OpenedAt()
		sample.RoundOpenedAt = &opened
	}
	priced := evalErr == nil ||
		errors.Is(evalErr, guard.ErrStaleFeed) ||
		errors.Is(evalErr, guard.ErrConfidenceIntervalExceeded)
	if priced {
		price := state.Price
		deviation := state.Deviation
		sample.Price = &price
		sample.StdDeviation = &deviation
	}
}

func (s *Service) fail(ctx context.Context, sample *storage.FeedSample, status string, err error) {
	kind := guard.Kind(err)
	msg := err.Error()
	sample.Status = status
	sample.ErrorKind = kind
	sample.Error = &msg

	event := s.logger.Warn()
	if status == storage.StatusErrored {
		event = s.logger.Error()
	}
	if code, ok := guard.ErrorCode(err); ok {
		event = event.Uint32("code", code)
	}
	event.Err(err).Time("bucket", sample.Bucket).Str("kind", kind).Str("status", status).Msg("sample not accepted")

	s.persist(ctx, *sample)
	s.deps.Metrics.RecordResolution(s.feed, kind)
	s.alert(ctx, *sample, kind, msg)
}

func (s *Service) persist(ctx context.Context, sample storage.FeedSample) {
	if s.deps.Samples == nil {
		return
	}
	if err := s.deps.Samples.UpsertFeedSample(ctx, sample); err != nil {
		s.logger.Error().Err(err).Time("bucket", sample.Bucket).Msg("failed to upsert sample")
	}
}

func (s *Service) cacheLatest(ctx context.Context, state guard.OracleState, slot uint64) {
	if s.deps.Cache == nil {
		return
	}
	entry := cache.Entry{Feed: s.feed, Price: state.Raw, Slot: slot, ObservedAt: s.now()}
	if err := s.deps.Cache.SetLatest(ctx, entry); err != nil {
		s.logger.Error().Err(err).Msg("failed to cache latest price")
	}
}

func (s *Service) alert(ctx context.Context, sample storage.FeedSample, kind, reason string) {
	if !s.alertsOn || s.deps.Notifier == nil {
		return
	}
	if s.coolingDown(ctx, kind) {
		s.logger.Debug().Str("kind", kind).Dur("cooldown", s.cooldown).Msg("alert suppressed by cooldown")
		return
	}

	direction := ""
	if sample.DeviationPct != nil {
		direction = classifyDeviation(*sample.DeviationPct)
	}

	note := alerting.Notification{
		Bucket:         sample.Bucket,
		Feed:           s.feed,
		Kind:           kind,
		Price:          sample.Price,
		ReferencePrice: sample.ReferencePrice,
		DeviationPct:   sample.DeviationPct,
		ThresholdPct:   s.threshold,
		Direction:      direction,
		Slot:           sample.Slot,
		RoundOpenSlot:  sample.RoundOpenSlot,
		Channels:       s.channels,
		Reason:         reason,
	}

	if s.deps.Alerts != nil {
		record := storage.AlertRecord{
			SampleTS:     sample.Bucket,
			Feed:         s.feed,
			Kind:         kind,
			DeviationPct: sample.DeviationPct,
			ThresholdPct: s.threshold,
			Direction:    direction,
			Channels:     s.channels,
		}
		if _, err := s.deps.Alerts.InsertAlert(ctx, record); err != nil {
			s.logger.Error().Err(err).Time("bucket", sample.Bucket).Msg("failed to persist alert record")
		}
	}

	s.mu.Lock()
	s.lastAlerts[kind] = s.now()
	s.mu.Unlock()

	if err := s.deps.Notifier.Notify(ctx, note); err != nil {
		s.logger.Error().Err(err).Time("bucket", sample.Bucket).Msg("failed to dispatch alert")
		return
	}
	s.deps.Metrics.RecordAlert(s.feed, kind)
}

// coolingDown consults the in-process memory first, then the alert store so
// replicas share one cooldown window.
func (s *Service) coolingDown(ctx context.Context, kind string) bool {
	if s.cooldown <= 0 {
		return false
	}
	now := s.now()

	s.mu.Lock()
	last, ok := s.lastAlerts[kind]
	s.mu.Unlock()
	if ok && now.Sub(last) < s.cooldown {
		return true
	}

	if s.deps.Alerts == nil {
		return false
	}
	stored, found, err := s.deps.Alerts.LastAlertAt(ctx, s.feed, kind)
	if err != nil {
		s.logger.Warn().Err(err).Msg("cannot read last alert; sending anyway")
		return false
	}
	return found && now.Sub(stored) < s.cooldown
}

func classifyDeviation(d decimal.Decimal) string {
	switch d.Sign() {
	case 1:
		return "up"
	case -1:
		return "down"
	default:
		return "flat"
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
