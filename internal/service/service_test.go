package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sbfeed/internal/alerting"
	"sbfeed/internal/cache"
	"sbfeed/internal/config"
	"sbfeed/internal/fetcher"
	"sbfeed/internal/metrics"
	"sbfeed/internal/storage"
	"sbfeed/internal/switchboard"
)

const testFeed = "feed-under-test"

type staticFeed struct {
	data []byte
	slot uint64
	err  error
}

func (f *staticFeed) FetchAggregator(context.Context) (fetcher.AccountSnapshot, error) {
	if f.err != nil {
		return fetcher.AccountSnapshot{}, f.err
	}
	return fetcher.AccountSnapshot{Data: f.data, Slot: f.slot, FetchedAt: time.Now()}, nil
}

type staticReference struct {
	price decimal.Decimal
	err   error
}

func (r *staticReference) FetchReference(context.Context) (fetcher.ReferencePrice, error) {
	if r.err != nil {
		return fetcher.ReferencePrice{}, r.err
	}
	return fetcher.ReferencePrice{Price: r.price}, nil
}

type memStore struct {
	mu      sync.Mutex
	samples []storage.FeedSample
	alerts  []storage.AlertRecord
}

func (m *memStore) UpsertFeedSample(_ context.Context, sample storage.FeedSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append(m.samples, sample)
	return nil
}

func (m *memStore) ListSamplesBetween(context.Context, string, time.Time, time.Time) ([]storage.FeedSample, error) {
	return m.samples, nil
}

func (m *memStore) ListRecentSamples(context.Context, string, int) ([]storage.FeedSample, error) {
	return m.samples, nil
}

func (m *memStore) InsertAlert(_ context.Context, alert storage.AlertRecord) (storage.AlertRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	alert.ID = int64(len(m.alerts) + 1)
	alert.CreatedAt = time.Now().UTC()
	m.alerts = append(m.alerts, alert)
	return alert, nil
}

func (m *memStore) ListRecentAlerts(context.Context, string, int) ([]storage.AlertRecord, error) {
	return m.alerts, nil
}

func (m *memStore) LastAlertAt(_ context.Context, feed, kind string) (time.Time, bool, error) {
	var last time.Time
	found := false
	for _, a := range m.alerts {
		if a.Feed == feed && a.Kind == kind && a.CreatedAt.After(last) {
			last, found = a.CreatedAt, true
		}
	}
	return last, found, nil
}

func (m *memStore) CountAlertsBefore(context.Context, time.Time) (int64, error) { return 0, nil }

func (m *memStore) DeleteAlertsBefore(context.Context, time.Time) (int64, error) { return 0, nil }

type memCache struct {
	entries map[string]cache.Entry
}

func (c *memCache) SetLatest(_ context.Context, entry cache.Entry) error {
	c.entries[entry.Feed] = entry
	return nil
}

func (c *memCache) GetLatest(_ context.Context, feed string) (cache.Entry, error) {
	e, ok := c.entries[feed]
	if !ok {
		return cache.Entry{}, cache.ErrMiss
	}
	return e, nil
}

func (c *memCache) Close() error { return nil }

type recordingNotifier struct {
	notes []alerting.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, note alerting.Notification) error {
	r.notes = append(r.notes, note)
	return nil
}

func aggregatorBytes(t *testing.T, mutate func(a *switchboard.AggregatorAccountData)) []byte {
	t.Helper()
	a := switchboard.NewZeroAggregator()
	a.CreationTimestamp = 1_650_000_000
	a.MinOracleResults = 2
	a.LatestConfirmedRound.NumSuccess = 3
	a.LatestConfirmedRound.RoundOpenSlot = 1000
	a.LatestConfirmedRound.RoundOpenTimestamp = 1_700_000_000
	a.LatestConfirmedRound.Result = switchboard.NewDecimalFromInt64(2500, 2)
	a.LatestConfirmedRound.StdDeviation = switchboard.NewDecimalFromInt64(1, 2)
	if mutate != nil {
		mutate(a)
	}
	raw, err := a.MarshalBinary()
	require.NoError(t, err)
	return raw
}

func testConfig() *config.Config {
	return &config.Config{
		Solana: config.SolanaConfig{Aggregator: testFeed},
		Guard:  config.GuardConfig{MaxStalenessSlots: 50, ConfFilter: 0.01},
		Alerting: config.AlertingConfig{
			Enabled:      true,
			ThresholdPct: 1,
			Cooldown:     time.Hour,
			Channels:     []string{"telegram"},
		},
	}
}

type harness struct {
	svc      *Service
	feed     *staticFeed
	ref      *staticReference
	store    *memStore
	cache    *memCache
	notifier *recordingNotifier
	metrics  *metrics.Metrics
}

func newHarness(t *testing.T, cfg *config.Config, data []byte, slot uint64) *harness {
	t.Helper()
	h := &harness{
		feed:     &staticFeed{data: data, slot: slot},
		ref:      &staticReference{price: decimal.RequireFromString("25")},
		store:    &memStore{},
		cache:    &memCache{entries: map[string]cache.Entry{}},
		notifier: &recordingNotifier{},
		metrics:  metrics.New(),
	}
	h.svc = New(cfg, Dependencies{
		Feed:      h.feed,
		Reference: h.ref,
		Samples:   h.store,
		Alerts:    h.store,
		Cache:     h.cache,
		Notifier:  h.notifier,
		Metrics:   h.metrics,
	}, zerolog.Nop())
	return h
}

var bucket = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func TestSampleAccepted(t *testing.T) {
	h := newHarness(t, testConfig(), aggregatorBytes(t, nil), 1020)

	sample, err := h.svc.Sample(context.Background(), bucket)
	require.NoError(t, err)

	assert.Equal(t, storage.StatusComplete, sample.Status)
	assert.Equal(t, "ok", sample.ErrorKind)
	require.NotNil(t, sample.Price)
	assert.True(t, sample.Price.Equal(decimal.RequireFromString("25")))
	require.NotNil(t, sample.DeviationPct)
	assert.True(t, sample.DeviationPct.IsZero())
	assert.Equal(t, uint64(1020), sample.Slot)
	assert.Equal(t, uint64(1000), sample.RoundOpenSlot)
	assert.Equal(t, "round", sample.ResolutionMode)

	require.Len(t, h.store.samples, 1)
	assert.Empty(t, h.notifier.notes)

	entry, err := h.cache.GetLatest(context.Background(), testFeed)
	require.NoError(t, err)
	assert.Equal(t, switchboard.NewDecimalFromInt64(2500, 2), entry.Price)
	assert.Equal(t, uint64(1020), entry.Slot)

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.ResolutionsTotal.WithLabelValues(testFeed, "ok")))
	assert.Equal(t, 20.0, testutil.ToFloat64(h.metrics.SlotLag.WithLabelValues(testFeed)))
}

func TestSampleStaleIsRejectedAndAlerted(t *testing.T) {
	h := newHarness(t, testConfig(), aggregatorBytes(t, nil), 2000)

	sample, err := h.svc.Sample(context.Background(), bucket)
	require.NoError(t, err)

	assert.Equal(t, storage.StatusRejected, sample.Status)
	assert.Equal(t, "stale", sample.ErrorKind)
	require.NotNil(t, sample.Price)
	require.NotNil(t, sample.Error)
	assert.Empty(t, h.cache.entries)

	require.Len(t, h.notifier.notes, 1)
	assert.Equal(t, "stale", h.notifier.notes[0].Kind)
	require.Len(t, h.store.alerts, 1)
}

func TestAlertCooldown(t *testing.T) {
	h := newHarness(t, testConfig(), aggregatorBytes(t, nil), 2000)

	for i := 0; i < 3; i++ {
		_, err := h.svc.Sample(context.Background(), bucket.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
	}

	assert.Len(t, h.store.samples, 3)
	assert.Len(t, h.notifier.notes, 1)
}

func TestAlertCooldownSharedThroughStore(t *testing.T) {
	cfg := testConfig()
	first := newHarness(t, cfg, aggregatorBytes(t, nil), 2000)
	_, err := first.svc.Sample(context.Background(), bucket)
	require.NoError(t, err)

	second := newHarness(t, cfg, aggregatorBytes(t, nil), 2000)
	second.store = first.store
	second.svc.deps.Alerts = first.store
	_, err = second.svc.Sample(context.Background(), bucket.Add(time.Minute))
	require.NoError(t, err)

	assert.Empty(t, second.notifier.notes)
}

func TestSampleVarianceRejected(t *testing.T) {
	h := newHarness(t, testConfig(), aggregatorBytes(t, nil), 1010)
	h.ref.price = decimal.RequireFromString("24")

	sample, err := h.svc.Sample(context.Background(), bucket)
	require.NoError(t, err)

	assert.Equal(t, storage.StatusRejected, sample.Status)
	assert.Equal(t, "variance", sample.ErrorKind)
	require.NotNil(t, sample.DeviationPct)
	assert.True(t, sample.DeviationPct.GreaterThan(decimal.NewFromInt(4)))
	require.Len(t, h.notifier.notes, 1)
	assert.Equal(t, "up", h.notifier.notes[0].Direction)
	assert.Empty(t, h.cache.entries)
}

func TestSampleReferenceOutageStillAccepts(t *testing.T) {
	h := newHarness(t, testConfig(), aggregatorBytes(t, nil), 1010)
	h.ref.err = errors.New("rpc down")

	sample, err := h.svc.Sample(context.Background(), bucket)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusComplete, sample.Status)
	assert.Nil(t, sample.ReferencePrice)
	assert.Nil(t, sample.DeviationPct)
}

func TestSampleQuorumNotMet(t *testing.T) {
	data := aggregatorBytes(t, func(a *switchboard.AggregatorAccountData) {
		a.MinOracleResults = 5
	})
	h := newHarness(t, testConfig(), data, 1010)

	sample, err := h.svc.Sample(context.Background(), bucket)
	require.NoError(t, err)
	assert.Equal(t, "quorum", sample.ErrorKind)
	assert.Nil(t, sample.Price)
}

func TestSampleDecodeFailure(t *testing.T) {
	h := newHarness(t, testConfig(), []byte{1, 2, 3}, 1010)

	sample, err := h.svc.Sample(context.Background(), bucket)
	require.Error(t, err)
	assert.ErrorIs(t, err, switchboard.ErrAccountDeserialization)
	assert.Equal(t, storage.StatusErrored, sample.Status)
	assert.Equal(t, "layout", sample.ErrorKind)
	require.Len(t, h.store.samples, 1)
}

func TestSampleFetchFailure(t *testing.T) {
	h := newHarness(t, testConfig(), nil, 0)
	h.feed.err = fetcher.ErrAccountNotFound

	sample, err := h.svc.Sample(context.Background(), bucket)
	assert.ErrorIs(t, err, fetcher.ErrAccountNotFound)
	assert.Equal(t, storage.StatusErrored, sample.Status)
	assert.Equal(t, "other", sample.ErrorKind)
}

func TestAlertsDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Alerting.Enabled = false
	h := newHarness(t, cfg, aggregatorBytes(t, nil), 5000)

	_, err := h.svc.Sample(context.Background(), bucket)
	require.NoError(t, err)
	assert.Empty(t, h.notifier.notes)
	assert.Empty(t, h.store.alerts)
}

func TestProcessBucketWithoutScheduler(t *testing.T) {
	h := newHarness(t, testConfig(), aggregatorBytes(t, nil), 1010)
	require.NoError(t, h.svc.ProcessBucket(context.Background(), bucket))
	assert.Error(t, h.svc.Run(context.Background()))
}

func TestClassifyDeviation(t *testing.T) {
	assert.Equal(t, "up", classifyDeviation(decimal.NewFromInt(1)))
	assert.Equal(t, "down", classifyDeviation(decimal.NewFromInt(-1)))
	assert.Equal(t, "flat", classifyDeviation(decimal.Zero))
}
