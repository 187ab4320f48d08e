// Package metrics provides Prometheus metrics for feed sampling.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Metrics holds the collectors of one sampler.
type Metrics struct {
	registry *prometheus.Registry

	// ResolutionsTotal counts sampling outcomes by error kind ("ok" on success).
	ResolutionsTotal *prometheus.CounterVec
	// FetchDuration observes account fetch latency.
	FetchDuration *prometheus.HistogramVec
	// Price is the last accepted price.
	Price *prometheus.GaugeVec
	// SlotLag is the distance between the observed slot and the round open slot.
	SlotLag *prometheus.GaugeVec
	// DeviationPct is the last deviation from the reference feed.
	DeviationPct *prometheus.GaugeVec
	// AlertsTotal counts emitted alerts.
	AlertsTotal *prometheus.CounterVec
}

// New creates collectors registered on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ResolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sbfeed_resolutions_total",
				Help: "Total number of feed resolutions by outcome",
			},
			[]string{"feed", "kind"},
		),
		FetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sbfeed_fetch_duration_seconds",
				Help:    "Duration of aggregator account fetches",
				Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10},
			},
			[]string{"feed"},
		),
		Price: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sbfeed_price",
				Help: "Last accepted feed price",
			},
			[]string{"feed"},
		),
		SlotLag: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sbfeed_slot_lag",
				Help: "Slots between the latest confirmed round and the observed slot",
			},
			[]string{"feed"},
		),
		DeviationPct: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sbfeed_reference_deviation_pct",
				Help: "Percent deviation of the feed from the reference price",
			},
			[]string{"feed"},
		),
		AlertsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sbfeed_alerts_total",
				Help: "Total number of alerts emitted",
			},
			[]string{"feed", "kind"},
		),
	}
	m.registry.MustRegister(
		m.ResolutionsTotal,
		m.FetchDuration,
		m.Price,
		m.SlotLag,
		m.DeviationPct,
		m.AlertsTotal,
	)
	return m
}

// RecordResolution records one sampling outcome.
func (m *Metrics) RecordResolution(feed, kind string) {
	if m == nil {
		return
	}
	m.ResolutionsTotal.WithLabelValues(feed, kind).Inc()
}

// RecordFetch records fetch latency.
func (m *Metrics) RecordFetch(feed string, d time.Duration) {
	if m == nil {
		return
	}
	m.FetchDuration.WithLabelValues(feed).Observe(d.Seconds())
}

// RecordPrice records an accepted price and its slot lag.
func (m *Metrics) RecordPrice(feed string, price decimal.Decimal, observedSlot, roundSlot uint64) {
	if m == nil {
		return
	}
	m.Price.WithLabelValues(feed).Set(price.InexactFloat64())
	lag := 0.0
	if observedSlot > roundSlot {
		lag = float64(observedSlot - roundSlot)
	}
	m.SlotLag.WithLabelValues(feed).Set(lag)
}

// RecordDeviation records the reference deviation.
func (m *Metrics) RecordDeviation(feed string, pct decimal.Decimal) {
	if m == nil {
		return
	}
	m.DeviationPct.WithLabelValues(feed).Set(pct.InexactFloat64())
}

// RecordAlert records an emitted alert.
func (m *Metrics) RecordAlert(feed, kind string) {
	if m == nil {
		return
	}
	m.AlertsTotal.WithLabelValues(feed, kind).Inc()
}

// Handler exposes the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve serves metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr, path string, logger zerolog.Logger) error {
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("component", "metrics").Str("addr", addr).Str("path", path).Msg("serving metrics")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
