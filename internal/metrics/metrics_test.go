package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorders(t *testing.T) {
	m := New()

	m.RecordResolution("SOL_USD", "ok")
	m.RecordResolution("SOL_USD", "ok")
	m.RecordResolution("SOL_USD", "stale")
	m.RecordPrice("SOL_USD", decimal.RequireFromString("142.5"), 1100, 1000)
	m.RecordDeviation("SOL_USD", decimal.RequireFromString("-0.25"))
	m.RecordAlert("SOL_USD", "variance")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ResolutionsTotal.WithLabelValues("SOL_USD", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ResolutionsTotal.WithLabelValues("SOL_USD", "stale")))
	assert.Equal(t, 142.5, testutil.ToFloat64(m.Price.WithLabelValues("SOL_USD")))
	assert.Equal(t, 100.0, testutil.ToFloat64(m.SlotLag.WithLabelValues("SOL_USD")))
	assert.Equal(t, -0.25, testutil.ToFloat64(m.DeviationPct.WithLabelValues("SOL_USD")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AlertsTotal.WithLabelValues("SOL_USD", "variance")))
}

func TestSlotLagNeverNegative(t *testing.T) {
	m := New()
	m.RecordPrice("feed", decimal.NewFromInt(1), 10, 20)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.SlotLag.WithLabelValues("feed")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordResolution("feed", "ok")
	m.RecordAlert("feed", "stale")
}

func TestHandler(t *testing.T) {
	m := New()
	m.RecordResolution("feed", "ok")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `sbfeed_resolutions_total{feed="feed",kind="ok"} 1`)
}
