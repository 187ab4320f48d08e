package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleNote() Notification {
	price := decimal.RequireFromString("101.5")
	ref := decimal.RequireFromString("100")
	dev := decimal.RequireFromString("1.5")
	return Notification{
		Bucket:         time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC),
		Feed:           "SOL_USD",
		Kind:           "variance",
		Price:          &price,
		ReferencePrice: &ref,
		DeviationPct:   &dev,
		ThresholdPct:   decimal.NewFromInt(1),
		Direction:      "up",
		Slot:           1200,
		RoundOpenSlot:  1190,
	}
}

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/bottoken/sendMessage"), r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	require.NoError(t, notifier.Notify(context.Background(), sampleNote()))

	assert.Equal(t, "chat", received["chat_id"])
	assert.Contains(t, received["text"], "SOL_USD")
	assert.Contains(t, received["text"], "Deviation: 1.500%")
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "description": "chat not found"})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	err := notifier.Notify(context.Background(), sampleNote())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
}

func TestTelegramNotifierHTTPStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	assert.Error(t, notifier.Notify(context.Background(), sampleNote()))
}

func TestRenderMessageOmitsMissingFields(t *testing.T) {
	msg := renderMessage(Notification{
		Bucket: time.Unix(0, 0),
		Feed:   "BTC_USD",
		Kind:   "stale",
		Reason: "switchboard feed exceeded the staleness threshold",
	})
	assert.Contains(t, msg, "BTC_USD alert: stale")
	assert.NotContains(t, msg, "Price:")
	assert.NotContains(t, msg, "Deviation:")
	assert.True(t, strings.HasSuffix(msg, "staleness threshold"))
}

type failingNotifier struct{ calls int }

func (f *failingNotifier) Notify(context.Context, Notification) error {
	f.calls++
	return errors.New("down")
}

func TestMultiNotifier(t *testing.T) {
	first := &failingNotifier{}
	second := &failingNotifier{}
	err := MultiNotifier{first, NewLogNotifier(testLogger()), second}.Notify(context.Background(), sampleNote())

	require.Error(t, err)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 1, second.calls)
	assert.NoError(t, MultiNotifier{NewLogNotifier(testLogger())}.Notify(context.Background(), sampleNote()))
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
