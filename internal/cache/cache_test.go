package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sbfeed/internal/config"
	"sbfeed/internal/switchboard"
)

func TestEntryEncoding(t *testing.T) {
	observed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	in := Entry{
		Feed:       "SOL_USD",
		Price:      switchboard.NewDecimalFromInt64(-1234567, 4),
		Slot:       251_000_123,
		ObservedAt: observed,
	}

	data, err := encodeEntry(in)
	require.NoError(t, err)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(data, &payload))
	// 16-byte mantissa followed by a u32 scale, hex encoded
	assert.Len(t, payload["wire"], 40)

	out, err := decodeEntry(data)
	require.NoError(t, err)
	assert.Equal(t, in.Price, out.Price)
	assert.Equal(t, in.Slot, out.Slot)
	assert.True(t, observed.Equal(out.ObservedAt))
}

func TestDecodeEntryRejectsGarbage(t *testing.T) {
	_, err := decodeEntry([]byte("{"))
	assert.Error(t, err)

	_, err = decodeEntry([]byte(`{"wire":"zz"}`))
	assert.Error(t, err)

	_, err = decodeEntry([]byte(`{"wire":"0102"}`))
	assert.Error(t, err)
}

func TestNewRequiresAddr(t *testing.T) {
	_, err := New(context.Background(), config.CacheConfig{})
	assert.Error(t, err)
}

func TestLatestKey(t *testing.T) {
	assert.Equal(t, "sbfeed:latest:BTC_USD", latestKey("BTC_USD"))
}
