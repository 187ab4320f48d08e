// Package cache keeps the latest resolved price of each feed in Redis,
// encoded as the on-chain wire decimal so other programs can read it back
// without a decimal library.
package cache

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"sbfeed/internal/config"
	"sbfeed/internal/switchboard"
)

// ErrMiss indicates no cached price exists for the feed.
var ErrMiss = errors.New("cache: no latest price")

// Entry is the cached latest price of a feed.
type Entry struct {
	Feed       string
	Price      switchboard.SwitchboardDecimal
	Slot       uint64
	ObservedAt time.Time
}

// entryPayload is the JSON document stored under the latest key.
type entryPayload struct {
	Wire       string `json:"wire"`
	Slot       uint64 `json:"slot"`
	ObservedAt int64  `json:"observed_at"`
}

// PriceCache stores and loads latest prices.
type PriceCache interface {
	SetLatest(ctx context.Context, entry Entry) error
	GetLatest(ctx context.Context, feed string) (Entry, error)
	Close() error
}

// Redis implements PriceCache on a go-redis client.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg config.CacheConfig) (*Redis, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("cache.addr 未配置")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	return &Redis{client: client, ttl: cfg.TTL}, nil
}

func latestKey(feed string) string {
	return fmt.Sprintf("sbfeed:latest:%s", feed)
}

// SetLatest writes entry with the configured TTL.
func (r *Redis) SetLatest(ctx context.Context, entry Entry) error {
	data, err := encodeEntry(entry)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, latestKey(entry.Feed), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("set latest price: %w", err)
	}
	return nil
}

// GetLatest loads the cached price of feed. A missing key returns ErrMiss.
func (r *Redis) GetLatest(ctx context.Context, feed string) (Entry, error) {
	data, err := r.client.Get(ctx, latestKey(feed)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Entry{}, ErrMiss
		}
		return Entry{}, fmt.Errorf("get latest price: %w", err)
	}
	entry, err := decodeEntry(data)
	if err != nil {
		return Entry{}, err
	}
	entry.Feed = feed
	return entry, nil
}

// Close releases the client.
func (r *Redis) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}

func encodeEntry(entry Entry) ([]byte, error) {
	wire, err := entry.Price.ToBorsh().MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode wire decimal: %w", err)
	}
	return json.Marshal(entryPayload{
		Wire:       hex.EncodeToString(wire),
		Slot:       entry.Slot,
		ObservedAt: entry.ObservedAt.UnixMilli(),
	})
}

func decodeEntry(data []byte) (Entry, error) {
	var payload entryPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return Entry{}, fmt.Errorf("decode cache entry: %w", err)
	}
	wire, err := hex.DecodeString(payload.Wire)
	if err != nil {
		return Entry{}, fmt.Errorf("decode wire hex: %w", err)
	}
	var b switchboard.BorshDecimal
	if err := b.UnmarshalBinary(wire); err != nil {
		return Entry{}, err
	}
	return Entry{
		Price:      b.Switchboard(),
		Slot:       payload.Slot,
		ObservedAt: time.UnixMilli(payload.ObservedAt).UTC(),
	}, nil
}

var _ PriceCache = (*Redis)(nil)
