package fetcher

import (
	"context"
	"errors"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// ErrAccountNotFound indicates the aggregator account does not exist at the requested commitment.
var ErrAccountNotFound = errors.New("aggregator account not found")

// AccountSnapshot is a read-only copy of account data observed at Slot.
type AccountSnapshot struct {
	Address   solana.PublicKey
	Owner     solana.PublicKey
	Data      []byte
	Slot      uint64
	FetchedAt time.Time
}

// ReferencePrice is an independent price used to cross-check the feed.
type ReferencePrice struct {
	Price       decimal.Decimal
	BlockNumber uint64
	UpdatedAt   time.Time
}

// FeedFetcher retrieves the raw Switchboard aggregator account.
type FeedFetcher interface {
	FetchAggregator(ctx context.Context) (AccountSnapshot, error)
}

// ReferenceFetcher retrieves the reference price for the same pair.
type ReferenceFetcher interface {
	FetchReference(ctx context.Context) (ReferencePrice, error)
}
