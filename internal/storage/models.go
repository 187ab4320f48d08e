package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// Sample statuses.
const (
	StatusComplete = "complete"
	StatusRejected = "rejected"
	StatusErrored  = "errored"
)

// FeedSample represents one observation of an aggregator per scheduler bucket.
type FeedSample struct {
	Bucket         time.Time
	Feed           string
	Price          *decimal.Decimal
	StdDeviation   *decimal.Decimal
	ReferencePrice *decimal.Decimal
	DeviationPct   *decimal.Decimal
	Slot           uint64
	RoundOpenSlot  uint64
	RoundOpenedAt  *time.Time
	NumSuccess     uint32
	ResolutionMode string
	Status         string
	ErrorKind      string
	Error          *string
	CreatedAt      time.Time
}

// AlertRecord captures an emitted alert for de-duplication/auditing.
type AlertRecord struct {
	ID           int64
	SampleTS     time.Time
	Feed         string
	Kind         string
	DeviationPct *decimal.Decimal
	ThresholdPct decimal.Decimal
	Direction    string
	Channels     []string
	CreatedAt    time.Time
}
