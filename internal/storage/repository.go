package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	sampleColumns = `bucket_ts,
        feed,
        price::text,
        std_deviation::text,
        reference_price::text,
        deviation_pct::text,
        slot,
        round_open_slot,
        round_opened_at,
        num_success,
        resolution_mode,
        status,
        error_kind,
        error,
        created_at`

	upsertFeedSampleSQL = `INSERT INTO feed_samples (
        bucket_ts,
        feed,
        price,
        std_deviation,
        reference_price,
        deviation_pct,
        slot,
        round_open_slot,
        round_opened_at,
        num_success,
        resolution_mode,
        status,
        error_kind,
        error
    ) VALUES (
        $1,$2,$3::numeric,$4::numeric,$5::numeric,$6::numeric,$7,$8,$9,$10,$11,$12,$13,$14
    )
    ON CONFLICT (feed, bucket_ts) DO UPDATE
    SET
        price           = EXCLUDED.price,
        std_deviation   = EXCLUDED.std_deviation,
        reference_price = EXCLUDED.reference_price,
        deviation_pct   = EXCLUDED.deviation_pct,
        slot            = EXCLUDED.slot,
        round_open_slot = EXCLUDED.round_open_slot,
        round_opened_at = EXCLUDED.round_opened_at,
        num_success     = EXCLUDED.num_success,
        resolution_mode = EXCLUDED.resolution_mode,
        status          = EXCLUDED.status,
        error_kind      = EXCLUDED.error_kind,
        error           = EXCLUDED.error;`

	listSamplesBetweenSQL = `SELECT ` + sampleColumns + `
    FROM feed_samples
    WHERE feed = $1
      AND bucket_ts >= $2
      AND bucket_ts < $3
    ORDER BY bucket_ts;`

	listRecentSamplesSQL = `SELECT ` + sampleColumns + `
    FROM feed_samples
    WHERE feed = $1
    ORDER BY bucket_ts DESC
    LIMIT $2;`

	insertAlertSQL = `INSERT INTO alerts (
        sample_ts,
        feed,
        kind,
        deviation_pct,
        threshold_pct,
        direction,
        channels
    ) VALUES (
        $1,$2,$3,$4::numeric,$5::numeric,$6,$7
    )
    ON CONFLICT (feed, kind, sample_ts) DO UPDATE
    SET deviation_pct = EXCLUDED.deviation_pct,
        threshold_pct = EXCLUDED.threshold_pct,
        direction     = EXCLUDED.direction,
        channels      = EXCLUDED.channels
    RETURNING id, sample_ts, feed, kind, deviation_pct::text, threshold_pct::text, direction, channels, created_at;`

	listRecentAlertsSQL = `SELECT
        id,
        sample_ts,
        feed,
        kind,
        deviation_pct::text,
        threshold_pct::text,
        direction,
        channels,
        created_at
    FROM alerts
    WHERE feed = $1
    ORDER BY created_at DESC
    LIMIT $2;`

	lastAlertAtSQL = `SELECT MAX(created_at) FROM alerts WHERE feed = $1 AND kind = $2;`

	countAlertsBeforeSQL  = `SELECT COUNT(*) FROM alerts WHERE created_at < $1;`
	deleteAlertsBeforeSQL = `DELETE FROM alerts WHERE created_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// FeedSampleStore defines operations for feed sample persistence.
type FeedSampleStore interface {
	UpsertFeedSample(ctx context.Context, sample FeedSample) error
	ListSamplesBetween(ctx context.Context, feed string, from, to time.Time) ([]FeedSample, error)
	ListRecentSamples(ctx context.Context, feed string, limit int) ([]FeedSample, error)
}

// AlertStore defines operations for alert auditing.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error)
	ListRecentAlerts(ctx context.Context, feed string, limit int) ([]AlertRecord, error)
	LastAlertAt(ctx context.Context, feed, kind string) (time.Time, bool, error)
	CountAlertsBefore(ctx context.Context, olderThan time.Time) (int64, error)
	DeleteAlertsBefore(ctx context.Context, olderThan time.Time) (int64, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to feed samples and alerts.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// best effort; the lock is released with the session anyway
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// UpsertFeedSample persists or updates a feed sample.
func (s *Store) UpsertFeedSample(ctx context.Context, sample FeedSample) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var openedAt interface{}
	if sample.RoundOpenedAt != nil {
		openedAt = *sample.RoundOpenedAt
	}

	var errMsg interface{}
	if sample.Error != nil {
		errMsg = *sample.Error
	}

	_, execErr := pool.Exec(ctx, upsertFeedSampleSQL,
		sample.Bucket,
		sample.Feed,
		nullableDecimal(sample.Price),
		nullableDecimal(sample.StdDeviation),
		nullableDecimal(sample.ReferencePrice),
		nullableDecimal(sample.DeviationPct),
		int64(sample.Slot),
		int64(sample.RoundOpenSlot),
		openedAt,
		int64(sample.NumSuccess),
		sample.ResolutionMode,
		sample.Status,
		sample.ErrorKind,
		errMsg,
	)
	if execErr != nil {
		return fmt.Errorf("upsert feed sample: %w", execErr)
	}
	return nil
}

// ListSamplesBetween lists samples of feed within a time window.
func (s *Store) ListSamplesBetween(ctx context.Context, feed string, from, to time.Time) ([]FeedSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSamplesBetweenSQL, feed, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list samples between: %w", queryErr)
	}
	return collectSamples(rows, 0)
}

// ListRecentSamples lists the most recent samples ordered by descending bucket.
func (s *Store) ListRecentSamples(ctx context.Context, feed string, limit int) ([]FeedSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentSamplesSQL, feed, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent samples: %w", queryErr)
	}
	return collectSamples(rows, limit)
}

func collectSamples(rows pgx.Rows, capacity int) ([]FeedSample, error) {
	defer rows.Close()

	samples := make([]FeedSample, 0, capacity)
	for rows.Next() {
		sample, scanErr := scanFeedSample(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

// InsertAlert persists an alert emission.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}

	channels := alert.Channels
	if channels == nil {
		channels = []string{}
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.SampleTS,
		alert.Feed,
		alert.Kind,
		nullableDecimal(alert.DeviationPct),
		alert.ThresholdPct.String(),
		alert.Direction,
		channels,
	)

	rec, scanErr := scanAlert(row)
	if scanErr != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", scanErr)
	}
	return rec, nil
}

// ListRecentAlerts lists most recent alerts of feed.
func (s *Store) ListRecentAlerts(ctx context.Context, feed string, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, feed, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0, limit)
	for rows.Next() {
		rec, scanErr := scanAlert(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// LastAlertAt returns when an alert of kind was last emitted for feed.
func (s *Store) LastAlertAt(ctx context.Context, feed, kind string) (time.Time, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return time.Time{}, false, err
	}
	var last sql.NullTime
	if scanErr := pool.QueryRow(ctx, lastAlertAtSQL, feed, kind).Scan(&last); scanErr != nil {
		return time.Time{}, false, fmt.Errorf("last alert: %w", scanErr)
	}
	return last.Time, last.Valid, nil
}

// CountAlertsBefore counts alerts created before olderThan.
func (s *Store) CountAlertsBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countAlertsBeforeSQL, olderThan).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count alerts before: %w", scanErr)
	}
	return count, nil
}

// DeleteAlertsBefore deletes historical alerts and reports how many were removed.
func (s *Store) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	cmdTag, execErr := pool.Exec(ctx, deleteAlertsBeforeSQL, olderThan)
	if execErr != nil {
		return 0, fmt.Errorf("delete alerts before: %w", execErr)
	}
	return cmdTag.RowsAffected(), nil
}

func scanAlert(row pgx.Row) (AlertRecord, error) {
	var (
		rec          AlertRecord
		deviationStr sql.NullString
		thresholdStr string
	)
	if err := row.Scan(
		&rec.ID,
		&rec.SampleTS,
		&rec.Feed,
		&rec.Kind,
		&deviationStr,
		&thresholdStr,
		&rec.Direction,
		&rec.Channels,
		&rec.CreatedAt,
	); err != nil {
		return AlertRecord{}, err
	}

	var convErr error
	rec.DeviationPct, convErr = parseNullableDecimal(deviationStr)
	if convErr != nil {
		return AlertRecord{}, fmt.Errorf("parse deviation pct: %w", convErr)
	}
	rec.ThresholdPct, convErr = decimal.NewFromString(thresholdStr)
	if convErr != nil {
		return AlertRecord{}, fmt.Errorf("parse threshold pct: %w", convErr)
	}
	return rec, nil
}

func scanFeedSample(rows pgx.Rows) (FeedSample, error) {
	var (
		sample       FeedSample
		priceStr     sql.NullString
		stdDevStr    sql.NullString
		referenceStr sql.NullString
		deviationStr sql.NullString
		slot         int64
		openSlot     int64
		openedAt     sql.NullTime
		numSuccess   int64
		errMsg       sql.NullString
	)

	if err := rows.Scan(
		&sample.Bucket,
		&sample.Feed,
		&priceStr,
		&stdDevStr,
		&referenceStr,
		&deviationStr,
		&slot,
		&openSlot,
		&openedAt,
		&numSuccess,
		&sample.ResolutionMode,
		&sample.Status,
		&sample.ErrorKind,
		&errMsg,
		&sample.CreatedAt,
	); err != nil {
		return FeedSample{}, err
	}

	var err error
	if sample.Price, err = parseNullableDecimal(priceStr); err != nil {
		return FeedSample{}, fmt.Errorf("parse price: %w", err)
	}
	if sample.StdDeviation, err = parseNullableDecimal(stdDevStr); err != nil {
		return FeedSample{}, fmt.Errorf("parse std deviation: %w", err)
	}
	if sample.ReferencePrice, err = parseNullableDecimal(referenceStr); err != nil {
		return FeedSample{}, fmt.Errorf("parse reference price: %w", err)
	}
	if sample.DeviationPct, err = parseNullableDecimal(deviationStr); err != nil {
		return FeedSample{}, fmt.Errorf("parse deviation pct: %w", err)
	}

	sample.Slot = uint64(slot)
	sample.RoundOpenSlot = uint64(openSlot)
	sample.NumSuccess = uint32(numSuccess)
	if openedAt.Valid {
		value := openedAt.Time
		sample.RoundOpenedAt = &value
	}
	if errMsg.Valid {
		msg := errMsg.String
		sample.Error = &msg
	}

	return sample, nil
}

func nullableDecimal(d *decimal.Decimal) interface{} {
	if d == nil {
		return nil
	}
	return d.String()
}

func parseNullableDecimal(ns sql.NullString) (*decimal.Decimal, error) {
	if !ns.Valid {
		return nil, nil
	}
	d, err := decimal.NewFromString(ns.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

var (
	_ FeedSampleStore = (*Store)(nil)
	_ AlertStore      = (*Store)(nil)
	_ AdvisoryLocker  = (*Store)(nil)
)
