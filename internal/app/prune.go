package app

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

type alertPruner interface {
	CountAlertsBefore(ctx context.Context, olderThan time.Time) (int64, error)
	DeleteAlertsBefore(ctx context.Context, olderThan time.Time) (int64, error)
}

// Prune deletes alert audit rows older than the retention window.
func (a *App) Prune(ctx context.Context, opts PruneOptions) error {
	if opts.OlderThan <= 0 {
		return errors.New("retention window must be positive")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; nothing to prune")
	}
	defer closeStore()

	cutoff := time.Now().UTC().Add(-opts.OlderThan)
	_, err = pruneAlerts(ctx, store, a.Logger, cutoff, opts.DryRun)
	return err
}

// pruneAlerts reports how many alerts are (or would be) removed before cutoff.
func pruneAlerts(ctx context.Context, store alertPruner, logger zerolog.Logger, cutoff time.Time, dryRun bool) (int64, error) {
	if dryRun {
		count, err := store.CountAlertsBefore(ctx, cutoff)
		if err != nil {
			return 0, err
		}
		logger.Warn().Time("cutoff", cutoff).Int64("alerts", count).Msg("prune dry-run：不会删除任何告警记录")
		return count, nil
	}

	deleted, err := store.DeleteAlertsBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	logger.Info().Time("cutoff", cutoff).Int64("alerts", deleted).Msg("alerts pruned")
	return deleted, nil
}
