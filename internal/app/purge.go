package app

import (
	"context"
	"errors"
	"time"
)

// Purge removes samples older than the retention window plus triggered
// alerts created before it. A dry run only reports what would be removed.
func (a *App) Purge(ctx context.Context, opts PurgeOptions) error {
	if opts.OlderThan <= 0 {
		return errors.New("--older-than must be a positive duration")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot purge")
	}
	if closeStore != nil {
		defer closeStore()
	}

	cutoff := time.Now().UTC().Add(-opts.OlderThan)

	if opts.DryRun {
		total, err := store.CountSamples(ctx)
		if err != nil {
			return err
		}
		a.Logger.Info().
			Time("cutoff", cutoff).
			Int64("total_samples", total).
			Msg("dry run; nothing deleted")
		return nil
	}

	removedSamples, err := store.DeleteSamplesBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	removedAlerts, err := store.DeleteTriggeredAlertsBefore(ctx, cutoff)
	if err != nil {
		return err
	}

	a.Logger.Info().
		Time("cutoff", cutoff).
		Int64("samples", removedSamples).
		Int64("alerts", removedAlerts).
		Msg("purged old records")
	return nil
}
