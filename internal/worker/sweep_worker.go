package worker

import (
	"context"
	"time"

	"github.com/examtrail/examtrail/internal/repository"
	"github.com/rs/zerolog"
)

// SweepWorker clears stale progress ledger rows once a day. Results are
// untouched; only the recoverable in-progress state expires. With a zero
// maxAge the sweep wipes the whole ledger.
type SweepWorker struct {
	repo    *repository.ProgressRepository
	hourUTC int
	maxAge  time.Duration
	log     zerolog.Logger
}

// NewSweepWorker creates a new SweepWorker. hourUTC is the UTC hour (0-23)
// the daily sweep fires at.
func NewSweepWorker(repo *repository.ProgressRepository, hourUTC int, maxAge time.Duration, log zerolog.Logger) *SweepWorker {
	return &SweepWorker{
		repo:    repo,
		hourUTC: hourUTC,
		maxAge:  maxAge,
		log:     log.With().Str("component", "sweep_worker").Logger(),
	}
}

// Start begins the daily sweep loop. Call in a goroutine.
func (w *SweepWorker) Start(ctx context.Context) {
	w.log.Info().Int("hour_utc", w.hourUTC).Msg("Worker started")

	for {
		wait := w.untilNextRun(time.Now().UTC())
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopped")
			return
		case <-time.After(wait):
			w.sweep(ctx)
		}
	}
}

func (w *SweepWorker) untilNextRun(now time.Time) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), w.hourUTC, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next.Sub(now)
}

func (w *SweepWorker) sweep(ctx context.Context) {
	var (
		removed int64
		err     error
	)
	if w.maxAge > 0 {
		removed, err = w.repo.ClearOlderThan(ctx, time.Now().Add(-w.maxAge))
	} else {
		removed, err = w.repo.ClearAll(ctx)
	}
	if err != nil {
		w.log.Error().Err(err).Msg("Sweep failed")
		return
	}
	w.log.Info().Int64("removed", removed).Msg("Progress sweep complete")
}
