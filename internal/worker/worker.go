// Package worker sweeps pending jobs into execution. The HTTP handler
// dispatches a job immediately after submission; the sweeper is the backstop
// that picks up jobs whose dispatch goroutine died with the process. The
// atomic claim in the job store keeps the two from double-running anything.
package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/virtshift/virtshift-api/internal/jobs"
)

type Worker struct {
	store        *jobs.Store
	orchestrator *jobs.Orchestrator
	interval     time.Duration
	logger       zerolog.Logger
}

func New(store *jobs.Store, orchestrator *jobs.Orchestrator, interval time.Duration, logger zerolog.Logger) *Worker {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Worker{
		store:        store,
		orchestrator: orchestrator,
		interval:     interval,
		logger:       logger.With().Str("component", "worker").Logger(),
	}
}

// Start runs the sweep loop until the context is cancelled.
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info().Dur("interval", w.interval).Msg("job sweeper started")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("job sweeper stopped")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *Worker) sweep(ctx context.Context) {
	ids, err := w.store.ListPendingIDs(ctx, 50)
	if err != nil {
		w.logger.Error().Err(err).Msg("failed to list pending jobs")
		return
	}
	for _, id := range ids {
		// Run claims atomically; a job already picked up by its submission
		// dispatch is a no-op here.
		if err := w.orchestrator.Run(ctx, id); err != nil {
			w.logger.Error().Err(err).Str("job_id", id).Msg("sweeper job run failed")
		}
	}
}
