package jobs

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/virtshift/virtshift-api/internal/models"
	"github.com/virtshift/virtshift-api/internal/repository"
)

// Handler is a registered pipeline for one job kind. NewRun decodes and
// validates the job's params; it must not touch any remote system, since it is
// also invoked at submission time for validation.
type Handler interface {
	Kind() models.JobKind
	NewRun(job *models.Job) (Run, error)
}

// Run executes one job. Prepare is the job-level setup shared by all targets;
// its failure aborts the whole job with every target left pending. RunTarget
// processes one target and reports its outcome through the target entry and
// the returned error. Finish is best-effort teardown, called exactly once
// after the job reached a terminal state (including setup failure).
type Run interface {
	// SetupWeight is the share of overall progress (0-100) charged to
	// Prepare, e.g. 10 for a one-time source-side download.
	SetupWeight() int
	Prepare(ctx context.Context, job *models.Job) error
	RunTarget(ctx context.Context, job *models.Job, target *models.TargetResult) error
	Finish(ctx context.Context, job *models.Job)
}

// Notifier receives job lifecycle events. Delivery failures are logged and
// never affect the job outcome.
type Notifier interface {
	JobStarted(ctx context.Context, job models.Job) error
	JobFinished(ctx context.Context, job models.Job) error
}

// Orchestrator owns the generic submit/run/poll/cancel lifecycle. Pipelines
// register per-kind handlers; everything else is kind-agnostic. Targets run
// strictly sequentially within a job; concurrency exists only across jobs.
type Orchestrator struct {
	store    *Store
	notifier Notifier
	logger   zerolog.Logger
	handlers map[models.JobKind]Handler
}

func NewOrchestrator(store *Store, notifier Notifier, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		store:    store,
		notifier: notifier,
		logger:   logger.With().Str("component", "orchestrator").Logger(),
		handlers: make(map[models.JobKind]Handler),
	}
}

func (o *Orchestrator) Register(handler Handler) {
	o.handlers[handler.Kind()] = handler
}

// Submit validates the request, durably records the job as pending, and
// returns it. Execution happens later via Run; the caller (HTTP handler or
// sweeper) decides when to dispatch.
func (o *Orchestrator) Submit(ctx context.Context, tenantID string, kind models.JobKind, params json.RawMessage, targetIDs []string) (models.Job, error) {
	handler, ok := o.handlers[kind]
	if !ok {
		return models.Job{}, errors.Wrapf(ErrInvalidInput, "unknown job kind %q", kind)
	}
	if len(targetIDs) == 0 {
		return models.Job{}, errors.Wrap(ErrInvalidInput, "at least one target is required")
	}
	seen := make(map[string]bool, len(targetIDs))
	targets := make([]models.TargetResult, 0, len(targetIDs))
	for _, id := range targetIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			return models.Job{}, errors.Wrap(ErrInvalidInput, "empty target id")
		}
		if seen[id] {
			return models.Job{}, errors.Wrapf(ErrInvalidInput, "duplicate target %q", id)
		}
		seen[id] = true
		targets = append(targets, models.TargetResult{TargetID: id, Status: models.TargetStatusPending})
	}

	job := models.Job{
		ID:       uuid.NewString(),
		TenantID: tenantID,
		Kind:     kind,
		Status:   models.JobStatusPending,
		Progress: 0,
		Params:   params,
		Targets:  targets,
	}
	if _, err := handler.NewRun(&job); err != nil {
		return models.Job{}, errors.Wrap(ErrInvalidInput, err.Error())
	}

	created, err := o.store.Create(ctx, job)
	if err != nil {
		return models.Job{}, errors.Wrap(err, "persist job")
	}
	o.logger.Info().
		Str("job_id", created.ID).
		Str("kind", string(kind)).
		Int("targets", len(targets)).
		Msg("job submitted")
	return created, nil
}

// Dispatch runs the job on a detached goroutine that outlives the request.
// The goroutine recovers from panics so one broken job cannot take down the
// process and every other job running in it.
func (o *Orchestrator) Dispatch(jobID string) {
	go func() {
		defer func() {
			if p := recover(); p != nil {
				o.logger.Error().Str("job_id", jobID).Interface("panic", p).Msg("job run panicked")
			}
		}()
		if err := o.Run(context.Background(), jobID); err != nil {
			o.logger.Error().Err(err).Str("job_id", jobID).Msg("job run failed")
		}
	}()
}

// Run claims a pending job and drives it to a terminal state. The claim is
// atomic, so a race between the submitter's dispatch and the sweeper resolves
// to a single execution; the loser returns without error.
func (o *Orchestrator) Run(ctx context.Context, jobID string) error {
	job, err := o.store.Claim(ctx, jobID)
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil // claimed elsewhere or no longer pending
		}
		return errors.Wrap(err, "claim job")
	}

	logger := o.logger.With().Str("job_id", job.ID).Str("kind", string(job.Kind)).Logger()

	handler, ok := o.handlers[job.Kind]
	if !ok {
		o.finalize(ctx, logger, &job, models.JobStatusFailed, "no handler registered for kind "+string(job.Kind))
		return nil
	}
	run, err := handler.NewRun(&job)
	if err != nil {
		o.finalize(ctx, logger, &job, models.JobStatusFailed, err.Error())
		return nil
	}
	defer run.Finish(context.WithoutCancel(ctx), &job)

	o.notifyStarted(ctx, logger, job)

	// Job-level setup. A failure here aborts the whole job with every target
	// still pending; per-target isolation only begins below.
	base := 0
	if err := run.Prepare(ctx, &job); err != nil {
		logger.Error().Err(err).Msg("job setup failed")
		o.finalize(ctx, logger, &job, models.JobStatusFailed, err.Error())
		return nil
	}
	if w := run.SetupWeight(); w > 0 && w < 100 {
		base = w
		job.Progress = base
		if _, err := o.store.UpdateRun(ctx, job); err != nil {
			logger.Warn().Err(err).Msg("failed to persist setup progress")
		}
	}

	n := len(job.Targets)
	for i := 0; i < n; i++ {
		if cancelled, err := o.cancelRequested(ctx, job.ID); err != nil {
			logger.Warn().Err(err).Msg("cancellation check failed")
		} else if cancelled {
			logger.Info().Int("completed_targets", i).Msg("job cancelled, stopping before next target")
			o.finalize(ctx, logger, &job, models.JobStatusCancelled, "")
			return nil
		}

		target := &job.Targets[i]
		err := runTarget(ctx, run, &job, target)
		switch {
		case err == nil:
			target.Status = models.TargetStatusSuccess
		case errors.Is(err, ErrSkipTarget):
			target.Status = models.TargetStatusSkipped
			target.Message = err.Error()
			logger.Info().Str("target_id", target.TargetID).Msg("target skipped")
		default:
			// Isolate the failure on this target and keep going.
			target.Status = models.TargetStatusFailed
			target.Message = err.Error()
			logger.Error().Err(err).Str("target_id", target.TargetID).Msg("target failed")
		}

		job.Progress = base + ((i+1)*(100-base))/n
		rows, err := o.store.UpdateRun(ctx, job)
		if err != nil {
			logger.Warn().Err(err).Str("target_id", target.TargetID).Msg("failed to persist target result")
		} else if rows == 0 {
			// The job left the running state underneath us (advisory cancel);
			// the boundary check on the next iteration picks it up and the
			// final targets are still written by Finalize.
			logger.Info().Str("target_id", target.TargetID).Msg("job no longer running, result retained for finalization")
		}
	}

	status := models.JobStatusCompleted
	for _, target := range job.Targets {
		if target.Status == models.TargetStatusFailed {
			status = models.JobStatusFailed
			break
		}
	}
	if cancelled, _ := o.cancelRequested(ctx, job.ID); cancelled {
		status = models.JobStatusCancelled
	}
	o.finalize(ctx, logger, &job, status, "")
	return nil
}

// GetStatus returns a consistent snapshot of the job, reconstructing it from
// the durable record when the cache misses.
func (o *Orchestrator) GetStatus(ctx context.Context, tenantID, jobID string) (models.Job, error) {
	job, err := o.store.Get(ctx, tenantID, jobID)
	if errors.Is(err, repository.ErrNotFound) {
		return job, ErrNotFound
	}
	return job, err
}

func (o *Orchestrator) List(ctx context.Context, tenantID string, limit, offset int) ([]models.Job, error) {
	return o.store.repo.List(ctx, tenantID, limit, offset)
}

// Cancel is advisory: it flags the job, and the executing goroutine stops
// scheduling further targets at its next boundary. A remote call already in
// flight for the current target completes or fails on its own.
func (o *Orchestrator) Cancel(ctx context.Context, tenantID, jobID string) (models.Job, error) {
	job, err := o.store.Cancel(ctx, tenantID, jobID, "cancelled by user request")
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return job, ErrNotFound
		case errors.Is(err, repository.ErrConflict):
			return job, ErrAlreadyTerminal
		}
		return job, err
	}
	o.logger.Info().Str("job_id", jobID).Msg("job cancellation requested")
	if job.Status.Terminal() && job.CompletedAt != nil {
		o.notifyFinished(ctx, o.logger, job)
	}
	return job, nil
}

// runTarget converts a panic inside the handler into that target's error, so
// one misbehaving target fails alone instead of unwinding the whole run.
func runTarget(ctx context.Context, run Run, job *models.Job, target *models.TargetResult) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.Errorf("panic: %v", p)
		}
	}()
	return run.RunTarget(ctx, job, target)
}

func (o *Orchestrator) cancelRequested(ctx context.Context, jobID string) (bool, error) {
	job, err := o.store.GetByID(ctx, jobID)
	if err != nil {
		return false, err
	}
	return job.Status == models.JobStatusCancelled, nil
}

func (o *Orchestrator) finalize(ctx context.Context, logger zerolog.Logger, job *models.Job, status models.JobStatus, jobErr string) {
	final, err := o.store.Finalize(ctx, job.ID, status, jobErr, job.Targets)
	if err != nil {
		logger.Error().Err(err).Str("status", string(status)).Msg("failed to finalize job")
		return
	}
	*job = final
	logger.Info().Str("status", string(final.Status)).Msg("job finished")
	o.notifyFinished(ctx, logger, final)
}

func (o *Orchestrator) notifyStarted(ctx context.Context, logger zerolog.Logger, job models.Job) {
	if o.notifier == nil {
		return
	}
	if err := o.notifier.JobStarted(ctx, job); err != nil {
		logger.Warn().Err(err).Msg("failed to publish job started notification")
	}
}

func (o *Orchestrator) notifyFinished(ctx context.Context, logger zerolog.Logger, job models.Job) {
	if o.notifier == nil {
		return
	}
	if err := o.notifier.JobFinished(ctx, job); err != nil {
		logger.Warn().Err(err).Msg("failed to publish job finished notification")
	}
}
