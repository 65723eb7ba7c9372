package jobs

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/virtshift/virtshift-api/internal/models"
	"github.com/virtshift/virtshift-api/internal/repository"
)

// Store is the write-through job view: every mutation hits the durable
// repository first and only then the cache, so a crash between the two leaves
// the durable record authoritative and the cache rebuilds lazily.
type Store struct {
	repo   repository.JobRepository
	cache  Cache
	logger zerolog.Logger
}

func NewStore(repo repository.JobRepository, cache Cache, logger zerolog.Logger) *Store {
	return &Store{
		repo:   repo,
		cache:  cache,
		logger: logger.With().Str("component", "job_store").Logger(),
	}
}

func (s *Store) cacheSet(ctx context.Context, job models.Job) {
	if err := s.cache.SetJob(ctx, job); err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("failed to update job cache")
	}
}

func (s *Store) Create(ctx context.Context, job models.Job) (models.Job, error) {
	created, err := s.repo.Create(ctx, job)
	if err != nil {
		return created, err
	}
	s.cacheSet(ctx, created)
	return created, nil
}

// Get serves a tenant-scoped read: cache first, durable record on miss. The
// durable fallback is the reconciliation path after a restart or eviction.
func (s *Store) Get(ctx context.Context, tenantID, jobID string) (models.Job, error) {
	job, ok, err := s.cache.GetJob(ctx, jobID)
	if err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("job cache read failed, falling back to database")
	}
	if ok && job.TenantID == tenantID {
		return job, nil
	}
	job, err = s.repo.Get(ctx, tenantID, jobID)
	if err != nil {
		return job, err
	}
	s.cacheSet(ctx, job)
	return job, nil
}

func (s *Store) GetByID(ctx context.Context, jobID string) (models.Job, error) {
	return s.repo.GetByID(ctx, jobID)
}

func (s *Store) Claim(ctx context.Context, jobID string) (models.Job, error) {
	job, err := s.repo.ClaimPending(ctx, jobID)
	if err != nil {
		return job, err
	}
	s.cacheSet(ctx, job)
	return job, nil
}

func (s *Store) UpdateRun(ctx context.Context, job models.Job) (int64, error) {
	rows, err := s.repo.UpdateRun(ctx, job.ID, job.Progress, job.Targets)
	if err != nil {
		return rows, err
	}
	if rows > 0 {
		s.cacheSet(ctx, job)
	}
	return rows, nil
}

func (s *Store) Cancel(ctx context.Context, tenantID, jobID, reason string) (models.Job, error) {
	job, err := s.repo.Cancel(ctx, tenantID, jobID, reason)
	if err != nil {
		return job, err
	}
	s.cacheSet(ctx, job)
	return job, nil
}

// Finalize writes the terminal state and refreshes the cache from the durable
// row, which may carry an earlier error (e.g. a cancel reason) that wins over
// the executor's view.
func (s *Store) Finalize(ctx context.Context, jobID string, status models.JobStatus, jobErr string, targets []models.TargetResult) (models.Job, error) {
	if err := s.repo.Finalize(ctx, jobID, status, jobErr, targets); err != nil {
		return models.Job{}, err
	}
	job, err := s.repo.GetByID(ctx, jobID)
	if err != nil {
		return job, err
	}
	s.cacheSet(ctx, job)
	return job, nil
}

func (s *Store) ListPendingIDs(ctx context.Context, limit int) ([]string, error) {
	return s.repo.ListPendingIDs(ctx, limit)
}
