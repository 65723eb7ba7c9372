package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/virtshift/virtshift-api/internal/models"
	"github.com/virtshift/virtshift-api/internal/repository"
)

// fakeJobRepo mirrors the durable repository's transition rules in memory:
// claim only from pending, run updates only while running, cancel finalizes a
// pending job in place and flags a running one for its executor.
type fakeJobRepo struct {
	mu   sync.Mutex
	jobs map[string]models.Job

	progressLog []int
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{jobs: make(map[string]models.Job)}
}

func cloneJob(job models.Job) models.Job {
	targets := make([]models.TargetResult, len(job.Targets))
	copy(targets, job.Targets)
	job.Targets = targets
	return job
}

func (f *fakeJobRepo) Create(_ context.Context, job models.Job) (models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	job.CreatedAt = now
	job.UpdatedAt = now
	f.jobs[job.ID] = cloneJob(job)
	return cloneJob(job), nil
}

func (f *fakeJobRepo) Get(_ context.Context, tenantID, jobID string) (models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok || job.TenantID != tenantID {
		return models.Job{}, repository.ErrNotFound
	}
	return cloneJob(job), nil
}

func (f *fakeJobRepo) GetByID(_ context.Context, jobID string) (models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok {
		return models.Job{}, repository.ErrNotFound
	}
	return cloneJob(job), nil
}

func (f *fakeJobRepo) List(_ context.Context, tenantID string, limit, offset int) ([]models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Job
	for _, job := range f.jobs {
		if job.TenantID == tenantID {
			out = append(out, cloneJob(job))
		}
	}
	return out, nil
}

func (f *fakeJobRepo) ClaimPending(_ context.Context, jobID string) (models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok || job.Status != models.JobStatusPending {
		return models.Job{}, repository.ErrConflict
	}
	now := time.Now()
	job.Status = models.JobStatusRunning
	job.StartedAt = &now
	job.UpdatedAt = now
	f.jobs[jobID] = cloneJob(job)
	return cloneJob(job), nil
}

func (f *fakeJobRepo) UpdateRun(_ context.Context, jobID string, progress int, targets []models.TargetResult) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok || job.Status != models.JobStatusRunning {
		return 0, nil
	}
	job.Progress = progress
	job.Targets = targets
	job.UpdatedAt = time.Now()
	f.jobs[jobID] = cloneJob(job)
	f.progressLog = append(f.progressLog, progress)
	return 1, nil
}

func (f *fakeJobRepo) Cancel(_ context.Context, tenantID, jobID, reason string) (models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok || job.TenantID != tenantID {
		return models.Job{}, repository.ErrNotFound
	}
	switch job.Status {
	case models.JobStatusPending:
		now := time.Now()
		job.Status = models.JobStatusCancelled
		job.Progress = 100
		job.Error = &reason
		job.CompletedAt = &now
		job.UpdatedAt = now
	case models.JobStatusRunning:
		job.Status = models.JobStatusCancelled
		job.Error = &reason
		job.UpdatedAt = time.Now()
	default:
		return models.Job{}, repository.ErrConflict
	}
	f.jobs[jobID] = cloneJob(job)
	return cloneJob(job), nil
}

func (f *fakeJobRepo) Finalize(_ context.Context, jobID string, status models.JobStatus, jobErr string, targets []models.TargetResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok {
		return repository.ErrNotFound
	}
	if job.Status != models.JobStatusRunning && job.Status != models.JobStatusCancelled {
		return repository.ErrConflict
	}
	now := time.Now()
	job.Status = status
	job.Progress = 100
	job.Targets = targets
	if job.Error == nil && jobErr != "" {
		job.Error = &jobErr
	}
	if job.CompletedAt == nil {
		job.CompletedAt = &now
	}
	job.UpdatedAt = now
	f.jobs[jobID] = cloneJob(job)
	return nil
}

func (f *fakeJobRepo) ListPendingIDs(_ context.Context, limit int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id, job := range f.jobs {
		if job.Status == models.JobStatusPending {
			ids = append(ids, id)
		}
		if len(ids) == limit {
			break
		}
	}
	return ids, nil
}

func (f *fakeJobRepo) HasProducedResource(_ context.Context, resourceID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, job := range f.jobs {
		for _, target := range job.Targets {
			if target.ProducedResourceID == resourceID {
				return true, nil
			}
		}
	}
	return false, nil
}
