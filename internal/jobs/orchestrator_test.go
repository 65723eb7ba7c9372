package jobs

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/virtshift/virtshift-api/internal/models"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) JobStarted(_ context.Context, job models.Job) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, "started:"+string(job.Status))
	return nil
}

func (n *recordingNotifier) JobFinished(_ context.Context, job models.Job) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, "finished:"+string(job.Status))
	return nil
}

// scriptedHandler runs each target through a per-target function.
type scriptedHandler struct {
	kind        models.JobKind
	setupWeight int
	prepareErr  error
	paramsErr   error
	onTarget    func(job *models.Job, target *models.TargetResult) error
	onPrepare   func(job *models.Job) error
}

func (h *scriptedHandler) Kind() models.JobKind { return h.kind }

func (h *scriptedHandler) NewRun(job *models.Job) (Run, error) {
	if h.paramsErr != nil {
		return nil, h.paramsErr
	}
	return &scriptedRun{handler: h}, nil
}

type scriptedRun struct {
	handler *scriptedHandler
}

func (r *scriptedRun) SetupWeight() int { return r.handler.setupWeight }

func (r *scriptedRun) Prepare(_ context.Context, job *models.Job) error {
	if r.handler.onPrepare != nil {
		return r.handler.onPrepare(job)
	}
	return r.handler.prepareErr
}

func (r *scriptedRun) RunTarget(_ context.Context, job *models.Job, target *models.TargetResult) error {
	if r.handler.onTarget != nil {
		return r.handler.onTarget(job, target)
	}
	return nil
}

func (r *scriptedRun) Finish(_ context.Context, _ *models.Job) {}

func newTestOrchestrator(t *testing.T, handler Handler) (*Orchestrator, *fakeJobRepo, *MemoryCache, *recordingNotifier) {
	t.Helper()
	repo := newFakeJobRepo()
	cache := NewMemoryCache()
	notifier := &recordingNotifier{}
	store := NewStore(repo, cache, zerolog.Nop())
	orchestrator := NewOrchestrator(store, notifier, zerolog.Nop())
	if handler != nil {
		orchestrator.Register(handler)
	}
	return orchestrator, repo, cache, notifier
}

func TestSubmitValidation(t *testing.T) {
	handler := &scriptedHandler{kind: models.JobKindMigration}
	orchestrator, _, _, _ := newTestOrchestrator(t, handler)
	ctx := context.Background()

	_, err := orchestrator.Submit(ctx, "t1", models.JobKindRotation, nil, []string{"a"})
	assert.ErrorIs(t, err, ErrInvalidInput, "unregistered kind")

	_, err = orchestrator.Submit(ctx, "t1", models.JobKindMigration, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidInput, "no targets")

	_, err = orchestrator.Submit(ctx, "t1", models.JobKindMigration, nil, []string{"a", "a"})
	assert.ErrorIs(t, err, ErrInvalidInput, "duplicate targets")

	_, err = orchestrator.Submit(ctx, "t1", models.JobKindMigration, nil, []string{"a", " "})
	assert.ErrorIs(t, err, ErrInvalidInput, "blank target")

	handler.paramsErr = errors.New("strategy missing")
	_, err = orchestrator.Submit(ctx, "t1", models.JobKindMigration, json.RawMessage(`{}`), []string{"a"})
	assert.ErrorIs(t, err, ErrInvalidInput, "handler rejected params")
}

func TestRunCompletesWhenAllTargetsSucceed(t *testing.T) {
	handler := &scriptedHandler{
		kind: models.JobKindMigration,
		onTarget: func(_ *models.Job, target *models.TargetResult) error {
			target.ProducedResourceID = "vmid-" + target.TargetID
			return nil
		},
	}
	orchestrator, _, _, notifier := newTestOrchestrator(t, handler)
	ctx := context.Background()

	job, err := orchestrator.Submit(ctx, "t1", models.JobKindMigration, nil, []string{"vm-a", "vm-b"})
	require.NoError(t, err)
	require.NoError(t, orchestrator.Run(ctx, job.ID))

	final, err := orchestrator.GetStatus(ctx, "t1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, final.Status)
	assert.Equal(t, 100, final.Progress)
	require.NotNil(t, final.CompletedAt)
	for _, target := range final.Targets {
		assert.Equal(t, models.TargetStatusSuccess, target.Status)
		assert.Equal(t, "vmid-"+target.TargetID, target.ProducedResourceID)
	}
	assert.Equal(t, []string{"started:running", "finished:completed"}, notifier.events)
}

func TestTargetFailureIsIsolated(t *testing.T) {
	attempted := []string{}
	handler := &scriptedHandler{
		kind: models.JobKindMigration,
		onTarget: func(_ *models.Job, target *models.TargetResult) error {
			attempted = append(attempted, target.TargetID)
			if target.TargetID == "vm-2" {
				return errors.New("create failed: vmid already exists")
			}
			target.ProducedResourceID = target.TargetID
			return nil
		},
	}
	orchestrator, _, _, _ := newTestOrchestrator(t, handler)
	ctx := context.Background()

	job, err := orchestrator.Submit(ctx, "t1", models.JobKindMigration, nil, []string{"vm-1", "vm-2", "vm-3"})
	require.NoError(t, err)
	require.NoError(t, orchestrator.Run(ctx, job.ID))

	final, err := orchestrator.GetStatus(ctx, "t1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"vm-1", "vm-2", "vm-3"}, attempted, "failure must not stop later targets")
	assert.Equal(t, models.JobStatusFailed, final.Status)
	assert.Equal(t, 100, final.Progress)
	assert.Equal(t, models.TargetStatusSuccess, final.Targets[0].Status)
	assert.Equal(t, models.TargetStatusFailed, final.Targets[1].Status)
	assert.Contains(t, final.Targets[1].Message, "create failed")
	assert.Equal(t, models.TargetStatusSuccess, final.Targets[2].Status)
}

func TestTargetPanicIsIsolated(t *testing.T) {
	attempted := []string{}
	handler := &scriptedHandler{
		kind: models.JobKindMigration,
		onTarget: func(_ *models.Job, target *models.TargetResult) error {
			attempted = append(attempted, target.TargetID)
			if target.TargetID == "vm-2" {
				var disks []string
				_ = disks[3]
			}
			return nil
		},
	}
	orchestrator, _, _, _ := newTestOrchestrator(t, handler)
	ctx := context.Background()

	job, err := orchestrator.Submit(ctx, "t1", models.JobKindMigration, nil, []string{"vm-1", "vm-2", "vm-3"})
	require.NoError(t, err)
	require.NoError(t, orchestrator.Run(ctx, job.ID))

	final, err := orchestrator.GetStatus(ctx, "t1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"vm-1", "vm-2", "vm-3"}, attempted, "panic must not stop later targets")
	assert.Equal(t, models.JobStatusFailed, final.Status)
	assert.Equal(t, 100, final.Progress)
	require.NotNil(t, final.CompletedAt)
	assert.Equal(t, models.TargetStatusSuccess, final.Targets[0].Status)
	assert.Equal(t, models.TargetStatusFailed, final.Targets[1].Status)
	assert.Contains(t, final.Targets[1].Message, "panic")
	assert.Equal(t, models.TargetStatusSuccess, final.Targets[2].Status)
}

func TestSkippedTargetsStillComplete(t *testing.T) {
	handler := &scriptedHandler{
		kind: models.JobKindMigration,
		onTarget: func(_ *models.Job, target *models.TargetResult) error {
			if target.TargetID == "vm-empty" {
				return errors.Wrap(ErrSkipTarget, "no disks to migrate")
			}
			return nil
		},
	}
	orchestrator, _, _, _ := newTestOrchestrator(t, handler)
	ctx := context.Background()

	job, err := orchestrator.Submit(ctx, "t1", models.JobKindMigration, nil, []string{"vm-1", "vm-empty"})
	require.NoError(t, err)
	require.NoError(t, orchestrator.Run(ctx, job.ID))

	final, err := orchestrator.GetStatus(ctx, "t1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, final.Status, "skips do not fail the job")
	assert.Equal(t, models.TargetStatusSkipped, final.Targets[1].Status)
}

func TestPrepareFailureLeavesTargetsPending(t *testing.T) {
	handler := &scriptedHandler{
		kind:       models.JobKindMigration,
		prepareErr: errors.New("source host unreachable"),
	}
	orchestrator, _, _, _ := newTestOrchestrator(t, handler)
	ctx := context.Background()

	job, err := orchestrator.Submit(ctx, "t1", models.JobKindMigration, nil, []string{"vm-1", "vm-2"})
	require.NoError(t, err)
	require.NoError(t, orchestrator.Run(ctx, job.ID))

	final, err := orchestrator.GetStatus(ctx, "t1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, final.Status)
	assert.Equal(t, 100, final.Progress)
	require.NotNil(t, final.Error)
	assert.Contains(t, *final.Error, "unreachable")
	for _, target := range final.Targets {
		assert.Equal(t, models.TargetStatusPending, target.Status)
	}
}

func TestProgressIsMonotonicWithSetupWeight(t *testing.T) {
	handler := &scriptedHandler{kind: models.JobKindMigration, setupWeight: 10}
	orchestrator, repo, _, _ := newTestOrchestrator(t, handler)
	ctx := context.Background()

	job, err := orchestrator.Submit(ctx, "t1", models.JobKindMigration, nil, []string{"a", "b", "c"})
	require.NoError(t, err)
	require.NoError(t, orchestrator.Run(ctx, job.ID))

	require.Equal(t, []int{10, 40, 70, 100}, repo.progressLog)
}

func TestCancelPendingJob(t *testing.T) {
	handler := &scriptedHandler{kind: models.JobKindMigration}
	orchestrator, _, _, _ := newTestOrchestrator(t, handler)
	ctx := context.Background()

	job, err := orchestrator.Submit(ctx, "t1", models.JobKindMigration, nil, []string{"a"})
	require.NoError(t, err)

	cancelled, err := orchestrator.Cancel(ctx, "t1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, cancelled.Status)
	assert.Equal(t, 100, cancelled.Progress)

	_, err = orchestrator.Cancel(ctx, "t1", job.ID)
	assert.ErrorIs(t, err, ErrAlreadyTerminal)

	// A later claim attempt finds nothing pending.
	require.NoError(t, orchestrator.Run(ctx, job.ID))
	final, err := orchestrator.GetStatus(ctx, "t1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, final.Status)
}

func TestCancelDuringRunStopsAtTargetBoundary(t *testing.T) {
	var orchestrator *Orchestrator
	handler := &scriptedHandler{kind: models.JobKindMigration}
	handler.onTarget = func(job *models.Job, target *models.TargetResult) error {
		if target.TargetID == "vm-1" {
			_, err := orchestrator.Cancel(context.Background(), "t1", job.ID)
			require.NoError(t, err)
		}
		return nil
	}
	orchestrator, _, _, _ = newTestOrchestrator(t, handler)
	ctx := context.Background()

	job, err := orchestrator.Submit(ctx, "t1", models.JobKindMigration, nil, []string{"vm-1", "vm-2", "vm-3"})
	require.NoError(t, err)
	require.NoError(t, orchestrator.Run(ctx, job.ID))

	final, err := orchestrator.GetStatus(ctx, "t1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, final.Status)
	assert.Equal(t, 100, final.Progress)
	assert.Equal(t, models.TargetStatusSuccess, final.Targets[0].Status, "in-flight target finishes")
	assert.Equal(t, models.TargetStatusPending, final.Targets[1].Status, "later targets never start")
	assert.Equal(t, models.TargetStatusPending, final.Targets[2].Status)
}

func TestStatusSurvivesCacheLoss(t *testing.T) {
	handler := &scriptedHandler{
		kind: models.JobKindMigration,
		onTarget: func(_ *models.Job, target *models.TargetResult) error {
			target.ProducedResourceID = "101"
			return nil
		},
	}
	orchestrator, _, cache, _ := newTestOrchestrator(t, handler)
	ctx := context.Background()

	job, err := orchestrator.Submit(ctx, "t1", models.JobKindMigration, nil, []string{"vm-1"})
	require.NoError(t, err)
	require.NoError(t, orchestrator.Run(ctx, job.ID))

	before, err := orchestrator.GetStatus(ctx, "t1", job.ID)
	require.NoError(t, err)

	// Simulate a restart wiping the cache; the durable record rebuilds the view.
	cache.Clear()

	after, err := orchestrator.GetStatus(ctx, "t1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, before.Status, after.Status)
	assert.Equal(t, before.Progress, after.Progress)
	assert.Equal(t, before.Targets, after.Targets)
}

func TestRunIsSingleFlight(t *testing.T) {
	runs := 0
	handler := &scriptedHandler{
		kind: models.JobKindMigration,
		onTarget: func(_ *models.Job, _ *models.TargetResult) error {
			runs++
			return nil
		},
	}
	orchestrator, _, _, _ := newTestOrchestrator(t, handler)
	ctx := context.Background()

	job, err := orchestrator.Submit(ctx, "t1", models.JobKindMigration, nil, []string{"vm-1"})
	require.NoError(t, err)
	require.NoError(t, orchestrator.Run(ctx, job.ID))
	require.NoError(t, orchestrator.Run(ctx, job.ID), "second run loses the claim quietly")
	assert.Equal(t, 1, runs)
}

func TestGetStatusUnknownJob(t *testing.T) {
	orchestrator, _, _, _ := newTestOrchestrator(t, &scriptedHandler{kind: models.JobKindMigration})
	_, err := orchestrator.GetStatus(context.Background(), "t1", "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = orchestrator.Cancel(context.Background(), "t1", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTenantIsolation(t *testing.T) {
	orchestrator, _, _, _ := newTestOrchestrator(t, &scriptedHandler{kind: models.JobKindMigration})
	ctx := context.Background()

	job, err := orchestrator.Submit(ctx, "t1", models.JobKindMigration, nil, []string{"vm-1"})
	require.NoError(t, err)

	_, err = orchestrator.GetStatus(ctx, "t2", job.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = orchestrator.Cancel(ctx, "t2", job.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
