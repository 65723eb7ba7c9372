package pipeline

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/virtshift/virtshift-api/internal/hypervisor"
	"github.com/virtshift/virtshift-api/internal/jobs"
	"github.com/virtshift/virtshift-api/internal/models"
	"github.com/virtshift/virtshift-api/internal/repository"
)

// RotationParams is the params payload of a credential rotation job. Targets
// of the job are host IDs; each host gets its own generated secret, never
// carried in the job record.
type RotationParams struct {
	PasswordLength int `json:"password_length,omitempty"`
}

const defaultPasswordLength = 24

// RotationPipeline rotates the stored credential of each host: set the new
// password on the hypervisor first, then re-encrypt the stored copy. The
// ordering matters: a crash between the two calls leaves a stale stored
// credential, which operators can fix, while the reverse order would lock
// the panel out of the host.
type RotationPipeline struct {
	hosts   repository.HostRepository
	sources hypervisor.SourceFactory
	targets hypervisor.TargetFactory
	logger  zerolog.Logger
}

func NewRotationPipeline(hosts repository.HostRepository, sources hypervisor.SourceFactory, targets hypervisor.TargetFactory, logger zerolog.Logger) *RotationPipeline {
	return &RotationPipeline{
		hosts:   hosts,
		sources: sources,
		targets: targets,
		logger:  logger.With().Str("component", "rotation_pipeline").Logger(),
	}
}

func (p *RotationPipeline) Kind() models.JobKind { return models.JobKindRotation }

func (p *RotationPipeline) NewRun(job *models.Job) (jobs.Run, error) {
	var params RotationParams
	if len(job.Params) > 0 {
		if err := json.Unmarshal(job.Params, &params); err != nil {
			return nil, errors.Wrap(err, "decode rotation params")
		}
	}
	if params.PasswordLength == 0 {
		params.PasswordLength = defaultPasswordLength
	}
	if params.PasswordLength < 12 || params.PasswordLength > 64 {
		return nil, errors.New("password_length must be between 12 and 64")
	}
	return &rotationRun{pipeline: p, params: params}, nil
}

type rotationRun struct {
	pipeline *RotationPipeline
	params   RotationParams
}

func (r *rotationRun) SetupWeight() int { return 0 }

func (r *rotationRun) Prepare(ctx context.Context, job *models.Job) error { return nil }

func (r *rotationRun) RunTarget(ctx context.Context, job *models.Job, target *models.TargetResult) error {
	host, err := r.pipeline.hosts.GetWithCredential(ctx, job.TenantID, target.TargetID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return errors.Errorf("host %q not registered", target.TargetID)
		}
		return errors.Wrapf(err, "resolve host %q", target.TargetID)
	}

	secret, err := generateSecret(r.params.PasswordLength)
	if err != nil {
		return errors.Wrap(err, "generate secret")
	}

	switch host.Kind {
	case models.HostKindESXi:
		client := r.pipeline.sources(host)
		if err := client.Login(ctx); err != nil {
			return errors.Wrapf(err, "host %s unreachable", host.Name)
		}
		if err := client.ChangePassword(ctx, secret); err != nil {
			return errors.Wrapf(err, "rotate credential on %s", host.Name)
		}
	case models.HostKindPVE:
		client := r.pipeline.targets(host)
		if err := client.Login(ctx); err != nil {
			return errors.Wrapf(err, "host %s unreachable", host.Name)
		}
		if err := client.ChangePassword(ctx, secret); err != nil {
			return errors.Wrapf(err, "rotate credential on %s", host.Name)
		}
	default:
		return errors.Wrapf(jobs.ErrSkipTarget, "host %s has no rotatable credential", host.Name)
	}

	if err := r.pipeline.hosts.UpdateCredential(ctx, job.TenantID, host.ID, secret); err != nil {
		// The hypervisor already accepted the new password; the stored copy is
		// now stale and the target must surface that loudly.
		return errors.Wrapf(err, "hypervisor rotated but stored credential update failed for %s", host.Name)
	}
	r.pipeline.logger.Info().Str("host", host.Name).Msg("credential rotated")
	return nil
}

func (r *rotationRun) Finish(ctx context.Context, job *models.Job) {}

func generateSecret(length int) (string, error) {
	buf := make([]byte, (length+1)/2)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf)[:length], nil
}
