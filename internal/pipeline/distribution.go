package pipeline

import (
	"context"
	"encoding/json"
	"os"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/virtshift/virtshift-api/internal/hypervisor"
	"github.com/virtshift/virtshift-api/internal/jobs"
	"github.com/virtshift/virtshift-api/internal/models"
	"github.com/virtshift/virtshift-api/internal/repository"
)

// DistributionParams is the params payload of a distribution job: push one
// local image into the storage of every target host. Targets of the job are
// target host IDs.
type DistributionParams struct {
	ImagePath     string `json:"image_path"`
	TargetNode    string `json:"target_node"`
	TargetStorage string `json:"target_storage"`
}

func (p DistributionParams) validate() error {
	switch {
	case p.ImagePath == "":
		return errors.New("image_path is required")
	case p.TargetNode == "":
		return errors.New("target_node is required")
	case p.TargetStorage == "":
		return errors.New("target_storage is required")
	}
	return nil
}

// DistributionPipeline fans one image out to many clusters. Each host is an
// isolated target: one unreachable cluster never blocks the rest.
type DistributionPipeline struct {
	hosts   repository.HostRepository
	targets hypervisor.TargetFactory
	logger  zerolog.Logger
}

func NewDistributionPipeline(hosts repository.HostRepository, targets hypervisor.TargetFactory, logger zerolog.Logger) *DistributionPipeline {
	return &DistributionPipeline{
		hosts:   hosts,
		targets: targets,
		logger:  logger.With().Str("component", "distribution_pipeline").Logger(),
	}
}

func (p *DistributionPipeline) Kind() models.JobKind { return models.JobKindDistribution }

func (p *DistributionPipeline) NewRun(job *models.Job) (jobs.Run, error) {
	var params DistributionParams
	if err := json.Unmarshal(job.Params, &params); err != nil {
		return nil, errors.Wrap(err, "decode distribution params")
	}
	if err := params.validate(); err != nil {
		return nil, err
	}
	return &distributionRun{pipeline: p, params: params}, nil
}

type distributionRun struct {
	pipeline *DistributionPipeline
	params   DistributionParams
}

func (r *distributionRun) SetupWeight() int { return 0 }

func (r *distributionRun) Prepare(ctx context.Context, job *models.Job) error {
	if _, err := os.Stat(r.params.ImagePath); err != nil {
		return errors.Wrapf(err, "image %s not readable", r.params.ImagePath)
	}
	return nil
}

func (r *distributionRun) RunTarget(ctx context.Context, job *models.Job, target *models.TargetResult) error {
	host, err := r.pipeline.hosts.GetWithCredential(ctx, job.TenantID, target.TargetID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return errors.Errorf("host %q not registered", target.TargetID)
		}
		return errors.Wrapf(err, "resolve host %q", target.TargetID)
	}
	if host.Kind != models.HostKindPVE {
		return errors.Wrapf(jobs.ErrSkipTarget, "host %s does not accept image uploads", host.Name)
	}

	client := r.pipeline.targets(host)
	if err := client.Login(ctx); err != nil {
		return errors.Wrapf(err, "host %s unreachable", host.Name)
	}
	err = client.UploadVolume(ctx, r.params.TargetNode, r.params.TargetStorage, r.params.ImagePath)
	if err != nil {
		return errors.Wrapf(err, "upload image to %s", host.Name)
	}
	return nil
}

func (r *distributionRun) Finish(ctx context.Context, job *models.Job) {}
