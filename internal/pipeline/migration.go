// Package pipeline implements the per-kind job handlers: cross-hypervisor VM
// migration, image distribution, and host credential rotation. Each handler
// decodes its params at submission time and builds a fresh run per execution.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/virtshift/virtshift-api/internal/convert"
	"github.com/virtshift/virtshift-api/internal/discovery"
	"github.com/virtshift/virtshift-api/internal/hypervisor"
	"github.com/virtshift/virtshift-api/internal/jobs"
	"github.com/virtshift/virtshift-api/internal/models"
	"github.com/virtshift/virtshift-api/internal/repository"
)

const (
	StrategyFullPipeline   = "full_pipeline"
	StrategyNativeFastPath = "native_fast_path"
)

// MigrationParams is the params payload of a migration job. Targets of the
// job are source VM names on the source host.
type MigrationParams struct {
	SourceHostID     string `json:"source_host_id"`
	TargetHostID     string `json:"target_host_id"`
	TargetNode       string `json:"target_node"`
	TargetStorage    string `json:"target_storage"`
	TargetBridge     string `json:"target_bridge"`
	Strategy         string `json:"strategy"`
	StartAfterCreate bool   `json:"start_after_create"`
}

func (p MigrationParams) validate() error {
	switch {
	case p.SourceHostID == "":
		return errors.New("source_host_id is required")
	case p.TargetHostID == "":
		return errors.New("target_host_id is required")
	case p.TargetNode == "":
		return errors.New("target_node is required")
	case p.TargetStorage == "":
		return errors.New("target_storage is required")
	case p.TargetBridge == "":
		return errors.New("target_bridge is required")
	}
	if p.Strategy != StrategyFullPipeline && p.Strategy != StrategyNativeFastPath {
		return errors.Errorf("unknown strategy %q", p.Strategy)
	}
	return nil
}

// MigrationPipeline moves VMs from a source host onto a target cluster,
// either through the full download/convert/upload pipeline or through the
// target's native import fast path.
type MigrationPipeline struct {
	hosts     repository.HostRepository
	vms       repository.VMRepository
	jobs      repository.JobRepository
	discovery *discovery.Service
	transfer  *convert.Service
	sources   hypervisor.SourceFactory
	targets   hypervisor.TargetFactory
	logger    zerolog.Logger
}

func NewMigrationPipeline(
	hosts repository.HostRepository,
	vms repository.VMRepository,
	jobRepo repository.JobRepository,
	disc *discovery.Service,
	transfer *convert.Service,
	sources hypervisor.SourceFactory,
	targets hypervisor.TargetFactory,
	logger zerolog.Logger,
) *MigrationPipeline {
	return &MigrationPipeline{
		hosts:     hosts,
		vms:       vms,
		jobs:      jobRepo,
		discovery: disc,
		transfer:  transfer,
		sources:   sources,
		targets:   targets,
		logger:    logger.With().Str("component", "migration_pipeline").Logger(),
	}
}

func (p *MigrationPipeline) Kind() models.JobKind { return models.JobKindMigration }

func (p *MigrationPipeline) NewRun(job *models.Job) (jobs.Run, error) {
	var params MigrationParams
	if err := json.Unmarshal(job.Params, &params); err != nil {
		return nil, errors.Wrap(err, "decode migration params")
	}
	if err := params.validate(); err != nil {
		return nil, err
	}
	return &migrationRun{pipeline: p, params: params, logger: p.logger}, nil
}

type migrationRun struct {
	pipeline *MigrationPipeline
	params   MigrationParams
	logger   zerolog.Logger

	source hypervisor.SourceClient
	target hypervisor.TargetClient

	// Native fast path state, populated in Prepare.
	importStorageID string
	importVolumes   []hypervisor.VolumeInfo
	canImport       *bool
}

// Prepare charges 10% of progress: host resolution, logins, and the one-time
// inventory refresh are shared by every target.
func (r *migrationRun) SetupWeight() int { return 10 }

func (r *migrationRun) Prepare(ctx context.Context, job *models.Job) error {
	source, err := r.pipeline.hosts.GetWithCredential(ctx, job.TenantID, r.params.SourceHostID)
	if err != nil {
		return errors.Wrap(err, "resolve source host")
	}
	if source.Kind != models.HostKindESXi {
		return errors.Errorf("host %s cannot act as a migration source", source.Name)
	}
	target, err := r.pipeline.hosts.GetWithCredential(ctx, job.TenantID, r.params.TargetHostID)
	if err != nil {
		return errors.Wrap(err, "resolve target host")
	}
	if target.Kind != models.HostKindPVE {
		return errors.Errorf("host %s cannot act as a migration target", target.Name)
	}

	r.source = r.pipeline.sources(source)
	if err := r.source.Login(ctx); err != nil {
		return errors.Wrapf(err, "source host %s unreachable", source.Name)
	}
	r.target = r.pipeline.targets(target)
	if err := r.target.Login(ctx); err != nil {
		return errors.Wrapf(err, "target host %s unreachable", target.Name)
	}

	// Fresh inventory so target lookups reflect the source as it is now, not
	// as it was at the last manual refresh.
	if _, err := r.pipeline.discovery.Refresh(ctx, job.TenantID, r.params.SourceHostID); err != nil {
		return errors.Wrap(err, "refresh source inventory")
	}

	if r.params.Strategy == StrategyNativeFastPath {
		return r.prepareImport(ctx, job, source)
	}
	return nil
}

// prepareImport registers a transient storage endpoint of the source's type
// on the target cluster and lists its import-eligible volumes. The endpoint
// lives for the duration of the job and is removed in Finish.
func (r *migrationRun) prepareImport(ctx context.Context, job *models.Job, source models.HypervisorHost) error {
	r.importStorageID = "vsimport-" + shortID(job.ID)
	req := hypervisor.StorageRequest{
		ID:       r.importStorageID,
		Type:     string(source.Kind),
		Server:   hostFromEndpoint(source.Endpoint),
		Username: source.Username,
		Password: source.Password,
		SkipCert: source.InsecureSkipVerify,
	}
	if err := r.target.CreateStorage(ctx, req); err != nil {
		r.importStorageID = ""
		return errors.Wrap(err, "register import storage")
	}
	volumes, err := r.target.ListStorageContent(ctx, r.params.TargetNode, r.importStorageID)
	if err != nil {
		return errors.Wrap(err, "list import volumes")
	}
	r.importVolumes = volumes
	return nil
}

func (r *migrationRun) RunTarget(ctx context.Context, job *models.Job, target *models.TargetResult) error {
	vm, err := r.pipeline.vms.GetByName(ctx, job.TenantID, r.params.SourceHostID, target.TargetID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return errors.Errorf("vm %q not found on source host", target.TargetID)
		}
		return errors.Wrapf(err, "look up vm %q", target.TargetID)
	}

	if r.params.Strategy == StrategyNativeFastPath {
		return r.runImport(ctx, job, target, vm)
	}
	return r.runFullPipeline(ctx, job, target, vm)
}

// runFullPipeline downloads, converts, and uploads every disk of the VM, then
// creates the target VM referencing the uploaded volumes. A failed upload is
// retried once without repeating the conversion.
func (r *migrationRun) runFullPipeline(ctx context.Context, job *models.Job, target *models.TargetResult, vm models.DiscoveredVM) error {
	if len(vm.Disks) == 0 {
		return errors.Wrapf(jobs.ErrSkipTarget, "vm %q has no disks to migrate", vm.Name)
	}

	vmid, err := allocateVMID(ctx, r.target, r.pipeline.jobs)
	if err != nil {
		return err
	}

	disks := make([]string, 0, len(vm.Disks))
	for _, disk := range vm.Disks {
		localPath, err := r.pipeline.transfer.Convert(ctx, r.source, vm.Name, disk.SourcePath)
		if err != nil {
			return err
		}
		err = r.pipeline.transfer.Upload(ctx, r.target, localPath, r.params.TargetNode, r.params.TargetStorage)
		if err != nil {
			r.logger.Warn().Err(err).Str("vm", vm.Name).Msg("upload failed, retrying once")
			err = r.pipeline.transfer.Upload(ctx, r.target, localPath, r.params.TargetNode, r.params.TargetStorage)
		}
		if err != nil {
			return err
		}
		volID := r.params.TargetStorage + ":import/" + path.Base(localPath)
		disks = append(disks, fmt.Sprintf("%s:0,import-from=%s", r.params.TargetStorage, volID))
	}

	nets := make([]string, 0, len(vm.NetworkAdapters))
	for _, nic := range vm.NetworkAdapters {
		net := "virtio,bridge=" + r.params.TargetBridge
		if nic.MACAddress != "" {
			net = "virtio,macaddr=" + nic.MACAddress + ",bridge=" + r.params.TargetBridge
		}
		nets = append(nets, net)
	}

	return r.createVM(ctx, target, hypervisor.CreateVMRequest{
		Node:     r.params.TargetNode,
		VMID:     vmid,
		Name:     vm.Name,
		Cores:    vm.CPUCores,
		MemoryMB: vm.MemoryMB,
		Disks:    disks,
		Nets:     nets,
	})
}

// runImport creates the target VM directly from the source-backed storage
// endpoint, never touching disk contents. A node without the import
// capability fails this target; there is no silent fallback to the full
// pipeline, since the operator chose the strategy for its downtime profile.
func (r *migrationRun) runImport(ctx context.Context, job *models.Job, target *models.TargetResult, vm models.DiscoveredVM) error {
	if r.canImport == nil {
		ok, err := r.target.SupportsImport(ctx, r.params.TargetNode, string(models.HostKindESXi))
		if err != nil {
			return errors.Wrap(err, "probe import capability")
		}
		r.canImport = &ok
	}
	if !*r.canImport {
		return errors.Errorf("node %s does not support native import from this source", r.params.TargetNode)
	}

	volID := r.findImportVolume(vm.Name)
	if volID == "" {
		return errors.Errorf("vm %q not visible through import storage", vm.Name)
	}
	meta, err := r.target.ImportMetadata(ctx, r.params.TargetNode, volID)
	if err != nil {
		return errors.Wrapf(err, "read import metadata for %q", vm.Name)
	}

	vmid, err := allocateVMID(ctx, r.target, r.pipeline.jobs)
	if err != nil {
		return err
	}

	disks := make([]string, 0, len(meta.Disks))
	for _, disk := range meta.Disks {
		disks = append(disks, fmt.Sprintf("%s:0,import-from=%s", r.params.TargetStorage, disk.VolID))
	}
	nets := make([]string, 0, len(meta.Nets))
	for _, nic := range meta.Nets {
		model := nic.Model
		if model == "" {
			model = "virtio"
		}
		net := model + ",bridge=" + r.params.TargetBridge
		if nic.MACAddress != "" {
			net = model + ",macaddr=" + nic.MACAddress + ",bridge=" + r.params.TargetBridge
		}
		nets = append(nets, net)
	}

	cores := meta.Cores
	if cores == 0 {
		cores = vm.CPUCores
	}
	memory := meta.MemoryMB
	if memory == 0 {
		memory = vm.MemoryMB
	}

	return r.createVM(ctx, target, hypervisor.CreateVMRequest{
		Node:     r.params.TargetNode,
		VMID:     vmid,
		Name:     vm.Name,
		Cores:    cores,
		MemoryMB: memory,
		Disks:    disks,
		Nets:     nets,
	})
}

func (r *migrationRun) createVM(ctx context.Context, target *models.TargetResult, req hypervisor.CreateVMRequest) error {
	if err := r.target.CreateVM(ctx, req); err != nil {
		return errors.Wrapf(err, "create vm %q", req.Name)
	}
	// The VMID is claimed from here on, even if the start below fails.
	target.ProducedResourceID = strconv.Itoa(req.VMID)

	if r.params.StartAfterCreate {
		if err := r.target.StartVM(ctx, req.Node, req.VMID); err != nil {
			return errors.Wrapf(err, "start vm %d", req.VMID)
		}
	}
	r.logger.Info().
		Str("vm", req.Name).
		Int("vmid", req.VMID).
		Msg("vm created on target")
	return nil
}

// Finish removes the transient import storage. Best effort: a leaked endpoint
// is inert and visible to operators on the target side.
func (r *migrationRun) Finish(ctx context.Context, job *models.Job) {
	if r.importStorageID == "" || r.target == nil {
		return
	}
	if err := r.target.DeleteStorage(ctx, r.importStorageID); err != nil {
		r.logger.Warn().Err(err).Str("storage", r.importStorageID).Msg("failed to remove import storage")
	}
}

// findImportVolume matches a VM name against the import volume listing. The
// endpoint exposes volids of the form "<storage>:<datacenter>/<vm>/<vm>.vmx".
func (r *migrationRun) findImportVolume(vmName string) string {
	for _, vol := range r.importVolumes {
		rest := vol.VolID
		if idx := strings.Index(rest, ":"); idx >= 0 {
			rest = rest[idx+1:]
		}
		parts := strings.Split(rest, "/")
		for _, part := range parts {
			if part == vmName {
				return vol.VolID
			}
		}
	}
	return ""
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// hostFromEndpoint strips scheme, port, and path from a stored endpoint URL,
// since storage registration wants a bare server name. Endpoints stored
// without a scheme are parsed as host-only.
func hostFromEndpoint(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		u, err = url.Parse("//" + endpoint)
		if err != nil || u.Host == "" {
			return endpoint
		}
	}
	return u.Hostname()
}
