package pipeline

import (
	"context"
	"strconv"

	"github.com/pkg/errors"
	"github.com/virtshift/virtshift-api/internal/hypervisor"
	"github.com/virtshift/virtshift-api/internal/repository"
)

// allocateVMID picks a free VMID on the target cluster. The cluster's own
// suggestion is only a hint: another job may have consumed it between the
// suggestion and the create call, so the candidate is probed against the
// cluster resource registry and against VMIDs already claimed by past jobs,
// and incremented until both are clear.
func allocateVMID(ctx context.Context, tgt hypervisor.TargetClient, jobs repository.JobRepository) (int, error) {
	candidate, err := tgt.NextID(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "fetch suggested vmid")
	}
	existing, err := tgt.ListVMIDs(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "list cluster vmids")
	}
	for {
		if !existing[candidate] {
			claimed, err := jobs.HasProducedResource(ctx, strconv.Itoa(candidate))
			if err != nil {
				return 0, errors.Wrap(err, "check vmid claims")
			}
			if !claimed {
				return candidate, nil
			}
		}
		candidate++
	}
}
