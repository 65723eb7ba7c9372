// Package discovery enumerates virtual machines on a source host and
// normalizes the heterogeneous hardware descriptors into flat snapshot
// records. A refresh replaces the host's full stored snapshot.
package discovery

import (
	"context"
	"fmt"
	"math"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/virtshift/virtshift-api/internal/hypervisor"
	"github.com/virtshift/virtshift-api/internal/models"
	"github.com/virtshift/virtshift-api/internal/repository"
)

// Notifier publishes a discovery-complete event. Optional.
type Notifier interface {
	DiscoveryComplete(ctx context.Context, tenantID, hostID, hostName string, vmCount int) error
}

type Service struct {
	hosts    repository.HostRepository
	vms      repository.VMRepository
	sources  hypervisor.SourceFactory
	notifier Notifier
	logger   zerolog.Logger
}

func NewService(hosts repository.HostRepository, vms repository.VMRepository, sources hypervisor.SourceFactory, notifier Notifier, logger zerolog.Logger) *Service {
	return &Service{
		hosts:    hosts,
		vms:      vms,
		sources:  sources,
		notifier: notifier,
		logger:   logger.With().Str("component", "discovery").Logger(),
	}
}

// Refresh pulls the source host's inventory in one bulk call, normalizes it,
// and replaces the stored snapshot. Running it twice against an unchanged
// source yields an identical snapshot; VMs that disappeared from the source
// disappear from the snapshot.
func (s *Service) Refresh(ctx context.Context, tenantID, sourceHostID string) ([]models.DiscoveredVM, error) {
	host, err := s.hosts.GetWithCredential(ctx, tenantID, sourceHostID)
	if err != nil {
		return nil, err
	}
	if host.Kind != models.HostKindESXi {
		return nil, fmt.Errorf("host %s is not a discovery source", host.Name)
	}

	client := s.sources(host)
	if err := client.Login(ctx); err != nil {
		return nil, errors.Wrapf(err, "source host %s unreachable", host.Name)
	}
	inventory, err := client.ListVMs(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "list inventory on %s", host.Name)
	}

	normalized := make([]models.DiscoveredVM, 0, len(inventory))
	for _, vm := range inventory {
		record := normalize(vm)
		s.enrichIPs(ctx, client, vm.Name, record.NetworkAdapters)
		normalized = append(normalized, record)
	}

	stored, err := s.vms.ReplaceSnapshot(ctx, tenantID, sourceHostID, normalized)
	if err != nil {
		return nil, errors.Wrap(err, "replace snapshot")
	}
	s.logger.Info().
		Str("source_host_id", sourceHostID).
		Int("vm_count", len(stored)).
		Msg("inventory snapshot replaced")

	if s.notifier != nil {
		if err := s.notifier.DiscoveryComplete(ctx, tenantID, sourceHostID, host.Name, len(stored)); err != nil {
			s.logger.Warn().Err(err).Msg("failed to publish discovery notification")
		}
	}
	return stored, nil
}

// Snapshot reads the stored inventory without touching the source.
func (s *Service) Snapshot(ctx context.Context, tenantID, sourceHostID string) ([]models.DiscoveredVM, error) {
	return s.vms.ListBySourceHost(ctx, tenantID, sourceHostID)
}

// normalize flattens one inventory entry: CPU/memory from the hardware block,
// disks and NICs filtered out of the device list by type tag.
func normalize(vm hypervisor.SourceVM) models.DiscoveredVM {
	record := models.DiscoveredVM{
		Name:        vm.Name,
		PowerState:  vm.PowerState,
		GuestOS:     vm.GuestOS,
		CPUCores:    vm.Hardware.CPUCores,
		MemoryMB:    vm.Hardware.MemoryMB,
		RawMetadata: vm.Raw,
	}
	for _, dev := range vm.Hardware.Devices {
		switch dev.Type {
		case hypervisor.DeviceTypeDisk:
			sizeGB := kbToGB(dev.CapacityKB)
			record.Disks = append(record.Disks, models.DiskInfo{
				Name:       dev.Label,
				SizeGB:     sizeGB,
				SourcePath: dev.FilePath,
				Type:       dev.DiskType,
			})
			record.DiskCount++
			record.TotalDiskGB += sizeGB
		case hypervisor.DeviceTypeNIC:
			record.NetworkAdapters = append(record.NetworkAdapters, models.NetworkAdapter{
				Name:       dev.Label,
				MACAddress: dev.MACAddress,
				Network:    dev.Network,
			})
		}
	}
	record.TotalDiskGB = round2(record.TotalDiskGB)
	return record
}

// enrichIPs cross-references guest-reported networks by MAC address. Best
// effort: a host without guest tooling simply yields adapters with no IP.
func (s *Service) enrichIPs(ctx context.Context, client hypervisor.SourceClient, vmName string, adapters []models.NetworkAdapter) {
	if len(adapters) == 0 {
		return
	}
	nics, err := client.GuestNetworks(ctx, vmName)
	if err != nil {
		s.logger.Debug().Err(err).Str("vm", vmName).Msg("guest network state unavailable")
		return
	}
	byMAC := make(map[string]string, len(nics))
	for _, nic := range nics {
		if len(nic.IPAddresses) > 0 {
			byMAC[nic.MACAddress] = nic.IPAddresses[0]
		}
	}
	for i := range adapters {
		if ip, ok := byMAC[adapters[i].MACAddress]; ok {
			adapters[i].IPAddress = ip
		}
	}
}

func kbToGB(kb int64) float64 {
	return round2(float64(kb) / (1024 * 1024))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
