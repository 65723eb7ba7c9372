package discovery

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/virtshift/virtshift-api/internal/hypervisor"
	"github.com/virtshift/virtshift-api/internal/models"
	"github.com/virtshift/virtshift-api/internal/repository"
)

type fakeHostRepo struct {
	hosts map[string]models.HypervisorHost
}

func (f *fakeHostRepo) Create(_ context.Context, host models.HypervisorHost) (models.HypervisorHost, error) {
	return host, nil
}

func (f *fakeHostRepo) Get(_ context.Context, tenantID, hostID string) (models.HypervisorHost, error) {
	return f.GetWithCredential(context.Background(), tenantID, hostID)
}

func (f *fakeHostRepo) List(_ context.Context, tenantID string) ([]models.HypervisorHost, error) {
	return nil, nil
}

func (f *fakeHostRepo) Delete(_ context.Context, tenantID, hostID string) error { return nil }

func (f *fakeHostRepo) GetWithCredential(_ context.Context, tenantID, hostID string) (models.HypervisorHost, error) {
	host, ok := f.hosts[hostID]
	if !ok || host.TenantID != tenantID {
		return models.HypervisorHost{}, repository.ErrNotFound
	}
	return host, nil
}

func (f *fakeHostRepo) UpdateCredential(_ context.Context, tenantID, hostID, password string) error {
	host, ok := f.hosts[hostID]
	if !ok {
		return repository.ErrNotFound
	}
	host.Password = password
	f.hosts[hostID] = host
	return nil
}

// fakeVMRepo keeps one snapshot per source host, replaced wholesale.
type fakeVMRepo struct {
	snapshots map[string][]models.DiscoveredVM
}

func newFakeVMRepo() *fakeVMRepo {
	return &fakeVMRepo{snapshots: make(map[string][]models.DiscoveredVM)}
}

func (f *fakeVMRepo) ReplaceSnapshot(_ context.Context, tenantID, sourceHostID string, vms []models.DiscoveredVM) ([]models.DiscoveredVM, error) {
	stored := make([]models.DiscoveredVM, len(vms))
	for i, vm := range vms {
		vm.TenantID = tenantID
		vm.SourceHostID = sourceHostID
		stored[i] = vm
	}
	f.snapshots[sourceHostID] = stored
	return stored, nil
}

func (f *fakeVMRepo) ListBySourceHost(_ context.Context, _, sourceHostID string) ([]models.DiscoveredVM, error) {
	return f.snapshots[sourceHostID], nil
}

func (f *fakeVMRepo) GetByName(_ context.Context, _, sourceHostID, name string) (models.DiscoveredVM, error) {
	for _, vm := range f.snapshots[sourceHostID] {
		if vm.Name == name {
			return vm, nil
		}
	}
	return models.DiscoveredVM{}, repository.ErrNotFound
}

type fakeSource struct {
	loginErr error
	vms      []hypervisor.SourceVM
	nics     map[string][]hypervisor.GuestNIC
	nicsErr  error
}

func (f *fakeSource) Login(context.Context) error { return f.loginErr }

func (f *fakeSource) ListVMs(context.Context) ([]hypervisor.SourceVM, error) {
	return f.vms, nil
}

func (f *fakeSource) GuestNetworks(_ context.Context, vmName string) ([]hypervisor.GuestNIC, error) {
	if f.nicsErr != nil {
		return nil, f.nicsErr
	}
	return f.nics[vmName], nil
}

func (f *fakeSource) DownloadDisk(_ context.Context, _, _ string) error { return nil }

func (f *fakeSource) ChangePassword(_ context.Context, _ string) error { return nil }

func sourceFixture() *fakeSource {
	return &fakeSource{
		vms: []hypervisor.SourceVM{
			{
				Name:       "web-01",
				PowerState: "poweredOn",
				GuestOS:    "ubuntu64Guest",
				Hardware: hypervisor.Hardware{
					CPUCores: 2,
					MemoryMB: 4096,
					Devices: []hypervisor.Device{
						{Type: hypervisor.DeviceTypeDisk, Label: "Hard disk 1", CapacityKB: 20 * 1024 * 1024, FilePath: "[ds1] web-01/web-01.vmdk", DiskType: "thin"},
						{Type: hypervisor.DeviceTypeDisk, Label: "Hard disk 2", CapacityKB: 10 * 1024 * 1024, FilePath: "[ds1] web-01/web-01_1.vmdk", DiskType: "thin"},
						{Type: hypervisor.DeviceTypeNIC, Label: "Network adapter 1", MACAddress: "00:50:56:aa:bb:cc", Network: "VM Network"},
						{Type: "virtual_controller", Label: "SCSI controller 0"},
					},
				},
			},
			{
				Name:       "db-01",
				PowerState: "poweredOff",
				GuestOS:    "debian12_64Guest",
				Hardware: hypervisor.Hardware{
					CPUCores: 4,
					MemoryMB: 8192,
					Devices: []hypervisor.Device{
						{Type: hypervisor.DeviceTypeDisk, Label: "Hard disk 1", CapacityKB: 50 * 1024 * 1024, FilePath: "[ds1] db-01/db-01.vmdk", DiskType: "thick"},
					},
				},
			},
		},
		nics: map[string][]hypervisor.GuestNIC{
			"web-01": {{MACAddress: "00:50:56:aa:bb:cc", IPAddresses: []string{"10.0.0.12", "fe80::1"}}},
		},
	}
}

func newTestService(source *fakeSource) (*Service, *fakeVMRepo) {
	hosts := &fakeHostRepo{hosts: map[string]models.HypervisorHost{
		"h1": {ID: "h1", TenantID: "t1", Name: "esxi-lab", Kind: models.HostKindESXi},
		"h2": {ID: "h2", TenantID: "t1", Name: "pve-lab", Kind: models.HostKindPVE},
	}}
	vms := newFakeVMRepo()
	factory := func(models.HypervisorHost) hypervisor.SourceClient { return source }
	return NewService(hosts, vms, factory, nil, zerolog.Nop()), vms
}

func TestRefreshNormalizesInventory(t *testing.T) {
	service, _ := newTestService(sourceFixture())

	snapshot, err := service.Refresh(context.Background(), "t1", "h1")
	require.NoError(t, err)
	require.Len(t, snapshot, 2)

	web := snapshot[0]
	assert.Equal(t, "web-01", web.Name)
	assert.Equal(t, 2, web.CPUCores)
	assert.Equal(t, 4096, web.MemoryMB)
	assert.Equal(t, 2, web.DiskCount)
	assert.InDelta(t, 30.0, web.TotalDiskGB, 0.01)
	require.Len(t, web.Disks, 2)
	assert.Equal(t, "[ds1] web-01/web-01.vmdk", web.Disks[0].SourcePath)
	require.Len(t, web.NetworkAdapters, 1, "controllers are not adapters")
	assert.Equal(t, "10.0.0.12", web.NetworkAdapters[0].IPAddress)

	db := snapshot[1]
	assert.Equal(t, 1, db.DiskCount)
	assert.InDelta(t, 50.0, db.TotalDiskGB, 0.01)
	assert.Empty(t, db.NetworkAdapters)
}

func TestRefreshIsIdempotent(t *testing.T) {
	service, _ := newTestService(sourceFixture())
	ctx := context.Background()

	first, err := service.Refresh(ctx, "t1", "h1")
	require.NoError(t, err)
	second, err := service.Refresh(ctx, "t1", "h1")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRefreshDropsRemovedVMs(t *testing.T) {
	source := sourceFixture()
	service, _ := newTestService(source)
	ctx := context.Background()

	_, err := service.Refresh(ctx, "t1", "h1")
	require.NoError(t, err)

	source.vms = source.vms[:1] // db-01 deleted on the source
	snapshot, err := service.Refresh(ctx, "t1", "h1")
	require.NoError(t, err)
	require.Len(t, snapshot, 1)
	assert.Equal(t, "web-01", snapshot[0].Name)

	stored, err := service.Snapshot(ctx, "t1", "h1")
	require.NoError(t, err)
	require.Len(t, stored, 1)
}

func TestRefreshToleratesMissingGuestTooling(t *testing.T) {
	source := sourceFixture()
	source.nicsErr = errors.New("guest tools not running")
	service, _ := newTestService(source)

	snapshot, err := service.Refresh(context.Background(), "t1", "h1")
	require.NoError(t, err, "IP enrichment is best effort")
	assert.Empty(t, snapshot[0].NetworkAdapters[0].IPAddress)
}

func TestRefreshRejectsNonSourceHost(t *testing.T) {
	service, _ := newTestService(sourceFixture())

	_, err := service.Refresh(context.Background(), "t1", "h2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a discovery source")
}

func TestRefreshUnreachableSource(t *testing.T) {
	source := sourceFixture()
	source.loginErr = errors.New("connection refused")
	service, vms := newTestService(source)

	_, err := service.Refresh(context.Background(), "t1", "h1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unreachable")
	assert.Empty(t, vms.snapshots["h1"], "failed refresh must not write a snapshot")
}
