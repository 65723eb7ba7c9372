package convert

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/virtshift/virtshift-api/internal/hypervisor"
)

// fileConverter stands in for the container run: it copies input to output.
type fileConverter struct {
	err   error
	calls int
}

func (c *fileConverter) Convert(_ context.Context, inputPath, outputPath string) error {
	c.calls++
	if c.err != nil {
		return c.err
	}
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return err
	}
	return os.WriteFile(outputPath, data, 0o644)
}

type fakeDiskSource struct {
	downloadErr error
}

func (f *fakeDiskSource) Login(context.Context) error { return nil }

func (f *fakeDiskSource) ListVMs(context.Context) ([]hypervisor.SourceVM, error) { return nil, nil }

func (f *fakeDiskSource) GuestNetworks(context.Context, string) ([]hypervisor.GuestNIC, error) {
	return nil, nil
}

func (f *fakeDiskSource) DownloadDisk(_ context.Context, _, localPath string) error {
	if f.downloadErr != nil {
		return f.downloadErr
	}
	return os.WriteFile(localPath, []byte("vmdk-bytes"), 0o644)
}

func (f *fakeDiskSource) ChangePassword(context.Context, string) error { return nil }

type fakeUploadTarget struct {
	failures int
	uploads  []string
}

func (f *fakeUploadTarget) Login(context.Context) error            { return nil }
func (f *fakeUploadTarget) NextID(context.Context) (int, error)    { return 100, nil }
func (f *fakeUploadTarget) ListVMIDs(context.Context) (map[int]bool, error) {
	return nil, nil
}
func (f *fakeUploadTarget) CreateVM(context.Context, hypervisor.CreateVMRequest) error { return nil }
func (f *fakeUploadTarget) StartVM(context.Context, string, int) error                 { return nil }

func (f *fakeUploadTarget) UploadVolume(_ context.Context, _, _, localPath string) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("storage temporarily unavailable")
	}
	f.uploads = append(f.uploads, localPath)
	return nil
}

func (f *fakeUploadTarget) SupportsImport(context.Context, string, string) (bool, error) {
	return false, nil
}
func (f *fakeUploadTarget) CreateStorage(context.Context, hypervisor.StorageRequest) error {
	return nil
}
func (f *fakeUploadTarget) DeleteStorage(context.Context, string) error { return nil }
func (f *fakeUploadTarget) ListStorageContent(context.Context, string, string) ([]hypervisor.VolumeInfo, error) {
	return nil, nil
}
func (f *fakeUploadTarget) ImportMetadata(context.Context, string, string) (hypervisor.ImportMetadata, error) {
	return hypervisor.ImportMetadata{}, nil
}
func (f *fakeUploadTarget) ChangePassword(context.Context, string) error { return nil }

func TestConvertStagesAndDropsRawDownload(t *testing.T) {
	scratch := t.TempDir()
	converter := &fileConverter{}
	service := NewService(converter, scratch, zerolog.Nop())

	out, err := service.Convert(context.Background(), &fakeDiskSource{}, "web-01", "[ds1] web-01/web-01.vmdk")
	require.NoError(t, err)
	assert.Equal(t, ".qcow2", filepath.Ext(out))
	assert.FileExists(t, out)

	entries, err := os.ReadDir(filepath.Dir(out))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "raw vmdk removed after conversion")
}

func TestConvertCleansUpOnFailure(t *testing.T) {
	scratch := t.TempDir()
	converter := &fileConverter{err: errors.New("qemu-img exited with code 1")}
	service := NewService(converter, scratch, zerolog.Nop())

	_, err := service.Convert(context.Background(), &fakeDiskSource{}, "web-01", "[ds1] web-01/web-01.vmdk")
	require.Error(t, err)

	entries, err := os.ReadDir(scratch)
	require.NoError(t, err)
	assert.Empty(t, entries, "failed staging dirs are removed")
}

func TestConvertCleansUpOnDownloadFailure(t *testing.T) {
	scratch := t.TempDir()
	service := NewService(&fileConverter{}, scratch, zerolog.Nop())

	_, err := service.Convert(context.Background(), &fakeDiskSource{downloadErr: errors.New("datastore gone")}, "web-01", "disk.vmdk")
	require.Error(t, err)

	entries, err := os.ReadDir(scratch)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestUploadRetriesWithoutReconverting(t *testing.T) {
	scratch := t.TempDir()
	converter := &fileConverter{}
	service := NewService(converter, scratch, zerolog.Nop())
	ctx := context.Background()

	out, err := service.Convert(ctx, &fakeDiskSource{}, "web-01", "disk.vmdk")
	require.NoError(t, err)

	target := &fakeUploadTarget{failures: 1}
	require.Error(t, service.Upload(ctx, target, out, "node1", "local"))
	assert.FileExists(t, out, "artifact kept for retry")
	assert.Equal(t, 1, converter.calls)

	require.NoError(t, service.Upload(ctx, target, out, "node1", "local"))
	assert.Equal(t, 1, converter.calls, "retry reuses the converted artifact")
	assert.NoFileExists(t, out, "artifact removed after successful upload")

	entries, err := os.ReadDir(scratch)
	require.NoError(t, err)
	assert.Empty(t, entries, "empty staging dir pruned")
}
