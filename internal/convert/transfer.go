// Package convert moves disk images from a source host into a target
// cluster: download to local scratch, format conversion in a one-shot
// container, then upload. Convert and upload are separate steps so a failed
// upload can be retried without redoing the conversion.
package convert

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/virtshift/virtshift-api/internal/hypervisor"
)

type Service struct {
	converter  Converter
	scratchDir string
	logger     zerolog.Logger
}

func NewService(converter Converter, scratchDir string, logger zerolog.Logger) *Service {
	return &Service{
		converter:  converter,
		scratchDir: scratchDir,
		logger:     logger.With().Str("component", "transfer").Logger(),
	}
}

// Convert downloads one source disk into a per-disk staging directory and
// converts it to the target format. It returns the path of the converted
// artifact; the raw download is removed once conversion succeeds. On any
// failure the whole staging directory is removed, since a partial download
// or partial conversion has no retry value.
func (s *Service) Convert(ctx context.Context, src hypervisor.SourceClient, vmName, diskSourcePath string) (string, error) {
	stageDir := filepath.Join(s.scratchDir, vmName+"-"+uuid.NewString())
	if err := os.MkdirAll(stageDir, 0o755); err != nil {
		return "", errors.Wrap(err, "create staging dir")
	}

	base := strings.TrimSuffix(filepath.Base(diskSourcePath), filepath.Ext(diskSourcePath))
	rawPath := filepath.Join(stageDir, base+".vmdk")
	outPath := filepath.Join(stageDir, vmName+"-"+base+".qcow2")

	s.logger.Info().
		Str("vm", vmName).
		Str("disk", diskSourcePath).
		Msg("downloading source disk")
	if err := src.DownloadDisk(ctx, diskSourcePath, rawPath); err != nil {
		os.RemoveAll(stageDir)
		return "", errors.Wrapf(err, "download disk %s", diskSourcePath)
	}

	if err := s.converter.Convert(ctx, rawPath, outPath); err != nil {
		os.RemoveAll(stageDir)
		return "", errors.Wrapf(err, "convert disk %s", diskSourcePath)
	}

	// The raw download is no longer needed once the converted artifact exists.
	if err := os.Remove(rawPath); err != nil {
		s.logger.Warn().Err(err).Str("path", rawPath).Msg("failed to remove raw download")
	}
	return outPath, nil
}

// Upload pushes a converted artifact into the target node's storage. The
// local file is kept on failure so the caller can retry the upload alone,
// and removed only after the target accepted it.
func (s *Service) Upload(ctx context.Context, tgt hypervisor.TargetClient, localPath, node, storage string) error {
	s.logger.Info().
		Str("path", localPath).
		Str("node", node).
		Str("storage", storage).
		Msg("uploading converted disk")
	if err := tgt.UploadVolume(ctx, node, storage, localPath); err != nil {
		return errors.Wrapf(err, "upload %s to %s/%s", filepath.Base(localPath), node, storage)
	}
	s.cleanup(localPath)
	return nil
}

// cleanup removes the uploaded artifact and its staging directory if that
// leaves the directory empty. Failures are logged, never surfaced: scratch
// space is reclaimable out of band.
func (s *Service) cleanup(localPath string) {
	if err := os.Remove(localPath); err != nil {
		s.logger.Warn().Err(err).Str("path", localPath).Msg("failed to remove uploaded artifact")
		return
	}
	dir := filepath.Dir(localPath)
	if dir == s.scratchDir {
		return
	}
	if entries, err := os.ReadDir(dir); err == nil && len(entries) == 0 {
		if err := os.Remove(dir); err != nil {
			s.logger.Warn().Err(err).Str("path", dir).Msg("failed to remove staging dir")
		}
	}
}
