package convert

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/rs/zerolog"
)

// Converter turns a source-format disk image into the target format. The
// input and output paths both live under the service's scratch directory.
type Converter interface {
	Convert(ctx context.Context, inputPath, outputPath string) error
}

// DockerConverter runs qemu-img in a one-shot container with the scratch
// directory bind-mounted, so the conversion tool needs no host install.
type DockerConverter struct {
	cli        *client.Client
	image      string
	scratchDir string
	cpuShares  int64
	memLimit   int64
	logger     zerolog.Logger
}

func NewDockerConverter(cli *client.Client, image, scratchDir string, cpuShares, memLimit int64, logger zerolog.Logger) *DockerConverter {
	return &DockerConverter{
		cli:        cli,
		image:      image,
		scratchDir: scratchDir,
		cpuShares:  cpuShares,
		memLimit:   memLimit,
		logger:     logger.With().Str("component", "converter").Logger(),
	}
}

const scratchMount = "/scratch"

func (d *DockerConverter) Convert(ctx context.Context, inputPath, outputPath string) error {
	inName, err := filepath.Rel(d.scratchDir, inputPath)
	if err != nil {
		return fmt.Errorf("input %s outside scratch dir: %w", inputPath, err)
	}
	outName, err := filepath.Rel(d.scratchDir, outputPath)
	if err != nil {
		return fmt.Errorf("output %s outside scratch dir: %w", outputPath, err)
	}

	// Pull the converter image only if it is not available locally.
	if _, err := d.cli.ImageInspect(ctx, d.image); err != nil {
		d.logger.Info().Str("image", d.image).Msg("converter image not found locally, pulling")
		reader, pullErr := d.cli.ImagePull(ctx, d.image, image.PullOptions{})
		if pullErr != nil {
			return fmt.Errorf("pull converter image: %w", pullErr)
		}
		io.Copy(io.Discard, reader)
		reader.Close()
	}

	cmd := []string{"qemu-img", "convert", "-p", "-O", "qcow2",
		scratchMount + "/" + filepath.ToSlash(inName),
		scratchMount + "/" + filepath.ToSlash(outName),
	}

	resp, err := d.cli.ContainerCreate(ctx,
		&container.Config{
			Image: d.image,
			Cmd:   cmd,
		},
		&container.HostConfig{
			Mounts: []mount.Mount{{Type: mount.TypeBind, Source: d.scratchDir, Target: scratchMount}},
			Resources: container.Resources{
				CPUShares: d.cpuShares,
				Memory:    d.memLimit,
			},
			AutoRemove: true,
		}, nil, nil, "")
	if err != nil {
		return fmt.Errorf("create converter container: %w", err)
	}
	containerID := resp.ID

	if err := d.cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return fmt.Errorf("start converter container: %w", err)
	}

	logReader, err := d.cli.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		return fmt.Errorf("attach converter logs: %w", err)
	}
	defer logReader.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdoutBuf, &stderrBuf, logReader); err != nil {
		return fmt.Errorf("demux converter logs: %w", err)
	}

	waitResp, errCh := d.cli.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return fmt.Errorf("converter wait: %w", err)
	case status := <-waitResp:
		if status.StatusCode != 0 {
			return fmt.Errorf("qemu-img exited with code %d: %s", status.StatusCode, stderrBuf.String())
		}
	}

	d.logger.Debug().Str("output", outputPath).Msg("conversion finished")
	return nil
}
