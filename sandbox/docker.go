package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/strslice"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"go.uber.org/zap"
)

// removeTimeout bounds the forced cleanup of a finished container.
const removeTimeout = 30 * time.Second

// engineClient is the slice of the Docker engine API the runner uses.
type engineClient interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options types.ContainerStartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerLogs(ctx context.Context, containerID string, options types.ContainerLogsOptions) (io.ReadCloser, error)
	ContainerRemove(ctx context.Context, containerID string, options types.ContainerRemoveOptions) error
}

// DockerRunner implements Runner against the Docker engine API.
type DockerRunner struct {
	cli    engineClient
	closer io.Closer
	logger *zap.Logger
}

var _ Runner = (*DockerRunner)(nil)

// NewDockerRunner connects to the engine using the standard DOCKER_*
// environment variables.
func NewDockerRunner(logger *zap.Logger) (*DockerRunner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &DockerRunner{cli: cli, closer: cli, logger: logger}, nil
}

// NewRunner adapts NewDockerRunner to the Runner interface.
func NewRunner(logger *zap.Logger) (Runner, error) {
	return NewDockerRunner(logger)
}

// Close releases the engine client connection.
func (r *DockerRunner) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// Run creates, starts, and waits for one container, then captures its
// output. The container is removed on every exit path.
func (r *DockerRunner) Run(ctx context.Context, spec RunSpec) (RunResult, error) {
	cfg := &container.Config{
		Image:           spec.Image,
		Cmd:             strslice.StrSlice(spec.Cmd),
		WorkingDir:      spec.WorkingDir,
		Env:             spec.Env,
		User:            spec.User,
		NetworkDisabled: spec.NetworkDisabled,
	}
	hostCfg := &container.HostConfig{
		Binds: spec.Binds,
		Resources: container.Resources{
			Memory:    spec.MemoryBytes,
			CPUShares: spec.CPUShares,
		},
	}

	name := fmt.Sprintf("pyexec-%s", uuid.NewString()[:8])
	created, err := r.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		return RunResult{}, fmt.Errorf("failed to create container: %w", err)
	}

	defer func() {
		// Removal must happen even when ctx is already done.
		rmCtx, cancel := context.WithTimeout(context.Background(), removeTimeout)
		defer cancel()
		if rmErr := r.cli.ContainerRemove(rmCtx, created.ID, types.ContainerRemoveOptions{
			Force:         true,
			RemoveVolumes: true,
		}); rmErr != nil {
			r.logger.Warn("failed to remove container",
				zap.String("container", name), zap.Error(rmErr))
		}
	}()

	if err := r.cli.ContainerStart(ctx, created.ID, types.ContainerStartOptions{}); err != nil {
		return RunResult{}, fmt.Errorf("failed to start container: %w", err)
	}

	waitCh, errCh := r.cli.ContainerWait(ctx, created.ID, container.WaitConditionNotRunning)

	var exitCode int64
	select {
	case res := <-waitCh:
		if res.Error != nil {
			return RunResult{}, fmt.Errorf("container wait failed: %s", res.Error.Message)
		}
		exitCode = res.StatusCode
	case err := <-errCh:
		return RunResult{}, fmt.Errorf("container wait failed: %w", err)
	}

	stdout, stderr, err := r.collectLogs(created.ID)
	if err != nil {
		return RunResult{}, err
	}

	return RunResult{
		Stdout:   stdout,
		Stderr:   stderr,
		ExitCode: int(exitCode),
	}, nil
}

// collectLogs reads and demultiplexes the container's output streams.
// It uses a fresh context so logs of a timed-out run are still drained
// before removal.
func (r *DockerRunner) collectLogs(containerID string) (string, string, error) {
	logCtx, cancel := context.WithTimeout(context.Background(), removeTimeout)
	defer cancel()

	rc, err := r.cli.ContainerLogs(logCtx, containerID, types.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to read container logs: %w", err)
	}
	defer rc.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, rc); err != nil {
		return "", "", fmt.Errorf("failed to demultiplex container logs: %w", err)
	}
	return stdout.String(), stderr.String(), nil
}
