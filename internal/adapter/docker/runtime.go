// Package docker implements harness.ContainerRuntime on the Docker Engine
// API.
package docker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	dockernetwork "github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"

	"llmobs-harness/internal/harness"
)

var _ harness.ContainerRuntime = (*Runtime)(nil)

// Runtime implements harness.ContainerRuntime using the Docker Engine API.
type Runtime struct {
	cli          client.APIClient
	readyTimeout time.Duration
}

// NewRuntime creates a Runtime with a new Docker client from the environment.
func NewRuntime() (*Runtime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("%w: create docker client: %w", harness.ErrRuntimeUnavailable, err)
	}
	return NewRuntimeFromClient(cli), nil
}

// NewRuntimeFromClient wraps an existing Docker client.
func NewRuntimeFromClient(cli client.APIClient) *Runtime {
	return &Runtime{cli: cli, readyTimeout: readyTimeout}
}

func (r *Runtime) WaitReady(ctx context.Context) error {
	if err := WaitReady(ctx, r.cli, r.readyTimeout); err != nil {
		return fmt.Errorf("%w: %w", harness.ErrRuntimeUnavailable, err)
	}
	return nil
}

func (r *Runtime) ImageBuild(ctx context.Context, cfg harness.BuildConfig) error {
	return buildImage(ctx, r.cli, cfg)
}

func (r *Runtime) ImagePull(ctx context.Context, img string) error {
	return pullImage(ctx, r.cli, img)
}

func (r *Runtime) ContainerRun(ctx context.Context, cfg harness.RunConfig) (harness.ContainerInfo, error) {
	id, err := createAndStart(ctx, r.cli, cfg)
	if err != nil {
		return harness.ContainerInfo{}, fmt.Errorf("run %s: %w", cfg.Image, err)
	}
	return harness.ContainerInfo{ID: id, Name: cfg.Name, Exists: true, Running: true}, nil
}

// ContainerRunForeground starts the container, waits for it to exit and
// returns its output. A positive cfg.Timeout kills the container once it
// elapses; the output collected so far is still returned.
func (r *Runtime) ContainerRunForeground(ctx context.Context, cfg harness.RunConfig) (harness.RunOutput, error) {
	waitCtx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	id, err := createAndStart(ctx, r.cli, cfg)
	if err != nil {
		return harness.RunOutput{}, fmt.Errorf("run %s: %w", cfg.Image, err)
	}
	cleanupCtx := context.WithoutCancel(ctx)
	defer func() {
		if err := removeContainer(cleanupCtx, r.cli, id); err != nil {
			slog.Warn("Remove foreground container.", "component", "docker", "id", id, "err", err)
		}
	}()

	exitCode, waitErr := r.wait(waitCtx, id)
	out, err := readLogs(cleanupCtx, r.cli, id)
	if err != nil {
		return out, err
	}
	out.ExitCode = exitCode
	if waitErr != nil {
		return out, fmt.Errorf("wait for %s: %w", cfg.Image, waitErr)
	}
	return out, nil
}

func (r *Runtime) wait(ctx context.Context, id string) (int, error) {
	statusCh, errCh := r.cli.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case status := <-statusCh:
		if status.Error != nil {
			return int(status.StatusCode), fmt.Errorf("container %s: %s", id, status.Error.Message)
		}
		return int(status.StatusCode), nil
	case err := <-errCh:
		return -1, err
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

func (r *Runtime) ContainerInspect(ctx context.Context, id string) (harness.ContainerInfo, error) {
	info, err := r.cli.ContainerInspect(ctx, id)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return harness.ContainerInfo{ID: id, Exists: false}, nil
		}
		return harness.ContainerInfo{}, fmt.Errorf("inspect container %q: %w", id, err)
	}
	out := harness.ContainerInfo{ID: id, Exists: true}
	if info.ContainerJSONBase != nil {
		out.ID = info.ID
		out.Name = trimSlash(info.Name)
		out.Running = info.State != nil && info.State.Running
	}
	return out, nil
}

func (r *Runtime) ContainerLogs(ctx context.Context, id string) (harness.RunOutput, error) {
	return readLogs(ctx, r.cli, id)
}

func (r *Runtime) ContainerKill(ctx context.Context, id string) error {
	return removeContainer(ctx, r.cli, id)
}

func (r *Runtime) NetworkCreate(ctx context.Context, name string) (harness.NetworkInfo, error) {
	resp, err := r.cli.NetworkCreate(ctx, name, dockernetwork.CreateOptions{
		Driver: "bridge",
		Labels: map[string]string{LabelManaged: "true"},
	})
	if err != nil {
		return harness.NetworkInfo{}, fmt.Errorf("create network %q: %w", name, err)
	}
	return harness.NetworkInfo{ID: resp.ID, Name: name}, nil
}

func (r *Runtime) NetworkRemove(ctx context.Context, name string) error {
	if err := r.cli.NetworkRemove(ctx, name); err != nil {
		if errdefs.IsNotFound(err) {
			return fmt.Errorf("remove network %q: %w: %w", name, harness.ErrNotFound, err)
		}
		return fmt.Errorf("remove network %q: %w", name, err)
	}
	return nil
}

func (r *Runtime) Close() error {
	return r.cli.Close()
}

func trimSlash(name string) string {
	if len(name) > 0 && name[0] == '/' {
		return name[1:]
	}
	return name
}
