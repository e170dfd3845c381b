package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strconv"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"llmobs-harness/internal/harness"
)

// LabelManaged marks containers and networks created by the harness.
const LabelManaged = "com.datadoghq.llmobs-harness"

// createConfig translates a harness run config into Docker API types.
func createConfig(cfg harness.RunConfig) (*container.Config, *container.HostConfig, *network.NetworkingConfig) {
	env := make([]string, 0, len(cfg.Env))
	for k, v := range cfg.Env {
		env = append(env, k+"="+v)
	}
	slices.Sort(env)

	cc := &container.Config{
		Image:  cfg.Image,
		Cmd:    cfg.Cmd,
		Env:    env,
		Labels: map[string]string{LabelManaged: "true"},
	}
	hc := &container.HostConfig{}

	if len(cfg.Ports) > 0 {
		portBindings := make(nat.PortMap, len(cfg.Ports))
		exposedPorts := make(nat.PortSet, len(cfg.Ports))
		for _, p := range cfg.Ports {
			containerPort := nat.Port(fmt.Sprintf("%d/tcp", p.ContainerPort))
			exposedPorts[containerPort] = struct{}{}
			portBindings[containerPort] = []nat.PortBinding{{HostPort: strconv.Itoa(p.HostPort)}}
		}
		cc.ExposedPorts = exposedPorts
		hc.PortBindings = portBindings
	}

	for _, m := range cfg.Mounts {
		hc.Mounts = append(hc.Mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}

	var nc *network.NetworkingConfig
	if cfg.Network != "" {
		hc.NetworkMode = container.NetworkMode(cfg.Network)
		ep := &network.EndpointSettings{}
		if cfg.Name != "" {
			ep.Aliases = []string{cfg.Name}
		}
		nc = &network.NetworkingConfig{EndpointsConfig: map[string]*network.EndpointSettings{cfg.Network: ep}}
	}
	return cc, hc, nc
}

// createAndStart creates a container and starts it. If the image is not
// found locally, it pulls the image and retries the create.
func createAndStart(ctx context.Context, docker client.APIClient, cfg harness.RunConfig) (string, error) {
	cc, hc, nc := createConfig(cfg)
	resp, err := docker.ContainerCreate(ctx, cc, hc, nc, (*ocispec.Platform)(nil), cfg.Name)
	if err != nil {
		if !errdefs.IsNotFound(err) {
			return "", fmt.Errorf("create container: %w", err)
		}
		if err := pullImage(ctx, docker, cfg.Image); err != nil {
			return "", err
		}
		if resp, err = docker.ContainerCreate(ctx, cc, hc, nc, nil, cfg.Name); err != nil {
			return "", fmt.Errorf("create container after pull: %w", err)
		}
	}

	if err := docker.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		// Don't leave a created container holding the name.
		_ = docker.ContainerRemove(context.WithoutCancel(ctx), resp.ID, container.RemoveOptions{Force: true})
		return "", fmt.Errorf("start container: %w", err)
	}
	return resp.ID, nil
}

// removeContainer force-removes a container. A missing container yields an
// error wrapping harness.ErrNotFound; a removal already in progress is
// success.
func removeContainer(ctx context.Context, docker client.APIClient, id string) error {
	err := docker.ContainerRemove(ctx, id, container.RemoveOptions{Force: true, RemoveVolumes: true})
	switch {
	case err == nil:
		return nil
	case errdefs.IsNotFound(err):
		return fmt.Errorf("remove container %s: %w: %w", id, harness.ErrNotFound, err)
	case errdefs.IsConflict(err):
		slog.Debug("Container removal already in progress.", "component", "docker", "id", id)
		return nil
	default:
		return fmt.Errorf("remove container %s: %w", id, err)
	}
}

// readLogs reads and demultiplexes a container's stdout and stderr.
func readLogs(ctx context.Context, docker client.APIClient, id string) (harness.RunOutput, error) {
	rc, err := docker.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		if errdefs.IsNotFound(err) {
			return harness.RunOutput{}, fmt.Errorf("container logs %s: %w: %w", id, harness.ErrNotFound, err)
		}
		return harness.RunOutput{}, fmt.Errorf("container logs %s: %w", id, err)
	}
	defer rc.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, rc); err != nil && err != io.EOF {
		return harness.RunOutput{}, fmt.Errorf("container logs %s: demultiplex: %w", id, err)
	}
	return harness.RunOutput{Stdout: stdout.String(), Stderr: stderr.String()}, nil
}
