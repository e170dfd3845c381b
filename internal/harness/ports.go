package harness

import (
	"context"
	"strings"
	"time"
)

// ContainerRuntime abstracts the container engine the harness drives.
// Killing a missing container or removing a missing network either succeeds
// or returns an error wrapping ErrNotFound.
type ContainerRuntime interface {
	WaitReady(ctx context.Context) error
	ImageBuild(ctx context.Context, cfg BuildConfig) error
	ImagePull(ctx context.Context, image string) error
	// ContainerRun creates and starts a detached container. The image is
	// pulled when it is not present locally.
	ContainerRun(ctx context.Context, cfg RunConfig) (ContainerInfo, error)
	// ContainerRunForeground runs a container to completion and returns its
	// captured output. The container is removed afterwards.
	ContainerRunForeground(ctx context.Context, cfg RunConfig) (RunOutput, error)
	ContainerInspect(ctx context.Context, id string) (ContainerInfo, error)
	ContainerLogs(ctx context.Context, id string) (RunOutput, error)
	// ContainerKill kills and removes a container.
	ContainerKill(ctx context.Context, id string) error
	NetworkCreate(ctx context.Context, name string) (NetworkInfo, error)
	NetworkRemove(ctx context.Context, name string) error
}

// BuildConfig describes an image build from a local context directory.
type BuildConfig struct {
	Tag        string
	ContextDir string
	// Dockerfile is relative to ContextDir.
	Dockerfile string
}

// PortBinding publishes ContainerPort on the host as HostPort (tcp).
type PortBinding struct {
	HostPort      int
	ContainerPort int
}

// Mount is a bind mount from the host into the container.
type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// RunConfig is everything needed to start a container.
type RunConfig struct {
	Name    string
	Image   string
	Network string
	Env     map[string]string
	Ports   []PortBinding
	Mounts  []Mount
	Cmd     []string
	// Timeout bounds a foreground run. Zero means no extra limit.
	Timeout time.Duration
}

// ContainerInfo is the observed state of a container.
type ContainerInfo struct {
	ID      string
	Name    string
	Exists  bool
	Running bool
}

// RunOutput holds demultiplexed container output.
type RunOutput struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// NetworkInfo is the observed state of a container network.
type NetworkInfo struct {
	ID   string
	Name string
}

// Combined returns stderr followed by stdout, skipping empty streams.
func (o RunOutput) Combined() string {
	var parts []string
	for _, s := range []string{o.Stderr, o.Stdout} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n")
}
