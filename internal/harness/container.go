package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Container is a handle on a container started by the harness. The owning
// scope kills it exactly once.
type Container struct {
	ID      string
	Name    string
	Image   string
	Network string
	Ports   []PortBinding
	Env     map[string]string
	Mounts  []Mount

	rt     ContainerRuntime
	config RunConfig
	killed bool
}

// RunContainer starts cfg detached and returns its handle.
func RunContainer(ctx context.Context, rt ContainerRuntime, cfg RunConfig) (*Container, error) {
	info, err := rt.ContainerRun(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("run container %q: %w", cfg.Image, err)
	}
	name := info.Name
	if name == "" {
		name = cfg.Name
	}
	slog.Debug("Started container.", "component", "container", "name", name, "image", cfg.Image, "id", info.ID)
	return &Container{
		ID:      info.ID,
		Name:    name,
		Image:   cfg.Image,
		Network: cfg.Network,
		Ports:   cfg.Ports,
		Env:     cfg.Env,
		Mounts:  cfg.Mounts,
		rt:      rt,
		config:  cfg,
	}, nil
}

// IsRunning reports whether the container is still running.
func (c *Container) IsRunning(ctx context.Context) (bool, error) {
	if c.killed {
		return false, nil
	}
	info, err := c.rt.ContainerInspect(ctx, c.ID)
	if err != nil {
		return false, fmt.Errorf("inspect container %s: %w", c.Name, err)
	}
	return info.Exists && info.Running, nil
}

// Logs returns the container's output so far.
func (c *Container) Logs(ctx context.Context) (RunOutput, error) {
	out, err := c.rt.ContainerLogs(ctx, c.ID)
	if err != nil {
		return RunOutput{}, fmt.Errorf("logs of container %s: %w", c.Name, err)
	}
	return out, nil
}

// Kill kills and removes the container. Only the first call reaches the
// runtime.
func (c *Container) Kill(ctx context.Context) error {
	if c == nil || c.killed {
		return nil
	}
	if err := c.rt.ContainerKill(ctx, c.ID); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("kill container %s: %w", c.Name, err)
	}
	c.killed = true
	slog.Debug("Killed container.", "component", "container", "name", c.Name)
	return nil
}

// Killed reports whether Kill has succeeded.
func (c *Container) Killed() bool {
	return c.killed
}

// Config returns the configuration the container was started with.
func (c *Container) Config() RunConfig {
	return c.config
}
