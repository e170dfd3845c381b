package fake

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"llmobs-harness/internal/harness"
)

var _ harness.ContainerRuntime = (*ContainerRuntime)(nil)

type containerState struct {
	ID      string
	Config  harness.RunConfig
	Running bool
	Removed bool
	Kills   int
}

// ContainerRuntime is an in-memory implementation of harness.ContainerRuntime.
type ContainerRuntime struct {
	CallRecorder
	mu         sync.Mutex
	ready      bool
	nextID     int
	containers map[string]*containerState
	networks   map[string]string
	images     map[string]bool

	// Exits reports whether a container started from cfg exits right away.
	Exits func(cfg harness.RunConfig) bool
	// Output is what ContainerLogs and ContainerRunForeground return.
	Output func(cfg harness.RunConfig) harness.RunOutput

	WaitReadyErr              func(ctx context.Context) error
	ImageBuildErr             func(ctx context.Context, cfg harness.BuildConfig) error
	ImagePullErr              func(ctx context.Context, image string) error
	ContainerRunErr           func(ctx context.Context, cfg harness.RunConfig) error
	ContainerRunForegroundErr func(ctx context.Context, cfg harness.RunConfig) error
	ContainerInspectErr       func(ctx context.Context, id string) error
	ContainerLogsErr          func(ctx context.Context, id string) error
	ContainerKillErr          func(ctx context.Context, id string) error
	NetworkCreateErr          func(ctx context.Context, name string) error
	NetworkRemoveErr          func(ctx context.Context, name string) error
}

// NewContainerRuntime creates a ContainerRuntime that is ready by default.
func NewContainerRuntime() *ContainerRuntime {
	return &ContainerRuntime{
		ready:      true,
		containers: make(map[string]*containerState),
		networks:   make(map[string]string),
		images:     make(map[string]bool),
	}
}

// SetReady toggles whether WaitReady succeeds.
func (r *ContainerRuntime) SetReady(ready bool) {
	r.mu.Lock()
	r.ready = ready
	r.mu.Unlock()
}

func (r *ContainerRuntime) WaitReady(ctx context.Context) error {
	r.record("WaitReady")
	if r.WaitReadyErr != nil {
		if err := r.WaitReadyErr(ctx); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.ready {
		return fmt.Errorf("container runtime not ready")
	}
	return nil
}

func (r *ContainerRuntime) ImageBuild(ctx context.Context, cfg harness.BuildConfig) error {
	r.record("ImageBuild", cfg)
	if r.ImageBuildErr != nil {
		if err := r.ImageBuildErr(ctx, cfg); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.images[cfg.Tag] = true
	return nil
}

func (r *ContainerRuntime) ImagePull(ctx context.Context, image string) error {
	r.record("ImagePull", image)
	if r.ImagePullErr != nil {
		if err := r.ImagePullErr(ctx, image); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.images[image] = true
	return nil
}

func (r *ContainerRuntime) ContainerRun(ctx context.Context, cfg harness.RunConfig) (harness.ContainerInfo, error) {
	r.record("ContainerRun", cfg)
	if r.ContainerRunErr != nil {
		if err := r.ContainerRunErr(ctx, cfg); err != nil {
			return harness.ContainerInfo{}, err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if cfg.Network != "" {
		if _, ok := r.networks[cfg.Network]; !ok {
			return harness.ContainerInfo{}, fmt.Errorf("network %q: %w", cfg.Network, harness.ErrNotFound)
		}
	}
	if cfg.Name != "" {
		for _, cs := range r.containers {
			if !cs.Removed && cs.Config.Name == cfg.Name {
				return harness.ContainerInfo{}, fmt.Errorf("container name %q is already in use", cfg.Name)
			}
		}
	}

	r.images[cfg.Image] = true
	r.nextID++
	id := fmt.Sprintf("ctr-%d", r.nextID)
	running := r.Exits == nil || !r.Exits(cfg)
	r.containers[id] = &containerState{ID: id, Config: cfg, Running: running}
	return harness.ContainerInfo{ID: id, Name: cfg.Name, Exists: true, Running: running}, nil
}

func (r *ContainerRuntime) ContainerRunForeground(ctx context.Context, cfg harness.RunConfig) (harness.RunOutput, error) {
	r.record("ContainerRunForeground", cfg)
	if r.ContainerRunForegroundErr != nil {
		if err := r.ContainerRunForegroundErr(ctx, cfg); err != nil {
			return harness.RunOutput{}, err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cs := range r.containers {
		if !cs.Removed && cfg.Name != "" && cs.Config.Name == cfg.Name {
			return harness.RunOutput{}, fmt.Errorf("container name %q is already in use", cfg.Name)
		}
	}
	return r.output(cfg), nil
}

func (r *ContainerRuntime) ContainerInspect(ctx context.Context, id string) (harness.ContainerInfo, error) {
	r.record("ContainerInspect", id)
	if r.ContainerInspectErr != nil {
		if err := r.ContainerInspectErr(ctx, id); err != nil {
			return harness.ContainerInfo{}, err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	cs, ok := r.containers[id]
	if !ok || cs.Removed {
		return harness.ContainerInfo{ID: id, Exists: false}, nil
	}
	return harness.ContainerInfo{ID: id, Name: cs.Config.Name, Exists: true, Running: cs.Running}, nil
}

func (r *ContainerRuntime) ContainerLogs(ctx context.Context, id string) (harness.RunOutput, error) {
	r.record("ContainerLogs", id)
	if r.ContainerLogsErr != nil {
		if err := r.ContainerLogsErr(ctx, id); err != nil {
			return harness.RunOutput{}, err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	cs, ok := r.containers[id]
	if !ok || cs.Removed {
		return harness.RunOutput{}, fmt.Errorf("container %q: %w", id, harness.ErrNotFound)
	}
	return r.output(cs.Config), nil
}

func (r *ContainerRuntime) ContainerKill(ctx context.Context, id string) error {
	r.record("ContainerKill", id)
	if r.ContainerKillErr != nil {
		if err := r.ContainerKillErr(ctx, id); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	cs, ok := r.containers[id]
	if !ok || cs.Removed {
		return fmt.Errorf("container %q: %w", id, harness.ErrNotFound)
	}
	cs.Kills++
	cs.Running = false
	cs.Removed = true
	return nil
}

func (r *ContainerRuntime) NetworkCreate(ctx context.Context, name string) (harness.NetworkInfo, error) {
	r.record("NetworkCreate", name)
	if r.NetworkCreateErr != nil {
		if err := r.NetworkCreateErr(ctx, name); err != nil {
			return harness.NetworkInfo{}, err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.networks[name]; ok {
		return harness.NetworkInfo{}, fmt.Errorf("network %q already exists", name)
	}
	id := "net-" + name
	r.networks[name] = id
	return harness.NetworkInfo{ID: id, Name: name}, nil
}

func (r *ContainerRuntime) NetworkRemove(ctx context.Context, name string) error {
	r.record("NetworkRemove", name)
	if r.NetworkRemoveErr != nil {
		if err := r.NetworkRemoveErr(ctx, name); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.networks[name]; !ok {
		return fmt.Errorf("network %q: %w", name, harness.ErrNotFound)
	}
	for _, cs := range r.containers {
		if !cs.Removed && cs.Config.Network == name {
			return fmt.Errorf("network %q has active endpoints", name)
		}
	}
	delete(r.networks, name)
	return nil
}

// Live returns the names of containers that have not been killed.
func (r *ContainerRuntime) Live() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []string
	for _, cs := range r.containers {
		if !cs.Removed {
			out = append(out, cs.Config.Name)
		}
	}
	sort.Strings(out)
	return out
}

// KillCounts returns how often each container was killed, keyed by name.
func (r *ContainerRuntime) KillCounts() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]int, len(r.containers))
	for _, cs := range r.containers {
		out[cs.Config.Name] += cs.Kills
	}
	return out
}

// Networks returns the names of existing networks.
func (r *ContainerRuntime) Networks() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.networks))
	for name := range r.networks {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// HasImage reports whether image was built or pulled.
func (r *ContainerRuntime) HasImage(image string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.images[image]
}

// Stop marks the named container as exited without removing it.
func (r *ContainerRuntime) Stop(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cs := range r.containers {
		if cs.Config.Name == name {
			cs.Running = false
		}
	}
}

func (r *ContainerRuntime) output(cfg harness.RunConfig) harness.RunOutput {
	if r.Output == nil {
		return harness.RunOutput{}
	}
	return r.Output(cfg)
}
