package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"llmobs-harness/internal/telemetry"
)

const (
	DefaultAgentImage        = "ghcr.io/datadog/dd-apm-test-agent/ddapm-test-agent:latest"
	DefaultAgentName         = "mlobs-test-agent"
	DefaultServerImagePrefix = "llmobs-test-server"
	DefaultServerPort        = 8080
	DefaultHost              = "127.0.0.1"
	DefaultTelemetryTimeout  = 30 * time.Second

	teardownAttempts = 3
	diagnoseTimeout  = 30 * time.Second
)

// Session lifecycle step ids recorded in traces.
const (
	StepRuntimeReady  = "runtime.ready"
	StepNetworkCreate = "network.create"
	StepAgentStart    = "agent.start"
	StepAgentWait     = "agent.wait"
	StepServerBuild   = "server.build"
	StepServerStart   = "server.start"
	StepServerWait    = "server.wait"
)

// SessionConfig configures a test session. Zero fields take defaults.
type SessionConfig struct {
	Languages []Language

	AgentImage string
	AgentName  string
	// PullAgentImage refreshes the agent image before starting it.
	PullAgentImage bool

	// ServerDir is the build context holding Dockerfile.<lang>.
	ServerDir         string
	ServerImagePrefix string
	ServerPort        int
	// ServerEnv is passed to every server container. Harness managed
	// variables take precedence.
	ServerEnv    map[string]string
	TraceDebug   bool
	OpenAIAPIKey string

	NetworkPrefix string
	// Host is the address published container ports are reached on.
	Host string

	StartPolicy      Policy
	PollPolicy       Policy
	TelemetryTimeout time.Duration

	HTTPClient *http.Client
	Tracer     trace.Tracer
}

func (c SessionConfig) withDefaults() SessionConfig {
	if len(c.Languages) == 0 {
		c.Languages = append([]Language(nil), DefaultLanguages...)
	}
	if c.AgentImage == "" {
		c.AgentImage = DefaultAgentImage
	}
	if c.AgentName == "" {
		c.AgentName = DefaultAgentName
	}
	if c.ServerImagePrefix == "" {
		c.ServerImagePrefix = DefaultServerImagePrefix
	}
	if c.ServerPort == 0 {
		c.ServerPort = DefaultServerPort
	}
	if c.NetworkPrefix == "" {
		c.NetworkPrefix = DefaultNetworkPrefix
	}
	if c.Host == "" {
		c.Host = DefaultHost
	}
	// Startup waits are always bounded, whichever fields the caller set.
	if c.StartPolicy.Interval <= 0 {
		c.StartPolicy.Interval = DefaultStartInterval
	}
	if c.StartPolicy.MaxAttempts <= 0 {
		c.StartPolicy.MaxAttempts = DefaultStartAttempts
	}
	if c.PollPolicy.Interval <= 0 {
		c.PollPolicy.Interval = DefaultPollInterval
	}
	if c.TelemetryTimeout == 0 {
		c.TelemetryTimeout = DefaultTelemetryTimeout
	}
	return c
}

// Session owns the network and test agent shared by every test of a run.
// Servers started from a session are killed when they are closed or, at the
// latest, when the session closes.
type Session struct {
	cfg   SessionConfig
	rt    ContainerRuntime
	ports *PortAllocator
	op    *telemetry.Operation
	log   *slog.Logger

	network   *Network
	agentCtr  *Container
	agent     *AgentClient
	agentPort int

	mu      sync.Mutex
	phase   Phase
	built   map[Language]bool
	servers map[*Server]struct{}
	closed  bool
}

// StartSession creates the session network and starts the test agent on it.
// On failure everything created so far is torn down before returning.
func StartSession(ctx context.Context, rt ContainerRuntime, cfg SessionConfig) (*Session, error) {
	cfg = cfg.withDefaults()
	for _, lang := range cfg.Languages {
		if _, err := EndpointsFor(lang); err != nil {
			return nil, fmt.Errorf("start session: %w", err)
		}
	}

	op, err := telemetry.Start(ctx, cfg.Tracer, "harness.session",
		[]string{StepRuntimeReady, StepNetworkCreate, StepAgentStart, StepAgentWait},
		attribute.String("harness.agent.image", cfg.AgentImage),
	)
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}

	s := &Session{
		cfg:     cfg,
		rt:      rt,
		ports:   NewPortAllocator(),
		op:      op,
		log:     slog.With("component", "session"),
		phase:   PhaseCreated,
		built:   make(map[Language]bool),
		servers: make(map[*Server]struct{}),
	}

	if err := s.setup(op.Context()); err != nil {
		s.phase = s.phase.Transition(PhaseFailed)
		s.teardown(context.WithoutCancel(ctx))
		op.End(err)
		return nil, err
	}
	s.log.Info("Session ready.", "network", s.network.Name, "agent", s.agent.BaseURL())
	return s, nil
}

func (s *Session) setup(ctx context.Context) error {
	err := s.op.RunStep(ctx, StepRuntimeReady, func(ctx context.Context) error {
		if err := s.rt.WaitReady(ctx); err != nil {
			if errors.Is(err, ErrSetup) {
				return err
			}
			return fmt.Errorf("%w: %w", ErrRuntimeUnavailable, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	err = s.op.RunStep(ctx, StepNetworkCreate, func(ctx context.Context) error {
		n, err := CreateNetwork(ctx, s.rt, NetworkName(s.cfg.NetworkPrefix))
		if err != nil {
			return fmt.Errorf("%w: %w", ErrSetup, err)
		}
		s.network = n
		s.phase = s.phase.Transition(PhaseNetworkAttached)
		return nil
	})
	if err != nil {
		return err
	}

	err = s.op.RunStep(ctx, StepAgentStart, func(ctx context.Context) error {
		port, err := s.ports.Allocate()
		if err != nil {
			return err
		}
		if s.cfg.PullAgentImage {
			if err := s.rt.ImagePull(ctx, s.cfg.AgentImage); err != nil {
				return fmt.Errorf("pull test agent image: %w", err)
			}
		}
		p := strconv.Itoa(port)
		c, err := RunContainer(ctx, s.rt, RunConfig{
			Name:    s.cfg.AgentName,
			Image:   s.cfg.AgentImage,
			Network: s.network.Name,
			Env:     map[string]string{"PORT": p},
			Ports:   []PortBinding{{HostPort: port, ContainerPort: port}},
		})
		if err != nil {
			return err
		}
		s.agentCtr = c
		s.agentPort = port

		agent, err := NewAgentClient(fmt.Sprintf("http://%s:%d", s.cfg.Host, port),
			WithAgentHTTPClient(s.cfg.HTTPClient),
			WithPollPolicy(s.cfg.PollPolicy),
		)
		if err != nil {
			return err
		}
		s.agent = agent
		return nil
	})
	if err != nil {
		return err
	}

	return s.op.RunStep(ctx, StepAgentWait, func(ctx context.Context) error {
		if err := s.agent.WaitToStart(ctx, s.cfg.StartPolicy); err != nil {
			return s.diagnose(ctx, s.agentCtr, ComponentAgent, err)
		}
		s.phase = s.phase.Transition(PhaseAgentReady)
		return nil
	})
}

// diagnose turns a readiness failure into a StartupTimeoutError carrying the
// container's output. The container is gone when it returns.
func (s *Session) diagnose(ctx context.Context, c *Container, component string, cause error) error {
	var st *StartupTimeoutError
	if !errors.As(cause, &st) {
		st = &StartupTimeoutError{Component: component, Err: cause}
	}
	st.Component = component
	ctx = context.WithoutCancel(ctx)

	running, err := c.IsRunning(ctx)
	if err != nil {
		s.log.Warn("Could not inspect container after failed start.", "name", c.Name, "err", err)
		running = true
	}

	if running {
		st.Running = true
		if out, err := c.Logs(ctx); err == nil {
			st.Logs = out.Combined()
		} else {
			s.log.Warn("Could not read container logs.", "name", c.Name, "err", err)
		}
		s.kill(ctx, c)
		return st
	}

	// The container exited. Remove it so the name is free again and rerun
	// it in the foreground to collect what it printed before dying.
	st.Running = false
	s.kill(ctx, c)
	cfg := c.Config()
	cfg.Timeout = diagnoseTimeout
	out, err := s.rt.ContainerRunForeground(ctx, cfg)
	if err != nil {
		s.log.Warn("Foreground rerun failed.", "name", cfg.Name, "err", err)
	}
	st.Logs = out.Stderr
	if st.Logs == "" {
		st.Logs = out.Stdout
	}
	return st
}

// kill kills c, retrying transient failures. Errors are logged, not returned.
func (s *Session) kill(ctx context.Context, c *Container) {
	if c == nil || c.Killed() {
		return
	}
	s.bestEffort(ctx, "kill container "+c.Name, c.Kill)
}

func (s *Session) bestEffort(ctx context.Context, what string, fn func(context.Context) error) {
	policy := Policy{
		Interval:    DefaultStartInterval,
		MaxAttempts: teardownAttempts,
		NewTimer:    s.cfg.StartPolicy.NewTimer,
	}
	if _, err := policy.Do(ctx, fn); err != nil {
		s.log.Warn("Teardown step failed.", "step", what, "err", err)
	}
}

// teardown kills the agent and removes the network, in that order. The
// network is kept when the agent could not be killed.
func (s *Session) teardown(ctx context.Context) {
	s.kill(ctx, s.agentCtr)
	if s.agentCtr != nil && !s.agentCtr.Killed() {
		s.log.Warn("Keeping network, test agent container is still attached.", "network", s.networkName())
		return
	}
	if s.network != nil {
		s.bestEffort(ctx, "remove network "+s.network.Name, s.network.Destroy)
	}
}

func (s *Session) networkName() string {
	if s.network == nil {
		return ""
	}
	return s.network.Name
}

// Close kills every server still running, then the agent, then removes the
// network. It is safe to call more than once.
func (s *Session) Close(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	servers := make([]*Server, 0, len(s.servers))
	for srv := range s.servers {
		servers = append(servers, srv)
	}
	s.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	for _, srv := range servers {
		srv.Close(ctx)
	}
	s.teardown(ctx)

	s.mu.Lock()
	s.phase = s.phase.Transition(PhaseTornDown)
	s.mu.Unlock()
	s.op.End(nil)
	s.log.Info("Session closed.", "network", s.networkName())
}

// AgentClient returns the client of the session's test agent.
func (s *Session) AgentClient() *AgentClient {
	return s.agent
}

// AgentURL is the address server containers reach the agent on.
func (s *Session) AgentURL() string {
	return fmt.Sprintf("http://%s:%d", s.cfg.AgentName, s.agentPort)
}

// Network returns the session network.
func (s *Session) Network() *Network {
	return s.network
}

// Languages returns the languages under test.
func (s *Session) Languages() []Language {
	return append([]Language(nil), s.cfg.Languages...)
}

// Config returns the effective configuration.
func (s *Session) Config() SessionConfig {
	return s.cfg
}

// Phase returns the session's lifecycle phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// WaitForLLMObs waits up to the configured telemetry timeout for n payloads.
func (s *Session) WaitForLLMObs(ctx context.Context, n int) ([]Payload, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.TelemetryTimeout)
	defer cancel()
	return s.agent.WaitForLLMObsRequests(ctx, n)
}
