package harness

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"strconv"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"llmobs-harness/internal/telemetry"
)

// Server is an instrumented server container owned by one test.
type Server struct {
	Lang   Language
	Info   ServerInfo
	Client *InstrumentationClient

	session   *Session
	container *Container
	op        *telemetry.Operation
	log       *slog.Logger
	phase     Phase
	closed    bool
}

// StartServer builds the image for lang, runs it on the session network and
// waits until it reports its version. The container is killed before an
// error is returned.
func (s *Session) StartServer(ctx context.Context, lang Language) (*Server, error) {
	if _, err := EndpointsFor(lang); err != nil {
		return nil, fmt.Errorf("start server: %w", err)
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("start %s server: session closed", lang)
	}
	s.mu.Unlock()

	op, err := telemetry.Start(ctx, s.cfg.Tracer, "harness.server",
		[]string{StepServerBuild, StepServerStart, StepServerWait},
		attribute.String("harness.language", string(lang)),
	)
	if err != nil {
		return nil, fmt.Errorf("start %s server: %w", lang, err)
	}

	srv := &Server{
		Lang:    lang,
		session: s,
		op:      op,
		log:     slog.With("component", "server", "language", string(lang)),
		phase:   PhaseAgentReady.Transition(PhaseServerBuilding),
	}
	if err := srv.start(op.Context()); err != nil {
		srv.phase = srv.phase.Transition(PhaseFailed)
		if srv.container != nil {
			s.kill(context.WithoutCancel(ctx), srv.container)
			s.forget(srv)
		}
		op.End(err)
		return nil, err
	}
	return srv, nil
}

func (srv *Server) start(ctx context.Context) error {
	s := srv.session
	image := ServerImage(s.cfg.ServerImagePrefix, srv.Lang)

	err := srv.op.RunStep(ctx, StepServerBuild, func(ctx context.Context) error {
		if s.isBuilt(srv.Lang) {
			return nil
		}
		err := s.rt.ImageBuild(ctx, BuildConfig{
			Tag:        image,
			ContextDir: s.cfg.ServerDir,
			Dockerfile: Dockerfile(srv.Lang),
		})
		if err != nil {
			return fmt.Errorf("build %s server image: %w", srv.Lang, err)
		}
		s.markBuilt(srv.Lang)
		return nil
	})
	if err != nil {
		return err
	}

	var hostPort int
	err = srv.op.RunStep(ctx, StepServerStart, func(ctx context.Context) error {
		port, err := s.ports.Allocate()
		if err != nil {
			return err
		}
		hostPort = port
		c, err := RunContainer(ctx, s.rt, RunConfig{
			Name:    image + "-" + uuid.NewString()[:8],
			Image:   image,
			Network: s.network.Name,
			Env:     s.serverEnv(),
			Ports:   []PortBinding{{HostPort: port, ContainerPort: s.cfg.ServerPort}},
		})
		if err != nil {
			return err
		}
		srv.container = c
		s.track(srv)
		srv.phase = srv.phase.Transition(PhaseServerRunning)
		return nil
	})
	if err != nil {
		return err
	}

	return srv.op.RunStep(ctx, StepServerWait, func(ctx context.Context) error {
		client, err := NewInstrumentationClient(fmt.Sprintf("http://%s:%d", s.cfg.Host, hostPort), srv.Lang, s.cfg.HTTPClient)
		if err != nil {
			return err
		}
		info, err := client.WaitToStart(ctx, s.cfg.StartPolicy)
		if err != nil {
			return s.diagnose(ctx, srv.container, ComponentServer, err)
		}
		srv.Client = client
		srv.Info = info
		srv.phase = srv.phase.Transition(PhaseServerReady)
		srv.log.Info("Server ready.", "version", info.Version, "url", client.BaseURL())
		return nil
	})
}

// serverEnv merges the configured extras with the variables the harness
// controls.
func (s *Session) serverEnv() map[string]string {
	env := make(map[string]string, len(s.cfg.ServerEnv)+4)
	maps.Copy(env, s.cfg.ServerEnv)
	env["PORT"] = strconv.Itoa(s.cfg.ServerPort)
	env["DD_TRACE_AGENT_URL"] = s.AgentURL()
	env["DD_TRACE_DEBUG"] = strconv.FormatBool(s.cfg.TraceDebug)
	env["OPENAI_API_KEY"] = s.cfg.OpenAIAPIKey
	return env
}

func (s *Session) isBuilt(lang Language) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.built[lang]
}

func (s *Session) markBuilt(lang Language) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.built[lang] = true
}

func (s *Session) track(srv *Server) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.servers[srv] = struct{}{}
}

func (s *Session) forget(srv *Server) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.servers, srv)
}

// Admit runs the version gate. A skip moves the server straight to teardown
// once it is closed.
func (srv *Server) Admit(rules Rules) SkipDecision {
	srv.phase = srv.phase.Transition(PhaseInGate)
	d := ShouldSkip(srv.Lang, rules, srv.Info)
	if d.Skip {
		srv.op.SetOutcome("skipped")
		srv.log.Info("Skipping test.", "version", srv.Info.Version, "reason", d.Reason)
		return d
	}
	srv.phase = srv.phase.Transition(PhaseTestRunning)
	return d
}

// Phase returns the server's lifecycle phase.
func (srv *Server) Phase() Phase {
	return srv.phase
}

// Container returns the server's container handle.
func (srv *Server) Container() *Container {
	return srv.container
}

// Close collects the container output and kills the container. Further
// calls return an empty output.
func (srv *Server) Close(ctx context.Context) RunOutput {
	if srv.closed {
		return RunOutput{}
	}
	srv.closed = true
	ctx = context.WithoutCancel(ctx)

	out, err := srv.container.Logs(ctx)
	if err != nil {
		srv.log.Warn("Could not read server logs.", "err", err)
	}
	srv.session.kill(ctx, srv.container)
	srv.session.forget(srv)
	srv.phase = srv.phase.Transition(PhaseTornDown)
	srv.op.End(nil)
	return out
}
