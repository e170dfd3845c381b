package main

import (
	"context"
	"log/slog"

	"llmobs-harness/cmd/llmobs-harness/ui"
	"llmobs-harness/config"
	dockerrt "llmobs-harness/internal/adapter/docker"
	"llmobs-harness/internal/harness"
	"llmobs-harness/internal/telemetry"
)

// cliSession is a started test session plus the step tracker its spinners
// read from.
type cliSession struct {
	*harness.Session
	progress *ui.Progress
}

// spin runs fn behind a spinner that follows the session's lifecycle steps.
func (s cliSession) spin(ctx context.Context, msg string, fn func(ctx context.Context) error) error {
	return ui.RunWithSpinner(ctx, msg, s.progress, fn)
}

// openSession connects to Docker and starts a test session. The returned
// close function tears down the session and releases the client.
func openSession(ctx context.Context, cfg *config.Config) (cliSession, func(), error) {
	if err := cfg.Validate(); err != nil {
		return cliSession{}, nil, err
	}
	sc, err := cfg.SessionConfig()
	if err != nil {
		return cliSession{}, nil, err
	}

	rt, err := dockerrt.NewRuntime()
	if err != nil {
		return cliSession{}, nil, err
	}
	progress := ui.NewProgress()
	tp := telemetry.NewProvider(slog.Default(), progress)
	sc.Tracer = telemetry.Tracer(tp)

	var sess *harness.Session
	err = ui.RunWithSpinner(ctx, "Starting test agent", progress, func(ctx context.Context) error {
		var err error
		sess, err = harness.StartSession(ctx, rt, sc)
		return err
	})
	if err != nil {
		_ = tp.Shutdown(context.Background())
		_ = rt.Close()
		return cliSession{}, nil, err
	}

	closeFn := func() {
		_ = ui.RunWithSpinner(context.Background(), "Tearing down", progress, func(ctx context.Context) error {
			sess.Close(ctx)
			return nil
		})
		_ = tp.Shutdown(context.Background())
		_ = rt.Close()
	}
	return cliSession{Session: sess, progress: progress}, closeFn, nil
}
