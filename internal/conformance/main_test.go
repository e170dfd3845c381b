//go:build integration

package conformance

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"testing"

	"llmobs-harness/config"
	dockerrt "llmobs-harness/internal/adapter/docker"
	"llmobs-harness/internal/harness"
	"llmobs-harness/internal/logging"
	"llmobs-harness/internal/telemetry"
)

var session *harness.Session

func TestMain(m *testing.M) {
	os.Exit(run(m))
}

func run(m *testing.M) int {
	if err := logging.Configure(logging.LevelFor(false)); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	cfg, err := config.LoadFromEnv("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return 1
	}
	sc, err := cfg.SessionConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "session config: %v\n", err)
		return 1
	}

	rt, err := dockerrt.NewRuntime()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer rt.Close()

	tp := telemetry.NewProvider(slog.Default())
	defer func() { _ = tp.Shutdown(context.Background()) }()
	sc.Tracer = telemetry.Tracer(tp)

	ctx := context.Background()
	session, err = harness.StartSession(ctx, rt, sc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "start session: %v\n", err)
		return 1
	}
	defer session.Close(ctx)

	return m.Run()
}
