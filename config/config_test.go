package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"llmobs-harness/internal/harness"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoad_MissingDefaultFileGivesDefaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv(EnvConfig, "")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Errorf("config (-want +got):\n%s", diff)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config")
	}
}

func TestLoad_File(t *testing.T) {
	p := writeFile(t, `
languages: [nodejs]
agent:
  image: registry.local/test-agent:v1.20.0
  pull: true
server:
  dir: ./servers
  trace-debug: false
  env:
    DD_SERVICE: llmobs-test
start:
  attempts: 20
  interval: 250ms
telemetry-timeout: 1m
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatal(err)
	}

	want := Default()
	want.Languages = []string{"nodejs"}
	want.Agent.Image = "registry.local/test-agent:v1.20.0"
	want.Agent.Pull = true
	want.Server.Dir = "./servers"
	want.Server.TraceDebug = false
	want.Server.Env = map[string]string{"DD_SERVICE": "llmobs-test"}
	want.Start = Start{Attempts: 20, Interval: 250 * time.Millisecond}
	want.TelemetryTimeout = time.Minute
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config (-want +got):\n%s", diff)
	}
}

func TestLoad_EnvPath(t *testing.T) {
	p := writeFile(t, "host: 10.0.0.5\n")
	t.Setenv(EnvConfig, p)

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Host != "10.0.0.5" {
		t.Errorf("host = %q", cfg.Host)
	}
}

func TestLoad_BadYAML(t *testing.T) {
	p := writeFile(t, "languages: {python\n")
	if _, err := Load(p); err == nil || !strings.Contains(err.Error(), "parse config") {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvLanguages:        "nodejs, python",
		EnvOpenAIKey:        "sk-live",
		EnvAgentImage:       "agent:dev",
		EnvServerDir:        "/tmp/servers",
		EnvHost:             "0.0.0.0",
		EnvDebug:            "true",
		EnvTelemetryTimeout: "45s",
	}
	cfg := Default()
	if err := cfg.ApplyEnv(func(k string) string { return env[k] }); err != nil {
		t.Fatal(err)
	}

	want := Default()
	want.Languages = []string{"nodejs", "python"}
	want.OpenAIAPIKey = "sk-live"
	want.Agent.Image = "agent:dev"
	want.Server.Dir = "/tmp/servers"
	want.Host = "0.0.0.0"
	want.Debug = true
	want.TelemetryTimeout = 45 * time.Second
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config (-want +got):\n%s", diff)
	}
}

func TestApplyEnv_Invalid(t *testing.T) {
	for key, val := range map[string]string{EnvDebug: "maybe", EnvTelemetryTimeout: "soon"} {
		cfg := Default()
		err := cfg.ApplyEnv(func(k string) string {
			if k == key {
				return val
			}
			return ""
		})
		if err == nil || !strings.Contains(err.Error(), key) {
			t.Errorf("%s=%q: expected error naming the variable, got %v", key, val, err)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := map[string]func(*Config){
		"unknown language": func(c *Config) { c.Languages = []string{"python", "ruby"} },
		"no agent image":   func(c *Config) { c.Agent.Image = "" },
		"bad port":         func(c *Config) { c.Server.Port = 70000 },
		"no attempts":      func(c *Config) { c.Start.Attempts = 0 },
		"zero poll":        func(c *Config) { c.PollInterval = 0 },
		"negative timeout": func(c *Config) { c.TelemetryTimeout = -time.Second },
	}
	if err := Default().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestSessionConfig(t *testing.T) {
	cfg := Default()
	cfg.Languages = []string{"nodejs"}
	cfg.Server.Dir = t.TempDir()
	cfg.OpenAIAPIKey = "sk-test"

	sc, err := cfg.SessionConfig()
	if err != nil {
		t.Fatal(err)
	}
	if len(sc.Languages) != 1 || sc.Languages[0] != harness.NodeJS {
		t.Errorf("languages = %v", sc.Languages)
	}
	if sc.StartPolicy.MaxAttempts != harness.DefaultStartAttempts || sc.StartPolicy.Interval != harness.DefaultStartInterval {
		t.Errorf("start policy = %+v", sc.StartPolicy)
	}
	if sc.PollPolicy.Bounded() {
		t.Error("poll policy should be unbounded")
	}
	if sc.ServerDir != cfg.Server.Dir || sc.OpenAIAPIKey != "sk-test" || !sc.TraceDebug {
		t.Errorf("session config = %+v", sc)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	p := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Default()
	cfg.Languages = []string{"python"}
	cfg.PollInterval = 50 * time.Millisecond
	cfg.OpenAIAPIKey = "never-written"

	if err := cfg.Save(p); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(p)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "never-written") {
		t.Fatal("API key must not be persisted")
	}

	got, err := Load(p)
	if err != nil {
		t.Fatal(err)
	}
	cfg.OpenAIAPIKey = ""
	if diff := cmp.Diff(cfg, got); diff != "" {
		t.Errorf("round trip (-want +got):\n%s", diff)
	}
}
