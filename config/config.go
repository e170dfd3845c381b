// Package config loads harness settings.
//
// Settings come from a YAML file at $XDG_CONFIG_HOME/llmobs-harness/config.yaml
// (defaults to ~/.config/llmobs-harness/config.yaml, overridable with
// LLMOBS_HARNESS_CONFIG) and are then overridden by environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"llmobs-harness/internal/harness"
)

// Environment variables read by ApplyEnv.
const (
	EnvConfig           = "LLMOBS_HARNESS_CONFIG"
	EnvLanguages        = "TEST_LIBS"
	EnvOpenAIKey        = "OPENAI_API_KEY"
	EnvAgentImage       = "LLMOBS_HARNESS_AGENT_IMAGE"
	EnvServerDir        = "LLMOBS_HARNESS_SERVER_DIR"
	EnvHost             = "LLMOBS_HARNESS_HOST"
	EnvDebug            = "LLMOBS_HARNESS_DEBUG"
	EnvTelemetryTimeout = "LLMOBS_HARNESS_TELEMETRY_TIMEOUT"
)

// Agent configures the test agent container.
type Agent struct {
	Image string `yaml:"image,omitempty"`
	Name  string `yaml:"name,omitempty"`
	Pull  bool   `yaml:"pull,omitempty"`
}

// Server configures the instrumented server containers.
type Server struct {
	Dir         string            `yaml:"dir,omitempty"`
	ImagePrefix string            `yaml:"image-prefix,omitempty"`
	Port        int               `yaml:"port,omitempty"`
	TraceDebug  bool              `yaml:"trace-debug"`
	Env         map[string]string `yaml:"env,omitempty"`
}

// Start configures readiness polling.
type Start struct {
	Attempts int           `yaml:"attempts,omitempty"`
	Interval time.Duration `yaml:"interval,omitempty"`
}

// Config is the full harness configuration.
type Config struct {
	Languages        []string      `yaml:"languages,omitempty"`
	Agent            Agent         `yaml:"agent"`
	Server           Server        `yaml:"server"`
	NetworkPrefix    string        `yaml:"network-prefix,omitempty"`
	Host             string        `yaml:"host,omitempty"`
	Start            Start         `yaml:"start"`
	PollInterval     time.Duration `yaml:"poll-interval,omitempty"`
	TelemetryTimeout time.Duration `yaml:"telemetry-timeout,omitempty"`
	Debug            bool          `yaml:"debug,omitempty"`

	// OpenAIAPIKey is only ever taken from the environment.
	OpenAIAPIKey string `yaml:"-"`
}

// Default returns the built-in configuration.
func Default() *Config {
	langs := make([]string, len(harness.DefaultLanguages))
	for i, l := range harness.DefaultLanguages {
		langs[i] = string(l)
	}
	return &Config{
		Languages: langs,
		Agent: Agent{
			Image: harness.DefaultAgentImage,
			Name:  harness.DefaultAgentName,
		},
		Server: Server{
			Dir:         ".",
			ImagePrefix: harness.DefaultServerImagePrefix,
			Port:        harness.DefaultServerPort,
			TraceDebug:  true,
		},
		NetworkPrefix:    harness.DefaultNetworkPrefix,
		Host:             harness.DefaultHost,
		Start:            Start{Attempts: harness.DefaultStartAttempts, Interval: harness.DefaultStartInterval},
		PollInterval:     harness.DefaultPollInterval,
		TelemetryTimeout: harness.DefaultTelemetryTimeout,
	}
}

// Path returns the default config file location. It respects
// XDG_CONFIG_HOME, falling back to ~/.config/llmobs-harness/config.yaml.
func Path() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(".config", "llmobs-harness", "config.yaml")
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "llmobs-harness", "config.yaml")
}

// Load reads the config file at path on top of the defaults. An empty path
// means LLMOBS_HARNESS_CONFIG or Path(); a missing default file is not an
// error, a missing explicit one is.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		if p := os.Getenv(EnvConfig); p != "" {
			path, explicit = p, true
		} else {
			path = Path()
		}
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromEnv loads the config file and applies environment overrides.
func LoadFromEnv(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables read with getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := strings.TrimSpace(getenv(EnvLanguages)); v != "" {
		c.Languages = nil
		for part := range strings.SplitSeq(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				c.Languages = append(c.Languages, part)
			}
		}
	}
	if v := getenv(EnvOpenAIKey); v != "" {
		c.OpenAIAPIKey = v
	}
	if v := getenv(EnvAgentImage); v != "" {
		c.Agent.Image = v
	}
	if v := getenv(EnvServerDir); v != "" {
		c.Server.Dir = v
	}
	if v := getenv(EnvHost); v != "" {
		c.Host = v
	}
	if v := getenv(EnvDebug); v != "" {
		on, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", EnvDebug, err)
		}
		c.Debug = on
	}
	if v := getenv(EnvTelemetryTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", EnvTelemetryTimeout, err)
		}
		c.TelemetryTimeout = d
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if _, err := harness.ParseLanguages(strings.Join(c.Languages, ",")); err != nil {
		return fmt.Errorf("languages: %w", err)
	}
	if c.Agent.Image == "" {
		return errors.New("agent.image is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Start.Attempts < 1 {
		return fmt.Errorf("start.attempts must be at least 1, got %d", c.Start.Attempts)
	}
	for name, d := range map[string]time.Duration{
		"start.interval":    c.Start.Interval,
		"poll-interval":     c.PollInterval,
		"telemetry-timeout": c.TelemetryTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	return nil
}

// SessionConfig converts the config into harness settings.
func (c *Config) SessionConfig() (harness.SessionConfig, error) {
	langs, err := harness.ParseLanguages(strings.Join(c.Languages, ","))
	if err != nil {
		return harness.SessionConfig{}, err
	}
	dir, err := filepath.Abs(c.Server.Dir)
	if err != nil {
		return harness.SessionConfig{}, fmt.Errorf("resolve server dir: %w", err)
	}
	return harness.SessionConfig{
		Languages:         langs,
		AgentImage:        c.Agent.Image,
		AgentName:         c.Agent.Name,
		PullAgentImage:    c.Agent.Pull,
		ServerDir:         dir,
		ServerImagePrefix: c.Server.ImagePrefix,
		ServerPort:        c.Server.Port,
		ServerEnv:         c.Server.Env,
		TraceDebug:        c.Server.TraceDebug,
		OpenAIAPIKey:      c.OpenAIAPIKey,
		NetworkPrefix:     c.NetworkPrefix,
		Host:              c.Host,
		StartPolicy:       harness.Policy{Interval: c.Start.Interval, MaxAttempts: c.Start.Attempts},
		PollPolicy:        harness.Policy{Interval: c.PollInterval},
		TelemetryTimeout:  c.TelemetryTimeout,
	}, nil
}

// Save writes the config to path, creating directories as needed.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
