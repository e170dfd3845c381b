package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"llmobs-harness/cmd/llmobs-harness/ui"
	"llmobs-harness/config"
	"llmobs-harness/internal/logging"
)

// rootOptions holds the persistent flags shared by every command.
type rootOptions struct {
	debug         bool
	configPath    string
	noInteraction bool
}

// load reads the config file and environment overrides.
func (o *rootOptions) load() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	switch {
	case o.debug:
		cfg.Debug = true
	case cfg.Debug:
		if err := logging.Configure(logging.LevelDebug); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func main() {
	var opts rootOptions
	if err := logging.Configure(logging.LevelWarn); err != nil {
		_, _ = os.Stderr.WriteString("configure logger: " + err.Error() + "\n")
		os.Exit(1)
	}

	root := &cobra.Command{
		Use:           "llmobs-harness",
		Short:         "Conformance harness for LLM Observability tracers",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			ui.ConfigureInteraction(opts.noInteraction)
			return logging.Configure(logging.LevelFor(opts.debug))
		},
	}
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "Config file (default $XDG_CONFIG_HOME/llmobs-harness/config.yaml)")
	root.PersistentFlags().BoolVar(&opts.noInteraction, "no-interaction", false, "Disable spinners and colours")

	root.AddCommand(runCmd(&opts))
	root.AddCommand(agentCmd(&opts))
	root.AddCommand(requestsCmd())
	root.AddCommand(configCmd(&opts))

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
