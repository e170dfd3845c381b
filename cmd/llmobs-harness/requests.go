package main

import (
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"llmobs-harness/internal/harness"
)

const (
	formatJSON = "json"
	formatYAML = "yaml"
)

func requestsCmd() *cobra.Command {
	var (
		agentURL   string
		all        bool
		clearAfter bool
		output     string
	)

	cmd := &cobra.Command{
		Use:   "requests",
		Short: "Print the requests a running test agent captured",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if output != formatJSON && output != formatYAML {
				return fmt.Errorf("unsupported output format %q (want %s or %s)", output, formatJSON, formatYAML)
			}
			agent, err := harness.NewAgentClient(agentURL)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			var docs []any
			if all {
				reqs, err := agent.Requests(ctx)
				if err != nil {
					return err
				}
				for _, r := range reqs {
					docs = append(docs, r)
				}
			} else {
				payloads, err := agent.LLMObsRequests(ctx)
				if err != nil {
					return err
				}
				for _, p := range payloads {
					v, err := p.Value()
					if err != nil {
						return err
					}
					docs = append(docs, v)
				}
			}

			if err := writeDocs(os.Stdout, output, docs); err != nil {
				return err
			}
			if clearAfter {
				return agent.Clear(ctx)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&agentURL, "agent", "", "Host URL of the test agent, as printed by 'llmobs-harness agent'")
	cmd.Flags().BoolVar(&all, "all", false, "Print every captured request envelope, not only decoded LLM Observability payloads")
	cmd.Flags().BoolVar(&clearAfter, "clear", false, "Clear the agent's captured requests afterwards")
	cmd.Flags().StringVarP(&output, "output", "o", formatJSON, "Output format: json or yaml")
	_ = cmd.MarkFlagRequired("agent")
	return cmd
}

func writeDocs(w io.Writer, format string, docs []any) error {
	if docs == nil {
		docs = []any{}
	}
	switch format {
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(docs); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	default:
		data, err := json.MarshalIndent(docs, "", "  ")
		if err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}
}
