package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"llmobs-harness/cmd/llmobs-harness/ui"
)

func agentCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "agent",
		Short: "Run the test agent on a session network until interrupted",
		Long: "Starts the session network and test agent and keeps them up so that\n" +
			"instrumented servers can be run and inspected by hand. Ctrl+C tears\n" +
			"everything down.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sess, closeSession, err := openSession(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeSession()

			fmt.Println(ui.SuccessMsg("Test agent running"))
			fmt.Print(ui.KeyValues("  ",
				ui.KV("Host URL", sess.AgentClient().BaseURL()),
				ui.KV("Network URL", sess.AgentURL()),
				ui.KV("Network", sess.Network().Name),
			))
			fmt.Println(ui.Muted("  Inspect captured requests with: llmobs-harness requests --agent " + sess.AgentClient().BaseURL()))

			<-ctx.Done()
			fmt.Println(ui.InfoMsg("Stopping"))
			return nil
		},
	}
}
