package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"llmobs-harness/cmd/llmobs-harness/ui"
	"llmobs-harness/internal/scenario"
)

func runCmd(opts *rootOptions) *cobra.Command {
	var (
		langs  []string
		prompt string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the chat completion scenario against every instrumented server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if len(langs) > 0 {
				cfg.Languages = langs
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sess, closeSession, err := openSession(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeSession()

			sc := scenario.ChatCompletion{Prompt: prompt}
			var results []scenario.Result
			for _, lang := range sess.Languages() {
				if ctx.Err() != nil {
					break
				}
				_ = sess.spin(ctx, fmt.Sprintf("Running %s", lang), func(ctx context.Context) error {
					results = append(results, sc.Run(ctx, sess.Session, lang))
					return nil
				})
			}

			fmt.Println(ui.Table(
				[]string{"LANGUAGE", "VERSION", "OUTCOME", "SPANS", "KINDS", "DURATION"},
				resultRows(results),
			))
			printFailures(results)

			if n := scenario.Failed(results); n > 0 {
				return fmt.Errorf("%d of %d scenarios failed", n, len(results))
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&langs, "lang", nil, "Languages to test (default from config or TEST_LIBS)")
	cmd.Flags().StringVar(&prompt, "prompt", scenario.DefaultPrompt, "Prompt sent to the chat completion endpoint")
	return cmd
}

func resultRows(results []scenario.Result) [][]string {
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		rows = append(rows, []string{
			string(r.Language),
			orDash(r.Version),
			ui.Outcome(r.Outcome),
			strconv.Itoa(r.Spans),
			orDash(strings.Join(r.Kinds, ",")),
			r.Duration.Round(10 * time.Millisecond).String(),
		})
	}
	return rows
}

func printFailures(results []scenario.Result) {
	for _, r := range results {
		switch r.Outcome {
		case scenario.OutcomeFailed:
			fmt.Fprintln(os.Stderr, ui.ErrorMsg("%s: %v", r.Language, r.Err))
			if r.Logs != "" {
				fmt.Fprintln(os.Stderr, ui.Muted(indent(r.Logs, "    ")))
			}
		case scenario.OutcomeSkipped:
			fmt.Fprintln(os.Stderr, ui.WarnMsg("%s skipped: %s", r.Language, r.Reason))
		}
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}
