// Package scenario runs canned LLM-observability scenarios against a test
// session outside of go test.
package scenario

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"llmobs-harness/internal/harness"
)

// Outcomes reported in Result.Outcome.
const (
	OutcomePassed  = "passed"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// DefaultPrompt is sent when ChatCompletion.Prompt is empty.
const DefaultPrompt = "Why is Evangelion so good?"

// errNoLLMSpan is returned when a payload carries no span of kind llm.
var errNoLLMSpan = errors.New("no llm span in payload")

// Result describes one scenario run against one language.
type Result struct {
	Language harness.Language
	Version  string
	Outcome  string
	Spans    int
	Kinds    []string
	Duration time.Duration
	// Reason explains a skip.
	Reason string
	Err    error
	// Logs is the server output, kept for failed runs.
	Logs string
}

// ChatCompletion asks the server for one chat completion and expects a
// schema-valid payload with an llm span to reach the agent.
type ChatCompletion struct {
	Prompt string
	Rules  harness.Rules
}

// Run executes the scenario for lang on s.
func (c ChatCompletion) Run(ctx context.Context, s *harness.Session, lang harness.Language) Result {
	start := time.Now()
	res := c.run(ctx, s, lang)
	res.Duration = time.Since(start)

	log := slog.With("component", "scenario", "language", string(lang))
	switch res.Outcome {
	case OutcomeFailed:
		log.Warn("Scenario failed.", "err", res.Err)
	case OutcomeSkipped:
		log.Info("Scenario skipped.", "reason", res.Reason)
	default:
		log.Info("Scenario passed.", "spans", res.Spans, "duration", res.Duration)
	}
	return res
}

func (c ChatCompletion) run(ctx context.Context, s *harness.Session, lang harness.Language) (res Result) {
	res.Language = lang
	fail := func(err error) Result {
		res.Outcome, res.Err = OutcomeFailed, err
		return res
	}

	agent := s.AgentClient()
	if err := agent.Clear(ctx); err != nil {
		return fail(err)
	}
	defer func() {
		if err := agent.Clear(context.WithoutCancel(ctx)); err != nil {
			slog.Warn("Could not clear test agent.", "component", "scenario", "err", err)
		}
	}()

	srv, err := s.StartServer(ctx, lang)
	if err != nil {
		return fail(err)
	}
	defer func() {
		out := srv.Close(ctx)
		if res.Outcome == OutcomeFailed {
			res.Logs = out.Combined()
		}
	}()
	res.Version = srv.Info.Version

	if d := srv.Admit(c.Rules); d.Skip {
		res.Outcome, res.Reason = OutcomeSkipped, d.Reason
		return res
	}

	prompt := c.Prompt
	if prompt == "" {
		prompt = DefaultPrompt
	}
	if err := srv.Client.ChatCompletion(ctx, harness.ChatCompletionRequest{Prompt: prompt}); err != nil {
		return fail(err)
	}

	payloads, err := s.WaitForLLMObs(ctx, 1)
	if err != nil {
		return fail(err)
	}
	for _, p := range payloads {
		if err := harness.ValidatePayload(p); err != nil {
			return fail(err)
		}
		spans, err := p.Spans()
		if err != nil {
			return fail(err)
		}
		res.Spans += len(spans)
		for _, sp := range spans {
			if k := sp.Kind(); !slices.Contains(res.Kinds, k) {
				res.Kinds = append(res.Kinds, k)
			}
		}
	}
	if !slices.Contains(res.Kinds, "llm") {
		return fail(fmt.Errorf("%w (kinds %v)", errNoLLMSpan, res.Kinds))
	}
	res.Outcome = OutcomePassed
	return res
}

// RunAll runs sc for every language of the session, one after the other.
// The run stops early when ctx is cancelled.
func RunAll(ctx context.Context, s *harness.Session, sc ChatCompletion) []Result {
	var results []Result
	for _, lang := range s.Languages() {
		if ctx.Err() != nil {
			break
		}
		results = append(results, sc.Run(ctx, s, lang))
	}
	return results
}

// Failed counts failed results.
func Failed(results []Result) int {
	n := 0
	for _, r := range results {
		if r.Outcome == OutcomeFailed {
			n++
		}
	}
	return n
}
