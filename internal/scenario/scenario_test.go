package scenario_test

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"llmobs-harness/internal/adapter/fake"
	"llmobs-harness/internal/harness"
	"llmobs-harness/internal/scenario"
)

const spanEventFormat = `{"_dd.stage":"raw","event_type":"span","spans":[{"trace_id":"1","span_id":"2","parent_id":"undefined","name":"openai.createChatCompletion","start_ns":1,"duration":5,"meta":{"span.kind":"%s","input":{"messages":[{"role":"user","content":"hi"}]}}}]}`

// double plays both the test agent and the instrumented server.
type double struct {
	mu       sync.Mutex
	requests []harness.Envelope
	kind     string
	silent   bool
	prompts  []string
}

func newDouble(t *testing.T) (*double, *http.Client) {
	t.Helper()
	d := &double{kind: "llm"}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /info", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"version": "test"})
	})
	mux.HandleFunc("GET /test/session/requests", func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		defer d.mu.Unlock()
		_ = json.NewEncoder(w).Encode(d.requests)
	})
	mux.HandleFunc("GET /test/session/clear", func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		d.requests = nil
		d.mu.Unlock()
	})
	mux.HandleFunc("GET /sdk/info", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"version": "3.1.0"})
	})
	mux.HandleFunc("POST /openai/chat_completion", func(w http.ResponseWriter, r *http.Request) {
		var req harness.ChatCompletionRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		d.mu.Lock()
		defer d.mu.Unlock()
		d.prompts = append(d.prompts, req.Prompt)
		if d.silent {
			return
		}
		body := fmt.Sprintf(spanEventFormat, d.kind)
		d.requests = append(d.requests, harness.Envelope{
			Method: http.MethodPost,
			URL:    "http://agent" + harness.LLMObsPath,
			Body:   base64.StdEncoding.EncodeToString([]byte(body)),
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	target, _ := url.Parse(srv.URL)
	return d, &http.Client{Transport: redirect{target: target}}
}

type redirect struct {
	target *url.URL
}

func (rt redirect) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.URL.Scheme = rt.target.Scheme
	r.URL.Host = rt.target.Host
	r.Host = rt.target.Host
	return http.DefaultTransport.RoundTrip(r)
}

func startSession(t *testing.T, rt *fake.ContainerRuntime, client *http.Client, langs ...harness.Language) *harness.Session {
	t.Helper()
	timer := fake.NewTimer()
	s, err := harness.StartSession(t.Context(), rt, harness.SessionConfig{
		Languages:  langs,
		ServerDir:  "/srv/llmobs",
		HTTPClient: client,
		StartPolicy: harness.Policy{
			Interval:    harness.DefaultStartInterval,
			MaxAttempts: harness.DefaultStartAttempts,
			NewTimer:    timer.Factory(),
		},
		PollPolicy:       harness.Policy{Interval: 5 * time.Millisecond},
		TelemetryTimeout: 200 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	t.Cleanup(func() { s.Close(t.Context()) })
	return s
}

func TestChatCompletion_Passes(t *testing.T) {
	d, client := newDouble(t)
	rt := fake.NewContainerRuntime()
	s := startSession(t, rt, client, harness.Python, harness.NodeJS)

	results := scenario.RunAll(t.Context(), s, scenario.ChatCompletion{Prompt: "What is LLM observability?"})
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	for _, r := range results {
		if r.Outcome != scenario.OutcomePassed {
			t.Errorf("%s: outcome %s, err %v", r.Language, r.Outcome, r.Err)
		}
		if r.Version != "3.1.0" || r.Spans != 1 {
			t.Errorf("%s: version %q spans %d", r.Language, r.Version, r.Spans)
		}
	}
	if got := scenario.Failed(results); got != 0 {
		t.Errorf("Failed() = %d", got)
	}
	if len(d.prompts) != 2 || d.prompts[0] != "What is LLM observability?" {
		t.Errorf("prompts = %v", d.prompts)
	}
	if live := rt.Live(); len(live) != 1 || live[0] != harness.DefaultAgentName {
		t.Errorf("only the agent should survive a scenario, live = %v", live)
	}
}

func TestChatCompletion_DefaultPrompt(t *testing.T) {
	d, client := newDouble(t)
	s := startSession(t, fake.NewContainerRuntime(), client, harness.Python)

	if r := (scenario.ChatCompletion{}).Run(t.Context(), s, harness.Python); r.Outcome != scenario.OutcomePassed {
		t.Fatalf("outcome %s: %v", r.Outcome, r.Err)
	}
	if len(d.prompts) != 1 || d.prompts[0] != scenario.DefaultPrompt {
		t.Errorf("prompts = %v", d.prompts)
	}
}

func TestChatCompletion_Skipped(t *testing.T) {
	d, client := newDouble(t)
	s := startSession(t, fake.NewContainerRuntime(), client, harness.Python)

	sc := scenario.ChatCompletion{Rules: harness.Rules{harness.NotSupported(harness.Python, "no openai integration")}}
	r := sc.Run(t.Context(), s, harness.Python)
	if r.Outcome != scenario.OutcomeSkipped {
		t.Fatalf("outcome %s, want skipped", r.Outcome)
	}
	if !strings.Contains(r.Reason, "no openai integration") {
		t.Errorf("reason = %q", r.Reason)
	}
	if len(d.prompts) != 0 {
		t.Errorf("skipped scenario still sent %v", d.prompts)
	}
}

func TestChatCompletion_NoPayload(t *testing.T) {
	d, client := newDouble(t)
	d.silent = true
	rt := fake.NewContainerRuntime()
	rt.Output = func(cfg harness.RunConfig) harness.RunOutput {
		return harness.RunOutput{Stderr: "ddtrace: llmobs disabled"}
	}
	s := startSession(t, rt, client, harness.Python)

	r := (scenario.ChatCompletion{}).Run(t.Context(), s, harness.Python)
	if r.Outcome != scenario.OutcomeFailed || r.Err == nil {
		t.Fatalf("outcome %s, err %v", r.Outcome, r.Err)
	}
	if !strings.Contains(r.Logs, "llmobs disabled") {
		t.Errorf("failed run should keep server output, got %q", r.Logs)
	}
}

func TestChatCompletion_WrongSpanKind(t *testing.T) {
	d, client := newDouble(t)
	d.kind = "workflow"
	s := startSession(t, fake.NewContainerRuntime(), client, harness.Python)

	r := (scenario.ChatCompletion{}).Run(t.Context(), s, harness.Python)
	if r.Outcome != scenario.OutcomeFailed {
		t.Fatalf("outcome %s, want failed", r.Outcome)
	}
	if r.Err == nil || !strings.Contains(r.Err.Error(), "no llm span") {
		t.Errorf("err = %v", r.Err)
	}
}

func TestChatCompletion_ServerBuildFails(t *testing.T) {
	_, client := newDouble(t)
	rt := fake.NewContainerRuntime()
	rt.ImageBuildErr = func(_ context.Context, cfg harness.BuildConfig) error {
		return errors.New("Dockerfile.python: no such file")
	}
	s := startSession(t, rt, client, harness.Python)

	r := (scenario.ChatCompletion{}).Run(t.Context(), s, harness.Python)
	if r.Outcome != scenario.OutcomeFailed || r.Err == nil {
		t.Fatalf("outcome %s, err %v", r.Outcome, r.Err)
	}
	if !strings.Contains(r.Err.Error(), "build python server image") {
		t.Errorf("err = %v", r.Err)
	}
}
