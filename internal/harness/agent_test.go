package harness_test

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"llmobs-harness/internal/adapter/fake"
	"llmobs-harness/internal/harness"
)

func newAgentClient(t *testing.T, baseURL string) *harness.AgentClient {
	t.Helper()
	a, err := harness.NewAgentClient(baseURL, harness.WithPollPolicy(harness.Policy{
		Interval: harness.DefaultPollInterval,
		NewTimer: fake.NewTimer().Factory(),
	}))
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestAgentClient_WaitToStart(t *testing.T) {
	d, srv := newAgentDouble(t)
	d.infoFailures = 3
	a := newAgentClient(t, srv.URL)

	policy := harness.StartPolicy()
	policy.NewTimer = fake.NewTimer().Factory()
	if err := a.WaitToStart(t.Context(), policy); err != nil {
		t.Fatalf("WaitToStart: %v", err)
	}
}

func TestAgentClient_WaitToStartTimeout(t *testing.T) {
	d, srv := newAgentDouble(t)
	d.infoFailures = 100
	a := newAgentClient(t, srv.URL)

	policy := harness.StartPolicy()
	policy.NewTimer = fake.NewTimer().Factory()
	err := a.WaitToStart(t.Context(), policy)

	var st *harness.StartupTimeoutError
	if !errors.As(err, &st) {
		t.Fatalf("expected StartupTimeoutError, got %v", err)
	}
	if st.Attempts != harness.DefaultStartAttempts {
		t.Errorf("attempts = %d, want %d", st.Attempts, harness.DefaultStartAttempts)
	}
	if st.Component != harness.ComponentAgent {
		t.Errorf("component = %q", st.Component)
	}
}

func TestAgentClient_LLMObsRequestsFilters(t *testing.T) {
	d, srv := newAgentDouble(t)
	d.capture("/v0.4/traces", `[]`)
	d.capture(harness.LLMObsPath, spanEvent("first"))
	d.capture("/telemetry/proxy/api/v2/apmtelemetry", `{}`)
	d.capture(harness.LLMObsPath, spanEvent("second"))
	a := newAgentClient(t, srv.URL)

	all, err := a.Requests(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 4 {
		t.Fatalf("Requests() returned %d envelopes, want 4", len(all))
	}

	payloads, err := a.LLMObsRequests(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if len(payloads) != 2 {
		t.Fatalf("LLMObsRequests() returned %d payloads, want 2", len(payloads))
	}
	for i, want := range []string{"first", "second"} {
		spans, err := payloads[i].Spans()
		if err != nil {
			t.Fatal(err)
		}
		if got := spans[0].Meta.Input.Messages[0].Content; got != want {
			t.Errorf("payload %d prompt = %q, want %q", i, got, want)
		}
	}
}

func TestAgentClient_WaitForLLMObsRequests(t *testing.T) {
	d, srv := newAgentDouble(t)
	a, err := harness.NewAgentClient(srv.URL, harness.WithPollPolicy(harness.Policy{Interval: 5 * time.Millisecond}))
	if err != nil {
		t.Fatal(err)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		d.capture(harness.LLMObsPath, spanEvent("a"))
		d.capture(harness.LLMObsPath, spanEvent("b"))
	}()

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	got, err := a.WaitForLLMObsRequests(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) < 1 {
		t.Fatalf("got %d payloads, want at least 1", len(got))
	}
}

func TestAgentClient_WaitForLLMObsRequestsDeadline(t *testing.T) {
	_, srv := newAgentDouble(t)
	a, err := harness.NewAgentClient(srv.URL, harness.WithPollPolicy(harness.Policy{Interval: 5 * time.Millisecond}))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()
	got, err := a.WaitForLLMObsRequests(ctx, 1)
	if err == nil {
		t.Fatal("expected an error once the deadline passed")
	}
	if len(got) != 0 {
		t.Errorf("got %d payloads, want 0", len(got))
	}
}

func TestAgentClient_MalformedPayloadStopsPolling(t *testing.T) {
	d, srv := newAgentDouble(t)
	d.mu.Lock()
	d.requests = append(d.requests, harness.Envelope{URL: harness.LLMObsPath, Body: base64.StdEncoding.EncodeToString([]byte("not json"))})
	d.mu.Unlock()
	a := newAgentClient(t, srv.URL)

	_, err := a.WaitForLLMObsRequests(t.Context(), 1)
	if !errors.Is(err, harness.ErrMalformedPayload) {
		t.Fatalf("expected ErrMalformedPayload, got %v", err)
	}
}

func TestAgentClient_Clear(t *testing.T) {
	d, srv := newAgentDouble(t)
	d.capture(harness.LLMObsPath, spanEvent("x"))
	a := newAgentClient(t, srv.URL)

	if err := a.Clear(t.Context()); err != nil {
		t.Fatal(err)
	}
	reqs, err := a.Requests(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if len(reqs) != 0 {
		t.Errorf("expected empty store after Clear, got %d", len(reqs))
	}
}

func TestAgentClient_Info(t *testing.T) {
	_, srv := newAgentDouble(t)
	a := newAgentClient(t, srv.URL)

	info, err := a.Info(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if info.Version != "test" || len(info.Endpoints) != 2 {
		t.Errorf("Info() = %+v", info)
	}
}
