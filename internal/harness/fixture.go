package harness

import (
	"context"
	"testing"
)

// Agent returns the session's agent client with an empty request store. The
// store is cleared again when t finishes.
func (s *Session) Agent(t testing.TB) *AgentClient {
	t.Helper()
	if err := s.agent.Clear(t.Context()); err != nil {
		t.Fatalf("clear test agent: %v", err)
	}
	t.Cleanup(func() {
		if err := s.agent.Clear(context.Background()); err != nil {
			t.Errorf("clear test agent: %v", err)
		}
	})
	return s.agent
}

// Server starts a server for lang and returns its client. The agent's
// request store is cleared first, so payloads left by an earlier test never
// leak into this one. The test is skipped when rules exclude the server's
// version and fails when the server does not come up. The container is
// killed and its output logged when t finishes.
func (s *Session) Server(t testing.TB, lang Language, rules ...Rule) *InstrumentationClient {
	t.Helper()
	if err := s.agent.Clear(t.Context()); err != nil {
		t.Fatalf("clear test agent: %v", err)
	}
	srv, err := s.StartServer(t.Context(), lang)
	if err != nil {
		t.Fatalf("start %s server: %v", lang, err)
	}
	t.Cleanup(func() {
		out := srv.Close(context.Background())
		if logs := out.Combined(); logs != "" {
			t.Logf("%s server output:\n%s", lang, logs)
		}
	})
	if d := srv.Admit(rules); d.Skip {
		t.Skipf("test does not support %s %s: %s", lang, srv.Info.Version, d.Reason)
	}
	return srv.Client
}

// WaitLLMObs waits for n LLM-observability payloads and fails t on timeout.
func (s *Session) WaitLLMObs(t testing.TB, n int) []Payload {
	t.Helper()
	got, err := s.WaitForLLMObs(t.Context(), n)
	if err != nil {
		t.Fatalf("%v (received %d)", err, len(got))
	}
	return got
}

// ForEachLanguage runs fn as a subtest per language under test.
func (s *Session) ForEachLanguage(t *testing.T, fn func(t *testing.T, lang Language)) {
	t.Helper()
	for _, lang := range s.cfg.Languages {
		t.Run(string(lang), func(t *testing.T) {
			fn(t, lang)
		})
	}
}
