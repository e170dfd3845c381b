package harness_test

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/goccy/go-json"

	"llmobs-harness/internal/harness"
)

const testSpanEvent = `{"_dd.stage":"raw","event_type":"span","spans":[{"trace_id":"1","span_id":"2","parent_id":"undefined","name":"openai.createChatCompletion","start_ns":1,"duration":5,"meta":{"span.kind":"llm","model_provider":"openai","input":{"messages":[{"role":"user","content":"%s"}]}}}]}`

// agentDouble mimics the test agent's session API and, through /sdk/info and
// /openai/chat_completion, an instrumented server reporting to it.
type agentDouble struct {
	mu           sync.Mutex
	requests     []harness.Envelope
	clears       int
	infoFailures int
	version      string
}

func newAgentDouble(t *testing.T) (*agentDouble, *httptest.Server) {
	t.Helper()
	d := &agentDouble{version: "2.9.0"}
	srv := httptest.NewServer(d.handler())
	t.Cleanup(srv.Close)
	return d, srv
}

func (d *agentDouble) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /info", func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		fail := d.infoFailures > 0
		if fail {
			d.infoFailures--
		}
		d.mu.Unlock()
		if fail {
			http.Error(w, "starting", http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"version": "test", "endpoints": []string{"/v0.4/traces", "/evp_proxy/v2/"}})
	})
	mux.HandleFunc("GET /test/session/requests", func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		reqs := append([]harness.Envelope{}, d.requests...)
		d.mu.Unlock()
		_ = json.NewEncoder(w).Encode(reqs)
	})
	mux.HandleFunc("GET /test/session/clear", func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		d.requests = nil
		d.clears++
		d.mu.Unlock()
	})
	mux.HandleFunc("GET /sdk/info", func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		v := d.version
		d.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]string{"version": v})
	})
	mux.HandleFunc("POST /openai/chat_completion", func(w http.ResponseWriter, r *http.Request) {
		var req harness.ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		d.capture(harness.LLMObsPath, spanEvent(req.Prompt))
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	return mux
}

func spanEvent(prompt string) string {
	b, _ := json.Marshal(prompt)
	s := string(b)
	return fmt.Sprintf(testSpanEvent, s[1:len(s)-1])
}

func (d *agentDouble) capture(path, body string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requests = append(d.requests, harness.Envelope{
		Method: http.MethodPost,
		URL:    "http://agent" + path,
		Body:   base64.StdEncoding.EncodeToString([]byte(body)),
	})
}

func (d *agentDouble) clearCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.clears
}

// redirectClient sends every request to target regardless of its host, so
// that containers "published" on allocated ports resolve to the double.
func redirectClient(target string) *http.Client {
	u, _ := url.Parse(target)
	return &http.Client{Transport: redirectTransport{target: u}}
}

type redirectTransport struct {
	target *url.URL
}

func (rt redirectTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.URL.Scheme = rt.target.Scheme
	r.URL.Host = rt.target.Host
	r.Host = rt.target.Host
	return http.DefaultTransport.RoundTrip(r)
}
