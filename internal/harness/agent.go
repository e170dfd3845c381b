package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
)

const (
	agentInfoPath     = "/info"
	agentRequestsPath = "/test/session/requests"
	agentClearPath    = "/test/session/clear"

	maxErrorBodySize   = 4 << 10
	defaultHTTPTimeout = 5 * time.Second
)

// AgentInfo is the subset of the agent's /info document the harness uses.
type AgentInfo struct {
	Version   string   `json:"version"`
	Endpoints []string `json:"endpoints"`
}

// AgentClient talks to the test agent's inspection API.
type AgentClient struct {
	baseURL    *url.URL
	httpClient *http.Client
	poll       Policy
}

// AgentOption configures an AgentClient.
type AgentOption func(*AgentClient)

// WithAgentHTTPClient sets the HTTP client used for agent requests. A nil
// client keeps the default.
func WithAgentHTTPClient(c *http.Client) AgentOption {
	return func(a *AgentClient) {
		if c != nil {
			a.httpClient = c
		}
	}
}

// WithPollPolicy overrides the policy used by WaitForLLMObsRequests.
func WithPollPolicy(p Policy) AgentOption {
	return func(a *AgentClient) { a.poll = p }
}

// NewAgentClient creates a client for the agent at baseURL, e.g.
// "http://localhost:8126".
func NewAgentClient(baseURL string, opts ...AgentOption) (*AgentClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse agent URL: %w", err)
	}
	a := &AgentClient{
		baseURL:    u,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		poll:       PollPolicy(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// BaseURL returns the agent's base URL.
func (a *AgentClient) BaseURL() string {
	return a.baseURL.String()
}

// Info fetches the agent's /info document.
func (a *AgentClient) Info(ctx context.Context) (AgentInfo, error) {
	var info AgentInfo
	if err := a.getJSON(ctx, agentInfoPath, &info); err != nil {
		return AgentInfo{}, fmt.Errorf("agent info: %w", err)
	}
	return info, nil
}

// WaitToStart polls the agent until it answers or the policy gives up.
func (a *AgentClient) WaitToStart(ctx context.Context, policy Policy) error {
	attempts, err := policy.Do(ctx, func(ctx context.Context) error {
		_, err := a.Info(ctx)
		return err
	})
	if err != nil {
		return &StartupTimeoutError{Component: ComponentAgent, Attempts: attempts, Running: true, Err: err}
	}
	return nil
}

// Requests returns every request the agent captured, in arrival order.
func (a *AgentClient) Requests(ctx context.Context) ([]Envelope, error) {
	var reqs []Envelope
	if err := a.getJSON(ctx, agentRequestsPath, &reqs); err != nil {
		return nil, fmt.Errorf("agent requests: %w", err)
	}
	return reqs, nil
}

// LLMObsRequests returns the decoded bodies of captured LLM-observability
// requests.
func (a *AgentClient) LLMObsRequests(ctx context.Context) ([]Payload, error) {
	reqs, err := a.Requests(ctx)
	if err != nil {
		return nil, err
	}
	var out []Payload
	for _, r := range reqs {
		if !r.IsLLMObs() {
			continue
		}
		p, err := r.Decode()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// WaitForLLMObsRequests polls until at least n LLM-observability payloads
// have been captured and returns all of them. It has no timeout of its own;
// bound it with ctx.
func (a *AgentClient) WaitForLLMObsRequests(ctx context.Context, n int) ([]Payload, error) {
	var got []Payload
	_, err := a.poll.Do(ctx, func(ctx context.Context) error {
		payloads, err := a.LLMObsRequests(ctx)
		if errors.Is(err, ErrMalformedPayload) {
			return Permanent(err)
		}
		if err != nil {
			return err
		}
		got = payloads
		if len(got) < n {
			return fmt.Errorf("received %d of %d llmobs requests", len(got), n)
		}
		return nil
	})
	if err != nil {
		return got, fmt.Errorf("wait for %d llmobs requests: %w", n, err)
	}
	slog.Debug("Received llmobs requests.", "component", "agent", "want", n, "got", len(got))
	return got, nil
}

// Clear discards everything the agent captured.
func (a *AgentClient) Clear(ctx context.Context) error {
	resp, err := a.do(ctx, http.MethodGet, agentClearPath)
	if err != nil {
		return fmt.Errorf("agent clear: %w", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return nil
}

func (a *AgentClient) getJSON(ctx context.Context, path string, out any) error {
	resp, err := a.do(ctx, http.MethodGet, path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (a *AgentClient) do(ctx context.Context, method, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL.JoinPath(path).String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return nil, fmt.Errorf("%s %s: unexpected status %d: %s", method, path, resp.StatusCode, body)
	}
	return resp, nil
}
