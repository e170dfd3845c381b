package harness

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
)

// defaultActionTimeout covers actions that wait on an upstream LLM call.
const defaultActionTimeout = 60 * time.Second

// ServerInfo is what an instrumented server reports from its info endpoint.
type ServerInfo struct {
	Language     Language `json:"-"`
	Version      string   `json:"version"`
	Capabilities []string `json:"capabilities,omitempty"`
	// Raw is the full response body.
	Raw []byte `json:"-"`
}

// ChatCompletionRequest asks the server to issue one chat completion through
// its instrumented LLM client.
type ChatCompletionRequest struct {
	Prompt string `json:"prompt"`
}

// InstrumentationClient drives an instrumented server.
type InstrumentationClient struct {
	lang       Language
	endpoints  Endpoints
	baseURL    *url.URL
	httpClient *http.Client
}

// NewInstrumentationClient creates a client for the lang server at baseURL.
func NewInstrumentationClient(baseURL string, lang Language, httpClient *http.Client) (*InstrumentationClient, error) {
	endpoints, err := EndpointsFor(lang)
	if err != nil {
		return nil, err
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse server URL: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultActionTimeout}
	}
	return &InstrumentationClient{
		lang:       lang,
		endpoints:  endpoints,
		baseURL:    u,
		httpClient: httpClient,
	}, nil
}

// Language returns the server's language.
func (c *InstrumentationClient) Language() Language {
	return c.lang
}

// BaseURL returns the server's base URL.
func (c *InstrumentationClient) BaseURL() string {
	return c.baseURL.String()
}

// Info fetches the server's metadata once.
func (c *InstrumentationClient) Info(ctx context.Context) (ServerInfo, error) {
	var raw json.RawMessage
	if err := c.Do(ctx, http.MethodGet, c.endpoints.Info, nil, &raw); err != nil {
		return ServerInfo{}, fmt.Errorf("server info: %w", err)
	}
	var info ServerInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return ServerInfo{}, fmt.Errorf("server info: decode: %w", err)
	}
	if info.Version == "" {
		return ServerInfo{}, fmt.Errorf("server info: response has no version: %s", raw)
	}
	info.Language = c.lang
	info.Raw = raw
	return info, nil
}

// WaitToStart polls the info endpoint until the server answers.
func (c *InstrumentationClient) WaitToStart(ctx context.Context, policy Policy) (ServerInfo, error) {
	var info ServerInfo
	attempts, err := policy.Do(ctx, func(ctx context.Context) error {
		var err error
		info, err = c.Info(ctx)
		return err
	})
	if err != nil {
		return ServerInfo{}, &StartupTimeoutError{Component: ComponentServer, Attempts: attempts, Running: true, Err: err}
	}
	return info, nil
}

// ChatCompletion triggers an instrumented chat completion on the server.
func (c *InstrumentationClient) ChatCompletion(ctx context.Context, req ChatCompletionRequest) error {
	if err := c.Do(ctx, http.MethodPost, c.endpoints.ChatCompletion, req, nil); err != nil {
		return fmt.Errorf("chat completion: %w", err)
	}
	return nil
}

// Do sends body as JSON to path and decodes the JSON response into out.
// A nil body sends no payload and a nil out discards the response.
func (c *InstrumentationClient) Do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.JoinPath(path).String(), rd)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return fmt.Errorf("%s %s: unexpected status %d: %s", method, path, resp.StatusCode, msg)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}
