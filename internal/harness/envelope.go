package harness

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/goccy/go-json"
)

// LLMObsPath is the URL suffix of LLM-observability span submissions
// proxied through the agent's EVP endpoint.
const LLMObsPath = "/evp_proxy/v2/api/v2/llmobs"

// Envelope is one request captured by the test agent.
type Envelope struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
	// Body is base64 encoded.
	Body string `json:"body"`
}

// IsLLMObs reports whether the envelope targets the LLM-observability intake.
func (e Envelope) IsLLMObs() bool {
	return strings.HasSuffix(e.URL, LLMObsPath)
}

// Decode returns the envelope body as a JSON payload. Gzip compressed
// bodies are inflated first.
func (e Envelope) Decode() (Payload, error) {
	raw, err := base64.StdEncoding.DecodeString(e.Body)
	if err != nil {
		return nil, fmt.Errorf("decode envelope body from %s: %w", e.URL, err)
	}
	if isGzip(raw) {
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("open gzip body from %s: %w", e.URL, err)
		}
		defer zr.Close()
		if raw, err = io.ReadAll(zr); err != nil {
			return nil, fmt.Errorf("inflate body from %s: %w", e.URL, err)
		}
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("decode envelope body from %s: body is not JSON", e.URL)
	}
	return Payload(raw), nil
}

func isGzip(b []byte) bool {
	return len(b) > 2 && b[0] == 0x1f && b[1] == 0x8b
}

// Payload is a decoded LLM-observability request body. The original JSON is
// kept verbatim.
type Payload []byte

// MarshalJSON returns the payload unchanged.
func (p Payload) MarshalJSON() ([]byte, error) {
	if len(p) == 0 {
		return []byte("null"), nil
	}
	return p, nil
}

// UnmarshalJSON stores a copy of data.
func (p *Payload) UnmarshalJSON(data []byte) error {
	*p = append((*p)[:0], data...)
	return nil
}

// Decode unmarshals the payload into v.
func (p Payload) Decode(v any) error {
	if err := json.Unmarshal(p, v); err != nil {
		return fmt.Errorf("decode llmobs payload: %w", err)
	}
	return nil
}

// Value returns the payload as generic JSON values.
func (p Payload) Value() (any, error) {
	var v any
	if err := p.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// Events returns the span events carried by the payload. Tracers send
// either a single event object or an array of them.
func (p Payload) Events() ([]SpanEvent, error) {
	trimmed := bytes.TrimSpace(p)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var events []SpanEvent
		if err := p.Decode(&events); err != nil {
			return nil, err
		}
		return events, nil
	}
	var event SpanEvent
	if err := p.Decode(&event); err != nil {
		return nil, err
	}
	return []SpanEvent{event}, nil
}

// Spans flattens the spans of every event in the payload.
func (p Payload) Spans() ([]Span, error) {
	events, err := p.Events()
	if err != nil {
		return nil, err
	}
	var spans []Span
	for _, ev := range events {
		spans = append(spans, ev.Spans...)
	}
	return spans, nil
}

// SpanEvent is the envelope LLM-observability tracers submit.
type SpanEvent struct {
	Stage     string `json:"_dd.stage"`
	EventType string `json:"event_type"`
	Spans     []Span `json:"spans"`
}

// Span is one LLM-observability span.
type Span struct {
	TraceID   string             `json:"trace_id"`
	SpanID    string             `json:"span_id"`
	ParentID  string             `json:"parent_id"`
	Name      string             `json:"name"`
	Status    string             `json:"status"`
	StartNS   int64              `json:"start_ns"`
	Duration  float64            `json:"duration"`
	Tags      []string           `json:"tags"`
	Meta      SpanMeta           `json:"meta"`
	Metrics   map[string]float64 `json:"metrics"`
	SessionID string             `json:"session_id,omitempty"`
}

// Kind returns the meta "span.kind" value, e.g. "llm" or "workflow".
func (s Span) Kind() string {
	return s.Meta.SpanKind
}

// Tag returns the value of a "key:value" tag.
func (s Span) Tag(key string) (string, bool) {
	prefix := key + ":"
	for _, t := range s.Tags {
		if v, ok := strings.CutPrefix(t, prefix); ok {
			return v, true
		}
	}
	return "", false
}

type SpanMeta struct {
	SpanKind      string         `json:"span.kind"`
	ModelName     string         `json:"model_name,omitempty"`
	ModelProvider string         `json:"model_provider,omitempty"`
	Input         SpanIO         `json:"input"`
	Output        SpanIO         `json:"output"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	ErrorMessage  string         `json:"error.message,omitempty"`
	ErrorType     string         `json:"error.type,omitempty"`
}

type SpanIO struct {
	Value    string    `json:"value,omitempty"`
	Messages []Message `json:"messages,omitempty"`
}

type Message struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content"`
}
