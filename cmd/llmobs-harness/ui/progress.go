package ui

import (
	"context"
	"sync"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"llmobs-harness/internal/harness"
)

var stepLabels = map[string]string{
	harness.StepRuntimeReady:  "waiting for docker",
	harness.StepNetworkCreate: "creating network",
	harness.StepAgentStart:    "starting agent container",
	harness.StepAgentWait:     "waiting for agent",
	harness.StepServerBuild:   "building server image",
	harness.StepServerStart:   "starting server container",
	harness.StepServerWait:    "waiting for server",
}

// Progress is a span processor remembering the lifecycle step in flight, so
// the spinner can say what a session or server is waiting on.
type Progress struct {
	mu      sync.Mutex
	id      trace.SpanID
	step    string
	started time.Time
}

var _ sdktrace.SpanProcessor = (*Progress)(nil)

func NewProgress() *Progress { return &Progress{} }

func (p *Progress) OnStart(_ context.Context, span sdktrace.ReadWriteSpan) {
	// Root spans name whole operations, which the spinner message covers.
	if !span.Parent().IsValid() {
		return
	}
	p.mu.Lock()
	p.id = span.SpanContext().SpanID()
	p.step = span.Name()
	p.started = span.StartTime()
	p.mu.Unlock()
}

func (p *Progress) OnEnd(span sdktrace.ReadOnlySpan) {
	p.mu.Lock()
	if p.id == span.SpanContext().SpanID() {
		p.id, p.step = trace.SpanID{}, ""
	}
	p.mu.Unlock()
}

func (p *Progress) Shutdown(context.Context) error   { return nil }
func (p *Progress) ForceFlush(context.Context) error { return nil }

// Status describes the running step, e.g. "waiting for agent 4s". It is
// empty between steps and on a nil Progress.
func (p *Progress) Status() string {
	if p == nil {
		return ""
	}
	p.mu.Lock()
	step, started := p.step, p.started
	p.mu.Unlock()
	if step == "" {
		return ""
	}

	label, ok := stepLabels[step]
	if !ok {
		label = step
	}
	if d := time.Since(started); d >= time.Second {
		label += " " + d.Truncate(time.Second).String()
	}
	return label
}
