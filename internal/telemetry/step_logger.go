package telemetry

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// StepLogger is a span processor that logs every finished step. Root spans
// are logged at info, child steps at debug, failures at warn.
type StepLogger struct {
	log *slog.Logger
}

var _ sdktrace.SpanProcessor = (*StepLogger)(nil)

// NewStepLogger returns a StepLogger writing to log, or to slog.Default when
// log is nil.
func NewStepLogger(log *slog.Logger) *StepLogger {
	if log == nil {
		log = slog.Default()
	}
	return &StepLogger{log: log}
}

func (p *StepLogger) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

func (p *StepLogger) OnEnd(span sdktrace.ReadOnlySpan) {
	dur := span.EndTime().Sub(span.StartTime()).Round(time.Millisecond)
	attrs := []any{"step", span.Name(), "duration", dur}
	if outcome := attributeValue(span, OutcomeKey); outcome != "" {
		attrs = append(attrs, "outcome", outcome)
	}

	if span.Status().Code == codes.Error {
		p.log.Warn("Step failed.", append(attrs, "err", firstLine(span.Status().Description))...)
		return
	}
	if span.Parent().IsValid() {
		p.log.Debug("Step done.", attrs...)
		return
	}
	p.log.Info("Operation done.", attrs...)
}

func (p *StepLogger) Shutdown(context.Context) error   { return nil }
func (p *StepLogger) ForceFlush(context.Context) error { return nil }

// NewProvider returns a tracer provider that logs steps through log and
// hands spans to any extra processors.
func NewProvider(log *slog.Logger, extra ...sdktrace.SpanProcessor) *sdktrace.TracerProvider {
	opts := []sdktrace.TracerProviderOption{sdktrace.WithSpanProcessor(NewStepLogger(log))}
	for _, p := range extra {
		opts = append(opts, sdktrace.WithSpanProcessor(p))
	}
	return sdktrace.NewTracerProvider(opts...)
}

// Tracer is a convenience for provider.Tracer with the harness name.
func Tracer(provider trace.TracerProvider) trace.Tracer {
	return provider.Tracer("llmobs-harness")
}

func attributeValue(span sdktrace.ReadOnlySpan, key string) string {
	for _, attr := range span.Attributes() {
		if string(attr.Key) == key {
			return attr.Value.AsString()
		}
	}
	return ""
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
