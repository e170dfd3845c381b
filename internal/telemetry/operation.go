// Package telemetry wraps harness lifecycle work in OpenTelemetry spans so
// that slow or failing setup steps are visible per session and per test.
package telemetry

import (
	"context"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	PlanEventName = "harness.plan"
	PlanStepsKey  = "harness.plan.steps"
	OutcomeKey    = "harness.outcome"
)

// Operation is a root span with one child span per step.
type Operation struct {
	ctx    context.Context
	tracer trace.Tracer
	span   trace.Span
}

// Start opens the root span of an operation. steps lists the step ids the
// operation expects to run and is recorded as a plan event. A nil tracer
// records nothing.
func Start(ctx context.Context, tracer trace.Tracer, name string, steps []string, attrs ...attribute.KeyValue) (*Operation, error) {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("start operation: name is required")
	}
	if err := validateSteps(steps); err != nil {
		return nil, fmt.Errorf("start operation %s: %w", name, err)
	}

	planJSON, err := json.Marshal(steps)
	if err != nil {
		return nil, fmt.Errorf("start operation %s: marshal plan: %w", name, err)
	}

	spanCtx, span := tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	span.AddEvent(PlanEventName, trace.WithAttributes(attribute.String(PlanStepsKey, string(planJSON))))
	return &Operation{ctx: spanCtx, tracer: tracer, span: span}, nil
}

// Context returns the context carrying the root span.
func (o *Operation) Context() context.Context {
	if o == nil {
		return context.Background()
	}
	return o.ctx
}

// RunStep runs fn inside a child span named id and records its error.
func (o *Operation) RunStep(ctx context.Context, id string, fn func(context.Context) error) error {
	if fn == nil {
		return nil
	}
	stepID := strings.TrimSpace(id)
	if stepID == "" {
		return fmt.Errorf("run step: step id is required")
	}
	if o == nil || o.tracer == nil {
		return fn(ctx)
	}
	if ctx == nil {
		ctx = o.ctx
	}

	stepCtx, span := o.tracer.Start(ctx, stepID)
	defer span.End()

	if err := fn(stepCtx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, strings.TrimSpace(err.Error()))
		return err
	}
	return nil
}

// SetOutcome annotates the root span, e.g. with "skipped".
func (o *Operation) SetOutcome(outcome string) {
	if o == nil || o.span == nil {
		return
	}
	o.span.SetAttributes(attribute.String(OutcomeKey, outcome))
}

// End closes the root span, marking it failed when err is non-nil.
func (o *Operation) End(err error) {
	if o == nil || o.span == nil {
		return
	}
	if err != nil {
		o.span.RecordError(err)
		o.span.SetStatus(codes.Error, strings.TrimSpace(err.Error()))
	}
	o.span.End()
}

func validateSteps(steps []string) error {
	seen := make(map[string]struct{}, len(steps))
	for i, step := range steps {
		id := strings.TrimSpace(step)
		if id == "" {
			return fmt.Errorf("step %d has empty id", i)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("duplicate step id %q", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}
