// Package telemetry reports workflow runs to OpenTelemetry and the clue log.
package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"goa.design/clue/log"

	"github.com/wilhg/agentsim/pkg/workflow"
)

const instrumentation = "github.com/wilhg/agentsim/workflow"

// Tracer implements workflow.Tracer with one span per run. Step progress is
// recorded as span events.
type Tracer struct {
	tracer trace.Tracer
	spans  sync.Map // trace id -> trace.Span
}

// NewTracer uses the global TracerProvider unless tp is given.
func NewTracer(tp trace.TracerProvider) *Tracer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Tracer{tracer: tp.Tracer(instrumentation)}
}

func (t *Tracer) StartTrace(ctx context.Context, sc workflow.Scope) (context.Context, string) {
	ctx, span := t.tracer.Start(ctx, "workflow.run", trace.WithAttributes(
		attribute.String("actor.id", sc.Actor.ID),
		attribute.String("actor.type", sc.Actor.Type),
		attribute.String("trigger.type", string(sc.Trigger.Kind)),
		attribute.String("trigger.name", sc.Trigger.Name),
		attribute.Bool("trigger.is_response", sc.Trigger.IsResponse),
	))
	id := uuid.NewString()
	if span.SpanContext().HasSpanID() {
		id = span.SpanContext().TraceID().String() + "-" + span.SpanContext().SpanID().String()
	}
	t.spans.Store(id, span)
	ctx = log.With(ctx, log.KV{K: "trace_id", V: id})
	log.Debug(ctx, log.KV{K: "msg", V: "workflow started"}, log.KV{K: "trigger", V: sc.Trigger.Name})
	return ctx, id
}

func (t *Tracer) span(id string) trace.Span {
	if v, ok := t.spans.Load(id); ok {
		return v.(trace.Span)
	}
	return trace.SpanFromContext(context.Background())
}

func (t *Tracer) TraceExecution(ctx context.Context, traceID string, step workflow.Step, payload map[string]any) {
	t.span(traceID).AddEvent("step."+string(step), trace.WithAttributes(payloadAttrs(payload)...))
	log.Debug(ctx, log.KV{K: "msg", V: "step done"}, log.KV{K: "step", V: string(step)}, log.KV{K: "payload", V: payload})
}

func (t *Tracer) TraceError(ctx context.Context, traceID string, step workflow.Step, err error) {
	t.span(traceID).RecordError(err, trace.WithAttributes(attribute.String("step", string(step))))
}

func (t *Tracer) EndTrace(ctx context.Context, traceID string, success bool, d time.Duration, actionCount int) {
	v, ok := t.spans.LoadAndDelete(traceID)
	if !ok {
		return
	}
	span := v.(trace.Span)
	span.SetAttributes(
		attribute.Bool("workflow.success", success),
		attribute.Int64("workflow.duration_ms", d.Milliseconds()),
		attribute.Int("workflow.actions", actionCount),
	)
	if !success {
		span.SetStatus(codes.Error, "workflow failed")
	}
	span.End()
}

func payloadAttrs(p map[string]any) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(p))
	for k, v := range p {
		switch x := v.(type) {
		case string:
			attrs = append(attrs, attribute.String(k, x))
		case bool:
			attrs = append(attrs, attribute.Bool(k, x))
		case int:
			attrs = append(attrs, attribute.Int(k, x))
		case float64:
			attrs = append(attrs, attribute.Float64(k, x))
		default:
			attrs = append(attrs, attribute.String(k, fmt.Sprint(x)))
		}
	}
	return attrs
}

// Metrics implements workflow.Metrics with OpenTelemetry counters.
type Metrics struct {
	runs       metric.Int64Counter
	actions    metric.Int64Counter
	iterations metric.Int64Counter
	heat       metric.Int64Counter
}

// NewMetrics uses the global MeterProvider unless mp is given.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentation)
	var (
		m   Metrics
		err error
	)
	if m.runs, err = meter.Int64Counter("agentsim.workflow.runs", metric.WithDescription("Workflow runs")); err != nil {
		return nil, err
	}
	if m.actions, err = meter.Int64Counter("agentsim.workflow.actions", metric.WithDescription("Actions committed by workflow runs")); err != nil {
		return nil, err
	}
	if m.iterations, err = meter.Int64Counter("agentsim.workflow.iterations", metric.WithDescription("Observe to act cycles")); err != nil {
		return nil, err
	}
	if m.heat, err = meter.Int64Counter("agentsim.workflow.heat", metric.WithDescription("Heat cost reported by workflow runs")); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Metrics) RecordRun(ctx context.Context, actorType string, actions, iterations, heat int) {
	attrs := metric.WithAttributes(attribute.String("actor.type", actorType))
	m.runs.Add(ctx, 1, attrs)
	m.actions.Add(ctx, int64(actions), attrs)
	m.iterations.Add(ctx, int64(iterations), attrs)
	m.heat.Add(ctx, int64(heat), attrs)
}
