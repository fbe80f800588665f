package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const toolInstrumentationName = "mcpbridge/tools"

// Tool call outcomes recorded on spans and metrics
const (
	ToolOutcomeOK      = "ok"
	ToolOutcomeFailure = "failure"
	ToolOutcomeAborted = "aborted"
)

// ToolMetrics records one span and one counter increment per tool call.
// Metric instruments that fail to register are skipped.
type ToolMetrics struct {
	tracer   trace.Tracer
	calls    metric.Int64Counter
	duration metric.Float64Histogram
}

// NewToolMetrics creates tool instrumentation on the global providers
func NewToolMetrics() *ToolMetrics {
	meter := Meter(toolInstrumentationName)

	calls, err := meter.Int64Counter("tool.calls",
		metric.WithDescription("Number of tool calls by outcome"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		calls = nil
	}
	duration, err := meter.Float64Histogram("tool.duration",
		metric.WithDescription("Tool call duration"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		duration = nil
	}

	return &ToolMetrics{
		tracer:   Tracer(toolInstrumentationName),
		calls:    calls,
		duration: duration,
	}
}

// Start opens a span for one tool call. The returned function ends it with
// the call's outcome and an optional error message.
func (m *ToolMetrics) Start(ctx context.Context, tool, callID string) (context.Context, func(outcome string, err error)) {
	ctx, span := m.tracer.Start(ctx, "tool.call",
		trace.WithAttributes(
			attribute.String("tool.name", tool),
			attribute.String("tool.call_id", callID),
		),
	)
	start := time.Now()

	return ctx, func(outcome string, err error) {
		elapsed := time.Since(start)
		attrs := metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("outcome", outcome),
		)
		if m.calls != nil {
			m.calls.Add(ctx, 1, attrs)
		}
		if m.duration != nil {
			m.duration.Record(ctx, float64(elapsed.Milliseconds()), attrs)
		}

		span.SetAttributes(attribute.String("tool.outcome", outcome))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}
