package llm

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/jaimegago/mcpbridge/internal/llm"

// Outcomes recorded on llm.requests
const (
	OutcomeAnswer    = "answer"
	OutcomeToolCalls = "tool_calls"
	OutcomeError     = "error"
	OutcomeCancelled = "cancelled"
)

// APIErrorDetails interface for errors that carry API error details
type APIErrorDetails interface {
	error
	APICode() int
	APIMessage() string
}

// InstrumentedAdapter counts model calls, tokens and latency for one
// provider/model. A call cancelled by its context is not an error.
type InstrumentedAdapter struct {
	adapter  LLMAdapter
	logger   *slog.Logger
	provider string
	model    string

	calls        atomic.Int64
	failures     atomic.Int64
	cancelled    atomic.Int64
	toolRounds   atomic.Int64
	toolCalls    atomic.Int64
	inputTokens  atomic.Int64
	outputTokens atomic.Int64

	// nil when the meter refused to create them
	requests  metric.Int64Counter
	tokens    metric.Int64Counter
	requested metric.Int64Counter
	latency   metric.Float64Histogram
}

// NewInstrumentedAdapter wraps an LLM adapter with instrumentation
func NewInstrumentedAdapter(adapter LLMAdapter, logger *slog.Logger, provider, model string) *InstrumentedAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	i := &InstrumentedAdapter{adapter: adapter, logger: logger, provider: provider, model: model}

	meter := otel.Meter(meterName)
	var err error
	if i.requests, err = meter.Int64Counter("llm.requests",
		metric.WithDescription("Model calls by outcome"),
		metric.WithUnit("{request}")); err != nil {
		logger.Warn("metric_unavailable", "metric", "llm.requests", "error", err)
	}
	if i.tokens, err = meter.Int64Counter("llm.tokens",
		metric.WithDescription("Tokens consumed, by direction"),
		metric.WithUnit("{token}")); err != nil {
		logger.Warn("metric_unavailable", "metric", "llm.tokens", "error", err)
	}
	if i.requested, err = meter.Int64Counter("llm.tool_calls.requested",
		metric.WithDescription("Tool calls requested by the model"),
		metric.WithUnit("{call}")); err != nil {
		logger.Warn("metric_unavailable", "metric", "llm.tool_calls.requested", "error", err)
	}
	if i.latency, err = meter.Float64Histogram("llm.request.duration",
		metric.WithDescription("Model call latency"),
		metric.WithUnit("s")); err != nil {
		logger.Warn("metric_unavailable", "metric", "llm.request.duration", "error", err)
	}
	return i
}

// Chat implements LLMAdapter with instrumentation
func (i *InstrumentedAdapter) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	start := time.Now()
	i.calls.Add(1)

	resp, err := i.adapter.Chat(ctx, req)
	elapsed := time.Since(start)

	outcome := i.outcome(ctx, resp, err)
	attrs := metric.WithAttributes(
		attribute.String("llm.provider", i.provider),
		attribute.String("llm.model", i.model),
		attribute.String("llm.outcome", outcome),
	)
	if i.requests != nil {
		i.requests.Add(ctx, 1, attrs)
	}
	if i.latency != nil {
		i.latency.Record(ctx, elapsed.Seconds(), attrs)
	}

	switch outcome {
	case OutcomeCancelled:
		i.cancelled.Add(1)
		i.logger.Debug("llm_cancelled", "provider", i.provider, "model", i.model, "duration_ms", elapsed.Milliseconds())
		return nil, err
	case OutcomeError:
		i.failures.Add(1)
		i.logError(err, elapsed)
		return nil, err
	}

	i.record(ctx, resp)
	i.logger.Debug("llm_response",
		"provider", i.provider,
		"model", i.model,
		"outcome", outcome,
		"tool_calls", len(resp.ToolCalls),
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
		"duration_ms", elapsed.Milliseconds(),
	)
	return resp, nil
}

func (i *InstrumentedAdapter) outcome(ctx context.Context, resp *ChatResponse, err error) string {
	switch {
	case err != nil && ctx.Err() != nil:
		return OutcomeCancelled
	case err != nil:
		return OutcomeError
	case resp != nil && resp.HasToolCalls():
		return OutcomeToolCalls
	default:
		return OutcomeAnswer
	}
}

func (i *InstrumentedAdapter) record(ctx context.Context, resp *ChatResponse) {
	if resp == nil {
		return
	}
	i.inputTokens.Add(int64(resp.Usage.InputTokens))
	i.outputTokens.Add(int64(resp.Usage.OutputTokens))
	if n := len(resp.ToolCalls); n > 0 {
		i.toolRounds.Add(1)
		i.toolCalls.Add(int64(n))
		if i.requested != nil {
			i.requested.Add(ctx, int64(n), metric.WithAttributes(attribute.String("llm.provider", i.provider)))
		}
	}
	if i.tokens != nil {
		base := []attribute.KeyValue{attribute.String("llm.provider", i.provider), attribute.String("llm.model", i.model)}
		i.tokens.Add(ctx, int64(resp.Usage.InputTokens), metric.WithAttributes(append(base, attribute.String("llm.direction", "input"))...))
		i.tokens.Add(ctx, int64(resp.Usage.OutputTokens), metric.WithAttributes(append(base, attribute.String("llm.direction", "output"))...))
	}
}

func (i *InstrumentedAdapter) logError(err error, elapsed time.Duration) {
	args := []any{
		"error", err,
		"provider", i.provider,
		"model", i.model,
		"duration_ms", elapsed.Milliseconds(),
	}
	var apiErr APIErrorDetails
	if errors.As(err, &apiErr) {
		args = append(args, "api_error_code", apiErr.APICode(), "api_error_msg", apiErr.APIMessage())
	}
	i.logger.Error("llm_error", args...)
}

// Stats holds instrumentation statistics
type Stats struct {
	Calls        int64
	Errors       int64
	Cancelled    int64
	ToolRounds   int64 // responses that asked for tools
	ToolCalls    int64
	InputTokens  int64
	OutputTokens int64
	TotalTokens  int64
}

// GetStats returns the current instrumentation statistics
func (i *InstrumentedAdapter) GetStats() Stats {
	input := i.inputTokens.Load()
	output := i.outputTokens.Load()
	return Stats{
		Calls:        i.calls.Load(),
		Errors:       i.failures.Load(),
		Cancelled:    i.cancelled.Load(),
		ToolRounds:   i.toolRounds.Load(),
		ToolCalls:    i.toolCalls.Load(),
		InputTokens:  input,
		OutputTokens: output,
		TotalTokens:  input + output,
	}
}

// Close releases the wrapped adapter's resources if it holds any
func (i *InstrumentedAdapter) Close() error {
	if c, ok := i.adapter.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
