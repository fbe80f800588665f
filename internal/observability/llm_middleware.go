package observability

import (
	"context"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/jaimegago/mcpbridge/internal/llm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const llmInstrumentationName = "mcpbridge/llm"

// LLMMiddleware wraps an LLM adapter in one "llm.chat" span per call.
// Each requested tool call is recorded as a span event. Metrics are kept
// by llm.InstrumentedAdapter.
type LLMMiddleware struct {
	adapter  llm.LLMAdapter
	provider string
	model    string
	tracer   trace.Tracer
}

// NewLLMMiddleware creates a tracing wrapper on the global tracer provider
func NewLLMMiddleware(adapter llm.LLMAdapter, provider, model string) *LLMMiddleware {
	return &LLMMiddleware{
		adapter:  adapter,
		provider: provider,
		model:    model,
		tracer:   Tracer(llmInstrumentationName),
	}
}

// Chat implements llm.LLMAdapter
func (m *LLMMiddleware) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	ctx, span := m.tracer.Start(ctx, "llm.chat",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(append(LLMAttributes(m.provider, m.model),
			attribute.Int("llm.messages.count", len(req.Messages)),
			attribute.Int("llm.tools.count", len(req.Tools)),
			attribute.Int("llm.max_tokens", req.MaxTokens),
			attribute.String("llm.last_role", lastRole(req.Messages)),
		)...),
	)
	defer span.End()

	resp, err := m.adapter.Chat(ctx, req)
	if err != nil {
		span.RecordError(err)
		if ctx.Err() != nil {
			span.SetStatus(codes.Error, "cancelled")
		} else {
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.Bool("llm.model_api_failure", errors.Is(err, llm.ErrModelAPIFailure)))
		return nil, err
	}
	if resp == nil {
		span.SetStatus(codes.Error, "no response")
		return nil, nil
	}

	for _, call := range resp.ToolCalls {
		span.AddEvent("llm.tool_call", trace.WithAttributes(
			attribute.String("tool.name", call.Name),
			attribute.String("tool.call_id", call.ID),
		))
	}
	span.SetAttributes(
		attribute.Int("llm.tokens.input", resp.Usage.InputTokens),
		attribute.Int("llm.tokens.output", resp.Usage.OutputTokens),
		attribute.Int("llm.tokens.total", resp.Usage.TotalTokens),
		attribute.Int("llm.tool_calls.count", len(resp.ToolCalls)),
	)
	span.SetStatus(codes.Ok, "")
	return resp, nil
}

func lastRole(msgs []llm.Message) string {
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1].Role
}

// Close closes the wrapped adapter if it holds resources
func (m *LLMMiddleware) Close() error {
	if c, ok := m.adapter.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
