package llmfactory

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/jaimegago/mcpbridge/internal/config"
	"github.com/jaimegago/mcpbridge/internal/llm"
	"github.com/jaimegago/mcpbridge/internal/llm/claude"
	"github.com/jaimegago/mcpbridge/internal/llm/gemini"
	"github.com/jaimegago/mcpbridge/internal/llm/openai"
	"github.com/jaimegago/mcpbridge/internal/observability"
)

// NewAdapter creates an LLMAdapter from a ModelConfig.
// It validates that the required API key environment variables are set
// before creating the provider client.
func NewAdapter(ctx context.Context, mc config.ModelConfig) (llm.LLMAdapter, error) {
	if err := config.ValidateAPIKeys(mc); err != nil {
		return nil, errors.Wrapf(err, "provider %q", mc.Provider)
	}

	switch mc.Provider {
	case "azure":
		return openai.NewAzureClient(mc.Model)
	case "openai":
		return openai.NewClient(mc.Model)
	case "claude":
		return claude.NewClient(mc.Model)
	case "gemini":
		return gemini.NewClient(ctx, mc.Model)
	default:
		return nil, errors.Newf("unsupported LLM provider: %q (supported: azure, openai, claude, gemini)", mc.Provider)
	}
}

// NewInstrumentedAdapter creates the provider client wrapped in tracing
// spans and metrics
func NewInstrumentedAdapter(ctx context.Context, mc config.ModelConfig, logger *slog.Logger) (llm.LLMAdapter, error) {
	adapter, err := NewAdapter(ctx, mc)
	if err != nil {
		return nil, err
	}

	traced := observability.NewLLMMiddleware(adapter, mc.Provider, mc.Model)
	return llm.NewInstrumentedAdapter(traced, logger, mc.Provider, mc.Model), nil
}

// Factory returns a function suitable for hot-swapping models at runtime
func Factory(logger *slog.Logger) func(ctx context.Context, provider, model string) (llm.LLMAdapter, error) {
	return func(ctx context.Context, provider, model string) (llm.LLMAdapter, error) {
		return NewInstrumentedAdapter(ctx, config.ModelConfig{Provider: provider, Model: model}, logger)
	}
}
