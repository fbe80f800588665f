// Package useragent runs the tool-calling loop: the model is called with the
// conversation and the server's tools, its tool calls are executed and fed
// back, until it answers in plain text.
package useragent

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jaimegago/mcpbridge/internal/llm"
	"github.com/jaimegago/mcpbridge/internal/observability"
	"github.com/jaimegago/mcpbridge/internal/tools"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrMaxRounds is returned when the model is still calling tools after the
// configured number of rounds
var ErrMaxRounds = errors.New("round limit reached without a final answer")

// AdapterFactory creates a new LLM adapter for the given provider and model.
// Used by SwitchModel to hot-swap the underlying LLM without restarting.
type AdapterFactory func(ctx context.Context, provider, model string) (llm.LLMAdapter, error)

// Observer is told about progress inside a query. Calls come from the
// goroutine running the query.
type Observer interface {
	ModelCall(round int)
	ToolCall(call llm.ToolCall)
	ToolResult(result tools.ToolCallResult)
}

// AgentOption configures optional Agent settings.
type AgentOption func(*Agent)

// WithAdapterFactory sets the adapter factory for hot-swapping models.
func WithAdapterFactory(f AdapterFactory) AgentOption {
	return func(a *Agent) { a.adapterFactory = f }
}

// WithCurrentModelName sets the display name of the active model.
func WithCurrentModelName(name string) AgentOption {
	return func(a *Agent) { a.currentModel = name }
}

// WithSystemPrompt sets the system prompt sent with every model call.
func WithSystemPrompt(prompt string) AgentOption {
	return func(a *Agent) { a.systemPrompt = prompt }
}

// WithMaxTokens caps the output tokens of each model call. Zero leaves the
// adapter's default.
func WithMaxTokens(n int) AgentOption {
	return func(a *Agent) { a.maxTokens = n }
}

// WithMaxRounds bounds the number of model calls per query. Zero means unbounded.
func WithMaxRounds(n int) AgentOption {
	return func(a *Agent) { a.maxRounds = n }
}

// WithObserver sets a progress observer.
func WithObserver(o Observer) AgentOption {
	return func(a *Agent) { a.observer = o }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) AgentOption {
	return func(a *Agent) { a.logger = logger }
}

// Agent runs the agentic loop: LLM → tool calls → LLM → ...
// One query runs at a time; concurrent callers wait.
type Agent struct {
	queryMu sync.Mutex

	mu             sync.RWMutex // protects llm and currentModel
	llm            llm.LLMAdapter
	adapterFactory AdapterFactory // optional, for hot-swap
	currentModel   string         // display name of active model

	catalog      *tools.Catalog
	executor     *tools.Executor
	systemPrompt string
	maxTokens    int
	maxRounds    int
	observer     Observer
	logger       *slog.Logger
	tracer       trace.Tracer
}

// NewAgent creates a new agent. Options are applied after defaults.
func NewAgent(llmAdapter llm.LLMAdapter, catalog *tools.Catalog, executor *tools.Executor, opts ...AgentOption) *Agent {
	a := &Agent{
		llm:      llmAdapter,
		catalog:  catalog,
		executor: executor,
		logger:   slog.Default(),
		tracer:   observability.Tracer("mcpbridge/agent"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// SwitchModel hot-swaps the LLM adapter to a different provider/model.
// Requires an AdapterFactory to have been set via WithAdapterFactory.
// An in-flight model call finishes on the old adapter first.
func (a *Agent) SwitchModel(ctx context.Context, provider, model, displayName string) error {
	if a.adapterFactory == nil {
		return errors.New("no adapter factory configured; cannot switch models")
	}
	newAdapter, err := a.adapterFactory(ctx, provider, model)
	if err != nil {
		return errors.Wrapf(err, "failed to create adapter for %s/%s", provider, model)
	}
	a.mu.Lock()
	a.llm = newAdapter
	a.currentModel = displayName
	a.mu.Unlock()

	a.logger.Info("model_switched", "provider", provider, "model", model, "name", displayName)
	return nil
}

// CurrentModelName returns the display name of the active model.
func (a *Agent) CurrentModelName() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.currentModel
}

// Tools lists the tools the connected server currently offers.
func (a *Agent) Tools(ctx context.Context) ([]llm.ToolDefinition, error) {
	return a.catalog.ListTools(ctx)
}

// Transcript is the outcome of one query
type Transcript struct {
	Answer     string
	Turns      []llm.Message
	Usage      llm.TokenUsage
	ModelCalls int
	Rounds     int
}

// ProcessQuery answers one user query and returns the final text.
func (a *Agent) ProcessQuery(ctx context.Context, userText string) (string, error) {
	t, err := a.Run(ctx, userText)
	if err != nil {
		return "", err
	}
	return t.Answer, nil
}

// Run answers one user query. The loop:
//  1. Snapshots the server's tools for the whole query
//  2. Calls the model with the conversation and the tools
//  3. If the model calls tools, executes them, appends one result per call
//     and loops back to step 2
//  4. If it does not, its text is the answer
func (a *Agent) Run(ctx context.Context, userText string) (*Transcript, error) {
	a.queryMu.Lock()
	defer a.queryMu.Unlock()

	ctx, span := a.tracer.Start(ctx, "agent.query")
	defer span.End()
	start := time.Now()

	t, err := a.run(ctx, userText)
	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			err = errors.WithStack(ctx.Err())
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		a.logger.Warn("query_failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("agent.rounds", t.Rounds),
		attribute.Int("agent.input_tokens", t.Usage.InputTokens),
		attribute.Int("agent.output_tokens", t.Usage.OutputTokens),
	)
	span.SetStatus(codes.Ok, "")
	a.logger.Info("query_complete",
		"rounds", t.Rounds,
		"model_calls", t.ModelCalls,
		"input_tokens", t.Usage.InputTokens,
		"output_tokens", t.Usage.OutputTokens,
		"total_tokens", t.Usage.TotalTokens,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return t, nil
}

func (a *Agent) run(ctx context.Context, userText string) (*Transcript, error) {
	snap, err := a.catalog.Snapshot(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list tools")
	}

	conv := NewConversation()
	if err := conv.AppendUser(userText); err != nil {
		return nil, err
	}
	defs := snap.Definitions()

	for round := 1; a.maxRounds <= 0 || round <= a.maxRounds; round++ {
		done, err := a.round(ctx, round, snap, defs, conv)
		if err != nil {
			return nil, err
		}
		if done {
			last, _ := conv.Last()
			return &Transcript{
				Answer:     last.Content,
				Turns:      conv.Turns(),
				Usage:      conv.Usage(),
				ModelCalls: conv.ModelCalls(),
				Rounds:     round,
			}, nil
		}
	}

	return nil, errors.Mark(errors.Newf("no final answer after %d rounds", a.maxRounds), ErrMaxRounds)
}

// round makes one model call and, if the model asked for tools, runs them.
// It reports whether the model produced its final answer.
func (a *Agent) round(ctx context.Context, round int, snap *tools.Snapshot, defs []llm.ToolDefinition, conv *Conversation) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, errors.WithStack(err)
	}

	ctx, span := a.tracer.Start(ctx, "agent.round", trace.WithAttributes(attribute.Int("agent.round", round)))
	defer span.End()

	if a.observer != nil {
		a.observer.ModelCall(round)
	}

	req := llm.ChatRequest{
		SystemPrompt: a.systemPrompt,
		Messages:     conv.Turns(),
		Tools:        defs,
		MaxTokens:    a.maxTokens,
	}

	// read lock so SwitchModel can't swap mid-call
	a.mu.RLock()
	resp, err := a.llm.Chat(ctx, req)
	a.mu.RUnlock()
	if err != nil {
		if ctx.Err() != nil {
			return false, errors.WithStack(ctx.Err())
		}
		span.RecordError(err)
		return false, errors.Mark(errors.Wrap(err, "llm chat failed"), llm.ErrModelAPIFailure)
	}
	if resp == nil {
		return false, errors.Mark(errors.New("llm returned no response"), llm.ErrModelAPIFailure)
	}
	conv.RecordUsage(resp.Usage)

	span.SetAttributes(attribute.Int("agent.tool_calls", len(resp.ToolCalls)))
	a.logger.Debug("agent_round",
		"round", round,
		"tool_calls", len(resp.ToolCalls),
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
	)

	if !resp.HasToolCalls() {
		return true, conv.AppendAssistant(resp.Content, nil)
	}

	if err := conv.AppendAssistant(resp.Content, resp.ToolCalls); err != nil {
		return false, err
	}
	if a.observer != nil {
		for _, call := range resp.ToolCalls {
			a.observer.ToolCall(call)
		}
	}

	results, err := a.executor.ExecuteBatch(ctx, snap, resp.ToolCalls)
	if err != nil {
		span.RecordError(err)
		return false, errors.Wrap(err, "tool execution aborted")
	}
	if a.observer != nil {
		for _, r := range results {
			a.observer.ToolResult(r)
		}
	}

	return false, conv.AppendToolResults(tools.ResultsToMessages(results))
}
