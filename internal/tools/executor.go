package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jaimegago/mcpbridge/internal/llm"
	"github.com/jaimegago/mcpbridge/internal/mcp"
	"github.com/jaimegago/mcpbridge/internal/observability"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrArgumentParse marks arguments that are not a JSON object or do not
	// satisfy the tool's input schema
	ErrArgumentParse = errors.New("invalid tool arguments")

	// ErrToolExecutionFailure marks a call the server could not complete
	ErrToolExecutionFailure = errors.New("tool execution failed")
)

// Executor runs the model's tool calls against a session
type Executor struct {
	session  Session
	logger   *slog.Logger
	parallel bool
	timeout  time.Duration
	metrics  *observability.ToolMetrics
}

// ExecutorOption configures an Executor
type ExecutorOption func(*Executor)

// WithParallel dispatches the calls of one batch concurrently
func WithParallel(parallel bool) ExecutorOption {
	return func(e *Executor) {
		e.parallel = parallel
	}
}

// WithToolTimeout bounds each tool call. Zero means no bound.
func WithToolTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.timeout = d
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithMetrics sets the tool instrumentation
func WithMetrics(m *observability.ToolMetrics) ExecutorOption {
	return func(e *Executor) {
		e.metrics = m
	}
}

// NewExecutor creates a new tool executor
func NewExecutor(session Session, opts ...ExecutorOption) *Executor {
	e := &Executor{
		session: session,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = observability.NewToolMetrics()
	}
	return e
}

// Execute runs one tool call. Anything wrong with the call itself comes back
// as a failure result; the error return is reserved for conditions that end
// the query: cancellation and a lost connection.
func (e *Executor) Execute(ctx context.Context, snap *Snapshot, call llm.ToolCall) (ToolCallResult, error) {
	ctx, finish := e.metrics.Start(ctx, call.Name, call.ID)
	start := time.Now()

	result, err := e.execute(ctx, snap, call)

	attrs := []any{"tool", call.Name, "call_id", call.ID, "duration_ms", time.Since(start).Milliseconds()}
	switch {
	case err != nil:
		finish(observability.ToolOutcomeAborted, err)
		e.logger.Warn("tool_call_aborted", append(attrs, "error", err)...)
	case result.IsError:
		finish(observability.ToolOutcomeFailure, result.Err)
		e.logger.Info("tool_call", append(attrs, "outcome", observability.ToolOutcomeFailure, "error", result.Err)...)
	default:
		finish(observability.ToolOutcomeOK, nil)
		e.logger.Info("tool_call", append(attrs, "outcome", observability.ToolOutcomeOK, "result_bytes", len(result.Content))...)
	}
	return result, err
}

func (e *Executor) execute(ctx context.Context, snap *Snapshot, call llm.ToolCall) (ToolCallResult, error) {
	result := ToolCallResult{ID: call.ID, Name: call.Name}
	if err := ctx.Err(); err != nil {
		return result, errors.WithStack(err)
	}

	if _, ok := snap.Lookup(call.Name); !ok {
		return result.fail(errors.Mark(errors.Newf("tool not found: %s", call.Name), ErrToolExecutionFailure)), nil
	}

	args, err := ParseArguments(call.Arguments)
	if err != nil {
		return result.fail(err), nil
	}
	if err := snap.Validate(call.Name, args); err != nil {
		return result.fail(err), nil
	}

	callCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	res, err := e.session.CallTool(callCtx, call.Name, args)
	if err != nil {
		if ctx.Err() != nil {
			return result, errors.WithStack(ctx.Err())
		}
		if errors.Is(err, mcp.ErrNotConnected) || errors.Is(err, mcp.ErrConnectionClosed) || errors.Is(err, mcp.ErrProtocol) {
			return result, err
		}
		if callCtx.Err() != nil {
			err = errors.Wrapf(err, "no answer within %s", e.timeout)
		}
		return result.fail(errors.Mark(err, ErrToolExecutionFailure)), nil
	}

	text, err := res.Text()
	if err != nil {
		return result.fail(errors.Mark(err, ErrToolExecutionFailure)), nil
	}
	if res.IsError {
		if text == "" {
			text = "tool reported an error"
		}
		return result.fail(errors.Mark(errors.New(text), ErrToolExecutionFailure)), nil
	}

	result.Content = text
	return result, nil
}

// ExecuteBatch runs the calls of one model turn. Results are in call order
// whether or not the calls ran in parallel. An error means the batch was
// aborted and no results are returned.
func (e *Executor) ExecuteBatch(ctx context.Context, snap *Snapshot, calls []llm.ToolCall) ([]ToolCallResult, error) {
	if len(calls) == 0 {
		return nil, nil
	}

	results := make([]ToolCallResult, len(calls))

	if !e.parallel || len(calls) == 1 {
		for i, call := range calls {
			r, err := e.Execute(ctx, snap, call)
			if err != nil {
				return nil, err
			}
			results[i] = r
		}
		return results, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, call := range calls {
		g.Go(func() error {
			r, err := e.Execute(gctx, snap, call)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// ParseArguments decodes the model's raw argument payload. Empty input is an
// empty object; anything that is not a JSON object is marked ErrArgumentParse.
func ParseArguments(raw string) (map[string]any, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return map[string]any{}, nil
	}

	var decoded any
	if err := json.Unmarshal([]byte(trimmed), &decoded); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "arguments are not valid JSON"), ErrArgumentParse)
	}
	args, ok := decoded.(map[string]any)
	if !ok {
		return nil, errors.Mark(errors.Newf("arguments must be a JSON object, got %s", jsonKind(decoded)), ErrArgumentParse)
	}
	return args, nil
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case []any:
		return "array"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// ToolCallResult is the outcome of one tool call
type ToolCallResult struct {
	ID      string
	Name    string
	Content string
	IsError bool
	Err     error
}

func (r ToolCallResult) fail(err error) ToolCallResult {
	r.IsError = true
	r.Err = err
	r.Content = fmt.Sprintf("Error executing tool %s: %v", r.Name, err)
	return r
}

// ResultsToMessages converts tool call results to tool-result turns, keeping their order
func ResultsToMessages(results []ToolCallResult) []llm.Message {
	messages := make([]llm.Message, len(results))
	for i, result := range results {
		messages[i] = ResultToMessage(result)
	}
	return messages
}

// ResultToMessage converts a single tool call result to a tool-result turn
func ResultToMessage(result ToolCallResult) llm.Message {
	return llm.Message{
		Role:       llm.RoleTool,
		Content:    result.Content,
		ToolCallID: result.ID,
		ToolName:   result.Name,
		IsError:    result.IsError,
	}
}
