package useragent

import (
	"context"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/jaimegago/mcpbridge/internal/llm"
	"github.com/jaimegago/mcpbridge/internal/mcp"
	"github.com/jaimegago/mcpbridge/internal/tools"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// mockLLM replays scripted responses and records every request
type mockLLM struct {
	mu        sync.Mutex
	responses []*llm.ChatResponse
	requests  []llm.ChatRequest
	chatFn    func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error)
}

func (m *mockLLM) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	n := len(m.requests)
	m.mu.Unlock()

	if m.chatFn != nil {
		return m.chatFn(ctx, req)
	}
	if n > len(m.responses) {
		return nil, errors.New("no more mock responses")
	}
	return m.responses[n-1], nil
}

func (m *mockLLM) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func (m *mockLLM) request(i int) llm.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[i]
}

func answer(text string) *llm.ChatResponse {
	return &llm.ChatResponse{Content: text, Usage: llm.TokenUsage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}}
}

func callTools(calls ...llm.ToolCall) *llm.ChatResponse {
	return &llm.ChatResponse{ToolCalls: calls, Usage: llm.TokenUsage{InputTokens: 8, OutputTokens: 2, TotalTokens: 10}}
}

// mockSession is a scripted tool server
type mockSession struct {
	tools   []mcp.ToolDescriptor
	listErr error
	callFn  func(ctx context.Context, name string, args map[string]any) (*mcp.CallResult, error)

	mu    sync.Mutex
	calls []string
}

func (s *mockSession) ListTools(ctx context.Context) ([]mcp.ToolDescriptor, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.tools, nil
}

func (s *mockSession) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, name)
	s.mu.Unlock()
	if s.callFn != nil {
		return s.callFn(ctx, name, args)
	}
	return text("ok"), nil
}

func (s *mockSession) callNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func text(s string) *mcp.CallResult {
	return &mcp.CallResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: s}}}
}

func echoSession() *mockSession {
	return &mockSession{
		tools: []mcp.ToolDescriptor{{
			Name:        "echo",
			Description: "Echo a message",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"message": map[string]any{"type": "string"}},
				"required":   []any{"message"},
			},
		}},
		callFn: func(ctx context.Context, name string, args map[string]any) (*mcp.CallResult, error) {
			return text("echo:" + args["message"].(string)), nil
		},
	}
}

func newTestAgent(t *testing.T, model llm.LLMAdapter, session tools.Session, opts ...AgentOption) *Agent {
	t.Helper()
	return newTestAgentWithExecutor(t, model, session, nil, opts...)
}

func newTestAgentWithExecutor(t *testing.T, model llm.LLMAdapter, session tools.Session, execOpts []tools.ExecutorOption, opts ...AgentOption) *Agent {
	t.Helper()
	catalog := tools.NewCatalog(session, nil)
	executor := tools.NewExecutor(session, execOpts...)
	return NewAgent(model, catalog, executor, opts...)
}

type recordingObserver struct {
	events []string
}

func (o *recordingObserver) ModelCall(round int) {
	o.events = append(o.events, "model")
}

func (o *recordingObserver) ToolCall(call llm.ToolCall) {
	o.events = append(o.events, "call:"+call.Name)
}

func (o *recordingObserver) ToolResult(result tools.ToolCallResult) {
	status := "ok"
	if result.IsError {
		status = "error"
	}
	o.events = append(o.events, "result:"+result.Name+":"+status)
}
