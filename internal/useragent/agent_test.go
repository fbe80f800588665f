package useragent

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jaimegago/mcpbridge/internal/llm"
	"github.com/jaimegago/mcpbridge/internal/mcp"
	"github.com/jaimegago/mcpbridge/internal/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAgent(t *testing.T) {
	model := &mockLLM{}
	session := echoSession()
	catalog := tools.NewCatalog(session, nil)
	executor := tools.NewExecutor(session)

	agent := NewAgent(model, catalog, executor, WithSystemPrompt("You are a helpful assistant"), WithCurrentModelName("gpt-4o"))

	if agent.llm != model {
		t.Error("NewAgent() llm not set correctly")
	}
	if agent.catalog != catalog || agent.executor != executor {
		t.Error("NewAgent() catalog or executor not set correctly")
	}
	if agent.systemPrompt != "You are a helpful assistant" {
		t.Error("NewAgent() systemPrompt not set correctly")
	}
	if agent.maxRounds != 0 {
		t.Errorf("NewAgent() maxRounds = %d, want unbounded (0)", agent.maxRounds)
	}
	if agent.CurrentModelName() != "gpt-4o" {
		t.Errorf("CurrentModelName() = %q", agent.CurrentModelName())
	}
}

func TestAgent_Run_PlainAnswer(t *testing.T) {
	model := &mockLLM{responses: []*llm.ChatResponse{answer("Hello! How can I help you?")}}
	agent := newTestAgent(t, model, echoSession(), WithSystemPrompt("be brief"), WithMaxTokens(1500))

	tr, err := agent.Run(context.Background(), "Hello")
	require.NoError(t, err)

	assert.Equal(t, "Hello! How can I help you?", tr.Answer)
	require.Len(t, tr.Turns, 2)
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "Hello"}, tr.Turns[0])
	assert.Equal(t, llm.Message{Role: llm.RoleAssistant, Content: "Hello! How can I help you?"}, tr.Turns[1])
	assert.Equal(t, 1, tr.Rounds)
	assert.Equal(t, 1, tr.ModelCalls)
	assert.Equal(t, 15, tr.Usage.TotalTokens)

	req := model.request(0)
	assert.Equal(t, "be brief", req.SystemPrompt)
	assert.Equal(t, 1500, req.MaxTokens)
	require.Len(t, req.Tools, 1)
	assert.Equal(t, "echo", req.Tools[0].Name)
	assert.Equal(t, []llm.Message{{Role: llm.RoleUser, Content: "Hello"}}, req.Messages)
}

func TestAgent_Run_EmptyAnswerIsRecorded(t *testing.T) {
	model := &mockLLM{responses: []*llm.ChatResponse{answer("")}}
	agent := newTestAgent(t, model, echoSession())

	tr, err := agent.Run(context.Background(), "say nothing")
	require.NoError(t, err)
	assert.Equal(t, "", tr.Answer)
	require.Len(t, tr.Turns, 2)
	assert.Equal(t, llm.RoleAssistant, tr.Turns[1].Role)
}

func TestAgent_Run_OneRound(t *testing.T) {
	model := &mockLLM{responses: []*llm.ChatResponse{
		callTools(llm.ToolCall{ID: "call-1", Name: "echo", Arguments: `{"message":"test message"}`}),
		answer("I echoed your message!"),
	}}
	session := echoSession()
	agent := newTestAgent(t, model, session)

	tr, err := agent.Run(context.Background(), "echo something")
	require.NoError(t, err)
	assert.Equal(t, "I echoed your message!", tr.Answer)

	require.Len(t, tr.Turns, 4)
	assert.Equal(t, llm.RoleUser, tr.Turns[0].Role)
	assert.Equal(t, llm.RoleAssistant, tr.Turns[1].Role)
	require.Len(t, tr.Turns[1].ToolCalls, 1)
	assert.Equal(t, llm.Message{Role: llm.RoleTool, ToolCallID: "call-1", ToolName: "echo", Content: "echo:test message"}, tr.Turns[2])
	assert.Equal(t, llm.Message{Role: llm.RoleAssistant, Content: "I echoed your message!"}, tr.Turns[3])

	assert.Equal(t, []string{"echo"}, session.callNames())
	assert.Equal(t, 2, model.callCount())
	assert.Equal(t, tr.Turns[:3], model.request(1).Messages)
	assert.Equal(t, llm.TokenUsage{InputTokens: 18, OutputTokens: 7, TotalTokens: 25}, tr.Usage)
}

func TestAgent_Run_MultipleToolCallsKeepOrder(t *testing.T) {
	calls := []llm.ToolCall{
		{ID: "a", Name: "echo", Arguments: `{"message":"1"}`},
		{ID: "b", Name: "missing", Arguments: `{}`},
		{ID: "c", Name: "echo", Arguments: `{"message":"3"}`},
	}

	for _, parallel := range []bool{false, true} {
		model := &mockLLM{responses: []*llm.ChatResponse{callTools(calls...), answer("done")}}
		agent := newTestAgentWithExecutor(t, model, echoSession(), []tools.ExecutorOption{tools.WithParallel(parallel)})

		tr, err := agent.Run(context.Background(), "go")
		require.NoError(t, err, "parallel=%v", parallel)
		require.Len(t, tr.Turns, 6)

		for i, want := range []string{"a", "b", "c"} {
			assert.Equal(t, want, tr.Turns[2+i].ToolCallID, "parallel=%v", parallel)
		}
		assert.Equal(t, "echo:1", tr.Turns[2].Content)
		assert.True(t, tr.Turns[3].IsError)
		assert.Contains(t, tr.Turns[3].Content, "Error executing tool missing: tool not found")
		assert.Equal(t, "echo:3", tr.Turns[4].Content)
	}
}

func TestAgent_Run_AppendOnlyAcrossRounds(t *testing.T) {
	const rounds = 4
	var responses []*llm.ChatResponse
	for i := 0; i < rounds; i++ {
		responses = append(responses, callTools(llm.ToolCall{ID: string(rune('a' + i)), Name: "echo", Arguments: `{"message":"x"}`}))
	}
	responses = append(responses, answer("finished"))
	model := &mockLLM{responses: responses}
	agent := newTestAgent(t, model, echoSession())

	tr, err := agent.Run(context.Background(), "loop")
	require.NoError(t, err)
	assert.Equal(t, rounds+1, tr.Rounds)
	assert.Len(t, tr.Turns, 1+2*rounds+1)

	for i := 1; i < model.callCount(); i++ {
		prev, cur := model.request(i-1).Messages, model.request(i).Messages
		require.Len(t, cur, len(prev)+2, "each round adds one assistant turn and one result")
		assert.Equal(t, prev, cur[:len(prev)], "round %d rewrote history", i)
	}
	last := model.request(model.callCount() - 1).Messages
	assert.Equal(t, last, tr.Turns[:len(last)])
}

func TestAgent_Run_MalformedArgumentsContinue(t *testing.T) {
	model := &mockLLM{responses: []*llm.ChatResponse{
		callTools(llm.ToolCall{ID: "call-1", Name: "echo", Arguments: `{"message": `}),
		answer("Sorry, let me try differently."),
	}}
	session := echoSession()
	agent := newTestAgent(t, model, session)

	tr, err := agent.Run(context.Background(), "echo")
	require.NoError(t, err)
	assert.Equal(t, "Sorry, let me try differently.", tr.Answer)

	result := tr.Turns[2]
	assert.Equal(t, llm.RoleTool, result.Role)
	assert.Equal(t, "call-1", result.ToolCallID)
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content, "Error executing tool echo:")
	assert.Empty(t, session.callNames(), "malformed arguments never reach the server")
}

func TestAgent_Run_Deterministic(t *testing.T) {
	script := func() *mockLLM {
		return &mockLLM{responses: []*llm.ChatResponse{
			callTools(
				llm.ToolCall{ID: "1", Name: "echo", Arguments: `{"message":"a"}`},
				llm.ToolCall{ID: "2", Name: "echo", Arguments: `{"message":"b"}`},
			),
			answer("ab"),
		}}
	}

	first, err := newTestAgent(t, script(), echoSession()).Run(context.Background(), "q")
	require.NoError(t, err)
	second, err := newTestAgent(t, script(), echoSession()).Run(context.Background(), "q")
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestAgent_ProcessQuery_ListIssues(t *testing.T) {
	session := &mockSession{
		tools: []mcp.ToolDescriptor{{
			Name:        "list_issues",
			Description: "List issues in a GitHub repository",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"repo": map[string]any{"type": "string"}},
				"required":   []any{"repo"},
			},
		}},
		callFn: func(ctx context.Context, name string, args map[string]any) (*mcp.CallResult, error) {
			if args["repo"] != "x" {
				return &mcp.CallResult{IsError: true}, nil
			}
			return text("[#1 bug]"), nil
		},
	}
	model := &mockLLM{responses: []*llm.ChatResponse{
		callTools(llm.ToolCall{ID: "call_1", Name: "list_issues", Arguments: `{"repo":"x"}`}),
		answer("You have one open issue: #1 bug."),
	}}
	agent := newTestAgent(t, model, session)

	got, err := agent.ProcessQuery(context.Background(), "What issues are open in repo x?")
	require.NoError(t, err)
	assert.Equal(t, "You have one open issue: #1 bug.", got)

	second := model.request(1).Messages
	require.Len(t, second, 3)
	assert.Equal(t, "[#1 bug]", second[2].Content)
	assert.False(t, second[2].IsError)
}

func TestAgent_Run_CatalogFailureFailsFast(t *testing.T) {
	tests := []struct {
		name    string
		session *mockSession
		want    error
	}{
		{name: "not connected", session: &mockSession{listErr: mcp.ErrNotConnected}, want: mcp.ErrNotConnected},
		{name: "duplicate tools", session: &mockSession{tools: []mcp.ToolDescriptor{{Name: "a"}, {Name: "a"}}}, want: mcp.ErrProtocol},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model := &mockLLM{responses: []*llm.ChatResponse{answer("unused")}}
			agent := newTestAgent(t, model, tt.session)

			tr, err := agent.Run(context.Background(), "hi")
			require.Error(t, err)
			assert.Nil(t, tr)
			assert.True(t, errors.Is(err, tt.want))
			assert.Equal(t, 0, model.callCount())
		})
	}
}

func TestAgent_Run_ModelFailureThenRecover(t *testing.T) {
	fail := true
	model := &mockLLM{chatFn: func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		if fail {
			return nil, errors.New("503 service unavailable")
		}
		return answer("back"), nil
	}}
	agent := newTestAgent(t, model, echoSession())

	_, err := agent.ProcessQuery(context.Background(), "first")
	require.Error(t, err)
	assert.True(t, errors.Is(err, llm.ErrModelAPIFailure))

	fail = false
	got, err := agent.ProcessQuery(context.Background(), "second")
	require.NoError(t, err)
	assert.Equal(t, "back", got)
	assert.Len(t, model.request(1).Messages, 1, "the failed query left no history behind")
}

func TestAgent_Run_MaxRounds(t *testing.T) {
	model := &mockLLM{chatFn: func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		return callTools(llm.ToolCall{ID: "again", Name: "echo", Arguments: `{"message":"x"}`}), nil
	}}
	agent := newTestAgent(t, model, echoSession(), WithMaxRounds(3))

	_, err := agent.Run(context.Background(), "never ends")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMaxRounds))
	assert.Equal(t, 3, model.callCount())
}

func TestAgent_Run_ToolAbortFailsQuery(t *testing.T) {
	session := echoSession()
	session.callFn = func(ctx context.Context, name string, args map[string]any) (*mcp.CallResult, error) {
		return nil, errors.Mark(errors.New("EOF"), mcp.ErrConnectionClosed)
	}
	model := &mockLLM{responses: []*llm.ChatResponse{
		callTools(llm.ToolCall{ID: "1", Name: "echo", Arguments: `{"message":"x"}`}),
		answer("unreachable"),
	}}
	agent := newTestAgent(t, model, session)

	_, err := agent.Run(context.Background(), "q")
	require.Error(t, err)
	assert.True(t, errors.Is(err, mcp.ErrConnectionClosed))
	assert.Equal(t, 1, model.callCount())
}

func TestAgent_Run_Cancellation(t *testing.T) {
	t.Run("during model call", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		model := &mockLLM{chatFn: func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
			cancel()
			<-ctx.Done()
			return nil, ctx.Err()
		}}
		agent := newTestAgent(t, model, echoSession())

		_, err := agent.Run(ctx, "q")
		assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
		assert.False(t, errors.Is(err, llm.ErrModelAPIFailure))
	})

	t.Run("during tool call", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		session := echoSession()
		session.callFn = func(ctx context.Context, name string, args map[string]any) (*mcp.CallResult, error) {
			cancel()
			return nil, ctx.Err()
		}
		model := &mockLLM{responses: []*llm.ChatResponse{
			callTools(llm.ToolCall{ID: "1", Name: "echo", Arguments: `{"message":"x"}`}),
			answer("unreachable"),
		}}
		agent := newTestAgent(t, model, session)

		_, err := agent.Run(ctx, "q")
		assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
		assert.Equal(t, 1, model.callCount())
	})

	t.Run("before start", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		model := &mockLLM{responses: []*llm.ChatResponse{answer("unused")}}
		agent := newTestAgent(t, model, echoSession())

		_, err := agent.Run(ctx, "q")
		assert.True(t, errors.Is(err, context.Canceled))
		assert.Equal(t, 0, model.callCount())
	})
}

func TestAgent_Run_QueriesAreSerialized(t *testing.T) {
	var inFlight, peak atomic.Int32
	model := &mockLLM{chatFn: func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		if n > peak.Load() {
			peak.Store(n)
		}
		time.Sleep(10 * time.Millisecond)
		return answer("ok"), nil
	}}
	agent := newTestAgent(t, model, echoSession())

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := agent.ProcessQuery(context.Background(), "q")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), peak.Load())
	assert.Equal(t, 5, model.callCount())
}

func TestAgent_SwitchModel(t *testing.T) {
	first := &mockLLM{responses: []*llm.ChatResponse{answer("from first")}}
	second := &mockLLM{responses: []*llm.ChatResponse{answer("from second")}}

	var gotProvider, gotModel string
	factory := func(ctx context.Context, provider, model string) (llm.LLMAdapter, error) {
		gotProvider, gotModel = provider, model
		return second, nil
	}
	agent := newTestAgent(t, first, echoSession(), WithAdapterFactory(factory), WithCurrentModelName("first"))

	got, err := agent.ProcessQuery(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "from first", got)

	require.NoError(t, agent.SwitchModel(context.Background(), "claude", "claude-sonnet-4-20250514", "claude-sonnet"))
	assert.Equal(t, "claude", gotProvider)
	assert.Equal(t, "claude-sonnet-4-20250514", gotModel)
	assert.Equal(t, "claude-sonnet", agent.CurrentModelName())

	got, err = agent.ProcessQuery(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "from second", got)
}

func TestAgent_SwitchModel_Errors(t *testing.T) {
	agent := newTestAgent(t, &mockLLM{}, echoSession(), WithCurrentModelName("keep"))
	err := agent.SwitchModel(context.Background(), "openai", "gpt-4o", "gpt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no adapter factory")

	agent = newTestAgent(t, &mockLLM{}, echoSession(), WithCurrentModelName("keep"),
		WithAdapterFactory(func(ctx context.Context, provider, model string) (llm.LLMAdapter, error) {
			return nil, errors.New("missing key")
		}))
	err = agent.SwitchModel(context.Background(), "openai", "gpt-4o", "gpt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "openai/gpt-4o")
	assert.Equal(t, "keep", agent.CurrentModelName())
}

func TestAgent_Observer(t *testing.T) {
	model := &mockLLM{responses: []*llm.ChatResponse{
		callTools(
			llm.ToolCall{ID: "1", Name: "echo", Arguments: `{"message":"x"}`},
			llm.ToolCall{ID: "2", Name: "nope"},
		),
		answer("done"),
	}}
	obs := &recordingObserver{}
	agent := newTestAgent(t, model, echoSession(), WithObserver(obs))

	_, err := agent.Run(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"model", "call:echo", "call:nope", "result:echo:ok", "result:nope:error", "model",
	}, obs.events)
}

func TestAgent_Tools(t *testing.T) {
	agent := newTestAgent(t, &mockLLM{}, echoSession())

	defs, err := agent.Tools(context.Background())
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "echo", defs[0].Name)
}
