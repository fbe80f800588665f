package tools

import (
	"context"
	"sync"

	"github.com/jaimegago/mcpbridge/internal/mcp"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

type recordedCall struct {
	Name string
	Args map[string]any
}

// fakeSession is a scripted Session
type fakeSession struct {
	tools   []mcp.ToolDescriptor
	listErr error
	callFn  func(ctx context.Context, name string, args map[string]any) (*mcp.CallResult, error)

	mu    sync.Mutex
	calls []recordedCall
}

func (f *fakeSession) ListTools(ctx context.Context) ([]mcp.ToolDescriptor, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.tools, nil
}

func (f *fakeSession) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, recordedCall{Name: name, Args: args})
	f.mu.Unlock()

	if f.callFn != nil {
		return f.callFn(ctx, name, args)
	}
	return textResult("ok"), nil
}

func (f *fakeSession) recorded() []recordedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]recordedCall, len(f.calls))
	copy(out, f.calls)
	return out
}

func textResult(text string) *mcp.CallResult {
	return &mcp.CallResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: text}}}
}

func objectSchema(props map[string]any, required ...string) map[string]any {
	schema := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		req := make([]any, len(required))
		for i, r := range required {
			req[i] = r
		}
		schema["required"] = req
	}
	return schema
}
