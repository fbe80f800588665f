package toolserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jaimegago/mcpbridge/internal/llm"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	serverName    = "mcpbridge-tools"
	serverVersion = "0.1.0"
)

// NewServer builds an MCP server that serves every tool in registry.
// Tool errors are reported as error results so the model can see them.
func NewServer(registry *Registry, logger *slog.Logger) *mcpsdk.Server {
	if logger == nil {
		logger = slog.Default()
	}

	server := mcpsdk.NewServer(&mcpsdk.Implementation{Name: serverName, Version: serverVersion}, nil)
	for _, tool := range registry.GetAll() {
		params := tool.Parameters()
		if params == nil {
			params = llm.EmptyObjectSchema()
		}
		server.AddTool(&mcpsdk.Tool{
			Name:        tool.Name(),
			Description: tool.Description(),
			InputSchema: map[string]any(params),
		}, handler(tool, logger))
	}
	return server
}

func handler(tool Tool, logger *slog.Logger) mcpsdk.ToolHandler {
	return func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		start := time.Now()

		args := map[string]any{}
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
				return errorResult(errors.Wrap(err, "decode arguments")), nil
			}
		}

		out, err := tool.Execute(ctx, args)
		if err != nil {
			logger.Info("tool_failed", "tool", tool.Name(), "error", err, "duration_ms", time.Since(start).Milliseconds())
			return errorResult(err), nil
		}

		text, err := json.Marshal(out)
		if err != nil {
			return errorResult(errors.Wrap(err, "encode result")), nil
		}
		logger.Info("tool_served", "tool", tool.Name(), "duration_ms", time.Since(start).Milliseconds())
		return &mcpsdk.CallToolResult{
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(text)}},
		}, nil
	}
}

func errorResult(err error) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: err.Error()}},
		IsError: true,
	}
}

// ServeStdio serves registry over stdin/stdout until the client disconnects
// or ctx is cancelled
func ServeStdio(ctx context.Context, registry *Registry, logger *slog.Logger) error {
	server := NewServer(registry, logger)
	if err := server.Run(ctx, &mcpsdk.StdioTransport{}); err != nil && ctx.Err() == nil {
		return errors.Wrap(err, "serve tools")
	}
	return nil
}
