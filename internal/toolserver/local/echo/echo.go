// Package echo provides a tool that returns its input, for exercising the
// tool-calling loop end to end
package echo

import (
	"context"

	"github.com/jaimegago/mcpbridge/internal/llm"
)

// Tool implements a simple echo tool
type Tool struct{}

// NewTool creates a new echo tool
func NewTool() *Tool {
	return &Tool{}
}

// Name returns the tool's name
func (t *Tool) Name() string {
	return "echo"
}

// Description returns a description for the LLM
func (t *Tool) Description() string {
	return "Echoes back the input message. Useful for testing."
}

// Parameters returns the parameter schema
func (t *Tool) Parameters() llm.ParameterSchema {
	return llm.ParameterSchema{
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{
				"type":        "string",
				"description": "The message to echo back",
			},
		},
		"required": []string{"message"},
	}
}

// Execute runs the echo tool
func (t *Tool) Execute(ctx context.Context, args map[string]any) (any, error) {
	message, _ := args["message"].(string)
	return map[string]string{
		"echoed": message,
	}, nil
}
