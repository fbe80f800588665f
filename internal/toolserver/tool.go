// Package toolserver exposes locally implemented tools over the Model Context
// Protocol. It backs cmd/mcpbridge-tools and the end-to-end tests.
package toolserver

import (
	"context"

	"github.com/jaimegago/mcpbridge/internal/llm"
)

// Tool is a locally implemented tool
type Tool interface {
	// Name returns the tool's name
	Name() string

	// Description returns a description for the LLM
	Description() string

	// Parameters returns the input schema; it must describe an object
	Parameters() llm.ParameterSchema

	// Execute runs the tool. The result is sent to the client as JSON text.
	Execute(ctx context.Context, args map[string]any) (any, error)
}
