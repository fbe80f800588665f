package toolserver

import (
	"github.com/cockroachdb/errors"
	"github.com/jaimegago/mcpbridge/internal/llm"
	"github.com/jaimegago/mcpbridge/internal/toolserver/local/echo"
	"github.com/jaimegago/mcpbridge/internal/toolserver/local/gitstatus"
	"github.com/jaimegago/mcpbridge/internal/toolserver/local/readfile"
)

// Registry manages the served tools in registration order
type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry creates a new tool registry
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// NewDefaultRegistry creates a registry with the bundled tools
func NewDefaultRegistry() *Registry {
	registry := NewRegistry()
	for _, tool := range []Tool{echo.NewTool(), readfile.New(), gitstatus.New()} {
		if err := registry.Register(tool); err != nil {
			panic(err)
		}
	}
	return registry
}

// Register adds a tool. Names must be unique and non-empty, and the input
// schema, when set, must describe an object.
func (r *Registry) Register(tool Tool) error {
	name := tool.Name()
	if name == "" {
		return errors.New("tool name is empty")
	}
	if _, exists := r.tools[name]; exists {
		return errors.Newf("tool already registered: %s", name)
	}
	if params := tool.Parameters(); params != nil && params.Type() != "object" {
		return errors.Newf("tool %s: input schema type is %q, want \"object\"", name, params.Type())
	}
	r.tools[name] = tool
	r.order = append(r.order, name)
	return nil
}

// Get retrieves a tool by name
func (r *Registry) Get(name string) (Tool, error) {
	tool, ok := r.tools[name]
	if !ok {
		return nil, errors.Newf("tool not found: %s", name)
	}
	return tool, nil
}

// GetAll returns all registered tools in registration order
func (r *Registry) GetAll() []Tool {
	tools := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		tools = append(tools, r.tools[name])
	}
	return tools
}

// ToDefinitions converts all registered tools to LLM tool definitions
func (r *Registry) ToDefinitions() []llm.ToolDefinition {
	definitions := make([]llm.ToolDefinition, 0, len(r.order))
	for _, tool := range r.GetAll() {
		definitions = append(definitions, llm.ToolDefinition{
			Name:        tool.Name(),
			Description: tool.Description(),
			Parameters:  tool.Parameters(),
		})
	}
	return definitions
}
