// Package tools turns the tool server's listing into model-facing tool
// definitions and executes the calls the model makes against them.
package tools

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/google/jsonschema-go/jsonschema"
	"github.com/jaimegago/mcpbridge/internal/llm"
	"github.com/jaimegago/mcpbridge/internal/mcp"
)

// Session is the part of a tool server connection the catalog and executor
// need. *mcp.Session implements it.
type Session interface {
	ListTools(ctx context.Context) ([]mcp.ToolDescriptor, error)
	CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallResult, error)
}

// Catalog reads the tool listing of a session
type Catalog struct {
	session Session
	logger  *slog.Logger
}

// NewCatalog creates a catalog over session
func NewCatalog(session Session, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{session: session, logger: logger}
}

// ListTools returns the server's tools as model tool definitions, in server order
func (c *Catalog) ListTools(ctx context.Context) ([]llm.ToolDefinition, error) {
	snap, err := c.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.Definitions(), nil
}

// Snapshot lists the server's tools once and freezes them for one query
func (c *Catalog) Snapshot(ctx context.Context) (*Snapshot, error) {
	descs, err := c.session.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	return NewSnapshot(descs, c.logger)
}

// Snapshot is an immutable view of the tool listing taken at the start of a
// query. Definitions keep the server's order.
type Snapshot struct {
	definitions []llm.ToolDefinition
	index       map[string]int
	validators  map[string]*jsonschema.Resolved
}

// NewSnapshot translates server descriptors. Empty or duplicate names and
// input schemas that are not JSON objects are protocol errors. A tool whose
// schema cannot be compiled is kept but its arguments are not validated.
func NewSnapshot(descs []mcp.ToolDescriptor, logger *slog.Logger) (*Snapshot, error) {
	if logger == nil {
		logger = slog.Default()
	}

	snap := &Snapshot{
		definitions: make([]llm.ToolDefinition, 0, len(descs)),
		index:       make(map[string]int, len(descs)),
		validators:  make(map[string]*jsonschema.Resolved, len(descs)),
	}

	for i, d := range descs {
		if d.Name == "" {
			return nil, errors.Mark(errors.Newf("tool at position %d has no name", i), mcp.ErrProtocol)
		}
		if _, dup := snap.index[d.Name]; dup {
			return nil, errors.Mark(errors.Newf("duplicate tool name %q", d.Name), mcp.ErrProtocol)
		}

		params, err := toParameterSchema(d.InputSchema)
		if err != nil {
			return nil, errors.Mark(errors.Wrapf(err, "tool %q", d.Name), mcp.ErrProtocol)
		}

		snap.index[d.Name] = len(snap.definitions)
		snap.definitions = append(snap.definitions, llm.ToolDefinition{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  params,
		})

		resolved, err := compileSchema(params)
		if err != nil {
			logger.Warn("tool_schema_unusable", "tool", d.Name, "error", err)
			continue
		}
		snap.validators[d.Name] = resolved
	}

	return snap, nil
}

// Definitions returns the tool definitions in server order. The slice is a copy.
func (s *Snapshot) Definitions() []llm.ToolDefinition {
	out := make([]llm.ToolDefinition, len(s.definitions))
	copy(out, s.definitions)
	return out
}

// Lookup finds a tool by name
func (s *Snapshot) Lookup(name string) (llm.ToolDefinition, bool) {
	i, ok := s.index[name]
	if !ok {
		return llm.ToolDefinition{}, false
	}
	return s.definitions[i], true
}

// Names returns the tool names in server order
func (s *Snapshot) Names() []string {
	names := make([]string, len(s.definitions))
	for i, d := range s.definitions {
		names[i] = d.Name
	}
	return names
}

// Len returns the number of tools
func (s *Snapshot) Len() int {
	return len(s.definitions)
}

// Validate checks args against the tool's input schema. Violations are
// marked ErrArgumentParse.
func (s *Snapshot) Validate(name string, args map[string]any) error {
	resolved, ok := s.validators[name]
	if !ok {
		return nil
	}
	if err := resolved.Validate(args); err != nil {
		return errors.Mark(errors.Wrap(err, "arguments do not match input schema"), ErrArgumentParse)
	}
	return nil
}

// toParameterSchema normalizes whatever the SDK decoded into a plain JSON object
func toParameterSchema(raw any) (llm.ParameterSchema, error) {
	if raw == nil {
		return llm.EmptyObjectSchema(), nil
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return nil, errors.Wrap(err, "encode input schema")
	}

	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, errors.Wrap(err, "decode input schema")
	}
	switch v := decoded.(type) {
	case nil:
		return llm.EmptyObjectSchema(), nil
	case map[string]any:
		return llm.ParameterSchema(v), nil
	default:
		return nil, errors.Newf("input schema is a JSON %T, not an object", v)
	}
}

func compileSchema(params llm.ParameterSchema) (*jsonschema.Resolved, error) {
	data, err := params.JSON()
	if err != nil {
		return nil, err
	}

	var schema jsonschema.Schema
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, errors.Wrap(err, "parse input schema")
	}
	// servers commonly declare draft-07; the keywords used for arguments are the same
	schema.Schema = ""

	resolved, err := schema.Resolve(nil)
	if err != nil {
		return nil, errors.Wrap(err, "resolve input schema")
	}
	return resolved, nil
}
