package llm

import (
	"encoding/json"
	"sort"
)

// ParameterSchema is a JSON-schema object describing a tool's arguments.
// It is handed to the providers structurally unchanged.
type ParameterSchema map[string]any

// EmptyObjectSchema returns the schema of a tool that takes no arguments
func EmptyObjectSchema() ParameterSchema {
	return ParameterSchema{
		"type":       "object",
		"properties": map[string]any{},
	}
}

// Type returns the top level "type", defaulting to "object"
func (s ParameterSchema) Type() string {
	if t, ok := s["type"].(string); ok && t != "" {
		return t
	}
	return "object"
}

// Properties returns the "properties" member, or an empty map
func (s ParameterSchema) Properties() map[string]any {
	if props, ok := s["properties"].(map[string]any); ok {
		return props
	}
	return map[string]any{}
}

// PropertyNames returns the property names in sorted order
func (s ParameterSchema) PropertyNames() []string {
	props := s.Properties()
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Required returns the "required" member as strings.
// Decoded JSON yields []any, hand-built schemas usually []string.
func (s ParameterSchema) Required() []string {
	switch v := s["required"].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if name, ok := item.(string); ok {
				out = append(out, name)
			}
		}
		return out
	}
	return nil
}

// JSON returns the canonical JSON encoding of the schema
func (s ParameterSchema) JSON() ([]byte, error) {
	if s == nil {
		return json.Marshal(EmptyObjectSchema())
	}
	return json.Marshal(map[string]any(s))
}
