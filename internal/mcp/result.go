package mcp

import (
	"encoding/json"
	"strings"

	"github.com/cockroachdb/errors"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// CallResult is the server's answer to one tool call
type CallResult struct {
	Content           []mcpsdk.Content
	StructuredContent any
	IsError           bool
}

func newCallResult(res *mcpsdk.CallToolResult) *CallResult {
	if res == nil {
		return &CallResult{}
	}
	return &CallResult{
		Content:           res.Content,
		StructuredContent: res.StructuredContent,
		IsError:           res.IsError,
	}
}

// Text renders the result for the model: text blocks joined by newlines,
// other blocks as their JSON wire form, and the structured content as JSON
// when there are no blocks at all.
func (r *CallResult) Text() (string, error) {
	if r == nil {
		return "", nil
	}

	if len(r.Content) == 0 {
		if r.StructuredContent == nil {
			return "", nil
		}
		raw, err := json.Marshal(r.StructuredContent)
		if err != nil {
			return "", errors.Mark(errors.Wrap(err, "encode structured content"), ErrProtocol)
		}
		return string(raw), nil
	}

	parts := make([]string, 0, len(r.Content))
	for _, c := range r.Content {
		switch v := c.(type) {
		case *mcpsdk.TextContent:
			parts = append(parts, v.Text)
		case nil:
			continue
		default:
			raw, err := json.Marshal(v)
			if err != nil {
				return "", errors.Mark(errors.Wrap(err, "encode content block"), ErrProtocol)
			}
			parts = append(parts, string(raw))
		}
	}
	return strings.Join(parts, "\n"), nil
}
