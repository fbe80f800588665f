package llm

import (
	"context"

	"github.com/cockroachdb/errors"
)

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ErrModelAPIFailure marks any failure of the model API call: network, auth,
// quota or a response that could not be interpreted.
var ErrModelAPIFailure = errors.New("model API failure")

// LLMAdapter is the interface for chat providers (Azure OpenAI, OpenAI, Claude, Gemini).
// The model decides on its own whether to answer in text or request tool calls.
type LLMAdapter interface {
	// Chat sends the whole conversation plus the tool definitions and returns
	// either text or a set of tool calls
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// ChatRequest represents a request to the LLM
type ChatRequest struct {
	SystemPrompt string
	Messages     []Message
	Tools        []ToolDefinition
	MaxTokens    int
}

// ChatResponse represents a response from the LLM
type ChatResponse struct {
	Content   string
	ToolCalls []ToolCall
	Usage     TokenUsage
}

// HasToolCalls reports whether the model asked for at least one tool call
func (r *ChatResponse) HasToolCalls() bool {
	return r != nil && len(r.ToolCalls) > 0
}

// Message represents one turn in the conversation
type Message struct {
	Role       string     // "user", "assistant", "tool"
	Content    string     // Text content
	ToolCalls  []ToolCall // For assistant messages: the tool calls made, in model order
	ToolCallID string     // For tool result messages: references the tool call ID
	ToolName   string     // For tool result messages: the tool name (needed by Gemini)
	IsError    bool       // For tool result messages: whether the result is a failure
}

// ToolDefinition describes a tool available to the LLM
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  ParameterSchema
}

// ToolCall represents a tool call from the LLM.
// Arguments is the raw JSON payload exactly as the provider returned it.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// TokenUsage tracks token consumption
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Add returns the sum of two usages
func (u TokenUsage) Add(other TokenUsage) TokenUsage {
	return TokenUsage{
		InputTokens:  u.InputTokens + other.InputTokens,
		OutputTokens: u.OutputTokens + other.OutputTokens,
		TotalTokens:  u.TotalTokens + other.TotalTokens,
	}
}
