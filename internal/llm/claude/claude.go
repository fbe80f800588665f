package claude

import (
	"context"
	"encoding/json"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cockroachdb/errors"
	"github.com/jaimegago/mcpbridge/internal/llm"
)

const defaultModel = "claude-sonnet-4-20250514"

// Client implements the LLMAdapter interface using Anthropic's Claude API
type Client struct {
	client anthropic.Client
	model  string
}

// NewClient creates a new Claude client
// API key is read from ANTHROPIC_API_KEY environment variable
func NewClient(model string) (*Client, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, errors.New("ANTHROPIC_API_KEY environment variable not set")
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	if model == "" {
		model = defaultModel
	}

	return &Client{
		client: client,
		model:  model,
	}, nil
}

// Chat sends a chat request and returns a response
func (c *Client) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	messages := convertMessages(req.Messages)

	var tools []anthropic.ToolUnionParam
	if len(req.Tools) > 0 {
		tools = make([]anthropic.ToolUnionParam, 0, len(req.Tools))
		for _, tool := range req.Tools {
			tools = append(tools, convertToolDefinition(tool))
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(maxTokens),
		Messages:  messages,
	}

	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{
			{
				Text: req.SystemPrompt,
			},
		}
	}

	if len(tools) > 0 {
		params.Tools = tools
	}

	response, err := c.client.Messages.New(ctx, params)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.Mark(errors.Wrap(err, "anthropic API call failed"), llm.ErrModelAPIFailure)
	}

	return convertResponse(response), nil
}

// convertMessages maps the conversation onto Anthropic's block model.
// Tool results travel as tool_result blocks inside user messages. Consecutive
// results are grouped into one message because the API wants every result
// for an assistant turn in the next user turn.
func convertMessages(msgs []llm.Message) []anthropic.MessageParam {
	messages := make([]anthropic.MessageParam, 0, len(msgs))
	var pending []anthropic.ContentBlockParamUnion

	flush := func() {
		if len(pending) > 0 {
			messages = append(messages, anthropic.NewUserMessage(pending...))
			pending = nil
		}
	}

	for _, msg := range msgs {
		switch msg.Role {
		case llm.RoleTool:
			pending = append(pending, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, msg.IsError))
		case llm.RoleAssistant:
			flush()
			var blocks []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, toolInput(tc.Arguments), tc.Name))
			}
			if len(blocks) == 0 {
				blocks = append(blocks, anthropic.NewTextBlock(""))
			}
			messages = append(messages, anthropic.NewAssistantMessage(blocks...))
		default:
			flush()
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	flush()

	return messages
}

// toolInput returns the raw arguments when they are a JSON object and an
// empty object otherwise; the API rejects tool_use blocks with other inputs.
func toolInput(arguments string) any {
	var obj map[string]any
	if err := json.Unmarshal([]byte(arguments), &obj); err != nil || obj == nil {
		return map[string]any{}
	}
	return json.RawMessage(arguments)
}

// convertToolDefinition converts our tool definition to Anthropic format
func convertToolDefinition(tool llm.ToolDefinition) anthropic.ToolUnionParam {
	schema := tool.Parameters
	if schema == nil {
		schema = llm.EmptyObjectSchema()
	}

	inputSchema := anthropic.ToolInputSchemaParam{
		Properties: schema.Properties(),
	}

	if required := schema.Required(); len(required) > 0 {
		inputSchema.Required = required
	}

	// Keep keywords like additionalProperties or $defs
	extra := make(map[string]any)
	for k, v := range schema {
		switch k {
		case "type", "properties", "required":
			continue
		}
		extra[k] = v
	}
	if len(extra) > 0 {
		inputSchema.ExtraFields = extra
	}

	union := anthropic.ToolUnionParamOfTool(inputSchema, tool.Name)
	if tool.Description != "" && union.OfTool != nil {
		union.OfTool.Description = anthropic.String(tool.Description)
	}
	return union
}

// convertResponse converts Anthropic response to our response format
func convertResponse(response *anthropic.Message) *llm.ChatResponse {
	result := &llm.ChatResponse{
		Usage: llm.TokenUsage{
			InputTokens:  int(response.Usage.InputTokens),
			OutputTokens: int(response.Usage.OutputTokens),
			TotalTokens:  int(response.Usage.InputTokens + response.Usage.OutputTokens),
		},
	}

	for _, block := range response.Content {
		switch block.Type {
		case "text":
			textBlock := block.AsText()
			result.Content += textBlock.Text
		case "tool_use":
			toolBlock := block.AsToolUse()
			result.ToolCalls = append(result.ToolCalls, llm.ToolCall{
				ID:        toolBlock.ID,
				Name:      toolBlock.Name,
				Arguments: string(toolBlock.Input),
			})
		}
	}

	return result
}
