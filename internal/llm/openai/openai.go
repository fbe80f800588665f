// Package openai adapts the OpenAI chat completions API, on api.openai.com or
// on an Azure OpenAI deployment, to llm.LLMAdapter.
package openai

import (
	"context"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/jaimegago/mcpbridge/internal/llm"
	openaisdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/azure"
	"github.com/openai/openai-go/v3/option"
)

const (
	defaultModel      = "gpt-4o"
	defaultAPIVersion = "2024-10-21"
	defaultMaxTokens  = 1500
)

// Client implements the LLMAdapter interface over chat completions
type Client struct {
	client openaisdk.Client
	model  string
	azure  bool
}

// APIError carries the HTTP status of a failed completion call
type APIError struct {
	Code    int
	Message string
	Err     error
}

func (e *APIError) Error() string { return e.Err.Error() }

func (e *APIError) Unwrap() error { return e.Err }

// APICode returns the HTTP status code from the API
func (e *APIError) APICode() int { return e.Code }

// APIMessage returns the raw error message from the API
func (e *APIError) APIMessage() string { return e.Message }

// NewClient creates a client for api.openai.com.
// API key is read from OPENAI_API_KEY environment variable
func NewClient(model string, opts ...option.RequestOption) (*Client, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY environment variable not set")
	}
	if model == "" {
		model = defaultModel
	}

	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Client{
		client: openaisdk.NewClient(opts...),
		model:  model,
	}, nil
}

// NewAzureClient creates a client for an Azure OpenAI deployment.
// Reads AZURE_OPENAI_API_KEY, AZURE_OPENAI_ENDPOINT and OPENAI_API_VERSION;
// an empty deployment falls back to AZURE_OPENAI_DEPLOYMENT_NAME.
func NewAzureClient(deployment string, opts ...option.RequestOption) (*Client, error) {
	apiKey := os.Getenv("AZURE_OPENAI_API_KEY")
	endpoint := os.Getenv("AZURE_OPENAI_ENDPOINT")
	if apiKey == "" || endpoint == "" {
		return nil, errors.New("AZURE_OPENAI_API_KEY and AZURE_OPENAI_ENDPOINT environment variables must be set")
	}

	apiVersion := os.Getenv("OPENAI_API_VERSION")
	if apiVersion == "" {
		apiVersion = defaultAPIVersion
	}

	if deployment == "" {
		deployment = os.Getenv("AZURE_OPENAI_DEPLOYMENT_NAME")
	}
	if deployment == "" {
		return nil, errors.New("no Azure OpenAI deployment configured (set AZURE_OPENAI_DEPLOYMENT_NAME or the model name)")
	}

	opts = append([]option.RequestOption{
		azure.WithEndpoint(endpoint, apiVersion),
		azure.WithAPIKey(apiKey),
	}, opts...)

	return &Client{
		client: openaisdk.NewClient(opts...),
		model:  deployment,
		azure:  true,
	}, nil
}

// Chat sends a chat request and returns a response
func (c *Client) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	params := openaisdk.ChatCompletionNewParams{
		Model:     openaisdk.ChatModel(c.model),
		Messages:  convertMessages(req.SystemPrompt, req.Messages),
		MaxTokens: openaisdk.Int(int64(maxTokens)),
	}

	if len(req.Tools) > 0 {
		params.Tools = make([]openaisdk.ChatCompletionToolUnionParam, 0, len(req.Tools))
		for _, tool := range req.Tools {
			params.Tools = append(params.Tools, convertToolDefinition(tool))
		}
		params.ToolChoice = openaisdk.ChatCompletionToolChoiceOptionUnionParam{
			OfAuto: openaisdk.String("auto"),
		}
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.Mark(c.wrapError(err), llm.ErrModelAPIFailure)
	}

	resp, err := convertResponse(completion)
	if err != nil {
		return nil, errors.Mark(err, llm.ErrModelAPIFailure)
	}
	return resp, nil
}

func (c *Client) wrapError(err error) error {
	provider := "openai"
	if c.azure {
		provider = "azure openai"
	}

	var apiErr *openaisdk.Error
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		var wrapped error
		switch apiErr.StatusCode {
		case 401, 403:
			wrapped = errors.Newf("authentication failed with %s: %s", provider, msg)
		case 404:
			wrapped = errors.Newf("model or deployment %q not found on %s: %s", c.model, provider, msg)
		case 429:
			wrapped = errors.Newf("rate limit exceeded for %s: %s", provider, msg)
		default:
			wrapped = errors.Newf("%s API error (%d): %s", provider, apiErr.StatusCode, msg)
		}
		return &APIError{Code: apiErr.StatusCode, Message: msg, Err: wrapped}
	}

	return errors.Wrapf(err, "%s API call failed", provider)
}

// convertMessages maps the conversation onto chat completion messages.
// Tool results reference their call by id; assistant turns carry the
// calls with their raw argument strings.
func convertMessages(systemPrompt string, msgs []llm.Message) []openaisdk.ChatCompletionMessageParamUnion {
	out := make([]openaisdk.ChatCompletionMessageParamUnion, 0, len(msgs)+1)
	if systemPrompt != "" {
		out = append(out, openaisdk.SystemMessage(systemPrompt))
	}

	for _, msg := range msgs {
		switch msg.Role {
		case llm.RoleAssistant:
			assistant := openaisdk.ChatCompletionAssistantMessageParam{}
			if msg.Content != "" {
				assistant.Content = openaisdk.ChatCompletionAssistantMessageParamContentUnion{
					OfString: openaisdk.String(msg.Content),
				}
			}
			for _, tc := range msg.ToolCalls {
				args := tc.Arguments
				if args == "" {
					args = "{}"
				}
				assistant.ToolCalls = append(assistant.ToolCalls, openaisdk.ChatCompletionMessageToolCallUnionParam{
					OfFunction: &openaisdk.ChatCompletionMessageFunctionToolCallParam{
						ID: tc.ID,
						Function: openaisdk.ChatCompletionMessageFunctionToolCallFunctionParam{
							Name:      tc.Name,
							Arguments: args,
						},
					},
				})
			}
			out = append(out, openaisdk.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		case llm.RoleTool:
			out = append(out, openaisdk.ToolMessage(msg.Content, msg.ToolCallID))
		default:
			out = append(out, openaisdk.UserMessage(msg.Content))
		}
	}

	return out
}

// convertToolDefinition converts our tool definition to a function tool
func convertToolDefinition(tool llm.ToolDefinition) openaisdk.ChatCompletionToolUnionParam {
	params := tool.Parameters
	if params == nil {
		params = llm.EmptyObjectSchema()
	}

	def := openaisdk.FunctionDefinitionParam{
		Name:       tool.Name,
		Parameters: openaisdk.FunctionParameters(params),
	}
	if tool.Description != "" {
		def.Description = openaisdk.String(tool.Description)
	}
	return openaisdk.ChatCompletionFunctionTool(def)
}

// convertResponse converts the first choice to our response format
func convertResponse(completion *openaisdk.ChatCompletion) (*llm.ChatResponse, error) {
	if len(completion.Choices) == 0 {
		return nil, errors.New("chat completion returned no choices")
	}

	message := completion.Choices[0].Message
	result := &llm.ChatResponse{
		Content: message.Content,
		Usage: llm.TokenUsage{
			InputTokens:  int(completion.Usage.PromptTokens),
			OutputTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:  int(completion.Usage.TotalTokens),
		},
	}

	for _, tc := range message.ToolCalls {
		if tc.Function.Name == "" {
			return nil, errors.Newf("tool call %q has no function name", tc.ID)
		}
		result.ToolCalls = append(result.ToolCalls, llm.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}

	return result, nil
}
