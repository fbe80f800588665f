package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	"github.com/jaimegago/mcpbridge/internal/llm"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const defaultModel = "gemini-1.5-flash"

// Client implements the LLMAdapter interface using Google's Gemini API
type Client struct {
	client *genai.Client
	model  string
}

// APIError represents an error from the Gemini API with structured details
type APIError struct {
	Code    int    // HTTP status code
	Message string // Raw API error message
	Err     error  // Enhanced error with user-friendly message
}

func (e *APIError) Error() string {
	return e.Err.Error()
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// APICode returns the HTTP status code from the API
func (e *APIError) APICode() int {
	return e.Code
}

// APIMessage returns the raw error message from the API
func (e *APIError) APIMessage() string {
	return e.Message
}

// NewClient creates a new Gemini client
// API key is read from GEMINI_API_KEY or GOOGLE_API_KEY environment variable
func NewClient(ctx context.Context, model string) (*Client, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		apiKey = os.Getenv("GOOGLE_API_KEY")
	}
	if apiKey == "" {
		return nil, errors.New("GEMINI_API_KEY or GOOGLE_API_KEY environment variable not set")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Gemini client")
	}

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
	model := c.client.GenerativeModel(c.model)

	if req.SystemPrompt != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{
				genai.Text(req.SystemPrompt),
			},
		}
	}
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}

	if len(req.Tools) > 0 {
		tools := make([]*genai.Tool, 0, len(req.Tools))
		for _, tool := range req.Tools {
			tools = append(tools, convertToolDefinition(tool))
		}
		model.Tools = tools
		model.ToolConfig = &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: genai.FunctionCallingAuto},
		}
	}

	contents := convertMessages(req.Messages)

	// SendMessage takes the last user turn separately from the history
	var lastParts []genai.Part
	if n := len(contents); n > 0 && contents[n-1].Role == "user" {
		lastParts = contents[n-1].Parts
		contents = contents[:n-1]
	}
	if lastParts == nil {
		lastParts = []genai.Part{genai.Text("")}
	}

	chat := model.StartChat()
	chat.History = contents

	resp, err := chat.SendMessage(ctx, lastParts...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.Mark(c.enhanceError(ctx, err), llm.ErrModelAPIFailure)
	}

	return convertResponse(resp), nil
}

// convertMessages builds the Gemini history. Consecutive tool results become
// one user content holding every FunctionResponse of the round.
func convertMessages(msgs []llm.Message) []*genai.Content {
	var contents []*genai.Content

	for _, msg := range msgs {
		var parts []genai.Part
		role := "user"

		switch msg.Role {
		case llm.RoleAssistant:
			role = "model"
			if msg.Content != "" {
				parts = append(parts, genai.Text(msg.Content))
			}
			// Gemini needs to see its own calls in history
			for _, tc := range msg.ToolCalls {
				parts = append(parts, genai.FunctionCall{
					Name: tc.Name,
					Args: decodeArgs(tc.Arguments),
				})
			}
		case llm.RoleTool:
			parts = append(parts, genai.FunctionResponse{
				Name:     msg.ToolName,
				Response: responsePayload(msg),
			})
			if n := len(contents); n > 0 && isFunctionResponses(contents[n-1]) {
				contents[n-1].Parts = append(contents[n-1].Parts, parts...)
				continue
			}
		default:
			parts = append(parts, genai.Text(msg.Content))
		}

		if len(parts) > 0 {
			contents = append(contents, &genai.Content{
				Parts: parts,
				Role:  role,
			})
		}
	}

	return contents
}

func isFunctionResponses(content *genai.Content) bool {
	if content.Role != "user" || len(content.Parts) == 0 {
		return false
	}
	for _, p := range content.Parts {
		if _, ok := p.(genai.FunctionResponse); !ok {
			return false
		}
	}
	return true
}

func decodeArgs(arguments string) map[string]any {
	args := make(map[string]any)
	if strings.TrimSpace(arguments) == "" {
		return args
	}
	if err := json.Unmarshal([]byte(arguments), &args); err != nil || args == nil {
		return map[string]any{}
	}
	return args
}

func responsePayload(msg llm.Message) map[string]any {
	if msg.IsError {
		return map[string]any{"error": msg.Content}
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(msg.Content), &data); err != nil || data == nil {
		return map[string]any{"result": msg.Content}
	}
	return data
}

// convertToolDefinition converts our tool definition to Gemini format
func convertToolDefinition(tool llm.ToolDefinition) *genai.Tool {
	schema := tool.Parameters
	if schema == nil {
		schema = llm.EmptyObjectSchema()
	}

	params := convertSchema(schema)
	params.Type = genai.TypeObject

	return &genai.Tool{
		FunctionDeclarations: []*genai.FunctionDeclaration{
			{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  params,
			},
		},
	}
}

// convertSchema maps a JSON-schema node onto genai.Schema recursively.
// Keywords Gemini has no field for are dropped.
func convertSchema(node map[string]any) *genai.Schema {
	s := &genai.Schema{}

	switch t := node["type"].(type) {
	case string:
		s.Type = schemaType(t)
	case []any:
		// ["string", "null"] style unions
		for _, v := range t {
			name, _ := v.(string)
			if name == "null" {
				s.Nullable = true
				continue
			}
			if s.Type == genai.TypeUnspecified {
				s.Type = schemaType(name)
			}
		}
	}
	if s.Type == genai.TypeUnspecified {
		s.Type = genai.TypeString
		if _, ok := node["properties"]; ok {
			s.Type = genai.TypeObject
		}
	}

	if d, ok := node["description"].(string); ok {
		s.Description = d
	}
	if f, ok := node["format"].(string); ok && (f == "enum" || f == "date-time" || f == "int32" || f == "int64" || f == "float" || f == "double") {
		s.Format = f
	}
	if n, ok := node["nullable"].(bool); ok && n {
		s.Nullable = true
	}
	if values, ok := node["enum"].([]any); ok {
		for _, v := range values {
			s.Enum = append(s.Enum, fmt.Sprint(v))
		}
		if s.Type == genai.TypeString {
			s.Format = "enum"
		}
	}

	if items, ok := node["items"].(map[string]any); ok {
		s.Items = convertSchema(items)
	} else if s.Type == genai.TypeArray {
		s.Items = &genai.Schema{Type: genai.TypeString}
	}

	if props, ok := node["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, raw := range props {
			if child, ok := raw.(map[string]any); ok {
				s.Properties[name] = convertSchema(child)
			}
		}
	}

	s.Required = llm.ParameterSchema(node).Required()

	return s
}

func schemaType(name string) genai.Type {
	switch name {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	}
	return genai.TypeUnspecified
}

// convertResponse converts Gemini response to our response format
func convertResponse(resp *genai.GenerateContentResponse) *llm.ChatResponse {
	result := &llm.ChatResponse{}
	if resp.UsageMetadata != nil {
		result.Usage = llm.TokenUsage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:  int(resp.UsageMetadata.TotalTokenCount),
		}
	}

	// Only the first candidate is a conversation continuation
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return result
	}

	for _, part := range resp.Candidates[0].Content.Parts {
		switch v := part.(type) {
		case genai.Text:
			result.Content += string(v)
		case genai.FunctionCall:
			args, err := json.Marshal(v.Args)
			if err != nil || v.Args == nil {
				args = []byte("{}")
			}
			result.ToolCalls = append(result.ToolCalls, llm.ToolCall{
				// Gemini has no call ids
				ID:        "call_" + uuid.NewString(),
				Name:      v.Name,
				Arguments: string(args),
			})
		}
	}

	return result
}

// enhanceError provides better error messages for common API errors
// Returns *APIError with structured details for logging
func (c *Client) enhanceError(ctx context.Context, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		var enhancedErr error
		switch apiErr.Code {
		case 404:
			modelName := c.model

			hint := ""
			if strings.HasPrefix(modelName, "claude") || strings.HasPrefix(modelName, "gpt") {
				hint = fmt.Sprintf("\n\nNote: '%s' does not look like a Gemini model name.", modelName)
			}

			availableModels := c.listAvailableModels(ctx)
			if len(availableModels) > 0 {
				enhancedErr = errors.Newf("model '%s' not found for Gemini provider.%s\n\nAvailable models:\n  - %s\n\nUpdate your config file or use:\n  export MCPBRIDGE_LLM_MODEL=%s",
					modelName, hint, strings.Join(availableModels, "\n  - "), availableModels[0])
			} else {
				suggestions := []string{
					"gemini-1.5-flash (recommended)",
					"gemini-1.5-pro",
					"gemini-2.0-flash",
				}
				enhancedErr = errors.Newf("model '%s' not found for Gemini provider.%s\n\nTry these models:\n  - %s\n\nUpdate your config file or use:\n  export MCPBRIDGE_LLM_MODEL=gemini-1.5-flash",
					modelName, hint, strings.Join(suggestions, "\n  - "))
			}
		case 400:
			enhancedErr = errors.Newf("invalid request to Gemini API: %s\n\nThis might indicate an unsupported model or a tool schema Gemini cannot represent.", apiErr.Message)
		case 403:
			enhancedErr = errors.Newf("authentication failed with Gemini API: %s\n\nCheck that your GEMINI_API_KEY is valid.", apiErr.Message)
		case 429:
			enhancedErr = errors.Newf("rate limit exceeded for Gemini API: %s\n\nWait a few minutes, check your quota at https://aistudio.google.com/apikey or switch models with /model.", apiErr.Message)
		default:
			enhancedErr = errors.Newf("Gemini API error (%d): %s", apiErr.Code, apiErr.Message)
		}

		return &APIError{
			Code:    apiErr.Code,
			Message: apiErr.Message,
			Err:     enhancedErr,
		}
	}

	return errors.Wrap(err, "gemini API call failed")
}

// listAvailableModels fetches the list of available models from Gemini API
func (c *Client) listAvailableModels(ctx context.Context) []string {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	iter := c.client.ListModels(ctx)
	var models []string

	for {
		model, err := iter.Next()
		if err != nil {
			break
		}

		if model != nil && strings.Contains(model.Name, "models/") {
			modelName := strings.TrimPrefix(model.Name, "models/")
			for _, method := range model.SupportedGenerationMethods {
				if method == "generateContent" {
					models = append(models, modelName)
					break
				}
			}
		}

		// Keep the error message readable
		if len(models) >= 10 {
			break
		}
	}

	return models
}

// Close closes the Gemini client
func (c *Client) Close() error {
	return c.client.Close()
}
