package api

import "github.com/jaimegago/mcpbridge/internal/llm"

// StatusResponse is returned by GET /api/v1/status
type StatusResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Time      string `json:"time"`
	Model     string `json:"model"`
	Server    string `json:"server,omitempty"`
	Connected bool   `json:"connected"`
}

// Tool is one entry of GET /api/v1/tools
type Tool struct {
	Name        string              `json:"name"`
	Description string              `json:"description"`
	Parameters  llm.ParameterSchema `json:"parameters"`
}

// ToolsResponse is returned by GET /api/v1/tools
type ToolsResponse struct {
	Tools []Tool `json:"tools"`
}

// QueryRequest is the body of POST /api/v1/query
type QueryRequest struct {
	Query string `json:"query" binding:"required"`
}

// Usage reports the tokens spent on one query
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// QueryResponse is returned by POST /api/v1/query
type QueryResponse struct {
	Answer     string `json:"answer"`
	Usage      Usage  `json:"usage"`
	Rounds     int    `json:"rounds"`
	ModelCalls int    `json:"model_calls"`
}

// ModelRequest is the body of POST /api/v1/model
type ModelRequest struct {
	Name     string `json:"name" binding:"required"`
	Provider string `json:"provider" binding:"required"`
	Model    string `json:"model"`
}

// ModelResponse is returned by POST /api/v1/model
type ModelResponse struct {
	Model string `json:"model"`
}

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}
