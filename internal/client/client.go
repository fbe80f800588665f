// Package client talks to a running mcpbridged over its HTTP API
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jaimegago/mcpbridge/internal/api"
	"github.com/jaimegago/mcpbridge/internal/llm"
	"github.com/jaimegago/mcpbridge/internal/useragent"
)

const statusTimeout = 5 * time.Second

var _ api.Agent = (*Client)(nil)

// APIError is a non-2xx answer from mcpbridged
type APIError struct {
	StatusCode int
	Kind       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("mcpbridged: %s (status %d)", e.Message, e.StatusCode)
}

// Client connects to the mcpbridged HTTP API
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu    sync.Mutex
	model string
}

// New creates a new mcpbridged client. Requests carry no client-side
// timeout; queries can run for as long as the caller's context allows.
func New(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
}

// GetStatus checks if mcpbridged is running
func (c *Client) GetStatus(ctx context.Context) (*api.StatusResponse, error) {
	var status api.StatusResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/status", nil, &status); err != nil {
		return nil, err
	}
	c.setModel(status.Model)
	return &status, nil
}

// Ping checks connectivity to mcpbridged
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.GetStatus(ctx)
	return err
}

// Tools lists the tools offered by the daemon's tool server
func (c *Client) Tools(ctx context.Context) ([]llm.ToolDefinition, error) {
	var resp api.ToolsResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/tools", nil, &resp); err != nil {
		return nil, err
	}
	defs := make([]llm.ToolDefinition, len(resp.Tools))
	for i, t := range resp.Tools {
		defs[i] = llm.ToolDefinition{Name: t.Name, Description: t.Description, Parameters: t.Parameters}
	}
	return defs, nil
}

// Run sends one query to the daemon. The returned transcript carries the
// answer and accounting but no turns.
func (c *Client) Run(ctx context.Context, query string) (*useragent.Transcript, error) {
	var resp api.QueryResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/query", api.QueryRequest{Query: query}, &resp); err != nil {
		return nil, err
	}
	return &useragent.Transcript{
		Answer: resp.Answer,
		Usage: llm.TokenUsage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
		Rounds:     resp.Rounds,
		ModelCalls: resp.ModelCalls,
	}, nil
}

// ProcessQuery sends one query and returns the answer text
func (c *Client) ProcessQuery(ctx context.Context, query string) (string, error) {
	t, err := c.Run(ctx, query)
	if err != nil {
		return "", err
	}
	return t.Answer, nil
}

// SwitchModel asks the daemon to swap its model
func (c *Client) SwitchModel(ctx context.Context, provider, model, displayName string) error {
	var resp api.ModelResponse
	req := api.ModelRequest{Name: displayName, Provider: provider, Model: model}
	if err := c.do(ctx, http.MethodPost, "/api/v1/model", req, &resp); err != nil {
		return err
	}
	c.setModel(resp.Model)
	return nil
}

// CurrentModelName returns the model name last reported by the daemon
func (c *Client) CurrentModelName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model
}

func (c *Client) setModel(name string) {
	c.mu.Lock()
	c.model = name
	c.mu.Unlock()
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.Wrap(err, "create request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return errors.WithStack(ctx.Err())
		}
		return errors.Wrap(err, "request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}

// decodeError turns an error response into an *APIError marked with the
// sentinel its kind stands for, so errors.Is works across the wire
func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(resp.Body)

	var er api.ErrorResponse
	if err := json.Unmarshal(data, &er); err != nil || er.Error == "" {
		er = api.ErrorResponse{Error: strings.TrimSpace(string(data)), Kind: api.KindInternal}
	}
	if er.Error == "" {
		er.Error = http.StatusText(resp.StatusCode)
	}

	var err error = &APIError{StatusCode: resp.StatusCode, Kind: er.Kind, Message: er.Error}
	if sentinel := api.Sentinel(er.Kind); sentinel != nil {
		err = errors.Mark(err, sentinel)
	}
	return err
}

// CheckDaemon pings the daemon with a short timeout
func (c *Client) CheckDaemon(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, statusTimeout)
	defer cancel()
	if err := c.Ping(ctx); err != nil {
		return errors.Wrapf(err, "mcpbridged not reachable at %s", c.baseURL)
	}
	return nil
}
