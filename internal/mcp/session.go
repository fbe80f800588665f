// Package mcp owns the single connection to a Model Context Protocol tool
// server: transport setup, handshake, tool listing, tool calls and teardown.
package mcp

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/jaimegago/mcpbridge/internal/config"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	clientName    = "mcpbridge"
	clientVersion = "0.1.0"
)

// ToolDescriptor is one tool as the server advertises it. InputSchema is the
// decoded JSON value, left for the catalog to check.
type ToolDescriptor struct {
	Name        string
	Description string
	InputSchema any
}

// Session is a connection to one tool server. It is safe for concurrent use;
// Connect and Close are serialized against in-flight calls.
type Session struct {
	mu      sync.RWMutex
	client  *mcpsdk.Client
	session *mcpsdk.ClientSession
	name    string

	logger *slog.Logger
	stderr io.Writer
}

// SessionOption configures a Session
type SessionOption func(*Session)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithServerStderr sends a stdio server's stderr to w instead of discarding it
func WithServerStderr(w io.Writer) SessionOption {
	return func(s *Session) {
		s.stderr = w
	}
}

// NewSession creates an unconnected session
func NewSession(opts ...SessionOption) *Session {
	s := &Session{
		client: mcpsdk.NewClient(&mcpsdk.Implementation{Name: clientName, Version: clientVersion}, nil),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect spawns or dials the server described by sc and performs the
// protocol handshake
func (s *Session) Connect(ctx context.Context, name string, sc config.MCPServerConfig) error {
	transport, err := transportBuilder(sc, s.stderr)
	if err != nil {
		return errors.Wrapf(err, "connect to %s", name)
	}
	return s.ConnectTransport(ctx, name, transport)
}

// ConnectTransport performs the handshake over an already built transport
func (s *Session) ConnectTransport(ctx context.Context, name string, transport mcpsdk.Transport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session != nil {
		return errors.Newf("mcp: already connected to %s", s.name)
	}

	session, err := s.client.Connect(ctx, transport, nil)
	if err != nil {
		return errors.Wrapf(err, "mcp: handshake with %s failed", name)
	}
	s.session = session
	s.name = name

	attrs := []any{"server", name}
	if res := session.InitializeResult(); res != nil && res.ServerInfo != nil {
		attrs = append(attrs, "server_name", res.ServerInfo.Name, "server_version", res.ServerInfo.Version)
	}
	s.logger.Info("mcp_connected", attrs...)
	return nil
}

// Connected reports whether a handshake has completed and Close has not been called
func (s *Session) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session != nil
}

// Name returns the configured name of the connected server
func (s *Session) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.name
}

func (s *Session) current() (*mcpsdk.ClientSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return nil, ErrNotConnected
	}
	return s.session, nil
}

// ListTools drains every page of the server's tool listing
func (s *Session) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	session, err := s.current()
	if err != nil {
		return nil, err
	}

	var tools []ToolDescriptor
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			err = convertError(err)
			if !errors.Is(err, ErrConnectionClosed) {
				// a server that cannot list its tools is broken, not busy
				err = errors.Mark(err, ErrProtocol)
			}
			return nil, errors.Wrap(err, "mcp: list tools")
		}
		if tool == nil {
			return nil, errors.Mark(errors.New("mcp: server listed a null tool"), ErrProtocol)
		}
		tools = append(tools, ToolDescriptor{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
		})
	}
	return tools, nil
}

// CallTool invokes one tool. A server-side tool failure comes back as a
// result with IsError set; an error return means the request itself failed.
func (s *Session) CallTool(ctx context.Context, name string, args map[string]any) (*CallResult, error) {
	session, err := s.current()
	if err != nil {
		return nil, err
	}

	if args == nil {
		args = map[string]any{}
	}
	res, err := session.CallTool(ctx, &mcpsdk.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.WithStack(ctx.Err())
		}
		return nil, errors.Wrapf(convertResponseError(err), "mcp: call %s", name)
	}
	return newCallResult(res), nil
}

// Close ends the session and, for stdio servers, the subprocess
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return nil
	}
	err := s.session.Close()
	s.session = nil
	s.logger.Info("mcp_disconnected", "server", s.name)
	if err != nil && !errors.Is(err, mcpsdk.ErrConnectionClosed) {
		return errors.Wrap(err, "mcp: close session")
	}
	return nil
}
