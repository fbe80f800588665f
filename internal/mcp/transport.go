package mcp

import (
	"io"
	"net/url"
	"os"
	"os/exec"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/jaimegago/mcpbridge/internal/config"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Transport kinds accepted in MCPServerConfig.Transport
const (
	TransportStdio = "stdio"
	TransportSSE   = "sse"
	TransportHTTP  = "http"
)

// transportBuilder is overridden in tests to stub the transport factory.
var transportBuilder = buildTransport

// TransportKind resolves the transport a server config asks for. A command
// means stdio; a bare URL means SSE.
func TransportKind(sc config.MCPServerConfig) (string, error) {
	kind := strings.ToLower(strings.TrimSpace(sc.Transport))
	switch kind {
	case "":
		if strings.TrimSpace(sc.Command) != "" {
			return TransportStdio, nil
		}
		if strings.TrimSpace(sc.URL) != "" {
			return TransportSSE, nil
		}
		return "", errors.New("mcp: server config needs a command or a url")
	case TransportStdio:
		if strings.TrimSpace(sc.Command) == "" {
			return "", errors.New("mcp: stdio transport needs a command")
		}
		return kind, nil
	case TransportSSE, TransportHTTP:
		if strings.TrimSpace(sc.URL) == "" {
			return "", errors.Newf("mcp: %s transport needs a url", kind)
		}
		return kind, nil
	}
	return "", errors.Newf("mcp: unsupported transport %q", sc.Transport)
}

func buildTransport(sc config.MCPServerConfig, stderr io.Writer) (mcpsdk.Transport, error) {
	kind, err := TransportKind(sc)
	if err != nil {
		return nil, err
	}

	switch kind {
	case TransportStdio:
		return &mcpsdk.CommandTransport{Command: buildCommand(sc, stderr)}, nil
	case TransportSSE:
		endpoint, err := normalizeHTTPURL(sc.URL)
		if err != nil {
			return nil, errors.Wrap(err, "mcp: invalid SSE endpoint")
		}
		return &mcpsdk.SSEClientTransport{Endpoint: endpoint}, nil
	default:
		endpoint, err := normalizeHTTPURL(sc.URL)
		if err != nil {
			return nil, errors.Wrap(err, "mcp: invalid HTTP endpoint")
		}
		return &mcpsdk.StreamableClientTransport{Endpoint: endpoint}, nil
	}
}

// buildCommand spawns the server with the parent environment plus the
// configured entries, whose values may reference ${VARS}.
func buildCommand(sc config.MCPServerConfig, stderr io.Writer) *exec.Cmd {
	// #nosec G204 -- the command comes from the operator's server config
	cmd := exec.Command(sc.Command, sc.Args...)
	cmd.Env = MergeEnv(os.Environ(), sc.Env)
	if stderr == nil {
		stderr = io.Discard
	}
	cmd.Stderr = stderr
	return cmd
}

// MergeEnv appends the expanded extra entries to base. Later entries win
// when the child process reads its environment.
func MergeEnv(base []string, extra map[string]string) []string {
	env := make([]string, 0, len(base)+len(extra))
	env = append(env, base...)
	for k, v := range extra {
		env = append(env, k+"="+os.ExpandEnv(v))
	}
	return env
}

func normalizeHTTPURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("endpoint is empty")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", errors.Newf("unsupported scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", errors.New("missing host")
	}
	parsed.Scheme = scheme
	return parsed.String(), nil
}
