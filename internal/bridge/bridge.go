// Package bridge assembles a ready agent from configuration: the model
// adapter, the tool server session, the catalog and the executor.
package bridge

import (
	"context"
	"io"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/jaimegago/mcpbridge/internal/config"
	"github.com/jaimegago/mcpbridge/internal/llm"
	"github.com/jaimegago/mcpbridge/internal/llmfactory"
	"github.com/jaimegago/mcpbridge/internal/mcp"
	"github.com/jaimegago/mcpbridge/internal/tools"
	"github.com/jaimegago/mcpbridge/internal/useragent"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Bridge owns one model adapter and one tool server session
type Bridge struct {
	config  *config.Config
	adapter llm.LLMAdapter
	session *mcp.Session
	agent   *useragent.Agent
	logger  *slog.Logger
}

type options struct {
	logger    *slog.Logger
	observer  useragent.Observer
	adapter   llm.LLMAdapter
	factory   useragent.AdapterFactory
	transport mcpsdk.Transport
	stderr    io.Writer
}

// Option configures New
type Option func(*options)

// WithLogger sets the logger used by every component
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithObserver sets the agent's progress observer
func WithObserver(obs useragent.Observer) Option {
	return func(o *options) { o.observer = obs }
}

// WithAdapter uses adapter instead of building one from the current model.
// The bridge closes it on Close.
func WithAdapter(adapter llm.LLMAdapter) Option {
	return func(o *options) { o.adapter = adapter }
}

// WithAdapterFactory replaces the factory used for /model switches
func WithAdapterFactory(f useragent.AdapterFactory) Option {
	return func(o *options) { o.factory = f }
}

// WithTransport connects over transport instead of the configured server
func WithTransport(t mcpsdk.Transport) Option {
	return func(o *options) { o.transport = t }
}

// WithServerStderr forwards a stdio server's stderr to w
func WithServerStderr(w io.Writer) Option {
	return func(o *options) { o.stderr = w }
}

// New connects to the current tool server and builds the agent
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Bridge, error) {
	o := &options{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	if o.factory == nil {
		o.factory = llmfactory.Factory(o.logger)
	}

	mc, err := cfg.LLM.CurrentModel()
	if err != nil {
		return nil, err
	}
	serverName, sc, err := cfg.MCP.CurrentServer()
	if err != nil {
		return nil, err
	}

	adapter, owned := o.adapter, o.adapter == nil
	if owned {
		if adapter, err = llmfactory.NewInstrumentedAdapter(ctx, mc, o.logger); err != nil {
			return nil, errors.Wrap(err, "create llm adapter")
		}
	}

	session := mcp.NewSession(mcp.WithLogger(o.logger), mcp.WithServerStderr(o.stderr))
	if o.transport != nil {
		err = session.ConnectTransport(ctx, serverName, o.transport)
	} else {
		err = session.Connect(ctx, serverName, sc)
	}
	if err != nil {
		if owned {
			_ = closeAdapter(adapter)
		}
		return nil, err
	}

	catalog := tools.NewCatalog(session, o.logger)
	executor := tools.NewExecutor(session,
		tools.WithParallel(cfg.Agent.ParallelToolCalls),
		tools.WithToolTimeout(cfg.Agent.ToolTimeout),
		tools.WithLogger(o.logger),
	)
	agent := useragent.NewAgent(adapter, catalog, executor,
		useragent.WithSystemPrompt(cfg.Agent.SystemPrompt),
		useragent.WithMaxTokens(cfg.LLM.MaxTokens),
		useragent.WithMaxRounds(cfg.Agent.MaxRounds),
		useragent.WithAdapterFactory(o.factory),
		useragent.WithCurrentModelName(cfg.LLM.Current),
		useragent.WithObserver(o.observer),
		useragent.WithLogger(o.logger),
	)

	return &Bridge{
		config:  cfg,
		adapter: adapter,
		session: session,
		agent:   agent,
		logger:  o.logger,
	}, nil
}

// Agent returns the agent
func (b *Bridge) Agent() *useragent.Agent {
	return b.agent
}

// Config returns the configuration the bridge was built from
func (b *Bridge) Config() *config.Config {
	return b.config
}

// ServerName returns the name of the connected tool server
func (b *Bridge) ServerName() string {
	return b.session.Name()
}

// Connected reports whether the tool server session is up
func (b *Bridge) Connected() bool {
	return b.session.Connected()
}

// Close ends the tool server session, then releases the model client
func (b *Bridge) Close() error {
	err := b.session.Close()
	if cerr := closeAdapter(b.adapter); cerr != nil {
		err = errors.CombineErrors(err, cerr)
	}
	return err
}

func closeAdapter(adapter llm.LLMAdapter) error {
	if c, ok := adapter.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
