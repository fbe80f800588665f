package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/jaimegago/mcpbridge/internal/bridge"
	"github.com/jaimegago/mcpbridge/internal/client"
	"github.com/jaimegago/mcpbridge/internal/config"
	"github.com/jaimegago/mcpbridge/internal/logging"
	"github.com/jaimegago/mcpbridge/internal/observability"
	"github.com/jaimegago/mcpbridge/internal/repl"
	"github.com/spf13/cobra"
)

type flags struct {
	configPath string
	remote     string
	logLevel   string
	logFile    string
	server     string
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	f := &flags{}
	cmd := &cobra.Command{
		Use:   "mcpbridge",
		Short: "Chat with an LLM that can call the tools of an MCP server",
		Long: `mcpbridge connects to one MCP tool server, offers its tools to the
configured LLM and answers your queries in a chat loop.

Examples:
  mcpbridge
  mcpbridge --server local
  mcpbridge --remote http://localhost:7777`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), f)
		},
	}
	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "config file (default $MCPBRIDGE_CONFIG or ~/.config/mcpbridge/config.yaml)")
	cmd.Flags().StringVar(&f.remote, "remote", "", "URL of a running mcpbridged to use instead of a local agent")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn, error")
	cmd.Flags().StringVar(&f.logFile, "log-file", "", "write JSON logs to this file")
	cmd.Flags().StringVarP(&f.server, "server", "s", "", "MCP server to connect to, by name")
	return cmd
}

func run(ctx context.Context, f *flags) error {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	if f.logLevel != "" {
		cfg.Logging.Level = f.logLevel
	}
	if f.logFile != "" {
		cfg.Logging.File = f.logFile
	}
	if f.server != "" {
		cfg.MCP.Current = f.server
	}

	logger, closeLog := logging.SetupLoggerWithFile(cfg.Logging.Level, cfg.Logging.File)
	defer closeLog()
	slog.SetDefault(logger)

	if f.remote != "" {
		c := client.New(f.remote)
		if err := c.CheckDaemon(ctx); err != nil {
			return err
		}
		return repl.New(c, cfg).Run(ctx)
	}

	shutdownOtel, err := observability.Setup(ctx, observability.DefaultConfig())
	if err != nil {
		return errors.Wrap(err, "failed to setup observability")
	}
	defer func() {
		if err := shutdownOtel(context.Background()); err != nil {
			logger.Warn("otel_shutdown_failed", "error", err)
		}
	}()

	mc, err := cfg.LLM.CurrentModel()
	if err != nil {
		return err
	}
	if err := config.ValidateAPIKeysWithUserMessage(mc); err != nil {
		return err
	}

	b, err := bridge.New(ctx, cfg,
		bridge.WithLogger(logger),
		bridge.WithObserver(repl.NewProgress(os.Stdout)),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to start mcpbridge with server %q", cfg.MCP.Current)
	}
	defer func() {
		if err := b.Close(); err != nil {
			logger.Warn("cleanup_failed", "error", err)
		}
	}()

	return repl.New(b.Agent(), cfg).Run(ctx)
}
