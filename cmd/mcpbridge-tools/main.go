// mcpbridge-tools is a small MCP server over stdio exposing local tools
// (echo, read_file, local_git_status).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jaimegago/mcpbridge/internal/config"
	"github.com/jaimegago/mcpbridge/internal/logging"
	"github.com/jaimegago/mcpbridge/internal/toolserver"
)

func main() {
	// stdout carries the protocol
	logger := logging.SetupLoggerTo(os.Stderr, os.Getenv(config.EnvLogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := toolserver.ServeStdio(ctx, toolserver.NewDefaultRegistry(), logger); err != nil && ctx.Err() == nil {
		logger.Error("tool server failed", "error", err)
		os.Exit(1)
	}
}
