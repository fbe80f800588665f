package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jaimegago/mcpbridge/internal/api"
	"github.com/jaimegago/mcpbridge/internal/bridge"
	"github.com/jaimegago/mcpbridge/internal/config"
	"github.com/jaimegago/mcpbridge/internal/logging"
	"github.com/jaimegago/mcpbridge/internal/observability"
)

func main() {
	configPath := flag.String("config", "", "config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.SetupLogger(cfg.Logging.Level)
	slog.SetDefault(logger)
	gin.SetMode(gin.ReleaseMode)

	if err := run(cfg, logger); err != nil {
		logger.Error("mcpbridged failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOtel, err := observability.Setup(ctx, observability.DefaultConfig())
	if err != nil {
		return err
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
	if err := config.ValidateAPIKeys(mc); err != nil {
		return err
	}

	b, err := bridge.New(ctx, cfg, bridge.WithLogger(logger), bridge.WithServerStderr(os.Stderr))
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(); err != nil {
			logger.Warn("cleanup_failed", "error", err)
		}
	}()

	apiServer := api.New(b.Agent(), b, logger)
	server := &http.Server{
		Addr:        cfg.Server.Address,
		Handler:     apiServer.Handler(),
		ReadTimeout: 30 * time.Second,
		// queries span several model calls and tool calls
		WriteTimeout: 10 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("mcpbridged starting", "addr", cfg.Server.Address, "server", b.ServerName(), "model", cfg.LLM.Current)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	logger.Info("mcpbridged stopped")
	return nil
}
