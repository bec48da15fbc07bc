package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/felixgeelhaar/techshelf/internal/config"
	"github.com/felixgeelhaar/techshelf/internal/logging"
	mcpserver "github.com/felixgeelhaar/techshelf/internal/mcp"
	"github.com/felixgeelhaar/techshelf/internal/storefront"
)

// cmdMCP runs an in-process engine behind an MCP server on stdio. It uses
// the same storage as the daemon, so only one of them should run at a time.
func cmdMCP() error {
	dir, err := config.EnsureTechshelfDir()
	if err != nil {
		return fmt.Errorf("ensure techshelf dir: %w", err)
	}

	cfg, err := config.LoadLocalConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// stdout carries the protocol
	logFile, err := logging.Setup(logging.Options{Dir: dir, File: "mcp.log", Level: cfg.Daemon.LogLevel})
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer logFile.Close()

	engine, err := storefront.New(storefront.Options{Config: cfg, Dir: dir})
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := engine.Close(ctx); err != nil {
			slog.Warn("failed to close engine", "error", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	engine.Start(ctx)

	mcpSrv := mcpserver.NewServer(mcpserver.Config{Engine: engine, Version: Version})
	return mcpSrv.ServeStdio(ctx)
}
