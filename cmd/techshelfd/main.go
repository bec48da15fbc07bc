package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/felixgeelhaar/techshelf/internal/config"
	"github.com/felixgeelhaar/techshelf/internal/daemon"
	"github.com/felixgeelhaar/techshelf/internal/logging"
	"github.com/felixgeelhaar/techshelf/internal/storefront"
)

// Version is set at build time via ldflags
var Version = "dev"

const (
	pidFileName = "techshelfd.pid"
	logFileName = "techshelfd.log"
)

func main() {
	if err := run(); err != nil {
		slog.Error("daemon error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// .env is optional; TECHSHELF_* variables override config.yaml
	_ = godotenv.Load()

	dir, err := config.EnsureTechshelfDir()
	if err != nil {
		return fmt.Errorf("ensure techshelf dir: %w", err)
	}

	cfg, err := config.LoadLocalConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logFile, err := logging.Setup(logging.Options{
		Dir:    dir,
		File:   logFileName,
		Level:  cfg.Daemon.LogLevel,
		Stderr: true,
	})
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer logFile.Close()

	pidPath := filepath.Join(dir, pidFileName)
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	engine, err := storefront.New(storefront.Options{Config: cfg, Dir: dir})
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}

	startCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeout())
	engine.Start(startCtx)
	cancel()

	server, err := daemon.NewServer(daemon.ServerConfig{Engine: engine, Version: Version})
	if err != nil {
		_ = engine.Close(context.Background())
		return fmt.Errorf("create server: %w", err)
	}

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh

		slog.Info("received signal, shutting down", "signal", sig.String())

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
		close(done)
	}()

	if err := server.Start(); !errors.Is(err, http.ErrServerClosed) {
		_ = engine.Close(context.Background())
		return fmt.Errorf("server error: %w", err)
	}

	<-done
	slog.Info("daemon stopped")
	return nil
}

func writePIDFile(path string) error {
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0644)
}
