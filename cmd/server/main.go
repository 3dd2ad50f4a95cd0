package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/edkek/eyerobot/internal/config"
	"github.com/edkek/eyerobot/internal/server"
)

const (
	defaultConfigPath = "configs/config.yaml"
	shutdownTimeout   = 10 * time.Second
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", server.ServiceName),
		slog.String("version", server.ServiceVersion),
		slog.String("config_path", *configPath),
	)

	logger.Info("Configuration loaded",
		slog.String("bind_address", cfg.Server.BindAddress),
		slog.Int("udp_port", cfg.Server.UDPPort),
		slog.Int("tcp_port", cfg.Server.GetTCPPort()),
		slog.Int("buffer_size", cfg.Server.BufferSize),
		slog.Int("handshake_workers", cfg.Server.HandshakeWorkers),
		slog.Float64("handshake_rate", cfg.Server.HandshakeRate),
		slog.Bool("allow_reconnect", cfg.Session.AllowReconnect),
		slog.Bool("enforce_ip", cfg.Session.EnforceIP),
		slog.Bool("peer_redirect", cfg.Session.PeerRedirect),
		slog.Duration("idle_timeout", cfg.Session.GetIdleTimeout()),
		slog.Bool("http_enabled", cfg.HTTP.Enabled),
		slog.Bool("journal_enabled", cfg.Journal.Enabled),
		slog.String("log_level", cfg.Logging.Level),
	)

	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Error("Failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := srv.Start(); err != nil {
		logger.Error("Failed to start server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("udp_address", srv.UDP().LocalAddr().String()),
	)

	sig := <-sigChan
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	logger.Info("Starting graceful shutdown...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Stop(ctx); err != nil {
		logger.Error("Error during shutdown", slog.String("error", err.Error()))
	}

	logger.Info("Service stopped")
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
