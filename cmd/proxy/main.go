package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hasirciogluhq/xrelay/cmd/proxy/internal/api"
	"github.com/hasirciogluhq/xrelay/cmd/proxy/internal/config"
	"github.com/hasirciogluhq/xrelay/cmd/proxy/internal/core"
	"github.com/hasirciogluhq/xrelay/cmd/proxy/internal/factory"
	"github.com/hasirciogluhq/xrelay/cmd/proxy/internal/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration from environment
	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, closeLog, err := logger.New(logger.Options{Debug: cfg.Debug, FilePath: cfg.LogFile})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Logger error: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	log.Info("Starting xrelay...",
		"listen", cfg.ListenAddr(),
		"max_connections", cfg.MaxConnections,
		"probe", cfg.ProbeEnabled)

	// Build the allow-list (resolved once, immutable afterwards)
	accessList, err := factory.NewAccessFactory(cfg, log).Create(ctx)
	if err != nil {
		logger.Fatal(log, "Failed to build allow-list", "error", err)
	}

	// Create the TARGET relay handler
	connectionHandler := factory.NewProxyFactory(cfg, log).Create()

	// Start TCP listener
	listener, err := core.Listen(ctx, cfg.ListenHost, cfg.ListenPort)
	if err != nil {
		logger.Fatal(log, "Failed to start listener", "addr", cfg.ListenAddr(), "error", err)
	}
	log.Info("Relay listening", "addr", listener.Addr().String())

	// Create and start server
	server := &core.Server{
		Listener:          listener,
		Access:            accessList,
		ConnectionHandler: connectionHandler,
		Logger:            log,
		MaxConnections:    int64(cfg.MaxConnections),
	}

	// Start health server
	if cfg.HealthServerEnabled {
		healthServer := api.NewHealthServer(":"+cfg.HealthServerPort, server.Stats, log)
		healthServer.Start()
		defer healthServer.Stop(context.Background())

		// Mark as ready
		healthServer.SetReady(true)
	}
	log.Info("Relay is ready to accept connections")

	// Start serving (blocking)
	if err := server.Serve(ctx); err != nil {
		logger.Fatal(log, "Server error", "error", err)
	}
	log.Info("Shutting down...")
}
