package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/michelebogoni/sitepilot/internal/config"
	"github.com/michelebogoni/sitepilot/internal/logger"
	"github.com/michelebogoni/sitepilot/internal/orchestrator"
)

// main is the entry point for the SitePilot executor service.
//
// The executor:
//   - validates AI-generated PHP against the security deny-list
//   - runs accepted code through the snippet, custom file or direct method
//   - snapshots the touched WordPress entities before and after each run
//   - replays frozen rollback instructions on request (HTTP or NATS)
//
// Lifecycle:
//  1. Load configuration from environment variables and .env
//  2. Connect storage and build the execution pipeline
//  3. Serve HTTP, gRPC and health until SIGINT or SIGTERM
//  4. Gracefully close all connections
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logg, err := logger.New(cfg.LogMode)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logg.Sync()

	logg.Info("SitePilot executor starting",
		"http_port", cfg.HTTPPort,
		"grpc_port", cfg.GRPCPort,
		"health_port", cfg.HealthPort,
		"sandbox", cfg.ExecutionSandbox,
		"timeout_seconds", cfg.ExecutionTimeout,
		"backup_dir", cfg.BackupDir,
		"event_bus", cfg.EnableEventBus,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch := orchestrator.NewOrchestrator(cfg, logg)
	if err := orch.Start(ctx); err != nil {
		logg.Error("Failed to start orchestrator", "error", err)
		_ = orch.Stop()
		os.Exit(1)
	}

	if err := orch.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error("Orchestrator error", "error", err)
	}

	logg.Info("Shutting down")
	if err := orch.Stop(); err != nil {
		logg.Error("Error during shutdown", "error", err)
	}

	logg.Info("Executor stopped")
}
