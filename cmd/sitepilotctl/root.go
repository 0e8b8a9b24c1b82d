package main

import (
	"context"
	"fmt"
	"os"

	"github.com/michelebogoni/sitepilot/internal/config"
	"github.com/michelebogoni/sitepilot/internal/logger"
	"github.com/michelebogoni/sitepilot/internal/snapshot"
	"github.com/spf13/cobra"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "sitepilotctl",
	Short: "Operate the SitePilot executor's snapshots and validator",
	Long: `sitepilotctl is the operator tool for the SitePilot executor.

It reads the same environment (and .env file) as the service, so it talks
to the same snapshot database, backup directory and WordPress database.

Use it to check PHP against the security deny-list, inspect snapshots,
trigger rollbacks by hand and run retention outside the service.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log service internals to stderr")
}

func newLogger() *logger.Logger {
	if !verbose {
		return logger.NewNop()
	}
	log, err := logger.New("development")
	if err != nil {
		return logger.NewNop()
	}
	return log
}

// openSnapshots connects to the snapshot database named by the environment.
// The returned func releases the connection.
func openSnapshots(ctx context.Context) (*config.Config, *snapshot.Manager, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, err
	}

	repo, err := snapshot.NewPostgresRepository(ctx, cfg.SnapshotDatabaseURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to connect to snapshot database: %w", err)
	}

	manager := snapshot.NewManager(repo, cfg.BackupDir, newLogger())
	return cfg, manager, repo.Close, nil
}
