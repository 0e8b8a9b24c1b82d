package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/michelebogoni/sitepilot/internal/executor"
	"github.com/michelebogoni/sitepilot/internal/models"
	"github.com/michelebogoni/sitepilot/internal/rollback"
	"github.com/michelebogoni/sitepilot/internal/snapshot"
	"github.com/michelebogoni/sitepilot/internal/wordpress"
	"github.com/spf13/cobra"
)

var (
	listChat       string
	cleanupDays    int
	cleanupDryRun  bool
	enforceMaxMB   int
	rollbackOutput string
)

var snapshotsCmd = &cobra.Command{
	Use:   "snapshots",
	Short: "Inspect, roll back and expire snapshots",
}

var snapshotsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a chat's live snapshots, newest first",
	Long: `List a chat's live snapshots, newest first.

Example:
  sitepilotctl snapshots list --chat 7f3c...`,
	RunE: runSnapshotsList,
}

var snapshotsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a snapshot as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runSnapshotsShow,
}

var snapshotsRollbackCmd = &cobra.Command{
	Use:   "rollback <id>",
	Short: "Replay a snapshot's rollback instructions",
	Long: `Replay a snapshot's frozen rollback instructions against the
WordPress database. Each instruction runs independently; the command exits
non-zero unless every instruction succeeded.

Example:
  sitepilotctl snapshots rollback 3b1e...
  sitepilotctl snapshots rollback 3b1e... --output json`,
	Args: cobra.ExactArgs(1),
	RunE: runSnapshotsRollback,
}

var snapshotsCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Hard-delete snapshots older than the retention period",
	Long: `Hard-delete snapshot rows and files created more than --days ago.

Example:
  sitepilotctl snapshots cleanup --days 30 --dry-run
  sitepilotctl snapshots cleanup --days 30`,
	RunE: runSnapshotsCleanup,
}

var snapshotsEnforceSizeCmd = &cobra.Command{
	Use:   "enforce-size",
	Short: "Evict the oldest snapshots until the total fits the cap",
	RunE:  runSnapshotsEnforceSize,
}

func init() {
	rootCmd.AddCommand(snapshotsCmd)
	snapshotsCmd.AddCommand(snapshotsListCmd, snapshotsShowCmd, snapshotsRollbackCmd, snapshotsCleanupCmd, snapshotsEnforceSizeCmd)

	snapshotsListCmd.Flags().StringVar(&listChat, "chat", "", "Chat ID whose snapshots to list")
	_ = snapshotsListCmd.MarkFlagRequired("chat")

	snapshotsRollbackCmd.Flags().StringVarP(&rollbackOutput, "output", "o", "text", "Output format: text or json")

	snapshotsCleanupCmd.Flags().IntVar(&cleanupDays, "days", 30, "Retention period in days")
	snapshotsCleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "Show what would be deleted without deleting")

	snapshotsEnforceSizeCmd.Flags().IntVar(&enforceMaxMB, "max-mb", 100, "Maximum total snapshot size in megabytes")
}

func runSnapshotsList(cmd *cobra.Command, args []string) error {
	_, manager, closeFn, err := openSnapshots(cmd.Context())
	if err != nil {
		return err
	}
	defer closeFn()

	snaps, err := manager.GetChatSnapshots(cmd.Context(), listChat)
	if err != nil {
		return fmt.Errorf("failed to list snapshots: %w", err)
	}

	printSnapshotTable(cmd.OutOrStdout(), snaps)
	return nil
}

func printSnapshotTable(out io.Writer, snaps []*models.Snapshot) {
	if len(snaps) == 0 {
		fmt.Fprintln(out, "No snapshots found")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCREATED\tACTION\tOPERATIONS\tINSTRUCTIONS\tSIZE")
	for _, s := range snaps {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
			s.ID,
			s.CreatedAt.Local().Format(time.DateTime),
			s.ActionID,
			len(s.Operations),
			len(s.RollbackInstructions),
			formatBytes(s.SizeBytes),
		)
	}
	_ = w.Flush()
}

func runSnapshotsShow(cmd *cobra.Command, args []string) error {
	_, manager, closeFn, err := openSnapshots(cmd.Context())
	if err != nil {
		return err
	}
	defer closeFn()

	snap, err := manager.GetSnapshot(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to load snapshot %s: %w", args[0], err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}

func runSnapshotsRollback(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, manager, closeFn, err := openSnapshots(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	store, err := wordpress.NewMySQLStore(ctx, cfg.WordPressDSN, cfg.WordPressTablePrefix)
	if err != nil {
		return fmt.Errorf("failed to connect to WordPress database: %w", err)
	}
	defer store.Close()

	log := newLogger()

	// Only the reverting half of the executor is used here.
	interpreter := executor.NewProcessInterpreter(cfg.PHPBinary, cfg.WordPressPath, cfg.MaxOutputBytes)
	methods := []executor.Method{executor.NewCustomFileMethod(cfg.CustomCodeDir, interpreter)}
	if cfg.SnippetsAPIURL != "" {
		methods = append(methods, executor.NewSnippetMethod(executor.NewSnippetsClient(cfg.SnippetsAPIURL, cfg.SnippetsAPIToken)))
	}
	reverter := executor.New(nil, methods, nil, nil, time.Duration(cfg.ExecutionTimeout)*time.Second, log)

	result := rollback.NewExecutor(manager, store, store, log, rollback.WithCodeReverter(reverter)).Execute(ctx, args[0])

	if err := printRollbackResult(cmd.OutOrStdout(), result, rollbackOutput); err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("rollback %s: %s", result.Status, result.Message)
	}
	return nil
}

func printRollbackResult(out io.Writer, result *models.RollbackResult, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	case "text", "":
	default:
		return fmt.Errorf("unknown output format %q", format)
	}

	fmt.Fprintf(out, "Status: %s\n", result.Status)
	fmt.Fprintf(out, "Message: %s\n", result.Message)
	fmt.Fprintf(out, "Restored: %d  Failed: %d\n", result.Restored, result.Failed)
	for _, op := range result.Operations {
		mark := "ok"
		if !op.Success {
			mark = "FAILED: " + op.Error
		}
		fmt.Fprintf(out, "  [%d] %s %s: %s\n", op.OperationIndex, op.Kind, op.Target, mark)
	}
	return nil
}

func runSnapshotsCleanup(cmd *cobra.Command, args []string) error {
	_, manager, closeFn, err := openSnapshots(cmd.Context())
	if err != nil {
		return err
	}
	defer closeFn()

	out := cmd.OutOrStdout()
	if cleanupDryRun {
		expired, err := manager.ExpiredSnapshots(cmd.Context(), cleanupDays)
		if err != nil {
			return fmt.Errorf("failed to list expired snapshots: %w", err)
		}
		printExpired(out, expired, cleanupDays)
		return nil
	}

	removed, err := manager.CleanupOldSnapshots(cmd.Context(), cleanupDays)
	if err != nil {
		return fmt.Errorf("cleanup failed: %w", err)
	}
	fmt.Fprintf(out, "Removed %d snapshot(s) older than %d days\n", removed, cleanupDays)
	return nil
}

func printExpired(out io.Writer, expired []snapshot.Record, days int) {
	fmt.Fprintf(out, "Would remove %d snapshot(s) older than %d days\n", len(expired), days)
	for _, rec := range expired {
		state := "live"
		if rec.Deleted {
			state = "deleted"
		}
		fmt.Fprintf(out, "  %s  %s  chat=%s  %s  %s\n",
			rec.ID, rec.CreatedAt.Local().Format(time.DateTime), rec.ChatID, state, formatBytes(rec.SizeBytes))
	}
}

func runSnapshotsEnforceSize(cmd *cobra.Command, args []string) error {
	_, manager, closeFn, err := openSnapshots(cmd.Context())
	if err != nil {
		return err
	}
	defer closeFn()

	removed, err := manager.EnforceSizeLimit(cmd.Context(), enforceMaxMB)
	if err != nil {
		return fmt.Errorf("size enforcement failed: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Evicted %d snapshot(s) to fit %d MB\n", removed, enforceMaxMB)
	return nil
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
