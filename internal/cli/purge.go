package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/harvester/internal/control"
)

var olderThan time.Duration

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Remove ledger entries older than the retention period",
	Long: `Remove ledger entries older than --older-than, or the configured
retention period when the flag is not set. Purged records become eligible
for processing again.`,
	Run: withExitCode(runPurge),
}

func init() {
	purgeCmd.Flags().DurationVar(&olderThan, "older-than", 0, "age of entries to remove, e.g. 2160h (default: retention.period)")
	rootCmd.AddCommand(purgeCmd)
}

func runPurge(cmd *cobra.Command, args []string) int {
	cfg := mustLoad(cmd)
	ctx := context.Background()

	age := cfg.Retention.Period
	if cmd.Flags().Changed("older-than") {
		age = olderThan
	}
	if age <= 0 {
		fmt.Println("Retention is disabled, nothing to purge")
		return 0
	}

	store, err := control.OpenStore(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to open ledger", "error", err)
		return 1
	}
	defer func() {
		_ = store.Close()
	}()

	n, err := store.Ledger.PurgeOlderThan(ctx, age)
	if err != nil {
		slog.Error("Failed to purge ledger", "error", err)
		return 1
	}
	fmt.Printf("Removed %d entries older than %s\n", n, age)
	return 0
}
