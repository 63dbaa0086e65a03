package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vietddude/harvester/internal/control"
)

var popCount int

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect the redis artifact queue",
	Long: `Show how many artifacts wait in the redis queue. With --pop, remove
the oldest artifacts and print them, for consumers that read the queue by
hand.`,
	Run: withExitCode(runQueue),
}

func init() {
	queueCmd.Flags().IntVar(&popCount, "pop", 0, "remove and print up to N of the oldest artifacts")
	rootCmd.AddCommand(queueCmd)
}

func runQueue(cmd *cobra.Command, args []string) int {
	cfg := mustLoad(cmd)
	ctx := context.Background()

	if cfg.Redis.URL == "" {
		slog.Error("Redis is not configured", "hint", "set redis.url")
		return 1
	}
	q, err := control.OpenQueue(cfg.Redis)
	if err != nil {
		slog.Error("Failed to open artifact queue", "error", err)
		return 1
	}
	defer func() {
		_ = q.Close()
	}()

	if popCount <= 0 {
		n, err := q.Len(ctx)
		if err != nil {
			slog.Error("Failed to read queue depth", "error", err)
			return 1
		}
		fmt.Printf("%d artifacts queued in %s\n", n, cfg.Redis.Queue)
		return 0
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "CREATED\tSOURCE\tSCORE\tPRIORITY\tTITLE")
	for range popCount {
		a, err := q.Pop(ctx)
		if err != nil {
			_ = w.Flush()
			slog.Error("Failed to pop artifact", "error", err)
			return 1
		}
		if a == nil {
			break
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			a.CreatedAt.Local().Format("2006-01-02 15:04"), a.Source, a.Score, a.Priority, a.Title)
	}
	_ = w.Flush()
	return 0
}
