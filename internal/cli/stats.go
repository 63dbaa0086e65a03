package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vietddude/harvester/internal/control"
	"github.com/vietddude/harvester/internal/core/config"
	"github.com/vietddude/harvester/internal/core/domain"
	"github.com/vietddude/harvester/internal/core/ledger"
	"github.com/vietddude/harvester/internal/infra/storage"
)

var (
	recentLimit int
	fingerprint string
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show ledger statistics and the most recent artifacts",
	Long: `Show ledger totals, the artifact queue depth when the redis emitter is
configured, and the most recent artifacts. With --fingerprint, show the
ledger entries recorded under that fingerprint instead.`,
	Run: withExitCode(runStats),
}

func init() {
	statsCmd.Flags().IntVar(&recentLimit, "recent", 10, "number of recent artifacts to show")
	statsCmd.Flags().StringVar(&fingerprint, "fingerprint", "", "show the ledger entries for this fingerprint")
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) int {
	cfg := mustLoad(cmd)
	ctx := context.Background()

	store, err := control.OpenStore(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to open ledger", "error", err)
		return 1
	}
	defer func() {
		_ = store.Close()
	}()

	if fingerprint != "" {
		return printEntry(ctx, store.Ledger, fingerprint)
	}

	stats, err := store.Ledger.Stats(ctx)
	if err != nil {
		slog.Error("Failed to read stats", "error", err)
		return 1
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintf(w, "Emitted artifacts:\t%d\n", stats.Total)
	_, _ = fmt.Fprintf(w, "Processed records:\t%d\n", stats.Processed)
	_, _ = fmt.Fprintf(w, "Average score:\t%.1f\n", stats.AverageScore)
	if depth, ok := queueDepth(ctx, cfg); ok {
		_, _ = fmt.Fprintf(w, "Queued artifacts:\t%d\n", depth)
	}
	_ = w.Flush()

	if len(stats.BySource) > 0 {
		sources := make([]string, 0, len(stats.BySource))
		for s := range stats.BySource {
			sources = append(sources, s)
		}
		sort.Strings(sources)

		fmt.Println()
		w = tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
		_, _ = fmt.Fprintln(w, "SOURCE\tEMITTED")
		for _, s := range sources {
			_, _ = fmt.Fprintf(w, "%s\t%d\n", s, stats.BySource[s])
		}
		_ = w.Flush()
	}

	recent, err := store.Ledger.Recent(ctx, domain.NamespaceEmitted, recentLimit)
	if err != nil {
		slog.Error("Failed to read recent entries", "error", err)
		return 1
	}
	if len(recent) == 0 {
		return 0
	}

	fmt.Println()
	w = tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "RECORDED\tFINGERPRINT\tSOURCE\tSCORE\tTITLE")
	for _, e := range recent {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			e.RecordedAt.Local().Format("2006-01-02 15:04"), e.Fingerprint, e.Source, e.Score, e.DisplayTitle)
	}
	_ = w.Flush()
	return 0
}

// queueDepth reports the artifact queue length. ok is false when the redis
// emitter is not configured or unreachable.
func queueDepth(ctx context.Context, cfg *config.AppConfig) (int64, bool) {
	if !cfg.Emitter.Type.Has("redis") {
		return 0, false
	}
	q, err := control.OpenQueue(cfg.Redis)
	if err != nil {
		slog.Warn("Artifact queue unavailable", "error", err)
		return 0, false
	}
	defer func() {
		_ = q.Close()
	}()

	n, err := q.Len(ctx)
	if err != nil {
		slog.Warn("Failed to read queue depth", "error", err)
		return 0, false
	}
	return n, true
}

// printEntry prints the ledger entries stored under fp in every namespace.
func printEntry(ctx context.Context, l *ledger.Ledger, fp string) int {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	found := false

	for _, ns := range domain.Namespaces {
		e, err := l.Get(ctx, ns, fp)
		if errors.Is(err, storage.ErrEntryNotFound) {
			continue
		}
		if err != nil {
			slog.Error("Failed to read ledger entry", "namespace", ns, "error", err)
			return 1
		}
		if found {
			_, _ = fmt.Fprintln(w)
		}
		found = true

		_, _ = fmt.Fprintf(w, "Namespace:\t%s\n", ns)
		_, _ = fmt.Fprintf(w, "Source:\t%s\n", e.Source)
		_, _ = fmt.Fprintf(w, "Record:\t%s\n", e.SourceRecordID)
		_, _ = fmt.Fprintf(w, "Original title:\t%s\n", e.OriginalTitle)
		if ns == domain.NamespaceEmitted {
			_, _ = fmt.Fprintf(w, "Title:\t%s\n", e.DisplayTitle)
			_, _ = fmt.Fprintf(w, "Description:\t%s\n", e.DisplayDescription)
			_, _ = fmt.Fprintf(w, "Score:\t%d\n", e.Score)
		} else {
			_, _ = fmt.Fprintf(w, "Derived items:\t%d\n", e.DerivedCount)
		}
		_, _ = fmt.Fprintf(w, "Recorded:\t%s\n", e.RecordedAt.Local().Format("2006-01-02 15:04:05"))
	}
	_ = w.Flush()

	if !found {
		fmt.Printf("No ledger entry for %s\n", fp)
		return 1
	}
	return 0
}
