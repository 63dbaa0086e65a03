package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vietddude/harvester/internal/control"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Check connectivity of every configured source",
	Run:   withExitCode(runSources),
}

func init() {
	rootCmd.AddCommand(sourcesCmd)
}

func runSources(cmd *cobra.Command, args []string) int {
	cfg := mustLoad(cmd)

	results := control.ProbeSources(context.Background(), cfg.Sources)
	if len(results) == 0 {
		fmt.Println("No sources configured")
		return 0
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "SOURCE\tTYPE\tSTATUS\tSEVERITY\tERROR")

	failed := false
	for _, r := range results {
		status := "ok"
		switch {
		case r.Severity == "disabled":
			status = "disabled"
		case r.Error == nil && !r.Configured:
			status = "not configured"
		case r.Error != nil || !r.Connected:
			status = "error"
			failed = true
		}

		errMsg := ""
		if r.Error != nil {
			errMsg = r.Error.Error()
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.Name, r.Type, status, r.Severity, errMsg)
	}
	_ = w.Flush()

	if failed {
		return 1
	}
	return 0
}
