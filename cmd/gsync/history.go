package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/casegallery/gallerysync/internal/registry"
	"github.com/casegallery/gallerysync/internal/ui"
)

var historyCmd = &cobra.Command{
	Use:     "history",
	GroupID: "sync",
	Short:   "List recent sync runs",
	Long: `List recent sync runs from the sync log, newest first.

--since accepts natural language ("yesterday", "3 days ago") as well as
absolute dates.

Examples:
  gsync history
  gsync history --limit 50
  gsync history --since "3 days ago"
  gsync history --failed`,
	Run: runHistory,
}

func init() {
	historyCmd.Flags().Int("limit", 10, "Maximum runs to list (clamped to 100)")
	historyCmd.Flags().String("since", "", "Only runs started after this point in time")
	historyCmd.Flags().Bool("failed", false, "Only failed runs")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, _ []string) {
	limit, _ := cmd.Flags().GetInt("limit")
	sinceExpr, _ := cmd.Flags().GetString("since")
	failedOnly, _ := cmd.Flags().GetBool("failed")

	var since time.Time
	if sinceExpr != "" {
		t, err := parseTimeExpr(sinceExpr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		since = t
	}

	logger := newLogger("[gsync] ")
	db, err := openRegistry(logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	entries, err := registry.NewLogStore(db, logger).Recent(limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading history: %v\n", err)
		os.Exit(1)
	}

	var shown int
	for _, e := range entries {
		if !since.IsZero() && e.StartedAt.Before(since) {
			continue
		}
		if failedOnly && e.SyncStatus != registry.StatusFailed {
			continue
		}
		if shown == 0 {
			fmt.Printf("\n%s\n", ui.RenderHeader(fmt.Sprintf("%-5s %-8s %-10s %-10s %-17s %-8s %s",
				"ID", "TYPE", "STATUS", "SOURCE", "STARTED", "TIME", "ITEMS")))
		}
		shown++

		itemCol := fmt.Sprintf("%d ok", e.ItemsProcessed)
		if e.ItemsFailed > 0 {
			itemCol += ui.RenderWarn(fmt.Sprintf(", %d failed", e.ItemsFailed))
		}
		fmt.Printf("%-5d %-8s %-10s %-10s %-17s %-8s %s\n",
			e.ID,
			e.SyncType,
			ui.RenderStatus(string(e.SyncStatus)),
			e.SyncSource,
			e.StartedAt.Local().Format("2006-01-02 15:04"),
			formatDuration(e.StartedAt, e.CompletedAt),
			itemCol)
		if e.ErrorMessages != "" {
			first, _, _ := strings.Cut(e.ErrorMessages, "\n")
			fmt.Printf("      %s\n", ui.RenderFaint(first))
		}
	}

	if shown == 0 {
		fmt.Printf("%s No matching sync runs\n", ui.RenderWarn("⚠"))
		return
	}
	fmt.Println()
}

// parseTimeExpr resolves a natural-language or absolute time expression
// against the current moment.
func parseTimeExpr(expr string) (time.Time, error) {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	r, err := w.Parse(expr, time.Now())
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse %q: %w", expr, err)
	}
	if r == nil {
		for _, layout := range []string{"2006-01-02", "2006-01-02 15:04", time.RFC3339} {
			if t, err := time.ParseInLocation(layout, expr, time.Local); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("could not understand %q (try \"3 days ago\" or 2006-01-02)", expr)
	}
	return r.Time, nil
}
