package main

import (
	"fmt"
	"math"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/casegallery/gallerysync/internal/registry"
	"github.com/casegallery/gallerysync/internal/ui"
)

var cleanupCmd = &cobra.Command{
	Use:     "cleanup",
	GroupID: "maint",
	Short:   "Delete old sync log entries",
	Long: `Delete sync log entries older than a retention window.

The window is given in days (1-365, out-of-range values are clamped) or
as a point in time with --before, which accepts the same expressions as
'gsync history --since'. Registry mappings are never touched.

Examples:
  gsync cleanup
  gsync cleanup --days 30
  gsync cleanup --before "6 months ago"`,
	Run: runCleanup,
}

func init() {
	cleanupCmd.Flags().Int("days", 90, "Delete entries older than this many days")
	cleanupCmd.Flags().String("before", "", "Delete entries started before this point in time")
	cleanupCmd.Flags().Bool("yes", false, "Skip the confirmation prompt")
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, _ []string) {
	days, _ := cmd.Flags().GetInt("days")
	before, _ := cmd.Flags().GetString("before")
	yes, _ := cmd.Flags().GetBool("yes")

	if before != "" {
		if cmd.Flags().Changed("days") {
			fmt.Fprintf(os.Stderr, "Error: use --days or --before, not both\n")
			os.Exit(1)
		}
		cutoff, err := parseTimeExpr(before)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if !cutoff.Before(time.Now()) {
			fmt.Fprintf(os.Stderr, "Error: --before %q is not in the past\n", before)
			os.Exit(1)
		}
		days = int(math.Ceil(time.Since(cutoff).Hours() / 24))
	}

	if !yes && !confirm(
		fmt.Sprintf("Delete sync log entries older than %d day(s)?", days),
		"Run history before the cutoff is gone for good; registry mappings are kept.") {
		fmt.Println("Cancelled")
		return
	}

	logger := newLogger("[gsync] ")
	db, err := openRegistry(logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	deleted, err := registry.NewLogStore(db, logger).CleanupOlderThan(days)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error during cleanup: %v\n", err)
		os.Exit(1)
	}

	if deleted == 0 {
		fmt.Printf("%s Nothing to delete\n", ui.RenderPass("✓"))
		return
	}
	fmt.Printf("%s Deleted %d sync log entr%s\n", ui.RenderPass("✓"), deleted, plural(deleted, "y", "ies"))
}

func plural(n int64, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
