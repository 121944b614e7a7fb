package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/casegallery/gallerysync/internal/registry"
	"github.com/casegallery/gallerysync/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show sync status and registry counts",
	Long: `Display the current state of the sync registry.

Shows:
  - Registry database location, size and schema version
  - The running pass, if one is in flight
  - Run totals and the most recent run
  - Mapped entity counts per type`,
	Run: func(cmd *cobra.Command, _ []string) {
		info, err := os.Stat(cfg.DBPath)
		if os.IsNotExist(err) {
			fmt.Printf("\n%s Registry not initialized\n", ui.RenderWarn("⚠"))
			fmt.Printf("   Run 'gsync sync' to create %s\n\n", cfg.DBPath)
			return
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error checking registry: %v\n", err)
			os.Exit(1)
		}

		logger := newLogger("[gsync] ")
		db, err := openRegistry(logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer db.Close()

		logs := registry.NewLogStore(db, logger)
		items := registry.NewItemStore(db, logger)

		fmt.Printf("\n%s Gallery Sync Status\n\n", ui.RenderAccent("📊"))
		fmt.Printf("Registry: %s (%s, schema %s)\n", cfg.DBPath, formatSize(info.Size()), registry.SchemaVersion)

		active, err := logs.Active()
		switch {
		case err == nil:
			fmt.Printf("Active: %s %s pass #%d, running since %s\n",
				ui.RenderWarn("●"), active.SyncType, active.ID,
				active.StartedAt.Local().Format("15:04:05"))
		case errors.Is(err, registry.ErrNotFound):
			fmt.Printf("Active: none\n")
		default:
			fmt.Printf("Active: %s\n", ui.RenderFaint("unavailable"))
		}

		stats, err := logs.Stats()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading sync statistics: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Runs: %d total, %s completed, %s failed\n",
			stats.TotalRuns,
			ui.RenderPass(fmt.Sprintf("%d", stats.SuccessfulRuns)),
			ui.RenderFail(fmt.Sprintf("%d", stats.FailedRuns)))
		if stats.LastRunAt != nil {
			fmt.Printf("Last run: %s\n", stats.LastRunAt.Local().Format("2006-01-02 15:04:05"))
		} else {
			fmt.Printf("Last run: never\n")
		}

		regStats, err := items.StatsByType()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading registry counts: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("\n%s\n", ui.RenderHeader("Mapped entities"))
		for _, it := range []registry.ItemType{registry.ItemCase, registry.ItemProcedure, registry.ItemDoctor} {
			fmt.Printf("  %-10s %d\n", string(it)+":", regStats.ByType[it])
		}
		fmt.Printf("  %-10s %d\n", "total:", regStats.Total)
		fmt.Println()
	},
}

// formatSize renders a byte count the way humans read file sizes.
func formatSize(size int64) string {
	switch {
	case size > 1024*1024:
		return fmt.Sprintf("%.1f MB", float64(size)/(1024*1024))
	case size > 1024:
		return fmt.Sprintf("%.1f KB", float64(size)/1024)
	default:
		return fmt.Sprintf("%d bytes", size)
	}
}

// formatDuration renders a run duration compactly for table output.
func formatDuration(start time.Time, end *time.Time) string {
	if end == nil {
		return "-"
	}
	return end.Sub(start).Round(100 * time.Millisecond).String()
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
