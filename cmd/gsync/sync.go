package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/casegallery/gallerysync/internal/engine"
	"github.com/casegallery/gallerysync/internal/registry"
	"github.com/casegallery/gallerysync/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Run one sync pass against WordPress",
	Long: `Run one sync pass from the gallery API into WordPress.

A full pass (the default):
  1. Syncs procedures into taxonomy terms, parents first
  2. Syncs approved cases into posts, one per procedure context
  3. Syncs doctors into posts
  4. Sweeps the registry for orphaned mappings

Unchanged content is detected by hash and skipped, so repeat passes only
write what moved. Staged passes share one session through the checkpoint
file; stage 3 sweeps orphans only after stages 1 and 2 completed.

Examples:
  gsync sync
  gsync sync --stage 1
  gsync sync --type partial --token tok-clinic-a
  gsync sync --case 4117
  gsync sync --prune-orphans`,
	Run: runSync,
}

func init() {
	syncCmd.Flags().String("type", "", "Pass type: full, partial or single (default full)")
	syncCmd.Flags().Int("stage", 0, "Run one stage (1-3) of a staged full pass")
	syncCmd.Flags().Int64("case", 0, "Sync a single case by its API id (implies --type single)")
	syncCmd.Flags().String("token", "", "Limit the pass to the tenant with this API token")
	syncCmd.Flags().Bool("prune-orphans", false, "Delete orphaned WordPress objects this pass, whatever sync.orphan_policy says")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, _ []string) {
	typeFlag, _ := cmd.Flags().GetString("type")
	stage, _ := cmd.Flags().GetInt("stage")
	caseID, _ := cmd.Flags().GetInt64("case")
	token, _ := cmd.Flags().GetString("token")
	prune, _ := cmd.Flags().GetBool("prune-orphans")

	syncType := registry.SyncType(typeFlag)
	if stage != 0 {
		if typeFlag != "" {
			fmt.Fprintf(os.Stderr, "Error: use --type or --stage, not both\n")
			os.Exit(1)
		}
		switch stage {
		case 1:
			syncType = registry.SyncStage1
		case 2:
			syncType = registry.SyncStage2
		case 3:
			syncType = registry.SyncStage3
		default:
			fmt.Fprintf(os.Stderr, "Error: --stage must be 1, 2 or 3\n")
			os.Exit(1)
		}
	}
	if caseID > 0 && syncType == "" {
		syncType = registry.SyncSingle
	}

	var policy engine.OrphanPolicy
	if prune {
		policy = engine.OrphanDelete
	}

	logger := newLogger("[gsync] ")
	db, err := openRegistry(logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	eng, _, _, err := buildEngine(db, logger, policy)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Ctrl+C cancels the pass; the engine still finishes the log row.
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	fmt.Printf("%s Syncing to %s...\n", ui.RenderAccent("🔄"), cfg.WordPress.URL)

	res, err := eng.Run(ctx, engine.RunOptions{
		Type:     syncType,
		Source:   registry.SourceManual,
		CaseID:   caseID,
		APIToken: token,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s Sync failed: %v\n", ui.RenderFail("✗"), err)
		if res != nil {
			printRunResult(res)
		}
		os.Exit(1)
	}

	fmt.Printf("%s Sync complete in %v\n", ui.RenderPass("✓"), res.Duration.Round(time.Millisecond))
	printRunResult(res)
}

func printRunResult(res *engine.RunResult) {
	fmt.Printf("   Pass: #%d %s\n", res.LogID, res.Type)
	fmt.Printf("   Session: %s\n", res.Session)
	fmt.Printf("   Processed: %d\n", res.Processed)
	if res.Failed > 0 {
		fmt.Printf("   %s Failed: %d\n", ui.RenderWarn("⚠"), res.Failed)
	}
	if res.Orphans > 0 {
		fmt.Printf("   Orphans: %d found, %d deleted\n", res.Orphans, res.Deleted)
	}
	if len(res.Errors) > 0 {
		fmt.Printf("   %s\n", ui.RenderFaint("First errors:"))
		limit := len(res.Errors)
		if limit > 5 {
			limit = 5
		}
		for _, msg := range res.Errors[:limit] {
			fmt.Printf("     - %s\n", strings.TrimSpace(msg))
		}
		if len(res.Errors) > limit {
			fmt.Printf("     ... and %d more (see the audit log)\n", len(res.Errors)-limit)
		}
	}
}
