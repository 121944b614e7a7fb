package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/casegallery/gallerysync/internal/registry"
	"github.com/casegallery/gallerysync/internal/ui"
)

var importCmd = &cobra.Command{
	Use:     "import [file]",
	GroupID: "registry",
	Short:   "Import registry mappings from JSONL",
	Long: `Restore registry mappings from a JSONL export.

Existing identities are overwritten with the imported state; rows the
export does not mention are left alone. Invalid lines are skipped and
reported, so a partially damaged backup restores what it can.

Without a file argument the rows are read from stdin.

Examples:
  gsync import registry-backup.jsonl
  zcat registry-2026-08-01.jsonl.gz | gsync import`,
	Args: cobra.MaximumNArgs(1),
	Run:  runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) {
	logger := newLogger("[gsync] ")
	db, err := openRegistry(logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	var in io.Reader = os.Stdin
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening %s: %v\n", args[0], err)
			os.Exit(1)
		}
		defer f.Close()
		in = f
	}

	result, err := registry.NewItemStore(db, logger).ImportJSONL(context.Background(), in)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error importing registry: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%s Imported %d row(s)\n", ui.RenderPass("✓"), result.Imported)
	if result.Skipped > 0 {
		fmt.Printf("%s Skipped %d invalid row(s):\n", ui.RenderWarn("⚠"), result.Skipped)
		const maxShown = 5
		for i, msg := range result.Errors {
			if i == maxShown {
				fmt.Printf("  %s\n", ui.RenderFaint(fmt.Sprintf("... and %d more", len(result.Errors)-maxShown)))
				break
			}
			fmt.Printf("  %s\n", ui.RenderFaint(msg))
		}
	}
}
