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

var exportCmd = &cobra.Command{
	Use:     "export [file]",
	GroupID: "registry",
	Short:   "Export the sync registry as JSONL",
	Long: `Export every registry mapping as one JSON object per line.

The export carries full row state, including sessions and timestamps,
so importing it restores orphan detection exactly. Without a file
argument the rows go to stdout.

Examples:
  gsync export registry-backup.jsonl
  gsync export | gzip > registry-$(date +%F).jsonl.gz`,
	Args: cobra.MaximumNArgs(1),
	Run:  runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) {
	logger := newLogger("[gsync] ")
	db, err := openRegistry(logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	var out io.Writer = os.Stdout
	toFile := len(args) == 1 && args[0] != "-"
	if toFile {
		f, err := os.Create(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating %s: %v\n", args[0], err)
			os.Exit(1)
		}
		defer f.Close()
		out = f
	}

	n, err := registry.NewItemStore(db, logger).ExportJSONL(context.Background(), out)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error exporting registry: %v\n", err)
		os.Exit(1)
	}

	// With rows on stdout the summary must not join them.
	if toFile {
		fmt.Printf("%s Exported %d row(s) to %s\n", ui.RenderPass("✓"), n, args[0])
	} else {
		fmt.Fprintf(os.Stderr, "Exported %d row(s)\n", n)
	}
}
