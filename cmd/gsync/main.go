// Command gsync keeps a WordPress case gallery in step with the gallery
// platform's API: procedures become taxonomy terms, approved cases and
// doctors become posts, and every mapping is recorded in a local SQLite
// registry so repeat passes stay cheap and orphans stay visible.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const appVersion = "1.2.0"

var rootCmd = &cobra.Command{
	Use:     "gsync",
	Version: appVersion,
	Short:   "Sync gallery cases, procedures and doctors into WordPress",
	Long: `gsync mirrors a medical before/after gallery into a WordPress site.

Content is fetched from the gallery platform's API per tenant, written to
WordPress through its REST API, and tracked in a local sync registry
(SQLite). Passes are incremental: unchanged content is skipped by hash,
and entities that disappear upstream are flagged as orphans.

Configuration comes from gallerysync.yaml (current directory or
~/.config/gallerysync/) plus GSYNC_* environment variables. Run
'gsync init' to write a starter config.`,
	Run: func(cmd *cobra.Command, _ []string) {
		if err := cmd.Help(); err != nil {
			fmt.Fprintf(os.Stderr, "Error displaying help: %v\n", err)
		}
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "registry", Title: "Registry Commands:"},
		&cobra.Group{ID: "maint", Title: "Maintenance Commands:"},
	)
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default gallerysync.yaml)")
	rootCmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		return loadConfig()
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
