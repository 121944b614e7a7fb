package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/casegallery/gallerysync/internal/ui"
)

const starterConfig = `# gallerysync configuration.
#
# Environment variables with the GSYNC_ prefix override any key here,
# e.g. GSYNC_WORDPRESS_APP_PASSWORD.

# Local state. The directories are created on first use.
db_path: .gallerysync/registry.db
checkpoint_path: .gallerysync/checkpoint.yaml
audit_path: .gallerysync/audit.jsonl
spool_dir: .gallerysync/spool

wordpress:
  url: https://clinic.example.com
  username: gallery-bot
  app_password: "xxxx xxxx xxxx xxxx"
  # Post types and taxonomy registered by the gallery theme.
  case_post_type: gallery_case
  doctor_post_type: gallery_doctor
  procedure_taxonomy: gallery_procedure

# One entry per gallery account to pull from.
tenants:
  - base_url: https://api.gallery.example.com
    api_token: replace-me
    property_id: 0

sync:
  interval: 1h        # applied live when the daemon is running
  jitter: 5m          # random spread added to each interval
  orphan_policy: keep # keep flags orphans, delete removes them
  on_start: true      # full pass when the daemon starts

http:
  addr: 127.0.0.1:8377
  # auth_token: secret  # uncomment to require Bearer auth on /api/v1

log:
  # file: gallerysync.log  # uncomment to log to a rotating file
  max_size_mb: 10
  max_backups: 3
  max_age_days: 28
`

var initCmd = &cobra.Command{
	Use:     "init",
	GroupID: "maint",
	Short:   "Write a starter config file",
	Long: `Write a commented gallerysync.yaml into the current directory.

Edit the WordPress credentials and tenant tokens before the first sync.
An existing config file is never overwritten unless you pass --force.`,
	Run: runInit,
}

func init() {
	initCmd.Flags().Bool("force", false, "Overwrite an existing config file")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, _ []string) {
	force, _ := cmd.Flags().GetBool("force")

	path := "gallerysync.yaml"
	if configFile != "" {
		path = configFile
	}

	if _, err := os.Stat(path); err == nil && !force {
		fmt.Fprintf(os.Stderr, "Error: %s already exists (use --force to overwrite)\n", path)
		os.Exit(1)
	}

	if err := os.WriteFile(path, []byte(starterConfig), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing %s: %v\n", path, err)
		os.Exit(1)
	}

	fmt.Printf("%s Wrote %s\n", ui.RenderPass("✓"), path)
	fmt.Println("  Edit the wordpress and tenants sections, then run: gsync sync")
}
