package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/casegallery/gallerysync/internal/registry"
	"github.com/casegallery/gallerysync/internal/ui"
)

var orphansCmd = &cobra.Command{
	Use:     "orphans",
	GroupID: "registry",
	Short:   "List registry rows the last pass did not see",
	Long: `List orphaned registry mappings per tenant.

An orphan is a mapping whose upstream entity was absent from the
tenant's most recent sync pass - usually deleted or unapproved on the
gallery platform. Orphans are reported, never removed, unless --prune
is given.

--prune removes only the registry rows; the WordPress posts and terms
stay. To remove the WordPress content as well, run
'gsync sync --prune-orphans' instead.

Examples:
  gsync orphans
  gsync orphans --token tok-clinic-a
  gsync orphans --prune`,
	Run: runOrphans,
}

func init() {
	orphansCmd.Flags().String("token", "", "Only the tenant with this API token")
	orphansCmd.Flags().Bool("prune", false, "Delete the orphaned registry rows")
	orphansCmd.Flags().Bool("yes", false, "Skip the confirmation prompt")
	rootCmd.AddCommand(orphansCmd)
}

func runOrphans(cmd *cobra.Command, _ []string) {
	tokenFlag, _ := cmd.Flags().GetString("token")
	prune, _ := cmd.Flags().GetBool("prune")
	yes, _ := cmd.Flags().GetBool("yes")

	tokens := tenantTokens(tokenFlag)
	if len(tokens) == 0 {
		fmt.Fprintf(os.Stderr, "Error: no tenants configured; pass --token or edit the config\n")
		os.Exit(1)
	}

	logger := newLogger("[gsync] ")
	db, err := openRegistry(logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	items := registry.NewItemStore(db, logger)

	var (
		orphanIDs []int64
		found     int
	)
	for _, token := range tokens {
		// The reference point is the tenant's newest session; anything
		// stamped earlier was missed by that pass.
		latest, err := items.LatestSession(token)
		if errors.Is(err, registry.ErrNotFound) {
			fmt.Printf("%s %s: no registry rows yet\n", ui.RenderFaint("·"), maskToken(token))
			continue
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading sessions for %s: %v\n", maskToken(token), err)
			os.Exit(1)
		}

		orphans, err := items.FindOrphans(latest, token, "")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error scanning orphans for %s: %v\n", maskToken(token), err)
			os.Exit(1)
		}
		if len(orphans) == 0 {
			fmt.Printf("%s %s: registry matches the last pass\n", ui.RenderPass("✓"), maskToken(token))
			continue
		}

		found += len(orphans)
		fmt.Printf("%s %s: %d orphaned mapping(s)\n", ui.RenderWarn("⚠"), maskToken(token), len(orphans))
		for _, o := range orphans {
			fmt.Printf("   #%-5d %-9s api_id=%-6d → %s %-6d last seen %s\n",
				o.ID, o.ItemType, o.APIID, o.WordPressType, o.WordPressID,
				o.LastSynced.Local().Format("2006-01-02 15:04"))
			orphanIDs = append(orphanIDs, o.ID)
		}
	}

	if found == 0 || !prune {
		if found > 0 {
			fmt.Printf("\nRun 'gsync orphans --prune' to drop the rows, or 'gsync sync --prune-orphans' to remove the WordPress content too.\n")
		}
		return
	}

	if !yes && !confirm(fmt.Sprintf("Delete %d orphaned registry row(s)?", found), "The WordPress posts and terms are kept.") {
		fmt.Println("Cancelled")
		return
	}

	deleted, err := items.DeleteByIDs(orphanIDs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error deleting rows: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("%s Deleted %d registry row(s)\n", ui.RenderPass("✓"), deleted)
}

// tenantTokens resolves which tenants a registry command covers: the
// --token override when given, otherwise every configured tenant.
func tenantTokens(flag string) []string {
	if flag != "" {
		return []string{flag}
	}
	var tokens []string
	for _, t := range cfg.Tenants {
		if t.APIToken != "" {
			tokens = append(tokens, t.APIToken)
		}
	}
	return tokens
}

// maskToken keeps enough of an api token to recognize it in output
// without echoing the whole credential.
func maskToken(token string) string {
	if len(token) <= 8 {
		return token
	}
	return token[:8] + "…"
}

// confirm asks an interactive yes/no question. Without a terminal it
// refuses, so scripts must pass --yes explicitly.
func confirm(title, description string) bool {
	var ok bool
	err := huh.NewConfirm().
		Title(title).
		Description(description).
		Affirmative("Delete").
		Negative("Cancel").
		Value(&ok).
		Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v (pass --yes to skip the prompt)\n", err)
		return false
	}
	return ok
}
