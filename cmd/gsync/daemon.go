package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/casegallery/gallerysync/internal/engine"
	"github.com/casegallery/gallerysync/internal/status"
	"github.com/casegallery/gallerysync/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Run the sync daemon",
	Long: `Run gsync as a long-lived daemon.

The daemon runs a full sync every sync.interval (with up to sync.jitter
of random spread), watches the spool directory for trigger files, and
serves the status API and WebSocket feed on http.addr.

Edits to the config file apply without a restart: sync.interval
reschedules the timer and sync.orphan_policy changes the next sweep.
Other keys still need a restart.

Examples:
  gsync daemon
  gsync daemon --http 0.0.0.0:8377
  gsync daemon --no-http`,
	Run: runDaemon,
}

func init() {
	daemonCmd.Flags().String("http", "", "Status API listen address (overrides http.addr)")
	daemonCmd.Flags().Bool("no-http", false, "Disable the status API and WebSocket feed")
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cmd *cobra.Command, _ []string) {
	httpAddr, _ := cmd.Flags().GetString("http")
	noHTTP, _ := cmd.Flags().GetBool("no-http")
	if httpAddr == "" {
		httpAddr = cfg.HTTP.Addr
	}

	logger := newLogger("[daemon] ")
	db, err := openRegistry(logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	eng, logs, items, err := buildEngine(db, logger, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	var srv *status.Server
	if !noHTTP {
		srv, err = status.NewServer(&status.Config{
			Addr:      httpAddr,
			AuthToken: cfg.HTTP.AuthToken,
			Logger:    logger,
		}, eng, logs, items)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if err := srv.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Error starting status server: %v\n", err)
			os.Exit(1)
		}
		defer srv.Stop()
		fmt.Printf("%s Status API on http://%s\n", ui.RenderAccent("🌐"), srv.GetAddr())
	}

	sched, err := engine.NewSchedulerWithConfig(eng, &engine.SchedulerConfig{
		Interval:    cfg.Sync.Interval,
		Jitter:      cfg.Sync.Jitter,
		SpoolDir:    cfg.SpoolDir,
		SyncOnStart: cfg.Sync.OnStart,
		Logger:      logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Apply config edits live where the running pieces support it.
	viper.OnConfigChange(func(e fsnotify.Event) {
		logger.Printf("Config file changed: %s", e.Name)
		var next appConfig
		if err := viper.Unmarshal(&next); err != nil {
			logger.Printf("Ignoring config change: %v", err)
			return
		}
		sched.SetInterval(next.Sync.Interval)
		if next.Sync.OrphanPolicy != "" {
			if err := eng.SetOrphanPolicy(engine.OrphanPolicy(next.Sync.OrphanPolicy)); err != nil {
				logger.Printf("Ignoring orphan policy change: %v", err)
			}
		}
	})
	if viper.ConfigFileUsed() != "" {
		viper.WatchConfig()
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	fmt.Printf("%s Sync daemon started (interval %s, Ctrl+C to stop)\n", ui.RenderAccent("🔄"), cfg.Sync.Interval)

	if err := sched.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%s Daemon failed: %v\n", ui.RenderFail("✗"), err)
		os.Exit(1)
	}
}
