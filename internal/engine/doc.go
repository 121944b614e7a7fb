// Package engine drives synchronization between the case gallery API and
// a WordPress site.
//
// The engine fetches procedures, cases, and doctors from one or more
// gallery tenants, writes them to WordPress as taxonomy terms and posts,
// and records every upstream-to-WordPress mapping in the sync registry.
//
// # Architecture
//
// The package consists of several components:
//
//   - Engine: Executes sync passes and reconciles the registry
//   - Scheduler: Runs the engine on an interval and on demand
//   - TriggerWatcher: Consumes *.trigger files from a spool directory using fsnotify
//   - AuditLog: Appends one JSON line per pass with the full error list
//   - Checkpoint: Persists the session shared by a staged pass sequence
//
// # Sync Passes
//
// A pass is selected with RunOptions:
//
//	result, err := eng.Run(ctx, engine.RunOptions{
//	    Type:   registry.SyncFull,
//	    Source: registry.SourceManual,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("processed %d, failed %d\n", result.Processed, result.Failed)
//
// Pass types map to work as follows:
//
//   - full: procedures, cases, doctors, then the orphan sweep
//   - stage_1: procedures only (taxonomy terms)
//   - stage_2: cases only (gallery posts)
//   - stage_3: doctors, then the orphan sweep if stages 1 and 2 ran first
//   - partial: cases only, without touching the staged checkpoint
//   - single: one case by id, fetched fresh from the API
//
// Each approved case produces one WordPress post per procedure it appears
// under, so a case shared by two procedures is browsable from both galleries.
// Cases without procedures get a single uncategorized post.
//
// # Sessions and Orphan Detection
//
// Every pass stamps the rows it touches with a session id. After a
// complete pass, any registry row still carrying an older session maps an
// upstream entity that no longer exists; the sweep reports those as
// orphans and, under the delete policy, removes the WordPress object and
// then the mapping.
//
// Staged passes share one session through a checkpoint file. Stage 1
// opens the checkpoint, stages 2 and 3 join it, and the sweep at the end
// of stage 3 closes it. Without the shared session, items synced by
// stage 1 would look orphaned by the time stage 3 sweeps.
//
// Content that has not changed since the last pass (same fingerprint) is
// not rewritten to WordPress, but its registry row is still restamped
// with the current session so it survives the sweep.
//
// # Daemon Mode
//
// The Scheduler wraps the engine for long-running use:
//
//	sched, err := engine.NewSchedulerWithConfig(eng, &engine.SchedulerConfig{
//	    Interval: time.Hour,
//	    SpoolDir: "/var/spool/gallerysync",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer stop()
//	if err := sched.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Scheduled passes run with the cron source. Start() blocks until the
// context is cancelled, then shuts down cleanly.
//
// # Trigger Files
//
// Other processes request a sync by dropping a file into the spool
// directory:
//
//	echo '{"sync_type":"single","case_id":42}' > /var/spool/gallerysync/case-42.trigger
//
// An empty trigger file requests a full sync. The watcher consumes the
// file, so a single drop produces a single pass, and files dropped while
// the daemon was down are picked up at the next start. Trigger-initiated
// passes run with the automatic source.
//
// # Concurrency
//
// Only one pass runs at a time. Run returns ErrSyncActive when a pass is
// already executing; the scheduler logs and skips, and the status server
// surfaces it as a conflict. Running() reports the current state without
// blocking.
//
// # Error Handling
//
// A failure fetching a stage's item list aborts the pass and marks the
// sync log row failed. A failure syncing one item counts against the
// pass, lands in the error list, and the pass continues; the item's stale
// registry row then surfaces through the next orphan scan or gets
// corrected by the next pass. The sync log stores a truncated error
// summary; the audit log keeps the complete list.
package engine
