// Package loadtest provides load testing utilities for the sync registry.
//
// The sync engine's correctness under concurrency rests on the registry's
// single-statement upsert, so this package simulates many workers hammering
// the registry with re-syncs and orphan scans to validate that the database
// holds up with low latency and no lost rows.
package loadtest

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/casegallery/gallerysync/internal/registry"
)

// TestRegistry represents a populated registry database for load testing.
type TestRegistry struct {
	DB         *registry.DB
	Items      *registry.ItemStore
	Session    string
	Tokens     []string
	TotalItems int
}

// LatencyStats captures performance metrics from load tests.
type LatencyStats struct {
	Min       time.Duration
	Max       time.Duration
	Mean      time.Duration
	P50       time.Duration // Median
	P95       time.Duration
	P99       time.Duration
	TotalOps  int
	Errors    int
	Durations []time.Duration
}

// CreateTestRegistry creates a registry database populated with numItems
// mappings spread across numTenants api tokens.
//
// Items rotate through the three item types, cases carry a procedure
// context so the four-column identity key is exercised, and every row is
// stamped with one seed session so orphan scans against a fresh session
// see the whole table.
func CreateTestRegistry(dbPath string, numItems, numTenants int) (*TestRegistry, error) {
	if numItems <= 0 {
		return nil, fmt.Errorf("item count must be positive")
	}
	if numTenants <= 0 {
		numTenants = 1
	}

	db, err := registry.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open registry: %w", err)
	}

	// Widen the pool beyond the service default so worker counts in the
	// hundreds are limited by SQLite, not by the pool.
	db.RawDB().SetMaxOpenConns(150)
	db.RawDB().SetMaxIdleConns(50)
	db.RawDB().SetConnMaxLifetime(10 * time.Minute)

	if err := db.InitSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	tr := &TestRegistry{
		DB:         db,
		Items:      registry.NewItemStore(db, nil),
		Session:    uuid.NewString(),
		Tokens:     make([]string, 0, numTenants),
		TotalItems: numItems,
	}
	for i := 0; i < numTenants; i++ {
		tr.Tokens = append(tr.Tokens, fmt.Sprintf("tok-load-%02d", i))
	}

	for i := 0; i < numItems; i++ {
		if err := tr.Items.Upsert(tr.mapping(i, tr.Session)); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to seed item %d: %w", i, err)
		}
	}

	return tr, nil
}

// mapping builds the i-th seed identity. The same i always produces the
// same identity key, so re-upserting it simulates a re-sync rather than
// growing the table.
func (tr *TestRegistry) mapping(i int, session string) registry.Mapping {
	types := []registry.ItemType{registry.ItemCase, registry.ItemProcedure, registry.ItemDoctor}
	itemType := types[i%len(types)]

	m := registry.Mapping{
		ItemType:    itemType,
		APIID:       int64(i/len(types) + 1),
		WordPressID: int64(10000 + i),
		APIToken:    tr.Tokens[i%len(tr.Tokens)],
		PropertyID:  int64(i%len(tr.Tokens) + 1),
		SyncHash:    fmt.Sprintf("%032x", i),
		SessionID:   session,
	}
	if itemType == registry.ItemProcedure {
		m.WordPressType = registry.WPTerm
	} else {
		m.WordPressType = registry.WPPost
	}
	if itemType == registry.ItemCase {
		m.ProcedureAPIID = int64(i % 5)
	}
	return m
}

// Close closes the test registry connection.
func (tr *TestRegistry) Close() error {
	if tr.DB != nil {
		return tr.DB.Close()
	}
	return nil
}

// RunConcurrentUpserts simulates numWorkers sync passes re-stamping
// existing identities at once.
//
// Each worker performs opsPerWorker upserts against randomly chosen seed
// identities with a fresh session and hash, so every operation takes the
// ON CONFLICT update path while the identity key stays fixed. Returns
// aggregated latency statistics.
func (tr *TestRegistry) RunConcurrentUpserts(numWorkers, opsPerWorker int) (*LatencyStats, error) {
	session := uuid.NewString()

	run := func(ctx context.Context, workerID int, rng *rand.Rand) (time.Duration, error) {
		i := rng.Intn(tr.TotalItems)
		m := tr.mapping(i, session)
		m.SyncHash = fmt.Sprintf("%016x%016x", workerID, rng.Int63())

		start := time.Now()
		err := tr.Items.UpsertContext(ctx, m)
		return time.Since(start), err
	}

	stats, err := tr.runWorkers(numWorkers, opsPerWorker, run)
	if err != nil {
		return nil, err
	}

	// Re-stamping must never grow the table past the seed count.
	regStats, err := tr.Items.StatsByType()
	if err != nil {
		return nil, fmt.Errorf("failed to count rows after upserts: %w", err)
	}
	if regStats.Total != int64(tr.TotalItems) {
		return nil, fmt.Errorf("registry grew from %d to %d rows under concurrent upserts", tr.TotalItems, regStats.Total)
	}

	return stats, nil
}

// RunConcurrentScans simulates numWorkers orphan sweeps reading at once.
//
// Each worker runs opsPerWorker orphan scans against a session no row
// carries, so every scan walks its full token scope.
func (tr *TestRegistry) RunConcurrentScans(numWorkers, opsPerWorker int) (*LatencyStats, error) {
	probe := uuid.NewString()

	run := func(ctx context.Context, _ int, rng *rand.Rand) (time.Duration, error) {
		token := tr.Tokens[rng.Intn(len(tr.Tokens))]

		start := time.Now()
		_, err := tr.Items.FindOrphansContext(ctx, probe, token, "")
		return time.Since(start), err
	}

	return tr.runWorkers(numWorkers, opsPerWorker, run)
}

// runWorkers executes op across numWorkers goroutines and aggregates
// per-operation latencies.
func (tr *TestRegistry) runWorkers(numWorkers, opsPerWorker int, op func(context.Context, int, *rand.Rand) (time.Duration, error)) (*LatencyStats, error) {
	if numWorkers <= 0 || opsPerWorker <= 0 {
		return nil, fmt.Errorf("worker and op counts must be positive")
	}

	var wg sync.WaitGroup
	resultsChan := make(chan []time.Duration, numWorkers)
	errorsChan := make(chan error, numWorkers)

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()

			rng := rand.New(rand.NewSource(int64(workerID) + 1))
			ctx := context.Background()
			durations := make([]time.Duration, 0, opsPerWorker)

			for j := 0; j < opsPerWorker; j++ {
				elapsed, err := op(ctx, workerID, rng)
				if err != nil {
					errorsChan <- fmt.Errorf("worker %d op %d failed: %w", workerID, j, err)
					return
				}
				durations = append(durations, elapsed)
			}

			resultsChan <- durations
		}(i)
	}

	wg.Wait()
	close(resultsChan)
	close(errorsChan)

	errorCount := 0
	var firstErr error
	for err := range errorsChan {
		errorCount++
		if firstErr == nil {
			firstErr = err
		}
	}

	var allDurations []time.Duration
	for durations := range resultsChan {
		allDurations = append(allDurations, durations...)
	}

	if len(allDurations) == 0 {
		if firstErr != nil {
			return nil, fmt.Errorf("no operations completed: %w", firstErr)
		}
		return nil, fmt.Errorf("no operations completed")
	}

	stats := computeLatencyStats(allDurations)
	stats.Errors = errorCount
	return stats, nil
}

// VerifyConcurrentConsistency mixes writers and readers for the given
// duration and checks that reads always see well-formed rows.
//
// Writers re-stamp seed identities with a fresh session; readers scan for
// orphans against that session and verify each returned row still carries
// a full identity key. A row observed mid-upsert with missing fields
// would mean the single-statement conflict clause is not atomic.
func (tr *TestRegistry) VerifyConcurrentConsistency(numWorkers int, duration time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	session := uuid.NewString()

	var wg sync.WaitGroup
	errorsChan := make(chan error, numWorkers)

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()

			rng := rand.New(rand.NewSource(int64(workerID) + 100))
			writer := workerID%2 == 0

			for {
				select {
				case <-ctx.Done():
					return
				default:
				}

				if writer {
					m := tr.mapping(rng.Intn(tr.TotalItems), session)
					m.SyncHash = fmt.Sprintf("%032x", rng.Int63())
					if err := tr.Items.UpsertContext(ctx, m); err != nil && ctx.Err() == nil {
						errorsChan <- fmt.Errorf("worker %d write failed: %w", workerID, err)
						return
					}
					continue
				}

				token := tr.Tokens[rng.Intn(len(tr.Tokens))]
				items, err := tr.Items.FindOrphansContext(ctx, session, token, "")
				if err != nil {
					if ctx.Err() == nil {
						errorsChan <- fmt.Errorf("worker %d scan failed: %w", workerID, err)
						return
					}
					return
				}
				for _, item := range items {
					if item.ItemType == "" || item.APIID <= 0 || item.APIToken == "" {
						errorsChan <- fmt.Errorf("worker %d saw a torn row: %+v", workerID, item)
						return
					}
					if item.LastSyncSession == session {
						errorsChan <- fmt.Errorf("worker %d orphan scan returned a current-session row %d", workerID, item.ID)
						return
					}
				}

				time.Sleep(time.Millisecond)
			}
		}(i)
	}

	wg.Wait()
	close(errorsChan)

	for err := range errorsChan {
		if err != nil {
			return err
		}
	}
	return nil
}

// GetStats returns statistics about the test registry.
func (tr *TestRegistry) GetStats() (map[string]interface{}, error) {
	regStats, err := tr.Items.StatsByType()
	if err != nil {
		return nil, err
	}
	out := map[string]interface{}{
		"total_items": regStats.Total,
		"tenants":     len(tr.Tokens),
	}
	for itemType, count := range regStats.ByType {
		out[string(itemType)+"_items"] = count
	}
	return out, nil
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}
	mean := sum / time.Duration(len(durations))

	p50 := sorted[len(sorted)*50/100]
	p95 := sorted[len(sorted)*95/100]
	p99 := sorted[len(sorted)*99/100]

	return &LatencyStats{
		Min:       sorted[0],
		Max:       sorted[len(sorted)-1],
		Mean:      mean,
		P50:       p50,
		P95:       p95,
		P99:       p99,
		TotalOps:  len(durations),
		Durations: sorted,
	}
}

// String formats the statistics for log output.
func (s *LatencyStats) String() string {
	return fmt.Sprintf("ops=%d errors=%d min=%v p50=%v mean=%v p95=%v p99=%v max=%v",
		s.TotalOps, s.Errors, s.Min, s.P50, s.Mean, s.P95, s.P99, s.Max)
}
