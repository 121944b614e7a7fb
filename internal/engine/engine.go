package engine

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/casegallery/gallerysync/internal/gallery"
	"github.com/casegallery/gallerysync/internal/registry"
	"github.com/casegallery/gallerysync/internal/wp"
)

// ErrSyncActive is returned when a pass is requested while another one is
// still running. Only one pass mutates the registry at a time.
var ErrSyncActive = errors.New("a sync is already running")

// OrphanPolicy decides what happens to mappings whose upstream entity
// disappeared.
type OrphanPolicy string

const (
	// OrphanKeep leaves orphaned mappings in place for operator review.
	OrphanKeep OrphanPolicy = "keep"
	// OrphanDelete removes the WordPress object and then the mapping.
	OrphanDelete OrphanPolicy = "delete"
)

// Valid reports whether the policy is one of the known values.
func (p OrphanPolicy) Valid() bool {
	return p == OrphanKeep || p == OrphanDelete
}

// Config holds the engine's content-shaping settings.
type Config struct {
	// CasePostType is the WordPress post type for cases.
	CasePostType string
	// DoctorPostType is the WordPress post type for doctor profiles.
	DoctorPostType string
	// ProcedureTaxonomy is the WordPress taxonomy for procedures.
	ProcedureTaxonomy string
	// OrphanPolicy controls the reconciliation sweep. Default keep.
	OrphanPolicy OrphanPolicy
	// CheckpointPath persists the session of a staged pass. Empty disables
	// session sharing across staged runs.
	CheckpointPath string
}

// DefaultConfig returns the settings the plugin ships with.
func DefaultConfig() Config {
	return Config{
		CasePostType:      "gallery_case",
		DoctorPostType:    "gallery_doctor",
		ProcedureTaxonomy: "gallery_procedure",
		OrphanPolicy:      OrphanKeep,
	}
}

// RunOptions selects what a pass covers.
type RunOptions struct {
	// Type is the pass shape. Empty means a full pass.
	Type registry.SyncType
	// Source records what initiated the pass. Empty means manual.
	Source registry.SyncSource
	// CaseID is the upstream case for single-case passes.
	CaseID int64
	// APIToken narrows the pass to one tenant. Empty means every tenant.
	APIToken string
}

// RunResult is the outcome of one pass.
type RunResult struct {
	LogID     int64               `json:"log_id"`
	Session   string              `json:"session"`
	Type      registry.SyncType   `json:"sync_type"`
	Source    registry.SyncSource `json:"sync_source"`
	Processed int64               `json:"items_processed"`
	Failed    int64               `json:"items_failed"`
	Orphans   int64               `json:"orphans_found"`
	Deleted   int64               `json:"orphans_deleted"`
	Errors    []string            `json:"errors,omitempty"`
	Duration  time.Duration       `json:"duration_ns"`
}

// Engine drives sync passes: fetch from the gallery API, write to
// WordPress, and record every mapping in the registry.
//
// A pass is interruptible by design. Each item's mapping commits
// individually, so a killed pass leaves a valid registry and the next
// pass picks up where reality is.
type Engine struct {
	cfg     Config
	logs    *registry.LogStore
	items   *registry.ItemStore
	site    *wp.Client
	tenants []*gallery.Client
	audit   *AuditLog
	logger  *log.Logger

	beforeRun []func(*RunResult)
	afterRun  []func(*RunResult, registry.SyncStatus)

	runMu   sync.Mutex
	running bool
	stateMu sync.Mutex
}

// New builds an engine. audit may be nil; a nil logger falls back to the
// process default.
func New(cfg Config, logs *registry.LogStore, items *registry.ItemStore, site *wp.Client, tenants []*gallery.Client, audit *AuditLog, logger *log.Logger) (*Engine, error) {
	if logs == nil || items == nil {
		return nil, fmt.Errorf("registry stores are required")
	}
	if site == nil {
		return nil, fmt.Errorf("wordpress client is required")
	}
	if len(tenants) == 0 {
		return nil, fmt.Errorf("at least one gallery tenant is required")
	}
	if cfg.CasePostType == "" {
		cfg.CasePostType = "gallery_case"
	}
	if cfg.DoctorPostType == "" {
		cfg.DoctorPostType = "gallery_doctor"
	}
	if cfg.ProcedureTaxonomy == "" {
		cfg.ProcedureTaxonomy = "gallery_procedure"
	}
	if cfg.OrphanPolicy == "" {
		cfg.OrphanPolicy = OrphanKeep
	}
	if !cfg.OrphanPolicy.Valid() {
		return nil, fmt.Errorf("unknown orphan policy %q", cfg.OrphanPolicy)
	}
	if logger == nil {
		logger = log.Default()
	}

	return &Engine{
		cfg:     cfg,
		logs:    logs,
		items:   items,
		site:    site,
		tenants: tenants,
		audit:   audit,
		logger:  logger,
	}, nil
}

// BeforeRun registers fn to be called when a pass has been admitted and
// its log row written, before any item work. fn sees only the identity
// fields; the counters are still zero. Register during wiring; not safe
// to call concurrently with Run.
func (e *Engine) BeforeRun(fn func(*RunResult)) {
	e.beforeRun = append(e.beforeRun, fn)
}

// AfterRun registers fn to be called after every pass with its result and
// terminal status. Register during wiring; not safe to call concurrently
// with Run.
func (e *Engine) AfterRun(fn func(*RunResult, registry.SyncStatus)) {
	e.afterRun = append(e.afterRun, fn)
}

// Running reports whether a pass is currently executing.
func (e *Engine) Running() bool {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.running
}

func (e *Engine) setRunning(v bool) {
	e.stateMu.Lock()
	e.running = v
	e.stateMu.Unlock()
}

// SetOrphanPolicy changes the reconciliation policy without a restart.
// Safe to call while a pass runs; the change applies at the next sweep.
func (e *Engine) SetOrphanPolicy(p OrphanPolicy) error {
	if !p.Valid() {
		return fmt.Errorf("orphan policy %q: %w", string(p), registry.ErrInvalidInput)
	}
	e.stateMu.Lock()
	changed := e.cfg.OrphanPolicy != p
	e.cfg.OrphanPolicy = p
	e.stateMu.Unlock()
	if changed {
		e.logger.Printf("orphan policy changed to %s", p)
	}
	return nil
}

func (e *Engine) orphanPolicy() OrphanPolicy {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.cfg.OrphanPolicy
}

// Run executes one pass and returns its result. The sync log row is
// written up front and finished on every path out, so interrupted or
// failed passes stay visible in history.
func (e *Engine) Run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	if opts.Type == "" {
		opts.Type = registry.SyncFull
	}
	if opts.Source == "" {
		opts.Source = registry.SourceManual
	}
	if !opts.Type.Valid() {
		return nil, fmt.Errorf("sync type %q: %w", string(opts.Type), registry.ErrInvalidInput)
	}
	if !opts.Source.Valid() {
		return nil, fmt.Errorf("sync source %q: %w", string(opts.Source), registry.ErrInvalidInput)
	}
	if opts.Type == registry.SyncSingle && opts.CaseID <= 0 {
		return nil, fmt.Errorf("single-case sync requires a case id: %w", registry.ErrInvalidInput)
	}

	if !e.runMu.TryLock() {
		return nil, ErrSyncActive
	}
	defer e.runMu.Unlock()
	e.setRunning(true)
	defer e.setRunning(false)

	session, cp, err := e.sessionFor(opts.Type)
	if err != nil {
		return nil, err
	}

	logID, err := e.logs.StartContext(ctx, opts.Type, opts.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to record sync start: %w", err)
	}

	e.logger.Printf("pass %d started: type=%s source=%s session=%s", logID, opts.Type, opts.Source, session)

	res := &RunResult{LogID: logID, Session: session, Type: opts.Type, Source: opts.Source}
	for _, fn := range e.beforeRun {
		fn(res)
	}
	start := time.Now()
	runErr := e.runPass(ctx, opts, session, cp, res)
	res.Duration = time.Since(start)

	status := registry.StatusCompleted
	if runErr != nil {
		status = registry.StatusFailed
		res.Errors = append(res.Errors, runErr.Error())
	}

	// The finish write must land even when the pass context is cancelled,
	// or the log row would claim to be running forever.
	finishCtx, cancelFinish := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelFinish()
	if err := e.logs.FinishContext(finishCtx, logID, status, res.Processed, res.Failed, strings.Join(res.Errors, "\n")); err != nil {
		e.logger.Printf("warning: failed to finish sync log %d: %v", logID, err)
	}

	if e.audit != nil {
		if err := e.audit.Record(res, opts.Source, status); err != nil {
			e.logger.Printf("warning: failed to write audit record: %v", err)
		}
	}
	for _, fn := range e.afterRun {
		fn(res, status)
	}

	e.logger.Printf("pass %d %s: processed=%d failed=%d orphans=%d deleted=%d in %s",
		logID, status, res.Processed, res.Failed, res.Orphans, res.Deleted, res.Duration.Round(time.Millisecond))

	if runErr != nil {
		return res, runErr
	}
	return res, nil
}

// sessionFor resolves the session id for a pass and the checkpoint it
// belongs to.
//
// Full passes always get a fresh session and supersede any open staged
// pass. Stage 1 opens a new staged pass. Everything else joins the open
// pass when there is one, so a partial refresh in the middle of a staged
// sequence cannot make untouched items look orphaned.
func (e *Engine) sessionFor(syncType registry.SyncType) (string, *Checkpoint, error) {
	switch syncType {
	case registry.SyncFull:
		if err := ClearCheckpoint(e.cfg.CheckpointPath); err != nil {
			return "", nil, err
		}
		return uuid.NewString(), nil, nil

	case registry.SyncStage1:
		cp := &Checkpoint{Session: uuid.NewString(), StartedAt: time.Now().UTC()}
		return cp.Session, cp, nil

	default:
		cp, err := LoadCheckpoint(e.cfg.CheckpointPath)
		if err != nil {
			return "", nil, err
		}
		if cp != nil {
			return cp.Session, cp, nil
		}
		return uuid.NewString(), nil, nil
	}
}

func (e *Engine) runPass(ctx context.Context, opts RunOptions, session string, cp *Checkpoint, res *RunResult) error {
	tenants, err := e.selectTenants(opts.APIToken)
	if err != nil {
		return err
	}

	switch opts.Type {
	case registry.SyncFull:
		for _, t := range tenants {
			if err := e.syncProcedures(ctx, t, session, res); err != nil {
				return err
			}
			if err := e.syncCases(ctx, t, session, res); err != nil {
				return err
			}
			if err := e.syncDoctors(ctx, t, session, res); err != nil {
				return err
			}
			if err := e.sweepOrphans(ctx, t, session, res); err != nil {
				return err
			}
		}
		return nil

	case registry.SyncStage1:
		for _, t := range tenants {
			if err := e.syncProcedures(ctx, t, session, res); err != nil {
				return err
			}
		}
		return e.recordStage(cp, session, registry.SyncStage1)

	case registry.SyncStage2:
		for _, t := range tenants {
			if err := e.syncCases(ctx, t, session, res); err != nil {
				return err
			}
		}
		return e.recordStage(cp, session, registry.SyncStage2)

	case registry.SyncStage3:
		for _, t := range tenants {
			if err := e.syncDoctors(ctx, t, session, res); err != nil {
				return err
			}
		}
		if cp != nil && cp.HasStage(string(registry.SyncStage1)) && cp.HasStage(string(registry.SyncStage2)) {
			for _, t := range tenants {
				if err := e.sweepOrphans(ctx, t, session, res); err != nil {
					return err
				}
			}
			return ClearCheckpoint(e.cfg.CheckpointPath)
		}
		e.logger.Printf("skipping orphan sweep: stages 1 and 2 did not run in session %s", session)
		return e.recordStage(cp, session, registry.SyncStage3)

	case registry.SyncPartial:
		for _, t := range tenants {
			if err := e.syncCases(ctx, t, session, res); err != nil {
				return err
			}
		}
		return nil

	case registry.SyncSingle:
		if len(tenants) != 1 {
			return fmt.Errorf("single-case sync needs exactly one tenant; pass an api token: %w", registry.ErrInvalidInput)
		}
		return e.syncSingleCase(ctx, tenants[0], opts.CaseID, session, res)

	default:
		return fmt.Errorf("sync type %q: %w", string(opts.Type), registry.ErrInvalidInput)
	}
}

// recordStage persists stage completion into the pass checkpoint.
func (e *Engine) recordStage(cp *Checkpoint, session string, stage registry.SyncType) error {
	if e.cfg.CheckpointPath == "" {
		return nil
	}
	if cp == nil {
		cp = &Checkpoint{Session: session, StartedAt: time.Now().UTC()}
	}
	cp.AddStage(string(stage))
	return cp.Save(e.cfg.CheckpointPath)
}

func (e *Engine) selectTenants(apiToken string) ([]*gallery.Client, error) {
	if apiToken == "" {
		return e.tenants, nil
	}
	for _, t := range e.tenants {
		if t.Token() == apiToken {
			return []*gallery.Client{t}, nil
		}
	}
	return nil, fmt.Errorf("no tenant configured for token %q: %w", apiToken, registry.ErrInvalidInput)
}

// syncProcedures maps the procedure tree onto taxonomy terms. Roots go
// first so children can attach to an already-mapped parent.
func (e *Engine) syncProcedures(ctx context.Context, t *gallery.Client, session string, res *RunResult) error {
	procs, err := t.ListProcedures(ctx)
	if err != nil {
		return fmt.Errorf("procedure stage: %w", err)
	}
	e.logger.Printf("syncing %d procedures for property %d", len(procs), t.PropertyID())

	ordered := orderProcedures(procs)

	for i := range ordered {
		if err := e.syncProcedure(ctx, t, &ordered[i], session); err != nil {
			res.Failed++
			res.Errors = append(res.Errors, fmt.Sprintf("procedure %d: %v", ordered[i].ID, err))
			continue
		}
		res.Processed++
	}
	return nil
}

// orderProcedures arranges procedures so every parent comes before its
// children, whatever the nesting depth. Procedures whose parent is not in
// the list at all (filtered upstream) come last and attach at top level.
func orderProcedures(procs []gallery.Procedure) []gallery.Procedure {
	done := make(map[int64]bool, len(procs))
	ordered := make([]gallery.Procedure, 0, len(procs))

	remaining := procs
	for len(remaining) > 0 {
		var next []gallery.Procedure
		progressed := false
		for _, p := range remaining {
			if p.ParentID == 0 || done[p.ParentID] {
				ordered = append(ordered, p)
				done[p.ID] = true
				progressed = true
			} else {
				next = append(next, p)
			}
		}
		if !progressed {
			ordered = append(ordered, next...)
			break
		}
		remaining = next
	}
	return ordered
}

func (e *Engine) syncProcedure(ctx context.Context, t *gallery.Client, p *gallery.Procedure, session string) error {
	hash := p.Fingerprint()

	existing, err := e.items.GetContext(ctx, registry.ItemProcedure, p.ID, t.Token(), 0)
	if err != nil && !errors.Is(err, registry.ErrNotFound) {
		return err
	}

	// Unchanged content skips the WordPress write; the upsert still runs
	// so the row carries this session and survives the orphan sweep.
	if existing != nil && existing.SyncHash == hash {
		return e.items.UpsertContext(ctx, registry.Mapping{
			ItemType:      registry.ItemProcedure,
			APIID:         p.ID,
			WordPressID:   existing.WordPressID,
			WordPressType: registry.WPTerm,
			APIToken:      t.Token(),
			PropertyID:    t.PropertyID(),
			SyncHash:      hash,
			SessionID:     session,
		})
	}

	var termID int64
	if existing != nil {
		termID = existing.WordPressID
	}

	var parentTermID int64
	if p.ParentID > 0 {
		parent, err := e.items.GetContext(ctx, registry.ItemProcedure, p.ParentID, t.Token(), 0)
		if err == nil {
			parentTermID = parent.WordPressID
		} else if !errors.Is(err, registry.ErrNotFound) {
			return err
		}
	}

	newID, err := e.site.UpsertTerm(ctx, &wp.Term{
		ID:          termID,
		Taxonomy:    e.cfg.ProcedureTaxonomy,
		Name:        p.Name,
		Slug:        p.Slug,
		Description: p.Description,
		ParentID:    parentTermID,
	})
	if err != nil {
		return err
	}

	return e.items.UpsertContext(ctx, registry.Mapping{
		ItemType:      registry.ItemProcedure,
		APIID:         p.ID,
		WordPressID:   newID,
		WordPressType: registry.WPTerm,
		APIToken:      t.Token(),
		PropertyID:    t.PropertyID(),
		SyncHash:      hash,
		SessionID:     session,
	})
}

// syncCases maps approved cases onto gallery posts, one post per
// procedure context. Unapproved cases are not written, which makes any
// previously synced copy an orphan for the sweep to handle.
func (e *Engine) syncCases(ctx context.Context, t *gallery.Client, session string, res *RunResult) error {
	cases, err := t.ListCases(ctx)
	if err != nil {
		return fmt.Errorf("case stage: %w", err)
	}
	e.logger.Printf("syncing %d cases for property %d", len(cases), t.PropertyID())

	for i := range cases {
		c := &cases[i]
		if !c.Approved {
			continue
		}
		if err := e.syncCase(ctx, t, c, session); err != nil {
			res.Failed++
			res.Errors = append(res.Errors, fmt.Sprintf("case %d: %v", c.ID, err))
			continue
		}
		res.Processed++
	}
	return nil
}

func (e *Engine) syncCase(ctx context.Context, t *gallery.Client, c *gallery.Case, session string) error {
	hash := c.Fingerprint()

	contexts := c.ProcedureIDs
	if len(contexts) == 0 {
		contexts = []int64{0}
	}

	for _, procID := range contexts {
		existing, err := e.items.GetContext(ctx, registry.ItemCase, c.ID, t.Token(), procID)
		if err != nil && !errors.Is(err, registry.ErrNotFound) {
			return err
		}

		mapping := registry.Mapping{
			ItemType:       registry.ItemCase,
			APIID:          c.ID,
			WordPressType:  registry.WPPost,
			APIToken:       t.Token(),
			PropertyID:     t.PropertyID(),
			ProcedureAPIID: procID,
			SyncHash:       hash,
			SessionID:      session,
		}

		if existing != nil && existing.SyncHash == hash {
			mapping.WordPressID = existing.WordPressID
			if err := e.items.UpsertContext(ctx, mapping); err != nil {
				return err
			}
			continue
		}

		var postID int64
		if existing != nil {
			postID = existing.WordPressID
		}

		newID, err := e.site.UpsertPost(ctx, &wp.Post{
			ID:      postID,
			Type:    e.cfg.CasePostType,
			Title:   c.Title,
			Content: renderCaseHTML(c),
			Status:  "publish",
			Meta:    caseMeta(c, t.PropertyID(), procID),
			TermIDs: e.termIDsFor(ctx, t, c.ProcedureIDs),
		})
		if err != nil {
			return fmt.Errorf("context %d: %w", procID, err)
		}

		mapping.WordPressID = newID
		if err := e.items.UpsertContext(ctx, mapping); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) syncDoctors(ctx context.Context, t *gallery.Client, session string, res *RunResult) error {
	doctors, err := t.ListDoctors(ctx)
	if err != nil {
		return fmt.Errorf("doctor stage: %w", err)
	}
	e.logger.Printf("syncing %d doctors for property %d", len(doctors), t.PropertyID())

	for i := range doctors {
		if err := e.syncDoctor(ctx, t, &doctors[i], session); err != nil {
			res.Failed++
			res.Errors = append(res.Errors, fmt.Sprintf("doctor %d: %v", doctors[i].ID, err))
			continue
		}
		res.Processed++
	}
	return nil
}

func (e *Engine) syncDoctor(ctx context.Context, t *gallery.Client, d *gallery.Doctor, session string) error {
	hash := d.Fingerprint()

	existing, err := e.items.GetContext(ctx, registry.ItemDoctor, d.ID, t.Token(), 0)
	if err != nil && !errors.Is(err, registry.ErrNotFound) {
		return err
	}

	mapping := registry.Mapping{
		ItemType:      registry.ItemDoctor,
		APIID:         d.ID,
		WordPressType: registry.WPPost,
		APIToken:      t.Token(),
		PropertyID:    t.PropertyID(),
		SyncHash:      hash,
		SessionID:     session,
	}

	if existing != nil && existing.SyncHash == hash {
		mapping.WordPressID = existing.WordPressID
		return e.items.UpsertContext(ctx, mapping)
	}

	var postID int64
	if existing != nil {
		postID = existing.WordPressID
	}

	var content strings.Builder
	if d.Bio != "" {
		content.WriteString("<p>")
		content.WriteString(html.EscapeString(d.Bio))
		content.WriteString("</p>")
	}

	newID, err := e.site.UpsertPost(ctx, &wp.Post{
		ID:      postID,
		Type:    e.cfg.DoctorPostType,
		Title:   d.Name,
		Content: content.String(),
		Status:  "publish",
		Meta: map[string]interface{}{
			"gallery_doctor_id":   d.ID,
			"gallery_property_id": t.PropertyID(),
			"gallery_photo_url":   d.PhotoURL,
		},
	})
	if err != nil {
		return err
	}

	mapping.WordPressID = newID
	return e.items.UpsertContext(ctx, mapping)
}

func (e *Engine) syncSingleCase(ctx context.Context, t *gallery.Client, caseID int64, session string, res *RunResult) error {
	c, err := t.GetCase(ctx, caseID)
	if err != nil {
		return fmt.Errorf("failed to fetch case %d: %w", caseID, err)
	}
	if !c.Approved {
		e.logger.Printf("case %d is not approved; nothing to sync", caseID)
		return nil
	}
	if err := e.syncCase(ctx, t, c, session); err != nil {
		res.Failed++
		res.Errors = append(res.Errors, fmt.Sprintf("case %d: %v", caseID, err))
		return nil
	}
	res.Processed++
	return nil
}

// sweepOrphans reconciles the registry against the pass: anything the
// pass did not restamp is gone upstream. Under the delete policy the
// WordPress object is removed first and the mapping only after, so a
// failed remote delete is retried on the next pass.
func (e *Engine) sweepOrphans(ctx context.Context, t *gallery.Client, session string, res *RunResult) error {
	orphans, err := e.items.FindOrphansContext(ctx, session, t.Token(), "")
	if err != nil {
		return fmt.Errorf("orphan scan: %w", err)
	}
	res.Orphans += int64(len(orphans))
	if len(orphans) == 0 {
		return nil
	}

	if policy := e.orphanPolicy(); policy != OrphanDelete {
		e.logger.Printf("keeping %d orphaned mappings for property %d (policy %s)",
			len(orphans), t.PropertyID(), policy)
		return nil
	}

	var ids []int64
	for i := range orphans {
		o := &orphans[i]
		if err := e.removeRemote(ctx, o); err != nil {
			res.Failed++
			res.Errors = append(res.Errors, fmt.Sprintf("orphan %s %d: %v", o.ItemType, o.APIID, err))
			continue
		}
		ids = append(ids, o.ID)
	}

	deleted, err := e.items.DeleteByIDsContext(ctx, ids)
	if err != nil {
		return fmt.Errorf("orphan delete: %w", err)
	}
	res.Deleted += deleted
	return nil
}

func (e *Engine) removeRemote(ctx context.Context, o *registry.Item) error {
	switch o.WordPressType {
	case registry.WPTerm:
		return e.site.DeleteTerm(ctx, e.cfg.ProcedureTaxonomy, o.WordPressID)
	default:
		postType := e.cfg.CasePostType
		if o.ItemType == registry.ItemDoctor {
			postType = e.cfg.DoctorPostType
		}
		return e.site.DeletePost(ctx, postType, o.WordPressID)
	}
}

// termIDsFor resolves upstream procedure ids to mapped term ids. Unmapped
// procedures are left out; the next procedure stage fills them in.
func (e *Engine) termIDsFor(ctx context.Context, t *gallery.Client, procedureIDs []int64) []int64 {
	var ids []int64
	for _, pid := range procedureIDs {
		if pid <= 0 {
			continue
		}
		item, err := e.items.GetContext(ctx, registry.ItemProcedure, pid, t.Token(), 0)
		if err != nil {
			continue
		}
		ids = append(ids, item.WordPressID)
	}
	return ids
}

func caseMeta(c *gallery.Case, propertyID, procedureID int64) map[string]interface{} {
	meta := map[string]interface{}{
		"gallery_case_id":     c.ID,
		"gallery_property_id": propertyID,
	}
	if procedureID > 0 {
		meta["gallery_procedure_context"] = procedureID
	}
	if c.DoctorID > 0 {
		meta["gallery_doctor_id"] = c.DoctorID
	}
	if c.PatientAge > 0 {
		meta["patient_age"] = c.PatientAge
	}
	if c.PatientGender != "" {
		meta["patient_gender"] = c.PatientGender
	}
	return meta
}

// renderCaseHTML builds the post body: narrative first, then the photo
// set as figures.
func renderCaseHTML(c *gallery.Case) string {
	var b strings.Builder
	if c.Details != "" {
		b.WriteString("<p>")
		b.WriteString(html.EscapeString(c.Details))
		b.WriteString("</p>\n")
	}
	for _, photo := range c.Photos {
		fmt.Fprintf(&b, `<figure class="gallery-photo gallery-photo-%s"><img src=%q alt=%q />`,
			html.EscapeString(photo.Stage), photo.URL, photo.Caption)
		if photo.Caption != "" {
			b.WriteString("<figcaption>")
			b.WriteString(html.EscapeString(photo.Caption))
			b.WriteString("</figcaption>")
		}
		b.WriteString("</figure>\n")
	}
	return b.String()
}
