package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/metroplan/metroplan-backend/internal/activity"
	"github.com/metroplan/metroplan-backend/internal/analysis"
	"github.com/metroplan/metroplan-backend/internal/projects/client"
	"github.com/metroplan/metroplan-backend/internal/projects/domain"
	"github.com/metroplan/metroplan-backend/internal/session"
	"github.com/metroplan/metroplan-backend/internal/workflow"
)

// DefaultDebounce absorbs rapid re-invocations of a load (the web client
// fires them in bursts on mount).
const DefaultDebounce = 300 * time.Millisecond

// Orchestrator owns the per-user project state: the cached list, the stats,
// the current selection. It composes the repository client, the workflow
// engine, the session store and the activity log. All mutable state lives
// behind one mutex: a single logical owner, mutated sequentially.
type Orchestrator struct {
	client   *client.Client
	sessions *session.Store
	signals  *analysis.Client
	activity *activity.Repo
	notifier workflow.Notifier
	debounce time.Duration

	mu           sync.Mutex
	userID       string
	token        string
	projects     []*domain.Project
	stats        *domain.Stats
	current      *domain.Project
	loading      bool
	authRequired bool
	lastErr      error
	loadTimer    *time.Timer
	loadSeq      uint64
	appliedSeq   uint64
}

// Deps wires the orchestrator's collaborators. Activity and Notifier may be
// nil; the corresponding side effects are then skipped.
type Deps struct {
	Client   *client.Client
	Sessions *session.Store
	Signals  *analysis.Client
	Activity *activity.Repo
	Notifier workflow.Notifier
	Debounce time.Duration
}

func New(deps Deps) *Orchestrator {
	debounce := deps.Debounce
	if debounce < 0 {
		debounce = 0
	} else if debounce == 0 {
		debounce = DefaultDebounce
	}

	return &Orchestrator{
		client:   deps.Client,
		sessions: deps.Sessions,
		signals:  deps.Signals,
		activity: deps.Activity,
		notifier: deps.Notifier,
		debounce: debounce,
	}
}

// tokenUpdater binds the repository client to one bearer token, giving the
// advancement engine its narrow update interface. Successful updates are
// folded back into the orchestrator's cache and remembered so the caller can
// return the post-advancement record.
type tokenUpdater struct {
	o     *Orchestrator
	token string
	last  *domain.Project
}

func (u *tokenUpdater) UpdateProject(ctx context.Context, id string, patch domain.Patch) (*domain.Project, error) {
	updated, err := u.o.client.Update(ctx, u.token, id, patch)
	if err != nil {
		return nil, err
	}
	if updated != nil {
		u.last = updated
		u.o.replaceCached(updated)
	}
	return updated, nil
}

// SignIn establishes the active user. Any previously selected project is
// cleared (the last-open project is never auto-restored on login, the user
// must reselect) and a debounced load of projects and stats is scheduled.
func (o *Orchestrator) SignIn(userID, token string) {
	o.mu.Lock()
	o.userID = userID
	o.token = token
	o.current = nil
	o.authRequired = false
	o.lastErr = nil
	o.mu.Unlock()

	o.scheduleLoad()
}

// SignOut clears the session pointer and all in-memory state.
func (o *Orchestrator) SignOut(ctx context.Context) {
	o.mu.Lock()
	userID := o.userID
	o.userID = ""
	o.token = ""
	o.projects = nil
	o.stats = nil
	o.current = nil
	o.authRequired = false
	o.lastErr = nil
	if o.loadTimer != nil {
		o.loadTimer.Stop()
		o.loadTimer = nil
	}
	o.mu.Unlock()

	if userID != "" {
		if err := o.sessions.Clear(ctx, userID); err != nil {
			log.Printf("[warn] operation=sign_out user_id=%s error=%v", userID, err)
		}
	}
}

// Close stops any pending debounce timer. Call on teardown so a scheduled
// load cannot fire into discarded state.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.loadTimer != nil {
		o.loadTimer.Stop()
		o.loadTimer = nil
	}
}

// Refresh schedules a debounced reload of projects and stats.
func (o *Orchestrator) Refresh() {
	o.scheduleLoad()
}

func (o *Orchestrator) scheduleLoad() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.loadTimer != nil {
		o.loadTimer.Stop()
	}
	seq := o.loadSeq + 1
	o.loadSeq = seq
	o.loading = true

	o.loadTimer = time.AfterFunc(o.debounce, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		o.loadNow(ctx, seq)
	})
}

// loadNow fetches the project list and stats. Each load carries a sequence
// token; a response belonging to a superseded load is dropped so a slow
// early response cannot overwrite a newer one.
func (o *Orchestrator) loadNow(ctx context.Context, seq uint64) {
	o.mu.Lock()
	token := o.token
	o.mu.Unlock()

	projects, err := o.client.List(ctx, token)
	var stats *domain.Stats
	if err == nil {
		stats, err = o.client.Stats(ctx, token)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if seq < o.loadSeq || seq <= o.appliedSeq {
		return // superseded by a newer load
	}
	o.appliedSeq = seq
	o.loading = false

	switch {
	case err == nil:
		o.projects = projects
		if stats != nil {
			o.stats = stats
		}
		o.authRequired = false
		o.lastErr = nil
	case errors.Is(err, domain.ErrRateLimited):
		// Prefer stale data over an error banner: keep the cache, log only.
		log.Printf("[warn] operation=load_projects user_id=%s error=%v", o.userID, err)
	case errors.Is(err, domain.ErrAuthRequired):
		o.projects = nil
		o.stats = nil
		o.authRequired = true
		o.lastErr = err
	default:
		o.lastErr = err
	}
}

func (o *Orchestrator) replaceCached(p *domain.Project) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, existing := range o.projects {
		if existing.ID == p.ID {
			o.projects[i] = p
			break
		}
	}
	if o.current != nil && o.current.ID == p.ID {
		o.current = p
	}
}

// Projects returns the cached project list.
func (o *Orchestrator) Projects() []*domain.Project {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*domain.Project, len(o.projects))
	copy(out, o.projects)
	return out
}

// Stats returns the cached stats, possibly nil.
func (o *Orchestrator) Stats() *domain.Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stats
}

// Loading reports whether a scheduled load has been issued but not yet
// applied. Drives the caller's loading indicator.
func (o *Orchestrator) Loading() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.loading
}

// Current returns the currently selected project, or nil.
func (o *Orchestrator) Current() *domain.Project {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current
}

// AuthRequired reports whether the last load failed with an expired or
// rejected token.
func (o *Orchestrator) AuthRequired() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.authRequired
}

// LastError returns the most recent non-transient load error.
func (o *Orchestrator) LastError() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastErr
}

// EnsureLoaded performs the initial load synchronously when nothing has
// been applied yet. Later refreshes stay debounced and asynchronous.
func (o *Orchestrator) EnsureLoaded(ctx context.Context) error {
	o.mu.Lock()
	if o.appliedSeq > 0 {
		err := o.lastErr
		o.mu.Unlock()
		return err
	}
	if o.loadTimer != nil {
		o.loadTimer.Stop()
		o.loadTimer = nil
	}
	seq := o.loadSeq + 1
	o.loadSeq = seq
	o.mu.Unlock()

	o.loadNow(ctx, seq)

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.authRequired {
		return domain.ErrAuthRequired
	}
	return o.lastErr
}

// GetProject returns one project, from cache when possible.
func (o *Orchestrator) GetProject(ctx context.Context, id string) (*domain.Project, error) {
	if p := o.cached(id); p != nil {
		return p, nil
	}

	o.mu.Lock()
	token := o.token
	o.mu.Unlock()

	p, err := o.client.Get(ctx, token, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, domain.ErrNotFound
	}
	return p, nil
}

func (o *Orchestrator) cached(id string) *domain.Project {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, p := range o.projects {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// SelectProject makes the project the user's current one and persists the
// session pointer, unless a restore is in flight. Selecting a project the
// user does not have is a validation error, surfaced synchronously.
func (o *Orchestrator) SelectProject(ctx context.Context, id, route string) (*domain.Project, error) {
	p := o.cached(id)
	if p == nil {
		o.mu.Lock()
		token := o.token
		o.mu.Unlock()

		fetched, err := o.client.Get(ctx, token, id)
		if err != nil || fetched == nil {
			return nil, fmt.Errorf("cannot select project %s: %w", id, domain.ErrNotFound)
		}
		p = fetched
	}

	o.mu.Lock()
	o.current = p
	userID := o.userID
	o.mu.Unlock()

	if o.sessions.Restoring() {
		return p, nil
	}

	if err := o.sessions.Save(ctx, userID, p, route); err != nil {
		log.Printf("[warn] operation=select_project project_id=%s error=%v", p.ID, err)
	}
	o.recordActivity(ctx, activity.KindProjectSelected, p, nil)
	log.Printf("[info] operation=select_project user_id=%s project_id=%s", userID, p.ID)

	return p, nil
}

// SessionPointer returns the persisted pointer for the active user. It is
// never replayed into the current selection here; restoring is an explicit,
// user-confirmed action on the caller's side.
func (o *Orchestrator) SessionPointer(ctx context.Context) (*session.Pointer, error) {
	o.mu.Lock()
	userID := o.userID
	o.mu.Unlock()
	return o.sessions.Load(ctx, userID)
}

// RestoreSession replays the persisted pointer into the current selection.
// This is the explicit, user-confirmed counterpart to the pointer lookup;
// the restore latch keeps the selection from re-persisting itself. Without a
// saved pointer it returns domain.ErrNoSelection.
func (o *Orchestrator) RestoreSession(ctx context.Context) (*domain.Project, error) {
	ptr, err := o.SessionPointer(ctx)
	if err != nil {
		return nil, err
	}
	if ptr == nil {
		return nil, domain.ErrNoSelection
	}

	o.sessions.BeginRestore()
	defer o.sessions.EndRestore()

	return o.SelectProject(ctx, ptr.ProjectID, ptr.Route)
}

// ForgetSession clears the persisted pointer and the current selection.
func (o *Orchestrator) ForgetSession(ctx context.Context) error {
	o.mu.Lock()
	userID := o.userID
	o.current = nil
	o.mu.Unlock()
	return o.sessions.Clear(ctx, userID)
}

// CreateProject creates a project (status Planning, progress 0) and folds it
// into the cache.
func (o *Orchestrator) CreateProject(ctx context.Context, req client.CreateRequest) (*domain.Project, error) {
	o.mu.Lock()
	token := o.token
	o.mu.Unlock()

	p, err := o.client.Create(ctx, token, req)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, domain.ErrAuthRequired
	}

	o.mu.Lock()
	o.projects = append([]*domain.Project{p}, o.projects...)
	o.mu.Unlock()

	o.recordActivity(ctx, activity.KindProjectCreated, p, nil)
	return p, nil
}

// UpdateProject applies a user edit, then runs an advancement check on the
// freshly updated record. Advancement update failures propagate to this
// mutation path.
func (o *Orchestrator) UpdateProject(ctx context.Context, id string, patch domain.Patch) (*domain.Project, error) {
	o.mu.Lock()
	token := o.token
	o.mu.Unlock()

	p, err := o.client.Update(ctx, token, id, patch)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, domain.ErrAuthRequired
	}
	o.replaceCached(p)

	_, fresh, err := o.advanceProject(ctx, p)
	if err != nil {
		return p, err
	}
	return fresh, nil
}

// UpdateStatus sets the status label, then runs an advancement check on the
// freshly updated record.
func (o *Orchestrator) UpdateStatus(ctx context.Context, id, status string) (*domain.Project, error) {
	o.mu.Lock()
	token := o.token
	o.mu.Unlock()

	p, err := o.client.UpdateStatus(ctx, token, id, status)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, domain.ErrAuthRequired
	}
	o.replaceCached(p)

	_, fresh, err := o.advanceProject(ctx, p)
	if err != nil {
		return p, err
	}
	return fresh, nil
}

// DeleteProject removes the project upstream and from the cache; a deleted
// current selection is dropped along with its session pointer.
func (o *Orchestrator) DeleteProject(ctx context.Context, id string) error {
	o.mu.Lock()
	token := o.token
	o.mu.Unlock()

	if err := o.client.Delete(ctx, token, id); err != nil {
		return err
	}

	o.mu.Lock()
	kept := o.projects[:0]
	var deleted *domain.Project
	for _, p := range o.projects {
		if p.ID == id {
			deleted = p
			continue
		}
		kept = append(kept, p)
	}
	o.projects = kept
	wasCurrent := o.current != nil && o.current.ID == id
	if wasCurrent {
		o.current = nil
	}
	userID := o.userID
	o.mu.Unlock()

	if wasCurrent {
		if err := o.sessions.Clear(ctx, userID); err != nil {
			log.Printf("[warn] operation=delete_project project_id=%s error=%v", id, err)
		}
	}
	if deleted != nil {
		o.recordActivity(ctx, activity.KindProjectDeleted, deleted, nil)
	}
	return nil
}

// TryAdvance runs the advancement engine against the project's current
// state, fetching the record when it is not cached. Returns whether an
// advancement happened. A project that cannot be resolved at all fails safe
// to "no advancement"; the check itself never turns into an error.
func (o *Orchestrator) TryAdvance(ctx context.Context, id string) (bool, error) {
	p := o.cached(id)
	if p == nil {
		o.mu.Lock()
		token := o.token
		o.mu.Unlock()

		fetched, err := o.client.Get(ctx, token, id)
		if err != nil || fetched == nil {
			log.Printf("[warn] operation=try_advance project_id=%s error=record unavailable: %v", id, err)
			return false, nil
		}
		p = fetched
	}

	advanced, _, err := o.advanceProject(ctx, p)
	return advanced, err
}

// advanceProject runs the advancement engine on an already-resolved record,
// feeding in the analysis backends' auxiliary signals. Returns the
// post-advancement record (the input when nothing moved). Inconsistent stage
// signals are logged as a diagnostic but never reconciled.
func (o *Orchestrator) advanceProject(ctx context.Context, p *domain.Project) (bool, *domain.Project, error) {
	if missing := workflow.StageConsistency(p); len(missing) > 0 {
		log.Printf("[warn] operation=stage_consistency project_id=%s missing_flags=%v", p.ID, missing)
	}

	o.mu.Lock()
	token := o.token
	o.mu.Unlock()

	aux := o.signals.Signals(ctx, token, p.ID)
	updater := &tokenUpdater{o: o, token: token}
	engine := workflow.NewEngine(updater, o.notifier)

	advanced, err := engine.Advance(ctx, p, aux)
	if err != nil {
		return false, p, err
	}

	fresh := p
	if advanced && updater.last != nil {
		fresh = updater.last
	}
	if advanced {
		o.recordActivity(ctx, activity.KindStageChanged, fresh, map[string]any{
			"stage": workflow.ResolveStage(fresh).ID,
		})
	}
	return advanced, fresh, nil
}

func (o *Orchestrator) recordActivity(ctx context.Context, kind string, p *domain.Project, detail map[string]any) {
	if o.activity == nil {
		return
	}

	o.mu.Lock()
	userID := o.userID
	o.mu.Unlock()

	ev := &activity.Event{
		UserID:    userID,
		ProjectID: p.ID,
		Kind:      kind,
		Detail:    detail,
	}
	if err := o.activity.Record(ctx, ev); err != nil {
		log.Printf("[warn] operation=record_activity kind=%s project_id=%s error=%v", kind, p.ID, err)
	}
}
