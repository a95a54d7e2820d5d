// Package autosave contains the save scheduling, queueing, retry and
// state tracking engine for a single open document: it debounces edit
// notifications into one pending save, executes uploads under optimistic
// concurrency control, retries transient failures with backoff, queues
// writes durably while offline, and surfaces conflicts for resolution.
package autosave

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/looplab/fsm"

	"vellum/internal/conflict"
	"vellum/internal/domain"
	"vellum/internal/netmon"
	"vellum/internal/pending"
	"vellum/internal/version"
)

// Deps are the collaborators an engine needs. All are required.
type Deps struct {
	Gateway   domain.ServerGateway
	Store     *pending.Layered
	Monitor   *netmon.Monitor
	Snapshots *version.Snapshotter
	Resolver  *conflict.Resolver
	Logger    *slog.Logger
}

// Engine drives the autosave lifecycle for one document.
//
// Serialization: at most one save attempt is in flight at any instant.
// Edits arriving while an attempt is in flight (or while a retry timer
// is pending) only update the latest-snapshot reference; the next
// attempt always reads the newest content. The debounce timer and the
// retry timer are mutually exclusive: a pending retry is never preempted
// by a debounce-triggered save.
type Engine struct {
	docID string
	deps  Deps
	opts  Options
	clock domain.Clock

	logger *slog.Logger

	mu      sync.Mutex
	machine *fsm.FSM
	state   domain.AutosaveState

	latest   *domain.EditSnapshot
	editSeq  uint64
	savedSeq uint64

	expectedUpdatedAt string
	conflictState     *domain.ConflictState

	debounce      *time.Timer
	retryTimer    *time.Timer
	countdownStop chan struct{}
	schedule      *retrySchedule

	inFlight   bool
	flightDone chan struct{}

	subs    map[int]chan domain.AutosaveState
	nextSub int

	unsubscribe func()
	quit        chan struct{}
	closed      bool
}

// NewEngine creates an engine for documentID with baselineUpdatedAt as
// the initial optimistic-concurrency cursor (the updated_at observed
// when the document was opened). The engine subscribes to connectivity
// transitions and replays its durable pending record when the network
// returns.
func NewEngine(documentID, baselineUpdatedAt string, deps Deps, opts Options) *Engine {
	opts = opts.withDefaults()
	e := &Engine{
		docID:   documentID,
		deps:    deps,
		opts:    opts,
		clock:   opts.Clock,
		logger:  deps.Logger.With("document_id", documentID),
		machine: newStatusMachine(),
		state: domain.AutosaveState{
			Status: domain.StatusIdle,
		},
		expectedUpdatedAt: baselineUpdatedAt,
		schedule:          newRetrySchedule(opts.RetryBaseDelay, opts.RetryMaxDelay, opts.MaxRetries),
		subs:              make(map[int]chan domain.AutosaveState),
		quit:              make(chan struct{}),
	}

	ch, cancel := deps.Monitor.Subscribe()
	e.unsubscribe = cancel
	go e.watchConnectivity(ch)

	return e
}

// NotifyEdit records the newest edit and (re)starts the debounce timer.
// Multiple calls within the debounce window collapse into a single save
// of the most recent snapshot. PendingChanges is set immediately,
// independent of the debounce.
func (e *Engine) NotifyEdit(snap domain.EditSnapshot) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.latest = &snap
	e.editSeq++
	e.state.PendingChanges = true

	// A pending retry or an in-flight attempt is never preempted: the
	// newer content simply becomes what the next attempt reads. Once the
	// ceiling is hit, only an explicit SaveNow resumes.
	if !e.inFlight && e.retryTimer == nil && !e.state.MaxRetriesExceeded {
		e.resetDebounceLocked()
	}
	st := e.state
	e.mu.Unlock()
	e.publish(st)
}

// SaveNow cancels the pending debounce and saves the latest snapshot
// immediately. If an attempt is already in flight it waits for that
// attempt to finish first, so two conditional updates never race on the
// same cursor. Returns whether the save was confirmed by the server.
func (e *Engine) SaveNow(ctx context.Context) (bool, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false, fmt.Errorf("engine closed")
	}
	e.stopDebounceLocked()

	for e.inFlight {
		done := e.flightDone
		e.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return false, ctx.Err()
		}
		e.mu.Lock()
	}

	// An explicit save is a fresh start: cancel any scheduled retry and
	// lift the ceiling. The lock is held straight into the attempt so a
	// concurrently firing debounce cannot slip in between; SaveNow
	// reports the outcome of its own attempt.
	e.stopRetryLocked()
	e.state.MaxRetriesExceeded = false
	e.schedule.reset()
	return e.attemptLocked(ctx)
}

// ResetTimestamp replaces the optimistic-concurrency cursor. Must be
// called whenever content is replaced out-of-band (version restore,
// conflict reload) so the next conditional update matches the new
// baseline.
func (e *Engine) ResetTimestamp(updatedAt string) {
	e.mu.Lock()
	e.expectedUpdatedAt = updatedAt
	e.mu.Unlock()
}

// State returns the current externally observable autosave state.
func (e *Engine) State() domain.AutosaveState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Latest returns a copy of the newest local edit snapshot, or nil when
// nothing has been edited yet.
func (e *Engine) Latest() *domain.EditSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.latest == nil {
		return nil
	}
	snap := *e.latest
	return &snap
}

// Conflict returns the authoritative server state attached to the
// active conflict, or nil when no conflict is pending.
func (e *Engine) Conflict() *domain.ConflictState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conflictState
}

// Subscribe registers for state updates. The returned cancel func must
// be called to release the subscription.
func (e *Engine) Subscribe() (<-chan domain.AutosaveState, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextSub
	e.nextSub++
	ch := make(chan domain.AutosaveState, 8)
	e.subs[id] = ch
	return ch, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.subs, id)
	}
}

// Resolve applies a conflict-resolution strategy to the active conflict
// and reconciles local state with the result.
func (e *Engine) Resolve(ctx context.Context, strategy domain.ResolutionStrategy) (*conflict.Resolution, error) {
	e.mu.Lock()
	if e.state.Status != domain.StatusConflict || e.conflictState == nil {
		e.mu.Unlock()
		return nil, &domain.ValidationError{Message: "no conflict to resolve"}
	}
	local := e.latest
	server := e.conflictState
	e.mu.Unlock()

	if local == nil {
		local = &domain.EditSnapshot{}
	}
	res, err := e.deps.Resolver.Resolve(ctx, e.docID, strategy, local, server)
	if err != nil {
		var confErr *domain.ConflictError
		if errors.As(err, &confErr) {
			// Another writer got in during resolution; refresh the
			// attached server state and stay in conflict.
			e.mu.Lock()
			e.conflictState = confErr.ServerState
			st := e.state
			e.mu.Unlock()
			e.publish(st)
		}
		return nil, err
	}

	e.mu.Lock()
	e.expectedUpdatedAt = res.UpdatedAt
	e.conflictState = nil
	snap := domain.EditSnapshot{
		ContentRich:  res.ContentRich,
		ContentPlain: res.ContentPlain,
		Title:        res.Title,
	}
	e.latest = &snap
	e.editSeq++
	e.savedSeq = e.editSeq
	e.state.PendingChanges = false
	e.state.Error = ""
	e.state.RetryCount = 0
	e.state.RetryingIn = nil
	e.state.MaxRetriesExceeded = false
	e.schedule.reset()
	if strategy == domain.ResolveReload {
		e.fireLocked(eventReloaded)
	} else {
		now := e.clock.Now()
		e.state.LastSavedAt = &now
		e.fireLocked(eventResolved)
	}
	st := e.state
	e.mu.Unlock()
	e.publish(st)
	return res, nil
}

// ReplayPending re-attempts the durably stored pending write, if one
// exists. Called on engine start and when connectivity returns. The
// in-memory latest snapshot always wins over the stored record; the
// stored record only seeds state after a restart.
func (e *Engine) ReplayPending(ctx context.Context) error {
	ps, err := e.deps.Store.Get(ctx, e.docID)
	if err != nil {
		return fmt.Errorf("read pending record: %w", err)
	}
	if ps == nil {
		return nil
	}

	e.mu.Lock()
	if e.latest == nil {
		e.latest = &domain.EditSnapshot{
			ContentRich:  ps.ContentRich,
			ContentPlain: ps.ContentPlain,
			Title:        ps.Title,
			Metadata:     ps.Metadata,
		}
		e.editSeq++
		e.state.PendingChanges = true
		// The stored cursor predates the crash; replaying with it makes
		// a concurrent edit from another session surface as a conflict
		// instead of being silently overwritten.
		e.expectedUpdatedAt = ps.ExpectedUpdatedAt
	}
	e.mu.Unlock()

	e.logger.Info("replaying pending save", "enqueued_at", ps.EnqueuedAt)
	_, err = e.SaveNow(ctx)
	return err
}

// PrepareUnload is the before-unload hook: it writes the latest unsaved
// snapshot through the synchronous fallback store and reports whether
// the caller should warn the user before navigating away. Navigation is
// silent while the engine self-heals; error, offline and conflict all
// require a manual action that has not happened yet.
func (e *Engine) PrepareUnload(ctx context.Context) (warn bool, err error) {
	e.mu.Lock()
	st := e.state
	snap := e.latest
	expected := e.expectedUpdatedAt
	e.mu.Unlock()

	if st.PendingChanges && snap != nil {
		if perr := e.deps.Store.PutFallback(ctx, e.pendingFrom(snap, expected)); perr != nil {
			err = fmt.Errorf("write unload fallback: %w", perr)
		}
	}

	switch st.Status {
	case domain.StatusError, domain.StatusOffline, domain.StatusConflict:
		warn = st.PendingChanges
	}
	return warn, err
}

// Close stops timers and the connectivity watcher. Unsaved changes are
// written to the fallback store for replay on next start.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.stopDebounceLocked()
	e.stopRetryLocked()
	e.mu.Unlock()

	close(e.quit)
	e.unsubscribe()

	_, err := e.PrepareUnload(ctx)
	return err
}

// --- internals ---

func (e *Engine) watchConnectivity(ch <-chan bool) {
	for {
		select {
		case <-e.quit:
			return
		case online, ok := <-ch:
			if !ok {
				return
			}
			if online {
				e.handleOnline()
			} else {
				e.handleOffline()
			}
		}
	}
}

func (e *Engine) handleOffline() {
	e.mu.Lock()
	e.fireLocked(eventWentDown)
	st := e.state
	e.mu.Unlock()
	e.publish(st)
}

func (e *Engine) handleOnline() {
	e.mu.Lock()
	e.fireLocked(eventRestored)
	st := e.state
	e.mu.Unlock()
	e.publish(st)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := e.ReplayPending(ctx); err != nil {
		e.logger.Warn("pending replay after reconnect failed", "error", err)
	}
}

func (e *Engine) resetDebounceLocked() {
	e.stopDebounceLocked()
	e.debounce = time.AfterFunc(e.opts.Debounce, e.debounceFired)
}

func (e *Engine) stopDebounceLocked() {
	if e.debounce != nil {
		e.debounce.Stop()
		e.debounce = nil
	}
}

func (e *Engine) stopRetryLocked() {
	if e.retryTimer != nil {
		e.retryTimer.Stop()
		e.retryTimer = nil
	}
	e.stopCountdownLocked()
	e.state.RetryingIn = nil
}

func (e *Engine) debounceFired() {
	e.mu.Lock()
	e.debounce = nil
	if e.closed || e.inFlight || e.retryTimer != nil {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if _, err := e.attempt(ctx); err != nil {
		e.logger.Warn("debounced save failed", "error", err)
	}
}

func (e *Engine) retryFired() {
	e.mu.Lock()
	e.retryTimer = nil
	e.stopCountdownLocked()
	e.state.RetryingIn = nil
	if e.closed || e.inFlight {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	// The attempt re-reads the latest snapshot: a retry after further
	// local edits saves the newest content, not the one that failed.
	if _, err := e.attempt(ctx); err != nil {
		e.logger.Warn("retry attempt failed", "error", err)
	}
}

// attempt performs one serialized save attempt with whatever content is
// latest. Callers must ensure no attempt is already in flight (SaveNow
// waits; the timers check under lock).
func (e *Engine) attempt(ctx context.Context) (bool, error) {
	e.mu.Lock()
	return e.attemptLocked(ctx)
}

// attemptLocked is the attempt body. Entered with e.mu held; the lock is
// released before the network round trip.
func (e *Engine) attemptLocked(ctx context.Context) (bool, error) {
	if e.closed {
		e.mu.Unlock()
		return false, nil
	}
	if e.latest == nil {
		// No edit has ever been recorded, so no write happens and none
		// is confirmed.
		e.mu.Unlock()
		return false, nil
	}
	if e.inFlight {
		e.mu.Unlock()
		return false, nil
	}
	snap := *e.latest
	seq := e.editSeq
	expected := e.expectedUpdatedAt
	e.inFlight = true
	e.flightDone = make(chan struct{})
	e.mu.Unlock()

	saved := e.execute(ctx, snap, seq, expected)

	e.mu.Lock()
	e.inFlight = false
	close(e.flightDone)
	rearm := saved && e.state.PendingChanges && e.retryTimer == nil && !e.closed
	if rearm {
		// Edits arrived during the flight; the usual quiet period
		// applies before they are saved.
		e.resetDebounceLocked()
	}
	e.mu.Unlock()

	return saved, nil
}

// execute runs the save attempt body: offline queueing, the defensive
// durable backup, the conditional update, and outcome handling.
func (e *Engine) execute(ctx context.Context, snap domain.EditSnapshot, seq uint64, expected string) bool {
	if !e.deps.Monitor.Online() {
		e.queueOffline(ctx, snap, expected)
		return false
	}

	e.mu.Lock()
	e.fireLocked(eventSave)
	st := e.state
	e.mu.Unlock()
	e.publish(st)

	// Defensive backup before the network attempt: if the process dies
	// mid-request the write is still replayable. Cleared on success.
	if err := e.deps.Store.Put(ctx, e.pendingFrom(&snap, expected)); err != nil {
		e.logger.Warn("defensive pending backup failed", "error", err)
	}

	update := &domain.DocumentUpdate{
		ContentRich:  snap.ContentRich,
		ContentPlain: snap.ContentPlain,
		ContentHash:  domain.ContentHash(snap.ContentPlain),
		Metadata:     snap.Metadata,
	}
	if snap.Title != "" {
		title := snap.Title
		update.Title = &title
	}

	doc, err := e.deps.Gateway.UpdateDocument(ctx, e.docID, update, expected)
	if err == nil {
		e.completeSuccess(ctx, snap, seq, doc.UpdatedAt, true)
		return true
	}

	var confErr *domain.ConflictError
	switch {
	case errors.As(err, &confErr):
		if conflict.IsBenign(&snap, confErr.ServerState) {
			// Same content, divergent timestamp only: adopt the server's
			// cursor and move on without surfacing a dialog.
			e.logger.Debug("benign conflict, adopting server timestamp",
				"updated_at", confErr.ServerState.UpdatedAt,
			)
			e.completeSuccess(ctx, snap, seq, confErr.ServerState.UpdatedAt, false)
			return true
		}
		e.completeConflict(confErr)
		return false

	case errors.Is(err, domain.ErrValidation):
		e.completeValidationFailure(err)
		return false

	default:
		// Everything else is transient: network errors, timeouts, 5xx.
		e.completeTransientFailure(ctx, err)
		return false
	}
}

func (e *Engine) queueOffline(ctx context.Context, snap domain.EditSnapshot, expected string) {
	if err := e.deps.Store.Put(ctx, e.pendingFrom(&snap, expected)); err != nil {
		e.logger.Error("failed to queue offline save", "error", err)
	}
	e.mu.Lock()
	e.fireLocked(eventWentDown)
	e.state.PendingChanges = true
	st := e.state
	e.mu.Unlock()
	e.publish(st)
}

func (e *Engine) completeSuccess(ctx context.Context, snap domain.EditSnapshot, seq uint64, updatedAt string, snapshot bool) {
	e.mu.Lock()
	e.expectedUpdatedAt = updatedAt
	e.savedSeq = seq
	e.schedule.reset()
	e.stopCountdownLocked()
	now := e.clock.Now()
	e.state.LastSavedAt = &now
	e.state.Error = ""
	e.state.RetryCount = 0
	e.state.RetryingIn = nil
	e.state.MaxRetriesExceeded = false
	e.state.PendingChanges = e.editSeq != seq
	e.fireLocked(eventSaved)
	st := e.state
	e.mu.Unlock()

	if err := e.deps.Store.Delete(ctx, e.docID); err != nil {
		e.logger.Warn("failed to clear pending record", "error", err)
	}
	if snapshot {
		e.deps.Snapshots.MaybeSnapshot(ctx, e.docID, snap.ContentRich, snap.ContentPlain, snap.Title)
	}
	e.publish(st)
}

func (e *Engine) completeConflict(confErr *domain.ConflictError) {
	e.logSaveFailure("conflict", confErr.StatusCode(), confErr.Message)
	e.mu.Lock()
	e.conflictState = confErr.ServerState
	e.state.Error = confErr.Message
	e.stopCountdownLocked()
	e.state.RetryingIn = nil
	e.fireLocked(eventConflict)
	st := e.state
	e.mu.Unlock()
	e.publish(st)
}

func (e *Engine) completeValidationFailure(err error) {
	e.logSaveFailure("validation", 0, err.Error())
	e.mu.Lock()
	e.state.Error = err.Error()
	e.stopCountdownLocked()
	e.state.RetryingIn = nil
	e.fireLocked(eventFail)
	st := e.state
	e.mu.Unlock()
	e.publish(st)
}

func (e *Engine) completeTransientFailure(ctx context.Context, err error) {
	e.logSaveFailure("transient", 0, err.Error())

	e.mu.Lock()
	delay, retry := e.schedule.fail()
	e.state.RetryCount = e.schedule.count()
	e.state.Error = err.Error()
	e.fireLocked(eventFail)

	if !retry {
		e.state.MaxRetriesExceeded = true
		e.state.RetryingIn = nil
		st := e.state
		e.mu.Unlock()
		e.logger.Error("retry ceiling reached, automatic retries stopped",
			"retries", e.opts.MaxRetries,
		)
		e.publish(st)
		return
	}

	seconds := int(math.Ceil(delay.Seconds()))
	e.state.RetryingIn = &seconds
	e.retryTimer = time.AfterFunc(delay, e.retryFired)
	e.startCountdownLocked(seconds)
	st := e.state
	e.mu.Unlock()
	e.publish(st)
}

// startCountdownLocked ticks RetryingIn down once per second for UI
// feedback while the retry timer runs.
func (e *Engine) startCountdownLocked(seconds int) {
	e.stopCountdownLocked()
	stop := make(chan struct{})
	e.countdownStop = stop

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		remaining := seconds
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				remaining--
				if remaining <= 0 {
					return
				}
				e.mu.Lock()
				if e.state.RetryingIn == nil {
					e.mu.Unlock()
					return
				}
				r := remaining
				e.state.RetryingIn = &r
				st := e.state
				e.mu.Unlock()
				e.publish(st)
			}
		}
	}()
}

func (e *Engine) stopCountdownLocked() {
	if e.countdownStop != nil {
		close(e.countdownStop)
		e.countdownStop = nil
	}
}

func (e *Engine) pendingFrom(snap *domain.EditSnapshot, expected string) *domain.PendingSave {
	return &domain.PendingSave{
		DocumentID:        e.docID,
		ContentRich:       snap.ContentRich,
		ContentPlain:      snap.ContentPlain,
		Title:             snap.Title,
		Metadata:          snap.Metadata,
		ExpectedUpdatedAt: expected,
		EnqueuedAt:        e.clock.Now(),
	}
}

// logSaveFailure emits a structured, content-free failure record:
// actionable fields only, message truncated so no manuscript text leaks
// into logs.
func (e *Engine) logSaveFailure(kind string, statusCode int, message string) {
	if len(message) > 200 {
		message = message[:200]
	}
	e.mu.Lock()
	retries := e.schedule.count()
	e.mu.Unlock()
	e.logger.Error("autosave failure",
		"error_type", kind,
		"status_code", statusCode,
		"retry_count", retries,
		"message", message,
	)
}

func (e *Engine) publish(st domain.AutosaveState) {
	e.mu.Lock()
	subs := make([]chan domain.AutosaveState, 0, len(e.subs))
	for _, ch := range e.subs {
		subs = append(subs, ch)
	}
	e.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- st:
		default:
			// A full subscriber drops intermediate updates; State()
			// always has the latest.
		}
	}
}
