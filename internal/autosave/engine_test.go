package autosave

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"vellum/internal/conflict"
	"vellum/internal/domain"
	"vellum/internal/netmon"
	"vellum/internal/pending"
	"vellum/internal/version"
)

// fakeGateway is an in-memory server of record. failTransient makes the
// next N conditional updates fail with a TransientError; conflictNext
// makes the next conditional update fail with a ConflictError carrying
// the given server state.
type fakeGateway struct {
	mu            sync.Mutex
	doc           domain.Document
	seq           int
	updates       []domain.DocumentUpdate
	overwrites    []domain.DocumentUpdate
	snapshots     []domain.VersionSnapshot
	failTransient int
	conflictNext  *domain.ConflictState
	pingErr       error
}

func newFakeGateway(id string) *fakeGateway {
	return &fakeGateway{
		doc: domain.Document{ID: id, UpdatedAt: "ts-0"},
	}
}

func (g *fakeGateway) nextTS() string {
	g.seq++
	return fmt.Sprintf("ts-%d", g.seq)
}

func (g *fakeGateway) GetDocument(ctx context.Context, documentID string) (*domain.Document, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	doc := g.doc
	return &doc, nil
}

func (g *fakeGateway) UpdateDocument(ctx context.Context, documentID string, update *domain.DocumentUpdate, expectedUpdatedAt string) (*domain.Document, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failTransient > 0 {
		g.failTransient--
		return nil, &domain.TransientError{Message: "upstream unavailable"}
	}
	if g.conflictNext != nil {
		state := g.conflictNext
		g.conflictNext = nil
		return nil, &domain.ConflictError{Message: "document was modified", ServerState: state}
	}
	if expectedUpdatedAt != g.doc.UpdatedAt {
		state := &domain.ConflictState{
			ContentPlain: g.doc.ContentPlain,
			ContentHash:  g.doc.ContentHash,
			Title:        g.doc.Title,
			UpdatedAt:    g.doc.UpdatedAt,
		}
		return nil, &domain.ConflictError{Message: "document was modified", ServerState: state}
	}
	g.updates = append(g.updates, *update)
	g.apply(update)
	doc := g.doc
	return &doc, nil
}

func (g *fakeGateway) OverwriteDocument(ctx context.Context, documentID string, update *domain.DocumentUpdate) (*domain.Document, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.overwrites = append(g.overwrites, *update)
	g.apply(update)
	doc := g.doc
	return &doc, nil
}

func (g *fakeGateway) apply(update *domain.DocumentUpdate) {
	g.doc.ContentRich = update.ContentRich
	g.doc.ContentPlain = update.ContentPlain
	g.doc.ContentHash = update.ContentHash
	if update.Title != nil {
		g.doc.Title = *update.Title
	}
	g.doc.UpdatedAt = g.nextTS()
}

func (g *fakeGateway) CreateVersion(ctx context.Context, documentID string, snapshot *domain.VersionSnapshot) (*domain.Version, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.snapshots = append(g.snapshots, *snapshot)
	return &domain.Version{
		DocumentID:    documentID,
		VersionNumber: len(g.snapshots),
		ContentRich:   snapshot.ContentRich,
		ContentPlain:  snapshot.ContentPlain,
		Title:         snapshot.Title,
	}, nil
}

func (g *fakeGateway) GetVersion(ctx context.Context, documentID string, versionNumber int) (*domain.Version, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if versionNumber < 1 || versionNumber > len(g.snapshots) {
		return nil, &domain.NotFoundError{Message: "version not found"}
	}
	snap := g.snapshots[versionNumber-1]
	return &domain.Version{
		DocumentID:    documentID,
		VersionNumber: versionNumber,
		ContentRich:   snap.ContentRich,
		ContentPlain:  snap.ContentPlain,
		Title:         snap.Title,
	}, nil
}

func (g *fakeGateway) ListVersions(ctx context.Context, documentID string, limit int, cursor string) (*domain.VersionList, error) {
	return &domain.VersionList{}, nil
}

func (g *fakeGateway) Ping(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pingErr
}

func (g *fakeGateway) updateCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.updates)
}

func (g *fakeGateway) snapshotPlains() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.snapshots))
	for i, s := range g.snapshots {
		out[i] = s.ContentPlain
	}
	return out
}

type testRig struct {
	engine  *Engine
	gateway *fakeGateway
	store   *pending.Layered
	monitor *netmon.Monitor
}

func newTestRig(t *testing.T, opts Options) *testRig {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	primary, err := pending.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	fallback, err := pending.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	store := pending.NewLayered(primary, fallback, logger)

	gateway := newFakeGateway("doc-1")
	monitor := netmon.New(gateway, time.Hour, logger)

	deps := Deps{
		Gateway:   gateway,
		Store:     store,
		Monitor:   monitor,
		Snapshots: version.NewSnapshotter(gateway, 3, logger),
		Resolver:  conflict.NewResolver(gateway, store, logger),
		Logger:    logger,
	}
	eng := NewEngine("doc-1", "ts-0", deps, opts)
	t.Cleanup(func() { _ = eng.Close(context.Background()) })

	return &testRig{engine: eng, gateway: gateway, store: store, monitor: monitor}
}

func fastOptions() Options {
	return Options{
		Debounce:       20 * time.Millisecond,
		RetryBaseDelay: 25 * time.Millisecond,
		RetryMaxDelay:  80 * time.Millisecond,
		MaxRetries:     3,
	}
}

// manualOptions disables the debounce so only explicit SaveNow calls
// reach the server; keeps tests deterministic.
func manualOptions() Options {
	o := fastOptions()
	o.Debounce = time.Hour
	return o
}

func snap(plain string) domain.EditSnapshot {
	return domain.EditSnapshot{
		ContentRich:  map[string]interface{}{"type": "doc", "text": plain},
		ContentPlain: plain,
		Title:        "Chapter One",
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func TestDebounceCoalescesEdits(t *testing.T) {
	rig := newTestRig(t, fastOptions())

	rig.engine.NotifyEdit(snap("draft one"))
	rig.engine.NotifyEdit(snap("draft two"))
	rig.engine.NotifyEdit(snap("draft three"))

	waitFor(t, func() bool {
		return rig.engine.State().Status == domain.StatusSaved
	}, "debounced save to complete")

	if got := rig.gateway.updateCount(); got != 1 {
		t.Fatalf("expected 1 coalesced update, got %d", got)
	}
	rig.gateway.mu.Lock()
	update := rig.gateway.updates[0]
	rig.gateway.mu.Unlock()
	if update.ContentPlain != "draft three" {
		t.Errorf("saved content = %q, want latest edit", update.ContentPlain)
	}
	if update.ContentHash != domain.ContentHash("draft three") {
		t.Errorf("content hash not derived from saved content")
	}
	st := rig.engine.State()
	if st.PendingChanges {
		t.Error("PendingChanges should clear after a confirmed save")
	}
	if st.LastSavedAt == nil {
		t.Error("LastSavedAt should be set after a confirmed save")
	}
}

func TestEditResetsDebounceWindow(t *testing.T) {
	rig := newTestRig(t, Options{
		Debounce:       60 * time.Millisecond,
		RetryBaseDelay: 25 * time.Millisecond,
		RetryMaxDelay:  80 * time.Millisecond,
		MaxRetries:     3,
	})

	rig.engine.NotifyEdit(snap("a"))
	time.Sleep(35 * time.Millisecond)
	rig.engine.NotifyEdit(snap("ab"))
	time.Sleep(35 * time.Millisecond)

	// 70ms have elapsed but each edit restarted the window, so nothing
	// has been saved yet.
	if got := rig.gateway.updateCount(); got != 0 {
		t.Fatalf("save fired before the quiet period elapsed (%d updates)", got)
	}

	waitFor(t, func() bool { return rig.gateway.updateCount() == 1 }, "save after quiet period")
}

func TestSaveNowBypassesDebounce(t *testing.T) {
	rig := newTestRig(t, Options{
		Debounce:       time.Hour,
		RetryBaseDelay: 25 * time.Millisecond,
		RetryMaxDelay:  80 * time.Millisecond,
		MaxRetries:     3,
	})

	rig.engine.NotifyEdit(snap("immediate"))

	saved, err := rig.engine.SaveNow(context.Background())
	if err != nil {
		t.Fatalf("SaveNow: %v", err)
	}
	if !saved {
		t.Fatal("SaveNow did not confirm the save")
	}
	if got := rig.gateway.updateCount(); got != 1 {
		t.Fatalf("expected 1 update, got %d", got)
	}
	if st := rig.engine.State(); st.Status != domain.StatusSaved {
		t.Errorf("status = %s, want saved", st.Status)
	}
}

func TestTransientFailureRetriesAndRecovers(t *testing.T) {
	rig := newTestRig(t, fastOptions())
	rig.gateway.mu.Lock()
	rig.gateway.failTransient = 2
	rig.gateway.mu.Unlock()

	rig.engine.NotifyEdit(snap("flaky network"))

	waitFor(t, func() bool {
		return rig.engine.State().Status == domain.StatusSaved
	}, "save to succeed after retries")

	if got := rig.gateway.updateCount(); got != 1 {
		t.Fatalf("expected exactly 1 successful update, got %d", got)
	}
	st := rig.engine.State()
	if st.RetryCount != 0 {
		t.Errorf("RetryCount = %d after success, want 0", st.RetryCount)
	}
	if st.Error != "" {
		t.Errorf("Error = %q after success, want empty", st.Error)
	}
}

func TestRetryCeilingStopsAutomaticRetries(t *testing.T) {
	opts := fastOptions()
	opts.MaxRetries = 2
	rig := newTestRig(t, opts)
	rig.gateway.mu.Lock()
	rig.gateway.failTransient = 100
	rig.gateway.mu.Unlock()

	rig.engine.NotifyEdit(snap("doomed"))

	waitFor(t, func() bool {
		return rig.engine.State().MaxRetriesExceeded
	}, "retry ceiling")

	st := rig.engine.State()
	if st.Status != domain.StatusError {
		t.Errorf("status = %s, want error", st.Status)
	}
	if st.RetryingIn != nil {
		t.Error("RetryingIn should be nil once the ceiling is reached")
	}
	if !st.PendingChanges {
		t.Error("PendingChanges must remain set while the save is unconfirmed")
	}

	// Further edits must not restart automatic saving.
	rig.engine.NotifyEdit(snap("still doomed"))
	time.Sleep(60 * time.Millisecond)
	if !rig.engine.State().MaxRetriesExceeded {
		t.Fatal("an edit alone must not lift the retry ceiling")
	}

	// An explicit save resumes and, once the server recovers, resets the
	// failure bookkeeping.
	rig.gateway.mu.Lock()
	rig.gateway.failTransient = 0
	rig.gateway.mu.Unlock()

	saved, err := rig.engine.SaveNow(context.Background())
	if err != nil {
		t.Fatalf("SaveNow: %v", err)
	}
	if !saved {
		t.Fatal("explicit save should succeed once the server recovers")
	}
	st = rig.engine.State()
	if st.MaxRetriesExceeded || st.RetryCount != 0 || st.Status != domain.StatusSaved {
		t.Errorf("state after recovery = %+v", st)
	}
}

func TestRetrySavesLatestContent(t *testing.T) {
	rig := newTestRig(t, fastOptions())
	rig.gateway.mu.Lock()
	rig.gateway.failTransient = 1
	rig.gateway.mu.Unlock()

	rig.engine.NotifyEdit(snap("first try"))
	waitFor(t, func() bool {
		return rig.engine.State().Status == domain.StatusError
	}, "first attempt to fail")

	// Edit while the retry timer is pending; the retry must pick this up.
	rig.engine.NotifyEdit(snap("second try"))

	waitFor(t, func() bool {
		return rig.engine.State().Status == domain.StatusSaved
	}, "retry to succeed")

	rig.gateway.mu.Lock()
	last := rig.gateway.updates[len(rig.gateway.updates)-1]
	rig.gateway.mu.Unlock()
	if last.ContentPlain != "second try" {
		t.Errorf("retry saved %q, want the newest edit", last.ContentPlain)
	}
}

func TestBenignConflictAdoptsServerTimestamp(t *testing.T) {
	rig := newTestRig(t, manualOptions())
	content := "identical on both sides"
	rig.gateway.mu.Lock()
	rig.gateway.conflictNext = &domain.ConflictState{
		ContentPlain: content,
		ContentHash:  domain.ContentHash(content),
		UpdatedAt:    "ts-server",
	}
	rig.gateway.mu.Unlock()

	rig.engine.NotifyEdit(snap(content))

	saved, err := rig.engine.SaveNow(context.Background())
	if err != nil {
		t.Fatalf("SaveNow: %v", err)
	}
	if !saved {
		t.Fatal("benign conflict should resolve as a successful save")
	}
	st := rig.engine.State()
	if st.Status != domain.StatusSaved {
		t.Errorf("status = %s, want saved", st.Status)
	}
	if rig.engine.Conflict() != nil {
		t.Error("benign conflict must not surface a conflict state")
	}
	// The silent path adopts the timestamp without a version snapshot.
	if got := rig.gateway.snapshotPlains(); len(got) != 0 {
		t.Errorf("benign adoption created %d version snapshots, want 0", len(got))
	}

	// The adopted cursor must make the next save conditional on the
	// server's timestamp, not the stale local one.
	rig.engine.NotifyEdit(snap("a follow-up edit"))
	rig.gateway.mu.Lock()
	rig.gateway.doc.UpdatedAt = "ts-server"
	rig.gateway.mu.Unlock()
	saved, err = rig.engine.SaveNow(context.Background())
	if err != nil || !saved {
		t.Fatalf("follow-up save after benign adoption: saved=%v err=%v", saved, err)
	}
}

func TestConflictSurfacesAndResolvesByOverwrite(t *testing.T) {
	rig := newTestRig(t, manualOptions())
	rig.gateway.mu.Lock()
	rig.gateway.conflictNext = &domain.ConflictState{
		ContentPlain: "someone else's words",
		ContentHash:  domain.ContentHash("someone else's words"),
		Title:        "Chapter One",
		UpdatedAt:    "ts-other",
	}
	rig.gateway.mu.Unlock()

	rig.engine.NotifyEdit(snap("my words"))
	saved, err := rig.engine.SaveNow(context.Background())
	if err != nil {
		t.Fatalf("SaveNow: %v", err)
	}
	if saved {
		t.Fatal("conflicting save must not report success")
	}

	st := rig.engine.State()
	if st.Status != domain.StatusConflict {
		t.Fatalf("status = %s, want conflict", st.Status)
	}
	if st.RetryingIn != nil {
		t.Error("conflicts must not schedule automatic retries")
	}
	conf := rig.engine.Conflict()
	if conf == nil || conf.ContentPlain != "someone else's words" {
		t.Fatalf("conflict state = %+v, want the authoritative server content", conf)
	}

	res, err := rig.engine.Resolve(context.Background(), domain.ResolveOverwrite)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.ContentPlain != "my words" {
		t.Errorf("overwrite resolution kept %q, want local content", res.ContentPlain)
	}

	rig.gateway.mu.Lock()
	overwrites := len(rig.gateway.overwrites)
	rig.gateway.mu.Unlock()
	if overwrites != 1 {
		t.Fatalf("expected 1 overwrite call, got %d", overwrites)
	}

	st = rig.engine.State()
	if st.Status != domain.StatusSaved || st.PendingChanges || rig.engine.Conflict() != nil {
		t.Errorf("state after overwrite resolution = %+v", st)
	}
}

func TestConflictResolvedByReload(t *testing.T) {
	rig := newTestRig(t, manualOptions())
	rig.gateway.mu.Lock()
	rig.gateway.conflictNext = &domain.ConflictState{
		ContentPlain: "server wins",
		ContentHash:  domain.ContentHash("server wins"),
		Title:        "Chapter One",
		UpdatedAt:    "ts-other",
	}
	rig.gateway.mu.Unlock()

	rig.engine.NotifyEdit(snap("local loses"))
	if _, err := rig.engine.SaveNow(context.Background()); err != nil {
		t.Fatalf("SaveNow: %v", err)
	}
	waitFor(t, func() bool {
		return rig.engine.State().Status == domain.StatusConflict
	}, "conflict state")

	res, err := rig.engine.Resolve(context.Background(), domain.ResolveReload)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.ContentPlain != "server wins" {
		t.Errorf("reload resolution returned %q, want server content", res.ContentPlain)
	}
	rig.gateway.mu.Lock()
	writes := len(rig.gateway.overwrites) + len(rig.gateway.updates)
	rig.gateway.mu.Unlock()
	if writes != 0 {
		t.Errorf("reload must not write to the server, saw %d writes", writes)
	}
	if st := rig.engine.State(); st.Status != domain.StatusIdle {
		t.Errorf("status after reload = %s, want idle", st.Status)
	}
}

func TestOfflineQueuesDurablyAndReplaysOnReconnect(t *testing.T) {
	rig := newTestRig(t, fastOptions())
	rig.monitor.SetOnline(false)

	waitFor(t, func() bool {
		return rig.engine.State().Status == domain.StatusOffline
	}, "offline transition")

	rig.engine.NotifyEdit(snap("written in the tunnel"))

	waitFor(t, func() bool {
		ps, err := rig.store.Get(context.Background(), "doc-1")
		return err == nil && ps != nil
	}, "pending record to be written")

	if got := rig.gateway.updateCount(); got != 0 {
		t.Fatalf("no network writes expected while offline, got %d", got)
	}
	st := rig.engine.State()
	if st.Status != domain.StatusOffline || !st.PendingChanges {
		t.Errorf("offline state = %+v", st)
	}

	rig.monitor.SetOnline(true)

	waitFor(t, func() bool {
		return rig.engine.State().Status == domain.StatusSaved
	}, "queued write to replay after reconnect")

	rig.gateway.mu.Lock()
	last := rig.gateway.updates[len(rig.gateway.updates)-1]
	rig.gateway.mu.Unlock()
	if last.ContentPlain != "written in the tunnel" {
		t.Errorf("replayed content = %q", last.ContentPlain)
	}

	waitFor(t, func() bool {
		ps, err := rig.store.Get(context.Background(), "doc-1")
		return err == nil && ps == nil
	}, "pending record to clear after confirmation")
}

func TestVersionCadence(t *testing.T) {
	rig := newTestRig(t, manualOptions())

	for i := 1; i <= 7; i++ {
		rig.engine.NotifyEdit(snap(fmt.Sprintf("revision %d", i)))
		saved, err := rig.engine.SaveNow(context.Background())
		if err != nil || !saved {
			t.Fatalf("save %d: saved=%v err=%v", i, saved, err)
		}
	}

	// Threshold 3: snapshots at the first save and then every third
	// successful save after it.
	want := []string{"revision 1", "revision 4", "revision 7"}
	got := rig.gateway.snapshotPlains()
	if len(got) != len(want) {
		t.Fatalf("snapshot count = %d, want %d (%v)", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("snapshot %d = %q, want %q", i+1, got[i], want[i])
		}
	}
}

func TestPrepareUnload(t *testing.T) {
	rig := newTestRig(t, Options{
		Debounce:       time.Hour,
		RetryBaseDelay: 25 * time.Millisecond,
		RetryMaxDelay:  80 * time.Millisecond,
		MaxRetries:     1,
	})

	// Clean state: no warning.
	warn, err := rig.engine.PrepareUnload(context.Background())
	if err != nil || warn {
		t.Fatalf("clean unload: warn=%v err=%v", warn, err)
	}

	// Idle with a debounce pending is self-healing: snapshot persisted,
	// no warning.
	rig.engine.NotifyEdit(snap("about to close the laptop"))
	warn, err = rig.engine.PrepareUnload(context.Background())
	if err != nil {
		t.Fatalf("PrepareUnload: %v", err)
	}
	if warn {
		t.Error("pending debounce alone should not warn")
	}
	ps, err := rig.store.Get(context.Background(), "doc-1")
	if err != nil || ps == nil {
		t.Fatalf("unload must persist the pending snapshot, got %+v err=%v", ps, err)
	}
	if ps.ContentPlain != "about to close the laptop" {
		t.Errorf("persisted content = %q", ps.ContentPlain)
	}

	// Error state with unsaved changes: warn.
	rig.gateway.mu.Lock()
	rig.gateway.failTransient = 100
	rig.gateway.mu.Unlock()
	if _, err := rig.engine.SaveNow(context.Background()); err != nil {
		t.Fatalf("SaveNow: %v", err)
	}
	waitFor(t, func() bool {
		return rig.engine.State().MaxRetriesExceeded
	}, "retry ceiling")

	warn, err = rig.engine.PrepareUnload(context.Background())
	if err != nil {
		t.Fatalf("PrepareUnload: %v", err)
	}
	if !warn {
		t.Error("unconfirmed changes in error state must warn before unload")
	}
}

func TestReplayPendingSeedsFromStore(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	primary, err := pending.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	fallback, err := pending.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	store := pending.NewLayered(primary, fallback, logger)

	// A record left behind by a previous session, cursor included.
	record := &domain.PendingSave{
		DocumentID:        "doc-1",
		ContentPlain:      "survived the crash",
		ContentRich:       map[string]interface{}{"type": "doc"},
		Title:             "Chapter One",
		ExpectedUpdatedAt: "ts-0",
		EnqueuedAt:        time.Now(),
	}
	if err := store.Put(context.Background(), record); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	gateway := newFakeGateway("doc-1")
	monitor := netmon.New(gateway, time.Hour, logger)
	deps := Deps{
		Gateway:   gateway,
		Store:     store,
		Monitor:   monitor,
		Snapshots: version.NewSnapshotter(gateway, 3, logger),
		Resolver:  conflict.NewResolver(gateway, store, logger),
		Logger:    logger,
	}
	eng := NewEngine("doc-1", "ts-0", deps, manualOptions())
	defer eng.Close(context.Background())

	if err := eng.ReplayPending(context.Background()); err != nil {
		t.Fatalf("ReplayPending: %v", err)
	}

	if got := gateway.updateCount(); got != 1 {
		t.Fatalf("expected 1 replayed update, got %d", got)
	}
	gateway.mu.Lock()
	update := gateway.updates[0]
	gateway.mu.Unlock()
	if update.ContentPlain != "survived the crash" {
		t.Errorf("replayed content = %q", update.ContentPlain)
	}
	if st := eng.State(); st.Status != domain.StatusSaved || st.PendingChanges {
		t.Errorf("state after replay = %+v", st)
	}
}

func TestReplayPendingStaleCursorSurfacesConflict(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	primary, err := pending.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	store := pending.NewLayered(primary, primary, logger)

	record := &domain.PendingSave{
		DocumentID:        "doc-1",
		ContentPlain:      "stale local draft",
		ExpectedUpdatedAt: "ts-0",
		EnqueuedAt:        time.Now(),
	}
	if err := store.Put(context.Background(), record); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	gateway := newFakeGateway("doc-1")
	// Another session wrote while this one was down.
	gateway.doc.ContentPlain = "newer server draft"
	gateway.doc.ContentHash = domain.ContentHash("newer server draft")
	gateway.doc.UpdatedAt = "ts-9"

	monitor := netmon.New(gateway, time.Hour, logger)
	deps := Deps{
		Gateway:   gateway,
		Store:     store,
		Monitor:   monitor,
		Snapshots: version.NewSnapshotter(gateway, 3, logger),
		Resolver:  conflict.NewResolver(gateway, store, logger),
		Logger:    logger,
	}
	eng := NewEngine("doc-1", "ts-9", deps, manualOptions())
	defer eng.Close(context.Background())

	if err := eng.ReplayPending(context.Background()); err != nil {
		t.Fatalf("ReplayPending: %v", err)
	}

	if st := eng.State(); st.Status != domain.StatusConflict {
		t.Fatalf("status = %s, want conflict (replay must use the stored cursor)", st.Status)
	}
	conf := eng.Conflict()
	if conf == nil || conf.ContentPlain != "newer server draft" {
		t.Errorf("conflict state = %+v", conf)
	}
}

func TestSaveNowWithoutEditsWritesNothing(t *testing.T) {
	rig := newTestRig(t, manualOptions())

	saved, err := rig.engine.SaveNow(context.Background())
	if err != nil {
		t.Fatalf("SaveNow: %v", err)
	}
	if saved {
		t.Error("SaveNow confirmed a save with nothing ever edited")
	}
	if got := rig.gateway.updateCount(); got != 0 {
		t.Errorf("%d updates reached the server, want 0", got)
	}
}

func TestSaveNowReportsItsOwnAttempt(t *testing.T) {
	rig := newTestRig(t, fastOptions())

	// Hot debounce racing the explicit save: whichever attempt lands
	// first, SaveNow must report a confirmed save of the latest content.
	rig.engine.NotifyEdit(snap("explicit save wins"))
	saved, err := rig.engine.SaveNow(context.Background())
	if err != nil {
		t.Fatalf("SaveNow: %v", err)
	}
	if !saved {
		t.Fatal("SaveNow did not confirm the save")
	}

	rig.gateway.mu.Lock()
	last := rig.gateway.updates[len(rig.gateway.updates)-1]
	rig.gateway.mu.Unlock()
	if last.ContentPlain != "explicit save wins" {
		t.Errorf("last saved content = %q, want the latest edit", last.ContentPlain)
	}
}

func TestConcurrentEditsAndSaves(t *testing.T) {
	rig := newTestRig(t, fastOptions())

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				rig.engine.NotifyEdit(snap(fmt.Sprintf("draft %d-%d", w, i)))
			}
		}(w)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 10; i++ {
			if _, err := rig.engine.SaveNow(context.Background()); err != nil {
				t.Errorf("SaveNow: %v", err)
			}
		}
	}()
	wg.Wait()

	// The dust settled: one final explicit save lands the newest edit.
	saved, err := rig.engine.SaveNow(context.Background())
	if err != nil || !saved {
		t.Fatalf("final SaveNow: saved=%v err=%v", saved, err)
	}

	latest := rig.engine.Latest()
	rig.gateway.mu.Lock()
	last := rig.gateway.updates[len(rig.gateway.updates)-1]
	rig.gateway.mu.Unlock()
	if last.ContentPlain != latest.ContentPlain {
		t.Errorf("server has %q, latest local edit is %q", last.ContentPlain, latest.ContentPlain)
	}
}
