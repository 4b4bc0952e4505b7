package services

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"registro/internal/backup"
	"registro/internal/core"
	"registro/internal/remote/memory"
	"registro/internal/session"
	"registro/internal/storage"
)

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(filepath.Join(t.TempDir(), "registro.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

var userA = session.Session{UserID: "user-a"}

func TestSaveWithoutSessionStaysLocal(t *testing.T) {
	store := newTestStore(t)
	mirror := memory.New()
	tr := NewTracker(store, mirror, nil)
	ctx := context.Background()

	outcome, err := tr.SaveWorkEntry(ctx, session.Anonymous, core.NewDayEntry("2025-01-05", core.Worked, d(200)))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if outcome != SyncDeferredLocalOnly {
		t.Errorf("outcome = %v, want deferred", outcome)
	}
	if got := len(tr.WorkEntries(ctx)); got != 1 {
		t.Errorf("local entries = %d, want 1", got)
	}
	if _, ok := mirror.Record("", storage.KeyWorkEntries); ok {
		t.Error("anonymous save must not reach the remote")
	}
}

func TestSaveWithSessionPushes(t *testing.T) {
	store := newTestStore(t)
	mirror := memory.New()
	tr := NewTracker(store, mirror, nil)
	ctx := context.Background()

	outcome, err := tr.SaveAdvance(ctx, userA, core.NewAdvance("2025-01-06", d(100), ""))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if outcome != SyncApplied {
		t.Errorf("outcome = %v, want applied", outcome)
	}
	rec, ok := mirror.Record("user-a", storage.KeyAdvances)
	if !ok {
		t.Fatal("advance collection not mirrored")
	}
	if len(rec.Data) == 0 {
		t.Error("mirrored payload is empty")
	}

	dirty, _ := store.DirtyCategories(ctx, 10)
	if len(dirty) != 0 {
		t.Errorf("dirty after applied sync = %v", dirty)
	}
}

func TestRemoteFailureIsAdvisory(t *testing.T) {
	store := newTestStore(t)
	mirror := memory.New()
	mirror.FailUpserts = true
	tr := NewTracker(store, mirror, nil)
	ctx := context.Background()

	outcome, err := tr.SaveAdvance(ctx, userA, core.NewAdvance("2025-01-06", d(100), ""))
	if err != nil {
		t.Fatalf("local save must succeed despite remote failure: %v", err)
	}
	if outcome != SyncDeferredLocalOnly {
		t.Errorf("outcome = %v, want deferred", outcome)
	}
	if got := len(tr.Advances(ctx)); got != 1 {
		t.Errorf("local advances = %d, want 1", got)
	}
	dirty, _ := store.DirtyCategories(ctx, 10)
	if len(dirty) != 1 {
		t.Errorf("failed push should leave the category dirty, got %v", dirty)
	}
}

func TestSaveRejectsInvalidEntry(t *testing.T) {
	tr := NewTracker(newTestStore(t), memory.New(), nil)
	ctx := context.Background()

	if _, err := tr.SaveWorkEntry(ctx, userA, core.WorkEntry{Date: "bad", Status: core.Worked}); err == nil {
		t.Error("invalid entry accepted")
	}
	if got := len(tr.WorkEntries(ctx)); got != 0 {
		t.Errorf("invalid entry persisted: %d", got)
	}
}

type recordingPublisher struct {
	calls []string
	fail  bool
}

func (p *recordingPublisher) PublishCategorySync(_ context.Context, userID, category string) error {
	if p.fail {
		return errors.New("broker down")
	}
	p.calls = append(p.calls, userID+"/"+category)
	return nil
}

func TestQueuePreferredOverDirectPush(t *testing.T) {
	store := newTestStore(t)
	mirror := memory.New()
	queue := &recordingPublisher{}
	tr := NewTracker(store, mirror, queue)
	ctx := context.Background()

	outcome, err := tr.SaveAdvance(ctx, userA, core.NewAdvance("2025-01-06", d(100), ""))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if outcome != SyncApplied {
		t.Errorf("outcome = %v, want applied", outcome)
	}
	if len(queue.calls) != 1 || queue.calls[0] != "user-a/"+storage.KeyAdvances {
		t.Errorf("queue calls = %v", queue.calls)
	}
	if _, ok := mirror.Record("user-a", storage.KeyAdvances); ok {
		t.Error("direct push should be skipped when a queue is configured")
	}
}

func TestQueueFailureDefers(t *testing.T) {
	tr := NewTracker(newTestStore(t), memory.New(), &recordingPublisher{fail: true})

	outcome, err := tr.SaveAdvance(context.Background(), userA, core.NewAdvance("2025-01-06", d(100), ""))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if outcome != SyncDeferredLocalOnly {
		t.Errorf("outcome = %v, want deferred", outcome)
	}
}

func TestPullAllRequiresSession(t *testing.T) {
	tr := NewTracker(newTestStore(t), memory.New(), nil)
	if err := tr.PullAll(context.Background(), session.Anonymous); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("PullAll error = %v, want ErrUnauthenticated", err)
	}
}

func TestPullAllFailureKeepsLocalData(t *testing.T) {
	store := newTestStore(t)
	mirror := memory.New()
	tr := NewTracker(store, mirror, nil)
	ctx := context.Background()

	if _, err := tr.SaveWorkEntry(ctx, session.Anonymous, core.NewDayEntry("2025-01-05", core.Worked, d(200))); err != nil {
		t.Fatalf("seed: %v", err)
	}

	mirror.FailFetches = true
	if err := tr.PullAll(ctx, userA); err == nil {
		t.Fatal("fetch failure must surface")
	}
	if got := len(tr.WorkEntries(ctx)); got != 1 {
		t.Errorf("local data lost on failed pull: %d entries", got)
	}
}

func TestPullAllOverwritesAfterSuccess(t *testing.T) {
	store := newTestStore(t)
	mirror := memory.New()
	tr := NewTracker(store, mirror, nil)
	ctx := context.Background()

	_ = mirror.Upsert(ctx, "user-a", storage.KeyWorkEntries,
		[]byte(`[{"id":"2025-02-01","date":"2025-02-01","status":"worked","dailyRateSnapshot":"250"}]`))
	_ = mirror.Upsert(ctx, "user-a", storage.KeySettings, []byte(`{"dailyRate":"250"}`))

	if _, err := tr.SaveWorkEntry(ctx, session.Anonymous, core.NewDayEntry("2025-01-05", core.Worked, d(200))); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := tr.PullAll(ctx, userA); err != nil {
		t.Fatalf("pull: %v", err)
	}

	entries := tr.WorkEntries(ctx)
	if len(entries) != 1 || entries[0].Date != "2025-02-01" {
		t.Errorf("entries after pull = %+v, want the remote copy", entries)
	}
	if !tr.Settings(ctx).DailyRate.Equal(d(250)) {
		t.Errorf("settings after pull = %+v", tr.Settings(ctx))
	}
}

func TestBeginSessionPurgesOnAccountSwitch(t *testing.T) {
	store := newTestStore(t)
	mirror := memory.New()
	tr := NewTracker(store, mirror, nil)
	ctx := context.Background()

	if err := tr.BeginSession(ctx, userA); err != nil {
		t.Fatalf("first login: %v", err)
	}
	if _, err := tr.SaveWorkEntry(ctx, userA, core.NewDayEntry("2025-01-05", core.Worked, d(200))); err != nil {
		t.Fatalf("save: %v", err)
	}

	userB := session.Session{UserID: "user-b"}
	if err := tr.BeginSession(ctx, userB); err != nil {
		t.Fatalf("switch login: %v", err)
	}

	if got := len(tr.WorkEntries(ctx)); got != 0 {
		t.Errorf("previous account's entries leaked: %d", got)
	}
	if store.Owner(ctx) != "user-b" {
		t.Errorf("owner = %q, want user-b", store.Owner(ctx))
	}
}

func TestBeginSessionOfflineKeepsOwnData(t *testing.T) {
	store := newTestStore(t)
	mirror := memory.New()
	tr := NewTracker(store, mirror, nil)
	ctx := context.Background()

	if err := tr.BeginSession(ctx, userA); err != nil {
		t.Fatalf("first login: %v", err)
	}
	if _, err := tr.SaveWorkEntry(ctx, userA, core.NewDayEntry("2025-01-05", core.Worked, d(200))); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Same user logs in again while the remote is unreachable.
	mirror.FailFetches = true
	if err := tr.BeginSession(ctx, userA); err != nil {
		t.Fatalf("offline login: %v", err)
	}
	if got := len(tr.WorkEntries(ctx)); got != 1 {
		t.Errorf("offline login lost local data: %d entries", got)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	store := newTestStore(t)
	tr := NewTracker(store, memory.New(), nil)
	ctx := context.Background()

	if _, err := tr.SaveWorkEntry(ctx, session.Anonymous, core.NewDayEntry("2025-01-05", core.Worked, d(200))); err != nil {
		t.Fatalf("save entry: %v", err)
	}
	if _, err := tr.SaveAdvance(ctx, session.Anonymous, core.NewAdvance("2025-01-06", d(100), "groceries")); err != nil {
		t.Fatalf("save advance: %v", err)
	}
	settings := tr.Settings(ctx)
	settings.DailyRate = d(200)
	settings.WorkerName = "Maria"
	if _, err := tr.SaveSettings(ctx, session.Anonymous, settings); err != nil {
		t.Fatalf("save settings: %v", err)
	}

	data, err := tr.Export(ctx).Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	// Restore into a fresh device.
	other := NewTracker(newTestStore(t), memory.New(), nil)
	if err := other.Import(ctx, session.Anonymous, data); err != nil {
		t.Fatalf("import: %v", err)
	}

	if got := other.WorkEntries(ctx); len(got) != 1 || got[0].ID != "2025-01-05" {
		t.Errorf("restored entries = %+v", got)
	}
	if got := other.Advances(ctx); len(got) != 1 || got[0].Note != "groceries" {
		t.Errorf("restored advances = %+v", got)
	}
	restored := other.Settings(ctx)
	if restored.WorkerName != "Maria" || !restored.DailyRate.Equal(d(200)) {
		t.Errorf("restored settings = %+v", restored)
	}
}

func TestImportRejectsInvalidDocumentWithoutMutation(t *testing.T) {
	store := newTestStore(t)
	tr := NewTracker(store, memory.New(), nil)
	ctx := context.Background()

	if _, err := tr.SaveWorkEntry(ctx, session.Anonymous, core.NewDayEntry("2025-01-05", core.Worked, d(200))); err != nil {
		t.Fatalf("seed: %v", err)
	}

	err := tr.Import(ctx, session.Anonymous, []byte(`{"advances":[]}`))
	if !errors.Is(err, backup.ErrInvalidDocument) {
		t.Fatalf("Import error = %v, want ErrInvalidDocument", err)
	}
	if got := len(tr.WorkEntries(ctx)); got != 1 {
		t.Errorf("invalid import mutated local data: %d entries", got)
	}
}

func TestImportSucceedsWhenRemotePushFails(t *testing.T) {
	mirror := memory.New()
	mirror.FailUpserts = true
	tr := NewTracker(newTestStore(t), mirror, nil)
	ctx := context.Background()

	data := []byte(`{"workEntries":[],"advances":[],"settings":{"dailyRate":"180"}}`)
	if err := tr.Import(ctx, userA, data); err != nil {
		t.Fatalf("import must succeed locally despite remote failure: %v", err)
	}
	if !tr.Settings(ctx).DailyRate.Equal(d(180)) {
		t.Errorf("settings not restored: %+v", tr.Settings(ctx))
	}
}

func TestCloseCycleAdvancesStartOnly(t *testing.T) {
	store := newTestStore(t)
	tr := NewTracker(store, memory.New(), nil)
	ctx := context.Background()

	if _, err := tr.SaveWorkEntry(ctx, session.Anonymous, core.NewDayEntry("2025-01-05", core.Worked, d(200))); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, err := tr.CloseCycle(ctx, session.Anonymous, "2025-01-20"); err != nil {
		t.Fatalf("close cycle: %v", err)
	}

	if got := tr.Settings(ctx).BillingCycleStart; got != "2025-01-20" {
		t.Errorf("cycle start = %q, want 2025-01-20", got)
	}
	if got := len(tr.WorkEntries(ctx)); got != 1 {
		t.Errorf("closing a cycle must not touch entries, got %d", got)
	}

	// The old entry is out of the new cycle but still reachable.
	sel := tr.CycleSelection(ctx)
	if sel.Includes("2025-01-05") {
		t.Error("new cycle should exclude the old entry")
	}
	rep := tr.Report(ctx, sel)
	if len(rep.Work) != 0 {
		t.Errorf("cycle report = %+v", rep.Work)
	}
}

func TestEndSessionClearsLocalData(t *testing.T) {
	store := newTestStore(t)
	tr := NewTracker(store, memory.New(), nil)
	ctx := context.Background()

	if err := tr.BeginSession(ctx, userA); err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := tr.SaveWorkEntry(ctx, userA, core.NewDayEntry("2025-01-05", core.Worked, d(200))); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := tr.MarkReminded(ctx, "2025-01-05"); err != nil {
		t.Fatalf("mark reminded: %v", err)
	}

	if err := tr.EndSession(ctx); err != nil {
		t.Fatalf("logout: %v", err)
	}

	if got := len(tr.WorkEntries(ctx)); got != 0 {
		t.Errorf("entries after logout = %d", got)
	}
	if store.Owner(ctx) != "" {
		t.Errorf("owner after logout = %q", store.Owner(ctx))
	}
	if store.LastNotificationDate(ctx) != "2025-01-05" {
		t.Error("logout must keep the device reminder scalar")
	}
}

func TestSyncAllPushesEveryCategory(t *testing.T) {
	store := newTestStore(t)
	mirror := memory.New()
	tr := NewTracker(store, mirror, nil)
	ctx := context.Background()

	if outcome := tr.SyncAll(ctx, userA); outcome != SyncApplied {
		t.Errorf("outcome = %v, want applied", outcome)
	}
	for _, category := range storage.Categories() {
		if _, ok := mirror.Record("user-a", category); !ok {
			t.Errorf("category %s not mirrored", category)
		}
	}
}
