package worker

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"registro/internal/amqp"
	"registro/internal/core"
	"registro/internal/remote/memory"
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

func seedEntry(t *testing.T, s *storage.Store) {
	t.Helper()
	entry := core.NewDayEntry("2025-01-05", core.Worked, decimal.NewFromInt(200))
	if err := s.SaveWorkEntry(context.Background(), entry); err != nil {
		t.Fatalf("seed entry: %v", err)
	}
}

func TestHandleCategorySyncPushesCurrentPayload(t *testing.T) {
	store := newTestStore(t)
	mirror := memory.New()
	w := NewSyncWorker(store, mirror, 10)
	ctx := context.Background()

	seedEntry(t, store)

	msg := &amqp.CategorySyncMessage{UserID: "user-a", Category: storage.KeyWorkEntries}
	if err := w.HandleCategorySync(ctx, msg); err != nil {
		t.Fatalf("handle: %v", err)
	}

	rec, ok := mirror.Record("user-a", storage.KeyWorkEntries)
	if !ok {
		t.Fatal("category not mirrored")
	}
	var entries []core.WorkEntry
	if err := json.Unmarshal(rec.Data, &entries); err != nil {
		t.Fatalf("mirrored payload: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != "2025-01-05" {
		t.Errorf("mirrored entries = %+v", entries)
	}

	dirty, _ := store.DirtyCategories(ctx, 10)
	if len(dirty) != 0 {
		t.Errorf("dirty after push = %v", dirty)
	}
}

func TestHandleCategorySyncRemoteFailure(t *testing.T) {
	store := newTestStore(t)
	mirror := memory.New()
	mirror.FailUpserts = true
	w := NewSyncWorker(store, mirror, 10)
	ctx := context.Background()

	seedEntry(t, store)

	msg := &amqp.CategorySyncMessage{UserID: "user-a", Category: storage.KeyWorkEntries}
	if err := w.HandleCategorySync(ctx, msg); err == nil {
		t.Fatal("expected error so the message is requeued")
	}

	dirty, _ := store.DirtyCategories(ctx, 10)
	if len(dirty) != 1 {
		t.Errorf("category should stay dirty after failed push, got %v", dirty)
	}
}

func TestProcessDirtyCategories(t *testing.T) {
	store := newTestStore(t)
	mirror := memory.New()
	w := NewSyncWorker(store, mirror, 10)
	ctx := context.Background()

	if err := store.SetOwner(ctx, "user-a"); err != nil {
		t.Fatalf("set owner: %v", err)
	}
	seedEntry(t, store)
	if err := store.SaveAdvance(ctx, core.NewAdvance("2025-01-06", decimal.NewFromInt(50), "")); err != nil {
		t.Fatalf("seed advance: %v", err)
	}

	if err := w.ProcessDirtyCategories(ctx); err != nil {
		t.Fatalf("process: %v", err)
	}

	for _, category := range []string{storage.KeyWorkEntries, storage.KeyAdvances} {
		if _, ok := mirror.Record("user-a", category); !ok {
			t.Errorf("category %s not mirrored", category)
		}
	}
	dirty, _ := store.DirtyCategories(ctx, 10)
	if len(dirty) != 0 {
		t.Errorf("dirty after scan = %v", dirty)
	}
}

func TestProcessDirtyCategoriesWithoutOwner(t *testing.T) {
	store := newTestStore(t)
	mirror := memory.New()
	w := NewSyncWorker(store, mirror, 10)
	ctx := context.Background()

	seedEntry(t, store)

	if err := w.ProcessDirtyCategories(ctx); err != nil {
		t.Fatalf("process: %v", err)
	}
	if _, ok := mirror.Record("", storage.KeyWorkEntries); ok {
		t.Error("anonymous data must never be pushed")
	}
}

func TestStartupSyncCheckRecoversBacklog(t *testing.T) {
	store := newTestStore(t)
	mirror := memory.New()
	w := NewSyncWorker(store, mirror, 2)
	ctx := context.Background()

	if err := store.SetOwner(ctx, "user-a"); err != nil {
		t.Fatalf("set owner: %v", err)
	}
	seedEntry(t, store)
	if err := store.SaveAdvance(ctx, core.NewAdvance("2025-01-06", decimal.NewFromInt(50), "")); err != nil {
		t.Fatalf("seed advance: %v", err)
	}
	if err := store.SaveExpense(ctx, core.NewExpense("2025-01-07", decimal.NewFromInt(30), "bus")); err != nil {
		t.Fatalf("seed expense: %v", err)
	}

	if err := w.StartupSyncCheck(ctx); err != nil {
		t.Fatalf("startup check: %v", err)
	}

	// The startup scan uses a widened batch, so all three make it through.
	for _, category := range []string{storage.KeyWorkEntries, storage.KeyAdvances, storage.KeyExpenses} {
		if _, ok := mirror.Record("user-a", category); !ok {
			t.Errorf("category %s not mirrored", category)
		}
	}
}
