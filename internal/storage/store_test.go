package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"registro/internal/core"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "registro.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestWorkEntryUpsertByDateIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	rate := decimal.NewFromInt(200)

	if err := s.SaveWorkEntry(ctx, core.NewDayEntry("2025-01-05", core.Worked, rate)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SaveWorkEntry(ctx, core.NewDayEntry("2025-01-05", core.HalfDay, rate)); err != nil {
		t.Fatalf("save again: %v", err)
	}

	entries := s.WorkEntries(ctx)
	if len(entries) != 1 {
		t.Fatalf("got %d entries for one date, want 1", len(entries))
	}
	if entries[0].Status != core.HalfDay {
		t.Errorf("second save should overwrite, got status %q", entries[0].Status)
	}
}

func TestExtraServicesShareADate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	price := decimal.NewFromInt(80)

	for i := 0; i < 3; i++ {
		if err := s.SaveWorkEntry(ctx, core.NewExtraService("2025-01-05", "repair", price)); err != nil {
			t.Fatalf("save service %d: %v", i, err)
		}
	}
	// The day slot is independent of the services.
	if err := s.SaveWorkEntry(ctx, core.NewDayEntry("2025-01-05", core.Worked, price)); err != nil {
		t.Fatalf("save day entry: %v", err)
	}

	if got := len(s.WorkEntries(ctx)); got != 4 {
		t.Errorf("got %d entries, want 3 services + 1 day entry", got)
	}
}

func TestDeleteWorkEntry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e := core.NewDayEntry("2025-01-05", core.Worked, decimal.NewFromInt(200))
	if err := s.SaveWorkEntry(ctx, e); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.DeleteWorkEntry(ctx, e.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got := len(s.WorkEntries(ctx)); got != 0 {
		t.Errorf("got %d entries after delete, want 0", got)
	}
}

func TestCorruptPayloadDegradesToEmpty(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO collections (key, data) VALUES (?, ?)`, KeyWorkEntries, `{not json`); err != nil {
		t.Fatalf("plant corruption: %v", err)
	}

	if got := s.WorkEntries(ctx); len(got) != 0 {
		t.Errorf("corrupt payload returned %d entries, want 0", len(got))
	}

	// A save over the corrupt payload repairs the collection.
	if err := s.SaveWorkEntry(ctx, core.NewDayEntry("2025-01-05", core.Worked, decimal.NewFromInt(200))); err != nil {
		t.Fatalf("save over corruption: %v", err)
	}
	if got := len(s.WorkEntries(ctx)); got != 1 {
		t.Errorf("got %d entries after repair, want 1", got)
	}
}

func TestNonListPayloadDegradesToEmpty(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO collections (key, data) VALUES (?, ?)`, KeyAdvances, `{"amount":5}`); err != nil {
		t.Fatalf("plant payload: %v", err)
	}
	if got := s.Advances(ctx); len(got) != 0 {
		t.Errorf("object payload decoded as %d advances, want 0", len(got))
	}
}

func TestSettingsDefaultsAndOverride(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	defaults := s.Settings(ctx)
	if defaults.NotificationTime != "18:00" {
		t.Errorf("empty store notification time = %q, want default", defaults.NotificationTime)
	}

	if err := s.ReplaceCollection(ctx, KeySettings, []byte(`{"dailyRate":"300"}`)); err != nil {
		t.Fatalf("store partial settings: %v", err)
	}
	got := s.Settings(ctx)
	if !got.DailyRate.Equal(decimal.NewFromInt(300)) {
		t.Errorf("daily rate = %v, want 300", got.DailyRate)
	}
	if got.NotificationTime != defaults.NotificationTime || got.Currency != defaults.Currency {
		t.Error("fields absent from the stored record should keep defaults")
	}
}

func TestSaveSettingsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	in := s.Settings(ctx)
	in.DailyRate = decimal.NewFromInt(250)
	in.WorkerName = "Maria"
	in.BillingCycleStart = "2024-12-16"

	if err := s.SaveSettings(ctx, in); err != nil {
		t.Fatalf("save settings: %v", err)
	}
	out := s.Settings(ctx)
	if !out.DailyRate.Equal(in.DailyRate) || out.WorkerName != in.WorkerName {
		t.Errorf("round trip = %+v, want %+v", out, in)
	}
	if out.BillingCycleStart != "2024-12-16" {
		t.Errorf("cycle start = %q", out.BillingCycleStart)
	}
}

func TestClearUserDataPreservesNotificationDate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveWorkEntry(ctx, core.NewDayEntry("2025-01-05", core.Worked, decimal.NewFromInt(200))); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SetOwner(ctx, "user-a"); err != nil {
		t.Fatalf("set owner: %v", err)
	}
	if err := s.SetLastNotificationDate(ctx, "2025-01-05"); err != nil {
		t.Fatalf("set notification date: %v", err)
	}

	if err := s.ClearUserData(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}

	if got := len(s.WorkEntries(ctx)); got != 0 {
		t.Errorf("entries survived clear: %d", got)
	}
	if s.Owner(ctx) != "" {
		t.Error("owner marker survived clear")
	}
	if s.LastNotificationDate(ctx) != "2025-01-05" {
		t.Error("notification date should survive clear")
	}
}

func TestDirtyBookkeeping(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveAdvance(ctx, core.NewAdvance("2025-01-06", decimal.NewFromInt(100), "")); err != nil {
		t.Fatalf("save: %v", err)
	}

	dirty, err := s.DirtyCategories(ctx, 10)
	if err != nil {
		t.Fatalf("dirty categories: %v", err)
	}
	if len(dirty) != 1 || dirty[0] != KeyAdvances {
		t.Fatalf("dirty = %v, want [%s]", dirty, KeyAdvances)
	}

	if err := s.MarkSynced(ctx, KeyAdvances); err != nil {
		t.Fatalf("mark synced: %v", err)
	}
	dirty, err = s.DirtyCategories(ctx, 10)
	if err != nil {
		t.Fatalf("dirty categories: %v", err)
	}
	if len(dirty) != 0 {
		t.Errorf("dirty after sync = %v, want none", dirty)
	}

	if err := s.MarkSyncError(ctx, KeyAdvances, context.DeadlineExceeded); err != nil {
		t.Fatalf("mark sync error: %v", err)
	}
	dirty, _ = s.DirtyCategories(ctx, 10)
	if len(dirty) != 1 {
		t.Errorf("sync error should re-flag the category, dirty = %v", dirty)
	}
}

func TestRawCollectionDefaults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if got := string(s.RawCollection(ctx, KeyWorkEntries)); got != `[]` {
		t.Errorf("empty list payload = %q, want []", got)
	}
	if got := string(s.RawCollection(ctx, KeySettings)); got != `{}` {
		t.Errorf("empty settings payload = %q, want {}", got)
	}
}

func TestReplaceCollectionRejectsInvalidJSON(t *testing.T) {
	s := newTestStore(t)
	if err := s.ReplaceCollection(context.Background(), KeyAdvances, []byte(`{oops`)); err == nil {
		t.Error("invalid JSON accepted")
	}
}
