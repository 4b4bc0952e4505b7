// Package services orchestrates the local store, the remote mirror, and the
// sync queue. The rule everything here follows: the local write is the
// operation; remote sync is a detached best-effort effect that can never
// fail a save.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"registro/internal/backup"
	"registro/internal/core"
	"registro/internal/remote"
	"registro/internal/report"
	"registro/internal/session"
	"registro/internal/storage"
)

const (
	// SyncApplied means the change reached the remote mirror (or was handed
	// to the durable queue that will deliver it).
	SyncApplied SyncOutcome = iota

	// SyncDeferredLocalOnly means the change is safe locally but the remote
	// has not seen it yet; the dirty scan retries on the next pass.
	SyncDeferredLocalOnly
)

type (
	// SyncOutcome reports what happened to the remote mirror after a local
	// write succeeded. It is advisory: callers never treat deferral as an
	// error.
	SyncOutcome int

	// Publisher hands category sync requests to the queue. *amqp.Client
	// satisfies it.
	Publisher interface {
		PublishCategorySync(ctx context.Context, userID, category string) error
	}

	// Tracker is the API surface the UI layer calls. Remote store and
	// queue are both optional; with neither, every write is local-only.
	Tracker struct {
		store  *storage.Store
		remote remote.Store
		queue  Publisher
	}
)

// ErrUnauthenticated is returned by operations that cannot proceed without
// a signed-in user (pull, session hydration). Routine saves never return it.
var ErrUnauthenticated = errors.New("no authenticated session")

func (o SyncOutcome) String() string {
	switch o {
	case SyncApplied:
		return "applied"
	case SyncDeferredLocalOnly:
		return "deferred_local_only"
	}
	return "unknown"
}

func NewTracker(store *storage.Store, remoteStore remote.Store, queue Publisher) *Tracker {
	return &Tracker{store: store, remote: remoteStore, queue: queue}
}

// WorkEntries returns the locally stored work entries.
func (t *Tracker) WorkEntries(ctx context.Context) []core.WorkEntry {
	return t.store.WorkEntries(ctx)
}

func (t *Tracker) Advances(ctx context.Context) []core.AdvanceEntry {
	return t.store.Advances(ctx)
}

func (t *Tracker) Expenses(ctx context.Context) []core.ExpenseEntry {
	return t.store.Expenses(ctx)
}

func (t *Tracker) Settings(ctx context.Context) core.Settings {
	return t.store.Settings(ctx)
}

// SaveWorkEntry validates and saves locally, then mirrors the collection.
// The returned outcome only describes the mirror; the save itself either
// succeeded (nil error) or nothing happened.
func (t *Tracker) SaveWorkEntry(ctx context.Context, sess session.Session, e core.WorkEntry) (SyncOutcome, error) {
	if err := e.Validate(); err != nil {
		return SyncDeferredLocalOnly, fmt.Errorf("validate work entry: %w", err)
	}
	if err := t.store.SaveWorkEntry(ctx, e); err != nil {
		return SyncDeferredLocalOnly, err
	}
	return t.syncCategory(ctx, sess, storage.KeyWorkEntries), nil
}

func (t *Tracker) DeleteWorkEntry(ctx context.Context, sess session.Session, id string) (SyncOutcome, error) {
	if err := t.store.DeleteWorkEntry(ctx, id); err != nil {
		return SyncDeferredLocalOnly, err
	}
	return t.syncCategory(ctx, sess, storage.KeyWorkEntries), nil
}

func (t *Tracker) SaveAdvance(ctx context.Context, sess session.Session, a core.AdvanceEntry) (SyncOutcome, error) {
	if err := a.Validate(); err != nil {
		return SyncDeferredLocalOnly, fmt.Errorf("validate advance: %w", err)
	}
	if err := t.store.SaveAdvance(ctx, a); err != nil {
		return SyncDeferredLocalOnly, err
	}
	return t.syncCategory(ctx, sess, storage.KeyAdvances), nil
}

func (t *Tracker) DeleteAdvance(ctx context.Context, sess session.Session, id string) (SyncOutcome, error) {
	if err := t.store.DeleteAdvance(ctx, id); err != nil {
		return SyncDeferredLocalOnly, err
	}
	return t.syncCategory(ctx, sess, storage.KeyAdvances), nil
}

func (t *Tracker) SaveExpense(ctx context.Context, sess session.Session, e core.ExpenseEntry) (SyncOutcome, error) {
	if err := e.Validate(); err != nil {
		return SyncDeferredLocalOnly, fmt.Errorf("validate expense: %w", err)
	}
	if err := t.store.SaveExpense(ctx, e); err != nil {
		return SyncDeferredLocalOnly, err
	}
	return t.syncCategory(ctx, sess, storage.KeyExpenses), nil
}

func (t *Tracker) DeleteExpense(ctx context.Context, sess session.Session, id string) (SyncOutcome, error) {
	if err := t.store.DeleteExpense(ctx, id); err != nil {
		return SyncDeferredLocalOnly, err
	}
	return t.syncCategory(ctx, sess, storage.KeyExpenses), nil
}

func (t *Tracker) SaveSettings(ctx context.Context, sess session.Session, s core.Settings) (SyncOutcome, error) {
	if err := t.store.SaveSettings(ctx, s); err != nil {
		return SyncDeferredLocalOnly, err
	}
	return t.syncCategory(ctx, sess, storage.KeySettings), nil
}

// Report aggregates the stored collections over a selection.
func (t *Tracker) Report(ctx context.Context, sel report.Selection) report.Report {
	return report.Aggregate(t.store.WorkEntries(ctx), t.store.Advances(ctx), sel)
}

// CycleSelection builds the open-cycle selection from the stored settings.
func (t *Tracker) CycleSelection(ctx context.Context) report.Selection {
	return report.CycleSelection(t.store.Settings(ctx).BillingCycleStart)
}

// CloseCycle starts a new billing cycle today. Entries are untouched; the
// closed period stays reachable through month and custom selections.
func (t *Tracker) CloseCycle(ctx context.Context, sess session.Session, today core.Date) (SyncOutcome, error) {
	if err := today.Validate(); err != nil {
		return SyncDeferredLocalOnly, err
	}
	settings := t.store.Settings(ctx)
	settings.BillingCycleStart = today
	return t.SaveSettings(ctx, sess, settings)
}

// PullAll rehydrates local collections from the remote mirror. Local data
// is only overwritten after the remote read has concretely succeeded; a
// failed fetch leaves the device exactly as it was.
func (t *Tracker) PullAll(ctx context.Context, sess session.Session) error {
	if !sess.Authenticated() {
		return ErrUnauthenticated
	}
	if t.remote == nil {
		return errors.New("no remote backend configured")
	}

	records, err := t.remote.FetchAll(ctx, sess.UserID)
	if err != nil {
		return fmt.Errorf("fetch remote data: %w", err)
	}

	known := make(map[string]bool)
	for _, c := range storage.Categories() {
		known[c] = true
	}

	for _, rec := range records {
		if !known[rec.Category] {
			slog.WarnContext(ctx, "Skipping unknown remote category", "category", rec.Category)
			continue
		}
		if err := t.store.ReplaceCollection(ctx, rec.Category, rec.Data); err != nil {
			return fmt.Errorf("apply remote %s: %w", rec.Category, err)
		}
		if err := t.store.MarkSynced(ctx, rec.Category); err != nil {
			slog.WarnContext(ctx, "Failed to record sync state", "category", rec.Category, "error", err)
		}
	}

	if err := t.store.SetOwner(ctx, sess.UserID); err != nil {
		return fmt.Errorf("record owner: %w", err)
	}

	slog.InfoContext(ctx, "Pulled remote data", "user_id", sess.UserID, "categories", len(records))
	return nil
}

// BeginSession prepares the device for a user. When the device holds a
// different account's data the collections are purged first, so one user's
// entries can never leak into another's view; the purge happens before the
// pull, but an existing owner's data is never cleared just because the
// pull failed.
func (t *Tracker) BeginSession(ctx context.Context, sess session.Session) error {
	if !sess.Authenticated() {
		return ErrUnauthenticated
	}

	owner := t.store.Owner(ctx)
	if owner != "" && owner != sess.UserID {
		slog.InfoContext(ctx, "Switching accounts, purging local data", "previous_owner", owner)
		if err := t.store.ClearUserData(ctx); err != nil {
			return fmt.Errorf("purge previous account: %w", err)
		}
	}
	if err := t.store.SetOwner(ctx, sess.UserID); err != nil {
		return fmt.Errorf("record owner: %w", err)
	}

	if err := t.PullAll(ctx, sess); err != nil {
		// Offline login: the device keeps whatever it already had.
		slog.WarnContext(ctx, "Initial pull failed, staying local", "error", err)
	}
	return nil
}

// EndSession erases the device's collections and owner marker on logout.
// The reminder scalar survives; it is device state, not account state.
func (t *Tracker) EndSession(ctx context.Context) error {
	if err := t.store.ClearUserData(ctx); err != nil {
		return fmt.Errorf("clear local data: %w", err)
	}
	slog.InfoContext(ctx, "Local data cleared on logout")
	return nil
}

// SyncAll marks every category dirty and pushes each one. Partial success
// is fine; whatever failed stays dirty for the next scan.
func (t *Tracker) SyncAll(ctx context.Context, sess session.Session) SyncOutcome {
	outcome := SyncApplied
	for _, category := range storage.Categories() {
		if err := t.store.MarkDirty(ctx, category); err != nil {
			slog.WarnContext(ctx, "Failed to flag category", "category", category, "error", err)
		}
		if t.syncCategory(ctx, sess, category) == SyncDeferredLocalOnly {
			outcome = SyncDeferredLocalOnly
		}
	}
	return outcome
}

// Export snapshots all collections and settings into one transportable
// document.
func (t *Tracker) Export(ctx context.Context) backup.Document {
	return backup.Document{
		WorkEntries: emptyIfNil(t.store.WorkEntries(ctx)),
		Advances:    emptyIfNil(t.store.Advances(ctx)),
		Expenses:    emptyIfNil(t.store.Expenses(ctx)),
		Settings:    t.store.Settings(ctx).Patch(),
		ExportedAt:  time.Now().UTC(),
		AppVersion:  backup.AppVersion,
	}
}

// Import validates the document and restores it. No local mutation happens
// before validation passes; remote pushes afterwards are best-effort, so a
// user can always restore their own backup offline.
func (t *Tracker) Import(ctx context.Context, sess session.Session, data []byte) error {
	doc, err := backup.Parse(data)
	if err != nil {
		return err
	}

	payloads := map[string]any{
		storage.KeyWorkEntries: doc.WorkEntries,
		storage.KeyAdvances:    doc.Advances,
		storage.KeyExpenses:    doc.Expenses,
		storage.KeySettings:    doc.Settings,
	}
	for _, category := range storage.Categories() {
		raw, err := json.Marshal(payloads[category])
		if err != nil {
			return fmt.Errorf("encode %s: %w", category, err)
		}
		if err := t.store.ReplaceCollection(ctx, category, raw); err != nil {
			return fmt.Errorf("restore %s: %w", category, err)
		}
		if err := t.store.MarkDirty(ctx, category); err != nil {
			slog.WarnContext(ctx, "Failed to flag restored category", "category", category, "error", err)
		}
		t.syncCategory(ctx, sess, category)
	}

	slog.InfoContext(ctx, "Backup restored",
		"work_entries", len(doc.WorkEntries),
		"advances", len(doc.Advances),
		"expenses", len(doc.Expenses))
	return nil
}

// syncCategory mirrors one category after a local write. Every failure path
// logs and returns deferral; nothing here can fail the caller.
func (t *Tracker) syncCategory(ctx context.Context, sess session.Session, category string) SyncOutcome {
	if !sess.Authenticated() {
		slog.DebugContext(ctx, "Skipping sync without a session", "category", category)
		return SyncDeferredLocalOnly
	}

	if t.queue != nil {
		if err := t.queue.PublishCategorySync(ctx, sess.UserID, category); err != nil {
			slog.WarnContext(ctx, "Failed to queue sync, staying local",
				"category", category, "error", err)
			return SyncDeferredLocalOnly
		}
		return SyncApplied
	}

	if t.remote == nil {
		return SyncDeferredLocalOnly
	}

	data := t.store.RawCollection(ctx, category)
	if err := t.remote.Upsert(ctx, sess.UserID, category, data); err != nil {
		slog.WarnContext(ctx, "Remote push failed, staying local",
			"category", category, "error", err)
		if markErr := t.store.MarkSyncError(ctx, category, err); markErr != nil {
			slog.WarnContext(ctx, "Failed to record sync error", "category", category, "error", markErr)
		}
		return SyncDeferredLocalOnly
	}

	if err := t.store.MarkSynced(ctx, category); err != nil {
		slog.WarnContext(ctx, "Failed to record sync state", "category", category, "error", err)
	}
	return SyncApplied
}

func emptyIfNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
