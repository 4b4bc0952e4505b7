package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"registro/internal/core"

	_ "modernc.org/sqlite"
)

// Collection keys. Every write replaces the whole payload under its key, so
// single-device writes are last-write-wins at the collection level.
const (
	KeyWorkEntries = "work_entries"
	KeyAdvances    = "advances"
	KeyExpenses    = "expenses"
	KeySettings    = "settings"

	keyLastNotification = "last_notification_date"
	keyOwner            = "owner_user_id"
)

// Categories lists every collection that participates in remote sync.
func Categories() []string {
	return []string{KeyWorkEntries, KeyAdvances, KeyExpenses, KeySettings}
}

// Store is the device-local persistence layer: a small SQLite file holding
// each collection as one JSON payload plus per-category sync bookkeeping.
// Read paths never fail; a missing or unparsable payload degrades to empty
// data so a corrupted row can never take the app down.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// decodeList recovers a collection from its raw payload. Anything that is
// not a well-formed list comes back empty rather than as an error.
func decodeList[T any](raw []byte, key string) []T {
	if len(raw) == 0 {
		return nil
	}
	var out []T
	if err := json.Unmarshal(raw, &out); err != nil {
		slog.Warn("Discarding unparsable local payload", "key", key, "error", err)
		return nil
	}
	return out
}

func encodeList[T any](items []T) ([]byte, error) {
	if items == nil {
		items = []T{}
	}
	return json.Marshal(items)
}

func (s *Store) getRaw(ctx context.Context, key string) []byte {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM collections WHERE key = ?`, key).Scan(&data)
	switch {
	case err == sql.ErrNoRows:
		return nil
	case err != nil:
		// Reads degrade to "no data"; the caller keeps working.
		slog.WarnContext(ctx, "Local read failed, treating as empty", "key", key, "error", err)
		return nil
	}
	return []byte(data)
}

func (s *Store) putRaw(ctx context.Context, key string, data []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO collections (key, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		key, string(data), s.now().UTC())
	if err != nil {
		return fmt.Errorf("persist %s: %w", key, err)
	}
	return nil
}

// WorkEntries returns the stored work entries, oldest payload order.
func (s *Store) WorkEntries(ctx context.Context) []core.WorkEntry {
	return decodeList[core.WorkEntry](s.getRaw(ctx, KeyWorkEntries), KeyWorkEntries)
}

// SaveWorkEntry upserts by the entry key: day-slot entries replace the
// existing record for their date, extra services append under their own id.
func (s *Store) SaveWorkEntry(ctx context.Context, e core.WorkEntry) error {
	entries := s.WorkEntries(ctx)
	entries = upsertByID(entries, e, func(x core.WorkEntry) string { return x.Key() })
	data, err := encodeList(entries)
	if err != nil {
		return fmt.Errorf("encode work entries: %w", err)
	}
	return s.persistCollection(ctx, KeyWorkEntries, data)
}

func (s *Store) DeleteWorkEntry(ctx context.Context, id string) error {
	entries := deleteByID(s.WorkEntries(ctx), id, func(x core.WorkEntry) string { return x.Key() })
	data, err := encodeList(entries)
	if err != nil {
		return fmt.Errorf("encode work entries: %w", err)
	}
	return s.persistCollection(ctx, KeyWorkEntries, data)
}

func (s *Store) Advances(ctx context.Context) []core.AdvanceEntry {
	return decodeList[core.AdvanceEntry](s.getRaw(ctx, KeyAdvances), KeyAdvances)
}

func (s *Store) SaveAdvance(ctx context.Context, a core.AdvanceEntry) error {
	advances := upsertByID(s.Advances(ctx), a, func(x core.AdvanceEntry) string { return x.ID })
	data, err := encodeList(advances)
	if err != nil {
		return fmt.Errorf("encode advances: %w", err)
	}
	return s.persistCollection(ctx, KeyAdvances, data)
}

func (s *Store) DeleteAdvance(ctx context.Context, id string) error {
	advances := deleteByID(s.Advances(ctx), id, func(x core.AdvanceEntry) string { return x.ID })
	data, err := encodeList(advances)
	if err != nil {
		return fmt.Errorf("encode advances: %w", err)
	}
	return s.persistCollection(ctx, KeyAdvances, data)
}

func (s *Store) Expenses(ctx context.Context) []core.ExpenseEntry {
	return decodeList[core.ExpenseEntry](s.getRaw(ctx, KeyExpenses), KeyExpenses)
}

func (s *Store) SaveExpense(ctx context.Context, e core.ExpenseEntry) error {
	expenses := upsertByID(s.Expenses(ctx), e, func(x core.ExpenseEntry) string { return x.ID })
	data, err := encodeList(expenses)
	if err != nil {
		return fmt.Errorf("encode expenses: %w", err)
	}
	return s.persistCollection(ctx, KeyExpenses, data)
}

func (s *Store) DeleteExpense(ctx context.Context, id string) error {
	expenses := deleteByID(s.Expenses(ctx), id, func(x core.ExpenseEntry) string { return x.ID })
	data, err := encodeList(expenses)
	if err != nil {
		return fmt.Errorf("encode expenses: %w", err)
	}
	return s.persistCollection(ctx, KeyExpenses, data)
}

// Settings returns the stored record overlaid on the hard-coded defaults,
// so fields added after the record was written still come back populated.
func (s *Store) Settings(ctx context.Context) core.Settings {
	defaults := core.DefaultSettings(s.now())
	raw := s.getRaw(ctx, KeySettings)
	if len(raw) == 0 {
		return defaults
	}
	var patch core.SettingsPatch
	if err := json.Unmarshal(raw, &patch); err != nil {
		slog.WarnContext(ctx, "Discarding unparsable settings payload", "error", err)
		return defaults
	}
	return patch.Overlay(defaults)
}

// SaveSettings replaces the stored record wholesale.
func (s *Store) SaveSettings(ctx context.Context, settings core.Settings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	return s.persistCollection(ctx, KeySettings, data)
}

// LastNotificationDate returns the date the daily reminder last fired, or
// empty when it never has.
func (s *Store) LastNotificationDate(ctx context.Context) core.Date {
	raw := s.getRaw(ctx, keyLastNotification)
	return core.Date(raw)
}

func (s *Store) SetLastNotificationDate(ctx context.Context, d core.Date) error {
	return s.putRaw(ctx, keyLastNotification, []byte(d))
}

// Owner returns the user id whose data currently occupies this device.
func (s *Store) Owner(ctx context.Context) string {
	return string(s.getRaw(ctx, keyOwner))
}

func (s *Store) SetOwner(ctx context.Context, userID string) error {
	return s.putRaw(ctx, keyOwner, []byte(userID))
}

// RawCollection returns the payload pushed to the remote store for a
// category. Absent collections encode as empty JSON documents so a fresh
// device can still push a consistent snapshot.
func (s *Store) RawCollection(ctx context.Context, category string) json.RawMessage {
	raw := s.getRaw(ctx, category)
	if len(raw) != 0 {
		return json.RawMessage(raw)
	}
	if category == KeySettings {
		return json.RawMessage(`{}`)
	}
	return json.RawMessage(`[]`)
}

// ReplaceCollection overwrites a category with a payload that arrived from
// the remote store or a backup. It deliberately does not mark the category
// dirty: pulled data is already remote.
func (s *Store) ReplaceCollection(ctx context.Context, category string, data json.RawMessage) error {
	if !json.Valid(data) {
		return fmt.Errorf("replace %s: payload is not valid JSON", category)
	}
	return s.putRaw(ctx, category, data)
}

// ClearUserData erases the four collections and the owner marker. The
// last-notification scalar is device state, not account state, and stays.
func (s *Store) ClearUserData(ctx context.Context) error {
	keys := append(Categories(), keyOwner)
	for _, key := range keys {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM collections WHERE key = ?`, key); err != nil {
			return fmt.Errorf("clear %s: %w", key, err)
		}
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sync_state`); err != nil {
		return fmt.Errorf("clear sync state: %w", err)
	}
	return nil
}

func (s *Store) persistCollection(ctx context.Context, category string, data []byte) error {
	if err := s.putRaw(ctx, category, data); err != nil {
		return err
	}
	return s.MarkDirty(ctx, category)
}

// MarkDirty flags a category as having local changes the remote has not
// seen. The worker's dirty scan is the retry path for failed pushes.
func (s *Store) MarkDirty(ctx context.Context, category string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_state (category, dirty) VALUES (?, 1)
		ON CONFLICT(category) DO UPDATE SET dirty = 1`,
		category)
	if err != nil {
		return fmt.Errorf("mark %s dirty: %w", category, err)
	}
	return nil
}

func (s *Store) MarkSynced(ctx context.Context, category string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_state (category, dirty, last_synced_at, last_error) VALUES (?, 0, ?, '')
		ON CONFLICT(category) DO UPDATE SET dirty = 0, last_synced_at = excluded.last_synced_at, last_error = ''`,
		category, s.now().UTC())
	if err != nil {
		return fmt.Errorf("mark %s synced: %w", category, err)
	}
	return nil
}

func (s *Store) MarkSyncError(ctx context.Context, category string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_state (category, dirty, last_error) VALUES (?, 1, ?)
		ON CONFLICT(category) DO UPDATE SET dirty = 1, last_error = excluded.last_error`,
		category, msg)
	if err != nil {
		return fmt.Errorf("mark %s sync error: %w", category, err)
	}
	return nil
}

// DirtyCategories returns up to limit categories with unsynced local
// changes.
func (s *Store) DirtyCategories(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT category FROM sync_state WHERE dirty = 1 ORDER BY category LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query dirty categories: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("scan dirty category: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func upsertByID[T any](items []T, item T, id func(T) string) []T {
	key := id(item)
	for i := range items {
		if id(items[i]) == key && key != "" {
			items[i] = item
			return items
		}
	}
	return append(items, item)
}

func deleteByID[T any](items []T, key string, id func(T) string) []T {
	out := items[:0]
	for _, it := range items {
		if id(it) != key {
			out = append(out, it)
		}
	}
	return out
}
