package worker

import (
	"context"
	"fmt"
	"log/slog"

	"registro/internal/amqp"
	"registro/internal/remote"
	"registro/internal/storage"
)

// SyncWorker pushes dirty local collections to the remote mirror. It consumes
// AMQP category-sync messages and additionally scans the dirty table so that
// lost messages or worker downtime never strand a collection.
type SyncWorker struct {
	store     *storage.Store
	remote    remote.Store
	batchSize int
}

func NewSyncWorker(store *storage.Store, remoteStore remote.Store, batchSize int) *SyncWorker {
	return &SyncWorker{
		store:     store,
		remote:    remoteStore,
		batchSize: batchSize,
	}
}

// HandleCategorySync processes a single category sync message from AMQP.
// The message carries only keys; the payload pushed is whatever the local
// store holds right now, so stale queued messages collapse into one write.
func (w *SyncWorker) HandleCategorySync(ctx context.Context, msg *amqp.CategorySyncMessage) error {
	slog.InfoContext(ctx, "Processing category sync message",
		"user_id", msg.UserID,
		"category", msg.Category)

	if err := w.pushCategory(ctx, msg.UserID, msg.Category); err != nil {
		return fmt.Errorf("push category %s: %w", msg.Category, err)
	}
	return nil
}

// ProcessDirtyCategories pushes any collections that are still marked dirty.
// This is a backup mechanism in case AMQP messages are lost.
func (w *SyncWorker) ProcessDirtyCategories(ctx context.Context) error {
	userID := w.store.Owner(ctx)
	if userID == "" {
		// Nothing to mirror until a user has signed in on this device.
		return nil
	}

	dirty, err := w.store.DirtyCategories(ctx, w.batchSize)
	if err != nil {
		return fmt.Errorf("get dirty categories: %w", err)
	}
	if len(dirty) == 0 {
		return nil
	}

	slog.InfoContext(ctx, "Processing dirty categories", "count", len(dirty))

	for _, category := range dirty {
		if err := w.pushCategory(ctx, userID, category); err != nil {
			slog.ErrorContext(ctx, "Failed to push category",
				"category", category, "error", err)
			continue
		}
	}
	return nil
}

// StartupSyncCheck pushes pending collections at worker startup. This is
// useful to recover from missed AMQP messages or worker downtime.
func (w *SyncWorker) StartupSyncCheck(ctx context.Context) error {
	userID := w.store.Owner(ctx)
	if userID == "" {
		slog.InfoContext(ctx, "No owner recorded, skipping startup sync check")
		return nil
	}

	dirty, err := w.store.DirtyCategories(ctx, w.batchSize*5)
	if err != nil {
		return fmt.Errorf("get dirty categories for startup check: %w", err)
	}
	if len(dirty) == 0 {
		slog.InfoContext(ctx, "No dirty categories found on startup")
		return nil
	}

	slog.InfoContext(ctx, "Found dirty categories on startup, processing...",
		"count", len(dirty))

	successCount := 0
	errorCount := 0
	for _, category := range dirty {
		if err := w.pushCategory(ctx, userID, category); err != nil {
			slog.ErrorContext(ctx, "Failed to push category during startup",
				"category", category, "error", err)
			errorCount++
			continue
		}
		successCount++
	}

	slog.InfoContext(ctx, "Startup sync check completed",
		"success", successCount,
		"errors", errorCount)
	return nil
}

func (w *SyncWorker) pushCategory(ctx context.Context, userID, category string) error {
	data := w.store.RawCollection(ctx, category)

	if err := w.remote.Upsert(ctx, userID, category, data); err != nil {
		if markErr := w.store.MarkSyncError(ctx, category, err); markErr != nil {
			slog.ErrorContext(ctx, "Failed to mark sync error",
				"category", category, "error", markErr)
		}
		return fmt.Errorf("upsert to remote: %w", err)
	}

	if err := w.store.MarkSynced(ctx, category); err != nil {
		return fmt.Errorf("mark category synced: %w", err)
	}

	slog.InfoContext(ctx, "Category pushed to remote",
		"user_id", userID,
		"category", category)
	return nil
}
