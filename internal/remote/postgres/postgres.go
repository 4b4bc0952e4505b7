package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"registro/internal/remote"
)

// SyncRecord is the remote schema: one row per (user, category) holding the
// serialized collection, upserted on conflict of the composite key.
type SyncRecord struct {
	UserID    string    `gorm:"primaryKey;size:64;column:user_id"`
	Category  string    `gorm:"primaryKey;size:32"`
	Data      string    `gorm:"type:jsonb;not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (SyncRecord) TableName() string { return "sync_records" }

type Adapter struct {
	db *gorm.DB
}

var _ remote.Store = (*Adapter)(nil)

func New(dsn string) (*Adapter, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := db.AutoMigrate(&SyncRecord{}); err != nil {
		return nil, fmt.Errorf("migrate sync_records: %w", err)
	}

	return &Adapter{db: db}, nil
}

func (a *Adapter) Upsert(ctx context.Context, userID, category string, data json.RawMessage) error {
	rec := SyncRecord{
		UserID:    userID,
		Category:  category,
		Data:      string(data),
		UpdatedAt: time.Now().UTC(),
	}
	err := a.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "category"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("upsert %s/%s: %w", userID, category, err)
	}
	return nil
}

func (a *Adapter) FetchAll(ctx context.Context, userID string) ([]remote.Record, error) {
	var rows []SyncRecord
	if err := a.db.WithContext(ctx).Where("user_id = ?", userID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("fetch records for %s: %w", userID, err)
	}

	records := make([]remote.Record, len(rows))
	for i, r := range rows {
		records[i] = remote.Record{
			Category:  r.Category,
			Data:      json.RawMessage(r.Data),
			UpdatedAt: r.UpdatedAt,
		}
	}
	return records, nil
}

func (a *Adapter) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
