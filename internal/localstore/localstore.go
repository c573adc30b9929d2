// Package localstore is the durable local fallback store: the per-(target,
// user) like mirror and the persisted operation queue. It is backed by an
// embedded SQLite database and is strictly best-effort; callers degrade
// gracefully when it is unavailable.
package localstore

import (
	"context"
	"fmt"
	"time"

	"ripple/internal/models"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// MirrorEntry records the last known like state for one (target, user) pair.
// Written optimistically and on mutator success; read only when the remote
// store cannot answer. Last writer wins.
type MirrorEntry struct {
	ContentID   string `gorm:"primaryKey"`
	ContentType string `gorm:"primaryKey"`
	UserID      string `gorm:"primaryKey"`
	Liked       bool
	UpdatedAt   time.Time
}

// Store wraps the embedded database.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if needed) the local database at path and runs
// migrations.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}
	if err := db.AutoMigrate(&MirrorEntry{}, &models.QueuedOperation{}); err != nil {
		return nil, fmt.Errorf("migrate local store: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory opens a throwaway store for tests.
func OpenInMemory() (*Store, error) {
	return Open(":memory:")
}

// SetLiked mirrors the like state for a (target, user) pair.
func (s *Store) SetLiked(ctx context.Context, target models.TargetRef, userID string, liked bool) error {
	entry := MirrorEntry{
		ContentID:   target.ContentID,
		ContentType: string(target.ContentType),
		UserID:      userID,
		Liked:       liked,
		UpdatedAt:   time.Now(),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "content_id"}, {Name: "content_type"}, {Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"liked", "updated_at"}),
		}).
		Create(&entry).Error
}

// GetLiked returns the mirrored like state and whether an entry exists.
func (s *Store) GetLiked(ctx context.Context, target models.TargetRef, userID string) (liked, found bool, err error) {
	var entry MirrorEntry
	err = s.db.WithContext(ctx).
		Where("content_id = ? AND content_type = ? AND user_id = ?",
			target.ContentID, string(target.ContentType), userID).
		First(&entry).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return false, false, nil
		}
		return false, false, err
	}
	return entry.Liked, true, nil
}

// SaveQueue replaces the persisted queue snapshot. Called after every queue
// mutation so a restart resumes draining instead of losing intents.
func (s *Store) SaveQueue(ctx context.Context, ops []models.QueuedOperation) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&models.QueuedOperation{}).Error; err != nil {
			return err
		}
		if len(ops) == 0 {
			return nil
		}
		return tx.Create(&ops).Error
	})
}

// LoadQueue returns the persisted queue snapshot in enqueue order.
func (s *Store) LoadQueue(ctx context.Context) ([]models.QueuedOperation, error) {
	var ops []models.QueuedOperation
	err := s.db.WithContext(ctx).Order("enqueued_at ASC").Find(&ops).Error
	return ops, err
}

// ClearQueue wipes the persisted queue snapshot.
func (s *Store) ClearQueue(ctx context.Context) error {
	return s.db.WithContext(ctx).Where("1 = 1").Delete(&models.QueuedOperation{}).Error
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
