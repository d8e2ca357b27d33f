package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"scene-sync/internal/fault"
	"scene-sync/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BlobRepositoryImpl keeps encoded files in a table, for deployments
// without an object store
type BlobRepositoryImpl struct {
	db *gorm.DB
}

// NewBlobRepository creates a new blob repository
func NewBlobRepository(db *gorm.DB) *BlobRepositoryImpl {
	return &BlobRepositoryImpl{db: db}
}

// Put stores or replaces the object at key
func (r *BlobRepositoryImpl) Put(ctx context.Context, key string, data []byte, cacheControl string) error {
	now := time.Now()
	blob := &models.FileBlob{
		Key:          key,
		Data:         data,
		CacheControl: cacheControl,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "object_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"data", "cache_control", "updated_at"}),
		}).
		Create(blob).Error
	if err != nil {
		return fmt.Errorf("failed to store blob: %w", err)
	}

	return nil
}

// Get returns the object at key, or nil if there is none
func (r *BlobRepositoryImpl) Get(ctx context.Context, key string) (*models.FileBlob, error) {
	var blob models.FileBlob

	err := r.db.WithContext(ctx).First(&blob, "object_key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get blob: %w", err)
	}

	return &blob, nil
}

// DeletePrefix removes every object stored under the folder prefix. The
// prefix is trimmed of slashes like blobstore.ObjectKey does, and matches
// whole path segments only: "files/rooms/ab" never touches
// "files/rooms/abc/...".
func (r *BlobRepositoryImpl) DeletePrefix(ctx context.Context, prefix string) (int64, error) {
	folder := strings.Trim(prefix, "/")
	if folder == "" {
		return 0, fault.ErrInvalidPrefix
	}
	folder += "/"

	// a plain comparison, so _ and % in room ids are not wildcards
	result := r.db.WithContext(ctx).
		Where("substr(object_key, 1, ?) = ?", utf8.RuneCountInString(folder), folder).
		Delete(&models.FileBlob{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete blobs: %w", result.Error)
	}
	return result.RowsAffected, nil
}
