package repository

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"scene-sync/internal/fault"
	"scene-sync/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

/*
LEARNING: OPTIMISTIC READ-MODIFY-WRITE

One row per room holds the encrypted scene. Saving is:

 1. read the row (or nothing)
 2. let the caller compute the next scene from it
 3. write it back only if nobody else wrote in between

Step 3 is a compare-and-swap on the revision column:

	UPDATE scenes SET ... revision = revision + 1
	WHERE room_id = ? AND revision = ?

Zero rows affected means another writer won the race; the whole attempt is
thrown away and re-run from step 1 against the fresh row. A first insert
races the same way through ON CONFLICT DO NOTHING.

Locks are never held across the caller's work, so a slow decrypt in one
request does not block writers to other rooms, or even this one.
*/

// SceneRepositoryImpl stores encrypted scenes in Postgres
type SceneRepositoryImpl struct {
	db          *gorm.DB
	maxAttempts int
}

// NewSceneRepository creates a new scene repository
func NewSceneRepository(db *gorm.DB, maxAttempts int) *SceneRepositoryImpl {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &SceneRepositoryImpl{db: db, maxAttempts: maxAttempts}
}

// GetScene returns the stored scene of a room, or nil if there is none
func (r *SceneRepositoryImpl) GetScene(ctx context.Context, roomID string) (*models.StoredScene, error) {
	var stored models.StoredScene

	err := r.db.WithContext(ctx).First(&stored, "room_id = ?", roomID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scene: %w", err)
	}

	return &stored, nil
}

// UpdateScene runs fn inside a transaction and commits its result if the
// row did not change meanwhile. Conflicting attempts are retried; after
// maxAttempts it gives up with fault.ErrTransactionAborted. Store failures
// come back as fault.ErrTransactionAborted too, while errors from fn are
// returned as they are.
func (r *SceneRepositoryImpl) UpdateScene(ctx context.Context, roomID string, fn models.SceneMutator) (*models.StoredScene, error) {
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// an attempt that started runs to commit or rollback
		committed, err := r.attempt(context.WithoutCancel(ctx), roomID, fn)
		if err == nil {
			return committed, nil
		}
		if !errors.Is(err, fault.ErrStoreConflict) {
			return nil, classifyAttemptError(roomID, err)
		}

		log.Printf("⚠️  Scene write conflict for room %s (attempt %d/%d)", roomID, attempt, r.maxAttempts)
	}

	return nil, fmt.Errorf("room %s after %d attempts: %w", roomID, r.maxAttempts, fault.ErrTransactionAborted)
}

// callerError marks a failure raised by the mutator or by the data it was
// given, as opposed to the store itself
type callerError struct {
	err error
}

func (e *callerError) Error() string { return e.err.Error() }
func (e *callerError) Unwrap() error { return e.err }

// classifyAttemptError hands caller errors back unchanged. Any other failure,
// such as a closed pool or a dropped connection, becomes
// fault.ErrTransactionAborted so the client can retry the whole save.
func classifyAttemptError(roomID string, err error) error {
	var caller *callerError
	if errors.As(err, &caller) {
		return caller.err
	}

	log.Printf("🛑 Scene store unavailable for room %s: %v", roomID, err)
	return fmt.Errorf("room %s: %w: %w", roomID, fault.ErrTransactionAborted, err)
}

func (r *SceneRepositoryImpl) attempt(ctx context.Context, roomID string, fn models.SceneMutator) (*models.StoredScene, error) {
	var committed *models.StoredScene

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current *models.StoredScene
		var row models.StoredScene
		err := tx.First(&row, "room_id = ?", roomID).Error
		switch {
		case err == nil:
			current = &row
		case errors.Is(err, gorm.ErrRecordNotFound):
		default:
			return fmt.Errorf("failed to read scene: %w", err)
		}

		next, err := fn(current)
		if err != nil {
			return &callerError{err: err}
		}
		if next == nil {
			return &callerError{err: fmt.Errorf("scene mutator returned nothing for room %s", roomID)}
		}

		now := time.Now()
		if current == nil {
			created := &models.StoredScene{
				RoomID:       roomID,
				SceneVersion: next.SceneVersion,
				Ciphertext:   next.Ciphertext,
				IV:           next.IV,
				Revision:     1,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(created)
			if result.Error != nil {
				return fmt.Errorf("failed to create scene: %w", result.Error)
			}
			if result.RowsAffected == 0 {
				return fault.ErrStoreConflict
			}
			committed = created
			return nil
		}

		result := tx.Model(&models.StoredScene{}).
			Where("room_id = ? AND revision = ?", roomID, current.Revision).
			Updates(map[string]interface{}{
				"scene_version": next.SceneVersion,
				"ciphertext":    next.Ciphertext,
				"iv":            next.IV,
				"revision":      current.Revision + 1,
				"updated_at":    now,
			})
		if result.Error != nil {
			return fmt.Errorf("failed to update scene: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return fault.ErrStoreConflict
		}

		committed = &models.StoredScene{
			RoomID:       roomID,
			SceneVersion: next.SceneVersion,
			Ciphertext:   next.Ciphertext,
			IV:           next.IV,
			Revision:     current.Revision + 1,
			CreatedAt:    current.CreatedAt,
			UpdatedAt:    now,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return committed, nil
}

// DeleteScene removes a room's scene
func (r *SceneRepositoryImpl) DeleteScene(ctx context.Context, roomID string) error {
	result := r.db.WithContext(ctx).Delete(&models.StoredScene{}, "room_id = ?", roomID)
	if result.Error != nil {
		return fmt.Errorf("failed to delete scene: %w", result.Error)
	}
	return nil
}
