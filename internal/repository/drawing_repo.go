package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"scene-sync/internal/fault"
	"scene-sync/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DrawingRepositoryImpl handles the per-user drawing documents using GORM.
// Every query is scoped to a user id; there is no merge, the last write wins.
type DrawingRepositoryImpl struct {
	db *gorm.DB
}

// NewDrawingRepository creates a new drawing repository
func NewDrawingRepository(db *gorm.DB) *DrawingRepositoryImpl {
	return &DrawingRepositoryImpl{db: db}
}

// Create inserts an empty drawing. The KSUID is generated in BeforeCreate.
func (r *DrawingRepositoryImpl) Create(ctx context.Context, userID, name string) (*models.Drawing, error) {
	if userID == "" {
		return nil, fault.ErrMissingUserID
	}
	if name == "" {
		name = models.DefaultDrawingName
	}

	appState, err := json.Marshal(models.DefaultAppState())
	if err != nil {
		return nil, fmt.Errorf("failed to encode app state: %w", err)
	}

	drawing := &models.Drawing{
		UserID:   userID,
		Name:     name,
		Elements: "[]",
		AppState: string(appState),
		Files:    "[]",
	}

	if err := r.db.WithContext(ctx).Create(drawing).Error; err != nil {
		return nil, fmt.Errorf("failed to create drawing: %w", err)
	}

	return drawing, nil
}

// GetByID retrieves one drawing of a user
func (r *DrawingRepositoryImpl) GetByID(ctx context.Context, userID, id string) (*models.Drawing, error) {
	var drawing models.Drawing

	err := r.db.WithContext(ctx).First(&drawing, "user_id = ? AND id = ?", userID, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("drawing %s: %w", id, fault.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get drawing: %w", err)
	}

	return &drawing, nil
}

// List returns a user's drawings, most recently updated first
func (r *DrawingRepositoryImpl) List(ctx context.Context, userID string, limit int) ([]*models.Drawing, error) {
	var drawings []*models.Drawing

	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&drawings).Error

	if err != nil {
		return nil, fmt.Errorf("failed to list drawings: %w", err)
	}

	return drawings, nil
}

// Update applies a partial write. Nil fields are left alone; updated_at is
// always bumped, created_at never touched.
func (r *DrawingRepositoryImpl) Update(ctx context.Context, userID, id string, update *models.DrawingUpdate) (*models.Drawing, error) {
	updates := map[string]interface{}{"updated_at": time.Now()}
	if update.Name != nil {
		updates["name"] = *update.Name
	}
	for column, raw := range map[string]json.RawMessage{
		"elements":  update.Elements,
		"app_state": update.AppState,
		"files":     update.Files,
	} {
		if raw == nil {
			continue
		}
		if !json.Valid(raw) {
			return nil, fmt.Errorf("%s: %w", column, fault.ErrInvalidElements)
		}
		updates[column] = string(raw)
	}

	result := r.db.WithContext(ctx).
		Model(&models.Drawing{}).
		Where("user_id = ? AND id = ?", userID, id).
		Updates(updates)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to update drawing: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, fmt.Errorf("drawing %s: %w", id, fault.ErrNotFound)
	}

	return r.GetByID(ctx, userID, id)
}

// Save writes a whole drawing, creating it on first save. created_at is
// only ever set by the insert.
func (r *DrawingRepositoryImpl) Save(ctx context.Context, userID, id string, save *models.DrawingSave) (*models.Drawing, error) {
	if userID == "" {
		return nil, fault.ErrMissingUserID
	}

	drawing := &models.Drawing{
		ID:       id,
		UserID:   userID,
		Name:     models.DefaultDrawingName,
		Elements: "[]",
		AppState: "{}",
		Files:    "[]",
	}
	for target, raw := range map[*string]json.RawMessage{
		&drawing.Elements: save.Elements,
		&drawing.AppState: save.AppState,
		&drawing.Files:    save.Files,
	} {
		if raw == nil {
			continue
		}
		if !json.Valid(raw) {
			return nil, fault.ErrInvalidElements
		}
		*target = string(raw)
	}

	columns := []string{"elements", "app_state", "files", "updated_at"}
	if save.Name != nil {
		drawing.Name = *save.Name
		columns = append(columns, "name")
	}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}, {Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns(columns),
		}).
		Create(drawing).Error
	if err != nil {
		return nil, fmt.Errorf("failed to save drawing: %w", err)
	}

	return r.GetByID(ctx, userID, drawing.ID)
}

// Delete removes a drawing permanently
func (r *DrawingRepositoryImpl) Delete(ctx context.Context, userID, id string) error {
	result := r.db.WithContext(ctx).Delete(&models.Drawing{}, "user_id = ? AND id = ?", userID, id)

	if result.Error != nil {
		return fmt.Errorf("failed to delete drawing: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return fmt.Errorf("drawing %s: %w", id, fault.ErrNotFound)
	}

	return nil
}
