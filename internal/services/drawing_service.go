package services

import (
	"context"
	"fmt"

	"scene-sync/internal/fault"
	"scene-sync/internal/middleware"
	"scene-sync/internal/models"

	"go.opentelemetry.io/otel/attribute"
)

// DrawingService manages a user's named drawings
type DrawingService struct {
	repo      DrawingRepository
	listLimit int
}

// NewDrawingService creates a new drawing service
func NewDrawingService(repo DrawingRepository, listLimit int) *DrawingService {
	if listLimit < 1 {
		listLimit = 50
	}
	return &DrawingService{repo: repo, listLimit: listLimit}
}

// Create makes an empty drawing
func (s *DrawingService) Create(ctx context.Context, userID, name string) (*models.DrawingView, error) {
	ctx, span := middleware.StartSpan(ctx, "DrawingService.Create", attribute.String("user.id", userID))
	defer span.End()

	d, err := s.repo.Create(ctx, userID, name)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		return nil, err
	}
	return d.View(), nil
}

// Get returns one drawing
func (s *DrawingService) Get(ctx context.Context, userID, id string) (*models.DrawingView, error) {
	d, err := s.repo.GetByID(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	return d.View(), nil
}

// List returns the user's drawings, most recently updated first.
// limit <= 0 or above the configured bound falls back to the bound.
func (s *DrawingService) List(ctx context.Context, userID string, limit int) ([]*models.DrawingView, error) {
	if userID == "" {
		return nil, fault.ErrMissingUserID
	}
	if limit <= 0 || limit > s.listLimit {
		limit = s.listLimit
	}

	drawings, err := s.repo.List(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list drawings: %w", err)
	}

	views := make([]*models.DrawingView, len(drawings))
	for i, d := range drawings {
		views[i] = d.View()
	}
	return views, nil
}

// Update applies a partial change
func (s *DrawingService) Update(ctx context.Context, userID, id string, update *models.DrawingUpdate) (*models.DrawingView, error) {
	ctx, span := middleware.StartSpan(ctx, "DrawingService.Update",
		attribute.String("user.id", userID),
		attribute.String("drawing.id", id),
	)
	defer span.End()

	d, err := s.repo.Update(ctx, userID, id, update)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		return nil, err
	}
	return d.View(), nil
}

// Save replaces a drawing's content, creating it if needed
func (s *DrawingService) Save(ctx context.Context, userID, id string, save *models.DrawingSave) (*models.DrawingView, error) {
	ctx, span := middleware.StartSpan(ctx, "DrawingService.Save",
		attribute.String("user.id", userID),
		attribute.String("drawing.id", id),
	)
	defer span.End()

	d, err := s.repo.Save(ctx, userID, id, save)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		return nil, err
	}
	return d.View(), nil
}

// Delete removes a drawing
func (s *DrawingService) Delete(ctx context.Context, userID, id string) error {
	return s.repo.Delete(ctx, userID, id)
}
