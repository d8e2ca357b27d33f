package api

import (
	"context"

	"scene-sync/internal/models"
	"scene-sync/internal/services"
)

/*
LEARNING: CONSUMER-DRIVEN INTERFACES (Go Idiom)

The api package is the CONSUMER of the services, so the interfaces it needs
live here and list only the methods the handlers call. Handler tests swap
in small fakes without touching the services package.
*/

// SceneSyncer saves and loads encrypted room scenes
type SceneSyncer interface {
	Save(ctx context.Context, req services.SaveRequest) (models.ElementSet, error)
	Load(ctx context.Context, req services.LoadRequest) (models.ElementSet, error)
}

// FileStore moves encoded files in and out of the bucket
type FileStore interface {
	SaveFiles(ctx context.Context, prefix string, files []models.FileUpload) *services.SaveFilesResult
	LoadFiles(ctx context.Context, prefix, key string, ids []string) *services.LoadFilesResult
}

// DrawingStore is the per-user drawing metadata API
type DrawingStore interface {
	Create(ctx context.Context, userID, name string) (*models.DrawingView, error)
	Get(ctx context.Context, userID, id string) (*models.DrawingView, error)
	List(ctx context.Context, userID string, limit int) ([]*models.DrawingView, error)
	Update(ctx context.Context, userID, id string, update *models.DrawingUpdate) (*models.DrawingView, error)
	Save(ctx context.Context, userID, id string, save *models.DrawingSave) (*models.DrawingView, error)
	Delete(ctx context.Context, userID, id string) error
}

// ImageSearcher finds stock images; it never fails, it returns nothing instead
type ImageSearcher interface {
	Search(ctx context.Context, query string, page int) []models.ImageResult
}

// ObjectSource serves stored objects when this process is the bucket
type ObjectSource interface {
	Name() string
	Object(ctx context.Context, key string) (*models.FileBlob, error)
}
