package services

import (
	"context"

	"scene-sync/internal/models"
)

/*
LEARNING: GO INTERFACE BEST PRACTICE

"Accept interfaces, return structs" - Rob Pike

Interfaces are defined where they are USED, not where implemented.
The repository and blobstore packages return concrete types
(*repository.SceneRepositoryImpl, *repository.RedisSceneRepository,
*blobstore.GCSBucket...) and know nothing about the interfaces below.

That is also what lets main.go pick the scene backend at startup: both
Postgres and Redis stores satisfy SceneStore without sharing any code.
*/

// SceneStore is what the scene service needs from scene storage.
// UpdateScene must run fn as one atomic read-modify-write of a single room,
// retrying it on conflicts; GetScene returns nil for an unknown room.
type SceneStore interface {
	GetScene(ctx context.Context, roomID string) (*models.StoredScene, error)
	UpdateScene(ctx context.Context, roomID string, fn models.SceneMutator) (*models.StoredScene, error)
}

// Bucket is where encoded files are uploaded to
type Bucket interface {
	Upload(ctx context.Context, key string, data []byte, cacheControl string) error
	ObjectURL(prefix, id string) string
}

// DrawingRepository defines what the service needs from drawing storage
type DrawingRepository interface {
	Create(ctx context.Context, userID, name string) (*models.Drawing, error)
	GetByID(ctx context.Context, userID, id string) (*models.Drawing, error)
	List(ctx context.Context, userID string, limit int) ([]*models.Drawing, error)
	Update(ctx context.Context, userID, id string, update *models.DrawingUpdate) (*models.Drawing, error)
	Save(ctx context.Context, userID, id string, save *models.DrawingSave) (*models.Drawing, error)
	Delete(ctx context.Context, userID, id string) error
}

// SaveNotifier is told about every committed save, so peers of the room can
// be nudged to pull
type SaveNotifier interface {
	NotifySaved(roomID, connectionID string, sceneVersion int64)
}
