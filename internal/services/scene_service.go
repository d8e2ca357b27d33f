package services

import (
	"context"
	"fmt"
	"log"

	"scene-sync/internal/codec"
	"scene-sync/internal/middleware"
	"scene-sync/internal/models"
	"scene-sync/internal/scene"

	"go.opentelemetry.io/otel/attribute"
)

/*
LEARNING: SAVING A SHARED SCENE

Every client of a room periodically pushes its whole scene. The server
cannot read it (it is encrypted with the room key the clients share), so
each save is:

  Client elements
    ↓
  Skip if this connection already saved exactly this version
    ↓
  Atomic read-modify-write of the room:
    decrypt stored → reconcile with client's → encrypt
    ↓
  Decrypt what was actually committed, remember its version, return it

The merge is commutative, so it does not matter which of two concurrent
savers commits first: the loser's retry folds its elements into the
winner's scene and both end at the same result.
*/

// SaveRequest is one client's push of its scene
type SaveRequest struct {
	ConnectionID string
	RoomID       string
	RoomKey      string
	Elements     models.ElementSet
}

// LoadRequest fetches a room's scene
type LoadRequest struct {
	ConnectionID            string
	RoomID                  string
	RoomKey                 string
	DeleteInvisibleElements bool
	// OmitDeleted drops tombstones from the returned elements
	OmitDeleted bool
}

// SceneService saves and loads encrypted room scenes
type SceneService struct {
	store    SceneStore
	versions *scene.VersionCache
	notifier SaveNotifier
}

// NewSceneService creates a new scene service
func NewSceneService(store SceneStore, versions *scene.VersionCache) *SceneService {
	return &SceneService{
		store:    store,
		versions: versions,
	}
}

// SetNotifier registers who is told about committed saves
func (s *SceneService) SetNotifier(n SaveNotifier) {
	s.notifier = n
}

// Save reconciles the client's elements into the room's stored scene and
// returns the committed result. It returns nil, nil without touching the
// store when there is no collaborative session, or when the connection
// already saved this exact scene version.
func (s *SceneService) Save(ctx context.Context, req SaveRequest) (models.ElementSet, error) {
	ctx, span := middleware.StartSpan(ctx, "SceneService.Save",
		attribute.String("room.id", req.RoomID),
		attribute.String("connection.id", req.ConnectionID),
		attribute.Int("elements.count", len(req.Elements)),
	)
	defer span.End()

	if req.RoomID == "" || req.RoomKey == "" || req.ConnectionID == "" {
		return nil, nil
	}
	if s.versions.IsUpToDate(req.ConnectionID, req.Elements) {
		middleware.AddSpanEvent(ctx, "scene.up_to_date")
		return nil, nil
	}

	local := scene.Restore(req.Elements, scene.RestoreOptions{})

	stored, err := s.store.UpdateScene(ctx, req.RoomID, func(current *models.StoredScene) (*models.StoredScene, error) {
		next := scene.Syncable(local)

		if current != nil {
			previous, err := codec.DecryptElements(current.IV, current.Ciphertext, req.RoomKey)
			if err != nil {
				return nil, err
			}
			restored := scene.Restore(previous, scene.RestoreOptions{})
			next = scene.Syncable(scene.Reconcile(local, restored))
		}

		ciphertext, iv, err := codec.EncryptElements(req.RoomKey, next)
		if err != nil {
			return nil, err
		}

		return &models.StoredScene{
			SceneVersion: scene.VersionOf(next),
			Ciphertext:   ciphertext,
			IV:           iv,
		}, nil
	})
	if err != nil {
		middleware.AddSpanError(ctx, err)
		return nil, fmt.Errorf("failed to save scene: %w", err)
	}

	// the committed scene is authoritative, not what this attempt computed
	committed, err := codec.DecryptElements(stored.IV, stored.Ciphertext, req.RoomKey)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		return nil, fmt.Errorf("failed to read back saved scene: %w", err)
	}
	committed = scene.Restore(committed, scene.RestoreOptions{})

	s.versions.Set(req.ConnectionID, committed)
	span.SetAttributes(attribute.Int64("scene.version", stored.SceneVersion))

	if s.notifier != nil {
		s.notifier.NotifySaved(req.RoomID, req.ConnectionID, stored.SceneVersion)
	}

	log.Printf("✓ Saved scene for room %s (version %d, %d elements)", req.RoomID, stored.SceneVersion, len(committed))
	return committed, nil
}

// Load returns the room's stored scene, or nil, nil if the room has none.
// With a connection id, the loaded version counts as saved by it.
func (s *SceneService) Load(ctx context.Context, req LoadRequest) (models.ElementSet, error) {
	ctx, span := middleware.StartSpan(ctx, "SceneService.Load",
		attribute.String("room.id", req.RoomID),
		attribute.String("connection.id", req.ConnectionID),
	)
	defer span.End()

	stored, err := s.store.GetScene(ctx, req.RoomID)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		return nil, fmt.Errorf("failed to load scene: %w", err)
	}
	if stored == nil {
		return nil, nil
	}

	elements, err := codec.DecryptElements(stored.IV, stored.Ciphertext, req.RoomKey)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		return nil, fmt.Errorf("failed to load scene: %w", err)
	}

	elements = scene.Syncable(scene.Restore(elements, scene.RestoreOptions{
		DeleteInvisibleElements: req.DeleteInvisibleElements,
	}))

	s.versions.Set(req.ConnectionID, elements)

	if req.OmitDeleted {
		return scene.Visible(elements), nil
	}
	return elements, nil
}

// IsSaved reports whether a connection already saved these elements
func (s *SceneService) IsSaved(connectionID string, elements models.ElementSet) bool {
	return s.versions.IsUpToDate(connectionID, elements)
}

// ForgetConnection drops everything remembered about a closed connection
func (s *SceneService) ForgetConnection(connectionID string) {
	s.versions.Forget(connectionID)
}
