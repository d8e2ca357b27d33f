package repository

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"scene-sync/internal/fault"
	"scene-sync/internal/models"

	"github.com/redis/go-redis/v9"
)

/*
LEARNING: REDIS WATCH / MULTI / EXEC

The Redis store keeps the same contract as the Postgres one with Redis'
own optimistic locking:

	WATCH scene:{room}
	HGETALL scene:{room}      -> current
	...caller computes next...
	MULTI
	HSET scene:{room} ...
	EXEC                      -> nil if the key changed since WATCH

A failed EXEC comes back as redis.TxFailedErr and the attempt is re-run.
*/

const sceneKeyPrefix = "scene:"

// RedisSceneRepository stores encrypted scenes as Redis hashes
type RedisSceneRepository struct {
	client      *redis.Client
	maxAttempts int
}

// NewRedisSceneRepository creates a Redis backed scene store
func NewRedisSceneRepository(client *redis.Client, maxAttempts int) *RedisSceneRepository {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &RedisSceneRepository{client: client, maxAttempts: maxAttempts}
}

func sceneKey(roomID string) string {
	return sceneKeyPrefix + roomID
}

// GetScene returns the stored scene of a room, or nil if there is none
func (r *RedisSceneRepository) GetScene(ctx context.Context, roomID string) (*models.StoredScene, error) {
	fields, err := r.client.HGetAll(ctx, sceneKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get scene: %w", err)
	}
	return decodeSceneHash(roomID, fields)
}

// UpdateScene runs fn under WATCH and commits with MULTI/EXEC.
// Conflicting attempts are retried; after maxAttempts it gives up with
// fault.ErrTransactionAborted, the same error a lost connection returns.
func (r *RedisSceneRepository) UpdateScene(ctx context.Context, roomID string, fn models.SceneMutator) (*models.StoredScene, error) {
	key := sceneKey(roomID)

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var committed *models.StoredScene
		txCtx := context.WithoutCancel(ctx)

		err := r.client.Watch(txCtx, func(tx *redis.Tx) error {
			fields, err := tx.HGetAll(txCtx, key).Result()
			if err != nil {
				return fmt.Errorf("failed to read scene: %w", err)
			}
			current, err := decodeSceneHash(roomID, fields)
			if err != nil {
				return &callerError{err: err}
			}

			next, err := fn(current)
			if err != nil {
				return &callerError{err: err}
			}
			if next == nil {
				return &callerError{err: fmt.Errorf("scene mutator returned nothing for room %s", roomID)}
			}

			now := time.Now()
			staged := &models.StoredScene{
				RoomID:       roomID,
				SceneVersion: next.SceneVersion,
				Ciphertext:   next.Ciphertext,
				IV:           next.IV,
				Revision:     1,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			if current != nil {
				staged.Revision = current.Revision + 1
				staged.CreatedAt = current.CreatedAt
			}

			_, err = tx.TxPipelined(txCtx, func(pipe redis.Pipeliner) error {
				pipe.HSet(txCtx, key, encodeSceneHash(staged))
				return nil
			})
			if err != nil {
				return err
			}
			committed = staged
			return nil
		}, key)

		if err == nil {
			return committed, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return nil, classifyAttemptError(roomID, err)
		}

		log.Printf("⚠️  Scene write conflict for room %s (attempt %d/%d)", roomID, attempt, r.maxAttempts)
	}

	return nil, fmt.Errorf("room %s after %d attempts: %w", roomID, r.maxAttempts, fault.ErrTransactionAborted)
}

// DeleteScene removes a room's scene
func (r *RedisSceneRepository) DeleteScene(ctx context.Context, roomID string) error {
	if err := r.client.Del(ctx, sceneKey(roomID)).Err(); err != nil {
		return fmt.Errorf("failed to delete scene: %w", err)
	}
	return nil
}

func encodeSceneHash(s *models.StoredScene) map[string]interface{} {
	return map[string]interface{}{
		"sceneVersion": s.SceneVersion,
		"ciphertext":   s.Ciphertext,
		"iv":           s.IV,
		"revision":     s.Revision,
		"createdAt":    s.CreatedAt.UnixMilli(),
		"updatedAt":    s.UpdatedAt.UnixMilli(),
	}
}

func decodeSceneHash(roomID string, fields map[string]string) (*models.StoredScene, error) {
	if len(fields) == 0 {
		return nil, nil
	}

	parse := func(name string) (int64, error) {
		v, err := strconv.ParseInt(fields[name], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("failed to parse scene field %s: %w", name, err)
		}
		return v, nil
	}

	version, err := parse("sceneVersion")
	if err != nil {
		return nil, err
	}
	revision, err := parse("revision")
	if err != nil {
		return nil, err
	}
	created, err := parse("createdAt")
	if err != nil {
		return nil, err
	}
	updated, err := parse("updatedAt")
	if err != nil {
		return nil, err
	}

	return &models.StoredScene{
		RoomID:       roomID,
		SceneVersion: version,
		Ciphertext:   []byte(fields["ciphertext"]),
		IV:           []byte(fields["iv"]),
		Revision:     revision,
		CreatedAt:    time.UnixMilli(created),
		UpdatedAt:    time.UnixMilli(updated),
	}, nil
}
