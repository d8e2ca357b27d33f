package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"scene-sync/internal/fault"
	"scene-sync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// every connection to :memory: is a separate database
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&models.StoredScene{}, &models.Drawing{}, &models.FileBlob{}))
	return db
}

func sceneOf(version int64, payload string) *models.StoredScene {
	return &models.StoredScene{SceneVersion: version, Ciphertext: []byte(payload), IV: []byte("iv-" + payload)}
}

func TestSceneRepository_CreateThenUpdate(t *testing.T) {
	ctx := context.Background()
	repo := NewSceneRepository(newTestDB(t), 3)

	got, err := repo.GetScene(ctx, "room-1")
	require.NoError(t, err)
	assert.Nil(t, got, "absent scene is not an error")

	created, err := repo.UpdateScene(ctx, "room-1", func(current *models.StoredScene) (*models.StoredScene, error) {
		assert.Nil(t, current)
		return sceneOf(3, "first"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), created.Revision)

	updated, err := repo.UpdateScene(ctx, "room-1", func(current *models.StoredScene) (*models.StoredScene, error) {
		require.NotNil(t, current)
		assert.Equal(t, []byte("first"), current.Ciphertext)
		return sceneOf(5, "second"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Revision)

	stored, err := repo.GetScene(ctx, "room-1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, int64(5), stored.SceneVersion)
	assert.Equal(t, []byte("second"), stored.Ciphertext)
	assert.Equal(t, []byte("iv-second"), stored.IV)
	assert.Equal(t, int64(2), stored.Revision)
	assert.WithinDuration(t, created.CreatedAt, stored.CreatedAt, time.Second)
}

func TestSceneRepository_MutatorErrorWritesNothing(t *testing.T) {
	ctx := context.Background()
	repo := NewSceneRepository(newTestDB(t), 3)

	_, err := repo.UpdateScene(ctx, "room-1", func(*models.StoredScene) (*models.StoredScene, error) {
		return nil, fault.ErrDecryption
	})
	require.ErrorIs(t, err, fault.ErrDecryption)
	assert.False(t, fault.IsRetryable(err), "a bad key stays fatal")

	stored, err := repo.GetScene(ctx, "room-1")
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestSceneRepository_ClosedStoreIsRetryable(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewSceneRepository(db, 3)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	_, err = repo.UpdateScene(ctx, "room-1", func(*models.StoredScene) (*models.StoredScene, error) {
		t.Fatal("mutator must not run without a store")
		return nil, nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, fault.ErrTransactionAborted)
	assert.ErrorContains(t, err, "database is closed")
	assert.True(t, fault.IsRetryable(err))
}

// bumpRevisionBeforeUpdate simulates a concurrent writer committing between
// our read and our write, for the first n writes
func bumpRevisionBeforeUpdate(t *testing.T, db *gorm.DB, roomID string, n int) {
	t.Helper()
	fired := 0
	err := db.Callback().Update().Before("gorm:update").Register("test:concurrent_writer", func(tx *gorm.DB) {
		if fired >= n {
			return
		}
		fired++
		_, err := tx.Statement.ConnPool.ExecContext(tx.Statement.Context,
			"UPDATE scenes SET revision = revision + 1 WHERE room_id = ?", roomID)
		require.NoError(t, err)
	})
	require.NoError(t, err)
}

func TestSceneRepository_RetriesOnConflict(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewSceneRepository(db, 3)

	_, err := repo.UpdateScene(ctx, "room-1", func(*models.StoredScene) (*models.StoredScene, error) {
		return sceneOf(1, "seed"), nil
	})
	require.NoError(t, err)

	bumpRevisionBeforeUpdate(t, db, "room-1", 1)

	calls := 0
	committed, err := repo.UpdateScene(ctx, "room-1", func(current *models.StoredScene) (*models.StoredScene, error) {
		calls++
		return sceneOf(current.SceneVersion+1, "retry"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "the whole attempt re-runs against a fresh read")
	assert.Equal(t, int64(2), committed.SceneVersion)
}

func TestSceneRepository_AbortsAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewSceneRepository(db, 4)

	_, err := repo.UpdateScene(ctx, "room-1", func(*models.StoredScene) (*models.StoredScene, error) {
		return sceneOf(1, "seed"), nil
	})
	require.NoError(t, err)

	bumpRevisionBeforeUpdate(t, db, "room-1", 1000)

	calls := 0
	_, err = repo.UpdateScene(ctx, "room-1", func(*models.StoredScene) (*models.StoredScene, error) {
		calls++
		return sceneOf(9, "never"), nil
	})
	require.ErrorIs(t, err, fault.ErrTransactionAborted)
	assert.True(t, fault.IsRetryable(err))
	assert.Equal(t, 4, calls)

	stored, err := repo.GetScene(ctx, "room-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("seed"), stored.Ciphertext)
}

func TestSceneRepository_RetriesLostInsertRace(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewSceneRepository(db, 3)

	fired := false
	err := db.Callback().Create().Before("gorm:create").Register("test:concurrent_insert", func(tx *gorm.DB) {
		if fired {
			return
		}
		fired = true
		_, err := tx.Statement.ConnPool.ExecContext(tx.Statement.Context,
			"INSERT INTO scenes (room_id, scene_version, ciphertext, iv, revision, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
			"room-1", 1, []byte("other"), []byte("iv"), 1, time.Now(), time.Now())
		require.NoError(t, err)
	})
	require.NoError(t, err)

	calls := 0
	committed, err := repo.UpdateScene(ctx, "room-1", func(*models.StoredScene) (*models.StoredScene, error) {
		calls++
		return sceneOf(2, "mine"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []byte("mine"), committed.Ciphertext)
}

func TestSceneRepository_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	repo := NewSceneRepository(newTestDB(t), 3)
	_, err := repo.UpdateScene(ctx, "room-1", func(*models.StoredScene) (*models.StoredScene, error) {
		t.Fatal("mutator must not run")
		return nil, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDrawingRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewDrawingRepository(newTestDB(t))

	_, err := repo.Create(ctx, "", "x")
	require.ErrorIs(t, err, fault.ErrMissingUserID)

	first, err := repo.Create(ctx, "user-1", "")
	require.NoError(t, err)
	assert.Equal(t, models.DefaultDrawingName, first.Name)
	assert.Len(t, first.ID, 27)
	assert.Equal(t, "[]", first.Elements)

	var appState map[string]any
	require.NoError(t, json.Unmarshal([]byte(first.AppState), &appState))
	assert.Equal(t, "#ffffff", appState["viewBackgroundColor"])

	second, err := repo.Create(ctx, "user-1", "Second")
	require.NoError(t, err)
	_, err = repo.Create(ctx, "user-2", "Not mine")
	require.NoError(t, err)

	name := "Renamed"
	updated, err := repo.Update(ctx, "user-1", first.ID, &models.DrawingUpdate{
		Name:     &name,
		Elements: json.RawMessage(`[{"id":"a"}]`),
	})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Name)
	assert.JSONEq(t, `[{"id":"a"}]`, updated.Elements)
	assert.Equal(t, first.AppState, updated.AppState, "untouched fields survive")
	assert.WithinDuration(t, first.CreatedAt, updated.CreatedAt, time.Millisecond)

	list, err := repo.List(ctx, "user-1", 50)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID, "most recently updated first")
	assert.Equal(t, second.ID, list[1].ID)

	limited, err := repo.List(ctx, "user-1", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	_, err = repo.GetByID(ctx, "user-2", first.ID)
	assert.ErrorIs(t, err, fault.ErrNotFound, "drawings are scoped to their owner")

	require.NoError(t, repo.Delete(ctx, "user-1", first.ID))
	assert.ErrorIs(t, repo.Delete(ctx, "user-1", first.ID), fault.ErrNotFound)
	_, err = repo.GetByID(ctx, "user-1", first.ID)
	assert.ErrorIs(t, err, fault.ErrNotFound)
}

func TestDrawingRepository_UpdateRejects(t *testing.T) {
	ctx := context.Background()
	repo := NewDrawingRepository(newTestDB(t))

	_, err := repo.Update(ctx, "user-1", "missing", &models.DrawingUpdate{})
	assert.ErrorIs(t, err, fault.ErrNotFound)

	d, err := repo.Create(ctx, "user-1", "")
	require.NoError(t, err)
	_, err = repo.Update(ctx, "user-1", d.ID, &models.DrawingUpdate{Elements: json.RawMessage(`[{`)})
	assert.ErrorIs(t, err, fault.ErrInvalidElements)
}

func TestDrawingRepository_SaveUpserts(t *testing.T) {
	ctx := context.Background()
	repo := NewDrawingRepository(newTestDB(t))

	name := "Board"
	saved, err := repo.Save(ctx, "user-1", "drawing-1", &models.DrawingSave{
		Elements: json.RawMessage(`[{"id":"a"}]`),
		AppState: json.RawMessage(`{"theme":"dark"}`),
		Name:     &name,
	})
	require.NoError(t, err)
	assert.Equal(t, "drawing-1", saved.ID)
	assert.Equal(t, "Board", saved.Name)
	assert.Equal(t, "[]", saved.Files)

	resaved, err := repo.Save(ctx, "user-1", "drawing-1", &models.DrawingSave{
		Elements: json.RawMessage(`[{"id":"b"}]`),
		AppState: json.RawMessage(`{"theme":"light"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "Board", resaved.Name, "a save without a name keeps the old one")
	assert.JSONEq(t, `[{"id":"b"}]`, resaved.Elements)
	assert.JSONEq(t, `{"theme":"light"}`, resaved.AppState)
	assert.WithinDuration(t, saved.CreatedAt, resaved.CreatedAt, time.Millisecond, "created_at only set on insert")
	assert.False(t, resaved.UpdatedAt.Before(saved.UpdatedAt))

	_, err = repo.Save(ctx, "user-1", "drawing-2", &models.DrawingSave{Elements: json.RawMessage(`nope`)})
	assert.ErrorIs(t, err, fault.ErrInvalidElements)
}

func TestBlobRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewBlobRepository(newTestDB(t))

	blob, err := repo.Get(ctx, "files/rooms/r1/f1")
	require.NoError(t, err)
	assert.Nil(t, blob)

	require.NoError(t, repo.Put(ctx, "files/rooms/r1/f1", []byte{1, 2, 3}, "public, max-age=60"))
	require.NoError(t, repo.Put(ctx, "files/rooms/r1/f1", []byte{4, 5}, "public, max-age=120"))
	require.NoError(t, repo.Put(ctx, "files/rooms/r2/f1", []byte{9}, "public, max-age=60"))

	blob, err = repo.Get(ctx, "files/rooms/r1/f1")
	require.NoError(t, err)
	require.NotNil(t, blob)
	assert.Equal(t, []byte{4, 5}, blob.Data)
	assert.Equal(t, "public, max-age=120", blob.CacheControl)

	n, err := repo.DeletePrefix(ctx, "files/rooms/r1/")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	blob, err = repo.Get(ctx, "files/rooms/r2/f1")
	require.NoError(t, err)
	assert.NotNil(t, blob)
}

func TestBlobRepository_DeletePrefixStaysInsideFolder(t *testing.T) {
	ctx := context.Background()
	repo := NewBlobRepository(newTestDB(t))

	for _, key := range []string{
		"files/rooms/ab/f1",
		"files/rooms/abc/f1",
		"files/rooms/axb/f1",
		"files/rooms/AB/f1",
		"files/rooms/r1/f1",
	} {
		require.NoError(t, repo.Put(ctx, key, []byte{1}, "public, max-age=60"))
	}

	tests := []struct {
		name   string
		prefix string
		want   int64
	}{
		{"sibling with longer id survives", "files/rooms/ab", 1},
		{"underscore is not a wildcard", "files/rooms/a_b", 0},
		{"percent is not a wildcard", "files/rooms/%", 0},
		{"leading slash is trimmed", "/files/rooms/r1", 1},
		{"case sensitive", "files/rooms/Ab/", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := repo.DeletePrefix(ctx, tt.prefix)
			require.NoError(t, err)
			assert.Equal(t, tt.want, n)
		})
	}

	for _, key := range []string{"files/rooms/abc/f1", "files/rooms/axb/f1", "files/rooms/AB/f1"} {
		blob, err := repo.Get(ctx, key)
		require.NoError(t, err)
		assert.NotNil(t, blob, key)
	}

	_, err := repo.DeletePrefix(ctx, "/")
	assert.ErrorIs(t, err, fault.ErrInvalidPrefix)
}
