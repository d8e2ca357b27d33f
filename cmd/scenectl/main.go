package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"scene-sync/internal/cli"
	"scene-sync/internal/config"
	"scene-sync/internal/db"
	"scene-sync/internal/repository"
)

func main() {
	// keep stdout clean for --format json
	log.SetOutput(os.Stderr)

	if err := cli.NewRootCommand(openBackend).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// openBackend connects to the stores the server is configured with
func openBackend(ctx context.Context) (*cli.Backend, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	database, err := db.NewGorm(cfg)
	if err != nil {
		return nil, err
	}

	backend := &cli.Backend{
		Scenes: repository.NewSceneRepository(database.DB, cfg.TransactionMaxAttempts),
		Close:  database.Close,
	}
	if cfg.BlobBackend == config.BlobBackendDatabase {
		backend.Blobs = repository.NewBlobRepository(database.DB)
	}

	if cfg.SceneStore == config.SceneStoreRedis {
		rdb, err := db.NewRedis(ctx, cfg.RedisAddr)
		if err != nil {
			database.Close()
			return nil, err
		}
		backend.Scenes = repository.NewRedisSceneRepository(rdb, cfg.TransactionMaxAttempts)
		backend.Close = func() error {
			rdb.Close()
			return database.Close()
		}
	}

	return backend, nil
}
