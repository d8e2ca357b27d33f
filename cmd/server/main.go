package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"scene-sync/internal/api"
	"scene-sync/internal/blobstore"
	"scene-sync/internal/config"
	"scene-sync/internal/db"
	"scene-sync/internal/repository"
	"scene-sync/internal/scene"
	"scene-sync/internal/services"
	"scene-sync/internal/services/collaboration"
	"scene-sync/internal/telemetry"
	"scene-sync/internal/unsplash"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/ksuid"
	"google.golang.org/api/option"
)

/*
LEARNING: WIRING AND GRACEFUL SHUTDOWN

main builds everything once and hands it down:

  config → tracing → database (+ redis) → scene store / bucket
         → services → room hub → handlers → HTTP server

The scene store and the bucket are chosen by config; the services only
see their interfaces. On SIGINT/SIGTERM the HTTP server drains first, then
the room hub closes every connection (which also clears each connection's
cached scene version).
*/

// set with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	log.Println("🚀 Starting scene sync server...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}

	// Tracing first so everything after it is traced
	jaegerShutdown, err := telemetry.InitJaeger("scene-sync", version, cfg.JaegerEndpoint, cfg.TraceSampleRatio)
	if err != nil {
		log.Printf("⚠️  Failed to initialize Jaeger: %v (continuing without tracing)", err)
		jaegerShutdown = func(ctx context.Context) error { return nil }
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := jaegerShutdown(ctx); err != nil {
			log.Printf("⚠️  Failed to shutdown Jaeger: %v", err)
		}
	}()

	database, err := db.NewGorm(cfg)
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	defer database.Close()

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb, err = db.NewRedis(context.Background(), cfg.RedisAddr)
		if err != nil {
			log.Fatalf("❌ %v", err)
		}
		defer rdb.Close()
	}

	// Scene store
	var store services.SceneStore
	switch cfg.SceneStore {
	case config.SceneStoreRedis:
		store = repository.NewRedisSceneRepository(rdb, cfg.TransactionMaxAttempts)
	default:
		store = repository.NewSceneRepository(database.DB, cfg.TransactionMaxAttempts)
	}
	log.Printf("✓ Scene store: %s", cfg.SceneStore)

	// File bucket
	var (
		bucket  services.Bucket
		objects api.ObjectSource
	)
	switch cfg.BlobBackend {
	case config.BlobBackendGCS:
		var opts []option.ClientOption
		if cfg.GoogleCredentials != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.GoogleCredentials))
		}
		gcs := blobstore.NewGCSBucket(cfg.StorageBucket, cfg.StorageBaseURL, opts...)
		defer gcs.Close()
		bucket = gcs
	default:
		dbBucket := blobstore.NewDatabaseBucket(cfg.StorageBucket, cfg.StorageBaseURL, repository.NewBlobRepository(database.DB))
		bucket = dbBucket
		objects = dbBucket
	}
	log.Printf("✓ File bucket %q (%s)", cfg.StorageBucket, cfg.BlobBackend)

	sceneService := services.NewSceneService(store, scene.NewVersionCache())
	fileService := services.NewFileService(bucket, nil, cfg.FileWorkers, cfg.FileCacheMaxAge)
	drawingService := services.NewDrawingService(repository.NewDrawingRepository(database.DB), cfg.DrawingListLimit)
	images := unsplash.NewClient(cfg.UnsplashAccessKey, cfg.UnsplashBaseURL)

	// Room hub. Closing a connection forgets its cached scene version.
	sessionManager := collaboration.NewSessionManager(sceneService.ForgetConnection)
	if rdb != nil {
		sessionManager.SetRelay(collaboration.NewRedisRelay(rdb, ksuid.New().String()))
	}
	sceneService.SetNotifier(sessionManager)
	sessionManager.Start()

	wsHandler := collaboration.NewWebSocketHandler(sessionManager)

	handler := api.NewHandler(sceneService, fileService, drawingService, images, objects, wsHandler, int64(cfg.MaxBodyBytes))
	router := api.SetupRoutes(handler)

	addr := fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("🌐 Server listening on http://%s", addr)
		log.Printf("📚 API Endpoints:")
		log.Printf("   POST   /api/rooms/:roomId/scene          - Save (reconcile) room scene")
		log.Printf("   GET    /api/rooms/:roomId/scene          - Load room scene")
		log.Printf("   POST   /api/files/save                   - Upload encoded files")
		log.Printf("   POST   /api/files/load                   - Download and decode files")
		log.Printf("   *      /api/users/:userId/drawings[/:id] - Drawing metadata")
		log.Printf("   GET    /api/images/search                - Image search")
		log.Printf("   WS     /ws/rooms/:roomId                 - Collaboration room")
		log.Println()

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("🛑 Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("⚠️  Server forced to shutdown: %v", err)
	}

	sessionManager.Shutdown()

	log.Println("✓ Server shutdown complete")
}
