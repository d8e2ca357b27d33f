package config

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Scene store backends
const (
	SceneStorePostgres = "postgres"
	SceneStoreRedis    = "redis"
)

// Blob backends
const (
	BlobBackendDatabase = "database"
	BlobBackendGCS      = "gcs"
)

type Config struct {
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	ServerPort string
	ServerHost string

	// Scene storage
	SceneStore             string
	RedisAddr              string
	TransactionMaxAttempts int

	// File storage
	BlobBackend       string
	StorageBucket     string
	StorageBaseURL    string
	FileCacheMaxAge   int
	FileWorkers       int
	GoogleCredentials string

	// Image search
	UnsplashAccessKey string
	UnsplashBaseURL   string

	DrawingListLimit int
	MaxBodyBytes     int

	// Observability
	JaegerEndpoint   string
	TraceSampleRatio float64
}

func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "scene_sync"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		ServerPort: getEnv("SERVER_PORT", "8080"),
		ServerHost: getEnv("SERVER_HOST", "localhost"),

		SceneStore:             getEnv("SCENE_STORE", SceneStorePostgres),
		RedisAddr:              getEnv("REDIS_ADDR", ""),
		TransactionMaxAttempts: getEnvInt("TRANSACTION_MAX_ATTEMPTS", 5),

		BlobBackend:       getEnv("BLOB_BACKEND", BlobBackendDatabase),
		StorageBucket:     getEnv("STORAGE_BUCKET", "scenes"),
		StorageBaseURL:    getEnv("STORAGE_BASE_URL", ""),
		FileCacheMaxAge:   getEnvInt("FILE_CACHE_MAX_AGE_SEC", 31536000),
		FileWorkers:       getEnvInt("FILE_WORKERS", 8),
		GoogleCredentials: getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),

		UnsplashAccessKey: getEnv("UNSPLASH_ACCESS_KEY", ""),
		UnsplashBaseURL:   getEnv("UNSPLASH_BASE_URL", "https://api.unsplash.com"),

		DrawingListLimit: getEnvInt("DRAWING_LIST_LIMIT", 50),
		MaxBodyBytes:     getEnvInt("MAX_BODY_BYTES", 32<<20),

		JaegerEndpoint:   getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
		TraceSampleRatio: getEnvFloat("TRACE_SAMPLE_RATIO", 1.0),
	}

	if cfg.StorageBaseURL == "" {
		if cfg.BlobBackend == BlobBackendGCS {
			cfg.StorageBaseURL = "https://firebasestorage.googleapis.com"
		} else {
			cfg.StorageBaseURL = fmt.Sprintf("http://%s:%s", cfg.ServerHost, cfg.ServerPort)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if cfg.UnsplashAccessKey == "" {
		log.Println("⚠️  UNSPLASH_ACCESS_KEY not set, image search will return no results")
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.SceneStore {
	case SceneStorePostgres:
	case SceneStoreRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required when SCENE_STORE=%s", SceneStoreRedis)
		}
	default:
		return fmt.Errorf("unknown SCENE_STORE %q", c.SceneStore)
	}

	switch c.BlobBackend {
	case BlobBackendDatabase, BlobBackendGCS:
	default:
		return fmt.Errorf("unknown BLOB_BACKEND %q", c.BlobBackend)
	}

	if c.TraceSampleRatio < 0 || c.TraceSampleRatio > 1 {
		return fmt.Errorf("TRACE_SAMPLE_RATIO must be between 0 and 1")
	}

	if c.TransactionMaxAttempts < 1 {
		return fmt.Errorf("TRANSACTION_MAX_ATTEMPTS must be at least 1")
	}

	if c.MaxBodyBytes < 1 {
		return fmt.Errorf("MAX_BODY_BYTES must be at least 1")
	}
	return nil
}

func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
		log.Printf("⚠️  %s=%q is not a number, using %d", key, value, defaultValue)
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
		log.Printf("⚠️  %s=%q is not a number, using %g", key, value, defaultValue)
	}
	return defaultValue
}
