package services

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"scene-sync/internal/blobstore"
	"scene-sync/internal/codec"
	"scene-sync/internal/middleware"
	"scene-sync/internal/models"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

/*
LEARNING: PARTIAL FAILURE IN BATCHES

Files are uploaded and downloaded concurrently, one goroutine per file,
with errgroup.SetLimit capping how many run at once.

The goroutines never return an error to the group: a failing file must not
cancel its siblings. Each outcome is recorded in the result instead, and
the caller gets "these worked, these did not".
*/

// SaveFilesResult reports which uploads landed
type SaveFilesResult struct {
	Saved   []string `json:"savedFiles"`
	Errored []string `json:"erroredFiles"`
}

// LoadFilesResult reports which downloads could be decoded
type LoadFilesResult struct {
	Loaded  []models.BinaryFileData `json:"loadedFiles"`
	Errored []string                `json:"erroredFiles"`
}

// FileService moves encoded scene files in and out of the bucket
type FileService struct {
	bucket       Bucket
	httpClient   *http.Client
	workers      int
	cacheControl string
}

// NewFileService creates a new file service
func NewFileService(bucket Bucket, httpClient *http.Client, workers, cacheMaxAgeSec int) *FileService {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if workers < 1 {
		workers = 1
	}
	return &FileService{
		bucket:       bucket,
		httpClient:   httpClient,
		workers:      workers,
		cacheControl: fmt.Sprintf("public, max-age=%d", cacheMaxAgeSec),
	}
}

// SaveFiles uploads every file under prefix. Failures are reported per file.
func (s *FileService) SaveFiles(ctx context.Context, prefix string, files []models.FileUpload) *SaveFilesResult {
	ctx, span := middleware.StartSpan(ctx, "FileService.SaveFiles",
		attribute.String("files.prefix", prefix),
		attribute.Int("files.count", len(files)),
	)
	defer span.End()

	saved := make([]bool, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, file := range files {
		g.Go(func() error {
			key := blobstore.ObjectKey(prefix, file.ID)
			if err := s.bucket.Upload(gctx, key, file.Buffer, s.cacheControl); err != nil {
				log.Printf("⚠️  Failed to upload file %s: %v", key, err)
				return nil
			}
			saved[i] = true
			return nil
		})
	}
	g.Wait()

	result := &SaveFilesResult{Saved: []string{}, Errored: []string{}}
	for i, file := range files {
		if saved[i] {
			result.Saved = append(result.Saved, file.ID)
		} else {
			result.Errored = append(result.Errored, file.ID)
		}
	}

	span.SetAttributes(attribute.Int("files.errored", len(result.Errored)))
	return result
}

// LoadFiles downloads and decodes files under prefix. Duplicate ids are
// fetched once; failures are reported per file.
func (s *FileService) LoadFiles(ctx context.Context, prefix, key string, ids []string) *LoadFilesResult {
	ctx, span := middleware.StartSpan(ctx, "FileService.LoadFiles",
		attribute.String("files.prefix", prefix),
		attribute.Int("files.count", len(ids)),
	)
	defer span.End()

	unique := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}

	loaded := make([]*models.BinaryFileData, len(unique))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, id := range unique {
		g.Go(func() error {
			file, err := s.loadFile(gctx, prefix, key, id)
			if err != nil {
				log.Printf("⚠️  Failed to load file %s: %v", id, err)
				return nil
			}
			loaded[i] = file
			return nil
		})
	}
	g.Wait()

	result := &LoadFilesResult{Loaded: []models.BinaryFileData{}, Errored: []string{}}
	for i, file := range loaded {
		if file != nil {
			result.Loaded = append(result.Loaded, *file)
		} else {
			result.Errored = append(result.Errored, unique[i])
		}
	}

	span.SetAttributes(attribute.Int("files.errored", len(result.Errored)))
	return result
}

func (s *FileService) loadFile(ctx context.Context, prefix, key, id string) (*models.BinaryFileData, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.bucket.ObjectURL(prefix, id)+"?alt=media", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("fetch returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	data, meta, err := codec.DecodeFile(key, body)
	if err != nil {
		return nil, err
	}

	mimeType := meta.MimeType
	if mimeType == "" {
		mimeType = models.MimeTypeBinary
	}
	created := meta.Created
	if created == 0 {
		created = time.Now().UnixMilli()
	}

	return &models.BinaryFileData{
		ID:            id,
		MimeType:      mimeType,
		DataURL:       string(data),
		Created:       created,
		LastRetrieved: created,
	}, nil
}

// EncodeFiles compresses and encrypts files for SaveFiles. The payload is
// the file's data URL; id, mime type and creation time travel as metadata.
func (s *FileService) EncodeFiles(key string, files []models.BinaryFileData) ([]models.FileUpload, error) {
	uploads := make([]models.FileUpload, 0, len(files))
	for _, f := range files {
		created := f.Created
		if created == 0 {
			created = time.Now().UnixMilli()
		}
		buf, err := codec.EncodeFile(key, []byte(f.DataURL), models.FileMetadata{
			ID:       f.ID,
			MimeType: f.MimeType,
			Created:  created,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to encode file %s: %w", f.ID, err)
		}
		uploads = append(uploads, models.FileUpload{ID: f.ID, Buffer: buf})
	}
	return uploads, nil
}
