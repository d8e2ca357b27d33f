// Package blobstore holds the buckets encoded scene files are uploaded to.
//
// Files are addressed the way Firebase Storage addresses them, so a client
// can fetch any of them with a plain GET:
//
//	{base}/v0/b/{bucket}/o/{escaped prefix}%2F{id}?alt=media
package blobstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"scene-sync/internal/models"
)

// ObjectKey is the object name of file id under prefix
func ObjectKey(prefix, id string) string {
	return strings.Trim(prefix, "/") + "/" + id
}

// ObjectURL is the download address of file id under prefix
func ObjectURL(baseURL, bucket, prefix, id string) string {
	return fmt.Sprintf("%s/v0/b/%s/o/%s%%2F%s",
		strings.TrimRight(baseURL, "/"),
		url.PathEscape(bucket),
		url.PathEscape(strings.Trim(prefix, "/")),
		url.PathEscape(id),
	)
}

// blobWriter is what the database bucket needs from the blob table
type blobWriter interface {
	Put(ctx context.Context, key string, data []byte, cacheControl string) error
	Get(ctx context.Context, key string) (*models.FileBlob, error)
}

// DatabaseBucket keeps objects in the database and is served by this
// process under /v0/b/{bucket}/o/
type DatabaseBucket struct {
	name    string
	baseURL string
	blobs   blobWriter
}

// NewDatabaseBucket creates a bucket backed by the blob table
func NewDatabaseBucket(name, baseURL string, blobs blobWriter) *DatabaseBucket {
	return &DatabaseBucket{name: name, baseURL: baseURL, blobs: blobs}
}

// Name returns the bucket name
func (b *DatabaseBucket) Name() string { return b.name }

// Upload stores an object
func (b *DatabaseBucket) Upload(ctx context.Context, key string, data []byte, cacheControl string) error {
	return b.blobs.Put(ctx, key, data, cacheControl)
}

// Object returns a stored object, or nil if there is none
func (b *DatabaseBucket) Object(ctx context.Context, key string) (*models.FileBlob, error) {
	return b.blobs.Get(ctx, key)
}

// ObjectURL is the download address of file id under prefix
func (b *DatabaseBucket) ObjectURL(prefix, id string) string {
	return ObjectURL(b.baseURL, b.name, prefix, id)
}

// GCSBucket uploads to Google Cloud Storage. The client is created on first
// use and shared by every request afterwards.
type GCSBucket struct {
	name    string
	baseURL string
	opts    []option.ClientOption

	once      sync.Once
	client    *storage.Client
	clientErr error
}

// NewGCSBucket creates a bucket handle; no connection is made until the
// first upload
func NewGCSBucket(name, baseURL string, opts ...option.ClientOption) *GCSBucket {
	return &GCSBucket{name: name, baseURL: baseURL, opts: opts}
}

// Name returns the bucket name
func (b *GCSBucket) Name() string { return b.name }

func (b *GCSBucket) storageClient() (*storage.Client, error) {
	b.once.Do(func() {
		b.client, b.clientErr = storage.NewClient(context.Background(), b.opts...)
	})
	return b.client, b.clientErr
}

// Upload writes an object with the given Cache-Control
func (b *GCSBucket) Upload(ctx context.Context, key string, data []byte, cacheControl string) error {
	client, err := b.storageClient()
	if err != nil {
		return fmt.Errorf("failed to create storage client: %w", err)
	}

	w := client.Bucket(b.name).Object(key).NewWriter(ctx)
	w.ContentType = models.MimeTypeBinary
	w.CacheControl = cacheControl

	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}

// ObjectURL is the download address of file id under prefix
func (b *GCSBucket) ObjectURL(prefix, id string) string {
	return ObjectURL(b.baseURL, b.name, prefix, id)
}

// Close releases the storage client if one was created
func (b *GCSBucket) Close() error {
	if b.client == nil {
		return nil
	}
	return b.client.Close()
}
