package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcs "cloud.google.com/go/storage"
)

// GCSStore is a Google Cloud Storage implementation of ObjectStore.
type GCSStore struct {
	bucket *gcs.BucketHandle
}

// NewGCSStore creates an object store backed by the given bucket.
func NewGCSStore(client *gcs.Client, bucket string) *GCSStore {
	return &GCSStore{bucket: client.Bucket(bucket)}
}

// Upload writes the object under key.
func (s *GCSStore) Upload(ctx context.Context, key string, contentType string, data []byte) (int64, error) {
	w := s.bucket.Object(key).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return 0, fmt.Errorf("write object %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return 0, fmt.Errorf("close object %s: %w", key, err)
	}

	return int64(len(data)), nil
}

// SignedURL returns a V4 signed URL valid until expiresAt.
func (s *GCSStore) SignedURL(_ context.Context, key string, expiresAt time.Time) (string, error) {
	url, err := s.bucket.SignedURL(key, &gcs.SignedURLOptions{
		Method:  "GET",
		Expires: expiresAt,
		Scheme:  gcs.SigningSchemeV4,
	})
	if err != nil {
		return "", fmt.Errorf("sign url for %s: %w", key, err)
	}
	return url, nil
}

// Delete removes the object.
func (s *GCSStore) Delete(ctx context.Context, key string) error {
	err := s.bucket.Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}

// Ensure GCSStore implements ObjectStore.
var _ ObjectStore = (*GCSStore)(nil)
