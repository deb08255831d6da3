// Package storage provides the object-store port for export artifacts.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrObjectNotFound is returned when a signed URL is requested for a missing object.
var ErrObjectNotFound = errors.New("object not found")

// ObjectStore stores export artifacts and grants time-bounded read access.
type ObjectStore interface {
	// Upload writes the object under key and returns its size in bytes.
	Upload(ctx context.Context, key string, contentType string, data []byte) (int64, error)

	// SignedURL returns a credential-free URL granting read access to the
	// object until expiresAt.
	SignedURL(ctx context.Context, key string, expiresAt time.Time) (string, error)

	// Delete removes the object. Deleting a missing object is not an error.
	Delete(ctx context.Context, key string) error
}
