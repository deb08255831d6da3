package export

import (
	"context"
	"errors"
	"time"
)

// Repository errors.
var (
	ErrRequestNotFound     = errors.New("export request not found")
	ErrActiveRequestExists = errors.New("an export request is already active for this user")
	ErrInvalidTransition   = errors.New("invalid export status transition")
)

// Completion carries the terminal artifacts of a successful export.
type Completion struct {
	DownloadRef string
	ExpiresAt   time.Time
	RecordCount int
	SizeBytes   int64
}

// Repository persists export requests. The orchestrator is the single
// writer; workers mutate only through the transition methods.
type Repository interface {
	// Create inserts a new request. Fails with ErrActiveRequestExists when
	// the user already has a non-terminal request; the check and insert
	// are atomic.
	Create(ctx context.Context, req Request) error

	// Get returns a request by ID.
	Get(ctx context.Context, requestID string) (*Request, error)

	// ListByUser returns the user's requests, newest first.
	ListByUser(ctx context.Context, userID string, limit int) ([]Request, error)

	// ClaimProcessing moves a request to PROCESSING. It succeeds from
	// PENDING, and from FAILED so a retried job can re-run; it returns
	// false without error when the request is already COMPLETED.
	ClaimProcessing(ctx context.Context, requestID string) (bool, error)

	// Complete records a successful export. Valid only from PROCESSING.
	Complete(ctx context.Context, requestID string, result Completion) error

	// Fail records a failed attempt with a user-readable message.
	Fail(ctx context.Context, requestID string, message string) error
}
