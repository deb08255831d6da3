package deletion

import (
	"context"
	"errors"
	"time"
)

// Repository errors.
var (
	ErrRequestNotFound     = errors.New("deletion request not found")
	ErrActiveRequestExists = errors.New("a deletion request is already active for this user")
	ErrInvalidTransition   = errors.New("invalid deletion status transition")
	ErrRecoveryCodeInvalid = errors.New("recovery code is invalid or already used")
)

// RecoveryCode is the hashed, single-use credential bound to one soft
// deletion request. The plaintext is shown to the user once and never
// stored.
type RecoveryCode struct {
	RequestID string
	CodeHash  string
	Used      bool
	CreatedAt time.Time
}

// Repository persists deletion requests and their recovery codes. The
// orchestrator is the single writer; workers mutate only through the
// transition methods.
type Repository interface {
	// Create inserts a new request. Fails with ErrActiveRequestExists when
	// the user already has an active request; the check and insert are
	// atomic.
	Create(ctx context.Context, req Request) error

	// Get returns a request by ID.
	Get(ctx context.Context, requestID string) (*Request, error)

	// ListByUser returns the user's requests, newest first.
	ListByUser(ctx context.Context, userID string, limit int) ([]Request, error)

	// MarkScheduled arms the request. Valid only from PENDING.
	MarkScheduled(ctx context.Context, requestID string) error

	// Cancel moves the request to CANCELLED. Valid only from PENDING or
	// SCHEDULED; any other state returns ErrInvalidTransition.
	Cancel(ctx context.Context, requestID string) error

	// ClaimProcessing moves SCHEDULED or FAILED to PROCESSING; FAILED is
	// claimable so an operator requeue can resume the cascade. Returns
	// false without error when the request is in any other state, so a
	// worker racing a cancellation backs off instead of deleting.
	ClaimProcessing(ctx context.Context, requestID string) (bool, error)

	// Complete records a finished cascade. Valid only from PROCESSING.
	Complete(ctx context.Context, requestID string, completedAt time.Time) error

	// Fail records a failed cascade with a user-readable message.
	Fail(ctx context.Context, requestID string, message string) error

	// SaveRecoveryCode stores the hashed recovery code for a request.
	SaveRecoveryCode(ctx context.Context, code RecoveryCode) error

	// ConsumeRecoveryCode marks the request's code used when the hash
	// matches an unused code, atomically. A wrong hash or a reused code
	// returns ErrRecoveryCodeInvalid.
	ConsumeRecoveryCode(ctx context.Context, requestID, codeHash string) error
}
