// Package ratelimit enforces per-(operation, actor) request quotas.
//
// This is the business-level limiter behind the data-lifecycle operations
// (one export per day and the like). HTTP-level flood protection is handled
// separately by the API middleware.
package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Operation keys known to the limiter.
const (
	OpExportRequest        = "export.request"
	OpDeletionRequest      = "deletion.request"
	OpNotificationSettings = "notification.settings"
	OpEmailCheck           = "email.check"
)

// Window defines a fixed-window quota for one operation.
type Window struct {
	// Limit is the number of requests allowed per window.
	Limit int

	// Length is the window duration. Windows are aligned to this length,
	// so the counter key is deterministic for concurrent callers.
	Length time.Duration
}

// DefaultWindows returns the per-operation quotas.
func DefaultWindows() map[string]Window {
	return map[string]Window{
		OpExportRequest:        {Limit: 1, Length: 24 * time.Hour},
		OpDeletionRequest:      {Limit: 3, Length: 24 * time.Hour},
		OpNotificationSettings: {Limit: 10, Length: time.Hour},
		OpEmailCheck:           {Limit: 30, Length: time.Hour},
	}
}

// Error reports an exhausted quota. RetryAfter is the time until the
// current window resets.
type Error struct {
	Operation  string
	Limit      int
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s: %d per %s", e.Operation, e.Limit, e.RetryAfter.Round(time.Second))
}

// Limiter gates operations by (operation, actor).
type Limiter interface {
	// Check atomically increments the counter for (operation, actor) and
	// returns *Error if the increment pushed it past the window's limit.
	// The increment-and-check must be atomic: two concurrent calls from the
	// same actor may not both pass a limit of one.
	Check(ctx context.Context, operation, actorID string) error
}

// windowStart aligns now to the window length.
func windowStart(now time.Time, length time.Duration) time.Time {
	return now.UTC().Truncate(length)
}
