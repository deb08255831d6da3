package userdata

import (
	"context"
	"errors"
	"time"
)

// Store errors.
var (
	ErrProfileNotFound  = errors.New("profile not found")
	ErrSettingsNotFound = errors.New("settings not found")
)

// SessionFilter bounds a session listing by start time.
// Nil fields leave that side of the range open.
type SessionFilter struct {
	StartedAfter  *time.Time
	StartedBefore *time.Time
}

// Store defines cross-domain access to a user's records.
type Store interface {
	// GetProfile retrieves a user's profile.
	// Returns ErrProfileNotFound if the user has no profile document.
	GetProfile(ctx context.Context, userID string) (*Profile, error)

	// ListSessions retrieves a user's training sessions, newest first,
	// optionally bounded by start time.
	ListSessions(ctx context.Context, userID string, filter SessionFilter) ([]TrainingSession, error)

	// ListConsents retrieves a user's consent decisions.
	ListConsents(ctx context.Context, userID string) ([]Consent, error)

	// GetSettings retrieves a user's settings.
	// Returns ErrSettingsNotFound if the user never saved settings.
	GetSettings(ctx context.Context, userID string) (*Settings, error)

	// ListSubscriptions retrieves a user's billing subscriptions.
	ListSubscriptions(ctx context.Context, userID string) ([]Subscription, error)

	// ListCompletedSessions retrieves sessions across all users completed
	// strictly after the given time, oldest first. Feeds the analytics
	// stream relay, which passes its checkpoint here.
	ListCompletedSessions(ctx context.Context, after time.Time, limit int) ([]TrainingSession, error)

	// SetDeletionScheduled flags or unflags the account as scheduled for
	// deletion. Flagged accounts are deactivated but recoverable.
	SetDeletionScheduled(ctx context.Context, userID string, scheduled bool) error

	// RevokeSessions invalidates all outstanding access for the user by
	// bumping the token epoch.
	RevokeSessions(ctx context.Context, userID string) error

	// DeleteUserRows removes the user's rows from one deletion-plan step
	// and returns the number of rows removed. Steps are idempotent: running
	// a step twice deletes nothing the second time.
	DeleteUserRows(ctx context.Context, step PlanStep, userID string) (int64, error)
}
