// Package userdata provides cross-domain access to a user's records:
// profile, training sessions, consents, settings, and subscriptions.
// It backs both the export collector and the deletion cascade.
package userdata

import "time"

// Profile represents a user's account profile.
type Profile struct {
	UserID            string
	DisplayName       string
	Email             string
	Locale            string
	HeightCM          *float64
	WeightKG          *float64
	BirthYear         *int
	DeletionScheduled bool
	// TokenEpoch is bumped to revoke all outstanding sessions; the identity
	// provider rejects tokens issued before the current epoch.
	TokenEpoch int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TrainingSession represents one completed or in-progress workout session.
type TrainingSession struct {
	ID              string
	UserID          string
	ExerciseID      string
	Status          string
	StartedAt       time.Time
	CompletedAt     *time.Time
	DurationSeconds int
	Reps            int
	CaloriesKcal    float64
	AvgHeartRate    *int
}

// Consent represents a single consent decision.
type Consent struct {
	UserID    string
	Kind      string
	Granted   bool
	UpdatedAt time.Time
}

// Settings represents a user's app settings.
type Settings struct {
	UserID               string
	Locale               string
	NotificationsEnabled bool
	WeeklyGoalMinutes    int
	UpdatedAt            time.Time
}

// Subscription represents a billing subscription, correlated from the
// external billing-event source by customer ID.
type Subscription struct {
	ID         string
	UserID     string
	CustomerID string
	Plan       string
	Status     string
	StartedAt  time.Time
	ExpiresAt  *time.Time
}
