// Package analytics stores per-session stat rows and daily aggregates
// computed from them.
package analytics

import (
	"context"
	"time"
)

// SessionStat is one analytics row, keyed by session ID. Redelivery of
// the same session overwrites the row rather than inserting a duplicate.
type SessionStat struct {
	SessionID       string
	UserID          string
	ExerciseID      string
	Segment         string
	DurationSeconds int
	Reps            int
	CaloriesKcal    float64
	StatDate        time.Time
	RecordedAt      time.Time
}

// AggregatedStat is one daily aggregate row, keyed by (statDate,
// exerciseId, segment).
type AggregatedStat struct {
	StatDate      time.Time
	ExerciseID    string
	Segment       string
	SessionCount  int
	TotalDuration int
	TotalReps     int
	TotalCalories float64
	UniqueUsers   int
	ComputedAt    time.Time
}

// Store persists session stats and aggregates.
type Store interface {
	// UpsertSessionStat inserts or replaces the row for stat.SessionID.
	UpsertSessionStat(ctx context.Context, stat SessionStat) error

	// GetSessionStat returns the row for a session, or nil when absent.
	GetSessionStat(ctx context.Context, sessionID string) (*SessionStat, error)

	// ListSessionStatsByDate returns all session rows whose StatDate
	// falls on the given day.
	ListSessionStatsByDate(ctx context.Context, statDate time.Time) ([]SessionStat, error)

	// ReplaceAggregates deletes all aggregate rows for statDate and
	// inserts the given rows in one transaction.
	ReplaceAggregates(ctx context.Context, statDate time.Time, stats []AggregatedStat) error

	// ListAggregates returns the aggregate rows for statDate.
	ListAggregates(ctx context.Context, statDate time.Time) ([]AggregatedStat, error)

	// DeleteByUser removes all session stat rows for a user. Used by the
	// account deletion cascade.
	DeleteByUser(ctx context.Context, userID string) (int64, error)
}

// StatDate truncates a timestamp to its UTC calendar day.
func StatDate(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
