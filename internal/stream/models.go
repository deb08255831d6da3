// Package stream moves completed training sessions onto the analytics
// store: publish on completion, consume with idempotent upserts, park
// failures on the dead-letter queue, and recover them on demand.
package stream

import "time"

// Message attribute keys.
const (
	AttrRetryCount       = "retryCount"
	AttrSourceCollection = "sourceCollection"
	AttrUserID           = "userId"
	AttrSessionID        = "sessionId"
	AttrRecovered        = "recovered"
)

// SourceCollection tags where session events originate.
const SourceCollection = "training_sessions"

// SessionEvent is the queue message body for one completed session.
// The session ID is the idempotency key: redelivery overwrites the same
// analytics row instead of inserting a duplicate.
type SessionEvent struct {
	UserID    string      `json:"userId"`
	SessionID string      `json:"sessionId"`
	Data      SessionData `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// SessionData carries the domain fields the analytics store keeps.
type SessionData struct {
	ExerciseID      string    `json:"exerciseId"`
	Segment         string    `json:"segment"`
	DurationSeconds int       `json:"durationSeconds"`
	Reps            int       `json:"reps"`
	CaloriesKcal    float64   `json:"caloriesKcal"`
	CompletedAt     time.Time `json:"completedAt"`
}

// DLQEvent wraps a SessionEvent with the failure that parked it. When
// the original body could not be decoded, RawData carries it verbatim.
type DLQEvent struct {
	SessionEvent
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failedAt"`
	RawData  []byte    `json:"rawData,omitempty"`
}

// RecoveryReport summarizes one dead-letter recovery run.
type RecoveryReport struct {
	Processed int      `json:"processed"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors"`
}
