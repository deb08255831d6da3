// Package deletion implements the account-deletion lifecycle: a 30-day
// grace period, recovery-code cancellation, the cascade delete, and the
// signed deletion certificate.
package deletion

import (
	"time"

	"github.com/google/uuid"
)

// Deletion request statuses.
const (
	StatusPending    = "PENDING"
	StatusScheduled  = "SCHEDULED"
	StatusCancelled  = "CANCELLED"
	StatusProcessing = "PROCESSING"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
)

// Deletion types. Soft deletions can be cancelled with a recovery code
// until shortly before execution; hard deletions cannot.
const (
	TypeSoft = "soft"
	TypeHard = "hard"
)

// Grace-period constants.
const (
	// GracePeriod is how long a deletion waits before executing.
	GracePeriod = 30 * 24 * time.Hour

	// RecoveryCutoff is how long before execution the recovery window
	// closes, so a cancellation cannot race the worker.
	RecoveryCutoff = time.Hour
)

// Request is one deletion request record.
type Request struct {
	ID              string
	UserID          string
	Type            string
	Scope           string
	Status          string
	Reason          *string
	RequestedAt     time.Time
	ScheduledAt     time.Time
	CanRecover      bool
	RecoverDeadline *time.Time
	CompletedAt     *time.Time
	Error           *string
	UpdatedAt       time.Time
}

// Active reports whether the request still holds the per-user slot.
func (r *Request) Active() bool {
	switch r.Status {
	case StatusPending, StatusScheduled, StatusProcessing:
		return true
	}
	return false
}

var requestNamespace = uuid.MustParse("c91f2f60-8f4e-4f0a-bb34-2d1f9a6b7702")

// NewRequestID derives a request ID deterministically from the user and
// the day the request was made, so a duplicate submission cannot arm two
// deferred jobs.
func NewRequestID(userID string, requestedAt time.Time) string {
	day := requestedAt.UTC().Truncate(24 * time.Hour)
	name := userID + "|" + day.Format(time.RFC3339)
	return "del_" + uuid.NewSHA1(requestNamespace, []byte(name)).String()
}
