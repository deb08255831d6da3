// Package export implements the data-export lifecycle: request intake,
// collection, formatting, artifact upload, and status reporting.
package export

import (
	"time"

	"github.com/google/uuid"
)

// Export request statuses.
const (
	StatusPending    = "PENDING"
	StatusProcessing = "PROCESSING"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
)

// Serialization formats.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// Scope types.
const (
	ScopeAll       = "all"
	ScopeDateRange = "dateRange"
	ScopeSpecific  = "specific"
)

// Exportable data types, in deterministic output order.
var DataTypes = []string{"profile", "sessions", "consents", "settings", "subscriptions"}

// Scope selects which data an export covers.
type Scope struct {
	Type      string     `json:"type"`
	StartDate *time.Time `json:"startDate,omitempty"`
	EndDate   *time.Time `json:"endDate,omitempty"`
	DataTypes []string   `json:"dataTypes,omitempty"`
}

// Request is one export request record.
type Request struct {
	ID                  string
	UserID              string
	Format              string
	Scope               Scope
	Status              string
	RequestedAt         time.Time
	EstimatedCompletion time.Time
	DownloadRef         *string
	ExpiresAt           *time.Time
	RecordCount         *int
	SizeBytes           *int64
	Error               *string
	UpdatedAt           time.Time
}

// Terminal reports whether the request reached a final state.
func (r *Request) Terminal() bool {
	return r.Status == StatusCompleted || r.Status == StatusFailed
}

var requestNamespace = uuid.MustParse("7a36f6f2-14c4-4ab8-9d28-59e7c2f2a101")

// NewRequestID derives a request ID deterministically from the user and
// the rate-limit window the request falls in, so a duplicate submission
// within one window maps to the same ID instead of a second live job.
func NewRequestID(userID string, requestedAt time.Time, window time.Duration) string {
	bucket := requestedAt.UTC().Truncate(window)
	name := userID + "|" + bucket.Format(time.RFC3339)
	return "exp_" + uuid.NewSHA1(requestNamespace, []byte(name)).String()
}
