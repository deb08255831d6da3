// Package audit records lifecycle transitions in an append-only log.
// Entries are never updated or deleted; compliance reporting consumes them.
package audit

import (
	"context"
	"time"
)

// Actions recorded by the lifecycle pipeline.
const (
	ActionExportRequested   = "export.requested"
	ActionExportStarted     = "export.started"
	ActionExportCompleted   = "export.completed"
	ActionExportFailed      = "export.failed"
	ActionDeletionRequested = "deletion.requested"
	ActionDeletionScheduled = "deletion.scheduled"
	ActionDeletionCancelled = "deletion.cancelled"
	ActionDeletionStarted   = "deletion.started"
	ActionDeletionCompleted = "deletion.completed"
	ActionDeletionFailed    = "deletion.failed"
	ActionDeletionRequeued  = "deletion.requeued"
	ActionDLQRecovered      = "dlq.recovered"
)

// Entry is one immutable audit record.
type Entry struct {
	ID           string
	Actor        string
	Action       string
	ResourceType string
	ResourceID   string
	Before       map[string]interface{}
	After        map[string]interface{}
	Success      bool
	Timestamp    time.Time
}

// Recorder appends audit entries.
type Recorder interface {
	// Record appends one entry. ID and Timestamp are filled in when zero.
	Record(ctx context.Context, entry Entry) error
}
