// Package scheduler provides a durable delayed-job queue with bounded
// retries and exponential backoff. Delivery is at-least-once; handlers
// must be idempotent against redelivery.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Job statuses.
const (
	StatusPending   = "PENDING"
	StatusRunning   = "RUNNING"
	StatusSucceeded = "SUCCEEDED"
	StatusFailed    = "FAILED"
)

var (
	ErrJobNotFound = errors.New("job not found")
)

// ResultCode classifies a handler outcome so the retry decision is an
// explicit data contract rather than error-type sniffing.
type ResultCode int

const (
	// Ok marks the job done.
	Ok ResultCode = iota
	// Retryable re-arms the job until the retry policy is exhausted.
	Retryable
	// Permanent fails the job immediately with no further attempts.
	Permanent
)

// Result is returned by a job handler.
type Result struct {
	Code ResultCode
	Err  error
}

func ResultOk() Result                 { return Result{Code: Ok} }
func ResultRetryable(err error) Result { return Result{Code: Retryable, Err: err} }
func ResultPermanent(err error) Result { return Result{Code: Permanent, Err: err} }

// RetryPolicy bounds how a failed job is retried.
type RetryPolicy struct {
	MaxAttempts int
	MinBackoff  time.Duration
	MaxBackoff  time.Duration
	Timeout     time.Duration
}

// DefaultRetryPolicy matches the pipeline-wide retry contract.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		MinBackoff:  30 * time.Second,
		MaxBackoff:  10 * time.Minute,
		Timeout:     5 * time.Minute,
	}
}

// Job is one scheduled unit of work.
type Job struct {
	ID        string
	Kind      string
	Payload   json.RawMessage
	Status    string
	Attempt   int
	Policy    RetryPolicy
	RunAt     time.Time
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Scheduler enqueues jobs for deferred execution.
type Scheduler interface {
	// Schedule persists a job to run at or after runAt and returns its handle.
	Schedule(ctx context.Context, kind string, payload interface{}, runAt time.Time, policy RetryPolicy) (string, error)
}

// Store is the durable job repository consumed by the Runner.
type Store interface {
	Scheduler

	// ClaimDue atomically claims up to limit jobs whose RunAt has passed,
	// marking them RUNNING so concurrent runners do not double-execute.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]Job, error)

	// MarkSucceeded records a terminal success.
	MarkSucceeded(ctx context.Context, jobID string) error

	// MarkFailed records a terminal failure.
	MarkFailed(ctx context.Context, jobID string, jobErr string) error

	// Reschedule re-arms a retryable job for a later attempt.
	Reschedule(ctx context.Context, jobID string, runAt time.Time, attempt int, jobErr string) error

	// Get returns a job by ID.
	Get(ctx context.Context, jobID string) (*Job, error)
}

// NextBackoff computes the delay before the given attempt (1-based),
// doubling from MinBackoff and capping at MaxBackoff.
func NextBackoff(policy RetryPolicy, attempt int) time.Duration {
	d := policy.MinBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= policy.MaxBackoff {
			return policy.MaxBackoff
		}
	}
	if d > policy.MaxBackoff {
		return policy.MaxBackoff
	}
	return d
}
