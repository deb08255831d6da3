package deletion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/pulsefit/pulsefit/internal/analytics"
	"github.com/pulsefit/pulsefit/internal/audit"
	"github.com/pulsefit/pulsefit/internal/ratelimit"
	"github.com/pulsefit/pulsefit/internal/scheduler"
	"github.com/pulsefit/pulsefit/internal/userdata"
)

// JobKind identifies deletion jobs on the scheduler.
const JobKind = "deletion.run"

// Service errors surfaced to the API layer.
var (
	ErrPermissionDenied       = errors.New("deletion request belongs to a different user")
	ErrNotCancellable         = errors.New("deletion request can no longer be cancelled")
	ErrRecoveryWindowClosed   = errors.New("the recovery window for this deletion has closed")
	ErrRecoveryCodeRequired   = errors.New("a recovery code is required to cancel this deletion")
	ErrCertificateUnavailable = errors.New("deletion certificate is only available for completed deletions")
	ErrNotRequeueable         = errors.New("only failed deletion requests can be requeued")
)

// JobPayload is the scheduled-job body for one deletion run.
type JobPayload struct {
	RequestID string `json:"requestId"`
	UserID    string `json:"userId"`
}

// Created is returned from Request: the new record plus, for soft
// deletions, the one-time plaintext recovery code.
type Created struct {
	Request      Request
	RecoveryCode string
}

// Service orchestrates the deletion lifecycle. It is the single writer
// of deletion request records.
type Service struct {
	repo      Repository
	limiter   ratelimit.Limiter
	users     userdata.Store
	stats     analytics.Store
	scheduler scheduler.Scheduler
	signer    *CertificateSigner
	auditor   audit.Recorder
	logger    zerolog.Logger
	now       func() time.Time
}

func NewService(
	repo Repository,
	limiter ratelimit.Limiter,
	users userdata.Store,
	stats analytics.Store,
	sched scheduler.Scheduler,
	signer *CertificateSigner,
	auditor audit.Recorder,
	logger zerolog.Logger,
) *Service {
	return &Service{
		repo:      repo,
		limiter:   limiter,
		users:     users,
		stats:     stats,
		scheduler: sched,
		signer:    signer,
		auditor:   auditor,
		logger:    logger.With().Str("component", "deletion").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetNow overrides the clock for time-travel tests.
func (s *Service) SetNow(now func() time.Time) {
	s.now = now
}

// Request creates a deletion request, deactivates the account, revokes
// outstanding sessions, and arms the deferred job at the end of the
// grace period. A second request while one is active is rejected rather
// than queued. If the job cannot be armed, the whole request is rolled
// back: a user must never be flagged for deletion with no job scheduled.
func (s *Service) Request(ctx context.Context, userID string, deletionType *string, reason *string) (*Created, error) {
	if err := s.limiter.Check(ctx, ratelimit.OpDeletionRequest, userID); err != nil {
		return nil, err
	}

	normalizedType := TypeSoft
	if deletionType != nil {
		switch *deletionType {
		case TypeSoft, TypeHard:
			normalizedType = *deletionType
		default:
			return nil, &ValidationError{Field: "type", Message: "must be one of: soft, hard"}
		}
	}

	now := s.now()
	scheduledAt := now.Add(GracePeriod)

	req := Request{
		ID:          NewRequestID(userID, now),
		UserID:      userID,
		Type:        normalizedType,
		Scope:       "all",
		Status:      StatusPending,
		Reason:      reason,
		RequestedAt: now,
		ScheduledAt: scheduledAt,
		UpdatedAt:   now,
	}
	if normalizedType == TypeSoft {
		deadline := scheduledAt.Add(-RecoveryCutoff)
		req.CanRecover = true
		req.RecoverDeadline = &deadline
	}

	if err := s.repo.Create(ctx, req); err != nil {
		return nil, err
	}

	created := &Created{Request: req}
	if req.CanRecover {
		plaintext, hash, err := NewRecoveryCode()
		if err != nil {
			return nil, s.rollback(ctx, req, err)
		}
		code := RecoveryCode{RequestID: req.ID, CodeHash: hash, CreatedAt: now}
		if err := s.repo.SaveRecoveryCode(ctx, code); err != nil {
			return nil, s.rollback(ctx, req, err)
		}
		created.RecoveryCode = plaintext
	}

	if err := s.users.SetDeletionScheduled(ctx, userID, true); err != nil {
		return nil, s.rollback(ctx, req, err)
	}
	if err := s.users.RevokeSessions(ctx, userID); err != nil {
		return nil, s.rollback(ctx, req, err)
	}

	payload := JobPayload{RequestID: req.ID, UserID: userID}
	if _, err := s.scheduler.Schedule(ctx, JobKind, payload, scheduledAt, scheduler.DefaultRetryPolicy()); err != nil {
		return nil, s.rollback(ctx, req, fmt.Errorf("failed to schedule deletion job: %w", err))
	}

	if err := s.repo.MarkScheduled(ctx, req.ID); err != nil {
		return nil, err
	}
	created.Request.Status = StatusScheduled

	s.recordAudit(ctx, userID, audit.ActionDeletionScheduled, req.ID, true)
	s.logger.Info().
		Str("request_id", req.ID).
		Str("type", req.Type).
		Time("scheduled_at", scheduledAt).
		Msg("deletion scheduled")

	return created, nil
}

// rollback cancels a half-created request and unflags the account. The
// unflag is unconditional: it is idempotent, and skipping it would leave
// a durable deletion_scheduled=true with no active request when a later
// step failed after the flag was set.
func (s *Service) rollback(ctx context.Context, req Request, cause error) error {
	if err := s.repo.Cancel(ctx, req.ID); err != nil {
		s.logger.Error().Err(err).Str("request_id", req.ID).Msg("failed to cancel deletion request during rollback")
	}
	if err := s.users.SetDeletionScheduled(ctx, req.UserID, false); err != nil {
		s.logger.Error().Err(err).Str("user_id", req.UserID).Msg("failed to unflag account during rollback")
	}
	s.recordAudit(ctx, req.UserID, audit.ActionDeletionRequested, req.ID, false)
	return cause
}

// Cancel aborts a pending or scheduled deletion. Soft deletions require
// the recovery code and must beat the recovery deadline; at or after the
// deadline the cancellation is refused so it cannot race the worker.
func (s *Service) Cancel(ctx context.Context, callerID, requestID string, recoveryCode *string) error {
	req, err := s.repo.Get(ctx, requestID)
	if err != nil {
		return err
	}
	if req.UserID != callerID {
		return ErrPermissionDenied
	}
	if req.Status != StatusPending && req.Status != StatusScheduled {
		return ErrNotCancellable
	}

	if req.CanRecover {
		if req.RecoverDeadline != nil && !s.now().Before(*req.RecoverDeadline) {
			return ErrRecoveryWindowClosed
		}
		if recoveryCode == nil || *recoveryCode == "" {
			return ErrRecoveryCodeRequired
		}
		if err := s.repo.ConsumeRecoveryCode(ctx, requestID, HashRecoveryCode(*recoveryCode)); err != nil {
			return err
		}
	}

	if err := s.repo.Cancel(ctx, requestID); err != nil {
		return err
	}
	if err := s.users.SetDeletionScheduled(ctx, req.UserID, false); err != nil {
		return fmt.Errorf("failed to reactivate account: %w", err)
	}

	s.recordAudit(ctx, callerID, audit.ActionDeletionCancelled, requestID, true)
	s.logger.Info().Str("request_id", requestID).Msg("deletion cancelled")

	return nil
}

// Status returns a request after verifying the caller owns it.
func (s *Service) Status(ctx context.Context, callerID, requestID string) (*Request, error) {
	req, err := s.repo.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.UserID != callerID {
		return nil, ErrPermissionDenied
	}

	return req, nil
}

// Certificate issues the signed deletion certificate for a completed
// request.
func (s *Service) Certificate(ctx context.Context, callerID, requestID string) (*Certificate, error) {
	req, err := s.repo.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.UserID != callerID {
		return nil, ErrPermissionDenied
	}
	if req.Status != StatusCompleted || req.CompletedAt == nil {
		return nil, ErrCertificateUnavailable
	}

	return s.signer.Issue(req.UserID, req.ID, *req.CompletedAt)
}

// Requeue re-arms the deferred job for a failed deletion so the cascade
// resumes. Operator-only; every cascade step is idempotent, so a resumed
// run re-deletes nothing. The request stays FAILED until the worker
// claims it again.
func (s *Service) Requeue(ctx context.Context, operatorID, requestID string) (*Request, error) {
	req, err := s.repo.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != StatusFailed {
		return nil, ErrNotRequeueable
	}

	payload := JobPayload{RequestID: req.ID, UserID: req.UserID}
	if _, err := s.scheduler.Schedule(ctx, JobKind, payload, s.now(), scheduler.DefaultRetryPolicy()); err != nil {
		return nil, fmt.Errorf("failed to requeue deletion job: %w", err)
	}

	s.recordAudit(ctx, operatorID, audit.ActionDeletionRequeued, req.ID, true)
	s.logger.Info().
		Str("request_id", req.ID).
		Str("operator_id", operatorID).
		Msg("failed deletion requeued")

	return req, nil
}

// HandleJob is the scheduled-job handler for deletion runs. It re-checks
// the request state immediately before the irreversible cascade so a
// cancellation that won the race turns the run into a no-op.
func (s *Service) HandleJob(ctx context.Context, payload json.RawMessage) scheduler.Result {
	var job JobPayload
	if err := json.Unmarshal(payload, &job); err != nil {
		return scheduler.ResultPermanent(fmt.Errorf("failed to decode deletion job payload: %w", err))
	}

	logger := s.logger.With().Str("request_id", job.RequestID).Logger()

	claimed, err := s.repo.ClaimProcessing(ctx, job.RequestID)
	if err != nil {
		if errors.Is(err, ErrRequestNotFound) {
			return scheduler.ResultPermanent(err)
		}
		return scheduler.ResultRetryable(err)
	}
	if !claimed {
		logger.Info().Msg("deletion no longer scheduled, skipping")
		return scheduler.ResultOk()
	}
	s.recordAudit(ctx, job.UserID, audit.ActionDeletionStarted, job.RequestID, true)

	if err := s.cascade(ctx, job.UserID, logger); err != nil {
		// A partial delete must stay visible to an operator, so the run
		// fails permanently instead of retrying behind the scenes.
		if failErr := s.repo.Fail(ctx, job.RequestID, "account deletion could not be completed"); failErr != nil {
			logger.Error().Err(failErr).Msg("failed to persist deletion failure")
		}
		s.recordAudit(ctx, job.UserID, audit.ActionDeletionFailed, job.RequestID, false)
		logger.Error().Err(err).Msg("deletion cascade failed")
		return scheduler.ResultPermanent(err)
	}

	completedAt := s.now()
	if err := s.repo.Complete(ctx, job.RequestID, completedAt); err != nil {
		return scheduler.ResultRetryable(err)
	}

	s.recordAudit(ctx, job.UserID, audit.ActionDeletionCompleted, job.RequestID, true)
	logger.Info().Msg("deletion completed")
	return scheduler.ResultOk()
}

// cascade removes the user's rows step by step, children first, then
// purges the derived analytics rows. Each step is idempotent, so a
// resumed run re-deletes nothing.
func (s *Service) cascade(ctx context.Context, userID string, logger zerolog.Logger) error {
	for _, step := range userdata.DeletionPlan() {
		deleted, err := s.users.DeleteUserRows(ctx, step, userID)
		if err != nil {
			return fmt.Errorf("failed to delete %s rows: %w", step.Collection, err)
		}
		logger.Debug().Str("collection", step.Collection).Int64("rows", deleted).Msg("cascade step done")
	}

	deleted, err := s.stats.DeleteByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to delete session stats: %w", err)
	}
	logger.Debug().Int64("rows", deleted).Msg("session stats purged")

	return nil
}

func (s *Service) recordAudit(ctx context.Context, userID, action, requestID string, success bool) {
	err := s.auditor.Record(ctx, audit.Entry{
		Actor:        userID,
		Action:       action,
		ResourceType: "deletion_request",
		ResourceID:   requestID,
		Success:      success,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("action", action).Msg("failed to record audit entry")
	}
}

// ValidationError rejects a request field at the API boundary.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}
