package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/pulsefit/pulsefit/internal/audit"
	"github.com/pulsefit/pulsefit/internal/ratelimit"
	"github.com/pulsefit/pulsefit/internal/resilience"
	"github.com/pulsefit/pulsefit/internal/scheduler"
	"github.com/pulsefit/pulsefit/internal/storage"
)

// JobKind identifies export jobs on the scheduler.
const JobKind = "export.run"

// ErrPermissionDenied is returned when a caller reads a request they do
// not own.
var ErrPermissionDenied = errors.New("export request belongs to a different user")

// JobPayload is the scheduled-job body for one export run.
type JobPayload struct {
	RequestID string `json:"requestId"`
	UserID    string `json:"userId"`
}

// Service orchestrates the export lifecycle. It is the single writer of
// export request records.
type Service struct {
	repo      Repository
	limiter   ratelimit.Limiter
	collector *Collector
	objects   storage.ObjectStore
	scheduler scheduler.Scheduler
	auditor   audit.Recorder
	uploads   *resilience.Wrapper[int64]
	logger    zerolog.Logger
	now       func() time.Time

	// EstimateWindow is how far ahead completion is estimated at intake.
	estimateWindow time.Duration
	// DownloadTTL bounds how long a finished artifact stays downloadable.
	downloadTTL time.Duration
}

func NewService(
	repo Repository,
	limiter ratelimit.Limiter,
	collector *Collector,
	objects storage.ObjectStore,
	sched scheduler.Scheduler,
	auditor audit.Recorder,
	logger zerolog.Logger,
) *Service {
	return &Service{
		repo:           repo,
		limiter:        limiter,
		collector:      collector,
		objects:        objects,
		scheduler:      sched,
		auditor:        auditor,
		uploads:        resilience.New[int64](resilience.DefaultConfig("export-upload")),
		logger:         logger.With().Str("component", "export").Logger(),
		now:            func() time.Time { return time.Now().UTC() },
		estimateWindow: 15 * time.Minute,
		downloadTTL:    24 * time.Hour,
	}
}

// SetNow overrides the clock for time-travel tests.
func (s *Service) SetNow(now func() time.Time) {
	s.now = now
}

// Request creates a new export request and arms a job to run it now.
func (s *Service) Request(ctx context.Context, userID string, format *string, scope *Scope) (*Request, error) {
	if err := s.limiter.Check(ctx, ratelimit.OpExportRequest, userID); err != nil {
		return nil, err
	}

	normalizedFormat, normalizedScope, err := NormalizeCreate(format, scope)
	if err != nil {
		return nil, err
	}

	now := s.now()
	req := Request{
		ID:                  NewRequestID(userID, now, 24*time.Hour),
		UserID:              userID,
		Format:              normalizedFormat,
		Scope:               normalizedScope,
		Status:              StatusPending,
		RequestedAt:         now,
		EstimatedCompletion: now.Add(s.estimateWindow),
		UpdatedAt:           now,
	}

	if err := s.repo.Create(ctx, req); err != nil {
		return nil, err
	}

	payload := JobPayload{RequestID: req.ID, UserID: userID}
	if _, err := s.scheduler.Schedule(ctx, JobKind, payload, now, scheduler.DefaultRetryPolicy()); err != nil {
		// A request with no job armed would hang in PENDING forever, so a
		// failed schedule call fails the whole intake.
		s.recordAudit(ctx, userID, audit.ActionExportRequested, req.ID, false)
		return nil, fmt.Errorf("failed to schedule export job: %w", err)
	}

	s.recordAudit(ctx, userID, audit.ActionExportRequested, req.ID, true)
	s.logger.Info().Str("request_id", req.ID).Str("format", req.Format).Msg("export requested")

	return &req, nil
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

// List returns the caller's requests, newest first.
func (s *Service) List(ctx context.Context, callerID string, limit int) ([]Request, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.repo.ListByUser(ctx, callerID, limit)
}

// DownloadURL returns a signed URL for a completed request's artifact, or
// nil when the request has no live artifact.
func (s *Service) DownloadURL(ctx context.Context, req *Request) (*string, error) {
	if req.Status != StatusCompleted || req.DownloadRef == nil || req.ExpiresAt == nil {
		return nil, nil
	}
	if !s.now().Before(*req.ExpiresAt) {
		return nil, nil
	}

	url, err := s.objects.SignedURL(ctx, *req.DownloadRef, *req.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("failed to sign download url: %w", err)
	}

	return &url, nil
}

// HandleJob is the scheduled-job handler for export runs. It is safe
// against redelivery: a completed request is a no-op.
func (s *Service) HandleJob(ctx context.Context, payload json.RawMessage) scheduler.Result {
	var job JobPayload
	if err := json.Unmarshal(payload, &job); err != nil {
		return scheduler.ResultPermanent(fmt.Errorf("failed to decode export job payload: %w", err))
	}

	logger := s.logger.With().Str("request_id", job.RequestID).Logger()

	req, err := s.repo.Get(ctx, job.RequestID)
	if err != nil {
		if errors.Is(err, ErrRequestNotFound) {
			return scheduler.ResultPermanent(err)
		}
		return scheduler.ResultRetryable(err)
	}
	if req.Status == StatusCompleted {
		logger.Info().Msg("export already completed, skipping duplicate delivery")
		return scheduler.ResultOk()
	}

	claimed, err := s.repo.ClaimProcessing(ctx, req.ID)
	if err != nil {
		return scheduler.ResultRetryable(err)
	}
	if !claimed {
		return scheduler.ResultOk()
	}
	s.recordAudit(ctx, req.UserID, audit.ActionExportStarted, req.ID, true)

	if err := s.run(ctx, req); err != nil {
		// Persist a user-readable failure; internal error text stays in
		// the logs only.
		if failErr := s.repo.Fail(ctx, req.ID, "export could not be generated"); failErr != nil {
			logger.Error().Err(failErr).Msg("failed to persist export failure")
		}
		s.recordAudit(ctx, req.UserID, audit.ActionExportFailed, req.ID, false)
		logger.Error().Err(err).Msg("export run failed")
		return scheduler.ResultRetryable(err)
	}

	s.recordAudit(ctx, req.UserID, audit.ActionExportCompleted, req.ID, true)
	logger.Info().Msg("export completed")
	return scheduler.ResultOk()
}

func (s *Service) run(ctx context.Context, req *Request) error {
	snapshot, err := s.collector.Collect(ctx, req.UserID, req.Scope)
	if err != nil {
		return err
	}

	var artifact []byte
	var contentType string
	switch req.Format {
	case FormatCSV:
		artifact, err = ToCSV(snapshot)
		contentType = "text/csv"
	default:
		artifact, err = ToJSON(snapshot)
		contentType = "application/json"
	}
	if err != nil {
		return err
	}

	key := fmt.Sprintf("exports/%s/%s.%s", req.UserID, req.ID, req.Format)
	size, err := s.uploads.Do(ctx, func() (int64, error) {
		return s.objects.Upload(ctx, key, contentType, artifact)
	})
	if err != nil {
		return fmt.Errorf("failed to upload export artifact: %w", err)
	}

	return s.repo.Complete(ctx, req.ID, Completion{
		DownloadRef: key,
		ExpiresAt:   s.now().Add(s.downloadTTL),
		RecordCount: snapshot.RecordCount(),
		SizeBytes:   size,
	})
}

func (s *Service) recordAudit(ctx context.Context, userID, action, requestID string, success bool) {
	err := s.auditor.Record(ctx, audit.Entry{
		Actor:        userID,
		Action:       action,
		ResourceType: "export_request",
		ResourceID:   requestID,
		Success:      success,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("action", action).Msg("failed to record audit entry")
	}
}
