package deletion_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/pulsefit/pulsefit/internal/analytics"
	"github.com/pulsefit/pulsefit/internal/audit"
	"github.com/pulsefit/pulsefit/internal/deletion"
	"github.com/pulsefit/pulsefit/internal/ratelimit"
	"github.com/pulsefit/pulsefit/internal/scheduler"
	"github.com/pulsefit/pulsefit/internal/userdata"
)

type deletionFixture struct {
	service *deletion.Service
	repo    *deletion.InMemoryRepository
	jobs    *scheduler.InMemoryStore
	users   *userdata.InMemoryStore
	stats   *analytics.InMemoryStore
	auditor *audit.InMemoryRecorder
	now     time.Time
}

func newDeletionFixture(t *testing.T) *deletionFixture {
	t.Helper()
	f := &deletionFixture{
		repo:    deletion.NewInMemoryRepository(),
		jobs:    scheduler.NewInMemoryStore(),
		users:   userdata.NewInMemoryStore(),
		stats:   analytics.NewInMemoryStore(),
		auditor: audit.NewInMemoryRecorder(),
		now:     time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC),
	}
	f.service = deletion.NewService(
		f.repo,
		ratelimit.NewInMemoryLimiter(ratelimit.DefaultWindows()),
		f.users,
		f.stats,
		f.jobs,
		deletion.NewCertificateSigner([]byte("test-signing-key"), "https://api.test"),
		f.auditor,
		zerolog.Nop(),
	)
	f.advanceTo(f.now)
	return f
}

// advanceTo moves every fixture clock to the given instant.
func (f *deletionFixture) advanceTo(now time.Time) {
	f.now = now
	clock := func() time.Time { return now }
	f.service.SetNow(clock)
	f.repo.SetNow(clock)
	f.jobs.SetNow(clock)
}

func (f *deletionFixture) seedProfile(userID string) {
	f.users.PutProfile(&userdata.Profile{
		UserID:      userID,
		DisplayName: "Test User",
		Email:       "test@example.com",
		CreatedAt:   f.now,
		UpdatedAt:   f.now,
	})
	completed := f.now.Add(-time.Hour)
	f.users.AddSession(userdata.TrainingSession{
		ID:              "ses_1",
		UserID:          userID,
		ExerciseID:      "squat",
		Status:          "completed",
		StartedAt:       f.now.Add(-2 * time.Hour),
		CompletedAt:     &completed,
		DurationSeconds: 3600,
	})
	_ = f.stats.UpsertSessionStat(context.Background(), analytics.SessionStat{
		SessionID:       "ses_1",
		UserID:          userID,
		ExerciseID:      "squat",
		Segment:         "long",
		DurationSeconds: 3600,
		StatDate:        completed,
		RecordedAt:      completed,
	})
}

func (f *deletionFixture) runJob(t *testing.T, requestID, userID string) scheduler.Result {
	t.Helper()
	payload, err := json.Marshal(deletion.JobPayload{RequestID: requestID, UserID: userID})
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}
	return f.service.HandleJob(context.Background(), payload)
}

func TestService_RequestSchedulesAfterGracePeriod(t *testing.T) {
	f := newDeletionFixture(t)
	f.seedProfile("user-1")
	ctx := context.Background()

	created, err := f.service.Request(ctx, "user-1", nil, nil)
	if err != nil {
		t.Fatalf("failed to request deletion: %v", err)
	}
	req := created.Request

	if req.Status != deletion.StatusScheduled {
		t.Errorf("expected status SCHEDULED, got %s", req.Status)
	}
	if req.Type != deletion.TypeSoft {
		t.Errorf("expected default type soft, got %s", req.Type)
	}
	if want := f.now.Add(deletion.GracePeriod); !req.ScheduledAt.Equal(want) {
		t.Errorf("expected scheduledAt %v, got %v", want, req.ScheduledAt)
	}
	if req.RecoverDeadline == nil {
		t.Fatal("expected a recovery deadline for a soft deletion")
	}
	if !req.RecoverDeadline.Before(req.ScheduledAt) {
		t.Error("recovery deadline must close before the scheduled run")
	}
	if created.RecoveryCode == "" {
		t.Error("expected a recovery code for a soft deletion")
	}

	// Account is flagged and sessions revoked immediately
	profile, err := f.users.GetProfile(ctx, "user-1")
	if err != nil {
		t.Fatalf("failed to read profile: %v", err)
	}
	if !profile.DeletionScheduled {
		t.Error("expected the account to be flagged for deletion")
	}
	if profile.TokenEpoch == 0 {
		t.Error("expected sessions to be revoked")
	}

	// The job is armed at the end of the grace period, not now
	jobs, err := f.jobs.ClaimDue(ctx, f.now.Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("failed to claim: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("expected no job due inside the grace period, got %d", len(jobs))
	}
	jobs, _ = f.jobs.ClaimDue(ctx, req.ScheduledAt, 10)
	if len(jobs) != 1 {
		t.Fatalf("expected the job due at the grace period end, got %d", len(jobs))
	}
}

func TestService_SecondActiveRequestRejected(t *testing.T) {
	f := newDeletionFixture(t)
	f.seedProfile("user-1")
	ctx := context.Background()

	if _, err := f.service.Request(ctx, "user-1", nil, nil); err != nil {
		t.Fatalf("first request failed: %v", err)
	}
	_, err := f.service.Request(ctx, "user-1", nil, nil)
	if !errors.Is(err, deletion.ErrActiveRequestExists) {
		t.Fatalf("expected active request conflict, got %v", err)
	}
}

func TestService_InvalidTypeRejected(t *testing.T) {
	f := newDeletionFixture(t)
	f.seedProfile("user-1")

	bad := "forever"
	_, err := f.service.Request(context.Background(), "user-1", &bad, nil)
	var validationErr *deletion.ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestService_CancelWithRecoveryCode(t *testing.T) {
	f := newDeletionFixture(t)
	f.seedProfile("user-1")
	ctx := context.Background()

	created, err := f.service.Request(ctx, "user-1", nil, nil)
	if err != nil {
		t.Fatalf("failed to request deletion: %v", err)
	}
	req := created.Request

	// Missing code
	if err := f.service.Cancel(ctx, "user-1", req.ID, nil); !errors.Is(err, deletion.ErrRecoveryCodeRequired) {
		t.Errorf("expected recovery code required, got %v", err)
	}
	// Wrong code
	wrong := "deadbeefdeadbeefdeadbeefdeadbeef"
	if err := f.service.Cancel(ctx, "user-1", req.ID, &wrong); !errors.Is(err, deletion.ErrRecoveryCodeInvalid) {
		t.Errorf("expected invalid code, got %v", err)
	}
	// Foreign caller
	if err := f.service.Cancel(ctx, "user-2", req.ID, &created.RecoveryCode); !errors.Is(err, deletion.ErrPermissionDenied) {
		t.Errorf("expected permission denied, got %v", err)
	}

	// Correct code cancels and reactivates the account
	if err := f.service.Cancel(ctx, "user-1", req.ID, &created.RecoveryCode); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	got, err := f.service.Status(ctx, "user-1", req.ID)
	if err != nil {
		t.Fatalf("failed to get status: %v", err)
	}
	if got.Status != deletion.StatusCancelled {
		t.Errorf("expected status CANCELLED, got %s", got.Status)
	}
	profile, _ := f.users.GetProfile(ctx, "user-1")
	if profile.DeletionScheduled {
		t.Error("expected the account to be unflagged after cancel")
	}

	// The code is single use: a later request never accepts it
	f.advanceTo(f.now.Add(24 * time.Hour))
	created2, err := f.service.Request(ctx, "user-1", nil, nil)
	if err != nil {
		t.Fatalf("new request failed: %v", err)
	}
	if err := f.service.Cancel(ctx, "user-1", created2.Request.ID, &created.RecoveryCode); !errors.Is(err, deletion.ErrRecoveryCodeInvalid) {
		t.Errorf("expected the old code to be rejected, got %v", err)
	}
}

func TestService_CancelRefusedAtDeadline(t *testing.T) {
	f := newDeletionFixture(t)
	f.seedProfile("user-1")
	ctx := context.Background()

	created, err := f.service.Request(ctx, "user-1", nil, nil)
	if err != nil {
		t.Fatalf("failed to request deletion: %v", err)
	}

	f.advanceTo(*created.Request.RecoverDeadline)
	err = f.service.Cancel(ctx, "user-1", created.Request.ID, &created.RecoveryCode)
	if !errors.Is(err, deletion.ErrRecoveryWindowClosed) {
		t.Fatalf("expected the window to be closed at the deadline, got %v", err)
	}
}

func TestService_WorkerRunsCascadeAfterGracePeriod(t *testing.T) {
	f := newDeletionFixture(t)
	f.seedProfile("user-1")
	ctx := context.Background()

	created, err := f.service.Request(ctx, "user-1", nil, nil)
	if err != nil {
		t.Fatalf("failed to request deletion: %v", err)
	}
	req := created.Request

	f.advanceTo(req.ScheduledAt)
	result := f.runJob(t, req.ID, "user-1")
	if result.Code != scheduler.Ok {
		t.Fatalf("expected the run to succeed, got %v (%v)", result.Code, result.Err)
	}

	got, err := f.service.Status(ctx, "user-1", req.ID)
	if err != nil {
		t.Fatalf("failed to get status: %v", err)
	}
	if got.Status != deletion.StatusCompleted {
		t.Fatalf("expected status COMPLETED, got %s", got.Status)
	}
	if got.CompletedAt == nil {
		t.Fatal("expected a completion timestamp")
	}

	// User data must be gone
	if _, err := f.users.GetProfile(ctx, "user-1"); !errors.Is(err, userdata.ErrProfileNotFound) {
		t.Errorf("expected the profile to be deleted, got %v", err)
	}
	sessions, _ := f.users.ListSessions(ctx, "user-1", userdata.SessionFilter{})
	if len(sessions) != 0 {
		t.Errorf("expected sessions to be deleted, got %d", len(sessions))
	}
	stat, _ := f.stats.GetSessionStat(ctx, "ses_1")
	if stat != nil {
		t.Error("expected derived analytics rows to be purged")
	}

	// The certificate is now issuable and verifiable
	cert, err := f.service.Certificate(ctx, "user-1", req.ID)
	if err != nil {
		t.Fatalf("failed to issue certificate: %v", err)
	}
	if cert.RequestID != req.ID {
		t.Errorf("expected certificate for %s, got %s", req.ID, cert.RequestID)
	}
}

func TestService_CancelledRunIsNoOp(t *testing.T) {
	f := newDeletionFixture(t)
	f.seedProfile("user-1")
	ctx := context.Background()

	created, err := f.service.Request(ctx, "user-1", nil, nil)
	if err != nil {
		t.Fatalf("failed to request deletion: %v", err)
	}
	req := created.Request

	if err := f.service.Cancel(ctx, "user-1", req.ID, &created.RecoveryCode); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	// The still-armed job must not delete anything
	f.advanceTo(req.ScheduledAt)
	result := f.runJob(t, req.ID, "user-1")
	if result.Code != scheduler.Ok {
		t.Fatalf("expected a no-op run, got %v (%v)", result.Code, result.Err)
	}
	if _, err := f.users.GetProfile(ctx, "user-1"); err != nil {
		t.Errorf("expected the profile to survive a cancelled run: %v", err)
	}
}

func TestService_CertificateRequiresCompletion(t *testing.T) {
	f := newDeletionFixture(t)
	f.seedProfile("user-1")
	ctx := context.Background()

	created, err := f.service.Request(ctx, "user-1", nil, nil)
	if err != nil {
		t.Fatalf("failed to request deletion: %v", err)
	}

	_, err = f.service.Certificate(ctx, "user-1", created.Request.ID)
	if !errors.Is(err, deletion.ErrCertificateUnavailable) {
		t.Errorf("expected certificate unavailable before completion, got %v", err)
	}
}

func TestService_FailedRunIsRequeuedByOperator(t *testing.T) {
	f := newDeletionFixture(t)
	f.seedProfile("user-1")
	ctx := context.Background()

	created, err := f.service.Request(ctx, "user-1", nil, nil)
	if err != nil {
		t.Fatalf("failed to request deletion: %v", err)
	}
	req := created.Request

	// An active request cannot be requeued
	if _, err := f.service.Requeue(ctx, "op-1", req.ID); !errors.Is(err, deletion.ErrNotRequeueable) {
		t.Fatalf("expected requeue of an active request refused, got %v", err)
	}

	f.advanceTo(req.ScheduledAt)
	if jobs, _ := f.jobs.ClaimDue(ctx, f.now, 10); len(jobs) != 1 {
		t.Fatalf("expected the original job due, got %d", len(jobs))
	}

	f.stats.FailDeletes(errors.New("connection refused"))
	result := f.runJob(t, req.ID, "user-1")
	if result.Code != scheduler.Permanent {
		t.Fatalf("expected a permanent failure, got %v", result.Code)
	}
	got, err := f.repo.Get(ctx, req.ID)
	if err != nil {
		t.Fatalf("failed to read request: %v", err)
	}
	if got.Status != deletion.StatusFailed {
		t.Fatalf("expected status FAILED, got %s", got.Status)
	}

	// Once the backend recovers, an operator re-arms the cascade
	f.stats.FailDeletes(nil)
	if _, err := f.service.Requeue(ctx, "op-1", req.ID); err != nil {
		t.Fatalf("requeue failed: %v", err)
	}
	jobs, err := f.jobs.ClaimDue(ctx, f.now, 10)
	if err != nil {
		t.Fatalf("failed to claim: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected the requeued job due immediately, got %d", len(jobs))
	}

	result = f.runJob(t, req.ID, "user-1")
	if result.Code != scheduler.Ok {
		t.Fatalf("expected the resumed run to succeed, got %v (%v)", result.Code, result.Err)
	}
	got, _ = f.repo.Get(ctx, req.ID)
	if got.Status != deletion.StatusCompleted {
		t.Errorf("expected status COMPLETED after the requeued run, got %s", got.Status)
	}
	if stat, _ := f.stats.GetSessionStat(ctx, "ses_1"); stat != nil {
		t.Error("expected derived analytics rows purged by the resumed run")
	}
	if entries := f.auditor.ByAction(audit.ActionDeletionRequeued); len(entries) != 1 {
		t.Errorf("expected 1 requeue audit entry, got %d", len(entries))
	}
}

func TestService_RollbackUnflagsAccount(t *testing.T) {
	f := newDeletionFixture(t)
	f.seedProfile("user-1")
	ctx := context.Background()

	f.users.FailRevocations(errors.New("identity service unavailable"))
	if _, err := f.service.Request(ctx, "user-1", nil, nil); err == nil {
		t.Fatal("expected the request to fail when sessions cannot be revoked")
	}

	profile, err := f.users.GetProfile(ctx, "user-1")
	if err != nil {
		t.Fatalf("failed to read profile: %v", err)
	}
	if profile.DeletionScheduled {
		t.Error("expected the rollback to unflag the account")
	}

	requests, err := f.repo.ListByUser(ctx, "user-1", 10)
	if err != nil {
		t.Fatalf("failed to list requests: %v", err)
	}
	if len(requests) != 1 || requests[0].Status != deletion.StatusCancelled {
		t.Errorf("expected the half-created request cancelled, got %+v", requests)
	}
}

func TestService_AuditTrail(t *testing.T) {
	f := newDeletionFixture(t)
	f.seedProfile("user-1")
	ctx := context.Background()

	created, err := f.service.Request(ctx, "user-1", nil, nil)
	if err != nil {
		t.Fatalf("failed to request deletion: %v", err)
	}
	f.advanceTo(created.Request.ScheduledAt)
	f.runJob(t, created.Request.ID, "user-1")

	for _, action := range []string{
		audit.ActionDeletionScheduled,
		audit.ActionDeletionStarted,
		audit.ActionDeletionCompleted,
	} {
		if entries := f.auditor.ByAction(action); len(entries) != 1 {
			t.Errorf("expected 1 %s entry, got %d", action, len(entries))
		}
	}
}
