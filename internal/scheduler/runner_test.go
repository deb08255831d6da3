package scheduler_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/pulsefit/pulsefit/internal/scheduler"
)

func newRunner(t *testing.T) (*scheduler.Runner, *scheduler.InMemoryStore, func(time.Time)) {
	t.Helper()
	store := scheduler.NewInMemoryStore()
	runner := scheduler.NewRunner(store, zerolog.Nop())

	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	advance := func(to time.Time) {
		now = to
		clock := func() time.Time { return now }
		store.SetNow(clock)
		runner.SetNow(clock)
	}
	advance(now)
	return runner, store, advance
}

func TestRunner_RunsDueJob(t *testing.T) {
	runner, store, _ := newRunner(t)
	ctx := context.Background()

	var got string
	runner.Register("test.kind", func(_ context.Context, payload json.RawMessage) scheduler.Result {
		got = string(payload)
		return scheduler.ResultOk()
	})

	runAt := time.Date(2026, 8, 20, 11, 0, 0, 0, time.UTC)
	jobID, err := store.Schedule(ctx, "test.kind", map[string]string{"k": "v"}, runAt, scheduler.DefaultRetryPolicy())
	if err != nil {
		t.Fatalf("failed to schedule: %v", err)
	}

	if err := runner.Tick(ctx); err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	if got != `{"k":"v"}` {
		t.Errorf("handler got payload %q", got)
	}

	job, err := store.Get(ctx, jobID)
	if err != nil {
		t.Fatalf("failed to get job: %v", err)
	}
	if job.Status != scheduler.StatusSucceeded {
		t.Errorf("expected status SUCCEEDED, got %s", job.Status)
	}
}

func TestRunner_FutureJobNotClaimed(t *testing.T) {
	runner, store, advance := newRunner(t)
	ctx := context.Background()

	calls := 0
	runner.Register("test.kind", func(context.Context, json.RawMessage) scheduler.Result {
		calls++
		return scheduler.ResultOk()
	})

	runAt := time.Date(2026, 8, 21, 12, 0, 0, 0, time.UTC)
	if _, err := store.Schedule(ctx, "test.kind", nil, runAt, scheduler.DefaultRetryPolicy()); err != nil {
		t.Fatalf("failed to schedule: %v", err)
	}

	if err := runner.Tick(ctx); err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected no execution before runAt, got %d", calls)
	}

	advance(runAt)
	if err := runner.Tick(ctx); err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 execution at runAt, got %d", calls)
	}
}

func TestRunner_RetryableBacksOffThenFails(t *testing.T) {
	runner, store, advance := newRunner(t)
	ctx := context.Background()

	calls := 0
	runner.Register("test.kind", func(context.Context, json.RawMessage) scheduler.Result {
		calls++
		return scheduler.ResultRetryable(errors.New("transient"))
	})

	policy := scheduler.RetryPolicy{
		MaxAttempts: 3,
		MinBackoff:  30 * time.Second,
		MaxBackoff:  10 * time.Minute,
		Timeout:     time.Minute,
	}
	start := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	jobID, err := store.Schedule(ctx, "test.kind", nil, start, policy)
	if err != nil {
		t.Fatalf("failed to schedule: %v", err)
	}

	// Attempt 1 fails, reschedules at +30s
	if err := runner.Tick(ctx); err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	job, _ := store.Get(ctx, jobID)
	if job.Status != scheduler.StatusPending {
		t.Fatalf("expected PENDING after first failure, got %s", job.Status)
	}
	if want := start.Add(30 * time.Second); !job.RunAt.Equal(want) {
		t.Errorf("expected runAt %v, got %v", want, job.RunAt)
	}
	if job.LastError != "transient" {
		t.Errorf("expected the attempt error to be recorded, got %q", job.LastError)
	}

	// Attempt 2 fails, backoff doubles to 60s
	advance(job.RunAt)
	if err := runner.Tick(ctx); err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	job, _ = store.Get(ctx, jobID)
	if want := job.UpdatedAt.Add(time.Minute); !job.RunAt.Equal(want) {
		t.Errorf("expected runAt %v, got %v", want, job.RunAt)
	}

	// Attempt 3 exhausts the budget
	advance(job.RunAt)
	if err := runner.Tick(ctx); err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	job, _ = store.Get(ctx, jobID)
	if job.Status != scheduler.StatusFailed {
		t.Fatalf("expected FAILED after max attempts, got %s", job.Status)
	}
	if calls != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", calls)
	}
}

func TestRunner_PermanentFailsImmediately(t *testing.T) {
	runner, store, _ := newRunner(t)
	ctx := context.Background()

	calls := 0
	runner.Register("test.kind", func(context.Context, json.RawMessage) scheduler.Result {
		calls++
		return scheduler.ResultPermanent(errors.New("unrecoverable"))
	})

	runAt := time.Date(2026, 8, 20, 11, 0, 0, 0, time.UTC)
	jobID, err := store.Schedule(ctx, "test.kind", nil, runAt, scheduler.DefaultRetryPolicy())
	if err != nil {
		t.Fatalf("failed to schedule: %v", err)
	}

	if err := runner.Tick(ctx); err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	job, _ := store.Get(ctx, jobID)
	if job.Status != scheduler.StatusFailed {
		t.Fatalf("expected FAILED, got %s", job.Status)
	}
	if job.LastError != "unrecoverable" {
		t.Errorf("expected error recorded, got %q", job.LastError)
	}
	if calls != 1 {
		t.Errorf("expected a single attempt, got %d", calls)
	}
}

func TestRunner_UnknownKindFailsPermanently(t *testing.T) {
	runner, store, _ := newRunner(t)
	ctx := context.Background()

	runAt := time.Date(2026, 8, 20, 11, 0, 0, 0, time.UTC)
	jobID, err := store.Schedule(ctx, "ghost.kind", nil, runAt, scheduler.DefaultRetryPolicy())
	if err != nil {
		t.Fatalf("failed to schedule: %v", err)
	}

	if err := runner.Tick(ctx); err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	job, _ := store.Get(ctx, jobID)
	if job.Status != scheduler.StatusFailed {
		t.Errorf("expected FAILED for an unhandled kind, got %s", job.Status)
	}
}

func TestNextBackoff(t *testing.T) {
	policy := scheduler.RetryPolicy{
		MinBackoff: 30 * time.Second,
		MaxBackoff: 10 * time.Minute,
	}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 30 * time.Second},
		{2, time.Minute},
		{3, 2 * time.Minute},
		{4, 4 * time.Minute},
		{5, 8 * time.Minute},
		{6, 10 * time.Minute},
		{10, 10 * time.Minute},
	}
	for _, tc := range cases {
		if got := scheduler.NextBackoff(policy, tc.attempt); got != tc.want {
			t.Errorf("NextBackoff(attempt=%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}
