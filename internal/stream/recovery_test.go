package stream_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/pulsefit/pulsefit/internal/audit"
	"github.com/pulsefit/pulsefit/internal/queue"
	"github.com/pulsefit/pulsefit/internal/stream"
)

func parkEvent(t *testing.T, dlq *queue.InMemoryQueue, sessionID string) {
	t.Helper()
	wrapped := stream.DLQEvent{
		SessionEvent: sessionEvent(sessionID),
		Error:        "connection refused",
		FailedAt:     time.Date(2026, 8, 20, 11, 0, 0, 0, time.UTC),
	}
	data, err := json.Marshal(wrapped)
	if err != nil {
		t.Fatalf("failed to encode dlq event: %v", err)
	}
	attrs := map[string]string{
		stream.AttrRetryCount: "5",
		stream.AttrSessionID:  sessionID,
		stream.AttrUserID:     "user-1",
	}
	if _, err := dlq.Publish(context.Background(), data, attrs); err != nil {
		t.Fatalf("failed to park event: %v", err)
	}
}

func TestRecoverer_SweepRepublishesWithResetRetryCount(t *testing.T) {
	live := queue.NewInMemoryQueue()
	dlq := queue.NewInMemoryQueue()
	auditor := audit.NewInMemoryRecorder()
	recoverer := stream.NewRecoverer(dlq, live, auditor, zerolog.Nop())
	ctx := context.Background()

	parkEvent(t, dlq, "ses_1")
	parkEvent(t, dlq, "ses_2")

	report, err := recoverer.Sweep(ctx, 100)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if report.Processed != 2 || report.Succeeded != 2 || report.Failed != 0 {
		t.Errorf("unexpected report: %+v", report)
	}
	if dlq.Len() != 0 {
		t.Errorf("expected the dlq drained, got %d", dlq.Len())
	}
	if live.Len() != 2 {
		t.Fatalf("expected 2 republished events, got %d", live.Len())
	}

	deliveries, _ := live.Pull(ctx, 2, 0)
	for _, delivery := range deliveries {
		if got := delivery.Attributes[stream.AttrRetryCount]; got != "0" {
			t.Errorf("expected retryCount reset to 0, got %q", got)
		}
		if got := delivery.Attributes[stream.AttrRecovered]; got != "true" {
			t.Errorf("expected the recovered marker, got %q", got)
		}
		// The dead-letter envelope must be stripped
		var event stream.SessionEvent
		if err := json.Unmarshal(delivery.Data, &event); err != nil {
			t.Fatalf("failed to decode republished event: %v", err)
		}
		if event.SessionID == "" {
			t.Error("expected a bare session event")
		}
	}

	if entries := auditor.ByAction(audit.ActionDLQRecovered); len(entries) != 2 {
		t.Errorf("expected 2 recovery audit entries, got %d", len(entries))
	}
}

func TestRecoverer_SweepKeepsUndecodableParked(t *testing.T) {
	live := queue.NewInMemoryQueue()
	dlq := queue.NewInMemoryQueue()
	recoverer := stream.NewRecoverer(dlq, live, audit.NewInMemoryRecorder(), zerolog.Nop())
	ctx := context.Background()

	if _, err := dlq.Publish(ctx, []byte("{not json"), nil); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	report, err := recoverer.Sweep(ctx, 100)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if report.Failed != 1 || len(report.Errors) != 1 {
		t.Errorf("unexpected report: %+v", report)
	}
	if dlq.Len() != 1 {
		t.Errorf("expected the message to stay parked, got %d", dlq.Len())
	}
	if live.Len() != 0 {
		t.Errorf("expected nothing republished, got %d", live.Len())
	}
}

func TestRecoverer_SweepKeepsBodylessEventParked(t *testing.T) {
	live := queue.NewInMemoryQueue()
	dlq := queue.NewInMemoryQueue()
	recoverer := stream.NewRecoverer(dlq, live, audit.NewInMemoryRecorder(), zerolog.Nop())
	ctx := context.Background()

	// A poison message parked by the consumer: valid envelope, no event
	wrapped := stream.DLQEvent{
		Error:    "undecodable session event",
		FailedAt: time.Date(2026, 8, 20, 11, 0, 0, 0, time.UTC),
		RawData:  []byte("{not json"),
	}
	data, _ := json.Marshal(wrapped)
	if _, err := dlq.Publish(ctx, data, nil); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	report, err := recoverer.Sweep(ctx, 100)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if report.Failed != 1 {
		t.Errorf("unexpected report: %+v", report)
	}
	if dlq.Len() != 1 {
		t.Errorf("expected the message to stay parked, got %d", dlq.Len())
	}
	if live.Len() != 0 {
		t.Errorf("expected no empty event republished, got %d", live.Len())
	}
}

func TestRecoverer_RecoverSessionIsTargeted(t *testing.T) {
	live := queue.NewInMemoryQueue()
	dlq := queue.NewInMemoryQueue()
	recoverer := stream.NewRecoverer(dlq, live, audit.NewInMemoryRecorder(), zerolog.Nop())
	ctx := context.Background()

	parkEvent(t, dlq, "ses_1")
	parkEvent(t, dlq, "ses_2")
	parkEvent(t, dlq, "ses_3")

	report, err := recoverer.RecoverSession(ctx, "ses_2", 100)
	if err != nil {
		t.Fatalf("targeted recovery failed: %v", err)
	}
	if report.Processed != 1 || report.Succeeded != 1 {
		t.Errorf("unexpected report: %+v", report)
	}
	if live.Len() != 1 {
		t.Fatalf("expected only the matching event republished, got %d", live.Len())
	}
	if dlq.Len() != 2 {
		t.Errorf("expected the rest to stay parked, got %d", dlq.Len())
	}

	deliveries, _ := live.Pull(ctx, 1, 0)
	if got := deliveries[0].Attributes[stream.AttrSessionID]; got != "ses_2" {
		t.Errorf("expected ses_2 republished, got %s", got)
	}
}
