package stream_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/pulsefit/pulsefit/internal/queue"
	"github.com/pulsefit/pulsefit/internal/stream"
	"github.com/pulsefit/pulsefit/internal/userdata"
)

func completedSession(id string, completedAt time.Time, durationSeconds int) userdata.TrainingSession {
	return userdata.TrainingSession{
		ID:              id,
		UserID:          "user-1",
		ExerciseID:      "squat",
		Status:          "completed",
		StartedAt:       completedAt.Add(-time.Duration(durationSeconds) * time.Second),
		CompletedAt:     &completedAt,
		DurationSeconds: durationSeconds,
		Reps:            45,
		CaloriesKcal:    210.5,
	}
}

func TestRelay_PublishesCompletedSessionsSinceCheckpoint(t *testing.T) {
	users := userdata.NewInMemoryStore()
	live := queue.NewInMemoryQueue()
	dlq := queue.NewInMemoryQueue()
	relay := stream.NewRelay(users, stream.NewPublisher(live, dlq, zerolog.Nop()), zerolog.Nop())
	ctx := context.Background()

	base := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	users.AddSession(completedSession("ses_old", base.Add(-2*time.Hour), 600))
	users.AddSession(completedSession("ses_1", base.Add(5*time.Minute), 300))
	users.AddSession(completedSession("ses_2", base.Add(10*time.Minute), 1200))
	users.AddSession(userdata.TrainingSession{
		ID: "ses_running", UserID: "user-1", ExerciseID: "squat",
		Status: "in_progress", StartedAt: base.Add(15 * time.Minute),
	})

	relay.SetCheckpoint(base)
	if err := relay.Tick(ctx); err != nil {
		t.Fatalf("tick failed: %v", err)
	}

	if live.Len() != 2 {
		t.Fatalf("expected 2 published events, got %d", live.Len())
	}
	deliveries, _ := live.Pull(ctx, 2, 0)
	var first stream.SessionEvent
	if err := json.Unmarshal(deliveries[0].Data, &first); err != nil {
		t.Fatalf("failed to decode event: %v", err)
	}
	if first.SessionID != "ses_1" {
		t.Errorf("expected ses_1 first, got %s", first.SessionID)
	}
	if first.Data.Segment != "short" {
		t.Errorf("expected a 5m session bucketed as short, got %s", first.Data.Segment)
	}
	var second stream.SessionEvent
	if err := json.Unmarshal(deliveries[1].Data, &second); err != nil {
		t.Fatalf("failed to decode event: %v", err)
	}
	if second.Data.Segment != "medium" {
		t.Errorf("expected a 20m session bucketed as medium, got %s", second.Data.Segment)
	}

	// The checkpoint advanced, so a second tick republishes nothing new
	if err := relay.Tick(ctx); err != nil {
		t.Fatalf("second tick failed: %v", err)
	}
	if live.Len() != 0 {
		t.Errorf("expected no republish after the checkpoint advanced, got %d", live.Len())
	}
}

func TestRelay_RetainsCheckpointWhenPublishAndParkFail(t *testing.T) {
	users := userdata.NewInMemoryStore()
	live := queue.NewInMemoryQueue()
	dlq := queue.NewInMemoryQueue()
	relay := stream.NewRelay(users, stream.NewPublisher(live, dlq, zerolog.Nop()), zerolog.Nop())
	ctx := context.Background()

	base := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	users.AddSession(completedSession("ses_1", base.Add(time.Minute), 600))
	relay.SetCheckpoint(base)

	// Both backends down: the tick must fail without moving past the session
	live.FailPublishes(errors.New("unavailable"))
	dlq.FailPublishes(errors.New("unavailable"))
	if err := relay.Tick(ctx); err == nil {
		t.Fatal("expected the tick to fail while both backends are down")
	}
	if live.Len() != 0 || dlq.Len() != 0 {
		t.Fatalf("expected nothing published, got live=%d dlq=%d", live.Len(), dlq.Len())
	}

	// Backends recover; the next tick retries from the same checkpoint
	live.FailPublishes(nil)
	dlq.FailPublishes(nil)
	if err := relay.Tick(ctx); err != nil {
		t.Fatalf("tick after recovery failed: %v", err)
	}
	if live.Len() != 1 {
		t.Fatalf("expected the session republished after recovery, got %d", live.Len())
	}
	deliveries, _ := live.Pull(ctx, 1, 0)
	var event stream.SessionEvent
	if err := json.Unmarshal(deliveries[0].Data, &event); err != nil {
		t.Fatalf("failed to decode event: %v", err)
	}
	if event.SessionID != "ses_1" {
		t.Errorf("expected ses_1, got %s", event.SessionID)
	}
}

func TestRelay_AdvancesPastParkedSession(t *testing.T) {
	users := userdata.NewInMemoryStore()
	live := queue.NewInMemoryQueue()
	dlq := queue.NewInMemoryQueue()
	relay := stream.NewRelay(users, stream.NewPublisher(live, dlq, zerolog.Nop()), zerolog.Nop())
	ctx := context.Background()

	base := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	users.AddSession(completedSession("ses_1", base.Add(time.Minute), 600))
	relay.SetCheckpoint(base)

	// Live stream down, DLQ up: the event is parked and the batch moves on
	live.FailPublishes(errors.New("unavailable"))
	if err := relay.Tick(ctx); err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	if dlq.Len() != 1 {
		t.Fatalf("expected the event parked on the dlq, got %d", dlq.Len())
	}
	deliveries, _ := dlq.Pull(ctx, 1, 0)
	var parked stream.DLQEvent
	if err := json.Unmarshal(deliveries[0].Data, &parked); err != nil {
		t.Fatalf("failed to decode dlq event: %v", err)
	}
	if parked.SessionID != "ses_1" {
		t.Errorf("expected ses_1 parked, got %s", parked.SessionID)
	}
	if parked.Error == "" {
		t.Error("expected the publish failure to be recorded")
	}

	// The checkpoint advanced past the parked session
	live.FailPublishes(nil)
	if err := relay.Tick(ctx); err != nil {
		t.Fatalf("second tick failed: %v", err)
	}
	if live.Len() != 0 {
		t.Errorf("expected no republish of a parked session, got %d", live.Len())
	}
}

func TestRelay_SegmentBuckets(t *testing.T) {
	users := userdata.NewInMemoryStore()
	live := queue.NewInMemoryQueue()
	relay := stream.NewRelay(users, stream.NewPublisher(live, queue.NewInMemoryQueue(), zerolog.Nop()), zerolog.Nop())
	ctx := context.Background()

	base := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	users.AddSession(completedSession("ses_short", base.Add(time.Minute), 599))
	users.AddSession(completedSession("ses_medium", base.Add(2*time.Minute), 600))
	users.AddSession(completedSession("ses_long", base.Add(3*time.Minute), 1800))

	relay.SetCheckpoint(base)
	if err := relay.Tick(ctx); err != nil {
		t.Fatalf("tick failed: %v", err)
	}

	want := map[string]string{
		"ses_short":  "short",
		"ses_medium": "medium",
		"ses_long":   "long",
	}
	deliveries, _ := live.Pull(ctx, 3, 0)
	for _, delivery := range deliveries {
		var event stream.SessionEvent
		if err := json.Unmarshal(delivery.Data, &event); err != nil {
			t.Fatalf("failed to decode event: %v", err)
		}
		if got := event.Data.Segment; got != want[event.SessionID] {
			t.Errorf("%s: expected segment %s, got %s", event.SessionID, want[event.SessionID], got)
		}
	}
}
