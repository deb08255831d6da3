package analytics_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/pulsefit/pulsefit/internal/analytics"
)

func stat(sessionID, userID, exerciseID, segment string, day time.Time, duration, reps int, calories float64) analytics.SessionStat {
	return analytics.SessionStat{
		SessionID:       sessionID,
		UserID:          userID,
		ExerciseID:      exerciseID,
		Segment:         segment,
		DurationSeconds: duration,
		Reps:            reps,
		CaloriesKcal:    calories,
		StatDate:        day,
		RecordedAt:      day.Add(23 * time.Hour),
	}
}

func TestAggregator_AggregateDay(t *testing.T) {
	store := analytics.NewInMemoryStore()
	aggregator := analytics.NewAggregator(store, zerolog.Nop())
	ctx := context.Background()

	day := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	otherDay := day.AddDate(0, 0, 1)

	for _, s := range []analytics.SessionStat{
		stat("ses_1", "user-1", "squat", "medium", day, 1200, 40, 180),
		stat("ses_2", "user-1", "squat", "medium", day, 1500, 50, 220),
		stat("ses_3", "user-2", "squat", "medium", day, 900, 30, 120),
		stat("ses_4", "user-2", "squat", "long", day, 2400, 80, 400),
		stat("ses_5", "user-3", "plank", "short", day, 300, 3, 40),
		stat("ses_6", "user-1", "squat", "medium", otherDay, 1200, 40, 180),
	} {
		if err := store.UpsertSessionStat(ctx, s); err != nil {
			t.Fatalf("failed to seed stat: %v", err)
		}
	}

	count, err := aggregator.AggregateDay(ctx, day)
	if err != nil {
		t.Fatalf("aggregation failed: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 aggregate rows, got %d", count)
	}

	aggregates, err := store.ListAggregates(ctx, day)
	if err != nil {
		t.Fatalf("failed to list aggregates: %v", err)
	}
	if len(aggregates) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(aggregates))
	}

	// Sorted by exercise then segment: plank/short, squat/long, squat/medium
	squatMedium := aggregates[2]
	if squatMedium.ExerciseID != "squat" || squatMedium.Segment != "medium" {
		t.Fatalf("unexpected row order: %+v", aggregates)
	}
	if squatMedium.SessionCount != 3 {
		t.Errorf("expected 3 squat/medium sessions, got %d", squatMedium.SessionCount)
	}
	if squatMedium.UniqueUsers != 2 {
		t.Errorf("expected 2 unique users, got %d", squatMedium.UniqueUsers)
	}
	if squatMedium.TotalDuration != 3600 {
		t.Errorf("expected total duration 3600, got %d", squatMedium.TotalDuration)
	}
	if squatMedium.TotalReps != 120 {
		t.Errorf("expected total reps 120, got %d", squatMedium.TotalReps)
	}
	if squatMedium.TotalCalories != 520 {
		t.Errorf("expected total calories 520, got %v", squatMedium.TotalCalories)
	}

	// A session from another day never leaks in
	for _, agg := range aggregates {
		if !agg.StatDate.Equal(day) {
			t.Errorf("aggregate for the wrong day: %v", agg.StatDate)
		}
	}
}

func TestAggregator_RerunIsIdempotent(t *testing.T) {
	store := analytics.NewInMemoryStore()
	aggregator := analytics.NewAggregator(store, zerolog.Nop())
	ctx := context.Background()

	day := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	if err := store.UpsertSessionStat(ctx, stat("ses_1", "user-1", "squat", "medium", day, 1200, 40, 180)); err != nil {
		t.Fatalf("failed to seed stat: %v", err)
	}

	if _, err := aggregator.AggregateDay(ctx, day); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	first, _ := store.ListAggregates(ctx, day)

	// A new session lands, then the rerun replaces the partition
	if err := store.UpsertSessionStat(ctx, stat("ses_2", "user-2", "squat", "medium", day, 600, 20, 90)); err != nil {
		t.Fatalf("failed to seed stat: %v", err)
	}
	if _, err := aggregator.AggregateDay(ctx, day); err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	second, _ := store.ListAggregates(ctx, day)

	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("expected 1 row per run, got %d and %d", len(first), len(second))
	}
	if second[0].SessionCount != 2 {
		t.Errorf("expected the rerun to absorb the new session, got count %d", second[0].SessionCount)
	}

	// A third run with unchanged input produces identical rows
	if _, err := aggregator.AggregateDay(ctx, day); err != nil {
		t.Fatalf("third run failed: %v", err)
	}
	third, _ := store.ListAggregates(ctx, day)
	if len(third) != 1 || third[0].SessionCount != second[0].SessionCount || third[0].TotalCalories != second[0].TotalCalories {
		t.Errorf("expected identical rows on rerun, got %+v vs %+v", second, third)
	}
}

func TestStatDate_TruncatesToUTCDay(t *testing.T) {
	in := time.Date(2026, 8, 20, 23, 45, 12, 0, time.FixedZone("CEST", 2*3600))
	got := analytics.StatDate(in)
	want := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("expected %v, got %v", want, got)
	}
	if got.Location() != time.UTC {
		t.Error("expected a UTC stat date")
	}
}
