package analytics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

// Aggregator recomputes daily aggregate rows from raw session stats.
// Each run deletes the target date's partition and re-inserts it, so
// reruns and backfills are idempotent.
type Aggregator struct {
	store  Store
	logger zerolog.Logger
	now    func() time.Time
}

func NewAggregator(store Store, logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		store:  store,
		logger: logger.With().Str("component", "aggregator").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// AggregateDay recomputes aggregates for the given calendar day and
// returns the number of aggregate rows written.
func (a *Aggregator) AggregateDay(ctx context.Context, statDate time.Time) (int, error) {
	day := StatDate(statDate)

	stats, err := a.store.ListSessionStatsByDate(ctx, day)
	if err != nil {
		return 0, fmt.Errorf("failed to load session stats: %w", err)
	}

	type key struct {
		exerciseID string
		segment    string
	}
	groups := make(map[key][]SessionStat)
	for _, stat := range stats {
		k := key{exerciseID: stat.ExerciseID, segment: stat.Segment}
		groups[k] = append(groups[k], stat)
	}

	computedAt := a.now()
	aggregates := make([]AggregatedStat, 0, len(groups))
	for k, group := range groups {
		agg := AggregatedStat{
			StatDate:   day,
			ExerciseID: k.exerciseID,
			Segment:    k.segment,
			ComputedAt: computedAt,
		}
		users := make(map[string]struct{})
		for _, stat := range group {
			agg.SessionCount++
			agg.TotalDuration += stat.DurationSeconds
			agg.TotalReps += stat.Reps
			agg.TotalCalories += stat.CaloriesKcal
			users[stat.UserID] = struct{}{}
		}
		agg.UniqueUsers = len(users)
		aggregates = append(aggregates, agg)
	}
	sort.Slice(aggregates, func(i, j int) bool {
		if aggregates[i].ExerciseID != aggregates[j].ExerciseID {
			return aggregates[i].ExerciseID < aggregates[j].ExerciseID
		}
		return aggregates[i].Segment < aggregates[j].Segment
	})

	if err := a.store.ReplaceAggregates(ctx, day, aggregates); err != nil {
		return 0, fmt.Errorf("failed to replace aggregates: %w", err)
	}

	a.logger.Info().
		Time("stat_date", day).
		Int("sessions", len(stats)).
		Int("aggregates", len(aggregates)).
		Msg("daily aggregation completed")

	return len(aggregates), nil
}
