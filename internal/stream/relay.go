package stream

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/pulsefit/pulsefit/internal/userdata"
)

// Relay publishes completed training sessions onto the analytics stream.
// It polls the session store from a moving checkpoint. The checkpoint is
// kept in memory and rewound on restart, so a session near the boundary
// may be published more than once; the consumer's upsert absorbs that.
type Relay struct {
	users      userdata.Store
	publisher  *Publisher
	interval   time.Duration
	batchSize  int
	checkpoint time.Time
	logger     zerolog.Logger
	now        func() time.Time
}

func NewRelay(users userdata.Store, publisher *Publisher, logger zerolog.Logger) *Relay {
	now := func() time.Time { return time.Now().UTC() }
	return &Relay{
		users:      users,
		publisher:  publisher,
		interval:   30 * time.Second,
		batchSize:  200,
		checkpoint: now().Add(-time.Hour),
		logger:     logger.With().Str("component", "stream-relay").Logger(),
		now:        now,
	}
}

// SetCheckpoint overrides the starting checkpoint for time-travel tests.
func (r *Relay) SetCheckpoint(t time.Time) {
	r.checkpoint = t
}

// Run polls until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.Tick(ctx); err != nil {
				r.logger.Error().Err(err).Msg("relay tick failed")
			}
		}
	}
}

// Tick publishes one batch of sessions completed since the checkpoint.
// The checkpoint advances past a session only once its event landed on
// the live stream or was parked on the dead-letter queue; when both
// fail the batch stops and the next tick retries from the same
// checkpoint, so nothing is skipped.
func (r *Relay) Tick(ctx context.Context) error {
	sessions, err := r.users.ListCompletedSessions(ctx, r.checkpoint, r.batchSize)
	if err != nil {
		return err
	}

	for _, session := range sessions {
		event := SessionEvent{
			UserID:    session.UserID,
			SessionID: session.ID,
			Data: SessionData{
				ExerciseID:      session.ExerciseID,
				Segment:         segmentFor(session),
				DurationSeconds: session.DurationSeconds,
				Reps:            session.Reps,
				CaloriesKcal:    session.CaloriesKcal,
				CompletedAt:     *session.CompletedAt,
			},
			Timestamp: r.now(),
		}

		if _, err := r.publisher.PublishSessionCompleted(ctx, event); err != nil {
			return fmt.Errorf("failed to publish session %s: %w", session.ID, err)
		}
		r.checkpoint = *session.CompletedAt
	}

	return nil
}

// segmentFor buckets a session into the aggregation segment by duration.
func segmentFor(session userdata.TrainingSession) string {
	switch {
	case session.DurationSeconds < 10*60:
		return "short"
	case session.DurationSeconds < 30*60:
		return "medium"
	default:
		return "long"
	}
}
