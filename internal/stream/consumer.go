package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/pulsefit/pulsefit/internal/analytics"
	"github.com/pulsefit/pulsefit/internal/queue"
)

// Consumer upserts session events into the analytics store. The upsert
// is keyed by session ID, so redelivering the same event any number of
// times leaves exactly one row.
type Consumer struct {
	source      queue.Receiver
	live        queue.Publisher
	dlq         queue.Publisher
	store       analytics.Store
	maxAttempts int
	logger      zerolog.Logger
	now         func() time.Time
}

func NewConsumer(source queue.Receiver, live, dlq queue.Publisher, store analytics.Store, logger zerolog.Logger) *Consumer {
	return &Consumer{
		source:      source,
		live:        live,
		dlq:         dlq,
		store:       store,
		maxAttempts: 5,
		logger:      logger.With().Str("component", "stream-consumer").Logger(),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Run consumes the live stream until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.source.Receive(ctx, c.Handle)
}

// Handle processes one delivery. It acknowledges only after the upsert
// succeeded. A failed upsert is republished with a bumped retryCount
// attribute and then acknowledged, so the attempt count lives in the
// message itself rather than in transport state the queue may not
// track; once the count reaches the limit the event moves to the
// dead-letter queue instead.
func (c *Consumer) Handle(ctx context.Context, delivery *queue.Delivery) {
	var event SessionEvent
	if err := json.Unmarshal(delivery.Data, &event); err != nil {
		// An unparseable body will never succeed; park it immediately.
		c.logger.Error().Err(err).Str("message_id", delivery.ID).Msg("undecodable session event")
		c.moveToDLQ(ctx, delivery, err)
		return
	}

	if err := c.apply(ctx, event); err != nil {
		attempt := retryCount(delivery.Attributes) + 1
		if attempt >= c.maxAttempts {
			c.logger.Error().Err(err).
				Str("session_id", event.SessionID).
				Int("attempt", attempt).
				Msg("retries exhausted, moving session event to dlq")
			c.moveToDLQ(ctx, delivery, err)
			return
		}
		// Republish-then-ack; if the republish fails the nack keeps the
		// original delivery alive with its count intact.
		if _, pubErr := c.live.Publish(ctx, delivery.Data, bumpRetryCount(delivery.Attributes)); pubErr != nil {
			c.logger.Error().Err(pubErr).Str("session_id", event.SessionID).Msg("failed to republish for retry")
			delivery.Nack()
			return
		}
		c.logger.Warn().Err(err).
			Str("session_id", event.SessionID).
			Int("attempt", attempt).
			Msg("session event upsert failed, republished for retry")
		delivery.Ack()
		return
	}

	delivery.Ack()
}

func (c *Consumer) apply(ctx context.Context, event SessionEvent) error {
	statDate := event.Data.CompletedAt
	if statDate.IsZero() {
		statDate = event.Timestamp
	}

	stat := analytics.SessionStat{
		SessionID:       event.SessionID,
		UserID:          event.UserID,
		ExerciseID:      event.Data.ExerciseID,
		Segment:         event.Data.Segment,
		DurationSeconds: event.Data.DurationSeconds,
		Reps:            event.Data.Reps,
		CaloriesKcal:    event.Data.CaloriesKcal,
		StatDate:        analytics.StatDate(statDate),
		RecordedAt:      c.now(),
	}

	if err := c.store.UpsertSessionStat(ctx, stat); err != nil {
		return fmt.Errorf("failed to upsert session stat: %w", err)
	}

	return nil
}

// moveToDLQ parks the delivery on the dead-letter queue. The live-queue
// ack happens only after the park succeeded; otherwise the message is
// nacked and tried again rather than lost.
func (c *Consumer) moveToDLQ(ctx context.Context, delivery *queue.Delivery, cause error) {
	wrapped := DLQEvent{
		Error:    cause.Error(),
		FailedAt: c.now(),
	}
	if err := json.Unmarshal(delivery.Data, &wrapped.SessionEvent); err != nil {
		// Keep the original bytes so the operator still has something
		// to triage.
		wrapped.RawData = append([]byte(nil), delivery.Data...)
	}
	data, err := json.Marshal(wrapped)
	if err != nil {
		c.logger.Error().Err(err).Str("message_id", delivery.ID).Msg("failed to encode dlq event")
		delivery.Nack()
		return
	}

	if _, err := c.dlq.Publish(ctx, data, bumpRetryCount(delivery.Attributes)); err != nil {
		c.logger.Error().Err(err).Str("message_id", delivery.ID).Msg("failed to publish to dlq")
		delivery.Nack()
		return
	}

	delivery.Ack()
}
