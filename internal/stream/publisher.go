package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/pulsefit/pulsefit/internal/queue"
	"github.com/pulsefit/pulsefit/internal/resilience"
)

// Publisher emits session events onto the live stream when a session
// completes.
type Publisher struct {
	live    queue.Publisher
	dlq     queue.Publisher
	retrier *resilience.Wrapper[string]
	logger  zerolog.Logger
	now     func() time.Time
}

func NewPublisher(live, dlq queue.Publisher, logger zerolog.Logger) *Publisher {
	return &Publisher{
		live:    live,
		dlq:     dlq,
		retrier: resilience.New[string](resilience.DefaultConfig("stream-publish")),
		logger:  logger.With().Str("component", "stream-publisher").Logger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// PublishSessionCompleted publishes one session event with retryCount 0.
// When the live publish exhausts its retries, the event is parked on the
// dead-letter queue instead of being dropped; a successful park returns
// nil because the event is durable there. An error means the event
// reached neither backend and the caller must not move past it.
func (p *Publisher) PublishSessionCompleted(ctx context.Context, event SessionEvent) (string, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("failed to encode session event: %w", err)
	}

	attrs := map[string]string{
		AttrRetryCount:       "0",
		AttrSourceCollection: SourceCollection,
		AttrUserID:           event.UserID,
		AttrSessionID:        event.SessionID,
	}

	id, err := p.retrier.Do(ctx, func() (string, error) {
		return p.live.Publish(ctx, data, attrs)
	})
	if err != nil {
		p.logger.Warn().Err(err).Str("session_id", event.SessionID).Msg("live publish failed, parking on dlq")
		if dlqErr := p.park(ctx, event, attrs, err); dlqErr != nil {
			return "", fmt.Errorf("failed to publish session event and failed to park it: %w", dlqErr)
		}
		return "", nil
	}

	return id, nil
}

func (p *Publisher) park(ctx context.Context, event SessionEvent, attrs map[string]string, cause error) error {
	wrapped := DLQEvent{
		SessionEvent: event,
		Error:        cause.Error(),
		FailedAt:     p.now(),
	}
	data, err := json.Marshal(wrapped)
	if err != nil {
		return fmt.Errorf("failed to encode dlq event: %w", err)
	}

	_, err = p.dlq.Publish(ctx, data, attrs)
	return err
}

func retryCount(attrs map[string]string) int {
	count, _ := strconv.Atoi(attrs[AttrRetryCount])
	return count
}

func bumpRetryCount(attrs map[string]string) map[string]string {
	out := make(map[string]string, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	count, _ := strconv.Atoi(out[AttrRetryCount])
	out[AttrRetryCount] = strconv.Itoa(count + 1)
	return out
}
