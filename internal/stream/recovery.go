package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/pulsefit/pulsefit/internal/audit"
	"github.com/pulsefit/pulsefit/internal/queue"
)

// Recoverer moves parked dead-letter messages back onto the live queue.
// It is the only component that mutates the dead-letter queue beyond the
// consumer's initial move.
type Recoverer struct {
	dlq     queue.Puller
	live    queue.Publisher
	auditor audit.Recorder
	logger  zerolog.Logger

	// pullWait bounds how long a sweep waits for the first parked message.
	pullWait time.Duration
}

func NewRecoverer(dlq queue.Puller, live queue.Publisher, auditor audit.Recorder, logger zerolog.Logger) *Recoverer {
	return &Recoverer{
		dlq:      dlq,
		live:     live,
		auditor:  auditor,
		logger:   logger.With().Str("component", "dlq-recovery").Logger(),
		pullWait: 10 * time.Second,
	}
}

// Sweep pulls up to max parked messages and republishes each onto the
// live queue with retryCount reset to 0 and a recovered marker. A parked
// message leaves the dead-letter queue only after its republish
// succeeded; failures are nacked back.
func (r *Recoverer) Sweep(ctx context.Context, max int) (*RecoveryReport, error) {
	deliveries, err := r.dlq.Pull(ctx, max, r.pullWait)
	if err != nil {
		return nil, fmt.Errorf("failed to pull from dlq: %w", err)
	}

	report := &RecoveryReport{Errors: []string{}}
	for _, delivery := range deliveries {
		report.Processed++
		if err := r.recover(ctx, delivery); err != nil {
			report.Failed++
			report.Errors = append(report.Errors, err.Error())
			delivery.Nack()
			continue
		}
		report.Succeeded++
		delivery.Ack()
	}

	r.logger.Info().
		Int("processed", report.Processed).
		Int("succeeded", report.Succeeded).
		Int("failed", report.Failed).
		Msg("dlq sweep finished")

	return report, nil
}

// RecoverSession pulls up to max parked messages, republishes only the
// ones matching sessionID, and returns everything else to the
// dead-letter queue untouched.
func (r *Recoverer) RecoverSession(ctx context.Context, sessionID string, max int) (*RecoveryReport, error) {
	deliveries, err := r.dlq.Pull(ctx, max, r.pullWait)
	if err != nil {
		return nil, fmt.Errorf("failed to pull from dlq: %w", err)
	}

	report := &RecoveryReport{Errors: []string{}}
	for _, delivery := range deliveries {
		if delivery.Attributes[AttrSessionID] != sessionID {
			delivery.Nack()
			continue
		}

		report.Processed++
		if err := r.recover(ctx, delivery); err != nil {
			report.Failed++
			report.Errors = append(report.Errors, err.Error())
			delivery.Nack()
			continue
		}
		report.Succeeded++
		delivery.Ack()
	}

	r.logger.Info().
		Str("session_id", sessionID).
		Int("processed", report.Processed).
		Int("succeeded", report.Succeeded).
		Msg("targeted dlq recovery finished")

	return report, nil
}

// recover strips the dead-letter envelope and republishes the original
// event to the live queue.
func (r *Recoverer) recover(ctx context.Context, delivery *queue.Delivery) error {
	var parked DLQEvent
	if err := json.Unmarshal(delivery.Data, &parked); err != nil {
		return fmt.Errorf("failed to decode dlq event %s: %w", delivery.ID, err)
	}
	if parked.SessionID == "" {
		// Parked because the original body never decoded; republishing
		// an empty event would only poison the stream again.
		return fmt.Errorf("dlq event %s carries no session event", delivery.ID)
	}

	data, err := json.Marshal(parked.SessionEvent)
	if err != nil {
		return fmt.Errorf("failed to encode session event %s: %w", parked.SessionID, err)
	}

	attrs := map[string]string{
		AttrRetryCount:       "0",
		AttrSourceCollection: SourceCollection,
		AttrUserID:           parked.UserID,
		AttrSessionID:        parked.SessionID,
		AttrRecovered:        "true",
	}

	if _, err := r.live.Publish(ctx, data, attrs); err != nil {
		return fmt.Errorf("failed to republish session event %s: %w", parked.SessionID, err)
	}

	r.recordAudit(ctx, parked.SessionID)
	return nil
}

func (r *Recoverer) recordAudit(ctx context.Context, sessionID string) {
	err := r.auditor.Record(ctx, audit.Entry{
		Actor:        "operator",
		Action:       audit.ActionDLQRecovered,
		ResourceType: "session_event",
		ResourceID:   sessionID,
		Success:      true,
	})
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to record audit entry")
	}
}
