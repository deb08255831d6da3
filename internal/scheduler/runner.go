package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Handler executes one job attempt. The payload is the body passed to
// Schedule. Handlers must tolerate redelivery of already-completed work.
type Handler func(ctx context.Context, payload json.RawMessage) Result

// Runner polls the job store and dispatches due jobs to registered handlers.
type Runner struct {
	store        Store
	handlers     map[string]Handler
	pollInterval time.Duration
	batchSize    int
	logger       zerolog.Logger
	now          func() time.Time
}

func NewRunner(store Store, logger zerolog.Logger) *Runner {
	return &Runner{
		store:        store,
		handlers:     make(map[string]Handler),
		pollInterval: 5 * time.Second,
		batchSize:    20,
		logger:       logger.With().Str("component", "scheduler").Logger(),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Register binds a handler to a job kind. Later registrations for the
// same kind replace earlier ones.
func (r *Runner) Register(kind string, handler Handler) {
	r.handlers[kind] = handler
}

// SetNow overrides the clock for time-travel tests.
func (r *Runner) SetNow(now func() time.Time) {
	r.now = now
}

// Run polls until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.Tick(ctx); err != nil {
				r.logger.Error().Err(err).Msg("scheduler tick failed")
			}
		}
	}
}

// Tick claims and executes one batch of due jobs.
func (r *Runner) Tick(ctx context.Context) error {
	jobs, err := r.store.ClaimDue(ctx, r.now(), r.batchSize)
	if err != nil {
		return fmt.Errorf("failed to claim due jobs: %w", err)
	}

	for _, job := range jobs {
		r.execute(ctx, job)
	}

	return nil
}

func (r *Runner) execute(ctx context.Context, job Job) {
	logger := r.logger.With().
		Str("job_id", job.ID).
		Str("kind", job.Kind).
		Int("attempt", job.Attempt).
		Logger()

	handler, ok := r.handlers[job.Kind]
	if !ok {
		logger.Error().Msg("no handler registered for job kind")
		r.finish(ctx, job, ResultPermanent(fmt.Errorf("no handler for kind %q", job.Kind)), logger)
		return
	}

	attemptCtx := ctx
	if job.Policy.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, job.Policy.Timeout)
		defer cancel()
	}

	result := handler(attemptCtx, job.Payload)
	r.finish(ctx, job, result, logger)
}

func (r *Runner) finish(ctx context.Context, job Job, result Result, logger zerolog.Logger) {
	switch result.Code {
	case Ok:
		if err := r.store.MarkSucceeded(ctx, job.ID); err != nil {
			logger.Error().Err(err).Msg("failed to mark job succeeded")
			return
		}
		logger.Info().Msg("job succeeded")

	case Retryable:
		if job.Attempt >= job.Policy.MaxAttempts {
			r.fail(ctx, job, result.Err, logger)
			return
		}
		delay := NextBackoff(job.Policy, job.Attempt)
		runAt := r.now().Add(delay)
		if err := r.store.Reschedule(ctx, job.ID, runAt, job.Attempt, errString(result.Err)); err != nil {
			logger.Error().Err(err).Msg("failed to reschedule job")
			return
		}
		logger.Warn().Err(result.Err).Dur("delay", delay).Msg("job attempt failed, retrying")

	case Permanent:
		r.fail(ctx, job, result.Err, logger)
	}
}

func (r *Runner) fail(ctx context.Context, job Job, jobErr error, logger zerolog.Logger) {
	if err := r.store.MarkFailed(ctx, job.ID, errString(jobErr)); err != nil {
		logger.Error().Err(err).Msg("failed to mark job failed")
		return
	}
	logger.Error().Err(jobErr).Msg("job failed permanently")
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
