// Package worker runs the background side of the lifecycle pipeline: the
// scheduled-job runner, the analytics stream consumer, the daily
// aggregation, and the periodic dead-letter sweep.
package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/pulsefit/pulsefit/internal/analytics"
	"github.com/pulsefit/pulsefit/internal/scheduler"
	"github.com/pulsefit/pulsefit/internal/stream"
)

// Config holds the worker's loop settings.
type Config struct {
	// AggregationInterval is how often the daily aggregation recomputes.
	AggregationInterval time.Duration

	// SweepInterval is how often the scheduled dead-letter sweep runs.
	// Zero disables the sweep loop; operators can still trigger sweeps
	// through the admin API.
	SweepInterval time.Duration

	// SweepBatch is the maximum messages one scheduled sweep recovers.
	SweepBatch int
}

// DefaultConfig returns the production loop settings.
func DefaultConfig() Config {
	return Config{
		AggregationInterval: time.Hour,
		SweepInterval:       6 * time.Hour,
		SweepBatch:          100,
	}
}

// Worker ties the background loops together.
type Worker struct {
	cfg        Config
	runner     *scheduler.Runner
	relay      *stream.Relay
	consumer   *stream.Consumer
	aggregator *analytics.Aggregator
	recoverer  *stream.Recoverer
	logger     zerolog.Logger
	now        func() time.Time
}

func New(
	cfg Config,
	runner *scheduler.Runner,
	relay *stream.Relay,
	consumer *stream.Consumer,
	aggregator *analytics.Aggregator,
	recoverer *stream.Recoverer,
	logger zerolog.Logger,
) *Worker {
	return &Worker{
		cfg:        cfg,
		runner:     runner,
		relay:      relay,
		consumer:   consumer,
		aggregator: aggregator,
		recoverer:  recoverer,
		logger:     logger.With().Str("component", "worker").Logger(),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Run starts all loops and blocks until ctx is cancelled or one loop
// fails.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		w.logger.Info().Msg("starting scheduled-job runner")
		return w.runner.Run(ctx)
	})

	g.Go(func() error {
		w.logger.Info().Msg("starting session relay")
		return w.relay.Run(ctx)
	})

	g.Go(func() error {
		w.logger.Info().Msg("starting stream consumer")
		return w.consumer.Run(ctx)
	})

	g.Go(func() error {
		return w.aggregationLoop(ctx)
	})

	if w.cfg.SweepInterval > 0 {
		g.Go(func() error {
			return w.sweepLoop(ctx)
		})
	}

	return g.Wait()
}

// aggregationLoop recomputes today's and yesterday's aggregates on a
// fixed interval. Yesterday is included so events that straddle midnight
// still land in the right partition.
func (w *Worker) aggregationLoop(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.AggregationInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			today := analytics.StatDate(w.now())
			for _, day := range []time.Time{today.AddDate(0, 0, -1), today} {
				if _, err := w.aggregator.AggregateDay(ctx, day); err != nil {
					w.logger.Error().Err(err).Time("stat_date", day).Msg("aggregation failed")
				}
			}
		}
	}
}

func (w *Worker) sweepLoop(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.recoverer.Sweep(ctx, w.cfg.SweepBatch); err != nil {
				w.logger.Error().Err(err).Msg("scheduled dlq sweep failed")
			}
		}
	}
}
