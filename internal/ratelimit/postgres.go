package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresLimiter is a Postgres-backed fixed-window limiter.
// The counter row is keyed by (operation, actor, window_start); the upsert
// increments and returns the count in one statement, so the check is atomic
// under concurrent calls.
type PostgresLimiter struct {
	pool    *pgxpool.Pool
	windows map[string]Window
	nowFunc func() time.Time
}

// NewPostgresLimiter creates a Postgres-backed limiter.
func NewPostgresLimiter(pool *pgxpool.Pool, windows map[string]Window) *PostgresLimiter {
	if windows == nil {
		windows = DefaultWindows()
	}
	return &PostgresLimiter{
		pool:    pool,
		windows: windows,
		nowFunc: time.Now,
	}
}

// Check atomically increments the counter for (operation, actor).
func (l *PostgresLimiter) Check(ctx context.Context, operation, actorID string) error {
	window, ok := l.windows[operation]
	if !ok {
		return fmt.Errorf("unknown rate limit operation: %s", operation)
	}

	now := l.nowFunc()
	start := windowStart(now, window.Length)

	query := `
		INSERT INTO rate_limit_counters (operation, actor_id, window_start, expires_at, count)
		VALUES ($1, $2, $3, $4, 1)
		ON CONFLICT (operation, actor_id, window_start)
		DO UPDATE SET count = rate_limit_counters.count + 1
		RETURNING count
	`

	var count int
	err := l.pool.QueryRow(ctx, query, operation, actorID, start, start.Add(window.Length)).Scan(&count)
	if err != nil {
		return fmt.Errorf("increment rate limit counter: %w", err)
	}

	if count > window.Limit {
		return &Error{
			Operation:  operation,
			Limit:      window.Limit,
			RetryAfter: start.Add(window.Length).Sub(now),
		}
	}

	return nil
}

// Ensure PostgresLimiter implements Limiter.
var _ Limiter = (*PostgresLimiter)(nil)
