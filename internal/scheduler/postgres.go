package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists scheduled jobs to PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Schedule(ctx context.Context, kind string, payload interface{}, runAt time.Time, policy RetryPolicy) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode job payload: %w", err)
	}

	jobID := "job_" + uuid.NewString()
	now := time.Now().UTC()

	query := `
		INSERT INTO scheduled_jobs (id, kind, payload, status, attempt, max_attempts, min_backoff_ms, max_backoff_ms, timeout_ms, run_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, $5, $6, $7, $8, $9, $10, $10)
	`

	_, err = s.pool.Exec(ctx, query,
		jobID,
		kind,
		body,
		StatusPending,
		policy.MaxAttempts,
		policy.MinBackoff.Milliseconds(),
		policy.MaxBackoff.Milliseconds(),
		policy.Timeout.Milliseconds(),
		runAt.UTC(),
		now,
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert job: %w", err)
	}

	return jobID, nil
}

// ClaimDue uses FOR UPDATE SKIP LOCKED so concurrent runners never claim
// the same job twice.
func (s *PostgresStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]Job, error) {
	query := `
		UPDATE scheduled_jobs
		SET status = $1, attempt = attempt + 1, updated_at = $2
		WHERE id IN (
			SELECT id FROM scheduled_jobs
			WHERE status = $3 AND run_at <= $2
			ORDER BY run_at
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, kind, payload, status, attempt, max_attempts, min_backoff_ms, max_backoff_ms, timeout_ms, run_at, last_error, created_at, updated_at
	`

	rows, err := s.pool.Query(ctx, query, StatusRunning, now.UTC(), StatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim due jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}

	return jobs, rows.Err()
}

func (s *PostgresStore) MarkSucceeded(ctx context.Context, jobID string) error {
	return s.setTerminal(ctx, jobID, StatusSucceeded, "")
}

func (s *PostgresStore) MarkFailed(ctx context.Context, jobID string, jobErr string) error {
	return s.setTerminal(ctx, jobID, StatusFailed, jobErr)
}

func (s *PostgresStore) setTerminal(ctx context.Context, jobID, status, jobErr string) error {
	query := `
		UPDATE scheduled_jobs
		SET status = $1, last_error = $2, updated_at = $3
		WHERE id = $4
	`

	tag, err := s.pool.Exec(ctx, query, status, jobErr, time.Now().UTC(), jobID)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}

	return nil
}

func (s *PostgresStore) Reschedule(ctx context.Context, jobID string, runAt time.Time, attempt int, jobErr string) error {
	query := `
		UPDATE scheduled_jobs
		SET status = $1, run_at = $2, attempt = $3, last_error = $4, updated_at = $5
		WHERE id = $6
	`

	tag, err := s.pool.Exec(ctx, query, StatusPending, runAt.UTC(), attempt, jobErr, time.Now().UTC(), jobID)
	if err != nil {
		return fmt.Errorf("failed to reschedule job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}

	return nil
}

func (s *PostgresStore) Get(ctx context.Context, jobID string) (*Job, error) {
	query := `
		SELECT id, kind, payload, status, attempt, max_attempts, min_backoff_ms, max_backoff_ms, timeout_ms, run_at, last_error, created_at, updated_at
		FROM scheduled_jobs
		WHERE id = $1
	`

	row := s.pool.QueryRow(ctx, query, jobID)
	job, err := scanJob(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	return job, nil
}

func scanJob(row pgx.Row) (*Job, error) {
	var job Job
	var minBackoffMs, maxBackoffMs, timeoutMs int64
	err := row.Scan(
		&job.ID,
		&job.Kind,
		&job.Payload,
		&job.Status,
		&job.Attempt,
		&job.Policy.MaxAttempts,
		&minBackoffMs,
		&maxBackoffMs,
		&timeoutMs,
		&job.RunAt,
		&job.LastError,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, pgx.ErrNoRows
		}
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}

	job.Policy.MinBackoff = time.Duration(minBackoffMs) * time.Millisecond
	job.Policy.MaxBackoff = time.Duration(maxBackoffMs) * time.Millisecond
	job.Policy.Timeout = time.Duration(timeoutMs) * time.Millisecond
	return &job, nil
}
