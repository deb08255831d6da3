package export

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository persists export requests to PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

var _ Repository = (*PostgresRepository)(nil)

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Create inserts the request only when the user has no non-terminal
// request. The guard and the insert run as one statement so concurrent
// double-submissions cannot both pass the check.
func (r *PostgresRepository) Create(ctx context.Context, req Request) error {
	scope, err := json.Marshal(req.Scope)
	if err != nil {
		return fmt.Errorf("failed to encode scope: %w", err)
	}

	query := `
		INSERT INTO export_requests (id, user_id, format, scope, status, requested_at, estimated_completion, updated_at)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8
		WHERE NOT EXISTS (
			SELECT 1 FROM export_requests
			WHERE user_id = $2 AND status IN ($9, $10)
		)
	`

	tag, err := r.pool.Exec(ctx, query,
		req.ID,
		req.UserID,
		req.Format,
		scope,
		req.Status,
		req.RequestedAt.UTC(),
		req.EstimatedCompletion.UTC(),
		req.UpdatedAt.UTC(),
		StatusPending,
		StatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("failed to insert export request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrActiveRequestExists
	}

	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, requestID string) (*Request, error) {
	query := selectColumns + ` WHERE id = $1`

	req, err := scanRequest(r.pool.QueryRow(ctx, query, requestID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrRequestNotFound
		}
		return nil, err
	}

	return req, nil
}

func (r *PostgresRepository) ListByUser(ctx context.Context, userID string, limit int) ([]Request, error) {
	query := selectColumns + ` WHERE user_id = $1 ORDER BY requested_at DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list export requests: %w", err)
	}
	defer rows.Close()

	var requests []Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *req)
	}

	return requests, rows.Err()
}

func (r *PostgresRepository) ClaimProcessing(ctx context.Context, requestID string) (bool, error) {
	query := `
		UPDATE export_requests
		SET status = $1, error = NULL, updated_at = $2
		WHERE id = $3 AND status IN ($4, $5)
	`

	tag, err := r.pool.Exec(ctx, query, StatusProcessing, time.Now().UTC(), requestID, StatusPending, StatusFailed)
	if err != nil {
		return false, fmt.Errorf("failed to claim export request: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	// Distinguish "already completed" from "unknown request".
	if _, err := r.Get(ctx, requestID); err != nil {
		return false, err
	}

	return false, nil
}

func (r *PostgresRepository) Complete(ctx context.Context, requestID string, result Completion) error {
	query := `
		UPDATE export_requests
		SET status = $1, download_ref = $2, expires_at = $3, record_count = $4, size_bytes = $5, error = NULL, updated_at = $6
		WHERE id = $7 AND status = $8
	`

	tag, err := r.pool.Exec(ctx, query,
		StatusCompleted,
		result.DownloadRef,
		result.ExpiresAt.UTC(),
		result.RecordCount,
		result.SizeBytes,
		time.Now().UTC(),
		requestID,
		StatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("failed to complete export request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidTransition
	}

	return nil
}

func (r *PostgresRepository) Fail(ctx context.Context, requestID string, message string) error {
	query := `
		UPDATE export_requests
		SET status = $1, error = $2, updated_at = $3
		WHERE id = $4 AND status = $5
	`

	tag, err := r.pool.Exec(ctx, query, StatusFailed, message, time.Now().UTC(), requestID, StatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to fail export request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidTransition
	}

	return nil
}

const selectColumns = `
	SELECT id, user_id, format, scope, status, requested_at, estimated_completion, download_ref, expires_at, record_count, size_bytes, error, updated_at
	FROM export_requests
`

func scanRequest(row pgx.Row) (*Request, error) {
	var req Request
	var scope []byte

	err := row.Scan(
		&req.ID,
		&req.UserID,
		&req.Format,
		&scope,
		&req.Status,
		&req.RequestedAt,
		&req.EstimatedCompletion,
		&req.DownloadRef,
		&req.ExpiresAt,
		&req.RecordCount,
		&req.SizeBytes,
		&req.Error,
		&req.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, pgx.ErrNoRows
		}
		return nil, fmt.Errorf("failed to scan export request: %w", err)
	}

	if err := json.Unmarshal(scope, &req.Scope); err != nil {
		return nil, fmt.Errorf("failed to decode scope: %w", err)
	}

	return &req, nil
}
