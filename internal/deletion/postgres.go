package deletion

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository persists deletion requests to PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

var _ Repository = (*PostgresRepository)(nil)

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Create inserts the request only when the user has no active request.
// The guard and the insert run as one statement so concurrent
// double-submissions cannot both pass the check. Request IDs repeat
// within a day bucket, so a re-request that collides with an earlier
// record that day is rejected the same way.
func (r *PostgresRepository) Create(ctx context.Context, req Request) error {
	query := `
		INSERT INTO deletion_requests (id, user_id, type, scope, status, reason, requested_at, scheduled_at, can_recover, recover_deadline, updated_at)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		WHERE NOT EXISTS (
			SELECT 1 FROM deletion_requests
			WHERE user_id = $2 AND status IN ($12, $13, $14)
		)
		ON CONFLICT (id) DO NOTHING
	`

	tag, err := r.pool.Exec(ctx, query,
		req.ID,
		req.UserID,
		req.Type,
		req.Scope,
		req.Status,
		req.Reason,
		req.RequestedAt.UTC(),
		req.ScheduledAt.UTC(),
		req.CanRecover,
		req.RecoverDeadline,
		req.UpdatedAt.UTC(),
		StatusPending,
		StatusScheduled,
		StatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("failed to insert deletion request: %w", err)
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
		return nil, fmt.Errorf("failed to list deletion requests: %w", err)
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

func (r *PostgresRepository) MarkScheduled(ctx context.Context, requestID string) error {
	return r.transition(ctx, requestID, StatusScheduled, []string{StatusPending})
}

func (r *PostgresRepository) Cancel(ctx context.Context, requestID string) error {
	return r.transition(ctx, requestID, StatusCancelled, []string{StatusPending, StatusScheduled})
}

func (r *PostgresRepository) transition(ctx context.Context, requestID, to string, from []string) error {
	query := `
		UPDATE deletion_requests
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = ANY($4)
	`

	tag, err := r.pool.Exec(ctx, query, to, time.Now().UTC(), requestID, from)
	if err != nil {
		return fmt.Errorf("failed to update deletion request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := r.Get(ctx, requestID); getErr != nil {
			return getErr
		}
		return ErrInvalidTransition
	}

	return nil
}

func (r *PostgresRepository) ClaimProcessing(ctx context.Context, requestID string) (bool, error) {
	query := `
		UPDATE deletion_requests
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = ANY($4)
	`

	tag, err := r.pool.Exec(ctx, query, StatusProcessing, time.Now().UTC(), requestID, []string{StatusScheduled, StatusFailed})
	if err != nil {
		return false, fmt.Errorf("failed to claim deletion request: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	if _, err := r.Get(ctx, requestID); err != nil {
		return false, err
	}

	return false, nil
}

func (r *PostgresRepository) Complete(ctx context.Context, requestID string, completedAt time.Time) error {
	query := `
		UPDATE deletion_requests
		SET status = $1, completed_at = $2, error = NULL, updated_at = $3
		WHERE id = $4 AND status = $5
	`

	tag, err := r.pool.Exec(ctx, query, StatusCompleted, completedAt.UTC(), time.Now().UTC(), requestID, StatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to complete deletion request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidTransition
	}

	return nil
}

func (r *PostgresRepository) Fail(ctx context.Context, requestID string, message string) error {
	query := `
		UPDATE deletion_requests
		SET status = $1, error = $2, updated_at = $3
		WHERE id = $4 AND status = $5
	`

	tag, err := r.pool.Exec(ctx, query, StatusFailed, message, time.Now().UTC(), requestID, StatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to fail deletion request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidTransition
	}

	return nil
}

func (r *PostgresRepository) SaveRecoveryCode(ctx context.Context, code RecoveryCode) error {
	query := `
		INSERT INTO deletion_recovery_codes (request_id, code_hash, used, created_at)
		VALUES ($1, $2, $3, $4)
	`

	_, err := r.pool.Exec(ctx, query, code.RequestID, code.CodeHash, code.Used, code.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert recovery code: %w", err)
	}

	return nil
}

func (r *PostgresRepository) ConsumeRecoveryCode(ctx context.Context, requestID, codeHash string) error {
	query := `
		UPDATE deletion_recovery_codes
		SET used = TRUE
		WHERE request_id = $1 AND code_hash = $2 AND used = FALSE
	`

	tag, err := r.pool.Exec(ctx, query, requestID, codeHash)
	if err != nil {
		return fmt.Errorf("failed to consume recovery code: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRecoveryCodeInvalid
	}

	return nil
}

const selectColumns = `
	SELECT id, user_id, type, scope, status, reason, requested_at, scheduled_at, can_recover, recover_deadline, completed_at, error, updated_at
	FROM deletion_requests
`

func scanRequest(row pgx.Row) (*Request, error) {
	var req Request

	err := row.Scan(
		&req.ID,
		&req.UserID,
		&req.Type,
		&req.Scope,
		&req.Status,
		&req.Reason,
		&req.RequestedAt,
		&req.ScheduledAt,
		&req.CanRecover,
		&req.RecoverDeadline,
		&req.CompletedAt,
		&req.Error,
		&req.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, pgx.ErrNoRows
		}
		return nil, fmt.Errorf("failed to scan deletion request: %w", err)
	}

	return &req, nil
}
