package userdata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a PostgreSQL implementation of Store.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL user data store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// GetProfile retrieves a user's profile.
func (s *PostgresStore) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	query := `
		SELECT
			user_id, display_name, email, locale,
			height_cm, weight_kg, birth_year,
			deletion_scheduled, token_epoch,
			created_at, updated_at
		FROM profiles
		WHERE user_id = $1
	`

	var p Profile
	err := s.pool.QueryRow(ctx, query, userID).Scan(
		&p.UserID,
		&p.DisplayName,
		&p.Email,
		&p.Locale,
		&p.HeightCM,
		&p.WeightKG,
		&p.BirthYear,
		&p.DeletionScheduled,
		&p.TokenEpoch,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}

	return &p, nil
}

// ListSessions retrieves a user's training sessions, newest first.
func (s *PostgresStore) ListSessions(ctx context.Context, userID string, filter SessionFilter) ([]TrainingSession, error) {
	query := `
		SELECT
			id, user_id, exercise_id, status,
			started_at, completed_at,
			duration_seconds, reps, calories_kcal, avg_heart_rate
		FROM training_sessions
		WHERE user_id = $1
		  AND ($2::timestamptz IS NULL OR started_at >= $2)
		  AND ($3::timestamptz IS NULL OR started_at <= $3)
		ORDER BY started_at DESC
	`

	rows, err := s.pool.Query(ctx, query, userID, filter.StartedAfter, filter.StartedBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []TrainingSession
	for rows.Next() {
		var ts TrainingSession
		err := rows.Scan(
			&ts.ID,
			&ts.UserID,
			&ts.ExerciseID,
			&ts.Status,
			&ts.StartedAt,
			&ts.CompletedAt,
			&ts.DurationSeconds,
			&ts.Reps,
			&ts.CaloriesKcal,
			&ts.AvgHeartRate,
		)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, ts)
	}

	return sessions, rows.Err()
}

// ListConsents retrieves a user's consent decisions.
func (s *PostgresStore) ListConsents(ctx context.Context, userID string) ([]Consent, error) {
	query := `
		SELECT user_id, kind, granted, updated_at
		FROM consents
		WHERE user_id = $1
		ORDER BY kind
	`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var consents []Consent
	for rows.Next() {
		var c Consent
		if err := rows.Scan(&c.UserID, &c.Kind, &c.Granted, &c.UpdatedAt); err != nil {
			return nil, err
		}
		consents = append(consents, c)
	}

	return consents, rows.Err()
}

// GetSettings retrieves a user's settings.
func (s *PostgresStore) GetSettings(ctx context.Context, userID string) (*Settings, error) {
	query := `
		SELECT user_id, locale, notifications_enabled, weekly_goal_minutes, updated_at
		FROM user_settings
		WHERE user_id = $1
	`

	var st Settings
	err := s.pool.QueryRow(ctx, query, userID).Scan(
		&st.UserID,
		&st.Locale,
		&st.NotificationsEnabled,
		&st.WeeklyGoalMinutes,
		&st.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSettingsNotFound
		}
		return nil, err
	}

	return &st, nil
}

// ListSubscriptions retrieves a user's billing subscriptions.
func (s *PostgresStore) ListSubscriptions(ctx context.Context, userID string) ([]Subscription, error) {
	query := `
		SELECT id, user_id, customer_id, plan, status, started_at, expires_at
		FROM subscriptions
		WHERE user_id = $1
		ORDER BY started_at DESC
	`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		var sub Subscription
		err := rows.Scan(
			&sub.ID,
			&sub.UserID,
			&sub.CustomerID,
			&sub.Plan,
			&sub.Status,
			&sub.StartedAt,
			&sub.ExpiresAt,
		)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}

	return subs, rows.Err()
}

// ListCompletedSessions retrieves completed sessions across all users,
// oldest first, strictly after the given completion time.
func (s *PostgresStore) ListCompletedSessions(ctx context.Context, after time.Time, limit int) ([]TrainingSession, error) {
	query := `
		SELECT
			id, user_id, exercise_id, status,
			started_at, completed_at,
			duration_seconds, reps, calories_kcal, avg_heart_rate
		FROM training_sessions
		WHERE status = 'completed' AND completed_at > $1
		ORDER BY completed_at
		LIMIT $2
	`

	rows, err := s.pool.Query(ctx, query, after.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []TrainingSession
	for rows.Next() {
		var ts TrainingSession
		err := rows.Scan(
			&ts.ID,
			&ts.UserID,
			&ts.ExerciseID,
			&ts.Status,
			&ts.StartedAt,
			&ts.CompletedAt,
			&ts.DurationSeconds,
			&ts.Reps,
			&ts.CaloriesKcal,
			&ts.AvgHeartRate,
		)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, ts)
	}

	return sessions, rows.Err()
}

// SetDeletionScheduled flags or unflags the account as scheduled for deletion.
func (s *PostgresStore) SetDeletionScheduled(ctx context.Context, userID string, scheduled bool) error {
	query := `UPDATE profiles SET deletion_scheduled = $2, updated_at = now() WHERE user_id = $1`

	result, err := s.pool.Exec(ctx, query, userID, scheduled)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrProfileNotFound
	}
	return nil
}

// RevokeSessions bumps the token epoch, invalidating outstanding access.
func (s *PostgresStore) RevokeSessions(ctx context.Context, userID string) error {
	query := `UPDATE profiles SET token_epoch = token_epoch + 1, updated_at = now() WHERE user_id = $1`

	result, err := s.pool.Exec(ctx, query, userID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrProfileNotFound
	}
	return nil
}

// DeleteUserRows removes the user's rows from one deletion-plan step.
// The collection and key column come from the fixed plan, never from input.
func (s *PostgresStore) DeleteUserRows(ctx context.Context, step PlanStep, userID string) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE %s = $1`, step.Collection, step.KeyColumn)

	result, err := s.pool.Exec(ctx, query, userID)
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", step.Collection, err)
	}
	return result.RowsAffected(), nil
}

// Ensure PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
