package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists analytics rows to PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) UpsertSessionStat(ctx context.Context, stat SessionStat) error {
	query := `
		INSERT INTO session_stats (session_id, user_id, exercise_id, segment, duration_seconds, reps, calories_kcal, stat_date, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (session_id)
		DO UPDATE SET
			user_id = EXCLUDED.user_id,
			exercise_id = EXCLUDED.exercise_id,
			segment = EXCLUDED.segment,
			duration_seconds = EXCLUDED.duration_seconds,
			reps = EXCLUDED.reps,
			calories_kcal = EXCLUDED.calories_kcal,
			stat_date = EXCLUDED.stat_date,
			recorded_at = EXCLUDED.recorded_at
	`

	_, err := s.pool.Exec(ctx, query,
		stat.SessionID,
		stat.UserID,
		stat.ExerciseID,
		stat.Segment,
		stat.DurationSeconds,
		stat.Reps,
		stat.CaloriesKcal,
		StatDate(stat.StatDate),
		stat.RecordedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert session stat: %w", err)
	}

	return nil
}

func (s *PostgresStore) GetSessionStat(ctx context.Context, sessionID string) (*SessionStat, error) {
	query := `
		SELECT session_id, user_id, exercise_id, segment, duration_seconds, reps, calories_kcal, stat_date, recorded_at
		FROM session_stats
		WHERE session_id = $1
	`

	var stat SessionStat
	err := s.pool.QueryRow(ctx, query, sessionID).Scan(
		&stat.SessionID,
		&stat.UserID,
		&stat.ExerciseID,
		&stat.Segment,
		&stat.DurationSeconds,
		&stat.Reps,
		&stat.CaloriesKcal,
		&stat.StatDate,
		&stat.RecordedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get session stat: %w", err)
	}

	return &stat, nil
}

func (s *PostgresStore) ListSessionStatsByDate(ctx context.Context, statDate time.Time) ([]SessionStat, error) {
	query := `
		SELECT session_id, user_id, exercise_id, segment, duration_seconds, reps, calories_kcal, stat_date, recorded_at
		FROM session_stats
		WHERE stat_date = $1
		ORDER BY session_id
	`

	rows, err := s.pool.Query(ctx, query, StatDate(statDate))
	if err != nil {
		return nil, fmt.Errorf("failed to list session stats: %w", err)
	}
	defer rows.Close()

	var stats []SessionStat
	for rows.Next() {
		var stat SessionStat
		err := rows.Scan(
			&stat.SessionID,
			&stat.UserID,
			&stat.ExerciseID,
			&stat.Segment,
			&stat.DurationSeconds,
			&stat.Reps,
			&stat.CaloriesKcal,
			&stat.StatDate,
			&stat.RecordedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session stat: %w", err)
		}
		stats = append(stats, stat)
	}

	return stats, rows.Err()
}

// ReplaceAggregates runs the delete and the inserts in one transaction so
// a rerun for the same date never leaves duplicates behind.
func (s *PostgresStore) ReplaceAggregates(ctx context.Context, statDate time.Time, stats []AggregatedStat) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	day := StatDate(statDate)

	_, err = tx.Exec(ctx, `DELETE FROM aggregated_stats WHERE stat_date = $1`, day)
	if err != nil {
		return fmt.Errorf("failed to delete aggregates: %w", err)
	}

	insert := `
		INSERT INTO aggregated_stats (stat_date, exercise_id, segment, session_count, total_duration, total_reps, total_calories, unique_users, computed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	for _, stat := range stats {
		_, err = tx.Exec(ctx, insert,
			day,
			stat.ExerciseID,
			stat.Segment,
			stat.SessionCount,
			stat.TotalDuration,
			stat.TotalReps,
			stat.TotalCalories,
			stat.UniqueUsers,
			stat.ComputedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert aggregate: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (s *PostgresStore) ListAggregates(ctx context.Context, statDate time.Time) ([]AggregatedStat, error) {
	query := `
		SELECT stat_date, exercise_id, segment, session_count, total_duration, total_reps, total_calories, unique_users, computed_at
		FROM aggregated_stats
		WHERE stat_date = $1
		ORDER BY exercise_id, segment
	`

	rows, err := s.pool.Query(ctx, query, StatDate(statDate))
	if err != nil {
		return nil, fmt.Errorf("failed to list aggregates: %w", err)
	}
	defer rows.Close()

	var stats []AggregatedStat
	for rows.Next() {
		var stat AggregatedStat
		err := rows.Scan(
			&stat.StatDate,
			&stat.ExerciseID,
			&stat.Segment,
			&stat.SessionCount,
			&stat.TotalDuration,
			&stat.TotalReps,
			&stat.TotalCalories,
			&stat.UniqueUsers,
			&stat.ComputedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan aggregate: %w", err)
		}
		stats = append(stats, stat)
	}

	return stats, rows.Err()
}

func (s *PostgresStore) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM session_stats WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete session stats: %w", err)
	}

	return tag.RowsAffected(), nil
}
