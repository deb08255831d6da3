package export

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pulsefit/pulsefit/internal/userdata"
)

// Snapshot is the collected view of one user's data. All timestamps are
// serialized to RFC 3339 strings at this boundary so the formatters never
// see raw time values. Absent domains stay nil rather than erroring.
type Snapshot struct {
	Profile       *ProfileRecord       `json:"profile,omitempty"`
	Sessions      []SessionRecord      `json:"sessions,omitempty"`
	Consents      []ConsentRecord      `json:"consents,omitempty"`
	Settings      *SettingsRecord      `json:"settings,omitempty"`
	Subscriptions []SubscriptionRecord `json:"subscriptions,omitempty"`
}

// RecordCount counts every record across all present domains.
func (s *Snapshot) RecordCount() int {
	count := len(s.Sessions) + len(s.Consents) + len(s.Subscriptions)
	if s.Profile != nil {
		count++
	}
	if s.Settings != nil {
		count++
	}
	return count
}

type ProfileRecord struct {
	UserID      string   `json:"userId"`
	DisplayName string   `json:"displayName"`
	Email       string   `json:"email"`
	Locale      string   `json:"locale"`
	HeightCM    *float64 `json:"heightCm,omitempty"`
	WeightKG    *float64 `json:"weightKg,omitempty"`
	BirthYear   *int     `json:"birthYear,omitempty"`
	CreatedAt   string   `json:"createdAt"`
}

type SessionRecord struct {
	ID              string  `json:"id"`
	ExerciseID      string  `json:"exerciseId"`
	Status          string  `json:"status"`
	StartedAt       string  `json:"startedAt"`
	CompletedAt     string  `json:"completedAt,omitempty"`
	DurationSeconds int     `json:"durationSeconds"`
	Reps            int     `json:"reps"`
	CaloriesKcal    float64 `json:"caloriesKcal"`
	AvgHeartRate    *int    `json:"avgHeartRate,omitempty"`
}

type ConsentRecord struct {
	Kind      string `json:"kind"`
	Granted   bool   `json:"granted"`
	UpdatedAt string `json:"updatedAt"`
}

type SettingsRecord struct {
	Locale               string `json:"locale"`
	NotificationsEnabled bool   `json:"notificationsEnabled"`
	WeeklyGoalMinutes    int    `json:"weeklyGoalMinutes"`
	UpdatedAt            string `json:"updatedAt"`
}

type SubscriptionRecord struct {
	ID        string `json:"id"`
	Plan      string `json:"plan"`
	Status    string `json:"status"`
	StartedAt string `json:"startedAt"`
	ExpiresAt string `json:"expiresAt,omitempty"`
}

// Collector reads a user's data across domains for export.
type Collector struct {
	store userdata.Store
}

func NewCollector(store userdata.Store) *Collector {
	return &Collector{store: store}
}

// Collect gathers the user's data per the given scope. Each domain read
// is independent; missing sub-documents yield nil, not errors. Any other
// read error fails the whole collection so a partial export is never
// presented as complete.
func (c *Collector) Collect(ctx context.Context, userID string, scope Scope) (*Snapshot, error) {
	include := func(dataType string) bool {
		if scope.Type != ScopeSpecific {
			return true
		}
		for _, dt := range scope.DataTypes {
			if dt == dataType {
				return true
			}
		}
		return false
	}

	snapshot := &Snapshot{}

	if include("profile") {
		profile, err := c.store.GetProfile(ctx, userID)
		if err != nil && !errors.Is(err, userdata.ErrProfileNotFound) {
			return nil, fmt.Errorf("failed to collect profile: %w", err)
		}
		if profile != nil {
			snapshot.Profile = &ProfileRecord{
				UserID:      profile.UserID,
				DisplayName: profile.DisplayName,
				Email:       profile.Email,
				Locale:      profile.Locale,
				HeightCM:    profile.HeightCM,
				WeightKG:    profile.WeightKG,
				BirthYear:   profile.BirthYear,
				CreatedAt:   isoTime(profile.CreatedAt),
			}
		}
	}

	if include("sessions") {
		filter := userdata.SessionFilter{}
		if scope.Type == ScopeDateRange {
			filter.StartedAfter = scope.StartDate
			filter.StartedBefore = scope.EndDate
		}
		sessions, err := c.store.ListSessions(ctx, userID, filter)
		if err != nil {
			return nil, fmt.Errorf("failed to collect sessions: %w", err)
		}
		for _, session := range sessions {
			record := SessionRecord{
				ID:              session.ID,
				ExerciseID:      session.ExerciseID,
				Status:          session.Status,
				StartedAt:       isoTime(session.StartedAt),
				DurationSeconds: session.DurationSeconds,
				Reps:            session.Reps,
				CaloriesKcal:    session.CaloriesKcal,
				AvgHeartRate:    session.AvgHeartRate,
			}
			if session.CompletedAt != nil {
				record.CompletedAt = isoTime(*session.CompletedAt)
			}
			snapshot.Sessions = append(snapshot.Sessions, record)
		}
	}

	if include("consents") {
		consents, err := c.store.ListConsents(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to collect consents: %w", err)
		}
		for _, consent := range consents {
			snapshot.Consents = append(snapshot.Consents, ConsentRecord{
				Kind:      consent.Kind,
				Granted:   consent.Granted,
				UpdatedAt: isoTime(consent.UpdatedAt),
			})
		}
	}

	if include("settings") {
		settings, err := c.store.GetSettings(ctx, userID)
		if err != nil && !errors.Is(err, userdata.ErrSettingsNotFound) {
			return nil, fmt.Errorf("failed to collect settings: %w", err)
		}
		if settings != nil {
			snapshot.Settings = &SettingsRecord{
				Locale:               settings.Locale,
				NotificationsEnabled: settings.NotificationsEnabled,
				WeeklyGoalMinutes:    settings.WeeklyGoalMinutes,
				UpdatedAt:            isoTime(settings.UpdatedAt),
			}
		}
	}

	if include("subscriptions") {
		subscriptions, err := c.store.ListSubscriptions(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to collect subscriptions: %w", err)
		}
		for _, sub := range subscriptions {
			record := SubscriptionRecord{
				ID:        sub.ID,
				Plan:      sub.Plan,
				Status:    sub.Status,
				StartedAt: isoTime(sub.StartedAt),
			}
			if sub.ExpiresAt != nil {
				record.ExpiresAt = isoTime(*sub.ExpiresAt)
			}
			snapshot.Subscriptions = append(snapshot.Subscriptions, record)
		}
	}

	return snapshot, nil
}

func isoTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
