package userdata

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemoryStore is an in-memory implementation of Store.
// This is intended for testing. Production should use PostgresStore.
type InMemoryStore struct {
	mu            sync.RWMutex
	profiles      map[string]*Profile
	sessions      map[string][]TrainingSession
	consents      map[string][]Consent
	settings      map[string]*Settings
	subscriptions map[string][]Subscription
	// extraRows tracks deletion-plan collections not modeled above
	// (session_stats, export_requests, rate_limit_counters).
	extraRows map[string]map[string]int64
	revokeErr error
}

// NewInMemoryStore creates a new in-memory user data store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		profiles:      make(map[string]*Profile),
		sessions:      make(map[string][]TrainingSession),
		consents:      make(map[string][]Consent),
		settings:      make(map[string]*Settings),
		subscriptions: make(map[string][]Subscription),
		extraRows:     make(map[string]map[string]int64),
	}
}

// PutProfile stores a profile.
func (s *InMemoryStore) PutProfile(p *Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cpy := *p
	s.profiles[p.UserID] = &cpy
}

// AddSession stores a training session.
func (s *InMemoryStore) AddSession(ts TrainingSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[ts.UserID] = append(s.sessions[ts.UserID], ts)
}

// AddConsent stores a consent decision.
func (s *InMemoryStore) AddConsent(c Consent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consents[c.UserID] = append(s.consents[c.UserID], c)
}

// PutSettings stores settings.
func (s *InMemoryStore) PutSettings(st *Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cpy := *st
	s.settings[st.UserID] = &cpy
}

// AddSubscription stores a subscription.
func (s *InMemoryStore) AddSubscription(sub Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions[sub.UserID] = append(s.subscriptions[sub.UserID], sub)
}

// GetProfile retrieves a user's profile.
func (s *InMemoryStore) GetProfile(_ context.Context, userID string) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[userID]
	if !ok {
		return nil, ErrProfileNotFound
	}
	cpy := *p
	return &cpy, nil
}

// ListSessions retrieves a user's training sessions.
func (s *InMemoryStore) ListSessions(_ context.Context, userID string, filter SessionFilter) ([]TrainingSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []TrainingSession
	for _, ts := range s.sessions[userID] {
		if filter.StartedAfter != nil && ts.StartedAt.Before(*filter.StartedAfter) {
			continue
		}
		if filter.StartedBefore != nil && ts.StartedAt.After(*filter.StartedBefore) {
			continue
		}
		out = append(out, ts)
	}
	return out, nil
}

// ListConsents retrieves a user's consent decisions.
func (s *InMemoryStore) ListConsents(_ context.Context, userID string) ([]Consent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Consent(nil), s.consents[userID]...), nil
}

// GetSettings retrieves a user's settings.
func (s *InMemoryStore) GetSettings(_ context.Context, userID string) (*Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.settings[userID]
	if !ok {
		return nil, ErrSettingsNotFound
	}
	cpy := *st
	return &cpy, nil
}

// ListSubscriptions retrieves a user's billing subscriptions.
func (s *InMemoryStore) ListSubscriptions(_ context.Context, userID string) ([]Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Subscription(nil), s.subscriptions[userID]...), nil
}

// ListCompletedSessions retrieves completed sessions across all users,
// oldest first, from the given completion time onward.
func (s *InMemoryStore) ListCompletedSessions(_ context.Context, after time.Time, limit int) ([]TrainingSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []TrainingSession
	for _, sessions := range s.sessions {
		for _, ts := range sessions {
			if ts.Status != "completed" || ts.CompletedAt == nil {
				continue
			}
			if !ts.CompletedAt.After(after) {
				continue
			}
			out = append(out, ts)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CompletedAt.Before(*out[j].CompletedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SetDeletionScheduled flags or unflags the account as scheduled for deletion.
func (s *InMemoryStore) SetDeletionScheduled(_ context.Context, userID string, scheduled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[userID]
	if !ok {
		return ErrProfileNotFound
	}
	p.DeletionScheduled = scheduled
	return nil
}

// FailRevocations makes subsequent RevokeSessions calls return err.
// Pass nil to recover.
func (s *InMemoryStore) FailRevocations(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revokeErr = err
}

// RevokeSessions bumps the token epoch.
func (s *InMemoryStore) RevokeSessions(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.revokeErr != nil {
		return s.revokeErr
	}

	p, ok := s.profiles[userID]
	if !ok {
		return ErrProfileNotFound
	}
	p.TokenEpoch++
	return nil
}

// DeleteUserRows removes the user's rows from one deletion-plan step.
func (s *InMemoryStore) DeleteUserRows(_ context.Context, step PlanStep, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch step.Collection {
	case "training_sessions":
		n := int64(len(s.sessions[userID]))
		delete(s.sessions, userID)
		return n, nil
	case "consents":
		n := int64(len(s.consents[userID]))
		delete(s.consents, userID)
		return n, nil
	case "user_settings":
		if _, ok := s.settings[userID]; ok {
			delete(s.settings, userID)
			return 1, nil
		}
		return 0, nil
	case "subscriptions":
		n := int64(len(s.subscriptions[userID]))
		delete(s.subscriptions, userID)
		return n, nil
	case "profiles":
		if _, ok := s.profiles[userID]; ok {
			delete(s.profiles, userID)
			return 1, nil
		}
		return 0, nil
	default:
		rows := s.extraRows[step.Collection]
		if rows == nil {
			return 0, nil
		}
		n := rows[userID]
		delete(rows, userID)
		return n, nil
	}
}

// Ensure InMemoryStore implements Store.
var _ Store = (*InMemoryStore)(nil)
