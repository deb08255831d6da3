package analytics

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemoryStore is an in-memory Store intended for testing.
type InMemoryStore struct {
	mu         sync.Mutex
	sessions   map[string]SessionStat
	aggregates map[time.Time][]AggregatedStat
	upsertErr  error
	deleteErr  error
}

var _ Store = (*InMemoryStore)(nil)

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions:   make(map[string]SessionStat),
		aggregates: make(map[time.Time][]AggregatedStat),
	}
}

func (s *InMemoryStore) UpsertSessionStat(_ context.Context, stat SessionStat) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.upsertErr != nil {
		return s.upsertErr
	}
	stat.StatDate = StatDate(stat.StatDate)
	s.sessions[stat.SessionID] = stat
	return nil
}

// FailUpserts makes subsequent upserts return err. Pass nil to recover.
func (s *InMemoryStore) FailUpserts(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.upsertErr = err
}

func (s *InMemoryStore) GetSessionStat(_ context.Context, sessionID string) (*SessionStat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stat, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	return &stat, nil
}

func (s *InMemoryStore) ListSessionStatsByDate(_ context.Context, statDate time.Time) ([]SessionStat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	day := StatDate(statDate)
	var stats []SessionStat
	for _, stat := range s.sessions {
		if stat.StatDate.Equal(day) {
			stats = append(stats, stat)
		}
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].SessionID < stats[j].SessionID })

	return stats, nil
}

func (s *InMemoryStore) ReplaceAggregates(_ context.Context, statDate time.Time, stats []AggregatedStat) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	day := StatDate(statDate)
	replaced := make([]AggregatedStat, len(stats))
	copy(replaced, stats)
	s.aggregates[day] = replaced
	return nil
}

func (s *InMemoryStore) ListAggregates(_ context.Context, statDate time.Time) ([]AggregatedStat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := s.aggregates[StatDate(statDate)]
	out := make([]AggregatedStat, len(stats))
	copy(out, stats)
	sort.Slice(out, func(i, j int) bool {
		if out[i].ExerciseID != out[j].ExerciseID {
			return out[i].ExerciseID < out[j].ExerciseID
		}
		return out[i].Segment < out[j].Segment
	})

	return out, nil
}

// FailDeletes makes subsequent DeleteByUser calls return err. Pass nil
// to recover.
func (s *InMemoryStore) FailDeletes(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deleteErr = err
}

func (s *InMemoryStore) DeleteByUser(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.deleteErr != nil {
		return 0, s.deleteErr
	}

	var deleted int64
	for id, stat := range s.sessions {
		if stat.UserID == userID {
			delete(s.sessions, id)
			deleted++
		}
	}

	return deleted, nil
}
