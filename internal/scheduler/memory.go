package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is an in-memory Store intended for testing.
type InMemoryStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
	now  func() time.Time
}

var _ Store = (*InMemoryStore)(nil)

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		jobs: make(map[string]*Job),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// SetNow overrides the clock for time-travel tests.
func (s *InMemoryStore) SetNow(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *InMemoryStore) Schedule(_ context.Context, kind string, payload interface{}, runAt time.Time, policy RetryPolicy) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode job payload: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	job := &Job{
		ID:        "job_" + uuid.NewString(),
		Kind:      kind,
		Payload:   body,
		Status:    StatusPending,
		Policy:    policy,
		RunAt:     runAt.UTC(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.jobs[job.ID] = job

	return job.ID, nil
}

func (s *InMemoryStore) ClaimDue(_ context.Context, now time.Time, limit int) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*Job
	for _, job := range s.jobs {
		if job.Status == StatusPending && !job.RunAt.After(now) {
			due = append(due, job)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].RunAt.Before(due[j].RunAt) })
	if len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]Job, 0, len(due))
	for _, job := range due {
		job.Status = StatusRunning
		job.Attempt++
		job.UpdatedAt = s.now()
		claimed = append(claimed, *job)
	}

	return claimed, nil
}

func (s *InMemoryStore) MarkSucceeded(_ context.Context, jobID string) error {
	return s.setTerminal(jobID, StatusSucceeded, "")
}

func (s *InMemoryStore) MarkFailed(_ context.Context, jobID string, jobErr string) error {
	return s.setTerminal(jobID, StatusFailed, jobErr)
}

func (s *InMemoryStore) setTerminal(jobID, status, jobErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	job.Status = status
	job.LastError = jobErr
	job.UpdatedAt = s.now()

	return nil
}

func (s *InMemoryStore) Reschedule(_ context.Context, jobID string, runAt time.Time, attempt int, jobErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	job.Status = StatusPending
	job.RunAt = runAt.UTC()
	job.Attempt = attempt
	job.LastError = jobErr
	job.UpdatedAt = s.now()

	return nil
}

func (s *InMemoryStore) Get(_ context.Context, jobID string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}

	copied := *job
	return &copied, nil
}
