package export

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemoryRepository is an in-memory Repository intended for testing.
type InMemoryRepository struct {
	mu       sync.Mutex
	requests map[string]*Request
	now      func() time.Time
}

var _ Repository = (*InMemoryRepository)(nil)

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		requests: make(map[string]*Request),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetNow overrides the clock for time-travel tests.
func (r *InMemoryRepository) SetNow(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

func (r *InMemoryRepository) Create(_ context.Context, req Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.requests {
		if existing.UserID == req.UserID && !existing.Terminal() {
			return ErrActiveRequestExists
		}
	}

	copied := req
	r.requests[req.ID] = &copied
	return nil
}

func (r *InMemoryRepository) Get(_ context.Context, requestID string) (*Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[requestID]
	if !ok {
		return nil, ErrRequestNotFound
	}

	copied := *req
	return &copied, nil
}

func (r *InMemoryRepository) ListByUser(_ context.Context, userID string, limit int) ([]Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var requests []Request
	for _, req := range r.requests {
		if req.UserID == userID {
			requests = append(requests, *req)
		}
	}
	sort.Slice(requests, func(i, j int) bool {
		return requests[i].RequestedAt.After(requests[j].RequestedAt)
	})
	if len(requests) > limit {
		requests = requests[:limit]
	}

	return requests, nil
}

func (r *InMemoryRepository) ClaimProcessing(_ context.Context, requestID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[requestID]
	if !ok {
		return false, ErrRequestNotFound
	}
	if req.Status != StatusPending && req.Status != StatusFailed {
		return false, nil
	}

	req.Status = StatusProcessing
	req.Error = nil
	req.UpdatedAt = r.now()
	return true, nil
}

func (r *InMemoryRepository) Complete(_ context.Context, requestID string, result Completion) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[requestID]
	if !ok {
		return ErrRequestNotFound
	}
	if req.Status != StatusProcessing {
		return ErrInvalidTransition
	}

	expiresAt := result.ExpiresAt.UTC()
	req.Status = StatusCompleted
	req.DownloadRef = &result.DownloadRef
	req.ExpiresAt = &expiresAt
	req.RecordCount = &result.RecordCount
	req.SizeBytes = &result.SizeBytes
	req.Error = nil
	req.UpdatedAt = r.now()
	return nil
}

func (r *InMemoryRepository) Fail(_ context.Context, requestID string, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[requestID]
	if !ok {
		return ErrRequestNotFound
	}
	if req.Status != StatusProcessing {
		return ErrInvalidTransition
	}

	req.Status = StatusFailed
	req.Error = &message
	req.UpdatedAt = r.now()
	return nil
}
