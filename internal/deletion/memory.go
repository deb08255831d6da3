package deletion

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
	codes    map[string]*RecoveryCode
	now      func() time.Time
}

var _ Repository = (*InMemoryRepository)(nil)

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		requests: make(map[string]*Request),
		codes:    make(map[string]*RecoveryCode),
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
		if existing.UserID == req.UserID && existing.Active() {
			return ErrActiveRequestExists
		}
	}
	if _, ok := r.requests[req.ID]; ok {
		return ErrActiveRequestExists
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

func (r *InMemoryRepository) MarkScheduled(_ context.Context, requestID string) error {
	return r.transition(requestID, StatusScheduled, StatusPending)
}

func (r *InMemoryRepository) Cancel(_ context.Context, requestID string) error {
	return r.transition(requestID, StatusCancelled, StatusPending, StatusScheduled)
}

func (r *InMemoryRepository) transition(requestID, to string, from ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[requestID]
	if !ok {
		return ErrRequestNotFound
	}
	for _, status := range from {
		if req.Status == status {
			req.Status = to
			req.UpdatedAt = r.now()
			return nil
		}
	}

	return ErrInvalidTransition
}

func (r *InMemoryRepository) ClaimProcessing(_ context.Context, requestID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[requestID]
	if !ok {
		return false, ErrRequestNotFound
	}
	if req.Status != StatusScheduled && req.Status != StatusFailed {
		return false, nil
	}

	req.Status = StatusProcessing
	req.UpdatedAt = r.now()
	return true, nil
}

func (r *InMemoryRepository) Complete(_ context.Context, requestID string, completedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[requestID]
	if !ok {
		return ErrRequestNotFound
	}
	if req.Status != StatusProcessing {
		return ErrInvalidTransition
	}

	done := completedAt.UTC()
	req.Status = StatusCompleted
	req.CompletedAt = &done
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

func (r *InMemoryRepository) SaveRecoveryCode(_ context.Context, code RecoveryCode) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := code
	r.codes[code.RequestID] = &copied
	return nil
}

func (r *InMemoryRepository) ConsumeRecoveryCode(_ context.Context, requestID, codeHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	code, ok := r.codes[requestID]
	if !ok || code.Used || code.CodeHash != codeHash {
		return ErrRecoveryCodeInvalid
	}

	code.Used = true
	return nil
}
