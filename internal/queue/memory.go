package queue

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// InMemoryQueue is an in-memory queue implementing Publisher, Receiver, and
// Puller. This is intended for testing. Nacked messages are requeued at the
// back.
type InMemoryQueue struct {
	mu         sync.Mutex
	msgs       []*storedMessage
	nextID     int
	publishErr error
}

type storedMessage struct {
	id    string
	data  []byte
	attrs map[string]string
}

// NewInMemoryQueue creates a new in-memory queue.
func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{}
}

// FailPublishes makes every Publish return err. Pass nil to recover.
func (q *InMemoryQueue) FailPublishes(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.publishErr = err
}

// Publish appends a message to the queue.
func (q *InMemoryQueue) Publish(_ context.Context, data []byte, attrs map[string]string) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.publishErr != nil {
		return "", q.publishErr
	}

	q.nextID++
	id := "msg-" + strconv.Itoa(q.nextID)

	cpAttrs := make(map[string]string, len(attrs))
	for k, v := range attrs {
		cpAttrs[k] = v
	}

	q.msgs = append(q.msgs, &storedMessage{
		id:    id,
		data:  append([]byte(nil), data...),
		attrs: cpAttrs,
	})
	return id, nil
}

// Len returns the number of queued messages.
func (q *InMemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.msgs)
}

// Pull returns up to max deliveries without waiting.
func (q *InMemoryQueue) Pull(_ context.Context, max int, _ time.Duration) ([]*Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := max
	if n > len(q.msgs) {
		n = len(q.msgs)
	}

	batch := q.msgs[:n]
	q.msgs = append([]*storedMessage(nil), q.msgs[n:]...)

	deliveries := make([]*Delivery, 0, n)
	for _, m := range batch {
		deliveries = append(deliveries, q.deliver(m))
	}
	return deliveries, nil
}

// Receive delivers queued messages to handler until ctx is done.
func (q *InMemoryQueue) Receive(ctx context.Context, handler func(context.Context, *Delivery)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		deliveries, _ := q.Pull(ctx, 1, 0)
		if len(deliveries) == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(5 * time.Millisecond):
			}
			continue
		}
		handler(ctx, deliveries[0])
	}
}

// deliver wraps a stored message; nack requeues it at the back.
func (q *InMemoryQueue) deliver(m *storedMessage) *Delivery {
	return NewDelivery(m.id, m.data, m.attrs,
		func() {}, // popped on pull; ack is a no-op
		func() {
			q.mu.Lock()
			defer q.mu.Unlock()
			q.msgs = append(q.msgs, m)
		},
	)
}

// Ensure InMemoryQueue implements the queue ports.
var (
	_ Publisher = (*InMemoryQueue)(nil)
	_ Receiver  = (*InMemoryQueue)(nil)
	_ Puller    = (*InMemoryQueue)(nil)
)
