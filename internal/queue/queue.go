// Package queue defines the message-queue ports used by the analytics
// stream: publish, streaming receive, and bounded pull. Production uses the
// Pub/Sub adapters; tests use the in-memory queue.
package queue

import (
	"context"
	"time"
)

// Delivery is one received message plus its acknowledgement handles.
// Ack removes the message from the queue; Nack makes it eligible for
// redelivery. Exactly one of the two should be called per delivery.
type Delivery struct {
	// ID is the queue-assigned message ID.
	ID string

	// Data is the message body.
	Data []byte

	// Attributes are the message's key/value attributes.
	Attributes map[string]string

	ack  func()
	nack func()
}

// NewDelivery builds a Delivery with the given acknowledgement handles.
// Adapters and tests use this; consumers only call Ack/Nack.
func NewDelivery(id string, data []byte, attrs map[string]string, ack, nack func()) *Delivery {
	return &Delivery{ID: id, Data: data, Attributes: attrs, ack: ack, nack: nack}
}

// Ack acknowledges the message.
func (d *Delivery) Ack() {
	if d.ack != nil {
		d.ack()
	}
}

// Nack negatively acknowledges the message for redelivery.
func (d *Delivery) Nack() {
	if d.nack != nil {
		d.nack()
	}
}

// Publisher publishes messages to a queue or topic.
type Publisher interface {
	// Publish sends one message and returns its queue-assigned ID once the
	// publish is durable.
	Publish(ctx context.Context, data []byte, attrs map[string]string) (string, error)
}

// Receiver delivers messages continuously until the context is cancelled.
type Receiver interface {
	// Receive calls handler for each delivery. Blocks until ctx is done.
	Receive(ctx context.Context, handler func(context.Context, *Delivery)) error
}

// Puller fetches a bounded batch of messages, used by dead-letter recovery.
type Puller interface {
	// Pull returns up to max deliveries, waiting at most wait for the first
	// message. The caller must Ack or Nack every returned delivery.
	Pull(ctx context.Context, max int, wait time.Duration) ([]*Delivery, error)
}
