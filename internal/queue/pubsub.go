package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/pubsub/v2"
)

// PubSubPublisher publishes to a Pub/Sub topic.
type PubSubPublisher struct {
	publisher *pubsub.Publisher
}

// NewPubSubPublisher creates a publisher for the given topic.
func NewPubSubPublisher(client *pubsub.Client, topic string) *PubSubPublisher {
	return &PubSubPublisher{publisher: client.Publisher(topic)}
}

// Publish sends one message and waits for the publish to be durable.
func (p *PubSubPublisher) Publish(ctx context.Context, data []byte, attrs map[string]string) (string, error) {
	result := p.publisher.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Stop flushes outstanding publishes.
func (p *PubSubPublisher) Stop() {
	p.publisher.Stop()
}

// PubSubReceiver receives from a Pub/Sub subscription.
type PubSubReceiver struct {
	subscriber *pubsub.Subscriber
}

// NewPubSubReceiver creates a receiver for the given subscription.
func NewPubSubReceiver(client *pubsub.Client, subscription string, maxOutstanding int) *PubSubReceiver {
	subscriber := client.Subscriber(subscription)
	subscriber.ReceiveSettings.MaxOutstandingMessages = maxOutstanding
	subscriber.ReceiveSettings.MaxExtension = 10 * time.Minute

	return &PubSubReceiver{subscriber: subscriber}
}

// Receive calls handler for each delivery until ctx is done.
func (r *PubSubReceiver) Receive(ctx context.Context, handler func(context.Context, *Delivery)) error {
	return r.subscriber.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		handler(ctx, toDelivery(msg))
	})
}

// PubSubPuller fetches bounded batches from a Pub/Sub subscription.
// Pub/Sub's streaming API has no native bounded pull, so the puller runs a
// short Receive, collects up to max deliveries, and cancels the stream.
type PubSubPuller struct {
	client       *pubsub.Client
	subscription string
}

// NewPubSubPuller creates a puller for the given subscription.
func NewPubSubPuller(client *pubsub.Client, subscription string) *PubSubPuller {
	return &PubSubPuller{client: client, subscription: subscription}
}

// Pull returns up to max deliveries, waiting at most wait.
func (p *PubSubPuller) Pull(ctx context.Context, max int, wait time.Duration) ([]*Delivery, error) {
	subscriber := p.client.Subscriber(p.subscription)
	subscriber.ReceiveSettings.MaxOutstandingMessages = max

	pullCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	var (
		mu         sync.Mutex
		deliveries []*Delivery
	)

	err := subscriber.Receive(pullCtx, func(_ context.Context, msg *pubsub.Message) {
		mu.Lock()
		defer mu.Unlock()

		if len(deliveries) >= max {
			// Batch is full; caller never sees this message.
			msg.Nack()
			return
		}
		deliveries = append(deliveries, toDelivery(msg))
		if len(deliveries) >= max {
			cancel()
		}
	})

	// Timeout and cancellation end the stream normally.
	if err != nil && pullCtx.Err() == nil {
		return nil, fmt.Errorf("pull from %s: %w", p.subscription, err)
	}

	return deliveries, nil
}

func toDelivery(msg *pubsub.Message) *Delivery {
	return NewDelivery(msg.ID, msg.Data, msg.Attributes, msg.Ack, msg.Nack)
}

// Ensure the Pub/Sub adapters implement the queue ports.
var (
	_ Publisher = (*PubSubPublisher)(nil)
	_ Receiver  = (*PubSubReceiver)(nil)
	_ Puller    = (*PubSubPuller)(nil)
)
