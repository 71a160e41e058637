package notify

import (
	"context"
	"fmt"
)

// Publisher publishes a JSON message with a routing key.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, v any) error
}

// QueueNotifier hands activation messages to the outbox exchange; the mailer
// worker delivers them.
type QueueNotifier struct {
	pub        Publisher
	routingKey string
}

// NewQueueNotifier returns a notifier publishing with routingKey.
func NewQueueNotifier(pub Publisher, routingKey string) *QueueNotifier {
	return &QueueNotifier{pub: pub, routingKey: routingKey}
}

func (n *QueueNotifier) SendActivation(ctx context.Context, msg ActivationMessage) error {
	if err := n.pub.Publish(ctx, n.routingKey, msg); err != nil {
		return fmt.Errorf("queue activation message for %s: %w", msg.To, err)
	}
	return nil
}
