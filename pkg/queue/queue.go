package queue

import (
	"context"
	"errors"
)

// Message is one unit handed to the transport. Headers carry the
// correlation fields consumers need to deduplicate (eventId, outBizNo,
// eventType, traceId); RoutingKey selects the downstream route.
type Message struct {
	RoutingKey string            `json:"routing_key"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       []byte            `json:"body"`
}

// Queue is the message transport seam. Delivery is at-least-once: a
// publisher may hand over the same message twice, consumers must
// deduplicate on headers.
type Queue interface {
	// Publish publishes a message to the specified topic
	Publish(ctx context.Context, topic string, msg Message) error

	// Subscribe subscribes to messages from the specified topic
	Subscribe(ctx context.Context, topic string, handler MessageHandler) error

	// Close closes the queue connections
	Close() error

	// Health checks the health of the queue
	Health() error
}

// MessageHandler handles incoming messages
type MessageHandler func(ctx context.Context, topic string, msg Message) error

// Common errors
var (
	ErrQueueClosed    = errors.New("queue is closed")
	ErrPublishTimeout = errors.New("publish timeout")
)
