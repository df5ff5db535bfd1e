package queue

import (
	"context"
	"sync"
	"time"
)

// MemoryQueue is an in-process Queue used for local runs and tests. The
// production deployment swaps in an AMQP-backed implementation behind
// the same interface.
type MemoryQueue struct {
	topics map[string]*topic
	config *MemoryQueueConfig
	mu     sync.RWMutex
	closed bool
}

type topic struct {
	name     string
	messages chan Message
}

// MemoryQueueConfig memory queue configuration
type MemoryQueueConfig struct {
	BufferSize int           `json:"buffer_size"`
	Timeout    time.Duration `json:"timeout"`
}

// NewMemoryQueue creates a new memory queue instance
func NewMemoryQueue(config *MemoryQueueConfig) (*MemoryQueue, error) {
	if config == nil {
		config = &MemoryQueueConfig{
			BufferSize: 1000,
			Timeout:    30 * time.Second,
		}
	}

	return &MemoryQueue{
		topics: make(map[string]*topic),
		config: config,
	}, nil
}

func (mq *MemoryQueue) getOrCreateTopic(name string) *topic {
	t, exists := mq.topics[name]
	if !exists {
		t = &topic{
			name:     name,
			messages: make(chan Message, mq.config.BufferSize),
		}
		mq.topics[name] = t
	}
	return t
}

// Publish publishes a message to the queue
func (mq *MemoryQueue) Publish(ctx context.Context, topicName string, msg Message) error {
	mq.mu.Lock()
	if mq.closed {
		mq.mu.Unlock()
		return ErrQueueClosed
	}
	t := mq.getOrCreateTopic(topicName)
	mq.mu.Unlock()

	select {
	case t.messages <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(mq.config.Timeout):
		return ErrPublishTimeout
	}
}

// Subscribe subscribes to messages from the queue
func (mq *MemoryQueue) Subscribe(ctx context.Context, topicName string, handler MessageHandler) error {
	mq.mu.Lock()
	if mq.closed {
		mq.mu.Unlock()
		return ErrQueueClosed
	}
	t := mq.getOrCreateTopic(topicName)
	mq.mu.Unlock()

	go func() {
		for {
			select {
			case msg := <-t.messages:
				// handler errors are the consumer's problem; the queue keeps going
				_ = handler(ctx, topicName, msg)
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Close closes the queue
func (mq *MemoryQueue) Close() error {
	mq.mu.Lock()
	defer mq.mu.Unlock()
	mq.closed = true
	return nil
}

// Health checks the health of the queue
func (mq *MemoryQueue) Health() error {
	mq.mu.RLock()
	defer mq.mu.RUnlock()
	if mq.closed {
		return ErrQueueClosed
	}
	return nil
}
