package mq

import (
	"context"
	"time"
)

// MessageQueue is the broker handle shared by the score event publisher and
// the leaderboard projector.
type MessageQueue interface {
	Producer
	Consumer
	Ping(ctx context.Context) error
	Close() error
}

// Producer publishes messages.
type Producer interface {
	Publish(ctx context.Context, topic string, message *Message) error
}

// Consumer registers handlers and runs them once started.
type Consumer interface {
	// SubscribeWithOptions registers handler for topic. Delivery begins on
	// Start, or immediately when already started.
	SubscribeWithOptions(ctx context.Context, topic string, handler HandlerFunc, opts *SubscribeOptions) error

	// Start is idempotent.
	Start() error

	// Stop waits for in-flight handlers to return.
	Stop() error
}

// Message is one broker record.
type Message struct {
	ID string `json:"id"`

	// Key selects the partition; messages sharing a key keep their order.
	// Falls back to ID when empty.
	Key string `json:"key"`

	Body      []byte            `json:"body"`
	Headers   map[string]string `json:"headers"`
	Timestamp time.Time         `json:"timestamp"`

	// Attempts counts failed deliveries; set on dead-lettered messages.
	Attempts int `json:"attempts"`
}

// HandlerFunc processes one message. A non-nil error triggers a retry.
type HandlerFunc func(ctx context.Context, message *Message) error

// SubscribeOptions tunes one subscription.
type SubscribeOptions struct {
	ConsumerGroup string

	// Concurrency is the number of handler goroutines. Default 1, which keeps
	// per-partition order.
	Concurrency int

	// MaxRetries bounds redelivery of a failing message before it is
	// dead-lettered (or dropped). Default 3.
	MaxRetries int

	// RetryDelay is the first backoff interval. Default 1s.
	RetryDelay time.Duration

	DeadLetterTopic string
}

// SetDefaults fills zero fields.
func (o *SubscribeOptions) SetDefaults() {
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = time.Second
	}
}

// NewMessage creates a message stamped with the current time.
func NewMessage(body []byte) *Message {
	return &Message{
		Body:      body,
		Headers:   make(map[string]string),
		Timestamp: time.Now(),
	}
}

// SetHeader sets a header value.
func (m *Message) SetHeader(key, value string) {
	if m.Headers == nil {
		m.Headers = make(map[string]string)
	}
	m.Headers[key] = value
}

// GetHeader retrieves a header value.
func (m *Message) GetHeader(key string) (string, bool) {
	val, ok := m.Headers[key]
	return val, ok
}
