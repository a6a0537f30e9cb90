// Package broker carries job messages between the HTTP layer and the job
// consumer over a pub/sub transport.
package broker

import (
	"context"
	"errors"
)

var (
	// ErrNotConnected is returned by operations invoked before Connect
	// succeeds or after Close.
	ErrNotConnected = errors.New("broker: not connected")
)

// MessageHandler is invoked once per message received on a subscribed
// channel.
type MessageHandler func(ctx context.Context, payload []byte)

// Broker is the transport contract. All job types share one channel;
// dispatch by job name happens in the consumer, not per channel.
type Broker interface {
	// Connect establishes the underlying connections, retrying with
	// exponential backoff before giving up.
	Connect(ctx context.Context) error
	// IsReady reports whether the broker can accept operations. Non-blocking.
	IsReady() bool
	// Publish sends a message to a channel and returns how many subscribers
	// received it. The count is best-effort; zero does not mean failure.
	Publish(ctx context.Context, channel string, message any) (int64, error)
	// Subscribe registers a handler invoked once per message on the channel.
	Subscribe(ctx context.Context, channel string, handler MessageHandler) error
	// Unsubscribe stops delivery for the channel.
	Unsubscribe(ctx context.Context, channel string) error
	// Close releases connections. Idempotent; bounded by a drain timeout.
	Close(ctx context.Context) error
}
