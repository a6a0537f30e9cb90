package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"leadflow/pkg/backoff"
)

// RedisOptions configure the pub/sub broker.
type RedisOptions struct {
	Addr         string
	Password     string
	DB           int
	BackoffBase  time.Duration
	BackoffMax   time.Duration
	MaxAttempts  int
	DrainTimeout time.Duration
}

func (o *RedisOptions) defaults() {
	if o.BackoffBase == 0 {
		o.BackoffBase = 500 * time.Millisecond
	}
	if o.BackoffMax == 0 {
		o.BackoffMax = 30 * time.Second
	}
	if o.MaxAttempts == 0 {
		o.MaxAttempts = 6
	}
	if o.DrainTimeout == 0 {
		o.DrainTimeout = 10 * time.Second
	}
}

type subscription struct {
	pubsub *redis.PubSub
	done   chan struct{}
}

// RedisBroker implements Broker over Redis pub/sub. It is constructed and
// injected explicitly; there is no module-level singleton.
type RedisBroker struct {
	opts   RedisOptions
	client *redis.Client
	log    zerolog.Logger

	ready     atomic.Bool
	closeOnce sync.Once
	closeErr  error

	mu      sync.Mutex
	subs    map[string]*subscription
	readers sync.WaitGroup
}

// NewRedis builds a broker client. Connect must be called before use.
func NewRedis(opts RedisOptions, logger zerolog.Logger) *RedisBroker {
	opts.defaults()
	return &RedisBroker{
		opts: opts,
		client: redis.NewClient(&redis.Options{
			Addr:     opts.Addr,
			Password: opts.Password,
			DB:       opts.DB,
		}),
		log:  logger.With().Str("component", "broker").Logger(),
		subs: make(map[string]*subscription),
	}
}

// Client exposes the underlying command connection for collaborators that
// share it (job snapshots, rate limiting).
func (b *RedisBroker) Client() *redis.Client {
	return b.client
}

// Connect pings Redis, retrying with exponential backoff up to the
// configured attempt count.
func (b *RedisBroker) Connect(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= b.opts.MaxAttempts; attempt++ {
		if err := b.client.Ping(ctx).Err(); err == nil {
			b.ready.Store(true)
			b.log.Info().Str("addr", b.opts.Addr).Msg("broker connected")
			return nil
		} else {
			lastErr = err
		}

		delay := backoff.ExponentialJitter(b.opts.BackoffBase, b.opts.BackoffMax, attempt)
		b.log.Warn().Err(lastErr).Int("attempt", attempt).Dur("retry_in", delay).Msg("broker connect failed")

		select {
		case <-ctx.Done():
			return fmt.Errorf("broker connect: %w", ctx.Err())
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("broker connect: attempts exhausted: %w", lastErr)
}

// IsReady reports whether Connect succeeded and Close has not run.
func (b *RedisBroker) IsReady() bool {
	return b.ready.Load()
}

// Publish serializes the message if needed and broadcasts it. Returns the
// number of subscribers the transport delivered to.
func (b *RedisBroker) Publish(ctx context.Context, channel string, message any) (int64, error) {
	if !b.IsReady() {
		return 0, ErrNotConnected
	}

	var payload string
	switch m := message.(type) {
	case string:
		payload = m
	case []byte:
		payload = string(m)
	default:
		raw, err := json.Marshal(m)
		if err != nil {
			return 0, fmt.Errorf("serialize message for channel %s: %w", channel, err)
		}
		payload = string(raw)
	}

	n, err := b.client.Publish(ctx, channel, payload).Result()
	if err != nil {
		return 0, fmt.Errorf("publish to %s: %w", channel, err)
	}
	return n, nil
}

// Subscribe registers a handler for a channel. One subscription per channel;
// a second Subscribe for the same channel fails.
func (b *RedisBroker) Subscribe(ctx context.Context, channel string, handler MessageHandler) error {
	if !b.IsReady() {
		return ErrNotConnected
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.subs[channel]; exists {
		return fmt.Errorf("subscribe: already subscribed to %s", channel)
	}

	pubsub := b.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("subscribe to %s: %w", channel, err)
	}

	sub := &subscription{pubsub: pubsub, done: make(chan struct{})}
	b.subs[channel] = sub

	b.readers.Add(1)
	go func() {
		defer b.readers.Done()
		defer close(sub.done)
		for msg := range pubsub.Channel() {
			handler(ctx, []byte(msg.Payload))
		}
	}()

	b.log.Info().Str("channel", channel).Msg("subscribed")
	return nil
}

// Unsubscribe closes the channel's subscription and stops its reader.
func (b *RedisBroker) Unsubscribe(ctx context.Context, channel string) error {
	b.mu.Lock()
	sub, ok := b.subs[channel]
	if ok {
		delete(b.subs, channel)
	}
	b.mu.Unlock()
	if !ok {
		return nil
	}

	if err := sub.pubsub.Unsubscribe(ctx, channel); err != nil {
		b.log.Warn().Err(err).Str("channel", channel).Msg("unsubscribe failed")
	}
	if err := sub.pubsub.Close(); err != nil {
		return fmt.Errorf("close subscription %s: %w", channel, err)
	}
	<-sub.done
	return nil
}

// Close tears down subscriptions and the command connection. Safe to call
// more than once; the second call is a no-op. Waits for reader goroutines up
// to the drain timeout, then proceeds anyway.
func (b *RedisBroker) Close(ctx context.Context) error {
	b.closeOnce.Do(func() {
		b.ready.Store(false)

		b.mu.Lock()
		subs := make(map[string]*subscription, len(b.subs))
		for ch, s := range b.subs {
			subs[ch] = s
		}
		b.subs = make(map[string]*subscription)
		b.mu.Unlock()

		for ch, s := range subs {
			if err := s.pubsub.Close(); err != nil {
				b.log.Warn().Err(err).Str("channel", ch).Msg("closing subscription")
			}
		}

		drained := make(chan struct{})
		go func() {
			b.readers.Wait()
			close(drained)
		}()
		select {
		case <-drained:
		case <-time.After(b.opts.DrainTimeout):
			b.log.Warn().Dur("timeout", b.opts.DrainTimeout).Msg("shutdown drain timed out; closing anyway")
		case <-ctx.Done():
			b.log.Warn().Msg("shutdown context cancelled before drain completed")
		}

		b.closeErr = b.client.Close()
		b.log.Info().Msg("broker closed")
	})
	return b.closeErr
}

var _ Broker = (*RedisBroker)(nil)
