package broker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBroker(t *testing.T) (*RedisBroker, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	b := NewRedis(RedisOptions{
		Addr:         mr.Addr(),
		BackoffBase:  time.Millisecond,
		BackoffMax:   10 * time.Millisecond,
		MaxAttempts:  3,
		DrainTimeout: time.Second,
	}, zerolog.Nop())
	return b, mr
}

func TestConnectAndReady(t *testing.T) {
	b, _ := newTestBroker(t)
	assert.False(t, b.IsReady())

	require.NoError(t, b.Connect(context.Background()))
	assert.True(t, b.IsReady())

	require.NoError(t, b.Close(context.Background()))
	assert.False(t, b.IsReady())
}

func TestConnectExhaustsAttempts(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	b := NewRedis(RedisOptions{
		Addr:        addr,
		BackoffBase: time.Millisecond,
		BackoffMax:  5 * time.Millisecond,
		MaxAttempts: 2,
	}, zerolog.Nop())

	err = b.Connect(context.Background())
	require.Error(t, err)
	assert.False(t, b.IsReady())
}

func TestOperationsBeforeConnect(t *testing.T) {
	b, _ := newTestBroker(t)

	_, err := b.Publish(context.Background(), "ch", "msg")
	assert.ErrorIs(t, err, ErrNotConnected)

	err = b.Subscribe(context.Background(), "ch", func(context.Context, []byte) {})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestPublishSubscribeRoundTrip(t *testing.T) {
	b, _ := newTestBroker(t)
	ctx := context.Background()
	require.NoError(t, b.Connect(ctx))
	defer b.Close(ctx)

	received := make(chan []byte, 1)
	require.NoError(t, b.Subscribe(ctx, "jobs", func(_ context.Context, payload []byte) {
		received <- payload
	}))

	// Non-string messages are serialized to JSON.
	n, err := b.Publish(ctx, "jobs", map[string]string{"hello": "world"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	select {
	case payload := <-received:
		assert.JSONEq(t, `{"hello":"world"}`, string(payload))
	case <-time.After(2 * time.Second):
		t.Fatal("message was not delivered")
	}
}

func TestSubscribeTwiceFails(t *testing.T) {
	b, _ := newTestBroker(t)
	ctx := context.Background()
	require.NoError(t, b.Connect(ctx))
	defer b.Close(ctx)

	require.NoError(t, b.Subscribe(ctx, "jobs", func(context.Context, []byte) {}))
	assert.Error(t, b.Subscribe(ctx, "jobs", func(context.Context, []byte) {}))
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b, _ := newTestBroker(t)
	ctx := context.Background()
	require.NoError(t, b.Connect(ctx))
	defer b.Close(ctx)

	var count atomic.Int64
	require.NoError(t, b.Subscribe(ctx, "jobs", func(context.Context, []byte) {
		count.Add(1)
	}))
	require.NoError(t, b.Unsubscribe(ctx, "jobs"))

	n, err := b.Publish(ctx, "jobs", "late")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(0), count.Load())

	// Unsubscribing a channel we never subscribed to is a no-op.
	assert.NoError(t, b.Unsubscribe(ctx, "other"))
}

func TestCloseIsIdempotent(t *testing.T) {
	b, _ := newTestBroker(t)
	ctx := context.Background()
	require.NoError(t, b.Connect(ctx))
	require.NoError(t, b.Subscribe(ctx, "jobs", func(context.Context, []byte) {}))

	require.NoError(t, b.Close(ctx))
	require.NoError(t, b.Close(ctx))
}
