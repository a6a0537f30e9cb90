package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadflow/internal/models"
)

func publishJob(t *testing.T, p *Producer, name string) models.Job {
	t.Helper()
	job, err := p.Now(context.Background(), name, map[string]any{"n": "1"})
	require.NoError(t, err)
	return job
}

func TestConcurrencyCeilingDropsOverflow(t *testing.T) {
	b, snaps := newTestRig(t)
	ctx := context.Background()

	const ceiling = 2
	const extra = 3

	started := make(chan struct{}, ceiling+extra)
	release := make(chan struct{})
	var invocations atomic.Int64

	c := NewConsumer(b, snaps, testChannel, ceiling, zerolog.Nop())
	c.Define("held_job", models.JobOptions{}, func(ctx context.Context, job models.Job) error {
		invocations.Add(1)
		started <- struct{}{}
		<-release
		return nil
	})
	require.NoError(t, c.Start(ctx))

	p := NewProducer(b, snaps, testChannel, zerolog.Nop())
	require.NoError(t, p.Initialize(ctx))

	for i := 0; i < ceiling+extra; i++ {
		publishJob(t, p, "held_job")
	}

	// Exactly the ceiling number of handlers start; the overflow is dropped,
	// not queued.
	for i := 0; i < ceiling; i++ {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatal("handler did not start")
		}
	}
	assert.Eventually(t, func() bool { return c.ActiveCount() == ceiling }, 2*time.Second, 10*time.Millisecond)

	time.Sleep(100 * time.Millisecond) // give dropped messages time to (not) dispatch
	assert.Equal(t, int64(ceiling), invocations.Load())

	close(release)
	require.NoError(t, c.Stop(ctx, 2*time.Second))
	assert.Equal(t, int64(ceiling), invocations.Load())
}

func TestUnknownJobNameIsDropped(t *testing.T) {
	b, snaps := newTestRig(t)
	ctx := context.Background()

	var invocations atomic.Int64
	c := NewConsumer(b, snaps, testChannel, 5, zerolog.Nop())
	c.Define("known_job", models.JobOptions{}, func(context.Context, models.Job) error {
		invocations.Add(1)
		return nil
	})
	require.NoError(t, c.Start(ctx))

	p := NewProducer(b, snaps, testChannel, zerolog.Nop())
	require.NoError(t, p.Initialize(ctx))

	// Publishing an unregistered name neither errors nor invokes anything.
	_, err := p.Now(ctx, "mystery_job", nil)
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int64(0), invocations.Load())
	require.NoError(t, c.Stop(ctx, time.Second))
}

func TestCancelledJobIsDroppedBeforeDispatch(t *testing.T) {
	b, snaps := newTestRig(t)
	ctx := context.Background()

	var invocations atomic.Int64
	c := NewConsumer(b, snaps, testChannel, 5, zerolog.Nop())
	c.Define("slow_job", models.JobOptions{}, func(context.Context, models.Job) error {
		invocations.Add(1)
		return nil
	})
	require.NoError(t, c.Start(ctx))

	// Mark the snapshot cancelled before the envelope arrives: publish the
	// envelope directly so the snapshot write races nothing.
	job := models.Job{
		ID:        "cancelled-1",
		Name:      "slow_job",
		Data:      map[string]any{},
		CreatedAt: time.Now().UTC(),
		Status:    models.JobStatusQueued,
	}
	require.NoError(t, snaps.Save(ctx, job))
	require.NoError(t, snaps.SetStatus(ctx, job.ID, models.JobStatusCancelled))

	envelope, err := job.Encode()
	require.NoError(t, err)
	_, err = b.Publish(ctx, testChannel, envelope)
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int64(0), invocations.Load())
	require.NoError(t, c.Stop(ctx, time.Second))
}

func TestDefineAfterStartTakesEffect(t *testing.T) {
	b, snaps := newTestRig(t)
	ctx := context.Background()

	c := NewConsumer(b, snaps, testChannel, 5, zerolog.Nop())
	require.NoError(t, c.Start(ctx))

	done := make(chan struct{}, 1)
	c.Define("late_job", models.JobOptions{}, func(context.Context, models.Job) error {
		done <- struct{}{}
		return nil
	})

	p := NewProducer(b, snaps, testChannel, zerolog.Nop())
	require.NoError(t, p.Initialize(ctx))
	publishJob(t, p, "late_job")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler registered after Start was never invoked")
	}
	require.NoError(t, c.Stop(ctx, time.Second))
}

func TestFailedHandlerUpdatesSnapshot(t *testing.T) {
	b, snaps := newTestRig(t)
	ctx := context.Background()

	c := NewConsumer(b, snaps, testChannel, 5, zerolog.Nop())
	c.Define("failing_job", models.JobOptions{}, func(context.Context, models.Job) error {
		return errors.New("boom")
	})
	require.NoError(t, c.Start(ctx))

	p := NewProducer(b, snaps, testChannel, zerolog.Nop())
	require.NoError(t, p.Initialize(ctx))
	job := publishJob(t, p, "failing_job")

	require.Eventually(t, func() bool {
		status, err := snaps.Status(ctx, job.ID)
		return err == nil && status == models.JobStatusFailed
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, c.Stop(ctx, time.Second))
}

func TestSuccessfulHandlerUpdatesSnapshot(t *testing.T) {
	b, snaps := newTestRig(t)
	ctx := context.Background()

	c := NewConsumer(b, snaps, testChannel, 5, zerolog.Nop())
	c.Define("ok_job", models.JobOptions{}, func(context.Context, models.Job) error {
		return nil
	})
	require.NoError(t, c.Start(ctx))

	p := NewProducer(b, snaps, testChannel, zerolog.Nop())
	require.NoError(t, p.Initialize(ctx))
	job := publishJob(t, p, "ok_job")

	require.Eventually(t, func() bool {
		status, err := snaps.Status(ctx, job.ID)
		return err == nil && status == models.JobStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, c.Stop(ctx, time.Second))
}

func TestStopDrainTimeoutProceedsAnyway(t *testing.T) {
	b, snaps := newTestRig(t)
	ctx := context.Background()

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	c := NewConsumer(b, snaps, testChannel, 1, zerolog.Nop())
	c.Define("held_job", models.JobOptions{}, func(context.Context, models.Job) error {
		started <- struct{}{}
		<-release
		return nil
	})
	require.NoError(t, c.Start(ctx))

	p := NewProducer(b, snaps, testChannel, zerolog.Nop())
	require.NoError(t, p.Initialize(ctx))
	publishJob(t, p, "held_job")
	<-started

	// The handler is still held open; Stop must return after the timeout
	// rather than hang.
	done := make(chan error, 1)
	go func() { done <- c.Stop(ctx, 50*time.Millisecond) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Stop hung past its drain timeout")
	}
	close(release)
}
