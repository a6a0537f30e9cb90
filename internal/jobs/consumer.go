package jobs

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"leadflow/internal/broker"
	"leadflow/internal/models"
	"leadflow/internal/telemetry"
)

// Handler processes one job. Errors are terminal for the message: logged,
// counted, and dropped. Durability of the business effect belongs to the
// handler itself.
type Handler func(ctx context.Context, job models.Job) error

type definition struct {
	opts    models.JobOptions
	handler Handler
}

// Consumer subscribes once to the shared jobs channel, routes messages to
// handlers by job name, and enforces one process-wide concurrency ceiling
// across all job types. Messages arriving while the ceiling is full are
// dropped, not deferred.
type Consumer struct {
	broker    broker.Broker
	snapshots *SnapshotStore
	channel   string
	ceiling   int64
	log       zerolog.Logger

	mu   sync.RWMutex
	defs map[string]definition

	active  atomic.Int64
	started atomic.Bool
	wg      sync.WaitGroup
}

// NewConsumer builds a consumer with a fixed concurrency ceiling.
func NewConsumer(b broker.Broker, snapshots *SnapshotStore, channel string, defaultConcurrency int, logger zerolog.Logger) *Consumer {
	if defaultConcurrency <= 0 {
		defaultConcurrency = 1
	}
	return &Consumer{
		broker:    b,
		snapshots: snapshots,
		channel:   channel,
		ceiling:   int64(defaultConcurrency),
		log:       logger.With().Str("component", "consumer").Logger(),
		defs:      make(map[string]definition),
	}
}

// Define registers a handler for a job name. Re-registering replaces the
// prior definition and takes effect immediately, before or after Start.
func (c *Consumer) Define(name string, opts models.JobOptions, handler Handler) {
	if name == "" || handler == nil {
		return
	}
	c.mu.Lock()
	c.defs[name] = definition{opts: opts, handler: handler}
	c.mu.Unlock()
}

// Start subscribes to the jobs channel and begins dispatching.
func (c *Consumer) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return fmt.Errorf("consumer already started")
	}
	if err := c.broker.Subscribe(ctx, c.channel, c.onMessage); err != nil {
		c.started.Store(false)
		return fmt.Errorf("start consumer: %w", err)
	}
	c.log.Info().Str("channel", c.channel).Int64("concurrency", c.ceiling).Msg("consumer started")
	return nil
}

func (c *Consumer) onMessage(ctx context.Context, payload []byte) {
	// Messages arriving after Stop began draining are dropped outright.
	if !c.started.Load() {
		return
	}

	job, err := models.DecodeJob(payload)
	if err != nil {
		c.log.Warn().Err(err).Msg("dropping undecodable job message")
		return
	}

	c.mu.RLock()
	def, ok := c.defs[job.Name]
	c.mu.RUnlock()
	if !ok {
		telemetry.JobsDroppedNoName.Inc()
		c.log.Warn().Str("job_id", job.ID).Str("name", job.Name).Msg("no handler registered; dropping")
		return
	}

	if status, err := c.snapshots.Status(ctx, job.ID); err == nil && status == models.JobStatusCancelled {
		c.log.Info().Str("job_id", job.ID).Msg("job cancelled before dispatch; dropping")
		return
	}

	// Reserve a slot before dispatching. Over the ceiling the message is
	// lost: the transport keeps no backlog for us to defer into.
	if c.active.Add(1) > c.ceiling {
		c.active.Add(-1)
		telemetry.JobsDroppedFull.Inc()
		c.log.Warn().
			Str("job_id", job.ID).
			Str("name", job.Name).
			Int64("ceiling", c.ceiling).
			Msg("concurrency ceiling reached; dropping")
		return
	}

	telemetry.JobsDispatched.Inc()
	telemetry.JobsInFlight.Inc()
	c.wg.Add(1)
	go c.dispatch(ctx, job, def.handler)
}

func (c *Consumer) dispatch(ctx context.Context, job models.Job, handler Handler) {
	defer func() {
		c.active.Add(-1)
		telemetry.JobsInFlight.Dec()
		c.wg.Done()
	}()

	_ = c.snapshots.SetStatus(ctx, job.ID, models.JobStatusRunning)

	start := time.Now()
	err := handler(ctx, job)
	duration := time.Since(start)

	if err != nil {
		telemetry.JobsFailed.Inc()
		_ = c.snapshots.SetStatus(ctx, job.ID, models.JobStatusFailed)
		c.log.Error().
			Err(err).
			Str("job_id", job.ID).
			Str("name", job.Name).
			Dur("duration", duration).
			Msg("job failed")
		return
	}

	telemetry.JobsCompleted.Inc()
	_ = c.snapshots.SetStatus(ctx, job.ID, models.JobStatusCompleted)
	c.log.Info().
		Str("job_id", job.ID).
		Str("name", job.Name).
		Dur("duration", duration).
		Msg("job completed")
}

// ActiveCount reports how many handler invocations are executing.
func (c *Consumer) ActiveCount() int64 {
	return c.active.Load()
}

// Stop drains active handlers bounded by the timeout, then unsubscribes. If
// the timeout elapses first it proceeds anyway and logs how many jobs were
// still running.
func (c *Consumer) Stop(ctx context.Context, timeout time.Duration) error {
	if !c.started.CompareAndSwap(true, false) {
		return nil
	}

	drained := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(timeout):
		c.log.Warn().
			Int64("still_active", c.active.Load()).
			Dur("timeout", timeout).
			Msg("drain timed out; unsubscribing anyway")
	case <-ctx.Done():
		c.log.Warn().Int64("still_active", c.active.Load()).Msg("stop cancelled before drain completed")
	}

	if err := c.broker.Unsubscribe(ctx, c.channel); err != nil {
		return fmt.Errorf("stop consumer: %w", err)
	}
	c.log.Info().Msg("consumer stopped")
	return nil
}
