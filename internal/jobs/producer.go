package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"leadflow/internal/broker"
	"leadflow/internal/models"
	"leadflow/internal/telemetry"
)

// ErrNotInitialized is returned by CreateJob before Initialize has run.
var ErrNotInitialized = errors.New("jobs: producer not initialized")

// Producer builds job envelopes and hands them to the broker. Enqueue is
// fire-and-forget: nothing waits for the consumer.
type Producer struct {
	broker    broker.Broker
	snapshots *SnapshotStore
	channel   string
	log       zerolog.Logger

	initialized atomic.Bool
}

// NewProducer wires a producer over a broker and snapshot store.
func NewProducer(b broker.Broker, snapshots *SnapshotStore, channel string, logger zerolog.Logger) *Producer {
	return &Producer{
		broker:    b,
		snapshots: snapshots,
		channel:   channel,
		log:       logger.With().Str("component", "producer").Logger(),
	}
}

// Initialize verifies the broker connection and marks the producer usable.
func (p *Producer) Initialize(ctx context.Context) error {
	if !p.broker.IsReady() {
		return fmt.Errorf("initialize producer: %w", broker.ErrNotConnected)
	}
	p.initialized.Store(true)
	return nil
}

// CreateJob publishes a job envelope and records its snapshot. The returned
// job carries the generated id and queued status.
func (p *Producer) CreateJob(ctx context.Context, name string, data map[string]any, opts models.JobOptions) (models.Job, error) {
	if !p.initialized.Load() {
		return models.Job{}, ErrNotInitialized
	}
	if name == "" {
		return models.Job{}, errors.New("jobs: job name is required")
	}
	if opts.Priority == "" {
		opts.Priority = models.PriorityNormal
	}
	if data == nil {
		data = map[string]any{}
	}

	job := models.Job{
		ID:        uuid.NewString(),
		Name:      name,
		Data:      data,
		Options:   opts,
		CreatedAt: time.Now().UTC(),
		Status:    models.JobStatusQueued,
	}

	if err := p.snapshots.Save(ctx, job); err != nil {
		// Snapshot loss degrades status lookup, not delivery.
		p.log.Warn().Err(err).Str("job_id", job.ID).Msg("snapshot save failed")
	}

	envelope, err := job.Encode()
	if err != nil {
		return models.Job{}, err
	}
	receivers, err := p.broker.Publish(ctx, p.channel, envelope)
	if err != nil {
		return models.Job{}, fmt.Errorf("enqueue job %s: %w", name, err)
	}

	telemetry.JobsPublished.Inc()
	p.log.Info().
		Str("job_id", job.ID).
		Str("name", name).
		Str("priority", string(opts.Priority)).
		Int64("receivers", receivers).
		Msg("job enqueued")
	return job, nil
}

// Now enqueues a job for immediate processing at normal priority.
func (p *Producer) Now(ctx context.Context, name string, data map[string]any) (models.Job, error) {
	return p.CreateJob(ctx, name, data, models.JobOptions{Priority: models.PriorityNormal})
}

// Schedule enqueues a job with an explicit priority.
func (p *Producer) Schedule(ctx context.Context, name string, data map[string]any, priority models.Priority) (models.Job, error) {
	return p.CreateJob(ctx, name, data, models.JobOptions{Priority: priority})
}

// Unique folds a dedup key into the payload. The transport does not enforce
// uniqueness; callers that need true dedup must check before enqueueing.
func (p *Producer) Unique(ctx context.Context, name string, data map[string]any, dedupKey string) (models.Job, error) {
	if data == nil {
		data = map[string]any{}
	}
	data["dedup_key"] = dedupKey
	return p.CreateJob(ctx, name, data, models.JobOptions{Priority: models.PriorityNormal})
}

// CancelJob marks a still-queued job cancelled so the consumer drops it on
// receipt. Returns false when the job is unknown or already past queued; a
// broadcast message itself cannot be retracted.
func (p *Producer) CancelJob(ctx context.Context, id string) (bool, error) {
	status, err := p.snapshots.Status(ctx, id)
	if err != nil {
		return false, err
	}
	if status != models.JobStatusQueued {
		return false, nil
	}
	if err := p.snapshots.SetStatus(ctx, id, models.JobStatusCancelled); err != nil {
		return false, err
	}
	p.log.Info().Str("job_id", id).Msg("job cancelled")
	return true, nil
}

// JobStatus returns the snapshot for a job, or nil when unknown.
func (p *Producer) JobStatus(ctx context.Context, id string) (*Snapshot, error) {
	return p.snapshots.Get(ctx, id)
}
