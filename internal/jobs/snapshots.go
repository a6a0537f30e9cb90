package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"leadflow/internal/models"
)

// Snapshot is the queryable job record kept alongside the broadcast-only
// transport. It is best-effort: absence means "unknown", not "failed".
type Snapshot struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	Priority  string    `json:"priority"`
	CreatedAt time.Time `json:"created_at"`
}

// SnapshotStore persists job snapshots as Redis hashes with a TTL.
type SnapshotStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewSnapshotStore wraps a Redis client for snapshot reads and writes.
func NewSnapshotStore(rdb *redis.Client, ttl time.Duration) *SnapshotStore {
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &SnapshotStore{rdb: rdb, ttl: ttl}
}

func snapshotKey(id string) string {
	return "job:" + id
}

// Save writes the full snapshot for a job.
func (s *SnapshotStore) Save(ctx context.Context, job models.Job) error {
	key := snapshotKey(job.ID)
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		"name":       job.Name,
		"status":     job.Status,
		"priority":   string(job.Options.Priority),
		"created_at": job.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save job snapshot %s: %w", job.ID, err)
	}
	return nil
}

// SetStatus updates only the status field, leaving the TTL in place.
func (s *SnapshotStore) SetStatus(ctx context.Context, id, status string) error {
	if err := s.rdb.HSet(ctx, snapshotKey(id), "status", status).Err(); err != nil {
		return fmt.Errorf("set job %s status: %w", id, err)
	}
	return nil
}

// Get returns the snapshot, or nil when the job is unknown.
func (s *SnapshotStore) Get(ctx context.Context, id string) (*Snapshot, error) {
	h, err := s.rdb.HGetAll(ctx, snapshotKey(id)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get job snapshot %s: %w", id, err)
	}
	if len(h) == 0 {
		return nil, nil
	}
	snap := &Snapshot{
		ID:       id,
		Name:     h["name"],
		Status:   h["status"],
		Priority: h["priority"],
	}
	if ts, err := time.Parse(time.RFC3339Nano, h["created_at"]); err == nil {
		snap.CreatedAt = ts
	}
	return snap, nil
}

// Status is a convenience read of the status field alone. Empty string means
// unknown.
func (s *SnapshotStore) Status(ctx context.Context, id string) (string, error) {
	v, err := s.rdb.HGet(ctx, snapshotKey(id), "status").Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get job %s status: %w", id, err)
	}
	return v, nil
}
