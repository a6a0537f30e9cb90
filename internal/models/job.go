package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Priority orders jobs at enqueue time. The pub/sub transport does not
// reorder deliveries, so priority is advisory metadata carried on the
// envelope.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Job statuses tracked in the producer's snapshot store. The workflow row in
// Postgres stays authoritative for business state; these exist so status
// lookup and cancel work on a broadcast transport.
const (
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
	JobStatusCancelled = "cancelled"
)

// JobOptions tune a single job definition or enqueue.
type JobOptions struct {
	Priority     Priority      `json:"priority"`
	LockLifetime time.Duration `json:"lockLifetime,omitempty"`
}

// Job is the canonical job value consumed uniformly by producer, consumer,
// and handlers regardless of transport.
type Job struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Data      map[string]any `json:"data"`
	Options   JobOptions     `json:"options"`
	CreatedAt time.Time      `json:"createdAt"`
	Status    string         `json:"status"`
}

// Encode serializes the job into its wire envelope.
func (j Job) Encode() ([]byte, error) {
	b, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("encode job %s: %w", j.ID, err)
	}
	return b, nil
}

// DecodeJob parses a wire envelope back into a Job.
func DecodeJob(raw []byte) (Job, error) {
	var j Job
	if err := json.Unmarshal(raw, &j); err != nil {
		return Job{}, fmt.Errorf("decode job envelope: %w", err)
	}
	if j.Name == "" {
		return Job{}, fmt.Errorf("decode job envelope: missing name")
	}
	return j, nil
}

// StringField extracts a required string field from the job payload.
func (j Job) StringField(key string) (string, error) {
	v, ok := j.Data[key]
	if !ok || v == nil {
		return "", fmt.Errorf("job %s: missing required field %q", j.Name, key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("job %s: field %q must be a non-empty string", j.Name, key)
	}
	return s, nil
}
