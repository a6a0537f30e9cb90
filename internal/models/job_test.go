package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobEnvelopeRoundTrip(t *testing.T) {
	job := Job{
		ID:        "j-1",
		Name:      "lead_discovery_handler",
		Data:      map[string]any{"workflow_id": "w-1"},
		Options:   JobOptions{Priority: PriorityHigh},
		CreatedAt: time.Now().UTC().Truncate(time.Second),
		Status:    JobStatusQueued,
	}

	raw, err := job.Encode()
	require.NoError(t, err)

	// Envelope field names are part of the wire contract.
	var envelope map[string]any
	require.NoError(t, json.Unmarshal(raw, &envelope))
	for _, key := range []string{"id", "name", "data", "options", "createdAt", "status"} {
		assert.Contains(t, envelope, key)
	}

	decoded, err := DecodeJob(raw)
	require.NoError(t, err)
	assert.Equal(t, job.ID, decoded.ID)
	assert.Equal(t, job.Name, decoded.Name)
	assert.Equal(t, PriorityHigh, decoded.Options.Priority)
	assert.Equal(t, "w-1", decoded.Data["workflow_id"])
}

func TestDecodeJobRejectsMissingName(t *testing.T) {
	_, err := DecodeJob([]byte(`{"id":"j-1","data":{}}`))
	assert.Error(t, err)
}

func TestStringField(t *testing.T) {
	job := Job{Name: "lead_discovery_handler", Data: map[string]any{
		"workflow_id": "w-1",
		"lead_count":  5,
		"empty":       "",
	}}

	v, err := job.StringField("workflow_id")
	require.NoError(t, err)
	assert.Equal(t, "w-1", v)

	_, err = job.StringField("missing")
	assert.Error(t, err)
	_, err = job.StringField("lead_count")
	assert.Error(t, err)
	_, err = job.StringField("empty")
	assert.Error(t, err)
}
