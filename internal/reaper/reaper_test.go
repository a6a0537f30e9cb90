package reaper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type fakeSweeper struct {
	calls     int
	threshold time.Duration
	reaped    int64
	err       error
}

func (f *fakeSweeper) ReapStuckRunning(_ context.Context, olderThan time.Duration) (int64, error) {
	f.calls++
	f.threshold = olderThan
	return f.reaped, f.err
}

func TestSweepPassesThreshold(t *testing.T) {
	sweeper := &fakeSweeper{reaped: 3}
	r := New(sweeper, time.Hour, "@every 1h", zerolog.Nop())

	r.Sweep(context.Background())
	assert.Equal(t, 1, sweeper.calls)
	assert.Equal(t, time.Hour, sweeper.threshold)
}

func TestSweepSurvivesErrors(t *testing.T) {
	sweeper := &fakeSweeper{err: errors.New("db down")}
	r := New(sweeper, time.Hour, "@every 1h", zerolog.Nop())

	r.Sweep(context.Background())
	r.Sweep(context.Background())
	assert.Equal(t, 2, sweeper.calls)
}

func TestStartStop(t *testing.T) {
	sweeper := &fakeSweeper{}
	r := New(sweeper, time.Hour, "@every 1h", zerolog.Nop())

	assert.NoError(t, r.Start())
	r.Stop()
}
