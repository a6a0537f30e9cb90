// Package reaper reconciles workflows stranded in RUNNING by a crash
// mid-handler. Without it those rows never reach a terminal state.
package reaper

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"leadflow/internal/telemetry"
)

// Sweeper is the store operation the reaper drives.
type Sweeper interface {
	ReapStuckRunning(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Reaper runs the stuck-workflow sweep on a cron schedule.
type Reaper struct {
	sweeper   Sweeper
	threshold time.Duration
	schedule  string
	cron      *cron.Cron
	log       zerolog.Logger
}

// New builds a reaper; Start registers and begins the schedule.
func New(sweeper Sweeper, threshold time.Duration, schedule string, logger zerolog.Logger) *Reaper {
	return &Reaper{
		sweeper:   sweeper,
		threshold: threshold,
		schedule:  schedule,
		cron:      cron.New(),
		log:       logger.With().Str("component", "reaper").Logger(),
	}
}

// Start schedules the sweep. The first run happens on schedule, not
// immediately; call Sweep directly for a startup pass.
func (r *Reaper) Start() error {
	if _, err := r.cron.AddFunc(r.schedule, func() {
		r.Sweep(context.Background())
	}); err != nil {
		return err
	}
	r.cron.Start()
	r.log.Info().Str("schedule", r.schedule).Dur("threshold", r.threshold).Msg("reaper started")
	return nil
}

// Sweep runs one reconciliation pass.
func (r *Reaper) Sweep(ctx context.Context) {
	n, err := r.sweeper.ReapStuckRunning(ctx, r.threshold)
	if err != nil {
		r.log.Error().Err(err).Msg("sweep failed")
		return
	}
	if n > 0 {
		telemetry.WorkflowsReaped.Add(float64(n))
		r.log.Warn().Int64("reaped", n).Msg("finished workflows stuck in RUNNING")
	}
}

// Stop halts the schedule and waits for an in-progress sweep.
func (r *Reaper) Stop() {
	<-r.cron.Stop().Done()
	r.log.Info().Msg("reaper stopped")
}
