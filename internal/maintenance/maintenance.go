// Package maintenance runs periodic housekeeping on a cron schedule.
package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/roniherschmann/go-pulse/internal/metrics"
	"github.com/roniherschmann/go-pulse/internal/ratelimit"
	"github.com/roniherschmann/go-pulse/internal/store"
)

// Job is a named unit of periodic work.
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) error
}

type Scheduler struct {
	cron    *cron.Cron
	timeout time.Duration
}

// New returns a scheduler whose jobs each run under timeout. Overlapping runs
// of the same job are skipped.
func New(timeout time.Duration) *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		timeout: timeout,
	}
}

// Add registers job. A job with an empty schedule is disabled and ignored.
func (s *Scheduler) Add(job Job) error {
	if job.Schedule == "" {
		log.Info().Str("job", job.Name).Msg("maintenance job disabled")
		return nil
	}
	if _, err := s.cron.AddFunc(job.Schedule, func() { s.run(job) }); err != nil {
		return fmt.Errorf("schedule %s: %w", job.Name, err)
	}
	log.Info().Str("job", job.Name).Str("schedule", job.Schedule).Msg("maintenance job scheduled")
	return nil
}

// Len returns the number of scheduled jobs.
func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop prevents new runs and waits for running jobs, or for ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		log.Warn().Msg("maintenance jobs still running at shutdown")
	}
}

func (s *Scheduler) run(job Job) {
	ctx := context.Background()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	start := time.Now()
	if err := job.Run(ctx); err != nil {
		metrics.MaintenanceRuns.WithLabelValues(job.Name, "failure").Inc()
		log.Error().Err(err).Str("job", job.Name).Msg("maintenance job failed")
		return
	}
	metrics.MaintenanceRuns.WithLabelValues(job.Name, "success").Inc()
	log.Debug().Str("job", job.Name).Dur("duration", time.Since(start)).Msg("maintenance job done")
}

// Purge deletes raw events older than retentionDays.
func Purge(st store.Store, retentionDays int, schedule string, now func() time.Time) Job {
	return Job{
		Name:     "purge",
		Schedule: schedule,
		Run: func(ctx context.Context) error {
			cutoff := now().UTC().Add(-time.Duration(retentionDays) * 24 * time.Hour)
			n, err := st.PurgeBefore(ctx, cutoff)
			if err != nil {
				return err
			}
			log.Info().Int64("deleted", n).Time("cutoff", cutoff).Msg("purged expired events")
			return nil
		},
	}
}

// Sweep drops fully expired client windows from the in-memory limiter.
func Sweep(sw *ratelimit.SlidingWindow, schedule string) Job {
	return Job{
		Name:     "sweep",
		Schedule: schedule,
		Run: func(context.Context) error {
			removed := sw.Sweep()
			metrics.LimiterKeys.Set(float64(sw.Len()))
			if removed > 0 {
				log.Debug().Int("removed", removed).Msg("swept limiter windows")
			}
			return nil
		},
	}
}

// Refresher recomputes precomputed aggregates.
type Refresher interface {
	RefreshRollups(ctx context.Context) error
}

func Refresh(r Refresher, schedule string) Job {
	return Job{Name: "refresh", Schedule: schedule, Run: r.RefreshRollups}
}
