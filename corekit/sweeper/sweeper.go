// Package sweeper runs askyd's background compaction/session-expiry sweep
// on a cron schedule via robfig/cron's scheduler.
package sweeper

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Job is one unit of sweep work. Implementations should be fast and
// non-blocking relative to the sweep interval; the scheduler starts each
// tick in its own goroutine, so a job still running when its next tick
// arrives runs concurrently with the new run.
type Job func(ctx context.Context) error

// Sweeper wraps a cron.Cron scheduler, logging each job's outcome.
type Sweeper struct {
	cron   *cron.Cron
	logger *slog.Logger
}

// New returns a Sweeper ready to have jobs added. Its scheduler accepts
// standard five-field cron expressions or "@every 15m" style descriptors;
// each schedule is parsed by AddJob.
func New(logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		cron:   cron.New(cron.WithParser(cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor))),
		logger: logger.With("component", "sweeper"),
	}
}

// AddJob schedules job to run on schedule. Returns an error if schedule is
// not a valid cron expression or descriptor.
func (s *Sweeper) AddJob(name, schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() {
		if err := job(context.Background()); err != nil {
			s.logger.Error("sweep job failed", "job", name, "error", err)
			return
		}
		s.logger.Debug("sweep job completed", "job", name)
	})
	return err
}

// Start begins running scheduled jobs in a background goroutine.
func (s *Sweeper) Start() { s.cron.Start() }

// Stop waits for running jobs to finish and stops the scheduler.
func (s *Sweeper) Stop() { <-s.cron.Stop().Done() }
