// Package scheduler runs the server's periodic maintenance jobs on cron.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/fredemmott/TempFiles/internal/logging"
	"github.com/robfig/cron/v3"
)

// Job is one unit of periodic work. The context is cancelled on shutdown.
type Job func(ctx context.Context) error

type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	logger logging.Logger
}

func New(logger logging.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		ctx:    context.Background(),
		logger: logger.With("module", "scheduler"),
	}
}

// Every registers job to run every interval (at least one second). Runs of
// the same job never overlap.
func (s *Scheduler) Every(interval time.Duration, name string, job Job) error {
	if interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive, got %s", name, interval)
	}
	_, err := s.cron.AddFunc("@every "+interval.String(), func() {
		start := time.Now()
		if err := job(s.ctx); err != nil {
			s.logger.Error(s.ctx, "scheduled job failed", "job", name, "error", err)
			return
		}
		s.logger.Debug(s.ctx, "scheduled job done", "job", name, "duration", time.Since(start))
	})
	if err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}
	return nil
}

// Run starts the jobs and blocks until ctx is done, then waits for running
// jobs to return.
func (s *Scheduler) Run(ctx context.Context) {
	s.ctx = ctx
	s.cron.Start()
	s.logger.Info(ctx, "scheduler started", "jobs", len(s.cron.Entries()))

	<-ctx.Done()

	<-s.cron.Stop().Done()
	s.logger.Info(context.Background(), "scheduler stopped")
}
