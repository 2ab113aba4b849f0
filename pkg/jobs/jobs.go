// Package jobs runs background work on cron schedules.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Sweeper is the work the delinquency job performs.
type Sweeper interface {
	SweepDelinquencies(ctx context.Context)
}

// Scheduler owns the cron runner and the jobs registered on it.
type Scheduler struct {
	cron    *cron.Cron
	logger  *zap.Logger
	timeout time.Duration
	entries int
}

func NewScheduler(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cron:    cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger))),
		logger:  logger,
		timeout: 5 * time.Minute,
	}
}

// AddDelinquencySweep schedules s on spec. An empty spec leaves the job off.
func (s *Scheduler) AddDelinquencySweep(spec string, sw Sweeper) error {
	if spec == "" {
		s.logger.Info("delinquency sweep disabled", zap.String("op", "jobs.AddDelinquencySweep"))
		return nil
	}
	_, err := s.cron.AddFunc(spec, func() { s.run("delinquency_sweep", sw.SweepDelinquencies) })
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	s.entries++
	s.logger.Info("delinquency sweep scheduled", zap.String("op", "jobs.AddDelinquencySweep"), zap.String("schedule", spec))
	return nil
}

// Len is the number of scheduled jobs.
func (s *Scheduler) Len() int {
	return s.entries
}

func (s *Scheduler) run(name string, fn func(context.Context)) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	start := time.Now()
	fn(ctx)
	s.logger.Debug("job finished", zap.String("op", "jobs.run"), zap.String("job", name), zap.Duration("took", time.Since(start)))
}

// Start runs the scheduler in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the scheduler and waits for running jobs up to ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("jobs still running at shutdown", zap.String("op", "jobs.Stop"))
	}
}
