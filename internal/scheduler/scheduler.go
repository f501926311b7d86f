package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/i474232898/weather-history-collector/internal/weather"
)

// Runner executes one collection cycle.
type Runner interface {
	RunCycle(ctx context.Context, trigger string) weather.CycleReport
}

// Scheduler triggers a collection cycle once a day at a fixed wall-clock time.
type Scheduler struct {
	scheduler  *gocron.Scheduler
	runner     Runner
	at         string
	runOnStart bool
	logger     *zap.Logger
	job        *gocron.Job
}

// New creates a new Scheduler firing daily at at ("HH:MM") in loc.
func New(runner Runner, at string, loc *time.Location, runOnStart bool, logger *zap.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		scheduler:  gocron.NewScheduler(loc),
		runner:     runner,
		at:         at,
		runOnStart: runOnStart,
		logger:     logger.With(zap.String("component", "scheduler")),
	}
}

// Start optionally runs one cycle synchronously, then schedules the daily job
// and starts the underlying scheduler. Ticks missed while the process was down
// are not caught up. Cycles started by the job use ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.runOnStart {
		s.logger.Info("running startup cycle")
		s.runner.RunCycle(ctx, "startup")
	}

	// A tick that fires while the previous cycle still runs is skipped.
	s.scheduler.SingletonModeAll()
	job, err := s.scheduler.Every(1).Day().At(s.at).Do(func() {
		s.logger.Info("running scheduled cycle")
		s.runner.RunCycle(ctx, "schedule")
		s.logger.Info("next cycle scheduled", zap.Time("next_run", s.NextRun()))
	})
	if err != nil {
		return fmt.Errorf("scheduling daily cycle at %q: %w", s.at, err)
	}
	s.job = job

	s.scheduler.StartAsync()
	s.logger.Info("scheduler started", zap.String("at", s.at), zap.Time("next_run", s.NextRun()))
	return nil
}

// NextRun returns when the daily job fires next, or the zero time before Start.
func (s *Scheduler) NextRun() time.Time {
	if s.job == nil {
		return time.Time{}
	}
	return s.job.NextRun()
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
