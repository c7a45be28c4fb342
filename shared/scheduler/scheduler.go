package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"channel-shuffler/shared/monitoring"

	"github.com/robfig/cron/v3"
)

// Job is a unit of periodic maintenance.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// JobFunc adapts a function to Job.
type JobFunc struct {
	JobName string
	Fn      func(ctx context.Context) error
}

func (j JobFunc) Name() string                  { return j.JobName }
func (j JobFunc) Run(ctx context.Context) error { return j.Fn(ctx) }

type entry struct {
	spec string
	job  Job
}

// Scheduler runs jobs on cron schedules and reports them to a monitor.
type Scheduler struct {
	monitor *monitoring.Monitor
	cron    *cron.Cron
	entries []entry
	logger  *slog.Logger
}

func New(monitor *monitoring.Monitor, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		monitor: monitor,
		logger:  logger,
		// Prevent overlapping runs
		cron: cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger))),
	}
}

// Add registers a job under a six-field (seconds first) cron spec.
func (s *Scheduler) Add(ctx context.Context, spec string, job Job) error {
	_, err := s.cron.AddFunc(spec, func() {
		if err := s.RunOnce(ctx, job); err != nil {
			s.logger.Error("Scheduled job failed", slog.String("job", job.Name()), slog.Any("error", err))
		}
	})
	if err != nil {
		return fmt.Errorf("failed to add cron job %s: %w", job.Name(), err)
	}
	s.entries = append(s.entries, entry{spec: spec, job: job})
	return nil
}

// Start runs the registered jobs until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	for _, e := range s.entries {
		s.logger.Info("Scheduled job", slog.String("job", e.job.Name()), slog.String("schedule", e.spec))
	}
	s.cron.Start()

	<-ctx.Done()
	stopped := s.cron.Stop()
	<-stopped.Done()
	s.logger.Info("Scheduler stopped")
	return ctx.Err()
}

func (s *Scheduler) RunOnce(ctx context.Context, job Job) error {
	startTime := time.Now()

	if err := job.Run(ctx); err != nil {
		duration := time.Since(startTime)
		s.monitor.RecordCriticalFailure(fmt.Errorf("%s failed: %w", job.Name(), err), duration)
		return fmt.Errorf("%s run failed: %w", job.Name(), err)
	}

	s.monitor.RecordSuccess(job.Name(), time.Since(startTime))
	return nil
}
