// Package schedule runs the export on a cron schedule.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"

	"github.com/cantalupo555/simplifi-exporter/internal/logfields"
)

// DefaultCron runs the export every day at 06:00 local time.
const DefaultCron = "0 6 * * *"

// Scheduler wraps a gocron scheduler. A failed run is logged and the next one
// still fires.
type Scheduler struct {
	scheduler gocron.Scheduler
	logger    *slog.Logger

	runs     atomic.Int64
	failures atomic.Int64
}

// New creates a scheduler. opts are passed to gocron, e.g. WithLocation.
func New(logger *slog.Logger, opts ...gocron.SchedulerOption) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s, err := gocron.NewScheduler(append([]gocron.SchedulerOption{gocron.WithLogger(logger)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	return &Scheduler{scheduler: s, logger: logger}, nil
}

// Add schedules task on crontab (five fields, no seconds). A run that is
// still going when the next one is due pushes that one to the following
// slot instead of overlapping. ctx is handed to every run and canceled runs
// stop when the scheduler shuts down.
func (s *Scheduler) Add(ctx context.Context, name, crontab string, task func(context.Context) error) (gocron.Job, error) {
	job, err := s.scheduler.NewJob(
		gocron.CronJob(crontab, false),
		gocron.NewTask(func(ctx context.Context) error { return task(ctx) }),
		gocron.WithName(name),
		gocron.WithContext(ctx),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithEventListeners(
			gocron.BeforeJobRuns(func(_ uuid.UUID, name string) {
				s.runs.Add(1)
				s.logger.Info("⏰ Scheduled export starting", slog.String("job", name))
			}),
			gocron.AfterJobRunsWithError(func(_ uuid.UUID, name string, err error) {
				s.failures.Add(1)
				s.logger.Error("❌ Scheduled export failed", slog.String("job", name), logfields.Error(err))
			}),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("schedule %q with %q: %w", name, crontab, err)
	}
	return job, nil
}

// Start begins the scheduler.
func (s *Scheduler) Start() {
	s.logger.Info("Starting scheduler")
	s.scheduler.Start()
	for _, j := range s.scheduler.Jobs() {
		if next, err := j.NextRun(); err == nil {
			s.logger.Info("Next export scheduled", slog.String("job", j.Name()), slog.String("at", next.Format(time.RFC3339)))
		}
	}
}

// Stop shuts down the scheduler and waits for running jobs.
func (s *Scheduler) Stop() error {
	s.logger.Info("Stopping scheduler")
	return s.scheduler.Shutdown()
}

// Runs returns how many runs started.
func (s *Scheduler) Runs() int64 { return s.runs.Load() }

// Failures returns how many runs returned an error.
func (s *Scheduler) Failures() int64 { return s.failures.Load() }
