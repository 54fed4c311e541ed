package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// Runner runs one reconcile cycle
type Runner interface {
	RunCycle(ctx context.Context) (CycleStats, error)
}

// Scheduler runs a Runner on a fixed interval, one cycle at a time
type Scheduler struct {
	sched    gocron.Scheduler
	runner   Runner
	interval time.Duration
	log      *slog.Logger
}

// NewScheduler creates a scheduler; nothing runs until Start
func NewScheduler(runner Runner, interval time.Duration, log *slog.Logger) (*Scheduler, error) {
	sched, err := gocron.NewScheduler(gocron.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	return &Scheduler{
		sched:    sched,
		runner:   runner,
		interval: interval,
		log:      log,
	}, nil
}

// Start schedules the first cycle immediately and then every interval.
// A cycle still running when the next is due delays it instead of overlapping.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.sched.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(func() {
			// errors are logged by the runner; the next tick retries
			_, _ = s.runner.RunCycle(ctx)
		}),
		gocron.WithName("reconcile"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("schedule reconcile: %w", err)
	}

	s.sched.Start()
	s.log.Info("reconcile scheduler started", "interval", s.interval)
	return nil
}

// Stop waits for a running cycle to return and stops the scheduler
func (s *Scheduler) Stop() error {
	return s.sched.Shutdown()
}
