package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/lysyi3m/research-digest/app/pipeline"
)

// Runner is the pipeline entry point shared with the manual trigger
type Runner interface {
	Run(ctx context.Context, trigger pipeline.Trigger) (pipeline.Run, error)
}

var _ Runner = (*pipeline.Orchestrator)(nil)

// Scheduler fires the pipeline once a day at a fixed wall-clock time.
type Scheduler struct {
	runner  Runner
	cron    *cron.Cron
	entryID cron.EntryID
	spec    string
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	started bool
}

func NewScheduler(runner Runner, hour, minute int, location *time.Location) (*Scheduler, error) {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return nil, fmt.Errorf("invalid schedule time %02d:%02d", hour, minute)
	}
	if location == nil {
		location = time.Local
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Scheduler{
		runner: runner,
		cron:   cron.New(cron.WithLocation(location)),
		spec:   fmt.Sprintf("%d %d * * *", minute, hour),
		ctx:    ctx,
		cancel: cancel,
	}

	id, err := s.cron.AddFunc(s.spec, s.fire)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to register daily job: %w", err)
	}
	s.entryID = id

	return s, nil
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return
	}
	s.started = true
	s.cron.Start()

	slog.Info("Scheduler started", "spec", s.spec, "next_run", s.NextRun())
}

// Stop disarms the timer and waits for an in-flight firing to finish or for
// ctx to expire, whichever comes first.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.mu.Unlock()

	cronDone := s.cron.Stop()

	select {
	case <-cronDone.Done():
		s.cancel()
		slog.Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		s.cancel()
		return fmt.Errorf("failed to stop scheduler: %w", ctx.Err())
	}
}

// NextRun returns the next firing time, or the zero time when not started.
func (s *Scheduler) NextRun() time.Time {
	return s.cron.Entry(s.entryID).Next
}

func (s *Scheduler) fire() {
	run, err := s.runner.Run(s.ctx, pipeline.TriggerScheduled)
	switch {
	case pipeline.IsBusy(err):
		slog.Info("Scheduled run skipped, pipeline already running")
	case err != nil:
		slog.Warn("Scheduled run failed", "run_id", run.ID, "reason", run.Reason, "error", err)
	default:
		slog.Info("Scheduled run completed", "run_id", run.ID, "post_id", run.PostID)
	}
}
