// Package scheduler runs the periodic maintenance tasks: proactive token
// refresh for idle backends and the sweep of expired upload sessions.
package scheduler

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/mediavault/internal/logging"
	"github.com/robfig/cron/v3"
)

// TaskFunc performs one run and reports how many items it handled.
type TaskFunc func(ctx context.Context) (int, error)

type Task struct {
	Name string
	// Spec is a cron expression or descriptor such as "@every 30m".
	Spec string
	Run  TaskFunc
}

type Scheduler struct {
	cron   *cron.Cron
	logger logging.Logger
	tasks  []Task
}

func New(l logging.Logger, tasks ...Task) *Scheduler {
	return &Scheduler{
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger: l.With("module", "scheduler"),
		tasks:  tasks,
	}
}

// Run registers the tasks, fires them on schedule until ctx is done and then
// waits for running tasks to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	for _, t := range s.tasks {
		if _, err := s.cron.AddFunc(t.Spec, func() { s.runTask(ctx, t) }); err != nil {
			return fmt.Errorf("schedule %s %q: %w", t.Name, t.Spec, err)
		}
		s.logger.Info(ctx, "task scheduled", "task", t.Name, "spec", t.Spec)
	}

	s.cron.Start()
	<-ctx.Done()

	s.logger.Info(ctx, "Stopping scheduler...")
	<-s.cron.Stop().Done()
	return nil
}

func (s *Scheduler) runTask(ctx context.Context, t Task) {
	if ctx.Err() != nil {
		return
	}
	n, err := t.Run(ctx)
	if err != nil {
		s.logger.Error(ctx, "task failed", "task", t.Name, "error", err)
		return
	}
	if n > 0 {
		s.logger.Info(ctx, "task completed", "task", t.Name, "count", n)
	}
}
