package task

import (
	"context"
	"errors"
	"time"

	"tradesim/internal/logger"
)

// Scheduler owns the dispatch loop: a fixed-interval ticker scans the
// active task set and hands due tasks to the runner. next_run_time is
// recomputed and persisted before the run starts so a slow run can
// never be re-dispatched for the same fire.
type Scheduler struct {
	store  Store
	runner *Runner
	tick   time.Duration
	nowFn  func() time.Time
}

func NewScheduler(store Store, runner *Runner, tick time.Duration) *Scheduler {
	if tick <= 0 {
		tick = 30 * time.Second
	}
	return &Scheduler{store: store, runner: runner, tick: tick, nowFn: time.Now}
}

// Prime settles state left over from the previous process: logs still
// marked running are failed (the run died with the process), and
// next_run_time is backfilled for active tasks that have none, such
// as tasks created while the scheduler was down. Tasks whose stored
// next_run_time is already in the past are left alone: the first tick
// fires each of them once and moves them back onto their cadence.
func (s *Scheduler) Prime(ctx context.Context) error {
	now := s.nowFn()
	if n, err := s.store.FailRunningLogs(ctx, now, "interrupted by restart"); err != nil {
		return err
	} else if n > 0 {
		logger.Warnf("[scheduler] failed %d stale running logs from a previous process", n)
	}

	tasks, err := s.store.ListTasks(ctx)
	if err != nil {
		return err
	}
	for _, t := range tasks {
		if t.Status != TaskActive || t.NextRunTime != nil {
			continue
		}
		next, err := NextRun(t.CronExpr, now)
		if err != nil {
			logger.Warnf("[scheduler] task %s has invalid cron %q: %v", t.ID, t.CronExpr, err)
			continue
		}
		if err := s.store.UpdateNextRun(ctx, t.ID, &next); err != nil {
			return err
		}
	}
	return nil
}

// Start runs the dispatch loop until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.Prime(ctx); err != nil {
		return err
	}
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	logger.Infof("[scheduler] started, tick=%s", s.tick)
	for {
		select {
		case <-ctx.Done():
			logger.Infof("[scheduler] stopped")
			return ctx.Err()
		case <-ticker.C:
			s.dispatchDue(ctx)
		}
	}
}

func (s *Scheduler) dispatchDue(ctx context.Context) {
	tasks, err := s.store.ListTasks(ctx)
	if err != nil {
		logger.Errorf("[scheduler] listing tasks failed: %v", err)
		return
	}
	now := s.nowFn()
	for _, t := range tasks {
		if t.Status != TaskActive || t.NextRunTime == nil || t.NextRunTime.After(now) {
			continue
		}
		next, err := NextRun(t.CronExpr, now)
		if err != nil {
			logger.Warnf("[scheduler] task %s has invalid cron %q: %v", t.ID, t.CronExpr, err)
			continue
		}
		if err := s.store.UpdateNextRun(ctx, t.ID, &next); err != nil {
			logger.Errorf("[scheduler] persisting next run for task %s failed: %v", t.ID, err)
			continue
		}
		t.NextRunTime = &next

		go func(t *SystemTask) {
			if _, err := s.runner.Run(context.WithoutCancel(ctx), t); err != nil {
				if errors.Is(err, ErrTaskBusy) {
					logger.Warnf("[scheduler] task %s still running, fire dropped", t.ID)
					return
				}
				logger.Errorf("[scheduler] task %s run failed to start: %v", t.ID, err)
			}
		}(t)
	}
}
