package task

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"tradesim/internal/agent"
	"tradesim/internal/logger"
	"tradesim/internal/market"
)

// Store is the persistence surface for tasks and their run logs.
type Store interface {
	SaveTask(ctx context.Context, t *SystemTask) error
	GetTask(ctx context.Context, id string) (*SystemTask, error)
	ListTasks(ctx context.Context) ([]*SystemTask, error)
	UpdateNextRun(ctx context.Context, taskID string, next *time.Time) error
	IncrementRunCounters(ctx context.Context, taskID string, success bool) error
	CreateLog(ctx context.Context, log *TaskLog) error
	FinishLog(ctx context.Context, log *TaskLog) error
	ListLogs(ctx context.Context, taskID string, page, pageSize int) ([]*TaskLog, int64, error)
	GetLog(ctx context.Context, taskID, logID string) (*TaskLog, error)
	FailRunningLogs(ctx context.Context, cutoff time.Time, reason string) (int64, error)
}

// AgentDirectory resolves run targets against the current agent set.
type AgentDirectory interface {
	ListActive(ctx context.Context) ([]*agent.Agent, error)
	GetByIDs(ctx context.Context, ids []string) ([]*agent.Agent, error)
}

// Executor runs one agent through a decision cycle.
type Executor interface {
	Execute(ctx context.Context, a *agent.Agent) agent.Result
}

// QuoteSyncer refreshes quote history for a quote_sync task.
type QuoteSyncer interface {
	Sync(ctx context.Context, stockCodes []string, days int, forceFull bool) (market.SyncResult, error)
}

// MarketRefresher refreshes market snapshot payloads.
type MarketRefresher interface {
	Refresh(ctx context.Context, kinds []string) (market.RefreshOutcome, error)
}

// RunnerOptions bound the fan-out of agent_decision runs.
type RunnerOptions struct {
	Concurrency int
	UnitTimeout time.Duration
}

// Runner executes one task end to end: skip checks, type dispatch,
// bounded concurrent fan-out, aggregation, and the TaskLog write.
// At most one run per task is in flight at any time.
type Runner struct {
	store     Store
	agents    AgentDirectory
	executor  Executor
	quotes    QuoteSyncer
	refresher MarketRefresher
	calendar  *Calendar

	inflight    *inflight
	concurrency int
	unitTimeout time.Duration
	nowFn       func() time.Time
}

func NewRunner(store Store, agents AgentDirectory, executor Executor, quotes QuoteSyncer, refresher MarketRefresher, calendar *Calendar, opts RunnerOptions) *Runner {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 3
	}
	if opts.UnitTimeout <= 0 {
		opts.UnitTimeout = 3 * time.Minute
	}
	return &Runner{
		store:       store,
		agents:      agents,
		executor:    executor,
		quotes:      quotes,
		refresher:   refresher,
		calendar:    calendar,
		inflight:    newInflight(),
		concurrency: opts.Concurrency,
		unitTimeout: opts.UnitTimeout,
		nowFn:       time.Now,
	}
}

// Run executes the task synchronously and returns its completed log.
// A second run for the same task while one is in flight returns
// ErrTaskBusy without creating a log.
func (r *Runner) Run(ctx context.Context, t *SystemTask) (*TaskLog, error) {
	if !r.inflight.TryAcquire(t.ID) {
		return nil, ErrTaskBusy
	}
	defer r.inflight.Release(t.ID)

	log, err := r.startLog(ctx, t)
	if err != nil {
		return nil, err
	}
	r.execute(ctx, t, log)
	return log, nil
}

// Trigger starts a manual run. The running log is created before
// returning so the caller gets its ID; the run itself proceeds in the
// background, detached from the caller's context.
func (r *Runner) Trigger(ctx context.Context, t *SystemTask) (string, error) {
	if !r.inflight.TryAcquire(t.ID) {
		return "", ErrTaskBusy
	}
	log, err := r.startLog(ctx, t)
	if err != nil {
		r.inflight.Release(t.ID)
		return "", err
	}
	go func() {
		defer r.inflight.Release(t.ID)
		r.execute(context.Background(), t, log)
	}()
	return log.ID, nil
}

func (r *Runner) startLog(ctx context.Context, t *SystemTask) (*TaskLog, error) {
	log := &TaskLog{
		ID:        uuid.NewString(),
		TaskID:    t.ID,
		StartedAt: r.nowFn(),
		Status:    LogRunning,
	}
	if err := r.store.CreateLog(ctx, log); err != nil {
		return nil, fmt.Errorf("creating task log failed: %w", err)
	}
	return log, nil
}

// execute fills in the log and persists the final state. Counters on
// the owning task move once per completed log; skips leave them
// untouched.
func (r *Runner) execute(ctx context.Context, t *SystemTask, log *TaskLog) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Status = LogFailed
			log.ErrorMessage = fmt.Sprintf("task run panicked: %v", rec)
		}
		r.finish(ctx, t, log)
	}()

	if t.Status != TaskActive {
		log.Status = LogSkipped
		log.SkipReason = "task is paused"
		return
	}
	if t.TradingDayOnly && !r.calendar.IsTradingDay(r.nowFn()) {
		log.Status = LogSkipped
		log.SkipReason = "non-trading day"
		return
	}

	switch t.Type {
	case TypeAgentDecision:
		r.runAgentDecision(ctx, t, log)
	case TypeQuoteSync:
		r.runQuoteSync(ctx, t, log)
	case TypeMarketRefresh:
		r.runMarketRefresh(ctx, t, log)
	default:
		log.Status = LogFailed
		log.ErrorMessage = fmt.Sprintf("unknown task type %q", t.Type)
	}
}

func (r *Runner) finish(ctx context.Context, t *SystemTask, log *TaskLog) {
	done := r.nowFn()
	log.CompletedAt = &done
	log.DurationMS = done.Sub(log.StartedAt).Milliseconds()
	if err := r.store.FinishLog(ctx, log); err != nil {
		logger.Errorf("[runner] persisting log %s for task %s failed: %v", log.ID, t.ID, err)
	}

	switch log.Status {
	case LogSuccess:
		if err := r.store.IncrementRunCounters(ctx, t.ID, true); err != nil {
			logger.Errorf("[runner] counter update for task %s failed: %v", t.ID, err)
		}
	case LogFailed:
		if err := r.store.IncrementRunCounters(ctx, t.ID, false); err != nil {
			logger.Errorf("[runner] counter update for task %s failed: %v", t.ID, err)
		}
	}
	logger.Infof("[runner] task %s finished: status=%s duration=%dms", t.ID, log.Status, log.DurationMS)
}

func (r *Runner) runAgentDecision(ctx context.Context, t *SystemTask, log *TaskLog) {
	targets, err := r.resolveAgents(ctx, t.Target)
	if err != nil {
		log.Status = LogFailed
		log.ErrorMessage = fmt.Sprintf("resolving agents failed: %v", err)
		return
	}
	if len(targets) == 0 {
		log.Status = LogSkipped
		log.SkipReason = "no eligible agents"
		return
	}

	results := make([]AgentResult, len(targets))
	g := new(errgroup.Group)
	g.SetLimit(r.concurrency)
	for i, a := range targets {
		i, a := i, a
		g.Go(func() error {
			results[i] = r.runUnit(ctx, a)
			return nil
		})
	}
	_ = g.Wait()

	log.AgentResults = results
	var succeeded, failed int
	for _, res := range results {
		if res.Status == ResultSuccess {
			succeeded++
		} else {
			failed++
		}
	}
	if succeeded == 0 {
		log.Status = LogFailed
		log.ErrorMessage = "all agents failed"
		return
	}
	log.Status = LogSuccess
	log.Message = fmt.Sprintf("%d succeeded, %d failed", succeeded, failed)
}

// runUnit wraps one agent execution in its own failure boundary: a
// panic or timeout becomes a failed AgentResult and never reaches
// sibling units.
func (r *Runner) runUnit(ctx context.Context, a *agent.Agent) (out AgentResult) {
	started := r.nowFn()
	out = AgentResult{AgentID: a.ID, AgentName: a.Name, StartedAt: started}
	defer func() {
		if rec := recover(); rec != nil {
			out.Status = ResultFailed
			out.ErrorMessage = fmt.Sprintf("agent execution panicked: %v", rec)
		}
		done := r.nowFn()
		out.CompletedAt = done
		out.DurationMS = done.Sub(started).Milliseconds()
	}()

	unitCtx, cancel := context.WithTimeout(ctx, r.unitTimeout)
	defer cancel()

	res := r.executor.Execute(unitCtx, a)
	if res.Success {
		out.Status = ResultSuccess
		out.Message = res.Message
	} else {
		out.Status = ResultFailed
		out.ErrorMessage = res.Err
	}
	return out
}

func (r *Runner) resolveAgents(ctx context.Context, target AgentTarget) ([]*agent.Agent, error) {
	var (
		candidates []*agent.Agent
		err        error
	)
	if target.AllActive {
		candidates, err = r.agents.ListActive(ctx)
	} else {
		if len(target.IDs) == 0 {
			return nil, nil
		}
		candidates, err = r.agents.GetByIDs(ctx, target.IDs)
	}
	if err != nil {
		return nil, err
	}
	eligible := candidates[:0]
	for _, a := range candidates {
		if a.Eligible() {
			eligible = append(eligible, a)
		}
	}
	return eligible, nil
}

func (r *Runner) runQuoteSync(ctx context.Context, t *SystemTask, log *TaskLog) {
	cfg := t.Config.QuoteSync
	if cfg == nil {
		cfg = &QuoteSyncConfig{}
	}
	res, err := r.quotes.Sync(ctx, cfg.StockCodes, cfg.Days, cfg.ForceFull)
	if err != nil {
		log.Status = LogFailed
		log.ErrorMessage = err.Error()
		return
	}
	log.Status = LogSuccess
	log.Message = res.Message
}

func (r *Runner) runMarketRefresh(ctx context.Context, t *SystemTask, log *TaskLog) {
	var kinds []string
	if cfg := t.Config.MarketRefresh; cfg != nil {
		kinds = cfg.RefreshTypes
	}
	out, err := r.refresher.Refresh(ctx, kinds)
	if err != nil {
		log.Status = LogFailed
		log.ErrorMessage = err.Error()
		return
	}
	if len(out.Refreshed) == 0 {
		log.Status = LogFailed
		log.ErrorMessage = out.ErrorMessage()
		return
	}
	log.Status = LogSuccess
	log.Message = fmt.Sprintf("refreshed %d kinds", len(out.Refreshed))
	if !out.AllSucceeded() {
		log.Message = fmt.Sprintf("%s; %s", log.Message, out.ErrorMessage())
	}
}
