package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors the transport layer maps to HTTP statuses.
var (
	ErrNotFound   = errors.New("task not found")
	ErrValidation = errors.New("invalid task")
)

// CreateTaskRequest is the write shape for new tasks.
type CreateTaskRequest struct {
	Name           string
	Type           string
	CronExpr       string
	AgentIDs       []string
	Config         map[string]any
	TradingDayOnly bool
}

// UpdateTaskRequest updates an existing task; nil fields are left
// unchanged.
type UpdateTaskRequest struct {
	Name           *string
	CronExpr       *string
	AgentIDs       []string
	Config         map[string]any
	TradingDayOnly *bool
}

// Service owns task lifecycle: create, update, soft delete, pause and
// resume, with cron and type validation at the boundary so no TaskLog
// is ever created for a malformed definition.
type Service struct {
	store Store
	nowFn func() time.Time
}

func NewService(store Store) *Service {
	return &Service{store: store, nowFn: time.Now}
}

func (s *Service) Create(ctx context.Context, req CreateTaskRequest) (*SystemTask, error) {
	taskType, err := ParseTaskType(req.Type)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	next, err := NextRun(req.CronExpr, s.nowFn())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	cfg, err := DecodeTaskConfig(taskType, req.Config)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if req.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	}

	now := s.nowFn()
	t := &SystemTask{
		ID:             uuid.NewString(),
		Name:           req.Name,
		Type:           taskType,
		CronExpr:       req.CronExpr,
		Target:         ParseAgentTarget(req.AgentIDs),
		Config:         cfg,
		TradingDayOnly: req.TradingDayOnly,
		Status:         TaskActive,
		NextRunTime:    &next,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.SaveTask(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Service) Update(ctx context.Context, id string, req UpdateTaskRequest) (*SystemTask, error) {
	t, err := s.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status == TaskDeleted {
		return nil, ErrNotFound
	}

	if req.Name != nil {
		t.Name = *req.Name
	}
	if req.CronExpr != nil {
		next, err := NextRun(*req.CronExpr, s.nowFn())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		t.CronExpr = *req.CronExpr
		if t.Status == TaskActive {
			t.NextRunTime = &next
		}
	}
	if req.AgentIDs != nil {
		t.Target = ParseAgentTarget(req.AgentIDs)
	}
	if req.Config != nil {
		cfg, err := DecodeTaskConfig(t.Type, req.Config)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		t.Config = cfg
	}
	if req.TradingDayOnly != nil {
		t.TradingDayOnly = *req.TradingDayOnly
	}
	t.UpdatedAt = s.nowFn()

	if err := s.store.SaveTask(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Delete soft-disables the task. Logs referencing it stay readable.
func (s *Service) Delete(ctx context.Context, id string) error {
	t, err := s.store.GetTask(ctx, id)
	if err != nil {
		return err
	}
	t.Status = TaskDeleted
	t.NextRunTime = nil
	t.UpdatedAt = s.nowFn()
	return s.store.SaveTask(ctx, t)
}

// Pause clears scheduling eligibility without touching history.
func (s *Service) Pause(ctx context.Context, id string) (*SystemTask, error) {
	t, err := s.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status == TaskDeleted {
		return nil, ErrNotFound
	}
	t.Status = TaskPaused
	t.NextRunTime = nil
	t.UpdatedAt = s.nowFn()
	if err := s.store.SaveTask(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Resume reactivates the task and recomputes next_run_time from now.
func (s *Service) Resume(ctx context.Context, id string) (*SystemTask, error) {
	t, err := s.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status == TaskDeleted {
		return nil, ErrNotFound
	}
	next, err := NextRun(t.CronExpr, s.nowFn())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	t.Status = TaskActive
	t.NextRunTime = &next
	t.UpdatedAt = s.nowFn()
	if err := s.store.SaveTask(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Service) Get(ctx context.Context, id string) (*SystemTask, error) {
	return s.store.GetTask(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]*SystemTask, error) {
	return s.store.ListTasks(ctx)
}
