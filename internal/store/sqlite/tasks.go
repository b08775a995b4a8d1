package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tradesim/internal/store/model"
	"tradesim/internal/task"
)

func (s *Store) SaveTask(ctx context.Context, t *task.SystemTask) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("store not initialized")
	}
	rec, err := taskToModel(t)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(rec).Error
}

func (s *Store) GetTask(ctx context.Context, id string) (*task.SystemTask, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}
	var rec model.SystemTaskModel
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, task.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return taskFromModel(&rec)
}

// ListTasks returns every non-deleted task, newest first.
func (s *Store) ListTasks(ctx context.Context) ([]*task.SystemTask, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}
	var recs []model.SystemTaskModel
	if err := s.db.WithContext(ctx).
		Where("status <> ?", string(task.TaskDeleted)).
		Order("created_at DESC").
		Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]*task.SystemTask, 0, len(recs))
	for i := range recs {
		t, err := taskFromModel(&recs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *Store) UpdateNextRun(ctx context.Context, taskID string, next *time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("store not initialized")
	}
	var ms *int64
	if next != nil {
		v := next.UnixMilli()
		ms = &v
	}
	return s.db.WithContext(ctx).Model(&model.SystemTaskModel{}).
		Where("id = ?", taskID).
		Update("next_run_time", ms).Error
}

// IncrementRunCounters moves exactly one counter by one for a
// completed run.
func (s *Store) IncrementRunCounters(ctx context.Context, taskID string, success bool) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("store not initialized")
	}
	column := "fail_count"
	if success {
		column = "success_count"
	}
	return s.db.WithContext(ctx).Model(&model.SystemTaskModel{}).
		Where("id = ?", taskID).
		Update(column, gorm.Expr(column+" + 1")).Error
}

func (s *Store) CreateLog(ctx context.Context, log *task.TaskLog) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("store not initialized")
	}
	rec, err := logToModel(log)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(rec).Error
}

func (s *Store) FinishLog(ctx context.Context, log *task.TaskLog) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("store not initialized")
	}
	rec, err := logToModel(log)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(rec).Error
}

// ListLogs pages through a task's run history, newest first, and
// reports the total row count for the pager.
func (s *Store) ListLogs(ctx context.Context, taskID string, page, pageSize int) ([]*task.TaskLog, int64, error) {
	if s == nil || s.db == nil {
		return nil, 0, fmt.Errorf("store not initialized")
	}
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	base := s.db.WithContext(ctx).Model(&model.TaskLogModel{}).Where("task_id = ?", taskID)
	var total int64
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var recs []model.TaskLogModel
	if err := base.
		Order("started_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&recs).Error; err != nil {
		return nil, 0, err
	}
	out := make([]*task.TaskLog, 0, len(recs))
	for i := range recs {
		l, err := logFromModel(&recs[i])
		if err != nil {
			return nil, 0, err
		}
		out = append(out, l)
	}
	return out, total, nil
}

// FailRunningLogs marks running logs started before cutoff as failed.
// A log still running at startup belongs to a process that died
// mid-run and will never be finished by its runner.
func (s *Store) FailRunningLogs(ctx context.Context, cutoff time.Time, reason string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("store not initialized")
	}
	res := s.db.WithContext(ctx).Model(&model.TaskLogModel{}).
		Where("status = ? AND started_at < ?", string(task.LogRunning), unixMilli(cutoff)).
		Updates(map[string]any{
			"status":        string(task.LogFailed),
			"error_message": reason,
			"completed_at":  unixMilli(cutoff),
		})
	return res.RowsAffected, res.Error
}

func (s *Store) GetLog(ctx context.Context, taskID, logID string) (*task.TaskLog, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}
	var rec model.TaskLogModel
	err := s.db.WithContext(ctx).Where("id = ? AND task_id = ?", logID, taskID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, task.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return logFromModel(&rec)
}

func taskToModel(t *task.SystemTask) (*model.SystemTaskModel, error) {
	agentIDs := t.Target.IDs
	if t.Target.AllActive {
		agentIDs = []string{"all"}
	}
	idsJSON, err := json.Marshal(agentIDs)
	if err != nil {
		return nil, err
	}

	var cfg any
	switch {
	case t.Config.QuoteSync != nil:
		cfg = t.Config.QuoteSync
	case t.Config.MarketRefresh != nil:
		cfg = t.Config.MarketRefresh
	default:
		cfg = map[string]any{}
	}
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}

	var next *int64
	if t.NextRunTime != nil {
		v := t.NextRunTime.UnixMilli()
		next = &v
	}
	return &model.SystemTaskModel{
		ID:             t.ID,
		Name:           t.Name,
		TaskType:       string(t.Type),
		CronExpr:       t.CronExpr,
		AgentIDs:       idsJSON,
		ConfigJSON:     cfgJSON,
		TradingDayOnly: t.TradingDayOnly,
		Status:         string(t.Status),
		NextRunUnix:    next,
		SuccessCount:   t.SuccessCount,
		FailCount:      t.FailCount,
		CreatedAtUnix:  unixMilli(t.CreatedAt),
		UpdatedAtUnix:  unixMilli(t.UpdatedAt),
	}, nil
}

func taskFromModel(rec *model.SystemTaskModel) (*task.SystemTask, error) {
	var agentIDs []string
	if len(rec.AgentIDs) > 0 {
		if err := json.Unmarshal(rec.AgentIDs, &agentIDs); err != nil {
			return nil, fmt.Errorf("task %s has corrupt agent_ids: %w", rec.ID, err)
		}
	}

	taskType := task.TaskType(rec.TaskType)
	var cfg task.TaskConfig
	if len(rec.ConfigJSON) > 0 {
		switch taskType {
		case task.TypeQuoteSync:
			var qs task.QuoteSyncConfig
			if err := json.Unmarshal(rec.ConfigJSON, &qs); err != nil {
				return nil, fmt.Errorf("task %s has corrupt config: %w", rec.ID, err)
			}
			cfg.QuoteSync = &qs
		case task.TypeMarketRefresh:
			var mr task.MarketRefreshConfig
			if err := json.Unmarshal(rec.ConfigJSON, &mr); err != nil {
				return nil, fmt.Errorf("task %s has corrupt config: %w", rec.ID, err)
			}
			cfg.MarketRefresh = &mr
		}
	}

	var next *time.Time
	if rec.NextRunUnix != nil {
		v := time.UnixMilli(*rec.NextRunUnix)
		next = &v
	}
	return &task.SystemTask{
		ID:             rec.ID,
		Name:           rec.Name,
		Type:           taskType,
		CronExpr:       rec.CronExpr,
		Target:         task.ParseAgentTarget(agentIDs),
		Config:         cfg,
		TradingDayOnly: rec.TradingDayOnly,
		Status:         task.TaskStatus(rec.Status),
		NextRunTime:    next,
		SuccessCount:   rec.SuccessCount,
		FailCount:      rec.FailCount,
		CreatedAt:      fromUnixMilli(rec.CreatedAtUnix),
		UpdatedAt:      fromUnixMilli(rec.UpdatedAtUnix),
	}, nil
}

func logToModel(l *task.TaskLog) (*model.TaskLogModel, error) {
	var results []byte
	if l.AgentResults != nil {
		var err error
		results, err = json.Marshal(l.AgentResults)
		if err != nil {
			return nil, err
		}
	}
	var completed *int64
	if l.CompletedAt != nil {
		v := l.CompletedAt.UnixMilli()
		completed = &v
	}
	return &model.TaskLogModel{
		ID:              l.ID,
		TaskID:          l.TaskID,
		Status:          string(l.Status),
		StartedAtUnix:   unixMilli(l.StartedAt),
		CompletedAtUnix: completed,
		DurationMS:      l.DurationMS,
		SkipReason:      l.SkipReason,
		ErrorMessage:    l.ErrorMessage,
		Message:         l.Message,
		AgentResults:    results,
	}, nil
}

func logFromModel(rec *model.TaskLogModel) (*task.TaskLog, error) {
	var results []task.AgentResult
	if len(rec.AgentResults) > 0 {
		if err := json.Unmarshal(rec.AgentResults, &results); err != nil {
			return nil, fmt.Errorf("log %s has corrupt agent_results: %w", rec.ID, err)
		}
	}
	var completed *time.Time
	if rec.CompletedAtUnix != nil {
		v := time.UnixMilli(*rec.CompletedAtUnix)
		completed = &v
	}
	return &task.TaskLog{
		ID:           rec.ID,
		TaskID:       rec.TaskID,
		Status:       task.LogStatus(rec.Status),
		StartedAt:    fromUnixMilli(rec.StartedAtUnix),
		CompletedAt:  completed,
		DurationMS:   rec.DurationMS,
		SkipReason:   rec.SkipReason,
		ErrorMessage: rec.ErrorMessage,
		Message:      rec.Message,
		AgentResults: results,
	}, nil
}
