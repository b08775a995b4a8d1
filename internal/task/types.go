package task

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
)

// TaskType selects the runner's dispatch path.
type TaskType string

const (
	TypeAgentDecision TaskType = "agent_decision"
	TypeQuoteSync     TaskType = "quote_sync"
	TypeMarketRefresh TaskType = "market_refresh"
)

func ParseTaskType(s string) (TaskType, error) {
	switch TaskType(strings.ToLower(strings.TrimSpace(s))) {
	case TypeAgentDecision:
		return TypeAgentDecision, nil
	case TypeQuoteSync:
		return TypeQuoteSync, nil
	case TypeMarketRefresh:
		return TypeMarketRefresh, nil
	}
	return "", fmt.Errorf("unknown task type %q", s)
}

type TaskStatus string

const (
	TaskActive  TaskStatus = "active"
	TaskPaused  TaskStatus = "paused"
	TaskDeleted TaskStatus = "deleted"
)

// AgentTarget is the resolved form of a task's agent_ids field. The
// "all" sentinel becomes AllActive; otherwise the explicit ID list is
// kept in request order.
type AgentTarget struct {
	AllActive bool
	IDs       []string
}

// ParseAgentTarget maps the wire-level agent_ids sequence to a target.
// ["all"] (any casing, anywhere in the list) means every active agent
// at run time.
func ParseAgentTarget(ids []string) AgentTarget {
	var out AgentTarget
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if strings.EqualFold(id, "all") {
			return AgentTarget{AllActive: true}
		}
		out.IDs = append(out.IDs, id)
	}
	return out
}

// QuoteSyncConfig configures a quote_sync task.
type QuoteSyncConfig struct {
	StockCodes []string `mapstructure:"stock_codes" json:"stock_codes,omitempty"`
	Days       int      `mapstructure:"days" json:"days,omitempty"`
	ForceFull  bool     `mapstructure:"force_full" json:"force_full,omitempty"`
}

// MarketRefreshConfig configures a market_refresh task. Empty
// RefreshTypes means all kinds.
type MarketRefreshConfig struct {
	RefreshTypes []string `mapstructure:"refresh_types" json:"refresh_types,omitempty"`
}

// TaskConfig is a closed union keyed by TaskType: exactly the field
// matching the task's type is set, agent_decision carries none.
type TaskConfig struct {
	QuoteSync     *QuoteSyncConfig
	MarketRefresh *MarketRefreshConfig
}

// DecodeTaskConfig interprets a loose key/value config map according
// to the task type.
func DecodeTaskConfig(taskType TaskType, raw map[string]any) (TaskConfig, error) {
	var cfg TaskConfig
	switch taskType {
	case TypeAgentDecision:
		return cfg, nil
	case TypeQuoteSync:
		var qs QuoteSyncConfig
		if err := mapstructure.Decode(raw, &qs); err != nil {
			return cfg, fmt.Errorf("decoding quote_sync config failed: %w", err)
		}
		cfg.QuoteSync = &qs
		return cfg, nil
	case TypeMarketRefresh:
		var mr MarketRefreshConfig
		if err := mapstructure.Decode(raw, &mr); err != nil {
			return cfg, fmt.Errorf("decoding market_refresh config failed: %w", err)
		}
		cfg.MarketRefresh = &mr
		return cfg, nil
	}
	return cfg, fmt.Errorf("unknown task type %q", taskType)
}

// SystemTask is one schedulable unit of work.
type SystemTask struct {
	ID             string
	Name           string
	Type           TaskType
	CronExpr       string
	Target         AgentTarget
	Config         TaskConfig
	TradingDayOnly bool
	Status         TaskStatus
	NextRunTime    *time.Time
	SuccessCount   int64
	FailCount      int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type LogStatus string

const (
	LogRunning LogStatus = "running"
	LogSuccess LogStatus = "success"
	LogFailed  LogStatus = "failed"
	LogSkipped LogStatus = "skipped"
)

// AgentResult is the per-agent outcome recorded inside an
// agent_decision TaskLog. Immutable once the log completes.
type AgentResult struct {
	AgentID      string    `json:"agent_id"`
	AgentName    string    `json:"agent_name"`
	Status       string    `json:"status"`
	StartedAt    time.Time `json:"started_at"`
	CompletedAt  time.Time `json:"completed_at"`
	DurationMS   int64     `json:"duration_ms"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Message      string    `json:"message,omitempty"`
}

const (
	ResultSuccess = "success"
	ResultFailed  = "failed"
	ResultSkipped = "skipped"
)

// TaskLog records one execution attempt of a task.
type TaskLog struct {
	ID           string
	TaskID       string
	StartedAt    time.Time
	CompletedAt  *time.Time
	Status       LogStatus
	DurationMS   int64
	SkipReason   string
	ErrorMessage string
	Message      string
	AgentResults []AgentResult
}
