package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"tradesim/internal/agent"
	"tradesim/internal/task"
	"tradesim/internal/trading"
)

// LogStore pages through persisted run history.
type LogStore interface {
	ListLogs(ctx context.Context, taskID string, page, pageSize int) ([]*task.TaskLog, int64, error)
	GetLog(ctx context.Context, taskID, logID string) (*task.TaskLog, error)
}

// AgentReader backs the agent reporting endpoints.
type AgentReader interface {
	GetAgent(ctx context.Context, id string) (*agent.Agent, error)
	ListAgents(ctx context.Context) ([]*agent.Agent, error)
	LoadPortfolio(ctx context.Context, agentID string) (*trading.Portfolio, error)
	EquitySeries(ctx context.Context, agentID string) ([]trading.EquityPoint, error)
	ListTransactions(ctx context.Context, agentID string, limit int) ([]*trading.Transaction, error)
}

type handlers struct {
	tasks  *task.Service
	runner *task.Runner
	logs   LogStore
	agents AgentReader
}

func (h *handlers) register(g *gin.RouterGroup) {
	g.POST("/tasks", h.createTask)
	g.GET("/tasks", h.listTasks)
	g.PUT("/tasks/:id", h.updateTask)
	g.DELETE("/tasks/:id", h.deleteTask)
	g.POST("/tasks/:id/pause", h.pauseTask)
	g.POST("/tasks/:id/resume", h.resumeTask)
	g.POST("/tasks/:id/trigger", h.triggerTask)
	g.POST("/tasks/validate-cron", h.validateCron)
	g.GET("/tasks/:id/logs", h.listTaskLogs)
	g.GET("/tasks/:id/logs/:log_id", h.getTaskLog)

	g.GET("/agents", h.listAgents)
	g.GET("/agents/:id/metrics", h.agentMetrics)
	g.GET("/agents/:id/portfolio", h.agentPortfolio)
	g.GET("/agents/:id/transactions", h.agentTransactions)
}

type taskRequest struct {
	Name           string         `json:"name"`
	TaskType       string         `json:"task_type"`
	CronExpression string         `json:"cron_expression"`
	AgentIDs       []string       `json:"agent_ids"`
	Config         map[string]any `json:"config"`
	TradingDayOnly bool           `json:"trading_day_only"`
}

func (h *handlers) createTask(c *gin.Context) {
	var req taskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	t, err := h.tasks.Create(c.Request.Context(), task.CreateTaskRequest{
		Name:           req.Name,
		Type:           req.TaskType,
		CronExpr:       req.CronExpression,
		AgentIDs:       req.AgentIDs,
		Config:         req.Config,
		TradingDayOnly: req.TradingDayOnly,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, taskResponse(t))
}

type updateTaskRequest struct {
	Name           *string        `json:"name"`
	CronExpression *string        `json:"cron_expression"`
	AgentIDs       []string       `json:"agent_ids"`
	Config         map[string]any `json:"config"`
	TradingDayOnly *bool          `json:"trading_day_only"`
}

func (h *handlers) updateTask(c *gin.Context) {
	var req updateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	t, err := h.tasks.Update(c.Request.Context(), c.Param("id"), task.UpdateTaskRequest{
		Name:           req.Name,
		CronExpr:       req.CronExpression,
		AgentIDs:       req.AgentIDs,
		Config:         req.Config,
		TradingDayOnly: req.TradingDayOnly,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, taskResponse(t))
}

func (h *handlers) deleteTask(c *gin.Context) {
	if err := h.tasks.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func (h *handlers) pauseTask(c *gin.Context) {
	t, err := h.tasks.Pause(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, taskResponse(t))
}

func (h *handlers) resumeTask(c *gin.Context) {
	t, err := h.tasks.Resume(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, taskResponse(t))
}

func (h *handlers) triggerTask(c *gin.Context) {
	t, err := h.tasks.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	logID, err := h.runner.Trigger(c.Request.Context(), t)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"log_id": logID})
}

func (h *handlers) listTasks(c *gin.Context) {
	tasks, err := h.tasks.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	out := make([]gin.H, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, taskResponse(t))
	}
	c.JSON(http.StatusOK, gin.H{"tasks": out})
}

type validateCronRequest struct {
	Expression string `json:"expression"`
}

func (h *handlers) validateCron(c *gin.Context) {
	var req validateCronRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, task.ValidateCron(req.Expression, time.Now()))
}

func (h *handlers) listTaskLogs(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	logs, total, err := h.logs.ListLogs(c.Request.Context(), c.Param("id"), page, pageSize)
	if err != nil {
		respondError(c, err)
		return
	}
	out := make([]gin.H, 0, len(logs))
	for _, l := range logs {
		out = append(out, logSummary(l))
	}
	c.JSON(http.StatusOK, gin.H{
		"logs":      out,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

func (h *handlers) getTaskLog(c *gin.Context) {
	l, err := h.logs.GetLog(c.Request.Context(), c.Param("id"), c.Param("log_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	resp := logSummary(l)
	resp["agent_results"] = l.AgentResults
	c.JSON(http.StatusOK, resp)
}

func (h *handlers) listAgents(c *gin.Context) {
	agents, err := h.agents.ListAgents(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	out := make([]gin.H, 0, len(agents))
	for _, a := range agents {
		out = append(out, agentResponse(a))
	}
	c.JSON(http.StatusOK, gin.H{"agents": out})
}

func (h *handlers) agentMetrics(c *gin.Context) {
	a, err := h.agents.GetAgent(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	series, err := h.agents.EquitySeries(c.Request.Context(), a.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	m := trading.ComputeMetrics(series, a.InitialCash)

	resp := gin.H{
		"agent_id":     a.ID,
		"data_points":  len(series),
		"return_rate":  m.ReturnRate,
		"max_drawdown": m.MaxDrawdown,
	}
	if m.HasAnnualized {
		resp["annualized_return"] = m.AnnualizedReturn
	}
	if m.HasSharpe {
		resp["sharpe_ratio"] = m.SharpeRatio
	}
	if len(series) > 0 {
		resp["total_assets"] = series[len(series)-1].TotalAssets
	}
	c.JSON(http.StatusOK, resp)
}

func (h *handlers) agentPortfolio(c *gin.Context) {
	p, err := h.agents.LoadPortfolio(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	positions := make([]gin.H, 0, len(p.Positions))
	for _, pos := range p.Positions {
		positions = append(positions, gin.H{
			"stock_code": pos.StockCode,
			"shares":     pos.Shares,
			"avg_cost":   pos.AvgCost,
			"buy_date":   pos.BuyDate,
		})
	}
	history := make([]gin.H, 0, len(p.History))
	for _, pos := range p.History {
		history = append(history, gin.H{
			"stock_code": pos.StockCode,
			"avg_cost":   pos.AvgCost,
			"buy_date":   pos.BuyDate,
			"sell_date":  pos.SellDate,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"agent_id":  p.AgentID,
		"cash":      p.Cash,
		"positions": positions,
		"history":   history,
	})
}

func (h *handlers) agentTransactions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	txs, err := h.agents.ListTransactions(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	out := make([]gin.H, 0, len(txs))
	for _, tx := range txs {
		out = append(out, gin.H{
			"tx_id":       tx.TxID,
			"order_id":    tx.OrderID,
			"stock_code":  tx.StockCode,
			"side":        tx.Side,
			"quantity":    tx.Quantity,
			"price":       tx.Price,
			"fees":        tx.Fees.Total,
			"executed_at": tx.ExecutedAt,
			"reason":      tx.Reason,
		})
	}
	c.JSON(http.StatusOK, gin.H{"transactions": out})
}

func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, task.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, task.ErrNotFound), errors.Is(err, agent.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, task.ErrTaskBusy):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func taskResponse(t *task.SystemTask) gin.H {
	agentIDs := t.Target.IDs
	if t.Target.AllActive {
		agentIDs = []string{"all"}
	}
	var cfg any
	switch {
	case t.Config.QuoteSync != nil:
		cfg = t.Config.QuoteSync
	case t.Config.MarketRefresh != nil:
		cfg = t.Config.MarketRefresh
	}
	resp := gin.H{
		"id":               t.ID,
		"name":             t.Name,
		"task_type":        t.Type,
		"cron_expression":  t.CronExpr,
		"agent_ids":        agentIDs,
		"trading_day_only": t.TradingDayOnly,
		"status":           t.Status,
		"success_count":    t.SuccessCount,
		"fail_count":       t.FailCount,
		"created_at":       t.CreatedAt,
		"updated_at":       t.UpdatedAt,
	}
	if cfg != nil {
		resp["config"] = cfg
	}
	if t.NextRunTime != nil {
		resp["next_run_time"] = t.NextRunTime
	}
	return resp
}

func logSummary(l *task.TaskLog) gin.H {
	resp := gin.H{
		"log_id":      l.ID,
		"task_id":     l.TaskID,
		"status":      l.Status,
		"started_at":  l.StartedAt,
		"duration_ms": l.DurationMS,
	}
	if l.CompletedAt != nil {
		resp["completed_at"] = l.CompletedAt
	}
	if l.SkipReason != "" {
		resp["skip_reason"] = l.SkipReason
	}
	if l.ErrorMessage != "" {
		resp["error_message"] = l.ErrorMessage
	}
	if l.Message != "" {
		resp["message"] = l.Message
	}
	return resp
}

func agentResponse(a *agent.Agent) gin.H {
	return gin.H{
		"id":           a.ID,
		"name":         a.Name,
		"status":       a.Status,
		"initial_cash": a.InitialCash,
		"current_cash": a.CurrentCash,
		"provider_id":  a.ProviderID,
		"model":        a.Model,
	}
}
