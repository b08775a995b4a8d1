package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradesim/internal/agent"
	"tradesim/internal/task"
	"tradesim/internal/trading"
)

type memStore struct {
	mu    sync.Mutex
	tasks map[string]*task.SystemTask
	logs  map[string]*task.TaskLog
}

func newMemStore() *memStore {
	return &memStore{tasks: map[string]*task.SystemTask{}, logs: map[string]*task.TaskLog{}}
}

func (m *memStore) SaveTask(_ context.Context, t *task.SystemTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.tasks[t.ID] = &cp
	return nil
}

func (m *memStore) GetTask(_ context.Context, id string) (*task.SystemTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok || t.Status == task.TaskDeleted {
		return nil, task.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memStore) ListTasks(_ context.Context) ([]*task.SystemTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*task.SystemTask
	for _, t := range m.tasks {
		if t.Status == task.TaskDeleted {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memStore) UpdateNextRun(_ context.Context, taskID string, next *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tasks[taskID]; ok {
		t.NextRunTime = next
	}
	return nil
}

func (m *memStore) IncrementRunCounters(_ context.Context, taskID string, success bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tasks[taskID]; ok {
		if success {
			t.SuccessCount++
		} else {
			t.FailCount++
		}
	}
	return nil
}

func (m *memStore) CreateLog(_ context.Context, l *task.TaskLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *l
	m.logs[l.ID] = &cp
	return nil
}

func (m *memStore) FinishLog(_ context.Context, l *task.TaskLog) error {
	return m.CreateLog(context.Background(), l)
}

func (m *memStore) ListLogs(_ context.Context, taskID string, page, pageSize int) ([]*task.TaskLog, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*task.TaskLog
	for _, l := range m.logs {
		if l.TaskID == taskID {
			cp := *l
			all = append(all, &cp)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].StartedAt.After(all[j].StartedAt) })
	total := int64(len(all))
	start := (page - 1) * pageSize
	if start >= len(all) {
		return nil, total, nil
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], total, nil
}

func (m *memStore) FailRunningLogs(_ context.Context, cutoff time.Time, reason string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, l := range m.logs {
		if l.Status == task.LogRunning && l.StartedAt.Before(cutoff) {
			l.Status = task.LogFailed
			l.ErrorMessage = reason
			done := cutoff
			l.CompletedAt = &done
			n++
		}
	}
	return n, nil
}

func (m *memStore) GetLog(_ context.Context, taskID, logID string) (*task.TaskLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.logs[logID]
	if !ok || l.TaskID != taskID {
		return nil, task.ErrNotFound
	}
	cp := *l
	return &cp, nil
}

type fakeDirectory struct {
	agents []*agent.Agent
}

func (d *fakeDirectory) ListActive(context.Context) ([]*agent.Agent, error) {
	return d.agents, nil
}

func (d *fakeDirectory) GetByIDs(_ context.Context, ids []string) ([]*agent.Agent, error) {
	var out []*agent.Agent
	for _, id := range ids {
		for _, a := range d.agents {
			if a.ID == id {
				out = append(out, a)
			}
		}
	}
	return out, nil
}

type fakeExecutor struct {
	block chan struct{}
}

func (e *fakeExecutor) Execute(_ context.Context, a *agent.Agent) agent.Result {
	if e.block != nil {
		<-e.block
	}
	return agent.Result{AgentID: a.ID, AgentName: a.Name, Success: true, Action: "hold"}
}

type fakeAgents struct {
	agents map[string]*agent.Agent
	equity map[string][]trading.EquityPoint
	txs    map[string][]*trading.Transaction
	ports  map[string]*trading.Portfolio
}

func (f *fakeAgents) GetAgent(_ context.Context, id string) (*agent.Agent, error) {
	a, ok := f.agents[id]
	if !ok {
		return nil, agent.ErrNotFound
	}
	return a, nil
}

func (f *fakeAgents) ListAgents(context.Context) ([]*agent.Agent, error) {
	var out []*agent.Agent
	for _, a := range f.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeAgents) LoadPortfolio(_ context.Context, agentID string) (*trading.Portfolio, error) {
	p, ok := f.ports[agentID]
	if !ok {
		return nil, agent.ErrNotFound
	}
	return p, nil
}

func (f *fakeAgents) EquitySeries(_ context.Context, agentID string) ([]trading.EquityPoint, error) {
	return f.equity[agentID], nil
}

func (f *fakeAgents) ListTransactions(_ context.Context, agentID string, _ int) ([]*trading.Transaction, error) {
	return f.txs[agentID], nil
}

type harness struct {
	server *Server
	store  *memStore
	agents *fakeAgents
	exec   *fakeExecutor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := newMemStore()
	exec := &fakeExecutor{}
	dir := &fakeDirectory{agents: []*agent.Agent{
		{ID: "a1", Name: "warren", Status: agent.StatusActive},
	}}
	runner := task.NewRunner(store, dir, exec, nil, nil, task.NewCalendar(nil), task.RunnerOptions{})
	agents := &fakeAgents{
		agents: map[string]*agent.Agent{},
		equity: map[string][]trading.EquityPoint{},
		txs:    map[string][]*trading.Transaction{},
		ports:  map[string]*trading.Portfolio{},
	}
	srv, err := NewServer(ServerConfig{
		Tasks:  task.NewService(store),
		Runner: runner,
		Logs:   store,
		Agents: agents,
	})
	require.NoError(t, err)
	return &harness{server: srv, store: store, agents: agents, exec: exec}
}

func (h *harness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.server.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestCreateTask(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodPost, "/api/tasks", map[string]any{
		"name":             "nightly decisions",
		"task_type":        "agent_decision",
		"cron_expression":  "30 9 * * 1-5",
		"agent_ids":        []string{"all"},
		"trading_day_only": true,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decodeBody(t, w)
	assert.Equal(t, "nightly decisions", body["name"])
	assert.Equal(t, "agent_decision", body["task_type"])
	assert.Equal(t, []any{"all"}, body["agent_ids"])
	assert.Equal(t, "active", body["status"])
	assert.NotEmpty(t, body["id"])
	assert.NotEmpty(t, body["next_run_time"])
}

func TestCreateTaskRejectsBadCron(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodPost, "/api/tasks", map[string]any{
		"name":            "broken",
		"task_type":       "agent_decision",
		"cron_expression": "not a cron",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decodeBody(t, w)["error"], "invalid task")
}

func TestTaskLifecycle(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodPost, "/api/tasks", map[string]any{
		"name":            "sync",
		"task_type":       "quote_sync",
		"cron_expression": "0 16 * * *",
		"config":          map[string]any{"days": 7},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	id := decodeBody(t, w)["id"].(string)

	w = h.do(t, http.MethodPost, "/api/tasks/"+id+"/pause", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "paused", body["status"])
	assert.Nil(t, body["next_run_time"])

	w = h.do(t, http.MethodPost, "/api/tasks/"+id+"/resume", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body = decodeBody(t, w)
	assert.Equal(t, "active", body["status"])
	assert.NotEmpty(t, body["next_run_time"])

	newName := "sync quotes"
	w = h.do(t, http.MethodPut, "/api/tasks/"+id, map[string]any{"name": newName})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, newName, decodeBody(t, w)["name"])

	w = h.do(t, http.MethodDelete, "/api/tasks/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = h.do(t, http.MethodPost, "/api/tasks/"+id+"/pause", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = h.do(t, http.MethodGet, "/api/tasks", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decodeBody(t, w)["tasks"])
}

func TestTriggerTask(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodPost, "/api/tasks", map[string]any{
		"name":            "decide",
		"task_type":       "agent_decision",
		"cron_expression": "*/5 * * * *",
		"agent_ids":       []string{"all"},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	id := decodeBody(t, w)["id"].(string)

	w = h.do(t, http.MethodPost, "/api/tasks/"+id+"/trigger", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	logID := decodeBody(t, w)["log_id"].(string)
	require.NotEmpty(t, logID)

	require.Eventually(t, func() bool {
		w := h.do(t, http.MethodGet, fmt.Sprintf("/api/tasks/%s/logs/%s", id, logID), nil)
		if w.Code != http.StatusOK {
			return false
		}
		return decodeBody(t, w)["status"] == "success"
	}, 3*time.Second, 20*time.Millisecond)
}

func TestTriggerWhileRunningConflicts(t *testing.T) {
	h := newHarness(t)
	h.exec.block = make(chan struct{})

	w := h.do(t, http.MethodPost, "/api/tasks", map[string]any{
		"name":            "decide",
		"task_type":       "agent_decision",
		"cron_expression": "*/5 * * * *",
		"agent_ids":       []string{"all"},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	id := decodeBody(t, w)["id"].(string)

	w = h.do(t, http.MethodPost, "/api/tasks/"+id+"/trigger", nil)
	require.Equal(t, http.StatusAccepted, w.Code)

	w = h.do(t, http.MethodPost, "/api/tasks/"+id+"/trigger", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	close(h.exec.block)
}

func TestValidateCron(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodPost, "/api/tasks/validate-cron", map[string]any{"expression": "30 9 * * 1-5"})
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, true, body["valid"])
	assert.Equal(t, "weekdays at 09:30", body["description"])

	w = h.do(t, http.MethodPost, "/api/tasks/validate-cron", map[string]any{"expression": "61 * * * *"})
	require.Equal(t, http.StatusOK, w.Code)
	body = decodeBody(t, w)
	assert.Equal(t, false, body["valid"])
	assert.NotEmpty(t, body["error"])
}

func TestListLogsPagination(t *testing.T) {
	h := newHarness(t)
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 25; i++ {
		require.NoError(t, h.store.CreateLog(context.Background(), &task.TaskLog{
			ID:        fmt.Sprintf("log%02d", i),
			TaskID:    "t1",
			StartedAt: base.Add(time.Duration(i) * time.Minute),
			Status:    task.LogSuccess,
		}))
	}

	w := h.do(t, http.MethodGet, "/api/tasks/t1/logs?page=2&page_size=10", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, float64(25), body["total"])
	logs := body["logs"].([]any)
	require.Len(t, logs, 10)
	first := logs[0].(map[string]any)
	assert.Equal(t, "log14", first["log_id"])

	w = h.do(t, http.MethodGet, "/api/tasks/t1/logs?page=3&page_size=10", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody(t, w)["logs"].([]any), 5)
}

func TestGetLogDetail(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.CreateLog(context.Background(), &task.TaskLog{
		ID:        "log1",
		TaskID:    "t1",
		StartedAt: time.Now(),
		Status:    task.LogSuccess,
		Message:   "2 succeeded, 0 failed",
		AgentResults: []task.AgentResult{
			{AgentID: "a1", AgentName: "warren", Status: task.ResultSuccess},
			{AgentID: "a2", AgentName: "cathie", Status: task.ResultFailed, ErrorMessage: "decision timed out"},
		},
	}))

	w := h.do(t, http.MethodGet, "/api/tasks/t1/logs/log1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	results := body["agent_results"].([]any)
	require.Len(t, results, 2)
	second := results[1].(map[string]any)
	assert.Equal(t, "failed", second["status"])
	assert.Equal(t, "decision timed out", second["error_message"])

	w = h.do(t, http.MethodGet, "/api/tasks/t1/logs/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAgentMetrics(t *testing.T) {
	h := newHarness(t)
	h.agents.agents["a1"] = &agent.Agent{
		ID:          "a1",
		Name:        "warren",
		Status:      agent.StatusActive,
		InitialCash: decimal.NewFromInt(100000),
	}
	h.agents.equity["a1"] = []trading.EquityPoint{
		{Date: "2026-03-02", TotalAssets: decimal.NewFromInt(100000)},
		{Date: "2026-03-03", TotalAssets: decimal.NewFromInt(105000)},
		{Date: "2026-03-04", TotalAssets: decimal.NewFromInt(110000)},
	}

	w := h.do(t, http.MethodGet, "/api/agents/a1/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.InDelta(t, 0.10, body["return_rate"].(float64), 1e-9)
	assert.Equal(t, float64(3), body["data_points"])

	w = h.do(t, http.MethodGet, "/api/agents/missing/metrics", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAgentPortfolioAndTransactions(t *testing.T) {
	h := newHarness(t)
	p := trading.NewPortfolio("a1", decimal.NewFromInt(40000))
	p.Positions["600519"] = &trading.Position{
		StockCode: "600519",
		Shares:    100,
		AvgCost:   decimal.NewFromInt(1700),
		BuyDate:   "2026-03-02",
	}
	h.agents.ports["a1"] = p
	h.agents.txs["a1"] = []*trading.Transaction{{
		TxID:      "tx1",
		OrderID:   "o1",
		AgentID:   "a1",
		StockCode: "600519",
		Side:      trading.SideBuy,
		Quantity:  100,
		Price:     decimal.NewFromInt(1700),
	}}

	w := h.do(t, http.MethodGet, "/api/agents/a1/portfolio", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	positions := body["positions"].([]any)
	require.Len(t, positions, 1)
	assert.Equal(t, "600519", positions[0].(map[string]any)["stock_code"])

	w = h.do(t, http.MethodGet, "/api/agents/a1/transactions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	txs := decodeBody(t, w)["transactions"].([]any)
	require.Len(t, txs, 1)
	assert.Equal(t, "buy", txs[0].(map[string]any)["side"])
}

func TestHealthz(t *testing.T) {
	h := newHarness(t)
	w := h.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decodeBody(t, w)["status"])
}
