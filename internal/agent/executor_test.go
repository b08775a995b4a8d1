package agent

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradesim/internal/decision"
	"tradesim/internal/trading"
)

type scriptedProvider struct {
	decision decision.Decision
	err      error
}

func (p *scriptedProvider) Decide(context.Context, decision.AgentContext, decision.PortfolioSnapshot, decision.MarketSnapshot) (decision.Decision, error) {
	return p.decision, p.err
}

type fakeMarket struct {
	prices map[string]decimal.Decimal
}

func (m *fakeMarket) MarketContext(context.Context) (decision.MarketSnapshot, error) {
	return decision.MarketSnapshot{Date: "2026-03-04", TradingDay: true}, nil
}

func (m *fakeMarket) LatestPrice(_ context.Context, code string) (decimal.Decimal, bool) {
	p, ok := m.prices[code]
	return p, ok
}

type fakeStore struct {
	portfolios map[string]*trading.Portfolio
	records    []ExecutionRecord
	loadErr    error
}

func (s *fakeStore) LoadPortfolio(_ context.Context, agentID string) (*trading.Portfolio, error) {
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	p, ok := s.portfolios[agentID]
	if !ok {
		return nil, fmt.Errorf("agent %s has no portfolio", agentID)
	}
	return p, nil
}

func (s *fakeStore) RecordExecution(_ context.Context, rec ExecutionRecord) error {
	s.records = append(s.records, rec)
	return nil
}

func activeAgent(cash float64) *Agent {
	c := decimal.NewFromFloat(cash)
	return &Agent{ID: "a1", Name: "value-hunter", Status: StatusActive, InitialCash: c, CurrentCash: c}
}

func newTestExecutor(p decision.Provider, store *fakeStore, prices map[string]decimal.Decimal) *Executor {
	return NewExecutor(p, &fakeMarket{prices: prices}, store, trading.DefaultFeeSchedule(), time.Minute)
}

func TestExecuteBuyFillsAndPersists(t *testing.T) {
	a := activeAgent(100000)
	store := &fakeStore{portfolios: map[string]*trading.Portfolio{
		"a1": trading.NewPortfolio("a1", decimal.NewFromInt(100000)),
	}}
	provider := &scriptedProvider{decision: decision.Decision{
		Side: trading.SideBuy, StockCode: "600519", Quantity: 10, Price: decimal.NewFromInt(1700),
	}}

	exec := newTestExecutor(provider, store, map[string]decimal.Decimal{"600519": decimal.NewFromInt(1700)})
	res := exec.Execute(context.Background(), a)

	require.True(t, res.Success, res.Err)
	assert.Equal(t, "buy", res.Action)
	assert.EqualValues(t, 10, res.Quantity)

	require.Len(t, store.records, 1)
	rec := store.records[0]
	require.NotNil(t, rec.Transaction)
	assert.Equal(t, trading.OrderStatusFilled, rec.Order.Status)
	assert.True(t, rec.Agent.CurrentCash.LessThan(decimal.NewFromInt(100000)))
	assert.True(t, rec.Equity.TotalAssets.IsPositive())
}

func TestExecuteBuyClampsToAffordable(t *testing.T) {
	a := activeAgent(20000)
	store := &fakeStore{portfolios: map[string]*trading.Portfolio{
		"a1": trading.NewPortfolio("a1", decimal.NewFromInt(20000)),
	}}
	provider := &scriptedProvider{decision: decision.Decision{
		Side: trading.SideBuy, StockCode: "600519", Quantity: 100, Price: decimal.NewFromInt(1700),
	}}

	exec := newTestExecutor(provider, store, map[string]decimal.Decimal{"600519": decimal.NewFromInt(1700)})
	res := exec.Execute(context.Background(), a)

	require.True(t, res.Success, res.Err)
	assert.EqualValues(t, 11, res.Quantity)
	require.Len(t, store.records, 1)
	assert.False(t, store.records[0].Portfolio.Cash.IsNegative())
}

func TestExecuteBuyClampToZeroDegradesToHold(t *testing.T) {
	a := activeAgent(3)
	store := &fakeStore{portfolios: map[string]*trading.Portfolio{
		"a1": trading.NewPortfolio("a1", decimal.NewFromInt(3)),
	}}
	provider := &scriptedProvider{decision: decision.Decision{
		Side: trading.SideBuy, StockCode: "600519", Quantity: 100, Price: decimal.NewFromInt(1700),
	}}

	exec := newTestExecutor(provider, store, map[string]decimal.Decimal{"600519": decimal.NewFromInt(1700)})
	res := exec.Execute(context.Background(), a)

	require.True(t, res.Success, res.Err)
	assert.Equal(t, "hold", res.Action)
	assert.Contains(t, res.Message, "insufficient cash")
	require.Len(t, store.records, 1, "hold still snapshots equity")

	order := store.records[0].Order
	require.NotNil(t, order, "degraded hold keeps an order audit entry")
	assert.Equal(t, trading.SideHold, order.Side)
	assert.EqualValues(t, 0, order.Quantity)
	assert.Equal(t, trading.OrderStatusFilled, order.Status)
	assert.Contains(t, order.RejectReason, "insufficient cash")
	assert.Nil(t, store.records[0].Transaction)
}

func TestExecuteSellWithoutPositionFails(t *testing.T) {
	a := activeAgent(100000)
	store := &fakeStore{portfolios: map[string]*trading.Portfolio{
		"a1": trading.NewPortfolio("a1", decimal.NewFromInt(100000)),
	}}
	provider := &scriptedProvider{decision: decision.Decision{
		Side: trading.SideSell, StockCode: "600519", Quantity: 100,
	}}

	exec := newTestExecutor(provider, store, map[string]decimal.Decimal{"600519": decimal.NewFromInt(1700)})
	res := exec.Execute(context.Background(), a)

	assert.False(t, res.Success)
	assert.Contains(t, res.Err, "no position")
	assert.Empty(t, store.records)
}

func TestExecuteSellClampsToHeldShares(t *testing.T) {
	a := activeAgent(1000)
	p := trading.NewPortfolio("a1", decimal.NewFromInt(1000))
	p.Positions["000001"] = &trading.Position{
		StockCode: "000001", Shares: 100,
		AvgCost: decimal.NewFromInt(10), BuyDate: "2026-03-02",
	}
	store := &fakeStore{portfolios: map[string]*trading.Portfolio{"a1": p}}
	provider := &scriptedProvider{decision: decision.Decision{
		Side: trading.SideSell, StockCode: "000001", Quantity: 500, Price: decimal.NewFromInt(12),
	}}

	exec := newTestExecutor(provider, store, map[string]decimal.Decimal{"000001": decimal.NewFromInt(12)})
	res := exec.Execute(context.Background(), a)

	require.True(t, res.Success, res.Err)
	assert.EqualValues(t, 100, res.Quantity)
	require.Len(t, store.records, 1)
	require.NotNil(t, store.records[0].Transaction)
	assert.EqualValues(t, 100, store.records[0].Transaction.Quantity)
}

func TestExecuteSameDaySellRejectedNotFailed(t *testing.T) {
	a := activeAgent(1000)
	p := trading.NewPortfolio("a1", decimal.NewFromInt(1000))
	p.Positions["000001"] = &trading.Position{
		StockCode: "000001", Shares: 100,
		AvgCost: decimal.NewFromInt(10), BuyDate: time.Now().Format("2006-01-02"),
	}
	store := &fakeStore{portfolios: map[string]*trading.Portfolio{"a1": p}}
	provider := &scriptedProvider{decision: decision.Decision{
		Side: trading.SideSell, StockCode: "000001", Quantity: 100, Price: decimal.NewFromInt(12),
	}}

	exec := newTestExecutor(provider, store, map[string]decimal.Decimal{"000001": decimal.NewFromInt(12)})
	res := exec.Execute(context.Background(), a)

	require.True(t, res.Success, res.Err)
	assert.Contains(t, res.Message, trading.RejectSellRestricted)
	require.Len(t, store.records, 1)
	assert.Nil(t, store.records[0].Transaction)
	assert.Equal(t, trading.OrderStatusRejected, store.records[0].Order.Status)
	assert.EqualValues(t, 100, store.records[0].Portfolio.Positions["000001"].Shares)
}

func TestExecuteDecisionErrorFails(t *testing.T) {
	a := activeAgent(100000)
	store := &fakeStore{portfolios: map[string]*trading.Portfolio{
		"a1": trading.NewPortfolio("a1", decimal.NewFromInt(100000)),
	}}
	provider := &scriptedProvider{err: fmt.Errorf("model timeout")}

	exec := newTestExecutor(provider, store, nil)
	res := exec.Execute(context.Background(), a)

	assert.False(t, res.Success)
	assert.Contains(t, res.Err, "decision call failed")
}

func TestExecutePausedAgentFails(t *testing.T) {
	a := activeAgent(100000)
	a.Status = StatusPaused
	exec := newTestExecutor(&scriptedProvider{}, &fakeStore{}, nil)
	res := exec.Execute(context.Background(), a)
	assert.False(t, res.Success)
}

func TestExecuteHoldSnapshotsEquity(t *testing.T) {
	a := activeAgent(100000)
	store := &fakeStore{portfolios: map[string]*trading.Portfolio{
		"a1": trading.NewPortfolio("a1", decimal.NewFromInt(100000)),
	}}
	provider := &scriptedProvider{decision: decision.Decision{
		Side: trading.SideHold, Rationale: "market too choppy, waiting",
	}}

	exec := newTestExecutor(provider, store, nil)
	res := exec.Execute(context.Background(), a)

	require.True(t, res.Success, res.Err)
	assert.Equal(t, "hold", res.Action)
	require.Len(t, store.records, 1)
	assert.True(t, store.records[0].Equity.TotalAssets.Equal(decimal.NewFromInt(100000)))

	order := store.records[0].Order
	require.NotNil(t, order, "hold keeps an order audit entry")
	assert.Equal(t, trading.SideHold, order.Side)
	assert.EqualValues(t, 0, order.Quantity)
	assert.Equal(t, trading.OrderStatusFilled, order.Status)
	assert.Equal(t, "market too choppy, waiting", order.Reason)
	assert.NotEmpty(t, order.OrderID)
	assert.Nil(t, store.records[0].Transaction)
}
