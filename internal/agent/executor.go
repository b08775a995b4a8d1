package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tradesim/internal/decision"
	"tradesim/internal/logger"
	"tradesim/internal/pkg/keymutex"
	"tradesim/internal/trading"
)

// MarketContextSource supplies the market view for a decision cycle and
// latest-price lookups for valuing fills and equity.
type MarketContextSource interface {
	MarketContext(ctx context.Context) (decision.MarketSnapshot, error)
	LatestPrice(ctx context.Context, stockCode string) (decimal.Decimal, bool)
}

// ExecutionRecord carries everything one completed cycle produced. The
// store persists the whole record in a single transaction so a crash
// never leaves an order without its portfolio update.
type ExecutionRecord struct {
	Agent       *Agent
	Portfolio   *trading.Portfolio
	Order       *trading.Order
	Transaction *trading.Transaction
	Equity      trading.EquityPoint
}

// Store is the persistence surface the executor needs.
type Store interface {
	LoadPortfolio(ctx context.Context, agentID string) (*trading.Portfolio, error)
	RecordExecution(ctx context.Context, rec ExecutionRecord) error
}

// Result is the per-agent outcome of one decision cycle. Err is set
// only when Success is false.
type Result struct {
	AgentID   string
	AgentName string
	Success   bool
	Action    string
	StockCode string
	Quantity  int64
	Message   string
	Err       string
	Duration  time.Duration
}

func failure(a *Agent, format string, args ...any) Result {
	return Result{AgentID: a.ID, AgentName: a.Name, Err: fmt.Sprintf(format, args...)}
}

// Executor runs one agent through a full decision cycle: assemble
// context, call the model, validate and clamp the decision, apply the
// resulting order under the agent's lock, persist the outcome.
type Executor struct {
	provider decision.Provider
	market   MarketContextSource
	store    Store
	locks    *keymutex.KeyMutex
	mutator  *trading.Mutator
	timeout  time.Duration
	nowFn    func() time.Time
}

func NewExecutor(provider decision.Provider, market MarketContextSource, store Store, fees trading.FeeSchedule, decisionTimeout time.Duration) *Executor {
	if decisionTimeout <= 0 {
		decisionTimeout = 120 * time.Second
	}
	return &Executor{
		provider: provider,
		market:   market,
		store:    store,
		locks:    keymutex.New(),
		mutator:  trading.NewMutator(fees),
		timeout:  decisionTimeout,
		nowFn:    time.Now,
	}
}

// Execute runs one decision cycle for the agent. Model failures,
// missing prices and persistence errors produce a failed Result;
// designed order rejections and clamp-to-hold degradations are normal
// outcomes and report success.
func (e *Executor) Execute(ctx context.Context, a *Agent) Result {
	start := e.nowFn()
	if !a.Eligible() {
		res := failure(a, "agent is not active")
		res.Duration = e.nowFn().Sub(start)
		return res
	}

	snapshot, err := e.market.MarketContext(ctx)
	if err != nil {
		res := failure(a, "fetching market context failed: %v", err)
		res.Duration = e.nowFn().Sub(start)
		return res
	}
	portfolio, err := e.store.LoadPortfolio(ctx, a.ID)
	if err != nil {
		res := failure(a, "loading portfolio failed: %v", err)
		res.Duration = e.nowFn().Sub(start)
		return res
	}

	d, err := e.decide(ctx, a, portfolio, snapshot)
	if err != nil {
		res := failure(a, "decision call failed: %v", err)
		res.Duration = e.nowFn().Sub(start)
		return res
	}

	res := e.apply(ctx, a, d)
	res.Duration = e.nowFn().Sub(start)
	return res
}

func (e *Executor) decide(ctx context.Context, a *Agent, portfolio *trading.Portfolio, snapshot decision.MarketSnapshot) (decision.Decision, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	agentCtx := decision.AgentContext{
		AgentID:    a.ID,
		AgentName:  a.Name,
		TemplateID: a.TemplateID,
		ProviderID: a.ProviderID,
		Model:      a.Model,
	}
	return e.provider.Decide(callCtx, agentCtx, e.snapshotPortfolio(ctx, portfolio), snapshot)
}

func (e *Executor) snapshotPortfolio(ctx context.Context, p *trading.Portfolio) decision.PortfolioSnapshot {
	latest := func(code string) (decimal.Decimal, bool) {
		return e.market.LatestPrice(ctx, code)
	}
	snap := decision.PortfolioSnapshot{
		Cash:        p.Cash,
		MarketValue: p.MarketValue(latest),
		TotalAssets: p.TotalAssets(latest),
	}
	for _, pos := range p.Positions {
		snap.Positions = append(snap.Positions, decision.PositionSnapshot{
			StockCode: pos.StockCode,
			Shares:    pos.Shares,
			AvgCost:   pos.AvgCost,
			BuyDate:   pos.BuyDate,
		})
	}
	return snap
}

// apply validates and clamps the decision, then fills it under the
// agent's lock. The portfolio is re-read inside the lock so concurrent
// cycles for the same agent never race on cash or positions.
func (e *Executor) apply(ctx context.Context, a *Agent, d decision.Decision) Result {
	e.locks.Lock(a.ID)
	defer e.locks.Unlock(a.ID)

	portfolio, err := e.store.LoadPortfolio(ctx, a.ID)
	if err != nil {
		return failure(a, "loading portfolio failed: %v", err)
	}

	order, res := e.buildOrder(ctx, a, portfolio, d)
	if order == nil {
		return res
	}

	tx, err := e.mutator.ApplyOrder(portfolio, order)
	if err != nil {
		return failure(a, "applying order failed: %v", err)
	}
	if err := e.record(ctx, a, portfolio, order, tx); err != nil {
		return failure(a, "recording execution failed: %v", err)
	}
	if res.Success {
		// Hold outcome prepared by buildOrder; the zero-quantity order
		// keeps the audit trail and the equity snapshot keeps the
		// metrics series dense.
		return res
	}

	res = Result{
		AgentID:   a.ID,
		AgentName: a.Name,
		Success:   true,
		Action:    string(order.Side),
		StockCode: order.StockCode,
		Quantity:  order.Quantity,
	}
	if order.Status == trading.OrderStatusRejected {
		res.Message = fmt.Sprintf("order rejected: %s", order.RejectReason)
		logger.Warnf("[executor] agent %s order rejected: %s", a.ID, order.RejectReason)
	} else if tx != nil {
		res.Message = fmt.Sprintf("%s %d %s at %s", order.Side, tx.Quantity, tx.StockCode, tx.Price)
	}
	return res
}

// buildOrder turns a decision into a fillable order. Hold outcomes
// return a zero-quantity hold order (res.Success true) so the decision
// rationale still lands in the orders table; a nil order means a hard
// failure (res.Err set).
func (e *Executor) buildOrder(ctx context.Context, a *Agent, portfolio *trading.Portfolio, d decision.Decision) (*trading.Order, Result) {
	hold := Result{AgentID: a.ID, AgentName: a.Name, Success: true, Action: string(trading.SideHold)}

	if d.IsHold() {
		hold.Message = "hold"
		return e.holdOrder(a, "", d.Rationale), hold
	}

	code := strings.TrimSpace(d.StockCode)
	price := d.Price
	if !price.IsPositive() {
		latest, ok := e.market.LatestPrice(ctx, code)
		if !ok {
			return nil, failure(a, "no market price for %s", code)
		}
		price = latest
	}

	quantity := d.Quantity
	switch d.Side {
	case trading.SideBuy:
		affordable := maxAffordable(portfolio.Cash, price, e.mutator.Fees)
		if quantity > affordable {
			logger.Infof("[executor] agent %s buy %s clamped %d -> %d", a.ID, code, quantity, affordable)
			quantity = affordable
		}
		if quantity == 0 {
			hold.Message = fmt.Sprintf("buy %s degraded to hold: insufficient cash", code)
			order := e.holdOrder(a, code, d.Rationale)
			order.RejectReason = hold.Message
			return order, hold
		}
	case trading.SideSell:
		pos, ok := portfolio.Position(code)
		if !ok || pos.Shares == 0 {
			return nil, failure(a, "no position in %s to sell", code)
		}
		if quantity > pos.Shares {
			logger.Infof("[executor] agent %s sell %s clamped %d -> %d", a.ID, code, quantity, pos.Shares)
			quantity = pos.Shares
		}
	}

	return &trading.Order{
		AgentID:   a.ID,
		StockCode: code,
		Side:      d.Side,
		Quantity:  quantity,
		Price:     price,
		Reason:    d.Rationale,
		CreatedAt: e.nowFn(),
	}, Result{}
}

// holdOrder is the zero-quantity audit entry for a hold outcome. Fees
// are zero and no transaction follows, but the rationale is kept.
func (e *Executor) holdOrder(a *Agent, code, rationale string) *trading.Order {
	return &trading.Order{
		AgentID:   a.ID,
		StockCode: code,
		Side:      trading.SideHold,
		Reason:    rationale,
		CreatedAt: e.nowFn(),
	}
}

func (e *Executor) record(ctx context.Context, a *Agent, portfolio *trading.Portfolio, order *trading.Order, tx *trading.Transaction) error {
	a.CurrentCash = portfolio.Cash
	a.UpdatedAt = e.nowFn()
	total := portfolio.TotalAssets(func(code string) (decimal.Decimal, bool) {
		return e.market.LatestPrice(ctx, code)
	})
	return e.store.RecordExecution(ctx, ExecutionRecord{
		Agent:       a,
		Portfolio:   portfolio,
		Order:       order,
		Transaction: tx,
		Equity: trading.EquityPoint{
			Date:        e.nowFn().Format("2006-01-02"),
			TotalAssets: total,
		},
	})
}

// maxAffordable is the largest quantity of shares the cash balance can
// cover at price including fees. The first estimate ignores fees and is
// walked down until the all-in cost fits.
func maxAffordable(cash, price decimal.Decimal, fees trading.FeeSchedule) int64 {
	if !price.IsPositive() || !cash.IsPositive() {
		return 0
	}
	qty := cash.Div(price).IntPart()
	for qty > 0 {
		f := fees.ComputeFees(trading.SideBuy, price, qty)
		if price.Mul(decimal.NewFromInt(qty)).Add(f.Total).LessThanOrEqual(cash) {
			break
		}
		qty--
	}
	return qty
}
