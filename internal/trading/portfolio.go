package trading

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Designed rejection reasons. A rejected order is a normal outcome,
// not an error: the order is marked rejected with one of these and no
// transaction is emitted.
const (
	RejectInsufficientCash   = "insufficient cash"
	RejectInsufficientShares = "insufficient shares"
	RejectSellRestricted     = "T+1 restriction"
)

// Mutator applies orders to portfolios. The read-modify-write on
// cash/positions is not synchronized here; callers hold the per-agent
// lock around ApplyOrder.
type Mutator struct {
	Fees  FeeSchedule
	nowFn func() time.Time
}

func NewMutator(fees FeeSchedule) *Mutator {
	return &Mutator{Fees: fees, nowFn: time.Now}
}

// ApplyOrder validates and fills the order against the portfolio.
// On acceptance it mutates cash/positions as a single unit, marks the
// order filled and returns the transaction. Designed rejections mark
// the order rejected (reason set) and return (nil, nil). A hold order
// fills as a zero-fee no-op without a transaction.
func (m *Mutator) ApplyOrder(p *Portfolio, order *Order) (*Transaction, error) {
	if m == nil {
		return nil, fmt.Errorf("mutator not initialized")
	}
	if p == nil || order == nil {
		return nil, fmt.Errorf("portfolio and order are required")
	}
	if order.AgentID != "" && p.AgentID != "" && order.AgentID != p.AgentID {
		return nil, fmt.Errorf("order agent %s does not match portfolio agent %s", order.AgentID, p.AgentID)
	}
	now := m.now()
	tradeDate := now.Format("2006-01-02")
	if order.OrderID == "" {
		order.OrderID = uuid.NewString()
	}

	if order.Side == SideHold || order.Quantity == 0 {
		order.Status = OrderStatusFilled
		return nil, nil
	}
	if order.Quantity < 0 || !order.Price.IsPositive() {
		return nil, fmt.Errorf("invalid order: quantity=%d price=%s", order.Quantity, order.Price)
	}

	fees := m.Fees.ComputeFees(order.Side, order.Price, order.Quantity)
	code := strings.TrimSpace(order.StockCode)

	switch order.Side {
	case SideBuy:
		cost := order.Price.Mul(decimal.NewFromInt(order.Quantity)).Add(fees.Total)
		if p.Cash.LessThan(cost) {
			reject(order, RejectInsufficientCash)
			return nil, nil
		}
		pos := p.Positions[code]
		updated, _ := ApplyFill(pos, code, SideBuy, order.Quantity, order.Price, fees, tradeDate)
		p.Cash = p.Cash.Sub(cost)
		p.Positions[code] = &updated
	case SideSell:
		pos, ok := p.Positions[code]
		if !ok || pos.Shares <= 0 {
			reject(order, RejectInsufficientShares)
			return nil, nil
		}
		if order.Quantity > pos.Shares {
			reject(order, RejectInsufficientShares)
			return nil, nil
		}
		if pos.BuyDate == tradeDate {
			reject(order, RejectSellRestricted)
			return nil, nil
		}
		proceeds := order.Price.Mul(decimal.NewFromInt(order.Quantity)).Sub(fees.Total)
		updated, _ := ApplyFill(pos, code, SideSell, order.Quantity, order.Price, fees, tradeDate)
		p.Cash = p.Cash.Add(proceeds)
		if updated.Closed() {
			p.History = append(p.History, updated)
			delete(p.Positions, code)
		} else {
			p.Positions[code] = &updated
		}
	default:
		return nil, fmt.Errorf("unknown order side: %s", order.Side)
	}

	order.Status = OrderStatusFilled
	tx := &Transaction{
		TxID:       uuid.NewString(),
		OrderID:    order.OrderID,
		AgentID:    p.AgentID,
		StockCode:  code,
		Side:       order.Side,
		Quantity:   order.Quantity,
		Price:      order.Price,
		Fees:       fees,
		ExecutedAt: now,
		Reason:     order.Reason,
	}
	return tx, nil
}

func (m *Mutator) now() time.Time {
	if m != nil && m.nowFn != nil {
		return m.nowFn()
	}
	return time.Now()
}

func reject(order *Order, reason string) {
	order.Status = OrderStatusRejected
	order.RejectReason = reason
}
