package trading

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
	SideHold Side = "hold"
)

func ParseSide(raw string) (Side, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "buy":
		return SideBuy, true
	case "sell":
		return SideSell, true
	case "hold", "wait", "":
		return SideHold, true
	}
	return SideHold, false
}

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusRejected  OrderStatus = "rejected"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Position is one open (or historical) holding of a single stock.
// BuyDate records the first acquisition and drives the T+1 sell check;
// SellDate is set when shares reach zero and the position moves to
// the closed history.
type Position struct {
	StockCode string
	Shares    int64
	AvgCost   decimal.Decimal
	BuyDate   string
	SellDate  string
}

func (p Position) Closed() bool {
	return p.Shares == 0 && strings.TrimSpace(p.SellDate) != ""
}

// Portfolio holds an agent's free cash plus open and closed positions.
// Open positions are keyed by stock code; closed ones are retained for
// reporting only.
type Portfolio struct {
	AgentID   string
	Cash      decimal.Decimal
	Positions map[string]*Position
	History   []Position
}

func NewPortfolio(agentID string, cash decimal.Decimal) *Portfolio {
	return &Portfolio{
		AgentID:   strings.TrimSpace(agentID),
		Cash:      cash,
		Positions: make(map[string]*Position),
	}
}

func (p *Portfolio) Position(stockCode string) (*Position, bool) {
	if p == nil || len(p.Positions) == 0 {
		return nil, false
	}
	pos, ok := p.Positions[strings.TrimSpace(stockCode)]
	return pos, ok
}

// MarketValue prices every open position with the given quote lookup.
// Codes without a quote fall back to average cost.
func (p *Portfolio) MarketValue(latest func(stockCode string) (decimal.Decimal, bool)) decimal.Decimal {
	total := decimal.Zero
	if p == nil {
		return total
	}
	for code, pos := range p.Positions {
		price := pos.AvgCost
		if latest != nil {
			if q, ok := latest(code); ok && q.IsPositive() {
				price = q
			}
		}
		total = total.Add(price.Mul(decimal.NewFromInt(pos.Shares)))
	}
	return total
}

func (p *Portfolio) TotalAssets(latest func(stockCode string) (decimal.Decimal, bool)) decimal.Decimal {
	if p == nil {
		return decimal.Zero
	}
	return p.Cash.Add(p.MarketValue(latest))
}

type Order struct {
	OrderID      string
	AgentID      string
	StockCode    string
	Side         Side
	Quantity     int64
	Price        decimal.Decimal
	Status       OrderStatus
	RejectReason string
	Reason       string
	CreatedAt    time.Time
}

// Transaction is the immutable record of a filled order.
type Transaction struct {
	TxID       string
	OrderID    string
	AgentID    string
	StockCode  string
	Side       Side
	Quantity   int64
	Price      decimal.Decimal
	Fees       TradingFees
	ExecutedAt time.Time
	Reason     string
}
