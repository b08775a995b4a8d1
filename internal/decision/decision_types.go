package decision

import (
	"context"
	"encoding/json"

	"github.com/shopspring/decimal"

	"tradesim/internal/trading"
)

// Decision is the structured output of one model call for one agent.
// Price may be zero, in which case the executor fills at the latest
// quote for the stock.
type Decision struct {
	Side      trading.Side
	StockCode string
	Quantity  int64
	Price     decimal.Decimal
	Rationale string
}

func (d Decision) IsHold() bool {
	return d.Side == trading.SideHold || d.Quantity == 0
}

// AgentContext parameterizes the model call per agent.
type AgentContext struct {
	AgentID    string
	AgentName  string
	TemplateID string
	ProviderID string
	Model      string
}

type PositionSnapshot struct {
	StockCode string          `json:"stock_code"`
	Shares    int64           `json:"shares"`
	AvgCost   decimal.Decimal `json:"avg_cost"`
	BuyDate   string          `json:"buy_date"`
}

// PortfolioSnapshot is the read-only view of an agent's account handed
// to the provider.
type PortfolioSnapshot struct {
	Cash        decimal.Decimal    `json:"cash"`
	MarketValue decimal.Decimal    `json:"market_value"`
	TotalAssets decimal.Decimal    `json:"total_assets"`
	Positions   []PositionSnapshot `json:"positions"`
}

// MarketSnapshot is the market context assembled for a decision cycle.
// The refresh payloads are persisted verbatim and passed through
// untouched.
type MarketSnapshot struct {
	Date       string                     `json:"date"`
	TradingDay bool                       `json:"trading_day"`
	Quotes     map[string]QuoteSnapshot   `json:"quotes,omitempty"`
	Indicators map[string]IndicatorValues `json:"indicators,omitempty"`
	Sentiment  json.RawMessage            `json:"sentiment,omitempty"`
	Indices    json.RawMessage            `json:"indices,omitempty"`
	HotStocks  json.RawMessage            `json:"hot_stocks,omitempty"`
}

type QuoteSnapshot struct {
	StockCode string          `json:"stock_code"`
	TradeDate string          `json:"trade_date"`
	Close     decimal.Decimal `json:"close"`
	PrevClose decimal.Decimal `json:"prev_close"`
}

// IndicatorValues carries the technical indicator block for one stock.
type IndicatorValues struct {
	MA5    float64 `json:"ma5,omitempty"`
	MA20   float64 `json:"ma20,omitempty"`
	MACD   float64 `json:"macd,omitempty"`
	Signal float64 `json:"signal,omitempty"`
	RSI14  float64 `json:"rsi14,omitempty"`
	BollUp float64 `json:"boll_upper,omitempty"`
	BollLo float64 `json:"boll_lower,omitempty"`
}

// Provider produces a trading decision for one agent. Implementations
// wrap potentially slow external model calls; the executor bounds them
// with a context deadline.
type Provider interface {
	Decide(ctx context.Context, agent AgentContext, portfolio PortfolioSnapshot, market MarketSnapshot) (Decision, error)
}
