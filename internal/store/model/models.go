package model

import (
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type SystemTaskModel struct {
	ID             string         `gorm:"column:id;primaryKey"`
	Name           string         `gorm:"column:name"`
	TaskType       string         `gorm:"column:task_type"`
	CronExpr       string         `gorm:"column:cron_expression"`
	AgentIDs       datatypes.JSON `gorm:"column:agent_ids;type:TEXT"`
	ConfigJSON     datatypes.JSON `gorm:"column:config;type:TEXT"`
	TradingDayOnly bool           `gorm:"column:trading_day_only"`
	Status         string         `gorm:"column:status;index"`
	NextRunUnix    *int64         `gorm:"column:next_run_time"`
	SuccessCount   int64          `gorm:"column:success_count"`
	FailCount      int64          `gorm:"column:fail_count"`
	CreatedAtUnix  int64          `gorm:"column:created_at"`
	UpdatedAtUnix  int64          `gorm:"column:updated_at"`
}

func (SystemTaskModel) TableName() string { return "system_tasks" }

type TaskLogModel struct {
	ID              string         `gorm:"column:id;primaryKey"`
	TaskID          string         `gorm:"column:task_id;index"`
	Status          string         `gorm:"column:status"`
	StartedAtUnix   int64          `gorm:"column:started_at"`
	CompletedAtUnix *int64         `gorm:"column:completed_at"`
	DurationMS      int64          `gorm:"column:duration_ms"`
	SkipReason      string         `gorm:"column:skip_reason"`
	ErrorMessage    string         `gorm:"column:error_message"`
	Message         string         `gorm:"column:message"`
	AgentResults    datatypes.JSON `gorm:"column:agent_results;type:TEXT"`
}

func (TaskLogModel) TableName() string { return "task_logs" }

type AgentModel struct {
	ID            string          `gorm:"column:id;primaryKey"`
	Name          string          `gorm:"column:name"`
	Status        string          `gorm:"column:status;index"`
	InitialCash   decimal.Decimal `gorm:"column:initial_cash;type:TEXT"`
	CurrentCash   decimal.Decimal `gorm:"column:current_cash;type:TEXT"`
	TemplateID    string          `gorm:"column:template_id"`
	ProviderID    string          `gorm:"column:provider_id"`
	Model         string          `gorm:"column:model"`
	CreatedAtUnix int64           `gorm:"column:created_at"`
	UpdatedAtUnix int64           `gorm:"column:updated_at"`
}

func (AgentModel) TableName() string { return "agents" }

// PositionModel keys one lot by (agent, stock, first buy date). A row
// with an empty sell_date is open; closing sets sell_date in place.
type PositionModel struct {
	ID        int64           `gorm:"column:id;primaryKey;autoIncrement"`
	AgentID   string          `gorm:"column:agent_id;uniqueIndex:idx_position_lot,priority:1"`
	StockCode string          `gorm:"column:stock_code;uniqueIndex:idx_position_lot,priority:2"`
	BuyDate   string          `gorm:"column:buy_date;uniqueIndex:idx_position_lot,priority:3"`
	Shares    int64           `gorm:"column:shares"`
	AvgCost   decimal.Decimal `gorm:"column:avg_cost;type:TEXT"`
	SellDate  string          `gorm:"column:sell_date"`
}

func (PositionModel) TableName() string { return "positions" }

type OrderModel struct {
	ID            string          `gorm:"column:id;primaryKey"`
	AgentID       string          `gorm:"column:agent_id;index"`
	StockCode     string          `gorm:"column:stock_code"`
	Side          string          `gorm:"column:side"`
	Quantity      int64           `gorm:"column:quantity"`
	Price         decimal.Decimal `gorm:"column:price;type:TEXT"`
	Status        string          `gorm:"column:status"`
	RejectReason  string          `gorm:"column:reject_reason"`
	Reason        string          `gorm:"column:reason"`
	CreatedAtUnix int64           `gorm:"column:created_at"`
}

func (OrderModel) TableName() string { return "orders" }

type TransactionModel struct {
	ID             string          `gorm:"column:id;primaryKey"`
	OrderID        string          `gorm:"column:order_id;index"`
	AgentID        string          `gorm:"column:agent_id;index"`
	StockCode      string          `gorm:"column:stock_code"`
	Side           string          `gorm:"column:side"`
	Quantity       int64           `gorm:"column:quantity"`
	Price          decimal.Decimal `gorm:"column:price;type:TEXT"`
	Commission     decimal.Decimal `gorm:"column:commission;type:TEXT"`
	StampTax       decimal.Decimal `gorm:"column:stamp_tax;type:TEXT"`
	TransferFee    decimal.Decimal `gorm:"column:transfer_fee;type:TEXT"`
	TotalFees      decimal.Decimal `gorm:"column:total_fees;type:TEXT"`
	ExecutedAtUnix int64           `gorm:"column:executed_at"`
	Reason         string          `gorm:"column:reason"`
}

func (TransactionModel) TableName() string { return "transactions" }

type StockQuoteModel struct {
	ID        int64           `gorm:"column:id;primaryKey;autoIncrement"`
	StockCode string          `gorm:"column:stock_code;uniqueIndex:idx_quote_bar,priority:1"`
	TradeDate string          `gorm:"column:trade_date;uniqueIndex:idx_quote_bar,priority:2"`
	StockName string          `gorm:"column:stock_name"`
	Open      decimal.Decimal `gorm:"column:open;type:TEXT"`
	High      decimal.Decimal `gorm:"column:high;type:TEXT"`
	Low       decimal.Decimal `gorm:"column:low;type:TEXT"`
	Close     decimal.Decimal `gorm:"column:close;type:TEXT"`
	PrevClose decimal.Decimal `gorm:"column:prev_close;type:TEXT"`
	Volume    int64           `gorm:"column:volume"`
	Amount    decimal.Decimal `gorm:"column:amount;type:TEXT"`
}

func (StockQuoteModel) TableName() string { return "stock_quotes" }

// MarketSnapshotModel keeps the latest payload per snapshot kind.
type MarketSnapshotModel struct {
	ID            int64          `gorm:"column:id;primaryKey;autoIncrement"`
	Kind          string         `gorm:"column:kind;uniqueIndex"`
	Payload       datatypes.JSON `gorm:"column:payload;type:TEXT"`
	FetchedAtUnix int64          `gorm:"column:fetched_at"`
}

func (MarketSnapshotModel) TableName() string { return "market_snapshots" }

// EquitySnapshotModel holds one end-of-cycle asset valuation per agent
// per date; repeated cycles on the same date overwrite.
type EquitySnapshotModel struct {
	ID          int64           `gorm:"column:id;primaryKey;autoIncrement"`
	AgentID     string          `gorm:"column:agent_id;uniqueIndex:idx_equity_day,priority:1"`
	Date        string          `gorm:"column:date;uniqueIndex:idx_equity_day,priority:2"`
	TotalAssets decimal.Decimal `gorm:"column:total_assets;type:TEXT"`
}

func (EquitySnapshotModel) TableName() string { return "equity_snapshots" }
