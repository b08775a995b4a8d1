package market

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// StockQuote is one daily bar for a stock.
type StockQuote struct {
	StockCode string
	StockName string
	TradeDate string
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	PrevClose decimal.Decimal
	Volume    int64
	Amount    decimal.Decimal
}

// QuoteProvider is the external market-data feed. Latest returns the
// most recent bar; History returns up to days daily bars, oldest
// first. DefaultStockCodes backs a quote_sync task with no explicit
// code list.
type QuoteProvider interface {
	Latest(ctx context.Context, stockCode string) (StockQuote, error)
	History(ctx context.Context, stockCode string, days int) ([]StockQuote, error)
	DefaultStockCodes(ctx context.Context) ([]string, error)
}

// Snapshot kinds persisted by the market refresh task.
const (
	SnapshotSentiment = "sentiment"
	SnapshotIndices   = "indices"
	SnapshotHotStocks = "hot_stocks"
)

// MarketDataProvider supplies the refreshable market-wide payloads.
// Payloads are opaque JSON passed through to storage and later into
// decision context.
type MarketDataProvider interface {
	Sentiment(ctx context.Context) (json.RawMessage, error)
	Indices(ctx context.Context) (json.RawMessage, error)
	HotStocks(ctx context.Context) (json.RawMessage, error)
}

// QuoteStore is the slice of persistence the sync service needs.
type QuoteStore interface {
	UpsertQuotes(ctx context.Context, quotes []StockQuote) error
	LatestTradeDate(ctx context.Context, stockCode string) (string, error)
}

// SnapshotStore persists refresh payloads keyed by kind.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, kind string, payload json.RawMessage, refreshedAt time.Time) error
}
