package market

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"tradesim/internal/decision"
	"tradesim/internal/logger"
)

// ContextStore reads back what the sync and refresh tasks persisted.
type ContextStore interface {
	LatestQuote(ctx context.Context, stockCode string) (StockQuote, error)
	RecentQuotes(ctx context.Context, stockCode string, limit int) ([]StockQuote, error)
	ListQuoteCodes(ctx context.Context) ([]string, error)
	GetSnapshot(ctx context.Context, kind string) (json.RawMessage, error)
}

// ContextService assembles the market view handed to decision calls:
// latest quotes and indicators per stored code plus the raw snapshot
// payloads. indicatorBars bounds how much history feeds the indicator
// pass.
type ContextService struct {
	store         ContextStore
	tradingDay    func(time.Time) bool
	indicatorBars int
	nowFn         func() time.Time
}

func NewContextService(store ContextStore, tradingDay func(time.Time) bool) *ContextService {
	return &ContextService{
		store:         store,
		tradingDay:    tradingDay,
		indicatorBars: 60,
		nowFn:         time.Now,
	}
}

func (s *ContextService) MarketContext(ctx context.Context) (decision.MarketSnapshot, error) {
	now := s.nowFn()
	snap := decision.MarketSnapshot{
		Date:       now.Format("2006-01-02"),
		Quotes:     map[string]decision.QuoteSnapshot{},
		Indicators: map[string]decision.IndicatorValues{},
	}
	if s.tradingDay != nil {
		snap.TradingDay = s.tradingDay(now)
	}

	codes, err := s.store.ListQuoteCodes(ctx)
	if err != nil {
		return decision.MarketSnapshot{}, err
	}
	for _, code := range codes {
		bars, err := s.store.RecentQuotes(ctx, code, s.indicatorBars)
		if err != nil {
			logger.Warnf("[market] loading bars for %s failed: %v", code, err)
			continue
		}
		if len(bars) == 0 {
			continue
		}
		last := bars[len(bars)-1]
		snap.Quotes[code] = decision.QuoteSnapshot{
			StockCode: last.StockCode,
			TradeDate: last.TradeDate,
			Close:     last.Close,
			PrevClose: last.PrevClose,
		}
		if vals, ok := Indicators(bars); ok {
			snap.Indicators[code] = vals
		}
	}

	for _, kind := range []string{SnapshotSentiment, SnapshotIndices, SnapshotHotStocks} {
		payload, err := s.store.GetSnapshot(ctx, kind)
		if err != nil {
			logger.Warnf("[market] loading %s snapshot failed: %v", kind, err)
			continue
		}
		switch kind {
		case SnapshotSentiment:
			snap.Sentiment = payload
		case SnapshotIndices:
			snap.Indices = payload
		case SnapshotHotStocks:
			snap.HotStocks = payload
		}
	}
	return snap, nil
}

// LatestPrice values a stock at its most recent stored close.
func (s *ContextService) LatestPrice(ctx context.Context, stockCode string) (decimal.Decimal, bool) {
	q, err := s.store.LatestQuote(ctx, stockCode)
	if err != nil || !q.Close.IsPositive() {
		return decimal.Zero, false
	}
	return q.Close, true
}
