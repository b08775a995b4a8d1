package market

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeContextStore struct {
	codes     []string
	bars      map[string][]StockQuote
	barErrs   map[string]error
	snapshots map[string]json.RawMessage
	latest    map[string]StockQuote
}

func (f *fakeContextStore) LatestQuote(_ context.Context, code string) (StockQuote, error) {
	q, ok := f.latest[code]
	if !ok {
		return StockQuote{}, fmt.Errorf("no quote for %s", code)
	}
	return q, nil
}

func (f *fakeContextStore) RecentQuotes(_ context.Context, code string, _ int) ([]StockQuote, error) {
	if err := f.barErrs[code]; err != nil {
		return nil, err
	}
	return f.bars[code], nil
}

func (f *fakeContextStore) ListQuoteCodes(context.Context) ([]string, error) {
	return f.codes, nil
}

func (f *fakeContextStore) GetSnapshot(_ context.Context, kind string) (json.RawMessage, error) {
	p, ok := f.snapshots[kind]
	if !ok {
		return nil, fmt.Errorf("no %s snapshot", kind)
	}
	return p, nil
}

func contextBars(code string, n int) []StockQuote {
	bars := make([]StockQuote, 0, n)
	base := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		price := decimal.NewFromInt(int64(100 + i))
		bars = append(bars, StockQuote{
			StockCode: code,
			TradeDate: base.AddDate(0, 0, i).Format("2006-01-02"),
			Open:      price,
			High:      price.Add(decimal.NewFromInt(1)),
			Low:       price.Sub(decimal.NewFromInt(1)),
			Close:     price,
			PrevClose: price.Sub(decimal.NewFromInt(1)),
			Volume:    1000,
		})
	}
	return bars
}

func TestMarketContextAssemblesQuotesAndSnapshots(t *testing.T) {
	store := &fakeContextStore{
		codes: []string{"600519", "000001"},
		bars: map[string][]StockQuote{
			"600519": contextBars("600519", 40),
			"000001": contextBars("000001", 2),
		},
		snapshots: map[string]json.RawMessage{
			SnapshotSentiment: json.RawMessage(`{"score": 62}`),
			SnapshotIndices:   json.RawMessage(`[{"code": "000300"}]`),
		},
	}
	svc := NewContextService(store, func(time.Time) bool { return true })
	svc.nowFn = func() time.Time { return time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC) }

	snap, err := svc.MarketContext(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "2026-03-02", snap.Date)
	assert.True(t, snap.TradingDay)

	require.Contains(t, snap.Quotes, "600519")
	assert.Equal(t, "2026-02-13", snap.Quotes["600519"].TradeDate)
	assert.True(t, snap.Quotes["600519"].Close.Equal(decimal.NewFromInt(139)))

	// 40 bars clear the indicator minimum, 2 do not.
	assert.Contains(t, snap.Indicators, "600519")
	assert.NotContains(t, snap.Indicators, "000001")

	assert.JSONEq(t, `{"score": 62}`, string(snap.Sentiment))
	assert.JSONEq(t, `[{"code": "000300"}]`, string(snap.Indices))
	assert.Nil(t, snap.HotStocks)
}

func TestMarketContextSkipsFailingCode(t *testing.T) {
	store := &fakeContextStore{
		codes: []string{"600519", "000001"},
		bars: map[string][]StockQuote{
			"000001": contextBars("000001", 5),
		},
		barErrs:   map[string]error{"600519": fmt.Errorf("corrupt rows")},
		snapshots: map[string]json.RawMessage{},
	}
	svc := NewContextService(store, nil)

	snap, err := svc.MarketContext(context.Background())
	require.NoError(t, err)
	assert.NotContains(t, snap.Quotes, "600519")
	assert.Contains(t, snap.Quotes, "000001")
	assert.False(t, snap.TradingDay)
}

func TestLatestPrice(t *testing.T) {
	store := &fakeContextStore{
		latest: map[string]StockQuote{
			"600519": {StockCode: "600519", Close: decimal.NewFromInt(1712)},
			"300999": {StockCode: "300999"},
		},
	}
	svc := NewContextService(store, nil)

	price, ok := svc.LatestPrice(context.Background(), "600519")
	require.True(t, ok)
	assert.True(t, price.Equal(decimal.NewFromInt(1712)))

	_, ok = svc.LatestPrice(context.Background(), "300999")
	assert.False(t, ok)

	_, ok = svc.LatestPrice(context.Background(), "missing")
	assert.False(t, ok)
}
