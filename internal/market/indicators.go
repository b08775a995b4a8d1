package market

import (
	"sort"

	"github.com/markcheno/go-talib"

	"tradesim/internal/decision"
)

// Indicators condenses a stock's recent daily bars into the indicator
// block used in decision context. Returns ok=false when the history is
// too short for the slowest lookback.
func Indicators(quotes []StockQuote) (decision.IndicatorValues, bool) {
	var out decision.IndicatorValues
	if len(quotes) < 35 {
		return out, false
	}
	bars := make([]StockQuote, len(quotes))
	copy(bars, quotes)
	sort.Slice(bars, func(i, j int) bool { return bars[i].TradeDate < bars[j].TradeDate })

	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i], _ = b.Close.Float64()
	}
	last := len(closes) - 1

	ma5 := talib.Ma(closes, 5, talib.SMA)
	ma20 := talib.Ma(closes, 20, talib.SMA)
	macd, signal, _ := talib.Macd(closes, 12, 26, 9)
	rsi := talib.Rsi(closes, 14)
	upper, _, lower := talib.BBands(closes, 20, 2, 2, talib.SMA)

	out.MA5 = ma5[last]
	out.MA20 = ma20[last]
	out.MACD = macd[last]
	out.Signal = signal[last]
	out.RSI14 = rsi[last]
	out.BollUp = upper[last]
	out.BollLo = lower[last]
	return out, true
}
