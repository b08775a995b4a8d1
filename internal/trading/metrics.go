package trading

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// EquityPoint is one day's total asset value for an agent.
type EquityPoint struct {
	Date        string
	TotalAssets decimal.Decimal
}

// Metrics holds derived portfolio performance figures. The Has* flags
// mark figures that are undefined for the given series (too few points
// or zero variance) rather than zero-valued.
type Metrics struct {
	ReturnRate       float64
	AnnualizedReturn float64
	MaxDrawdown      float64
	SharpeRatio      float64

	HasAnnualized bool
	HasSharpe     bool
}

// ComputeMetrics derives performance figures from an ordered equity
// series and the agent's starting cash. Points are sorted by date
// before use so callers may pass store order.
func ComputeMetrics(points []EquityPoint, initialCash decimal.Decimal) Metrics {
	var m Metrics
	if len(points) == 0 || !initialCash.IsPositive() {
		return m
	}
	series := make([]EquityPoint, len(points))
	copy(series, points)
	sort.Slice(series, func(i, j int) bool { return series[i].Date < series[j].Date })

	initial, _ := initialCash.Float64()
	values := make([]float64, len(series))
	for i, p := range series {
		values[i], _ = p.TotalAssets.Float64()
	}

	last := values[len(values)-1]
	m.ReturnRate = (last - initial) / initial

	if days := elapsedDays(series[0].Date, series[len(series)-1].Date); days >= 1 {
		m.AnnualizedReturn = math.Pow(1+m.ReturnRate, 365/float64(days)) - 1
		m.HasAnnualized = true
	}

	m.MaxDrawdown = maxDrawdown(values)

	if sharpe, ok := sharpeRatio(values); ok {
		m.SharpeRatio = sharpe
		m.HasSharpe = true
	}
	return m
}

// maxDrawdown is the largest peak-to-trough loss ratio over the
// running maximum.
func maxDrawdown(values []float64) float64 {
	worst := 0.0
	peak := math.Inf(-1)
	for _, v := range values {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := (peak - v) / peak; dd > worst {
				worst = dd
			}
		}
	}
	return worst
}

// sharpeRatio uses daily returns, a zero risk-free rate and the sample
// standard deviation. Undefined for fewer than 2 daily returns or zero
// variance.
func sharpeRatio(values []float64) (float64, bool) {
	returns := make([]float64, 0, len(values))
	for i := 1; i < len(values); i++ {
		if values[i-1] == 0 {
			continue
		}
		returns = append(returns, values[i]/values[i-1]-1)
	}
	if len(returns) < 2 {
		return 0, false
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns) - 1)
	if variance <= 0 {
		return 0, false
	}
	return mean / math.Sqrt(variance), true
}

func elapsedDays(first, last string) int {
	start, err1 := time.Parse("2006-01-02", first)
	end, err2 := time.Parse("2006-01-02", last)
	if err1 != nil || err2 != nil {
		return 0
	}
	return int(end.Sub(start).Hours() / 24)
}
