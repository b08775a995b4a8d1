package trading

import "github.com/shopspring/decimal"

// TradingFees breaks down the cost of one fill. Stamp tax applies to
// sells only; commission has a per-order floor.
type TradingFees struct {
	Commission  decimal.Decimal
	StampTax    decimal.Decimal
	TransferFee decimal.Decimal
	Total       decimal.Decimal
}

// FeeSchedule carries the process-wide fee rates. Read-only once built.
type FeeSchedule struct {
	CommissionRate  decimal.Decimal
	MinCommission   decimal.Decimal
	StampTaxRate    decimal.Decimal
	TransferFeeRate decimal.Decimal
}

// DefaultFeeSchedule mirrors the standard A-share retail schedule.
func DefaultFeeSchedule() FeeSchedule {
	return FeeSchedule{
		CommissionRate:  decimal.NewFromFloat(0.0003),
		MinCommission:   decimal.NewFromInt(5),
		StampTaxRate:    decimal.NewFromFloat(0.001),
		TransferFeeRate: decimal.NewFromFloat(0.00002),
	}
}

// ComputeFees is pure: amount = price * quantity, commission floored at
// MinCommission, stamp tax on sells only.
func (s FeeSchedule) ComputeFees(side Side, price decimal.Decimal, quantity int64) TradingFees {
	if side == SideHold || quantity <= 0 || !price.IsPositive() {
		return TradingFees{
			Commission:  decimal.Zero,
			StampTax:    decimal.Zero,
			TransferFee: decimal.Zero,
			Total:       decimal.Zero,
		}
	}
	amount := price.Mul(decimal.NewFromInt(quantity))
	commission := amount.Mul(s.CommissionRate)
	if commission.LessThan(s.MinCommission) {
		commission = s.MinCommission
	}
	stampTax := decimal.Zero
	if side == SideSell {
		stampTax = amount.Mul(s.StampTaxRate)
	}
	transferFee := amount.Mul(s.TransferFeeRate)
	return TradingFees{
		Commission:  commission,
		StampTax:    stampTax,
		TransferFee: transferFee,
		Total:       commission.Add(stampTax).Add(transferFee),
	}
}

// ApplyFill folds a fill into a position and returns the updated
// position plus realized P&L (sells only). Buys rebuild the
// volume-weighted average cost; a sell that empties the position marks
// it closed with SellDate instead of deleting it.
func ApplyFill(pos *Position, stockCode string, side Side, quantity int64, price decimal.Decimal, fees TradingFees, tradeDate string) (Position, decimal.Decimal) {
	realized := decimal.Zero
	switch side {
	case SideBuy:
		if pos == nil {
			return Position{
				StockCode: stockCode,
				Shares:    quantity,
				AvgCost:   price,
				BuyDate:   tradeDate,
			}, realized
		}
		oldValue := pos.AvgCost.Mul(decimal.NewFromInt(pos.Shares))
		newValue := price.Mul(decimal.NewFromInt(quantity))
		shares := pos.Shares + quantity
		updated := *pos
		updated.Shares = shares
		updated.AvgCost = oldValue.Add(newValue).Div(decimal.NewFromInt(shares))
		if updated.BuyDate == "" {
			updated.BuyDate = tradeDate
		}
		return updated, realized
	case SideSell:
		if pos == nil {
			return Position{}, realized
		}
		if quantity > pos.Shares {
			quantity = pos.Shares
		}
		realized = price.Sub(pos.AvgCost).Mul(decimal.NewFromInt(quantity)).Sub(fees.Total)
		updated := *pos
		updated.Shares = pos.Shares - quantity
		if updated.Shares == 0 {
			updated.SellDate = tradeDate
		}
		return updated, realized
	}
	if pos != nil {
		return *pos, realized
	}
	return Position{}, realized
}
