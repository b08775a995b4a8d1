package decision

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"tradesim/internal/pkg/jsonutil"
	"tradesim/internal/trading"
)

// ParseDecision turns raw model output into a Decision. The payload is
// expected to be a single JSON object, possibly wrapped in prose or a
// code fence; it is schema-checked before field extraction.
func ParseDecision(raw string) (Decision, error) {
	block, ok := jsonutil.ExtractObject(raw)
	if !ok {
		return Decision{}, fmt.Errorf("no JSON decision object in model output")
	}
	if err := validateDecisionJSON(block); err != nil {
		return Decision{}, err
	}
	parsed := gjson.Parse(block)

	side, ok := trading.ParseSide(parsed.Get("decision").String())
	if !ok {
		return Decision{}, fmt.Errorf("unknown decision %q", parsed.Get("decision").String())
	}
	d := Decision{
		Side:      side,
		StockCode: strings.TrimSpace(parsed.Get("stock_code").String()),
		Quantity:  parsed.Get("quantity").Int(),
		Rationale: strings.TrimSpace(parsed.Get("reason").String()),
	}
	if price := parsed.Get("price"); price.Exists() {
		val, err := decimal.NewFromString(price.String())
		if err == nil && val.IsPositive() {
			d.Price = val
		}
	}
	if d.Side != trading.SideHold {
		if d.StockCode == "" {
			return Decision{}, fmt.Errorf("%s decision is missing stock_code", d.Side)
		}
		if d.Quantity < 0 {
			return Decision{}, fmt.Errorf("negative quantity %d", d.Quantity)
		}
	}
	// A wait-style decision never carries size.
	if d.Side == trading.SideHold {
		d.Quantity = 0
	}
	return d, nil
}
