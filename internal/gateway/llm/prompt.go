package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"tradesim/internal/decision"
)

const systemPrompt = `You are a simulated A-share trading agent. Each day you review your
portfolio and the market context, then decide on exactly one action.

Respond with a single JSON object and nothing else:
{
  "decision": "buy" | "sell" | "hold",
  "stock_code": "6-digit code, required unless holding",
  "quantity": integer number of shares, 0 when holding,
  "price": target price as a number, omit to trade at the latest close,
  "reason": "one or two sentences explaining the decision"
}

Rules: sells are limited to shares you hold and blocked on the day of
purchase (T+1). Buys are limited by available cash including fees. When
nothing is attractive, hold.`

// renderPrompt serializes the two snapshots into the user message.
func renderPrompt(portfolio decision.PortfolioSnapshot, snapshot decision.MarketSnapshot) (string, error) {
	pj, err := json.MarshalIndent(portfolio, "", "  ")
	if err != nil {
		return "", fmt.Errorf("rendering portfolio snapshot failed: %w", err)
	}
	mj, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return "", fmt.Errorf("rendering market snapshot failed: %w", err)
	}
	var b strings.Builder
	b.WriteString("## Portfolio\n")
	b.Write(pj)
	b.WriteString("\n\n## Market\n")
	b.Write(mj)
	b.WriteString("\n\nDecide now.")
	return b.String(), nil
}
