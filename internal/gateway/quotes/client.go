// Package quotes is the REST client for the external A-share market
// data feed: daily bars plus the sentiment/indices/hot-stock payloads
// consumed by market refresh tasks.
package quotes

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"tradesim/internal/market"
	"tradesim/internal/pkg/circuit"
)

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client implements market.QuoteProvider and market.MarketDataProvider
// against the feed's JSON API. A shared circuit breaker shields the
// feed while it is down instead of hammering every endpoint.
type Client struct {
	http    *resty.Client
	breaker *circuit.Breaker
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second)
	if cfg.APIKey != "" {
		c.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	}
	return &Client{
		http:    c,
		breaker: circuit.New("quote-feed", 5, 30*time.Second),
	}
}

// guard runs one feed call through the circuit breaker.
func (c *Client) guard(fn func() error) error {
	if !c.breaker.Allow() {
		return fmt.Errorf("quote feed circuit open")
	}
	if err := fn(); err != nil {
		c.breaker.RecordFailure()
		return err
	}
	c.breaker.RecordSuccess()
	return nil
}

type quoteBar struct {
	StockCode string          `json:"stock_code"`
	StockName string          `json:"stock_name"`
	TradeDate string          `json:"trade_date"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	PrevClose decimal.Decimal `json:"prev_close"`
	Volume    int64           `json:"volume"`
	Amount    decimal.Decimal `json:"amount"`
}

func (c *Client) Latest(ctx context.Context, stockCode string) (market.StockQuote, error) {
	var bar quoteBar
	err := c.guard(func() error {
		resp, err := c.http.R().
			SetContext(ctx).
			SetPathParam("code", stockCode).
			SetResult(&bar).
			Get("/api/quotes/{code}/latest")
		if err != nil {
			return err
		}
		if resp.IsError() {
			return fmt.Errorf("quote feed returned %d for %s", resp.StatusCode(), stockCode)
		}
		return nil
	})
	if err != nil {
		return market.StockQuote{}, err
	}
	return toQuote(bar), nil
}

func (c *Client) History(ctx context.Context, stockCode string, days int) ([]market.StockQuote, error) {
	var bars []quoteBar
	err := c.guard(func() error {
		resp, err := c.http.R().
			SetContext(ctx).
			SetPathParam("code", stockCode).
			SetQueryParam("days", fmt.Sprintf("%d", days)).
			SetResult(&bars).
			Get("/api/quotes/{code}/history")
		if err != nil {
			return err
		}
		if resp.IsError() {
			return fmt.Errorf("quote feed returned %d for %s history", resp.StatusCode(), stockCode)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]market.StockQuote, 0, len(bars))
	for _, b := range bars {
		out = append(out, toQuote(b))
	}
	return out, nil
}

// DefaultStockCodes asks the feed for its tracked watchlist, used when
// a quote_sync task names no codes of its own.
func (c *Client) DefaultStockCodes(ctx context.Context) ([]string, error) {
	var codes []string
	err := c.guard(func() error {
		resp, err := c.http.R().
			SetContext(ctx).
			SetResult(&codes).
			Get("/api/stocks/default")
		if err != nil {
			return err
		}
		if resp.IsError() {
			return fmt.Errorf("quote feed returned %d for default stock set", resp.StatusCode())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return codes, nil
}

func (c *Client) Sentiment(ctx context.Context) (json.RawMessage, error) {
	return c.rawPayload(ctx, "/api/market/sentiment")
}

func (c *Client) Indices(ctx context.Context) (json.RawMessage, error) {
	return c.rawPayload(ctx, "/api/market/indices")
}

func (c *Client) HotStocks(ctx context.Context) (json.RawMessage, error) {
	return c.rawPayload(ctx, "/api/market/hot-stocks")
}

// rawPayload passes the feed's body through untouched; the store keeps
// it verbatim and the decision prompt embeds it as-is.
func (c *Client) rawPayload(ctx context.Context, path string) (json.RawMessage, error) {
	var body []byte
	err := c.guard(func() error {
		resp, err := c.http.R().
			SetContext(ctx).
			Get(path)
		if err != nil {
			return err
		}
		if resp.IsError() {
			return fmt.Errorf("quote feed returned %d for %s", resp.StatusCode(), path)
		}
		body = resp.Body()
		if !json.Valid(body) {
			return fmt.Errorf("quote feed returned invalid JSON for %s", path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return json.RawMessage(body), nil
}

func toQuote(b quoteBar) market.StockQuote {
	return market.StockQuote{
		StockCode: b.StockCode,
		StockName: b.StockName,
		TradeDate: b.TradeDate,
		Open:      b.Open,
		High:      b.High,
		Low:       b.Low,
		Close:     b.Close,
		PrevClose: b.PrevClose,
		Volume:    b.Volume,
		Amount:    b.Amount,
	}
}
