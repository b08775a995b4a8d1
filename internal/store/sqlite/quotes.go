package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tradesim/internal/market"
	"tradesim/internal/store/model"
)

// UpsertQuotes writes daily bars, replacing any existing row for the
// same (stock_code, trade_date).
func (s *Store) UpsertQuotes(ctx context.Context, quotes []market.StockQuote) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("store not initialized")
	}
	if len(quotes) == 0 {
		return nil
	}
	recs := make([]model.StockQuoteModel, 0, len(quotes))
	for _, q := range quotes {
		recs = append(recs, model.StockQuoteModel{
			StockCode: q.StockCode,
			TradeDate: q.TradeDate,
			StockName: q.StockName,
			Open:      q.Open,
			High:      q.High,
			Low:       q.Low,
			Close:     q.Close,
			PrevClose: q.PrevClose,
			Volume:    q.Volume,
			Amount:    q.Amount,
		})
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "stock_code"}, {Name: "trade_date"}},
		UpdateAll: true,
	}).Create(&recs).Error
}

// LatestTradeDate returns the newest stored bar date for a code, empty
// when none exist.
func (s *Store) LatestTradeDate(ctx context.Context, stockCode string) (string, error) {
	if s == nil || s.db == nil {
		return "", fmt.Errorf("store not initialized")
	}
	var rec model.StockQuoteModel
	err := s.db.WithContext(ctx).
		Where("stock_code = ?", stockCode).
		Order("trade_date DESC").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return rec.TradeDate, nil
}

func (s *Store) LatestQuote(ctx context.Context, stockCode string) (market.StockQuote, error) {
	if s == nil || s.db == nil {
		return market.StockQuote{}, fmt.Errorf("store not initialized")
	}
	var rec model.StockQuoteModel
	err := s.db.WithContext(ctx).
		Where("stock_code = ?", stockCode).
		Order("trade_date DESC").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return market.StockQuote{}, fmt.Errorf("no quotes stored for %s", stockCode)
	}
	if err != nil {
		return market.StockQuote{}, err
	}
	return quoteFromModel(&rec), nil
}

// RecentQuotes returns up to limit bars for a code, oldest first.
func (s *Store) RecentQuotes(ctx context.Context, stockCode string, limit int) ([]market.StockQuote, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}
	if limit <= 0 {
		limit = 60
	}
	var recs []model.StockQuoteModel
	if err := s.db.WithContext(ctx).
		Where("stock_code = ?", stockCode).
		Order("trade_date DESC").
		Limit(limit).
		Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]market.StockQuote, len(recs))
	for i := range recs {
		out[len(recs)-1-i] = quoteFromModel(&recs[i])
	}
	return out, nil
}

// ListQuoteCodes returns every distinct stock code with stored bars.
func (s *Store) ListQuoteCodes(ctx context.Context) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}
	var codes []string
	if err := s.db.WithContext(ctx).
		Model(&model.StockQuoteModel{}).
		Distinct("stock_code").
		Order("stock_code ASC").
		Pluck("stock_code", &codes).Error; err != nil {
		return nil, err
	}
	return codes, nil
}

// SaveSnapshot stores the latest payload for a snapshot kind.
func (s *Store) SaveSnapshot(ctx context.Context, kind string, payload json.RawMessage, fetchedAt time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("store not initialized")
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "kind"}},
		UpdateAll: true,
	}).Create(&model.MarketSnapshotModel{
		Kind:          kind,
		Payload:       []byte(payload),
		FetchedAtUnix: unixMilli(fetchedAt),
	}).Error
}

// GetSnapshot returns the stored payload for a kind, nil when absent.
func (s *Store) GetSnapshot(ctx context.Context, kind string) (json.RawMessage, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}
	var rec model.MarketSnapshotModel
	err := s.db.WithContext(ctx).Where("kind = ?", kind).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(rec.Payload), nil
}

func quoteFromModel(rec *model.StockQuoteModel) market.StockQuote {
	return market.StockQuote{
		StockCode: rec.StockCode,
		StockName: rec.StockName,
		TradeDate: rec.TradeDate,
		Open:      rec.Open,
		High:      rec.High,
		Low:       rec.Low,
		Close:     rec.Close,
		PrevClose: rec.PrevClose,
		Volume:    rec.Volume,
		Amount:    rec.Amount,
	}
}
