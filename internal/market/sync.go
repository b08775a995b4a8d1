package market

import (
	"context"
	"fmt"
	"strings"

	"tradesim/internal/logger"
)

const defaultSyncDays = 7

// SyncResult summarizes one quote_sync unit.
type SyncResult struct {
	Synced  int
	Failed  int
	Message string
}

// SyncService refreshes persisted quote history from the provider.
type SyncService struct {
	Provider QuoteProvider
	Store    QuoteStore
}

func NewSyncService(provider QuoteProvider, store QuoteStore) *SyncService {
	return &SyncService{Provider: provider, Store: store}
}

// Sync fetches up to days of history for each code and upserts the
// bars. Without explicit codes the provider's default set is used.
// Unless forceFull, bars at or before the latest stored trade date are
// skipped. One failing code does not abort the rest; Sync errors only
// when every code failed.
func (s *SyncService) Sync(ctx context.Context, stockCodes []string, days int, forceFull bool) (SyncResult, error) {
	if s == nil || s.Provider == nil || s.Store == nil {
		return SyncResult{}, fmt.Errorf("quote sync service not initialized")
	}
	if days <= 0 {
		days = defaultSyncDays
	}
	codes := normalizeCodes(stockCodes)
	if len(codes) == 0 {
		defaults, err := s.Provider.DefaultStockCodes(ctx)
		if err != nil {
			return SyncResult{}, fmt.Errorf("resolving default stock set failed: %w", err)
		}
		codes = normalizeCodes(defaults)
	}
	if len(codes) == 0 {
		return SyncResult{Message: "no stock codes to sync"}, nil
	}

	var result SyncResult
	var firstErr error
	for _, code := range codes {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := s.syncOne(ctx, code, days, forceFull); err != nil {
			result.Failed++
			if firstErr == nil {
				firstErr = err
			}
			logger.Warnf("[quote-sync] %s failed: %v", code, err)
			continue
		}
		result.Synced++
	}
	result.Message = fmt.Sprintf("synced %d/%d codes over %d days", result.Synced, len(codes), days)
	if result.Synced == 0 && firstErr != nil {
		return result, fmt.Errorf("all %d codes failed: %w", len(codes), firstErr)
	}
	return result, nil
}

func (s *SyncService) syncOne(ctx context.Context, code string, days int, forceFull bool) error {
	bars, err := s.Provider.History(ctx, code, days)
	if err != nil {
		return err
	}
	if !forceFull {
		latest, err := s.Store.LatestTradeDate(ctx, code)
		if err != nil {
			return err
		}
		if latest != "" {
			fresh := bars[:0]
			for _, b := range bars {
				if b.TradeDate > latest {
					fresh = append(fresh, b)
				}
			}
			bars = fresh
		}
	}
	if len(bars) == 0 {
		return nil
	}
	return s.Store.UpsertQuotes(ctx, bars)
}

func normalizeCodes(codes []string) []string {
	out := make([]string, 0, len(codes))
	seen := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
