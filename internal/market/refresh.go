package market

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"tradesim/internal/logger"
)

// RefreshOutcome records per-kind results of one market_refresh unit.
type RefreshOutcome struct {
	Refreshed []string
	Failed    map[string]string
}

func (o RefreshOutcome) AllSucceeded() bool {
	return len(o.Failed) == 0
}

func (o RefreshOutcome) ErrorMessage() string {
	if len(o.Failed) == 0 {
		return ""
	}
	kinds := make([]string, 0, len(o.Failed))
	for kind := range o.Failed {
		kinds = append(kinds, kind)
	}
	return fmt.Sprintf("partial refresh failure: %s", strings.Join(kinds, ", "))
}

// RefreshService persists market-wide snapshots from the data
// provider.
type RefreshService struct {
	Provider MarketDataProvider
	Store    SnapshotStore
	nowFn    func() time.Time
}

func NewRefreshService(provider MarketDataProvider, store SnapshotStore) *RefreshService {
	return &RefreshService{Provider: provider, Store: store, nowFn: time.Now}
}

// Refresh runs the selected sub-refreshes. Kinds defaults to all
// three; an unknown kind is a failure for that kind only. Sub-unit
// failures never block the remaining kinds.
func (s *RefreshService) Refresh(ctx context.Context, kinds []string) (RefreshOutcome, error) {
	out := RefreshOutcome{Failed: make(map[string]string)}
	if s == nil || s.Provider == nil || s.Store == nil {
		return out, fmt.Errorf("market refresh service not initialized")
	}
	if len(kinds) == 0 {
		kinds = []string{SnapshotSentiment, SnapshotIndices, SnapshotHotStocks}
	}
	for _, kind := range kinds {
		kind = strings.ToLower(strings.TrimSpace(kind))
		if kind == "" {
			continue
		}
		if err := s.refreshOne(ctx, kind); err != nil {
			out.Failed[kind] = err.Error()
			logger.Warnf("[market-refresh] %s failed: %v", kind, err)
			continue
		}
		out.Refreshed = append(out.Refreshed, kind)
	}
	return out, nil
}

func (s *RefreshService) refreshOne(ctx context.Context, kind string) error {
	var (
		payload json.RawMessage
		err     error
	)
	switch kind {
	case SnapshotSentiment:
		payload, err = s.Provider.Sentiment(ctx)
	case SnapshotIndices:
		payload, err = s.Provider.Indices(ctx)
	case SnapshotHotStocks:
		payload, err = s.Provider.HotStocks(ctx)
	default:
		return fmt.Errorf("unknown refresh kind %q", kind)
	}
	if err != nil {
		return err
	}
	if len(payload) == 0 {
		return fmt.Errorf("provider returned empty %s payload", kind)
	}
	return s.Store.SaveSnapshot(ctx, kind, payload, s.now())
}

func (s *RefreshService) now() time.Time {
	if s != nil && s.nowFn != nil {
		return s.nowFn()
	}
	return time.Now()
}
