package sqlite

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tradesim/internal/agent"
	"tradesim/internal/store/model"
	"tradesim/internal/trading"
)

// ErrAgentNotFound is returned by lookups for unknown agent IDs.
var ErrAgentNotFound = agent.ErrNotFound

func (s *Store) SaveAgent(ctx context.Context, a *agent.Agent) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("store not initialized")
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(agentToModel(a)).Error
}

func (s *Store) GetAgent(ctx context.Context, id string) (*agent.Agent, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}
	var rec model.AgentModel
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAgentNotFound
	}
	if err != nil {
		return nil, err
	}
	return agentFromModel(&rec), nil
}

func (s *Store) ListAgents(ctx context.Context) ([]*agent.Agent, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}
	var recs []model.AgentModel
	if err := s.db.WithContext(ctx).
		Where("status <> ?", string(agent.StatusDeleted)).
		Order("created_at ASC").
		Find(&recs).Error; err != nil {
		return nil, err
	}
	return agentsFromModels(recs), nil
}

func (s *Store) ListActive(ctx context.Context) ([]*agent.Agent, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}
	var recs []model.AgentModel
	if err := s.db.WithContext(ctx).
		Where("status = ?", string(agent.StatusActive)).
		Order("created_at ASC").
		Find(&recs).Error; err != nil {
		return nil, err
	}
	return agentsFromModels(recs), nil
}

func (s *Store) GetByIDs(ctx context.Context, ids []string) ([]*agent.Agent, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}
	if len(ids) == 0 {
		return nil, nil
	}
	var recs []model.AgentModel
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&recs).Error; err != nil {
		return nil, err
	}
	// Preserve the request order.
	byID := make(map[string]*agent.Agent, len(recs))
	for i := range recs {
		byID[recs[i].ID] = agentFromModel(&recs[i])
	}
	out := make([]*agent.Agent, 0, len(recs))
	for _, id := range ids {
		if a, ok := byID[id]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

// LoadPortfolio reconstructs an agent's portfolio: cash from the agent
// row, open positions into the active map, closed lots into history.
func (s *Store) LoadPortfolio(ctx context.Context, agentID string) (*trading.Portfolio, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}
	a, err := s.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}

	var recs []model.PositionModel
	if err := s.db.WithContext(ctx).
		Where("agent_id = ?", agentID).
		Order("buy_date ASC, id ASC").
		Find(&recs).Error; err != nil {
		return nil, err
	}

	p := trading.NewPortfolio(agentID, a.CurrentCash)
	for i := range recs {
		pos := positionFromModel(&recs[i])
		if pos.Closed() {
			p.History = append(p.History, pos)
			continue
		}
		p.Positions[pos.StockCode] = &pos
	}
	return p, nil
}

// RecordExecution persists one completed decision cycle atomically:
// agent cash, every position lot, the order and transaction if any,
// and the day's equity snapshot all commit or none do.
func (s *Store) RecordExecution(ctx context.Context, rec agent.ExecutionRecord) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("store not initialized")
	}
	if rec.Agent == nil || rec.Portfolio == nil {
		return fmt.Errorf("execution record needs agent and portfolio")
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).Create(agentToModel(rec.Agent)).Error; err != nil {
			return err
		}

		lots := make([]model.PositionModel, 0, len(rec.Portfolio.Positions)+len(rec.Portfolio.History))
		for _, pos := range rec.Portfolio.Positions {
			lots = append(lots, positionToModel(rec.Agent.ID, pos))
		}
		for i := range rec.Portfolio.History {
			lots = append(lots, positionToModel(rec.Agent.ID, &rec.Portfolio.History[i]))
		}
		for i := range lots {
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "agent_id"}, {Name: "stock_code"}, {Name: "buy_date"}},
				UpdateAll: true,
			}).Create(&lots[i]).Error; err != nil {
				return err
			}
		}

		if rec.Order != nil {
			if err := tx.Create(orderToModel(rec.Order)).Error; err != nil {
				return err
			}
		}
		if rec.Transaction != nil {
			if err := tx.Create(transactionToModel(rec.Transaction)).Error; err != nil {
				return err
			}
		}

		if rec.Equity.Date != "" {
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "agent_id"}, {Name: "date"}},
				UpdateAll: true,
			}).Create(&model.EquitySnapshotModel{
				AgentID:     rec.Agent.ID,
				Date:        rec.Equity.Date,
				TotalAssets: rec.Equity.TotalAssets,
			}).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// EquitySeries returns an agent's asset-value history ordered by date.
func (s *Store) EquitySeries(ctx context.Context, agentID string) ([]trading.EquityPoint, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}
	var recs []model.EquitySnapshotModel
	if err := s.db.WithContext(ctx).
		Where("agent_id = ?", agentID).
		Order("date ASC").
		Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]trading.EquityPoint, 0, len(recs))
	for _, r := range recs {
		out = append(out, trading.EquityPoint{Date: r.Date, TotalAssets: r.TotalAssets})
	}
	return out, nil
}

// ListTransactions returns an agent's fills, newest first.
func (s *Store) ListTransactions(ctx context.Context, agentID string, limit int) ([]*trading.Transaction, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}
	if limit <= 0 {
		limit = 100
	}
	var recs []model.TransactionModel
	if err := s.db.WithContext(ctx).
		Where("agent_id = ?", agentID).
		Order("executed_at DESC, id DESC").
		Limit(limit).
		Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]*trading.Transaction, 0, len(recs))
	for i := range recs {
		out = append(out, transactionFromModel(&recs[i]))
	}
	return out, nil
}

func agentToModel(a *agent.Agent) *model.AgentModel {
	return &model.AgentModel{
		ID:            a.ID,
		Name:          a.Name,
		Status:        string(a.Status),
		InitialCash:   a.InitialCash,
		CurrentCash:   a.CurrentCash,
		TemplateID:    a.TemplateID,
		ProviderID:    a.ProviderID,
		Model:         a.Model,
		CreatedAtUnix: unixMilli(a.CreatedAt),
		UpdatedAtUnix: unixMilli(a.UpdatedAt),
	}
}

func agentFromModel(rec *model.AgentModel) *agent.Agent {
	return &agent.Agent{
		ID:          rec.ID,
		Name:        rec.Name,
		Status:      agent.Status(rec.Status),
		InitialCash: rec.InitialCash,
		CurrentCash: rec.CurrentCash,
		TemplateID:  rec.TemplateID,
		ProviderID:  rec.ProviderID,
		Model:       rec.Model,
		CreatedAt:   fromUnixMilli(rec.CreatedAtUnix),
		UpdatedAt:   fromUnixMilli(rec.UpdatedAtUnix),
	}
}

func agentsFromModels(recs []model.AgentModel) []*agent.Agent {
	out := make([]*agent.Agent, 0, len(recs))
	for i := range recs {
		out = append(out, agentFromModel(&recs[i]))
	}
	return out
}

func positionToModel(agentID string, pos *trading.Position) model.PositionModel {
	return model.PositionModel{
		AgentID:   agentID,
		StockCode: pos.StockCode,
		BuyDate:   pos.BuyDate,
		Shares:    pos.Shares,
		AvgCost:   pos.AvgCost,
		SellDate:  pos.SellDate,
	}
}

func positionFromModel(rec *model.PositionModel) trading.Position {
	return trading.Position{
		StockCode: rec.StockCode,
		Shares:    rec.Shares,
		AvgCost:   rec.AvgCost,
		BuyDate:   rec.BuyDate,
		SellDate:  rec.SellDate,
	}
}

func orderToModel(o *trading.Order) *model.OrderModel {
	return &model.OrderModel{
		ID:            o.OrderID,
		AgentID:       o.AgentID,
		StockCode:     o.StockCode,
		Side:          string(o.Side),
		Quantity:      o.Quantity,
		Price:         o.Price,
		Status:        string(o.Status),
		RejectReason:  o.RejectReason,
		Reason:        o.Reason,
		CreatedAtUnix: unixMilli(o.CreatedAt),
	}
}

func transactionToModel(t *trading.Transaction) *model.TransactionModel {
	return &model.TransactionModel{
		ID:             t.TxID,
		OrderID:        t.OrderID,
		AgentID:        t.AgentID,
		StockCode:      t.StockCode,
		Side:           string(t.Side),
		Quantity:       t.Quantity,
		Price:          t.Price,
		Commission:     t.Fees.Commission,
		StampTax:       t.Fees.StampTax,
		TransferFee:    t.Fees.TransferFee,
		TotalFees:      t.Fees.Total,
		ExecutedAtUnix: unixMilli(t.ExecutedAt),
		Reason:         t.Reason,
	}
}

func transactionFromModel(rec *model.TransactionModel) *trading.Transaction {
	return &trading.Transaction{
		TxID:      rec.ID,
		OrderID:   rec.OrderID,
		AgentID:   rec.AgentID,
		StockCode: rec.StockCode,
		Side:      trading.Side(rec.Side),
		Quantity:  rec.Quantity,
		Price:     rec.Price,
		Fees: trading.TradingFees{
			Commission:  rec.Commission,
			StampTax:    rec.StampTax,
			TransferFee: rec.TransferFee,
			Total:       rec.TotalFees,
		},
		ExecutedAt: fromUnixMilli(rec.ExecutedAtUnix),
		Reason:     rec.Reason,
	}
}
