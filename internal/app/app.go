// Package app wires configuration, storage, gateways, and services
// into a runnable process.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"tradesim/internal/agent"
	"tradesim/internal/config"
	"tradesim/internal/gateway/llm"
	"tradesim/internal/gateway/quotes"
	"tradesim/internal/logger"
	"tradesim/internal/market"
	"tradesim/internal/store/sqlite"
	"tradesim/internal/task"
	httpapi "tradesim/internal/transport/http"
)

type App struct {
	cfg       *config.Config
	store     *sqlite.Store
	tasks     *task.Service
	runner    *task.Runner
	scheduler *task.Scheduler
	server    *httpapi.Server
}

// New builds the full dependency graph without starting anything.
func New(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, errors.New("nil config")
	}
	logger.SetLevel(cfg.Log.Level)

	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store at %s failed: %w", cfg.Database.Path, err)
	}

	quoteClient := quotes.NewClient(quotes.Config{
		BaseURL: cfg.Market.BaseURL,
		APIKey:  cfg.Market.APIKey,
		Timeout: cfg.Market.Timeout(),
	})

	endpoints := make([]llm.Endpoint, 0, len(cfg.LLM.Providers))
	for _, p := range cfg.LLM.Providers {
		endpoints = append(endpoints, llm.Endpoint{
			ProviderID: p.ID,
			BaseURL:    p.BaseURL,
			APIKey:     p.APIKey,
			Model:      p.Model,
			Timeout:    cfg.LLM.DecisionTimeout(),
		})
	}
	provider := llm.NewProvider(endpoints)

	calendar := task.NewCalendar(cfg.Trading.Holidays)
	marketCtx := market.NewContextService(store, calendar.IsTradingDay)
	syncSvc := market.NewSyncService(quoteClient, store)
	refreshSvc := market.NewRefreshService(quoteClient, store)

	executor := agent.NewExecutor(provider, marketCtx, store, cfg.Trading.FeeSchedule(), cfg.LLM.DecisionTimeout())

	runner := task.NewRunner(store, store, executor, syncSvc, refreshSvc, calendar, task.RunnerOptions{
		Concurrency: cfg.Runner.Concurrency,
		UnitTimeout: cfg.Runner.UnitTimeout(),
	})
	tasks := task.NewService(store)
	scheduler := task.NewScheduler(store, runner, cfg.Scheduler.Tick())

	server, err := httpapi.NewServer(httpapi.ServerConfig{
		Addr:   cfg.Server.Addr,
		Tasks:  tasks,
		Runner: runner,
		Logs:   store,
		Agents: store,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	return &App{
		cfg:       cfg,
		store:     store,
		tasks:     tasks,
		runner:    runner,
		scheduler: scheduler,
		server:    server,
	}, nil
}

// Run seeds configured agents, then serves HTTP and the scheduler
// until ctx is cancelled or either part fails.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return errors.New("app not initialized")
	}
	if err := a.seedAgents(ctx); err != nil {
		return err
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := a.server.Start(ctx); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		return a.scheduler.Start(ctx)
	})
	return group.Wait()
}

func (a *App) Close() error {
	if a == nil || a.store == nil {
		return nil
	}
	return a.store.Close()
}

// seedAgents creates configured agents that do not exist yet. Existing
// rows keep their accumulated state untouched.
func (a *App) seedAgents(ctx context.Context) error {
	now := time.Now()
	for _, seed := range a.cfg.Agents {
		_, err := a.store.GetAgent(ctx, seed.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, agent.ErrNotFound) {
			return fmt.Errorf("looking up agent %s failed: %w", seed.ID, err)
		}
		cash := decimal.NewFromFloat(seed.InitialCash)
		if err := a.store.SaveAgent(ctx, &agent.Agent{
			ID:          seed.ID,
			Name:        seed.Name,
			Status:      agent.StatusActive,
			InitialCash: cash,
			CurrentCash: cash,
			TemplateID:  seed.TemplateID,
			ProviderID:  seed.ProviderID,
			Model:       seed.Model,
			CreatedAt:   now,
			UpdatedAt:   now,
		}); err != nil {
			return fmt.Errorf("seeding agent %s failed: %w", seed.ID, err)
		}
		logger.Infof("[app] seeded agent %s (%s) with initial cash %s", seed.ID, seed.Name, cash)
	}
	return nil
}
