// Package config loads the process configuration from a YAML file via
// viper, with environment overrides under the TRADESIM prefix.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"tradesim/internal/trading"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Log       LogConfig       `mapstructure:"log"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Runner    RunnerConfig    `mapstructure:"runner"`
	Trading   TradingConfig   `mapstructure:"trading"`
	Market    MarketConfig    `mapstructure:"market"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Agents    []AgentSeed     `mapstructure:"agents"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	Path  string `mapstructure:"path"`
}

type SchedulerConfig struct {
	TickSeconds int `mapstructure:"tick_seconds"`
}

type RunnerConfig struct {
	Concurrency        int `mapstructure:"concurrency"`
	UnitTimeoutSeconds int `mapstructure:"unit_timeout_seconds"`
}

type TradingConfig struct {
	CommissionRate  float64  `mapstructure:"commission_rate"`
	MinCommission   float64  `mapstructure:"min_commission"`
	StampTaxRate    float64  `mapstructure:"stamp_tax_rate"`
	TransferFeeRate float64  `mapstructure:"transfer_fee_rate"`
	Holidays        []string `mapstructure:"holidays"`
}

type MarketConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type LLMConfig struct {
	DecisionTimeoutSeconds int              `mapstructure:"decision_timeout_seconds"`
	Providers              []ProviderConfig `mapstructure:"providers"`
}

type ProviderConfig struct {
	ID      string `mapstructure:"id"`
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
}

// AgentSeed declares an agent to create on startup if absent.
type AgentSeed struct {
	ID          string  `mapstructure:"id"`
	Name        string  `mapstructure:"name"`
	InitialCash float64 `mapstructure:"initial_cash"`
	TemplateID  string  `mapstructure:"template_id"`
	ProviderID  string  `mapstructure:"provider_id"`
	Model       string  `mapstructure:"model"`
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("TRADESIM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file failed (%s): %w", path, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("database.path", "data/tradesim.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("scheduler.tick_seconds", 30)
	v.SetDefault("runner.concurrency", 3)
	v.SetDefault("runner.unit_timeout_seconds", 180)
	v.SetDefault("trading.commission_rate", 0.0003)
	v.SetDefault("trading.min_commission", 5)
	v.SetDefault("trading.stamp_tax_rate", 0.001)
	v.SetDefault("trading.transfer_fee_rate", 0.00002)
	v.SetDefault("market.timeout_seconds", 30)
	v.SetDefault("llm.decision_timeout_seconds", 120)
}

func validate(cfg *Config) error {
	if cfg.Database.Path == "" {
		return fmt.Errorf("database.path cannot be empty")
	}
	if cfg.Runner.Concurrency < 1 {
		return fmt.Errorf("runner.concurrency must be at least 1")
	}
	seen := make(map[string]bool, len(cfg.LLM.Providers))
	for _, p := range cfg.LLM.Providers {
		if p.ID == "" {
			return fmt.Errorf("llm provider is missing an id")
		}
		if seen[p.ID] {
			return fmt.Errorf("llm provider id %q is duplicated", p.ID)
		}
		seen[p.ID] = true
	}
	for _, a := range cfg.Agents {
		if a.ID == "" || a.Name == "" {
			return fmt.Errorf("agent seeds need both id and name")
		}
		if a.InitialCash <= 0 {
			return fmt.Errorf("agent %s needs a positive initial_cash", a.ID)
		}
	}
	return nil
}

// FeeSchedule converts the configured rates for the mutator.
func (c *TradingConfig) FeeSchedule() trading.FeeSchedule {
	return trading.FeeSchedule{
		CommissionRate:  decimal.NewFromFloat(c.CommissionRate),
		MinCommission:   decimal.NewFromFloat(c.MinCommission),
		StampTaxRate:    decimal.NewFromFloat(c.StampTaxRate),
		TransferFeeRate: decimal.NewFromFloat(c.TransferFeeRate),
	}
}

func (c *SchedulerConfig) Tick() time.Duration {
	return time.Duration(c.TickSeconds) * time.Second
}

func (c *RunnerConfig) UnitTimeout() time.Duration {
	return time.Duration(c.UnitTimeoutSeconds) * time.Second
}

func (c *MarketConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c *LLMConfig) DecisionTimeout() time.Duration {
	return time.Duration(c.DecisionTimeoutSeconds) * time.Second
}
