package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"sentra/internal/market"
)

// 中文说明：
// 配置统一走 TOML 文件加载，零值字段在 withDefaults 中补齐，
// 调用方永远拿到一份可直接使用的完整配置。

type Config struct {
	Log     LogConfig     `toml:"log"`
	Account AccountConfig `toml:"account"`
	Data    DataConfig    `toml:"data"`
	AI      AIConfig      `toml:"ai"`
	Server  ServerConfig  `toml:"server"`
	Pairs   []PairConfig  `toml:"pairs"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type AccountConfig struct {
	EquityUsd       float64   `toml:"equity_usd"`
	RiskPercent     float64   `toml:"risk_percent"`
	RewardMultiples []float64 `toml:"reward_multiples"`
}

type DataConfig struct {
	Source          string        `toml:"source"` // binance | dexscreener
	SQLitePath      string        `toml:"sqlite_path"`
	Timeframe       string        `toml:"timeframe"`
	CandleLimit     int           `toml:"candle_limit"`
	FetchRetries    int           `toml:"fetch_retries"`
	FetchBaseDelay  time.Duration `toml:"fetch_base_delay"`
	FetchMaxDelay   time.Duration `toml:"fetch_max_delay"`
	DexScreenerBase string        `toml:"dexscreener_base"`
}

type AIConfig struct {
	Enabled   bool   `toml:"enabled"`
	BaseURL   string `toml:"base_url"`
	APIKey    string `toml:"api_key"`
	Model     string `toml:"model"`
	MaxTokens int    `toml:"max_tokens"`
}

type ServerConfig struct {
	Listen string `toml:"listen"`
}

type PairConfig struct {
	Symbol  string `toml:"symbol"`
	Address string `toml:"address"`
	Chain   string `toml:"chain"`
	Venue   string `toml:"venue"`
}

func (p PairConfig) Ref() market.PairRef {
	return market.PairRef{Symbol: p.Symbol, Address: p.Address, Chain: p.Chain, Venue: p.Venue}
}

// Load 读取并校验配置文件。
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := toml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default 无配置文件时的缺省配置（dry-run 友好）。
func Default() Config {
	return Config{}.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.Account.EquityUsd <= 0 {
		c.Account.EquityUsd = 10000
	}
	if c.Account.RiskPercent <= 0 {
		c.Account.RiskPercent = 1
	}
	if len(c.Account.RewardMultiples) == 0 {
		c.Account.RewardMultiples = []float64{1, 2}
	}
	if c.Data.Source == "" {
		c.Data.Source = "binance"
	}
	if c.Data.SQLitePath == "" {
		c.Data.SQLitePath = "sentra.db"
	}
	if c.Data.Timeframe == "" {
		c.Data.Timeframe = "1h"
	}
	if c.Data.CandleLimit <= 0 {
		c.Data.CandleLimit = 200
	}
	if c.Data.FetchRetries <= 0 {
		c.Data.FetchRetries = 3
	}
	if c.Data.FetchBaseDelay <= 0 {
		c.Data.FetchBaseDelay = 200 * time.Millisecond
	}
	if c.Data.FetchMaxDelay <= 0 {
		c.Data.FetchMaxDelay = 3 * time.Second
	}
	if c.AI.Model == "" {
		c.AI.Model = "gpt-4o-mini"
	}
	if c.AI.MaxTokens <= 0 {
		c.AI.MaxTokens = 512
	}
	if c.Server.Listen == "" {
		c.Server.Listen = ":8080"
	}
	return c
}

func (c Config) validate() error {
	switch c.Data.Source {
	case "binance", "dexscreener":
	default:
		return fmt.Errorf("config: unknown data source %q", c.Data.Source)
	}
	if c.Account.RiskPercent > 100 {
		return fmt.Errorf("config: risk_percent %.2f out of range", c.Account.RiskPercent)
	}
	for i, p := range c.Pairs {
		if p.Symbol == "" && p.Address == "" {
			return fmt.Errorf("config: pair #%d needs symbol or address", i)
		}
	}
	return nil
}
