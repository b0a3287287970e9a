package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the complete bot configuration.
type Config struct {
	Engine     EngineConfig     `yaml:"engine"`
	Risk       RiskConfig       `yaml:"risk_management"`
	Venues     VenuesConfig     `yaml:"venues"`
	Strategies StrategiesConfig `yaml:"strategies"`
	Storage    StorageConfig    `yaml:"storage"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Log        LogConfig        `yaml:"log"`
}

// EngineConfig controls scheduling and trading policy.
type EngineConfig struct {
	DiscoveryIntervalSeconds int     `yaml:"discovery_interval_seconds"`
	MonitorIntervalSeconds   int     `yaml:"monitor_interval_seconds"`
	BalanceIntervalSeconds   int     `yaml:"balance_interval_seconds"`
	MaxConcurrentTrades      int     `yaml:"max_concurrent_trades"`
	MaxTradesPerHour         int     `yaml:"max_trades_per_hour"`
	WalletBuyPercentage      float64 `yaml:"wallet_buy_percentage"` // percent of wallet per chain buy
	TakeProfit               float64 `yaml:"take_profit"`           // percent
	StopLoss                 float64 `yaml:"stop_loss"`             // percent
	MaxTradeTimeMinutes      int     `yaml:"max_trade_time_minutes"`
	CloseTradesOnStop        bool    `yaml:"close_trades_on_stop"`
}

// RiskConfig holds the risk manager ceilings. Zero disables a gate.
type RiskConfig struct {
	MaxTradeSize   float64 `yaml:"max_trade_size"`
	DailyLossLimit float64 `yaml:"daily_loss_limit"`
}

// VenuesConfig enables and configures the tradable venues.
type VenuesConfig struct {
	Binance BinanceConfig `yaml:"binance"`
	Chain   ChainConfig   `yaml:"chain"`
}

// BinanceConfig configures the Binance spot connector. Credentials come
// from the environment (.env), never from the YAML file.
type BinanceConfig struct {
	Enabled   bool   `yaml:"enabled"`
	APIKey    string `yaml:"-"`
	SecretKey string `yaml:"-"`
}

// ChainConfig configures the chain venue: live DEX prices, paper execution.
type ChainConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Name         string  `yaml:"name"`          // venue name, e.g. "bsc"
	QuoteAsset   string  `yaml:"quote_asset"`   // funding asset of the wallet
	PaperBalance float64 `yaml:"paper_balance"` // starting quote balance
	PriceBase    string  `yaml:"price_base"`    // override for tests
}

// StrategiesConfig enables the built-in strategies.
type StrategiesConfig struct {
	Watchlist WatchlistConfig `yaml:"watchlist"`
}

// WatchlistConfig configures the dip-buy watchlist strategy.
type WatchlistConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Venue       string   `yaml:"venue"`
	Instruments []string `yaml:"instruments"`
	DipPct      float64  `yaml:"dip_pct"`
	Amount      float64  `yaml:"amount"`
	Score       float64  `yaml:"score"`
}

// StorageConfig controls where trade history is persisted.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // SQLite file path, or ":memory:"
}

// TelemetryConfig controls the websocket event feed.
type TelemetryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// LogConfig controls log level and format.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load reads the YAML config and the .env file if present. Environment
// values override the YAML for credentials and log settings.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)
	return &cfg, nil
}

// DiscoveryInterval returns the discovery cycle interval.
func (c *Config) DiscoveryInterval() time.Duration {
	return time.Duration(c.Engine.DiscoveryIntervalSeconds) * time.Second
}

// MonitorInterval returns the monitoring cycle interval.
func (c *Config) MonitorInterval() time.Duration {
	return time.Duration(c.Engine.MonitorIntervalSeconds) * time.Second
}

// BalanceInterval returns the balance-refresh interval.
func (c *Config) BalanceInterval() time.Duration {
	return time.Duration(c.Engine.BalanceIntervalSeconds) * time.Second
}

// MaxTradeTime returns the maximum hold duration of a trade.
func (c *Config) MaxTradeTime() time.Duration {
	return time.Duration(c.Engine.MaxTradeTimeMinutes) * time.Minute
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BINANCE_API_KEY"); v != "" {
		cfg.Venues.Binance.APIKey = v
	}
	if v := os.Getenv("BINANCE_SECRET_KEY"); v != "" {
		cfg.Venues.Binance.SecretKey = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

func setDefaults(cfg *Config) {
	if cfg.Engine.DiscoveryIntervalSeconds <= 0 {
		cfg.Engine.DiscoveryIntervalSeconds = 10
	}
	if cfg.Engine.MonitorIntervalSeconds <= 0 {
		cfg.Engine.MonitorIntervalSeconds = 5
	}
	if cfg.Engine.BalanceIntervalSeconds <= 0 {
		cfg.Engine.BalanceIntervalSeconds = 60
	}
	if cfg.Engine.MaxConcurrentTrades <= 0 {
		cfg.Engine.MaxConcurrentTrades = 3
	}
	if cfg.Engine.MaxTradesPerHour <= 0 {
		cfg.Engine.MaxTradesPerHour = 10
	}
	if cfg.Engine.WalletBuyPercentage <= 0 {
		cfg.Engine.WalletBuyPercentage = 5
	}
	if cfg.Engine.TakeProfit <= 0 {
		cfg.Engine.TakeProfit = 5
	}
	if cfg.Engine.StopLoss <= 0 {
		cfg.Engine.StopLoss = 2
	}
	if cfg.Engine.MaxTradeTimeMinutes <= 0 {
		cfg.Engine.MaxTradeTimeMinutes = 60
	}
	if cfg.Venues.Chain.Name == "" {
		cfg.Venues.Chain.Name = "bsc"
	}
	if cfg.Venues.Chain.QuoteAsset == "" {
		cfg.Venues.Chain.QuoteAsset = "WBNB"
	}
	if cfg.Venues.Chain.PaperBalance <= 0 {
		cfg.Venues.Chain.PaperBalance = 10
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "tradepilot.db"
	}
	if cfg.Telemetry.Listen == "" {
		cfg.Telemetry.Listen = ":8077"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
