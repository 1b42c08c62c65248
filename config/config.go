package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// TraderConfig configuration for a single trader
type TraderConfig struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
	AIModel string `json:"ai_model"` // "groq", "qwen", "deepseek", or "custom"

	// AI configuration
	QwenKey     string `json:"qwen_key,omitempty"`
	DeepSeekKey string `json:"deepseek_key,omitempty"`
	GroqKey     string `json:"groq_key,omitempty"`
	GroqModel   string `json:"groq_model,omitempty"`

	// Custom AI API configuration (any OpenAI-format API)
	CustomAPIURL    string `json:"custom_api_url,omitempty"`
	CustomAPIKey    string `json:"custom_api_key,omitempty"`
	CustomModelName string `json:"custom_model_name,omitempty"`

	InitialBalance      float64 `json:"initial_balance"`
	ScanIntervalMinutes float64 `json:"scan_interval_minutes"`

	// Stocks this trader watches, falls back to the default pool when empty
	Stocks []string `json:"stocks,omitempty"`
}

// LeverageConfig leverage caps per symbol tier.
// Field names keep the btc_eth/altcoin heritage wire format; for stocks the
// first tier applies to the large-cap allowlist, the second to everything else.
type LeverageConfig struct {
	LargeCapLeverage int `json:"btc_eth_leverage"`
	OtherLeverage    int `json:"altcoin_leverage"`
}

// Config main configuration
type Config struct {
	Traders            []TraderConfig `json:"traders"`
	UseDefaultStocks   bool           `json:"use_default_stocks"`
	DefaultStocks      []string       `json:"default_stocks"`
	StockPoolAPIURL    string         `json:"stock_pool_api_url"`
	APIServerPort      int            `json:"api_server_port"`
	MaxDailyLoss       float64        `json:"max_daily_loss"`
	MaxDrawdown        float64        `json:"max_drawdown"`
	StopTradingMinutes int            `json:"stop_trading_minutes"`
	Leverage           LeverageConfig `json:"leverage"`
	LogDir             string         `json:"log_dir,omitempty"`
}

// LoadConfig loads configuration from file
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// When no remote pool is configured the default list is the only source
	if !config.UseDefaultStocks && config.StockPoolAPIURL == "" {
		config.UseDefaultStocks = true
	}

	if len(config.DefaultStocks) == 0 {
		config.DefaultStocks = []string{
			"AAPL",
			"MSFT",
			"GOOGL",
			"TSLA",
			"NVDA",
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// Validate validates configuration validity
func (c *Config) Validate() error {
	if len(c.Traders) == 0 {
		return fmt.Errorf("at least one trader must be configured")
	}

	traderIDs := make(map[string]bool)
	for i := range c.Traders {
		trader := &c.Traders[i]
		if trader.ID == "" {
			return fmt.Errorf("trader[%d]: ID cannot be empty", i)
		}
		if traderIDs[trader.ID] {
			return fmt.Errorf("trader[%d]: ID '%s' is duplicated", i, trader.ID)
		}
		traderIDs[trader.ID] = true

		if trader.Name == "" {
			return fmt.Errorf("trader[%d]: Name cannot be empty", i)
		}
		if trader.AIModel != "groq" && trader.AIModel != "qwen" && trader.AIModel != "deepseek" && trader.AIModel != "custom" {
			return fmt.Errorf("trader[%d]: ai_model must be 'groq', 'qwen', 'deepseek' or 'custom'", i)
		}

		if trader.AIModel == "qwen" && trader.QwenKey == "" {
			return fmt.Errorf("trader[%d]: qwen_key must be configured when using Qwen", i)
		}
		if trader.AIModel == "deepseek" && trader.DeepSeekKey == "" {
			return fmt.Errorf("trader[%d]: deepseek_key must be configured when using DeepSeek", i)
		}
		if trader.AIModel == "groq" && trader.GroqKey == "" {
			return fmt.Errorf("trader[%d]: groq_key must be configured when using Groq", i)
		}
		if trader.AIModel == "custom" {
			if trader.CustomAPIURL == "" {
				return fmt.Errorf("trader[%d]: custom_api_url must be configured when using custom API", i)
			}
			if trader.CustomAPIKey == "" {
				return fmt.Errorf("trader[%d]: custom_api_key must be configured when using custom API", i)
			}
			if trader.CustomModelName == "" {
				return fmt.Errorf("trader[%d]: custom_model_name must be configured when using custom API", i)
			}
		}
		if trader.InitialBalance <= 0 {
			return fmt.Errorf("trader[%d]: initial_balance must be greater than 0", i)
		}
		if trader.ScanIntervalMinutes <= 0 {
			trader.ScanIntervalMinutes = 3.0
		}
	}

	if c.APIServerPort <= 0 {
		c.APIServerPort = 8080
	}

	if c.Leverage.LargeCapLeverage <= 0 {
		c.Leverage.LargeCapLeverage = 10
	}
	if c.Leverage.OtherLeverage <= 0 {
		c.Leverage.OtherLeverage = 5
	}

	if c.LogDir == "" {
		c.LogDir = "decision_logs"
	}

	return nil
}

// GetScanInterval gets the scan interval
func (tc *TraderConfig) GetScanInterval() time.Duration {
	return time.Duration(tc.ScanIntervalMinutes * float64(time.Minute))
}
