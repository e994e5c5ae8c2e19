package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/nimitsolanki/agentic-ai-crypto-trading/internal/logging"
)

// Config is the full configuration surface. Structure comes from
// config.json; secrets are overlaid from the environment (.env supported).
type Config struct {
	TradingPairs       []string `json:"trading_pairs"`
	InitialCapital     float64  `json:"initial_capital"`
	RebalanceThreshold float64  `json:"rebalance_threshold"` // max weight per symbol
	MonitoringInterval int      `json:"monitoring_interval"` // seconds, health-check cadence

	Exchange       ExchangeConfig       `json:"exchange"`
	RiskManagement RiskManagementConfig `json:"risk_management"`
	Analysis       AnalysisConfig       `json:"analysis"`
	DataCollection DataCollectionConfig `json:"data_collection"`
	Execution      ExecutionConfig      `json:"execution"`
	Broker         BrokerConfig         `json:"broker"`
	Logging        logging.Config       `json:"logging"`

	Telegram TelegramConfig `json:"-"`
}

type ExchangeConfig struct {
	Name    string `json:"name"`
	Testnet bool   `json:"testnet"`
	Paper   bool   `json:"paper"`

	APIKey    string `json:"-"`
	SecretKey string `json:"-"`
}

type RiskManagementConfig struct {
	RiskTolerance    float64 `json:"risk_tolerance"`
	MaxPositionSize  float64 `json:"max_position_size"` // quote currency
	MaxDrawdown      float64 `json:"max_drawdown"`
	MaxOpenPositions int     `json:"max_open_positions"`
	MaxTotalExposure float64 `json:"max_total_exposure"` // quote currency
	RewardRiskRatio  float64 `json:"reward_risk_ratio"`
	BaselineWinRate  float64 `json:"baseline_win_rate"`
	VaRConfidence    float64 `json:"var_confidence"`
}

type AnalysisConfig struct {
	MinConfidence   float64 `json:"min_confidence"`
	VolumeThreshold float64 `json:"volume_threshold"`
}

type DataCollectionConfig struct {
	UpdateInterval int      `json:"update_interval"` // seconds
	Timeframes     []string `json:"timeframes"`
}

type ExecutionConfig struct {
	RetryAttempts   int     `json:"retry_attempts"`
	RetryDelay      float64 `json:"retry_delay"`      // seconds
	MonitorInterval float64 `json:"monitor_interval"` // seconds
}

// BrokerConfig points at the Redis transport. An empty Addr selects the
// in-memory bus (paper/test runs).
type BrokerConfig struct {
	Addr string `json:"addr"`
	DB   int    `json:"db"`
}

type TelegramConfig struct {
	Token  string
	ChatID int64
}

// Load reads the JSON config file and overlays secrets from the environment.
// A .env file in the working directory is honored when present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg.Exchange.APIKey = os.Getenv("BINANCE_API_KEY")
	cfg.Exchange.SecretKey = os.Getenv("BINANCE_SECRET_KEY")
	cfg.Telegram.Token = os.Getenv("TELEGRAM_BOT_TOKEN")
	if raw := os.Getenv("TELEGRAM_CHAT_ID"); raw != "" {
		var id int64
		if _, err := fmt.Sscanf(raw, "%d", &id); err != nil {
			return nil, fmt.Errorf("parse TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.Telegram.ChatID = id
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.RiskManagement.RewardRiskRatio == 0 {
		// ATR exits are 3x stop / 5x take-profit.
		c.RiskManagement.RewardRiskRatio = 5.0 / 3.0
	}
	if c.RiskManagement.BaselineWinRate == 0 {
		c.RiskManagement.BaselineWinRate = 0.55
	}
	if c.RiskManagement.VaRConfidence == 0 {
		c.RiskManagement.VaRConfidence = 0.95
	}
	if c.Analysis.VolumeThreshold == 0 {
		c.Analysis.VolumeThreshold = 1.2
	}
	if c.Execution.MonitorInterval == 0 {
		c.Execution.MonitorInterval = 5
	}
	if len(c.DataCollection.Timeframes) == 0 {
		c.DataCollection.Timeframes = []string{"1m", "5m", "1h"}
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate rejects ambiguous configuration. Callers treat any error as fatal:
// the process refuses to trade on guessed defaults.
func (c *Config) Validate() error {
	if len(c.TradingPairs) == 0 {
		return fmt.Errorf("trading_pairs must be a non-empty list")
	}
	if c.InitialCapital <= 0 {
		return fmt.Errorf("initial_capital must be > 0")
	}
	if c.RebalanceThreshold <= 0 || c.RebalanceThreshold > 1 {
		return fmt.Errorf("rebalance_threshold must be in (0, 1]")
	}
	if c.MonitoringInterval <= 0 {
		return fmt.Errorf("monitoring_interval must be > 0 seconds")
	}
	if c.RiskManagement.RiskTolerance <= 0 {
		return fmt.Errorf("risk_management.risk_tolerance must be > 0")
	}
	if c.RiskManagement.MaxPositionSize <= 0 {
		return fmt.Errorf("risk_management.max_position_size must be > 0")
	}
	if c.RiskManagement.MaxDrawdown <= 0 || c.RiskManagement.MaxDrawdown >= 1 {
		return fmt.Errorf("risk_management.max_drawdown must be in (0, 1)")
	}
	if c.RiskManagement.MaxOpenPositions <= 0 {
		return fmt.Errorf("risk_management.max_open_positions must be > 0")
	}
	if c.RiskManagement.MaxTotalExposure <= 0 {
		return fmt.Errorf("risk_management.max_total_exposure must be > 0")
	}
	if c.RiskManagement.RewardRiskRatio <= 0 {
		return fmt.Errorf("risk_management.reward_risk_ratio must be > 0")
	}
	if c.RiskManagement.BaselineWinRate < 0 || c.RiskManagement.BaselineWinRate > 1 {
		return fmt.Errorf("risk_management.baseline_win_rate must be in [0, 1]")
	}
	if c.RiskManagement.VaRConfidence <= 0 || c.RiskManagement.VaRConfidence >= 1 {
		return fmt.Errorf("risk_management.var_confidence must be in (0, 1)")
	}
	if c.Analysis.MinConfidence < 0 || c.Analysis.MinConfidence > 1 {
		return fmt.Errorf("analysis.min_confidence must be in [0, 1]")
	}
	if c.DataCollection.UpdateInterval <= 0 {
		return fmt.Errorf("data_collection.update_interval must be > 0 seconds")
	}
	if c.Execution.RetryAttempts <= 0 {
		return fmt.Errorf("execution.retry_attempts must be > 0")
	}
	if c.Execution.RetryDelay <= 0 {
		return fmt.Errorf("execution.retry_delay must be > 0 seconds")
	}
	if c.Exchange.Name == "" {
		return fmt.Errorf("exchange.name is required")
	}
	if !c.Exchange.Paper {
		if c.Exchange.APIKey == "" || c.Exchange.SecretKey == "" {
			return fmt.Errorf("BINANCE_API_KEY and BINANCE_SECRET_KEY are required for live trading")
		}
	}
	return nil
}

// RetryDelayDuration converts the configured seconds to a time.Duration.
func (c *ExecutionConfig) RetryDelayDuration() time.Duration {
	return time.Duration(c.RetryDelay * float64(time.Second))
}

// MonitorIntervalDuration converts the configured seconds to a time.Duration.
func (c *ExecutionConfig) MonitorIntervalDuration() time.Duration {
	return time.Duration(c.MonitorInterval * float64(time.Second))
}
