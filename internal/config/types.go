package config

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Market    MarketConfig    `mapstructure:"market"`
	Trading   TradingConfig   `mapstructure:"trading"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Vault     VaultConfig     `mapstructure:"vault"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Server    ServerConfig    `mapstructure:"server"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// MarketConfig 描述行情数据源连接信息。
type MarketConfig struct {
	Name       string      `mapstructure:"name"`
	Symbol     string      `mapstructure:"symbol"`
	Interval   string      `mapstructure:"interval"`
	UseSandbox bool        `mapstructure:"use_sandbox"`
	Retry      RetryConfig `mapstructure:"retry"`
}

// RetryConfig 统一控制重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// TradingConfig 控制每个周期使用的K线窗口。
type TradingConfig struct {
	CandleCount int `mapstructure:"candle_count"`
	MinCandles  int `mapstructure:"min_candles"`
}

// OpenAIConfig 描述大模型调用参数。
type OpenAIConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// RiskConfig 管理风控参数。
type RiskConfig struct {
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
}

// VaultConfig 管理用户凭证加密。
type VaultConfig struct {
	EncryptionKey string `mapstructure:"encryption_key"`
}

// ExecutionConfig 控制下单行为与并发度。
type ExecutionConfig struct {
	Exchange       string        `mapstructure:"exchange"`
	MaxConcurrent  int           `mapstructure:"max_concurrent"`
	OrderTimeout   time.Duration `mapstructure:"order_timeout"`
	MinBalanceUSDT float64       `mapstructure:"min_balance_usdt"`
	UseSandbox     bool          `mapstructure:"use_sandbox"`
	Simulation     bool          `mapstructure:"simulation"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// SchedulerConfig 控制自动交易周期节奏。
type SchedulerConfig struct {
	CycleInterval time.Duration `mapstructure:"cycle_interval"`
	CycleTimeout  time.Duration `mapstructure:"cycle_timeout"`
}

// ServerConfig 控制对外查询接口。
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.Market.Name == "" {
		err = multierr.Append(err, errors.New("market.name 不能为空"))
	}
	if c.Market.Symbol == "" {
		err = multierr.Append(err, errors.New("market.symbol 不能为空"))
	}
	if c.Market.Interval == "" {
		err = multierr.Append(err, errors.New("market.interval 不能为空"))
	}
	if c.Market.Retry.MaxAttempts <= 0 {
		err = multierr.Append(err, errors.New("market.retry.max_attempts 必须大于0"))
	}
	if c.Market.Retry.MinDelay <= 0 || c.Market.Retry.MaxDelay <= 0 {
		err = multierr.Append(err, errors.New("market.retry.delay 必须为正"))
	}
	if c.Market.Retry.MinDelay > c.Market.Retry.MaxDelay {
		err = multierr.Append(err, errors.New("market.retry.min_delay 不能大于 max_delay"))
	}
	if c.Trading.CandleCount <= 0 {
		err = multierr.Append(err, errors.New("trading.candle_count 必须大于0"))
	}
	if c.Trading.MinCandles <= 0 {
		err = multierr.Append(err, errors.New("trading.min_candles 必须大于0"))
	}
	if c.Trading.MinCandles > c.Trading.CandleCount {
		err = multierr.Append(err, errors.New("trading.min_candles 不能大于 candle_count"))
	}
	if c.OpenAI.APIKey == "" {
		err = multierr.Append(err, errors.New("openai.api_key 不能为空"))
	}
	if c.OpenAI.Model == "" {
		err = multierr.Append(err, errors.New("openai.model 不能为空"))
	}
	if c.OpenAI.Timeout <= 0 {
		err = multierr.Append(err, errors.New("openai.timeout 必须大于0"))
	}
	if c.Risk.ConfidenceThreshold <= 0 || c.Risk.ConfidenceThreshold > 1 {
		err = multierr.Append(err, errors.New("risk.confidence_threshold 必须位于(0,1]"))
	}
	if c.Vault.EncryptionKey == "" {
		err = multierr.Append(err, errors.New("vault.encryption_key 不能为空"))
	}
	if c.Execution.Exchange == "" {
		err = multierr.Append(err, errors.New("execution.exchange 不能为空"))
	}
	if c.Execution.MaxConcurrent <= 0 {
		err = multierr.Append(err, errors.New("execution.max_concurrent 必须大于0"))
	}
	if c.Execution.OrderTimeout <= 0 {
		err = multierr.Append(err, errors.New("execution.order_timeout 必须大于0"))
	}
	if c.Execution.MinBalanceUSDT < 0 {
		err = multierr.Append(err, errors.New("execution.min_balance_usdt 不能为负"))
	}
	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}
	if c.Scheduler.CycleInterval <= 0 {
		err = multierr.Append(err, errors.New("scheduler.cycle_interval 必须大于0"))
	}
	if c.Scheduler.CycleTimeout <= 0 {
		err = multierr.Append(err, errors.New("scheduler.cycle_timeout 必须大于0"))
	}
	if c.Scheduler.CycleTimeout > c.Scheduler.CycleInterval {
		err = multierr.Append(err, errors.New("scheduler.cycle_timeout 不应大于 cycle_interval"))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		err = multierr.Append(err, errors.New("server.port 必须位于[1,65535]"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}
