package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	CapitalConfig        CapitalConfig        `json:"capital"`
	TradingConfig        TradingConfig        `json:"trading"`
	RiskConfig           RiskConfig           `json:"risk"`
	CalendarConfig       CalendarConfig       `json:"calendar"`
	CircuitBreakerConfig CircuitBreakerConfig `json:"circuit_breaker"`
	LoggingConfig        LoggingConfig        `json:"logging"`
	ServerConfig         ServerConfig         `json:"server"`
	DatabaseConfig       DatabaseConfig       `json:"database"`
	RedisConfig          RedisConfig          `json:"redis"`
	VaultConfig          VaultConfig          `json:"vault"`
}

// CapitalConfig holds Capital.com API connection configuration
type CapitalConfig struct {
	APIKey              string  `json:"api_key"`
	Identifier          string  `json:"identifier"`
	Password            string  `json:"password"`
	BaseURL             string  `json:"base_url"`
	Demo                bool    `json:"demo"`
	SessionTTLMinutes   int     `json:"session_ttl_minutes"`   // Broker-side token lifetime
	RenewalThresholdMin int     `json:"renewal_threshold_min"` // Renew proactively after this age
	HealthCheckSecs     int     `json:"health_check_secs"`     // Min seconds between ping calls
	MaxRetries          int     `json:"max_retries"`
	RetryBaseDelayMs    int     `json:"retry_base_delay_ms"`
	RetryMaxDelayMs     int     `json:"retry_max_delay_ms"`
	RateLimitCooldownMs int     `json:"rate_limit_cooldown_ms"` // Fixed cooldown after HTTP 429
	FailureCeiling      int     `json:"failure_ceiling"`        // Failures before forced re-auth
	MarketDataBatchSize int     `json:"market_data_batch_size"`
	BatchDelayMs        int     `json:"batch_delay_ms"`
	RequestTimeoutSecs  int     `json:"request_timeout_secs"`
	FeeRate             float64 `json:"fee_rate"` // Per-side fee fraction, e.g. 0.001
}

// TradingConfig holds control-loop configuration
type TradingConfig struct {
	Enabled            bool     `json:"enabled"`
	DryRun             bool     `json:"dry_run"`
	Symbols            []string `json:"symbols"`
	IntervalSecs       int      `json:"interval_secs"`
	WorkerCount        int      `json:"worker_count"`
	MinConfidence      float64  `json:"min_confidence"`
	MaxDailyTrades     int      `json:"max_daily_trades"`
	MaxSessionTrades   int      `json:"max_session_trades"`
	SessionWindowMins  int      `json:"session_window_mins"`
	DailyResetHour     int      `json:"daily_reset_hour"` // Local wall-clock hour for counter reset
	DailyResetTimezone string   `json:"daily_reset_timezone"`
	ReversalPolicy     string   `json:"reversal_policy"` // "close_then_reopen" or "reject"
	MaxPositionAgeHrs  int      `json:"max_position_age_hrs"`
	AnalysisTimeoutSec int      `json:"analysis_timeout_secs"`
}

// RiskConfig holds risk engine configuration
type RiskConfig struct {
	RiskFraction        float64            `json:"risk_fraction"`      // Fraction of portfolio per trade, e.g. 0.02
	MaxPositionValue    float64            `json:"max_position_value"` // Absolute cap in account currency
	MinRiskReward       float64            `json:"min_risk_reward"`    // e.g. 1.5
	MinStopPercent      float64            `json:"min_stop_percent"`   // Stop distance floor, e.g. 2.0
	ATRMultiplier       float64            `json:"atr_multiplier"`     // ATR stop distance multiplier
	TakeProfitRatio     float64            `json:"take_profit_ratio"`  // Target distance as multiple of stop distance
	MaxRiskScore        float64            `json:"max_risk_score"`     // Approval ceiling, 0-100
	UseTrailingStop     bool               `json:"use_trailing_stop"`
	TrailingPercent     float64            `json:"trailing_percent"`
	TrailingActivation  float64            `json:"trailing_activation"` // Profit % before the ratchet engages
	AssetClassLeverage  map[string]float64 `json:"asset_class_leverage"`
	PreferencesCacheTTL int                `json:"preferences_cache_ttl_secs"`
}

// CalendarConfig holds market-hours configuration
type CalendarConfig struct {
	OpenBufferMins  int `json:"open_buffer_mins"`
	CloseBufferMins int `json:"close_buffer_mins"`
}

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	Enabled              bool    `json:"enabled"`
	MaxConsecutiveLosses int     `json:"max_consecutive_losses"`
	CooldownHours        float64 `json:"cooldown_hours"`
	MaxDailyLoss         float64 `json:"max_daily_loss"` // Percent of portfolio
	MaxDailyTrades       int     `json:"max_daily_trades"`
}

type LoggingConfig struct {
	Level      string `json:"level"` // debug, info, warn, error
	JSONFormat bool   `json:"json_format"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int    `json:"port"`
	Host            string `json:"host"`
	AllowedOrigins  string `json:"allowed_origins"`
	ReadTimeout     int    `json:"read_timeout"`  // Seconds
	WriteTimeout    int    `json:"write_timeout"` // Seconds
	ShutdownTimeout int    `json:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL configuration for the trade archive
type DatabaseConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// RedisConfig holds Redis configuration for the session token cache
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// VaultConfig holds HashiCorp Vault configuration for broker credentials
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`
	SecretPath string `json:"secret_path"`
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

func Load() (*Config, error) {
	cfg, err := loadFromFile("config.json")
	if err != nil {
		// No config file is fine, env + defaults carry everything
		cfg = &Config{}
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Broker credentials may also come from Vault, which takes precedence in main.
func applyEnvOverrides(cfg *Config) {
	cfg.CapitalConfig.APIKey = getEnvOrDefault("CAPITAL_API_KEY", cfg.CapitalConfig.APIKey)
	cfg.CapitalConfig.Identifier = getEnvOrDefault("CAPITAL_IDENTIFIER", cfg.CapitalConfig.Identifier)
	cfg.CapitalConfig.Password = getEnvOrDefault("CAPITAL_PASSWORD", cfg.CapitalConfig.Password)
	cfg.CapitalConfig.BaseURL = getEnvOrDefault("CAPITAL_BASE_URL", cfg.CapitalConfig.BaseURL)
	if v := os.Getenv("CAPITAL_DEMO"); v != "" {
		cfg.CapitalConfig.Demo = v == "true"
	}

	if v := os.Getenv("TRADING_ENABLED"); v != "" {
		cfg.TradingConfig.Enabled = v == "true"
	}
	if v := os.Getenv("TRADING_DRY_RUN"); v != "" {
		cfg.TradingConfig.DryRun = v == "true"
	}

	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", cfg.LoggingConfig.Level)

	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", cfg.ServerConfig.Port)
	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", cfg.ServerConfig.Host)
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", cfg.ServerConfig.AllowedOrigins)

	if v := os.Getenv("DB_ENABLED"); v != "" {
		cfg.DatabaseConfig.Enabled = v == "true"
	}
	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", cfg.DatabaseConfig.Host)
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", cfg.DatabaseConfig.Port)
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", cfg.DatabaseConfig.User)
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", cfg.DatabaseConfig.Database)
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", cfg.DatabaseConfig.SSLMode)

	if v := os.Getenv("REDIS_ENABLED"); v != "" {
		cfg.RedisConfig.Enabled = v == "true"
	}
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", cfg.RedisConfig.Address)
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)

	if v := os.Getenv("VAULT_ENABLED"); v != "" {
		cfg.VaultConfig.Enabled = v == "true"
	}
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", cfg.VaultConfig.Address)
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", cfg.VaultConfig.MountPath)
	cfg.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", cfg.VaultConfig.SecretPath)
}

func applyDefaults(cfg *Config) {
	if cfg.CapitalConfig.BaseURL == "" {
		if cfg.CapitalConfig.Demo {
			cfg.CapitalConfig.BaseURL = "https://demo-api-capital.backend-capital.com"
		} else {
			cfg.CapitalConfig.BaseURL = "https://api-capital.backend-capital.com"
		}
	}
	if cfg.CapitalConfig.SessionTTLMinutes == 0 {
		cfg.CapitalConfig.SessionTTLMinutes = 10
	}
	if cfg.CapitalConfig.RenewalThresholdMin == 0 {
		cfg.CapitalConfig.RenewalThresholdMin = 8
	}
	if cfg.CapitalConfig.HealthCheckSecs == 0 {
		cfg.CapitalConfig.HealthCheckSecs = 60
	}
	if cfg.CapitalConfig.MaxRetries == 0 {
		cfg.CapitalConfig.MaxRetries = 3
	}
	if cfg.CapitalConfig.RetryBaseDelayMs == 0 {
		cfg.CapitalConfig.RetryBaseDelayMs = 500
	}
	if cfg.CapitalConfig.RetryMaxDelayMs == 0 {
		cfg.CapitalConfig.RetryMaxDelayMs = 15000
	}
	if cfg.CapitalConfig.RateLimitCooldownMs == 0 {
		cfg.CapitalConfig.RateLimitCooldownMs = 2000
	}
	if cfg.CapitalConfig.FailureCeiling == 0 {
		cfg.CapitalConfig.FailureCeiling = 5
	}
	if cfg.CapitalConfig.MarketDataBatchSize == 0 {
		cfg.CapitalConfig.MarketDataBatchSize = 10
	}
	if cfg.CapitalConfig.BatchDelayMs == 0 {
		cfg.CapitalConfig.BatchDelayMs = 250
	}
	if cfg.CapitalConfig.RequestTimeoutSecs == 0 {
		cfg.CapitalConfig.RequestTimeoutSecs = 15
	}
	if cfg.CapitalConfig.FeeRate == 0 {
		cfg.CapitalConfig.FeeRate = 0.001
	}

	if len(cfg.TradingConfig.Symbols) == 0 {
		cfg.TradingConfig.Symbols = []string{"BTCUSD", "ETHUSD", "EURUSD", "US500"}
	}
	if cfg.TradingConfig.IntervalSecs == 0 {
		cfg.TradingConfig.IntervalSecs = 300
	}
	if cfg.TradingConfig.WorkerCount == 0 {
		cfg.TradingConfig.WorkerCount = 4
	}
	if cfg.TradingConfig.MinConfidence == 0 {
		cfg.TradingConfig.MinConfidence = 60
	}
	if cfg.TradingConfig.MaxDailyTrades == 0 {
		cfg.TradingConfig.MaxDailyTrades = 20
	}
	if cfg.TradingConfig.MaxSessionTrades == 0 {
		cfg.TradingConfig.MaxSessionTrades = 8
	}
	if cfg.TradingConfig.SessionWindowMins == 0 {
		cfg.TradingConfig.SessionWindowMins = 240
	}
	if cfg.TradingConfig.DailyResetTimezone == "" {
		cfg.TradingConfig.DailyResetTimezone = "UTC"
	}
	if cfg.TradingConfig.ReversalPolicy == "" {
		cfg.TradingConfig.ReversalPolicy = "close_then_reopen"
	}
	if cfg.TradingConfig.MaxPositionAgeHrs == 0 {
		cfg.TradingConfig.MaxPositionAgeHrs = 48
	}
	if cfg.TradingConfig.AnalysisTimeoutSec == 0 {
		cfg.TradingConfig.AnalysisTimeoutSec = 30
	}

	if cfg.RiskConfig.RiskFraction == 0 {
		cfg.RiskConfig.RiskFraction = 0.02
	}
	if cfg.RiskConfig.MaxPositionValue == 0 {
		cfg.RiskConfig.MaxPositionValue = 5000
	}
	if cfg.RiskConfig.MinRiskReward == 0 {
		cfg.RiskConfig.MinRiskReward = 1.5
	}
	if cfg.RiskConfig.MinStopPercent == 0 {
		cfg.RiskConfig.MinStopPercent = 2.0
	}
	if cfg.RiskConfig.ATRMultiplier == 0 {
		cfg.RiskConfig.ATRMultiplier = 1.5
	}
	if cfg.RiskConfig.TakeProfitRatio == 0 {
		cfg.RiskConfig.TakeProfitRatio = 2.0
	}
	if cfg.RiskConfig.MaxRiskScore == 0 {
		cfg.RiskConfig.MaxRiskScore = 75
	}
	if cfg.RiskConfig.TrailingPercent == 0 {
		cfg.RiskConfig.TrailingPercent = 1.5
	}
	if cfg.RiskConfig.TrailingActivation == 0 {
		cfg.RiskConfig.TrailingActivation = 1.0
	}
	if cfg.RiskConfig.AssetClassLeverage == nil {
		cfg.RiskConfig.AssetClassLeverage = map[string]float64{
			"crypto":    2,
			"forex":     30,
			"index":     20,
			"commodity": 10,
			"share":     5,
		}
	}
	if cfg.RiskConfig.PreferencesCacheTTL == 0 {
		cfg.RiskConfig.PreferencesCacheTTL = 300
	}

	if cfg.CalendarConfig.OpenBufferMins == 0 {
		cfg.CalendarConfig.OpenBufferMins = 15
	}
	if cfg.CalendarConfig.CloseBufferMins == 0 {
		cfg.CalendarConfig.CloseBufferMins = 15
	}

	if cfg.CircuitBreakerConfig.MaxConsecutiveLosses == 0 {
		cfg.CircuitBreakerConfig.MaxConsecutiveLosses = 5
	}
	if cfg.CircuitBreakerConfig.CooldownHours == 0 {
		cfg.CircuitBreakerConfig.CooldownHours = 4
	}
	if cfg.CircuitBreakerConfig.MaxDailyLoss == 0 {
		cfg.CircuitBreakerConfig.MaxDailyLoss = 5.0
	}
	if cfg.CircuitBreakerConfig.MaxDailyTrades == 0 {
		cfg.CircuitBreakerConfig.MaxDailyTrades = 50
	}

	if cfg.LoggingConfig.Level == "" {
		cfg.LoggingConfig.Level = "info"
	}

	if cfg.ServerConfig.Port == 0 {
		cfg.ServerConfig.Port = 8080
	}
	if cfg.ServerConfig.Host == "" {
		cfg.ServerConfig.Host = "0.0.0.0"
	}
	if cfg.ServerConfig.AllowedOrigins == "" {
		cfg.ServerConfig.AllowedOrigins = "*"
	}
	if cfg.ServerConfig.ReadTimeout == 0 {
		cfg.ServerConfig.ReadTimeout = 30
	}
	if cfg.ServerConfig.WriteTimeout == 0 {
		cfg.ServerConfig.WriteTimeout = 30
	}
	if cfg.ServerConfig.ShutdownTimeout == 0 {
		cfg.ServerConfig.ShutdownTimeout = 10
	}

	if cfg.DatabaseConfig.Host == "" {
		cfg.DatabaseConfig.Host = "localhost"
	}
	if cfg.DatabaseConfig.Port == 0 {
		cfg.DatabaseConfig.Port = 5432
	}
	if cfg.DatabaseConfig.SSLMode == "" {
		cfg.DatabaseConfig.SSLMode = "disable"
	}

	if cfg.RedisConfig.Address == "" {
		cfg.RedisConfig.Address = "localhost:6379"
	}
	if cfg.RedisConfig.PoolSize == 0 {
		cfg.RedisConfig.PoolSize = 10
	}

	if cfg.VaultConfig.Address == "" {
		cfg.VaultConfig.Address = "http://localhost:8200"
	}
	if cfg.VaultConfig.MountPath == "" {
		cfg.VaultConfig.MountPath = "secret"
	}
	if cfg.VaultConfig.SecretPath == "" {
		cfg.VaultConfig.SecretPath = "capital-trading-bot/credentials"
	}
}

// Validate checks cross-field constraints that defaults cannot fix.
func (c *Config) Validate() error {
	if c.TradingConfig.ReversalPolicy != "close_then_reopen" && c.TradingConfig.ReversalPolicy != "reject" {
		return fmt.Errorf("invalid reversal_policy %q (want close_then_reopen or reject)", c.TradingConfig.ReversalPolicy)
	}
	if c.TradingConfig.DailyResetHour < 0 || c.TradingConfig.DailyResetHour > 23 {
		return fmt.Errorf("daily_reset_hour %d out of range [0,23]", c.TradingConfig.DailyResetHour)
	}
	if _, err := time.LoadLocation(c.TradingConfig.DailyResetTimezone); err != nil {
		return fmt.Errorf("invalid daily_reset_timezone: %w", err)
	}
	if c.RiskConfig.RiskFraction <= 0 || c.RiskConfig.RiskFraction > 0.5 {
		return fmt.Errorf("risk_fraction %.4f out of range (0, 0.5]", c.RiskConfig.RiskFraction)
	}
	if c.CapitalConfig.RenewalThresholdMin >= c.CapitalConfig.SessionTTLMinutes {
		return fmt.Errorf("renewal_threshold_min must be below session_ttl_minutes")
	}
	return nil
}

// Save writes the config back to disk, used by the config update endpoint.
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}
