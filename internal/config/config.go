// Package config defines all configuration for the arbitrage execution
// engine. Config is loaded from a YAML file (default: configs/config.yaml)
// with sensitive fields overridable via ARB_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	DryRun    bool            `mapstructure:"dry_run"`
	Wallet    WalletConfig    `mapstructure:"wallet"`
	API       APIConfig       `mapstructure:"api"`
	Executor  ExecutorConfig  `mapstructure:"executor"`
	Orderbook OrderbookConfig `mapstructure:"orderbook"`
	Scanner   ScannerConfig   `mapstructure:"scanner"`
	LogSink   LogSinkConfig   `mapstructure:"log_sink"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// WalletConfig holds the signing key used to authorize orders on both
// venues and the proxy/funder address that holds the settled funds.
type WalletConfig struct {
	PrivateKey    string `mapstructure:"private_key"`
	SignatureType int    `mapstructure:"signature_type"`
	FunderAddress string `mapstructure:"funder_address"`
	ChainID       int64  `mapstructure:"chain_id"`
	JWTSlackMs    int    `mapstructure:"jwt_slack_ms"`
}

// APIConfig holds both venues' REST/WS/chain endpoints and API keys.
type APIConfig struct {
	VenueABaseURL    string   `mapstructure:"venue_a_base_url"`
	VenueAWSRPCURL   string   `mapstructure:"venue_a_ws_rpc_url"`
	VenueAContracts  []string `mapstructure:"venue_a_contracts"`
	VenueAAPIKey     string   `mapstructure:"venue_a_api_key"`
	VenueBBaseURL    string   `mapstructure:"venue_b_base_url"`
	VenueBWSURL      string   `mapstructure:"venue_b_ws_url"`
	VenueBAPIKey     string   `mapstructure:"venue_b_api_key"`
}

// ExecutorConfig tunes the Task Executor's timing and hedge-gating thresholds
// (spec §4.5, §4.7).
type ExecutorConfig struct {
	OrderTimeoutMs        int     `mapstructure:"order_timeout_ms"`
	PollIntervalMs        int     `mapstructure:"poll_interval_ms"`
	MaxHedgeRetries       int     `mapstructure:"max_hedge_retries"`
	CostCheckThrottleMs   int     `mapstructure:"cost_check_throttle_ms"`
	MinHedgeShares        float64 `mapstructure:"min_hedge_shares"`
	MinHedgeNotionalUSD   float64 `mapstructure:"min_hedge_notional_usd"`
	LossHedgeMaxDeviation float64 `mapstructure:"loss_hedge_max_deviation"`
	LossHedgeMaxWaitMs    int     `mapstructure:"loss_hedge_max_wait_ms"`
}

// OrderbookConfig sets the Orderbook Cache's staleness thresholds
// (spec §4.3).
type OrderbookConfig struct {
	FreshMs    int `mapstructure:"fresh_ms"`
	StaleMs    int `mapstructure:"stale_ms"`
	MaxStaleMs int `mapstructure:"max_stale_ms"`
}

// ScannerConfig controls the Opportunity Scanner's poll cadence,
// acceptance thresholds, and the statically configured market pairings it
// evaluates each cycle (spec §4.9).
type ScannerConfig struct {
	PollIntervalMs int             `mapstructure:"poll_interval_ms"`
	MinProfitPct   float64         `mapstructure:"min_profit_pct"`
	MinDepth       float64         `mapstructure:"min_depth"`
	Pairings       []PairingConfig `mapstructure:"pairings"`
}

// PairingConfig names one Venue-A market and its corresponding Venue-B
// tokens for the scanner to evaluate. Discovery of new pairings by external
// correlation id is out of scope; pairings are operator-supplied.
type PairingConfig struct {
	VenueAMarketID string `mapstructure:"venue_a_market_id"`
	VenueBYesToken string `mapstructure:"venue_b_yes_token"`
	VenueBNoToken  string `mapstructure:"venue_b_no_token"`
	Inverted       bool   `mapstructure:"inverted"`
}

// LogSinkConfig sets the Log Sink's queue size, flush cadence, and retention
// (spec §4.10).
type LogSinkConfig struct {
	BaseDir             string `mapstructure:"base_dir"`
	QueueMaxSize        int    `mapstructure:"queue_max_size"`
	FlushIntervalMs     int    `mapstructure:"flush_interval_ms"`
	RetentionDays       int    `mapstructure:"retention_days"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("ARB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("ARB_PRIVATE_KEY"); key != "" {
		cfg.Wallet.PrivateKey = key
	}
	if key := os.Getenv("ARB_VENUE_A_API_KEY"); key != "" {
		cfg.API.VenueAAPIKey = key
	}
	if key := os.Getenv("ARB_VENUE_B_API_KEY"); key != "" {
		cfg.API.VenueBAPIKey = key
	}
	if os.Getenv("ARB_DRY_RUN") == "true" || os.Getenv("ARB_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Wallet.PrivateKey == "" {
		return fmt.Errorf("wallet.private_key is required (set ARB_PRIVATE_KEY)")
	}
	if c.Wallet.ChainID == 0 {
		return fmt.Errorf("wallet.chain_id is required")
	}
	switch c.Wallet.SignatureType {
	case 0, 1, 2:
	default:
		return fmt.Errorf("wallet.signature_type must be one of: 0 (EOA), 1 (PROXY), 2 (GNOSIS_SAFE)")
	}
	if c.Wallet.SignatureType != 0 && c.Wallet.FunderAddress == "" {
		return fmt.Errorf("wallet.funder_address is required when wallet.signature_type is 1 or 2")
	}
	if c.API.VenueABaseURL == "" {
		return fmt.Errorf("api.venue_a_base_url is required")
	}
	if c.API.VenueBBaseURL == "" {
		return fmt.Errorf("api.venue_b_base_url is required")
	}
	if c.Executor.MaxHedgeRetries <= 0 {
		return fmt.Errorf("executor.max_hedge_retries must be > 0")
	}
	if c.LogSink.BaseDir == "" {
		return fmt.Errorf("log_sink.base_dir is required")
	}
	return nil
}

// OrderTimeout returns the configured order timeout as a Duration.
func (c ExecutorConfig) OrderTimeout() time.Duration {
	return time.Duration(c.OrderTimeoutMs) * time.Millisecond
}

// PollInterval returns the configured poll interval as a Duration.
func (c ExecutorConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// CostCheckThrottle returns the configured guard-evaluation throttle.
func (c ExecutorConfig) CostCheckThrottle() time.Duration {
	return time.Duration(c.CostCheckThrottleMs) * time.Millisecond
}

// LossHedgeMaxWait returns the configured loss-hedge budget as a Duration.
func (c ExecutorConfig) LossHedgeMaxWait() time.Duration {
	return time.Duration(c.LossHedgeMaxWaitMs) * time.Millisecond
}
