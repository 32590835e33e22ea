// Package config loads and validates the engine's configuration bundle
// (§6.A). Grounded on 0xtitan6-polymarket-mm's internal/config: viper with
// an env-var override prefix, mapstructure-tagged sub-structs, and a
// Validate method that range-checks before anything starts.
package config

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/driftscout/polycopy/pkg/errs"
)

// Config mirrors the §6 option table exactly.
type Config struct {
	DataDir    string           `mapstructure:"data_dir"`
	Risk       RiskConfig       `mapstructure:"risk"`
	Network    NetworkConfig    `mapstructure:"network"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Trading    TradingConfig    `mapstructure:"trading"`
	Alerts     AlertsConfig     `mapstructure:"alerts"`
	Cache      CacheConfig      `mapstructure:"cache"`
}

// RiskConfig sets the per-trade and circuit-breaker thresholds.
type RiskConfig struct {
	MaxPositionSize        float64 `mapstructure:"max_position_size"`
	MaxDailyLoss           float64 `mapstructure:"max_daily_loss"`
	MaxConcurrentPositions int     `mapstructure:"max_concurrent_positions"`
	StopLossPct            float64 `mapstructure:"stop_loss_pct"`
	TakeProfitPct          float64 `mapstructure:"take_profit_pct"`
	MaxSlippage            float64 `mapstructure:"max_slippage"`
}

// NetworkConfig holds the blockchain endpoints and expected chain id.
type NetworkConfig struct {
	RPCURL  string `mapstructure:"rpc_url"`
	WSURL   string `mapstructure:"ws_url"`
	ChainID int    `mapstructure:"chain_id"`
}

// MonitoringConfig tunes the orchestration cadence and cohort admission.
type MonitoringConfig struct {
	MonitorInterval    int     `mapstructure:"monitor_interval"`
	MinConfidenceScore float64 `mapstructure:"min_confidence_score"`
}

// TradingConfig carries the signing key. PrivateKey comes from the config
// file or from the POLYCOPY_TRADING_PRIVATE_KEY environment variable, which
// takes precedence. SecretsFile is only checked for group/other permission
// bits; the key is not read from it.
type TradingConfig struct {
	PrivateKey  string `mapstructure:"private_key"`
	SecretsFile string `mapstructure:"secrets_file"`
}

// AlertsConfig points at the chat-platform alert destination.
type AlertsConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

// CacheConfig configures the optional Redis remote tier for the cohort
// scanner's wallet-data cache. RedisAddr empty means "local cache only".
type CacheConfig struct {
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
}

// Load reads an optional YAML file at path, overlays POLYCOPY_-prefixed
// environment variables, unmarshals strictly (unknown keys rejected), and
// validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("POLYCOPY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: read config: %s", errs.ErrInitialization, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) { dc.ErrorUnused = true }); err != nil {
		return nil, fmt.Errorf("%w: unmarshal config: %s", errs.ErrInitialization, err)
	}

	if key := os.Getenv("POLYCOPY_TRADING_PRIVATE_KEY"); key != "" {
		cfg.Trading.PrivateKey = key
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", errs.ErrInitialization, err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "./data")
	v.SetDefault("risk.max_concurrent_positions", 10)
	v.SetDefault("risk.stop_loss_pct", 0.10)
	v.SetDefault("risk.take_profit_pct", 0.20)
	v.SetDefault("risk.max_slippage", 0.02)
	v.SetDefault("monitoring.monitor_interval", 30)
	v.SetDefault("monitoring.min_confidence_score", 0.5)
}

// Validate range-checks, URL-parses, and hex-validates the bundle, and
// rejects a secrets file with group/other permission bits set (§6.A).
func (c *Config) Validate() error {
	if c.Risk.MaxPositionSize <= 0 {
		return fmt.Errorf("risk.max_position_size must be > 0")
	}
	if c.Risk.MaxDailyLoss <= 0 {
		return fmt.Errorf("risk.max_daily_loss must be > 0")
	}
	if c.Risk.MaxConcurrentPositions < 1 {
		return fmt.Errorf("risk.max_concurrent_positions must be >= 1")
	}
	if c.Risk.StopLossPct <= 0 || c.Risk.StopLossPct > 1 {
		return fmt.Errorf("risk.stop_loss_pct must be in (0,1]")
	}
	if c.Risk.TakeProfitPct <= 0 || c.Risk.TakeProfitPct > 1 {
		return fmt.Errorf("risk.take_profit_pct must be in (0,1]")
	}
	if c.Risk.MaxSlippage <= 0 || c.Risk.MaxSlippage > 0.1 {
		return fmt.Errorf("risk.max_slippage must be in (0,0.1]")
	}

	if _, err := url.ParseRequestURI(c.Network.RPCURL); err != nil {
		return fmt.Errorf("network.rpc_url must be a valid URL: %w", err)
	}
	if _, err := url.ParseRequestURI(c.Network.WSURL); err != nil {
		return fmt.Errorf("network.ws_url must be a valid URL: %w", err)
	}
	if c.Network.ChainID == 0 {
		return fmt.Errorf("network.chain_id is required")
	}

	if c.Monitoring.MonitorInterval < 5 || c.Monitoring.MonitorInterval > 300 {
		return fmt.Errorf("monitoring.monitor_interval must be in [5,300]")
	}
	if c.Monitoring.MinConfidenceScore < 0.1 || c.Monitoring.MinConfidenceScore > 0.95 {
		return fmt.Errorf("monitoring.min_confidence_score must be in [0.1,0.95]")
	}

	if len(c.Trading.PrivateKey) != 66 || !strings.HasPrefix(c.Trading.PrivateKey, "0x") {
		return fmt.Errorf("trading.private_key must be a 66-character 0x-prefixed hex string")
	}
	if _, err := hex.DecodeString(c.Trading.PrivateKey[2:]); err != nil {
		return fmt.Errorf("trading.private_key must be a 66-character 0x-prefixed hex string")
	}

	if c.Trading.SecretsFile != "" {
		info, err := os.Stat(c.Trading.SecretsFile)
		if err != nil {
			return fmt.Errorf("trading.secrets_file: %w", err)
		}
		if info.Mode().Perm()&0o077 != 0 {
			return fmt.Errorf("trading.secrets_file %s has group/other permissions set, expected 0600", c.Trading.SecretsFile)
		}
	}

	return nil
}
