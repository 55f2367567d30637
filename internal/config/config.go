// Package config loads the YAML + environment configuration described in
// SPEC_FULL.md's Configuration section, the way the teacher's own config
// loading leans on github.com/joho/godotenv for secrets and a typed
// struct for everything else — here backed by github.com/spf13/viper so
// dot-notation keys like `instances.x1.copy_positions.max_pos_size_perc` map onto
// nested struct fields without hand-written flattening.
package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// SizingConfig is the per-instance position sizing block
// (`instances.<id>.copy_positions` in the YAML).
type SizingConfig struct {
	EquityOfTotalEquity float64 `mapstructure:"equity_of_total_equity"`
	EquityPerSinglePos  float64 `mapstructure:"equity_per_single_pos"`
	IncrDecrPerc        float64 `mapstructure:"incr_decr_perc"`
	MaxPosSizePerc      float64 `mapstructure:"max_pos_size_perc"`
	MinPosSizePerc      float64 `mapstructure:"min_pos_size_perc"`
}

// FilterTradersConfig controls the trailing window used to evaluate a
// trader's eligibility (ROI/win-rate/KC gates), one block per
// `filter_traders_config[date_range]` entry in spec §6.
type FilterTradersConfig struct {
	DateRange      string  `mapstructure:"date_range"`
	MinWinRatio    float64 `mapstructure:"min_win_ratio"`
	MinYieldRatio  float64 `mapstructure:"min_yield_ratio"`
	MinFollowPnl   float64 `mapstructure:"min_follow_pnl"`
	MinProfitDays  int     `mapstructure:"min_profit_days"`
	MaxLossDays    int     `mapstructure:"max_loss_days"`
	MinProfitLossDiff int  `mapstructure:"min_profit_loss_diff"`
}

// SearchTradersConfig controls the upstream discovery sweep.
type SearchTradersConfig struct {
	MinAUM     float64 `mapstructure:"min_aum"`
	MinYield   float64 `mapstructure:"min_yield"`
	PageSize   int     `mapstructure:"page_size"`
	MaxPages   int     `mapstructure:"max_pages"`
}

// ExchangeCredentials is one instance's exchange API key pair, loaded from
// environment variables named in the YAML (never the literal secret).
type ExchangeCredentials struct {
	Exchange  string `mapstructure:"exchange"` // "binance" | "bybit" | "hyperliquid"
	APIKeyEnv string `mapstructure:"api_key_env"`
	APISecEnv string `mapstructure:"api_secret_env"`
}

// Config is the fully resolved configuration for one run of the engine.
type Config struct {
	SLRatio      float64 `mapstructure:"sl_ratio"`
	CopyTraderBy string  `mapstructure:"copy_trader_by"` // "KC" | "TC"
	MaxTimeToFill int    `mapstructure:"max_time_to_fill"`

	IgnoreNegTotalROI          bool `mapstructure:"ignore_neg_total_roi_traders"`
	IgnoreNegAllTimeframesROI  bool `mapstructure:"ignore_neg_all_timeframes_roi_traders"`
	IgnoreObservedTraders      bool `mapstructure:"ignore_observed_traders"`

	FilterTradersConfig map[string]FilterTradersConfig `mapstructure:"filter_traders_config"`
	SearchTradersConfig SearchTradersConfig `mapstructure:"search_traders_config"`

	Instances map[string]InstanceConfig `mapstructure:"instances"`

	DBPath string `mapstructure:"db_path"`

	UpstreamBaseURL     string `mapstructure:"upstream_base_url"`
	UpstreamAPIKeyEnv   string `mapstructure:"upstream_api_key_env"`
	UpstreamAPIHostEnv  string `mapstructure:"upstream_api_host_env"`
	RateLimitPerSec     int    `mapstructure:"rate_limit_per_sec"`
	UpstreamPollPages   int    `mapstructure:"upstream_poll_pages"`
	UpstreamPollInterval string `mapstructure:"upstream_poll_interval"`

	HTTPAddr  string `mapstructure:"http_addr"`
	JWTSecretEnv string `mapstructure:"jwt_secret_env"`
}

// InstanceConfig is the per-instance (x1/x2/x3) block.
type InstanceConfig struct {
	// Enabled is the `{instance}_copy_positions` master switch spec §6
	// names: false means the engine still reconciles and records
	// decisions every cycle, but never places a live order.
	Enabled bool `mapstructure:"enabled"`
	// Mode selects between spec §4.4's two sizing strategies: "single"
	// (PercentOfEquity/RawQty/SnapToStep, one trader copied at a time,
	// selector-driven) or "multi" (KC-weighted MultiCopyBalance/
	// MultiCopyShare/PerPositionSize across every admitted trader).
	Mode          string              `mapstructure:"mode"`
	CopyPositions SizingConfig        `mapstructure:"copy_positions"`
	Credentials   ExchangeCredentials `mapstructure:"credentials"`
	ScanInterval  string              `mapstructure:"scan_interval"`
}

const (
	ModeSingleCopy = "single"
	ModeMultiCopy  = "multi"
)

// Load reads .env (if present) then the YAML file at path, applying
// viper's environment-variable override precedence on top.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // optional; missing .env is not an error

	v := viper.New()
	v.SetConfigFile(path)
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("sl_ratio", 0.5)
	v.SetDefault("copy_trader_by", "KC")
	v.SetDefault("max_time_to_fill", 60)
	v.SetDefault("rate_limit_per_sec", 10)
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("db_path", "copytrader.db")
	v.SetDefault("upstream_poll_pages", 1)
	v.SetDefault("upstream_poll_interval", "60s")
	v.SetDefault("instances.x1.mode", ModeSingleCopy)
	v.SetDefault("instances.x2.mode", ModeSingleCopy)
	v.SetDefault("instances.x3.mode", ModeSingleCopy)
}
