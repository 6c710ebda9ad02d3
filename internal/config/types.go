package config

import "time"

// Config is the root of the YAML configuration.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Server   ServerConfig   `mapstructure:"server"`
	Store    StoreConfig    `mapstructure:"store"`
	Exchange ExchangeConfig `mapstructure:"exchange"`
	Trading  TradingConfig  `mapstructure:"trading"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Plans    PlansConfig    `mapstructure:"plans"`
}

type AppConfig struct {
	Env      string `mapstructure:"env"`
	LogLevel string `mapstructure:"log_level"`
	LogPath  string `mapstructure:"log_path"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// ExchangeConfig selects the default exchange implementation used when a
// credential record does not carry its own exchange name.
type ExchangeConfig struct {
	Name    string `mapstructure:"name"`
	Testnet bool   `mapstructure:"testnet"`
}

type TradingConfig struct {
	// PollIntervalSec is the monitor tick period.
	PollIntervalSec int `mapstructure:"poll_interval_sec"`
	// SLOffsetPercent is the cascade offset: the stop is parked this far
	// past the base price once a TP level fills. 0.1 means 0.1%.
	SLOffsetPercent float64 `mapstructure:"sl_offset_percent"`
	DefaultLeverage int     `mapstructure:"default_leverage"`
	// CallTimeoutSec bounds every single exchange call.
	CallTimeoutSec int `mapstructure:"call_timeout_sec"`
}

type SyncConfig struct {
	IntervalSec int  `mapstructure:"interval_sec"`
	RunOnStart  bool `mapstructure:"run_on_start"`
}

type PlansConfig struct {
	Dir   string `mapstructure:"dir"`
	Watch bool   `mapstructure:"watch"`
}

func (c *TradingConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSec) * time.Second
}

func (c *TradingConfig) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutSec) * time.Second
}

func (c *SyncConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSec) * time.Second
}

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":9985"
	}
	if c.Store.Path == "" {
		c.Store.Path = "data/ladder.db"
	}
	if c.Exchange.Name == "" {
		c.Exchange.Name = "bingx"
	}
	if c.Trading.PollIntervalSec <= 0 {
		c.Trading.PollIntervalSec = 2
	}
	if c.Trading.SLOffsetPercent <= 0 {
		c.Trading.SLOffsetPercent = 0.1
	}
	if c.Trading.DefaultLeverage <= 0 {
		c.Trading.DefaultLeverage = 5
	}
	if c.Trading.CallTimeoutSec <= 0 {
		c.Trading.CallTimeoutSec = 10
	}
	if c.Sync.IntervalSec <= 0 {
		c.Sync.IntervalSec = 30
	}
	if c.Plans.Dir == "" {
		c.Plans.Dir = "trades"
	}
}
