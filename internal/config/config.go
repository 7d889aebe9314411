package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"etf-guardian/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig           `mapstructure:"app"`
	Logging   logging.Config      `mapstructure:"logging"`
	Database  DatabaseConfig      `mapstructure:"database"`
	Scheduler SchedulerConfig     `mapstructure:"scheduler"`
	Market    MarketConfig        `mapstructure:"market"`
	Monitor   MonitorConfig       `mapstructure:"monitor"`
	Assets    []AssetConfig       `mapstructure:"assets"`
	Ladders   map[string][]Ladder `mapstructure:"ladders"`
	Notify    NotifyConfig        `mapstructure:"notify"`
	Export    ExportConfig        `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// SchedulerConfig governs monitoring cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	CronSpec        string        `mapstructure:"cron_spec"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// MarketConfig groups market data provider settings.
type MarketConfig struct {
	Yahoo     YahooConfig     `mapstructure:"yahoo"`
	CoinGecko CoinGeckoConfig `mapstructure:"coingecko"`
	Chainlink ChainlinkConfig `mapstructure:"chainlink"`
}

// YahooConfig covers the Yahoo Finance chart API.
type YahooConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// CoinGeckoConfig covers the CoinGecko simple price API.
type CoinGeckoConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// ChainlinkConfig covers on-chain price feeds read over Ethereum RPC.
type ChainlinkConfig struct {
	RPCURL         string        `mapstructure:"rpc_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// MonitorConfig tunes the drawdown decision engines.
type MonitorConfig struct {
	DefaultThresholdPct   float64       `mapstructure:"default_threshold_pct"`
	VariationThresholdPct float64       `mapstructure:"variation_threshold_pct"`
	ReminderAfter         time.Duration `mapstructure:"reminder_after"`
	AssetDelay            time.Duration `mapstructure:"asset_delay"`
}

// AssetConfig describes one monitored instrument. ThresholdPct overrides
// monitor.default_threshold_pct when positive.
type AssetConfig struct {
	Symbol       string  `mapstructure:"symbol"`
	Name         string  `mapstructure:"name"`
	Class        string  `mapstructure:"class"`
	Source       string  `mapstructure:"source"`
	Ticker       string  `mapstructure:"ticker"`
	CoinID       string  `mapstructure:"coin_id"`
	Feed         string  `mapstructure:"feed"`
	ThresholdPct float64 `mapstructure:"threshold_pct"`
}

// Ladder is one staged investment level of a per-class ladder.
type Ladder struct {
	Level      float64 `mapstructure:"level"`
	Percentage float64 `mapstructure:"percentage"`
}

// NotifyConfig defines notification routing.
type NotifyConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Channels []string       `mapstructure:"channels"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Expo     ExpoConfig     `mapstructure:"expo"`
}

// TelegramConfig describes the Telegram alert channel.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExpoConfig describes the Expo mobile push channel.
type ExpoConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	PushURL        string        `mapstructure:"push_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ETFGUARDIAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "etfguardian")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "5m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x65746647))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("market.yahoo.base_url", "https://query1.finance.yahoo.com")
	v.SetDefault("market.yahoo.request_timeout", "10s")
	v.SetDefault("market.yahoo.user_agent", "etfguardian/1.0")
	v.SetDefault("market.coingecko.base_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("market.coingecko.request_timeout", "10s")
	v.SetDefault("market.chainlink.request_timeout", "10s")

	v.SetDefault("monitor.default_threshold_pct", 15.0)
	v.SetDefault("monitor.variation_threshold_pct", 1.0)
	v.SetDefault("monitor.reminder_after", "1h")
	v.SetDefault("monitor.asset_delay", "1s")

	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.channels", []string{"telegram"})
	v.SetDefault("notify.telegram.enabled", false)
	v.SetDefault("notify.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("notify.expo.enabled", false)
	v.SetDefault("notify.expo.push_url", "https://exp.host/--/api/v2/push/send")
	v.SetDefault("notify.expo.request_timeout", "10s")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 && c.Scheduler.CronSpec == "" {
		return fmt.Errorf("scheduler.interval must be greater than zero when no cron_spec is set")
	}
	if c.Monitor.DefaultThresholdPct <= 0 {
		return fmt.Errorf("monitor.default_threshold_pct must be greater than zero")
	}
	if c.Monitor.VariationThresholdPct < 0 {
		return fmt.Errorf("monitor.variation_threshold_pct cannot be negative")
	}
	if c.Monitor.ReminderAfter <= 0 {
		return fmt.Errorf("monitor.reminder_after must be greater than zero")
	}

	seen := make(map[string]struct{}, len(c.Assets))
	for _, asset := range c.Assets {
		if asset.Symbol == "" {
			return fmt.Errorf("assets entries require a symbol")
		}
		if _, dup := seen[asset.Symbol]; dup {
			return fmt.Errorf("duplicate asset symbol %q", asset.Symbol)
		}
		seen[asset.Symbol] = struct{}{}
		switch asset.Class {
		case "ETF", "CRYPTO":
		default:
			return fmt.Errorf("asset %s: class must be ETF or CRYPTO, got %q", asset.Symbol, asset.Class)
		}
	}

	for class, ladder := range c.Ladders {
		for _, step := range ladder {
			if step.Level >= 0 {
				return fmt.Errorf("ladders.%s: levels must be negative, got %v", class, step.Level)
			}
			if step.Percentage <= 0 {
				return fmt.Errorf("ladders.%s: percentage must be positive at level %v", class, step.Level)
			}
		}
	}

	if c.Notify.Telegram.Enabled {
		if c.Notify.Telegram.BotToken == "" {
			return fmt.Errorf("notify.telegram.bot_token is required when telegram is enabled")
		}
		if c.Notify.Telegram.ChatID == "" {
			return fmt.Errorf("notify.telegram.chat_id is required when telegram is enabled")
		}
	}

	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
