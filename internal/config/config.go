package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"p2p-market-watch/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Relays    RelayConfig     `mapstructure:"relays"`
	Rates     RatesConfig     `mapstructure:"rates"`
	Admission AdmissionConfig `mapstructure:"admission"`
	Trust     TrustConfig     `mapstructure:"trust"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity. An empty DSN
// disables the archive store entirely.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SchedulerConfig governs the rate refresh cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// RelayConfig lists the Nostr relays and subscription parameters.
type RelayConfig struct {
	URLs           []string      `mapstructure:"urls"`
	OrderKind      int           `mapstructure:"order_kind"`
	BacklogLimit   int           `mapstructure:"backlog_limit"`
	DialTimeout    time.Duration `mapstructure:"dial_timeout"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
}

// RatesConfig covers the fiat exchange rate feeds.
type RatesConfig struct {
	CoinGeckoURL   string        `mapstructure:"coingecko_url"`
	YadioURL       string        `mapstructure:"yadio_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// AdmissionConfig selects the order admission policy. Mode is one of
// "open", "allowlist", or "premium-bound".
type AdmissionConfig struct {
	Mode             string   `mapstructure:"mode"`
	AllowedPubkeys   []string `mapstructure:"allowed_pubkeys"`
	TrustedSources   []string `mapstructure:"trusted_sources"`
	MaxAbsPremiumPct float64  `mapstructure:"max_abs_premium_pct"`
}

// TrustConfig tunes web-of-trust resolution.
type TrustConfig struct {
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AlertingConfig defines deal alert thresholds and routing. A sell order
// with premium at or below sell_max_premium_pct, or a buy order with
// premium at or above buy_min_premium_pct, triggers a notification.
type AlertingConfig struct {
	Enabled           bool           `mapstructure:"enabled"`
	SellMaxPremiumPct float64        `mapstructure:"sell_max_premium_pct"`
	BuyMinPremiumPct  float64        `mapstructure:"buy_min_premium_pct"`
	Cooldown          time.Duration  `mapstructure:"cooldown"`
	Channels          []string       `mapstructure:"channels"`
	Telegram          TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram alert channel.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("P2PWATCH")
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
	v.SetDefault("app.name", "p2pwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "5m")
	v.SetDefault("scheduler.align_to_bucket", false)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x70327077))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("relays.urls", []string{
		"wss://nostr.satstralia.com",
		"wss://relay.mostro.network",
		"wss://relay.damus.io",
		"wss://relay.snort.social",
		"wss://nos.lol",
		"wss://relay.current.fyi",
	})
	v.SetDefault("relays.order_kind", 38383)
	v.SetDefault("relays.backlog_limit", 500)
	v.SetDefault("relays.dial_timeout", "10s")
	v.SetDefault("relays.ping_interval", "20s")
	v.SetDefault("relays.reconnect_delay", "5s")

	v.SetDefault("rates.coingecko_url", "https://api.coingecko.com/api/v3/simple/price?ids=bitcoin&vs_currencies=usd,eur,gbp,jpy,cad,aud,chf,cny,krw,inr,brl,rub,mxn,zar")
	v.SetDefault("rates.yadio_url", "https://api.yadio.io/exrates/BTC")
	v.SetDefault("rates.request_timeout", "10s")
	v.SetDefault("rates.user_agent", "p2pwatch/1.0")

	v.SetDefault("admission.mode", "allowlist")
	v.SetDefault("admission.allowed_pubkeys", []string{
		"7af6f7cfc3bfdf8aa65df2465aa7841096fa8ee6b2d4d14fc43d974e5db9ab96",
		"c8dc40a80bbb41fe7430fca9d0451b37a2341486ab65f890955528e4732da34a",
		"f2d4855df39a7db6196666e8469a07a131cddc08dcaa744a344343ffcf54a10c",
		"74001620297035daa61475c069f90b6950087fea0d0134b795fac758c34e7191",
		"fcc2a0bd8f5803f6dd8b201a1ddb67a4b6e268371fe7353d41d2b6684af7a61e",
		"a47457722e10ba3a271fbe7040259a3c4da2cf53bfd1e198138214d235064fc2",
		"82fa8cb978b43c79b2156585bac2c011176a21d2aead6d9f7c575c005be88390",
	})
	v.SetDefault("admission.trusted_sources", []string{"mostro"})
	v.SetDefault("admission.max_abs_premium_pct", 40.0)

	v.SetDefault("trust.request_timeout", "15s")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.sell_max_premium_pct", 0.0)
	v.SetDefault("alerting.buy_min_premium_pct", 0.0)
	v.SetDefault("alerting.cooldown", "30m")
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
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
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if len(c.Relays.URLs) == 0 {
		return fmt.Errorf("relays.urls must list at least one relay")
	}
	if c.Relays.OrderKind <= 0 {
		return fmt.Errorf("relays.order_kind must be greater than zero")
	}
	switch c.Admission.Mode {
	case "open", "allowlist", "premium-bound":
	default:
		return fmt.Errorf("admission.mode must be one of open, allowlist, premium-bound")
	}
	if c.Admission.Mode == "premium-bound" && c.Admission.MaxAbsPremiumPct <= 0 {
		return fmt.Errorf("admission.max_abs_premium_pct must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
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
