package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Liqflow    AppConfig        `yaml:"liqflow"`
	Channels   ChannelsConfig   `yaml:"channels"`
	Source     SourceConfig     `yaml:"source"`
	Filter     FilterConfig     `yaml:"filter"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Dashboard  DashboardConfig  `yaml:"dashboard"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type ChannelsConfig struct {
	RawBuffer int `yaml:"raw_buffer"`
}

type SourceConfig struct {
	Binance BinanceSourceConfig `yaml:"binance"`
	Bybit   BybitSourceConfig   `yaml:"bybit"`
}

type BinanceSourceConfig struct {
	Enabled     bool          `yaml:"enabled"`
	URL         string        `yaml:"url"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

type BybitSourceConfig struct {
	Enabled      bool          `yaml:"enabled"`
	URL          string        `yaml:"url"`
	Symbols      []string      `yaml:"symbols"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	PingInterval time.Duration `yaml:"ping_interval"`
}

type FilterConfig struct {
	TrackedAssets    []string          `yaml:"tracked_assets"`
	TrackedThreshold string            `yaml:"tracked_threshold"`
	DefaultThreshold string            `yaml:"default_threshold"`
	Colors           map[string]string `yaml:"colors"`
}

// TelegramConfig tunes the delivery sink. The bot token and chat id are
// secrets and come exclusively from the environment (BOT_TOKEN, CHAT_ID).
type TelegramConfig struct {
	Token          string        `yaml:"-"`
	ChatID         int64         `yaml:"-"`
	RateLimitRate  int           `yaml:"rate_limit_rate"`
	RateLimitBurst int           `yaml:"rate_limit_burst"`
	HTTPTimeout    time.Duration `yaml:"http_timeout"`
}

type SupervisorConfig struct {
	BackoffMin    time.Duration `yaml:"backoff_min"`
	BackoffMax    time.Duration `yaml:"backoff_max"`
	HealthyAfter  time.Duration `yaml:"healthy_after"`
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

type DashboardConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Address        string `yaml:"address"`
	LogHistory     int    `yaml:"log_history"`
	MetricsHistory int    `yaml:"metrics_history"`
}

type MetricsConfig struct {
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := defaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Secrets only ever come from the environment.
	config.Telegram.Token = strings.TrimSpace(os.Getenv("BOT_TOKEN"))
	if raw := strings.TrimSpace(os.Getenv("CHAT_ID")); raw != "" {
		chatID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("CHAT_ID environment variable is not a valid chat id: %w", err)
		}
		config.Telegram.ChatID = chatID
	}

	if v := os.Getenv("AWS_REGION"); v != "" && config.Metrics.CloudWatch.Region == "" {
		config.Metrics.CloudWatch.Region = strings.TrimSpace(v)
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

func defaultConfig() *Config {
	return &Config{
		Channels: ChannelsConfig{RawBuffer: 1000},
		Source: SourceConfig{
			Binance: BinanceSourceConfig{
				Enabled:     true,
				URL:         "wss://fstream.binance.com/ws/!forceOrder@arr",
				ReadTimeout: 5 * time.Minute,
			},
			Bybit: BybitSourceConfig{
				Enabled: true,
				URL:     "wss://stream.bybit.com/v5/public/linear",
				Symbols: []string{
					"BTCUSDT", "ETHUSDT", "SOLUSDT", "ADAUSDT", "DOGEUSDT",
					"XRPUSDT", "AVAXUSDT", "DOTUSDT", "MATICUSDT", "LINKUSDT",
				},
				ReadTimeout:  60 * time.Second,
				PingInterval: 20 * time.Second,
			},
		},
		Filter: FilterConfig{
			TrackedAssets:    []string{"BTC", "ETH", "SOL"},
			TrackedThreshold: "50000",
			DefaultThreshold: "500000",
			Colors: map[string]string{
				"BTC": "\U0001F7E0",
				"ETH": "\U0001F535",
				"SOL": "\U0001F7E3",
			},
		},
		Telegram: TelegramConfig{
			RateLimitRate:  1,
			RateLimitBurst: 5,
			HTTPTimeout:    10 * time.Second,
		},
		Supervisor: SupervisorConfig{
			BackoffMin:    2 * time.Second,
			BackoffMax:    time.Minute,
			HealthyAfter:  time.Minute,
			ShutdownGrace: 30 * time.Second,
		},
		Dashboard: DashboardConfig{
			Address:        ":8080",
			LogHistory:     200,
			MetricsHistory: 200,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Liqflow.Name == "" {
		return fmt.Errorf("liqflow.name is required")
	}
	if cfg.Liqflow.Version == "" {
		return fmt.Errorf("liqflow.version is required")
	}

	if cfg.Channels.RawBuffer <= 0 {
		return fmt.Errorf("channels.raw_buffer must be greater than 0")
	}

	if !cfg.Source.Binance.Enabled && !cfg.Source.Bybit.Enabled {
		return fmt.Errorf("at least one source must be enabled")
	}
	if cfg.Source.Binance.Enabled && cfg.Source.Binance.URL == "" {
		return fmt.Errorf("source.binance.url is required when binance is enabled")
	}
	if cfg.Source.Bybit.Enabled {
		if cfg.Source.Bybit.URL == "" {
			return fmt.Errorf("source.bybit.url is required when bybit is enabled")
		}
		if len(cfg.Source.Bybit.Symbols) == 0 {
			return fmt.Errorf("source.bybit.symbols is required when bybit is enabled")
		}
	}

	for _, name := range []string{"filter.tracked_threshold", "filter.default_threshold"} {
		raw := cfg.Filter.TrackedThreshold
		if name == "filter.default_threshold" {
			raw = cfg.Filter.DefaultThreshold
		}
		threshold, err := decimal.NewFromString(raw)
		if err != nil {
			return fmt.Errorf("%s %q is not a valid decimal", name, raw)
		}
		if !threshold.IsPositive() {
			return fmt.Errorf("%s must be greater than 0", name)
		}
	}

	if cfg.Telegram.Token == "" {
		return fmt.Errorf("BOT_TOKEN environment variable is required")
	}
	if cfg.Telegram.ChatID == 0 {
		return fmt.Errorf("CHAT_ID environment variable is required")
	}

	if cfg.Supervisor.BackoffMin <= 0 || cfg.Supervisor.BackoffMax < cfg.Supervisor.BackoffMin {
		return fmt.Errorf("supervisor backoff bounds are invalid")
	}

	return nil
}
