package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"tickflow/instrument"
	"tickflow/subscription"
)

type Config struct {
	Tickflow   TickflowConfig   `yaml:"tickflow"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Cloudwatch CloudwatchConfig `yaml:"cloudwatch"`
	Stream     StreamConfig     `yaml:"stream"`
	Exchanges  ExchangesConfig  `yaml:"exchanges"`
}

type TickflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

type CloudwatchConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Region    string        `yaml:"region"`
	Namespace string        `yaml:"namespace"`
	Interval  time.Duration `yaml:"interval"`
}

type StreamConfig struct {
	SubscribeTimeout time.Duration `yaml:"subscribe_timeout"`
	SubscribeRPS     int           `yaml:"subscribe_rps"`
	OutboundBuffer   int           `yaml:"outbound_buffer"`
}

type ExchangesConfig struct {
	Binance ExchangeConfig `yaml:"binance"`
	Okx     ExchangeConfig `yaml:"okx"`
	Bybit   ExchangeConfig `yaml:"bybit"`
}

type ExchangeConfig struct {
	Enabled       bool                 `yaml:"enabled"`
	WSURL         string               `yaml:"ws_url"`
	Subscriptions []SubscriptionConfig `yaml:"subscriptions"`
}

type SubscriptionConfig struct {
	Base   string   `yaml:"base"`
	Quote  string   `yaml:"quote"`
	Market string   `yaml:"market"`
	Kinds  []string `yaml:"kinds"`
}

func LoadConfig(path string) (*Config, error) {
	path = resolveEnvSpecificPath(path, defaultConfigPath, envConfigPaths)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Metrics: MetricsConfig{
			Listen: ":9100",
		},
		Stream: StreamConfig{
			SubscribeTimeout: 10 * time.Second,
			SubscribeRPS:     5,
			OutboundBuffer:   64,
		},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Override CloudWatch settings from environment variables if available
	if config.Cloudwatch.Enabled {
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Cloudwatch.Region = strings.TrimSpace(v)
		}
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Tickflow.Name == "" {
		return fmt.Errorf("tickflow.name is required")
	}

	if cfg.Tickflow.Version == "" {
		return fmt.Errorf("tickflow.version is required")
	}

	if cfg.Stream.SubscribeTimeout <= 0 {
		return fmt.Errorf("stream.subscribe_timeout must be greater than 0")
	}
	if cfg.Stream.SubscribeRPS <= 0 {
		return fmt.Errorf("stream.subscribe_rps must be greater than 0")
	}
	if cfg.Stream.OutboundBuffer <= 0 {
		return fmt.Errorf("stream.outbound_buffer must be greater than 0")
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		return fmt.Errorf("metrics.listen is required when metrics are enabled")
	}

	if cfg.Cloudwatch.Enabled && cfg.Cloudwatch.Region == "" {
		return fmt.Errorf("cloudwatch.region is required when cloudwatch is enabled")
	}

	for _, ex := range cfg.exchangeSections() {
		if !ex.cfg.Enabled {
			continue
		}
		if len(ex.cfg.Subscriptions) == 0 {
			return fmt.Errorf("exchanges.%s.subscriptions is required when the exchange is enabled", ex.id)
		}
		if _, err := buildSubscriptions(ex.id, ex.cfg); err != nil {
			return err
		}
	}

	return nil
}

type exchangeSection struct {
	id  subscription.ExchangeID
	cfg ExchangeConfig
}

func (c *Config) exchangeSections() []exchangeSection {
	return []exchangeSection{
		{subscription.Binance, c.Exchanges.Binance},
		{subscription.Okx, c.Exchanges.Okx},
		{subscription.Bybit, c.Exchanges.Bybit},
	}
}

// Subscriptions converts the enabled exchange sections into validated
// subscription batches, one batch per exchange.
func (c *Config) Subscriptions() ([][]subscription.Subscription, error) {
	var batches [][]subscription.Subscription
	for _, ex := range c.exchangeSections() {
		if !ex.cfg.Enabled {
			continue
		}
		batch, err := buildSubscriptions(ex.id, ex.cfg)
		if err != nil {
			return nil, err
		}
		batches = append(batches, batch)
	}
	return batches, nil
}

func buildSubscriptions(id subscription.ExchangeID, cfg ExchangeConfig) ([]subscription.Subscription, error) {
	var subs []subscription.Subscription
	for _, sc := range cfg.Subscriptions {
		if sc.Base == "" || sc.Quote == "" {
			return nil, fmt.Errorf("exchanges.%s: subscription base and quote are required", id)
		}

		market, err := parseMarket(sc.Market)
		if err != nil {
			return nil, fmt.Errorf("exchanges.%s: %w", id, err)
		}

		if len(sc.Kinds) == 0 {
			return nil, fmt.Errorf("exchanges.%s: subscription kinds are required", id)
		}
		for _, k := range sc.Kinds {
			kind, err := parseKind(k)
			if err != nil {
				return nil, fmt.Errorf("exchanges.%s: %w", id, err)
			}
			subs = append(subs, subscription.New(id, sc.Base, sc.Quote, market, kind))
		}
	}
	return subs, nil
}

func parseMarket(s string) (instrument.Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "spot":
		return instrument.Spot, nil
	case "future", "futures", "perpetual", "swap":
		return instrument.Future, nil
	default:
		return "", fmt.Errorf("unknown market kind %q", s)
	}
}

func parseKind(s string) (subscription.SubKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "public_trades", "trades":
		return subscription.PublicTrades, nil
	case "order_books_l1", "book_l1":
		return subscription.OrderBooksL1, nil
	case "order_books_l2", "book_l2":
		return subscription.OrderBooksL2, nil
	case "order_books_l3", "book_l3":
		return subscription.OrderBooksL3, nil
	default:
		return "", fmt.Errorf("unknown subscription kind %q", s)
	}
}
