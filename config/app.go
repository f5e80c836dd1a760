package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// AppConfig is the file based configuration of the tickbot binary.
type AppConfig struct {
	Broker struct {
		URL      string `yaml:"url"`
		AppID    string `yaml:"app_id"`
		Token    string `yaml:"token"`
		Currency string `yaml:"currency"`
	} `yaml:"broker"`
	Bot struct {
		ID     string       `yaml:"id"`
		User   string       `yaml:"user"`
		Config RawBotConfig `yaml:"config"`
	} `yaml:"bot"`
	Store struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"store"`
	Metrics struct {
		Listen string `yaml:"listen"`
	} `yaml:"metrics"`
	Report struct {
		Cron string `yaml:"cron"`
	} `yaml:"report"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
	Paper   PaperConfig   `yaml:"paper"`
	Billing BillingConfig `yaml:"billing"`
}

// PaperConfig drives the in-process simulated broker.
type PaperConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Seed         int64         `yaml:"seed"`
	StartPrice   float64       `yaml:"start_price"`
	Volatility   float64       `yaml:"volatility"`
	PipDecimals  int           `yaml:"pip_decimals"`
	PayoutRatio  float64       `yaml:"payout_ratio"`
	Balance      float64       `yaml:"balance"`
	TickInterval time.Duration `yaml:"tick_interval"`
}

// BillingConfig lists prices and the grants a user has bought.
type BillingConfig struct {
	Tiers  map[string]TierConfig `yaml:"tiers"`
	Grants []GrantConfig         `yaml:"grants"`
}

type TierConfig struct {
	WeeklyPrice  float64 `yaml:"weekly_price"`
	MonthlyPrice float64 `yaml:"monthly_price"`
}

// GrantConfig entitles User to Bot ("*" = every bot) until Expires.
// A zero Expires never lapses.
type GrantConfig struct {
	User    string    `yaml:"user"`
	Bot     string    `yaml:"bot"`
	Expires time.Time `yaml:"expires"`
}

const (
	DefaultBrokerURL = "wss://ws.binaryws.com/websockets/v3"
	DefaultAppID     = "1089"
)

// Load reads an optional .env file, the YAML file at path, then applies
// environment overrides and defaults. A missing file is not an error.
func Load(path string) (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &AppConfig{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) applyEnv() error {
	if v := os.Getenv("TICKBOT_BROKER_URL"); v != "" {
		c.Broker.URL = v
	}
	if v := os.Getenv("TICKBOT_APP_ID"); v != "" {
		c.Broker.AppID = v
	}
	if v := os.Getenv("TICKBOT_TOKEN"); v != "" {
		c.Broker.Token = v
	}
	if v := os.Getenv("TICKBOT_BOT"); v != "" {
		c.Bot.ID = v
	}
	if v := os.Getenv("TICKBOT_USER"); v != "" {
		c.Bot.User = v
	}
	if v := os.Getenv("TICKBOT_DB_PATH"); v != "" {
		c.Store.SQLitePath = v
	}
	if v := os.Getenv("TICKBOT_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("TICKBOT_METRICS_ADDR"); v != "" {
		c.Metrics.Listen = v
	}
	if v := os.Getenv("TICKBOT_PAPER"); v != "" {
		on, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("TICKBOT_PAPER: %w", err)
		}
		c.Paper.Enabled = on
	}
	return nil
}

func (c *AppConfig) applyDefaults() {
	if c.Broker.URL == "" {
		c.Broker.URL = DefaultBrokerURL
	}
	if c.Broker.AppID == "" {
		c.Broker.AppID = DefaultAppID
	}
	if c.Broker.Currency == "" {
		c.Broker.Currency = "USD"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Paper.StartPrice == 0 {
		c.Paper.StartPrice = 1000
	}
	if c.Paper.Volatility == 0 {
		c.Paper.Volatility = 0.5
	}
	if c.Paper.PipDecimals == 0 {
		c.Paper.PipDecimals = 2
	}
	if c.Paper.PayoutRatio == 0 {
		c.Paper.PayoutRatio = 0.95
	}
	if c.Paper.Balance == 0 {
		c.Paper.Balance = 10_000
	}
	if c.Paper.TickInterval == 0 {
		c.Paper.TickInterval = time.Second
	}
}

// Validate checks that all required fields are set.
func (c *AppConfig) Validate() error {
	u, err := url.Parse(c.Broker.URL)
	if err != nil {
		return fmt.Errorf("broker.url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("broker.url must use ws or wss, got %q", u.Scheme)
	}
	if c.Paper.PipDecimals < 0 || c.Paper.PipDecimals > 6 {
		return fmt.Errorf("paper.pip_decimals (%d) must be within 0..6", c.Paper.PipDecimals)
	}
	if c.Paper.PayoutRatio <= 0 {
		return fmt.Errorf("paper.payout_ratio must be positive")
	}
	for id, t := range c.Billing.Tiers {
		if t.WeeklyPrice < 0 || t.MonthlyPrice < 0 {
			return fmt.Errorf("billing.tiers.%s: prices cannot be negative", id)
		}
	}
	for i, g := range c.Billing.Grants {
		if g.User == "" || g.Bot == "" {
			return fmt.Errorf("billing.grants[%d]: user and bot are required", i)
		}
	}
	return nil
}

// StreamURL is the broker URL with the app_id query parameter applied.
func (c *AppConfig) StreamURL() string {
	u, err := url.Parse(c.Broker.URL)
	if err != nil {
		return c.Broker.URL
	}
	q := u.Query()
	if q.Get("app_id") == "" && c.Broker.AppID != "" {
		q.Set("app_id", c.Broker.AppID)
	}
	u.RawQuery = q.Encode()
	return u.String()
}
