// Package config
package config

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/amirphl/ladder-trader/internal/exchange"
	"github.com/amirphl/ladder-trader/internal/ladder"
	"github.com/amirphl/ladder-trader/internal/tfutils"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

/*
YAML config example:
mode: "paper"
http_addr: ":8080"
poll_interval: "2s"
abandon_after: "5m"
max_tick_errors: 10
market_open: "09:15"
market_close: "15:30"
timezone: "Asia/Kolkata"
instruments_file: "data/api-scrip-master.csv"
cache_path: "data/cache"
db_conn_str: "postgres://..."
defaults:
  unit: 1
  diff: 0.5
  zag: 3
  type: "INTRADAY"
  order_type: "LIMIT"
  transaction_type: "BUY"
  frequency_aware: true
*/

const (
	ModeLive  = "live"
	ModePaper = "paper"
	ModeDry   = "dry"
)

type Config struct {
	Mode     string `yaml:"mode"`
	HTTPAddr string `yaml:"http_addr"`

	PollInterval       time.Duration `yaml:"poll_interval"`
	CancelAfter        time.Duration `yaml:"cancel_after"`
	AbandonAfter       time.Duration `yaml:"abandon_after"`
	CallTimeout        time.Duration `yaml:"call_timeout"`
	MaxTickErrors      int           `yaml:"max_tick_errors"`
	StatusSyncInterval time.Duration `yaml:"status_sync_interval"`
	PriceSyncInterval  time.Duration `yaml:"price_sync_interval"`
	BroadcastInterval  time.Duration `yaml:"broadcast_interval"`

	MarketOpen  string `yaml:"market_open"`
	MarketClose string `yaml:"market_close"`
	Timezone    string `yaml:"timezone"`

	InstrumentsFile string `yaml:"instruments_file"`
	CachePath       string `yaml:"cache_path"`

	WallexAPIKey string `yaml:"wallex_api_key"`
	DBConnStr    string `yaml:"db_conn_str"`
	DBMaxOpen    int    `yaml:"db_max_open"`
	DBMaxIdle    int    `yaml:"db_max_idle"`

	LogFile  string `yaml:"log_file"`
	LogLevel string `yaml:"log_level"`

	TelegramToken       string        `yaml:"telegram_token"`
	TelegramChatID      string        `yaml:"telegram_chat_id"`
	NotificationRetries int           `yaml:"notification_retries"`
	NotificationDelay   time.Duration `yaml:"notification_delay"`

	AllowedOrigins []string `yaml:"allowed_origins"`

	Defaults ladder.Params `yaml:"defaults"`
}

func Default() Config {
	return Config{
		Mode:                ModeDry,
		HTTPAddr:            ":8080",
		PollInterval:        2 * time.Second,
		AbandonAfter:        5 * time.Minute,
		CallTimeout:         10 * time.Second,
		MaxTickErrors:       10,
		StatusSyncInterval:  time.Second,
		PriceSyncInterval:   time.Second,
		BroadcastInterval:   2 * time.Second,
		MarketOpen:          "09:15",
		MarketClose:         "15:30",
		DBMaxOpen:           10,
		DBMaxIdle:           5,
		LogLevel:            "info",
		NotificationRetries: 3,
		NotificationDelay:   5 * time.Second,
		AllowedOrigins:      []string{"*"},
		Defaults:            ladder.DefaultParams(),
	}
}

// MustLoadConfig loads from os.Args and the environment, exiting on error.
func MustLoadConfig() Config {
	cfg, err := Load(os.Args[1:])
	if err != nil {
		log.Fatalf("config | %v", err)
	}
	return cfg
}

// Load applies, in order: defaults, an optional .env file, the YAML file
// named by -config, flags given on the command line, then environment
// variables for secrets.
func Load(args []string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	fs := flag.NewFlagSet("ladder-trader", flag.ContinueOnError)
	configFile := fs.String("config", "", "Path to YAML config file")
	mode := fs.String("mode", cfg.Mode, "Mode: live, paper or dry")
	addr := fs.String("http-addr", cfg.HTTPAddr, "HTTP listen address")
	poll := fs.Duration("poll-interval", cfg.PollInterval, "Ladder tick interval")
	cancelAfter := fs.Duration("cancel-after", 0, "Cancel an unconfirmed entry after this long (default: poll interval)")
	abandon := fs.Duration("abandon-after", cfg.AbandonAfter, "Force-close an entry with no status after this long")
	callTimeout := fs.Duration("call-timeout", cfg.CallTimeout, "Timeout of a single broker or cache call")
	maxErrs := fs.Int("max-tick-errors", cfg.MaxTickErrors, "Consecutive failing ticks before a runner reports error (0 = never)")
	statusSync := fs.Duration("status-sync-interval", cfg.StatusSyncInterval, "Order status polling interval")
	priceSync := fs.Duration("price-sync-interval", cfg.PriceSyncInterval, "Last price polling interval")
	broadcast := fs.Duration("broadcast-interval", cfg.BroadcastInterval, "Websocket snapshot interval")
	open := fs.String("market-open", cfg.MarketOpen, "Market open HH:MM (empty = always open)")
	closeAt := fs.String("market-close", cfg.MarketClose, "Market close HH:MM")
	tz := fs.String("timezone", cfg.Timezone, "IANA timezone of the market window")
	instruments := fs.String("instruments-file", cfg.InstrumentsFile, "Scrip master CSV (empty = symbols are their own ids)")
	cachePath := fs.String("cache-path", cfg.CachePath, "Pebble directory for the shared cache (empty = in-memory)")
	logFile := fs.String("log-file", cfg.LogFile, "Also write logs to this file")
	logLevel := fs.String("log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	telegramToken := fs.String("telegram-token", "", "Telegram bot token for notifications")
	telegramChatID := fs.String("telegram-chat", "", "Telegram chat ID for notifications")
	retries := fs.Int("notification-retries", cfg.NotificationRetries, "Number of notification send attempts")
	delay := fs.Duration("notification-delay", cfg.NotificationDelay, "Delay between notification retries")
	unit := fs.Int("unit", cfg.Defaults.Unit, "Default base quantity")
	diff := fs.Float64("diff", cfg.Defaults.Diff, "Default rung spacing in percent")
	zag := fs.Int("zag", cfg.Defaults.Zag, "Default zag")
	product := fs.String("product", cfg.Defaults.Product, "Default product type")
	side := fs.String("side", string(cfg.Defaults.Side), "Default entry side: BUY or SELL")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if *configFile != "" {
		data, err := os.ReadFile(*configFile)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	set := map[string]func(){
		"mode":                 func() { cfg.Mode = *mode },
		"http-addr":            func() { cfg.HTTPAddr = *addr },
		"poll-interval":        func() { cfg.PollInterval = *poll },
		"cancel-after":         func() { cfg.CancelAfter = *cancelAfter },
		"abandon-after":        func() { cfg.AbandonAfter = *abandon },
		"call-timeout":         func() { cfg.CallTimeout = *callTimeout },
		"max-tick-errors":      func() { cfg.MaxTickErrors = *maxErrs },
		"status-sync-interval": func() { cfg.StatusSyncInterval = *statusSync },
		"price-sync-interval":  func() { cfg.PriceSyncInterval = *priceSync },
		"broadcast-interval":   func() { cfg.BroadcastInterval = *broadcast },
		"market-open":          func() { cfg.MarketOpen = *open },
		"market-close":         func() { cfg.MarketClose = *closeAt },
		"timezone":             func() { cfg.Timezone = *tz },
		"instruments-file":     func() { cfg.InstrumentsFile = *instruments },
		"cache-path":           func() { cfg.CachePath = *cachePath },
		"log-file":             func() { cfg.LogFile = *logFile },
		"log-level":            func() { cfg.LogLevel = *logLevel },
		"telegram-token":       func() { cfg.TelegramToken = *telegramToken },
		"telegram-chat":        func() { cfg.TelegramChatID = *telegramChatID },
		"notification-retries": func() { cfg.NotificationRetries = *retries },
		"notification-delay":   func() { cfg.NotificationDelay = *delay },
		"unit":                 func() { cfg.Defaults.Unit = *unit },
		"diff":                 func() { cfg.Defaults.Diff = *diff },
		"zag":                  func() { cfg.Defaults.Zag = *zag },
		"product":              func() { cfg.Defaults.Product = *product },
		"side":                 func() { cfg.Defaults.Side = exchange.Side(strings.ToUpper(*side)) },
	}
	fs.Visit(func(f *flag.Flag) {
		if apply, ok := set[f.Name]; ok {
			apply()
		}
	})

	applyEnv(&cfg)

	if cfg.CancelAfter <= 0 {
		cfg.CancelAfter = cfg.PollInterval
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("WALLEX_API_KEY"); v != "" {
		cfg.WallexAPIKey = v
	}
	if v := os.Getenv("DB_CONN_STR"); v != "" {
		cfg.DBConnStr = v
	}
	if v := os.Getenv("TELEGRAM_TOKEN"); v != "" {
		cfg.TelegramToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.TelegramChatID = v
	}
	if v := os.Getenv("LADDER_MODE"); v != "" {
		cfg.Mode = v
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("DB_MAX_OPEN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DBMaxOpen = n
		}
	}
	if v := os.Getenv("DB_MAX_IDLE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DBMaxIdle = n
		}
	}
}

var ErrInvalidConfig = errors.New("invalid config")

func (c Config) Validate() error {
	switch c.Mode {
	case ModeLive:
		if c.WallexAPIKey == "" {
			return fmt.Errorf("%w: live mode needs WALLEX_API_KEY", ErrInvalidConfig)
		}
	case ModePaper, ModeDry:
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidConfig, c.Mode)
	}
	for name, d := range map[string]time.Duration{
		"poll_interval":        c.PollInterval,
		"status_sync_interval": c.StatusSyncInterval,
		"price_sync_interval":  c.PriceSyncInterval,
		"broadcast_interval":   c.BroadcastInterval,
		"abandon_after":        c.AbandonAfter,
	} {
		if d <= 0 {
			return fmt.Errorf("%w: %s must be positive", ErrInvalidConfig, name)
		}
	}
	if c.MaxTickErrors < 0 {
		return fmt.Errorf("%w: max_tick_errors must not be negative", ErrInvalidConfig)
	}
	if _, err := c.Window(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := c.Defaults.Validate(); err != nil {
		return fmt.Errorf("%w: defaults: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Window returns the market-hours gate; an empty market_open means always open.
func (c Config) Window() (tfutils.Window, error) {
	if c.MarketOpen == "" {
		return tfutils.AlwaysOpen, nil
	}
	return tfutils.ParseWindow(c.MarketOpen, c.MarketClose, c.Timezone)
}
