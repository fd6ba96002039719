package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // report timezone must resolve on minimal images

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
//
// Values are layered: built-in defaults, then an optional YAML tuning file
// (CONFIG_FILE), then environment variables (a local .env is loaded first).
type Config struct {
	// Telegram
	BotToken     string `yaml:"-"`
	AlertChatID  string `yaml:"alert_chat_id"`
	PollTimeoutS int    `yaml:"poll_timeout_sec"`

	// Market data provider
	BinanceBaseURL   string        `yaml:"binance_base_url"`
	RequestTimeout   time.Duration `yaml:"-"`
	RequestTimeoutMs int           `yaml:"request_timeout_ms"`
	WeightPerMinute  int           `yaml:"rate_limit_weight_per_min"`

	// Circuit breaker around provider calls
	BreakerMaxFailures int `yaml:"breaker_max_failures"`
	BreakerResetS      int `yaml:"breaker_reset_sec"`

	// Report scan
	Scan Scan `yaml:"scan"`

	// Infrastructure
	RedisAddr       string `yaml:"redis_addr"`
	RedisPassword   string `yaml:"-"`
	MetricsAddr     string `yaml:"metrics_addr"`
	HTTPAddr        string `yaml:"http_addr"`
	AlertWebhookURL string `yaml:"alert_webhook_url"`
	LogLevel        string `yaml:"log_level"`
}

// Scan tunes the report pipeline.
type Scan struct {
	Timezone     string  `yaml:"timezone"`
	Workers      int     `yaml:"workers"`
	CandleWindow int     `yaml:"candle_window"`
	DefaultLimit int     `yaml:"default_limit"`
	RSIPeriod    int     `yaml:"rsi_period"`
	ADXPeriod    int     `yaml:"adx_period"`
	RSILow       float64 `yaml:"rsi_low"`
	RSIHigh      float64 `yaml:"rsi_high"`
}

// Defaults returns the configuration used when nothing is overridden.
func Defaults() *Config {
	return &Config{
		PollTimeoutS:       30,
		BinanceBaseURL:     "https://api.binance.com",
		RequestTimeoutMs:   5000,
		WeightPerMinute:    1200,
		BreakerMaxFailures: 5,
		BreakerResetS:      10,
		MetricsAddr:        ":9090",
		HTTPAddr:           ":8080",
		LogLevel:           "info",
		Scan: Scan{
			Timezone:     "Asia/Ho_Chi_Minh",
			Workers:      8,
			CandleWindow: 100,
			DefaultLimit: 100,
			RSIPeriod:    14,
			ADXPeriod:    14,
			RSILow:       23,
			RSIHigh:      70,
		},
	}
}

// Load reads configuration from .env, CONFIG_FILE and environment variables.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("[config] .env not loaded: %v", err)
	}

	cfg := Defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.RequestTimeout = time.Duration(cfg.RequestTimeoutMs) * time.Millisecond
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	if err := yaml.NewDecoder(file).Decode(c); err != nil {
		return fmt.Errorf("decode yaml: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.BotToken = getEnv("BOT_TOKEN", c.BotToken)
	c.AlertChatID = getEnv("ALERT_CHAT_ID", c.AlertChatID)
	c.PollTimeoutS = getEnvInt("POLL_TIMEOUT_SEC", c.PollTimeoutS)

	c.BinanceBaseURL = strings.TrimSuffix(getEnv("BINANCE_BASE_URL", c.BinanceBaseURL), "/")
	c.RequestTimeoutMs = getEnvInt("REQUEST_TIMEOUT_MS", c.RequestTimeoutMs)
	c.WeightPerMinute = getEnvInt("RATE_LIMIT_WEIGHT_PER_MIN", c.WeightPerMinute)

	c.BreakerMaxFailures = getEnvInt("BREAKER_MAX_FAILURES", c.BreakerMaxFailures)
	c.BreakerResetS = getEnvInt("BREAKER_RESET_SEC", c.BreakerResetS)

	c.Scan.Timezone = getEnv("REPORT_TIMEZONE", c.Scan.Timezone)
	c.Scan.Workers = getEnvInt("REPORT_WORKERS", c.Scan.Workers)
	c.Scan.CandleWindow = getEnvInt("CANDLE_WINDOW", c.Scan.CandleWindow)
	c.Scan.DefaultLimit = getEnvInt("DEFAULT_COIN_LIMIT", c.Scan.DefaultLimit)
	c.Scan.RSILow = getEnvFloat("RSI_LOW", c.Scan.RSILow)
	c.Scan.RSIHigh = getEnvFloat("RSI_HIGH", c.Scan.RSIHigh)

	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = getEnv("REDIS_PASSWORD", c.RedisPassword)
	c.MetricsAddr = getEnv("METRICS_ADDR", c.MetricsAddr)
	c.HTTPAddr = getEnv("HTTP_ADDR", c.HTTPAddr)
	c.AlertWebhookURL = getEnv("ALERT_WEBHOOK_URL", c.AlertWebhookURL)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.BinanceBaseURL == "" {
		errs = append(errs, errors.New("binance base url is empty"))
	}
	if c.RequestTimeoutMs <= 0 {
		errs = append(errs, fmt.Errorf("request timeout must be positive, got %dms", c.RequestTimeoutMs))
	}
	if c.WeightPerMinute <= 0 {
		errs = append(errs, fmt.Errorf("rate limit must be positive, got %d", c.WeightPerMinute))
	}
	if c.Scan.Workers <= 0 {
		errs = append(errs, fmt.Errorf("workers must be positive, got %d", c.Scan.Workers))
	}
	if c.Scan.CandleWindow < 20 || c.Scan.CandleWindow > 1000 {
		errs = append(errs, fmt.Errorf("candle window must be within 20..1000, got %d", c.Scan.CandleWindow))
	}
	if c.Scan.DefaultLimit <= 0 {
		errs = append(errs, fmt.Errorf("default coin limit must be positive, got %d", c.Scan.DefaultLimit))
	}
	if c.Scan.RSILow >= c.Scan.RSIHigh {
		errs = append(errs, fmt.Errorf("rsi_low %.2f must be below rsi_high %.2f", c.Scan.RSILow, c.Scan.RSIHigh))
	}
	if _, err := time.LoadLocation(c.Scan.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone %q: %w", c.Scan.Timezone, err))
	}
	return errors.Join(errs...)
}

// Location returns the report timezone. Validate guarantees it loads.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Scan.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		log.Printf("[config] skipping invalid %s value: %q", key, v)
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		log.Printf("[config] skipping invalid %s value: %q", key, v)
		return fallback
	}
	return f
}
