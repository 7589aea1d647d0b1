// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Telegram update delivery modes.
const (
	TelegramWebhook = "webhook"
	TelegramPolling = "polling"
)

// Config holds all application configuration.
type Config struct {
	Port           string
	GRPCHealthPort string
	AppEnv         string
	LogLevel       string

	Telegram  TelegramConfig
	LLM       LLMConfig
	Store     StoreConfig
	Payment   PaymentConfig
	Scenarios ScenarioConfig
	DevChat   DevChatConfig

	ShutdownTimeout    time.Duration
	HistoryCap         int
	HistoryTurns       int
	DefaultDailyLimit  int
	Timezone           string
	AdminID            int64
	AdminAPIToken      string
	MailboxQueueSize   int
	MailboxIdleTimeout time.Duration
}

// TelegramConfig configures the Bot API transport.
type TelegramConfig struct {
	Token          string
	APIURL         string
	Mode           string
	WebhookURL     string
	WebhookSecret  string
	WebhookRefresh time.Duration
	RateLimit      int
}

// LLMConfig configures the completion provider.
type LLMConfig struct {
	Provider    string
	APIKey      string
	BaseURL     string
	Model       string
	Timeout     time.Duration
	Temperature float64
	MaxTokens   int
}

// StoreConfig configures durable session storage.
type StoreConfig struct {
	Driver        string
	DBPath        string
	DatabaseURL   string
	SaveDebounce  time.Duration
	FlushInterval time.Duration
	RetentionDays int
	PruneInterval time.Duration
}

// PaymentConfig configures how subscriptions are sold.
type PaymentConfig struct {
	Provider      string
	ProviderToken string
	ShopID        string
	SecretKey     string
	APIURL        string
	ReturnURL     string
	WebhookSecret string
}

// ScenarioConfig points at an external scenario catalog.
type ScenarioConfig struct {
	Path  string
	Watch bool
}

// DevChatConfig controls the development WebSocket chat.
type DevChatConfig struct {
	Enabled bool
	Only    bool
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		GRPCHealthPort: getEnv("GRPC_HEALTH_PORT", ""),
		AppEnv:         getEnv("APP_ENV", "production"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		Telegram: TelegramConfig{
			Token:          getEnv("TELEGRAM_BOT_TOKEN", ""),
			APIURL:         getEnv("TELEGRAM_API_URL", "https://api.telegram.org"),
			Mode:           strings.ToLower(getEnv("TELEGRAM_MODE", TelegramWebhook)),
			WebhookURL:     getEnv("TELEGRAM_WEBHOOK_URL", ""),
			WebhookSecret:  getEnv("TELEGRAM_WEBHOOK_SECRET", ""),
			WebhookRefresh: getEnvDuration("TELEGRAM_WEBHOOK_REFRESH", 30*time.Minute),
			RateLimit:      getEnvInt("TELEGRAM_RATE_LIMIT", 25),
		},
		LLM: LLMConfig{
			Provider:    strings.ToLower(getEnv("LLM_PROVIDER", "openai")),
			APIKey:      getEnv("LLM_API_KEY", ""),
			BaseURL:     getEnv("LLM_BASE_URL", "https://api.deepseek.com/v1"),
			Model:       getEnv("LLM_MODEL", "deepseek-chat"),
			Timeout:     getEnvDuration("LLM_TIMEOUT", 30*time.Second),
			Temperature: getEnvFloat("LLM_TEMPERATURE", 0.7),
			MaxTokens:   getEnvInt("LLM_MAX_TOKENS", 2000),
		},
		Store: StoreConfig{
			Driver:        strings.ToLower(getEnv("STORE_DRIVER", "sqlite")),
			DBPath:        getEnv("DB_PATH", "./data/coachbot.db"),
			DatabaseURL:   getEnv("DATABASE_URL", ""),
			SaveDebounce:  getEnvDuration("SAVE_DEBOUNCE", 5*time.Second),
			FlushInterval: getEnvDuration("FLUSH_INTERVAL", time.Minute),
			RetentionDays: getEnvInt("RETENTION_DAYS", 14),
			PruneInterval: getEnvDuration("PRUNE_INTERVAL", 6*time.Hour),
		},
		Payment: PaymentConfig{
			Provider:      strings.ToLower(getEnv("PAYMENT_PROVIDER", "telegram")),
			ProviderToken: getEnv("PAYMENT_PROVIDER_TOKEN", ""),
			ShopID:        getEnv("YOOKASSA_SHOP_ID", ""),
			SecretKey:     getEnv("YOOKASSA_SECRET_KEY", ""),
			APIURL:        getEnv("YOOKASSA_API_URL", "https://api.yookassa.ru/v3"),
			ReturnURL:     getEnv("PAYMENT_RETURN_URL", ""),
			WebhookSecret: getEnv("PAYMENT_WEBHOOK_SECRET", ""),
		},
		Scenarios: ScenarioConfig{
			Path:  getEnv("SCENARIOS_PATH", ""),
			Watch: getEnvBool("SCENARIOS_WATCH", false),
		},
		DevChat: DevChatConfig{
			Enabled: getEnvBool("DEV_CHAT_ENABLED", false),
			Only:    getEnvBool("DEV_CHAT_ONLY", false),
		},
		ShutdownTimeout:    getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		HistoryCap:         getEnvInt("HISTORY_CAP", 20),
		HistoryTurns:       getEnvInt("HISTORY_TURNS", 10),
		DefaultDailyLimit:  getEnvInt("DEFAULT_DAILY_LIMIT", 10),
		Timezone:           getEnv("TIMEZONE", "UTC"),
		AdminID:            getEnvInt64("ADMIN_ID", 0),
		AdminAPIToken:      getEnv("ADMIN_API_TOKEN", ""),
		MailboxQueueSize:   getEnvInt("MAILBOX_QUEUE_SIZE", 32),
		MailboxIdleTimeout: getEnvDuration("MAILBOX_IDLE_TIMEOUT", 2*time.Minute),
	}

	// The dev page is the only transport without Telegram.
	if cfg.DevChat.Only {
		cfg.DevChat.Enabled = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT cannot be empty")
	}
	if c.LLM.APIKey == "" {
		return errors.New("LLM_API_KEY is required")
	}
	switch c.LLM.Provider {
	case "openai", "gemini":
	default:
		return fmt.Errorf("LLM_PROVIDER must be openai or gemini, got %q", c.LLM.Provider)
	}

	if !c.DevChat.Only {
		if c.Telegram.Token == "" {
			return errors.New("TELEGRAM_BOT_TOKEN is required unless DEV_CHAT_ONLY is set")
		}
		switch c.Telegram.Mode {
		case TelegramWebhook:
			if c.Telegram.WebhookURL == "" {
				return errors.New("TELEGRAM_WEBHOOK_URL is required in webhook mode")
			}
			if c.Telegram.WebhookSecret == "" && !c.IsDevelopment() {
				return errors.New("TELEGRAM_WEBHOOK_SECRET is required in webhook mode outside development")
			}
		case TelegramPolling:
		default:
			return fmt.Errorf("TELEGRAM_MODE must be webhook or polling, got %q", c.Telegram.Mode)
		}
	}

	switch c.Store.Driver {
	case "sqlite":
		if c.Store.DBPath == "" {
			return errors.New("DB_PATH cannot be empty")
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres driver")
		}
	case "memory":
	default:
		return fmt.Errorf("STORE_DRIVER must be sqlite, postgres or memory, got %q", c.Store.Driver)
	}

	switch c.Payment.Provider {
	case "telegram", "none":
	case "yookassa":
		if c.Payment.ShopID == "" || c.Payment.SecretKey == "" {
			return errors.New("YOOKASSA_SHOP_ID and YOOKASSA_SECRET_KEY are required for the yookassa provider")
		}
		if c.Payment.WebhookSecret == "" && !c.IsDevelopment() {
			return errors.New("PAYMENT_WEBHOOK_SECRET is required for the yookassa provider outside development")
		}
	default:
		return fmt.Errorf("PAYMENT_PROVIDER must be telegram, yookassa or none, got %q", c.Payment.Provider)
	}

	if c.Store.RetentionDays <= 0 {
		return errors.New("RETENTION_DAYS must be > 0")
	}
	if c.MailboxQueueSize <= 0 {
		return errors.New("MAILBOX_QUEUE_SIZE must be > 0")
	}
	if c.HistoryCap <= 0 || c.HistoryTurns <= 0 {
		return errors.New("HISTORY_CAP and HISTORY_TURNS must be > 0")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("TIMEZONE: %w", err)
	}
	return nil
}

// Location returns the time zone that bounds calendar days.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.AppEnv, "development")
}

// TelegramEnabled reports whether the Telegram transport runs.
func (c *Config) TelegramEnabled() bool {
	return !c.DevChat.Only && c.Telegram.Token != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvInt64(key string, fallback int64) int64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
