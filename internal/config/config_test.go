package config

import (
	"strings"
	"testing"
	"time"
)

func setBase(t *testing.T) {
	t.Helper()
	t.Setenv("LLM_API_KEY", "sk-test")
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("TELEGRAM_WEBHOOK_URL", "https://bot.example/webhook/telegram")
	t.Setenv("TELEGRAM_WEBHOOK_SECRET", "tg-secret")
}

func TestLoadDefaults(t *testing.T) {
	setBase(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Expected port 8080, got %q", cfg.Port)
	}
	if cfg.Telegram.Mode != TelegramWebhook {
		t.Errorf("Expected webhook mode, got %q", cfg.Telegram.Mode)
	}
	if cfg.Store.Driver != "sqlite" || cfg.Store.DBPath != "./data/coachbot.db" {
		t.Errorf("Unexpected store config %+v", cfg.Store)
	}
	if cfg.Store.SaveDebounce != 5*time.Second {
		t.Errorf("Expected 5s debounce, got %v", cfg.Store.SaveDebounce)
	}
	if cfg.Store.RetentionDays != 14 {
		t.Errorf("Expected 14 retention days, got %d", cfg.Store.RetentionDays)
	}
	if cfg.LLM.Model != "deepseek-chat" || cfg.LLM.Temperature != 0.7 {
		t.Errorf("Unexpected LLM config %+v", cfg.LLM)
	}
	if cfg.IsDevelopment() {
		t.Errorf("Expected production by default")
	}
	if cfg.Location() != time.UTC {
		t.Errorf("Expected UTC location, got %v", cfg.Location())
	}
}

func TestLoadOverrides(t *testing.T) {
	setBase(t)
	t.Setenv("APP_ENV", "development")
	t.Setenv("SAVE_DEBOUNCE", "250ms")
	t.Setenv("ADMIN_ID", "424242")
	t.Setenv("LLM_TEMPERATURE", "0.2")
	t.Setenv("SCENARIOS_WATCH", "yes")
	t.Setenv("MAILBOX_IDLE_TIMEOUT", "not-a-duration")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !cfg.IsDevelopment() {
		t.Errorf("Expected development mode")
	}
	if cfg.Store.SaveDebounce != 250*time.Millisecond {
		t.Errorf("Expected 250ms debounce, got %v", cfg.Store.SaveDebounce)
	}
	if cfg.AdminID != 424242 {
		t.Errorf("Expected admin 424242, got %d", cfg.AdminID)
	}
	if cfg.LLM.Temperature != 0.2 {
		t.Errorf("Expected temperature 0.2, got %v", cfg.LLM.Temperature)
	}
	if !cfg.Scenarios.Watch {
		t.Errorf("Expected catalog watch enabled")
	}
	if cfg.MailboxIdleTimeout != 2*time.Minute {
		t.Errorf("Expected fallback idle timeout, got %v", cfg.MailboxIdleTimeout)
	}
}

func TestDevChatOnly(t *testing.T) {
	t.Setenv("LLM_API_KEY", "sk-test")
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	t.Setenv("DEV_CHAT_ONLY", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !cfg.DevChat.Enabled {
		t.Errorf("Expected dev chat to be enabled")
	}
	if cfg.TelegramEnabled() {
		t.Errorf("Expected Telegram to be disabled")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"missing llm key", map[string]string{"LLM_API_KEY": ""}, "LLM_API_KEY"},
		{"unknown llm provider", map[string]string{"LLM_PROVIDER": "bard"}, "LLM_PROVIDER"},
		{"missing bot token", map[string]string{"TELEGRAM_BOT_TOKEN": ""}, "TELEGRAM_BOT_TOKEN"},
		{"webhook without url", map[string]string{"TELEGRAM_WEBHOOK_URL": ""}, "TELEGRAM_WEBHOOK_URL"},
		{"polling without url", map[string]string{"TELEGRAM_MODE": "polling", "TELEGRAM_WEBHOOK_URL": ""}, ""},
		{"bad telegram mode", map[string]string{"TELEGRAM_MODE": "push"}, "TELEGRAM_MODE"},
		{"postgres without dsn", map[string]string{"STORE_DRIVER": "postgres"}, "DATABASE_URL"},
		{"unknown driver", map[string]string{"STORE_DRIVER": "redis"}, "STORE_DRIVER"},
		{"yookassa without credentials", map[string]string{"PAYMENT_PROVIDER": "yookassa"}, "YOOKASSA_SHOP_ID"},
		{"webhook without secret", map[string]string{"TELEGRAM_WEBHOOK_SECRET": ""}, "TELEGRAM_WEBHOOK_SECRET"},
		{"webhook without secret in development", map[string]string{"TELEGRAM_WEBHOOK_SECRET": "", "APP_ENV": "development"}, ""},
		{"polling without secret", map[string]string{"TELEGRAM_MODE": "polling", "TELEGRAM_WEBHOOK_SECRET": ""}, ""},
		{"yookassa without webhook secret", map[string]string{
			"PAYMENT_PROVIDER": "yookassa", "YOOKASSA_SHOP_ID": "shop", "YOOKASSA_SECRET_KEY": "key",
		}, "PAYMENT_WEBHOOK_SECRET"},
		{"yookassa without webhook secret in development", map[string]string{
			"PAYMENT_PROVIDER": "yookassa", "YOOKASSA_SHOP_ID": "shop", "YOOKASSA_SECRET_KEY": "key", "APP_ENV": "development",
		}, ""},
		{"yookassa fully configured", map[string]string{
			"PAYMENT_PROVIDER": "yookassa", "YOOKASSA_SHOP_ID": "shop", "YOOKASSA_SECRET_KEY": "key", "PAYMENT_WEBHOOK_SECRET": "pay-secret",
		}, ""},
		{"bad timezone", map[string]string{"TIMEZONE": "Mars/Olympus"}, "TIMEZONE"},
		{"zero retention", map[string]string{"RETENTION_DAYS": "0"}, "RETENTION_DAYS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setBase(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Expected no error, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error mentioning %s, got %v", tt.wantErr, err)
			}
			if err != nil && !strings.HasPrefix(err.Error(), "invalid configuration: ") {
				t.Errorf("Expected wrapped error, got %v", err)
			}
		})
	}
}
