package main

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/coachbot/internal/config"
	"github.com/ashureev/coachbot/internal/coordinator"
	"github.com/ashureev/coachbot/internal/middleware"
	"github.com/ashureev/coachbot/internal/payment"
	"github.com/ashureev/coachbot/internal/telegram"
)

// mountWebhooks registers the provider callbacks enabled by cfg. The
// Telegram webhook is mounted when events is non-nil, the payment webhook
// only for the yookassa provider. Config validation guarantees both
// secrets outside development; an unset secret there leaves the route open.
func mountWebhooks(r chi.Router, cfg *config.Config, events telegram.EventHandler, payments payment.Applier, logger *slog.Logger) {
	if events != nil {
		r.With(middleware.RequireSecretHeader(telegram.SecretHeader, cfg.Telegram.WebhookSecret)).
			Post("/webhook/telegram", telegram.NewWebhookHandler(events, logger).ServeHTTP)
	}

	if cfg.Payment.Provider != coordinator.PaymentYooKassa {
		return
	}
	var verify func(body []byte, signature string) error
	if cfg.Payment.WebhookSecret != "" {
		secret := []byte(cfg.Payment.WebhookSecret)
		verify = func(body []byte, signature string) error {
			return payment.VerifySignature(secret, body, signature)
		}
	} else {
		logger.Warn("Payment webhook is unauthenticated", "env", cfg.AppEnv)
	}
	r.With(middleware.RequireSignature(payment.SignatureHeader, verify)).
		Post("/webhook/payment", payment.NewWebhookHandler(payments, logger).ServeHTTP)
}
