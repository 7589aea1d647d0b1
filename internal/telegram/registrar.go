package telegram

import (
	"context"
	"log/slog"
	"time"
)

// Registrar re-asserts the webhook registration on a fixed period so a
// registration lost on the Telegram side heals without a restart.
type Registrar struct {
	client   *Client
	url      string
	secret   string
	interval time.Duration
	logger   *slog.Logger
}

// NewRegistrar creates a registrar for url.
func NewRegistrar(client *Client, url, secret string, interval time.Duration, logger *slog.Logger) *Registrar {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registrar{client: client, url: url, secret: secret, interval: interval, logger: logger}
}

// Run registers the webhook immediately and then on every tick until ctx
// is done. Failures are logged and retried on the next tick.
func (r *Registrar) Run(ctx context.Context) error {
	r.register(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Webhook registrar stopped")
			return nil
		case <-ticker.C:
			r.register(ctx)
		}
	}
}

func (r *Registrar) register(ctx context.Context) {
	callCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	if err := r.client.SetWebhook(callCtx, r.url, r.secret); err != nil {
		r.logger.Error("Failed to register webhook", "url", r.url, "error", err)
		return
	}
	r.logger.Info("Webhook registered", "url", r.url)
}
