package telegram

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

const (
	pollTimeout    = 30 * time.Second
	pollBackoffMin = time.Second
	pollBackoffMax = 30 * time.Second
)

// Poller fetches updates with getUpdates for deployments without a public
// webhook URL.
type Poller struct {
	client  *Client
	events  EventHandler
	timeout time.Duration
	logger  *slog.Logger
}

// NewPoller creates a long-poller.
func NewPoller(client *Client, events EventHandler, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{client: client, events: events, timeout: pollTimeout, logger: logger}
}

// Run removes any registered webhook and polls until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	if err := p.client.DeleteWebhook(ctx); err != nil {
		p.logger.Warn("Failed to delete webhook before polling", "error", err)
	}
	p.logger.Info("Telegram polling started")

	var offset int64
	backoff := pollBackoffMin
	for {
		updates, err := p.client.GetUpdates(ctx, offset, p.timeout)
		if err != nil {
			if ctx.Err() != nil {
				p.logger.Info("Telegram polling stopped")
				return nil
			}
			wait := backoff
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
				wait = time.Duration(apiErr.RetryAfter) * time.Second
			}
			p.logger.Warn("getUpdates failed", "error", err, "retry_in", wait)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(wait):
			}
			backoff = min(backoff*2, pollBackoffMax)
			continue
		}
		backoff = pollBackoffMin

		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			ev, ok := ToEvent(u)
			if !ok {
				continue
			}
			if err := p.events.HandleEvent(ctx, ev); err != nil {
				p.logger.Warn("Update not handled", "update_id", u.UpdateID, "user_id", ev.UserID, "error", err)
			}
		}
	}
}
