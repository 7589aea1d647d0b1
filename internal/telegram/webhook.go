package telegram

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ashureev/coachbot/internal/domain"
)

// SecretHeader carries the secret token registered with setWebhook.
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

const maxUpdateBytes = 1 << 20

// EventHandler consumes converted updates.
type EventHandler interface {
	HandleEvent(ctx context.Context, ev domain.Event) error
}

// WebhookHandler receives updates pushed by Telegram.
type WebhookHandler struct {
	events EventHandler
	logger *slog.Logger
}

// NewWebhookHandler creates a webhook handler. Authentication of the
// secret header is left to middleware.
func NewWebhookHandler(events EventHandler, logger *slog.Logger) *WebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookHandler{events: events, logger: logger}
}

// ServeHTTP decodes an update and hands it to the coordinator. Anything
// decodable is acknowledged with 200 so Telegram does not redeliver it.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var u Update
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxUpdateBytes)).Decode(&u); err != nil {
		h.logger.Warn("Malformed Telegram update", "error", err)
		http.Error(w, "malformed update", http.StatusBadRequest)
		return
	}

	if ev, ok := ToEvent(u); ok {
		if err := h.events.HandleEvent(r.Context(), ev); err != nil {
			h.logger.Warn("Update not handled", "update_id", u.UpdateID, "user_id", ev.UserID, "error", err)
		}
	}
	w.WriteHeader(http.StatusOK)
}
