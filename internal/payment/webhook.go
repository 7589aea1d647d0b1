package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ashureev/coachbot/internal/domain"
)

// ErrBadSignature is returned when a webhook body signature does not match.
var ErrBadSignature = errors.New("bad webhook signature")

const maxWebhookBody = 64 << 10

// SignatureHeader carries the hex HMAC-SHA256 of the webhook body.
const SignatureHeader = "X-Signature"

// Applier applies a normalized payment event.
type Applier interface {
	ApplyPayment(ctx context.Context, ev domain.PaymentEvent) Outcome
}

type webhookBody struct {
	Event  string `json:"event"`
	Object struct {
		ID       string            `json:"id"`
		Status   string            `json:"status"`
		Metadata map[string]string `json:"metadata"`
	} `json:"object"`
}

// WebhookHandler receives provider payment notifications.
type WebhookHandler struct {
	applier Applier
	logger  *slog.Logger
}

// NewWebhookHandler creates a handler forwarding events to applier.
func NewWebhookHandler(applier Applier, logger *slog.Logger) *WebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookHandler{applier: applier, logger: logger}
}

// ServeHTTP decodes the notification and applies it. Well-formed bodies
// always get 200, ignored events included, so the provider stops retrying.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body webhookBody
	if err := json.NewDecoder(io.LimitReader(r.Body, maxWebhookBody)).Decode(&body); err != nil {
		h.logger.Warn("Malformed payment webhook", "error", err)
		http.Error(w, `{"error":"malformed body"}`, http.StatusBadRequest)
		return
	}
	if body.Object.ID == "" {
		http.Error(w, `{"error":"missing payment id"}`, http.StatusBadRequest)
		return
	}

	ev := domain.PaymentEvent{
		Status:    normalizeStatus(body.Event, body.Object.Status),
		PaymentID: body.Object.ID,
		SessionID: body.Object.Metadata["session_id"],
		Source:    "webhook",
	}
	outcome := h.applier.ApplyPayment(r.Context(), ev)
	h.logger.Info("Payment webhook processed",
		"payment_id", ev.PaymentID,
		"status", ev.Status,
		"applied", outcome.Applied,
		"reason", outcome.Reason)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func normalizeStatus(event, status string) domain.PaymentStatus {
	if status == "" {
		status = strings.TrimPrefix(event, "payment.")
	}
	switch strings.ToLower(status) {
	case "succeeded":
		return domain.PaymentSucceeded
	case "canceled", "cancelled":
		return domain.PaymentCanceled
	default:
		return domain.PaymentPending
	}
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a hex HMAC-SHA256 signature of body.
func VerifySignature(secret, body []byte, signature string) error {
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(got) == 0 {
		return ErrBadSignature
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrBadSignature
	}
	return nil
}
