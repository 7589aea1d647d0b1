package wschat

import (
	"context"

	"github.com/ashureev/coachbot/internal/domain"
)

// Sender is the outbound chat contract shared with the Telegram client.
type Sender interface {
	SendText(ctx context.Context, userID int64, text string) error
	SendPhoto(ctx context.Context, userID int64, photo, caption string) error
	SendInvoice(ctx context.Context, userID int64, inv domain.Invoice) error
	AnswerPreCheckout(ctx context.Context, queryID string, ok bool, errorMessage string) error
}

// SendText delivers a text frame.
func (m *ConnManager) SendText(ctx context.Context, userID int64, text string) error {
	return m.Deliver(ctx, userID, outboundFrame{Type: "text", Content: text})
}

// SendPhoto delivers a photo frame carrying the image URL.
func (m *ConnManager) SendPhoto(ctx context.Context, userID int64, photo, caption string) error {
	return m.Deliver(ctx, userID, outboundFrame{Type: "photo", URL: photo, Content: caption})
}

// SendInvoice delivers an invoice frame. The dev page renders it as a card;
// no charge can be made over this transport.
func (m *ConnManager) SendInvoice(ctx context.Context, userID int64, inv domain.Invoice) error {
	return m.Deliver(ctx, userID, outboundFrame{
		Type:        "invoice",
		Title:       inv.Title,
		Description: inv.Description,
		Amount:      inv.AmountMinor,
		Currency:    inv.Currency,
		Payload:     inv.Payload,
	})
}

// AnswerPreCheckout is a no-op; pre-checkout queries only arrive from Telegram.
func (m *ConnManager) AnswerPreCheckout(context.Context, string, bool, string) error {
	return nil
}

// Router delivers to a connected WebSocket user first and to the fallback
// transport otherwise.
type Router struct {
	conns    *ConnManager
	fallback Sender
}

var (
	_ Sender = (*ConnManager)(nil)
	_ Sender = (*Router)(nil)
)

// NewRouter creates a router. fallback may be nil when the bot runs
// without Telegram.
func NewRouter(conns *ConnManager, fallback Sender) *Router {
	return &Router{conns: conns, fallback: fallback}
}

func (r *Router) pick(userID int64) Sender {
	if r.conns.Connected(userID) || r.fallback == nil {
		return r.conns
	}
	return r.fallback
}

// SendText implements Sender.
func (r *Router) SendText(ctx context.Context, userID int64, text string) error {
	return r.pick(userID).SendText(ctx, userID, text)
}

// SendPhoto implements Sender.
func (r *Router) SendPhoto(ctx context.Context, userID int64, photo, caption string) error {
	return r.pick(userID).SendPhoto(ctx, userID, photo, caption)
}

// SendInvoice implements Sender.
func (r *Router) SendInvoice(ctx context.Context, userID int64, inv domain.Invoice) error {
	return r.pick(userID).SendInvoice(ctx, userID, inv)
}

// AnswerPreCheckout implements Sender.
func (r *Router) AnswerPreCheckout(ctx context.Context, queryID string, ok bool, errorMessage string) error {
	if r.fallback == nil {
		return nil
	}
	return r.fallback.AnswerPreCheckout(ctx, queryID, ok, errorMessage)
}
