package telegram

import (
	"strings"

	"github.com/ashureev/coachbot/internal/domain"
)

// SourceTelegram tags payment events reported by Telegram Payments.
const SourceTelegram = "telegram"

// ToEvent converts an update into a coordinator event. Updates the bot does
// not act on (stickers, edits, group noise) report false.
func ToEvent(u Update) (domain.Event, bool) {
	if q := u.PreCheckoutQuery; q != nil {
		return domain.Event{
			Kind:          domain.EventPreCheckout,
			UserID:        q.From.ID,
			FirstName:     q.From.FirstName,
			PreCheckoutID: q.ID,
			Payload:       q.InvoicePayload,
		}, true
	}

	m := u.Message
	if m == nil || m.Chat.ID == 0 {
		return domain.Event{}, false
	}
	ev := domain.Event{UserID: m.Chat.ID}
	if m.From != nil {
		ev.FirstName = m.From.FirstName
	}

	if p := m.SuccessfulPayment; p != nil {
		ev.Kind = domain.EventPayment
		ev.Payment = &domain.PaymentEvent{
			Status:    domain.PaymentSucceeded,
			PaymentID: p.TelegramPaymentChargeID,
			SessionID: p.InvoicePayload,
			Source:    SourceTelegram,
		}
		return ev, true
	}

	text := strings.TrimSpace(m.Text)
	if text == "" {
		return domain.Event{}, false
	}
	ev.Text = text

	if name, args, ok := domain.ParseCommand(text); ok {
		ev.Command = name
		ev.Args = args
		ev.Kind = domain.EventCommand
		if name == "start" {
			ev.Kind = domain.EventStart
		}
		return ev, true
	}

	ev.Kind = domain.EventText
	return ev, true
}
