package domain

import "strings"

// EventKind categorizes inbound chat transport events.
type EventKind string

const (
	// EventStart is an explicit start of the conversation (e.g. /start).
	EventStart EventKind = "start"
	// EventText is a free-text message.
	EventText EventKind = "text"
	// EventCommand is a slash command other than start.
	EventCommand EventKind = "command"
	// EventPayment is a completed payment reported by the chat transport.
	EventPayment EventKind = "payment"
	// EventPreCheckout asks the bot to confirm a checkout before charging.
	EventPreCheckout EventKind = "pre_checkout"
)

// Event is an inbound message or payment notification from a chat transport.
type Event struct {
	Kind      EventKind
	UserID    int64
	FirstName string
	Text      string

	// Command and Args are set for EventStart and EventCommand.
	Command string
	Args    []string

	// Payment is set for EventPayment.
	Payment *PaymentEvent

	// PreCheckoutID and Payload are set for EventPreCheckout.
	PreCheckoutID string
	Payload       string
}

// PaymentStatus is the provider-reported state of a payment.
type PaymentStatus string

const (
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentPending   PaymentStatus = "pending"
	PaymentCanceled  PaymentStatus = "canceled"
)

// PaymentEvent is an external payment notification.
// SessionID is the correlation id embedded in the invoice metadata.
type PaymentEvent struct {
	Status    PaymentStatus `json:"status"`
	PaymentID string        `json:"payment_id"`
	SessionID string        `json:"session_id"`
	Source    string        `json:"source"`
}

// Invoice is an outbound payment request delivered through the chat transport.
type Invoice struct {
	Title       string
	Description string
	Payload     string
	Currency    string
	AmountMinor int64
	Label       string
}

// ParseCommand splits "/cmd@bot a b" into the lower-cased command name and
// its arguments. It reports false for text that is not a command.
func ParseCommand(text string) (string, []string, bool) {
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	fields := strings.Fields(text)
	name := strings.TrimPrefix(fields[0], "/")
	name, _, _ = strings.Cut(name, "@")
	if name == "" {
		return "", nil, false
	}
	return strings.ToLower(name), fields[1:], true
}
