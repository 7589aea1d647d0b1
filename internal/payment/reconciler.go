// Package payment reconciles payment events into subscription windows and
// talks to the invoice provider.
package payment

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/coachbot/internal/domain"
	"github.com/ashureev/coachbot/internal/scenario"
)

const defaultSubscriptionDays = 7

// Ignore reasons reported in Outcome.Reason.
const (
	ReasonNotSucceeded   = "status_not_succeeded"
	ReasonUnknownSession = "unknown_session"
	ReasonMissingSession = "missing_session_id"
)

// Outcome is the result of applying a payment event.
type Outcome struct {
	Applied   bool
	Reason    string
	ExpiresAt time.Time
}

// Ignored builds a non-applied outcome.
func Ignored(reason string) Outcome {
	return Outcome{Reason: reason}
}

// Reconciler extends subscription windows from successful payment events.
type Reconciler struct{}

// NewReconciler creates a Reconciler.
func NewReconciler() *Reconciler {
	return &Reconciler{}
}

// Apply activates the subscription of sess for the policy's period starting
// at now. Applying the same successful event twice re-extends the window
// from now. A nil sess means the correlation id matched no session.
func (r *Reconciler) Apply(ev domain.PaymentEvent, sess *domain.UserSession, policy scenario.Policy, now time.Time) Outcome {
	if ev.Status != domain.PaymentSucceeded {
		return Ignored(ReasonNotSucceeded)
	}
	if sess == nil {
		return Ignored(ReasonUnknownSession)
	}

	days := policy.SubscriptionDays
	if days <= 0 {
		days = defaultSubscriptionDays
	}
	expires := now.Add(time.Duration(days) * 24 * time.Hour)

	sess.Subscription = domain.Subscription{
		Active:        true,
		ExpiresAt:     expires,
		LastPaymentID: ev.PaymentID,
	}
	sess.LimitAlreadyNotified = false
	sess.SubscriptionEndNotified = false
	sess.FreeTurnsUsed = 0
	sess.DailyRequestCount = 0

	return Outcome{Applied: true, ExpiresAt: expires}
}

// NewCorrelationID builds the invoice metadata/payload for userID. The
// random suffix keeps provider-side idempotence keys unique per invoice.
func NewCorrelationID(userID int64) string {
	return fmt.Sprintf("%d:%s", userID, uuid.NewString())
}

// ParseSessionID extracts the user id from a correlation id. Bare numeric
// ids are accepted as well.
func ParseSessionID(correlationID string) (int64, bool) {
	head, _, _ := strings.Cut(strings.TrimSpace(correlationID), ":")
	id, err := strconv.ParseInt(head, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}
