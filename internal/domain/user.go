// Package domain contains core domain types for the coaching bot.
package domain

import (
	"time"
)

// Subscription is the paid window that lifts usage quotas.
type Subscription struct {
	Active        bool      `json:"active"`
	ExpiresAt     time.Time `json:"expires_at"`
	LastPaymentID string    `json:"last_payment_id,omitempty"`
}

// ActiveAt reports whether the subscription covers now.
// The stored Active flag alone is not trusted once ExpiresAt has passed.
func (s Subscription) ActiveAt(now time.Time) bool {
	return s.Active && now.Before(s.ExpiresAt)
}

// Lapsed reports whether the subscription was active and has now expired.
func (s Subscription) Lapsed(now time.Time) bool {
	return s.Active && !now.Before(s.ExpiresAt)
}

// Remaining returns the time left on the subscription.
// Returns 0 if the subscription is not active.
func (s Subscription) Remaining(now time.Time) time.Duration {
	if !s.ActiveAt(now) {
		return 0
	}
	return s.ExpiresAt.Sub(now)
}
