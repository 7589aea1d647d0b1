// Package entitlement decides whether a user may consume an AI turn.
package entitlement

import (
	"time"

	"github.com/ashureev/coachbot/internal/domain"
	"github.com/ashureev/coachbot/internal/scenario"
)

const defaultDailyLimit = 10

// Reason explains a Decision.
type Reason string

const (
	ReasonAllowed      Reason = "allowed"
	ReasonSubscribed   Reason = "subscribed"
	ReasonBlocked      Reason = "blocked"
	ReasonDailyLimit   Reason = "daily_limit"
	ReasonPaywall      Reason = "paywall"
	ReasonAlreadyShown Reason = "already_notified"
)

// Decision is the result of Check. Notices are one-time messages that must
// be delivered before the reply or denial (e.g. subscription ended).
type Decision struct {
	Allowed        bool
	Message        string
	TriggerPaywall bool
	Notices        []string
	Reason         Reason
}

// Quota describes the remaining allowance of a session.
type Quota struct {
	Mode       scenario.PolicyMode
	Used       int
	Limit      int
	Remaining  int
	Subscribed bool
	ExpiresAt  time.Time
}

// Engine applies scenario quota policies to sessions.
type Engine struct {
	defaultDailyLimit int
	loc               *time.Location
}

// NewEngine creates an engine. Calendar days are evaluated in loc.
func NewEngine(defaultDaily int, loc *time.Location) *Engine {
	if defaultDaily <= 0 {
		defaultDaily = defaultDailyLimit
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{defaultDailyLimit: defaultDaily, loc: loc}
}

// Check evaluates one inbound dialogue turn and mutates the session's
// counters and flags accordingly.
func (e *Engine) Check(sess *domain.UserSession, sc *scenario.Scenario, now time.Time) Decision {
	if sess.Blocked {
		return Decision{Message: sc.Messages.Blocked, Reason: ReasonBlocked}
	}

	var notices []string
	if sess.Subscription.Lapsed(now) {
		sess.Subscription.Active = false
		if !sess.SubscriptionEndNotified {
			sess.SubscriptionEndNotified = true
			if sc.Messages.SubscriptionEnded != "" {
				notices = append(notices, sc.Messages.SubscriptionEnded)
			}
		}
		sess.FreeTurnsUsed = 0
		sess.DailyRequestCount = 0
		sess.LimitAlreadyNotified = false
	}

	if sess.Subscription.ActiveAt(now) {
		return Decision{Allowed: true, Notices: notices, Reason: ReasonSubscribed}
	}

	var d Decision
	switch sc.Policy.Mode {
	case scenario.ModeDailyLimit:
		d = e.checkDaily(sess, sc, now)
	default:
		d = e.checkTotalFree(sess, sc)
	}
	d.Notices = notices
	return d
}

func (e *Engine) checkDaily(sess *domain.UserSession, sc *scenario.Scenario, now time.Time) Decision {
	today := e.day(now)
	if sess.LastRequestDate != today {
		sess.LastRequestDate = today
		sess.DailyRequestCount = 0
		sess.LimitAlreadyNotified = false
	}

	if sess.DailyRequestCount >= e.limit(sess, sc) {
		if sess.LimitAlreadyNotified {
			return Decision{Reason: ReasonAlreadyShown}
		}
		sess.LimitAlreadyNotified = true
		return Decision{Message: sc.Messages.Limit, Reason: ReasonDailyLimit}
	}

	sess.DailyRequestCount++
	return Decision{Allowed: true, Reason: ReasonAllowed}
}

func (e *Engine) checkTotalFree(sess *domain.UserSession, sc *scenario.Scenario) Decision {
	if sess.FreeTurnsUsed >= e.limit(sess, sc) {
		if sess.LimitAlreadyNotified {
			return Decision{Reason: ReasonAlreadyShown}
		}
		sess.LimitAlreadyNotified = true
		return Decision{Message: sc.Messages.Paywall, TriggerPaywall: true, Reason: ReasonPaywall}
	}
	return Decision{Allowed: true, Reason: ReasonAllowed}
}

// RecordSuccess accounts a completed AI turn. Only the total-free allowance
// is consumed here; daily turns are counted when allowed.
func (e *Engine) RecordSuccess(sess *domain.UserSession, sc *scenario.Scenario, now time.Time) {
	if sc.Policy.Mode != scenario.ModeTotalFree || sess.Subscription.ActiveAt(now) {
		return
	}
	sess.FreeTurnsUsed++
}

// Remaining reports the allowance left for sess at now without mutating it.
func (e *Engine) Remaining(sess *domain.UserSession, sc *scenario.Scenario, now time.Time) Quota {
	q := Quota{
		Mode:       sc.Policy.Mode,
		Limit:      e.limit(sess, sc),
		Subscribed: sess.Subscription.ActiveAt(now),
		ExpiresAt:  sess.Subscription.ExpiresAt,
	}
	switch sc.Policy.Mode {
	case scenario.ModeDailyLimit:
		if sess.LastRequestDate == e.day(now) {
			q.Used = sess.DailyRequestCount
		}
	default:
		q.Used = sess.FreeTurnsUsed
	}
	if q.Remaining = q.Limit - q.Used; q.Remaining < 0 {
		q.Remaining = 0
	}
	return q
}

// limit returns the cap of the active policy mode, honoring the per-user
// admin override.
func (e *Engine) limit(sess *domain.UserSession, sc *scenario.Scenario) int {
	if sess.LimitOverride > 0 {
		return sess.LimitOverride
	}
	if sc.Policy.Mode == scenario.ModeDailyLimit {
		if sc.Policy.DailyLimit > 0 {
			return sc.Policy.DailyLimit
		}
		return e.defaultDailyLimit
	}
	return sc.Policy.FreeLimit
}

func (e *Engine) day(now time.Time) string {
	return now.In(e.loc).Format("2006-01-02")
}
