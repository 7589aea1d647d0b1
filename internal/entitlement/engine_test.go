package entitlement

import (
	"testing"
	"time"

	"github.com/ashureev/coachbot/internal/domain"
	"github.com/ashureev/coachbot/internal/scenario"
)

var base = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func dailyScenario(limit int) *scenario.Scenario {
	return &scenario.Scenario{
		ID: "daily",
		Policy: scenario.Policy{
			Mode:       scenario.ModeDailyLimit,
			DailyLimit: limit,
		},
		Messages: scenario.Messages{Limit: "limit reached", SubscriptionEnded: "ended"},
	}
}

func freeScenario(limit int) *scenario.Scenario {
	return &scenario.Scenario{
		ID: "free",
		Policy: scenario.Policy{
			Mode:      scenario.ModeTotalFree,
			FreeLimit: limit,
		},
		Messages: scenario.Messages{Paywall: "pay", SubscriptionEnded: "ended"},
	}
}

func TestDailyLimitPerCalendarDay(t *testing.T) {
	e := NewEngine(10, time.UTC)
	sc := dailyScenario(3)
	sess := domain.NewUserSession(1, base)

	for i := 0; i < 3; i++ {
		if d := e.Check(sess, sc, base.Add(time.Duration(i)*time.Minute)); !d.Allowed {
			t.Fatalf("Expected turn %d allowed, got %+v", i+1, d)
		}
	}

	d := e.Check(sess, sc, base.Add(time.Hour))
	if d.Allowed || d.Message != "limit reached" || d.Reason != ReasonDailyLimit {
		t.Errorf("Expected limit denial, got %+v", d)
	}
	d = e.Check(sess, sc, base.Add(2*time.Hour))
	if d.Allowed || d.Message != "" {
		t.Errorf("Expected silent denial after notice, got %+v", d)
	}

	nextDay := base.Add(24 * time.Hour)
	if d := e.Check(sess, sc, nextDay); !d.Allowed {
		t.Errorf("Expected reset on a new day, got %+v", d)
	}
	if sess.DailyRequestCount != 1 || sess.LastRequestDate != "2026-03-03" {
		t.Errorf("Unexpected counters: %d %s", sess.DailyRequestCount, sess.LastRequestDate)
	}
}

func TestDailyLimitDefaultAndOverride(t *testing.T) {
	e := NewEngine(2, time.UTC)
	sc := dailyScenario(0)
	sess := domain.NewUserSession(1, base)

	e.Check(sess, sc, base)
	e.Check(sess, sc, base)
	if d := e.Check(sess, sc, base); d.Allowed {
		t.Errorf("Expected default limit of 2 to apply")
	}

	sess.LimitOverride = 5
	if d := e.Check(sess, sc, base); !d.Allowed {
		t.Errorf("Expected override to lift the cap, got %+v", d)
	}
}

func TestDailyBoundaryUsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*3600)
	e := NewEngine(10, loc)
	sc := dailyScenario(1)
	sess := domain.NewUserSession(1, base)

	// 21:30 UTC is already the next day at UTC+3.
	e.Check(sess, sc, time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC))
	if d := e.Check(sess, sc, time.Date(2026, 3, 2, 21, 30, 0, 0, time.UTC)); !d.Allowed {
		t.Errorf("Expected new local day to reset the counter, got %+v", d)
	}
}

func TestTotalFreePaywallFiresOnce(t *testing.T) {
	e := NewEngine(10, time.UTC)
	sc := freeScenario(5)
	sess := domain.NewUserSession(1, base)

	for i := 1; i <= 5; i++ {
		d := e.Check(sess, sc, base)
		if !d.Allowed {
			t.Fatalf("Expected attempt %d allowed, got %+v", i, d)
		}
		e.RecordSuccess(sess, sc, base)
	}

	sixth := e.Check(sess, sc, base)
	if sixth.Allowed || !sixth.TriggerPaywall || sixth.Message != "pay" {
		t.Errorf("Expected paywall on 6th attempt, got %+v", sixth)
	}

	seventh := e.Check(sess, sc, base)
	if seventh.Allowed || seventh.TriggerPaywall || seventh.Message != "" {
		t.Errorf("Expected silent denial on 7th attempt, got %+v", seventh)
	}
}

func TestFailedTurnsDoNotConsumeAllowance(t *testing.T) {
	e := NewEngine(10, time.UTC)
	sc := freeScenario(1)
	sess := domain.NewUserSession(1, base)

	for i := 0; i < 3; i++ {
		if d := e.Check(sess, sc, base); !d.Allowed {
			t.Fatalf("Expected allowance to remain after failed turns")
		}
	}
	if sess.FreeTurnsUsed != 0 {
		t.Errorf("Check must not consume the free allowance")
	}
}

func TestSubscriptionBypassesAndLapses(t *testing.T) {
	e := NewEngine(10, time.UTC)
	sc := freeScenario(1)
	sess := domain.NewUserSession(1, base)
	sess.FreeTurnsUsed = 1
	sess.LimitAlreadyNotified = true
	sess.Subscription = domain.Subscription{Active: true, ExpiresAt: base.Add(time.Hour)}

	for i := 0; i < 20; i++ {
		d := e.Check(sess, sc, base)
		if !d.Allowed || d.Reason != ReasonSubscribed {
			t.Fatalf("Expected subscriber turn allowed, got %+v", d)
		}
		e.RecordSuccess(sess, sc, base)
	}
	if sess.FreeTurnsUsed != 1 {
		t.Errorf("Subscriber turns must not count, got %d", sess.FreeTurnsUsed)
	}

	expired := base.Add(time.Hour)
	d := e.Check(sess, sc, expired)
	if len(d.Notices) != 1 || d.Notices[0] != "ended" {
		t.Errorf("Expected subscription ended notice, got %+v", d)
	}
	if !d.Allowed || sess.Subscription.Active || sess.FreeTurnsUsed != 0 {
		t.Errorf("Expected reset free accounting after lapse, got %+v / %+v", d, sess)
	}
	e.RecordSuccess(sess, sc, expired)

	d = e.Check(sess, sc, expired.Add(time.Minute))
	if len(d.Notices) != 0 {
		t.Errorf("Expected end notice exactly once, got %+v", d.Notices)
	}
	if !d.TriggerPaywall {
		t.Errorf("Expected free accounting to resume, got %+v", d)
	}
}

func TestBlockedIsDeniedSilently(t *testing.T) {
	e := NewEngine(10, time.UTC)
	sess := domain.NewUserSession(1, base)
	sess.Blocked = true
	sess.Subscription = domain.Subscription{Active: true, ExpiresAt: base.Add(time.Hour)}

	d := e.Check(sess, freeScenario(5), base)
	if d.Allowed || d.Message != "" || d.Reason != ReasonBlocked {
		t.Errorf("Expected silent block, got %+v", d)
	}
}

func TestRemaining(t *testing.T) {
	e := NewEngine(10, time.UTC)
	sc := dailyScenario(4)
	sess := domain.NewUserSession(1, base)
	e.Check(sess, sc, base)

	q := e.Remaining(sess, sc, base)
	if q.Used != 1 || q.Remaining != 3 || q.Subscribed {
		t.Errorf("Unexpected quota: %+v", q)
	}
	q = e.Remaining(sess, sc, base.Add(24*time.Hour))
	if q.Used != 0 || q.Remaining != 4 {
		t.Errorf("Expected fresh quota on a new day, got %+v", q)
	}
}
