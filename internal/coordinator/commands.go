package coordinator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ashureev/coachbot/internal/domain"
	"github.com/ashureev/coachbot/internal/scenario"
)

const expiryLayout = "02.01.2006 15:04"

func (c *Coordinator) handleCommand(ctx context.Context, sess *domain.UserSession, ev domain.Event, now time.Time) {
	sc := c.scenarios.Lookup(sess.ScenarioID)

	if mode, ok := sc.Mode(ev.Command); ok {
		sess.ThinkingMode = ev.Command
		c.commit(ctx, sess, now)
		c.send(ctx, sess.UserID, mode.Intro)
		return
	}

	switch ev.Command {
	case "subscribe":
		c.offer(ctx, sess, sc, now)
	case "status":
		c.send(ctx, sess.UserID, c.statusText(sess, sc, now))
	default:
		c.send(ctx, sess.UserID, helpText(sc))
	}
}

func (c *Coordinator) statusText(sess *domain.UserSession, sc *scenario.Scenario, now time.Time) string {
	q := c.engine.Remaining(sess, sc, now)
	if q.Subscribed {
		return "Subscription active until " + q.ExpiresAt.In(c.loc).Format(expiryLayout) + "."
	}
	if q.Mode == scenario.ModeDailyLimit {
		return fmt.Sprintf("Messages left today: %d of %d.", q.Remaining, q.Limit)
	}
	return fmt.Sprintf("Free messages left: %d of %d.", q.Remaining, q.Limit)
}

func helpText(sc *scenario.Scenario) string {
	lines := []string{"Commands:", "/start - restart the interview"}
	names := make([]string, 0, len(sc.Modes))
	for name := range sc.Modes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		lines = append(lines, "/"+name+" - "+sc.Modes[name].Title)
	}
	lines = append(lines, "/status - remaining messages", "/subscribe - get a subscription")
	return strings.Join(lines, "\n")
}
