package coordinator

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ashureev/coachbot/internal/domain"
)

var adminCommands = map[string]bool{
	"stats":         true,
	"block":         true,
	"unblock":       true,
	"setlimit":      true,
	"notifications": true,
	"echo":          true,
}

func isAdminCommand(name string) bool {
	return adminCommands[name]
}

// handleAdmin runs an admin command. Callers other than the configured
// admins are ignored without a reply.
func (c *Coordinator) handleAdmin(ctx context.Context, ev domain.Event) {
	if !c.admins.IsAdmin(ev.UserID) {
		c.logger.Info("Ignoring admin command from non-admin", "user_id", ev.UserID, "command", ev.Command)
		return
	}
	adminID := ev.UserID

	switch ev.Command {
	case "stats":
		st := c.store.Stats(c.now())
		c.send(ctx, adminID, fmt.Sprintf(
			"Users: %d\nActive subscriptions: %d\nBlocked: %d\nActive in the last 24h: %d\nBusy mailboxes: %d",
			st.Total, st.ActiveSubscriptions, st.Blocked, st.ActiveLastDay, c.dispatcher.Active()))
	case "block", "unblock":
		target, ok := parseTarget(ev.Args)
		if !ok {
			c.send(ctx, adminID, "Usage: /"+ev.Command+" <user_id>")
			return
		}
		blocked := ev.Command == "block"
		c.mutateUser(ctx, adminID, target, func(sess *domain.UserSession) string {
			sess.Blocked = blocked
			if blocked {
				return fmt.Sprintf("User %d blocked.", target)
			}
			return fmt.Sprintf("User %d unblocked.", target)
		})
	case "setlimit":
		target, ok := parseTarget(ev.Args)
		if !ok || len(ev.Args) < 2 {
			c.send(ctx, adminID, "Usage: /setlimit <user_id> <limit>")
			return
		}
		limit, err := strconv.Atoi(ev.Args[1])
		if err != nil || limit < 0 {
			c.send(ctx, adminID, "Limit must be a non-negative number.")
			return
		}
		c.mutateUser(ctx, adminID, target, func(sess *domain.UserSession) string {
			sess.LimitOverride = limit
			sess.LimitAlreadyNotified = false
			if limit == 0 {
				return fmt.Sprintf("Limit override for user %d cleared.", target)
			}
			return fmt.Sprintf("Limit for user %d set to %d.", target, limit)
		})
	case "notifications":
		on := !c.notifications.Load()
		c.notifications.Store(on)
		c.send(ctx, adminID, "Notifications: "+onOff(on))
	case "echo":
		on := !c.echo.Load()
		c.echo.Store(on)
		c.send(ctx, adminID, "Echo: "+onOff(on))
	}
}

// mutateUser applies fn to the session of target inside its own mailbox,
// force-saves it and reports the result to the admin.
func (c *Coordinator) mutateUser(ctx context.Context, adminID, target int64, fn func(*domain.UserSession) string) {
	if !c.store.Exists(target) {
		c.send(ctx, adminID, fmt.Sprintf("User %d not found.", target))
		return
	}
	err := c.dispatcher.Submit(target, func(jobCtx context.Context) {
		sess, ok := c.store.Get(target)
		if !ok {
			c.send(jobCtx, adminID, fmt.Sprintf("User %d not found.", target))
			return
		}
		result := fn(sess)
		c.commitForce(jobCtx, sess, c.now())
		c.logger.Info("Admin updated user", "admin_id", adminID, "user_id", target)
		c.send(jobCtx, adminID, result)
	})
	if err != nil {
		c.logger.Warn("Failed to queue admin command", "user_id", target, "error", err)
		c.send(ctx, adminID, "Could not apply the command, try again.")
	}
}

func (c *Coordinator) notifyAdmins(ctx context.Context, text string) {
	if !c.notifications.Load() {
		return
	}
	c.forwardToAdmins(ctx, text)
}

func (c *Coordinator) forwardToAdmins(ctx context.Context, text string) {
	for _, id := range c.admins.IDs() {
		c.send(ctx, id, text)
	}
}

// Notifications reports whether admin notices are enabled.
func (c *Coordinator) Notifications() bool { return c.notifications.Load() }

// Echo reports whether user messages are forwarded to admins.
func (c *Coordinator) Echo() bool { return c.echo.Load() }

func parseTarget(args []string) (int64, bool) {
	if len(args) == 0 {
		return 0, false
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
