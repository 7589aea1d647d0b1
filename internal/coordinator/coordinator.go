// Package coordinator routes inbound chat and payment events through the
// per-user mailboxes and drives onboarding, quota checks and replies.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ashureev/coachbot/internal/agent"
	"github.com/ashureev/coachbot/internal/domain"
	"github.com/ashureev/coachbot/internal/entitlement"
	"github.com/ashureev/coachbot/internal/identity"
	"github.com/ashureev/coachbot/internal/interview"
	"github.com/ashureev/coachbot/internal/payment"
	"github.com/ashureev/coachbot/internal/persistence"
	"github.com/ashureev/coachbot/internal/scenario"
	"github.com/ashureev/coachbot/internal/session"
)

// Payment providers selectable through Config.PaymentProvider.
const (
	PaymentTelegram = "telegram"
	PaymentYooKassa = "yookassa"
	PaymentNone     = "none"
)

// Sender delivers outbound messages through a chat transport.
type Sender interface {
	SendText(ctx context.Context, userID int64, text string) error
	SendPhoto(ctx context.Context, userID int64, photo, caption string) error
	SendInvoice(ctx context.Context, userID int64, inv domain.Invoice) error
	AnswerPreCheckout(ctx context.Context, queryID string, ok bool, errorMessage string) error
}

// Responder produces AI replies for dialogue turns.
type Responder interface {
	Respond(ctx context.Context, sess *domain.UserSession, sc *scenario.Scenario, userMessage string) agent.Reply
}

// InvoiceCreator creates hosted payment pages.
type InvoiceCreator interface {
	CreateInvoice(ctx context.Context, req payment.InvoiceRequest) (*payment.Invoice, error)
}

// Deps are the collaborators of a Coordinator. Invoices is only required
// for the yookassa payment provider.
type Deps struct {
	Store        *session.Store
	Dispatcher   *session.Dispatcher
	Scenarios    *scenario.Registry
	Interview    *interview.Flow
	Entitlements *entitlement.Engine
	Conversation Responder
	Persistence  *persistence.Adapter
	Reconciler   *payment.Reconciler
	Sender       Sender
	Invoices     InvoiceCreator
	Admins       *identity.Admins
}

// Config holds coordinator settings.
type Config struct {
	PaymentProvider string
	ShutdownTimeout time.Duration
	Location        *time.Location
	Now             func() time.Time
	Logger          *slog.Logger
}

// Coordinator is the control flow between transports and the session core.
type Coordinator struct {
	store      *session.Store
	dispatcher *session.Dispatcher
	scenarios  *scenario.Registry
	flow       *interview.Flow
	engine     *entitlement.Engine
	conv       Responder
	persist    *persistence.Adapter
	reconciler *payment.Reconciler
	sender     Sender
	invoices   InvoiceCreator
	admins     *identity.Admins

	paymentProvider string
	shutdownTimeout time.Duration
	loc             *time.Location
	now             func() time.Time
	logger          *slog.Logger

	notifications atomic.Bool
	echo          atomic.Bool
}

// New creates a coordinator.
func New(deps Deps, cfg Config) *Coordinator {
	if cfg.PaymentProvider == "" {
		cfg.PaymentProvider = PaymentTelegram
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if deps.Interview == nil {
		deps.Interview = interview.NewFlow()
	}
	if deps.Reconciler == nil {
		deps.Reconciler = payment.NewReconciler()
	}

	c := &Coordinator{
		store:           deps.Store,
		dispatcher:      deps.Dispatcher,
		scenarios:       deps.Scenarios,
		flow:            deps.Interview,
		engine:          deps.Entitlements,
		conv:            deps.Conversation,
		persist:         deps.Persistence,
		reconciler:      deps.Reconciler,
		sender:          deps.Sender,
		invoices:        deps.Invoices,
		admins:          deps.Admins,
		paymentProvider: cfg.PaymentProvider,
		shutdownTimeout: cfg.ShutdownTimeout,
		loc:             cfg.Location,
		now:             cfg.Now,
		logger:          cfg.Logger,
	}
	c.notifications.Store(true)
	return c
}

// Restore merges durable sessions into the live store. Live sessions are
// never overwritten.
func (c *Coordinator) Restore(ctx context.Context) (int, error) {
	loaded, err := c.persist.LoadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("load sessions: %w", err)
	}
	merged := c.store.Merge(loaded)
	c.logger.Info("Sessions restored", "loaded", len(loaded), "merged", merged)
	return merged, nil
}

// HandleEvent queues ev on the mailbox of its user. It does not wait for
// the event to be processed.
func (c *Coordinator) HandleEvent(ctx context.Context, ev domain.Event) error {
	if ev.Kind == domain.EventPayment {
		if ev.Payment == nil {
			return errors.New("payment event without payload")
		}
		c.ApplyPayment(ctx, *ev.Payment)
		return nil
	}
	if ev.UserID == 0 {
		return errors.New("event without user id")
	}

	err := c.dispatcher.Submit(ev.UserID, func(jobCtx context.Context) {
		c.handle(jobCtx, ev)
	})
	if err != nil {
		c.logger.Warn("Failed to queue event", "user_id", ev.UserID, "kind", ev.Kind, "error", err)
		return err
	}
	return nil
}

func (c *Coordinator) handle(ctx context.Context, ev domain.Event) {
	if ev.Kind == domain.EventPreCheckout {
		c.answerPreCheckout(ctx, ev)
		return
	}
	if ev.Kind == domain.EventCommand && isAdminCommand(ev.Command) {
		c.handleAdmin(ctx, ev)
		return
	}

	now := c.now()
	sess, created := c.store.GetOrCreate(ev.UserID, now)
	if created {
		c.logger.Info("New user", "user_id", ev.UserID)
		c.notifyAdmins(ctx, fmt.Sprintf("New user: %s (%d)", displayName(ev.FirstName), ev.UserID))
	}
	if sess.Blocked {
		c.logger.Debug("Ignoring event from blocked user", "user_id", ev.UserID, "kind", ev.Kind)
		return
	}

	switch ev.Kind {
	case domain.EventStart:
		c.handleStart(ctx, sess, ev, now)
	case domain.EventCommand:
		c.handleCommand(ctx, sess, ev, now)
	case domain.EventText:
		c.handleText(ctx, sess, ev, now)
	default:
		c.logger.Warn("Unhandled event kind", "user_id", ev.UserID, "kind", ev.Kind)
	}
}

func (c *Coordinator) handleStart(ctx context.Context, sess *domain.UserSession, ev domain.Event, now time.Time) {
	scenarioID := sess.ScenarioID
	if len(ev.Args) > 0 && c.scenarios.Catalog().Has(ev.Args[0]) {
		scenarioID = ev.Args[0]
	}
	sc := c.scenarios.Lookup(scenarioID)

	text := c.flow.Start(sess, sc, ev.FirstName)
	c.commit(ctx, sess, now)
	if sc.WelcomeImage != "" {
		if err := c.sender.SendPhoto(ctx, sess.UserID, sc.WelcomeImage, ""); err != nil {
			c.logger.Warn("Failed to send welcome image", "user_id", sess.UserID, "error", err)
		}
	}
	c.send(ctx, sess.UserID, text)
}

func (c *Coordinator) handleText(ctx context.Context, sess *domain.UserSession, ev domain.Event, now time.Time) {
	if sess.ScenarioID == "" {
		c.handleStart(ctx, sess, ev, now)
		return
	}
	sc := c.scenarios.Lookup(sess.ScenarioID)

	if c.echo.Load() && !c.admins.IsAdmin(sess.UserID) {
		c.forwardToAdmins(ctx, fmt.Sprintf("%s (%d): %s", displayName(ev.FirstName), sess.UserID, ev.Text))
	}

	if c.flow.StateOf(sess, sc) != interview.StateCompleted {
		res, err := c.flow.Advance(sess, sc, ev.Text)
		if err == nil {
			c.commit(ctx, sess, now)
			c.send(ctx, sess.UserID, res.Prompt)
			if res.Completed {
				c.logger.Info("Interview completed", "user_id", sess.UserID, "scenario_id", sc.ID)
			}
			return
		}
		if !errors.Is(err, interview.ErrCompleted) {
			c.logger.Error("Interview step failed", "user_id", sess.UserID, "error", err)
			return
		}
	}

	decision := c.engine.Check(sess, sc, now)
	for _, notice := range decision.Notices {
		c.send(ctx, sess.UserID, notice)
	}
	if !decision.Allowed {
		c.logger.Info("Turn denied", "user_id", sess.UserID, "scenario_id", sc.ID, "reason", decision.Reason)
		c.commit(ctx, sess, now)
		c.send(ctx, sess.UserID, decision.Message)
		if decision.TriggerPaywall {
			c.offer(ctx, sess, sc, now)
		}
		return
	}

	reply := c.conv.Respond(ctx, sess, sc, ev.Text)
	if reply.OK() {
		c.engine.RecordSuccess(sess, sc, now)
	}
	c.commit(ctx, sess, now)
	c.send(ctx, sess.UserID, reply.Text)
}

// commit publishes sess to the store and schedules a debounced save.
func (c *Coordinator) commit(ctx context.Context, sess *domain.UserSession, now time.Time) {
	sess.Touch(now)
	c.store.Put(sess)
	c.persist.SaveDebounced(ctx, sess)
}

// commitForce publishes sess and writes it through immediately.
func (c *Coordinator) commitForce(ctx context.Context, sess *domain.UserSession, now time.Time) {
	sess.Touch(now)
	c.store.Put(sess)
	if err := c.persist.SaveForce(ctx, sess); err != nil {
		c.logger.Error("Failed to persist session", "user_id", sess.UserID, "error", err)
	}
}

func (c *Coordinator) send(ctx context.Context, userID int64, text string) {
	if text == "" {
		return
	}
	if err := c.sender.SendText(ctx, userID, text); err != nil {
		c.logger.Warn("Failed to send message", "user_id", userID, "error", err)
	}
}

// Shutdown drains the mailboxes and flushes every live session to the
// durable store. Each phase is bounded by the shutdown timeout.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	drainCtx, cancel := context.WithTimeout(ctx, c.shutdownTimeout)
	drainErr := c.dispatcher.Shutdown(drainCtx)
	cancel()
	if drainErr != nil {
		c.logger.Warn("Mailboxes did not drain in time", "error", drainErr)
	}

	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.shutdownTimeout)
	defer cancel()
	written, flushErr := c.persist.FlushAll(flushCtx, c.store.Snapshot())
	if flushErr != nil {
		c.logger.Error("Final flush incomplete", "written", written, "error", flushErr)
	} else {
		c.logger.Info("Sessions flushed", "written", written)
	}
	return errors.Join(drainErr, flushErr)
}

func displayName(firstName string) string {
	if firstName == "" {
		return "unknown"
	}
	return firstName
}
