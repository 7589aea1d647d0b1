package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/ashureev/coachbot/internal/domain"
	"github.com/ashureev/coachbot/internal/payment"
	"github.com/ashureev/coachbot/internal/scenario"
)

// ReasonDispatchFailed is reported when a payment could not be queued on
// the user's mailbox.
const ReasonDispatchFailed = "dispatch_failed"

const (
	defaultStartedMessage = "Payment received! Your subscription is active until {{expires}}."
	preCheckoutDeclined   = "This invoice is no longer valid. Please request a new one with /subscribe."
)

var _ payment.Applier = (*Coordinator)(nil)

// ApplyPayment reconciles a payment event into the subscription of the
// session named by its correlation id. Events for unknown sessions are
// ignored without creating a session.
func (c *Coordinator) ApplyPayment(ctx context.Context, ev domain.PaymentEvent) payment.Outcome {
	logger := c.logger.With("payment_id", ev.PaymentID, "source", ev.Source)

	if ev.Status != domain.PaymentSucceeded {
		logger.Info("Ignoring payment event", "status", ev.Status)
		return payment.Ignored(payment.ReasonNotSucceeded)
	}
	userID, ok := payment.ParseSessionID(ev.SessionID)
	if !ok {
		logger.Warn("Payment event without session id", "session_id", ev.SessionID)
		return payment.Ignored(payment.ReasonMissingSession)
	}
	if !c.store.Exists(userID) {
		logger.Warn("Payment event for unknown session", "user_id", userID)
		return payment.Ignored(payment.ReasonUnknownSession)
	}

	var out payment.Outcome
	err := c.dispatcher.Do(ctx, userID, func(jobCtx context.Context) {
		out = c.applyPayment(jobCtx, userID, ev)
	})
	if err != nil {
		logger.Error("Failed to apply payment", "user_id", userID, "error", err)
		return payment.Ignored(ReasonDispatchFailed)
	}
	return out
}

func (c *Coordinator) applyPayment(ctx context.Context, userID int64, ev domain.PaymentEvent) payment.Outcome {
	sess, ok := c.store.Get(userID)
	if !ok {
		return payment.Ignored(payment.ReasonUnknownSession)
	}
	sc := c.scenarios.Lookup(sess.ScenarioID)
	now := c.now()

	out := c.reconciler.Apply(ev, sess, sc.Policy, now)
	if !out.Applied {
		return out
	}
	c.commitForce(ctx, sess, now)

	expires := out.ExpiresAt.In(c.loc).Format(expiryLayout)
	c.logger.Info("Subscription activated",
		"user_id", userID,
		"payment_id", ev.PaymentID,
		"expires_at", out.ExpiresAt)

	msg := sc.Messages.SubscriptionStarted
	if msg == "" {
		msg = defaultStartedMessage
	}
	c.send(ctx, userID, scenario.Render(msg, map[string]string{"expires": expires}))
	c.notifyAdmins(ctx, fmt.Sprintf("Payment %s from %d, active until %s", ev.PaymentID, userID, expires))
	return out
}

// offer delivers the subscription offer through the configured provider.
func (c *Coordinator) offer(ctx context.Context, sess *domain.UserSession, sc *scenario.Scenario, now time.Time) {
	if sess.Subscription.ActiveAt(now) {
		c.send(ctx, sess.UserID, "Your subscription is active until "+sess.Subscription.ExpiresAt.In(c.loc).Format(expiryLayout)+".")
		return
	}
	policy := sc.Policy
	correlationID := payment.NewCorrelationID(sess.UserID)

	switch c.paymentProvider {
	case PaymentNone:
		c.logger.Debug("Payments disabled, no offer sent", "user_id", sess.UserID)
	case PaymentYooKassa:
		if c.invoices == nil {
			c.logger.Error("Invoice provider not configured", "user_id", sess.UserID)
			return
		}
		inv, err := c.invoices.CreateInvoice(ctx, payment.InvoiceRequest{
			AmountMinor: policy.PriceMinor,
			Currency:    policy.Currency,
			Description: policy.InvoiceDescription,
			SessionID:   correlationID,
		})
		if err != nil {
			c.logger.Error("Failed to create invoice", "user_id", sess.UserID, "error", err)
			c.send(ctx, sess.UserID, "Payment is temporarily unavailable. Please try again later.")
			return
		}
		c.logger.Info("Invoice created", "user_id", sess.UserID, "payment_id", inv.PaymentID)
		c.send(ctx, sess.UserID, fmt.Sprintf("%s: %s %s\n%s",
			policy.InvoiceTitle, payment.FormatMinor(policy.PriceMinor), policy.Currency, inv.PayURL))
	default:
		err := c.sender.SendInvoice(ctx, sess.UserID, domain.Invoice{
			Title:       policy.InvoiceTitle,
			Description: policy.InvoiceDescription,
			Payload:     correlationID,
			Currency:    policy.Currency,
			AmountMinor: policy.PriceMinor,
			Label:       policy.InvoiceTitle,
		})
		if err != nil {
			c.logger.Error("Failed to send invoice", "user_id", sess.UserID, "error", err)
		}
	}
}

func (c *Coordinator) answerPreCheckout(ctx context.Context, ev domain.Event) {
	userID, ok := payment.ParseSessionID(ev.Payload)
	approve := ok && c.store.Exists(userID)

	errMsg := ""
	if !approve {
		errMsg = preCheckoutDeclined
		c.logger.Warn("Declining pre-checkout", "user_id", ev.UserID, "payload", ev.Payload)
	}
	if err := c.sender.AnswerPreCheckout(ctx, ev.PreCheckoutID, approve, errMsg); err != nil {
		c.logger.Error("Failed to answer pre-checkout", "user_id", ev.UserID, "error", err)
	}
}
