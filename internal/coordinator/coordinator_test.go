package coordinator

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/ashureev/coachbot/internal/agent"
	"github.com/ashureev/coachbot/internal/domain"
	"github.com/ashureev/coachbot/internal/entitlement"
	"github.com/ashureev/coachbot/internal/identity"
	"github.com/ashureev/coachbot/internal/payment"
	"github.com/ashureev/coachbot/internal/persistence"
	"github.com/ashureev/coachbot/internal/scenario"
	"github.com/ashureev/coachbot/internal/session"
	"github.com/ashureev/coachbot/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testCatalog = `
default: coach
scenarios:
  - id: coach
    title: Coach
    welcome: "Hi {{name}}!"
    welcome_image: "https://img.example/coach.png"
    questions: ["Q1?", "Q2?"]
    completion: "Done.\n{{profile}}"
    profile:
      - {label: "First", answer: 0}
    modes:
      strategy:
        title: Strategy mode
        intro: "Let's plan."
        instructions: "Plan."
    fallbacks: ["fallback"]
    policy:
      mode: total-free-then-paywall
      free_limit: 2
      price_minor: 29900
      currency: RUB
      invoice_title: "Coach: 7 days"
    messages:
      paywall: "PAYWALL"
      subscription_started: "Active until {{expires}}"
      subscription_ended: "ENDED"
  - id: daily
    title: Daily
    welcome: "Hello {{name}}."
    consent:
      required: true
      prompt: "Agree?"
      accept: ["yes"]
      retry: "Please agree."
    questions: ["D1?"]
    policy:
      mode: daily-limit
      daily_limit: 1
    messages:
      limit: "LIMIT"
`

const (
	adminID int64 = 1
	userID  int64 = 100
)

type preCheckAnswer struct {
	queryID string
	ok      bool
	errMsg  string
}

type fakeSender struct {
	mu       sync.Mutex
	texts    map[int64][]string
	photos   map[int64][]string
	invoices []domain.Invoice
	answers  []preCheckAnswer
}

func newFakeSender() *fakeSender {
	return &fakeSender{texts: make(map[int64][]string), photos: make(map[int64][]string)}
}

func (f *fakeSender) SendText(_ context.Context, id int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts[id] = append(f.texts[id], text)
	return nil
}

func (f *fakeSender) SendPhoto(_ context.Context, id int64, photo, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.photos[id] = append(f.photos[id], photo)
	return nil
}

func (f *fakeSender) SendInvoice(_ context.Context, _ int64, inv domain.Invoice) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invoices = append(f.invoices, inv)
	return nil
}

func (f *fakeSender) AnswerPreCheckout(_ context.Context, queryID string, ok bool, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, preCheckAnswer{queryID, ok, errMsg})
	return nil
}

func (f *fakeSender) textsFor(id int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts[id]...)
}

func (f *fakeSender) last(id int64) string {
	texts := f.textsFor(id)
	if len(texts) == 0 {
		return ""
	}
	return texts[len(texts)-1]
}

type fakeResponder struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (f *fakeResponder) Respond(_ context.Context, _ *domain.UserSession, _ *scenario.Scenario, msg string) agent.Reply {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return agent.Reply{Text: "fallback", Outcome: agent.OutcomeFailure}
	}
	return agent.Reply{Text: "ai:" + msg, Outcome: agent.OutcomeOK}
}

func (f *fakeResponder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeInvoices struct {
	reqs []payment.InvoiceRequest
}

func (f *fakeInvoices) CreateInvoice(_ context.Context, req payment.InvoiceRequest) (*payment.Invoice, error) {
	f.reqs = append(f.reqs, req)
	return &payment.Invoice{PaymentID: "pay-1", PayURL: "https://pay.example/1"}, nil
}

type harness struct {
	c          *Coordinator
	sender     *fakeSender
	conv       *fakeResponder
	invoices   *fakeInvoices
	store      *session.Store
	dispatcher *session.Dispatcher
	repo       *store.MemoryStore
	now        time.Time
}

func newHarness(t *testing.T, provider string) *harness {
	t.Helper()
	cat, err := scenario.Parse([]byte(testCatalog))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	h := &harness{
		sender:     newFakeSender(),
		conv:       &fakeResponder{},
		invoices:   &fakeInvoices{},
		store:      session.NewStore(),
		dispatcher: session.NewDispatcher(16, time.Minute, nil),
		repo:       store.NewMemory(),
		now:        time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	}
	t.Cleanup(func() { _ = h.dispatcher.Shutdown(context.Background()) })

	clock := func() time.Time { return h.now }
	h.c = New(Deps{
		Store:        h.store,
		Dispatcher:   h.dispatcher,
		Scenarios:    scenario.NewStaticRegistry(cat),
		Entitlements: entitlement.NewEngine(10, time.UTC),
		Conversation: h.conv,
		Persistence:  persistence.NewAdapter(h.repo, persistence.Options{Window: time.Hour, Now: clock}),
		Sender:       h.sender,
		Invoices:     h.invoices,
		Admins:       identity.NewAdmins(adminID),
	}, Config{PaymentProvider: provider, Now: clock})
	return h
}

// send queues ev and waits until the mailbox of its user has processed it.
func (h *harness) send(t *testing.T, ev domain.Event) {
	t.Helper()
	if err := h.c.HandleEvent(context.Background(), ev); err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}
	h.wait(t, ev.UserID)
}

func (h *harness) wait(t *testing.T, id int64) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.dispatcher.Do(ctx, id, func(context.Context) {}); err != nil {
		t.Fatalf("wait for mailbox %d: %v", id, err)
	}
}

func start(id int64, args ...string) domain.Event {
	return domain.Event{Kind: domain.EventStart, UserID: id, FirstName: "Ann", Command: "start", Args: args}
}

func text(id int64, s string) domain.Event {
	return domain.Event{Kind: domain.EventText, UserID: id, FirstName: "Ann", Text: s}
}

func command(id int64, name string, args ...string) domain.Event {
	return domain.Event{Kind: domain.EventCommand, UserID: id, Command: name, Args: args}
}

// onboard runs /start and answers both questions of the default scenario.
func (h *harness) onboard(t *testing.T, id int64) {
	t.Helper()
	h.send(t, start(id))
	h.send(t, text(id, "a1"))
	h.send(t, text(id, "a2"))
}

func TestStartSendsWelcomeAndFirstQuestion(t *testing.T) {
	h := newHarness(t, PaymentTelegram)
	h.send(t, start(userID))

	got := h.sender.last(userID)
	if !strings.Contains(got, "Hi Ann!") || !strings.Contains(got, "Q1?") {
		t.Errorf("Expected welcome and first question, got %q", got)
	}
	sess, ok := h.store.Get(userID)
	if !ok || sess.ScenarioID != "coach" {
		t.Fatalf("Expected session on default scenario, got %+v", sess)
	}
	h.sender.mu.Lock()
	photos := append([]string(nil), h.sender.photos[userID]...)
	h.sender.mu.Unlock()
	if len(photos) != 1 || photos[0] != "https://img.example/coach.png" {
		t.Errorf("Expected one welcome image, got %v", photos)
	}
}

func TestStartWithoutWelcomeImageSendsTextOnly(t *testing.T) {
	h := newHarness(t, PaymentTelegram)
	h.send(t, start(userID, "daily"))

	h.sender.mu.Lock()
	defer h.sender.mu.Unlock()
	if len(h.sender.photos[userID]) != 0 {
		t.Errorf("Expected no photo for scenario without image, got %v", h.sender.photos[userID])
	}
}

func TestStartWithDeepLinkSelectsScenario(t *testing.T) {
	h := newHarness(t, PaymentTelegram)
	h.send(t, start(userID, "daily"))

	if got := h.sender.last(userID); !strings.Contains(got, "Agree?") {
		t.Errorf("Expected consent prompt, got %q", got)
	}
	h.send(t, text(userID, "maybe"))
	if got := h.sender.last(userID); got != "Please agree." {
		t.Errorf("Expected consent retry, got %q", got)
	}
	h.send(t, text(userID, "yes"))
	if got := h.sender.last(userID); got != "D1?" {
		t.Errorf("Expected first question after consent, got %q", got)
	}
}

func TestInterviewDoesNotConsumeQuota(t *testing.T) {
	h := newHarness(t, PaymentTelegram)
	h.onboard(t, userID)

	if got := h.sender.last(userID); !strings.Contains(got, "Done.") || !strings.Contains(got, "First: a1") {
		t.Errorf("Expected completion with profile, got %q", got)
	}
	if h.conv.count() != 0 {
		t.Errorf("Interview answers must not reach the provider")
	}
	sess, _ := h.store.Get(userID)
	if sess.FreeTurnsUsed != 0 || sess.InterviewStage != 2 {
		t.Errorf("Unexpected session after interview: stage=%d used=%d", sess.InterviewStage, sess.FreeTurnsUsed)
	}
}

func TestPaywallFiresOnceAfterFreeTurns(t *testing.T) {
	h := newHarness(t, PaymentTelegram)
	h.onboard(t, userID)

	h.send(t, text(userID, "m1"))
	h.send(t, text(userID, "m2"))
	if got := h.sender.last(userID); got != "ai:m2" {
		t.Fatalf("Expected second AI reply, got %q", got)
	}

	h.send(t, text(userID, "m3"))
	if got := h.sender.last(userID); got != "PAYWALL" {
		t.Errorf("Expected paywall on third attempt, got %q", got)
	}
	if len(h.sender.invoices) != 1 {
		t.Fatalf("Expected one invoice, got %d", len(h.sender.invoices))
	}
	inv := h.sender.invoices[0]
	if inv.AmountMinor != 29900 || inv.Currency != "RUB" || !strings.HasPrefix(inv.Payload, strconv.FormatInt(userID, 10)+":") {
		t.Errorf("Unexpected invoice: %+v", inv)
	}

	before := len(h.sender.textsFor(userID))
	h.send(t, text(userID, "m4"))
	if after := len(h.sender.textsFor(userID)); after != before {
		t.Errorf("Expected silent denial, got %d new messages", after-before)
	}
	if h.conv.count() != 2 {
		t.Errorf("Expected 2 provider calls, got %d", h.conv.count())
	}
}

func TestFailedRepliesDoNotConsumeFreeTurns(t *testing.T) {
	h := newHarness(t, PaymentTelegram)
	h.onboard(t, userID)
	h.conv.fail = true

	for i := 0; i < 3; i++ {
		h.send(t, text(userID, "m"))
	}
	if got := h.sender.last(userID); got != "fallback" {
		t.Errorf("Expected fallback reply, got %q", got)
	}
	sess, _ := h.store.Get(userID)
	if sess.FreeTurnsUsed != 0 {
		t.Errorf("Expected no free turns used, got %d", sess.FreeTurnsUsed)
	}
}

func TestApplyPaymentActivatesSubscription(t *testing.T) {
	h := newHarness(t, PaymentTelegram)
	h.onboard(t, userID)
	h.send(t, text(userID, "m1"))
	h.send(t, text(userID, "m2"))
	h.send(t, text(userID, "m3"))

	payload := h.sender.invoices[0].Payload
	out := h.c.ApplyPayment(context.Background(), domain.PaymentEvent{
		Status:    domain.PaymentSucceeded,
		PaymentID: "charge-1",
		SessionID: payload,
		Source:    "telegram",
	})
	if !out.Applied {
		t.Fatalf("Expected payment to apply, got %+v", out)
	}
	if want := h.now.Add(7 * 24 * time.Hour); !out.ExpiresAt.Equal(want) {
		t.Errorf("Expected expiry %v, got %v", want, out.ExpiresAt)
	}
	if got := h.sender.last(userID); got != "Active until 09.03.2026 10:00" {
		t.Errorf("Unexpected confirmation %q", got)
	}

	rec, err := h.repo.Get(context.Background(), userID)
	if err != nil {
		t.Fatalf("Expected force-saved record: %v", err)
	}
	if !strings.Contains(string(rec.Data), "charge-1") {
		t.Errorf("Persisted record misses payment id: %s", rec.Data)
	}

	h.send(t, text(userID, "m4"))
	h.send(t, text(userID, "m5"))
	if got := h.sender.last(userID); got != "ai:m5" {
		t.Errorf("Expected unlimited replies while subscribed, got %q", got)
	}
}

func TestSubscriptionLapseNotifiesOnce(t *testing.T) {
	h := newHarness(t, PaymentTelegram)
	h.onboard(t, userID)
	h.c.ApplyPayment(context.Background(), domain.PaymentEvent{
		Status: domain.PaymentSucceeded, PaymentID: "p", SessionID: strconv.FormatInt(userID, 10),
	})

	h.now = h.now.Add(8 * 24 * time.Hour)
	h.send(t, text(userID, "after"))
	texts := h.sender.textsFor(userID)
	if len(texts) < 2 || texts[len(texts)-2] != "ENDED" || texts[len(texts)-1] != "ai:after" {
		t.Errorf("Expected end notice followed by reply, got %q", texts)
	}

	h.send(t, text(userID, "again"))
	for _, msg := range h.sender.textsFor(userID)[len(texts):] {
		if msg == "ENDED" {
			t.Errorf("End notice must be sent only once")
		}
	}
}

func TestApplyPaymentIgnoresUnknownSession(t *testing.T) {
	h := newHarness(t, PaymentTelegram)

	tests := []struct {
		name string
		ev   domain.PaymentEvent
		want string
	}{
		{"unknown", domain.PaymentEvent{Status: domain.PaymentSucceeded, SessionID: "999:x"}, payment.ReasonUnknownSession},
		{"missing", domain.PaymentEvent{Status: domain.PaymentSucceeded}, payment.ReasonMissingSession},
		{"pending", domain.PaymentEvent{Status: domain.PaymentPending, SessionID: "999"}, payment.ReasonNotSucceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := h.c.ApplyPayment(context.Background(), tt.ev)
			if out.Applied || out.Reason != tt.want {
				t.Errorf("Expected ignored with %s, got %+v", tt.want, out)
			}
		})
	}
	if h.store.Len() != 0 {
		t.Errorf("Ignored payments must not create sessions")
	}
}

func TestPreCheckout(t *testing.T) {
	h := newHarness(t, PaymentTelegram)
	h.send(t, start(userID))

	h.send(t, domain.Event{Kind: domain.EventPreCheckout, UserID: userID, PreCheckoutID: "q1", Payload: "100:abc"})
	h.send(t, domain.Event{Kind: domain.EventPreCheckout, UserID: userID, PreCheckoutID: "q2", Payload: "555:abc"})

	if len(h.sender.answers) != 2 {
		t.Fatalf("Expected 2 answers, got %d", len(h.sender.answers))
	}
	if !h.sender.answers[0].ok {
		t.Errorf("Expected known session to be approved")
	}
	if h.sender.answers[1].ok || h.sender.answers[1].errMsg == "" {
		t.Errorf("Expected unknown session to be declined with a message")
	}
}

func TestYooKassaOfferSendsPayURL(t *testing.T) {
	h := newHarness(t, PaymentYooKassa)
	h.onboard(t, userID)
	h.send(t, command(userID, "subscribe"))

	if len(h.invoices.reqs) != 1 {
		t.Fatalf("Expected one invoice request, got %d", len(h.invoices.reqs))
	}
	if id, ok := payment.ParseSessionID(h.invoices.reqs[0].SessionID); !ok || id != userID {
		t.Errorf("Expected correlation id for %d, got %q", userID, h.invoices.reqs[0].SessionID)
	}
	if got := h.sender.last(userID); !strings.Contains(got, "https://pay.example/1") || !strings.Contains(got, "299.00") {
		t.Errorf("Expected pay URL offer, got %q", got)
	}
}

func TestModeAndStatusCommands(t *testing.T) {
	h := newHarness(t, PaymentTelegram)
	h.onboard(t, userID)

	h.send(t, command(userID, "strategy"))
	if got := h.sender.last(userID); got != "Let's plan." {
		t.Errorf("Expected mode intro, got %q", got)
	}
	sess, _ := h.store.Get(userID)
	if sess.ThinkingMode != "strategy" {
		t.Errorf("Expected thinking mode strategy, got %q", sess.ThinkingMode)
	}

	h.send(t, text(userID, "m1"))
	h.send(t, command(userID, "status"))
	if got := h.sender.last(userID); got != "Free messages left: 1 of 2." {
		t.Errorf("Unexpected status %q", got)
	}

	h.send(t, command(userID, "nope"))
	if got := h.sender.last(userID); !strings.Contains(got, "/strategy") {
		t.Errorf("Expected help listing modes, got %q", got)
	}
}

func TestDailyLimitMessageOncePerDay(t *testing.T) {
	h := newHarness(t, PaymentNone)
	h.send(t, start(userID, "daily"))
	h.send(t, text(userID, "yes"))
	h.send(t, text(userID, "answer"))

	h.send(t, text(userID, "m1"))
	h.send(t, text(userID, "m2"))
	if got := h.sender.last(userID); got != "LIMIT" {
		t.Errorf("Expected limit message, got %q", got)
	}
	before := len(h.sender.textsFor(userID))
	h.send(t, text(userID, "m3"))
	if len(h.sender.textsFor(userID)) != before {
		t.Errorf("Limit message must be sent once per day")
	}

	h.now = h.now.Add(24 * time.Hour)
	h.send(t, text(userID, "m4"))
	if got := h.sender.last(userID); got != "ai:m4" {
		t.Errorf("Expected allowance reset on the next day, got %q", got)
	}
	if h.conv.count() != 2 {
		t.Errorf("Expected 2 provider calls, got %d", h.conv.count())
	}
}

func TestAdminCommandsRequireAdmin(t *testing.T) {
	h := newHarness(t, PaymentTelegram)
	h.send(t, start(userID))
	const other int64 = 200
	h.send(t, start(other))

	h.send(t, command(other, "block", strconv.FormatInt(userID, 10)))
	h.wait(t, userID)
	sess, _ := h.store.Get(userID)
	if sess.Blocked {
		t.Fatalf("Non-admin must not block users")
	}
	if got := h.sender.last(other); !strings.Contains(got, "Q1?") {
		t.Errorf("Non-admin must get no reply to admin commands, got %q", got)
	}
}

func TestAdminBlockAndSetLimit(t *testing.T) {
	h := newHarness(t, PaymentTelegram)
	h.onboard(t, userID)
	target := strconv.FormatInt(userID, 10)

	h.send(t, command(adminID, "block", target))
	h.wait(t, userID)
	if got := h.sender.last(adminID); got != "User 100 blocked." {
		t.Errorf("Unexpected admin reply %q", got)
	}
	sess, _ := h.store.Get(userID)
	if !sess.Blocked {
		t.Fatalf("Expected user to be blocked")
	}
	if _, err := h.repo.Get(context.Background(), userID); err != nil {
		t.Errorf("Expected block to be force-saved: %v", err)
	}

	before := len(h.sender.textsFor(userID))
	h.send(t, text(userID, "hello"))
	if len(h.sender.textsFor(userID)) != before || h.conv.count() != 0 {
		t.Errorf("Blocked user must be ignored")
	}

	h.send(t, command(adminID, "unblock", target))
	h.wait(t, userID)
	h.send(t, command(adminID, "setlimit", target, "5"))
	h.wait(t, userID)
	if got := h.sender.last(adminID); got != "Limit for user 100 set to 5." {
		t.Errorf("Unexpected admin reply %q", got)
	}
	h.send(t, command(userID, "status"))
	if got := h.sender.last(userID); got != "Free messages left: 5 of 5." {
		t.Errorf("Expected override in status, got %q", got)
	}

	h.send(t, command(adminID, "block", "999"))
	if got := h.sender.last(adminID); got != "User 999 not found." {
		t.Errorf("Unexpected reply for unknown user %q", got)
	}
	h.send(t, command(adminID, "setlimit", target, "-1"))
	if got := h.sender.last(adminID); !strings.Contains(got, "non-negative") {
		t.Errorf("Expected validation message, got %q", got)
	}
}

func TestAdminNotificationsAndEcho(t *testing.T) {
	h := newHarness(t, PaymentTelegram)

	h.send(t, start(userID))
	if got := h.sender.last(adminID); got != "New user: Ann (100)" {
		t.Errorf("Expected new user notice, got %q", got)
	}

	h.send(t, command(adminID, "notifications"))
	if h.c.Notifications() {
		t.Errorf("Expected notifications off")
	}
	h.send(t, start(300))
	if got := h.sender.last(adminID); got != "Notifications: off" {
		t.Errorf("Expected no notice while disabled, got %q", got)
	}

	h.send(t, command(adminID, "echo"))
	h.send(t, text(userID, "a1"))
	if got := h.sender.last(adminID); got != "Ann (100): a1" {
		t.Errorf("Expected echoed message, got %q", got)
	}
}

func TestStats(t *testing.T) {
	h := newHarness(t, PaymentTelegram)
	h.send(t, start(userID))
	h.send(t, command(adminID, "stats"))

	if got := h.sender.last(adminID); !strings.HasPrefix(got, "Users: 1\n") {
		t.Errorf("Unexpected stats %q", got)
	}
}

func TestRestoreAndShutdown(t *testing.T) {
	h := newHarness(t, PaymentTelegram)
	h.onboard(t, userID)
	h.send(t, text(userID, "m1"))

	if err := h.c.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if err := h.c.HandleEvent(context.Background(), text(userID, "late")); !errors.Is(err, session.ErrDispatcherClosed) {
		t.Errorf("Expected ErrDispatcherClosed, got %v", err)
	}

	restored := newHarness(t, PaymentTelegram)
	restored.repo = h.repo
	restored.c.persist = persistence.NewAdapter(h.repo, persistence.Options{
		Now: func() time.Time { return restored.now },
	})
	n, err := restored.c.Restore(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("Expected 1 restored session, got %d (%v)", n, err)
	}
	sess, _ := restored.store.Get(userID)
	if sess.InterviewStage != 2 || sess.FreeTurnsUsed != 1 || len(sess.History) != 0 {
		t.Errorf("Unexpected restored session: stage=%d used=%d history=%d",
			sess.InterviewStage, sess.FreeTurnsUsed, len(sess.History))
	}
}
