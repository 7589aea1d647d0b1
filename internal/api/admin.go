package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/coachbot/internal/domain"
	"github.com/ashureev/coachbot/internal/entitlement"
	"github.com/ashureev/coachbot/internal/identity"
	"github.com/ashureev/coachbot/internal/scenario"
	"github.com/ashureev/coachbot/internal/session"
)

// Toggles exposes the runtime admin switches.
type Toggles interface {
	Notifications() bool
	Echo() bool
}

// AdminHandler serves read-only operator views of the live sessions.
type AdminHandler struct {
	store      *session.Store
	dispatcher *session.Dispatcher
	engine     *entitlement.Engine
	scenarios  *scenario.Registry
	toggles    Toggles
	token      string
	now        func() time.Time
	logger     *slog.Logger
}

// NewAdminHandler creates an admin handler protected by token.
func NewAdminHandler(store *session.Store, dispatcher *session.Dispatcher, engine *entitlement.Engine,
	scenarios *scenario.Registry, toggles Toggles, token string, logger *slog.Logger,
) *AdminHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminHandler{
		store:      store,
		dispatcher: dispatcher,
		engine:     engine,
		scenarios:  scenarios,
		toggles:    toggles,
		token:      token,
		now:        time.Now,
		logger:     logger,
	}
}

// RegisterRoutes registers the admin routes behind bearer authentication.
func (h *AdminHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/admin", func(r chi.Router) {
		r.Use(identity.BearerMiddleware(h.token, h.logger))
		r.Get("/stats", h.Stats)
		r.Get("/sessions/{id}", h.Session)
	})
}

type statsResponse struct {
	Sessions        session.Stats `json:"sessions"`
	ActiveMailboxes int           `json:"active_mailboxes"`
	Notifications   bool          `json:"notifications"`
	Echo            bool          `json:"echo"`
	ScenarioCatalog []string      `json:"scenarios"`
	DefaultScenario string        `json:"default_scenario"`
	GeneratedAt     time.Time     `json:"generated_at"`
}

// Stats returns aggregate counters.
func (h *AdminHandler) Stats(w http.ResponseWriter, _ *http.Request) {
	now := h.now()
	catalog := h.scenarios.Catalog()
	resp := statsResponse{
		Sessions:        h.store.Stats(now),
		ActiveMailboxes: h.dispatcher.Active(),
		ScenarioCatalog: catalog.IDs(),
		DefaultScenario: catalog.Default().ID,
		GeneratedAt:     now,
	}
	if h.toggles != nil {
		resp.Notifications = h.toggles.Notifications()
		resp.Echo = h.toggles.Echo()
	}
	JSON(w, http.StatusOK, resp)
}

type quotaView struct {
	Mode      scenario.PolicyMode `json:"mode"`
	Used      int                 `json:"used"`
	Limit     int                 `json:"limit"`
	Remaining int                 `json:"remaining"`
}

type sessionView struct {
	UserID           int64               `json:"user_id"`
	ScenarioID       string              `json:"scenario_id"`
	InterviewStage   int                 `json:"interview_stage"`
	InterviewAnswers []string            `json:"interview_answers"`
	ConsentGiven     bool                `json:"consent_given"`
	ThinkingMode     string              `json:"thinking_mode,omitempty"`
	HistoryTurns     int                 `json:"history_turns"`
	Subscription     domain.Subscription `json:"subscription"`
	Subscribed       bool                `json:"subscribed"`
	Quota            quotaView           `json:"quota"`
	Blocked          bool                `json:"blocked"`
	LimitOverride    int                 `json:"limit_override,omitempty"`
	LastActivityAt   time.Time           `json:"last_activity_at"`
	CreatedAt        time.Time           `json:"created_at"`
}

// Session returns one live session.
func (h *AdminHandler) Session(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid session id")
		return
	}
	sess, ok := h.store.Get(id)
	if !ok {
		Error(w, http.StatusNotFound, "session not found")
		return
	}

	now := h.now()
	sc := h.scenarios.Lookup(sess.ScenarioID)
	q := h.engine.Remaining(sess, sc, now)
	JSON(w, http.StatusOK, sessionView{
		UserID:           sess.UserID,
		ScenarioID:       sess.ScenarioID,
		InterviewStage:   sess.InterviewStage,
		InterviewAnswers: sess.InterviewAnswers,
		ConsentGiven:     sess.ConsentGiven,
		ThinkingMode:     sess.ThinkingMode,
		HistoryTurns:     len(sess.History),
		Subscription:     sess.Subscription,
		Subscribed:       q.Subscribed,
		Quota:            quotaView{Mode: q.Mode, Used: q.Used, Limit: q.Limit, Remaining: q.Remaining},
		Blocked:          sess.Blocked,
		LimitOverride:    sess.LimitOverride,
		LastActivityAt:   sess.LastActivityAt,
		CreatedAt:        sess.CreatedAt,
	})
}
