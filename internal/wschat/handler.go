package wschat

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/coder/websocket"

	"github.com/ashureev/coachbot/internal/domain"
)

// EventHandler consumes inbound chat events.
type EventHandler interface {
	HandleEvent(ctx context.Context, ev domain.Event) error
}

// inboundFrame is a client message: {"type":"start"|"message"|"ping","text":...}.
type inboundFrame struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// outboundFrame is a server message.
type outboundFrame struct {
	Type        string `json:"type"`
	Content     string `json:"content,omitempty"`
	URL         string `json:"url,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Amount      int64  `json:"amount,omitempty"`
	Currency    string `json:"currency,omitempty"`
	Payload     string `json:"payload,omitempty"`
}

// Handler upgrades /ws/chat?user_id=N requests and feeds frames to the
// coordinator. Replies travel back through Sender.
type Handler struct {
	events        EventHandler
	conns         *ConnManager
	allowedOrigin string
	isDev         bool
	logger        *slog.Logger
}

// NewHandler creates a WebSocket chat handler.
func NewHandler(events EventHandler, conns *ConnManager, allowedOrigin string, isDev bool, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		events:        events,
		conns:         conns,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
		logger:        logger,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		sessionID = "default"
	}
	name := r.URL.Query().Get("name")

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	h.conns.Register(userID, sessionID, ws)
	defer h.conns.Unregister(userID, sessionID, ws)

	h.readLoop(r.Context(), ws, userID, name)
	h.logger.Info("Chat session ended", "user_id", userID)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, userID int64, name string) {
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				h.logger.Debug("WebSocket closed by client", "user_id", userID)
			} else if ctx.Err() == nil {
				h.logger.Warn("WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			h.writeFrame(ctx, ws, outboundFrame{Type: "error", Content: "malformed frame"})
			continue
		}

		ev, ok := toEvent(frame, userID, name)
		if !ok {
			if frame.Type == "ping" {
				h.writeFrame(ctx, ws, outboundFrame{Type: "pong"})
			}
			continue
		}
		if err := h.events.HandleEvent(ctx, ev); err != nil {
			h.logger.Warn("Chat event not handled", "user_id", userID, "error", err)
			h.writeFrame(ctx, ws, outboundFrame{Type: "error", Content: "busy, try again"})
		}
	}
}

func (h *Handler) writeFrame(ctx context.Context, ws *websocket.Conn, f outboundFrame) {
	data, err := json.Marshal(f)
	if err != nil {
		return
	}
	if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
		h.logger.Debug("Failed to write frame", "error", err)
	}
}

func toEvent(f inboundFrame, userID int64, name string) (domain.Event, bool) {
	text := strings.TrimSpace(f.Text)
	ev := domain.Event{UserID: userID, FirstName: name, Text: text}

	switch f.Type {
	case "start":
		ev.Kind = domain.EventStart
		ev.Command = "start"
		ev.Args = strings.Fields(text)
		return ev, true
	case "message":
		if text == "" {
			return domain.Event{}, false
		}
		if cmd, args, ok := domain.ParseCommand(text); ok {
			ev.Command = cmd
			ev.Args = args
			ev.Kind = domain.EventCommand
			if cmd == "start" {
				ev.Kind = domain.EventStart
			}
			return ev, true
		}
		ev.Kind = domain.EventText
		return ev, true
	default:
		return domain.Event{}, false
	}
}
