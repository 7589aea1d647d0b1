// Package wschat provides a development chat transport over WebSocket. It
// speaks the same sender contract as the Telegram client so the whole bot
// can be exercised from a browser.
package wschat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// ErrNotConnected is returned when a user has no open connection.
var ErrNotConnected = errors.New("user has no open chat connection")

const writeTimeout = 10 * time.Second

// ConnManager tracks open connections per user. A user may have one
// connection per browser tab, keyed by session id.
type ConnManager struct {
	mu     sync.RWMutex
	active map[int64]map[string]*websocket.Conn
	logger *slog.Logger
}

// NewConnManager creates an empty manager.
func NewConnManager(logger *slog.Logger) *ConnManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConnManager{
		active: make(map[int64]map[string]*websocket.Conn),
		logger: logger,
	}
}

// Register adds conn for a user/session, closing a connection it replaces.
func (m *ConnManager) Register(userID int64, sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[userID]; !exists {
		m.active[userID] = make(map[string]*websocket.Conn)
	}
	if existing, exists := m.active[userID][sessionID]; exists && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "session replaced")
	}
	m.active[userID][sessionID] = conn
	m.logger.Info("Chat connection registered", "user_id", userID, "session_id", sessionID)
}

// Unregister removes conn if it is still the current one for the session.
func (m *ConnManager) Unregister(userID int64, sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sessions, ok := m.active[userID]; ok {
		if current, exists := sessions[sessionID]; exists && current == conn {
			delete(sessions, sessionID)
			if len(sessions) == 0 {
				delete(m.active, userID)
			}
			m.logger.Info("Chat connection unregistered", "user_id", userID, "session_id", sessionID)
		}
	}
}

// Connected reports whether userID has at least one open connection.
func (m *ConnManager) Connected(userID int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active[userID]) > 0
}

// Deliver writes v as a JSON text frame to every connection of userID.
func (m *ConnManager) Deliver(ctx context.Context, userID int64, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	m.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(m.active[userID]))
	for _, c := range m.active[userID] {
		conns = append(conns, c)
	}
	m.mu.RUnlock()

	if len(conns) == 0 {
		return ErrNotConnected
	}

	var errs []error
	for _, c := range conns {
		writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
		if err := c.Write(writeCtx, websocket.MessageText, data); err != nil {
			errs = append(errs, err)
		}
		cancel()
	}
	if len(errs) == len(conns) {
		return errors.Join(errs...)
	}
	return nil
}

// CloseAll closes every open connection.
func (m *ConnManager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for userID, sessions := range m.active {
		for _, conn := range sessions {
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		}
		delete(m.active, userID)
	}
}
