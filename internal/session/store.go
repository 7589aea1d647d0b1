// Package session holds the live user sessions and serializes work per user.
package session

import (
	"sort"
	"sync"
	"time"

	"github.com/ashureev/coachbot/internal/domain"
)

// Store is the in-memory map of user id to session. It is the single source
// of truth at runtime. Values are copied on the way in and out, so a caller
// may freely mutate what it received and Put it back.
type Store struct {
	mu       sync.RWMutex
	sessions map[int64]*domain.UserSession
}

// Stats summarizes the live sessions.
type Stats struct {
	Total               int `json:"total"`
	ActiveSubscriptions int `json:"active_subscriptions"`
	Blocked             int `json:"blocked"`
	ActiveLastDay       int `json:"active_last_day"`
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{sessions: make(map[int64]*domain.UserSession)}
}

// GetOrCreate returns a copy of the session for id, creating it at now on
// first contact. The second return value reports whether it was created.
func (s *Store) GetOrCreate(id int64, now time.Time) (*domain.UserSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[id]; ok {
		return sess.Clone(), false
	}
	sess := domain.NewUserSession(id, now)
	s.sessions[id] = sess
	return sess.Clone(), true
}

// Get returns a copy of the session for id.
func (s *Store) Get(id int64) (*domain.UserSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	return sess.Clone(), true
}

// Put replaces the stored session with a copy of sess.
func (s *Store) Put(sess *domain.UserSession) {
	if sess == nil {
		return
	}
	s.mu.Lock()
	s.sessions[sess.UserID] = sess.Clone()
	s.mu.Unlock()
}

// Exists reports whether a session for id is present.
func (s *Store) Exists(id int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sessions[id]
	return ok
}

// Merge adds loaded sessions that are not live yet and returns how many
// were added. Live sessions always win over loaded ones.
func (s *Store) Merge(loaded map[int64]*domain.UserSession) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	added := 0
	for id, sess := range loaded {
		if sess == nil {
			continue
		}
		if _, live := s.sessions[id]; live {
			continue
		}
		c := sess.Clone()
		c.UserID = id
		s.sessions[id] = c
		added++
	}
	return added
}

// Snapshot returns copies of all sessions ordered by user id.
func (s *Store) Snapshot() []*domain.UserSession {
	s.mu.RLock()
	out := make([]*domain.UserSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Stats computes counters over the live sessions at now.
func (s *Store) Stats(now time.Time) Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{Total: len(s.sessions)}
	for _, sess := range s.sessions {
		if sess.Subscription.ActiveAt(now) {
			st.ActiveSubscriptions++
		}
		if sess.Blocked {
			st.Blocked++
		}
		if now.Sub(sess.LastActivityAt) < 24*time.Hour {
			st.ActiveLastDay++
		}
	}
	return st
}
