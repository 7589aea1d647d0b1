package domain

import (
	"time"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is a single entry of the conversation history.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// UserSession holds the runtime state of one end user.
// A session is owned by the user's mailbox worker; other goroutines only
// ever see copies produced by Clone.
type UserSession struct {
	UserID     int64
	ScenarioID string

	InterviewStage   int
	InterviewAnswers []string
	ConsentGiven     bool
	ThinkingMode     string

	History []Turn

	DailyRequestCount       int
	LastRequestDate         string
	FreeTurnsUsed           int
	LimitAlreadyNotified    bool
	SubscriptionEndNotified bool
	Subscription            Subscription

	Blocked       bool
	LimitOverride int

	LastActivityAt time.Time
	CreatedAt      time.Time
}

// NewUserSession returns an empty session created at now.
func NewUserSession(userID int64, now time.Time) *UserSession {
	return &UserSession{
		UserID:         userID,
		CreatedAt:      now,
		LastActivityAt: now,
	}
}

// Clone returns a deep copy of the session.
func (s *UserSession) Clone() *UserSession {
	if s == nil {
		return nil
	}
	c := *s
	if s.InterviewAnswers != nil {
		c.InterviewAnswers = append([]string(nil), s.InterviewAnswers...)
	}
	if s.History != nil {
		c.History = append([]Turn(nil), s.History...)
	}
	return &c
}

// Touch records activity at now.
func (s *UserSession) Touch(now time.Time) {
	s.LastActivityAt = now
}

// InterviewComplete reports whether all questionCount answers were collected.
func (s *UserSession) InterviewComplete(questionCount int) bool {
	return s.InterviewStage >= questionCount
}

// ResetInterview restarts onboarding. Counters and subscription survive.
func (s *UserSession) ResetInterview() {
	s.InterviewStage = 0
	s.InterviewAnswers = nil
	s.ConsentGiven = false
	s.ThinkingMode = ""
	s.History = nil
}

// AppendTurn adds a turn and evicts the oldest entries beyond limit.
func (s *UserSession) AppendTurn(role Role, content string, limit int) {
	s.History = append(s.History, Turn{Role: role, Content: content})
	if limit > 0 && len(s.History) > limit {
		trimmed := make([]Turn, limit)
		copy(trimmed, s.History[len(s.History)-limit:])
		s.History = trimmed
	}
}

// RecentTurns returns the last n turns of history.
func (s *UserSession) RecentTurns(n int) []Turn {
	if n <= 0 {
		return nil
	}
	if n >= len(s.History) {
		return s.History
	}
	return s.History[len(s.History)-n:]
}
