// Package persistence writes session snapshots through to the durable store.
package persistence

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ashureev/coachbot/internal/domain"
)

const snapshotVersion = 1

// snapshot is the durable representation of a session. Conversation
// history is deliberately absent.
type snapshot struct {
	Version                 int                 `json:"version"`
	UserID                  int64               `json:"user_id"`
	ScenarioID              string              `json:"scenario_id,omitempty"`
	InterviewStage          int                 `json:"interview_stage"`
	InterviewAnswers        []string            `json:"interview_answers,omitempty"`
	ConsentGiven            bool                `json:"consent_given,omitempty"`
	ThinkingMode            string              `json:"thinking_mode,omitempty"`
	DailyRequestCount       int                 `json:"daily_request_count"`
	LastRequestDate         string              `json:"last_request_date,omitempty"`
	FreeTurnsUsed           int                 `json:"free_turns_used"`
	LimitAlreadyNotified    bool                `json:"limit_already_notified,omitempty"`
	SubscriptionEndNotified bool                `json:"subscription_end_notified,omitempty"`
	Subscription            domain.Subscription `json:"subscription"`
	Blocked                 bool                `json:"blocked,omitempty"`
	LimitOverride           int                 `json:"limit_override,omitempty"`
	LastActivityAt          time.Time           `json:"last_activity_at"`
	CreatedAt               time.Time           `json:"created_at"`
}

// Encode serializes the durable fields of sess.
func Encode(sess *domain.UserSession) ([]byte, error) {
	s := snapshot{
		Version:                 snapshotVersion,
		UserID:                  sess.UserID,
		ScenarioID:              sess.ScenarioID,
		InterviewStage:          sess.InterviewStage,
		InterviewAnswers:        sess.InterviewAnswers,
		ConsentGiven:            sess.ConsentGiven,
		ThinkingMode:            sess.ThinkingMode,
		DailyRequestCount:       sess.DailyRequestCount,
		LastRequestDate:         sess.LastRequestDate,
		FreeTurnsUsed:           sess.FreeTurnsUsed,
		LimitAlreadyNotified:    sess.LimitAlreadyNotified,
		SubscriptionEndNotified: sess.SubscriptionEndNotified,
		Subscription:            sess.Subscription,
		Blocked:                 sess.Blocked,
		LimitOverride:           sess.LimitOverride,
		LastActivityAt:          sess.LastActivityAt,
		CreatedAt:               sess.CreatedAt,
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode session %d: %w", sess.UserID, err)
	}
	return data, nil
}

// Decode restores a session from data. Fields absent from older records
// keep their zero value; the row's id and activity time fill the gaps.
func Decode(data []byte, userID int64, rowActivity time.Time) (*domain.UserSession, error) {
	var s snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode session %d: %w", userID, err)
	}
	if s.Version > snapshotVersion {
		return nil, fmt.Errorf("decode session %d: unsupported snapshot version %d", userID, s.Version)
	}

	sess := &domain.UserSession{
		UserID:                  userID,
		ScenarioID:              s.ScenarioID,
		InterviewStage:          s.InterviewStage,
		InterviewAnswers:        s.InterviewAnswers,
		ConsentGiven:            s.ConsentGiven,
		ThinkingMode:            s.ThinkingMode,
		DailyRequestCount:       s.DailyRequestCount,
		LastRequestDate:         s.LastRequestDate,
		FreeTurnsUsed:           s.FreeTurnsUsed,
		LimitAlreadyNotified:    s.LimitAlreadyNotified,
		SubscriptionEndNotified: s.SubscriptionEndNotified,
		Subscription:            s.Subscription,
		Blocked:                 s.Blocked,
		LimitOverride:           s.LimitOverride,
		LastActivityAt:          s.LastActivityAt,
		CreatedAt:               s.CreatedAt,
	}
	if sess.LastActivityAt.IsZero() {
		sess.LastActivityAt = rowActivity
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = sess.LastActivityAt
	}
	if sess.InterviewStage < 0 {
		sess.InterviewStage = 0
	}
	if sess.InterviewStage > len(sess.InterviewAnswers) {
		sess.InterviewStage = len(sess.InterviewAnswers)
	}
	if len(sess.InterviewAnswers) > sess.InterviewStage {
		sess.InterviewAnswers = sess.InterviewAnswers[:sess.InterviewStage]
	}
	return sess, nil
}
