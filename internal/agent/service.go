package agent

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/ashureev/coachbot/internal/domain"
	"github.com/ashureev/coachbot/internal/scenario"
)

const defaultPersona = "You are a thoughtful coaching companion. Help the user think through their situation with clear questions and concrete next steps."

const genericFallback = "Sorry, I can't answer right now. Please try again a bit later."

// ServiceConfig bounds the prompt context and provider latency.
type ServiceConfig struct {
	Timeout      time.Duration
	HistoryTurns int
	HistoryCap   int
}

// Service assembles prompt context for a session and delegates to the
// completion provider, turning provider failures into fallback lines.
type Service struct {
	completer Completer
	cfg       ServiceConfig
	logger    *slog.Logger
	pick      func(n int) int
}

// NewService creates a conversation service over completer.
func NewService(completer Completer, cfg ServiceConfig, logger *slog.Logger) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.HistoryTurns <= 0 {
		cfg.HistoryTurns = 10
	}
	if cfg.HistoryCap <= 0 {
		cfg.HistoryCap = 20
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		completer: completer,
		cfg:       cfg,
		logger:    logger,
		pick:      rand.IntN,
	}
}

// Respond produces the reply to userMessage. On provider success both the
// message and the reply are appended to the session history; otherwise the
// history is untouched and a fallback line is returned.
func (s *Service) Respond(ctx context.Context, sess *domain.UserSession, sc *scenario.Scenario, userMessage string) Reply {
	messages := s.BuildPrompt(sess, sc, userMessage)

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	start := time.Now()
	text, err := s.completer.Complete(callCtx, messages)
	elapsed := time.Since(start)

	if err == nil && strings.TrimSpace(text) != "" {
		sess.AppendTurn(domain.RoleUser, userMessage, s.cfg.HistoryCap)
		sess.AppendTurn(domain.RoleAssistant, text, s.cfg.HistoryCap)
		s.logger.Debug("Completion succeeded", "user_id", sess.UserID, "duration", elapsed)
		return Reply{Text: text, Outcome: OutcomeOK, Duration: elapsed}
	}

	outcome := OutcomeFailure
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		outcome = OutcomeTimeout
	}
	if err == nil {
		err = errors.New("empty completion")
	}
	s.logger.Warn("Completion failed, sending fallback",
		"user_id", sess.UserID,
		"scenario_id", sc.ID,
		"outcome", outcome,
		"duration", elapsed,
		"error", err)
	return Reply{Text: s.fallback(sc), Outcome: outcome, Duration: elapsed}
}

// BuildPrompt returns the instruction block, the recent history and the new
// user message in provider order.
func (s *Service) BuildPrompt(sess *domain.UserSession, sc *scenario.Scenario, userMessage string) []Message {
	messages := []Message{{Role: RoleSystem, Content: s.instructions(sess, sc)}}
	for _, turn := range sess.RecentTurns(s.cfg.HistoryTurns) {
		role := RoleUser
		if turn.Role == domain.RoleAssistant {
			role = RoleAssistant
		}
		messages = append(messages, Message{Role: role, Content: turn.Content})
	}
	return append(messages, Message{Role: RoleUser, Content: userMessage})
}

func (s *Service) instructions(sess *domain.UserSession, sc *scenario.Scenario) string {
	var b strings.Builder
	persona := strings.TrimSpace(sc.SystemPrompt)
	if persona == "" {
		persona = defaultPersona
	}
	b.WriteString(persona)

	if mode, ok := sc.Mode(sess.ThinkingMode); ok {
		b.WriteString("\n\nCurrent mode: ")
		b.WriteString(mode.Title)
		if mode.Instructions != "" {
			b.WriteString(". ")
			b.WriteString(mode.Instructions)
		}
	}

	if sess.InterviewComplete(sc.QuestionCount()) && len(sess.InterviewAnswers) > 0 {
		b.WriteString("\n\nUser profile:\n")
		b.WriteString(sc.ProfileSummary(sess.InterviewAnswers))
	}
	return b.String()
}

func (s *Service) fallback(sc *scenario.Scenario) string {
	if len(sc.Fallbacks) == 0 {
		return genericFallback
	}
	return sc.Fallbacks[s.pick(len(sc.Fallbacks))]
}
