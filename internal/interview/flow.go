// Package interview drives the scripted onboarding interview.
package interview

import (
	"errors"
	"strconv"
	"strings"

	"github.com/ashureev/coachbot/internal/domain"
	"github.com/ashureev/coachbot/internal/scenario"
)

// ErrCompleted is returned by Advance once every question has been answered.
var ErrCompleted = errors.New("interview already completed")

// State is the position of a session in the onboarding sub-machine.
type State int

const (
	StateAwaitingConsent State = iota
	StateAsking
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateAwaitingConsent:
		return "awaiting_consent"
	case StateAsking:
		return "asking"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Result is the outcome of one Advance call.
type Result struct {
	Prompt    string
	State     State
	Completed bool
}

// Flow advances sessions through a scenario's questions. It has no external
// side effects; it only mutates the session it is given.
type Flow struct{}

// NewFlow creates a Flow.
func NewFlow() *Flow {
	return &Flow{}
}

// StateOf returns where sess stands in the interview for sc.
func (f *Flow) StateOf(sess *domain.UserSession, sc *scenario.Scenario) State {
	if sess.InterviewComplete(sc.QuestionCount()) {
		return StateCompleted
	}
	if sc.Consent.Required && !sess.ConsentGiven {
		return StateAwaitingConsent
	}
	return StateAsking
}

// Start restarts onboarding for sc and returns the opening text: the
// welcome followed by the consent prompt or the first question.
func (f *Flow) Start(sess *domain.UserSession, sc *scenario.Scenario, name string) string {
	sess.ResetInterview()
	sess.ScenarioID = sc.ID

	if name == "" {
		name = "friend"
	}
	parts := []string{strings.TrimSpace(scenario.Render(sc.Welcome, map[string]string{"name": name}))}
	if sc.Consent.Required {
		parts = append(parts, sc.Consent.Prompt)
	} else {
		q, _ := sc.Question(0)
		parts = append(parts, q)
	}
	return joinNonEmpty(parts)
}

// Advance records rawAnswer for the current stage and returns the next
// prompt. While consent is pending, rawAnswer is matched against the
// accepted tokens instead of being recorded.
func (f *Flow) Advance(sess *domain.UserSession, sc *scenario.Scenario, rawAnswer string) (Result, error) {
	switch f.StateOf(sess, sc) {
	case StateCompleted:
		return Result{State: StateCompleted, Completed: true}, ErrCompleted

	case StateAwaitingConsent:
		if !sc.Consent.Accepts(rawAnswer) {
			retry := sc.Consent.Retry
			if retry == "" {
				retry = sc.Consent.Prompt
			}
			return Result{Prompt: retry, State: StateAwaitingConsent}, nil
		}
		sess.ConsentGiven = true
		q, _ := sc.Question(sess.InterviewStage)
		return Result{Prompt: q, State: StateAsking}, nil
	}

	answer := strings.TrimSpace(rawAnswer)
	if answer == "" {
		q, _ := sc.Question(sess.InterviewStage)
		return Result{Prompt: q, State: StateAsking}, nil
	}

	// Keep answers aligned with the stage even for records restored from
	// older snapshots.
	if len(sess.InterviewAnswers) > sess.InterviewStage {
		sess.InterviewAnswers = sess.InterviewAnswers[:sess.InterviewStage]
	}
	sess.InterviewAnswers = append(sess.InterviewAnswers, answer)
	sess.InterviewStage = len(sess.InterviewAnswers)

	if q, ok := sc.Question(sess.InterviewStage); ok {
		return Result{Prompt: q, State: StateAsking}, nil
	}

	return Result{
		Prompt:    f.completion(sess, sc),
		State:     StateCompleted,
		Completed: true,
	}, nil
}

func (f *Flow) completion(sess *domain.UserSession, sc *scenario.Scenario) string {
	limit := sc.Policy.FreeLimit
	if sc.Policy.Mode == scenario.ModeDailyLimit {
		limit = sc.Policy.DailyLimit
	}
	return strings.TrimSpace(scenario.Render(sc.Completion, map[string]string{
		"profile": sc.ProfileSummary(sess.InterviewAnswers),
		"limit":   strconv.Itoa(limit),
	}))
}

func joinNonEmpty(parts []string) string {
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n\n")
}
