// Package agent implements the AI conversation service and its completion
// providers.
package agent

import (
	"fmt"
	"time"
)

// Role identifies the author of a prompt message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a completion prompt.
type Message struct {
	Role    Role
	Content string
}

// Outcome categorizes the result of a completion call.
type Outcome string

const (
	// OutcomeOK indicates the provider returned a reply.
	OutcomeOK Outcome = "ok"
	// OutcomeTimeout indicates the call exceeded its deadline.
	OutcomeTimeout Outcome = "timeout"
	// OutcomeFailure indicates a provider error or an empty reply.
	OutcomeFailure Outcome = "failure"
)

// Reply is what the user receives for one dialogue turn. On any outcome
// other than OutcomeOK, Text is a fallback line.
type Reply struct {
	Text     string
	Outcome  Outcome
	Duration time.Duration
}

// OK reports whether the reply came from the provider.
func (r Reply) OK() bool {
	return r.Outcome == OutcomeOK
}

// Config holds completion provider configuration.
type Config struct {
	Provider    string
	APIKey      string
	BaseURL     string
	Model       string
	Timeout     time.Duration
	Temperature float64
	MaxTokens   int
}

// DefaultConfig returns the default provider configuration.
func DefaultConfig() Config {
	return Config{
		Provider:    ProviderOpenAI,
		BaseURL:     "https://api.deepseek.com/v1",
		Model:       "deepseek-chat",
		Timeout:     30 * time.Second,
		Temperature: 0.7,
		MaxTokens:   2000,
	}
}

// StatusError is a non-success response from a provider.
type StatusError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d: %v", e.Provider, e.StatusCode, e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }
