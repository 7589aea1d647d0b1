package agent

import (
	"context"
	"fmt"
)

// Provider names accepted by NewCompleter.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Completer defines the interface for a completion provider.
// Implementations return the reply text or an error; they never retry.
type Completer interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

// Ensure the provider clients implement Completer.
var (
	_ Completer = (*OpenAIClient)(nil)
	_ Completer = (*GeminiClient)(nil)
)

// NewCompleter builds the provider selected by cfg.Provider.
func NewCompleter(ctx context.Context, cfg Config) (Completer, error) {
	switch cfg.Provider {
	case ProviderOpenAI, "":
		return NewOpenAIClient(cfg), nil
	case ProviderGemini:
		c, err := NewGeminiClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown completion provider %q", cfg.Provider)
	}
}
