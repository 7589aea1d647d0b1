// Package scenario provides the declarative scenario catalog: question sets,
// quota policies, instructions and copy for each coaching flavor.
package scenario

import (
	"fmt"
	"strings"
	"time"
)

// PolicyMode selects how usage is limited for a scenario.
type PolicyMode string

const (
	// ModeDailyLimit allows a fixed number of AI turns per calendar day.
	ModeDailyLimit PolicyMode = "daily-limit"
	// ModeTotalFree allows a lifetime allowance of free turns, then offers a subscription.
	ModeTotalFree PolicyMode = "total-free-then-paywall"
)

const (
	defaultFreeLimit        = 5
	defaultSubscriptionDays = 7
	defaultCurrency         = "RUB"
	defaultFallback         = "Sorry, I can't answer right now. Please try again a bit later."
)

// Policy is the quota and pricing policy of a scenario.
type Policy struct {
	Mode               PolicyMode `yaml:"mode"`
	DailyLimit         int        `yaml:"daily_limit"`
	FreeLimit          int        `yaml:"free_limit"`
	SubscriptionDays   int        `yaml:"subscription_days"`
	PriceMinor         int64      `yaml:"price_minor"`
	Currency           string     `yaml:"currency"`
	InvoiceTitle       string     `yaml:"invoice_title"`
	InvoiceDescription string     `yaml:"invoice_description"`
}

// SubscriptionPeriod is the window granted by one successful payment.
func (p Policy) SubscriptionPeriod() time.Duration {
	return time.Duration(p.SubscriptionDays) * 24 * time.Hour
}

// Consent configures the optional consent gate before the first question.
type Consent struct {
	Required bool     `yaml:"required"`
	Prompt   string   `yaml:"prompt"`
	Accept   []string `yaml:"accept"`
	Retry    string   `yaml:"retry"`
}

// Accepts reports whether text is one of the affirmative tokens.
func (c Consent) Accepts(text string) bool {
	normalized := strings.ToLower(strings.Trim(strings.TrimSpace(text), ".!"))
	for _, token := range c.Accept {
		if normalized == strings.ToLower(token) {
			return true
		}
	}
	return false
}

// ProfileField maps an interview answer to a labeled profile line.
type ProfileField struct {
	Label  string `yaml:"label"`
	Answer int    `yaml:"answer"`
}

// ThinkingMode is a conversation mode the user can switch into.
type ThinkingMode struct {
	Title        string `yaml:"title"`
	Intro        string `yaml:"intro"`
	Instructions string `yaml:"instructions"`
}

// Messages is the user-facing copy for quota and payment events.
type Messages struct {
	Limit               string `yaml:"limit"`
	Paywall             string `yaml:"paywall"`
	SubscriptionEnded   string `yaml:"subscription_ended"`
	SubscriptionStarted string `yaml:"subscription_started"`
	Blocked             string `yaml:"blocked"`
}

// Scenario is one declarative coaching flavor.
type Scenario struct {
	ID           string                  `yaml:"id"`
	Title        string                  `yaml:"title"`
	Welcome      string                  `yaml:"welcome"`
	WelcomeImage string                  `yaml:"welcome_image"`
	Consent      Consent                 `yaml:"consent"`
	Questions    []string                `yaml:"questions"`
	Completion   string                  `yaml:"completion"`
	Profile      []ProfileField          `yaml:"profile"`
	SystemPrompt string                  `yaml:"system_prompt"`
	Modes        map[string]ThinkingMode `yaml:"modes"`
	Fallbacks    []string                `yaml:"fallbacks"`
	Policy       Policy                  `yaml:"policy"`
	Messages     Messages                `yaml:"messages"`
}

// QuestionCount returns the number of interview questions.
func (s *Scenario) QuestionCount() int {
	return len(s.Questions)
}

// Question returns question i.
func (s *Scenario) Question(i int) (string, bool) {
	if i < 0 || i >= len(s.Questions) {
		return "", false
	}
	return s.Questions[i], true
}

// Mode returns the thinking mode registered under name.
func (s *Scenario) Mode(name string) (ThinkingMode, bool) {
	m, ok := s.Modes[name]
	return m, ok
}

// ProfileSummary renders the labeled profile built from interview answers.
// Fields pointing past the collected answers are skipped.
func (s *Scenario) ProfileSummary(answers []string) string {
	var b strings.Builder
	for _, f := range s.Profile {
		if f.Answer < 0 || f.Answer >= len(answers) {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", f.Label, strings.TrimSpace(answers[f.Answer]))
	}
	if b.Len() == 0 {
		for i, a := range answers {
			q, _ := s.Question(i)
			fmt.Fprintf(&b, "- %s %s\n", q, strings.TrimSpace(a))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func (s *Scenario) applyDefaults() {
	if s.Policy.Mode == "" {
		s.Policy.Mode = ModeTotalFree
	}
	if s.Policy.Mode == ModeTotalFree && s.Policy.FreeLimit == 0 {
		s.Policy.FreeLimit = defaultFreeLimit
	}
	if s.Policy.SubscriptionDays == 0 {
		s.Policy.SubscriptionDays = defaultSubscriptionDays
	}
	if s.Policy.Currency == "" {
		s.Policy.Currency = defaultCurrency
	}
	if s.Policy.InvoiceTitle == "" {
		s.Policy.InvoiceTitle = s.Title
	}
	if s.Policy.InvoiceDescription == "" {
		s.Policy.InvoiceDescription = s.Policy.InvoiceTitle
	}
	if len(s.Fallbacks) == 0 {
		s.Fallbacks = []string{defaultFallback}
	}
	if s.Consent.Required && len(s.Consent.Accept) == 0 {
		s.Consent.Accept = []string{"yes"}
	}
}

func (s *Scenario) validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: scenario without id", ErrInvalid)
	}
	if len(s.Questions) == 0 {
		return fmt.Errorf("%w: scenario %q has no questions", ErrInvalid, s.ID)
	}
	switch s.Policy.Mode {
	case ModeDailyLimit:
		if s.Policy.DailyLimit < 0 {
			return fmt.Errorf("%w: scenario %q has a negative daily limit", ErrInvalid, s.ID)
		}
	case ModeTotalFree:
		if s.Policy.FreeLimit < 0 {
			return fmt.Errorf("%w: scenario %q has a negative free limit", ErrInvalid, s.ID)
		}
	default:
		return fmt.Errorf("%w: scenario %q has unknown policy mode %q", ErrInvalid, s.ID, s.Policy.Mode)
	}
	if s.Policy.SubscriptionDays < 0 || s.Policy.PriceMinor < 0 {
		return fmt.Errorf("%w: scenario %q has negative pricing", ErrInvalid, s.ID)
	}
	for _, f := range s.Profile {
		if f.Answer < 0 || f.Answer >= len(s.Questions) {
			return fmt.Errorf("%w: scenario %q profile field %q points to missing answer %d", ErrInvalid, s.ID, f.Label, f.Answer)
		}
	}
	return nil
}

// Render substitutes {{key}} placeholders in text.
func Render(text string, vars map[string]string) string {
	if len(vars) == 0 {
		return text
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(text)
}
