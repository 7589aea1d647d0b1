package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/ashureev/coachbot/internal/domain"
)

const (
	defaultAPIURL    = "https://api.telegram.org"
	defaultRateLimit = 25
	maxMessageRunes  = 4096
)

// ClientConfig configures a Client.
type ClientConfig struct {
	Token         string
	APIURL        string
	ProviderToken string
	// RateLimit is the outbound request budget per second.
	RateLimit  int
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client calls Bot API methods. Every request waits on a shared token
// bucket so bursts of replies stay under the Bot API flood limits.
type Client struct {
	baseURL       string
	providerToken string
	http          *http.Client
	limiter       *rate.Limiter
	logger        *slog.Logger
}

// NewClient creates a Bot API client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Token == "" {
		return nil, errors.New("telegram bot token is required")
	}
	if cfg.APIURL == "" {
		cfg.APIURL = defaultAPIURL
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		baseURL:       strings.TrimRight(cfg.APIURL, "/") + "/bot" + cfg.Token,
		providerToken: cfg.ProviderToken,
		http:          cfg.HTTPClient,
		limiter:       rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimit),
		logger:        cfg.Logger,
	}, nil
}

func (c *Client) call(ctx context.Context, method string, params, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}

	body, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encode %s params: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	defer resp.Body.Close()

	var r apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return fmt.Errorf("decode %s response (status %d): %w", method, resp.StatusCode, err)
	}
	if !r.OK {
		apiErr := &APIError{Method: method, Code: r.ErrorCode, Description: r.Description}
		if r.Parameters != nil {
			apiErr.RetryAfter = r.Parameters.RetryAfter
		}
		return apiErr
	}
	if out != nil && len(r.Result) > 0 {
		if err := json.Unmarshal(r.Result, out); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return nil
}

// SendText sends text to a chat. Texts longer than one Bot API message are
// split on line boundaries where possible.
func (c *Client) SendText(ctx context.Context, chatID int64, text string) error {
	for _, part := range splitMessage(text, maxMessageRunes) {
		params := map[string]any{"chat_id": chatID, "text": part}
		if err := c.call(ctx, "sendMessage", params, nil); err != nil {
			return err
		}
	}
	return nil
}

// SendPhoto sends a photo by URL or file id with an optional caption.
func (c *Client) SendPhoto(ctx context.Context, chatID int64, photo, caption string) error {
	params := map[string]any{"chat_id": chatID, "photo": photo}
	if caption != "" {
		params["caption"] = caption
	}
	return c.call(ctx, "sendPhoto", params, nil)
}

// SendInvoice sends a Telegram Payments invoice.
func (c *Client) SendInvoice(ctx context.Context, chatID int64, inv domain.Invoice) error {
	if c.providerToken == "" {
		return errors.New("telegram payments provider token is not configured")
	}
	label := inv.Label
	if label == "" {
		label = inv.Title
	}
	params := map[string]any{
		"chat_id":        chatID,
		"title":          inv.Title,
		"description":    inv.Description,
		"payload":        inv.Payload,
		"provider_token": c.providerToken,
		"currency":       inv.Currency,
		"prices":         []LabeledPrice{{Label: label, Amount: inv.AmountMinor}},
	}
	return c.call(ctx, "sendInvoice", params, nil)
}

// AnswerPreCheckout confirms or declines a pre-checkout query.
func (c *Client) AnswerPreCheckout(ctx context.Context, queryID string, ok bool, errorMessage string) error {
	params := map[string]any{"pre_checkout_query_id": queryID, "ok": ok}
	if !ok && errorMessage != "" {
		params["error_message"] = errorMessage
	}
	return c.call(ctx, "answerPreCheckoutQuery", params, nil)
}

// SetWebhook points the bot at url. Telegram echoes secret in the
// X-Telegram-Bot-Api-Secret-Token header of every delivery.
func (c *Client) SetWebhook(ctx context.Context, url, secret string) error {
	params := map[string]any{
		"url":             url,
		"allowed_updates": []string{"message", "pre_checkout_query"},
	}
	if secret != "" {
		params["secret_token"] = secret
	}
	return c.call(ctx, "setWebhook", params, nil)
}

// DeleteWebhook removes the webhook so getUpdates can be used.
func (c *Client) DeleteWebhook(ctx context.Context) error {
	return c.call(ctx, "deleteWebhook", map[string]any{}, nil)
}

// GetUpdates long-polls for updates with ids >= offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	params := map[string]any{
		"offset":          offset,
		"timeout":         int(timeout.Seconds()),
		"allowed_updates": []string{"message", "pre_checkout_query"},
	}
	var updates []Update
	if err := c.call(ctx, "getUpdates", params, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

func splitMessage(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}
	var parts []string
	for len(runes) > limit {
		cut := limit
		for i := limit - 1; i > limit/2; i-- {
			if runes[i] == '\n' {
				cut = i + 1
				break
			}
		}
		parts = append(parts, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		parts = append(parts, string(runes))
	}
	return parts
}
