package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const defaultAPIURL = "https://api.yookassa.ru/v3"

// InvoiceRequest describes a payment to create.
type InvoiceRequest struct {
	AmountMinor int64
	Currency    string
	Description string
	SessionID   string
}

// Invoice is a created payment awaiting the user.
type Invoice struct {
	PaymentID string
	PayURL    string
}

// InvoiceClient creates hosted payment pages through a YooKassa-style API.
type InvoiceClient struct {
	baseURL   string
	shopID    string
	secretKey string
	returnURL string
	http      *http.Client
}

// NewInvoiceClient creates a client. An empty baseURL selects the public API.
func NewInvoiceClient(baseURL, shopID, secretKey, returnURL string) *InvoiceClient {
	if baseURL == "" {
		baseURL = defaultAPIURL
	}
	return &InvoiceClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		shopID:    shopID,
		secretKey: secretKey,
		returnURL: returnURL,
		http:      &http.Client{Timeout: 15 * time.Second},
	}
}

type amount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type confirmation struct {
	Type            string `json:"type"`
	ReturnURL       string `json:"return_url,omitempty"`
	ConfirmationURL string `json:"confirmation_url,omitempty"`
}

type createPaymentRequest struct {
	Amount       amount            `json:"amount"`
	Confirmation confirmation      `json:"confirmation"`
	Capture      bool              `json:"capture"`
	Description  string            `json:"description,omitempty"`
	Metadata     map[string]string `json:"metadata"`
}

type paymentResponse struct {
	ID           string       `json:"id"`
	Status       string       `json:"status"`
	Confirmation confirmation `json:"confirmation"`
}

// CreateInvoice creates a payment carrying req.SessionID as metadata and
// returns its pay URL.
func (c *InvoiceClient) CreateInvoice(ctx context.Context, req InvoiceRequest) (*Invoice, error) {
	body, err := json.Marshal(createPaymentRequest{
		Amount: amount{
			Value:    FormatMinor(req.AmountMinor),
			Currency: req.Currency,
		},
		Confirmation: confirmation{Type: "redirect", ReturnURL: c.returnURL},
		Capture:      true,
		Description:  req.Description,
		Metadata:     map[string]string{"session_id": req.SessionID},
	})
	if err != nil {
		return nil, fmt.Errorf("encode payment request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/payments", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build payment request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotence-Key", uuid.NewString())
	httpReq.SetBasicAuth(c.shopID, c.secretKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("create payment: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out paymentResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode payment response: %w", err)
	}
	if out.Confirmation.ConfirmationURL == "" {
		return nil, fmt.Errorf("payment %s has no confirmation url", out.ID)
	}
	return &Invoice{PaymentID: out.ID, PayURL: out.Confirmation.ConfirmationURL}, nil
}

// FormatMinor renders an amount in minor units as a decimal string.
func FormatMinor(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}
