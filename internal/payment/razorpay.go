package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/noah-isme/backend-venue/internal/resilience"
)

const providerRazorpay = "razorpay"

// OrderPayload is the body sent to the provider's order creation API.
type OrderPayload struct {
	Amount         int64             `json:"amount"`
	Currency       string            `json:"currency"`
	Receipt        string            `json:"receipt"`
	Notes          map[string]string `json:"notes"`
	PaymentCapture int               `json:"payment_capture"`
}

// ProviderError is a non-2xx answer from the provider. Body has credentials scrubbed.
type ProviderError struct {
	Status int
	Body   json.RawMessage
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider answered %d", e.Status)
}

// Provider creates orders with an upstream payment provider.
type Provider interface {
	Name() string
	CreateOrder(ctx context.Context, payload OrderPayload) (json.RawMessage, error)
}

// Razorpay talks to the Razorpay Orders API with HTTP Basic auth.
type Razorpay struct {
	KeyID     string
	KeySecret string
	BaseURL   string
	HTTP      resilience.HTTPClient
}

// Name implements Provider.
func (Razorpay) Name() string { return providerRazorpay }

// CreateOrder performs a single POST /v1/orders call. A non-2xx answer yields *ProviderError.
func (r Razorpay) CreateOrder(ctx context.Context, payload OrderPayload) (json.RawMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode order: %w", err)
	}
	endpoint := strings.TrimRight(r.BaseURL, "/") + "/v1/orders"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(r.KeyID, r.KeySecret)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := r.HTTP.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read provider response: %w", err)
	}
	body = r.scrub(body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &ProviderError{Status: resp.StatusCode, Body: asJSON(body)}
	}
	if !json.Valid(body) {
		return nil, &ProviderError{Status: resp.StatusCode, Body: asJSON(body)}
	}
	return body, nil
}

func (r Razorpay) scrub(body []byte) []byte {
	for _, secret := range []string{r.KeySecret, r.KeyID} {
		if secret != "" {
			body = bytes.ReplaceAll(body, []byte(secret), []byte("[redacted]"))
		}
	}
	return body
}

func asJSON(body []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && json.Valid(trimmed) {
		return trimmed
	}
	quoted, _ := json.Marshal(string(trimmed))
	return quoted
}
