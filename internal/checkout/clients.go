package checkout

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/noah-isme/backend-venue/internal/common"
	"github.com/noah-isme/backend-venue/internal/resilience"
)

// RemoteError is an error envelope returned by the booking API.
type RemoteError struct {
	Status  int
	Code    string
	Message string
	Fields  map[string]string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("booking api %d %s: %s", e.Status, e.Code, e.Message)
}

type envelope struct {
	Success bool `json:"success"`
	Error   *struct {
		Code    string          `json:"code"`
		Message string          `json:"message"`
		Details json.RawMessage `json:"details"`
	} `json:"error"`
	OrderID string `json:"orderId"`
	Order   struct {
		ID       string `json:"id"`
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
	} `json:"order"`
}

// OrderClient calls POST /create-order on the booking API.
type OrderClient struct {
	BaseURL string
	HTTP    resilience.HTTPClient
}

// CreateOrder implements OrderCreator. The receipt doubles as the idempotency key.
func (c OrderClient) CreateOrder(ctx context.Context, req OrderRequest) (Order, error) {
	env, err := post(ctx, c.HTTP, c.BaseURL+"/create-order", req.Receipt, req)
	if err != nil {
		return Order{}, err
	}
	id := env.OrderID
	if id == "" {
		id = env.Order.ID
	}
	if id == "" {
		return Order{}, fmt.Errorf("create-order response without order id")
	}
	return Order{ID: id, Amount: env.Order.Amount, Currency: env.Order.Currency}, nil
}

// IntentClient calls POST /booking-intents on the booking API.
type IntentClient struct {
	BaseURL string
	HTTP    resilience.HTTPClient
}

// SaveIntent implements BookingSink.
func (c IntentClient) SaveIntent(ctx context.Context, intent BookingIntent) error {
	_, err := post(ctx, c.HTTP, c.BaseURL+"/booking-intents", "", intent)
	return err
}

func post(ctx context.Context, client resilience.HTTPClient, endpoint, idemKey string, body any) (envelope, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return envelope{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(endpoint, "/"), bytes.NewReader(data))
	if err != nil {
		return envelope{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if idemKey != "" {
		req.Header.Set(common.IdempotencyHeader, idemKey)
	}
	resp, err := client.Do(ctx, req)
	if err != nil {
		return envelope{}, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return envelope{}, fmt.Errorf("read response: %w", err)
	}
	var env envelope
	decodeErr := json.Unmarshal(raw, &env)
	if resp.StatusCode >= 200 && resp.StatusCode < 300 && decodeErr == nil && env.Success {
		return env, nil
	}
	remote := &RemoteError{Status: resp.StatusCode, Code: "UNEXPECTED_RESPONSE", Message: http.StatusText(resp.StatusCode)}
	if decodeErr == nil && env.Error != nil {
		remote.Code = env.Error.Code
		remote.Message = env.Error.Message
		var fields map[string]string
		if json.Unmarshal(env.Error.Details, &fields) == nil {
			remote.Fields = fields
		}
	}
	return envelope{}, remote
}
