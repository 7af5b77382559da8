package payment

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/backend-venue/internal/common"
	"github.com/noah-isme/backend-venue/internal/obs"
	"github.com/noah-isme/backend-venue/internal/store"
)

// EventStore records webhook audit rows. A duplicate event id reports false with a nil error.
type EventStore interface {
	InsertWebhookEvent(ctx context.Context, ev store.WebhookEvent) (bool, error)
}

// Scheduler hands a recorded event to downstream reconciliation.
type Scheduler interface {
	Schedule(ctx context.Context, eventID string) error
}

// IngestResult describes an acknowledged webhook.
type IngestResult struct {
	Accepted  bool
	Duplicate bool
	EventID   string
	EventType string
}

type envelope struct {
	ID      string          `json:"id"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Ingestor verifies, parses and records provider webhooks.
type Ingestor struct {
	Secret    string
	Store     EventStore
	Scheduler Scheduler
	Logger    zerolog.Logger
	Now       func() time.Time
}

// Ingest processes one delivery whose body carries its own event id.
func (in *Ingestor) Ingest(ctx context.Context, body []byte, signature string) (IngestResult, error) {
	return in.IngestDelivery(ctx, body, signature, "")
}

// IngestDelivery processes one delivery. headerEventID is used when the body carries no id; when
// both are absent the event id is derived from the body digest so identical redeliveries collapse.
func (in *Ingestor) IngestDelivery(ctx context.Context, body []byte, signature, headerEventID string) (IngestResult, error) {
	ctx, span := otel.Tracer("payment.Ingestor").Start(ctx, "Ingestor.Ingest")
	defer span.End()

	outcome := "error"
	defer func() {
		span.SetAttributes(attribute.String("payment.webhook.result", outcome))
		obs.CountOutcome(obs.PaymentWebhookTotal, providerRazorpay, outcome)
	}()

	signature = strings.TrimSpace(signature)
	if signature == "" {
		outcome = "missing_signature"
		return IngestResult{}, ValidationError("MISSING_SIGNATURE", "signature header is required")
	}
	if !VerifySignature(body, signature, in.Secret) {
		outcome = "invalid_signature"
		in.Logger.Warn().Int("body_bytes", len(body)).Msg("webhook signature verification failed")
		return IngestResult{}, AuthenticationError("signature verification failed")
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		outcome = "malformed"
		return IngestResult{}, ValidationError("MALFORMED_PAYLOAD", "payload is not valid JSON")
	}
	env.Event = strings.TrimSpace(env.Event)
	if env.Event == "" {
		outcome = "malformed"
		return IngestResult{}, ValidationError("MALFORMED_PAYLOAD", "event type is required")
	}
	eventID := strings.TrimSpace(env.ID)
	if eventID == "" {
		eventID = strings.TrimSpace(headerEventID)
	}
	if eventID == "" {
		eventID = "sha256:" + common.Sha256Hex(body)
	}
	span.SetAttributes(attribute.String("payment.event.id", eventID), attribute.String("payment.event.type", env.Event))

	if in.Store == nil {
		return IngestResult{}, PersistenceError("failed to record event", errors.New("event store not configured"))
	}
	inserted, err := in.Store.InsertWebhookEvent(ctx, store.WebhookEvent{
		GatewayName:    providerRazorpay,
		EventType:      env.Event,
		EventID:        eventID,
		Payload:        json.RawMessage(body),
		SignatureValid: true,
		ReceivedAt:     in.now(),
	})
	if err != nil {
		span.RecordError(err)
		in.Logger.Error().Err(err).Str("event_id", eventID).Msg("webhook event not recorded")
		return IngestResult{}, PersistenceError("failed to record event", err)
	}

	res := IngestResult{Accepted: true, Duplicate: !inserted, EventID: eventID, EventType: env.Event}
	outcome = "recorded"
	if res.Duplicate {
		outcome = "duplicate"
	}
	if in.Scheduler != nil {
		if err := in.Scheduler.Schedule(ctx, eventID); err != nil {
			in.Logger.Warn().Err(err).Str("event_id", eventID).Msg("reconciliation not scheduled")
		}
	}
	return res, nil
}

func (in *Ingestor) now() time.Time {
	if in.Now != nil {
		return in.Now().UTC()
	}
	return time.Now().UTC()
}

// Webhook exposes the Ingestor over HTTP.
type Webhook struct {
	Ingestor        *Ingestor
	SignatureHeader string
	EventIDHeader   string
}

// Handle answers POST /webhook.
func (h Webhook) Handle(w http.ResponseWriter, r *http.Request) {
	if h.Ingestor == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "webhook unavailable", nil)
		return
	}
	if r.Method != http.MethodPost {
		common.JSONError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", nil)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "unable to read payload", nil)
		return
	}
	res, err := h.Ingestor.IngestDelivery(r.Context(), body, r.Header.Get(h.signatureHeader()), r.Header.Get(h.eventIDHeader()))
	if err != nil {
		common.WriteAppError(w, err)
		return
	}
	common.OK(w, http.StatusOK, map[string]any{
		"eventId":   res.EventID,
		"duplicate": res.Duplicate,
	})
}

func (h Webhook) signatureHeader() string {
	if h.SignatureHeader == "" {
		return "X-Razorpay-Signature"
	}
	return h.SignatureHeader
}

func (h Webhook) eventIDHeader() string {
	if h.EventIDHeader == "" {
		return "X-Razorpay-Event-Id"
	}
	return h.EventIDHeader
}
