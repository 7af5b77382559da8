package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// Booking payment statuses.
const (
	StatusPending    = "pending"
	StatusAuthorized = "authorized"
	StatusPaid       = "paid"
	StatusFailed     = "failed"
	StatusRefunded   = "refunded"
)

// PriorStatuses lists the booking statuses a booking may move to status from. Reconciliation never
// downgrades a paid booking or resurrects a failed one as authorized.
func PriorStatuses(status string) []string {
	switch status {
	case StatusAuthorized:
		return []string{StatusPending}
	case StatusPaid:
		return []string{StatusPending, StatusAuthorized, StatusFailed}
	case StatusFailed:
		return []string{StatusPending, StatusAuthorized}
	case StatusRefunded:
		return []string{StatusPaid}
	default:
		return nil
	}
}

// AmountChecked reports whether moving a booking to status requires the provider's captured
// amount to equal the booking total.
func AmountChecked(status string) bool {
	return status == StatusPaid || status == StatusAuthorized
}

// StatusChange moves the bookings of one provider order. Amount is the amount the provider
// reported in minor units; for statuses where AmountChecked is true only bookings whose
// total_amount equals it are moved.
type StatusChange struct {
	ProviderOrderID string
	Status          string
	Amount          int64
}

// WebhookEvent is one audit row for a verified provider notification.
type WebhookEvent struct {
	ID             string          `json:"id,omitempty"`
	GatewayName    string          `json:"gateway_name"`
	EventType      string          `json:"event_type"`
	EventID        string          `json:"event_id"`
	Payload        json.RawMessage `json:"payload"`
	SignatureValid bool            `json:"signature_valid"`
	Processed      bool            `json:"processed"`
	ReceivedAt     time.Time       `json:"received_at"`
	ProcessedAt    *time.Time      `json:"processed_at,omitempty"`
}

// BookingIntent records a booking whose payment the provider reported as successful on the client.
type BookingIntent struct {
	ID                string    `json:"id"`
	VenueID           string    `json:"venue_id"`
	BookingDate       string    `json:"booking_date"`
	Slot              string    `json:"slot"`
	Guests            int       `json:"guests"`
	VenueAmount       int64     `json:"venue_amount"`
	PlatformFee       int64     `json:"platform_fee"`
	TotalAmount       int64     `json:"total_amount"`
	Currency          string    `json:"currency"`
	ProviderOrderID   string    `json:"provider_order_id"`
	ProviderPaymentID string    `json:"provider_payment_id"`
	ProviderSignature string    `json:"provider_signature"`
	Status            string    `json:"status"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// EventFilter narrows webhook event listings.
type EventFilter struct {
	Processed *bool
	Limit     int
	Offset    int
}

func (f EventFilter) limit() int {
	if f.Limit <= 0 || f.Limit > 500 {
		return 50
	}
	return f.Limit
}

func (f EventFilter) offset() int {
	if f.Offset < 0 {
		return 0
	}
	return f.Offset
}

// Store is the full persistence surface of the payment boundary. Postgres and REST implement it.
type Store interface {
	Ping(ctx context.Context, timeout time.Duration) error
	InsertWebhookEvent(ctx context.Context, ev WebhookEvent) (bool, error)
	GetWebhookEvent(ctx context.Context, eventID string) (WebhookEvent, error)
	ListWebhookEvents(ctx context.Context, f EventFilter) ([]WebhookEvent, error)
	MarkWebhookProcessed(ctx context.Context, eventID string) (bool, error)
	InsertBookingIntent(ctx context.Context, bi BookingIntent) (bool, error)
	BookingsByOrder(ctx context.Context, providerOrderID string) ([]BookingIntent, error)
	UpdateBookingStatusByOrder(ctx context.Context, c StatusChange) (int64, error)
	VenuePrice(ctx context.Context, venueID string) (int64, error)
}

var (
	_ Store = (*Postgres)(nil)
	_ Store = (*REST)(nil)
)
