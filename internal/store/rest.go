package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-venue/internal/resilience"
)

// REST stores rows through a PostgREST-compatible API of a hosted backend.
type REST struct {
	BaseURL    string
	ServiceKey string
	HTTP       resilience.HTTPClient
}

// RESTError is returned for non-2xx answers from the backend.
type RESTError struct {
	Status int
	Body   string
}

func (e *RESTError) Error() string {
	return fmt.Sprintf("store: rest status %d: %s", e.Status, e.Body)
}

// Ping checks that the REST endpoint answers within timeout.
func (s *REST) Ping(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	q := url.Values{"select": {"id"}, "limit": {"1"}}
	return s.do(ctx, http.MethodGet, "venues", q, nil, "", nil)
}

// InsertWebhookEvent records ev. It reports false without error when the event id already exists.
func (s *REST) InsertWebhookEvent(ctx context.Context, ev WebhookEvent) (bool, error) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now().UTC()
	}
	ev.Processed = false
	var rows []WebhookEvent
	q := url.Values{"on_conflict": {"event_id"}}
	err := s.do(ctx, http.MethodPost, "payment_webhook_events", q, ev, "resolution=ignore-duplicates,return=representation", &rows)
	if isConflict(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert webhook event: %w", err)
	}
	return len(rows) > 0, nil
}

// GetWebhookEvent loads the audit row for eventID.
func (s *REST) GetWebhookEvent(ctx context.Context, eventID string) (WebhookEvent, error) {
	var rows []WebhookEvent
	q := url.Values{"event_id": {"eq." + eventID}, "select": {"*"}, "limit": {"1"}}
	if err := s.do(ctx, http.MethodGet, "payment_webhook_events", q, nil, "", &rows); err != nil {
		return WebhookEvent{}, fmt.Errorf("get webhook event: %w", err)
	}
	if len(rows) == 0 {
		return WebhookEvent{}, ErrNotFound
	}
	return rows[0], nil
}

// ListWebhookEvents returns audit rows newest first.
func (s *REST) ListWebhookEvents(ctx context.Context, f EventFilter) ([]WebhookEvent, error) {
	q := url.Values{
		"select": {"*"},
		"order":  {"received_at.desc"},
		"limit":  {strconv.Itoa(f.limit())},
		"offset": {strconv.Itoa(f.offset())},
	}
	if f.Processed != nil {
		q.Set("processed", "eq."+strconv.FormatBool(*f.Processed))
	}
	var rows []WebhookEvent
	if err := s.do(ctx, http.MethodGet, "payment_webhook_events", q, nil, "", &rows); err != nil {
		return nil, fmt.Errorf("list webhook events: %w", err)
	}
	return rows, nil
}

// MarkWebhookProcessed flips processed to true. It reports false when the row was already processed.
func (s *REST) MarkWebhookProcessed(ctx context.Context, eventID string) (bool, error) {
	q := url.Values{"event_id": {"eq." + eventID}, "processed": {"eq.false"}}
	patch := map[string]any{"processed": true, "processed_at": time.Now().UTC()}
	var rows []WebhookEvent
	if err := s.do(ctx, http.MethodPatch, "payment_webhook_events", q, patch, "return=representation", &rows); err != nil {
		return false, fmt.Errorf("mark webhook processed: %w", err)
	}
	return len(rows) > 0, nil
}

// InsertBookingIntent persists bi. It reports false without error when the provider payment id exists.
func (s *REST) InsertBookingIntent(ctx context.Context, bi BookingIntent) (bool, error) {
	if bi.ID == "" {
		bi.ID = uuid.NewString()
	}
	if bi.Status == "" {
		bi.Status = StatusPending
	}
	now := time.Now().UTC()
	bi.CreatedAt, bi.UpdatedAt = now, now
	var rows []BookingIntent
	q := url.Values{"on_conflict": {"provider_payment_id"}}
	err := s.do(ctx, http.MethodPost, "booking_intents", q, bi, "resolution=ignore-duplicates,return=representation", &rows)
	if isConflict(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert booking intent: %w", err)
	}
	return len(rows) > 0, nil
}

// BookingsByOrder returns the intents recorded for providerOrderID.
func (s *REST) BookingsByOrder(ctx context.Context, providerOrderID string) ([]BookingIntent, error) {
	var rows []BookingIntent
	q := url.Values{"provider_order_id": {"eq." + providerOrderID}}
	if err := s.do(ctx, http.MethodGet, "booking_intents", q, nil, "", &rows); err != nil {
		return nil, fmt.Errorf("bookings by order: %w", err)
	}
	return rows, nil
}

// UpdateBookingStatusByOrder moves every intent paid through c.ProviderOrderID to c.Status when its
// current status allows the transition and, for paid or authorized, its total equals c.Amount.
// It returns the number of intents changed.
func (s *REST) UpdateBookingStatusByOrder(ctx context.Context, c StatusChange) (int64, error) {
	prior := PriorStatuses(c.Status)
	if len(prior) == 0 {
		return 0, fmt.Errorf("update booking status: unknown status %q", c.Status)
	}
	q := url.Values{
		"provider_order_id": {"eq." + c.ProviderOrderID},
		"status":            {"in.(" + strings.Join(prior, ",") + ")"},
	}
	if AmountChecked(c.Status) {
		q.Set("total_amount", "eq."+strconv.FormatInt(c.Amount, 10))
	}
	patch := map[string]any{"status": c.Status, "updated_at": time.Now().UTC()}
	var rows []BookingIntent
	if err := s.do(ctx, http.MethodPatch, "booking_intents", q, patch, "return=representation", &rows); err != nil {
		return 0, fmt.Errorf("update booking status: %w", err)
	}
	return int64(len(rows)), nil
}

// VenuePrice returns the trusted per-booking price of a venue in minor units.
func (s *REST) VenuePrice(ctx context.Context, venueID string) (int64, error) {
	var rows []struct {
		PriceMinor int64 `json:"price_minor"`
	}
	q := url.Values{"id": {"eq." + venueID}, "select": {"price_minor"}, "limit": {"1"}}
	if err := s.do(ctx, http.MethodGet, "venues", q, nil, "", &rows); err != nil {
		return 0, fmt.Errorf("venue price: %w", err)
	}
	if len(rows) == 0 {
		return 0, ErrNotFound
	}
	return rows[0].PriceMinor, nil
}

func (s *REST) do(ctx context.Context, method, table string, q url.Values, body any, prefer string, out any) error {
	endpoint := strings.TrimRight(s.BaseURL, "/") + "/rest/v1/" + table
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode body: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("apikey", s.ServiceKey)
	req.Header.Set("Authorization", "Bearer "+s.ServiceKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}
	resp, err := s.HTTP.Do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &RESTError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

func isConflict(err error) bool {
	var restErr *RESTError
	return errors.As(err, &restErr) && restErr.Status == http.StatusConflict
}
