package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-venue/internal/booking"
	"github.com/noah-isme/backend-venue/internal/payment"
	"github.com/noah-isme/backend-venue/internal/pricing"
	"github.com/noah-isme/backend-venue/internal/store"
)

type memEvents struct {
	mu   sync.Mutex
	rows map[string]store.WebhookEvent
}

func (m *memEvents) InsertWebhookEvent(_ context.Context, ev store.WebhookEvent) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[ev.EventID]; ok {
		return false, nil
	}
	m.rows[ev.EventID] = ev
	return true, nil
}

type nopScheduler struct{}

func (nopScheduler) Schedule(context.Context, string) error { return nil }

func testRoutes(events *memEvents) http.Handler {
	fees := pricing.MustFeeSchedule("0.134", 4500, 50000)
	return routes{
		Payments: &payment.Handler{Gateway: &payment.Gateway{}, Fees: fees, Logger: zerolog.Nop()},
		Webhook: payment.Webhook{Ingestor: &payment.Ingestor{
			Secret:    "whsec",
			Store:     events,
			Scheduler: nopScheduler{},
			Logger:    zerolog.Nop(),
		}},
		Bookings:       &booking.Handler{Fees: fees, Logger: zerolog.Nop()},
		WebhookMaxBody: 1024,
		Logger:         zerolog.Nop(),
	}.handler()
}

func TestRouterWebhookIsIdempotent(t *testing.T) {
	events := &memEvents{rows: map[string]store.WebhookEvent{}}
	h := testRoutes(events)
	body := []byte(`{"id":"evt_1","event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_1","order_id":"order_abc"}}}}`)
	sig := payment.ComputeSignature(body, "whsec")

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
		req.Header.Set("X-Razorpay-Signature", sig)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		require.Equal(t, http.StatusOK, rr.Code)
	}
	require.Len(t, events.rows, 1)
	require.Contains(t, events.rows, "evt_1")
}

func TestRouterWebhookBodyLimit(t *testing.T) {
	h := testRoutes(&memEvents{rows: map[string]store.WebhookEvent{}})
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(bytes.Repeat([]byte("a"), 2048)))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

func TestRouterJSONFallbacks(t *testing.T) {
	h := testRoutes(&memEvents{rows: map[string]store.WebhookEvent{}})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/create-order", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	require.Contains(t, rr.Body.String(), `"success":false`)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/nope", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Contains(t, rr.Body.String(), "NOT_FOUND")
}

func TestRouterFeeQuoteAndAdminGuard(t *testing.T) {
	h := testRoutes(&memEvents{rows: map[string]store.WebhookEvent{}})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/fees/quote?venueAmount=33600", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"success":true,"fees":{"venueAmount":33600,"platformFee":4502,"total":38102}}`, rr.Body.String())
	require.Equal(t, "no-store", rr.Header().Get("Cache-Control"))

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin/payment-events", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
