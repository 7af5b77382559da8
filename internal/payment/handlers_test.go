package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-venue/internal/pricing"
	"github.com/noah-isme/backend-venue/internal/store"
)

type envelopeResp struct {
	Success bool                 `json:"success"`
	OrderID string               `json:"orderId"`
	Order   json.RawMessage      `json:"order"`
	Fees    pricing.FeeBreakdown `json:"fees"`
	Error   struct {
		Code    string          `json:"code"`
		Details json.RawMessage `json:"details"`
	} `json:"error"`
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) envelopeResp {
	t.Helper()
	var out envelopeResp
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	return out
}

func TestCreateOrderHandler(t *testing.T) {
	stub := &stubProvider{body: `{"id":"order_abc","amount":50000}`}
	h := &Handler{Gateway: newGateway(t, stub), Logger: zerolog.Nop()}

	req := httptest.NewRequest(http.MethodPost, "/create-order", strings.NewReader(`{"amount":50000,"receipt":"r1"}`))
	rr := httptest.NewRecorder()
	h.CreateOrder(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	body := decode(t, rr)
	require.True(t, body.Success)
	require.Equal(t, "order_abc", body.OrderID)
	require.JSONEq(t, stub.body, string(body.Order))
}

func TestCreateOrderHandlerRejectsOtherMethods(t *testing.T) {
	stub := &stubProvider{body: `{"id":"order_abc"}`}
	h := &Handler{Gateway: newGateway(t, stub)}
	for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete} {
		rr := httptest.NewRecorder()
		h.CreateOrder(rr, httptest.NewRequest(method, "/create-order", nil))
		require.Equal(t, http.StatusMethodNotAllowed, rr.Code)
		require.False(t, decode(t, rr).Success)
	}
	require.Equal(t, int32(0), stub.hits.Load())
}

func TestCreateOrderHandlerValidation(t *testing.T) {
	stub := &stubProvider{body: `{"id":"order_abc"}`}
	h := &Handler{Gateway: newGateway(t, stub)}
	for _, payload := range []string{`{"amount":0,"receipt":"r1"}`, `{"amount":10}`, `not-json`, `{"amount":10,"receipt":"r","currency":"INDIA"}`} {
		rr := httptest.NewRecorder()
		h.CreateOrder(rr, httptest.NewRequest(http.MethodPost, "/create-order", strings.NewReader(payload)))
		require.Equal(t, http.StatusBadRequest, rr.Code, payload)
	}
	require.Equal(t, int32(0), stub.hits.Load())
}

func TestCreateOrderHandlerUpstreamError(t *testing.T) {
	stub := &stubProvider{status: http.StatusUnauthorized, body: `{"error":{"code":"BAD_REQUEST_ERROR","description":"Authentication failed"}}`}
	h := &Handler{Gateway: newGateway(t, stub)}
	rr := httptest.NewRecorder()
	h.CreateOrder(rr, httptest.NewRequest(http.MethodPost, "/create-order", strings.NewReader(`{"amount":100,"receipt":"r1"}`)))
	require.Equal(t, http.StatusBadGateway, rr.Code)
	body := decode(t, rr)
	require.Equal(t, "UPSTREAM_ERROR", body.Error.Code)
	require.Contains(t, string(body.Error.Details), "Authentication failed")
}

func TestVerifyPaymentHandler(t *testing.T) {
	h := &Handler{KeySecret: testKeySecret, Logger: zerolog.Nop()}
	sig := ComputeSignature([]byte("order_abc|pay_1"), testKeySecret)

	rr := httptest.NewRecorder()
	h.VerifyPayment(rr, httptest.NewRequest(http.MethodPost, "/verify-payment",
		strings.NewReader(`{"razorpay_order_id":"order_abc","razorpay_payment_id":"pay_1","razorpay_signature":"`+sig+`"}`)))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	h.VerifyPayment(rr, httptest.NewRequest(http.MethodPost, "/verify-payment",
		strings.NewReader(`{"razorpay_order_id":"order_abc","razorpay_payment_id":"pay_2","razorpay_signature":"`+sig+`"}`)))
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "INVALID_SIGNATURE", decode(t, rr).Error.Code)
}

func TestFeeQuoteHandler(t *testing.T) {
	h := &Handler{Fees: pricing.MustFeeSchedule("0.134", 4500, 50000), Venues: venueTable{"venue_1": 33600}}

	rr := httptest.NewRecorder()
	h.FeeQuote(rr, httptest.NewRequest(http.MethodGet, "/fees/quote?venueAmount=33600", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, pricing.FeeBreakdown{VenueAmount: 33600, PlatformFee: 4502, Total: 38102}, decode(t, rr).Fees)

	rr = httptest.NewRecorder()
	h.FeeQuote(rr, httptest.NewRequest(http.MethodGet, "/fees/quote?venueId=venue_1", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, int64(38102), decode(t, rr).Fees.Total)

	rr = httptest.NewRecorder()
	h.FeeQuote(rr, httptest.NewRequest(http.MethodGet, "/fees/quote?venueAmount=-1", nil))
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = httptest.NewRecorder()
	h.FeeQuote(rr, httptest.NewRequest(http.MethodGet, "/fees/quote?venueAmount=9223372036854775807", nil))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

type fakeReader struct {
	rows []store.WebhookEvent
	last store.EventFilter
}

func (f *fakeReader) ListWebhookEvents(_ context.Context, filter store.EventFilter) ([]store.WebhookEvent, error) {
	f.last = filter
	return f.rows, nil
}

func (f *fakeReader) GetWebhookEvent(_ context.Context, id string) (store.WebhookEvent, error) {
	for _, row := range f.rows {
		if row.EventID == id {
			return row, nil
		}
	}
	return store.WebhookEvent{}, store.ErrNotFound
}

type fakeReplayer struct{ ids []string }

func (f *fakeReplayer) Replay(_ context.Context, id string) error {
	f.ids = append(f.ids, id)
	return nil
}

func TestAdminHandlers(t *testing.T) {
	reader := &fakeReader{rows: []store.WebhookEvent{{EventID: "evt_1", EventType: "payment.captured"}}}
	replayer := &fakeReplayer{}
	h := AdminHandler{Events: reader, Replayer: replayer, Logger: zerolog.Nop()}
	r := chi.NewRouter()
	r.Get("/admin/payment-events", h.List)
	r.Post("/admin/payment-events/{eventId}/replay", h.Replay)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin/payment-events?page=2&limit=10&processed=false", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, 11, reader.last.Limit)
	require.Equal(t, 10, reader.last.Offset)
	require.NotNil(t, reader.last.Processed)
	require.False(t, *reader.last.Processed)

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin/payment-events?page=0", nil))
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/admin/payment-events/evt_1/replay", nil))
	require.Equal(t, http.StatusAccepted, rr.Code)
	require.Equal(t, []string{"evt_1"}, replayer.ids)

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/admin/payment-events/evt_missing/replay", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)
}
