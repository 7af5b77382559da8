package payment

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-venue/internal/common"
	"github.com/noah-isme/backend-venue/internal/pricing"
	"github.com/noah-isme/backend-venue/internal/resilience"
	"github.com/noah-isme/backend-venue/internal/store"
)

const (
	testKeyID     = "rzp_test_key"
	testKeySecret = "rzp_test_secret"
)

type stubProvider struct {
	hits    atomic.Int32
	status  int
	body    string
	payload OrderPayload
	auth    [2]string
}

func (s *stubProvider) serve(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		user, pass, _ := r.BasicAuth()
		s.auth = [2]string{user, pass}
		if r.URL.Path != "/v1/orders" || r.Method != http.MethodPost {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &s.payload)
		status := s.status
		if status == 0 {
			status = http.StatusOK
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, s.body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newGateway(t *testing.T, stub *stubProvider) *Gateway {
	t.Helper()
	srv := stub.serve(t)
	return &Gateway{
		Provider: Razorpay{
			KeyID:     testKeyID,
			KeySecret: testKeySecret,
			BaseURL:   srv.URL,
			HTTP:      resilience.HTTPClient{Client: srv.Client(), Timeout: time.Second},
		},
		Fees:            pricing.MustFeeSchedule("0.134", 4500, 50000),
		DefaultCurrency: "INR",
		Logger:          zerolog.Nop(),
	}
}

type venueTable map[string]int64

func (v venueTable) VenuePrice(_ context.Context, id string) (int64, error) {
	price, ok := v[id]
	if !ok {
		return 0, store.ErrNotFound
	}
	return price, nil
}

func TestCreateOrderSuccess(t *testing.T) {
	stub := &stubProvider{body: `{"id":"order_abc","entity":"order","amount":50000,"status":"created"}`}
	gw := newGateway(t, stub)

	res, err := gw.CreateOrder(context.Background(), OrderRequest{Amount: 50000, Receipt: "r1"})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, "order_abc", res.ProviderOrderID)
	require.JSONEq(t, stub.body, string(res.RawProviderPayload))

	require.Equal(t, int32(1), stub.hits.Load())
	require.Equal(t, [2]string{testKeyID, testKeySecret}, stub.auth)
	require.Equal(t, OrderPayload{Amount: 50000, Currency: "INR", Receipt: "r1", Notes: map[string]string{}, PaymentCapture: 1}, stub.payload)
}

func TestCreateOrderRejectsInvalidInputWithoutNetwork(t *testing.T) {
	stub := &stubProvider{body: `{"id":"order_abc"}`}
	gw := newGateway(t, stub)

	cases := []OrderRequest{
		{Amount: 0, Receipt: "r1"},
		{Amount: -5, Receipt: "r1"},
		{Amount: 100, Receipt: "   "},
		{Amount: 100, Receipt: "r1", Currency: "RUPEE"},
	}
	for _, req := range cases {
		res, err := gw.CreateOrder(context.Background(), req)
		require.Error(t, err)
		require.ErrorIs(t, err, ErrValidation)
		require.False(t, res.Success)
		appErr, ok := common.AsAppError(err)
		require.True(t, ok)
		require.Equal(t, http.StatusBadRequest, appErr.HTTPStatus)
	}
	require.Equal(t, int32(0), stub.hits.Load())
}

func TestCreateOrderUpstreamRejection(t *testing.T) {
	stub := &stubProvider{
		status: http.StatusBadRequest,
		body:   `{"error":{"code":"BAD_REQUEST_ERROR","description":"The api key rzp_test_key is invalid"}}`,
	}
	gw := newGateway(t, stub)

	res, err := gw.CreateOrder(context.Background(), OrderRequest{Amount: 100, Receipt: "r1", Currency: "inr"})
	require.ErrorIs(t, err, ErrUpstream)
	require.False(t, res.Success)
	require.NotContains(t, res.ErrorDetail, testKeyID)
	require.Contains(t, res.ErrorDetail, "BAD_REQUEST_ERROR")

	appErr, ok := common.AsAppError(err)
	require.True(t, ok)
	require.Equal(t, http.StatusBadGateway, appErr.HTTPStatus)
	require.Equal(t, "UPSTREAM_ERROR", appErr.Code)
	require.Equal(t, "INR", stub.payload.Currency)
}

func TestCreateOrderRejectsAnswerWithoutOrderID(t *testing.T) {
	for _, body := range []string{`{"entity":"order","status":"created"}`, `{"id":""}`, `not json`} {
		gw := newGateway(t, &stubProvider{body: body})
		res, err := gw.CreateOrder(context.Background(), OrderRequest{Amount: 100, Receipt: "r1"})
		require.ErrorIs(t, err, ErrUpstream, body)
		require.False(t, res.Success)
		require.Empty(t, res.ProviderOrderID)

		appErr, ok := common.AsAppError(err)
		require.True(t, ok)
		require.Equal(t, http.StatusBadGateway, appErr.HTTPStatus)
	}
}

func TestCreateOrderTransportFailure(t *testing.T) {
	gw := &Gateway{
		Provider: Razorpay{
			KeyID:     testKeyID,
			KeySecret: testKeySecret,
			BaseURL:   "http://127.0.0.1:1",
			HTTP:      resilience.HTTPClient{Client: &http.Client{Timeout: 200 * time.Millisecond}},
		},
		Logger: zerolog.Nop(),
	}
	_, err := gw.CreateOrder(context.Background(), OrderRequest{Amount: 100, Receipt: "r1"})
	require.ErrorIs(t, err, ErrTransport)
	require.NotContains(t, err.Error(), testKeySecret)
}

func TestCreateOrderVenuePricing(t *testing.T) {
	stub := &stubProvider{body: `{"id":"order_abc"}`}
	gw := newGateway(t, stub)
	gw.Venues = venueTable{"venue_1": 33600}

	_, err := gw.CreateOrder(context.Background(), OrderRequest{Amount: 38000, Receipt: "r1", VenueID: "venue_1"})
	appErr, ok := common.AsAppError(err)
	require.True(t, ok)
	require.Equal(t, http.StatusUnprocessableEntity, appErr.HTTPStatus)
	require.Equal(t, "AMOUNT_MISMATCH", appErr.Code)
	require.Equal(t, int32(0), stub.hits.Load())

	_, err = gw.CreateOrder(context.Background(), OrderRequest{Amount: 38102, Receipt: "r1", VenueID: "missing"})
	require.ErrorIs(t, err, ErrValidation)

	res, err := gw.CreateOrder(context.Background(), OrderRequest{Amount: 38102, Receipt: "r1", VenueID: "venue_1"})
	require.NoError(t, err)
	require.Equal(t, "order_abc", res.ProviderOrderID)
}

func TestCreateOrderRequiresVenueWhenEnforced(t *testing.T) {
	stub := &stubProvider{body: `{"id":"order_abc"}`}
	gw := newGateway(t, stub)
	gw.Venues = venueTable{}
	gw.RequireVenuePricing = true

	_, err := gw.CreateOrder(context.Background(), OrderRequest{Amount: 100, Receipt: "r1"})
	var appErr *common.AppError
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, "VENUE_REQUIRED", appErr.Code)
	require.Equal(t, int32(0), stub.hits.Load())
}
