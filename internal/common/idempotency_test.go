package common

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestIdemReplaysFirstAnswer(t *testing.T) {
	idem := Idem{R: newTestRedis(t), TTL: time.Minute}
	calls := 0
	handler := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		JSON(w, http.StatusOK, map[string]any{"success": true, "orderId": "order_1"})
	}))

	var bodies []string
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/create-order", nil)
		req.Header.Set(IdempotencyHeader, "abc")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		require.Equal(t, http.StatusOK, rr.Code, "request %d", i)
		require.Equal(t, "application/json", rr.Header().Get("Content-Type"))
		bodies = append(bodies, rr.Body.String())
		if i == 1 {
			require.Equal(t, "true", rr.Header().Get(IdempotentReplayHeader))
		}
	}
	require.Equal(t, 1, calls)
	require.Equal(t, bodies[0], bodies[1])
	require.Contains(t, bodies[1], "order_1")
}

func TestIdemConflictWhileInFlight(t *testing.T) {
	client := newTestRedis(t)
	idem := Idem{R: client, TTL: time.Minute}
	require.NoError(t, client.Set(context.Background(), hashKey("/create-order", "busy"), idemPending, time.Minute).Err())

	handler := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))
	req := httptest.NewRequest(http.MethodPost, "/create-order", nil)
	req.Header.Set(IdempotencyHeader, "busy")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Contains(t, rr.Body.String(), "IDEMPOTENT_REPLAY")
}

func TestIdemReleasesKeyOnServerError(t *testing.T) {
	idem := Idem{R: newTestRedis(t), TTL: time.Minute}
	status := http.StatusBadGateway
	handler := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))

	req := httptest.NewRequest(http.MethodPost, "/create-order", nil)
	req.Header.Set(IdempotencyHeader, "retry-me")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusBadGateway, rr.Code)

	status = http.StatusOK
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req.Clone(req.Context()))
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestIdemWithoutHeaderPassesThrough(t *testing.T) {
	idem := Idem{R: newTestRedis(t)}
	calls := 0
	handler := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	for i := 0; i < 2; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/create-order", nil))
	}
	require.Equal(t, 2, calls)
}
