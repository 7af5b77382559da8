package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-venue/internal/common"
	"github.com/noah-isme/backend-venue/internal/obs"
)

// Limiter decides whether one more event for key fits in max per window.
type Limiter interface {
	Allow(ctx context.Context, key string, window time.Duration, max int) (allowed bool, remaining int, reset time.Time, err error)
}

// ByClientIP keys requests by scope and client address.
func ByClientIP(scope string) func(*http.Request) string {
	return func(r *http.Request) string {
		return scope + ":" + common.ClientIP(r)
	}
}

// Handler limits requests per key within Scope. Limiter failures let the request through and
// are logged; a nil Limiter disables limiting.
type Handler struct {
	Limiter Limiter
	Scope   string
	Window  time.Duration
	Max     int
	Key     func(*http.Request) string
	Logger  zerolog.Logger
}

// Middleware wraps next.
func (h Handler) Middleware(next http.Handler) http.Handler {
	if h.Limiter == nil || h.Max <= 0 {
		return next
	}
	key := h.Key
	if key == nil {
		key = ByClientIP(h.Scope)
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, remaining, resetAt, err := h.Limiter.Allow(r.Context(), key(r), h.Window, h.Max)
		if err != nil {
			h.Logger.Warn().Err(err).Str("scope", h.Scope).Msg("rate limiter unavailable, allowing request")
			next.ServeHTTP(w, r)
			return
		}

		headers := w.Header()
		headers.Set("X-RateLimit-Limit", strconv.Itoa(h.Max))
		headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
		if !allowed {
			retryAfter := int(time.Until(resetAt).Round(time.Second).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			headers.Set("Retry-After", strconv.Itoa(retryAfter))
			obs.CountOutcome(obs.RateLimitedTotal, h.Scope)
			common.JSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
