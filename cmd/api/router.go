package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-venue/internal/auth"
	"github.com/noah-isme/backend-venue/internal/booking"
	"github.com/noah-isme/backend-venue/internal/common"
	"github.com/noah-isme/backend-venue/internal/health"
	"github.com/noah-isme/backend-venue/internal/obs"
	"github.com/noah-isme/backend-venue/internal/payment"
	"github.com/noah-isme/backend-venue/internal/ratelimit"
	"github.com/noah-isme/backend-venue/internal/security"
)

const jsonBodyMax = 64 << 10

// routes is everything the HTTP surface is assembled from.
type routes struct {
	Payments       *payment.Handler
	Webhook        payment.Webhook
	Bookings       *booking.Handler
	Admin          payment.AdminHandler
	AdminAuth      auth.Middleware
	Health         health.Handler
	Idem           common.Idem
	Limiter        ratelimit.Limiter
	RateWindow     time.Duration
	RateMax        int
	WebhookMaxBody int64
	CORSOrigins    []string
	Headers        security.APIHeaders
	Metrics        *obs.HTTPMetrics
	Tracing        bool
	Logger         zerolog.Logger
}

func (rt routes) handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if rt.Tracing {
		r.Use(obs.Tracing)
	}
	if rt.Metrics != nil {
		r.Use(obs.HTTPObs{Metrics: rt.Metrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: rt.Logger}.Middleware)
	r.Use(rt.Headers.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins(rt.CORSOrigins),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", common.IdempotencyHeader},
		ExposedHeaders: []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		MaxAge:         300,
	}))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		common.JSONError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", nil)
	})

	if rt.Metrics != nil {
		r.Handle("/metrics", promhttp.Handler())
	}
	r.Get("/health/live", rt.Health.Live)
	r.Get("/health/ready", rt.Health.Ready)

	// Provider deliveries are never rate limited; a rejected delivery is retried by the provider.
	r.With(security.Limit(rt.webhookMaxBody())).Post("/webhook", rt.Webhook.Handle)

	r.Group(func(g chi.Router) {
		g.Use(rt.rateLimit("public"))
		g.Get("/fees/quote", rt.Payments.FeeQuote)
		g.With(security.Limit(jsonBodyMax)).Post("/verify-payment", rt.Payments.VerifyPayment)
		g.With(security.Limit(jsonBodyMax), rt.Idem.Middleware).Post("/create-order", rt.Payments.CreateOrder)
		g.With(security.Limit(jsonBodyMax)).Post("/booking-intents", rt.Bookings.Create)
	})

	r.Route("/admin", func(admin chi.Router) {
		admin.Use(rt.AdminAuth.RequireAdmin)
		admin.Get("/payment-events", rt.Admin.List)
		admin.Post("/payment-events/{eventId}/replay", rt.Admin.Replay)
	})
	return r
}

func (rt routes) rateLimit(scope string) func(http.Handler) http.Handler {
	h := ratelimit.Handler{
		Limiter: rt.Limiter,
		Scope:   scope,
		Window:  rt.RateWindow,
		Max:     rt.RateMax,
		Logger:  rt.Logger,
	}
	return h.Middleware
}

func (rt routes) webhookMaxBody() int64 {
	if rt.WebhookMaxBody <= 0 {
		return 1 << 20
	}
	return rt.WebhookMaxBody
}

func allowedOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
