package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/noah-isme/backend-venue/internal/app"
	"github.com/noah-isme/backend-venue/internal/auth"
	"github.com/noah-isme/backend-venue/internal/booking"
	"github.com/noah-isme/backend-venue/internal/common"
	"github.com/noah-isme/backend-venue/internal/config"
	"github.com/noah-isme/backend-venue/internal/health"
	"github.com/noah-isme/backend-venue/internal/obs"
	"github.com/noah-isme/backend-venue/internal/payment"
	"github.com/noah-isme/backend-venue/internal/ratelimit"
	"github.com/noah-isme/backend-venue/internal/security"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("env", cfg.AppEnv).Str("component", "api").Logger()
	logger.Info().Str("config", cfg.String()).Msg("configuration loaded")

	obs.MustRegisterDomainMetrics(cfg.MetricsNamespace, nil)
	var httpMetrics *obs.HTTPMetrics
	if cfg.MetricsEnabled {
		httpMetrics = obs.NewHTTPMetrics(cfg.MetricsNamespace, obs.ParseBucketsCSV(cfg.MetricsBuckets), nil)
	}

	tracingEnabled := cfg.TracingEnabled
	if tracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "backend-venue-api",
			Endpoint:      cfg.OTLPEndpoint,
			Exporter:      cfg.TracingExporter,
			SamplingRatio: cfg.TracingSampling,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise dependencies")
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.Error().Err(err).Msg("close dependencies")
		}
	}()

	gateway := &payment.Gateway{
		Provider: payment.Razorpay{
			KeyID:     cfg.RazorpayKeyID,
			KeySecret: cfg.RazorpayKeySecret,
			BaseURL:   cfg.RazorpayBaseURL,
			HTTP:      deps.OutboundClient("razorpay", cfg.ProviderTimeout),
		},
		Fees:                deps.Fees,
		Venues:              deps.Store,
		RequireVenuePricing: cfg.RequireVenuePricing,
		DefaultCurrency:     cfg.DefaultCurrency,
		Logger:              obs.Component(logger, "payment-gateway"),
	}

	var bookingVenues payment.VenuePricer
	if cfg.RequireVenuePricing {
		bookingVenues = deps.Store
	}

	limiter, err := ratelimit.New(cfg.RateLimitStrategy, deps.Redis, "ratelimit:")
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise rate limiter")
	}

	var verifier *auth.Verifier
	if cfg.AdminJWTSecret != "" {
		if verifier, err = auth.NewVerifier(cfg.AdminJWTSecret, cfg.AdminJWTIssuer, cfg.AdminJWTAudience, 30*time.Second); err != nil {
			logger.Fatal().Err(err).Msg("initialise admin token verifier")
		}
	} else {
		logger.Warn().Msg("ADMIN_JWT_SECRET unset, admin routes disabled")
	}

	enqueuer := deps.Enqueuer()
	rt := routes{
		Payments: &payment.Handler{
			Gateway:   gateway,
			Fees:      deps.Fees,
			Venues:    deps.Store,
			KeySecret: cfg.RazorpayKeySecret,
			Logger:    obs.Component(logger, "payment-http"),
		},
		Webhook: payment.Webhook{
			Ingestor: &payment.Ingestor{
				Secret:    cfg.RazorpayWebhookSecret,
				Store:     deps.Store,
				Scheduler: enqueuer,
				Logger:    obs.Component(logger, "webhook"),
			},
			SignatureHeader: cfg.WebhookSignatureHeader,
		},
		Bookings: &booking.Handler{
			Store:           deps.Store,
			Venues:          bookingVenues,
			Fees:            deps.Fees,
			KeySecret:       cfg.RazorpayKeySecret,
			DefaultCurrency: cfg.DefaultCurrency,
			Logger:          obs.Component(logger, "booking"),
		},
		Admin: payment.AdminHandler{
			Events:   deps.Store,
			Replayer: enqueuer,
			Logger:   obs.Component(logger, "admin"),
		},
		AdminAuth:      auth.Middleware{Verifier: verifier, Logger: obs.Component(logger, "auth")},
		Health:         health.Handler{Checker: health.Deps{Storage: deps.Store, Redis: deps.Redis}, Logger: logger},
		Idem:           common.Idem{R: deps.Redis, TTL: cfg.IdempotencyTTL},
		Limiter:        limiter,
		RateWindow:     cfg.RateLimitWindow,
		RateMax:        cfg.RateLimitMax,
		WebhookMaxBody: cfg.WebhookMaxBodyBytes,
		CORSOrigins:    cfg.CORSAllowedOrigins,
		Headers:        security.HeadersFor(cfg.AppEnv),
		Metrics:        httpMetrics,
		Tracing:        tracingEnabled,
		Logger:         logger,
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           rt.handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server starting")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
	case <-ctx.Done():
		health.SetReady(false)
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown")
		}
	}
}
