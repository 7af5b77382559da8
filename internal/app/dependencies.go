package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/backend-venue/internal/config"
	"github.com/noah-isme/backend-venue/internal/events"
	"github.com/noah-isme/backend-venue/internal/obs"
	"github.com/noah-isme/backend-venue/internal/pricing"
	"github.com/noah-isme/backend-venue/internal/reconcile"
	"github.com/noah-isme/backend-venue/internal/resilience"
	"github.com/noah-isme/backend-venue/internal/store"
)

// Dependencies holds the shared clients both binaries are built from.
type Dependencies struct {
	Config *config.Config
	Logger zerolog.Logger
	Store  store.Store
	Redis  *redis.Client
	Tasks  *asynq.Client
	Bus    *events.Bus
	Fees   pricing.FeeSchedule

	closers []func() error
}

// New connects storage, Redis, the task client and the event bus described by cfg. On error every
// client opened so far is closed.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (deps *Dependencies, err error) {
	d := &Dependencies{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = d.Close()
		}
	}()

	if d.Fees, err = pricing.NewFeeSchedule(cfg.FeeRate, cfg.FeeMin, cfg.FeeMax); err != nil {
		return nil, fmt.Errorf("fee schedule: %w", err)
	}
	if cfg.MetricsEnabled {
		resilience.RegisterMetrics(prometheus.DefaultRegisterer)
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	d.Redis = redis.NewClient(redisOpts)
	d.closers = append(d.closers, d.Redis.Close)
	if err := redisotel.InstrumentTracing(d.Redis); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if cfg.MetricsEnabled {
		if err := redisotel.InstrumentMetrics(d.Redis); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := d.Redis.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	if cfg.UsesPostgres() {
		pg, err := store.OpenPostgres(pingCtx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, func() error { pg.Close(); return nil })
		if err := pg.Ping(pingCtx, 5*time.Second); err != nil {
			return nil, fmt.Errorf("ping database: %w", err)
		}
		d.Store = pg
	} else {
		d.Store = &store.REST{
			BaseURL:    cfg.StorageURL,
			ServiceKey: cfg.StorageServiceKey,
			HTTP:       d.OutboundClient("storage", cfg.ProviderTimeout),
		}
	}

	taskRedis, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse task redis url: %w", err)
	}
	d.Tasks = asynq.NewClient(taskRedis)
	d.closers = append(d.closers, d.Tasks.Close)

	d.Bus = &events.Bus{Notifiers: []events.Notifier{events.LogNotifier{Logger: obs.Component(logger, "events")}}}
	if len(cfg.KafkaBrokers) > 0 {
		publisher := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopicPayments, obs.Component(logger, "kafka"))
		d.Bus.Publisher = publisher
		d.closers = append(d.closers, publisher.Close)
	}
	return d, nil
}

// OutboundClient returns an instrumented client for target guarded by its own circuit breaker.
// Each call is made once; callers decide whether to retry.
func (d *Dependencies) OutboundClient(target string, timeout time.Duration) resilience.HTTPClient {
	logger := obs.Component(d.Logger, "outbound")
	return resilience.HTTPClient{
		Client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   timeout,
		},
		Breaker: resilience.NewBreaker(resilience.Settings{
			Target:       target,
			MinRequests:  d.Config.CircuitMinRequests,
			FailureRatio: d.Config.CircuitFailureRatio,
			OpenFor:      d.Config.CircuitOpenFor,
			Logger:       &logger,
		}),
		MaxAttempts: 1,
		Timeout:     timeout,
		Logger:      &logger,
	}
}

// Enqueuer returns the reconciliation scheduler backed by the task client.
func (d *Dependencies) Enqueuer() reconcile.Enqueuer {
	return reconcile.Enqueuer{
		Client:   d.Tasks,
		Queue:    d.Config.ReconcileQueue,
		MaxRetry: d.Config.ReconcileMaxRetry,
		Logger:   obs.Component(d.Logger, "reconcile-enqueuer"),
	}
}

// Close releases clients in reverse order of creation.
func (d *Dependencies) Close() error {
	var joined error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			joined = errors.Join(joined, err)
		}
	}
	d.closers = nil
	return joined
}
