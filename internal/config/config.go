package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment. It is built once at
// process start and handed to each component; nothing else reads the environment directly.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	StorageURL         string
	StorageServiceKey  string
	RedisURL           string
	CORSAllowedOrigins []string

	RazorpayKeyID          string
	RazorpayKeySecret      string
	RazorpayWebhookSecret  string
	RazorpayBaseURL        string
	WebhookSignatureHeader string
	WebhookMaxBodyBytes    int64

	DefaultCurrency      string
	RequireVenuePricing  bool
	FeeRate              string
	FeeMin               int64
	FeeMax               int64
	ProviderTimeout      time.Duration
	CircuitMinRequests   int
	CircuitFailureRatio  float64
	CircuitOpenFor       time.Duration
	IdempotencyTTL       time.Duration
	RateLimitStrategy    string
	RateLimitWindow      time.Duration
	RateLimitMax         int
	AdminJWTSecret       string
	AdminJWTIssuer       string
	AdminJWTAudience     string
	KafkaBrokers         []string
	KafkaTopicPayments   string
	ReconcileQueue       string
	ReconcileConcurrency int
	ReconcileMaxRetry    int
	WorkerMetricsAddr    string

	LogFormat        string
	LogLevel         string
	MetricsEnabled   bool
	MetricsNamespace string
	MetricsBuckets   string
	TracingEnabled   bool
	TracingExporter  string
	OTLPEndpoint     string
	TracingSampling  float64
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        strings.TrimSpace(k.String("DATABASE_URL")),
		StorageURL:         strings.TrimRight(strings.TrimSpace(k.String("STORAGE_URL")), "/"),
		StorageServiceKey:  strings.TrimSpace(k.String("STORAGE_SERVICE_KEY")),
		RedisURL:           strings.TrimSpace(k.String("REDIS_URL")),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		RazorpayKeyID:          strings.TrimSpace(k.String("RAZORPAY_KEY_ID")),
		RazorpayKeySecret:      strings.TrimSpace(k.String("RAZORPAY_KEY_SECRET")),
		RazorpayWebhookSecret:  strings.TrimSpace(k.String("RAZORPAY_WEBHOOK_SECRET")),
		RazorpayBaseURL:        valueOrDefault(k.String("RAZORPAY_BASE_URL"), "https://api.razorpay.com"),
		WebhookSignatureHeader: valueOrDefault(k.String("WEBHOOK_SIGNATURE_HEADER"), "X-Razorpay-Signature"),
		WebhookMaxBodyBytes:    parseInt64(k.String("WEBHOOK_MAX_BODY_BYTES"), 1<<20),

		DefaultCurrency:      strings.ToUpper(valueOrDefault(k.String("PAYMENT_DEFAULT_CURRENCY"), "INR")),
		RequireVenuePricing:  parseBool(k.String("PAYMENT_REQUIRE_VENUE_PRICING")),
		FeeRate:              valueOrDefault(k.String("FEE_RATE"), "0.134"),
		FeeMin:               parseInt64(k.String("FEE_MIN"), 4500),
		FeeMax:               parseInt64(k.String("FEE_MAX"), 50000),
		ProviderTimeout:      parseDuration(k.String("PROVIDER_TIMEOUT"), "10s"),
		CircuitMinRequests:   parseInt(k.String("CIRCUIT_MIN_REQUESTS"), 10),
		CircuitFailureRatio:  parseFloat(k.String("CIRCUIT_FAILURE_RATIO"), 0.5),
		CircuitOpenFor:       parseDuration(k.String("CIRCUIT_OPEN_FOR"), "30s"),
		IdempotencyTTL:       parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		RateLimitStrategy:    strings.ToLower(valueOrDefault(k.String("RATE_LIMIT_STRATEGY"), "sliding")),
		RateLimitWindow:      parseDuration(k.String("RATE_LIMIT_WINDOW"), "1m"),
		RateLimitMax:         parseInt(k.String("RATE_LIMIT_MAX"), 30),
		AdminJWTSecret:       strings.TrimSpace(k.String("ADMIN_JWT_SECRET")),
		AdminJWTIssuer:       strings.TrimSpace(k.String("ADMIN_JWT_ISSUER")),
		AdminJWTAudience:     strings.TrimSpace(k.String("ADMIN_JWT_AUDIENCE")),
		KafkaBrokers:         splitAndTrim(k.String("KAFKA_BROKERS")),
		KafkaTopicPayments:   valueOrDefault(k.String("KAFKA_TOPIC_PAYMENTS"), "payment-events"),
		ReconcileQueue:       valueOrDefault(k.String("RECONCILE_QUEUE"), "payments"),
		ReconcileConcurrency: parseInt(k.String("RECONCILE_CONCURRENCY"), 4),
		ReconcileMaxRetry:    parseInt(k.String("RECONCILE_MAX_RETRY"), 8),
		WorkerMetricsAddr:    valueOrDefault(k.String("WORKER_METRICS_ADDR"), ":9091"),

		LogFormat:        valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
		LogLevel:         valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
		MetricsEnabled:   parseBoolDefault(k.String("OBS_ENABLE_PROMETHEUS"), true),
		MetricsNamespace: valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "venue"),
		MetricsBuckets:   strings.TrimSpace(k.String("OBS_METRICS_BUCKETS_MS")),
		TracingEnabled:   parseBoolDefault(k.String("OBS_ENABLE_TRACING"), false),
		TracingExporter:  valueOrDefault(k.String("OBS_TRACING_EXPORTER"), "otlp"),
		OTLPEndpoint:     strings.TrimSpace(k.String("OBS_OTLP_ENDPOINT")),
		TracingSampling:  parseFloat(k.String("OBS_TRACING_SAMPLING_RATIO"), 1.0),
	}

	if cfg.RazorpayKeyID == "" || cfg.RazorpayKeySecret == "" {
		return nil, errors.New("RAZORPAY_KEY_ID and RAZORPAY_KEY_SECRET are required")
	}
	if cfg.RazorpayWebhookSecret == "" {
		return nil, errors.New("RAZORPAY_WEBHOOK_SECRET is required")
	}
	if cfg.DatabaseURL == "" && (cfg.StorageURL == "" || cfg.StorageServiceKey == "") {
		return nil, errors.New("DATABASE_URL or STORAGE_URL with STORAGE_SERVICE_KEY is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if len(cfg.DefaultCurrency) != 3 {
		return nil, fmt.Errorf("PAYMENT_DEFAULT_CURRENCY must be an ISO 4217 code, got %q", cfg.DefaultCurrency)
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// UsesPostgres reports whether the Postgres backend is configured. The REST backend is used otherwise.
func (c *Config) UsesPostgres() bool {
	return c.DatabaseURL != ""
}

// String renders a loggable summary. Credentials are reported only as present or absent.
func (c *Config) String() string {
	return fmt.Sprintf("env=%s port=%s storage=%s razorpay_key_id=%s razorpay_key_secret=%s webhook_secret=%s kafka=%t",
		c.AppEnv, c.Port, c.storageKind(), redact(c.RazorpayKeyID), redact(c.RazorpayKeySecret),
		redact(c.RazorpayWebhookSecret), len(c.KafkaBrokers) > 0)
}

func (c *Config) storageKind() string {
	if c.UsesPostgres() {
		return "postgres"
	}
	return "rest"
}

func redact(value string) string {
	if value == "" {
		return "<unset>"
	}
	return "<set>"
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func parseInt64(value string, fallback int64) int64 {
	parsed, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseFloat(value string, fallback float64) float64 {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseBoolDefault(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
