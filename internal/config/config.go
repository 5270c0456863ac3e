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
	"github.com/shopspring/decimal"
)

// Storage backends for the local cart and session slots.
const (
	StorageFile   = "file"
	StorageRedis  = "redis"
	StorageMemory = "memory"
)

// DefaultCommerceBaseURL is the hosted commerce API.
const DefaultCommerceBaseURL = "https://ecommerce.routemisr.com/api/v1"

// ShippingRule is a free-shipping threshold and the flat fee charged at or below it.
type ShippingRule struct {
	Threshold      decimal.Decimal
	FlatFee        decimal.Decimal
	WaiveWhenEmpty bool
}

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	CommerceBaseURL    string
	StorefrontOrigin   string
	CartStorage        string
	CartStorageDir     string
	CartStorageKey     string
	SessionStorageKey  string
	RedisURL           string
	RemoteTimeout      time.Duration
	CartRule           ShippingRule
	CheckoutRule       ShippingRule
	CircuitMinRequests int
	CircuitFailure     float64
	CircuitOpenFor     time.Duration
	LockTTL            time.Duration
	LockRetryBackoff   time.Duration
	CORSAllowedOrigins []string
	BodyLimitBytes     int64
	CheckoutRateMax    int
	CheckoutRateWindow time.Duration
	SessionClockSkew   time.Duration
	// TrustProxy honours X-Forwarded-For and X-Forwarded-Proto from a fronting proxy.
	TrustProxy bool
	Obs        Observability
}

// Observability groups logging, metrics and tracing switches.
type Observability struct {
	LogFormat        string
	LogLevel         string
	MetricsEnabled   bool
	MetricsNamespace string
	MetricsBuckets   string
	TracingEnabled   bool
	TracingExporter  string
	OTLPEndpoint     string
	SamplingRatio    float64
	ServiceVersion   string
	ReadyTimeout     time.Duration
	ShutdownTimeout  time.Duration
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:            valueOrDefault(k.String("APP_ENV"), "development"),
		Port:              valueOrDefault(k.String("PORT"), "8080"),
		CommerceBaseURL:   strings.TrimRight(valueOrDefault(k.String("COMMERCE_API_BASE_URL"), DefaultCommerceBaseURL), "/"),
		StorefrontOrigin:  strings.TrimRight(valueOrDefault(k.String("STOREFRONT_ORIGIN"), "http://localhost:3000"), "/"),
		CartStorage:       strings.ToLower(valueOrDefault(k.String("CART_STORAGE"), StorageFile)),
		CartStorageDir:    valueOrDefault(k.String("CART_STORAGE_DIR"), ".storefront"),
		CartStorageKey:    valueOrDefault(k.String("CART_STORAGE_KEY"), "cart"),
		SessionStorageKey: valueOrDefault(k.String("SESSION_STORAGE_KEY"), "token"),
		RedisURL:          strings.TrimSpace(k.String("REDIS_URL")),
		RemoteTimeout:     parseDuration(k.String("REMOTE_TIMEOUT"), "5s"),
		CartRule: ShippingRule{
			Threshold: parseMoney(k.String("CART_FREE_SHIPPING_THRESHOLD"), 500),
			FlatFee:   parseMoney(k.String("CART_SHIPPING_FEE"), 50),
		},
		CheckoutRule: ShippingRule{
			Threshold:      parseMoney(k.String("CHECKOUT_FREE_SHIPPING_THRESHOLD"), 1000),
			FlatFee:        parseMoney(k.String("CHECKOUT_SHIPPING_FEE"), 50),
			WaiveWhenEmpty: true,
		},
		CircuitMinRequests: parseInt(k.String("CIRCUIT_MIN_REQUESTS"), 5),
		CircuitFailure:     parseFloat(k.String("CIRCUIT_FAILURE_RATIO"), 0.5),
		CircuitOpenFor:     parseDuration(k.String("CIRCUIT_OPEN_FOR"), "30s"),
		LockTTL:            parseDuration(k.String("LOCK_TTL"), "5s"),
		LockRetryBackoff:   parseDuration(k.String("LOCK_RETRY_BACKOFF"), "25ms"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		BodyLimitBytes:     int64(parseInt(k.String("BODY_LIMIT_BYTES"), 65536)),
		CheckoutRateMax:    parseInt(k.String("CHECKOUT_RATE_LIMIT_MAX"), 10),
		CheckoutRateWindow: parseDuration(k.String("CHECKOUT_RATE_LIMIT_WINDOW"), "1m"),
		SessionClockSkew:   parseDuration(k.String("SESSION_CLOCK_SKEW"), "30s"),
		TrustProxy:         parseBool(k.String("TRUST_PROXY"), false),
		Obs: Observability{
			LogFormat:        valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
			LogLevel:         valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
			MetricsEnabled:   parseBool(k.String("OBS_ENABLE_PROMETHEUS"), true),
			MetricsNamespace: valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "storefront"),
			MetricsBuckets:   k.String("OBS_METRICS_BUCKETS_MS"),
			TracingEnabled:   parseBool(k.String("OBS_ENABLE_TRACING"), true),
			TracingExporter:  valueOrDefault(k.String("OBS_TRACING_EXPORTER"), "otlp"),
			OTLPEndpoint:     strings.TrimSpace(k.String("OBS_OTLP_ENDPOINT")),
			SamplingRatio:    parseFloat(k.String("OBS_TRACING_SAMPLING_RATIO"), 1.0),
			ServiceVersion:   strings.TrimSpace(k.String("OBS_SERVICE_VERSION")),
			ReadyTimeout:     parseDuration(k.String("HEALTH_READY_STORAGE_TIMEOUT"), "300ms"),
			ShutdownTimeout:  parseDuration(k.String("SHUTDOWN_TIMEOUT"), "15s"),
		},
	}

	switch cfg.CartStorage {
	case StorageFile, StorageMemory:
	case StorageRedis:
		if cfg.RedisURL == "" {
			return nil, errors.New("REDIS_URL is required when CART_STORAGE=redis")
		}
	default:
		return nil, fmt.Errorf("CART_STORAGE must be one of file, redis, memory: got %q", cfg.CartStorage)
	}
	if !strings.HasPrefix(cfg.CommerceBaseURL, "http://") && !strings.HasPrefix(cfg.CommerceBaseURL, "https://") {
		return nil, errors.New("COMMERCE_API_BASE_URL must be an http(s) URL")
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
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil || d <= 0 {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func parseFloat(value string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || f <= 0 {
		return fallback
	}
	return f
}

// parseMoney accepts a non-negative decimal amount, falling back to whole units.
func parseBool(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "t", "true", "yes", "on":
		return true
	case "0", "f", "false", "no", "off":
		return false
	}
	return fallback
}

func parseMoney(value string, fallback int64) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil || d.IsNegative() {
		return decimal.NewFromInt(fallback)
	}
	return d
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
