package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	limiter "github.com/ulule/limiter/v3"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/toko-storefront/internal/cart"
	"github.com/noah-isme/toko-storefront/internal/checkout"
	"github.com/noah-isme/toko-storefront/internal/commerce"
	"github.com/noah-isme/toko-storefront/internal/config"
	"github.com/noah-isme/toko-storefront/internal/events"
	"github.com/noah-isme/toko-storefront/internal/lock"
	"github.com/noah-isme/toko-storefront/internal/pricing"
	"github.com/noah-isme/toko-storefront/internal/ratelimit"
	"github.com/noah-isme/toko-storefront/internal/resilience"
	"github.com/noah-isme/toko-storefront/internal/session"
	"github.com/noah-isme/toko-storefront/internal/storage"
	"github.com/noah-isme/toko-storefront/internal/storefront"
)

// Named pricing rules selectable by callers.
const (
	RuleCart     = "cart"
	RuleCheckout = "checkout"
)

const redisPrefix = "storefront:"

// Dependencies enumerates the collaborators shared by the binaries.
type Dependencies struct {
	Config     *config.Config
	Logger     zerolog.Logger
	Redis      *redis.Client
	KV         storage.KV
	Breaker    *resilience.Breaker
	Commerce   *commerce.Client
	Session    *session.State
	Local      *cart.LocalStore
	Checkout   *checkout.Orchestrator
	Storefront *storefront.Service
	Bus        *events.Bus
	Validator  *validator.Validate
	Limiter    *limiter.Limiter
	Rules      map[string]pricing.Rule
}

// Options tune Build for a particular binary.
type Options struct {
	Logger zerolog.Logger
	// Metrics enables Redis client metrics instrumentation.
	Metrics bool
	// Transport overrides the commerce API transport; it is wrapped with
	// otelhttp either way.
	Transport http.RoundTripper
}

// Build wires every storefront component from cfg.
func Build(ctx context.Context, cfg *config.Config, opts Options) (*Dependencies, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	logger := opts.Logger
	deps := &Dependencies{Config: cfg, Logger: logger, Rules: Rules(cfg)}

	if cfg.CartStorage == config.StorageRedis {
		rdb, err := NewRedis(ctx, cfg.RedisURL, opts.Metrics, logger)
		if err != nil {
			return nil, err
		}
		deps.Redis = rdb
	}
	kv, err := NewKV(cfg, deps.Redis)
	if err != nil {
		deps.Close()
		return nil, err
	}
	deps.KV = kv

	deps.Bus = &events.Bus{Notifiers: []events.Notifier{events.LogNotifier{Logger: logger}}}
	if deps.Redis != nil {
		deps.Bus.Store = events.RedisJournal{Client: deps.Redis, Key: redisPrefix + "events"}
	}

	resilience.MustRegisterMetrics(nil)
	deps.Breaker = resilience.NewBreaker(resilience.BreakerConfig{
		Target:       "commerce-api",
		MinRequests:  cfg.CircuitMinRequests,
		FailureRatio: cfg.CircuitFailure,
		OpenFor:      cfg.CircuitOpenFor,
		Logger:       logger,
	})

	transport := opts.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	deps.Commerce = &commerce.Client{
		BaseURL: cfg.CommerceBaseURL,
		HTTP: resilience.HTTPClient{
			Client:  &http.Client{Transport: otelhttp.NewTransport(transport)},
			Breaker: deps.Breaker,
			Timeout: cfg.RemoteTimeout,
			Target:  "commerce-api",
		},
		Logger: logger,
	}

	deps.Session = &session.State{
		KV:        kv,
		Key:       cfg.SessionStorageKey,
		ClockSkew: cfg.SessionClockSkew,
		Logger:    logger,
		Bus:       deps.Bus,
	}
	deps.Session.Load(ctx)

	deps.Local = &cart.LocalStore{
		KV:      kv,
		Key:     cfg.CartStorageKey,
		LockTTL: cfg.LockTTL,
		Logger:  logger,
	}
	if deps.Redis != nil {
		deps.Local.Locker = lock.Locker{R: deps.Redis, RetryBackoff: cfg.LockRetryBackoff}
		deps.Local.LockKey = storage.RedisKV{Prefix: redisPrefix}.LockKey(cfg.CartStorageKey)
	}

	deps.Validator = checkout.NewValidator()
	deps.Checkout = &checkout.Orchestrator{
		Remote:    deps.Commerce,
		Session:   deps.Session,
		Validator: deps.Validator,
		Rule:      deps.Rules[RuleCheckout],
		Origin:    cfg.StorefrontOrigin,
		Bus:       deps.Bus,
		Logger:    logger,
	}

	deps.Storefront, err = storefront.NewService(ctx, storefront.Config{
		Local:    deps.Local,
		Remote:   deps.Commerce,
		Session:  deps.Session,
		Checkout: deps.Checkout,
		Logger:   logger,
	})
	if err != nil {
		deps.Close()
		return nil, err
	}

	deps.Limiter, err = ratelimit.NewLimiter(deps.Redis, redisPrefix+"ratelimit:checkout", cfg.CheckoutRateWindow, cfg.CheckoutRateMax)
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("app: rate limiter: %w", err)
	}
	return deps, nil
}

// Close releases connections held by the dependencies.
func (d *Dependencies) Close() {
	if d == nil {
		return
	}
	if d.Storefront != nil {
		d.Storefront.Close()
	}
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			d.Logger.Error().Err(err).Msg("close redis")
		}
	}
}

// Rules converts the configured shipping rules into pricing rules.
func Rules(cfg *config.Config) map[string]pricing.Rule {
	return map[string]pricing.Rule{
		RuleCart:     toRule(cfg.CartRule),
		RuleCheckout: toRule(cfg.CheckoutRule),
	}
}

func toRule(r config.ShippingRule) pricing.Rule {
	return pricing.Rule{Threshold: r.Threshold, FlatFee: r.FlatFee, WaiveWhenEmpty: r.WaiveWhenEmpty}
}

// NewRedis connects to Redis with tracing (and optionally metrics)
// instrumentation and verifies the connection.
func NewRedis(ctx context.Context, url string, metrics bool, logger zerolog.Logger) (*redis.Client, error) {
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("app: parse redis url: %w", err)
	}
	rdb := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(rdb); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if metrics {
		if err := redisotel.InstrumentMetrics(rdb); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("app: ping redis: %w", err)
	}
	return rdb, nil
}

// NewKV selects the storage backend for the cart and session slots.
func NewKV(cfg *config.Config, rdb *redis.Client) (storage.KV, error) {
	switch cfg.CartStorage {
	case config.StorageRedis:
		if rdb == nil {
			return nil, errors.New("app: redis storage selected without a client")
		}
		return storage.RedisKV{Client: rdb, Prefix: redisPrefix}, nil
	case config.StorageMemory:
		return storage.NewMemoryKV(), nil
	case config.StorageFile, "":
		return storage.FileKV{Dir: cfg.CartStorageDir}, nil
	default:
		return nil, fmt.Errorf("app: unknown storage %q", cfg.CartStorage)
	}
}
