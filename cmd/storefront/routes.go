package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-storefront/internal/app"
	"github.com/noah-isme/toko-storefront/internal/cart"
	"github.com/noah-isme/toko-storefront/internal/checkout"
	"github.com/noah-isme/toko-storefront/internal/common"
	"github.com/noah-isme/toko-storefront/internal/config"
	"github.com/noah-isme/toko-storefront/internal/health"
	"github.com/noah-isme/toko-storefront/internal/obs"
	"github.com/noah-isme/toko-storefront/internal/ratelimit"
	"github.com/noah-isme/toko-storefront/internal/security"
	"github.com/noah-isme/toko-storefront/internal/storefront"
)

type routerOptions struct {
	Logger         zerolog.Logger
	Metrics        *obs.HTTPMetrics
	Tracing        bool
	StorageTimeout time.Duration
}

func newRouter(deps *app.Dependencies, opts routerOptions) http.Handler {
	cfg := deps.Config
	logger := opts.Logger

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if cfg.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if opts.Tracing {
		r.Use(obs.TracingMiddleware)
	}
	if opts.Metrics != nil {
		r.Use(obs.HTTPObs{Metrics: opts.Metrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", common.IdempotencyHeader},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(security.Headers{
		Enable:              true,
		EnableHSTS:          true,
		TrustForwardedProto: cfg.TrustProxy,
		NoStorePrefixes:     []string{"/api/"},
	}.Middleware)
	r.Use(security.BodyLimit{Max: cfg.BodyLimitBytes, RequireJSON: true}.Middleware)

	if opts.Metrics != nil {
		r.Handle("/metrics", promhttp.Handler())
	}

	healthHandler := health.Handler{
		Checker:        health.Deps{Storage: deps.KV, Breaker: deps.Breaker},
		StorageTimeout: opts.StorageTimeout,
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	cartHandler := &cart.Handler{Svc: deps.Storefront, Rules: deps.Rules, DefaultRule: app.RuleCart}
	sessionHandler := &storefront.SessionHandler{Svc: deps.Storefront}
	limit := ratelimit.Handler{
		Limiter: deps.Limiter,
		OnError: func(err error) { logger.Warn().Err(err).Msg("rate limiter unavailable") },
	}
	checkoutHandler := &checkout.Handler{
		Svc: deps.Storefront,
		SubmitMiddleware: []func(http.Handler) http.Handler{
			limit.Middleware,
			common.Idem{R: deps.Redis, Prefix: "storefront:idem:"}.Middleware,
		},
	}

	r.Route("/api/v1", func(v chi.Router) {
		v.Route("/cart", cartHandler.Routes)
		v.Route("/session", sessionHandler.Routes)
		v.Route("/checkout", checkoutHandler.Routes)
	})
	return r
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{cfg.StorefrontOrigin}
	}
	return cfg.CORSAllowedOrigins
}
