package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-storefront/internal/app"
	"github.com/noah-isme/toko-storefront/internal/config"
	"github.com/noah-isme/toko-storefront/internal/health"
	"github.com/noah-isme/toko-storefront/internal/obs"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := obs.NewLogger(cfg.Obs.LogFormat, cfg.Obs.LogLevel).With().
		Str("env", cfg.AppEnv).
		Str("service", "toko-storefront").
		Logger()

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("storefront stopped")
	}
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	obs.MustRegisterDomainMetrics(cfg.Obs.MetricsNamespace, nil)
	tracing := setupTracing(ctx, cfg, logger)
	if tracing != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tracing(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("shutdown tracer")
			}
		}()
	}

	deps, err := app.Build(ctx, cfg, app.Options{Logger: logger, Metrics: cfg.Obs.MetricsEnabled})
	if err != nil {
		return err
	}
	defer deps.Close()

	var httpMetrics *obs.HTTPMetrics
	if cfg.Obs.MetricsEnabled {
		httpMetrics = obs.NewHTTPMetrics(cfg.Obs.MetricsNamespace, obs.ParseBucketsCSV(cfg.Obs.MetricsBuckets), nil)
	}

	srv := &http.Server{
		Addr: cfg.HTTPAddr(),
		Handler: newRouter(deps, routerOptions{
			Logger:         logger,
			Metrics:        httpMetrics,
			Tracing:        tracing != nil,
			StorageTimeout: cfg.Obs.ReadyTimeout,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.RemoteTimeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", srv.Addr).
			Str("storage", cfg.CartStorage).
			Str("commerce_api", cfg.CommerceBaseURL).
			Msg("server starting")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	health.SetReady(false)
	logger.Info().Dur("timeout", cfg.Obs.ShutdownTimeout).Msg("shutdown requested")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Obs.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown")
	}
	return nil
}

// setupTracing installs the tracer provider. It returns nil when tracing is
// disabled or could not be started; the server then runs without spans.
func setupTracing(ctx context.Context, cfg *config.Config, logger zerolog.Logger) func(context.Context) error {
	if !cfg.Obs.TracingEnabled {
		return nil
	}
	shutdown, err := obs.InitTracer(ctx, obs.TracingConfig{
		ServiceName:    "toko-storefront",
		ServiceVersion: cfg.Obs.ServiceVersion,
		Endpoint:       cfg.Obs.OTLPEndpoint,
		Exporter:       cfg.Obs.TracingExporter,
		SamplingRatio:  cfg.Obs.SamplingRatio,
		Environment:    cfg.AppEnv,
	})
	if err != nil {
		logger.Error().Err(err).Msg("initialise tracing")
		return nil
	}
	return shutdown
}
