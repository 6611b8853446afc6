package app

import (
	"context"
	"errors"
	"fmt"

	validator "github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	limitermemory "github.com/ulule/limiter/v3/drivers/store/memory"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/catalog-pricing/internal/catalog"
	"github.com/noah-isme/catalog-pricing/internal/common"
	"github.com/noah-isme/catalog-pricing/internal/config"
	"github.com/noah-isme/catalog-pricing/internal/costing"
	"github.com/noah-isme/catalog-pricing/internal/lock"
	"github.com/noah-isme/catalog-pricing/internal/obs"
	"github.com/noah-isme/catalog-pricing/internal/ratelimit"
)

// Dependencies holds the services shared by the api and worker binaries.
// Redis-backed members are nil when REDIS_URL is not set.
type Dependencies struct {
	Config          *config.Config
	Logger          zerolog.Logger
	Redis           *redis.Client
	Catalog         *catalog.Store
	Backfiller      *costing.Backfiller
	Results         *costing.ResultStore
	Locker          lock.Locker
	Validator       *validator.Validate
	MetricsRegistry prometheus.Registerer
	TracerProvider  trace.TracerProvider
	MeterProvider   metric.MeterProvider

	closers []func() error
}

// Options tune New for one binary.
type Options struct {
	MetricsNamespace string
	MetricsEnabled   bool
	// Registerer defaults to prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
}

// New connects Redis when configured, loads the catalog and builds the
// costing services. The catalog must load; a Strict catalog that fails
// validation aborts startup.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts Options) (*Dependencies, error) {
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	d := &Dependencies{
		Config:          cfg,
		Logger:          logger,
		Validator:       common.Validator(),
		MetricsRegistry: reg,
		TracerProvider:  otel.GetTracerProvider(),
		MeterProvider:   otel.GetMeterProvider(),
	}
	if opts.MetricsEnabled {
		obs.MustRegisterPricingMetrics(opts.MetricsNamespace, reg)
	}

	if cfg.RedisEnabled() {
		client, err := newRedis(ctx, cfg.RedisURL, opts.MetricsEnabled, logger)
		if err != nil {
			return nil, err
		}
		d.Redis = client
		d.closers = append(d.closers, client.Close)
		d.Results = &costing.ResultStore{R: client, TTL: cfg.JobResultTTL}
		d.Locker = lock.Locker{R: client, Prefix: "costing", RetryBackoff: cfg.LockRetryBackoff}
	}

	store, err := catalog.NewStore(catalog.StoreConfig{
		Path:   cfg.CatalogPath,
		Strict: cfg.CatalogStrict,
		Logger: logger.With().Str("component", "catalog").Logger(),
		Meter:  Meter(obs.TracerName),
	})
	if err != nil {
		_ = d.Close()
		return nil, err
	}
	if _, err := store.Load(ctx); err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	d.Catalog = store

	d.Backfiller = &costing.Backfiller{
		Source:      store,
		Concurrency: cfg.CostingConcurrency,
		Logger:      logger.With().Str("component", "costing").Logger(),
	}
	return d, nil
}

func newRedis(ctx context.Context, url string, metrics bool, logger zerolog.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if metrics {
		if err := redisotel.InstrumentMetrics(client); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// RedisConnOpt returns the asynq connection for the configured Redis.
func (d *Dependencies) RedisConnOpt() (asynq.RedisConnOpt, error) {
	if !d.Config.RedisEnabled() {
		return nil, errors.New("REDIS_URL is required for the costing queue")
	}
	return asynq.ParseRedisURI(d.Config.RedisURL)
}

// TaskClient opens an asynq client that is closed with d.
func (d *Dependencies) TaskClient() (*asynq.Client, error) {
	opt, err := d.RedisConnOpt()
	if err != nil {
		return nil, err
	}
	client := asynq.NewClient(opt)
	d.closers = append(d.closers, client.Close)
	return client, nil
}

// PreviewLimiter builds the fixed-window limiter for read endpoints. Counters
// live in Redis when available and in process memory otherwise. It returns
// nil when PREVIEW_RATE_LIMIT is empty.
func (d *Dependencies) PreviewLimiter() (ratelimit.Limiter, error) {
	rate := d.Config.PreviewRateLimit
	if rate == "" {
		return nil, nil
	}
	if d.Redis != nil {
		return ratelimit.NewRedisFixedWindow(d.Redis, "ratelimit:preview", rate)
	}
	return ratelimit.NewFixedWindow(limitermemory.NewStore(), rate)
}

// Close releases connections in reverse order of creation.
func (d *Dependencies) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}

// Tracer returns the default OpenTelemetry tracer for instrumentation hooks.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// Meter returns the default OpenTelemetry meter for instrumentation hooks.
func Meter(name string) metric.Meter {
	return otel.Meter(name)
}
