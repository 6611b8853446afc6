package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/noah-isme/catalog-pricing/internal/app"
	"github.com/noah-isme/catalog-pricing/internal/catalog"
	"github.com/noah-isme/catalog-pricing/internal/common"
	"github.com/noah-isme/catalog-pricing/internal/config"
	"github.com/noah-isme/catalog-pricing/internal/costing"
	"github.com/noah-isme/catalog-pricing/internal/health"
	"github.com/noah-isme/catalog-pricing/internal/obs"
	"github.com/noah-isme/catalog-pricing/internal/ratelimit"
	"github.com/noah-isme/catalog-pricing/internal/report"
	"github.com/noah-isme/catalog-pricing/internal/security"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("env", cfg.AppEnv).Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "catalog")
	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)

	tracingEnabled := envBool("OBS_ENABLE_TRACING", true)
	if tracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "catalog-pricing-api",
			Endpoint:      envOrDefault("OBS_OTLP_ENDPOINT", ""),
			Exporter:      envOrDefault("OBS_TRACING_EXPORTER", "otlp"),
			SamplingRatio: envFloat("OBS_TRACING_SAMPLING_RATIO", 1.0),
			Environment:   cfg.AppEnv,
			Insecure:      envBool("OBS_OTLP_INSECURE", false),
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

	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	deps, err := app.New(startCtx, cfg, logger, app.Options{
		MetricsNamespace: metricsNamespace,
		MetricsEnabled:   metricsEnabled,
	})
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise dependencies")
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.Error().Err(err).Msg("close dependencies")
		}
	}()

	catalogService, err := catalog.NewService(catalog.ServiceConfig{
		Store:  deps.Catalog,
		Cache:  catalog.NewCache(deps.Redis, cfg.PreviewCacheTTL, "catalog"),
		Logger: logger.With().Str("component", "preview").Logger(),
		MaxQty: cfg.PreviewMaxQty,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise catalog service")
	}
	catalogHandler := catalog.NewHandler(catalog.HandlerConfig{Service: catalogService})

	var jobs *costing.Jobs
	if deps.Redis != nil {
		taskClient, err := deps.TaskClient()
		if err != nil {
			logger.Fatal().Err(err).Msg("initialise task client")
		}
		jobs = &costing.Jobs{Client: taskClient, Results: deps.Results, Queue: cfg.CostingQueue}
	} else {
		logger.Warn().Msg("REDIS_URL not set; asynchronous costing jobs disabled")
	}
	costingHandler := costing.NewHandler(costing.HandlerConfig{
		Backfiller:   deps.Backfiller,
		Jobs:         jobs,
		MaxBodyBytes: cfg.MaxBodyBytes,
	})

	reportHandler := &report.Handler{
		Svc: &report.Service{
			Costs:          deps.Backfiller,
			R:              deps.Redis,
			TTL:            cfg.ReportCacheTTL,
			Location:       cfg.ReportTimezone,
			Logger:         logger.With().Str("component", "report").Logger(),
			CatalogVersion: deps.Catalog.Version,
			MaxBuckets:     cfg.ReportMaxBuckets,
		},
		MaxBodyBytes: cfg.MaxBodyBytes,
	}

	previewLimiter, err := deps.PreviewLimiter()
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise preview rate limiter")
	}
	onLimitError := func(err error) { logger.Warn().Err(err).Msg("rate limiter unavailable") }
	previewLimit := ratelimit.Handler{Limiter: previewLimiter, Key: ratelimit.ByClientIP("preview"), OnError: onLimitError}
	var jobLimit ratelimit.Handler
	if deps.Redis != nil {
		jobLimit = ratelimit.Handler{
			Limiter: ratelimit.SlidingWindow{Client: deps.Redis, Prefix: "ratelimit:jobs:", Window: time.Minute, Max: cfg.JobRateLimitPerMinute},
			Key:     ratelimit.ByClientIP("jobs"),
			OnError: onLimitError,
		}
	}
	idem := common.Idem{R: deps.Redis, TTL: cfg.IdempotencyTTL, Prefix: "idem:costing"}

	var httpMetrics *obs.HTTPMetrics
	if metricsEnabled {
		buckets := obs.ParseBucketsCSV(envOrDefault("OBS_METRICS_BUCKETS_MS", ""))
		httpMetrics = obs.NewHTTPMetrics(metricsNamespace, buckets, nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if metricsEnabled && httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(security.Headers{HSTS: cfg.SecurityHSTS}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins(cfg),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Idempotency-Key", "X-Request-ID"},
		ExposedHeaders: []string{"Location", "X-Total-Count", obs.CatalogVersionHeader, "X-RateLimit-Remaining"},
		MaxAge:         300,
	}))

	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	if envBool("OBS_ENABLE_PPROF", false) {
		user := envOrDefault("SECURE_PPROF_BASIC_AUTH_USER", "")
		pass := envOrDefault("SECURE_PPROF_BASIC_AUTH_PASS", "")
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), user, pass))
	}

	probes := map[string]health.Probe{"catalog": deps.Catalog}
	if deps.Redis != nil {
		probes["redis"] = health.RedisProbe(deps.Redis)
	}
	healthHandler := health.Handler{
		Probes:  probes,
		Timeout: envDurationMillis("HEALTH_READY_TIMEOUT_MS", 300),
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Group(func(read chi.Router) {
			read.Use(previewLimit.Middleware)
			read.Get("/products", catalogHandler.Products)
			read.Get("/products/{id}", catalogHandler.ProductDetail)
			read.Get("/products/{id}/price", catalogHandler.Price)
		})

		v.Route("/catalog", func(c chi.Router) {
			c.Post("/reload", catalogHandler.Reload)
			c.Get("/issues", catalogHandler.Issues)
		})

		v.Route("/costing", func(c chi.Router) {
			c.Post("/backfill", costingHandler.Backfill)
			c.With(jobLimit.Middleware, idem.Middleware).Post("/jobs", costingHandler.SubmitJob)
			c.Get("/jobs/{id}", costingHandler.GetJob)
		})

		v.Post("/reports/margin", reportHandler.Margin)
	})

	go reloadOnHangup(ctx, deps.Catalog, logger)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Str("catalog_version", deps.Catalog.Version()).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
	case <-ctx.Done():
	}

	health.SetReady(false)
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown")
	}
	logger.Info().Msg("server stopped")
}

// reloadOnHangup reloads the catalog file on SIGHUP until ctx ends.
func reloadOnHangup(ctx context.Context, store *catalog.Store, logger zerolog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if _, err := store.Load(ctx); err != nil {
				logger.Error().Err(err).Msg("catalog reload on SIGHUP failed")
			}
		}
	}
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "yes", "on":
			return true
		case "0", "f", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return parsed
		}
	}
	return fallback
}

func envDurationMillis(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Millisecond
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	mux.Handle("/allocs", pprof.Handler("allocs"))
	mux.Handle("/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/heap", pprof.Handler("heap"))
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	user = strings.TrimSpace(user)
	pass = strings.TrimSpace(pass)
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
