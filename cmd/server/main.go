package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sodown4thecause/seobot-sub007/internal/breaker"
	apperrors "github.com/sodown4thecause/seobot-sub007/internal/errors"
	"github.com/sodown4thecause/seobot-sub007/internal/health"
	"github.com/sodown4thecause/seobot-sub007/internal/httpclient"
	"github.com/sodown4thecause/seobot-sub007/internal/lifecycle"
	"github.com/sodown4thecause/seobot-sub007/internal/middleware"
	"github.com/sodown4thecause/seobot-sub007/internal/ratelimit"
	"github.com/sodown4thecause/seobot-sub007/internal/throttle"
	"github.com/sodown4thecause/seobot-sub007/pkg/config"
	"github.com/sodown4thecause/seobot-sub007/pkg/graceful"
	"github.com/sodown4thecause/seobot-sub007/pkg/logger"
	"github.com/sodown4thecause/seobot-sub007/pkg/redis"
)

// route maps one protected endpoint class onto its limit policy and the
// upstream dependency it calls.
var routes = []struct {
	Path     string
	Policy   string
	Upstream string
}{
	{Path: "/v1/chat", Policy: "CHAT", Upstream: "llm-provider"},
	{Path: "/v1/keywords", Policy: "KEYWORDS", Upstream: "serp-api"},
	{Path: "/v1/export", Policy: "EXPORT", Upstream: "export-service"},
	{Path: "/v1/aeo-audit", Policy: "AEO_AUDIT", Upstream: "audit-service"},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	log, logCleanup, err := logger.New(logger.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		SentryDSN:  cfg.Sentry.DSN,
		AppEnv:     cfg.AppEnv,
	})
	if err != nil {
		slog.Error("failed to initialize logger", slog.Any("error", err))
		os.Exit(1)
	}
	defer logCleanup()

	log.Info("starting admission service",
		slog.String("env", cfg.AppEnv),
		slog.String("http_port", cfg.HTTP.Port))

	shutdown := lifecycle.NewShutdown(log)

	// The shared store is optional at startup: admission degrades to local
	// counters rather than refusing to boot.
	localStore := ratelimit.NewLocalStore()
	primary := ratelimit.Store(localStore)

	var metricsClient *redis.MetricsClient

	redisClient, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		log.Warn("redis unavailable at startup, rate limiting runs on local counters",
			slog.Any("error", err))
	} else {
		metricsClient = redis.NewMetricsClient(redisClient)
		primary = ratelimit.NewRedisStore(metricsClient, cfg.Redis.ReadTimeout)
		shutdown.Register("redis", func(ctx context.Context) error {
			return redisClient.Close()
		})
	}

	policies, err := ratelimit.NewPolicies(cfg.RateLimit.Policies)
	if err != nil {
		log.Error("invalid rate limit policies", slog.Any("error", err))
		os.Exit(1)
	}

	limiter := ratelimit.NewLimiter(primary, localStore, policies, log)
	rateLimitMW := middleware.NewRateLimitMiddleware(limiter, log)

	janitor := ratelimit.NewJanitor(localStore, log, time.Minute, 10*time.Minute)
	go janitor.Run(ctx)

	errHandler := apperrors.NewHandler(log, cfg.Sentry.DSN != "")

	registry := breaker.NewRegistry()
	upstreams := make(map[string]*upstreamTarget, len(cfg.Upstreams))
	for _, u := range cfg.Upstreams {
		target := newUpstreamTarget(u, log)
		registry.Register(target.breaker)
		upstreams[u.Name] = target
	}

	checker := health.NewChecker(log)
	if metricsClient != nil {
		checker.AddCheck("redis", health.NewRedisChecker(metricsClient))
	}

	router := chi.NewRouter()
	router.Use(logger.Middleware)
	router.Use(middleware.Logging(log))
	router.Use(middleware.Metrics)

	router.Handle("/metrics", promhttp.Handler())
	router.Get("/healthz", healthzHandler(checker, registry))

	for _, route := range routes {
		target := upstreams[route.Upstream]
		router.With(rateLimitMW.Enforce(route.Policy)).
			Post(route.Path, invokeHandler(target, route.Upstream, errHandler, log))
	}

	srv := &http.Server{
		Addr:         ":" + cfg.HTTP.Port,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	server := graceful.NewServer(log, srv, cfg.HTTP.ShutdownTimeout)
	if err := server.ListenAndServe(ctx); err != nil {
		log.Error("http server stopped with error", slog.Any("error", err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := shutdown.Execute(shutdownCtx); err != nil {
		log.Error("shutdown finished with errors", slog.Any("error", err))
	}
}

// upstreamTarget bundles the resilience stack guarding one dependency:
// pacing bucket, circuit breaker and resilient executor.
type upstreamTarget struct {
	cfg     config.Upstream
	client  *httpclient.Client
	breaker *breaker.Breaker
	bucket  *throttle.Bucket
}

func newUpstreamTarget(cfg config.Upstream, log *slog.Logger) *upstreamTarget {
	var breakerOpts []breaker.Option
	if cfg.BreakerThreshold > 0 {
		breakerOpts = append(breakerOpts, breaker.WithThreshold(cfg.BreakerThreshold))
	}
	if cfg.BreakerCooldown > 0 {
		breakerOpts = append(breakerOpts, breaker.WithCooldown(cfg.BreakerCooldown))
	}

	target := &upstreamTarget{
		cfg:     cfg,
		client:  httpclient.New(cfg.Name, log),
		breaker: breaker.New(cfg.Name, breakerOpts...),
	}

	if cfg.PaceCapacity > 0 && cfg.PaceRefill > 0 && cfg.PaceInterval > 0 {
		target.bucket = throttle.NewBucket(cfg.Name, cfg.PaceCapacity, cfg.PaceRefill, cfg.PaceInterval)
	}

	return target
}

// call forwards the request body to the upstream through pacing, breaker
// and executor.
func (t *upstreamTarget) call(ctx context.Context, body []byte) (*httpclient.Result, error) {
	if t.bucket != nil {
		if err := t.bucket.Acquire(ctx, 1); err != nil {
			return nil, err
		}
	}

	var result *httpclient.Result
	err := t.breaker.Execute(ctx, func(ctx context.Context) error {
		var callErr error
		result, callErr = t.client.Post(ctx, t.cfg.BaseURL, httpclient.Options{
			Body:           body,
			Timeout:        t.cfg.Timeout,
			MaxRetries:     t.cfg.MaxRetries,
			RetryBaseDelay: t.cfg.RetryBaseDelay,
		})
		return callErr
	})
	if err != nil {
		if errors.Is(err, breaker.ErrOpen) {
			return nil, apperrors.NewCircuitOpenError(t.cfg.Name)
		}
		return nil, err
	}

	return result, nil
}

func invokeHandler(target *upstreamTarget, name string, errHandler *apperrors.Handler, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if target == nil {
			writeError(w, http.StatusNotImplemented, "upstream "+name+" is not configured")
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "unreadable request body")
			return
		}

		result, err := target.call(r.Context(), body)
		if err != nil {
			userMessage, _ := errHandler.Handle(r.Context(), err)

			// Both an open breaker and exhausted retries surface as a
			// generic upstream-unavailable condition, never an internal error.
			status := http.StatusServiceUnavailable
			var appErr *apperrors.AppError
			if errors.As(err, &appErr) && appErr.StatusCode >= 400 && appErr.StatusCode < 500 {
				status = appErr.StatusCode
			}

			writeError(w, status, userMessage)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(result.Body)
	}
}

func healthzHandler(checker *health.Checker, registry *breaker.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results, healthy := checker.Healthy(r.Context())

		status := http.StatusOK
		if !healthy {
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"checks":   results,
			"breakers": registry.States(),
		})
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
