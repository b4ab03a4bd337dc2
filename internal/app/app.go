// Package app provides the main application struct for centralized dependency management
// and lifecycle control of the oaistream CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"oaistream/config"
	"oaistream/internal/cache"
	"oaistream/internal/httpclient"
	"oaistream/internal/llmclient"
	"oaistream/internal/logging"
	"oaistream/internal/mockserver"
	"oaistream/internal/observability"
	"oaistream/internal/openai"
)

// App represents the main application with all its dependencies.
// It provides centralized lifecycle management for all components.
type App struct {
	config   *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *observability.Metrics
	cache    cache.Cache
	client   *openai.Client

	metricsServer *echo.Echo

	shutdownMu sync.Mutex
	shutdown   bool
}

// Config holds the configuration options for creating an App.
type Config struct {
	// AppConfig holds the loaded application configuration produced by config.Load.
	AppConfig *config.LoadResult

	// LogOutput receives log records (default: os.Stderr).
	LogOutput io.Writer
}

// New creates a new App with all dependencies initialized.
// The caller must call Shutdown to release resources.
func New(ctx context.Context, cfg Config) (*App, error) {
	if cfg.AppConfig == nil {
		return nil, fmt.Errorf("app config is required")
	}

	if cfg.AppConfig.Config == nil {
		return nil, fmt.Errorf("app config contains nil Config")
	}

	appCfg := cfg.AppConfig.Config

	out := cfg.LogOutput
	if out == nil {
		out = os.Stderr
	}
	logger, err := logging.New(logging.Config{Format: appCfg.Logging.Format, Level: appCfg.Logging.Level}, out)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	app := &App{
		config:   appCfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}
	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	app.metrics = observability.NewMetrics(app.registry)

	modelCache, err := newModelCache(ctx, appCfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize model cache: %w", err)
	}
	app.cache = modelCache

	clients := httpclient.New(transportConfig(appCfg.HTTP))
	app.client = openai.New(appCfg.OpenAI.APIKey, openai.Options{
		BaseURL:          appCfg.OpenAI.BaseURL,
		Request:          requestConfig(appCfg, app.metrics.RequestHooks()),
		HTTPClient:       clients.Request,
		StreamHTTPClient: clients.Stream,
		SessionHooks:     app.metrics.SessionHooks(),
		ModelCache:       modelCache,
		ModelCacheTTL:    time.Duration(appCfg.Cache.TTL) * time.Second,
		Logger:           logger,
	})

	app.logStartupInfo(cfg.AppConfig.Path)

	return app, nil
}

// Client returns the configured API client.
func (a *App) Client() *openai.Client {
	return a.client
}

// Logger returns the application logger.
func (a *App) Logger() *slog.Logger {
	return a.logger
}

// Gatherer returns the registry holding the application metrics.
func (a *App) Gatherer() prometheus.Gatherer {
	return a.registry
}

// MockServer builds the mock upstream from the mock configuration.
// It exposes the application metrics when metrics are enabled.
func (a *App) MockServer() (*mockserver.Server, error) {
	scenario, err := mockserver.ParseScenario(a.config.Mock.Scenario)
	if err != nil {
		return nil, err
	}
	return mockserver.New(&mockserver.Config{
		APIKey:          a.config.Mock.APIKey,
		Scenario:        scenario,
		ChunkDelay:      time.Duration(a.config.Mock.ChunkDelay) * time.Millisecond,
		MetricsEnabled:  a.config.Metrics.Enabled,
		MetricsEndpoint: a.config.Metrics.Endpoint,
		Gatherer:        a.registry,
		Logger:          a.logger,
	}), nil
}

// StartMetrics binds the metrics listener and serves it in the background.
// It is a no-op when metrics are disabled. Shutdown stops the listener.
func (a *App) StartMetrics() (net.Addr, error) {
	if !a.config.Metrics.Enabled {
		return nil, nil
	}

	ln, err := net.Listen("tcp", a.config.Metrics.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen for metrics: %w", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Listener = ln
	e.GET(a.config.Metrics.Endpoint, echo.WrapHandler(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})))

	a.shutdownMu.Lock()
	a.metricsServer = e
	a.shutdownMu.Unlock()

	go func() {
		if err := e.Start(ln.Addr().String()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed", "error", err)
		}
	}()

	a.logger.Info("serving metrics", "address", ln.Addr().String(), "endpoint", a.config.Metrics.Endpoint)
	return ln.Addr(), nil
}

// Shutdown gracefully tears down app components in dependency order.
// Order:
// 1. Metrics server shutdown, honoring the passed context timeout/cancellation.
// 2. Model cache close (releases the Redis connection pool).
//
// Shutdown is idempotent and safe for repeated calls; after the first call, subsequent calls are no-ops.
// It attempts every close step, aggregates failures, and returns a joined error if any step fails.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownMu.Lock()
	if a.shutdown {
		a.shutdownMu.Unlock()
		return nil
	}
	a.shutdown = true
	metricsServer := a.metricsServer
	a.shutdownMu.Unlock()

	var errs []error

	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			a.logger.Error("metrics server shutdown error", "error", err)
			errs = append(errs, fmt.Errorf("metrics shutdown: %w", err))
		}
	}

	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.Error("model cache close error", "error", err)
			errs = append(errs, fmt.Errorf("cache close: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}

	a.logger.Debug("application shutdown complete")
	return nil
}

// logStartupInfo logs the application configuration on startup.
func (a *App) logStartupInfo(configPath string) {
	cfg := a.config

	if configPath != "" {
		a.logger.Debug("config file loaded", "path", configPath)
	}

	if cfg.OpenAI.APIKey == "" {
		a.logger.Warn("OPENAI_API_KEY not set - requests will be sent without credentials")
	}
	a.logger.Debug("upstream configured",
		"base_url", cfg.OpenAI.BaseURL,
		"timeout", cfg.HTTP.Timeout,
		"response_header_timeout", cfg.HTTP.ResponseHeaderTimeout,
		"max_retries", cfg.Retry.MaxRetries,
	)

	switch cfg.Cache.Type {
	case config.CacheTypeLocal:
		a.logger.Debug("model cache enabled", "type", cfg.Cache.Type, "path", cfg.Cache.Local.Path, "ttl", cfg.Cache.TTL)
	case config.CacheTypeRedis:
		a.logger.Debug("model cache enabled", "type", cfg.Cache.Type, "ttl", cfg.Cache.TTL)
	default:
		a.logger.Debug("model cache disabled")
	}

	if cfg.Metrics.Enabled {
		a.logger.Debug("prometheus metrics enabled", "address", cfg.Metrics.Address, "endpoint", cfg.Metrics.Endpoint)
	}
}

func newModelCache(_ context.Context, cfg config.CacheConfig) (cache.Cache, error) {
	switch cfg.Type {
	case config.CacheTypeLocal:
		return cache.NewLocalCache(cfg.Local.Path), nil
	case config.CacheTypeRedis:
		return cache.NewRedisCache(cache.RedisConfig{
			URL:    cfg.Redis.URL,
			Prefix: cfg.Redis.Key,
			TTL:    time.Duration(cfg.Redis.TTL) * time.Second,
		})
	default:
		return nil, nil
	}
}

func requestConfig(cfg *config.Config, hooks llmclient.Hooks) *llmclient.Config {
	req := llmclient.DefaultConfig("openai", cfg.OpenAI.BaseURL)
	req.MaxRetries = cfg.Retry.MaxRetries
	if cfg.Retry.InitialBackoff > 0 {
		req.InitialBackoff = cfg.Retry.InitialBackoff
	}
	if cfg.Retry.MaxBackoff > 0 {
		req.MaxBackoff = cfg.Retry.MaxBackoff
	}
	if cfg.Retry.BackoffFactor > 0 {
		req.BackoffFactor = cfg.Retry.BackoffFactor
	}

	cb := cfg.Retry.CircuitBreaker
	if cb.FailureThreshold > 0 {
		req.CircuitBreaker = &llmclient.CircuitBreakerConfig{
			FailureThreshold: cb.FailureThreshold,
			SuccessThreshold: cb.SuccessThreshold,
			Timeout:          cb.Timeout,
		}
	} else {
		req.CircuitBreaker = nil
	}

	req.Hooks = hooks
	return &req
}

func transportConfig(cfg config.HTTPConfig) httpclient.Config {
	transport := httpclient.Defaults()
	transport.Timeout = time.Duration(cfg.Timeout) * time.Second
	transport.ResponseHeaderTimeout = time.Duration(cfg.ResponseHeaderTimeout) * time.Second
	return transport
}
