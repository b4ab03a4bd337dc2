// Package mockserver serves a scripted OpenAI-compatible upstream for tests,
// demos and the mock CLI command.
package mockserver

import (
	"context"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultBodySizeLimit bounds request bodies, file uploads included.
const DefaultBodySizeLimit int64 = 32 * 1024 * 1024

// Config holds mock server options.
type Config struct {
	APIKey          string        // Optional: required bearer token
	Scenario        Scenario      // Default script for streaming endpoints (default: normal)
	ChunkDelay      time.Duration // Pause between streamed frames
	MetricsEnabled  bool          // Whether to expose a Prometheus metrics endpoint
	MetricsEndpoint string        // HTTP path for metrics endpoint (default: /metrics)
	Gatherer        prometheus.Gatherer
	BodySizeLimit   int64
	Logger          *slog.Logger
}

// Server wraps the Echo server
type Server struct {
	echo    *echo.Echo
	handler *Handler
}

// New creates a mock upstream server.
func New(cfg *Config) *Server {
	if cfg == nil {
		cfg = &Config{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	handler := NewHandler(cfg.Scenario, cfg.ChunkDelay)

	authSkipPaths := []string{"/health"}

	metricsPath := "/metrics"
	if cfg.MetricsEnabled {
		if cfg.MetricsEndpoint != "" {
			metricsPath = path.Clean("/" + cfg.MetricsEndpoint)
		}
		authSkipPaths = append(authSkipPaths, metricsPath)
	}

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency}
			if v.Error != nil {
				attrs = append(attrs, "error", v.Error)
			}
			logger.Debug("mock request", attrs...)
			return nil
		},
	}))
	e.Use(middleware.Recover())

	bodySizeLimit := DefaultBodySizeLimit
	if cfg.BodySizeLimit > 0 {
		bodySizeLimit = cfg.BodySizeLimit
	}
	e.Use(middleware.BodyLimit(strconv.FormatInt(bodySizeLimit, 10)))

	if cfg.APIKey != "" {
		e.Use(AuthMiddleware(cfg.APIKey, authSkipPaths))
	}

	e.GET("/health", handler.Health)
	if cfg.MetricsEnabled {
		gatherer := cfg.Gatherer
		if gatherer == nil {
			gatherer = prometheus.DefaultGatherer
		}
		e.GET(metricsPath, echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	v1 := e.Group("/v1")
	v1.GET("/models", handler.ListModels)
	v1.GET("/models/:id", handler.RetrieveModel)
	v1.POST("/chat/completions", handler.ChatCompletion)
	v1.POST("/moderations", handler.Moderation)

	threads := v1.Group("/threads", requireBeta)
	threads.POST("/runs", handler.CreateThreadAndRun)
	threads.POST("/:thread_id/runs", handler.CreateRun)
	threads.POST("/:thread_id/runs/:run_id/submit_tool_outputs", handler.SubmitToolOutputs)

	v1.POST("/files", handler.UploadFile)
	v1.GET("/files", handler.ListFiles)
	v1.GET("/files/:id", handler.RetrieveFile)
	v1.DELETE("/files/:id", handler.DeleteFile)
	v1.GET("/files/:id/content", handler.FileContent)

	return &Server{
		echo:    e,
		handler: handler,
	}
}

// Start starts the HTTP server on the given address
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// ServeHTTP implements the http.Handler interface, allowing Server to be used with httptest
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
