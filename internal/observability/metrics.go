// Package observability exposes Prometheus metrics for streaming sessions and
// the request layer through hooks.
package observability

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"oaistream/internal/core"
	"oaistream/internal/llmclient"
	"oaistream/internal/stream"
)

// Metrics holds the oaistream collectors.
type Metrics struct {
	sessionsTotal   *prometheus.CounterVec
	sessionsActive  *prometheus.GaugeVec
	sessionDuration *prometheus.HistogramVec
	framesTotal     *prometheus.CounterVec

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg registers with prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		sessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oaistream_stream_sessions_total",
			Help: "Streaming sessions by operation and outcome",
		}, []string{"operation", "outcome", "error_type"}),
		sessionsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "oaistream_stream_sessions_active",
			Help: "Streaming sessions currently in progress",
		}, []string{"operation"}),
		sessionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "oaistream_stream_session_duration_seconds",
			Help:    "Duration of streaming sessions from connect to terminal callback",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"operation", "outcome"}),
		framesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oaistream_stream_frames_total",
			Help: "Data increments delivered to callers",
		}, []string{"operation"}),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oaistream_requests_total",
			Help: "Requests issued by the request layer",
		}, []string{"client", "operation", "stream", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "oaistream_request_duration_seconds",
			Help:    "Request duration until response headers (streams) or full body (one-shot)",
			Buckets: prometheus.DefBuckets,
		}, []string{"client", "operation", "stream"}),
	}

	reg.MustRegister(
		m.sessionsTotal,
		m.sessionsActive,
		m.sessionDuration,
		m.framesTotal,
		m.requestsTotal,
		m.requestDuration,
	)
	return m
}

// SessionHooks returns stream hooks recording session metrics.
func (m *Metrics) SessionHooks() stream.Hooks {
	return stream.Hooks{
		OnStart: func(_, operation string) {
			m.sessionsActive.WithLabelValues(operation).Inc()
		},
		OnEnd: func(stats stream.Stats) {
			m.sessionsActive.WithLabelValues(stats.Operation).Dec()
			m.sessionsTotal.WithLabelValues(stats.Operation, string(stats.Outcome), errorType(stats.Err)).Inc()
			m.sessionDuration.WithLabelValues(stats.Operation, string(stats.Outcome)).Observe(stats.Duration.Seconds())
			if stats.Frames > 0 {
				m.framesTotal.WithLabelValues(stats.Operation).Add(float64(stats.Frames))
			}
		},
	}
}

// RequestHooks returns request-layer hooks recording request metrics.
func (m *Metrics) RequestHooks() llmclient.Hooks {
	return llmclient.Hooks{
		OnRequestEnd: func(info llmclient.RequestInfo) {
			streamLabel := strconv.FormatBool(info.Stream)
			m.requestsTotal.WithLabelValues(info.Client, info.Operation, streamLabel, statusLabel(info)).Inc()
			m.requestDuration.WithLabelValues(info.Client, info.Operation, streamLabel).Observe(info.Duration.Seconds())
		},
	}
}

func statusLabel(info llmclient.RequestInfo) string {
	if info.StatusCode != 0 {
		return strconv.Itoa(info.StatusCode)
	}
	var clientErr *core.ClientError
	if errors.As(info.Err, &clientErr) && clientErr.StatusCode != 0 {
		return strconv.Itoa(clientErr.StatusCode)
	}
	if info.Err != nil {
		return "error"
	}
	return "unknown"
}

func errorType(err error) string {
	if err == nil {
		return ""
	}
	var clientErr *core.ClientError
	if errors.As(err, &clientErr) {
		return string(clientErr.Type)
	}
	return "unknown"
}
