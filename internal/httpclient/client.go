// Package httpclient builds the HTTP clients used to reach the upstream API.
//
// One-shot calls and event streams share a single transport, so both draw
// from the same connection pool. Only one-shot calls carry an overall
// deadline; a stream stays open as long as the upstream keeps writing.
package httpclient

import (
	"net"
	"net/http"
	"time"
)

// Config holds transport settings. Timeouts come from the application
// config; this package reads no environment.
type Config struct {
	// Timeout bounds a whole one-shot request. Zero means no limit.
	// Streams never use it.
	Timeout time.Duration

	// ResponseHeaderTimeout bounds the wait for response headers, streams included.
	ResponseHeaderTimeout time.Duration

	DialTimeout         time.Duration
	KeepAlive           time.Duration
	TLSHandshakeTimeout time.Duration
	IdleConnTimeout     time.Duration
	MaxIdleConnsPerHost int
}

// Defaults returns the transport settings used when none are configured.
func Defaults() Config {
	return Config{
		Timeout:               600 * time.Second,
		ResponseHeaderTimeout: 600 * time.Second,
		DialTimeout:           30 * time.Second,
		KeepAlive:             30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConnsPerHost:   100,
	}
}

// Clients pairs the one-shot and streaming clients built over one transport.
type Clients struct {
	Request *http.Client
	Stream  *http.Client
}

// New builds both clients from cfg.
func New(cfg Config) Clients {
	transport := newTransport(cfg)
	return Clients{
		Request: &http.Client{Transport: transport, Timeout: cfg.Timeout},
		Stream:  &http.Client{Transport: transport},
	}
}

func newTransport(cfg Config) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.DialTimeout,
			KeepAlive: cfg.KeepAlive,
		}).DialContext,
		MaxIdleConns:          cfg.MaxIdleConnsPerHost,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		ForceAttemptHTTP2:     true,
		ExpectContinueTimeout: time.Second,
	}
}
