// Package llmclient is the request layer shared by every oaistream operation:
// - Request marshaling/unmarshaling
// - Retries with exponential backoff for one-shot requests
// - Standardized error parsing (429, 5xx)
// - Circuit breaking
// - Long-lived streaming responses (never retried)
package llmclient

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/tidwall/gjson"

	"oaistream/internal/core"
	"oaistream/internal/httpclient"
)

// maxDecodedBodySize bounds decompressed one-shot response bodies.
const maxDecodedBodySize = 64 * 1024 * 1024

// Config holds configuration for the client
type Config struct {
	// Name identifies the client in logs and metrics
	Name string

	// BaseURL is the API base URL
	BaseURL string

	// Retry configuration (one-shot requests only)
	MaxRetries     int           // Maximum number of retry attempts (default: 3)
	InitialBackoff time.Duration // Initial backoff duration (default: 1s)
	MaxBackoff     time.Duration // Maximum backoff duration (default: 30s)
	BackoffFactor  float64       // Backoff multiplier (default: 2.0)

	// Circuit breaker configuration
	CircuitBreaker *CircuitBreakerConfig

	// Hooks observe every request
	Hooks Hooks
}

// CircuitBreakerConfig holds circuit breaker settings
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of failures before opening the circuit
	FailureThreshold int
	// SuccessThreshold is the number of successes needed to close an open circuit
	SuccessThreshold int
	// Timeout is how long to wait before attempting to close an open circuit
	Timeout time.Duration
}

// RequestInfo describes a finished request for hooks.
type RequestInfo struct {
	Client     string
	Operation  string
	Method     string
	Stream     bool
	StatusCode int
	Duration   time.Duration
	Err        error
}

// Hooks observe the request layer. Nil hooks are skipped.
type Hooks struct {
	OnRequestEnd func(info RequestInfo)
}

// DefaultConfig returns default client configuration
func DefaultConfig(name, baseURL string) Config {
	return Config{
		Name:           name,
		BaseURL:        baseURL,
		MaxRetries:     3,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
		BackoffFactor:  2.0,
		CircuitBreaker: &CircuitBreakerConfig{
			FailureThreshold: 5,
			SuccessThreshold: 2,
			Timeout:          30 * time.Second,
		},
	}
}

// HeaderSetter is a function that sets headers on an HTTP request
type HeaderSetter func(req *http.Request)

// Client is the base HTTP client for all API calls
type Client struct {
	httpClient     *http.Client
	streamClient   *http.Client
	config         Config
	headerSetter   HeaderSetter
	circuitBreaker *circuitBreaker
	mu             sync.RWMutex
}

// New creates a new client with the given configuration
func New(config Config, headerSetter HeaderSetter) *Client {
	clients := httpclient.New(httpclient.Defaults())
	return newClient(clients.Request, clients.Stream, config, headerSetter)
}

// NewWithHTTPClient creates a new client with a custom HTTP client used for
// both one-shot and streaming requests.
func NewWithHTTPClient(httpClient *http.Client, config Config, headerSetter HeaderSetter) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return newClient(httpClient, httpClient, config, headerSetter)
}

// NewWithHTTPClients creates a client with distinct one-shot and streaming HTTP clients.
func NewWithHTTPClients(httpClient, streamClient *http.Client, config Config, headerSetter HeaderSetter) *Client {
	return newClient(httpClient, streamClient, config, headerSetter)
}

func newClient(httpClient, streamClient *http.Client, config Config, headerSetter HeaderSetter) *Client {
	c := &Client{
		httpClient:   httpClient,
		streamClient: streamClient,
		config:       config,
		headerSetter: headerSetter,
	}

	if config.CircuitBreaker != nil {
		c.circuitBreaker = newCircuitBreaker(
			config.CircuitBreaker.FailureThreshold,
			config.CircuitBreaker.SuccessThreshold,
			config.CircuitBreaker.Timeout,
		)
	}

	return c
}

// SetBaseURL updates the base URL
func (c *Client) SetBaseURL(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.config.BaseURL = url
}

// BaseURL returns the current base URL
func (c *Client) BaseURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.config.BaseURL
}

// Request represents an HTTP request to be made
type Request struct {
	Method   string
	Endpoint string
	// Operation is a low-cardinality name used for metrics (e.g. "chat.completions").
	Operation string
	Body      interface{} // Will be JSON marshaled if not nil
	// RawBody is sent as-is when set; Body is ignored. Used for pre-serialized
	// JSON and multipart payloads (set Content-Type in Headers).
	RawBody []byte
	Headers map[string]string
}

// Response represents an HTTP response
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Do executes a request with retries and circuit breaking, then unmarshals the response
func (c *Client) Do(ctx context.Context, req Request, result interface{}) error {
	resp, err := c.DoRaw(ctx, req)
	if err != nil {
		return err
	}

	if result != nil && len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, result); err != nil {
			if gjson.ValidBytes(resp.Body) {
				return core.NewUnmarshalError(string(resp.Body), fmt.Sprintf("%T", result), err)
			}
			return core.NewDecodeError(string(resp.Body), "failed to unmarshal response: "+err.Error(), err)
		}
	}

	return nil
}

// DoRaw executes a request with retries and circuit breaking, returning the raw response
func (c *Client) DoRaw(ctx context.Context, req Request) (resp *Response, err error) {
	start := time.Now()
	defer func() {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		c.observe(req, false, status, time.Since(start), err)
	}()

	if c.circuitBreaker != nil && !c.circuitBreaker.Allow() {
		return nil, core.NewAPIError(http.StatusServiceUnavailable,
			"circuit breaker is open - API temporarily unavailable", nil)
	}

	var lastErr error
	maxAttempts := c.config.MaxRetries + 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := c.calculateBackoff(attempt)
			select {
			case <-ctx.Done():
				return nil, core.NewCanceledError(ctx.Err())
			case <-time.After(backoff):
			}
		}

		resp, err := c.doRequest(ctx, req)
		if err != nil {
			lastErr = err
			if core.IsType(err, core.ErrorTypeCanceled) {
				return nil, err
			}
			if c.circuitBreaker != nil {
				c.circuitBreaker.RecordFailure()
			}
			continue
		}

		if c.isRetryable(resp.StatusCode) {
			if c.circuitBreaker != nil {
				c.circuitBreaker.RecordFailure()
			}
			lastErr = core.ParseAPIError(resp.StatusCode, resp.Body)
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			if c.circuitBreaker != nil && resp.StatusCode >= 500 {
				c.circuitBreaker.RecordFailure()
			}
			return nil, core.ParseAPIError(resp.StatusCode, resp.Body)
		}

		if c.circuitBreaker != nil {
			c.circuitBreaker.RecordSuccess()
		}
		return resp, nil
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, core.NewAPIError(http.StatusBadGateway, "request failed after retries", nil)
}

// DoStream executes a streaming request, returning the open response body.
// Streaming requests are never retried: partial data may already have been delivered.
// The caller owns the returned body and must close it.
func (c *Client) DoStream(ctx context.Context, req Request) (body io.ReadCloser, err error) {
	start := time.Now()
	status := 0
	defer func() {
		c.observe(req, true, status, time.Since(start), err)
	}()

	if c.circuitBreaker != nil && !c.circuitBreaker.Allow() {
		return nil, core.NewAPIError(http.StatusServiceUnavailable,
			"circuit breaker is open - API temporarily unavailable", nil)
	}

	httpReq, err := c.buildRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")

	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		if c.circuitBreaker != nil {
			c.circuitBreaker.RecordFailure()
		}
		return nil, classifySendError(ctx, err)
	}
	status = resp.StatusCode

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			respBody = []byte("failed to read error response")
		}
		_ = resp.Body.Close()

		if c.circuitBreaker != nil {
			if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
				c.circuitBreaker.RecordFailure()
			}
		}
		return nil, core.ParseAPIError(resp.StatusCode, respBody)
	}

	if c.circuitBreaker != nil {
		c.circuitBreaker.RecordSuccess()
	}
	return resp.Body, nil
}

// doRequest executes a single HTTP request without retries
func (c *Client) doRequest(ctx context.Context, req Request) (*Response, error) {
	httpReq, err := c.buildRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept-Encoding", "br, gzip")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifySendError(ctx, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := readBody(resp.Body, resp.Header.Get("Content-Encoding"))
	if err != nil {
		if ctxErr := core.FromContext(ctx); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, core.NewTransportError("failed to read response: "+err.Error(), err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

// buildRequest creates an HTTP request from a Request
func (c *Client) buildRequest(ctx context.Context, req Request) (*http.Request, error) {
	url := c.BaseURL() + req.Endpoint

	var bodyReader io.Reader
	hasBody := false
	switch {
	case req.RawBody != nil:
		bodyReader = bytes.NewReader(req.RawBody)
		hasBody = true
	case req.Body != nil:
		bodyBytes, err := json.Marshal(req.Body)
		if err != nil {
			return nil, core.NewInvalidRequestError("failed to marshal request", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
		hasBody = true
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, url, bodyReader)
	if err != nil {
		return nil, core.NewInvalidRequestError("failed to create request", err)
	}

	if hasBody {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	if c.headerSetter != nil {
		c.headerSetter(httpReq)
	}

	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	return httpReq, nil
}

func (c *Client) observe(req Request, stream bool, status int, d time.Duration, err error) {
	if c.config.Hooks.OnRequestEnd == nil {
		return
	}
	op := req.Operation
	if op == "" {
		op = req.Method
	}
	c.config.Hooks.OnRequestEnd(RequestInfo{
		Client:     c.config.Name,
		Operation:  op,
		Method:     req.Method,
		Stream:     stream,
		StatusCode: status,
		Duration:   d,
		Err:        err,
	})
}

// classifySendError maps a failed round trip to a canceled or transport error.
func classifySendError(ctx context.Context, err error) error {
	if ctxErr := core.FromContext(ctx); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return core.NewCanceledError(err)
	}
	return core.NewTransportError("failed to send request: "+err.Error(), err)
}

// readBody reads a one-shot response body, decoding br and gzip content encodings.
func readBody(body io.Reader, contentEncoding string) ([]byte, error) {
	encoding := strings.ToLower(strings.TrimSpace(strings.Split(contentEncoding, ",")[0]))

	var reader io.Reader
	switch encoding {
	case "", "identity":
		reader = body
	case "br":
		reader = brotli.NewReader(body)
	case "gzip":
		gz, err := gzip.NewReader(body)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		reader = gz
	default:
		reader = body
	}

	return io.ReadAll(io.LimitReader(reader, maxDecodedBodySize))
}

// calculateBackoff calculates the backoff duration for a given attempt
func (c *Client) calculateBackoff(attempt int) time.Duration {
	backoff := float64(c.config.InitialBackoff) * math.Pow(c.config.BackoffFactor, float64(attempt-1))
	if backoff > float64(c.config.MaxBackoff) {
		backoff = float64(c.config.MaxBackoff)
	}
	return time.Duration(backoff)
}

// isRetryable returns true if the status code indicates a retryable error
func (c *Client) isRetryable(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests ||
		statusCode == http.StatusServiceUnavailable ||
		statusCode == http.StatusBadGateway ||
		statusCode == http.StatusGatewayTimeout
}

// circuitBreaker implements a simple circuit breaker pattern
type circuitBreaker struct {
	mu               sync.RWMutex
	state            circuitState
	failures         int
	successes        int
	failureThreshold int
	successThreshold int
	timeout          time.Duration
	lastFailure      time.Time
}

type circuitState int

const (
	circuitClosed circuitState = iota
	circuitOpen
	circuitHalfOpen
)

func newCircuitBreaker(failureThreshold, successThreshold int, timeout time.Duration) *circuitBreaker {
	return &circuitBreaker{
		state:            circuitClosed,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		timeout:          timeout,
	}
}

// Allow checks if a request should be allowed through the circuit breaker
func (cb *circuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case circuitClosed:
		return true
	case circuitOpen:
		if time.Since(cb.lastFailure) > cb.timeout {
			cb.state = circuitHalfOpen
			cb.successes = 0
			return true
		}
		return false
	case circuitHalfOpen:
		return true
	}
	return true
}

// RecordSuccess records a successful request
func (cb *circuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case circuitHalfOpen:
		cb.successes++
		if cb.successes >= cb.successThreshold {
			cb.state = circuitClosed
			cb.failures = 0
		}
	case circuitClosed:
		cb.failures = 0
	}
}

// RecordFailure records a failed request
func (cb *circuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailure = time.Now()

	switch cb.state {
	case circuitClosed:
		if cb.failures >= cb.failureThreshold {
			cb.state = circuitOpen
		}
	case circuitHalfOpen:
		cb.state = circuitOpen
		cb.successes = 0
	}
}

// State returns the current circuit state (for testing/monitoring)
func (cb *circuitBreaker) State() string {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	switch cb.state {
	case circuitClosed:
		return "closed"
	case circuitOpen:
		return "open"
	case circuitHalfOpen:
		return "half-open"
	}
	return "unknown"
}
