// Package openai is the oaistream client for OpenAI-compatible APIs: streaming
// chat completions and runs, plus REST passthroughs for models, moderations,
// assistants, threads, messages, runs and files.
package openai

import (
	"log/slog"
	"net/http"
	"time"

	"oaistream/internal/cache"
	"oaistream/internal/core"
	"oaistream/internal/llmclient"
	"oaistream/internal/stream"
)

const (
	// DefaultBaseURL is the OpenAI API base URL.
	DefaultBaseURL = "https://api.openai.com/v1"

	// DefaultModelCacheTTL is how long a cached model listing is served.
	DefaultModelCacheTTL = time.Hour

	assistantsBetaHeader = "OpenAI-Beta"
	assistantsBetaValue  = "assistants=v2"
)

// Options configures a Client. Zero values select defaults.
type Options struct {
	// BaseURL overrides DefaultBaseURL.
	BaseURL string

	// Request configures retries and circuit breaking of the request layer.
	// Name and BaseURL are filled in by New.
	Request *llmclient.Config

	// HTTPClient and StreamHTTPClient replace the default transports.
	HTTPClient       *http.Client
	StreamHTTPClient *http.Client

	// SessionHooks observe every streaming session started by the client.
	SessionHooks stream.Hooks

	// ModelCache, when set, serves ListModels for ModelCacheTTL.
	ModelCache    cache.Cache
	ModelCacheTTL time.Duration

	Logger *slog.Logger
}

// Client talks to one OpenAI-compatible API.
type Client struct {
	apiKey    string
	client    *llmclient.Client
	transport stream.Transport

	sessionHooks stream.Hooks
	modelCache   cache.Cache
	cacheTTL     time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

// New creates a client authenticating with apiKey.
func New(apiKey string, opts Options) *Client {
	c := &Client{
		apiKey:       apiKey,
		sessionHooks: opts.SessionHooks,
		modelCache:   opts.ModelCache,
		cacheTTL:     opts.ModelCacheTTL,
		logger:       opts.Logger,
		now:          time.Now,
	}
	if c.cacheTTL <= 0 {
		c.cacheTTL = DefaultModelCacheTTL
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}

	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	cfg := llmclient.DefaultConfig("openai", baseURL)
	if opts.Request != nil {
		cfg = *opts.Request
		cfg.Name = "openai"
		cfg.BaseURL = baseURL
	}

	switch {
	case opts.HTTPClient != nil || opts.StreamHTTPClient != nil:
		httpClient, streamClient := opts.HTTPClient, opts.StreamHTTPClient
		if httpClient == nil {
			httpClient = streamClient
		}
		if streamClient == nil {
			streamClient = httpClient
		}
		c.client = llmclient.NewWithHTTPClients(httpClient, streamClient, cfg, c.setHeaders)
	default:
		c.client = llmclient.New(cfg, c.setHeaders)
	}
	c.transport = stream.NewHTTPTransport(c.client)
	return c
}

// BaseURL returns the API base URL.
func (c *Client) BaseURL() string {
	return c.client.BaseURL()
}

// SetBaseURL changes the API base URL.
func (c *Client) SetBaseURL(url string) {
	c.client.SetBaseURL(url)
}

// setHeaders sets the required headers for API requests
func (c *Client) setHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	// OpenAI rejects X-Client-Request-Id values that are not ASCII or exceed 512 bytes.
	if requestID := core.GetRequestID(req.Context()); core.IsValidClientRequestID(requestID) {
		req.Header.Set("X-Client-Request-Id", requestID)
	}
}

func betaHeaders() map[string]string {
	return map[string]string{assistantsBetaHeader: assistantsBetaValue}
}
