package llmclient

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oaistream/internal/core"
)

func TestClient_Do_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message":"hello"}`))
	}))
	defer server.Close()

	client := New(
		DefaultConfig("test", server.URL),
		func(req *http.Request) {
			req.Header.Set("X-Test", "value")
		},
	)

	var result struct {
		Message string `json:"message"`
	}
	err := client.Do(context.Background(), Request{
		Method:   http.MethodGet,
		Endpoint: "/test",
	}, &result)

	require.NoError(t, err)
	assert.Equal(t, "hello", result.Message)
}

func TestClient_Do_WithRequestBody(t *testing.T) {
	var receivedBody map[string]interface{}
	var contentType string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &receivedBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	client := New(DefaultConfig("test", server.URL), nil)

	var result map[string]string
	err := client.Do(context.Background(), Request{
		Method:   http.MethodPost,
		Endpoint: "/test",
		Body:     map[string]string{"input": "test"},
	}, &result)

	require.NoError(t, err)
	assert.Equal(t, "application/json", contentType)
	assert.Equal(t, "test", receivedBody["input"])
}

func TestClient_Do_RawBodyWithHeaders(t *testing.T) {
	var receivedBody []byte
	var receivedHeaders http.Header

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedHeaders = r.Header.Clone()
		receivedBody, _ = io.ReadAll(r.Body)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := New(
		DefaultConfig("test", server.URL),
		func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer token")
		},
	)

	err := client.Do(context.Background(), Request{
		Method:   http.MethodPost,
		Endpoint: "/upload",
		RawBody:  []byte("--boundary--"),
		Headers: map[string]string{
			"Content-Type": "multipart/form-data; boundary=boundary",
		},
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, "--boundary--", string(receivedBody))
	assert.Equal(t, "Bearer token", receivedHeaders.Get("Authorization"))
	assert.Equal(t, "multipart/form-data; boundary=boundary", receivedHeaders.Get("Content-Type"))
}

func TestClient_Do_ErrorParsing(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		body       string
		wantType   core.ErrorType
	}{
		{
			name:       "rate limit",
			statusCode: http.StatusTooManyRequests,
			body:       `{"error":{"message":"Rate limited"}}`,
			wantType:   core.ErrorTypeRateLimit,
		},
		{
			name:       "authentication",
			statusCode: http.StatusUnauthorized,
			body:       `{"error":{"message":"Invalid API key"}}`,
			wantType:   core.ErrorTypeAuthentication,
		},
		{
			name:       "bad request",
			statusCode: http.StatusBadRequest,
			body:       `{"error":{"message":"Invalid model"}}`,
			wantType:   core.ErrorTypeInvalidRequest,
		},
		{
			name:       "server error",
			statusCode: http.StatusInternalServerError,
			body:       `{"error":{"message":"Server error"}}`,
			wantType:   core.ErrorTypeAPI,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			config := DefaultConfig("test", server.URL)
			config.MaxRetries = 0
			client := New(config, nil)

			err := client.Do(context.Background(), Request{
				Method:   http.MethodGet,
				Endpoint: "/test",
			}, nil)

			require.Error(t, err)
			var clientErr *core.ClientError
			require.ErrorAs(t, err, &clientErr)
			assert.Equal(t, tt.wantType, clientErr.Type)
		})
	}
}

func TestClient_Do_InvalidJSONResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	}))
	defer server.Close()

	client := New(DefaultConfig("test", server.URL), nil)

	var result map[string]any
	err := client.Do(context.Background(), Request{Method: http.MethodGet, Endpoint: "/test"}, &result)

	require.Error(t, err)
	assert.True(t, core.IsType(err, core.ErrorTypeDecode))
	assert.Contains(t, err.Error(), "{not json")
}

func TestClient_Do_TypeMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"abc"}`))
	}))
	defer server.Close()

	client := New(DefaultConfig("test", server.URL), nil)

	var result struct {
		ID int `json:"id"`
	}
	err := client.Do(context.Background(), Request{Method: http.MethodGet, Endpoint: "/test"}, &result)

	require.Error(t, err)
	assert.True(t, core.IsType(err, core.ErrorTypeDecode))
	assert.Contains(t, err.Error(), "cannot decode payload into")
	assert.Contains(t, err.Error(), `{"id":"abc"}`)
}

func TestClient_Do_DecodesCompressedBodies(t *testing.T) {
	payload := []byte(`{"message":"compressed"}`)

	var brBuf bytes.Buffer
	bw := brotli.NewWriter(&brBuf)
	_, _ = bw.Write(payload)
	require.NoError(t, bw.Close())

	var gzBuf bytes.Buffer
	gw := gzip.NewWriter(&gzBuf)
	_, _ = gw.Write(payload)
	require.NoError(t, gw.Close())

	tests := []struct {
		name     string
		encoding string
		body     []byte
	}{
		{name: "brotli", encoding: "br", body: brBuf.Bytes()},
		{name: "gzip", encoding: "gzip", body: gzBuf.Bytes()},
		{name: "identity", encoding: "", body: payload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var acceptEncoding string
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				acceptEncoding = r.Header.Get("Accept-Encoding")
				if tt.encoding != "" {
					w.Header().Set("Content-Encoding", tt.encoding)
				}
				_, _ = w.Write(tt.body)
			}))
			defer server.Close()

			client := New(DefaultConfig("test", server.URL), nil)

			var result struct {
				Message string `json:"message"`
			}
			err := client.Do(context.Background(), Request{Method: http.MethodGet, Endpoint: "/test"}, &result)

			require.NoError(t, err)
			assert.Equal(t, "compressed", result.Message)
			assert.Equal(t, "br, gzip", acceptEncoding)
		})
	}
}

func TestClient_Do_Retries(t *testing.T) {
	var attempts int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count := atomic.AddInt32(&attempts, 1)
		if count < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"Rate limited"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer server.Close()

	config := DefaultConfig("test", server.URL)
	config.MaxRetries = 3
	config.InitialBackoff = 10 * time.Millisecond
	client := New(config, nil)

	var result struct {
		Success bool `json:"success"`
	}
	err := client.Do(context.Background(), Request{
		Method:   http.MethodGet,
		Endpoint: "/test",
	}, &result)

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestClient_Do_RetriesExhausted(t *testing.T) {
	var attempts int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"Rate limited"}}`))
	}))
	defer server.Close()

	config := DefaultConfig("test", server.URL)
	config.MaxRetries = 2
	config.InitialBackoff = 10 * time.Millisecond
	client := New(config, nil)

	err := client.Do(context.Background(), Request{
		Method:   http.MethodGet,
		Endpoint: "/test",
	}, nil)

	require.Error(t, err)
	// 1 initial + 2 retries = 3 attempts
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestClient_DoStream_Success(t *testing.T) {
	var accept string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accept = r.Header.Get("Accept")
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("data: {\"chunk\":1}\n\n"))
		_, _ = w.Write([]byte("data: {\"chunk\":2}\n\n"))
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer server.Close()

	client := New(DefaultConfig("test", server.URL), nil)

	stream, err := client.DoStream(context.Background(), Request{
		Method:   http.MethodPost,
		Endpoint: "/stream",
		Body:     map[string]bool{"stream": true},
	})
	require.NoError(t, err)
	defer stream.Close()

	body, err := io.ReadAll(stream)
	require.NoError(t, err)
	assert.Contains(t, string(body), "chunk")
	assert.Equal(t, "text/event-stream", accept)
}

func TestClient_DoStream_Error(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded"}}`))
	}))
	defer server.Close()

	client := New(DefaultConfig("test", server.URL), nil)

	_, err := client.DoStream(context.Background(), Request{
		Method:   http.MethodPost,
		Endpoint: "/stream",
	})

	require.Error(t, err)
	var clientErr *core.ClientError
	require.ErrorAs(t, err, &clientErr)
	assert.Equal(t, core.ErrorTypeAPI, clientErr.Type)
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts), "streams are never retried")
}

func TestClient_DoStream_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client := New(DefaultConfig("test", url), nil)

	_, err := client.DoStream(context.Background(), Request{Method: http.MethodPost, Endpoint: "/stream"})

	require.Error(t, err)
	assert.True(t, core.IsType(err, core.ErrorTypeTransport))
}

func TestClient_Hooks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	var mu sync.Mutex
	var infos []RequestInfo

	config := DefaultConfig("test", server.URL)
	config.Hooks = Hooks{OnRequestEnd: func(info RequestInfo) {
		mu.Lock()
		defer mu.Unlock()
		infos = append(infos, info)
	}}
	client := New(config, nil)

	require.NoError(t, client.Do(context.Background(), Request{
		Method:    http.MethodGet,
		Endpoint:  "/models",
		Operation: "models.list",
	}, nil))
	stream, err := client.DoStream(context.Background(), Request{Method: http.MethodPost, Endpoint: "/chat/completions"})
	require.NoError(t, err)
	_ = stream.Close()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, infos, 2)
	assert.Equal(t, "models.list", infos[0].Operation)
	assert.Equal(t, http.StatusOK, infos[0].StatusCode)
	assert.False(t, infos[0].Stream)
	assert.Equal(t, http.MethodPost, infos[1].Operation, "operation falls back to method")
	assert.True(t, infos[1].Stream)
}

func TestCircuitBreaker_OpensAfterFailures(t *testing.T) {
	var attempts int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"Server error"}}`))
	}))
	defer server.Close()

	config := DefaultConfig("test", server.URL)
	config.MaxRetries = 0
	config.CircuitBreaker = &CircuitBreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Timeout:          1 * time.Second,
	}
	client := New(config, nil)

	for i := 0; i < 5; i++ {
		_ = client.Do(context.Background(), Request{
			Method:   http.MethodGet,
			Endpoint: "/test",
		}, nil)
	}

	err := client.Do(context.Background(), Request{
		Method:   http.MethodGet,
		Endpoint: "/test",
	}, nil)

	require.Error(t, err)
	var clientErr *core.ClientError
	require.ErrorAs(t, err, &clientErr)
	assert.Equal(t, http.StatusServiceUnavailable, clientErr.StatusCode)
	assert.Contains(t, clientErr.Message, "circuit breaker")
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestCircuitBreaker_ClosesAfterTimeout(t *testing.T) {
	var shouldSucceed atomic.Bool

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if shouldSucceed.Load() {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"success":true}`))
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"Server error"}}`))
	}))
	defer server.Close()

	config := DefaultConfig("test", server.URL)
	config.MaxRetries = 0
	config.CircuitBreaker = &CircuitBreakerConfig{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          50 * time.Millisecond,
	}
	client := New(config, nil)

	for i := 0; i < 2; i++ {
		_ = client.Do(context.Background(), Request{
			Method:   http.MethodGet,
			Endpoint: "/test",
		}, nil)
	}

	err := client.Do(context.Background(), Request{
		Method:   http.MethodGet,
		Endpoint: "/test",
	}, nil)
	require.Error(t, err, "expected circuit to be open")

	time.Sleep(100 * time.Millisecond)
	shouldSucceed.Store(true)

	var result struct {
		Success bool `json:"success"`
	}
	err = client.Do(context.Background(), Request{
		Method:   http.MethodGet,
		Endpoint: "/test",
	}, &result)

	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestCircuitBreaker_State(t *testing.T) {
	cb := newCircuitBreaker(3, 2, time.Minute)
	assert.Equal(t, "closed", cb.State())

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	assert.Equal(t, "open", cb.State())
}

func TestClient_ContextCancellation(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client := New(DefaultConfig("test", server.URL), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := client.Do(ctx, Request{
		Method:   http.MethodGet,
		Endpoint: "/test",
	}, nil)

	require.Error(t, err)
	assert.True(t, core.IsType(err, core.ErrorTypeCanceled))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig("test-client", "https://api.test.com")

	assert.Equal(t, "test-client", config.Name)
	assert.Equal(t, "https://api.test.com", config.BaseURL)
	assert.Equal(t, 3, config.MaxRetries)
	assert.Equal(t, 1*time.Second, config.InitialBackoff)
	assert.NotNil(t, config.CircuitBreaker)
}

func TestClient_SetBaseURL(t *testing.T) {
	client := New(DefaultConfig("test", "https://original.com"), nil)
	assert.Equal(t, "https://original.com", client.BaseURL())

	client.SetBaseURL("https://new.com")
	assert.Equal(t, "https://new.com", client.BaseURL())
}

func TestClient_NonRetryableErrors(t *testing.T) {
	var attempts int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"Bad request"}}`))
	}))
	defer server.Close()

	config := DefaultConfig("test", server.URL)
	config.MaxRetries = 3
	client := New(config, nil)

	err := client.Do(context.Background(), Request{
		Method:   http.MethodGet,
		Endpoint: "/test",
	}, nil)

	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts), "no retries on 400")
}

func TestBackoffCalculation(t *testing.T) {
	config := DefaultConfig("test", "http://test.com")
	config.InitialBackoff = 100 * time.Millisecond
	config.MaxBackoff = 1 * time.Second
	config.BackoffFactor = 2.0
	client := New(config, nil)

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, 1 * time.Second},
		{10, 1 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, client.calculateBackoff(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestReadBody_UnknownEncodingPassesThrough(t *testing.T) {
	body, err := readBody(strings.NewReader("raw"), "zstd")
	require.NoError(t, err)
	assert.Equal(t, "raw", string(body))
}
