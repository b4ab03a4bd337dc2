package mockserver

import (
	"bufio"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthMiddleware(t *testing.T) {
	tests := []struct {
		name           string
		apiKey         string
		authHeader     string
		expectedStatus int
		expectedCode   string
	}{
		{name: "no key configured allows request", expectedStatus: http.StatusOK},
		{name: "valid key allows request", apiKey: "sk-mock", authHeader: "Bearer sk-mock", expectedStatus: http.StatusOK},
		{name: "missing header", apiKey: "sk-mock", expectedStatus: http.StatusUnauthorized, expectedCode: "missing_api_key"},
		{name: "missing bearer prefix", apiKey: "sk-mock", authHeader: "sk-mock", expectedStatus: http.StatusUnauthorized, expectedCode: "invalid_api_key"},
		{name: "wrong key", apiKey: "sk-mock", authHeader: "Bearer sk-other", expectedStatus: http.StatusUnauthorized, expectedCode: "invalid_api_key"},
		{name: "empty token", apiKey: "sk-mock", authHeader: "Bearer ", expectedStatus: http.StatusUnauthorized, expectedCode: "invalid_api_key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			handler := AuthMiddleware(tt.apiKey, nil)(func(c echo.Context) error {
				return c.String(http.StatusOK, "ok")
			})

			req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rec := httptest.NewRecorder()
			require.NoError(t, handler(e.NewContext(req, rec)))

			assert.Equal(t, tt.expectedStatus, rec.Code)
			if tt.expectedCode != "" {
				assert.Contains(t, rec.Body.String(), `"code":"`+tt.expectedCode+`"`)
				assert.Contains(t, rec.Body.String(), `"type":"invalid_request_error"`)
			}
		})
	}
}

func TestServer_PublicPaths(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "mock_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	srv := New(&Config{
		APIKey:          "sk-mock",
		MetricsEnabled:  true,
		MetricsEndpoint: "internal/metrics",
		Gatherer:        reg,
	})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/internal/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "mock_test_total 1")

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/models", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServer_MetricsDisabled(t *testing.T) {
	srv := New(nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestParseScenario(t *testing.T) {
	tests := []struct {
		in      string
		want    Scenario
		wantErr bool
	}{
		{"", ScenarioNormal, false},
		{"normal", ScenarioNormal, false},
		{" Malformed ", ScenarioMalformed, false},
		{"no-done", ScenarioNoDone, false},
		{"error", ScenarioError, false},
		{"rate-limit", ScenarioRateLimit, false},
		{"explode", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseScenario(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// readFrames returns the data lines of an SSE body.
func readFrames(t *testing.T, body io.Reader) []string {
	t.Helper()
	var data []string
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		if line, ok := strings.CutPrefix(scanner.Text(), "data: "); ok {
			data = append(data, line)
		}
	}
	require.NoError(t, scanner.Err())
	return data
}

func postChat(t *testing.T, srv http.Handler, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestChatCompletion_Scenarios(t *testing.T) {
	srv := New(nil)
	body := `{"model":"gpt-4o-mini","stream":true,"messages":[{"role":"user","content":"hi"}]}`

	t.Run("normal", func(t *testing.T) {
		rec := postChat(t, srv, body, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
		frames := readFrames(t, rec.Body)
		require.NotEmpty(t, frames)
		assert.Equal(t, "[DONE]", frames[len(frames)-1])
		assert.Contains(t, strings.Join(frames, ""), `"finish_reason":"stop"`)
	})

	t.Run("malformed via header", func(t *testing.T) {
		rec := postChat(t, srv, body, http.Header{ScenarioHeader: {"malformed"}})
		frames := readFrames(t, rec.Body)
		require.Len(t, frames, 3)
		assert.Contains(t, frames[0], `"role":"assistant"`)
		assert.Equal(t, `{"id": "broken", "choices": [`, frames[1])
	})

	t.Run("no-done via model", func(t *testing.T) {
		rec := postChat(t, srv, `{"model":"mock-no-done","stream":true}`, nil)
		frames := readFrames(t, rec.Body)
		require.NotEmpty(t, frames)
		assert.NotContains(t, frames, "[DONE]")
	})

	t.Run("error", func(t *testing.T) {
		rec := postChat(t, srv, body, http.Header{ScenarioHeader: {"error"}})
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Contains(t, rec.Body.String(), `"type":"server_error"`)
	})

	t.Run("usage chunk", func(t *testing.T) {
		rec := postChat(t, srv, `{"model":"m","stream":true,"stream_options":{"include_usage":true},"messages":[{"role":"user","content":"hi"}]}`, nil)
		frames := readFrames(t, rec.Body)
		require.GreaterOrEqual(t, len(frames), 2)
		assert.Contains(t, frames[len(frames)-2], `"usage"`)
	})

	t.Run("invalid json", func(t *testing.T) {
		rec := postChat(t, srv, `{"model":`, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing model", func(t *testing.T) {
		rec := postChat(t, srv, `{"stream":true}`, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("non streaming", func(t *testing.T) {
		rec := postChat(t, srv, `{"model":"m","messages":[{"role":"user","content":"hi"}]}`, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"object":"chat.completion"`)
		assert.Contains(t, rec.Body.String(), "This is a mock response to: hi")
	})
}

func TestRuns_RequireBetaHeader(t *testing.T) {
	srv := New(nil)
	req := httptest.NewRequest(http.MethodPost, "/v1/threads/thread_1/runs", strings.NewReader(`{"assistant_id":"asst_1"}`))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "OpenAI-Beta")
}

func TestSplitIntoChunks(t *testing.T) {
	assert.Nil(t, splitIntoChunks("", 5))
	assert.Equal(t, []string{"hello", " worl", "d"}, splitIntoChunks("hello world", 5))
	assert.Equal(t, []string{"héllo", " wörl", "d"}, splitIntoChunks("héllo wörld", 5))
}

func TestModerate(t *testing.T) {
	flagged := moderate("I will ATTACK you")
	assert.True(t, flagged.Flagged)
	assert.True(t, flagged.Categories["violence"])
	assert.False(t, flagged.Categories["hate"])

	clean := moderate("good morning")
	assert.False(t, clean.Flagged)
	assert.Len(t, clean.Categories, len(moderationKeywords))
}
