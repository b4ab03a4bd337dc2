package core

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *ClientError
		expected string
	}{
		{
			name: "error with status",
			err: &ClientError{
				Type:       ErrorTypeAPI,
				Message:    "upstream error",
				StatusCode: http.StatusBadGateway,
			},
			expected: "api_error (status 502): upstream error",
		},
		{
			name: "error without status",
			err: &ClientError{
				Type:    ErrorTypeTransport,
				Message: "connection refused",
			},
			expected: "transport_error: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestClientError_Unwrap(t *testing.T) {
	originalErr := errors.New("original error")
	err := NewTransportError("dropped", originalErr)

	assert.ErrorIs(t, err, originalErr)
}

func TestNewDecodeError_EmbedsPayload(t *testing.T) {
	err := NewDecodeError("{bad json", "unexpected end of JSON input", nil)

	assert.Equal(t, ErrorTypeDecode, err.Type)
	assert.Equal(t, "{bad json", err.Payload)
	assert.Contains(t, err.Error(), "{bad json")
	assert.Contains(t, err.Error(), "unexpected end of JSON input")
}

func TestNewDecodeError_PayloadVerbatimInMessage(t *testing.T) {
	err := NewDecodeError(`{"text":"unterminated`, "unexpected end of JSON input", nil)

	assert.Equal(t, `invalid JSON payload: {"text":"unterminated: unexpected end of JSON input`, err.Message)
}

func TestNewUnmarshalError(t *testing.T) {
	cause := errors.New("json: cannot unmarshal string into Go struct field .id of type int")
	err := NewUnmarshalError(`{"id":"x"}`, "stream.idChunk", cause)

	assert.Equal(t, ErrorTypeDecode, err.Type)
	assert.Equal(t, `{"id":"x"}`, err.Payload)
	assert.ErrorIs(t, err, cause)
	assert.True(t, strings.HasPrefix(err.Message, "cannot decode payload into stream.idChunk: "))
	assert.Contains(t, err.Message, `{"id":"x"}`)
	assert.NotContains(t, err.Message, "invalid JSON")
}

func TestNewDecodeError_TruncatesLongPayloadInMessage(t *testing.T) {
	payload := strings.Repeat("x", 2*maxPayloadInMessage)
	err := NewDecodeError(payload, "invalid character", nil)

	assert.Equal(t, payload, err.Payload, "full payload is kept on the error")
	assert.Less(t, len(err.Message), len(payload))
}

func TestParseAPIError(t *testing.T) {
	tests := []struct {
		name        string
		statusCode  int
		body        string
		wantType    ErrorType
		wantMessage string
		wantCode    string
	}{
		{
			name:        "unauthorized",
			statusCode:  http.StatusUnauthorized,
			body:        `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":"invalid_api_key"}}`,
			wantType:    ErrorTypeAuthentication,
			wantMessage: "Incorrect API key provided",
			wantCode:    "invalid_api_key",
		},
		{
			name:        "rate limit",
			statusCode:  http.StatusTooManyRequests,
			body:        `{"error":{"message":"Rate limit reached"}}`,
			wantType:    ErrorTypeRateLimit,
			wantMessage: "Rate limit reached",
		},
		{
			name:        "not found",
			statusCode:  http.StatusNotFound,
			body:        `{"error":{"message":"No such thread"}}`,
			wantType:    ErrorTypeNotFound,
			wantMessage: "No such thread",
		},
		{
			name:        "bad request with non-json body",
			statusCode:  http.StatusBadRequest,
			body:        `plain text`,
			wantType:    ErrorTypeInvalidRequest,
			wantMessage: "plain text",
		},
		{
			name:        "server error with empty body",
			statusCode:  http.StatusServiceUnavailable,
			body:        ``,
			wantType:    ErrorTypeAPI,
			wantMessage: "Service Unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ParseAPIError(tt.statusCode, []byte(tt.body))
			require.NotNil(t, err)
			assert.Equal(t, tt.wantType, err.Type)
			assert.Equal(t, tt.wantMessage, err.Message)
			assert.Equal(t, tt.statusCode, err.StatusCode)
			assert.Equal(t, tt.wantCode, err.Code)
		})
	}
}

func TestIsType(t *testing.T) {
	err := NewTransportError("boom", nil)
	wrapped := errors.Join(errors.New("context"), err)

	assert.True(t, IsType(wrapped, ErrorTypeTransport))
	assert.False(t, IsType(wrapped, ErrorTypeDecode))
	assert.False(t, IsType(errors.New("plain"), ErrorTypeTransport))
}

func TestFromContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	assert.NoError(t, FromContext(ctx))

	cancel()
	err := FromContext(ctx)
	require.Error(t, err)
	assert.True(t, IsType(err, ErrorTypeCanceled))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRequestIDContext(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetRequestID(ctx))

	ctx = WithRequestID(ctx, "req-123")
	assert.Equal(t, "req-123", GetRequestID(ctx))
}

func TestIsValidClientRequestID(t *testing.T) {
	assert.True(t, IsValidClientRequestID("7d0f6a3e-2c1b-4f5e-9a8b-1c2d3e4f5a6b"))
	assert.False(t, IsValidClientRequestID(""))
	assert.False(t, IsValidClientRequestID("id-ü"))
	assert.False(t, IsValidClientRequestID(strings.Repeat("a", 513)))
}
