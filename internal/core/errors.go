// Package core provides the shared types and error taxonomy for the oaistream client.
package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents the type of error that occurred
type ErrorType string

const (
	// ErrorTypeTransport indicates the connection could not be established,
	// was dropped mid-stream, or closed before the terminal sentinel.
	ErrorTypeTransport ErrorType = "transport_error"
	// ErrorTypeDecode indicates a frame payload that could not be decoded
	ErrorTypeDecode ErrorType = "decode_error"
	// ErrorTypeCanceled indicates the caller cancelled the request
	ErrorTypeCanceled ErrorType = "canceled"
	// ErrorTypeAPI indicates an upstream server error (5xx)
	ErrorTypeAPI ErrorType = "api_error"
	// ErrorTypeRateLimit indicates a rate limit error (429)
	ErrorTypeRateLimit ErrorType = "rate_limit_error"
	// ErrorTypeInvalidRequest indicates a client error (4xx)
	ErrorTypeInvalidRequest ErrorType = "invalid_request_error"
	// ErrorTypeAuthentication indicates an authentication error (401/403)
	ErrorTypeAuthentication ErrorType = "authentication_error"
	// ErrorTypeNotFound indicates a not found error (404)
	ErrorTypeNotFound ErrorType = "not_found_error"
)

// maxPayloadInMessage bounds how much of a raw payload is quoted in error messages.
const maxPayloadInMessage = 512

// ClientError is the error type returned by every oaistream operation.
type ClientError struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	StatusCode int       `json:"status_code,omitempty"`
	Code       string    `json:"code,omitempty"`
	// Payload holds the raw frame payload for decode errors.
	Payload string `json:"payload,omitempty"`
	// Original error for debugging
	Err error `json:"-"`
}

// Error implements the error interface
func (e *ClientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (status %d): %s", e.Type, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements the error unwrapping interface
func (e *ClientError) Unwrap() error {
	return e.Err
}

// NewTransportError creates a transport error (connect failure, dropped or truncated stream)
func NewTransportError(message string, err error) *ClientError {
	return &ClientError{
		Type:    ErrorTypeTransport,
		Message: message,
		Err:     err,
	}
}

// NewDecodeError creates a decode error for a payload that is not valid JSON.
// The payload is kept verbatim on the error and, truncated, in its message.
func NewDecodeError(payload, cause string, err error) *ClientError {
	return &ClientError{
		Type:    ErrorTypeDecode,
		Message: fmt.Sprintf("invalid JSON payload: %s: %s", truncatePayload(payload), cause),
		Payload: payload,
		Err:     err,
	}
}

// NewUnmarshalError creates a decode error for valid JSON that does not fit
// the target type.
func NewUnmarshalError(payload, target string, err error) *ClientError {
	return &ClientError{
		Type:    ErrorTypeDecode,
		Message: fmt.Sprintf("cannot decode payload into %s: %v: %s", target, err, truncatePayload(payload)),
		Payload: payload,
		Err:     err,
	}
}

func truncatePayload(payload string) string {
	if len(payload) > maxPayloadInMessage {
		return payload[:maxPayloadInMessage] + "..."
	}
	return payload
}

// NewCanceledError wraps a context error.
func NewCanceledError(err error) *ClientError {
	return &ClientError{
		Type:    ErrorTypeCanceled,
		Message: "request canceled: " + err.Error(),
		Err:     err,
	}
}

// NewAPIError creates a new upstream server error (5xx)
func NewAPIError(statusCode int, message string, err error) *ClientError {
	return &ClientError{
		Type:       ErrorTypeAPI,
		Message:    message,
		StatusCode: statusCode,
		Err:        err,
	}
}

// NewRateLimitError creates a new rate limit error (429)
func NewRateLimitError(message string) *ClientError {
	return &ClientError{
		Type:       ErrorTypeRateLimit,
		Message:    message,
		StatusCode: http.StatusTooManyRequests,
	}
}

// NewInvalidRequestError creates a new invalid request error (400)
func NewInvalidRequestError(message string, err error) *ClientError {
	return NewInvalidRequestErrorWithStatus(http.StatusBadRequest, message, err)
}

// NewInvalidRequestErrorWithStatus creates a new invalid request error with a specific status code
func NewInvalidRequestErrorWithStatus(statusCode int, message string, err error) *ClientError {
	return &ClientError{
		Type:       ErrorTypeInvalidRequest,
		Message:    message,
		StatusCode: statusCode,
		Err:        err,
	}
}

// NewAuthenticationError creates a new authentication error (401)
func NewAuthenticationError(statusCode int, message string) *ClientError {
	return &ClientError{
		Type:       ErrorTypeAuthentication,
		Message:    message,
		StatusCode: statusCode,
	}
}

// NewNotFoundError creates a new not found error (404)
func NewNotFoundError(message string) *ClientError {
	return &ClientError{
		Type:       ErrorTypeNotFound,
		Message:    message,
		StatusCode: http.StatusNotFound,
	}
}

// ParseAPIError parses an OpenAI-style error envelope and returns an appropriate ClientError
func ParseAPIError(statusCode int, body []byte) *ClientError {
	var errorResponse struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    any    `json:"code"`
		} `json:"error"`
	}

	message := string(body)
	code := ""
	if err := json.Unmarshal(body, &errorResponse); err == nil && errorResponse.Error.Message != "" {
		message = errorResponse.Error.Message
		if errorResponse.Error.Code != nil {
			code = fmt.Sprint(errorResponse.Error.Code)
		}
	}
	if message == "" {
		message = http.StatusText(statusCode)
	}

	var err *ClientError
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		err = NewAuthenticationError(statusCode, message)
	case statusCode == http.StatusTooManyRequests:
		err = NewRateLimitError(message)
	case statusCode == http.StatusNotFound:
		err = NewNotFoundError(message)
	case statusCode >= 400 && statusCode < 500:
		err = NewInvalidRequestErrorWithStatus(statusCode, message, nil)
	default:
		err = NewAPIError(statusCode, message, nil)
	}
	err.Code = code
	return err
}

// IsType reports whether err is a *ClientError of the given type.
func IsType(err error, t ErrorType) bool {
	var ce *ClientError
	return errors.As(err, &ce) && ce.Type == t
}

// FromContext converts a context error into a canceled ClientError,
// returning nil when ctx is still live.
func FromContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return NewCanceledError(err)
	}
	return nil
}
