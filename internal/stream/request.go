// Package stream runs streaming sessions against event-stream endpoints:
// it opens the connection, decodes frames, and delivers typed increments to
// caller callbacks with exactly one terminal callback per session.
package stream

import (
	"bytes"
	"encoding/json"
	"maps"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"oaistream/internal/core"
)

// Request is an immutable streaming request.
type Request struct {
	endpoint  string
	operation string
	body      []byte
	headers   map[string]string
}

// RequestOption customizes a Request.
type RequestOption func(*Request)

// WithHeader adds a header sent with the request.
func WithHeader(key, value string) RequestOption {
	return func(r *Request) {
		if r.headers == nil {
			r.headers = make(map[string]string)
		}
		r.headers[key] = value
	}
}

// WithOperation sets the low-cardinality operation name used in metrics and logs.
func WithOperation(operation string) RequestOption {
	return func(r *Request) {
		r.operation = operation
	}
}

// NewRequest serializes params and sets "stream": true on the serialized copy.
// params must serialize to a JSON object; nil is treated as an empty object.
// The caller's value is never modified.
func NewRequest(endpoint string, params any, opts ...RequestOption) (*Request, error) {
	var body []byte
	switch p := params.(type) {
	case json.RawMessage:
		body = append([]byte(nil), p...)
	case []byte:
		body = append([]byte(nil), p...)
	default:
		b, err := json.Marshal(params)
		if err != nil {
			return nil, core.NewInvalidRequestError("failed to marshal stream parameters", err)
		}
		body = b
	}

	trimmed := bytes.TrimSpace(body)
	switch {
	case len(trimmed) == 0 || string(trimmed) == "null":
		body = []byte(`{}`)
	case !gjson.ValidBytes(body) || !gjson.ParseBytes(body).IsObject():
		return nil, core.NewInvalidRequestError("stream parameters must be a JSON object", nil)
	}

	body, err := sjson.SetBytes(body, "stream", true)
	if err != nil {
		return nil, core.NewInvalidRequestError("failed to set stream flag", err)
	}

	r := &Request{endpoint: endpoint, body: body}
	for _, opt := range opts {
		opt(r)
	}
	if r.operation == "" {
		r.operation = endpoint
	}
	return r, nil
}

// Endpoint returns the path appended to the API base URL.
func (r *Request) Endpoint() string {
	return r.endpoint
}

// Operation returns the operation name.
func (r *Request) Operation() string {
	return r.operation
}

// Body returns a copy of the serialized JSON body.
func (r *Request) Body() []byte {
	return append([]byte(nil), r.body...)
}

// Headers returns a copy of the extra request headers.
func (r *Request) Headers() map[string]string {
	return maps.Clone(r.headers)
}
