package stream

import (
	"context"
	"io"
	"net/http"

	"oaistream/internal/llmclient"
)

// Transport opens the connection for a streaming request. A nil error means
// the connection is open; the returned body yields the event-stream bytes and
// reports closure as io.EOF. The session closes the body exactly once.
type Transport interface {
	Open(ctx context.Context, req *Request) (io.ReadCloser, error)
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, req *Request) (io.ReadCloser, error)

// Open calls f(ctx, req).
func (f TransportFunc) Open(ctx context.Context, req *Request) (io.ReadCloser, error) {
	return f(ctx, req)
}

// HTTPTransport opens streams through the shared request layer.
type HTTPTransport struct {
	client *llmclient.Client
}

// NewHTTPTransport returns a Transport that POSTs requests with client.
func NewHTTPTransport(client *llmclient.Client) *HTTPTransport {
	return &HTTPTransport{client: client}
}

// Open implements Transport.
func (t *HTTPTransport) Open(ctx context.Context, req *Request) (io.ReadCloser, error) {
	return t.client.DoStream(ctx, llmclient.Request{
		Method:    http.MethodPost,
		Endpoint:  req.Endpoint(),
		Operation: req.Operation(),
		RawBody:   req.Body(),
		Headers:   req.Headers(),
	})
}
