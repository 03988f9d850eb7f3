// Package network sends upload chunks over the wire and resolves upload
// endpoints. The upload engine owns retry and classification, a Transport
// only reports the outcome of a single request.
package network

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"

	"github.com/putstream/go-putstream/httprange"
)

// ChunkRequest describes a single chunk to send.
type ChunkRequest struct {
	// Endpoint is the upload URL.
	Endpoint string

	// Headers are extra headers set on the request.
	Headers map[string]string

	// Index is the zero-based chunk number, for logging and part numbering.
	Index int

	// Body is the chunk payload.
	Body []byte

	// Range locates the chunk within the source.
	Range httprange.ContentRange
}

// Transport performs a single chunk request. It returns the HTTP status of
// the response, or an error when no response was received at all. It never
// retries, the caller decides what a status means.
type Transport interface {
	Do(ctx context.Context, req ChunkRequest) (int, error)
}

// HTTPTransport PUTs chunks to the endpoint with Content-Range framing.
type HTTPTransport struct {
	client *http.Client
	logger log.Logger
}

// NewHTTPTransport creates an HTTPTransport. A nil client falls back to
// DefaultHTTPClient.
func NewHTTPTransport(client *http.Client, logger log.Logger) *HTTPTransport {
	if client == nil {
		client = DefaultHTTPClient()
	}
	if logger == nil {
		logger = log.NewLogger()
	}

	return &HTTPTransport{
		client: client,
		logger: logger,
	}
}

// Do sends one chunk and returns the response status.
func (t *HTTPTransport) Do(ctx context.Context, req ChunkRequest) (int, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, req.Endpoint, bytes.NewReader(req.Body))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}

	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	httpReq.Header.Set("Content-Type", "application/octet-stream")
	httpReq.Header.Set("Content-Range", req.Range.String())
	httpReq.ContentLength = int64(len(req.Body))

	t.logger.Debugf("PUT chunk %d (%s)", req.Index+1, req.Range)

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("do request: %w", err)
	}
	defer func(body io.ReadCloser) {
		// Drain so the connection can be reused
		_, _ = io.Copy(io.Discard, body)
		if err := body.Close(); err != nil {
			t.logger.Printf(err.Error())
		}
	}(resp.Body)

	t.logger.Debugf("Chunk %d response: %d", req.Index+1, resp.StatusCode)

	return resp.StatusCode, nil
}

// DefaultHTTPClient creates an HTTP client optimized for chunk uploads.
func DefaultHTTPClient() *http.Client {
	return &http.Client{
		// No timeout - individual chunk timeouts are handled via context
		Timeout: 0,
		Transport: &http.Transport{
			MaxIdleConns:        50,
			MaxConnsPerHost:     20,
			IdleConnTimeout:     10 * time.Second,
			TLSHandshakeTimeout: 5 * time.Second,
			Proxy:               http.ProxyFromEnvironment,
		},
	}
}
