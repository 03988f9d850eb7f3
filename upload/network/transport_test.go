package network

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/putstream/go-putstream/httprange"
)

func TestHTTPTransportDo(t *testing.T) {
	// Given
	var gotMethod, gotContentType, gotContentRange, gotAuth string
	var gotContentLength int64
	var gotBody []byte

	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotContentType = r.Header.Get("Content-Type")
		gotContentRange = r.Header.Get("Content-Range")
		gotAuth = r.Header.Get("Authorization")
		gotContentLength = r.ContentLength

		var err error
		gotBody, err = io.ReadAll(r.Body)
		require.NoError(t, err)

		w.WriteHeader(http.StatusOK)
	}))
	defer svr.Close()

	transport := NewHTTPTransport(nil, log.NewLogger())

	// When
	status, err := transport.Do(context.Background(), ChunkRequest{
		Endpoint: svr.URL,
		Headers:  map[string]string{"Authorization": "Bearer token"},
		Index:    0,
		Body:     []byte("chunk payload"),
		Range:    httprange.ContentRange{Start: 0, End: 12, Total: httprange.SizeUnknown},
	})

	// Then
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "application/octet-stream", gotContentType)
	assert.Equal(t, "bytes 0-12/*", gotContentRange)
	assert.Equal(t, "Bearer token", gotAuth)
	assert.Equal(t, int64(13), gotContentLength)
	assert.Equal(t, []byte("chunk payload"), gotBody)
}

func TestHTTPTransportDoReportsStatusAsIs(t *testing.T) {
	statuses := []int{
		http.StatusOK,
		http.StatusCreated,
		http.StatusPermanentRedirect,
		http.StatusBadRequest,
		http.StatusServiceUnavailable,
	}

	for _, want := range statuses {
		svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(want)
		}))

		transport := NewHTTPTransport(nil, log.NewLogger())
		status, err := transport.Do(context.Background(), ChunkRequest{
			Endpoint: svr.URL,
			Body:     []byte("data"),
			Range:    httprange.ContentRange{Start: 0, End: 3, Total: 4},
		})
		svr.Close()

		require.NoError(t, err)
		assert.Equal(t, want, status)
	}
}

func TestHTTPTransportDoConnectionError(t *testing.T) {
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	svr.Close()

	transport := NewHTTPTransport(nil, log.NewLogger())
	status, err := transport.Do(context.Background(), ChunkRequest{
		Endpoint: svr.URL,
		Body:     []byte("data"),
		Range:    httprange.ContentRange{Start: 0, End: 3, Total: 4},
	})

	require.Error(t, err)
	assert.Equal(t, 0, status)
}

func TestHTTPTransportDoFramingWinsOverCallerHeaders(t *testing.T) {
	var gotContentType, gotContentRange string

	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		gotContentRange = r.Header.Get("Content-Range")
	}))
	defer svr.Close()

	transport := NewHTTPTransport(nil, log.NewLogger())
	_, err := transport.Do(context.Background(), ChunkRequest{
		Endpoint: svr.URL,
		Headers: map[string]string{
			"Content-Type":  "text/plain",
			"Content-Range": "bytes 99-100/101",
		},
		Body:  []byte("data"),
		Range: httprange.ContentRange{Start: 0, End: 3, Total: 4},
	})

	require.NoError(t, err)
	assert.Equal(t, "application/octet-stream", gotContentType)
	assert.Equal(t, "bytes 0-3/4", gotContentRange)
}
