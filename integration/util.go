//go:build integration
// +build integration

package integration

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"

	"github.com/putstream/go-putstream/httprange"
	"github.com/putstream/go-putstream/upload"
)

var logger = log.NewLogger()

func checksumOf(bytes []byte) string {
	hash := sha256.New()
	hash.Write(bytes)
	return hex.EncodeToString(hash.Sum(nil))
}

func largePayload(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte((i * 31) % 253)
	}
	return data
}

func waitDone(t *testing.T, u *upload.Upload) {
	t.Helper()
	select {
	case <-u.Done():
	case <-time.After(30 * time.Second):
		t.Fatal("upload did not reach a terminal state in time")
	}
}

// reassemblyServer plays the receiving end of a chunked upload: it checks
// that every chunk continues exactly where the previous one ended and
// rebuilds the byte stream.
type reassemblyServer struct {
	svr *httptest.Server

	mu     sync.Mutex
	data   []byte
	chunks int
	total  int64
}

func newReassemblyServer() *reassemblyServer {
	rs := &reassemblyServer{total: httprange.SizeUnknown}
	rs.svr = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		cr, err := httprange.Parse(r.Header.Get("Content-Range"))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		rs.mu.Lock()
		defer rs.mu.Unlock()
		if cr.Start != int64(len(rs.data)) || cr.Length() != int64(len(body)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		rs.data = append(rs.data, body...)
		rs.chunks++
		if cr.Total != httprange.SizeUnknown {
			rs.total = cr.Total
		}
		w.WriteHeader(http.StatusOK)
	}))
	return rs
}

func (rs *reassemblyServer) bytes() []byte {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return append([]byte{}, rs.data...)
}

func (rs *reassemblyServer) chunkCount() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.chunks
}

func (rs *reassemblyServer) reportedTotal() int64 {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.total
}

// newFlakyProbeServer answers connectivity probes with 204 while *down is
// zero. While down it drops the connection without a response, which the
// prober sees as a transport error.
func newFlakyProbeServer(down *int32) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.LoadInt32(down) == 1 {
			hj, ok := w.(http.Hijacker)
			if !ok {
				panic("probe server: response writer is not a hijacker")
			}
			conn, _, err := hj.Hijack()
			if err != nil {
				panic(err)
			}
			if err := conn.Close(); err != nil {
				logger.Printf("Failed to drop probe connection: %s", err)
			}
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
}
