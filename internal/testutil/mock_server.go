// Package testutil provides HTTP fixtures and file helpers for vidfetch tests.
package testutil

import (
	"crypto/rand"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// FailFunc decides per request whether to fail it. start is the first byte the
// request asked for (0 without a Range header). Returning 0 serves the request.
type FailFunc func(r *http.Request, start int64) (status int)

// MockServer is a configurable HTTP server standing in for a media CDN.
type MockServer struct {
	Server *httptest.Server

	// Configuration
	FileSize         int64         // Size of the served stream
	SupportsRanges   bool          // Whether to honour Range requests
	HideLength       bool          // Omit Content-Length and report "bytes x-y/*"
	ContentType      string        // Content-Type header value
	ByteLatency      time.Duration // Latency per 32KB chunk written
	FailAfterBytes   int64         // Drop the connection after this many body bytes (0 = never)
	FailOnNthRequest int           // Answer the Nth request with a 500 (0 = never)
	Fail             FailFunc

	// Tracking
	RequestCount   atomic.Int64
	BytesServed    atomic.Int64
	ActiveRequests atomic.Int64
	RangeRequests  atomic.Int64
	FullRequests   atomic.Int64
	FailedRequests atomic.Int64

	mu          sync.Mutex
	reqNum      int
	lastHeaders http.Header

	data []byte
}

// MockServerOption is a function that configures a MockServer.
type MockServerOption func(*MockServer)

// WithFileSize sets the stream size to serve.
func WithFileSize(size int64) MockServerOption {
	return func(m *MockServer) {
		m.FileSize = size
	}
}

// WithData serves data instead of random bytes.
func WithData(data []byte) MockServerOption {
	return func(m *MockServer) {
		m.data = data
		m.FileSize = int64(len(data))
	}
}

// WithRangeSupport enables or disables Range request support.
func WithRangeSupport(enabled bool) MockServerOption {
	return func(m *MockServer) {
		m.SupportsRanges = enabled
	}
}

// WithUnknownLength hides the total size from clients.
func WithUnknownLength() MockServerOption {
	return func(m *MockServer) {
		m.HideLength = true
	}
}

// WithByteLatency adds latency after every chunk written.
func WithByteLatency(d time.Duration) MockServerOption {
	return func(m *MockServer) {
		m.ByteLatency = d
	}
}

// WithFailAfterBytes cuts every response after n body bytes.
func WithFailAfterBytes(n int64) MockServerOption {
	return func(m *MockServer) {
		m.FailAfterBytes = n
	}
}

// WithFailOnNthRequest causes the Nth request to fail with a 500.
func WithFailOnNthRequest(n int) MockServerOption {
	return func(m *MockServer) {
		m.FailOnNthRequest = n
	}
}

// WithFailFunc installs a per-request failure hook.
func WithFailFunc(f FailFunc) MockServerOption {
	return func(m *MockServer) {
		m.Fail = f
	}
}

func newMockServer(opts []MockServerOption) *MockServer {
	m := &MockServer{
		FileSize:       1024 * 1024,
		SupportsRanges: true,
		ContentType:    "video/mp4",
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.data == nil {
		m.data = make([]byte, m.FileSize)
		_, _ = rand.Read(m.data)
	}
	return m
}

// NewMockServer creates a new mock HTTP server with the given options.
func NewMockServer(opts ...MockServerOption) *MockServer {
	m := newMockServer(opts)
	m.Server = NewHTTPServer(http.HandlerFunc(m.handleRequest))
	return m
}

// NewMockServerT creates a mock server, skips the test if binding fails and
// closes the server when the test ends.
func NewMockServerT(t *testing.T, opts ...MockServerOption) *MockServer {
	t.Helper()
	m := newMockServer(opts)
	m.Server = NewHTTPServerT(t, http.HandlerFunc(m.handleRequest))
	t.Cleanup(m.Close)
	return m
}

// URL returns the server's URL.
func (m *MockServer) URL() string {
	return m.Server.URL
}

// Data returns the bytes the server serves.
func (m *MockServer) Data() []byte {
	return m.data
}

// LastHeaders returns the headers of the most recent request.
func (m *MockServer) LastHeaders() http.Header {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastHeaders.Clone()
}

// Close shuts down the mock server.
func (m *MockServer) Close() {
	if m.Server != nil {
		m.Server.Close()
	}
}

// Stats returns a summary of server statistics.
func (m *MockServer) Stats() MockServerStats {
	return MockServerStats{
		TotalRequests:  m.RequestCount.Load(),
		BytesServed:    m.BytesServed.Load(),
		RangeRequests:  m.RangeRequests.Load(),
		FullRequests:   m.FullRequests.Load(),
		FailedRequests: m.FailedRequests.Load(),
	}
}

// MockServerStats contains server statistics.
type MockServerStats struct {
	TotalRequests  int64
	BytesServed    int64
	RangeRequests  int64
	FullRequests   int64
	FailedRequests int64
}

func (m *MockServer) handleRequest(w http.ResponseWriter, r *http.Request) {
	m.RequestCount.Add(1)
	m.ActiveRequests.Add(1)
	defer m.ActiveRequests.Add(-1)

	m.mu.Lock()
	m.reqNum++
	reqNum := m.reqNum
	m.lastHeaders = r.Header.Clone()
	m.mu.Unlock()

	if m.FailOnNthRequest > 0 && reqNum == m.FailOnNthRequest {
		m.FailedRequests.Add(1)
		http.Error(w, "Simulated failure", http.StatusInternalServerError)
		return
	}

	rangeHeader := r.Header.Get("Range")
	start, end := int64(0), m.FileSize-1
	ranged := rangeHeader != "" && m.SupportsRanges
	if ranged {
		var err error
		start, end, err = parseRange(rangeHeader, m.FileSize)
		if err != nil {
			http.Error(w, "Invalid range", http.StatusRequestedRangeNotSatisfiable)
			return
		}
	}

	if m.Fail != nil {
		if status := m.Fail(r, start); status != 0 {
			m.FailedRequests.Add(1)
			http.Error(w, http.StatusText(status), status)
			return
		}
	}

	w.Header().Set("Content-Type", m.ContentType)
	if !m.HideLength {
		w.Header().Set("Content-Length", strconv.FormatInt(end-start+1, 10))
	}
	if ranged {
		m.RangeRequests.Add(1)
		total := strconv.FormatInt(m.FileSize, 10)
		if m.HideLength {
			total = "*"
		}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%s", start, end, total))
		w.WriteHeader(http.StatusPartialContent)
	} else {
		m.FullRequests.Add(1)
		if m.SupportsRanges {
			w.Header().Set("Accept-Ranges", "bytes")
		}
		w.WriteHeader(http.StatusOK)
	}

	length := end - start + 1
	written := int64(0)
	chunkSize := int64(32 * 1024)
	flusher, _ := w.(http.Flusher)
	for written < length {
		if m.FailAfterBytes > 0 && written >= m.FailAfterBytes {
			m.FailedRequests.Add(1)
			// Abort the connection so the client sees a truncated body.
			panic(http.ErrAbortHandler)
		}

		n := min(chunkSize, length-written)
		if m.FailAfterBytes > 0 {
			n = min(n, m.FailAfterBytes-written)
		}
		wn, err := w.Write(m.data[start+written : start+written+n])
		if err != nil {
			return
		}
		written += int64(wn)
		m.BytesServed.Add(int64(wn))
		if flusher != nil {
			flusher.Flush()
		}

		if m.ByteLatency > 0 {
			select {
			case <-time.After(m.ByteLatency):
			case <-r.Context().Done():
				return
			}
		}
	}
}

// parseRange parses "bytes=start-end", "bytes=start-" and "bytes=-suffix".
func parseRange(rangeHeader string, fileSize int64) (int64, int64, error) {
	if !strings.HasPrefix(rangeHeader, "bytes=") {
		return 0, 0, fmt.Errorf("invalid range prefix")
	}

	parts := strings.Split(strings.TrimPrefix(rangeHeader, "bytes="), "-")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid range format")
	}

	var start, end int64
	var err error
	if parts[0] == "" {
		end = fileSize - 1
		start, err = strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return 0, 0, err
		}
		start = fileSize - start
	} else {
		start, err = strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			return 0, 0, err
		}
		end = fileSize - 1
		if parts[1] != "" {
			end, err = strconv.ParseInt(parts[1], 10, 64)
			if err != nil {
				return 0, 0, err
			}
			end = min(end, fileSize-1)
		}
	}

	if start < 0 || start > end {
		return 0, 0, fmt.Errorf("range out of bounds")
	}
	return start, end, nil
}
