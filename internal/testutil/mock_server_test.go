package testutil

import (
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockServer_FullAndRange(t *testing.T) {
	server := NewMockServerT(t, WithFileSize(100*1024))

	resp, err := http.Get(server.URL())
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, server.Data(), body)

	req, _ := http.NewRequest(http.MethodGet, server.URL(), nil)
	req.Header.Set("Range", "bytes=10-19")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusPartialContent, resp.StatusCode)
	assert.Equal(t, "bytes 10-19/102400", resp.Header.Get("Content-Range"))
	assert.Equal(t, server.Data()[10:20], body)

	stats := server.Stats()
	assert.Equal(t, int64(2), stats.TotalRequests)
	assert.Equal(t, int64(1), stats.RangeRequests)
}

func TestMockServer_NoRangeSupport(t *testing.T) {
	server := NewMockServerT(t, WithFileSize(1024), WithRangeSupport(false))

	req, _ := http.NewRequest(http.MethodGet, server.URL(), nil)
	req.Header.Set("Range", "bytes=0-0")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "1024", resp.Header.Get("Content-Length"))
}

func TestMockServer_UnknownLength(t *testing.T) {
	server := NewMockServerT(t, WithFileSize(1024), WithUnknownLength())

	req, _ := http.NewRequest(http.MethodGet, server.URL(), nil)
	req.Header.Set("Range", "bytes=0-0")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, "bytes 0-0/*", resp.Header.Get("Content-Range"))
}

func TestMockServer_FailFunc(t *testing.T) {
	server := NewMockServerT(t, WithFileSize(1024), WithFailFunc(func(r *http.Request, start int64) int {
		if start == 512 {
			return http.StatusServiceUnavailable
		}
		return 0
	}))

	req, _ := http.NewRequest(http.MethodGet, server.URL(), nil)
	req.Header.Set("Range", "bytes=512-1023")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, int64(1), server.Stats().FailedRequests)
}

func TestMockServer_FailAfterBytes(t *testing.T) {
	server := NewMockServerT(t, WithFileSize(200*1024), WithFailAfterBytes(40*1024))

	resp, err := http.Get(server.URL())
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	assert.Error(t, err)
	assert.Less(t, len(body), 200*1024)
}
