package engine

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/vidfetch/vidfetch/internal/engine/transport"
	"github.com/vidfetch/vidfetch/internal/engine/types"
	"github.com/vidfetch/vidfetch/internal/utils"
)

// ProbeResult describes what the server told us about a stream
type ProbeResult struct {
	FileSize      int64 // 0 when the server does not disclose it
	SupportsRange bool
	ContentType   string
}

// Segmentable reports whether the stream can be split into parallel ranges.
// Range support with an unknown total falls back to one sequential stream.
func (p *ProbeResult) Segmentable() bool {
	return p.SupportsRange && p.FileSize > 0
}

// ProbeServer sends GET with Range: bytes=0-0 to learn range support and size.
// Transient failures are retried with the runtime's backoff policy.
func ProbeServer(ctx context.Context, client *http.Client, rawurl string, headers map[string]string, runtime *types.RuntimeConfig) (*ProbeResult, error) {
	utils.Debug("Probing server: %s", rawurl)

	var result *ProbeResult
	err := transport.Retry(ctx, runtime, "probe", nil, func(int) error {
		var err error
		result, err = probeOnce(ctx, client, rawurl, headers, runtime)
		return err
	})
	if err != nil {
		return nil, types.WrapDownloadError(rawurl, err)
	}

	utils.Debug("Probe complete - size: %d, range: %v, type: %s", result.FileSize, result.SupportsRange, result.ContentType)
	return result, nil
}

func probeOnce(ctx context.Context, client *http.Client, rawurl string, headers map[string]string, runtime *types.RuntimeConfig) (*ProbeResult, error) {
	probeCtx, cancel := context.WithTimeout(ctx, types.ProbeTimeout)
	defer cancel()

	req, err := transport.NewRequest(probeCtx, rawurl, headers, runtime)
	if err != nil {
		return nil, &types.DownloadError{URL: rawurl, Err: fmt.Errorf("failed to create probe request: %w", err)}
	}
	req.Header.Set("Range", "bytes=0-0")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		_ = resp.Body.Close()
	}()

	utils.Debug("Probe response status: %d", resp.StatusCode)

	result := &ProbeResult{ContentType: resp.Header.Get("Content-Type")}
	switch resp.StatusCode {
	case http.StatusPartialContent:
		result.SupportsRange = true
		result.FileSize = parseContentRangeTotal(resp.Header.Get("Content-Range"))

	case http.StatusOK:
		// Server ignored the Range header
		if resp.ContentLength > 0 {
			result.FileSize = resp.ContentLength
		}

	default:
		de := types.StatusError(rawurl, resp.StatusCode)
		de.RetryAfter = transport.RetryAfter(resp)
		return nil, de
	}
	return result, nil
}

// parseContentRangeTotal extracts TOTAL from "bytes 0-0/TOTAL"; "*" or garbage yields 0.
func parseContentRangeTotal(contentRange string) int64 {
	idx := strings.LastIndex(contentRange, "/")
	if idx == -1 {
		return 0
	}
	size, err := strconv.ParseInt(strings.TrimSpace(contentRange[idx+1:]), 10, 64)
	if err != nil || size < 0 {
		return 0
	}
	return size
}
