// Package concurrent downloads a stream of known size as N contiguous byte
// ranges fetched in parallel and written in place with WriteAt.
package concurrent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"

	"github.com/vidfetch/vidfetch/internal/engine/transport"
	"github.com/vidfetch/vidfetch/internal/engine/types"
	"github.com/vidfetch/vidfetch/internal/utils"
)

// ConcurrentDownloader fetches one stream over parallel range requests.
type ConcurrentDownloader struct {
	Client  *http.Client
	ID      string
	State   *types.ProgressState
	Runtime *types.RuntimeConfig
	Headers map[string]string
}

// NewConcurrentDownloader creates a range downloader reporting into state.
func NewConcurrentDownloader(id string, client *http.Client, state *types.ProgressState, runtime *types.RuntimeConfig) *ConcurrentDownloader {
	return &ConcurrentDownloader{
		Client:  client,
		ID:      id,
		State:   state,
		Runtime: runtime,
	}
}

// PlanRanges splits fileSize bytes into at most n contiguous ranges covering the
// whole stream. Boundaries are aligned to AlignSize when ranges are large enough.
func PlanRanges(fileSize int64, n int) []types.Task {
	if fileSize <= 0 {
		return nil
	}
	if n < 1 {
		n = 1
	}
	if int64(n) > fileSize {
		n = int(fileSize)
	}

	chunk := fileSize / int64(n)
	if chunk > types.AlignSize {
		chunk -= chunk % types.AlignSize
	}

	tasks := make([]types.Task, 0, n)
	var offset int64
	for i := 0; i < n; i++ {
		length := chunk
		if i == n-1 {
			length = fileSize - offset
		}
		tasks = append(tasks, types.Task{Offset: offset, Length: length})
		offset += length
	}
	return tasks
}

// Download fetches fileSize bytes of rawurl into destPath using n ranges.
// Bytes land in destPath+IncompleteSuffix, which is renamed only after every
// range finished and removed on any failure or cancellation.
func (d *ConcurrentDownloader) Download(ctx context.Context, rawurl, destPath string, fileSize int64, n int) (err error) {
	workingPath := destPath + types.IncompleteSuffix

	file, err := os.OpenFile(workingPath, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return &types.DownloadError{URL: rawurl, Err: fmt.Errorf("failed to create working file: %w", err)}
	}
	success := false
	defer func() {
		if file != nil {
			_ = file.Close()
		}
		if !success {
			if rmErr := os.Remove(workingPath); rmErr != nil && !os.IsNotExist(rmErr) {
				utils.Debug("%s: failed to remove %s: %v", d.ID, workingPath, rmErr)
			}
		}
	}()

	if err := file.Truncate(fileSize); err != nil {
		return &types.DownloadError{URL: rawurl, Err: fmt.Errorf("failed to preallocate: %w", err)}
	}

	tasks := PlanRanges(fileSize, n)
	utils.Debug("%s: downloading %d bytes in %d ranges", d.ID, fileSize, len(tasks))

	dlCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	for i, task := range tasks {
		wg.Add(1)
		go func(i int, task types.Task) {
			defer wg.Done()
			if err := d.fetchRange(dlCtx, rawurl, file, i, task, fileSize); err != nil {
				errOnce.Do(func() {
					firstErr = err
					// One dead range sinks the whole stream.
					cancel()
				})
			}
		}(i, task)
	}
	wg.Wait()

	if ctx.Err() != nil {
		return &types.DownloadError{URL: rawurl, Err: ctx.Err()}
	}
	if firstErr != nil {
		utils.Debug("%s: download failed: %v", d.ID, firstErr)
		return types.WrapDownloadError(rawurl, firstErr)
	}

	if err := file.Sync(); err != nil {
		return &types.DownloadError{URL: rawurl, Err: fmt.Errorf("failed to sync: %w", err)}
	}
	if err := file.Close(); err != nil {
		file = nil
		return &types.DownloadError{URL: rawurl, Err: fmt.Errorf("failed to close: %w", err)}
	}
	file = nil

	if err := os.Rename(workingPath, destPath); err != nil {
		return &types.DownloadError{URL: rawurl, Err: fmt.Errorf("failed to finalize: %w", err)}
	}
	success = true
	return nil
}

// fetchRange downloads one range, retrying transient failures. A retry resumes
// from the first byte not yet written so progress is never counted twice.
func (d *ConcurrentDownloader) fetchRange(ctx context.Context, rawurl string, file *os.File, idx int, task types.Task, fileSize int64) error {
	d.State.ActiveWorkers.Add(1)
	defer d.State.ActiveWorkers.Add(-1)

	buf := make([]byte, d.Runtime.GetWorkerBufferSize())
	remaining := task
	label := fmt.Sprintf("%s range %d [%d-%d]", d.ID, idx, task.Offset, task.End())

	return transport.Retry(ctx, d.Runtime, label, func() { d.State.Retries.Add(1) }, func(int) error {
		written, err := d.downloadTask(ctx, rawurl, file, remaining, fileSize, buf)
		remaining.Offset += written
		remaining.Length -= written
		return err
	})
}

// downloadTask issues one range request and writes the body at its offset.
// It returns the number of bytes written, also on error.
func (d *ConcurrentDownloader) downloadTask(ctx context.Context, rawurl string, file *os.File, task types.Task, fileSize int64, buf []byte) (int64, error) {
	if task.Length <= 0 {
		return 0, nil
	}

	req, err := transport.NewRequest(ctx, rawurl, d.Headers, d.Runtime)
	if err != nil {
		return 0, &types.DownloadError{URL: rawurl, Err: err}
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", task.Offset, task.End()))

	resp, err := d.Client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusPartialContent:
	case http.StatusOK:
		// A full body is only usable when it is exactly the requested range.
		if task.Offset != 0 || task.Length != fileSize {
			return 0, &types.DownloadError{URL: rawurl, StatusCode: resp.StatusCode, Err: errors.New("server ignored range request")}
		}
	default:
		de := types.StatusError(rawurl, resp.StatusCode)
		de.RetryAfter = transport.RetryAfter(resp)
		return 0, de
	}

	body := io.LimitReader(resp.Body, task.Length)
	offset := task.Offset
	var written int64
	for written < task.Length {
		n, readErr := io.ReadFull(body, buf[:min(int64(len(buf)), task.Length-written)])
		if n > 0 {
			if ctx.Err() != nil {
				return written, ctx.Err()
			}
			if _, err := file.WriteAt(buf[:n], offset); err != nil {
				return written, &types.DownloadError{URL: rawurl, Err: fmt.Errorf("write error: %w", err)}
			}
			offset += int64(n)
			written += int64(n)
			d.State.Add(int64(n))
		}
		if readErr != nil {
			if written == task.Length {
				break
			}
			if errors.Is(readErr, io.EOF) {
				readErr = io.ErrUnexpectedEOF
			}
			return written, readErr
		}
	}
	return written, nil
}
