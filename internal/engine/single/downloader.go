// Package single streams a variant over one sequential connection. It is used
// when the server does not accept ranges or does not disclose the stream size.
package single

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/vidfetch/vidfetch/internal/engine/transport"
	"github.com/vidfetch/vidfetch/internal/engine/types"
	"github.com/vidfetch/vidfetch/internal/utils"
)

// SingleDownloader handles sequential downloads.
// A retry restarts the request from byte zero and skips what is already on disk,
// so the working file and the progress counter only ever grow.
type SingleDownloader struct {
	Client  *http.Client
	ID      string
	State   *types.ProgressState
	Runtime *types.RuntimeConfig
	Headers map[string]string
}

// NewSingleDownloader creates a sequential downloader reporting into state.
func NewSingleDownloader(id string, client *http.Client, state *types.ProgressState, runtime *types.RuntimeConfig) *SingleDownloader {
	return &SingleDownloader{
		Client:  client,
		ID:      id,
		State:   state,
		Runtime: runtime,
	}
}

// Download fetches rawurl into destPath via destPath+IncompleteSuffix.
func (d *SingleDownloader) Download(ctx context.Context, rawurl, destPath string) (err error) {
	workingPath := destPath + types.IncompleteSuffix
	outFile, err := os.Create(workingPath)
	if err != nil {
		return &types.DownloadError{URL: rawurl, Err: fmt.Errorf("failed to create working file: %w", err)}
	}

	success := false
	defer func() {
		if outFile != nil {
			_ = outFile.Close()
		}
		if !success {
			if rmErr := os.Remove(workingPath); rmErr != nil && !os.IsNotExist(rmErr) {
				utils.Debug("%s: failed to remove %s: %v", d.ID, workingPath, rmErr)
			}
		}
	}()

	buf := make([]byte, d.Runtime.GetWorkerBufferSize())
	var written int64
	d.State.ActiveWorkers.Add(1)
	err = transport.Retry(ctx, d.Runtime, d.ID+" stream", func() { d.State.Retries.Add(1) }, func(int) error {
		n, err := d.stream(ctx, rawurl, outFile, written, buf)
		written += n
		return err
	})
	d.State.ActiveWorkers.Add(-1)

	if ctx.Err() != nil {
		return &types.DownloadError{URL: rawurl, Err: ctx.Err()}
	}
	if err != nil {
		return types.WrapDownloadError(rawurl, err)
	}

	// The final size is observed now even if the server never announced it.
	if d.State.TotalSize.Load() <= 0 {
		d.State.SetTotalSize(written)
	}

	if err := outFile.Sync(); err != nil {
		return &types.DownloadError{URL: rawurl, Err: fmt.Errorf("failed to sync: %w", err)}
	}
	closeErr := outFile.Close()
	outFile = nil
	if closeErr != nil {
		return &types.DownloadError{URL: rawurl, Err: fmt.Errorf("failed to close: %w", closeErr)}
	}

	if err := os.Rename(workingPath, destPath); err != nil {
		return &types.DownloadError{URL: rawurl, Err: fmt.Errorf("failed to finalize: %w", err)}
	}
	success = true
	return nil
}

// stream performs one GET, discarding the first skip bytes, and appends the rest.
func (d *SingleDownloader) stream(ctx context.Context, rawurl string, out io.Writer, skip int64, buf []byte) (int64, error) {
	req, err := transport.NewRequest(ctx, rawurl, d.Headers, d.Runtime)
	if err != nil {
		return 0, &types.DownloadError{URL: rawurl, Err: err}
	}

	resp, err := d.Client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		de := types.StatusError(rawurl, resp.StatusCode)
		de.RetryAfter = transport.RetryAfter(resp)
		return 0, de
	}
	if resp.ContentLength > 0 && d.State.TotalSize.Load() <= 0 {
		d.State.SetTotalSize(resp.ContentLength)
	}

	if skip > 0 {
		if _, err := io.CopyN(io.Discard, resp.Body, skip); err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return 0, err
		}
	}

	var written int64
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if ctx.Err() != nil {
				return written, ctx.Err()
			}
			if _, err := out.Write(buf[:n]); err != nil {
				return written, &types.DownloadError{URL: rawurl, Err: fmt.Errorf("write error: %w", err)}
			}
			written += int64(n)
			d.State.Add(int64(n))
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return written, readErr
		}
	}

	if resp.ContentLength > 0 && skip+written < resp.ContentLength {
		return written, io.ErrUnexpectedEOF
	}
	return written, nil
}
