// Package engine fetches a single stream variant to disk. It probes the server,
// then runs either the concurrent range downloader or the sequential fallback.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vidfetch/vidfetch/internal/engine/concurrent"
	"github.com/vidfetch/vidfetch/internal/engine/single"
	"github.com/vidfetch/vidfetch/internal/engine/transport"
	"github.com/vidfetch/vidfetch/internal/engine/types"
	"github.com/vidfetch/vidfetch/internal/utils"
)

// DownloadError is the error every failed stream download returns.
type DownloadError = types.DownloadError

// Download fetches cfg.URL into cfg.DestPath, reporting into cfg.State.
// Every failure is a *types.DownloadError; on failure nothing is left at
// DestPath or at its in-progress name.
func Download(ctx context.Context, cfg *types.DownloadConfig) error {
	if cfg.State == nil {
		cfg.State = types.NewProgressState(cfg.ID, 0)
	}
	err := download(ctx, cfg)
	if err != nil {
		cfg.State.SetError(err)
		return err
	}
	cfg.State.Done.Store(true)
	return nil
}

func download(ctx context.Context, cfg *types.DownloadConfig) error {
	if err := os.MkdirAll(filepath.Dir(cfg.DestPath), 0o755); err != nil {
		return &types.DownloadError{URL: cfg.URL, Err: fmt.Errorf("failed to create directory: %w", err)}
	}

	conns := cfg.GetConcurrency()
	client := transport.NewClient(cfg.Runtime, conns)

	probe, err := ProbeServer(ctx, client, cfg.URL, cfg.Headers, cfg.Runtime)
	if err != nil {
		if ctx.Err() != nil {
			return &types.DownloadError{URL: cfg.URL, Err: ctx.Err()}
		}
		return err
	}
	if probe.FileSize > 0 {
		cfg.State.SetTotalSize(probe.FileSize)
	}

	if probe.Segmentable() {
		utils.Debug("%s: range download, %d connections", cfg.ID, conns)
		d := concurrent.NewConcurrentDownloader(cfg.ID, client, cfg.State, cfg.Runtime)
		d.Headers = cfg.Headers
		return d.Download(ctx, cfg.URL, cfg.DestPath, probe.FileSize, conns)
	}

	utils.Debug("%s: sequential download (range=%v, size=%d)", cfg.ID, probe.SupportsRange, probe.FileSize)
	d := single.NewSingleDownloader(cfg.ID, client, cfg.State, cfg.Runtime)
	d.Headers = cfg.Headers
	return d.Download(ctx, cfg.URL, cfg.DestPath)
}

// HTTPFetcher adapts Download to the job package's fetcher interface.
type HTTPFetcher struct{}

// Fetch downloads one stream.
func (HTTPFetcher) Fetch(ctx context.Context, cfg *types.DownloadConfig) error {
	return Download(ctx, cfg)
}
