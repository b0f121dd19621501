package core

import (
	"context"

	"github.com/vidfetch/vidfetch/internal/history"
	"github.com/vidfetch/vidfetch/internal/job"
)

// DownloadService defines the interface for interacting with the download engine.
// This abstraction allows the TUI and CLI to switch between a local embedded
// queue and a remote daemon connection.
type DownloadService interface {
	// List returns the snapshots of all tracked jobs in submission order.
	List() ([]job.Snapshot, error)

	// History returns finished jobs, newest first.
	History() ([]history.Entry, error)

	// Add queues a job for a single item.
	Add(req job.Request) (string, error)

	// AddCollection resolves a playlist URL and queues one job per entry.
	AddCollection(req job.Request) ([]string, error)

	// Cancel stops a queued or running job.
	Cancel(id string) error

	// Dismiss forgets a finished job.
	Dismiss(id string) error

	// GetStatus returns the snapshot of a single job.
	GetStatus(id string) (*job.Snapshot, error)

	// StreamEvents returns a channel that receives job events.
	// For local mode, this is a direct channel.
	// For remote mode, this is sourced from SSE.
	StreamEvents(ctx context.Context) (<-chan any, func(), error)

	// Shutdown handles graceful shutdown of the service
	Shutdown() error
}
