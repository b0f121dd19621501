// Package job runs download jobs: one Coordinator per job drives it from
// metadata resolution to a verified output file, and the Queue admits jobs
// under a global concurrency ceiling.
package job

import (
	"time"

	"github.com/vidfetch/vidfetch/internal/media"
)

// Status is a job's position in its lifecycle.
type Status string

const (
	StatusQueued      Status = "queued"
	StatusResolving   Status = "resolving_metadata"
	StatusSelecting   Status = "selecting_variant"
	StatusDownloading Status = "downloading"
	StatusMuxing      Status = "muxing"
	StatusVerifying   Status = "verifying"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusCancelled   Status = "cancelled"
)

// Terminal reports whether no further transition can happen.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// next lists the forward transitions. Failed and Cancelled are reachable
// from every non-terminal state and are not listed.
var next = map[Status][]Status{
	StatusQueued:      {StatusResolving},
	StatusResolving:   {StatusSelecting},
	StatusSelecting:   {StatusDownloading},
	StatusDownloading: {StatusMuxing, StatusVerifying},
	StatusMuxing:      {StatusVerifying},
	StatusVerifying:   {StatusCompleted},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	if to == StatusFailed || to == StatusCancelled {
		return true
	}
	for _, s := range next[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Request is what a user submits.
type Request struct {
	URL       string `json:"url"`
	Format    string `json:"format"`  // mp4, webm or mkv
	Quality   string `json:"quality"` // best, worst, 1080p, 4k, ...
	OutputDir string `json:"output,omitempty"`
}

// StreamSnapshot is the state of one sub-stream download.
type StreamSnapshot struct {
	Kind       media.MediaKind `json:"kind"`
	VariantID  string          `json:"variant_id"`
	Downloaded int64           `json:"downloaded"`
	Total      int64           `json:"total"` // 0 while unknown
	Retries    int             `json:"retries"`
	TempPath   string          `json:"temp_path"`
}

// Snapshot is a point-in-time copy of a job, safe to hand to other goroutines.
type Snapshot struct {
	ID      string `json:"id"`
	URL     string `json:"url"`
	Format  string `json:"format"`
	Quality string `json:"quality"`
	Status  Status `json:"status"`

	Title     string        `json:"title,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
	Thumbnail string        `json:"thumbnail,omitempty"`

	Selected []media.StreamVariant `json:"selected,omitempty"`
	Streams  []StreamSnapshot      `json:"streams,omitempty"`

	// Progress is the size-weighted completed fraction in [0,1], or -1
	// while some stream's total is unknown.
	Progress   float64 `json:"progress"`
	Downloaded int64   `json:"downloaded"`
	Total      int64   `json:"total"`
	Speed      float64 `json:"speed"` // bytes per second while downloading

	OutputPath string `json:"output_path,omitempty"`
	Error      string `json:"error,omitempty"`
	ErrorKind  string `json:"error_kind,omitempty"`

	CreatedAt  time.Time `json:"created_at"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}
