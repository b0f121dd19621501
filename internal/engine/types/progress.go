package types

import (
	"sync"
	"sync/atomic"
	"time"
)

// ProgressState is shared between a stream download and whoever reports on it.
// Downloaded only ever grows, so readers polling it observe non-decreasing values.
type ProgressState struct {
	ID            string
	Downloaded    atomic.Int64
	TotalSize     atomic.Int64 // 0 while unknown
	ActiveWorkers atomic.Int32
	Retries       atomic.Int32
	Done          atomic.Bool

	mu        sync.Mutex
	startTime time.Time
	err       error
}

// NewProgressState returns a state for the stream identified by id.
func NewProgressState(id string, totalSize int64) *ProgressState {
	ps := &ProgressState{
		ID:        id,
		startTime: time.Now(),
	}
	ps.TotalSize.Store(totalSize)
	return ps
}

// Add records n freshly written bytes.
func (ps *ProgressState) Add(n int64) {
	if n > 0 {
		ps.Downloaded.Add(n)
	}
}

// SetTotalSize records the stream length once it is known.
func (ps *ProgressState) SetTotalSize(size int64) {
	ps.TotalSize.Store(size)
}

// SetError stores the terminal error of the stream.
func (ps *ProgressState) SetError(err error) {
	ps.mu.Lock()
	ps.err = err
	ps.mu.Unlock()
}

// GetError returns the terminal error of the stream, if any.
func (ps *ProgressState) GetError() error {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.err
}

// GetProgress returns downloaded bytes, total bytes, elapsed time and active connections.
func (ps *ProgressState) GetProgress() (downloaded int64, total int64, elapsed time.Duration, connections int32) {
	ps.mu.Lock()
	start := ps.startTime
	ps.mu.Unlock()
	return ps.Downloaded.Load(), ps.TotalSize.Load(), time.Since(start), ps.ActiveWorkers.Load()
}
