package cmd

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/vidfetch/vidfetch/internal/core"
	"github.com/vidfetch/vidfetch/internal/history"
	"github.com/vidfetch/vidfetch/internal/job"
)

func requireTCPListener(t *testing.T) {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("tcp listener unavailable: %v", err)
		return
	}
	_ = ln.Close()
}

// fakeService is an in-memory DownloadService. Add and AddCollection create
// queued snapshots; tests move them along with setStatus.
type fakeService struct {
	mu          sync.Mutex
	snaps       map[string]*job.Snapshot
	order       []string
	history     []history.Entry
	added       []job.Request
	collections []job.Request
	events      chan any
	addErr      error
	nextID      int
}

var _ core.DownloadService = (*fakeService)(nil)

func newFakeService() *fakeService {
	return &fakeService{snaps: make(map[string]*job.Snapshot), events: make(chan any, 64)}
}

func (f *fakeService) newJob(req job.Request) string {
	f.nextID++
	id := fmt.Sprintf("job-%04d", f.nextID)
	f.snaps[id] = &job.Snapshot{
		ID: id, URL: req.URL, Format: req.Format, Quality: req.Quality,
		Status: job.StatusQueued, Progress: -1, CreatedAt: time.Now(),
	}
	f.order = append(f.order, id)
	return id
}

func (f *fakeService) setStatus(id string, status job.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snaps[id].Status = status
}

func (f *fakeService) List() ([]job.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]job.Snapshot, 0, len(f.order))
	for _, id := range f.order {
		out = append(out, *f.snaps[id])
	}
	return out, nil
}

func (f *fakeService) History() ([]history.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.history, nil
}

func (f *fakeService) Add(req job.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return "", f.addErr
	}
	f.added = append(f.added, req)
	return f.newJob(req), nil
}

func (f *fakeService) AddCollection(req job.Request) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return nil, f.addErr
	}
	f.collections = append(f.collections, req)
	return []string{f.newJob(req), f.newJob(req)}, nil
}

func (f *fakeService) Cancel(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.snaps[id]
	if !ok {
		return job.ErrJobNotFound
	}
	if s.Status.Terminal() {
		return job.ErrJobFinished
	}
	s.Status = job.StatusCancelled
	return nil
}

func (f *fakeService) Dismiss(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.snaps[id]
	if !ok {
		return job.ErrJobNotFound
	}
	if !s.Status.Terminal() {
		return job.ErrJobActive
	}
	delete(f.snaps, id)
	for i, o := range f.order {
		if o == id {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeService) GetStatus(id string) (*job.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.snaps[id]
	if !ok {
		return nil, job.ErrJobNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeService) StreamEvents(ctx context.Context) (<-chan any, func(), error) {
	return f.events, func() {}, nil
}

func (f *fakeService) Shutdown() error { return nil }
