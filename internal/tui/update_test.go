package tui

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidfetch/vidfetch/internal/config"
	"github.com/vidfetch/vidfetch/internal/core"
	"github.com/vidfetch/vidfetch/internal/engine/events"
	"github.com/vidfetch/vidfetch/internal/history"
	"github.com/vidfetch/vidfetch/internal/job"
)

type fakeService struct {
	mu          sync.Mutex
	snaps       map[string]job.Snapshot
	added       []job.Request
	collections []job.Request
	cancelled   []string
	dismissed   []string
	events      chan any
}

var _ core.DownloadService = (*fakeService)(nil)

func newFakeService(snaps ...job.Snapshot) *fakeService {
	f := &fakeService{snaps: make(map[string]job.Snapshot), events: make(chan any, 16)}
	for _, s := range snaps {
		f.snaps[s.ID] = s
	}
	return f
}

func (f *fakeService) List() ([]job.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []job.Snapshot
	for _, s := range f.snaps {
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeService) History() ([]history.Entry, error) { return nil, nil }

func (f *fakeService) Add(req job.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, req)
	return "new-1", nil
}

func (f *fakeService) AddCollection(req job.Request) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collections = append(f.collections, req)
	return []string{"c-1", "c-2"}, nil
}

func (f *fakeService) Cancel(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, id)
	return nil
}

func (f *fakeService) Dismiss(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.snaps[id]; ok && !s.Status.Terminal() {
		return job.ErrJobActive
	}
	f.dismissed = append(f.dismissed, id)
	delete(f.snaps, id)
	return nil
}

func (f *fakeService) GetStatus(id string) (*job.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.snaps[id]
	if !ok {
		return nil, job.ErrJobNotFound
	}
	return &s, nil
}

func (f *fakeService) StreamEvents(ctx context.Context) (<-chan any, func(), error) {
	return f.events, func() {}, nil
}

func (f *fakeService) Shutdown() error { return nil }

func newModel(t *testing.T, svc *fakeService) RootModel {
	t.Helper()
	m, err := InitialRootModel(context.Background(), svc, config.DefaultSettings())
	require.NoError(t, err)
	return m
}

func update(t *testing.T, m RootModel, msg tea.Msg) (RootModel, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	rm, ok := next.(RootModel)
	require.True(t, ok)
	return rm, cmd
}

// runCmd executes cmd and any batched commands, collecting their messages.
// Only use it for commands that return without waiting on timers or events.
func runCmd(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}
	msg := cmd()
	if batch, ok := msg.(tea.BatchMsg); ok {
		var out []tea.Msg
		for _, c := range batch {
			out = append(out, runCmd(c)...)
		}
		return out
	}
	if msg == nil {
		return nil
	}
	return []tea.Msg{msg}
}

func keyPress(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestInitialRootModel_LoadsExistingJobsOldestFirst(t *testing.T) {
	now := time.Now()
	svc := newFakeService(
		job.Snapshot{ID: "b", Status: job.StatusDownloading, CreatedAt: now},
		job.Snapshot{ID: "a", Status: job.StatusCompleted, CreatedAt: now.Add(-time.Minute)},
	)
	m := newModel(t, svc)

	require.Len(t, m.jobs, 2)
	assert.Equal(t, "a", m.jobs[0].snap.ID)
	assert.Equal(t, "b", m.jobs[1].snap.ID)
	assert.Equal(t, "mp4", m.defaultFormat)
}

func TestUpdate_EventsDriveJobState(t *testing.T) {
	m := newModel(t, newFakeService())

	m, _ = update(t, m, events.JobQueuedMsg{JobID: "j1", URL: "https://media.example/v", Format: "mp4", Quality: "720p"})
	require.Len(t, m.jobs, 1)
	assert.Equal(t, job.StatusQueued, m.jobs[0].snap.Status)

	// duplicate queued events do not add a second card
	m, _ = update(t, m, events.JobQueuedMsg{JobID: "j1"})
	require.Len(t, m.jobs, 1)

	m, _ = update(t, m, events.JobStateMsg{JobID: "j1", Status: string(job.StatusDownloading), Title: "Clip"})
	assert.Equal(t, job.StatusDownloading, m.jobs[0].snap.Status)
	assert.Equal(t, "Clip", m.jobs[0].snap.Title)

	m, cmd := update(t, m, events.ProgressMsg{JobID: "j1", Downloaded: 50, Total: 100, Fraction: 0.5, Speed: 2048})
	assert.NotNil(t, cmd)
	assert.Equal(t, int64(50), m.jobs[0].snap.Downloaded)
	assert.InDelta(t, 0.5, m.jobs[0].snap.Progress, 1e-9)
	assert.InDelta(t, 2048.0, m.currentSpeed(), 1e-9)

	active, queued, done := m.counts()
	assert.Equal(t, 1, active)
	assert.Zero(t, queued)
	assert.Zero(t, done)
}

func TestUpdate_ProgressIgnoredAfterTerminal(t *testing.T) {
	m := newModel(t, newFakeService(job.Snapshot{ID: "j1", Status: job.StatusCompleted, Downloaded: 100, Total: 100, Progress: 1}))

	m, _ = update(t, m, events.ProgressMsg{JobID: "j1", Downloaded: 10, Total: 100, Fraction: 0.1})
	assert.Equal(t, int64(100), m.jobs[0].snap.Downloaded)
	assert.InDelta(t, 1.0, m.jobs[0].snap.Progress, 1e-9)
}

func TestUpdate_TerminalEventRefreshesSnapshot(t *testing.T) {
	final := job.Snapshot{ID: "j1", Status: job.StatusCompleted, Title: "Clip", OutputPath: "/out/Clip.mp4", Progress: 1}
	svc := newFakeService()
	m := newModel(t, svc)
	m, _ = update(t, m, events.JobQueuedMsg{JobID: "j1"})

	svc.mu.Lock()
	svc.snaps["j1"] = final
	svc.mu.Unlock()

	msg := m.fetchStatus("j1")()
	m, _ = update(t, m, msg)
	assert.Equal(t, job.StatusCompleted, m.jobs[0].snap.Status)
	assert.Equal(t, "/out/Clip.mp4", m.jobs[0].snap.OutputPath)

	// unknown ids do not crash the refresh path
	m, _ = update(t, m, m.fetchStatus("missing")())
	assert.Len(t, m.jobs, 1)
}

func TestUpdate_AddDialogSubmitsRequest(t *testing.T) {
	svc := newFakeService()
	m := newModel(t, svc)

	m, _ = update(t, m, keyPress("a"))
	require.Equal(t, InputState, m.state)

	m.inputs[inputURL].SetValue("https://www.youtube.com/watch?v=abc")
	m.inputs[inputQuality].SetValue("1080p")

	var cmd tea.Cmd
	for i := 0; i < len(m.inputs); i++ {
		m, cmd = update(t, m, keyPress("enter"))
	}
	assert.Equal(t, DashboardState, m.state)

	var added *addedMsg
	for _, msg := range runCmd(cmd) {
		if a, ok := msg.(addedMsg); ok {
			added = &a
		}
	}
	require.NotNil(t, added)
	require.NoError(t, added.err)
	assert.Equal(t, []string{"new-1"}, added.ids)

	require.Len(t, svc.added, 1)
	assert.Equal(t, job.Request{URL: "https://www.youtube.com/watch?v=abc", Format: "mp4", Quality: "1080p"}, svc.added[0])

	m, _ = update(t, m, *added)
	assert.Equal(t, "queued new-1", m.notice)
}

func TestUpdate_AddDialogRoutesCollections(t *testing.T) {
	svc := newFakeService()
	m := newModel(t, svc)

	msg := m.submit(job.Request{URL: "https://www.youtube.com/playlist?list=PL123", Format: "mkv", Quality: "best"})()
	added, ok := msg.(addedMsg)
	require.True(t, ok)
	require.NoError(t, added.err)
	assert.Len(t, added.ids, 2)
	assert.Len(t, svc.collections, 1)
	assert.Empty(t, svc.added)

	m, _ = update(t, m, added)
	assert.Equal(t, "queued 2 jobs", m.notice)
}

func TestUpdate_AddDialogRejectsBadURL(t *testing.T) {
	svc := newFakeService()
	m := newModel(t, svc)

	msg := m.submit(job.Request{URL: "ftp://example.com/file"})()
	m, _ = update(t, m, msg)
	assert.Error(t, m.err)
	assert.Empty(t, svc.added)
}

func TestUpdate_EscClosesDialog(t *testing.T) {
	m := newModel(t, newFakeService())
	m, _ = update(t, m, keyPress("a"))
	m, _ = update(t, m, keyPress("esc"))
	assert.Equal(t, DashboardState, m.state)
}

func TestUpdate_CancelOnlyActiveJobs(t *testing.T) {
	svc := newFakeService(
		job.Snapshot{ID: "active", Status: job.StatusDownloading, CreatedAt: time.Now().Add(-time.Minute)},
		job.Snapshot{ID: "done", Status: job.StatusCompleted, CreatedAt: time.Now()},
	)
	m := newModel(t, svc)

	m, cmd := update(t, m, keyPress("c"))
	runCmd(cmd)
	assert.Equal(t, []string{"active"}, svc.cancelled)

	m, _ = update(t, m, keyPress("j"))
	_, cmd = update(t, m, keyPress("c"))
	runCmd(cmd)
	assert.Equal(t, []string{"active"}, svc.cancelled)
}

func TestUpdate_DismissRemovesCard(t *testing.T) {
	svc := newFakeService(job.Snapshot{ID: "done", Status: job.StatusFailed, Error: "boom"})
	m := newModel(t, svc)

	m, cmd := update(t, m, keyPress("x"))
	msgs := runCmd(cmd)
	require.Len(t, msgs, 1)
	m, _ = update(t, m, msgs[0])

	assert.Empty(t, m.jobs)
	assert.Equal(t, []string{"done"}, svc.dismissed)
	assert.Zero(t, m.cursor)
}

func TestUpdate_ActionErrorIsShown(t *testing.T) {
	m := newModel(t, newFakeService())
	m, _ = update(t, m, actionMsg{verb: "dismiss", id: "j1", err: errors.New("still running")})
	require.Error(t, m.err)
	assert.Contains(t, m.View(), "still running")
}

func TestUpdate_RemovedEventClampsCursor(t *testing.T) {
	now := time.Now()
	m := newModel(t, newFakeService(
		job.Snapshot{ID: "a", Status: job.StatusCompleted, CreatedAt: now.Add(-time.Minute)},
		job.Snapshot{ID: "b", Status: job.StatusCompleted, CreatedAt: now},
	))
	m, _ = update(t, m, keyPress("j"))
	require.Equal(t, 1, m.cursor)

	m, _ = update(t, m, events.JobRemovedMsg{JobID: "b"})
	require.Len(t, m.jobs, 1)
	assert.Equal(t, 0, m.cursor)
}

func TestUpdate_ClipboardOpensDialogOnce(t *testing.T) {
	m := newModel(t, newFakeService())

	m, _ = update(t, m, clipboardMsg{text: "not a url"})
	assert.Equal(t, DashboardState, m.state)

	m, _ = update(t, m, clipboardMsg{text: "https://youtu.be/abc123"})
	assert.Equal(t, InputState, m.state)
	assert.Equal(t, "https://youtu.be/abc123", m.inputs[inputURL].Value())

	m, _ = update(t, m, keyPress("esc"))
	m, _ = update(t, m, clipboardMsg{text: "https://youtu.be/abc123"})
	assert.Equal(t, DashboardState, m.state)
}

func TestClipboardURL(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"https://www.youtube.com/watch?v=x1", true},
		{"  https://media.example/clip.mp4  ", true},
		{"", false},
		{"hello world", false},
		{"ftp://media.example/clip.mp4", false},
		{"https://www.youtube.com/watch", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			_, ok := clipboardURL(tt.in)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestUpdate_TickRecordsSpeed(t *testing.T) {
	m := newModel(t, newFakeService(job.Snapshot{ID: "j1", Status: job.StatusDownloading, Speed: 1000}))
	for i := 0; i < SpeedHistoryLen+5; i++ {
		m, _ = update(t, m, tickMsg(time.Now()))
	}
	assert.Len(t, m.speedHistory, SpeedHistoryLen)
	assert.InDelta(t, 1000.0, m.speedHistory[len(m.speedHistory)-1], 1e-9)
}

func TestUpdate_StreamClosed(t *testing.T) {
	m := newModel(t, newFakeService())
	msg := listenForActivity(closedChan())()
	m, _ = update(t, m, msg)
	assert.Equal(t, "event stream closed", m.notice)
}

func closedChan() <-chan any {
	ch := make(chan any)
	close(ch)
	return ch
}

func TestView_RendersStates(t *testing.T) {
	now := time.Now()
	m := newModel(t, newFakeService(
		job.Snapshot{ID: "a", Title: "Finished Clip", Status: job.StatusCompleted, Total: 2048, OutputPath: "/out/a.mp4", CreatedAt: now.Add(-2 * time.Minute)},
		job.Snapshot{ID: "b", Title: "Broken Clip", Status: job.StatusFailed, Error: "http 404", CreatedAt: now.Add(-time.Minute)},
		job.Snapshot{ID: "c", URL: "https://media.example/c", Status: job.StatusDownloading, Progress: -1, Downloaded: 1000, CreatedAt: now},
	))
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})

	out := m.View()
	assert.Contains(t, out, "Finished Clip")
	assert.Contains(t, out, "http 404")
	assert.Contains(t, out, "unknown size")

	m, _ = update(t, m, keyPress("enter"))
	require.Equal(t, DetailState, m.state)
	assert.Contains(t, m.View(), "/out/a.mp4")

	m, _ = update(t, m, keyPress("a"))
	assert.Contains(t, m.View(), "Add download")
}

func TestRenderSpeedGraph(t *testing.T) {
	assert.Empty(t, renderSpeedGraph(nil, 0, 3))

	out := renderSpeedGraph([]float64{0, 5, 10}, 10, 3)
	assert.Len(t, strings.Split(out, "\n"), 3)
	assert.Contains(t, out, "█")

	flat := renderSpeedGraph(nil, 5, 2)
	assert.NotContains(t, flat, "█")
}
