package job

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidfetch/vidfetch/internal/engine"
	"github.com/vidfetch/vidfetch/internal/engine/events"
	"github.com/vidfetch/vidfetch/internal/engine/types"
	"github.com/vidfetch/vidfetch/internal/media"
	"github.com/vidfetch/vidfetch/internal/mux"
	"github.com/vidfetch/vidfetch/internal/testutil"
)

// An ISO base media "ftyp" box, enough for content sniffing to say mp4.
var mp4Header = []byte{0, 0, 0, 0x18, 'f', 't', 'y', 'p', 'i', 's', 'o', 'm', 0, 0, 2, 0, 'i', 's', 'o', 'm', 'i', 's', 'o', '2'}

type fakeResolver struct {
	mu    sync.Mutex
	items map[string][]media.Item
	err   error
	calls int
}

func (r *fakeResolver) Resolve(_ context.Context, rawurl string) ([]media.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	items, ok := r.items[rawurl]
	if !ok {
		return nil, &media.ResolutionError{Kind: media.Unavailable, URL: rawurl, Err: errors.New("not found")}
	}
	return items, nil
}

func (r *fakeResolver) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// fakeMuxer concatenates an mp4 header, the video and the audio.
type fakeMuxer struct {
	err   error
	calls atomic.Int32
}

func (m *fakeMuxer) Remux(_ context.Context, video, audio, out, _ string) error {
	m.calls.Add(1)
	if m.err != nil {
		return m.err
	}
	v, err := os.ReadFile(video)
	if err != nil {
		return err
	}
	a, err := os.ReadFile(audio)
	if err != nil {
		return err
	}
	data := append(append(append([]byte{}, mp4Header...), v...), a...)
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return err
	}
	_ = os.Remove(video)
	_ = os.Remove(audio)
	return nil
}

type recorder struct {
	mu     sync.Mutex
	events []any
}

func record(t *testing.T, q *Queue) *recorder {
	t.Helper()
	ch, stop := q.Subscribe()
	r := &recorder{}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range ch {
			r.mu.Lock()
			r.events = append(r.events, msg)
			r.mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		stop()
		<-done
	})
	return r
}

func (r *recorder) all() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]any(nil), r.events...)
}

func (r *recorder) states(id string) []string {
	var out []string
	for _, e := range r.all() {
		if m, ok := e.(events.JobStateMsg); ok && m.JobID == id {
			out = append(out, m.Status)
		}
	}
	return out
}

func (r *recorder) waitFor(t *testing.T, match func(any) bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, e := range r.all() {
			if match(e) {
				return true
			}
		}
		return false
	}, 5*time.Second, 5*time.Millisecond)
}

type testEnv struct {
	q        *Queue
	resolver *fakeResolver
	muxer    *fakeMuxer
	tmp      string
	out      string
}

func newTestEnv(t *testing.T, limit int, prober mux.DurationProber) *testEnv {
	t.Helper()
	env := &testEnv{
		resolver: &fakeResolver{items: make(map[string][]media.Item)},
		muxer:    &fakeMuxer{},
		tmp:      t.TempDir(),
		out:      t.TempDir(),
	}
	env.q = NewQueue(Deps{
		Resolver: env.resolver,
		Fetcher:  engine.HTTPFetcher{},
		Muxer:    env.muxer,
		Verifier: &Verifier{Prober: prober, Tolerance: time.Second},
		Runtime: &types.RuntimeConfig{
			MaxConcurrentJobs: limit,
			RetryBaseDelay:    time.Millisecond,
			RetryMaxDelay:     5 * time.Millisecond,
			ProgressInterval:  5 * time.Millisecond,
		},
		TempDir:   env.tmp,
		OutputDir: env.out,
	})
	t.Cleanup(env.q.Shutdown)
	return env
}

// addPair registers a URL resolving to one 720p video-only and one audio-only mp4 stream.
func (e *testEnv) addPair(url, title string, video, audio *testutil.MockServer) {
	e.resolver.mu.Lock()
	defer e.resolver.mu.Unlock()
	e.resolver.items[url] = []media.Item{{
		ID:        title,
		SourceURL: url,
		Title:     title,
		Duration:  10 * time.Second,
		Variants: []media.StreamVariant{
			{ID: "v720", URL: video.URL(), Container: "mp4", Kind: media.KindVideo, Height: 720, Bitrate: 2_000_000},
			{ID: "a128", URL: audio.URL(), Container: "mp4", Kind: media.KindAudio, Bitrate: 128_000, Language: "en"},
		},
	}}
}

func (e *testEnv) wait(t *testing.T, id string) Snapshot {
	t.Helper()
	var snap Snapshot
	require.Eventually(t, func() bool {
		s, err := e.q.Get(id)
		if err != nil {
			return false
		}
		snap = s
		return s.Status.Terminal()
	}, 10*time.Second, 5*time.Millisecond)
	return snap
}

func (e *testEnv) waitStatus(t *testing.T, id string, want Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		s, err := e.q.Get(id)
		return err == nil && s.Status == want
	}, 5*time.Second, 2*time.Millisecond)
}

func slowServer(t *testing.T) *testutil.MockServer {
	return testutil.NewMockServerT(t,
		testutil.WithFileSize(4*types.MB),
		testutil.WithRangeSupport(true),
		testutil.WithByteLatency(50*time.Millisecond),
	)
}

func TestQueue_MuxedJobCompletes(t *testing.T) {
	env := newTestEnv(t, 2, fakeProber{d: 10 * time.Second})
	rec := record(t, env.q)

	video := testutil.NewMockServerT(t, testutil.WithFileSize(512*types.KB), testutil.WithRangeSupport(true))
	audio := testutil.NewMockServerT(t, testutil.WithFileSize(96*types.KB), testutil.WithRangeSupport(true))
	env.addPair("https://media.example/watch/1", "Test Clip", video, audio)

	id, err := env.q.Submit("https://media.example/watch/1", "mp4", "best")
	require.NoError(t, err)

	snap := env.wait(t, id)
	require.Equal(t, StatusCompleted, snap.Status, snap.Error)
	assert.Equal(t, filepath.Join(env.out, "test-clip_720p.mp4"), snap.OutputPath)
	assert.Equal(t, 1.0, snap.Progress)
	assert.Equal(t, int64(608*types.KB), snap.Total)
	assert.Len(t, snap.Selected, 2)
	assert.Equal(t, "Test Clip", snap.Title)

	want := append(append(append([]byte{}, mp4Header...), video.Data()...), audio.Data()...)
	testutil.AssertFileContent(t, snap.OutputPath, want)
	assert.False(t, testutil.FileExists(filepath.Join(env.tmp, id)), "temp dir must be gone")
	assert.Equal(t, int32(1), env.muxer.calls.Load())

	rec.waitFor(t, func(e any) bool {
		m, ok := e.(events.JobCompleteMsg)
		return ok && m.JobID == id
	})
	assert.Equal(t, []string{"resolving_metadata", "selecting_variant", "downloading", "muxing", "verifying"}, rec.states(id))

	all := rec.all()
	require.IsType(t, events.JobQueuedMsg{}, all[0])
	last := -1.0
	for _, e := range all {
		if p, ok := e.(events.ProgressMsg); ok && p.Fraction >= 0 {
			assert.GreaterOrEqual(t, p.Fraction, last, "progress went backwards")
			assert.LessOrEqual(t, p.Fraction, 1.0)
			last = p.Fraction
		}
	}
	assert.Equal(t, 1.0, last)
}

func TestQueue_CombinedStreamSkipsMux(t *testing.T) {
	env := newTestEnv(t, 1, nil)

	data := append(append([]byte{}, mp4Header...), bytes.Repeat([]byte("frame"), 40_000)...)
	srv := testutil.NewMockServerT(t, testutil.WithData(data), testutil.WithRangeSupport(true))
	env.resolver.items["https://media.example/v/2"] = []media.Item{{
		Title: "Combined",
		Variants: []media.StreamVariant{
			{ID: "18", URL: srv.URL(), Container: "mp4", Kind: media.KindBoth, Height: 360},
			{ID: "22", URL: srv.URL(), Container: "mp4", Kind: media.KindBoth, Height: 720},
		},
	}}

	id, err := env.q.Submit("https://media.example/v/2", "mp4", "480p")
	require.NoError(t, err)

	snap := env.wait(t, id)
	require.Equal(t, StatusCompleted, snap.Status, snap.Error)
	assert.Equal(t, filepath.Join(env.out, "combined_360p.mp4"), snap.OutputPath)
	testutil.AssertFileContent(t, snap.OutputPath, data)
	assert.Zero(t, env.muxer.calls.Load())
	assert.Empty(t, testutil.DirEntries(t, env.tmp))
}

func TestQueue_OutputNamesDoNotCollide(t *testing.T) {
	env := newTestEnv(t, 2, nil)

	data := append(append([]byte{}, mp4Header...), make([]byte, 64*types.KB)...)
	srv := testutil.NewMockServerT(t, testutil.WithData(data), testutil.WithRangeSupport(true))
	env.resolver.items["https://media.example/v/3"] = []media.Item{{
		Title:    "Same Name",
		Variants: []media.StreamVariant{{ID: "22", URL: srv.URL(), Container: "mp4", Kind: media.KindBoth, Height: 720}},
	}}
	testutil.WriteFile(t, filepath.Join(env.out, "same-name_720p.mp4"), []byte("existing"))

	a, err := env.q.Submit("https://media.example/v/3", "mp4", "best")
	require.NoError(t, err)
	b, err := env.q.Submit("https://media.example/v/3", "mp4", "best")
	require.NoError(t, err)

	sa, sb := env.wait(t, a), env.wait(t, b)
	require.Equal(t, StatusCompleted, sa.Status, sa.Error)
	require.Equal(t, StatusCompleted, sb.Status, sb.Error)
	assert.NotEqual(t, sa.OutputPath, sb.OutputPath)
	assert.ElementsMatch(t,
		[]string{filepath.Join(env.out, "same-name_720p(1).mp4"), filepath.Join(env.out, "same-name_720p(2).mp4")},
		[]string{sa.OutputPath, sb.OutputPath})
	testutil.AssertFileContent(t, filepath.Join(env.out, "same-name_720p.mp4"), []byte("existing"))
}

func TestQueue_StreamFailureCancelsSibling(t *testing.T) {
	env := newTestEnv(t, 1, nil)
	rec := record(t, env.q)

	video := slowServer(t)
	audio := testutil.NewMockServerT(t,
		testutil.WithFileSize(64*types.KB),
		testutil.WithFailFunc(func(*http.Request, int64) int { return http.StatusNotFound }),
	)
	env.addPair("https://media.example/watch/4", "Broken Audio", video, audio)

	start := time.Now()
	id, err := env.q.Submit("https://media.example/watch/4", "mp4", "best")
	require.NoError(t, err)

	snap := env.wait(t, id)
	assert.Less(t, time.Since(start), 5*time.Second, "video stream was not cancelled")
	assert.Equal(t, StatusFailed, snap.Status)
	assert.Equal(t, KindDownload, snap.ErrorKind)
	assert.Contains(t, snap.Error, "404")
	assert.Empty(t, snap.OutputPath)
	assert.Zero(t, env.muxer.calls.Load())
	assert.False(t, testutil.FileExists(filepath.Join(env.tmp, id)))
	assert.Empty(t, testutil.DirEntries(t, env.out))

	rec.waitFor(t, func(e any) bool {
		m, ok := e.(events.JobErrorMsg)
		return ok && m.JobID == id && m.Kind == KindDownload
	})
}

func TestQueue_CancelWhileDownloading(t *testing.T) {
	env := newTestEnv(t, 1, nil)
	rec := record(t, env.q)

	env.addPair("https://media.example/watch/5", "Slow", slowServer(t), slowServer(t))
	id, err := env.q.Submit("https://media.example/watch/5", "mp4", "best")
	require.NoError(t, err)

	env.waitStatus(t, id, StatusDownloading)
	require.NoError(t, env.q.Cancel(id))

	snap := env.wait(t, id)
	assert.Equal(t, StatusCancelled, snap.Status)
	assert.Empty(t, snap.Error)
	assert.False(t, testutil.FileExists(filepath.Join(env.tmp, id)))
	assert.Empty(t, testutil.DirEntries(t, env.out))
	assert.ErrorIs(t, env.q.Cancel(id), ErrJobFinished)

	rec.waitFor(t, func(e any) bool {
		m, ok := e.(events.JobCancelledMsg)
		return ok && m.JobID == id
	})
	assert.NotContains(t, rec.states(id), "muxing")
}

func TestQueue_MuxFailures(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantKind  string
		keepFiles bool
	}{
		{"tool missing keeps streams", &mux.MuxError{Kind: mux.ToolNotFound, Tool: "ffmpeg"}, KindMuxTool, true},
		{"tool crash keeps streams", &mux.MuxError{Kind: mux.ToolFailed, Tool: "ffmpeg", Err: errors.New("signal: killed")}, KindMuxTool, true},
		{"rejected content is cleaned up", &mux.MuxError{Kind: mux.ContentRejected, Tool: "ffmpeg", Err: errors.New("exit status 1")}, KindMux, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, 1, nil)
			env.muxer.err = tt.err

			video := testutil.NewMockServerT(t, testutil.WithFileSize(128*types.KB), testutil.WithRangeSupport(true))
			audio := testutil.NewMockServerT(t, testutil.WithFileSize(32*types.KB), testutil.WithRangeSupport(true))
			env.addPair("https://media.example/watch/6", "Mux", video, audio)

			id, err := env.q.Submit("https://media.example/watch/6", "mp4", "best")
			require.NoError(t, err)

			snap := env.wait(t, id)
			assert.Equal(t, StatusFailed, snap.Status)
			assert.Equal(t, tt.wantKind, snap.ErrorKind)
			assert.Empty(t, testutil.DirEntries(t, env.out))

			dir := filepath.Join(env.tmp, id)
			if tt.keepFiles {
				assert.ElementsMatch(t, []string{"video.mp4", "audio.mp4"}, testutil.DirEntries(t, dir))
				testutil.AssertFileContent(t, filepath.Join(dir, "video.mp4"), video.Data())
			} else {
				assert.False(t, testutil.FileExists(dir))
			}
		})
	}
}

func TestQueue_DurationMismatchRemovesOutput(t *testing.T) {
	env := newTestEnv(t, 1, fakeProber{d: 95 * time.Second})

	video := testutil.NewMockServerT(t, testutil.WithFileSize(64*types.KB), testutil.WithRangeSupport(true))
	audio := testutil.NewMockServerT(t, testutil.WithFileSize(16*types.KB), testutil.WithRangeSupport(true))
	env.addPair("https://media.example/watch/7", "Truncated", video, audio)

	id, err := env.q.Submit("https://media.example/watch/7", "mp4", "best")
	require.NoError(t, err)

	snap := env.wait(t, id)
	assert.Equal(t, StatusFailed, snap.Status)
	assert.Equal(t, KindVerification, snap.ErrorKind)
	assert.Contains(t, snap.Error, "duration mismatch")
	assert.Empty(t, snap.OutputPath)
	assert.Empty(t, testutil.DirEntries(t, env.out))
	assert.False(t, testutil.FileExists(filepath.Join(env.tmp, id)))
}

func TestQueue_ResolutionFailures(t *testing.T) {
	t.Run("unavailable", func(t *testing.T) {
		env := newTestEnv(t, 1, nil)
		id, err := env.q.Submit("https://media.example/missing", "webm", "best")
		require.NoError(t, err)

		snap := env.wait(t, id)
		assert.Equal(t, StatusFailed, snap.Status)
		assert.Equal(t, KindResolution, snap.ErrorKind)
		assert.Equal(t, 1, env.resolver.Calls(), "unavailable media is not retried")
	})

	t.Run("network failures get a bounded retry", func(t *testing.T) {
		env := newTestEnv(t, 1, nil)
		env.resolver.err = &media.ResolutionError{Kind: media.NetworkFailure, Err: errors.New("connection reset")}
		id, err := env.q.Submit("https://media.example/flaky", "mp4", "best")
		require.NoError(t, err)

		snap := env.wait(t, id)
		assert.Equal(t, KindResolution, snap.ErrorKind)
		assert.Equal(t, types.MaxResolveAttempts, env.resolver.Calls())
	})

	t.Run("collection URL", func(t *testing.T) {
		env := newTestEnv(t, 1, nil)
		id, err := env.q.Submit("https://www.youtube.com/playlist?list=PL0123456789", "mp4", "best")
		require.NoError(t, err)

		snap := env.wait(t, id)
		assert.Equal(t, KindResolution, snap.ErrorKind)
		assert.Contains(t, snap.Error, media.ErrCollectionURL.Error())
		assert.Zero(t, env.resolver.Calls())
	})

	t.Run("malformed URL", func(t *testing.T) {
		env := newTestEnv(t, 1, nil)
		id, err := env.q.Submit("ftp://media.example/x", "mp4", "best")
		require.NoError(t, err)
		assert.Equal(t, KindResolution, env.wait(t, id).ErrorKind)
	})
}

func TestQueue_NoMatchingVariant(t *testing.T) {
	env := newTestEnv(t, 1, nil)
	env.resolver.items["https://media.example/webm-only"] = []media.Item{{
		Title: "Webm Only",
		Variants: []media.StreamVariant{
			{ID: "248", URL: "http://unused.invalid/v", Container: "webm", Kind: media.KindVideo, Height: 1080},
			{ID: "251", URL: "http://unused.invalid/a", Container: "webm", Kind: media.KindAudio, Bitrate: 160_000},
		},
	}}

	id, err := env.q.Submit("https://media.example/webm-only", "mp4", "best")
	require.NoError(t, err)

	snap := env.wait(t, id)
	assert.Equal(t, StatusFailed, snap.Status)
	assert.Equal(t, KindSelection, snap.ErrorKind)
	assert.Empty(t, snap.Streams)
	assert.Empty(t, testutil.DirEntries(t, env.tmp))
}

func TestQueue_InvalidFormatRejected(t *testing.T) {
	env := newTestEnv(t, 1, nil)
	_, err := env.q.Submit("https://media.example/watch/1", "avi", "best")
	assert.Error(t, err)
	assert.Empty(t, env.q.Status())
}

func TestQueue_AdmitsInSubmissionOrder(t *testing.T) {
	env := newTestEnv(t, 1, nil)
	rec := record(t, env.q)

	var ids []string
	for i, title := range []string{"First", "Second", "Third"} {
		url := "https://media.example/order/" + title
		video := testutil.NewMockServerT(t, testutil.WithFileSize(int64(64+i)*types.KB), testutil.WithRangeSupport(true),
			testutil.WithByteLatency(10*time.Millisecond))
		audio := testutil.NewMockServerT(t, testutil.WithFileSize(8*types.KB), testutil.WithRangeSupport(true))
		env.addPair(url, title, video, audio)
		id, err := env.q.Submit(url, "mp4", "best")
		require.NoError(t, err)
		ids = append(ids, id)
	}

	status := env.q.Status()
	require.Len(t, status, 3)
	assert.Equal(t, StatusQueued, status[2].Status)

	snaps := make([]Snapshot, len(ids))
	for i, id := range ids {
		snaps[i] = env.wait(t, id)
		require.Equal(t, StatusCompleted, snaps[i].Status, snaps[i].Error)
	}
	for i := 1; i < len(snaps); i++ {
		assert.False(t, snaps[i].StartedAt.Before(snaps[i-1].FinishedAt), "job %d overlapped its predecessor", i)
	}

	var started []string
	for _, e := range rec.all() {
		if m, ok := e.(events.JobStateMsg); ok && m.Status == string(StatusResolving) {
			started = append(started, m.JobID)
		}
	}
	assert.Equal(t, ids, started)
}

func TestQueue_CancelQueuedJob(t *testing.T) {
	env := newTestEnv(t, 1, nil)

	env.addPair("https://media.example/busy", "Busy", slowServer(t), slowServer(t))

	busy, err := env.q.Submit("https://media.example/busy", "mp4", "best")
	require.NoError(t, err)
	waiting, err := env.q.Submit("https://media.example/waiting", "mp4", "best")
	require.NoError(t, err)

	env.waitStatus(t, busy, StatusDownloading)
	require.NoError(t, env.q.Cancel(waiting))

	snap, err := env.q.Get(waiting)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, snap.Status)
	assert.True(t, snap.StartedAt.IsZero())

	require.NoError(t, env.q.Cancel(busy))
	assert.Equal(t, StatusCancelled, env.wait(t, busy).Status)
	assert.Equal(t, 1, env.resolver.Calls(), "a cancelled queued job never resolves")
	assert.ErrorIs(t, env.q.Cancel("nope"), ErrJobNotFound)
}

func TestQueue_Dismiss(t *testing.T) {
	env := newTestEnv(t, 1, nil)
	rec := record(t, env.q)

	env.addPair("https://media.example/dismiss", "Dismiss", slowServer(t), slowServer(t))
	id, err := env.q.Submit("https://media.example/dismiss", "mp4", "best")
	require.NoError(t, err)

	assert.ErrorIs(t, env.q.Dismiss(id), ErrJobActive)
	require.NoError(t, env.q.Cancel(id))
	env.wait(t, id)

	require.NoError(t, env.q.Dismiss(id))
	_, err = env.q.Get(id)
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.Empty(t, env.q.Status())
	assert.ErrorIs(t, env.q.Dismiss(id), ErrJobNotFound)

	rec.waitFor(t, func(e any) bool {
		m, ok := e.(events.JobRemovedMsg)
		return ok && m.JobID == id
	})
}

func TestQueue_SubmitCollection(t *testing.T) {
	env := newTestEnv(t, 2, nil)

	data := append(append([]byte{}, mp4Header...), make([]byte, 32*types.KB)...)
	srv := testutil.NewMockServerT(t, testutil.WithData(data), testutil.WithRangeSupport(true))
	entry := func(id, title string) media.Item {
		return media.Item{
			ID:        id,
			SourceURL: "https://www.youtube.com/watch?v=" + id,
			Title:     title,
			Variants:  []media.StreamVariant{{ID: "18", URL: srv.URL(), Container: "mp4", Kind: media.KindBoth, Height: 360}},
		}
	}
	list := "https://www.youtube.com/playlist?list=PLabcdef"
	env.resolver.items[list] = []media.Item{entry("aaaaaaaaaaa", "One"), entry("bbbbbbbbbbb", "Two")}

	ids, err := env.q.SubmitCollection(context.Background(), Request{URL: list, Format: "mp4"})
	require.NoError(t, err)
	require.Len(t, ids, 2)

	for i, id := range ids {
		snap := env.wait(t, id)
		require.Equal(t, StatusCompleted, snap.Status, snap.Error)
		assert.Equal(t, env.resolver.items[list][i].SourceURL, snap.URL)
		assert.Equal(t, "best", snap.Quality)
	}
	assert.Equal(t, 1, env.resolver.Calls())

	_, err = env.q.SubmitCollection(context.Background(), Request{URL: list, Format: "flv"})
	assert.Error(t, err)
}

func TestQueue_Shutdown(t *testing.T) {
	env := newTestEnv(t, 1, nil)

	env.addPair("https://media.example/shutdown", "Running", slowServer(t), slowServer(t))
	running, err := env.q.Submit("https://media.example/shutdown", "mp4", "best")
	require.NoError(t, err)
	queued, err := env.q.Submit("https://media.example/shutdown", "mp4", "best")
	require.NoError(t, err)
	env.waitStatus(t, running, StatusDownloading)

	env.q.Shutdown()

	for _, id := range []string{running, queued} {
		snap, err := env.q.Get(id)
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, snap.Status)
	}
	assert.Empty(t, testutil.DirEntries(t, env.tmp))

	_, err = env.q.Submit("https://media.example/shutdown", "mp4", "best")
	assert.ErrorIs(t, err, ErrQueueShutdown)

	ch, stop := env.q.Subscribe()
	defer stop()
	_, open := <-ch
	assert.False(t, open)
}
