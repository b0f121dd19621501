package job

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidfetch/vidfetch/internal/engine/types"
	"github.com/vidfetch/vidfetch/internal/media"
	"github.com/vidfetch/vidfetch/internal/mux"
	"github.com/vidfetch/vidfetch/internal/selector"
	"github.com/vidfetch/vidfetch/internal/testutil"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusQueued, StatusResolving, true},
		{StatusQueued, StatusDownloading, false},
		{StatusResolving, StatusSelecting, true},
		{StatusSelecting, StatusDownloading, true},
		{StatusDownloading, StatusMuxing, true},
		{StatusDownloading, StatusVerifying, true},
		{StatusMuxing, StatusVerifying, true},
		{StatusVerifying, StatusCompleted, true},
		{StatusMuxing, StatusDownloading, false},
		{StatusDownloading, StatusCompleted, false},
		{StatusQueued, StatusCancelled, true},
		{StatusMuxing, StatusFailed, true},
		{StatusCompleted, StatusFailed, false},
		{StatusCancelled, StatusResolving, false},
		{StatusFailed, StatusCancelled, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"cancelled", fmt.Errorf("stopped: %w", context.Canceled), KindCancelled},
		{"resolution", &media.ResolutionError{Kind: media.Unavailable, Err: errors.New("gone")}, KindResolution},
		{"selection", &selector.NoMatchingVariantError{Format: "mp4", Quality: "best"}, KindSelection},
		{"bad quality", fmt.Errorf("parse: %w", selector.ErrInvalidQuality), KindSelection},
		{"download", &types.DownloadError{URL: "u", StatusCode: 404}, KindDownload},
		{"mux tool", &mux.MuxError{Kind: mux.ToolNotFound, Tool: "ffmpeg"}, KindMuxTool},
		{"mux content", &mux.MuxError{Kind: mux.ContentRejected, Err: errors.New("bad")}, KindMux},
		{"verification", &VerificationError{Path: "x", Reason: "output empty"}, KindVerification},
		{"other", errors.New("boom"), KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorKind(tt.err))
		})
	}
}

type fakeProber struct {
	d   time.Duration
	err error
}

func (p fakeProber) Duration(context.Context, string) (time.Duration, error) {
	return p.d, p.err
}

func TestVerifier(t *testing.T) {
	dir := t.TempDir()
	mp4 := filepath.Join(dir, "ok.mp4")
	testutil.WriteFile(t, mp4, append(append([]byte{}, mp4Header...), make([]byte, 512)...))
	empty := filepath.Join(dir, "empty.mp4")
	testutil.WriteFile(t, empty, nil)
	png := filepath.Join(dir, "image.mp4")
	testutil.WriteFile(t, png, append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 64)...))
	opaque := filepath.Join(dir, "opaque.mkv")
	testutil.WriteFile(t, opaque, []byte("no recognisable signature here"))

	ctx := context.Background()
	v := &Verifier{Prober: fakeProber{d: 10 * time.Second}, Tolerance: time.Second}

	var ve *VerificationError
	require.ErrorAs(t, v.Verify(ctx, filepath.Join(dir, "missing.mp4"), "mp4", 0), &ve)
	assert.Equal(t, "output missing", ve.Reason)

	require.ErrorAs(t, v.Verify(ctx, empty, "mp4", 0), &ve)
	assert.Equal(t, "output empty", ve.Reason)

	require.ErrorAs(t, v.Verify(ctx, png, "mp4", 0), &ve)
	assert.Contains(t, ve.Reason, "png")

	assert.NoError(t, v.Verify(ctx, opaque, "mkv", 10*time.Second))
	assert.NoError(t, v.Verify(ctx, mp4, "mp4", 10*time.Second))
	assert.NoError(t, v.Verify(ctx, mp4, "mp4", 10500*time.Millisecond))

	require.ErrorAs(t, v.Verify(ctx, mp4, "mp4", 20*time.Second), &ve)
	assert.Equal(t, "duration mismatch", ve.Reason)
	assert.Equal(t, 10*time.Second, ve.Actual)

	t.Run("missing prober tool skips the duration check", func(t *testing.T) {
		v := &Verifier{Prober: fakeProber{err: &mux.MuxError{Kind: mux.ToolNotFound, Tool: "ffprobe"}}}
		assert.NoError(t, v.Verify(ctx, mp4, "mp4", time.Hour))
	})

	t.Run("unreadable duration fails", func(t *testing.T) {
		v := &Verifier{Prober: fakeProber{err: errors.New("moov atom not found")}}
		require.ErrorAs(t, v.Verify(ctx, mp4, "mp4", time.Minute), &ve)
		assert.Contains(t, ve.Reason, "duration unreadable")
	})

	t.Run("nil verifier checks the file only", func(t *testing.T) {
		var nv *Verifier
		assert.NoError(t, nv.Verify(ctx, mp4, "mp4", time.Hour))
		assert.Error(t, nv.Verify(ctx, empty, "mp4", 0))
	})
}

func TestMoveFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a", "stream.mp4")
	dst := filepath.Join(dir, "b.mp4")
	testutil.WriteFile(t, src, []byte("payload"))

	require.NoError(t, moveFile(src, dst))
	testutil.AssertFileContent(t, dst, []byte("payload"))
	_, err := os.Stat(src)
	assert.True(t, os.IsNotExist(err))
}

func TestPathReserver(t *testing.T) {
	dir := t.TempDir()
	r := newPathReserver()
	want := filepath.Join(dir, "clip_720p.mp4")

	first := r.reserve(want)
	second := r.reserve(want)
	assert.Equal(t, want, first)
	assert.Equal(t, filepath.Join(dir, "clip_720p(1).mp4"), second)

	r.release(first)
	assert.Equal(t, want, r.reserve(want))
}
