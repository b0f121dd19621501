package media

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidfetch/vidfetch/internal/engine/types"
)

func TestClassifyURL(t *testing.T) {
	tests := []struct {
		url     string
		want    URLKind
		wantErr bool
	}{
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", URLSingle, false},
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ&list=PL123", URLSingle, false},
		{"https://youtu.be/dQw4w9WgXcQ", URLSingle, false},
		{"https://www.youtube.com/shorts/abcdefghijk", URLSingle, false},
		{"https://music.youtube.com/watch?v=abcdefghijk", URLSingle, false},
		{"https://www.youtube.com/playlist?list=PL590L5WQmH8fJ54F369BLDSqIwcs-TCfs", URLCollection, false},
		{"https://vimeo.com/123456", URLSingle, false},
		{"https://www.youtube.com/watch", 0, true},
		{"https://www.youtube.com/playlist", 0, true},
		{"https://www.youtube.com/feed/trending", 0, true},
		{"https://youtu.be/", 0, true},
		{"ftp://example.com/video.mp4", 0, true},
		{"not a url", 0, true},
		{"https:///watch?v=x", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			kind, err := ClassifyURL(tt.url)
			if tt.wantErr {
				var re *ResolutionError
				require.ErrorAs(t, err, &re)
				assert.Equal(t, UnsupportedURL, re.Kind)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, kind)
		})
	}
}

type countingResolver struct {
	calls int
	errs  []error
	items []Item
}

func (r *countingResolver) Resolve(ctx context.Context, rawurl string) ([]Item, error) {
	r.calls++
	if len(r.errs) >= r.calls {
		if err := r.errs[r.calls-1]; err != nil {
			return nil, err
		}
	}
	return r.items, nil
}

func fastRuntime() *types.RuntimeConfig {
	return &types.RuntimeConfig{RetryBaseDelay: time.Millisecond, RetryMaxDelay: 2 * time.Millisecond}
}

func TestWithRetry_RetriesNetworkOnce(t *testing.T) {
	netErr := &ResolutionError{Kind: NetworkFailure, URL: "u", Err: errors.New("reset")}
	inner := &countingResolver{errs: []error{netErr}, items: []Item{{ID: "a"}}}

	items, err := WithRetry(inner, fastRuntime()).Resolve(context.Background(), "u")
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Equal(t, 2, inner.calls)
}

func TestWithRetry_BoundedToTwoAttempts(t *testing.T) {
	netErr := &ResolutionError{Kind: NetworkFailure, URL: "u", Err: errors.New("timeout")}
	inner := &countingResolver{errs: []error{netErr, netErr, netErr, netErr}}

	rt := fastRuntime()
	rt.MaxResolveAttempts = 10
	_, err := WithRetry(inner, rt).Resolve(context.Background(), "u")

	var re *ResolutionError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, NetworkFailure, re.Kind)
	assert.Equal(t, types.MaxResolveAttempts, inner.calls)
}

func TestWithRetry_UnavailableIsFinal(t *testing.T) {
	inner := &countingResolver{errs: []error{&ResolutionError{Kind: Unavailable, URL: "u", Err: errors.New("private")}}}

	_, err := WithRetry(inner, fastRuntime()).Resolve(context.Background(), "u")

	var re *ResolutionError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, Unavailable, re.Kind)
	assert.Equal(t, 1, inner.calls)
}

func TestWithRetry_WrapsForeignErrors(t *testing.T) {
	inner := &countingResolver{errs: []error{errors.New("boom")}}

	_, err := WithRetry(inner, fastRuntime()).Resolve(context.Background(), "u")

	var re *ResolutionError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, BackendFailure, re.Kind)
	assert.EqualError(t, errors.Unwrap(err), "boom")
}

func TestStreamVariant_Label(t *testing.T) {
	assert.Equal(t, "1080p", StreamVariant{Height: 1080, FPS: 30}.Label())
	assert.Equal(t, "720p60", StreamVariant{Height: 720, FPS: 60}.Label())
	assert.Equal(t, "128k", StreamVariant{Bitrate: 128000}.Label())
	assert.Equal(t, "140", StreamVariant{ID: "140"}.Label())
}
