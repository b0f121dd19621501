package media

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/vidfetch/vidfetch/internal/engine/transport"
	"github.com/vidfetch/vidfetch/internal/engine/types"
	"github.com/vidfetch/vidfetch/internal/utils"
)

// Resolver turns a source URL into item metadata. A single-item URL yields
// one Item, a collection URL one Item per entry. Results are not cached.
type Resolver interface {
	Resolve(ctx context.Context, rawurl string) ([]Item, error)
}

// URLKind is the shape of a source URL.
type URLKind int

const (
	URLSingle URLKind = iota
	URLCollection
)

func (k URLKind) String() string {
	if k == URLCollection {
		return "collection"
	}
	return "single"
}

var youtubeHosts = map[string]bool{
	"youtube.com":       true,
	"www.youtube.com":   true,
	"m.youtube.com":     true,
	"music.youtube.com": true,
	"youtu.be":          true,
	"www.youtu.be":      true,
}

// IsYouTube reports whether rawurl points at a YouTube host.
func IsYouTube(rawurl string) bool {
	u, err := url.Parse(strings.TrimSpace(rawurl))
	if err != nil {
		return false
	}
	return youtubeHosts[strings.ToLower(u.Hostname())]
}

// ClassifyURL validates rawurl and reports whether it names one item or a
// collection. Any http(s) URL with a host is accepted; only YouTube URLs are
// recognised as collections without asking a backend.
func ClassifyURL(rawurl string) (URLKind, error) {
	u, err := url.Parse(strings.TrimSpace(rawurl))
	if err != nil {
		return 0, &ResolutionError{Kind: UnsupportedURL, URL: rawurl, Err: err}
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return 0, &ResolutionError{Kind: UnsupportedURL, URL: rawurl, Err: fmt.Errorf("unsupported scheme %q", u.Scheme)}
	}
	if u.Host == "" {
		return 0, &ResolutionError{Kind: UnsupportedURL, URL: rawurl, Err: errors.New("missing host")}
	}

	if !youtubeHosts[strings.ToLower(u.Hostname())] {
		return URLSingle, nil
	}

	q := u.Query()
	path := strings.TrimSuffix(u.Path, "/")
	switch {
	case strings.EqualFold(u.Hostname(), "youtu.be") || strings.EqualFold(u.Hostname(), "www.youtu.be"):
		if len(strings.Trim(path, "/")) == 0 {
			return 0, &ResolutionError{Kind: UnsupportedURL, URL: rawurl, Err: errors.New("missing video id")}
		}
		return URLSingle, nil
	case path == "/watch":
		if q.Get("v") == "" {
			return 0, &ResolutionError{Kind: UnsupportedURL, URL: rawurl, Err: errors.New("missing video id")}
		}
		return URLSingle, nil
	case path == "/playlist":
		if q.Get("list") == "" {
			return 0, &ResolutionError{Kind: UnsupportedURL, URL: rawurl, Err: errors.New("missing playlist id")}
		}
		return URLCollection, nil
	case strings.HasPrefix(path, "/shorts/"), strings.HasPrefix(path, "/embed/"), strings.HasPrefix(path, "/live/"), strings.HasPrefix(path, "/v/"):
		return URLSingle, nil
	}
	return 0, &ResolutionError{Kind: UnsupportedURL, URL: rawurl, Err: fmt.Errorf("unrecognised youtube path %q", u.Path)}
}

type retryResolver struct {
	next    Resolver
	runtime *types.RuntimeConfig
}

// WithRetry wraps r so network failures are retried. The attempt budget comes
// from runtime and never exceeds types.MaxResolveAttempts.
func WithRetry(r Resolver, runtime *types.RuntimeConfig) Resolver {
	return &retryResolver{next: r, runtime: runtime}
}

func (r *retryResolver) Resolve(ctx context.Context, rawurl string) ([]Item, error) {
	attempts := r.runtime.GetMaxResolveAttempts()
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := r.runtime.RetryDelay(attempt)
			utils.Debug("resolve %s: retry %d/%d in %v after: %v", rawurl, attempt, attempts-1, delay, lastErr)
			if err := transport.Sleep(ctx, delay); err != nil {
				return nil, &ResolutionError{Kind: NetworkFailure, URL: rawurl, Err: err}
			}
		}

		items, err := r.next.Resolve(ctx, rawurl)
		if err == nil {
			return items, nil
		}
		lastErr = err

		var re *ResolutionError
		if !errors.As(err, &re) {
			return nil, newResolutionError(BackendFailure, rawurl, err)
		}
		if !re.Retryable() || ctx.Err() != nil {
			return nil, re
		}
	}
	return nil, lastErr
}
