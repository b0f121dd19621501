package media

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/kkdai/youtube/v2"

	"github.com/vidfetch/vidfetch/internal/utils"
)

// YouTubeResolver resolves YouTube videos and playlists natively.
type YouTubeResolver struct {
	Client *youtube.Client
}

// NewYouTubeResolver returns a resolver using httpClient for metadata calls.
func NewYouTubeResolver(httpClient *http.Client) *YouTubeResolver {
	return &YouTubeResolver{Client: &youtube.Client{HTTPClient: httpClient}}
}

// Resolve implements Resolver.
func (r *YouTubeResolver) Resolve(ctx context.Context, rawurl string) ([]Item, error) {
	kind, err := ClassifyURL(rawurl)
	if err != nil {
		return nil, err
	}
	if !IsYouTube(rawurl) {
		return nil, &ResolutionError{Kind: UnsupportedURL, URL: rawurl, Err: errors.New("not a youtube url")}
	}

	if kind == URLCollection {
		return r.resolvePlaylist(ctx, rawurl)
	}

	video, err := r.Client.GetVideoContext(ctx, rawurl)
	if err != nil {
		return nil, classifyYouTubeError(rawurl, err)
	}
	item, err := r.itemFromVideo(ctx, rawurl, video)
	if err != nil {
		return nil, err
	}
	return []Item{item}, nil
}

func (r *YouTubeResolver) resolvePlaylist(ctx context.Context, rawurl string) ([]Item, error) {
	playlist, err := r.Client.GetPlaylistContext(ctx, rawurl)
	if err != nil {
		return nil, classifyYouTubeError(rawurl, err)
	}
	if len(playlist.Videos) == 0 {
		return nil, &ResolutionError{Kind: Unavailable, URL: rawurl, Err: errors.New("playlist has no videos")}
	}

	items := make([]Item, 0, len(playlist.Videos))
	for _, entry := range playlist.Videos {
		if entry == nil || entry.ID == "" {
			continue
		}
		video, err := r.Client.VideoFromPlaylistEntryContext(ctx, entry)
		if err != nil {
			if ctx.Err() != nil {
				return nil, &ResolutionError{Kind: NetworkFailure, URL: rawurl, Err: ctx.Err()}
			}
			// One private entry should not sink the whole playlist.
			utils.Debug("playlist %s: skipping entry %s: %v", playlist.ID, entry.ID, err)
			continue
		}
		item, err := r.itemFromVideo(ctx, "https://www.youtube.com/watch?v="+entry.ID, video)
		if err != nil {
			utils.Debug("playlist %s: skipping entry %s: %v", playlist.ID, entry.ID, err)
			continue
		}
		items = append(items, item)
	}
	if len(items) == 0 {
		return nil, &ResolutionError{Kind: Unavailable, URL: rawurl, Err: errors.New("no playable entries")}
	}
	return items, nil
}

func (r *YouTubeResolver) itemFromVideo(ctx context.Context, sourceURL string, video *youtube.Video) (Item, error) {
	item := Item{
		ID:        video.ID,
		SourceURL: sourceURL,
		Title:     video.Title,
		Duration:  video.Duration,
	}
	if n := len(video.Thumbnails); n > 0 {
		item.Thumbnail = video.Thumbnails[n-1].URL
	}

	for i := range video.Formats {
		f := &video.Formats[i]
		variant, ok := variantFromFormat(f)
		if !ok {
			continue
		}
		streamURL, err := r.Client.GetStreamURLContext(ctx, video, f)
		if err != nil {
			utils.Debug("video %s: no stream url for itag %d: %v", video.ID, f.ItagNo, err)
			continue
		}
		variant.URL = streamURL
		item.Variants = append(item.Variants, variant)
	}
	if len(item.Variants) == 0 {
		return Item{}, &ResolutionError{Kind: Unavailable, URL: sourceURL, Err: errors.New("no downloadable formats")}
	}
	return item, nil
}

// variantFromFormat converts a YouTube format; the URL is filled in by the caller.
func variantFromFormat(f *youtube.Format) (StreamVariant, bool) {
	mediaType, params, err := mime.ParseMediaType(f.MimeType)
	if err != nil {
		return StreamVariant{}, false
	}
	major, sub, _ := strings.Cut(mediaType, "/")
	if major != "video" && major != "audio" {
		return StreamVariant{}, false
	}

	v := StreamVariant{
		ID:        strconv.Itoa(f.ItagNo),
		Container: containerFromExt(sub),
		Codec:     strings.TrimSpace(strings.Split(params["codecs"], ",")[0]),
		Height:    f.Height,
		FPS:       f.FPS,
		Bitrate:   f.Bitrate,
		SizeBytes: f.ContentLength,
	}
	if v.Bitrate == 0 {
		v.Bitrate = f.AverageBitrate
	}

	hasVideo := major == "video" && (f.Width > 0 || f.Height > 0)
	hasAudio := f.AudioChannels > 0 || major == "audio"
	switch {
	case hasVideo && hasAudio:
		v.Kind = KindBoth
	case hasVideo:
		v.Kind = KindVideo
	case hasAudio:
		v.Kind = KindAudio
	default:
		return StreamVariant{}, false
	}
	return v, true
}

func classifyYouTubeError(rawurl string, err error) *ResolutionError {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return &ResolutionError{Kind: NetworkFailure, URL: rawurl, Err: err}
	case errors.Is(err, youtube.ErrLoginRequired),
		errors.Is(err, youtube.ErrVideoPrivate),
		errors.Is(err, youtube.ErrNotPlayableInEmbed):
		return &ResolutionError{Kind: Unavailable, URL: rawurl, Err: err}
	case errors.Is(err, youtube.ErrInvalidPlaylist),
		errors.Is(err, youtube.ErrInvalidCharactersInVideoID),
		errors.Is(err, youtube.ErrVideoIDMinLength):
		return &ResolutionError{Kind: UnsupportedURL, URL: rawurl, Err: err}
	}

	var statusErr *youtube.ErrPlayabiltyStatus
	if errors.As(err, &statusErr) {
		return &ResolutionError{Kind: Unavailable, URL: rawurl, Err: err}
	}
	var codeErr youtube.ErrUnexpectedStatusCode
	if errors.As(err, &codeErr) {
		if int(codeErr) >= 500 || int(codeErr) == http.StatusTooManyRequests {
			return &ResolutionError{Kind: NetworkFailure, URL: rawurl, Err: err}
		}
		return &ResolutionError{Kind: Unavailable, URL: rawurl, Err: fmt.Errorf("http %d: %w", int(codeErr), err)}
	}
	return &ResolutionError{Kind: NetworkFailure, URL: rawurl, Err: err}
}
