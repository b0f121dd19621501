package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/vidfetch/vidfetch/internal/utils"
)

// YTDLPResolver resolves metadata by running `yt-dlp -J`. It supports every
// site yt-dlp does; only formats served over plain http(s) are offered.
type YTDLPResolver struct {
	Binary  string        // defaults to "yt-dlp"
	Timeout time.Duration // per invocation, defaults to 45s
	Args    []string      // extra arguments, e.g. --cookies
}

type ytdlpFormat struct {
	FormatID       string            `json:"format_id"`
	URL            string            `json:"url"`
	Ext            string            `json:"ext"`
	Protocol       string            `json:"protocol"`
	VCodec         string            `json:"vcodec"`
	ACodec         string            `json:"acodec"`
	Height         int               `json:"height"`
	FPS            float64           `json:"fps"`
	TBR            float64           `json:"tbr"` // kbit/s
	ABR            float64           `json:"abr"`
	VBR            float64           `json:"vbr"`
	Filesize       int64             `json:"filesize"`
	FilesizeApprox int64             `json:"filesize_approx"`
	Language       string            `json:"language"`
	HTTPHeaders    map[string]string `json:"http_headers"`
}

type ytdlpInfo struct {
	Type       string        `json:"_type"`
	ID         string        `json:"id"`
	Title      string        `json:"title"`
	Duration   float64       `json:"duration"`
	Thumbnail  string        `json:"thumbnail"`
	WebpageURL string        `json:"webpage_url"`
	Formats    []ytdlpFormat `json:"formats"`
	Entries    []ytdlpInfo   `json:"entries"`
}

// Resolve implements Resolver.
func (r *YTDLPResolver) Resolve(ctx context.Context, rawurl string) ([]Item, error) {
	if _, err := ClassifyURL(rawurl); err != nil {
		return nil, err
	}

	binary := r.Binary
	if binary == "" {
		binary = "yt-dlp"
	}
	path, err := exec.LookPath(binary)
	if err != nil {
		return nil, &ResolutionError{Kind: BackendFailure, URL: rawurl, Err: fmt.Errorf("%s not found: %w", binary, err)}
	}

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append([]string{"-J", "--no-warnings", "--skip-download"}, r.Args...)
	args = append(args, "--", rawurl)
	cmd := exec.CommandContext(runCtx, path, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	utils.Debug("yt-dlp: resolving %s", rawurl)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, &ResolutionError{Kind: NetworkFailure, URL: rawurl, Err: ctx.Err()}
		}
		if runCtx.Err() != nil {
			return nil, &ResolutionError{Kind: NetworkFailure, URL: rawurl, Err: fmt.Errorf("yt-dlp timed out after %v", timeout)}
		}
		return nil, classifyYTDLPFailure(rawurl, strings.TrimSpace(stderr.String()), err)
	}
	return parseYTDLPOutput(rawurl, stdout.Bytes())
}

// parseYTDLPOutput converts the JSON yt-dlp prints for a video or a playlist.
func parseYTDLPOutput(rawurl string, data []byte) ([]Item, error) {
	var info ytdlpInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, &ResolutionError{Kind: BackendFailure, URL: rawurl, Err: fmt.Errorf("yt-dlp metadata parse error: %w", err)}
	}

	if info.Type == "playlist" || info.Type == "multi_video" {
		items := make([]Item, 0, len(info.Entries))
		for _, entry := range info.Entries {
			item := itemFromYTDLP(entry)
			if len(item.Variants) == 0 {
				utils.Debug("yt-dlp: entry %s has no usable formats", entry.ID)
				continue
			}
			items = append(items, item)
		}
		if len(items) == 0 {
			return nil, &ResolutionError{Kind: Unavailable, URL: rawurl, Err: errors.New("no playable entries")}
		}
		return items, nil
	}

	item := itemFromYTDLP(info)
	if item.SourceURL == "" {
		item.SourceURL = rawurl
	}
	if len(item.Variants) == 0 {
		return nil, &ResolutionError{Kind: Unavailable, URL: rawurl, Err: errors.New("no downloadable formats")}
	}
	return []Item{item}, nil
}

func itemFromYTDLP(info ytdlpInfo) Item {
	item := Item{
		ID:        info.ID,
		SourceURL: info.WebpageURL,
		Title:     info.Title,
		Duration:  time.Duration(info.Duration * float64(time.Second)),
		Thumbnail: info.Thumbnail,
	}
	for _, f := range info.Formats {
		if v, ok := variantFromYTDLP(f); ok {
			item.Variants = append(item.Variants, v)
		}
	}
	return item
}

func variantFromYTDLP(f ytdlpFormat) (StreamVariant, bool) {
	if f.URL == "" {
		return StreamVariant{}, false
	}
	// Segmented download needs a single resource, not a fragment playlist.
	if f.Protocol != "" && f.Protocol != "http" && f.Protocol != "https" {
		return StreamVariant{}, false
	}

	hasVideo := f.VCodec != "" && f.VCodec != "none"
	hasAudio := f.ACodec != "" && f.ACodec != "none"
	v := StreamVariant{
		ID:        f.FormatID,
		URL:       f.URL,
		Container: containerFromExt(f.Ext),
		Height:    f.Height,
		FPS:       int(f.FPS),
		Language:  f.Language,
		Headers:   f.HTTPHeaders,
		SizeBytes: f.Filesize,
	}
	if v.SizeBytes == 0 {
		v.SizeBytes = f.FilesizeApprox
	}

	kbps := f.TBR
	switch {
	case hasVideo && hasAudio:
		v.Kind = KindBoth
		v.Codec = f.VCodec
	case hasVideo:
		v.Kind = KindVideo
		v.Codec = f.VCodec
		if f.VBR > 0 {
			kbps = f.VBR
		}
	case hasAudio:
		v.Kind = KindAudio
		v.Codec = f.ACodec
		if f.ABR > 0 {
			kbps = f.ABR
		}
	default:
		return StreamVariant{}, false
	}
	v.Bitrate = int(kbps * 1000)
	return v, true
}

func classifyYTDLPFailure(rawurl, stderr string, err error) *ResolutionError {
	msg := strings.ToLower(stderr)
	detail := fmt.Errorf("yt-dlp: %w: %s", err, stderr)
	switch {
	case strings.Contains(msg, "unsupported url"):
		return &ResolutionError{Kind: UnsupportedURL, URL: rawurl, Err: detail}
	case strings.Contains(msg, "private video"),
		strings.Contains(msg, "video unavailable"),
		strings.Contains(msg, "not available in your country"),
		strings.Contains(msg, "sign in"),
		strings.Contains(msg, "members-only"),
		strings.Contains(msg, "has been removed"),
		strings.Contains(msg, "http error 404"),
		strings.Contains(msg, "http error 403"):
		return &ResolutionError{Kind: Unavailable, URL: rawurl, Err: detail}
	case strings.Contains(msg, "timed out"),
		strings.Contains(msg, "connection"),
		strings.Contains(msg, "temporary failure"),
		strings.Contains(msg, "http error 5"),
		strings.Contains(msg, "http error 429"):
		return &ResolutionError{Kind: NetworkFailure, URL: rawurl, Err: detail}
	}
	return &ResolutionError{Kind: BackendFailure, URL: rawurl, Err: detail}
}
