// Package media resolves a source URL into items and the stream variants
// each item is available in.
package media

import (
	"fmt"
	"strings"
	"time"
)

// MediaKind says which elementary streams a variant carries.
type MediaKind string

const (
	KindVideo MediaKind = "video"
	KindAudio MediaKind = "audio"
	KindBoth  MediaKind = "both"
)

// Valid reports whether k is one of the three known kinds.
func (k MediaKind) Valid() bool {
	return k == KindVideo || k == KindAudio || k == KindBoth
}

// StreamVariant is one encoded rendition of an item as advertised by the source.
// Variants are produced once per job and never mutated.
type StreamVariant struct {
	ID        string            `json:"id"`
	URL       string            `json:"url"`
	Container string            `json:"container"` // mp4, webm, ...
	Kind      MediaKind         `json:"kind"`
	Codec     string            `json:"codec,omitempty"`
	Height    int               `json:"height,omitempty"` // video resolution, 0 for audio-only
	FPS       int               `json:"fps,omitempty"`
	Bitrate   int               `json:"bitrate,omitempty"`    // bits per second
	SizeBytes int64             `json:"size_bytes,omitempty"` // 0 when the source omits it
	Language  string            `json:"language,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
}

// HasVideo reports whether the variant carries a video stream.
func (v StreamVariant) HasVideo() bool {
	return v.Kind == KindVideo || v.Kind == KindBoth
}

// HasAudio reports whether the variant carries an audio stream.
func (v StreamVariant) HasAudio() bool {
	return v.Kind == KindAudio || v.Kind == KindBoth
}

// Label is a short human readable quality description.
func (v StreamVariant) Label() string {
	switch {
	case v.Height > 0 && v.FPS > 30:
		return fmt.Sprintf("%dp%d", v.Height, v.FPS)
	case v.Height > 0:
		return fmt.Sprintf("%dp", v.Height)
	case v.Bitrate > 0:
		return fmt.Sprintf("%dk", v.Bitrate/1000)
	}
	return v.ID
}

// Item is one resolvable piece of media: a single video, or one entry of a collection.
type Item struct {
	ID        string          `json:"id"`
	SourceURL string          `json:"source_url"`
	Title     string          `json:"title"`
	Duration  time.Duration   `json:"duration"`
	Thumbnail string          `json:"thumbnail,omitempty"`
	Variants  []StreamVariant `json:"variants"`
}

// containerFromExt maps a file extension to the container family used for selection.
func containerFromExt(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	switch ext {
	case "m4a", "m4v", "mov":
		return "mp4"
	case "weba", "opus":
		return "webm"
	case "mka":
		return "mkv"
	}
	return ext
}
