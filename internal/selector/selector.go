// Package selector picks which stream variants to fetch for a requested
// container and quality. Select is pure and deterministic.
package selector

import (
	"fmt"
	"strings"

	"github.com/vidfetch/vidfetch/internal/media"
)

// Formats lists the containers a job may request.
var Formats = []string{"mp4", "webm", "mkv"}

// Options tune tie-breaking.
type Options struct {
	// AudioLanguage is preferred when ranking audio partners of a video-only variant.
	AudioLanguage string
}

// Selection is either one combined variant or a video-only + audio-only pair.
type Selection struct {
	Combined *media.StreamVariant `json:"combined,omitempty"`
	Video    *media.StreamVariant `json:"video,omitempty"`
	Audio    *media.StreamVariant `json:"audio,omitempty"`
}

// NeedsMux reports whether the selection is a pair that must be merged.
func (s Selection) NeedsMux() bool {
	return s.Combined == nil && s.Video != nil && s.Audio != nil
}

// Variants returns the selected variants in fetch order.
func (s Selection) Variants() []media.StreamVariant {
	if s.Combined != nil {
		return []media.StreamVariant{*s.Combined}
	}
	var out []media.StreamVariant
	if s.Video != nil {
		out = append(out, *s.Video)
	}
	if s.Audio != nil {
		out = append(out, *s.Audio)
	}
	return out
}

// Label describes the resulting quality, e.g. "1080p".
func (s Selection) Label() string {
	if s.Combined != nil {
		return s.Combined.Label()
	}
	if s.Video != nil {
		return s.Video.Label()
	}
	return ""
}

// NoMatchingVariantError means neither a combined variant nor a valid pair
// exists in the requested container.
type NoMatchingVariantError struct {
	Format  string
	Quality string
	Reason  string
}

func (e *NoMatchingVariantError) Error() string {
	return fmt.Sprintf("no %s variant for quality %q: %s", e.Format, e.Quality, e.Reason)
}

// ValidFormat reports whether format is a container Select understands.
func ValidFormat(format string) bool {
	format = strings.ToLower(strings.TrimSpace(format))
	for _, f := range Formats {
		if f == format {
			return true
		}
	}
	return false
}

// Select maps the resolver's variants to what a job should fetch.
//
// Variants are filtered to the requested container; mkv output accepts
// separate streams of any container since the muxer writes matroska, but a
// combined variant must already be mkv. Among matches the variant closest at
// or below the quality ceiling wins (closest above it when none is below),
// ties going to the higher bitrate and then to the earlier variant. A pair is
// chosen only when its video height fits q strictly better than every
// combined variant; bitrate never tips combined over to a pair.
func Select(variants []media.StreamVariant, format, quality string, opts Options) (Selection, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if !ValidFormat(format) {
		return Selection{}, &NoMatchingVariantError{Format: format, Quality: quality, Reason: "unsupported container"}
	}
	q, err := ParseQuality(quality)
	if err != nil {
		return Selection{}, err
	}

	var combined, videos, audios []int
	for i, v := range variants {
		switch v.Kind {
		case media.KindBoth:
			if v.Container == format {
				combined = append(combined, i)
			}
		case media.KindVideo:
			if acceptsSeparate(format, v.Container) {
				videos = append(videos, i)
			}
		case media.KindAudio:
			if acceptsSeparate(format, v.Container) {
				audios = append(audios, i)
			}
		}
	}

	bestCombined := pickVideo(variants, combined, q)
	bestVideo := -1
	bestAudio := -1
	if len(audios) > 0 {
		bestVideo = pickVideo(variants, videos, q)
		bestAudio = pickAudio(variants, audios, opts.AudioLanguage)
	}

	switch {
	case bestCombined >= 0 && (bestVideo < 0 || !fitsBetter(variants[bestVideo], variants[bestCombined], q)):
		return Selection{Combined: &variants[bestCombined]}, nil
	case bestVideo >= 0 && bestAudio >= 0:
		return Selection{Video: &variants[bestVideo], Audio: &variants[bestAudio]}, nil
	}

	reason := "no combined variant and no video+audio pair"
	if len(videos) > 0 && len(audios) == 0 {
		reason = "video-only variants found but no audio partner"
	}
	return Selection{}, &NoMatchingVariantError{Format: format, Quality: q.String(), Reason: reason}
}

func acceptsSeparate(format, container string) bool {
	return format == "mkv" || container == format
}

// pickVideo returns the index of the best candidate for q, or -1.
func pickVideo(variants []media.StreamVariant, candidates []int, q Quality) int {
	best := -1
	for _, i := range candidates {
		if best < 0 || better(variants[i], variants[best], q) {
			best = i
		}
	}
	return best
}

// better reports whether a is strictly preferable to b for q. Equal
// candidates are not better, so the earlier one is kept.
func better(a, b media.StreamVariant, q Quality) bool {
	if a.Height != b.Height {
		return fitsBetter(a, b, q)
	}
	return a.Bitrate > b.Bitrate
}

// fitsBetter compares heights only: closest at or below the ceiling, then
// closest above it.
func fitsBetter(a, b media.StreamVariant, q Quality) bool {
	if a.Height == b.Height {
		return false
	}
	if q.Worst {
		return a.Height < b.Height
	}
	aFits, bFits := a.Height <= q.Height, b.Height <= q.Height
	switch {
	case aFits && bFits:
		return a.Height > b.Height
	case aFits != bFits:
		return aFits
	default:
		return a.Height < b.Height
	}
}

// pickAudio ranks by language (preferred, unspecified, other), then bitrate.
func pickAudio(variants []media.StreamVariant, candidates []int, lang string) int {
	best := -1
	for _, i := range candidates {
		if best < 0 {
			best = i
			continue
		}
		a, b := variants[i], variants[best]
		la, lb := languageScore(a.Language, lang), languageScore(b.Language, lang)
		if la > lb || (la == lb && a.Bitrate > b.Bitrate) {
			best = i
		}
	}
	return best
}

func languageScore(have, want string) int {
	if have == "" {
		return 1
	}
	if want != "" && languageMatches(have, want) {
		return 2
	}
	return 0
}

func languageMatches(have, want string) bool {
	have, want = strings.ToLower(have), strings.ToLower(want)
	if have == want {
		return true
	}
	base, _, _ := strings.Cut(have, "-")
	return base == want
}
