package selector

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// ErrInvalidQuality is wrapped by ParseQuality failures.
var ErrInvalidQuality = errors.New("invalid quality")

// Quality is a parsed quality request: a height ceiling, or "worst".
type Quality struct {
	Height int // ceiling in pixels; math.MaxInt for "best"
	Worst  bool
}

// Best reports whether the request has no ceiling.
func (q Quality) Best() bool {
	return !q.Worst && q.Height == math.MaxInt
}

func (q Quality) String() string {
	switch {
	case q.Worst:
		return "worst"
	case q.Best():
		return "best"
	}
	return fmt.Sprintf("%dp", q.Height)
}

var qualityPattern = regexp.MustCompile(`^(\d{3,4})p?(\d{2})?$`)

// ParseQuality accepts "best" (or empty), "worst", "1080p", "1080", "720p60",
// "2k", "4k" and "8k".
func ParseQuality(s string) (Quality, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "", "best", "highest", "max":
		return Quality{Height: math.MaxInt}, nil
	case "worst", "lowest", "min":
		return Quality{Worst: true}, nil
	case "2k":
		return Quality{Height: 1440}, nil
	case "4k", "uhd":
		return Quality{Height: 2160}, nil
	case "8k":
		return Quality{Height: 4320}, nil
	}

	m := qualityPattern.FindStringSubmatch(s)
	if m == nil {
		return Quality{}, fmt.Errorf("%w: %q", ErrInvalidQuality, s)
	}
	h, err := strconv.Atoi(m[1])
	if err != nil || h <= 0 {
		return Quality{}, fmt.Errorf("%w: %q", ErrInvalidQuality, s)
	}
	return Quality{Height: h}, nil
}
