package job

import (
	"context"
	"os"
	"slices"
	"time"

	"github.com/h2non/filetype"

	"github.com/vidfetch/vidfetch/internal/mux"
	"github.com/vidfetch/vidfetch/internal/utils"
)

// signatures each output container may legitimately sniff as
var containerSignatures = map[string][]string{
	"mp4":  {"mp4", "m4v", "m4a", "mov", "3gp"},
	"webm": {"webm", "mkv"},
	"mkv":  {"mkv", "webm"},
}

// Verifier checks a finished output file.
type Verifier struct {
	Prober    mux.DurationProber // nil skips the duration check
	Tolerance time.Duration
}

// Verify confirms path exists, is non-empty and looks like container. When
// expected is known and the prober is available it also checks the duration
// lies within the tolerance of expected.
func (v *Verifier) Verify(ctx context.Context, path, container string, expected time.Duration) error {
	info, err := os.Stat(path)
	if err != nil {
		return &VerificationError{Path: path, Reason: "output missing"}
	}
	if info.IsDir() || info.Size() == 0 {
		return &VerificationError{Path: path, Reason: "output empty"}
	}

	kind, err := filetype.MatchFile(path)
	if err == nil && kind != filetype.Unknown {
		if allowed, ok := containerSignatures[container]; ok && !slices.Contains(allowed, kind.Extension) {
			return &VerificationError{Path: path, Reason: "output is " + kind.Extension + ", not " + container}
		}
	}

	if v == nil || v.Prober == nil || expected <= 0 {
		return nil
	}
	actual, err := v.Prober.Duration(ctx, path)
	if err != nil {
		if mux.IsToolNotFound(err) {
			utils.Debug("verify %s: duration check skipped: %v", path, err)
			return nil
		}
		return &VerificationError{Path: path, Reason: "duration unreadable: " + err.Error(), Expected: expected}
	}
	if diff := actual - expected; diff > v.Tolerance || -diff > v.Tolerance {
		return &VerificationError{Path: path, Reason: "duration mismatch", Expected: expected, Actual: actual}
	}
	return nil
}
