package job

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vidfetch/vidfetch/internal/engine/types"
	"github.com/vidfetch/vidfetch/internal/media"
	"github.com/vidfetch/vidfetch/internal/mux"
	"github.com/vidfetch/vidfetch/internal/selector"
)

var (
	ErrJobNotFound   = errors.New("job not found")
	ErrJobFinished   = errors.New("job already finished")
	ErrJobActive     = errors.New("job is still active")
	ErrQueueShutdown = errors.New("queue is shut down")
)

// VerificationError means the output file is missing, empty, of the wrong
// container or of the wrong duration.
type VerificationError struct {
	Path     string
	Reason   string
	Expected time.Duration
	Actual   time.Duration
}

func (e *VerificationError) Error() string {
	if e.Expected > 0 && e.Actual > 0 {
		return fmt.Sprintf("verification failed for %s: %s (expected %v, got %v)", e.Path, e.Reason, e.Expected, e.Actual)
	}
	return fmt.Sprintf("verification failed for %s: %s", e.Path, e.Reason)
}

// Error kinds reported on snapshots and events.
const (
	KindResolution   = "resolution"
	KindSelection    = "selection"
	KindDownload     = "download"
	KindMux          = "mux"
	KindMuxTool      = "mux_tool"
	KindVerification = "verification"
	KindCancelled    = "cancelled"
	KindInternal     = "internal"
)

// ErrorKind maps a pipeline error to its machine readable kind.
func ErrorKind(err error) string {
	var (
		re *media.ResolutionError
		nm *selector.NoMatchingVariantError
		de *types.DownloadError
		me *mux.MuxError
		ve *VerificationError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.As(err, &re):
		return KindResolution
	case errors.As(err, &nm), errors.Is(err, selector.ErrInvalidQuality):
		return KindSelection
	case errors.As(err, &de):
		return KindDownload
	case errors.As(err, &me):
		if me.ToolFault() {
			return KindMuxTool
		}
		return KindMux
	case errors.As(err, &ve):
		return KindVerification
	}
	return KindInternal
}
