// Package mux merges separately downloaded video and audio streams into one
// container with an external ffmpeg, copying streams without re-encoding.
package mux

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Muxer losslessly combines a video file and an audio file into outputPath.
type Muxer interface {
	Remux(ctx context.Context, videoPath, audioPath, outputPath, container string) error
}

// DurationProber reports the playable duration of a media file.
type DurationProber interface {
	Duration(ctx context.Context, path string) (time.Duration, error)
}

// MuxErrorKind classifies a mux failure.
type MuxErrorKind string

const (
	ToolNotFound    MuxErrorKind = "tool_not_found"
	ToolFailed      MuxErrorKind = "tool_failed"      // crash, signal, unexpected exit
	ContentRejected MuxErrorKind = "content_rejected" // the inputs could not be muxed
	NoOutput        MuxErrorKind = "no_output"
	Cancelled       MuxErrorKind = "cancelled"
)

// MuxError is returned by Muxer implementations.
type MuxError struct {
	Kind   MuxErrorKind
	Tool   string
	Stderr string // last lines of tool output, if any
	Err    error
}

func (e *MuxError) Error() string {
	switch e.Kind {
	case ToolNotFound:
		return fmt.Sprintf("%s not found on this system, install it or set its path in settings", e.Tool)
	case Cancelled:
		return "mux cancelled"
	}
	if e.Stderr != "" {
		return fmt.Sprintf("mux failed (%s): %v: %s", e.Kind, e.Err, e.Stderr)
	}
	return fmt.Sprintf("mux failed (%s): %v", e.Kind, e.Err)
}

func (e *MuxError) Unwrap() error {
	return e.Err
}

// ToolFault reports whether the failure lies with the tool rather than the
// inputs. Inputs of a tool fault are worth keeping for a retry by hand.
func (e *MuxError) ToolFault() bool {
	return e.Kind == ToolNotFound || e.Kind == ToolFailed
}

// IsToolNotFound reports whether err says the muxing tool is missing.
func IsToolNotFound(err error) bool {
	var me *MuxError
	return errors.As(err, &me) && me.Kind == ToolNotFound
}
