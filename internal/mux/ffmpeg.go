package mux

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/vidfetch/vidfetch/internal/engine/types"
	"github.com/vidfetch/vidfetch/internal/utils"
)

// Default tool names, resolved through PATH.
const (
	FFmpegCommand  = "ffmpeg"
	FFprobeCommand = "ffprobe"
)

// ffmpeg -f names per output container
var muxFormats = map[string]string{
	"mp4":  "mp4",
	"webm": "webm",
	"mkv":  "matroska",
}

// stderr fragments that blame the inputs rather than ffmpeg itself
var contentMarkers = []string{
	"invalid data found when processing input",
	"could not find codec parameters",
	"moov atom not found",
	"not supported in",
	"could not write header",
	"codec not currently supported",
	"incorrect codec parameters",
	"stream map",
	"matches no streams",
}

// FFmpeg remuxes with an ffmpeg executable.
type FFmpeg struct {
	Binary string // path or name, defaults to "ffmpeg"
}

func (f *FFmpeg) binary() string {
	if f == nil || f.Binary == "" {
		return FFmpegCommand
	}
	return f.Binary
}

// Args builds the stream-copy command line writing container to outputPath.
func Args(videoPath, audioPath, outputPath, container string) []string {
	args := []string{
		"-hide_banner",
		"-nostdin",
		"-loglevel", "error",
		"-y",
		"-i", videoPath,
		"-i", audioPath,
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-c", "copy",
	}
	if container == "mp4" {
		args = append(args, "-movflags", "+faststart")
	}
	if f, ok := muxFormats[container]; ok {
		args = append(args, "-f", f)
	}
	return append(args, outputPath)
}

// Remux implements Muxer. The output is written under a temporary name and
// renamed into place, so a failure never leaves a file at outputPath. The
// inputs are removed only on success.
func (f *FFmpeg) Remux(ctx context.Context, videoPath, audioPath, outputPath, container string) error {
	tool := f.binary()
	path, err := exec.LookPath(tool)
	if err != nil {
		return &MuxError{Kind: ToolNotFound, Tool: tool, Err: err}
	}
	if _, ok := muxFormats[container]; !ok {
		return &MuxError{Kind: ContentRejected, Tool: tool, Err: fmt.Errorf("unsupported container %q", container)}
	}
	for _, in := range []string{videoPath, audioPath} {
		if info, err := os.Stat(in); err != nil || info.Size() == 0 {
			return &MuxError{Kind: ContentRejected, Tool: tool, Err: fmt.Errorf("input %s missing or empty", in)}
		}
	}

	workingPath := outputPath + types.IncompleteSuffix
	success := false
	defer func() {
		if !success {
			removeQuietly(workingPath)
		}
	}()

	cmd := exec.CommandContext(ctx, path, Args(videoPath, audioPath, workingPath, container)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	utils.Debug("mux: %s %s + %s -> %s", tool, videoPath, audioPath, outputPath)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return &MuxError{Kind: Cancelled, Tool: tool, Err: ctx.Err()}
		}
		return classifyFailure(tool, tail(stderr.String(), 5), err)
	}

	info, err := os.Stat(workingPath)
	if err != nil || info.Size() == 0 {
		return &MuxError{Kind: NoOutput, Tool: tool, Stderr: tail(stderr.String(), 5), Err: errors.New("ffmpeg exited cleanly but produced no output")}
	}
	if err := os.Rename(workingPath, outputPath); err != nil {
		return &MuxError{Kind: NoOutput, Tool: tool, Err: fmt.Errorf("failed to finalize output: %w", err)}
	}
	success = true
	utils.Debug("mux: done in %v", time.Since(start))

	removeQuietly(videoPath)
	removeQuietly(audioPath)
	return nil
}

func classifyFailure(tool, stderr string, err error) *MuxError {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		// could not even start
		return &MuxError{Kind: ToolFailed, Tool: tool, Stderr: stderr, Err: err}
	}
	lower := strings.ToLower(stderr)
	for _, marker := range contentMarkers {
		if strings.Contains(lower, marker) {
			return &MuxError{Kind: ContentRejected, Tool: tool, Stderr: stderr, Err: err}
		}
	}
	return &MuxError{Kind: ToolFailed, Tool: tool, Stderr: stderr, Err: err}
}

func tail(s string, lines int) string {
	parts := strings.Split(strings.TrimSpace(s), "\n")
	if len(parts) > lines {
		parts = parts[len(parts)-lines:]
	}
	return strings.Join(parts, "\n")
}

func removeQuietly(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		utils.Debug("mux: failed to remove %s: %v", path, err)
	}
}

// FFprobe reads durations with an ffprobe executable.
type FFprobe struct {
	Binary string // defaults to "ffprobe"
}

// Duration implements DurationProber.
func (p *FFprobe) Duration(ctx context.Context, path string) (time.Duration, error) {
	tool := FFprobeCommand
	if p != nil && p.Binary != "" {
		tool = p.Binary
	}
	bin, err := exec.LookPath(tool)
	if err != nil {
		return 0, &MuxError{Kind: ToolNotFound, Tool: tool, Err: err}
	}

	cmd := exec.CommandContext(ctx, bin,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("failed to run ffprobe: %w", err)
	}
	return parseDuration(string(output))
}

func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "N/A" {
		return 0, errors.New("duration not reported")
	}
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration: %w", err)
	}
	return time.Duration(secs * float64(time.Second)), nil
}
