package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/gosimple/slug"

	"github.com/vidfetch/vidfetch/internal/engine/types"
)

var counterSuffix = regexp.MustCompile(`^(.*)\((\d+)\)$`)

// EnsureAbsPath returns an absolute version of path, or path itself if that fails.
func EnsureAbsPath(path string) string {
	if path == "" {
		return path
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}

// OutputFilename builds "<title>_<quality>.<container>" with a filesystem-safe title.
func OutputFilename(title, quality, container string) string {
	name := slug.Make(title)
	if name == "" {
		name = "video"
	}
	if q := slug.Make(quality); q != "" {
		name += "_" + q
	}
	return name + "." + strings.TrimPrefix(container, ".")
}

// UniqueFilePath returns path, or "name(N).ext" with the smallest free N when
// path or its in-progress counterpart already exists.
func UniqueFilePath(path string) string {
	return UniqueFilePathExcluding(path, nil)
}

// UniqueFilePathExcluding is UniqueFilePath that also treats every path for
// which reserved returns true as taken.
func UniqueFilePathExcluding(path string, reserved func(string) bool) string {
	taken := func(p string) bool {
		return onDisk(p) || (reserved != nil && reserved(p))
	}
	if !taken(path) {
		return path
	}

	dir := filepath.Dir(path)
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(filepath.Base(path), ext)

	start := 1
	if m := counterSuffix.FindStringSubmatch(base); m != nil {
		base = m[1]
		if n, err := strconv.Atoi(m[2]); err == nil {
			start = n + 1
		}
	}

	for i := start; i < start+10000; i++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s(%d)%s", base, i, ext))
		if !taken(candidate) {
			return candidate
		}
	}
	return path
}

func onDisk(path string) bool {
	if _, err := os.Stat(path); err == nil {
		return true
	}
	if _, err := os.Stat(path + types.IncompleteSuffix); err == nil {
		return true
	}
	return false
}
