package tui

import "time"

const (
	// Timeouts and Intervals
	TickInterval      = 500 * time.Millisecond
	ClipboardInterval = 1 * time.Second

	InputWidth = 60

	// Layout Offsets and Padding
	ProgressBarWidthOffset = 8
	DefaultPaddingX        = 1
	DefaultPaddingY        = 0

	// Number of speed samples kept for the graph
	SpeedHistoryLen = 120
	GraphHeight     = 4
)
