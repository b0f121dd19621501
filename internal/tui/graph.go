package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var graphBlocks = []string{" ", "▁", "▂", "▃", "▄", "▅", "▆", "▇", "█"}

// renderSpeedGraph draws the most recent samples as a bar graph of the given
// size, newest on the right, scaled to the largest visible sample.
func renderSpeedGraph(samples []float64, width, height int) string {
	if width < 1 || height < 1 {
		return ""
	}
	if len(samples) > width {
		samples = samples[len(samples)-width:]
	}

	peak := 0.0
	for _, v := range samples {
		peak = max(peak, v)
	}

	gridStyle := lipgloss.NewStyle().Foreground(ColorBorder)
	barStyle := lipgloss.NewStyle().Foreground(ColorSuccess)
	offset := width - len(samples)

	rows := make([]string, height)
	for row := 0; row < height; row++ {
		var b strings.Builder
		// eighths of a cell below this row
		floor := float64((height - 1 - row) * 8)
		for x := 0; x < width; x++ {
			if x < offset || peak <= 0 {
				b.WriteString(gridStyle.Render("·"))
				continue
			}
			filled := samples[x-offset] / peak * float64(height*8)
			level := int(filled - floor)
			switch {
			case level <= 0:
				b.WriteString(gridStyle.Render("·"))
			case level >= 8:
				b.WriteString(barStyle.Render(graphBlocks[8]))
			default:
				b.WriteString(barStyle.Render(graphBlocks[level]))
			}
		}
		rows[row] = b.String()
	}
	return strings.Join(rows, "\n")
}
