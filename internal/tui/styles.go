package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/vidfetch/vidfetch/internal/job"
)

var (
	// Colors
	ColorPrimary   = lipgloss.Color("#bd93f9") // Dracula Purple
	ColorSecondary = lipgloss.Color("#ff79c6") // Dracula Pink
	ColorSuccess   = lipgloss.Color("#50fa7b") // Dracula Green
	ColorError     = lipgloss.Color("#ff5555") // Dracula Red
	ColorWarning   = lipgloss.Color("#ffb86c") // Dracula Orange
	ColorInfo      = lipgloss.Color("#8be9fd") // Dracula Cyan
	ColorText      = lipgloss.Color("#f8f8f2") // Dracula Foreground
	ColorSubtext   = lipgloss.Color("#6272a4") // Dracula Comment
	ColorBorder    = lipgloss.Color("#44475a") // Dracula Selection

	AppStyle = lipgloss.NewStyle().
			Padding(DefaultPaddingY, 2).
			Foreground(ColorText)

	HeaderStyle = lipgloss.NewStyle().
			Foreground(ColorPrimary).
			Bold(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(ColorPrimary).
			BorderBottom(true)

	StatsStyle = lipgloss.NewStyle().
			Foreground(ColorSubtext)

	PanelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder).
			Padding(DefaultPaddingY, DefaultPaddingX)

	// Base Card Style
	CardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder).
			Padding(DefaultPaddingY, DefaultPaddingX)

	// Selected Card Style (highlighted border)
	SelectedCardStyle = CardStyle.
				BorderForeground(ColorSecondary)

	CardTitleStyle = lipgloss.NewStyle().
			Foreground(ColorPrimary).
			Bold(true)

	CardStatsStyle = lipgloss.NewStyle().
			Foreground(ColorSubtext).
			Italic(true)

	ErrorTextStyle = lipgloss.NewStyle().
			Foreground(ColorError)

	NoticeStyle = lipgloss.NewStyle().
			Foreground(ColorWarning)

	InputBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.DoubleBorder()).
			BorderForeground(ColorSecondary).
			Padding(1, 3)
)

// statusStyle colors a job status badge.
func statusStyle(s job.Status) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true)
	switch s {
	case job.StatusCompleted:
		return base.Foreground(ColorSuccess)
	case job.StatusFailed:
		return base.Foreground(ColorError)
	case job.StatusCancelled:
		return base.Foreground(ColorSubtext)
	case job.StatusQueued:
		return base.Foreground(ColorWarning)
	case job.StatusMuxing, job.StatusVerifying:
		return base.Foreground(ColorInfo)
	}
	return base.Foreground(ColorSecondary)
}
