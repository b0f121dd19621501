package tui

import (
	"strings"
	"time"

	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/vidfetch/vidfetch/internal/media"
)

// readClipboard is swapped out in tests.
var readClipboard = clipboard.ReadAll

type clipboardMsg struct {
	text string
}

func clipboardTickCmd() tea.Cmd {
	return tea.Tick(ClipboardInterval, func(time.Time) tea.Msg {
		text, err := readClipboard()
		if err != nil {
			return clipboardMsg{}
		}
		return clipboardMsg{text: strings.TrimSpace(text)}
	})
}

// clipboardURL returns text if it is a URL the resolver would accept.
func clipboardURL(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if text == "" || strings.ContainsAny(text, " \n\t") {
		return "", false
	}
	if _, err := media.ClassifyURL(text); err != nil {
		return "", false
	}
	return text, true
}
