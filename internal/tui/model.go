// Package tui is the terminal dashboard. It renders the jobs of a
// core.DownloadService and drives it from the keyboard.
package tui

import (
	"context"
	"sort"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/vidfetch/vidfetch/internal/config"
	"github.com/vidfetch/vidfetch/internal/core"
	"github.com/vidfetch/vidfetch/internal/job"
)

type UIState int

const (
	DashboardState UIState = iota
	InputState
	DetailState
)

// Input field order in the add dialog.
const (
	inputURL = iota
	inputFormat
	inputQuality
	inputOutput
)

// JobModel is the dashboard's view of one job.
type JobModel struct {
	snap     job.Snapshot
	progress progress.Model
}

func newJobModel(snap job.Snapshot) *JobModel {
	return &JobModel{
		snap:     snap,
		progress: progress.New(progress.WithDefaultGradient()),
	}
}

type RootModel struct {
	service core.DownloadService
	events  <-chan any
	stop    func()

	jobs   []*JobModel
	cursor int
	width  int
	height int
	state  UIState

	inputs       []textinput.Model
	focusedInput int

	keys keyMap
	help help.Model

	// Aggregate download speed samples, newest last
	speedHistory []float64

	clipboardEnabled bool
	lastClipboard    string

	defaultFormat  string
	defaultQuality string

	notice string
	err    error
}

// InitialRootModel builds the dashboard for service and subscribes to its
// event stream. The subscription ends when ctx is done.
func InitialRootModel(ctx context.Context, service core.DownloadService, settings *config.Settings) (RootModel, error) {
	if settings == nil {
		settings = config.DefaultSettings()
	}

	ch, stop, err := service.StreamEvents(ctx)
	if err != nil {
		return RootModel{}, err
	}

	urlInput := textinput.New()
	urlInput.Placeholder = "https://www.youtube.com/watch?v=..."
	urlInput.Width = InputWidth
	urlInput.Prompt = ""

	formatInput := textinput.New()
	formatInput.Placeholder = settings.Media.DefaultFormat
	formatInput.Width = InputWidth
	formatInput.Prompt = ""

	qualityInput := textinput.New()
	qualityInput.Placeholder = settings.Media.DefaultQuality
	qualityInput.Width = InputWidth
	qualityInput.Prompt = ""

	outputInput := textinput.New()
	outputInput.Placeholder = settings.General.OutputDir
	outputInput.Width = InputWidth
	outputInput.Prompt = ""

	m := RootModel{
		service:          service,
		events:           ch,
		stop:             stop,
		inputs:           []textinput.Model{urlInput, formatInput, qualityInput, outputInput},
		state:            DashboardState,
		keys:             defaultKeyMap(),
		help:             help.New(),
		clipboardEnabled: settings.General.ClipboardMonitor,
		defaultFormat:    settings.Media.DefaultFormat,
		defaultQuality:   settings.Media.DefaultQuality,
	}

	// Pick up jobs that existed before the dashboard started
	if snaps, err := service.List(); err == nil {
		sort.Slice(snaps, func(i, j int) bool { return snaps[i].CreatedAt.Before(snaps[j].CreatedAt) })
		for _, s := range snaps {
			m.jobs = append(m.jobs, newJobModel(s))
		}
	}
	return m, nil
}

func (m RootModel) Init() tea.Cmd {
	cmds := []tea.Cmd{listenForActivity(m.events), tickCmd()}
	if m.clipboardEnabled {
		cmds = append(cmds, clipboardTickCmd())
	}
	return tea.Batch(cmds...)
}

// Close releases the event subscription.
func (m RootModel) Close() {
	if m.stop != nil {
		m.stop()
	}
}

// eventStreamClosedMsg is delivered once when the service stops publishing.
type eventStreamClosedMsg struct{}

func listenForActivity(sub <-chan any) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-sub
		if !ok {
			return eventStreamClosedMsg{}
		}
		return msg
	}
}

func (m *RootModel) findJob(id string) *JobModel {
	for _, j := range m.jobs {
		if j.snap.ID == id {
			return j
		}
	}
	return nil
}

func (m *RootModel) selected() *JobModel {
	if m.cursor < 0 || m.cursor >= len(m.jobs) {
		return nil
	}
	return m.jobs[m.cursor]
}

func (m *RootModel) removeJob(id string) {
	for i, j := range m.jobs {
		if j.snap.ID == id {
			m.jobs = append(m.jobs[:i], m.jobs[i+1:]...)
			break
		}
	}
	if m.cursor >= len(m.jobs) {
		m.cursor = max(0, len(m.jobs)-1)
	}
}

// currentSpeed sums the speed of all downloading jobs.
func (m *RootModel) currentSpeed() float64 {
	total := 0.0
	for _, j := range m.jobs {
		if j.snap.Status == job.StatusDownloading {
			total += j.snap.Speed
		}
	}
	return total
}

func (m *RootModel) counts() (active, queued, done int) {
	for _, j := range m.jobs {
		switch {
		case j.snap.Status == job.StatusQueued:
			queued++
		case j.snap.Status.Terminal():
			done++
		default:
			active++
		}
	}
	return
}
