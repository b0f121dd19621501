package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/vidfetch/vidfetch/internal/engine/events"
	"github.com/vidfetch/vidfetch/internal/job"
	"github.com/vidfetch/vidfetch/internal/media"
	"github.com/vidfetch/vidfetch/internal/utils"
)

type tickMsg time.Time

// snapshotMsg carries a freshly fetched job snapshot.
type snapshotMsg struct {
	snap *job.Snapshot
	err  error
}

// addedMsg is the answer to a submission from the add dialog.
type addedMsg struct {
	ids []string
	err error
}

// actionMsg is the answer to cancel or dismiss.
type actionMsg struct {
	verb string
	id   string
	err  error
}

func tickCmd() tea.Cmd {
	return tea.Tick(TickInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m RootModel) fetchStatus(id string) tea.Cmd {
	svc := m.service
	return func() tea.Msg {
		snap, err := svc.GetStatus(id)
		return snapshotMsg{snap: snap, err: err}
	}
}

func (m RootModel) submit(req job.Request) tea.Cmd {
	svc := m.service
	return func() tea.Msg {
		kind, err := media.ClassifyURL(req.URL)
		if err != nil {
			return addedMsg{err: err}
		}
		if kind == media.URLCollection {
			ids, err := svc.AddCollection(req)
			return addedMsg{ids: ids, err: err}
		}
		id, err := svc.Add(req)
		if err != nil {
			return addedMsg{err: err}
		}
		return addedMsg{ids: []string{id}}
	}
}

func (m RootModel) act(verb, id string, fn func(string) error) tea.Cmd {
	return func() tea.Msg {
		return actionMsg{verb: verb, id: id, err: fn(id)}
	}
}

// Update handles messages and updates the model
func (m RootModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	if events.Name(msg) != "" {
		cmds = append(cmds, listenForActivity(m.events))
	}

	switch msg := msg.(type) {
	case events.JobQueuedMsg:
		if m.findJob(msg.JobID) == nil {
			m.jobs = append(m.jobs, newJobModel(job.Snapshot{
				ID:        msg.JobID,
				URL:       msg.URL,
				Format:    msg.Format,
				Quality:   msg.Quality,
				Status:    job.StatusQueued,
				Progress:  -1,
				CreatedAt: time.Now(),
			}))
			m.resizeProgress()
		}

	case events.JobStateMsg:
		if j := m.findJob(msg.JobID); j != nil {
			j.snap.Status = job.Status(msg.Status)
			if msg.Title != "" {
				j.snap.Title = msg.Title
			}
		} else {
			cmds = append(cmds, m.fetchStatus(msg.JobID))
		}

	case events.ProgressMsg:
		if j := m.findJob(msg.JobID); j != nil && !j.snap.Status.Terminal() {
			j.snap.Downloaded = msg.Downloaded
			j.snap.Total = msg.Total
			j.snap.Speed = msg.Speed
			j.snap.Progress = msg.Fraction
			if msg.Fraction >= 0 {
				cmds = append(cmds, j.progress.SetPercent(msg.Fraction))
			}
		}

	case events.JobCompleteMsg:
		cmds = append(cmds, m.fetchStatus(msg.JobID))
	case events.JobErrorMsg:
		cmds = append(cmds, m.fetchStatus(msg.JobID))
	case events.JobCancelledMsg:
		cmds = append(cmds, m.fetchStatus(msg.JobID))

	case events.JobRemovedMsg:
		m.removeJob(msg.JobID)

	case eventStreamClosedMsg:
		m.notice = "event stream closed"

	case snapshotMsg:
		if msg.err != nil {
			utils.Debug("tui: refresh failed: %v", msg.err)
			break
		}
		j := m.findJob(msg.snap.ID)
		if j == nil {
			j = newJobModel(*msg.snap)
			m.jobs = append(m.jobs, j)
			m.resizeProgress()
		}
		j.snap = *msg.snap
		if j.snap.Status == job.StatusCompleted {
			cmds = append(cmds, j.progress.SetPercent(1))
		} else if j.snap.Progress >= 0 {
			cmds = append(cmds, j.progress.SetPercent(j.snap.Progress))
		}

	case addedMsg:
		if msg.err != nil {
			m.err = msg.err
			break
		}
		m.err = nil
		if len(msg.ids) == 1 {
			m.notice = "queued " + msg.ids[0]
		} else {
			m.notice = fmt.Sprintf("queued %d jobs", len(msg.ids))
		}
		for _, id := range msg.ids {
			cmds = append(cmds, m.fetchStatus(id))
		}

	case actionMsg:
		if msg.err != nil {
			m.err = fmt.Errorf("%s %s: %w", msg.verb, msg.id, msg.err)
			break
		}
		m.err = nil
		if msg.verb == "dismiss" {
			m.removeJob(msg.id)
		}

	case progress.FrameMsg:
		for _, j := range m.jobs {
			updated, cmd := j.progress.Update(msg)
			if p, ok := updated.(progress.Model); ok {
				j.progress = p
			}
			if cmd != nil {
				cmds = append(cmds, cmd)
			}
		}

	case tickMsg:
		m.speedHistory = append(m.speedHistory, m.currentSpeed())
		if len(m.speedHistory) > SpeedHistoryLen {
			m.speedHistory = m.speedHistory[len(m.speedHistory)-SpeedHistoryLen:]
		}
		cmds = append(cmds, tickCmd())

	case clipboardMsg:
		if u, ok := clipboardURL(msg.text); ok && u != m.lastClipboard {
			m.lastClipboard = u
			if m.state == DashboardState {
				m.openInput(u)
				m.notice = "URL from clipboard"
			}
		}
		cmds = append(cmds, clipboardTickCmd())

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.resizeProgress()

	case tea.KeyMsg:
		return m.handleKey(msg, cmds)
	}

	return m, tea.Batch(cmds...)
}

func (m RootModel) handleKey(msg tea.KeyMsg, cmds []tea.Cmd) (tea.Model, tea.Cmd) {
	if m.state == InputState {
		switch msg.Type {
		case tea.KeyEsc:
			m.closeInput()
			return m, tea.Batch(cmds...)
		case tea.KeyTab, tea.KeyDown:
			m.focusInput((m.focusedInput + 1) % len(m.inputs))
			return m, tea.Batch(cmds...)
		case tea.KeyShiftTab, tea.KeyUp:
			m.focusInput((m.focusedInput + len(m.inputs) - 1) % len(m.inputs))
			return m, tea.Batch(cmds...)
		case tea.KeyEnter:
			if m.focusedInput < len(m.inputs)-1 {
				m.focusInput(m.focusedInput + 1)
				return m, tea.Batch(cmds...)
			}
			req := m.requestFromInputs()
			m.closeInput()
			if req.URL == "" {
				return m, tea.Batch(cmds...)
			}
			cmds = append(cmds, m.submit(req))
			return m, tea.Batch(cmds...)
		}

		var cmd tea.Cmd
		m.inputs[m.focusedInput], cmd = m.inputs[m.focusedInput].Update(msg)
		cmds = append(cmds, cmd)
		return m, tea.Batch(cmds...)
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Back):
		m.state = DashboardState
	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(msg, m.keys.Down):
		if m.cursor < len(m.jobs)-1 {
			m.cursor++
		}
	case key.Matches(msg, m.keys.Add):
		m.openInput("")
	case key.Matches(msg, m.keys.Details):
		if m.selected() != nil {
			if m.state == DetailState {
				m.state = DashboardState
			} else {
				m.state = DetailState
			}
		}
	case key.Matches(msg, m.keys.Cancel):
		if j := m.selected(); j != nil && !j.snap.Status.Terminal() {
			cmds = append(cmds, m.act("cancel", j.snap.ID, m.service.Cancel))
		}
	case key.Matches(msg, m.keys.Dismiss):
		if j := m.selected(); j != nil && j.snap.Status.Terminal() {
			cmds = append(cmds, m.act("dismiss", j.snap.ID, m.service.Dismiss))
		}
	}
	return m, tea.Batch(cmds...)
}

func (m *RootModel) openInput(url string) {
	m.state = InputState
	for i := range m.inputs {
		m.inputs[i].SetValue("")
	}
	m.inputs[inputURL].SetValue(url)
	m.focusInput(inputURL)
}

func (m *RootModel) closeInput() {
	m.state = DashboardState
	for i := range m.inputs {
		m.inputs[i].Blur()
	}
}

func (m *RootModel) focusInput(i int) {
	for idx := range m.inputs {
		m.inputs[idx].Blur()
	}
	m.focusedInput = i
	m.inputs[i].Focus()
}

// requestFromInputs falls back to the configured defaults for blank fields.
func (m *RootModel) requestFromInputs() job.Request {
	value := func(in textinput.Model, fallback string) string {
		if v := strings.TrimSpace(in.Value()); v != "" {
			return v
		}
		return fallback
	}
	return job.Request{
		URL:       strings.TrimSpace(m.inputs[inputURL].Value()),
		Format:    value(m.inputs[inputFormat], m.defaultFormat),
		Quality:   value(m.inputs[inputQuality], m.defaultQuality),
		OutputDir: strings.TrimSpace(m.inputs[inputOutput].Value()),
	}
}

func (m *RootModel) resizeProgress() {
	width := m.width - ProgressBarWidthOffset*2
	if width < 10 {
		width = 40
	}
	for _, j := range m.jobs {
		j.progress.Width = width
	}
}
