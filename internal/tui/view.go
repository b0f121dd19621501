package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/vidfetch/vidfetch/internal/job"
)

func (m RootModel) View() string {
	if m.state == InputState {
		return m.viewInput()
	}

	var sections []string
	sections = append(sections, m.viewHeader())

	if m.state == DetailState {
		if j := m.selected(); j != nil {
			sections = append(sections, m.viewDetail(j))
		}
	} else {
		sections = append(sections, m.viewJobs())
	}

	if m.err != nil {
		sections = append(sections, ErrorTextStyle.Render("Error: "+m.err.Error()))
	} else if m.notice != "" {
		sections = append(sections, NoticeStyle.Render(m.notice))
	}
	sections = append(sections, m.help.View(m.keys))

	return AppStyle.Render(lipgloss.JoinVertical(lipgloss.Left, sections...))
}

func (m RootModel) viewHeader() string {
	active, queued, done := m.counts()
	title := HeaderStyle.Render("VidFetch")
	stats := StatsStyle.Render(fmt.Sprintf("  %d active · %d queued · %d finished · %s/s",
		active, queued, done, humanize.Bytes(uint64(m.currentSpeed()))))

	graphWidth := m.width - 8
	if graphWidth < 20 {
		graphWidth = 60
	}
	graph := PanelStyle.Render(renderSpeedGraph(m.speedHistory, graphWidth, GraphHeight))
	return lipgloss.JoinVertical(lipgloss.Left, title+stats, graph)
}

func (m RootModel) viewJobs() string {
	if len(m.jobs) == 0 {
		return PanelStyle.Render(StatsStyle.Render("No jobs yet. Press 'a' to add a URL."))
	}

	var cards []string
	for i, j := range m.jobs {
		style := CardStyle
		if i == m.cursor {
			style = SelectedCardStyle
		}
		cards = append(cards, style.Render(m.viewCard(j)))
	}
	return lipgloss.JoinVertical(lipgloss.Left, cards...)
}

func (m RootModel) viewCard(j *JobModel) string {
	s := j.snap
	name := s.Title
	if name == "" {
		name = s.URL
	}

	head := CardTitleStyle.Render(truncate(name, max(20, m.width-30))) + "  " +
		statusStyle(s.Status).Render(string(s.Status))

	var line string
	switch {
	case s.Status == job.StatusFailed:
		line = ErrorTextStyle.Render(s.Error)
	case s.Status == job.StatusCompleted:
		line = CardStatsStyle.Render(fmt.Sprintf("%s · %s", humanize.Bytes(uint64(s.Total)), s.OutputPath))
	case s.Status.Terminal():
		line = CardStatsStyle.Render("cancelled")
	case s.Status == job.StatusDownloading && s.Progress < 0:
		line = CardStatsStyle.Render(fmt.Sprintf("%s of unknown size · %s/s",
			humanize.Bytes(uint64(s.Downloaded)), humanize.Bytes(uint64(s.Speed))))
	case s.Status == job.StatusDownloading:
		line = j.progress.View() + "\n" + CardStatsStyle.Render(fmt.Sprintf("%s / %s · %s/s",
			humanize.Bytes(uint64(s.Downloaded)), humanize.Bytes(uint64(s.Total)), humanize.Bytes(uint64(s.Speed))))
	default:
		line = CardStatsStyle.Render(fmt.Sprintf("%s · %s", s.Format, s.Quality))
	}
	return head + "\n" + line
}

func (m RootModel) viewDetail(j *JobModel) string {
	s := j.snap
	rows := []string{
		CardTitleStyle.Render(valueOr(s.Title, s.URL)),
		field("ID", s.ID),
		field("URL", s.URL),
		field("Status", statusStyle(s.Status).Render(string(s.Status))),
		field("Request", s.Format+" · "+s.Quality),
	}
	if s.Duration > 0 {
		rows = append(rows, field("Duration", s.Duration.Round(time.Second).String()))
	}
	for _, v := range s.Selected {
		rows = append(rows, field("Variant", fmt.Sprintf("%s %s %s", v.Kind, v.ID, v.Container)))
	}
	for _, st := range s.Streams {
		size := "?"
		if st.Total > 0 {
			size = humanize.Bytes(uint64(st.Total))
		}
		rows = append(rows, field("Stream "+string(st.Kind),
			fmt.Sprintf("%s / %s, %d retries", humanize.Bytes(uint64(st.Downloaded)), size, st.Retries)))
	}
	if s.OutputPath != "" {
		rows = append(rows, field("Output", s.OutputPath))
	}
	if s.Error != "" {
		rows = append(rows, field("Error", ErrorTextStyle.Render(s.ErrorKind+": "+s.Error)))
	}
	rows = append(rows, field("Created", humanize.Time(s.CreatedAt)))
	if !s.FinishedAt.IsZero() {
		rows = append(rows, field("Finished", humanize.Time(s.FinishedAt)))
	}
	return PanelStyle.Render(strings.Join(rows, "\n"))
}

func (m RootModel) viewInput() string {
	labels := []string{"URL", "Format", "Quality", "Output dir"}
	var rows []string
	rows = append(rows, CardTitleStyle.Render("Add download"), "")
	for i, in := range m.inputs {
		label := StatsStyle.Render(fmt.Sprintf("%-11s", labels[i]))
		if i == m.focusedInput {
			label = CardTitleStyle.Render(fmt.Sprintf("%-11s", labels[i]))
		}
		rows = append(rows, label+in.View())
	}
	rows = append(rows, "", StatsStyle.Render("tab: next field · enter: submit · esc: cancel"))
	return AppStyle.Render(InputBoxStyle.Render(strings.Join(rows, "\n")))
}

func field(label, value string) string {
	return StatsStyle.Render(fmt.Sprintf("%-10s", label)) + " " + value
}

func valueOr(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
