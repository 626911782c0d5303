// Package syncpanel renders the two-phase progress of a running sync.
package syncpanel

import (
	"fmt"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"

	syncprogress "github.com/nhle/mail-triage/internal/progress"
	"github.com/nhle/mail-triage/internal/theme"
)

// Height is the number of rows the panel occupies when shown, borders
// included.
const Height = 7

const labelWidth = 10

// Model is the sync panel. It holds no state besides the last session it
// was given; the tracker owns the session.
type Model struct {
	session  syncprogress.Session
	present  bool
	download progress.Model
	classify progress.Model
	width    int
}

// New creates an empty panel.
func New(width int) Model {
	m := Model{
		download: newBar(),
		classify: newBar(),
	}
	m.SetWidth(width)
	return m
}

func newBar() progress.Model {
	bar := progress.New(progress.WithDefaultGradient())
	bar.ShowPercentage = true
	return bar
}

// SetSession replaces the displayed session. present is false once the
// session was dismissed.
func (m *Model) SetSession(s syncprogress.Session, present bool) {
	m.session = s
	m.present = present
}

// Visible reports whether a session is on display.
func (m Model) Visible() bool {
	return m.present
}

// Session returns the displayed session.
func (m Model) Session() syncprogress.Session {
	return m.session
}

// SetWidth updates the panel width.
func (m *Model) SetWidth(width int) {
	m.width = width
	barWidth := max(width-labelWidth-24, 10)
	m.download.Width = barWidth
	m.classify.Width = barWidth
}

// View renders the panel, or "" when no session is shown.
func (m Model) View() string {
	if !m.present {
		return ""
	}

	title := theme.TitleStyle.Render("Sync")
	if m.session.Terminal() {
		title += theme.HelpStyle.Render("  (x to dismiss)")
	}

	body := lipgloss.JoinVertical(lipgloss.Left,
		title,
		m.row("Download", m.session.Download, m.download),
		theme.HelpStyle.Render(m.session.Download.Message),
		m.row("Classify", m.session.Classify, m.classify),
		theme.HelpStyle.Render(m.session.Classify.Message),
	)

	return theme.PanelStyle.Width(max(m.width-2, 0)).Render(body)
}

func (m Model) row(label string, p syncprogress.Phase, bar progress.Model) string {
	name := lipgloss.NewStyle().Width(labelWidth).Render(label)
	status := theme.PhaseStyle(string(p.Status)).Width(9).Render(string(p.Status))
	return lipgloss.JoinHorizontal(lipgloss.Top, name, status, bar.ViewAs(p.Ratio()), " ", Count(p))
}

// Count renders "current/total", or "" while the total is unknown.
func Count(p syncprogress.Phase) string {
	current, total := p.Display()
	if total == 0 {
		return ""
	}
	return fmt.Sprintf("%d/%d", current, total)
}
