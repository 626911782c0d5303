// Package messagelist is the message table with its fuzzy filter.
package messagelist

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/sahilm/fuzzy"

	"github.com/nhle/mail-triage/internal/api"
	"github.com/nhle/mail-triage/internal/keys"
	"github.com/nhle/mail-triage/internal/theme"
)

const (
	dateWidth   = 14
	senderWidth = 24
	labelWidth  = 14
)

// Model is the message list view component.
type Model struct {
	table     table.Model
	input     textinput.Model
	filtering bool
	query     string
	messages  []api.Message
	visible   []api.Message
	keys      *keys.KeyMap
	width     int
	height    int
}

// New creates an empty message list.
func New(k *keys.KeyMap, width, height int) Model {
	t := table.New(table.WithFocused(true))
	styles := table.DefaultStyles()
	styles.Header = styles.Header.Bold(true).Foreground(theme.ColorBlue)
	styles.Selected = styles.Selected.Foreground(theme.ColorWhite).Background(theme.ColorSubtle)
	t.SetStyles(styles)

	ti := textinput.New()
	ti.Placeholder = "filter by sender or subject..."
	ti.Prompt = "/ "

	m := Model{table: t, input: ti, keys: k}
	m.SetSize(width, height)
	return m
}

// SetMessages replaces the listed messages and reapplies the filter.
func (m *Model) SetMessages(messages []api.Message) {
	m.messages = messages
	m.apply()
}

// Messages returns every loaded message, ignoring the filter.
func (m Model) Messages() []api.Message {
	return m.messages
}

// Visible returns the messages shown after filtering.
func (m Model) Visible() []api.Message {
	return m.visible
}

// Filtering reports whether the filter input has focus.
func (m Model) Filtering() bool {
	return m.filtering
}

// Query returns the active filter.
func (m Model) Query() string {
	return m.query
}

// Update handles messages for the message list.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		var cmd tea.Cmd
		m.table, cmd = m.table.Update(msg)
		return m, cmd
	}

	if m.filtering {
		return m.handleFilterKeys(keyMsg)
	}

	switch {
	case key.Matches(keyMsg, m.keys.Filter):
		m.filtering = true
		m.input.SetValue(m.query)
		return m, m.input.Focus()
	case key.Matches(keyMsg, m.keys.Back):
		if m.query != "" {
			m.query = ""
			m.apply()
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(keyMsg)
	return m, cmd
}

// handleFilterKeys processes key input while the filter has focus. The
// list narrows on every keystroke.
func (m Model) handleFilterKeys(msg tea.KeyMsg) (Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEnter:
		m.filtering = false
		m.input.Blur()
		return m, nil
	case tea.KeyEsc:
		m.filtering = false
		m.input.Blur()
		m.input.Reset()
		m.query = ""
		m.apply()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	m.query = m.input.Value()
	m.apply()
	return m, cmd
}

func (m *Model) apply() {
	m.visible = Filter(m.messages, m.query)

	rows := make([]table.Row, len(m.visible))
	for i, msg := range m.visible {
		rows[i] = table.Row{
			relative(msg.Date),
			msg.Sender(),
			msg.Subject,
			label(msg.ClassificationLabel),
		}
	}
	m.table.SetRows(rows)
	if m.table.Cursor() >= len(rows) {
		m.table.SetCursor(max(len(rows)-1, 0))
	}
}

func relative(ts api.Timestamp) string {
	if ts.IsZero() {
		return ""
	}
	return humanize.Time(ts.Time)
}

func label(l string) string {
	if l == "" {
		return "-"
	}
	return l
}

// Filter returns the messages whose "sender subject" fuzzily matches
// query, best match first. An empty query keeps every message in order.
func Filter(messages []api.Message, query string) []api.Message {
	query = strings.TrimSpace(query)
	if query == "" {
		return messages
	}

	targets := make([]string, len(messages))
	for i, msg := range messages {
		targets[i] = strings.ToLower(msg.Sender() + " " + msg.Subject)
	}

	matches := fuzzy.Find(strings.ToLower(query), targets)
	out := make([]api.Message, len(matches))
	for i, match := range matches {
		out[i] = messages[match.Index]
	}
	return out
}

// View renders the list.
func (m Model) View() string {
	var parts []string
	if m.filtering || m.query != "" {
		parts = append(parts, lipgloss.NewStyle().Padding(0, 1).Render(m.input.View()))
	}

	if len(m.visible) == 0 {
		parts = append(parts, m.renderEmptyState())
	} else {
		parts = append(parts, m.table.View())
	}
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m Model) renderEmptyState() string {
	style := lipgloss.NewStyle().
		Width(m.width).
		Height(max(m.height-1, 1)).
		Align(lipgloss.Center, lipgloss.Center).
		Foreground(theme.ColorGray)

	if m.query != "" {
		return style.Render(fmt.Sprintf("No messages match %q.", m.query))
	}
	return style.Render("No messages.\n\nPress s to sync.")
}

// SetSize updates the list dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height

	subject := max(width-dateWidth-senderWidth-labelWidth-8, 10)
	m.table.SetColumns([]table.Column{
		{Title: "Date", Width: dateWidth},
		{Title: "From", Width: senderWidth},
		{Title: "Subject", Width: subject},
		{Title: "Label", Width: labelWidth},
	})
	m.table.SetWidth(width)
	m.table.SetHeight(max(height-1, 2))
	m.input.Width = width - 4
}
