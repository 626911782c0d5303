package messagelist

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mail-triage/internal/api"
	"github.com/nhle/mail-triage/internal/keys"
)

func sample() []api.Message {
	return []api.Message{
		{ID: "1", FromName: "GitHub", Subject: "New pull request"},
		{ID: "2", FromEmail: "ana@acme.es", Subject: "Lunch on Friday"},
		{ID: "3", FromName: "Stripe", Subject: "Your invoice", ClassificationLabel: "Servicios"},
	}
}

func TestFilter(t *testing.T) {
	msgs := sample()

	assert.Equal(t, msgs, Filter(msgs, "  "))

	got := Filter(msgs, "INVOICE")
	require.Len(t, got, 1)
	assert.Equal(t, "3", got[0].ID)

	got = Filter(msgs, "ana")
	require.NotEmpty(t, got)
	assert.Equal(t, "2", got[0].ID, "sender address is searched")

	assert.Empty(t, Filter(msgs, "zzz"))
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestModel_FilterFlow(t *testing.T) {
	m := New(keys.DefaultKeyMap(), 100, 20)
	m.SetMessages(sample())
	require.Len(t, m.Visible(), 3)

	m, _ = m.Update(runes("/"))
	require.True(t, m.Filtering())

	for _, r := range "pull" {
		m, _ = m.Update(runes(string(r)))
	}
	require.Len(t, m.Visible(), 1)
	assert.Equal(t, "1", m.Visible()[0].ID)

	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.False(t, m.Filtering())
	assert.Equal(t, "pull", m.Query(), "enter keeps the filter")

	m.SetMessages(append(sample(), api.Message{ID: "4", Subject: "pull me too"}))
	assert.Len(t, m.Visible(), 2, "refreshes reapply the filter")

	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	assert.Empty(t, m.Query())
	assert.Len(t, m.Visible(), 4)
}

func TestModel_EmptyState(t *testing.T) {
	m := New(keys.DefaultKeyMap(), 80, 10)
	assert.Contains(t, m.View(), "Press s to sync")

	m.SetMessages(sample())
	m, _ = m.Update(runes("/"))
	m, _ = m.Update(runes("z"))
	assert.Contains(t, m.View(), "No messages match")
}
