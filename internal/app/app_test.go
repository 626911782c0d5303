package app

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mail-triage/internal/api"
	"github.com/nhle/mail-triage/internal/classify"
	"github.com/nhle/mail-triage/internal/model"
	"github.com/nhle/mail-triage/internal/progress"
	appsync "github.com/nhle/mail-triage/internal/sync"
)

type fakeSource struct {
	messages []api.Message
}

func (f *fakeSource) ListMessages(context.Context, api.MessageFilter) ([]api.Message, error) {
	return f.messages, nil
}

type fakeStreamer struct {
	body string
}

func (f *fakeStreamer) StreamSync(context.Context, api.SyncRequest) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(f.body)), nil
}

type fakeClassifier struct{}

func (fakeClassifier) ClassifyMessage(context.Context, string) (*api.ClassifyResponse, error) {
	return &api.ClassifyResponse{Classification: api.Classification{FinalLabel: "Interesantes"}}, nil
}

const completeStream = "data: {\"status\": \"found_messages\", \"total\": 2}\n\n" +
	"data: {\"status\": \"complete\", \"sync_result\": {\"status\": \"success\", \"new_messages\": 2}}\n\n"

func newTestModel(t *testing.T, msgs []api.Message) (Model, *appsync.Tracker) {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	tracker := appsync.NewTracker(&fakeStreamer{body: completeStream}, appsync.Config{
		DismissDelay: time.Hour,
		Logger:       logger,
	})
	scheduler := classify.NewScheduler(fakeClassifier{}, classify.Config{AccountID: 1, Logger: logger})

	m := New(context.Background(), &fakeSource{messages: msgs}, tracker, scheduler, nil, Options{
		AccountID: 1,
		Folder:    "INBOX",
		PageSize:  50,
	})
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	return updated.(Model), tracker
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	updated, cmd := m.Update(msg)
	return updated.(Model), cmd
}

func keyMsg(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestModel_LoadsMessages(t *testing.T) {
	m, _ := newTestModel(t, []api.Message{{ID: "a", Subject: "Hello"}})

	m, _ = update(t, m, m.loadMessages()())

	require.Len(t, m.list.Messages(), 1)
	assert.Contains(t, m.View(), "Hello")
}

func TestModel_ClassifyProgressInStatusBar(t *testing.T) {
	m, _ := newTestModel(t, nil)

	m, _ = update(t, m, classify.ProgressMsg{Progress: classify.Progress{Processed: 5, Total: 12}})

	assert.Equal(t, "Classifying 5/12", m.statusLine())
}

func TestModel_ClassifyAllKey(t *testing.T) {
	msgs := []api.Message{{ID: "a"}, {ID: "b", ClassificationLabel: "SPAM"}, {ID: "c"}}
	m, _ := newTestModel(t, msgs)
	m, _ = update(t, m, messagesLoadedMsg{messages: msgs})

	m, cmd := update(t, m, keyMsg("c"))
	require.NotNil(t, cmd)
	assert.Equal(t, "Classifying 0/2", m.statusLine())

	done, ok := cmd().(classify.DoneMsg)
	require.True(t, ok)
	assert.Equal(t, 2, done.Result.Classified)

	m, _ = update(t, m, done)
	assert.Nil(t, m.classifying)
	assert.Contains(t, m.statusLine(), "Classified 2 messages")
	assert.Equal(t, model.LevelSuccess, m.status.level)
}

func TestModel_NothingToClassify(t *testing.T) {
	m, _ := newTestModel(t, nil)

	m, _ = update(t, m, classify.DoneMsg{Result: classify.Result{NothingToDo: true}})

	assert.Equal(t, model.LevelInfo, m.status.level)
	assert.Contains(t, m.statusLine(), "Nothing to classify")
}

func TestModel_StatusExpires(t *testing.T) {
	m, _ := newTestModel(t, nil)

	m, _ = update(t, m, appsync.NotificationMsg{Notification: model.Notification{
		Level:   model.LevelSuccess,
		Message: "Synced 10 new messages",
	}})
	first := m.status.seq
	m, _ = update(t, m, appsync.NotificationMsg{Notification: model.Notification{
		Level:   model.LevelError,
		Message: "Sync failed: IMAP down",
	}})

	m, _ = update(t, m, clearStatusMsg{seq: first})
	assert.Contains(t, m.statusLine(), "Sync failed: IMAP down", "stale timer must not clear a newer status")

	m, _ = update(t, m, clearStatusMsg{seq: m.status.seq})
	assert.Empty(t, m.status.text)
}

func TestModel_SessionMsgTogglesPanel(t *testing.T) {
	m, _ := newTestModel(t, nil)
	s := progress.NewSession()

	m, _ = update(t, m, appsync.SessionMsg{AccountID: 2, Session: s, Present: true})
	assert.False(t, m.panel.Visible(), "other accounts are ignored")

	m, _ = update(t, m, appsync.SessionMsg{AccountID: 1, Session: s, Present: true})
	assert.True(t, m.panel.Visible())
	assert.Contains(t, m.View(), "Download")

	m, _ = update(t, m, appsync.SessionMsg{AccountID: 1})
	assert.False(t, m.panel.Visible())
}

func TestModel_SyncAndDismissKeys(t *testing.T) {
	m, tracker := newTestModel(t, nil)

	m, cmd := update(t, m, keyMsg("s"))
	require.NotNil(t, cmd)
	finished, ok := cmd().(appsync.FinishedMsg)
	require.True(t, ok)
	require.NoError(t, finished.Err)
	assert.True(t, finished.Session.Succeeded())

	_, present := tracker.Session(1)
	require.True(t, present)

	_, _ = update(t, m, keyMsg("x"))
	_, present = tracker.Session(1)
	assert.False(t, present)
}

func TestModel_FinishedWhileRunning(t *testing.T) {
	m, _ := newTestModel(t, nil)

	m, _ = update(t, m, appsync.FinishedMsg{AccountID: 1, Err: appsync.ErrSyncInProgress})

	assert.Equal(t, model.LevelWarning, m.status.level)
}

func TestModel_HelpToggle(t *testing.T) {
	m, _ := newTestModel(t, nil)

	m, _ = update(t, m, keyMsg("?"))
	assert.True(t, m.showHelp)
	assert.Contains(t, m.View(), "Keyboard Shortcuts")

	m, _ = update(t, m, keyMsg("s"))
	assert.True(t, m.showHelp, "keys other than ? and esc are ignored while help is open")

	m, _ = update(t, m, keyMsg("?"))
	assert.False(t, m.showHelp)
}

func TestModel_FilterCapturesKeys(t *testing.T) {
	msgs := []api.Message{
		{ID: "a", FromName: "Stripe", Subject: "Invoice"},
		{ID: "b", FromName: "Ana", Subject: "Lunch"},
	}
	m, _ := newTestModel(t, msgs)
	m, _ = update(t, m, messagesLoadedMsg{messages: msgs})

	m, _ = update(t, m, keyMsg("/"))
	require.True(t, m.list.Filtering())

	m, _ = update(t, m, keyMsg("s"))
	m, _ = update(t, m, keyMsg("t"))
	m, _ = update(t, m, keyMsg("r"))

	assert.Equal(t, "str", m.list.Query(), "s is typed into the filter instead of starting a sync")
	require.Len(t, m.list.Visible(), 1)
	assert.Equal(t, "a", m.list.Visible()[0].ID)
}
