package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/mail-triage/internal/api"
	"github.com/nhle/mail-triage/internal/classify"
	"github.com/nhle/mail-triage/internal/keys"
	"github.com/nhle/mail-triage/internal/model"
	"github.com/nhle/mail-triage/internal/store"
	appsync "github.com/nhle/mail-triage/internal/sync"
	"github.com/nhle/mail-triage/internal/theme"
	"github.com/nhle/mail-triage/internal/ui"
	helpview "github.com/nhle/mail-triage/internal/ui/help"
	"github.com/nhle/mail-triage/internal/ui/messagelist"
	"github.com/nhle/mail-triage/internal/ui/syncpanel"
)

// StatusTTL is how long a notification stays in the status bar.
const StatusTTL = 6 * time.Second

// MessageSource lists messages from the backend.
type MessageSource interface {
	ListMessages(ctx context.Context, f api.MessageFilter) ([]api.Message, error)
}

// Options selects what the UI shows.
type Options struct {
	AccountID int
	Folder    string
	PageSize  int
}

// messagesLoadedMsg carries a fetched message page to the UI.
type messagesLoadedMsg struct {
	messages []api.Message
	err      error
}

// unreadCountMsg carries the number of unread notifications to the UI.
type unreadCountMsg struct {
	count int
}

// clearStatusMsg expires the status line set under seq.
type clearStatusMsg struct {
	seq int
}

// status is the notification shown in the status bar.
type status struct {
	level model.NotificationLevel
	text  string
	seq   int
}

// Model is the root Bubble Tea model. It owns no sync or classification
// state; it renders what the tracker and scheduler publish.
type Model struct {
	ctx       context.Context
	opts      Options
	source    MessageSource
	tracker   *appsync.Tracker
	scheduler *classify.Scheduler
	store     store.Store

	layout   ui.Layout
	keys     *keys.KeyMap
	list     messagelist.Model
	panel    syncpanel.Model
	helpView helpview.Model
	showHelp bool

	status      status
	classifying *classify.Progress
	unreadCount int
	ready       bool
}

// New creates the root model. st may be nil.
func New(
	ctx context.Context,
	src MessageSource,
	tracker *appsync.Tracker,
	scheduler *classify.Scheduler,
	st store.Store,
	opts Options,
) Model {
	k := keys.DefaultKeyMap()
	return Model{
		ctx:       ctx,
		opts:      opts,
		source:    src,
		tracker:   tracker,
		scheduler: scheduler,
		store:     st,
		keys:      k,
		list:      messagelist.New(k, 80, 24),
		panel:     syncpanel.New(80),
		helpView:  helpview.New(k, 80, 24),
	}
}

// Init loads the first page and starts listening for tracker and
// scheduler updates.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.loadMessages(),
		m.fetchUnreadCount(),
		m.tracker.WaitForUpdate(),
		m.scheduler.WaitForUpdate(),
	)
}

// Update handles messages and dispatches keys.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.layout = ui.NewLayout(msg.Width, msg.Height)
		m.ready = true
		m.resize()
		return m, nil

	case messagesLoadedMsg:
		if msg.err != nil {
			return m, m.setStatus(model.LevelError, "Loading messages: "+msg.err.Error())
		}
		m.list.SetMessages(msg.messages)
		return m, nil

	case unreadCountMsg:
		m.unreadCount = msg.count
		return m, nil

	case clearStatusMsg:
		if msg.seq != m.status.seq {
			return m, nil
		}
		m.status.text = ""
		return m, m.markAllRead()

	case appsync.SessionMsg:
		if msg.AccountID == m.opts.AccountID {
			m.panel.SetSession(msg.Session, msg.Present)
			m.resize()
		}
		return m, m.tracker.WaitForUpdate()

	case appsync.NotificationMsg:
		n := msg.Notification
		return m, tea.Batch(
			m.setStatus(n.Level, n.Message),
			m.fetchUnreadCount(),
			m.tracker.WaitForUpdate(),
		)

	case appsync.RefreshMsg:
		return m, tea.Batch(m.loadMessages(), m.tracker.WaitForUpdate())

	case appsync.FinishedMsg:
		if errors.Is(msg.Err, appsync.ErrSyncInProgress) {
			return m, m.setStatus(model.LevelWarning, "A sync is already running")
		}
		return m, nil

	case classify.ProgressMsg:
		p := msg.Progress
		m.classifying = &p
		return m, tea.Batch(m.loadMessages(), m.scheduler.WaitForUpdate())

	case classify.DoneMsg:
		m.classifying = nil
		level := model.LevelSuccess
		text := classify.SummaryText(msg.Result)
		switch {
		case errors.Is(msg.Err, classify.ErrAlreadyRunning):
			return m, m.setStatus(model.LevelWarning, "Classification already running")
		case msg.Err != nil:
			level, text = model.LevelWarning, text+" (stopped)"
		case msg.Result.NothingToDo:
			level = model.LevelInfo
		case msg.Result.Failed > 0:
			level = model.LevelWarning
		}
		return m, tea.Batch(m.setStatus(level, text), m.loadMessages(), m.fetchUnreadCount())

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		return m, tea.Quit
	}

	// The filter input takes every key while focused.
	if m.list.Filtering() {
		var cmd tea.Cmd
		m.list, cmd = m.list.Update(msg)
		return m, cmd
	}

	if m.showHelp {
		if key.Matches(msg, m.keys.Help) || key.Matches(msg, m.keys.Back) {
			m.showHelp = false
		}
		if key.Matches(msg, m.keys.Quit) {
			return m, tea.Quit
		}
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Help):
		m.showHelp = true
		return m, nil
	case key.Matches(msg, m.keys.Sync):
		return m, m.startSync(false)
	case key.Matches(msg, m.keys.SyncAutoClassify):
		return m, m.startSync(true)
	case key.Matches(msg, m.keys.Dismiss):
		m.tracker.Dismiss(m.opts.AccountID)
		return m, nil
	case key.Matches(msg, m.keys.ClassifyAll):
		return m, m.startClassify()
	case key.Matches(msg, m.keys.Refresh):
		return m, m.loadMessages()
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m *Model) startSync(autoClassify bool) tea.Cmd {
	if m.tracker.Running(m.opts.AccountID) {
		return m.setStatus(model.LevelWarning, "A sync is already running")
	}
	return m.tracker.Start(m.ctx, api.SyncRequest{
		AccountID:    m.opts.AccountID,
		Folder:       m.opts.Folder,
		AutoClassify: autoClassify,
	})
}

func (m *Model) startClassify() tea.Cmd {
	if m.scheduler.Running() {
		return m.setStatus(model.LevelWarning, "Classification already running")
	}
	targets := classify.Candidates(m.list.Messages())
	if len(targets) > 0 {
		m.classifying = &classify.Progress{Total: len(targets)}
	}
	return m.scheduler.Start(m.ctx, targets)
}

// setStatus shows text in the status bar and schedules its removal.
func (m *Model) setStatus(level model.NotificationLevel, text string) tea.Cmd {
	seq := m.status.seq + 1
	m.status = status{level: level, text: text, seq: seq}
	return tea.Tick(StatusTTL, func(time.Time) tea.Msg {
		return clearStatusMsg{seq: seq}
	})
}

func (m *Model) resize() {
	reserved := 0
	if m.panel.Visible() {
		reserved = syncpanel.Height
	}
	m.list.SetSize(m.layout.Width, m.layout.ContentHeight(reserved))
	m.panel.SetWidth(m.layout.Width)
	m.helpView.SetSize(m.layout.Width, m.layout.ContentHeight(0))
}

// View renders the full terminal UI using the layout manager.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	title := "Mail Triage"
	if m.unreadCount > 0 {
		title = fmt.Sprintf("Mail Triage [%d new]", m.unreadCount)
	}
	header := m.layout.RenderHeader(title, m.headerStatus())
	statusBar := m.layout.RenderStatusBar(m.statusLine())

	if m.showHelp {
		return m.layout.RenderWithFrame(header, statusBar, m.helpView.View())
	}
	return m.layout.RenderWithFrame(header, statusBar, m.panel.View(), m.list.View())
}

func (m Model) headerStatus() string {
	folder := m.opts.Folder
	if folder == "" {
		folder = "INBOX"
	}
	state := "idle"
	if m.tracker.Running(m.opts.AccountID) {
		state = "syncing"
	}
	return fmt.Sprintf("account %d · %s · %s", m.opts.AccountID, folder, state)
}

// statusLine returns, in order of precedence, classification progress,
// the latest notification, or key hints.
func (m Model) statusLine() string {
	if m.classifying != nil {
		return "Classifying " + m.classifying.String()
	}
	if m.status.text != "" {
		return theme.LevelStyle(string(m.status.level)).Render(m.status.text)
	}
	return m.helpView.ShortView()
}

// loadMessages returns a tea.Cmd that fetches the first page of the
// configured folder.
func (m Model) loadMessages() tea.Cmd {
	src, ctx := m.source, m.ctx
	filter := api.MessageFilter{
		AccountID: m.opts.AccountID,
		Folder:    m.opts.Folder,
		Limit:     m.opts.PageSize,
	}
	return func() tea.Msg {
		messages, err := src.ListMessages(ctx, filter)
		return messagesLoadedMsg{messages: messages, err: err}
	}
}

// fetchUnreadCount returns a tea.Cmd that queries the store for the
// number of unread notifications.
func (m Model) fetchUnreadCount() tea.Cmd {
	s := m.store
	if s == nil {
		return nil
	}
	return func() tea.Msg {
		notifications, err := s.GetUnreadNotifications(context.Background())
		if err != nil {
			return unreadCountMsg{count: 0}
		}
		return unreadCountMsg{count: len(notifications)}
	}
}

// markAllRead clears the unread counter once a notification has been on
// screen for its full time.
func (m Model) markAllRead() tea.Cmd {
	s := m.store
	if s == nil {
		return nil
	}
	return func() tea.Msg {
		if err := s.MarkAllNotificationsRead(context.Background()); err != nil {
			return nil
		}
		return unreadCountMsg{count: 0}
	}
}
