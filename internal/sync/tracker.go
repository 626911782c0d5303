package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	gosync "sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/mail-triage/internal/api"
	"github.com/nhle/mail-triage/internal/event"
	"github.com/nhle/mail-triage/internal/model"
	"github.com/nhle/mail-triage/internal/progress"
	"github.com/nhle/mail-triage/internal/stream"
)

var (
	// ErrSyncInProgress is returned when a sync is requested for an
	// account whose previous stream has not ended yet.
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrSyncFailed wraps a server-reported sync error.
	ErrSyncFailed = errors.New("sync failed")

	// ErrStreamIncomplete is returned when the stream ended cleanly but
	// without a final event.
	ErrStreamIncomplete = errors.New("sync stream ended without a final event")
)

// Streamer opens the sync event stream.
type Streamer interface {
	StreamSync(ctx context.Context, req api.SyncRequest) (io.ReadCloser, error)
}

// Recorder persists notifications and finished runs.
type Recorder interface {
	CreateNotification(ctx context.Context, n model.Notification) error
	RecordSyncRun(ctx context.Context, run model.SyncRun) error
}

// Config controls Tracker behavior.
type Config struct {
	// DismissDelay overrides the auto-dismiss delay requested by the
	// progress engine when positive.
	DismissDelay time.Duration

	// KeepProgressOnDisconnect keeps a session with an errored download
	// phase when the stream is lost, instead of discarding it.
	KeepProgressOnDisconnect bool

	// Recorder is optional.
	Recorder Recorder

	Logger *slog.Logger
}

// SessionMsg is a tea.Msg sent whenever the session of an account changes.
// Present is false once the session was dismissed or discarded.
type SessionMsg struct {
	AccountID int
	Session   progress.Session
	Present   bool
}

// NotificationMsg is a tea.Msg carrying a notification to surface.
type NotificationMsg struct {
	Notification model.Notification
}

// RefreshMsg is a tea.Msg asking the UI to re-fetch the message list.
type RefreshMsg struct {
	AccountID int
}

// FinishedMsg is a tea.Msg sent when a sync stream has ended.
type FinishedMsg struct {
	AccountID int
	Session   progress.Session
	Err       error
}

// recordTimeout bounds a single history write.
const recordTimeout = 5 * time.Second

// tracked is the owned state of one account's session.
type tracked struct {
	session progress.Session
	gen     uint64
	timer   *time.Timer
}

// Tracker owns the sync session of every account. It opens the stream,
// feeds decoded events through progress.Apply, publishes state changes
// and runs the resulting side effects.
type Tracker struct {
	streamer Streamer
	cfg      Config
	logger   *slog.Logger

	mu       gosync.Mutex
	sessions map[int]*tracked
	inflight map[int]uint64
	nextGen  uint64
	listener func(tea.Msg)

	msgCh chan tea.Msg
}

// NewTracker creates a Tracker that opens streams through s.
func NewTracker(s Streamer, cfg Config) *Tracker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		streamer: s,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "sync")),
		sessions: make(map[int]*tracked),
		inflight: make(map[int]uint64),
		msgCh:    make(chan tea.Msg, 256),
	}
}

// SetListener registers fn to receive every published message
// synchronously, in order. Headless callers use it instead of
// WaitForUpdate.
func (t *Tracker) SetListener(fn func(tea.Msg)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listener = fn
}

// Session returns the current session of an account, if any.
func (t *Tracker) Session(accountID int) (progress.Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tr, ok := t.sessions[accountID]
	if !ok {
		return progress.Session{}, false
	}
	return tr.session, true
}

// Running reports whether a stream is open for an account.
func (t *Tracker) Running(accountID int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.inflight[accountID]
	return ok
}

// Start returns a tea.Cmd that runs a sync and resolves to a FinishedMsg.
// Intermediate state arrives through WaitForUpdate.
func (t *Tracker) Start(ctx context.Context, req api.SyncRequest) tea.Cmd {
	return func() tea.Msg {
		s, err := t.Run(ctx, req)
		return FinishedMsg{AccountID: req.AccountID, Session: s, Err: err}
	}
}

// WaitForUpdate returns a tea.Cmd that waits for the next published
// message. It should be re-issued after every message it delivers.
func (t *Tracker) WaitForUpdate() tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-t.msgCh
		if !ok {
			return nil
		}
		return msg
	}
}

// Dismiss discards the session of an account. A stream that is still
// open keeps draining in the background; its events are ignored.
func (t *Tracker) Dismiss(accountID int) {
	t.mu.Lock()
	tr, ok := t.sessions[accountID]
	if ok {
		stopTimer(tr)
		delete(t.sessions, accountID)
	}
	t.mu.Unlock()

	if ok {
		t.publish(SessionMsg{AccountID: accountID})
	}
}

// Run performs one sync synchronously and returns the last session state.
// A transport failure is returned as an error; a server-reported failure
// wraps ErrSyncFailed.
func (t *Tracker) Run(ctx context.Context, req api.SyncRequest) (progress.Session, error) {
	gen, err := t.begin(req.AccountID)
	if err != nil {
		return progress.Session{}, err
	}
	defer t.end(req.AccountID, gen)

	run := model.SyncRun{
		AccountID:    req.AccountID,
		Folder:       req.Folder,
		AutoClassify: req.AutoClassify,
		StartedAt:    time.Now(),
	}

	t.logger.Info("starting sync",
		slog.Int("account_id", req.AccountID),
		slog.String("folder", req.Folder),
		slog.Bool("auto_classify", req.AutoClassify),
	)

	local := progress.NewSession()

	body, err := t.streamer.StreamSync(ctx, req)
	if err != nil {
		return t.disconnect(req.AccountID, gen, run, local, err)
	}
	defer body.Close()

	reader := stream.NewReader(body)
	parser := event.NewParser(t.logger)

	var last event.Complete
	for rec, err := range reader.Records() {
		if err != nil {
			if local.Terminal() {
				t.logger.Debug("stream error after terminal state",
					slog.Int("account_id", req.AccountID),
					slog.String("error", err.Error()),
				)
				break
			}
			return t.disconnect(req.AccountID, gen, run, local, err)
		}

		ev, ok := parser.Parse(rec)
		if !ok {
			continue
		}
		if local.Terminal() {
			t.logger.Debug("ignoring event after terminal state",
				slog.Int("account_id", req.AccountID),
				slog.String("status", ev.Tag()),
			)
			continue
		}
		if c, ok := ev.(event.Complete); ok {
			last = c
		}
		local, _ = progress.Apply(local, ev)
		t.apply(req.AccountID, gen, ev)
	}

	if rest := reader.Discarded(); rest != "" {
		t.logger.Debug("discarding unterminated record", slog.Int("bytes", len(rest)))
	}

	run.FinishedAt = time.Now()
	run.NewMessages = last.SyncResult.NewMessages
	run.ClassifiedCount = last.ClassifiedCount

	switch {
	case local.Failed():
		run.Status = model.RunError
		run.Error = local.Download.Message
		t.record(run)
		return local, fmt.Errorf("%w: %s", ErrSyncFailed, local.Download.Message)
	case local.Succeeded():
		run.Status = model.RunSuccess
		t.record(run)
		return local, nil
	default:
		t.logger.Warn("sync stream ended without a final event",
			slog.Int("account_id", req.AccountID),
			slog.Int("dropped", parser.Dropped()),
		)
		run.Status = model.RunIncomplete
		t.record(run)
		return local, ErrStreamIncomplete
	}
}

// begin registers a new in-flight stream and a fresh session.
func (t *Tracker) begin(accountID int) (uint64, error) {
	t.mu.Lock()
	if _, busy := t.inflight[accountID]; busy {
		t.mu.Unlock()
		return 0, fmt.Errorf("account %d: %w", accountID, ErrSyncInProgress)
	}

	if old, ok := t.sessions[accountID]; ok {
		stopTimer(old)
	}

	t.nextGen++
	gen := t.nextGen
	s := progress.NewSession()
	t.sessions[accountID] = &tracked{session: s, gen: gen}
	t.inflight[accountID] = gen
	t.mu.Unlock()

	t.publish(SessionMsg{AccountID: accountID, Session: s, Present: true})
	return gen, nil
}

func (t *Tracker) end(accountID int, gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.inflight[accountID] == gen {
		delete(t.inflight, accountID)
	}
}

// apply runs one event through the transition function and publishes the
// result. Events for a dismissed or replaced session are ignored.
func (t *Tracker) apply(accountID int, gen uint64, ev event.Event) {
	t.mu.Lock()
	tr, ok := t.sessions[accountID]
	if !ok || tr.gen != gen {
		t.mu.Unlock()
		t.logger.Debug("ignoring event for stale session",
			slog.Int("account_id", accountID),
			slog.String("status", ev.Tag()),
		)
		return
	}

	s, effects := progress.Apply(tr.session, ev)
	tr.session = s
	t.mu.Unlock()

	t.publish(SessionMsg{AccountID: accountID, Session: s, Present: true})
	t.runEffects(accountID, gen, effects)
}

func (t *Tracker) runEffects(accountID int, gen uint64, effects []progress.Effect) {
	for _, eff := range effects {
		switch e := eff.(type) {
		case progress.Notify:
			t.notify(accountID, e.Level, e.Text)
		case progress.RefreshMessages:
			t.publish(RefreshMsg{AccountID: accountID})
		case progress.ScheduleDismiss:
			delay := e.After
			if t.cfg.DismissDelay > 0 {
				delay = t.cfg.DismissDelay
			}
			t.scheduleDismiss(accountID, gen, delay)
		}
	}
}

// scheduleDismiss arms the auto-dismiss timer of a session. The timer is
// owned by the session; a fire after the session was replaced is a no-op.
func (t *Tracker) scheduleDismiss(accountID int, gen uint64, after time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tr, ok := t.sessions[accountID]
	if !ok || tr.gen != gen {
		return
	}
	stopTimer(tr)
	tr.timer = time.AfterFunc(after, func() { t.expire(accountID, gen) })
}

func (t *Tracker) expire(accountID int, gen uint64) {
	t.mu.Lock()
	tr, ok := t.sessions[accountID]
	if !ok || tr.gen != gen {
		t.mu.Unlock()
		return
	}
	delete(t.sessions, accountID)
	t.mu.Unlock()

	t.logger.Debug("auto-dismissed sync session", slog.Int("account_id", accountID))
	t.publish(SessionMsg{AccountID: accountID})
}

// disconnect handles a transport failure: by default the session is
// discarded, or kept with an errored download phase when configured.
func (t *Tracker) disconnect(accountID int, gen uint64, run model.SyncRun, local progress.Session, cause error) (progress.Session, error) {
	t.logger.Error("sync connection failed",
		slog.Int("account_id", accountID),
		slog.String("error", cause.Error()),
	)

	run.Status = model.RunDisconnected
	run.Error = cause.Error()
	run.FinishedAt = time.Now()
	t.record(run)

	err := fmt.Errorf("sync connection for account %d: %w", accountID, cause)

	t.mu.Lock()
	tr, ok := t.sessions[accountID]
	if !ok || tr.gen != gen {
		t.mu.Unlock()
		return progress.Session{}, err
	}

	if t.cfg.KeepProgressOnDisconnect {
		s, effects := progress.Disconnect(local, cause)
		tr.session = s
		t.mu.Unlock()

		t.publish(SessionMsg{AccountID: accountID, Session: s, Present: true})
		t.runEffects(accountID, gen, effects)
		return s, err
	}

	stopTimer(tr)
	delete(t.sessions, accountID)
	t.mu.Unlock()

	t.publish(SessionMsg{AccountID: accountID})
	t.notify(accountID, model.LevelError, connectionFailureText(cause))
	return progress.Session{}, err
}

func connectionFailureText(err error) string {
	if api.IsAuthError(err) {
		return "Sync failed: authentication expired. Run 'mailtriage login'."
	}
	return "Sync failed: could not reach the server"
}

func (t *Tracker) notify(accountID int, level model.NotificationLevel, text string) {
	n := model.Notification{
		AccountID: accountID,
		Origin:    model.OriginSync,
		Level:     level,
		Message:   text,
		CreatedAt: time.Now(),
	}

	if t.cfg.Recorder != nil {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		if err := t.cfg.Recorder.CreateNotification(ctx, n); err != nil {
			t.logger.Warn("storing notification", slog.String("error", err.Error()))
		}
	}

	t.publish(NotificationMsg{Notification: n})
}

func (t *Tracker) record(run model.SyncRun) {
	if t.cfg.Recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := t.cfg.Recorder.RecordSyncRun(ctx, run); err != nil {
		t.logger.Warn("recording sync run", slog.String("error", err.Error()))
	}
}

// publish delivers msg to the listener and, without blocking, to the
// WaitForUpdate channel.
func (t *Tracker) publish(msg tea.Msg) {
	t.mu.Lock()
	fn := t.listener
	t.mu.Unlock()

	if fn != nil {
		fn(msg)
	}

	select {
	case t.msgCh <- msg:
	default:
		// Drop if channel is full; SessionMsg carries a full snapshot.
	}
}

func stopTimer(tr *tracked) {
	if tr.timer != nil {
		tr.timer.Stop()
		tr.timer = nil
	}
}
