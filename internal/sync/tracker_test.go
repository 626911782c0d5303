package sync

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	gosync "sync"
	"testing"
	"testing/iotest"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mail-triage/internal/api"
	"github.com/nhle/mail-triage/internal/model"
	"github.com/nhle/mail-triage/internal/progress"
)

type fakeStreamer struct {
	open func(req api.SyncRequest) (io.ReadCloser, error)
}

func (f fakeStreamer) StreamSync(_ context.Context, req api.SyncRequest) (io.ReadCloser, error) {
	return f.open(req)
}

func bodyOf(records ...string) fakeStreamer {
	return fakeStreamer{open: func(api.SyncRequest) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(strings.Join(records, ""))), nil
	}}
}

type fakeRecorder struct {
	mu            gosync.Mutex
	notifications []model.Notification
	runs          []model.SyncRun
}

func (r *fakeRecorder) CreateNotification(_ context.Context, n model.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = append(r.notifications, n)
	return nil
}

func (r *fakeRecorder) RecordSyncRun(_ context.Context, run model.SyncRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, run)
	return nil
}

func (r *fakeRecorder) Runs() []model.SyncRun {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.SyncRun(nil), r.runs...)
}

type msgLog struct {
	mu   gosync.Mutex
	msgs []tea.Msg
}

func (l *msgLog) add(m tea.Msg) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, m)
}

func (l *msgLog) notifications() []model.Notification {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []model.Notification
	for _, m := range l.msgs {
		if n, ok := m.(NotificationMsg); ok {
			out = append(out, n.Notification)
		}
	}
	return out
}

func (l *msgLog) count(match func(tea.Msg) bool) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, m := range l.msgs {
		if match(m) {
			n++
		}
	}
	return n
}

func newTracker(t *testing.T, s Streamer, cfg Config) (*Tracker, *fakeRecorder, *msgLog) {
	t.Helper()
	recorder := &fakeRecorder{}
	cfg.Recorder = recorder
	cfg.Logger = slog.New(slog.DiscardHandler)
	if cfg.DismissDelay == 0 {
		cfg.DismissDelay = time.Hour
	}
	tr := NewTracker(s, cfg)
	log := &msgLog{}
	tr.SetListener(log.add)
	return tr, recorder, log
}

func rec(json string) string {
	return "data: " + json + "\n\n"
}

func TestTracker_DownloadOnlySync(t *testing.T) {
	records := []string{rec(`{"status":"connecting","message":"Connecting..."}`), rec(`{"status":"found_messages","total":10}`)}
	for _, cur := range []string{"2", "4", "6", "8", "10"} {
		records = append(records, rec(`{"status":"download_progress","current":`+cur+`,"total":10}`))
	}
	records = append(records, rec(`{"status":"complete","sync_result":{"status":"success","new_messages":10},"classified_count":0}`))

	tr, recorder, log := newTracker(t, bodyOf(records...), Config{DismissDelay: 20 * time.Millisecond})

	s, err := tr.Run(context.Background(), api.SyncRequest{AccountID: 1, Folder: "INBOX"})
	require.NoError(t, err)

	assert.Equal(t, progress.Phase{Status: progress.StatusComplete, Current: 10, Total: 10, Message: "Downloading..."}, s.Download)
	assert.Equal(t, progress.Phase{Status: progress.StatusComplete, Message: "Waiting..."}, s.Classify)

	notes := log.notifications()
	require.Len(t, notes, 1)
	assert.Equal(t, "Synced 10 new messages", notes[0].Message)
	assert.Equal(t, model.LevelSuccess, notes[0].Level)
	assert.Equal(t, 1, log.count(func(m tea.Msg) bool { _, ok := m.(RefreshMsg); return ok }))

	runs := recorder.Runs()
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunSuccess, runs[0].Status)
	assert.Equal(t, 10, runs[0].NewMessages)
	assert.Equal(t, "INBOX", runs[0].Folder)

	assert.Eventually(t, func() bool {
		_, ok := tr.Session(1)
		return !ok
	}, time.Second, 5*time.Millisecond)
	assert.False(t, tr.Running(1))
}

func TestTracker_ServerErrorIsDurable(t *testing.T) {
	tr, recorder, log := newTracker(t, bodyOf(
		rec(`{"status":"found_messages","total":4}`),
		rec(`{"status":"downloading","current":1,"total":4}`),
		rec(`{"status":"error","error":"Failed to select folder Archive"}`),
		rec(`{"status":"complete","sync_result":{"status":"error","error":"Failed to select folder Archive"},"classified_count":0}`),
	), Config{DismissDelay: 10 * time.Millisecond})

	s, err := tr.Run(context.Background(), api.SyncRequest{AccountID: 3, Folder: "Archive"})
	require.ErrorIs(t, err, ErrSyncFailed)
	assert.True(t, s.Failed())
	assert.Equal(t, 1, s.Download.Current)

	time.Sleep(40 * time.Millisecond)
	got, ok := tr.Session(3)
	require.True(t, ok, "error sessions stay until dismissed")
	assert.Equal(t, "Failed to select folder Archive", got.Download.Message)

	notes := log.notifications()
	require.Len(t, notes, 1)
	assert.Equal(t, model.LevelError, notes[0].Level)
	require.Len(t, recorder.Runs(), 1)
	assert.Equal(t, model.RunError, recorder.Runs()[0].Status)

	tr.Dismiss(3)
	_, ok = tr.Session(3)
	assert.False(t, ok)
}

func TestTracker_MalformedRecordDoesNotEndStream(t *testing.T) {
	tr, _, _ := newTracker(t, bodyOf(
		rec(`{"status":"found_messages","total":2}`),
		rec(`{"status":"download_progress","current":1,`),
		": keepalive\n\n",
		rec(`{"status":"complete","sync_result":{"new_messages":2},"classified_count":2}`),
	), Config{})

	s, err := tr.Run(context.Background(), api.SyncRequest{AccountID: 1})
	require.NoError(t, err)
	assert.True(t, s.Succeeded())
	assert.Equal(t, 2, s.Classify.Total)
}

func TestTracker_TransportFailureDiscardsSession(t *testing.T) {
	boom := errors.New("connection refused")
	tr, recorder, log := newTracker(t, fakeStreamer{open: func(api.SyncRequest) (io.ReadCloser, error) {
		return nil, boom
	}}, Config{})

	_, err := tr.Run(context.Background(), api.SyncRequest{AccountID: 1})
	require.ErrorIs(t, err, boom)

	_, ok := tr.Session(1)
	assert.False(t, ok)
	notes := log.notifications()
	require.Len(t, notes, 1)
	assert.Equal(t, "Sync failed: could not reach the server", notes[0].Message)
	assert.Equal(t, model.RunDisconnected, recorder.Runs()[0].Status)
	assert.False(t, tr.Running(1))
}

func TestTracker_AuthFailureMentionsLogin(t *testing.T) {
	tr, _, log := newTracker(t, fakeStreamer{open: func(api.SyncRequest) (io.ReadCloser, error) {
		return nil, &api.AuthError{Message: "Could not validate credentials"}
	}}, Config{})

	_, err := tr.Run(context.Background(), api.SyncRequest{AccountID: 1})
	require.True(t, api.IsAuthError(err))
	assert.Contains(t, log.notifications()[0].Message, "mailtriage login")
}

func TestTracker_DroppedConnectionMidStream(t *testing.T) {
	boom := errors.New("unexpected EOF")
	open := func(api.SyncRequest) (io.ReadCloser, error) {
		return io.NopCloser(io.MultiReader(
			strings.NewReader(rec(`{"status":"found_messages","total":6}`)+rec(`{"status":"download_progress","current":4,"total":6}`)),
			iotest.ErrReader(boom),
		)), nil
	}

	t.Run("discard by default", func(t *testing.T) {
		tr, _, _ := newTracker(t, fakeStreamer{open: open}, Config{})

		_, err := tr.Run(context.Background(), api.SyncRequest{AccountID: 1})
		require.ErrorIs(t, err, boom)
		_, ok := tr.Session(1)
		assert.False(t, ok)
	})

	t.Run("keep progress when configured", func(t *testing.T) {
		tr, _, log := newTracker(t, fakeStreamer{open: open}, Config{KeepProgressOnDisconnect: true})

		s, err := tr.Run(context.Background(), api.SyncRequest{AccountID: 1})
		require.ErrorIs(t, err, boom)
		assert.True(t, s.Failed())

		got, ok := tr.Session(1)
		require.True(t, ok)
		assert.Equal(t, 4, got.Download.Current)
		assert.True(t, strings.HasPrefix(got.Download.Message, "Connection lost: "))
		assert.Len(t, log.notifications(), 1)
	})
}

func TestTracker_DropAfterTerminalStateKeepsOutcome(t *testing.T) {
	boom := errors.New("connection reset by peer")
	dropAfter := func(records ...string) fakeStreamer {
		return fakeStreamer{open: func(api.SyncRequest) (io.ReadCloser, error) {
			return io.NopCloser(io.MultiReader(
				strings.NewReader(strings.Join(records, "")),
				iotest.ErrReader(boom),
			)), nil
		}}
	}

	t.Run("after error", func(t *testing.T) {
		tr, recorder, log := newTracker(t, dropAfter(
			rec(`{"status":"found_messages","total":1}`),
			rec(`{"status":"error","error":"IMAP login failed"}`),
		), Config{})

		s, err := tr.Run(context.Background(), api.SyncRequest{AccountID: 1})
		require.ErrorIs(t, err, ErrSyncFailed)
		assert.NotErrorIs(t, err, boom)
		assert.True(t, s.Failed())

		got, ok := tr.Session(1)
		require.True(t, ok, "error session stays until dismissed")
		assert.Equal(t, "IMAP login failed", got.Download.Message)

		notes := log.notifications()
		require.Len(t, notes, 1)
		assert.Equal(t, "Sync failed: IMAP login failed", notes[0].Message)
		require.Len(t, recorder.Runs(), 1)
		assert.Equal(t, model.RunError, recorder.Runs()[0].Status)
	})

	t.Run("after complete", func(t *testing.T) {
		tr, recorder, log := newTracker(t, dropAfter(
			rec(`{"status":"found_messages","total":1}`),
			rec(`{"status":"complete","sync_result":{"status":"success","new_messages":1}}`),
		), Config{})

		s, err := tr.Run(context.Background(), api.SyncRequest{AccountID: 1})
		require.NoError(t, err)
		assert.True(t, s.Succeeded())

		_, ok := tr.Session(1)
		assert.True(t, ok, "dismissed by its timer, not by the drop")

		notes := log.notifications()
		require.Len(t, notes, 1)
		assert.Equal(t, "Synced 1 new message", notes[0].Message)
		require.Len(t, recorder.Runs(), 1)
		assert.Equal(t, model.RunSuccess, recorder.Runs()[0].Status)
		assert.Equal(t, 1, recorder.Runs()[0].NewMessages)
	})
}

func TestTracker_StreamWithoutFinalEvent(t *testing.T) {
	tr, recorder, _ := newTracker(t, bodyOf(
		rec(`{"status":"found_messages","total":3}`),
		`data: {"status":"download_progress","current":1`,
	), Config{})

	s, err := tr.Run(context.Background(), api.SyncRequest{AccountID: 1})
	require.ErrorIs(t, err, ErrStreamIncomplete)
	assert.Equal(t, progress.StatusActive, s.Download.Status)
	assert.Equal(t, model.RunIncomplete, recorder.Runs()[0].Status)

	_, ok := tr.Session(1)
	assert.True(t, ok)
}

func TestTracker_OneStreamPerAccountAndDismissWhileRunning(t *testing.T) {
	pr, pw := io.Pipe()
	tr, _, _ := newTracker(t, fakeStreamer{open: func(api.SyncRequest) (io.ReadCloser, error) {
		return pr, nil
	}}, Config{})

	done := make(chan error, 1)
	go func() {
		_, err := tr.Run(context.Background(), api.SyncRequest{AccountID: 7})
		done <- err
	}()

	require.Eventually(t, func() bool { return tr.Running(7) }, time.Second, time.Millisecond)

	_, err := tr.Run(context.Background(), api.SyncRequest{AccountID: 7})
	assert.ErrorIs(t, err, ErrSyncInProgress)

	_, err = io.WriteString(pw, rec(`{"status":"found_messages","total":2}`))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		s, ok := tr.Session(7)
		return ok && s.Download.Total == 2
	}, time.Second, time.Millisecond)

	tr.Dismiss(7)
	_, ok := tr.Session(7)
	assert.False(t, ok)
	assert.True(t, tr.Running(7), "dismissing does not abort the stream")

	_, err = io.WriteString(pw, rec(`{"status":"complete","sync_result":{"new_messages":2},"classified_count":0}`))
	require.NoError(t, err)
	require.NoError(t, pw.Close())

	require.NoError(t, <-done)
	_, ok = tr.Session(7)
	assert.False(t, ok, "late events of a dismissed session are ignored")
	assert.False(t, tr.Running(7))
}

func TestTracker_StaleDismissTimerKeepsNewSession(t *testing.T) {
	first := true
	pr, pw := io.Pipe()
	defer pw.Close()

	tr, _, _ := newTracker(t, fakeStreamer{open: func(api.SyncRequest) (io.ReadCloser, error) {
		if first {
			first = false
			return io.NopCloser(strings.NewReader(rec(`{"status":"complete","sync_result":{"new_messages":0},"classified_count":0}`))), nil
		}
		return pr, nil
	}}, Config{DismissDelay: 30 * time.Millisecond})

	_, err := tr.Run(context.Background(), api.SyncRequest{AccountID: 1})
	require.NoError(t, err)

	go tr.Run(context.Background(), api.SyncRequest{AccountID: 1})
	require.Eventually(t, func() bool { return tr.Running(1) }, time.Second, time.Millisecond)

	time.Sleep(80 * time.Millisecond)
	s, ok := tr.Session(1)
	require.True(t, ok)
	assert.Equal(t, progress.NewSession(), s)
}

func TestTracker_StartAndWaitForUpdate(t *testing.T) {
	tr := NewTracker(bodyOf(
		rec(`{"status":"complete","sync_result":{"new_messages":1},"classified_count":0}`),
	), Config{Logger: slog.New(slog.DiscardHandler), DismissDelay: time.Hour})

	msg := tr.Start(context.Background(), api.SyncRequest{AccountID: 2})()
	fin, ok := msg.(FinishedMsg)
	require.True(t, ok)
	assert.NoError(t, fin.Err)
	assert.True(t, fin.Session.Succeeded())

	first := tr.WaitForUpdate()()
	sm, ok := first.(SessionMsg)
	require.True(t, ok)
	assert.True(t, sm.Present)
	assert.Equal(t, progress.NewSession(), sm.Session)
}
