package progress

import (
	"fmt"
	"time"

	"github.com/nhle/mail-triage/internal/event"
	"github.com/nhle/mail-triage/internal/model"
)

// DismissDelay is how long a successful session stays on screen.
const DismissDelay = 5 * time.Second

// Default phase messages used when an event carries none.
const (
	msgStarting         = "Starting..."
	msgWaiting          = "Waiting..."
	msgDownloading      = "Downloading..."
	msgAnalyzing        = "Analyzing..."
	msgDownloadComplete = "Download complete"
)

// Session is the progress of one sync run.
type Session struct {
	Download Phase
	Classify Phase
}

// NewSession returns the state of a sync that has just been requested.
func NewSession() Session {
	return Session{
		Download: Phase{Status: StatusActive, Message: msgStarting},
		Classify: Phase{Status: StatusPending, Message: msgWaiting},
	}
}

// Succeeded reports whether both phases completed.
func (s Session) Succeeded() bool {
	return s.Download.Status == StatusComplete && s.Classify.Status == StatusComplete
}

// Failed reports whether the download phase ended in error.
func (s Session) Failed() bool {
	return s.Download.Status == StatusError
}

// Terminal reports whether no further event can move the session.
func (s Session) Terminal() bool {
	return s.Succeeded() || s.Failed()
}

// Effect is a side effect requested by a transition. The set is closed:
// Notify, RefreshMessages and ScheduleDismiss.
type Effect interface {
	effect()
}

// Notify asks the owner to surface a notification.
type Notify struct {
	Level model.NotificationLevel
	Text  string
}

// RefreshMessages asks the owner to re-fetch the message list.
type RefreshMessages struct{}

// ScheduleDismiss asks the owner to clear the session after a delay.
type ScheduleDismiss struct {
	After time.Duration
}

func (Notify) effect()          {}
func (RefreshMessages) effect() {}
func (ScheduleDismiss) effect() {}

// Apply advances s by one event and returns the new session together with
// the side effects the owner must run. Apply never mutates its input and
// an unrecognized event returns s unchanged with no effects.
func Apply(s Session, ev event.Event) (Session, []Effect) {
	switch e := ev.(type) {
	case event.FoundMessages:
		s.Download = Phase{
			Status:  StatusActive,
			Total:   e.Total,
			Message: e.Message,
		}
		return s, nil

	case event.DownloadProgress:
		s.Download = Phase{
			Status:  StatusActive,
			Current: e.Current,
			Total:   e.Total,
			Message: or(e.Message, msgDownloading),
		}
		return s, nil

	case event.ClassifyingProgress:
		s.Download.Status = StatusComplete
		s.Download.Message = msgDownloadComplete
		s.Classify = Phase{
			Status:  StatusActive,
			Current: e.Current,
			Total:   e.Total,
			Message: or(e.Message, msgAnalyzing),
		}
		return s, nil

	case event.Complete:
		s.Download.Status = StatusComplete
		s.Download.Current = s.Download.Total
		s.Classify.Status = StatusComplete
		s.Classify.Current = e.ClassifiedCount
		s.Classify.Total = e.ClassifiedCount
		return s, []Effect{
			Notify{Level: model.LevelSuccess, Text: SuccessText(e.SyncResult.NewMessages, e.ClassifiedCount)},
			RefreshMessages{},
			ScheduleDismiss{After: DismissDelay},
		}

	case event.Failed:
		s.Download.Status = StatusError
		s.Download.Message = e.Error
		return s, []Effect{
			Notify{Level: model.LevelError, Text: "Sync failed: " + or(e.Error, "unknown error")},
		}

	default:
		return s, nil
	}
}

// Disconnect marks the download phase as failed after the stream was lost
// mid-run, keeping whatever progress was reached.
func Disconnect(s Session, err error) (Session, []Effect) {
	s.Download.Status = StatusError
	s.Download.Message = fmt.Sprintf("Connection lost: %v", err)
	return s, []Effect{
		Notify{Level: model.LevelError, Text: s.Download.Message},
	}
}

// SuccessText is the notification shown when a sync completes.
func SuccessText(newMessages, classified int) string {
	noun := "messages"
	if newMessages == 1 {
		noun = "message"
	}
	text := fmt.Sprintf("Synced %d new %s", newMessages, noun)
	if classified > 0 {
		text += fmt.Sprintf(", classified %d", classified)
	}
	return text
}

func or(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
