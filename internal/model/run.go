package model

import "time"

// RunStatus is the final outcome of a sync or classification run.
type RunStatus string

const (
	RunSuccess      RunStatus = "success"
	RunError        RunStatus = "error"
	RunDisconnected RunStatus = "disconnected"
	RunIncomplete   RunStatus = "incomplete"
)

// SyncRun is the local history record of one streamed sync.
type SyncRun struct {
	ID              string    `json:"id"`
	AccountID       int       `json:"account_id"`
	Folder          string    `json:"folder"`
	AutoClassify    bool      `json:"auto_classify"`
	Status          RunStatus `json:"status"`
	NewMessages     int       `json:"new_messages"`
	ClassifiedCount int       `json:"classified_count"`
	Error           string    `json:"error,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
}

// Duration returns how long the run took.
func (r SyncRun) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// ClassifyRun is the local history record of one bulk classification.
type ClassifyRun struct {
	ID         string    `json:"id"`
	AccountID  int       `json:"account_id"`
	Total      int       `json:"total"`
	Classified int       `json:"classified"`
	Failed     int       `json:"failed"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}
