package model

import "time"

// NotificationLevel is the severity of a user-facing notification.
type NotificationLevel string

const (
	LevelInfo    NotificationLevel = "info"
	LevelSuccess NotificationLevel = "success"
	LevelWarning NotificationLevel = "warning"
	LevelError   NotificationLevel = "error"
)

// NotificationOrigin names the engine that raised a notification.
type NotificationOrigin string

const (
	OriginSync     NotificationOrigin = "sync"
	OriginClassify NotificationOrigin = "classify"
)

// Notification represents an alert surfaced to the user about a sync or
// classification run.
type Notification struct {
	// ID is the unique identifier for this notification.
	ID string `json:"id"`

	// AccountID is the mail account the run belonged to.
	AccountID int `json:"account_id"`

	// Origin identifies which engine generated this notification.
	Origin NotificationOrigin `json:"origin"`

	// Level is the severity used for styling.
	Level NotificationLevel `json:"level"`

	// Message is the human-readable notification text.
	Message string `json:"message"`

	// Read indicates whether the user has seen this notification.
	Read bool `json:"read"`

	// CreatedAt is when this notification was generated.
	CreatedAt time.Time `json:"created_at"`
}
