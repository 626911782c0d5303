package store

import (
	"context"

	"github.com/nhle/mail-triage/internal/model"
)

// RunFilter narrows history queries. A nil AccountID matches every account;
// a non-positive Limit returns every row.
type RunFilter struct {
	AccountID *int
	Limit     int
}

// Store defines the persistence interface for notifications and the local
// history of sync and classification runs.
type Store interface {
	// === Notifications ===

	CreateNotification(ctx context.Context, n model.Notification) error
	GetUnreadNotifications(ctx context.Context) ([]model.Notification, error)
	MarkNotificationRead(ctx context.Context, id string) error
	MarkAllNotificationsRead(ctx context.Context) error

	// === Run history ===

	RecordSyncRun(ctx context.Context, run model.SyncRun) error
	RecentSyncRuns(ctx context.Context, filter RunFilter) ([]model.SyncRun, error)
	RecordClassifyRun(ctx context.Context, run model.ClassifyRun) error
	RecentClassifyRuns(ctx context.Context, filter RunFilter) ([]model.ClassifyRun, error)

	Close() error
}
