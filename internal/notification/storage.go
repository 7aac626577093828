package notification

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a notification does not exist or is deleted.
	ErrNotFound = errors.New("notification not found")

	// ErrPreferenceNotFound is returned when no preference row exists for a
	// (user, category) pair. Callers fall back to defaults rather than failing.
	ErrPreferenceNotFound = errors.New("preference not found")
)

// Store is the persistence contract the engine consumes. Implementations live
// in internal/storage; the engine never issues SQL itself.
type Store interface {
	CreateNotification(ctx context.Context, n *Notification) error
	UpdateNotification(ctx context.Context, n *Notification) error
	GetNotification(ctx context.Context, id string) (*Notification, error)
	ListForUser(ctx context.Context, userID string, includeRead bool) ([]Notification, error)
	CountUnread(ctx context.Context, userID string) (int, error)
	MarkAllRead(ctx context.Context, userID string, at time.Time) (int, error)
	DeleteNotification(ctx context.Context, id string) error

	// ListDueQueued returns up to limit queued notifications whose scheduled
	// instant is at or before the given time, oldest first. The scheduler's
	// periodic scan uses this as the durable fallback when a queue
	// announcement is lost.
	ListDueQueued(ctx context.Context, before time.Time, limit int) ([]Notification, error)

	AppendDeliveryLog(ctx context.Context, entry *DeliveryLog) error
	CountDeliveryLogs(ctx context.Context, notificationID string, channel Channel) (int, error)
	ListDeliveryLogs(ctx context.Context, notificationID string) ([]DeliveryLog, error)

	GetPreference(ctx context.Context, userID, category string) (*Preference, error)
	UpsertPreference(ctx context.Context, p *Preference) error

	// WithinTx executes fn as one logical unit of work. Store calls made with
	// the context passed to fn join the same transaction.
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}
