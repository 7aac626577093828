package deliverylog

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/notifykit/notifykit/internal/notification"
)

// maxProviderResponse bounds the opaque provider payload kept per attempt.
const maxProviderResponse = 2000

// Store is the slice of the persistence contract the recorder needs.
type Store interface {
	AppendDeliveryLog(ctx context.Context, entry *notification.DeliveryLog) error
	CountDeliveryLogs(ctx context.Context, notificationID string, channel notification.Channel) (int, error)
}

// Recorder is the append-only writer for delivery attempts. Rows are never
// updated after creation; they are the audit trail.
type Recorder struct {
	store Store
}

// NewRecorder creates a recorder over the given store.
func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store}
}

// Record persists one attempt. The attempt number continues the per-channel
// sequence, so replays of a queued notification keep counting from where the
// previous dispatch run stopped.
func (r *Recorder) Record(ctx context.Context, notificationID string, channel notification.Channel, result notification.DeliveryResult) (*notification.DeliveryLog, error) {
	attempts, err := r.store.CountDeliveryLogs(ctx, notificationID, channel)
	if err != nil {
		return nil, fmt.Errorf("failed to count prior attempts: %w", err)
	}

	response := result.ProviderResponse
	if len(response) > maxProviderResponse {
		response = response[:maxProviderResponse]
	}

	entry := &notification.DeliveryLog{
		ID:               uuid.New().String(),
		NotificationID:   notificationID,
		Channel:          channel,
		AttemptNumber:    attempts + 1,
		IsSuccess:        result.Success,
		ErrorMessage:     result.ErrorMessage,
		ProviderResponse: response,
		DurationMs:       result.Duration.Milliseconds(),
		CreatedAt:        time.Now(),
	}
	if err := r.store.AppendDeliveryLog(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to append delivery log: %w", err)
	}
	return entry, nil
}
