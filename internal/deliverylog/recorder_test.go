package deliverylog_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notifykit/notifykit/internal/deliverylog"
	"github.com/notifykit/notifykit/internal/notification"
	"github.com/notifykit/notifykit/internal/storage"
)

func TestRecorder_AttemptNumbersArePerChannel(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	r := deliverylog.NewRecorder(store)

	entry, err := r.Record(ctx, "n-1", notification.ChannelEmail, notification.DeliveryResult{Success: false, ErrorMessage: "bounce"})
	require.NoError(t, err)
	assert.Equal(t, 1, entry.AttemptNumber)

	entry, err = r.Record(ctx, "n-1", notification.ChannelEmail, notification.DeliveryResult{Success: true})
	require.NoError(t, err)
	assert.Equal(t, 2, entry.AttemptNumber)

	// A different channel has its own sequence.
	entry, err = r.Record(ctx, "n-1", notification.ChannelPush, notification.DeliveryResult{Success: true})
	require.NoError(t, err)
	assert.Equal(t, 1, entry.AttemptNumber)

	// As does a different notification.
	entry, err = r.Record(ctx, "n-2", notification.ChannelEmail, notification.DeliveryResult{Success: true})
	require.NoError(t, err)
	assert.Equal(t, 1, entry.AttemptNumber)
}

func TestRecorder_CopiesResultFields(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	r := deliverylog.NewRecorder(store)

	entry, err := r.Record(ctx, "n-1", notification.ChannelWebhook, notification.DeliveryResult{
		Success:          false,
		ErrorMessage:     "endpoint returned 503",
		ProviderResponse: "Service Unavailable",
		Duration:         1500 * time.Millisecond,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, "n-1", entry.NotificationID)
	assert.Equal(t, notification.ChannelWebhook, entry.Channel)
	assert.False(t, entry.IsSuccess)
	assert.Equal(t, "endpoint returned 503", entry.ErrorMessage)
	assert.Equal(t, "Service Unavailable", entry.ProviderResponse)
	assert.Equal(t, int64(1500), entry.DurationMs)
	assert.False(t, entry.CreatedAt.IsZero())

	logs, err := store.ListDeliveryLogs(ctx, "n-1")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, entry.ID, logs[0].ID)
}

func TestRecorder_TruncatesOversizedProviderResponse(t *testing.T) {
	ctx := context.Background()
	r := deliverylog.NewRecorder(storage.NewMemoryStore())

	entry, err := r.Record(ctx, "n-1", notification.ChannelEmail, notification.DeliveryResult{
		Success:          true,
		ProviderResponse: strings.Repeat("x", 5000),
	})
	require.NoError(t, err)
	assert.Len(t, entry.ProviderResponse, 2000)
}
