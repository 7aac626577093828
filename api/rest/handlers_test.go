package rest_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/notifykit/notifykit/api/rest"
	"github.com/notifykit/notifykit/internal/deliverylog"
	"github.com/notifykit/notifykit/internal/dispatch"
	"github.com/notifykit/notifykit/internal/monitoring"
	"github.com/notifykit/notifykit/internal/notification"
	"github.com/notifykit/notifykit/internal/preference"
	"github.com/notifykit/notifykit/internal/storage"
)

// Prometheus collectors register globally, so the suite shares one instance.
var (
	metricsOnce sync.Once
	testMetrics *monitoring.Metrics
)

func sharedMetrics() *monitoring.Metrics {
	metricsOnce.Do(func() {
		testMetrics = monitoring.NewMetrics()
	})
	return testMetrics
}

type alwaysOKProvider struct{}

func (alwaysOKProvider) Channel() notification.Channel              { return notification.ChannelInApp }
func (alwaysOKProvider) Name() string                               { return "inapp" }
func (alwaysOKProvider) Priority() int                              { return 1 }
func (alwaysOKProvider) CanDeliver(*notification.Notification) bool { return true }

func (alwaysOKProvider) Send(context.Context, *notification.Notification) (notification.DeliveryResult, error) {
	return notification.DeliveryResult{Success: true}, nil
}

type testEnv struct {
	router   http.Handler
	store    *storage.MemoryStore
	service  *notification.Service
	resolver *preference.Resolver
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := storage.NewMemoryStore()
	resolver := preference.NewResolver(store,
		preference.WithDefaultChannels(notification.ChannelInApp))
	dispatcher := dispatch.NewDispatcher(
		dispatch.NewRegistry(alwaysOKProvider{}),
		deliverylog.NewRecorder(store),
	)
	service := notification.NewService(store, resolver, dispatcher, notification.ServiceConfig{
		MaxBatchSize: 3,
	})

	h := rest.NewHandler(service, resolver, sharedMetrics(), zap.NewNop())
	return &testEnv{
		router:   h.SetupRoutes(),
		store:    store,
		service:  service,
		resolver: resolver,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeNotification(t *testing.T, rec *httptest.ResponseRecorder) notification.Notification {
	t.Helper()
	var n notification.Notification
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &n))
	return n
}

func TestSendNotification(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/notifications", map[string]interface{}{
		"title":             "Payment received",
		"message":           "Invoice #1001 was paid",
		"recipient_user_id": "u1",
		"channels":          []string{"in_app"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	n := decodeNotification(t, rec)
	assert.NotEmpty(t, n.ID)
	assert.Equal(t, notification.StatusDelivered, n.Status)
	assert.Equal(t, "u1", n.RecipientUserID)
}

func TestSendNotification_ValidationErrors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{"missing title", map[string]interface{}{"message": "m", "recipient_user_id": "u1"}},
		{"missing message", map[string]interface{}{"title": "t", "recipient_user_id": "u1"}},
		{"bad priority", map[string]interface{}{"title": "t", "message": "m", "recipient_user_id": "u1", "priority": "urgent"}},
		{"bad channel", map[string]interface{}{"title": "t", "message": "m", "recipient_user_id": "u1", "channels": []string{"fax"}}},
		{"bad email", map[string]interface{}{"title": "t", "message": "m", "recipient_user_id": "u1", "recipient_email": "not-an-email"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/v1/notifications", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestSendNotification_MissingRecipient(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/notifications", map[string]interface{}{
		"title":   "orphan",
		"message": "no recipient",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var errResp rest.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Contains(t, errResp.Message, "recipient")
}

func TestSendNotification_MalformedJSON(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/notifications", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSendBatch(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/notifications/batch", map[string]interface{}{
		"notifications": []map[string]interface{}{
			{"title": "a", "message": "1", "recipient_user_id": "u1"},
			{"title": "b", "message": "2", "recipient_user_id": "u2"},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var out []notification.Notification
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Len(t, out, 2)
}

func TestSendBatch_TooLarge(t *testing.T) {
	env := newTestEnv(t)

	items := make([]map[string]interface{}, 4)
	for i := range items {
		items[i] = map[string]interface{}{
			"title": "t", "message": "m",
			"recipient_user_id": fmt.Sprintf("u%d", i),
		}
	}
	rec := env.do(t, http.MethodPost, "/api/v1/notifications/batch", map[string]interface{}{
		"notifications": items,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBroadcast(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/notifications/broadcast", map[string]interface{}{
		"notification": map[string]interface{}{
			"title":   "maintenance",
			"message": "tonight at 02:00 UTC",
		},
		"user_ids": []string{"u1", "u2", "u3"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var out []notification.Notification
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 3)
	assert.Equal(t, "u1", out[0].RecipientUserID)
}

func TestScheduleNotification(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/notifications/schedule", map[string]interface{}{
		"notification": map[string]interface{}{
			"title":             "reminder",
			"message":           "meeting in 10 minutes",
			"recipient_user_id": "u1",
		},
		"scheduled_for": time.Now().Add(time.Hour).Format(time.RFC3339),
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	n := decodeNotification(t, rec)
	assert.Equal(t, notification.StatusQueued, n.Status)
	require.NotNil(t, n.ScheduledFor)
}

func TestGetNotification(t *testing.T) {
	env := newTestEnv(t)

	created, err := env.service.Send(context.Background(), notification.SendRequest{
		Title: "t", Message: "m", RecipientUserID: "u1",
	})
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/api/v1/notifications/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, created.ID, decodeNotification(t, rec).ID)
}

func TestGetNotification_NotFound(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/notifications/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteNotification(t *testing.T) {
	env := newTestEnv(t)

	created, err := env.service.Send(context.Background(), notification.SendRequest{
		Title: "t", Message: "m", RecipientUserID: "u1",
	})
	require.NoError(t, err)

	rec := env.do(t, http.MethodDelete, "/api/v1/notifications/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/notifications/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMarkAsReadAndUnreadCount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.service.Send(ctx, notification.SendRequest{
		Title: "a", Message: "1", RecipientUserID: "u1",
	})
	require.NoError(t, err)
	_, err = env.service.Send(ctx, notification.SendRequest{
		Title: "b", Message: "2", RecipientUserID: "u1",
	})
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/api/v1/notifications/"+first.ID+"/read", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/users/u1/notifications/unread-count", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var count map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &count))
	assert.Equal(t, 1, count["unread_count"])
}

func TestMarkAllAsRead(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := env.service.Send(ctx, notification.SendRequest{
			Title: "t", Message: "m", RecipientUserID: "u1",
		})
		require.NoError(t, err)
	}

	rec := env.do(t, http.MethodPost, "/api/v1/users/u1/notifications/read-all", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp["updated"])
}

func TestListUserNotifications(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, err := env.service.Send(ctx, notification.SendRequest{
		Title: "t", Message: "m", RecipientUserID: "u1",
	})
	require.NoError(t, err)
	require.NoError(t, env.service.MarkAsRead(ctx, created.ID))

	// Read notifications are hidden by default.
	rec := env.do(t, http.MethodGet, "/api/v1/users/u1/notifications", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var out []notification.Notification
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Empty(t, out)

	rec = env.do(t, http.MethodGet, "/api/v1/users/u1/notifications?include_read=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Len(t, out, 1)
}

func TestGetDeliveryLogs(t *testing.T) {
	env := newTestEnv(t)

	created, err := env.service.Send(context.Background(), notification.SendRequest{
		Title: "t", Message: "m", RecipientUserID: "u1",
	})
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/api/v1/notifications/"+created.ID+"/logs", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var logs []notification.DeliveryLog
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &logs))
	require.Len(t, logs, 1)
	assert.Equal(t, 1, logs[0].AttemptNumber)
}

func TestPreferenceRoundTrip(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPut, "/api/v1/users/u1/preferences", map[string]interface{}{
		"channels":         []string{"email", "push"},
		"minimum_priority": "high",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/users/u1/preferences", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var pref notification.Preference
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pref))
	assert.Equal(t, notification.ChannelEmail|notification.ChannelPush, pref.EnabledChannels)
	assert.Equal(t, notification.PriorityHigh, pref.MinimumPriority)
}

func TestPreference_DisableUser(t *testing.T) {
	env := newTestEnv(t)

	disabled := false
	rec := env.do(t, http.MethodPut, "/api/v1/users/u1/preferences", map[string]interface{}{
		"is_enabled": &disabled,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	// A send to the muted user is stored but not delivered.
	rec = env.do(t, http.MethodPost, "/api/v1/notifications", map[string]interface{}{
		"title":             "muted",
		"message":           "m",
		"recipient_user_id": "u1",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, notification.StatusPending, decodeNotification(t, rec).Status)
}

func TestPushSubscriptionEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/users/u1/push-subscription", map[string]interface{}{
		"endpoint":   "https://push.example.com/sub/xyz",
		"public_key": "key",
		"auth":       "secret",
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	pref, err := env.resolver.Lookup(context.Background(), "u1", "")
	require.NoError(t, err)
	assert.True(t, pref.EnabledChannels.Has(notification.ChannelPush))

	rec = env.do(t, http.MethodDelete, "/api/v1/users/u1/push-subscription", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	pref, err = env.resolver.Lookup(context.Background(), "u1", "")
	require.NoError(t, err)
	assert.False(t, pref.EnabledChannels.Has(notification.ChannelPush))
}

func TestPushSubscription_MissingEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/users/u1/push-subscription", map[string]interface{}{
		"public_key": "key",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var health map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health["status"])
}
