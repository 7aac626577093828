package rest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/notifykit/notifykit/internal/monitoring"
	"github.com/notifykit/notifykit/internal/notification"
	"github.com/notifykit/notifykit/internal/preference"
)

// Handler holds dependencies for REST API handlers
type Handler struct {
	service   *notification.Service
	resolver  *preference.Resolver
	metrics   *monitoring.Metrics
	logger    *zap.Logger
	validator *validator.Validate
}

// NewHandler creates a new REST API handler
func NewHandler(
	service *notification.Service,
	resolver *preference.Resolver,
	metrics *monitoring.Metrics,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		service:   service,
		resolver:  resolver,
		metrics:   metrics,
		logger:    logger,
		validator: validator.New(),
	}
}

// SendNotificationRequest represents the request body for sending notifications
type SendNotificationRequest struct {
	Title           string            `json:"title" validate:"required"`
	Message         string            `json:"message" validate:"required"`
	Type            string            `json:"type,omitempty" validate:"omitempty,oneof=info warning error success"`
	Priority        string            `json:"priority,omitempty" validate:"omitempty,oneof=low normal high critical"`
	Category        string            `json:"category,omitempty"`
	Channels        []string          `json:"channels,omitempty" validate:"dive,oneof=in_app email push webhook chat"`
	RecipientUserID string            `json:"recipient_user_id"`
	RecipientEmail  string            `json:"recipient_email,omitempty" validate:"omitempty,email"`
	RecipientPhone  string            `json:"recipient_phone,omitempty"`
	SenderUserID    string            `json:"sender_user_id,omitempty"`
	TenantID        string            `json:"tenant_id,omitempty"`
	ActionURL       string            `json:"action_url,omitempty"`
	ImageURL        string            `json:"image_url,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	ExpiresAt       *time.Time        `json:"expires_at,omitempty"`
}

func (r SendNotificationRequest) toDomain() notification.SendRequest {
	req := notification.SendRequest{
		Title:           r.Title,
		Message:         r.Message,
		Type:            notification.Type(r.Type),
		Category:        r.Category,
		Channels:        notification.ParseChannels(r.Channels),
		RecipientUserID: r.RecipientUserID,
		RecipientEmail:  r.RecipientEmail,
		RecipientPhone:  r.RecipientPhone,
		SenderUserID:    r.SenderUserID,
		TenantID:        r.TenantID,
		ActionURL:       r.ActionURL,
		ImageURL:        r.ImageURL,
		Metadata:        r.Metadata,
		ExpiresAt:       r.ExpiresAt,
	}
	if r.Priority != "" {
		p := notification.ParsePriority(r.Priority)
		req.Priority = &p
	}
	return req
}

// BatchRequest represents the request body for batch sends
type BatchRequest struct {
	Notifications []SendNotificationRequest `json:"notifications" validate:"required,min=1,dive"`
}

// BroadcastRequest fans one notification out to several recipients
type BroadcastRequest struct {
	Notification SendNotificationRequest `json:"notification" validate:"required"`
	UserIDs      []string                `json:"user_ids" validate:"required,min=1"`
}

// ScheduleRequest defers a notification to a future instant
type ScheduleRequest struct {
	Notification SendNotificationRequest `json:"notification" validate:"required"`
	ScheduledFor time.Time               `json:"scheduled_for" validate:"required"`
}

// PreferenceRequest represents the request body for preference updates
type PreferenceRequest struct {
	Category        string   `json:"category,omitempty"`
	Channels        []string `json:"channels" validate:"dive,oneof=in_app email push webhook chat"`
	IsEnabled       *bool    `json:"is_enabled,omitempty"`
	MinimumPriority string   `json:"minimum_priority,omitempty" validate:"omitempty,oneof=low normal high critical"`
	Email           string   `json:"email,omitempty" validate:"omitempty,email"`
	Phone           string   `json:"phone,omitempty"`
	WebhookURL      string   `json:"webhook_url,omitempty" validate:"omitempty,url"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// SendNotification handles POST /notifications
func (h *Handler) SendNotification(w http.ResponseWriter, r *http.Request) {
	defer h.observe("send_notification", time.Now())

	var req SendNotificationRequest
	if !h.decode(w, r, &req) {
		return
	}

	notif, err := h.service.Send(r.Context(), req.toDomain())
	if err != nil {
		h.writeServiceError(w, "Failed to send notification", err)
		return
	}

	h.metrics.RecordNotificationCreated(string(notif.Status))
	h.logger.Info("notification created",
		zap.String("id", notif.ID),
		zap.String("recipient", notif.RecipientUserID),
		zap.String("status", string(notif.Status)),
	)

	h.writeJSON(w, http.StatusCreated, notif)
}

// SendBatch handles POST /notifications/batch
func (h *Handler) SendBatch(w http.ResponseWriter, r *http.Request) {
	defer h.observe("send_batch", time.Now())

	var req BatchRequest
	if !h.decode(w, r, &req) {
		return
	}

	reqs := make([]notification.SendRequest, 0, len(req.Notifications))
	for _, item := range req.Notifications {
		reqs = append(reqs, item.toDomain())
	}

	notifs, err := h.service.SendBatch(r.Context(), reqs)
	if err != nil {
		if errors.Is(err, notification.ErrBatchTooLarge) {
			h.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.writeServiceError(w, "Failed to send batch", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, notifs)
}

// Broadcast handles POST /notifications/broadcast
func (h *Handler) Broadcast(w http.ResponseWriter, r *http.Request) {
	defer h.observe("broadcast", time.Now())

	var req BroadcastRequest
	if !h.decode(w, r, &req) {
		return
	}

	notifs, err := h.service.SendToMany(r.Context(), req.Notification.toDomain(), req.UserIDs)
	if err != nil {
		h.writeServiceError(w, "Failed to broadcast notification", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, notifs)
}

// ScheduleNotification handles POST /notifications/schedule
func (h *Handler) ScheduleNotification(w http.ResponseWriter, r *http.Request) {
	defer h.observe("schedule_notification", time.Now())

	var req ScheduleRequest
	if !h.decode(w, r, &req) {
		return
	}

	notif, err := h.service.Schedule(r.Context(), req.Notification.toDomain(), req.ScheduledFor)
	if err != nil {
		h.writeServiceError(w, "Failed to schedule notification", err)
		return
	}

	h.metrics.RecordScheduled()
	h.writeJSON(w, http.StatusCreated, notif)
}

// GetNotification handles GET /notifications/{id}
func (h *Handler) GetNotification(w http.ResponseWriter, r *http.Request) {
	defer h.observe("get_notification", time.Now())

	id := mux.Vars(r)["id"]
	notif, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, "Failed to retrieve notification", err)
		return
	}
	h.writeJSON(w, http.StatusOK, notif)
}

// GetDeliveryLogs handles GET /notifications/{id}/logs
func (h *Handler) GetDeliveryLogs(w http.ResponseWriter, r *http.Request) {
	defer h.observe("get_delivery_logs", time.Now())

	id := mux.Vars(r)["id"]
	logs, err := h.service.DeliveryLogs(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, "Failed to retrieve delivery logs", err)
		return
	}
	h.writeJSON(w, http.StatusOK, logs)
}

// DeleteNotification handles DELETE /notifications/{id}
func (h *Handler) DeleteNotification(w http.ResponseWriter, r *http.Request) {
	defer h.observe("delete_notification", time.Now())

	id := mux.Vars(r)["id"]
	if err := h.service.Delete(r.Context(), id); err != nil {
		h.writeServiceError(w, "Failed to delete notification", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MarkAsRead handles POST /notifications/{id}/read
func (h *Handler) MarkAsRead(w http.ResponseWriter, r *http.Request) {
	defer h.observe("mark_as_read", time.Now())

	id := mux.Vars(r)["id"]
	if err := h.service.MarkAsRead(r.Context(), id); err != nil {
		h.writeServiceError(w, "Failed to mark notification read", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListUserNotifications handles GET /users/{id}/notifications
func (h *Handler) ListUserNotifications(w http.ResponseWriter, r *http.Request) {
	defer h.observe("list_user_notifications", time.Now())

	userID := mux.Vars(r)["id"]
	includeRead := r.URL.Query().Get("include_read") == "true"

	notifs, err := h.service.ListForUser(r.Context(), userID, includeRead)
	if err != nil {
		h.writeServiceError(w, "Failed to list notifications", err)
		return
	}
	if notifs == nil {
		notifs = []notification.Notification{}
	}
	h.writeJSON(w, http.StatusOK, notifs)
}

// GetUnreadCount handles GET /users/{id}/notifications/unread-count
func (h *Handler) GetUnreadCount(w http.ResponseWriter, r *http.Request) {
	defer h.observe("get_unread_count", time.Now())

	userID := mux.Vars(r)["id"]
	count, err := h.service.UnreadCount(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, "Failed to count unread notifications", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int{"unread_count": count})
}

// MarkAllAsRead handles POST /users/{id}/notifications/read-all
func (h *Handler) MarkAllAsRead(w http.ResponseWriter, r *http.Request) {
	defer h.observe("mark_all_as_read", time.Now())

	userID := mux.Vars(r)["id"]
	updated, err := h.service.MarkAllAsRead(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, "Failed to mark notifications read", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int{"updated": updated})
}

// GetPreference handles GET /users/{id}/preferences
func (h *Handler) GetPreference(w http.ResponseWriter, r *http.Request) {
	defer h.observe("get_preference", time.Now())

	userID := mux.Vars(r)["id"]
	category := r.URL.Query().Get("category")

	pref, err := h.resolver.Lookup(r.Context(), userID, category)
	if err != nil {
		h.writeServiceError(w, "Failed to resolve preference", err)
		return
	}
	h.writeJSON(w, http.StatusOK, pref)
}

// UpdatePreference handles PUT /users/{id}/preferences
func (h *Handler) UpdatePreference(w http.ResponseWriter, r *http.Request) {
	defer h.observe("update_preference", time.Now())

	userID := mux.Vars(r)["id"]

	var req PreferenceRequest
	if !h.decode(w, r, &req) {
		return
	}

	pref, err := h.resolver.Lookup(r.Context(), userID, req.Category)
	if err != nil {
		h.writeServiceError(w, "Failed to resolve preference", err)
		return
	}
	pref.UserID = userID
	pref.Category = req.Category
	if len(req.Channels) > 0 {
		pref.EnabledChannels = notification.ParseChannels(req.Channels)
	}
	if req.IsEnabled != nil {
		pref.IsEnabled = *req.IsEnabled
	}
	if req.MinimumPriority != "" {
		pref.MinimumPriority = notification.ParsePriority(req.MinimumPriority)
	}
	if req.Email != "" {
		pref.Email = req.Email
	}
	if req.Phone != "" {
		pref.Phone = req.Phone
	}
	if req.WebhookURL != "" {
		pref.WebhookURL = req.WebhookURL
	}

	if err := h.resolver.UpdatePreference(r.Context(), pref); err != nil {
		h.writeServiceError(w, "Failed to update preference", err)
		return
	}
	h.writeJSON(w, http.StatusOK, pref)
}

// RegisterPushSubscription handles POST /users/{id}/push-subscription
func (h *Handler) RegisterPushSubscription(w http.ResponseWriter, r *http.Request) {
	defer h.observe("register_push_subscription", time.Now())

	userID := mux.Vars(r)["id"]

	var sub notification.PushSubscription
	if !h.decode(w, r, &sub) {
		return
	}

	if err := h.resolver.RegisterPushSubscription(r.Context(), userID, sub); err != nil {
		h.writeServiceError(w, "Failed to register push subscription", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemovePushSubscription handles DELETE /users/{id}/push-subscription
func (h *Handler) RemovePushSubscription(w http.ResponseWriter, r *http.Request) {
	defer h.observe("remove_push_subscription", time.Now())

	userID := mux.Vars(r)["id"]
	if err := h.resolver.RemovePushSubscription(r.Context(), userID); err != nil {
		h.writeServiceError(w, "Failed to remove push subscription", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"service":   "notification-engine",
	}
	h.writeJSON(w, http.StatusOK, health)
}

// Metrics handles GET /metrics (Prometheus metrics)
func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	h.metrics.Handler().ServeHTTP(w, r)
}

// decode parses and validates a JSON request body, writing an error response
// on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.logger.Error("failed to decode request", zap.Error(err))
		h.writeErrorResponse(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		h.logger.Error("request validation failed", zap.Error(err))
		h.writeErrorResponse(w, fmt.Sprintf("Validation error: %v", err), http.StatusBadRequest)
		return false
	}
	return true
}

// writeServiceError maps domain errors onto HTTP status codes.
func (h *Handler) writeServiceError(w http.ResponseWriter, message string, err error) {
	h.logger.Error(message, zap.Error(err))
	switch {
	case errors.Is(err, notification.ErrNotFound):
		h.writeErrorResponse(w, "Notification not found", http.StatusNotFound)
	case errors.Is(err, notification.ErrMissingRecipient):
		h.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
	default:
		h.writeErrorResponse(w, message, http.StatusInternalServerError)
	}
}

// writeErrorResponse writes an error response
func (h *Handler) writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	response := ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	}
	h.writeJSON(w, statusCode, response)
}

func (h *Handler) writeJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

func (h *Handler) observe(operation string, start time.Time) {
	h.metrics.RecordAPIDuration(operation, time.Since(start).Seconds())
}

// SetupRoutes sets up all REST API routes
func (h *Handler) SetupRoutes() *mux.Router {
	router := mux.NewRouter()

	// API routes
	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/notifications", h.SendNotification).Methods("POST")
	api.HandleFunc("/notifications/batch", h.SendBatch).Methods("POST")
	api.HandleFunc("/notifications/broadcast", h.Broadcast).Methods("POST")
	api.HandleFunc("/notifications/schedule", h.ScheduleNotification).Methods("POST")
	api.HandleFunc("/notifications/{id}", h.GetNotification).Methods("GET")
	api.HandleFunc("/notifications/{id}", h.DeleteNotification).Methods("DELETE")
	api.HandleFunc("/notifications/{id}/read", h.MarkAsRead).Methods("POST")
	api.HandleFunc("/notifications/{id}/logs", h.GetDeliveryLogs).Methods("GET")
	api.HandleFunc("/users/{id}/notifications", h.ListUserNotifications).Methods("GET")
	api.HandleFunc("/users/{id}/notifications/unread-count", h.GetUnreadCount).Methods("GET")
	api.HandleFunc("/users/{id}/notifications/read-all", h.MarkAllAsRead).Methods("POST")
	api.HandleFunc("/users/{id}/preferences", h.GetPreference).Methods("GET")
	api.HandleFunc("/users/{id}/preferences", h.UpdatePreference).Methods("PUT")
	api.HandleFunc("/users/{id}/push-subscription", h.RegisterPushSubscription).Methods("POST")
	api.HandleFunc("/users/{id}/push-subscription", h.RemovePushSubscription).Methods("DELETE")

	// Health and metrics
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
	router.HandleFunc("/metrics", h.Metrics).Methods("GET")

	// Add middleware
	router.Use(h.loggingMiddleware)
	router.Use(h.corsMiddleware)

	return router
}

// loggingMiddleware logs HTTP requests
func (h *Handler) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		h.metrics.IncrementActiveConnections()
		defer h.metrics.DecrementActiveConnections()

		// Create a response recorder to capture status code
		recorder := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(recorder, r)

		h.logger.Info("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", recorder.statusCode),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote_addr", r.RemoteAddr),
		)
	})
}

// corsMiddleware adds CORS headers
func (h *Handler) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// responseRecorder wraps http.ResponseWriter to capture status code
type responseRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *responseRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}
