package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrMissingRecipient is returned when a send request has no recipient.
	ErrMissingRecipient = errors.New("recipient user id is required")

	// ErrBatchTooLarge is returned when a batch exceeds the configured limit.
	ErrBatchTooLarge = errors.New("batch exceeds maximum batch size")

	// ErrNotDue is returned by DispatchQueued when the notification's
	// scheduled instant is still in the future.
	ErrNotDue = errors.New("notification is not due yet")
)

// ChannelResolver narrows a requested channel set to the channels the
// recipient's preferences permit.
type ChannelResolver interface {
	EffectiveChannels(ctx context.Context, userID string, requested Channel, priority Priority, category string) (Channel, error)
}

// Dispatcher runs providers for an effective channel set and records the
// attempts.
type Dispatcher interface {
	Dispatch(ctx context.Context, n *Notification, channels Channel) (DispatchOutcome, error)
}

// SchedulePublisher announces a queued notification to the external
// scheduler. Publish failures are logged, not fatal: the queued row itself is
// the durable record of intent.
type SchedulePublisher interface {
	PublishScheduled(ctx context.Context, n *Notification) error
}

// ServiceConfig carries the engine-wide defaults and limits.
type ServiceConfig struct {
	DefaultChannels       Channel
	DefaultExpirationDays int
	MaxBatchSize          int
}

// Service is the notification orchestrator: the public surface that turns a
// send request into stored state and delivery attempts.
type Service struct {
	store      Store
	resolver   ChannelResolver
	dispatcher Dispatcher
	publisher  SchedulePublisher
	cfg        ServiceConfig
	logger     *zap.Logger
	now        func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithSchedulePublisher sets the publisher notified on Schedule.
func WithSchedulePublisher(p SchedulePublisher) ServiceOption {
	return func(s *Service) {
		s.publisher = p
	}
}

// WithServiceLogger sets the service logger.
func WithServiceLogger(logger *zap.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService creates the orchestrator.
func NewService(store Store, resolver ChannelResolver, dispatcher Dispatcher, cfg ServiceConfig, opts ...ServiceOption) *Service {
	if cfg.DefaultChannels == ChannelNone {
		cfg.DefaultChannels = ChannelInApp
	}
	if cfg.DefaultExpirationDays <= 0 {
		cfg.DefaultExpirationDays = 30
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 100
	}

	s := &Service{
		store:      store,
		resolver:   resolver,
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     zap.NewNop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// build creates the Notification record with defaults applied.
func (s *Service) build(req SendRequest) (*Notification, error) {
	if req.RecipientUserID == "" {
		return nil, ErrMissingRecipient
	}

	n := &Notification{
		ID:                uuid.New().String(),
		Title:             req.Title,
		Message:           req.Message,
		Type:              req.Type,
		Priority:          PriorityNormal,
		Category:          req.Category,
		RequestedChannels: req.Channels,
		RecipientUserID:   req.RecipientUserID,
		RecipientEmail:    req.RecipientEmail,
		RecipientPhone:    req.RecipientPhone,
		SenderUserID:      req.SenderUserID,
		TenantID:          req.TenantID,
		Status:            StatusPending,
		ActionURL:         req.ActionURL,
		ImageURL:          req.ImageURL,
		Metadata:          req.Metadata,
		ExpiresAt:         req.ExpiresAt,
		CreatedAt:         s.now(),
	}

	if n.Type == "" {
		n.Type = TypeInfo
	}
	if req.Priority != nil {
		n.Priority = *req.Priority
	}
	if n.RequestedChannels == ChannelNone {
		n.RequestedChannels = s.cfg.DefaultChannels
	}
	if n.ExpiresAt == nil {
		expires := n.CreatedAt.AddDate(0, 0, s.cfg.DefaultExpirationDays)
		n.ExpiresAt = &expires
	}
	return n, nil
}

// Send creates a notification, resolves its effective channels, dispatches it
// and persists the result. Delivery failing on every channel still returns
// the created notification with a nil error; the caller inspects Status and
// ErrorMessage to learn whether the message actually reached the recipient.
func (s *Service) Send(ctx context.Context, req SendRequest) (*Notification, error) {
	n, err := s.build(req)
	if err != nil {
		return nil, err
	}
	if err := s.deliver(ctx, n); err != nil {
		return nil, err
	}

	s.logger.Info("notification sent",
		zap.String("id", n.ID),
		zap.String("recipient", n.RecipientUserID),
		zap.String("status", string(n.Status)),
	)
	return n, nil
}

// deliver persists a built notification and runs the dispatch pipeline for
// it in one unit of work.
func (s *Service) deliver(ctx context.Context, n *Notification) error {
	return s.store.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.store.CreateNotification(ctx, n); err != nil {
			return err
		}
		return s.dispatch(ctx, n)
	})
}

// dispatch runs the resolve-and-deliver half of the pipeline for an already
// persisted notification and updates its row.
func (s *Service) dispatch(ctx context.Context, n *Notification) error {
	effective, err := s.resolver.EffectiveChannels(ctx, n.RecipientUserID, n.RequestedChannels, n.Priority, n.Category)
	if err != nil {
		return err
	}

	if effective != ChannelNone {
		outcome, err := s.dispatcher.Dispatch(ctx, n, effective)
		if err != nil {
			return err
		}
		if outcome.Delivered() {
			deliveredAt := s.now()
			n.Status = StatusDelivered
			n.DeliveredAt = &deliveredAt
			n.ErrorMessage = ""
		} else {
			n.ErrorMessage = outcome.ErrorMessage()
		}
	}

	return s.store.UpdateNotification(ctx, n)
}

// SendBatch sends up to MaxBatchSize independent notifications. An oversized
// batch or any invalid item fails the call before anything is persisted; a
// per-item delivery failure does not fail the call.
func (s *Service) SendBatch(ctx context.Context, reqs []SendRequest) ([]*Notification, error) {
	if len(reqs) > s.cfg.MaxBatchSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(reqs), s.cfg.MaxBatchSize)
	}

	// Validate the whole batch before creating any of it
	out := make([]*Notification, 0, len(reqs))
	for i, req := range reqs {
		n, err := s.build(req)
		if err != nil {
			return nil, fmt.Errorf("batch item %d: %w", i, err)
		}
		out = append(out, n)
	}

	for _, n := range out {
		if err := s.deliver(ctx, n); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// SendToMany fans the same content out to several recipients, each as an
// isolated notification. A failure for one recipient does not abort the
// others; the first error is returned only if every recipient failed.
func (s *Service) SendToMany(ctx context.Context, req SendRequest, userIDs []string) ([]*Notification, error) {
	out := make([]*Notification, 0, len(userIDs))
	var firstErr error

	for _, userID := range userIDs {
		r := req
		r.RecipientUserID = userID
		n, err := s.Send(ctx, r)
		if err != nil {
			s.logger.Warn("fan-out send failed",
				zap.String("recipient", userID), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		out = append(out, n)
	}

	if len(out) == 0 && firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

// Schedule persists the notification as queued without running the dispatch
// pipeline; delivering it at the scheduled instant is the external
// scheduler's job.
func (s *Service) Schedule(ctx context.Context, req SendRequest, scheduledFor time.Time) (*Notification, error) {
	n, err := s.build(req)
	if err != nil {
		return nil, err
	}
	n.Status = StatusQueued
	n.ScheduledFor = &scheduledFor

	if err := s.store.CreateNotification(ctx, n); err != nil {
		return nil, err
	}

	if s.publisher != nil {
		if err := s.publisher.PublishScheduled(ctx, n); err != nil {
			// Queued row is durable; the scheduler can still find it by query
			s.logger.Warn("failed to announce scheduled notification",
				zap.String("id", n.ID), zap.Error(err))
		}
	}

	s.logger.Info("notification scheduled",
		zap.String("id", n.ID),
		zap.Time("scheduled_for", scheduledFor),
	)
	return n, nil
}

// DispatchQueued replays the dispatch pipeline for a queued notification once
// its scheduled instant has passed. It is the entry point the external
// scheduler calls.
func (s *Service) DispatchQueued(ctx context.Context, id string) (*Notification, error) {
	n, err := s.store.GetNotification(ctx, id)
	if err != nil {
		return nil, err
	}

	if n.Status != StatusQueued {
		// Already dispatched or acknowledged; replay is a no-op
		return n, nil
	}
	if n.ScheduledFor != nil && n.ScheduledFor.After(s.now()) {
		return n, ErrNotDue
	}
	if n.IsExpired() {
		s.logger.Info("skipping expired queued notification", zap.String("id", id))
		return n, nil
	}

	err = s.store.WithinTx(ctx, func(ctx context.Context) error {
		return s.dispatch(ctx, n)
	})
	if err != nil {
		return nil, err
	}
	return n, nil
}

// DispatchDue scans for queued notifications whose scheduled instant has
// passed and replays the dispatch pipeline for each. It is the scheduler's
// periodic fallback, so a lost or crashed queue announcement never strands a
// queued row. Returns how many notifications were processed.
func (s *Service) DispatchDue(ctx context.Context, limit int) (int, error) {
	due, err := s.store.ListDueQueued(ctx, s.now(), limit)
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, n := range due {
		if _, err := s.DispatchQueued(ctx, n.ID); err != nil {
			s.logger.Warn("failed to dispatch due notification",
				zap.String("id", n.ID), zap.Error(err))
			continue
		}
		processed++
	}
	return processed, nil
}

// MarkAsRead marks a notification read. Idempotent: marking an already read
// notification is a no-op success.
func (s *Service) MarkAsRead(ctx context.Context, id string) error {
	n, err := s.store.GetNotification(ctx, id)
	if err != nil {
		return err
	}
	if n.IsRead() {
		return nil
	}

	readAt := s.now()
	n.ReadAt = &readAt
	n.Status = StatusRead
	return s.store.UpdateNotification(ctx, n)
}

// MarkAllAsRead marks every unread, non-expired notification of a user read
// and returns how many rows changed.
func (s *Service) MarkAllAsRead(ctx context.Context, userID string) (int, error) {
	return s.store.MarkAllRead(ctx, userID, s.now())
}

// ListForUser returns a user's notifications newest first, excluding deleted
// and expired ones and, unless includeRead is set, already read ones.
func (s *Service) ListForUser(ctx context.Context, userID string, includeRead bool) ([]Notification, error) {
	return s.store.ListForUser(ctx, userID, includeRead)
}

// UnreadCount returns the number of unread notifications for a user.
func (s *Service) UnreadCount(ctx context.Context, userID string) (int, error) {
	return s.store.CountUnread(ctx, userID)
}

// Get returns a notification by id.
func (s *Service) Get(ctx context.Context, id string) (*Notification, error) {
	return s.store.GetNotification(ctx, id)
}

// DeliveryLogs returns the audit trail of a notification's attempts.
func (s *Service) DeliveryLogs(ctx context.Context, id string) ([]DeliveryLog, error) {
	return s.store.ListDeliveryLogs(ctx, id)
}

// Delete soft-deletes a notification; every read path filters the flag.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.DeleteNotification(ctx, id)
}
