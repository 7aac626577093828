package preference

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/notifykit/notifykit/internal/notification"
)

// Store is the slice of the persistence contract the resolver needs.
type Store interface {
	GetPreference(ctx context.Context, userID, category string) (*notification.Preference, error)
	UpsertPreference(ctx context.Context, p *notification.Preference) error
}

// Cache is an optional read-through cache for preference rows. A nil result
// with a nil error is a cache miss.
type Cache interface {
	GetPreference(ctx context.Context, userID, category string) (*notification.Preference, error)
	CachePreference(ctx context.Context, p *notification.Preference) error
	InvalidatePreference(ctx context.Context, userID, category string) error
}

// Resolver decides which channels a notification may actually use for a
// recipient, per category and priority.
type Resolver struct {
	store           Store
	cache           Cache
	defaultChannels notification.Channel
	logger          *zap.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithCache sets the preference cache.
func WithCache(cache Cache) Option {
	return func(r *Resolver) {
		r.cache = cache
	}
}

// WithDefaultChannels overrides the channels a synthesized default
// preference enables.
func WithDefaultChannels(ch notification.Channel) Option {
	return func(r *Resolver) {
		r.defaultChannels = ch
	}
}

// WithLogger sets the resolver logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// NewResolver creates a resolver over the given preference store.
func NewResolver(store Store, opts ...Option) *Resolver {
	r := &Resolver{
		store:           store,
		defaultChannels: notification.ChannelInApp,
		logger:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Lookup returns the preference governing (userID, category): the category
// row if present, else the user's default row, else a synthesized default.
// A missing preference is never an error; only storage failures surface.
func (r *Resolver) Lookup(ctx context.Context, userID, category string) (*notification.Preference, error) {
	if category != "" {
		p, err := r.lookupOne(ctx, userID, category)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, notification.ErrPreferenceNotFound) {
			return nil, err
		}
	}

	p, err := r.lookupOne(ctx, userID, "")
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, notification.ErrPreferenceNotFound) {
		return nil, err
	}

	return &notification.Preference{
		UserID:          userID,
		Category:        category,
		EnabledChannels: r.defaultChannels,
		IsEnabled:       true,
		MinimumPriority: notification.PriorityLow,
	}, nil
}

func (r *Resolver) lookupOne(ctx context.Context, userID, category string) (*notification.Preference, error) {
	if r.cache != nil {
		if p, err := r.cache.GetPreference(ctx, userID, category); err != nil {
			r.logger.Warn("preference cache read failed",
				zap.String("user_id", userID), zap.Error(err))
		} else if p != nil {
			return p, nil
		}
	}

	p, err := r.store.GetPreference(ctx, userID, category)
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		if err := r.cache.CachePreference(ctx, p); err != nil {
			r.logger.Warn("preference cache write failed",
				zap.String("user_id", userID), zap.Error(err))
		}
	}
	return p, nil
}

// EffectiveChannels narrows the requested channel set to what the recipient's
// preference permits. Channels outside the enabled set are silently dropped.
func (r *Resolver) EffectiveChannels(ctx context.Context, userID string, requested notification.Channel, priority notification.Priority, category string) (notification.Channel, error) {
	p, err := r.Lookup(ctx, userID, category)
	if err != nil {
		return notification.ChannelNone, fmt.Errorf("failed to resolve preference: %w", err)
	}

	if !p.IsEnabled {
		return notification.ChannelNone, nil
	}
	if priority < p.MinimumPriority {
		return notification.ChannelNone, nil
	}
	return requested & p.EnabledChannels, nil
}

// IsChannelEnabled checks a single channel against the user's default
// preference.
func (r *Resolver) IsChannelEnabled(ctx context.Context, userID string, channel notification.Channel) (bool, error) {
	p, err := r.Lookup(ctx, userID, "")
	if err != nil {
		return false, err
	}
	return p.IsEnabled && p.EnabledChannels.Has(channel), nil
}

// UpdatePreference upserts a preference row and invalidates its cache entry.
func (r *Resolver) UpdatePreference(ctx context.Context, p *notification.Preference) error {
	if err := r.store.UpsertPreference(ctx, p); err != nil {
		return err
	}
	r.invalidate(ctx, p.UserID, p.Category)
	return nil
}

// SetEnabledChannels replaces the enabled channel set for (userID, category),
// creating the preference row lazily on first write.
func (r *Resolver) SetEnabledChannels(ctx context.Context, userID, category string, channels notification.Channel) error {
	p, err := r.Lookup(ctx, userID, category)
	if err != nil {
		return err
	}
	p.UserID = userID
	p.Category = category
	p.EnabledChannels = channels
	return r.UpdatePreference(ctx, p)
}

// RegisterPushSubscription stores a web-push subscription on the user's
// default preference and turns the push channel on. Idempotent.
func (r *Resolver) RegisterPushSubscription(ctx context.Context, userID string, sub notification.PushSubscription) error {
	p, err := r.Lookup(ctx, userID, "")
	if err != nil {
		return err
	}
	p.UserID = userID
	p.Category = ""
	p.PushEndpoint = sub.Endpoint
	p.PushPublicKey = sub.PublicKey
	p.PushAuth = sub.Auth
	p.EnabledChannels = p.EnabledChannels.With(notification.ChannelPush)
	return r.UpdatePreference(ctx, p)
}

// RemovePushSubscription clears the stored subscription and turns the push
// channel off. Idempotent.
func (r *Resolver) RemovePushSubscription(ctx context.Context, userID string) error {
	p, err := r.Lookup(ctx, userID, "")
	if err != nil {
		return err
	}
	p.UserID = userID
	p.Category = ""
	p.PushEndpoint = ""
	p.PushPublicKey = ""
	p.PushAuth = ""
	p.EnabledChannels = p.EnabledChannels.Without(notification.ChannelPush)
	return r.UpdatePreference(ctx, p)
}

func (r *Resolver) invalidate(ctx context.Context, userID, category string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.InvalidatePreference(ctx, userID, category); err != nil {
		r.logger.Warn("preference cache invalidation failed",
			zap.String("user_id", userID), zap.Error(err))
	}
}
