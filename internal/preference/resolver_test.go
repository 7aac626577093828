package preference_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notifykit/notifykit/internal/notification"
	"github.com/notifykit/notifykit/internal/preference"
	"github.com/notifykit/notifykit/internal/storage"
)

// fakeCache records cache traffic so tests can assert read-through and
// invalidation behavior.
type fakeCache struct {
	entries     map[string]*notification.Preference
	reads       int
	hits        int
	writes      int
	invalidated []string
	readErr     error
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]*notification.Preference)}
}

func cacheKey(userID, category string) string { return userID + "/" + category }

func (c *fakeCache) GetPreference(_ context.Context, userID, category string) (*notification.Preference, error) {
	c.reads++
	if c.readErr != nil {
		return nil, c.readErr
	}
	p, ok := c.entries[cacheKey(userID, category)]
	if !ok {
		return nil, nil
	}
	c.hits++
	cp := *p
	return &cp, nil
}

func (c *fakeCache) CachePreference(_ context.Context, p *notification.Preference) error {
	c.writes++
	cp := *p
	c.entries[cacheKey(p.UserID, p.Category)] = &cp
	return nil
}

func (c *fakeCache) InvalidatePreference(_ context.Context, userID, category string) error {
	c.invalidated = append(c.invalidated, cacheKey(userID, category))
	delete(c.entries, cacheKey(userID, category))
	return nil
}

func seedPreference(t *testing.T, store *storage.MemoryStore, p notification.Preference) {
	t.Helper()
	require.NoError(t, store.UpsertPreference(context.Background(), &p))
}

func TestResolver_Lookup_FallbackChain(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	r := preference.NewResolver(store)

	seedPreference(t, store, notification.Preference{
		UserID:          "u1",
		Category:        "",
		EnabledChannels: notification.ChannelEmail,
		IsEnabled:       true,
	})
	seedPreference(t, store, notification.Preference{
		UserID:          "u1",
		Category:        "billing",
		EnabledChannels: notification.ChannelInApp,
		IsEnabled:       true,
	})

	// Category row wins when present.
	p, err := r.Lookup(ctx, "u1", "billing")
	require.NoError(t, err)
	assert.Equal(t, notification.ChannelInApp, p.EnabledChannels)

	// Unknown category falls back to the user default row.
	p, err = r.Lookup(ctx, "u1", "security")
	require.NoError(t, err)
	assert.Equal(t, notification.ChannelEmail, p.EnabledChannels)

	// Unknown user gets a synthesized default.
	p, err = r.Lookup(ctx, "u2", "billing")
	require.NoError(t, err)
	assert.True(t, p.IsEnabled)
	assert.Equal(t, notification.ChannelInApp, p.EnabledChannels)
	assert.Equal(t, notification.PriorityLow, p.MinimumPriority)
}

func TestResolver_Lookup_SynthesizedDefaultChannels(t *testing.T) {
	r := preference.NewResolver(storage.NewMemoryStore(),
		preference.WithDefaultChannels(notification.ChannelInApp|notification.ChannelEmail))

	p, err := r.Lookup(context.Background(), "nobody", "")
	require.NoError(t, err)
	assert.Equal(t, notification.ChannelInApp|notification.ChannelEmail, p.EnabledChannels)
}

func TestResolver_EffectiveChannels_Intersection(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	r := preference.NewResolver(store)

	seedPreference(t, store, notification.Preference{
		UserID:          "u1",
		EnabledChannels: notification.ChannelInApp | notification.ChannelEmail,
		IsEnabled:       true,
		MinimumPriority: notification.PriorityNormal,
	})

	requested := notification.ChannelInApp | notification.ChannelEmail | notification.ChannelPush
	effective, err := r.EffectiveChannels(ctx, "u1", requested, notification.PriorityHigh, "")
	require.NoError(t, err)
	assert.Equal(t, notification.ChannelInApp|notification.ChannelEmail, effective)
}

func TestResolver_EffectiveChannels_PriorityFloor(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	r := preference.NewResolver(store)

	seedPreference(t, store, notification.Preference{
		UserID:          "u1",
		EnabledChannels: notification.ChannelAll,
		IsEnabled:       true,
		MinimumPriority: notification.PriorityHigh,
	})

	effective, err := r.EffectiveChannels(ctx, "u1", notification.ChannelInApp, notification.PriorityNormal, "")
	require.NoError(t, err)
	assert.Equal(t, notification.ChannelNone, effective)

	// Exactly meeting the floor passes.
	effective, err = r.EffectiveChannels(ctx, "u1", notification.ChannelInApp, notification.PriorityHigh, "")
	require.NoError(t, err)
	assert.Equal(t, notification.ChannelInApp, effective)
}

func TestResolver_EffectiveChannels_DisabledUser(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	r := preference.NewResolver(store)

	seedPreference(t, store, notification.Preference{
		UserID:          "u1",
		EnabledChannels: notification.ChannelAll,
		IsEnabled:       false,
	})

	effective, err := r.EffectiveChannels(ctx, "u1", notification.ChannelAll, notification.PriorityCritical, "")
	require.NoError(t, err)
	assert.Equal(t, notification.ChannelNone, effective)
}

func TestResolver_EffectiveChannels_CategoryOverride(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	r := preference.NewResolver(store)

	seedPreference(t, store, notification.Preference{
		UserID:          "u1",
		EnabledChannels: notification.ChannelAll,
		IsEnabled:       true,
	})
	seedPreference(t, store, notification.Preference{
		UserID:          "u1",
		Category:        "marketing",
		EnabledChannels: notification.ChannelEmail,
		IsEnabled:       true,
	})

	effective, err := r.EffectiveChannels(ctx, "u1", notification.ChannelInApp|notification.ChannelEmail, notification.PriorityNormal, "marketing")
	require.NoError(t, err)
	assert.Equal(t, notification.ChannelEmail, effective)

	effective, err = r.EffectiveChannels(ctx, "u1", notification.ChannelInApp|notification.ChannelEmail, notification.PriorityNormal, "")
	require.NoError(t, err)
	assert.Equal(t, notification.ChannelInApp|notification.ChannelEmail, effective)
}

func TestResolver_IsChannelEnabled(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	r := preference.NewResolver(store)

	seedPreference(t, store, notification.Preference{
		UserID:          "u1",
		EnabledChannels: notification.ChannelEmail,
		IsEnabled:       true,
	})

	enabled, err := r.IsChannelEnabled(ctx, "u1", notification.ChannelEmail)
	require.NoError(t, err)
	assert.True(t, enabled)

	enabled, err = r.IsChannelEnabled(ctx, "u1", notification.ChannelPush)
	require.NoError(t, err)
	assert.False(t, enabled)
}

func TestResolver_SetEnabledChannels_CreatesRowLazily(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	r := preference.NewResolver(store)

	err := r.SetEnabledChannels(ctx, "u1", "alerts", notification.ChannelPush|notification.ChannelChat)
	require.NoError(t, err)

	p, err := store.GetPreference(ctx, "u1", "alerts")
	require.NoError(t, err)
	assert.Equal(t, notification.ChannelPush|notification.ChannelChat, p.EnabledChannels)
	assert.True(t, p.IsEnabled)
}

func TestResolver_PushSubscriptionLifecycle(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	r := preference.NewResolver(store)

	sub := notification.PushSubscription{
		Endpoint:  "https://push.example.com/sub/abc",
		PublicKey: "p256dh-key",
		Auth:      "auth-secret",
	}
	require.NoError(t, r.RegisterPushSubscription(ctx, "u1", sub))

	p, err := store.GetPreference(ctx, "u1", "")
	require.NoError(t, err)
	assert.Equal(t, sub.Endpoint, p.PushEndpoint)
	assert.True(t, p.EnabledChannels.Has(notification.ChannelPush))

	// Registering again is idempotent.
	require.NoError(t, r.RegisterPushSubscription(ctx, "u1", sub))
	p, err = store.GetPreference(ctx, "u1", "")
	require.NoError(t, err)
	assert.True(t, p.EnabledChannels.Has(notification.ChannelPush))

	require.NoError(t, r.RemovePushSubscription(ctx, "u1"))
	p, err = store.GetPreference(ctx, "u1", "")
	require.NoError(t, err)
	assert.Empty(t, p.PushEndpoint)
	assert.False(t, p.EnabledChannels.Has(notification.ChannelPush))

	// Removing when nothing is registered succeeds.
	require.NoError(t, r.RemovePushSubscription(ctx, "u1"))
}

func TestResolver_CacheReadThrough(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	cache := newFakeCache()
	r := preference.NewResolver(store, preference.WithCache(cache))

	seedPreference(t, store, notification.Preference{
		UserID:          "u1",
		EnabledChannels: notification.ChannelInApp,
		IsEnabled:       true,
	})

	// Miss populates the cache, second lookup hits it.
	_, err := r.Lookup(ctx, "u1", "")
	require.NoError(t, err)
	assert.Equal(t, 1, cache.writes)

	_, err = r.Lookup(ctx, "u1", "")
	require.NoError(t, err)
	assert.Equal(t, 1, cache.hits)
	assert.Equal(t, 1, cache.writes)
}

func TestResolver_CacheFailureFallsThroughToStore(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	cache := newFakeCache()
	cache.readErr = errors.New("redis: connection refused")
	r := preference.NewResolver(store, preference.WithCache(cache))

	seedPreference(t, store, notification.Preference{
		UserID:          "u1",
		EnabledChannels: notification.ChannelEmail,
		IsEnabled:       true,
	})

	p, err := r.Lookup(ctx, "u1", "")
	require.NoError(t, err)
	assert.Equal(t, notification.ChannelEmail, p.EnabledChannels)
}

func TestResolver_UpdatePreference_Invalidates(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	cache := newFakeCache()
	r := preference.NewResolver(store, preference.WithCache(cache))

	p := &notification.Preference{
		UserID:          "u1",
		Category:        "billing",
		EnabledChannels: notification.ChannelInApp,
		IsEnabled:       true,
	}
	require.NoError(t, r.UpdatePreference(ctx, p))
	assert.Contains(t, cache.invalidated, "u1/billing")
}
