package dispatch

import (
	"context"
	"sort"

	"github.com/notifykit/notifykit/internal/notification"
)

// Provider implements delivery for exactly one channel.
type Provider interface {
	// Channel is the single channel this provider serves.
	Channel() notification.Channel

	// Name identifies the provider in logs and delivery records.
	Name() string

	// Priority orders providers serving the same channel; lower runs first.
	Priority() int

	// CanDeliver is a cheap precondition check, a provider-local veto on top
	// of the preference-level decision.
	CanDeliver(n *notification.Notification) bool

	// Send performs the delivery. Ordinary delivery failures come back as a
	// failed DeliveryResult, not an error; a non-nil error is treated the
	// same way by the dispatcher.
	Send(ctx context.Context, n *notification.Notification) (notification.DeliveryResult, error)
}

// Registry holds the registered providers. It is populated once at startup
// and safe for concurrent reads afterwards.
type Registry struct {
	byChannel map[notification.Channel][]Provider
}

// NewRegistry creates a registry with the given providers.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{byChannel: make(map[notification.Channel][]Provider)}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// Register adds a provider, keeping the per-channel list ordered by
// ascending priority. Many providers may serve one channel for failover.
func (r *Registry) Register(p Provider) {
	list := append(r.byChannel[p.Channel()], p)
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Priority() < list[j].Priority()
	})
	r.byChannel[p.Channel()] = list
}

// ForChannel returns the providers serving a channel, lowest priority first.
func (r *Registry) ForChannel(ch notification.Channel) []Provider {
	return r.byChannel[ch]
}
