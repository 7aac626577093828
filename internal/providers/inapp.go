package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/notifykit/notifykit/internal/notification"
)

// Publisher pushes an in-app payload to the recipient's real-time channel.
// Implemented by the redis client.
type Publisher interface {
	PublishInApp(ctx context.Context, userID string, payload []byte) error
}

// InAppProvider delivers to the recipient's in-app inbox. The stored
// notification row is the inbox entry; the publisher additionally fans the
// payload out to connected clients.
type InAppProvider struct {
	publisher Publisher
	priority  int
}

// NewInAppProvider creates the in-app provider. publisher may be nil when no
// real-time transport is configured.
func NewInAppProvider(publisher Publisher) *InAppProvider {
	return &InAppProvider{publisher: publisher, priority: 1}
}

func (p *InAppProvider) Channel() notification.Channel { return notification.ChannelInApp }
func (p *InAppProvider) Name() string                  { return "inapp" }
func (p *InAppProvider) Priority() int                 { return p.priority }

func (p *InAppProvider) CanDeliver(n *notification.Notification) bool {
	return n.RecipientUserID != ""
}

type inAppPayload struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Type      notification.Type `json:"type"`
	ActionURL string            `json:"action_url,omitempty"`
	ImageURL  string            `json:"image_url,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

func (p *InAppProvider) Send(ctx context.Context, n *notification.Notification) (notification.DeliveryResult, error) {
	if p.publisher == nil {
		// No real-time transport; the persisted row alone is the delivery
		return notification.DeliveryResult{Success: true, ProviderResponse: "stored"}, nil
	}

	payload, err := json.Marshal(inAppPayload{
		ID:        n.ID,
		Title:     n.Title,
		Message:   n.Message,
		Type:      n.Type,
		ActionURL: n.ActionURL,
		ImageURL:  n.ImageURL,
		CreatedAt: n.CreatedAt,
	})
	if err != nil {
		return notification.DeliveryResult{ErrorMessage: err.Error()}, fmt.Errorf("failed to marshal in-app payload: %w", err)
	}

	if err := p.publisher.PublishInApp(ctx, n.RecipientUserID, payload); err != nil {
		return notification.DeliveryResult{ErrorMessage: err.Error()}, err
	}
	return notification.DeliveryResult{Success: true, ProviderResponse: "published"}, nil
}
