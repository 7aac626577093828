package providers

import (
	"context"
	"errors"
	"fmt"
	"os"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/notifykit/notifykit/internal/config"
	"github.com/notifykit/notifykit/internal/notification"
)

// SubscriptionSource looks up the recipient's push subscription, stored on
// the default preference row.
type SubscriptionSource interface {
	GetPreference(ctx context.Context, userID, category string) (*notification.Preference, error)
}

// PushProvider delivers push notifications through Firebase Cloud Messaging.
type PushProvider struct {
	client        *messaging.Client
	subscriptions SubscriptionSource
	logger        *zap.Logger
}

// NewPushProvider creates the FCM push provider.
func NewPushProvider(ctx context.Context, cfg config.FirebaseConfig, subscriptions SubscriptionSource, logger *zap.Logger) (*PushProvider, error) {
	if _, err := os.Stat(cfg.CredentialsPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("firebase credentials file not found at %s", cfg.CredentialsPath)
	}

	opt := option.WithCredentialsFile(cfg.CredentialsPath)
	app, err := firebase.NewApp(ctx, nil, opt)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get Firebase messaging client: %w", err)
	}

	return &PushProvider{
		client:        client,
		subscriptions: subscriptions,
		logger:        logger,
	}, nil
}

func (p *PushProvider) Channel() notification.Channel { return notification.ChannelPush }
func (p *PushProvider) Name() string                  { return "fcm" }
func (p *PushProvider) Priority() int                 { return 1 }

// CanDeliver stays cheap: the subscription lookup happens inside Send.
func (p *PushProvider) CanDeliver(n *notification.Notification) bool {
	return n.RecipientUserID != ""
}

func (p *PushProvider) Send(ctx context.Context, n *notification.Notification) (notification.DeliveryResult, error) {
	pref, err := p.subscriptions.GetPreference(ctx, n.RecipientUserID, "")
	if err != nil {
		if errors.Is(err, notification.ErrPreferenceNotFound) {
			return notification.DeliveryResult{ErrorMessage: "no push subscription registered"}, nil
		}
		return notification.DeliveryResult{ErrorMessage: err.Error()}, nil
	}
	if pref.PushEndpoint == "" {
		return notification.DeliveryResult{ErrorMessage: "no push subscription registered"}, nil
	}

	data := make(map[string]string, len(n.Metadata)+2)
	for k, v := range n.Metadata {
		data[k] = v
	}
	data["notification_id"] = n.ID
	if n.ActionURL != "" {
		data["action_url"] = n.ActionURL
	}

	message := &messaging.Message{
		Token: pref.PushEndpoint,
		Notification: &messaging.Notification{
			Title:    n.Title,
			Body:     n.Message,
			ImageURL: n.ImageURL,
		},
		Data: data,
		Android: &messaging.AndroidConfig{
			Priority: androidPriority(n.Priority),
		},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{
				"apns-priority": "10",
			},
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Alert: &messaging.ApsAlert{
						Title: n.Title,
						Body:  n.Message,
					},
					Sound: "default",
				},
			},
		},
	}

	response, err := p.client.Send(ctx, message)
	if err != nil {
		p.logger.Warn("failed to send push notification",
			zap.String("notification_id", n.ID), zap.Error(err))
		return notification.DeliveryResult{ErrorMessage: err.Error()}, nil
	}

	return notification.DeliveryResult{
		Success:          true,
		ProviderResponse: response,
	}, nil
}

func androidPriority(p notification.Priority) string {
	if p >= notification.PriorityHigh {
		return "high"
	}
	return "normal"
}
