package providers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/notifykit/notifykit/internal/config"
	"github.com/notifykit/notifykit/internal/notification"
)

// WebhookProvider POSTs the notification as JSON to the URL stored on the
// recipient's preference, signing the payload so receivers can authenticate
// it.
type WebhookProvider struct {
	client        *http.Client
	subscriptions SubscriptionSource
	secret        string
	logger        *zap.Logger
}

// NewWebhookProvider creates the outbound webhook provider.
func NewWebhookProvider(cfg config.WebhookConfig, subscriptions SubscriptionSource, logger *zap.Logger) *WebhookProvider {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookProvider{
		client:        &http.Client{Timeout: timeout},
		subscriptions: subscriptions,
		secret:        cfg.SigningSecret,
		logger:        logger,
	}
}

func (p *WebhookProvider) Channel() notification.Channel { return notification.ChannelWebhook }
func (p *WebhookProvider) Name() string                  { return "webhook" }
func (p *WebhookProvider) Priority() int                 { return 1 }

func (p *WebhookProvider) CanDeliver(n *notification.Notification) bool {
	return n.RecipientUserID != ""
}

type webhookPayload struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Type      notification.Type `json:"type"`
	Priority  string            `json:"priority"`
	Category  string            `json:"category,omitempty"`
	ActionURL string            `json:"action_url,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

func (p *WebhookProvider) Send(ctx context.Context, n *notification.Notification) (notification.DeliveryResult, error) {
	pref, err := p.subscriptions.GetPreference(ctx, n.RecipientUserID, "")
	if err != nil {
		if errors.Is(err, notification.ErrPreferenceNotFound) {
			return notification.DeliveryResult{ErrorMessage: "no webhook url configured"}, nil
		}
		return notification.DeliveryResult{ErrorMessage: err.Error()}, nil
	}
	if pref.WebhookURL == "" {
		return notification.DeliveryResult{ErrorMessage: "no webhook url configured"}, nil
	}

	payload, err := json.Marshal(webhookPayload{
		ID:        n.ID,
		Title:     n.Title,
		Message:   n.Message,
		Type:      n.Type,
		Priority:  n.Priority.String(),
		Category:  n.Category,
		ActionURL: n.ActionURL,
		Metadata:  n.Metadata,
		CreatedAt: n.CreatedAt,
	})
	if err != nil {
		return notification.DeliveryResult{ErrorMessage: err.Error()}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, pref.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return notification.DeliveryResult{ErrorMessage: err.Error()}, nil
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-ID", n.ID)
	if p.secret != "" {
		// Signature binds the payload to a timestamp to prevent replay
		timestamp := time.Now().Unix()
		req.Header.Set("X-Webhook-Timestamp", strconv.FormatInt(timestamp, 10))
		req.Header.Set("X-Webhook-Signature", sign(p.secret, timestamp, payload))
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Warn("webhook request failed",
			zap.String("notification_id", n.ID), zap.Error(err))
		return notification.DeliveryResult{ErrorMessage: err.Error()}, nil
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return notification.DeliveryResult{
			Success:          true,
			ProviderResponse: string(body),
		}, nil
	}

	return notification.DeliveryResult{
		ErrorMessage:     fmt.Sprintf("webhook returned status %d", resp.StatusCode),
		ProviderResponse: string(body),
	}, nil
}

// sign computes hex(HMAC-SHA256(secret, "<timestamp>.<payload>")).
func sign(secret string, timestamp int64, payload []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(h, "%d.%s", timestamp, payload)
	return hex.EncodeToString(h.Sum(nil))
}
