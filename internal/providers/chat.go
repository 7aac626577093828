package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/notifykit/notifykit/internal/config"
	"github.com/notifykit/notifykit/internal/notification"
)

// ChatProvider posts notifications to a team-chat incoming webhook
// (Slack-compatible payload).
type ChatProvider struct {
	client     *http.Client
	webhookURL string
	logger     *zap.Logger
}

// NewChatProvider creates the team-chat webhook provider.
func NewChatProvider(cfg config.ChatConfig, logger *zap.Logger) *ChatProvider {
	return &ChatProvider{
		client:     &http.Client{Timeout: 10 * time.Second},
		webhookURL: cfg.WebhookURL,
		logger:     logger,
	}
}

func (p *ChatProvider) Channel() notification.Channel { return notification.ChannelChat }
func (p *ChatProvider) Name() string                  { return "chat" }
func (p *ChatProvider) Priority() int                 { return 1 }

func (p *ChatProvider) CanDeliver(n *notification.Notification) bool {
	return p.webhookURL != ""
}

type chatPayload struct {
	Text string `json:"text"`
}

func (p *ChatProvider) Send(ctx context.Context, n *notification.Notification) (notification.DeliveryResult, error) {
	text := fmt.Sprintf("*%s*\n%s", n.Title, n.Message)
	if n.ActionURL != "" {
		text += "\n" + n.ActionURL
	}

	payload, err := json.Marshal(chatPayload{Text: text})
	if err != nil {
		return notification.DeliveryResult{ErrorMessage: err.Error()}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return notification.DeliveryResult{ErrorMessage: err.Error()}, nil
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Warn("chat webhook request failed",
			zap.String("notification_id", n.ID), zap.Error(err))
		return notification.DeliveryResult{ErrorMessage: err.Error()}, nil
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return notification.DeliveryResult{
			Success:          true,
			ProviderResponse: string(body),
		}, nil
	}

	return notification.DeliveryResult{
		ErrorMessage:     fmt.Sprintf("chat webhook returned status %d", resp.StatusCode),
		ProviderResponse: string(body),
	}, nil
}
