package providers

import (
	"context"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"

	"github.com/notifykit/notifykit/internal/config"
	"github.com/notifykit/notifykit/internal/notification"
)

// EmailProvider delivers email notifications using SendGrid.
type EmailProvider struct {
	client *sendgrid.Client
	cfg    config.SendGridConfig
	logger *zap.Logger
}

// NewEmailProvider creates the SendGrid email provider.
func NewEmailProvider(cfg config.SendGridConfig, logger *zap.Logger) *EmailProvider {
	return &EmailProvider{
		client: sendgrid.NewSendClient(cfg.APIKey),
		cfg:    cfg,
		logger: logger,
	}
}

func (p *EmailProvider) Channel() notification.Channel { return notification.ChannelEmail }
func (p *EmailProvider) Name() string                  { return "sendgrid" }
func (p *EmailProvider) Priority() int                 { return 1 }

func (p *EmailProvider) CanDeliver(n *notification.Notification) bool {
	return n.RecipientEmail != ""
}

func (p *EmailProvider) Send(ctx context.Context, n *notification.Notification) (notification.DeliveryResult, error) {
	from := mail.NewEmail(p.cfg.FromName, p.cfg.FromEmail)
	to := mail.NewEmail("", n.RecipientEmail)

	message := mail.NewSingleEmail(from, n.Title, to, n.Message, n.Message)

	// Add custom headers for tracking
	message.SetHeader("X-Notification-ID", n.ID)
	if n.RecipientUserID != "" {
		message.SetHeader("X-User-ID", n.RecipientUserID)
	}

	response, err := p.client.SendWithContext(ctx, message)
	if err != nil {
		p.logger.Warn("failed to send email",
			zap.String("notification_id", n.ID), zap.Error(err))
		return notification.DeliveryResult{ErrorMessage: err.Error()}, nil
	}

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		var messageID string
		if msgIDs, ok := response.Headers["X-Message-Id"]; ok && len(msgIDs) > 0 {
			messageID = msgIDs[0]
		}
		return notification.DeliveryResult{
			Success:          true,
			ProviderResponse: messageID,
		}, nil
	}

	errorMsg := fmt.Sprintf("sendgrid returned status %d: %s", response.StatusCode, response.Body)
	p.logger.Warn("email provider rejected send",
		zap.String("notification_id", n.ID), zap.Int("status", response.StatusCode))
	return notification.DeliveryResult{
		ErrorMessage:     errorMsg,
		ProviderResponse: response.Body,
	}, nil
}
