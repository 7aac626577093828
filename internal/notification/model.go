package notification

import (
	"strings"
	"time"
)

// Channel is a bit-set of delivery channels so a notification or preference
// can target an arbitrary subset via bitwise composition.
type Channel uint8

const (
	ChannelNone    Channel = 0
	ChannelInApp   Channel = 1 << 0
	ChannelEmail   Channel = 1 << 1
	ChannelPush    Channel = 1 << 2
	ChannelWebhook Channel = 1 << 3
	ChannelChat    Channel = 1 << 4

	ChannelAll = ChannelInApp | ChannelEmail | ChannelPush | ChannelWebhook | ChannelChat
)

var channelNames = map[Channel]string{
	ChannelInApp:   "in_app",
	ChannelEmail:   "email",
	ChannelPush:    "push",
	ChannelWebhook: "webhook",
	ChannelChat:    "chat",
}

// Has reports whether every bit of c is set in ch.
func (ch Channel) Has(c Channel) bool {
	return ch&c == c && c != ChannelNone
}

// With returns ch with the bits of c added.
func (ch Channel) With(c Channel) Channel {
	return ch | c
}

// Without returns ch with the bits of c cleared.
func (ch Channel) Without(c Channel) Channel {
	return ch &^ c
}

// Split returns the individual channels set in ch, lowest bit first.
func (ch Channel) Split() []Channel {
	var out []Channel
	for c := ChannelInApp; c <= ChannelChat; c <<= 1 {
		if ch&c != 0 {
			out = append(out, c)
		}
	}
	return out
}

// String returns a comma-separated list of channel names, e.g. "in_app,email".
func (ch Channel) String() string {
	if ch == ChannelNone {
		return "none"
	}
	parts := make([]string, 0, 5)
	for _, c := range ch.Split() {
		parts = append(parts, channelNames[c])
	}
	return strings.Join(parts, ",")
}

// ParseChannel parses a single channel name. Unknown names map to ChannelNone.
func ParseChannel(s string) Channel {
	for c, name := range channelNames {
		if name == s {
			return c
		}
	}
	return ChannelNone
}

// ParseChannels parses a list of channel names into a bit-set.
func ParseChannels(names []string) Channel {
	var ch Channel
	for _, n := range names {
		ch |= ParseChannel(n)
	}
	return ch
}

// Priority is an ordered severity level compared numerically against the
// per-user minimum priority floor.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// String returns the priority name.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	}
	return "normal"
}

// ParsePriority parses a priority name, defaulting to PriorityNormal.
func ParsePriority(s string) Priority {
	switch s {
	case "low":
		return PriorityLow
	case "high":
		return PriorityHigh
	case "critical":
		return PriorityCritical
	}
	return PriorityNormal
}

// Status represents the lifecycle state of a notification.
type Status string

const (
	StatusPending   Status = "pending"
	StatusQueued    Status = "queued"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
)

// Type is the cosmetic notification type.
type Type string

const (
	TypeInfo    Type = "info"
	TypeWarning Type = "warning"
	TypeError   Type = "error"
	TypeSuccess Type = "success"
)

// Notification represents one delivery intent.
type Notification struct {
	ID                string            `json:"id" db:"id"`
	Title             string            `json:"title" db:"title"`
	Message           string            `json:"message" db:"message"`
	Type              Type              `json:"type" db:"type"`
	Priority          Priority          `json:"priority" db:"priority"`
	Category          string            `json:"category,omitempty" db:"category"`
	RequestedChannels Channel           `json:"requested_channels" db:"requested_channels"`
	RecipientUserID   string            `json:"recipient_user_id" db:"recipient_user_id"`
	RecipientEmail    string            `json:"recipient_email,omitempty" db:"recipient_email"`
	RecipientPhone    string            `json:"recipient_phone,omitempty" db:"recipient_phone"`
	SenderUserID      string            `json:"sender_user_id,omitempty" db:"sender_user_id"`
	TenantID          string            `json:"tenant_id,omitempty" db:"tenant_id"`
	Status            Status            `json:"status" db:"status"`
	ScheduledFor      *time.Time        `json:"scheduled_for,omitempty" db:"scheduled_for"`
	DeliveredAt       *time.Time        `json:"delivered_at,omitempty" db:"delivered_at"`
	ReadAt            *time.Time        `json:"read_at,omitempty" db:"read_at"`
	ExpiresAt         *time.Time        `json:"expires_at,omitempty" db:"expires_at"`
	DeliveryAttempts  int               `json:"delivery_attempts" db:"delivery_attempts"`
	ErrorMessage      string            `json:"error_message,omitempty" db:"error_message"`
	ActionURL         string            `json:"action_url,omitempty" db:"action_url"`
	ImageURL          string            `json:"image_url,omitempty" db:"image_url"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	Deleted           bool              `json:"-" db:"deleted"`
	CreatedAt         time.Time         `json:"created_at" db:"created_at"`
}

// IsRead reports whether the recipient has acknowledged the notification.
func (n *Notification) IsRead() bool {
	return n.ReadAt != nil
}

// IsExpired reports whether the notification has passed its expiry instant.
func (n *Notification) IsExpired() bool {
	if n.ExpiresAt == nil {
		return false
	}
	return time.Now().After(*n.ExpiresAt)
}

// DeliveryLog is an immutable record of one delivery attempt, child of a
// notification. Attempt numbers are 1-based per channel.
type DeliveryLog struct {
	ID               string    `json:"id" db:"id"`
	NotificationID   string    `json:"notification_id" db:"notification_id"`
	Channel          Channel   `json:"channel" db:"channel"`
	AttemptNumber    int       `json:"attempt_number" db:"attempt_number"`
	IsSuccess        bool      `json:"is_success" db:"is_success"`
	ErrorMessage     string    `json:"error_message,omitempty" db:"error_message"`
	ProviderResponse string    `json:"provider_response,omitempty" db:"provider_response"`
	DurationMs       int64     `json:"duration_ms" db:"duration_ms"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}

// Preference holds one user's delivery configuration for a category.
// Category "" is the user's default preference row.
type Preference struct {
	UserID          string    `json:"user_id" db:"user_id"`
	TenantID        string    `json:"tenant_id,omitempty" db:"tenant_id"`
	Category        string    `json:"category,omitempty" db:"category"`
	EnabledChannels Channel   `json:"enabled_channels" db:"enabled_channels"`
	IsEnabled       bool      `json:"is_enabled" db:"is_enabled"`
	MinimumPriority Priority  `json:"minimum_priority" db:"minimum_priority"`
	Email           string    `json:"email,omitempty" db:"email"`
	Phone           string    `json:"phone,omitempty" db:"phone"`
	PushEndpoint    string    `json:"push_endpoint,omitempty" db:"push_endpoint"`
	PushPublicKey   string    `json:"push_public_key,omitempty" db:"push_public_key"`
	PushAuth        string    `json:"push_auth,omitempty" db:"push_auth"`
	WebhookURL      string    `json:"webhook_url,omitempty" db:"webhook_url"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// PushSubscription is the web-push subscription triple registered by a client.
type PushSubscription struct {
	Endpoint  string `json:"endpoint" validate:"required"`
	PublicKey string `json:"public_key"`
	Auth      string `json:"auth"`
}

// DeliveryResult is the outcome a provider reports for one send attempt.
type DeliveryResult struct {
	Success          bool          `json:"success"`
	ErrorMessage     string        `json:"error_message,omitempty"`
	ProviderResponse string        `json:"provider_response,omitempty"`
	Duration         time.Duration `json:"duration"`
}

// ChannelAttempt pairs a channel with the result of its dispatch attempt.
type ChannelAttempt struct {
	Channel  Channel
	Provider string
	Result   DeliveryResult
}

// DispatchOutcome aggregates the per-channel attempts of one dispatch run.
type DispatchOutcome struct {
	Attempts []ChannelAttempt
}

// Delivered reports whether at least one channel attempt succeeded.
func (o DispatchOutcome) Delivered() bool {
	for _, a := range o.Attempts {
		if a.Result.Success {
			return true
		}
	}
	return false
}

// ErrorMessage concatenates the failures of all unsuccessful channels.
func (o DispatchOutcome) ErrorMessage() string {
	var parts []string
	for _, a := range o.Attempts {
		if !a.Result.Success {
			parts = append(parts, a.Channel.String()+": "+a.Result.ErrorMessage)
		}
	}
	return strings.Join(parts, "; ")
}

// SendRequest carries the caller-supplied fields for a new notification.
type SendRequest struct {
	Title           string            `json:"title" validate:"required"`
	Message         string            `json:"message" validate:"required"`
	Type            Type              `json:"type,omitempty"`
	Priority        *Priority         `json:"priority,omitempty"`
	Category        string            `json:"category,omitempty"`
	Channels        Channel           `json:"channels,omitempty"`
	RecipientUserID string            `json:"recipient_user_id"`
	RecipientEmail  string            `json:"recipient_email,omitempty"`
	RecipientPhone  string            `json:"recipient_phone,omitempty"`
	SenderUserID    string            `json:"sender_user_id,omitempty"`
	TenantID        string            `json:"tenant_id,omitempty"`
	ActionURL       string            `json:"action_url,omitempty"`
	ImageURL        string            `json:"image_url,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	ExpiresAt       *time.Time        `json:"expires_at,omitempty"`
}
