package notification

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestChannel_BitwiseComposition(t *testing.T) {
	ch := ChannelInApp | ChannelEmail

	assert.True(t, ch.Has(ChannelInApp))
	assert.True(t, ch.Has(ChannelEmail))
	assert.False(t, ch.Has(ChannelPush))
	assert.False(t, ChannelNone.Has(ChannelInApp))

	ch = ch.With(ChannelPush)
	assert.True(t, ch.Has(ChannelPush))

	ch = ch.Without(ChannelEmail)
	assert.False(t, ch.Has(ChannelEmail))
	assert.True(t, ch.Has(ChannelInApp))
}

func TestChannel_Split(t *testing.T) {
	tests := []struct {
		name string
		ch   Channel
		want []Channel
	}{
		{"none", ChannelNone, nil},
		{"single", ChannelPush, []Channel{ChannelPush}},
		{"multiple", ChannelInApp | ChannelWebhook, []Channel{ChannelInApp, ChannelWebhook}},
		{"all", ChannelAll, []Channel{ChannelInApp, ChannelEmail, ChannelPush, ChannelWebhook, ChannelChat}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.ch.Split())
		})
	}
}

func TestChannel_String(t *testing.T) {
	assert.Equal(t, "none", ChannelNone.String())
	assert.Equal(t, "in_app", ChannelInApp.String())
	assert.Equal(t, "in_app,email", (ChannelInApp | ChannelEmail).String())
}

func TestParseChannels(t *testing.T) {
	assert.Equal(t, ChannelInApp|ChannelEmail, ParseChannels([]string{"in_app", "email"}))
	assert.Equal(t, ChannelNone, ParseChannels(nil))
	assert.Equal(t, ChannelPush, ParseChannels([]string{"push", "bogus"}))
}

func TestPriority_Ordering(t *testing.T) {
	assert.True(t, PriorityLow < PriorityNormal)
	assert.True(t, PriorityNormal < PriorityHigh)
	assert.True(t, PriorityHigh < PriorityCritical)
}

func TestParsePriority(t *testing.T) {
	assert.Equal(t, PriorityLow, ParsePriority("low"))
	assert.Equal(t, PriorityCritical, ParsePriority("critical"))
	assert.Equal(t, PriorityNormal, ParsePriority("unknown"))
}

func TestNotification_IsRead(t *testing.T) {
	n := Notification{}
	assert.False(t, n.IsRead())

	now := time.Now()
	n.ReadAt = &now
	assert.True(t, n.IsRead())
}

func TestNotification_IsExpired(t *testing.T) {
	n := Notification{}
	assert.False(t, n.IsExpired())

	past := time.Now().Add(-time.Hour)
	n.ExpiresAt = &past
	assert.True(t, n.IsExpired())

	future := time.Now().Add(time.Hour)
	n.ExpiresAt = &future
	assert.False(t, n.IsExpired())
}

func TestDispatchOutcome_Delivered(t *testing.T) {
	outcome := DispatchOutcome{Attempts: []ChannelAttempt{
		{Channel: ChannelEmail, Result: DeliveryResult{Success: false, ErrorMessage: "boom"}},
		{Channel: ChannelInApp, Result: DeliveryResult{Success: true}},
	}}
	assert.True(t, outcome.Delivered())

	outcome = DispatchOutcome{Attempts: []ChannelAttempt{
		{Channel: ChannelEmail, Result: DeliveryResult{Success: false, ErrorMessage: "boom"}},
	}}
	assert.False(t, outcome.Delivered())
	assert.Equal(t, "email: boom", outcome.ErrorMessage())

	assert.False(t, DispatchOutcome{}.Delivered())
}

func TestDispatchOutcome_ErrorMessage_ConcatenatesFailures(t *testing.T) {
	outcome := DispatchOutcome{Attempts: []ChannelAttempt{
		{Channel: ChannelEmail, Result: DeliveryResult{ErrorMessage: "smtp down"}},
		{Channel: ChannelPush, Result: DeliveryResult{ErrorMessage: "no subscription"}},
		{Channel: ChannelInApp, Result: DeliveryResult{Success: true}},
	}}
	assert.Equal(t, "email: smtp down; push: no subscription", outcome.ErrorMessage())
}
