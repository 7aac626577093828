package dispatch

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/notifykit/notifykit/internal/deliverylog"
	"github.com/notifykit/notifykit/internal/monitoring"
	"github.com/notifykit/notifykit/internal/notification"
)

// Dispatcher runs the eligible provider for each channel of a notification's
// effective channel set and records every attempt. One channel's failure
// never blocks the others.
type Dispatcher struct {
	registry *Registry
	recorder *deliverylog.Recorder
	metrics  *monitoring.Metrics
	logger   *zap.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithMetrics sets the dispatch metrics.
func WithMetrics(m *monitoring.Metrics) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithLogger sets the dispatcher logger.
func WithLogger(logger *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// NewDispatcher creates a dispatcher over a provider registry and a delivery
// log recorder.
func NewDispatcher(registry *Registry, recorder *deliverylog.Recorder, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		recorder: recorder,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch sends n over every channel in the effective set, one attempt per
// channel, and appends a delivery log row per attempt. The returned error is
// non-nil only for persistence failures; provider failures are folded into
// the outcome. The notification's attempt counter is incremented in place.
func (d *Dispatcher) Dispatch(ctx context.Context, n *notification.Notification, channels notification.Channel) (notification.DispatchOutcome, error) {
	var outcome notification.DispatchOutcome

	for _, ch := range channels.Split() {
		providerName, result := d.attempt(ctx, n, ch)

		n.DeliveryAttempts++
		if _, err := d.recorder.Record(ctx, n.ID, ch, result); err != nil {
			return outcome, err
		}

		if d.metrics != nil {
			label := "failure"
			if result.Success {
				label = "success"
			}
			d.metrics.RecordDispatchAttempt(ch.String(), label)
			if providerName != "" {
				d.metrics.RecordProviderDuration(ch.String(), providerName, result.Duration.Seconds())
			}
		}

		outcome.Attempts = append(outcome.Attempts, notification.ChannelAttempt{
			Channel:  ch,
			Provider: providerName,
			Result:   result,
		})
	}

	return outcome, nil
}

// attempt selects the first eligible provider for a channel and runs it.
// A missing or vetoing provider yields a synthetic failed result.
func (d *Dispatcher) attempt(ctx context.Context, n *notification.Notification, ch notification.Channel) (string, notification.DeliveryResult) {
	for _, p := range d.registry.ForChannel(ch) {
		if !p.CanDeliver(n) {
			continue
		}
		return p.Name(), d.send(ctx, p, n)
	}

	d.logger.Warn("no eligible provider",
		zap.String("notification_id", n.ID),
		zap.String("channel", ch.String()),
	)
	return "", notification.DeliveryResult{
		Success:      false,
		ErrorMessage: fmt.Sprintf("no eligible provider for channel %s", ch),
	}
}

// send invokes one provider, timing the call and converting errors and
// panics into failed results so one broken provider cannot abort the loop.
func (d *Dispatcher) send(ctx context.Context, p Provider, n *notification.Notification) (result notification.DeliveryResult) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("provider panicked",
				zap.String("provider", p.Name()),
				zap.String("notification_id", n.ID),
				zap.Any("panic", r),
			)
			result = notification.DeliveryResult{
				Success:      false,
				ErrorMessage: fmt.Sprintf("provider %s panicked: %v", p.Name(), r),
				Duration:     time.Since(start),
			}
		}
	}()

	result, err := p.Send(ctx, n)
	result.Duration = time.Since(start)
	if err != nil && result.ErrorMessage == "" {
		result.ErrorMessage = err.Error()
	}
	if err != nil {
		result.Success = false
	}
	return result
}
