// Package notifications queues templated customer and operator notifications and delivers them by
// email from a worker.
package notifications

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/platform/jobs"
)

// Envelope is the queued wire form of a notification.
type Envelope struct {
	TemplateID    string         `json:"template_id"`
	Recipient     string         `json:"recipient"`
	Data          map[string]any `json:"data,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	QueuedAt      time.Time      `json:"queued_at"`
}

// Recorder observes dispatch attempts.
type Recorder interface {
	NotificationDispatched(channel string, err error)
}

// Dispatcher publishes notifications to a jobs topic and satisfies services.NotificationDispatcher.
type Dispatcher struct {
	publisher jobs.Publisher
	channel   string
	recorder  Recorder
	clock     func() time.Time
}

// DispatcherOption customises the Dispatcher.
type DispatcherOption func(*Dispatcher)

func WithRecorder(recorder Recorder) DispatcherOption {
	return func(d *Dispatcher) { d.recorder = recorder }
}

func WithClock(clock func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		if clock != nil {
			d.clock = clock
		}
	}
}

// NewDispatcher constructs a dispatcher. channel labels metrics, e.g. "pubsub" or "nats".
func NewDispatcher(publisher jobs.Publisher, channel string, opts ...DispatcherOption) (*Dispatcher, error) {
	if publisher == nil {
		return nil, errors.New("notification dispatcher: publisher is required")
	}
	d := &Dispatcher{publisher: publisher, channel: channel, clock: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Send validates and enqueues notification.
func (d *Dispatcher) Send(ctx context.Context, notification domain.Notification) error {
	err := d.send(ctx, notification)
	if d.recorder != nil {
		d.recorder.NotificationDispatched(d.channel, err)
	}
	return err
}

func (d *Dispatcher) send(ctx context.Context, notification domain.Notification) error {
	templateID := strings.TrimSpace(notification.TemplateID)
	recipient := strings.TrimSpace(notification.Recipient)
	if templateID == "" || recipient == "" {
		return errors.New("notification dispatcher: template id and recipient are required")
	}
	if _, ok := templates[templateID]; !ok {
		return fmt.Errorf("notification dispatcher: unknown template %q", templateID)
	}
	envelope := Envelope{
		TemplateID:    templateID,
		Recipient:     recipient,
		Data:          notification.Data,
		CorrelationID: notification.CorrelationID,
		QueuedAt:      d.clock().UTC(),
	}
	_, err := jobs.PublishJSON(ctx, d.publisher, envelope, map[string]string{
		jobs.AttrKind:          templateID,
		jobs.AttrCorrelationID: notification.CorrelationID,
	})
	if err != nil {
		return fmt.Errorf("notification dispatcher: %w", err)
	}
	return nil
}
