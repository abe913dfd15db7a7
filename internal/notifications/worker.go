package notifications

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/hanko-field/orders/internal/platform/jobs"
)

// Worker renders queued envelopes and hands them to a Sender.
type Worker struct {
	sender Sender
	logger *zap.Logger
}

func NewWorker(sender Sender, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{sender: sender, logger: logger}
}

// Handle is a jobs.Handler. Unknown templates and undeliverable addresses are permanent failures;
// transport errors are retried.
func (w *Worker) Handle(ctx context.Context, msg jobs.Message) error {
	var envelope Envelope
	if err := jobs.Decode(msg, &envelope); err != nil {
		return err
	}
	subject, body, err := Render(envelope.TemplateID, envelope.Data)
	if err != nil {
		return jobs.Permanent(err)
	}
	err = w.sender.Deliver(ctx, Email{
		To:            envelope.Recipient,
		Subject:       subject,
		Body:          body,
		CorrelationID: envelope.CorrelationID,
	})
	if errors.Is(err, ErrInvalidAddress) {
		return jobs.Permanent(err)
	}
	if err != nil {
		return fmt.Errorf("deliver %s: %w", envelope.TemplateID, err)
	}
	w.logger.Debug("notification delivered",
		zap.String("template", envelope.TemplateID),
		zap.String("correlationId", envelope.CorrelationID),
	)
	return nil
}
