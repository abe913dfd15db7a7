package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/platform/jobs"
)

// CheckoutWorker opens provider sessions for queued checkout jobs and reports each result as a
// settlement event: PENDING with the session URL on success, FAILED when the provider rejects
// the request outright.
type CheckoutWorker struct {
	provider    Provider
	settlements jobs.Publisher
	clock       func() time.Time
	logger      *zap.Logger
}

func NewCheckoutWorker(provider Provider, settlements jobs.Publisher, clock func() time.Time, logger *zap.Logger) (*CheckoutWorker, error) {
	if provider == nil {
		return nil, errors.New("checkout worker: provider is required")
	}
	if settlements == nil {
		return nil, errors.New("checkout worker: settlement publisher is required")
	}
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CheckoutWorker{provider: provider, settlements: settlements, clock: clock, logger: logger}, nil
}

// Handle is a jobs.Handler.
func (w *CheckoutWorker) Handle(ctx context.Context, msg jobs.Message) error {
	var job CheckoutJob
	if err := jobs.Decode(msg, &job); err != nil {
		return err
	}
	if job.Request.OrderID == "" || job.AttemptID == "" {
		return jobs.Permanent(fmt.Errorf("checkout worker: message %s has no order or attempt id", msg.ID))
	}

	session, err := w.provider.CreateCheckoutSession(ctx, job.Request, job.AttemptID)
	if err != nil {
		if !IsRejected(err) {
			return fmt.Errorf("checkout worker: order %s: %w", job.Request.OrderID, err)
		}
		w.logger.Warn("checkout session rejected",
			zap.String("orderId", job.Request.OrderID),
			zap.String("attemptId", job.AttemptID),
			zap.Error(err),
		)
		return w.publish(ctx, domain.PaymentSettlementEvent{
			EventID:     job.AttemptID + "_failed",
			OrderID:     job.Request.OrderID,
			Status:      string(domain.PaymentStatusFailed),
			Currency:    job.Request.Currency,
			ErrorDetail: err.Error(),
			Details:     attemptDetails(job.Request.Metadata, map[string]any{"provider": "stripe"}),
			OccurredAt:  w.clock().UTC(),
		})
	}

	return w.publish(ctx, domain.PaymentSettlementEvent{
		EventID:       job.AttemptID + "_session",
		OrderID:       job.Request.OrderID,
		TransactionID: session.IntentID,
		Status:        string(domain.PaymentStatusPending),
		Currency:      job.Request.Currency,
		CheckoutURL:   session.URL,
		Details: attemptDetails(job.Request.Metadata, map[string]any{
			"provider":         "stripe",
			"sessionId":        session.ID,
			"sessionExpiresAt": session.ExpiresAt.Format(time.RFC3339),
		}),
		OccurredAt: w.clock().UTC(),
	})
}

func (w *CheckoutWorker) publish(ctx context.Context, event domain.PaymentSettlementEvent) error {
	if err := PublishSettlement(ctx, w.settlements, event); err != nil {
		return fmt.Errorf("checkout worker: %w", err)
	}
	w.logger.Info("checkout result published",
		zap.String("orderId", event.OrderID),
		zap.String("eventId", event.EventID),
		zap.String("status", event.Status),
	)
	return nil
}

func attemptDetails(metadata map[string]string, details map[string]any) map[string]any {
	if attempt := strings.TrimSpace(metadata[MetadataAttemptID]); attempt != "" {
		details["attemptId"] = attempt
	}
	return details
}
