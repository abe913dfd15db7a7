package payments

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/platform/jobs"
)

// MetadataAttemptID is the checkout metadata key naming the payment attempt. Provider events
// echo it back so settlements from superseded sessions can be recognised.
const MetadataAttemptID = "attempt_id"

// Message kinds carried in the jobs.AttrKind attribute.
const (
	KindCheckoutRequest = "checkout.request"
	KindSettlement      = "payment.settlement"
)

// CheckoutJob is the queued form of a checkout session request. AttemptID is unique per
// InitiateCheckout call and doubles as the provider idempotency key.
type CheckoutJob struct {
	AttemptID   string                        `json:"attempt_id"`
	Request     domain.CheckoutSessionRequest `json:"request"`
	RequestedAt time.Time                     `json:"requested_at"`
}

// GatewayClient queues checkout session requests for the checkout worker. It satisfies
// services.PaymentGatewayClient.
type GatewayClient struct {
	publisher jobs.Publisher
	clock     func() time.Time
}

func NewGatewayClient(publisher jobs.Publisher, clock func() time.Time) (*GatewayClient, error) {
	if publisher == nil {
		return nil, errors.New("payment gateway: publisher is required")
	}
	if clock == nil {
		clock = time.Now
	}
	return &GatewayClient{publisher: publisher, clock: clock}, nil
}

func (g *GatewayClient) RequestCheckoutSession(ctx context.Context, req domain.CheckoutSessionRequest) error {
	if strings.TrimSpace(req.OrderID) == "" {
		return errors.New("payment gateway: order id is required")
	}
	now := g.clock().UTC()
	attempt := strings.TrimSpace(req.Metadata[MetadataAttemptID])
	if attempt == "" {
		attempt = ulid.MustNew(ulid.Timestamp(now), rand.Reader).String()
	}
	job := CheckoutJob{
		AttemptID:   "checkout_" + req.OrderID + "_" + attempt,
		Request:     req,
		RequestedAt: now,
	}
	_, err := jobs.PublishJSON(ctx, g.publisher, job, map[string]string{
		jobs.AttrMessageID:     job.AttemptID,
		jobs.AttrKind:          KindCheckoutRequest,
		jobs.AttrCorrelationID: req.CorrelationID,
	})
	if err != nil {
		return fmt.Errorf("payment gateway: queue checkout for %s: %w", req.OrderID, err)
	}
	return nil
}

// PublishSettlement queues event for the settlement consumer, using the event id as message id.
func PublishSettlement(ctx context.Context, publisher jobs.Publisher, event domain.PaymentSettlementEvent) error {
	if strings.TrimSpace(event.EventID) == "" {
		return errors.New("payments: settlement event id is required")
	}
	_, err := jobs.PublishJSON(ctx, publisher, event, map[string]string{
		jobs.AttrMessageID:     event.EventID,
		jobs.AttrKind:          KindSettlement,
		jobs.AttrCorrelationID: event.OrderID,
	})
	if err != nil {
		return fmt.Errorf("payments: publish settlement %s: %w", event.EventID, err)
	}
	return nil
}
