package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/platform/idempotency"
	"github.com/hanko-field/orders/internal/platform/jobs"
	"github.com/hanko-field/orders/internal/platform/observability"
	"github.com/hanko-field/orders/internal/services"
)

const (
	settlementKeyPrefix = "settlement:"
	settlementQueue     = "payment-settlements"
)

// Settler applies settlement events; services.PaymentSettlementService satisfies it.
type Settler interface {
	ApplySettlement(ctx context.Context, event domain.PaymentSettlementEvent) error
}

// SettlementArchiver keeps a copy of each applied event.
type SettlementArchiver interface {
	ArchiveSettlement(ctx context.Context, event domain.PaymentSettlementEvent) (string, error)
}

// SettlementConsumer applies queued settlement events at most once per event id.
type SettlementConsumer struct {
	settler  Settler
	store    idempotency.Store
	archiver SettlementArchiver
	ttl      time.Duration
	clock    func() time.Time
	logger   *zap.Logger
}

// SettlementConsumerDeps bundles the consumer's collaborators. Archiver is optional.
type SettlementConsumerDeps struct {
	Settler  Settler
	Store    idempotency.Store
	Archiver SettlementArchiver
	TTL      time.Duration
	Clock    func() time.Time
	Logger   *zap.Logger
}

func NewSettlementConsumer(deps SettlementConsumerDeps) (*SettlementConsumer, error) {
	if deps.Settler == nil {
		return nil, errors.New("settlement consumer: settler is required")
	}
	if deps.Store == nil {
		return nil, errors.New("settlement consumer: idempotency store is required")
	}
	c := &SettlementConsumer{
		settler:  deps.Settler,
		store:    deps.Store,
		archiver: deps.Archiver,
		ttl:      deps.TTL,
		clock:    deps.Clock,
		logger:   deps.Logger,
	}
	if c.ttl <= 0 {
		c.ttl = 7 * idempotency.DefaultTTL
	}
	if c.clock == nil {
		c.clock = time.Now
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c, nil
}

// Handle is a jobs.Handler. Escalated settlements are acknowledged because operations have
// already been notified; events that can never apply are dropped; everything else is retried.
func (c *SettlementConsumer) Handle(ctx context.Context, msg jobs.Message) error {
	var event domain.PaymentSettlementEvent
	if err := jobs.Decode(msg, &event); err != nil {
		return err
	}
	if event.EventID == "" {
		event.EventID = msg.ID
	}
	if event.EventID == "" {
		return jobs.Permanent(errors.New("settlement consumer: event id is required"))
	}
	ctx, span := observability.StartConsumerSpan(ctx, settlementQueue, msg.ID)
	defer span.End()
	observability.AnnotateSettlement(ctx, event.EventID, event.OrderID, event.Status)
	logger := c.logger.With(zap.String("eventId", event.EventID), zap.String("orderId", event.OrderID))

	ran, err := idempotency.Once(ctx, c.store, settlementKeyPrefix+event.EventID, c.clock().UTC(), c.ttl, func(ctx context.Context) error {
		return c.settler.ApplySettlement(ctx, event)
	})
	switch {
	case err == nil && !ran:
		logger.Debug("settlement already applied")
		return nil
	case err == nil:
		c.archive(ctx, logger, event)
		return nil
	case errors.Is(err, idempotency.ErrNotRecorded):
		logger.Warn("settlement applied but not recorded", zap.Error(err))
		c.archive(ctx, logger, event)
		return nil
	case errors.Is(err, idempotency.ErrInProgress):
		return fmt.Errorf("settlement consumer: %w", err)
	case errors.Is(err, services.ErrUnrecognizedPaymentStatus), errors.Is(err, services.ErrInvalidOrder):
		return jobs.Permanent(fmt.Errorf("settlement consumer: %w", err))
	}

	var svcErr *services.OrderServiceError
	if errors.As(err, &svcErr) {
		logger.Error("settlement escalated", zap.Error(err))
		return jobs.Permanent(err)
	}
	return fmt.Errorf("settlement consumer: %w", err)
}

func (c *SettlementConsumer) archive(ctx context.Context, logger *zap.Logger, event domain.PaymentSettlementEvent) {
	if c.archiver == nil {
		return
	}
	object, err := c.archiver.ArchiveSettlement(ctx, event)
	if err != nil {
		logger.Warn("settlement archive failed", zap.Error(err))
		return
	}
	logger.Debug("settlement archived", zap.String("object", object))
}
