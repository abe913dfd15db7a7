package services

import (
	"context"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination             = domain.Pagination
	Order                  = domain.Order
	OrderLineItem          = domain.OrderLineItem
	OrderStatus            = domain.OrderStatus
	PaymentStatus          = domain.PaymentStatus
	Address                = domain.Address
	Money                  = domain.Money
	CartLine               = domain.CartLine
	Notification           = domain.Notification
	PaymentSettlementEvent = domain.PaymentSettlementEvent
	CheckoutSessionRequest = domain.CheckoutSessionRequest
	OrderCriteria          = repositories.OrderCriteria
)

// Caller identifies who is invoking a service operation. It is passed explicitly rather than read
// from ambient request state.
type Caller struct {
	UserID string
	Admin  bool
}

// OrderLifecycleService creates and cancels orders.
type OrderLifecycleService interface {
	CreateOrder(ctx context.Context, caller Caller, cmd CreateOrderCommand) (Order, error)
	CancelOrder(ctx context.Context, caller Caller, orderID string) (Order, error)
}

// PaymentSettlementService opens checkout sessions and applies asynchronous payment outcomes.
type PaymentSettlementService interface {
	InitiateCheckout(ctx context.Context, order Order) (Order, error)
	ApplySettlement(ctx context.Context, event PaymentSettlementEvent) error
}

// OrderQueryService exposes ownership-checked read paths.
type OrderQueryService interface {
	GetByID(ctx context.Context, caller Caller, orderID string) (Order, error)
	GetByIDAdmin(ctx context.Context, caller Caller, orderID string) (Order, error)
	ListForUser(ctx context.Context, caller Caller, criteria OrderCriteria, page Pagination) (domain.CursorPage[Order], error)
	ListAll(ctx context.Context, caller Caller, criteria OrderCriteria, page Pagination) (domain.CursorPage[Order], error)
}

// NotificationDispatcher hands templated notifications to an asynchronous channel.
type NotificationDispatcher interface {
	Send(ctx context.Context, notification Notification) error
}

// PaymentGatewayClient submits checkout session requests to the payment provider. Responses arrive
// later as settlement events correlated by order id.
type PaymentGatewayClient interface {
	RequestCheckoutSession(ctx context.Context, req CheckoutSessionRequest) error
}

// ErrorReporter forwards escalated failures to an error tracking backend.
type ErrorReporter interface {
	Report(ctx context.Context, err error, tags map[string]string)
}

// OrderMetrics records business counters for the order and settlement flows.
type OrderMetrics interface {
	OrderCreated(currency string, amount int64, items int)
	StockRejected(productID string)
	OrderCancelled(admin bool)
	SettlementApplied(status string, outcome string)
	SettlementEscalated()
}

// CreateOrderCommand carries the checkout inputs for a new order.
type CreateOrderCommand struct {
	UserID          string
	ShippingAddress Address
	ShippingMethod  domain.ShippingMethod
	PaymentMethod   domain.PaymentMethod
	Cart            []CartLine
}

type nopMetrics struct{}

func (nopMetrics) OrderCreated(string, int64, int)  {}
func (nopMetrics) StockRejected(string)             {}
func (nopMetrics) OrderCancelled(bool)              {}
func (nopMetrics) SettlementApplied(string, string) {}
func (nopMetrics) SettlementEscalated()             {}

type nopReporter struct{}

func (nopReporter) Report(context.Context, error, map[string]string) {}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}
