package domain

import "time"

// OrderStatus enumerates the fulfilment state of an order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	OrderStatusShipped   OrderStatus = "SHIPPED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// PaymentStatus enumerates the settlement state of the order's payment. The zero value means no
// checkout has been initiated yet.
type PaymentStatus string

const (
	PaymentStatusUnset     PaymentStatus = ""
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusSucceeded PaymentStatus = "SUCCEEDED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
	PaymentStatusCanceled  PaymentStatus = "CANCELED"
)

// ShippingMethod enumerates delivery options offered at checkout.
type ShippingMethod string

const (
	ShippingMethodStandard ShippingMethod = "STANDARD"
	ShippingMethodExpress  ShippingMethod = "EXPRESS"
	ShippingMethodNextDay  ShippingMethod = "NEXT_DAY"
	ShippingMethodPickup   ShippingMethod = "PICKUP"
)

// PaymentMethod enumerates the tender chosen by the customer.
type PaymentMethod string

const (
	PaymentMethodCard         PaymentMethod = "CARD"
	PaymentMethodPayPal       PaymentMethod = "PAYPAL"
	PaymentMethodBankTransfer PaymentMethod = "BANK_TRANSFER"
)

// Valid reports whether the shipping method is one of the supported values.
func (m ShippingMethod) Valid() bool {
	switch m {
	case ShippingMethodStandard, ShippingMethodExpress, ShippingMethodNextDay, ShippingMethodPickup:
		return true
	default:
		return false
	}
}

// Valid reports whether the payment method is one of the supported values.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCard, PaymentMethodPayPal, PaymentMethodBankTransfer:
		return true
	default:
		return false
	}
}

// Address is the shipping destination captured on the order.
type Address struct {
	Recipient  string
	Street     string
	Line2      string
	City       string
	PostalCode string
	Country    string
}

// Order is the aggregate root for a customer purchase. Line items are fixed once persisted.
type Order struct {
	ID                   string
	UserID               string
	CustomerEmail        string
	CustomerName         string
	Items                []OrderLineItem
	Total                Money
	ShippingAddress      Address
	ShippingMethod       ShippingMethod
	PaymentMethod        PaymentMethod
	Status               OrderStatus
	PaymentStatus        PaymentStatus
	PaymentTransactionID *string
	CheckoutSessionURL   *string
	ReceiptURL           *string
	PaymentDetails       map[string]any
	OrderDate            time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// OrderLineItem snapshots the product name and unit price at order creation.
type OrderLineItem struct {
	ProductID   string
	ProductName string
	Quantity    int64
	UnitPrice   Money
}

// LineTotal returns unit price multiplied by quantity.
func (i OrderLineItem) LineTotal() Money {
	return Money{Amount: i.UnitPrice.Amount * i.Quantity, Currency: i.UnitPrice.Currency}
}

// CartLine is a single requested product and quantity from the customer's cart.
type CartLine struct {
	ProductID string
	Quantity  int64
}

// PaymentSettlementEvent describes the outcome of a checkout session or payment intent. It is
// transient: applied once and discarded.
type PaymentSettlementEvent struct {
	EventID       string         `json:"event_id"`
	OrderID       string         `json:"order_id"`
	TransactionID string         `json:"transaction_id,omitempty"`
	Status        string         `json:"status"`
	Amount        int64          `json:"amount"`
	Currency      string         `json:"currency"`
	CheckoutURL   string         `json:"checkout_url,omitempty"`
	ReceiptURL    string         `json:"receipt_url,omitempty"`
	ErrorDetail   string         `json:"error_detail,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
	OccurredAt    time.Time      `json:"occurred_at"`
}

// CheckoutSessionRequest is the outbound request asking the payment provider to open a session.
type CheckoutSessionRequest struct {
	OrderID       string            `json:"order_id"`
	CustomerEmail string            `json:"customer_email"`
	LineItems     []CheckoutItem    `json:"line_items"`
	SuccessURL    string            `json:"success_url"`
	CancelURL     string            `json:"cancel_url"`
	Currency      string            `json:"currency"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CorrelationID string            `json:"correlation_id"`
}

// CheckoutItem is a line rendered on the provider's hosted checkout page.
type CheckoutItem struct {
	Name       string `json:"name"`
	UnitAmount int64  `json:"unit_amount"`
	Quantity   int64  `json:"quantity"`
}
