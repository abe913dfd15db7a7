package domain

import (
	"slices"
	"strings"
)

var orderStateTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:   {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed: {OrderStatusShipped, OrderStatusCancelled},
}

var paymentStateTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusUnset:   {PaymentStatusPending},
	PaymentStatusPending: {PaymentStatusSucceeded, PaymentStatusFailed, PaymentStatusCanceled},
	// A declined attempt can still be paid within the same session, and a retry's success can
	// arrive after the previous session expired.
	PaymentStatusFailed:   {PaymentStatusSucceeded},
	PaymentStatusCanceled: {PaymentStatusSucceeded},
}

// CanTransitionOrder reports whether the order status machine allows from -> to.
func CanTransitionOrder(from, to OrderStatus) bool {
	return slices.Contains(orderStateTransitions[from], to)
}

// CanTransitionPayment reports whether the payment status machine allows from -> to. Settlement
// events that fail this check are stale or out of order.
func CanTransitionPayment(from, to PaymentStatus) bool {
	return slices.Contains(paymentStateTransitions[from], to)
}

// CheckoutRetryable reports whether a new checkout session may be requested for the payment status.
func CheckoutRetryable(status PaymentStatus) bool {
	switch status {
	case PaymentStatusUnset, PaymentStatusFailed, PaymentStatusCanceled:
		return true
	default:
		return false
	}
}

// ParsePaymentStatus maps provider specific and internal status strings onto PaymentStatus. The
// boolean is false for unrecognised values, which callers must reject.
func ParsePaymentStatus(raw string) (PaymentStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "succeeded", "success", "paid", "complete", "completed":
		return PaymentStatusSucceeded, true
	case "failed", "payment_failed":
		return PaymentStatusFailed, true
	case "canceled", "cancelled", "expired":
		return PaymentStatusCanceled, true
	case "pending", "open", "processing", "requires_action", "session_created":
		return PaymentStatusPending, true
	default:
		return "", false
	}
}

// ParseOrderStatus normalises a status filter value.
func ParseOrderStatus(raw string) (OrderStatus, bool) {
	status := OrderStatus(strings.ToUpper(strings.TrimSpace(raw)))
	switch status {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusShipped, OrderStatusCancelled:
		return status, true
	default:
		return "", false
	}
}
