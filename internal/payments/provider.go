// Package payments connects the order services to the payment provider: it queues checkout
// requests, turns them into hosted checkout sessions, and feeds provider outcomes back as
// settlement events.
package payments

import (
	"context"
	"time"

	domain "github.com/hanko-field/orders/internal/domain"
)

// CheckoutSession is the hosted payment page created for an order.
type CheckoutSession struct {
	ID        string
	URL       string
	IntentID  string
	ExpiresAt time.Time
}

// Provider creates checkout sessions at the PSP. idempotencyKey must be unique per checkout
// attempt so retries of one attempt collapse while a new attempt gets a fresh session.
type Provider interface {
	CreateCheckoutSession(ctx context.Context, req domain.CheckoutSessionRequest, idempotencyKey string) (CheckoutSession, error)
}
