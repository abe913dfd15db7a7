package payments

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"

	domain "github.com/hanko-field/orders/internal/domain"
)

// ErrInvalidSignature reports a webhook whose Stripe-Signature header does not verify.
var ErrInvalidSignature = errors.New("payments: invalid webhook signature")

// WebhookTranslator verifies Stripe webhooks and turns the payment related ones into settlement
// events.
type WebhookTranslator struct {
	secret    string
	tolerance time.Duration
}

func NewWebhookTranslator(secret string) (*WebhookTranslator, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("payments: webhook secret is required")
	}
	return &WebhookTranslator{secret: secret, tolerance: webhook.DefaultTolerance}, nil
}

// Verify checks the signature and decodes the Stripe event.
func (t *WebhookTranslator) Verify(payload []byte, signature string) (stripe.Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, t.secret, webhook.ConstructEventOptions{
		Tolerance:                t.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripe.Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return event, nil
}

// Translate maps a verified Stripe event onto a settlement event. ok is false for event types
// that carry no settlement information.
func Translate(event stripe.Event) (domain.PaymentSettlementEvent, bool, error) {
	if event.Data == nil {
		return domain.PaymentSettlementEvent{}, false, nil
	}
	base := domain.PaymentSettlementEvent{
		EventID:    event.ID,
		OccurredAt: time.Unix(event.Created, 0).UTC(),
		Details:    map[string]any{"provider": "stripe", "eventType": string(event.Type)},
	}

	switch string(event.Type) {
	case "checkout.session.completed",
		"checkout.session.async_payment_succeeded",
		"checkout.session.async_payment_failed",
		"checkout.session.expired":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return domain.PaymentSettlementEvent{}, false, fmt.Errorf("payments: decode checkout session: %w", err)
		}
		return translateSession(base, string(event.Type), &session)
	case "payment_intent.succeeded",
		"payment_intent.payment_failed",
		"payment_intent.canceled":
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return domain.PaymentSettlementEvent{}, false, fmt.Errorf("payments: decode payment intent: %w", err)
		}
		return translateIntent(base, string(event.Type), &intent)
	default:
		return domain.PaymentSettlementEvent{}, false, nil
	}
}

func translateSession(out domain.PaymentSettlementEvent, eventType string, session *stripe.CheckoutSession) (domain.PaymentSettlementEvent, bool, error) {
	out.OrderID = firstNonEmpty(session.ClientReferenceID, session.Metadata["order_id"])
	if out.OrderID == "" {
		return domain.PaymentSettlementEvent{}, false, fmt.Errorf("payments: checkout session %s has no order reference", session.ID)
	}
	if session.PaymentIntent != nil {
		out.TransactionID = session.PaymentIntent.ID
	}
	out.Amount = session.AmountTotal
	out.Currency = string(session.Currency)
	out.Details["sessionId"] = session.ID
	attemptDetails(session.Metadata, out.Details)

	switch eventType {
	case "checkout.session.completed":
		if session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid {
			out.Status = string(domain.PaymentStatusSucceeded)
		} else {
			out.Status = string(domain.PaymentStatusPending)
		}
	case "checkout.session.async_payment_succeeded":
		out.Status = string(domain.PaymentStatusSucceeded)
	case "checkout.session.async_payment_failed":
		out.Status = string(domain.PaymentStatusFailed)
	case "checkout.session.expired":
		out.Status = string(domain.PaymentStatusCanceled)
	}
	return out, true, nil
}

func translateIntent(out domain.PaymentSettlementEvent, eventType string, intent *stripe.PaymentIntent) (domain.PaymentSettlementEvent, bool, error) {
	out.OrderID = intent.Metadata["order_id"]
	if out.OrderID == "" {
		return domain.PaymentSettlementEvent{}, false, fmt.Errorf("payments: payment intent %s has no order reference", intent.ID)
	}
	out.TransactionID = intent.ID
	out.Amount = intent.Amount
	attemptDetails(intent.Metadata, out.Details)
	out.Currency = string(intent.Currency)
	if intent.LatestCharge != nil && intent.LatestCharge.ReceiptURL != "" {
		out.ReceiptURL = intent.LatestCharge.ReceiptURL
	}

	switch eventType {
	case "payment_intent.succeeded":
		out.Status = string(domain.PaymentStatusSucceeded)
		if intent.AmountReceived != 0 {
			out.Amount = intent.AmountReceived
		}
	case "payment_intent.payment_failed":
		out.Status = string(domain.PaymentStatusFailed)
		if intent.LastPaymentError != nil {
			out.ErrorDetail = intent.LastPaymentError.Msg
		}
	case "payment_intent.canceled":
		out.Status = string(domain.PaymentStatusCanceled)
		if intent.CancellationReason != "" {
			out.ErrorDetail = string(intent.CancellationReason)
		}
	}
	return out, true, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
