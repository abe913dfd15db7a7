package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hanko-field/orders/internal/payments"
	"github.com/hanko-field/orders/internal/platform/httpx"
	"github.com/hanko-field/orders/internal/platform/jobs"
	"github.com/hanko-field/orders/internal/platform/observability"
	"github.com/hanko-field/orders/internal/platform/requestctx"
)

const (
	maxWebhookBodySize    = 256 * 1024
	stripeSignatureHeader = "Stripe-Signature"
	stripeWebhookProvider = "stripe"
)

// WebhookArchiver stores raw provider payloads.
type WebhookArchiver interface {
	ArchiveWebhook(ctx context.Context, provider, eventID string, payload []byte) (string, error)
}

// PaymentWebhookHandlers verifies PSP webhooks and forwards settlement events to the queue.
type PaymentWebhookHandlers struct {
	translator  *payments.WebhookTranslator
	settlements jobs.Publisher
	archiver    WebhookArchiver
}

// NewPaymentWebhookHandlers builds the handlers. archiver may be nil.
func NewPaymentWebhookHandlers(translator *payments.WebhookTranslator, settlements jobs.Publisher, archiver WebhookArchiver) *PaymentWebhookHandlers {
	return &PaymentWebhookHandlers{translator: translator, settlements: settlements, archiver: archiver}
}

// Routes registers the /webhooks endpoints.
func (h *PaymentWebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments/stripe", h.stripeWebhook)
}

func (h *PaymentWebhookHandlers) stripeWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.translator == nil || h.settlements == nil {
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeWebhookUnavailable, "payment webhooks are not configured", http.StatusServiceUnavailable))
		return
	}
	logger := requestctx.Logger(ctx)

	body, err := readLimitedBody(r, maxWebhookBodySize)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeInvalidRequest, err.Error(), status))
		return
	}

	event, err := h.translator.Verify(body, r.Header.Get(stripeSignatureHeader))
	if err != nil {
		logger.Warn("stripe webhook rejected", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeInvalidSignature, "webhook signature verification failed", http.StatusBadRequest))
		return
	}
	logger = logger.With(zap.String("stripeEventId", event.ID), zap.String("stripeEventType", string(event.Type)))

	if h.archiver != nil {
		if object, err := h.archiver.ArchiveWebhook(ctx, stripeWebhookProvider, event.ID, body); err != nil {
			logger.Warn("stripe webhook archive failed", zap.Error(err))
		} else {
			logger.Debug("stripe webhook archived", zap.String("object", object))
		}
	}

	settlement, ok, err := payments.Translate(event)
	switch {
	case err != nil:
		logger.Warn("stripe webhook not translatable", zap.Error(err))
		writeJSONResponse(w, http.StatusOK, map[string]any{"received": true, "ignored": true})
		return
	case !ok:
		writeJSONResponse(w, http.StatusOK, map[string]any{"received": true, "ignored": true})
		return
	}

	observability.AnnotateSettlement(ctx, settlement.EventID, settlement.OrderID, settlement.Status)
	if err := payments.PublishSettlement(ctx, h.settlements, settlement); err != nil {
		logger.Error("stripe webhook publish failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeSettlementUnavailable, "settlement queue unavailable", http.StatusServiceUnavailable))
		return
	}
	logger.Info("stripe webhook queued",
		zap.String("orderId", settlement.OrderID),
		zap.String("status", settlement.Status),
	)
	writeJSONResponse(w, http.StatusOK, map[string]any{"received": true})
}
