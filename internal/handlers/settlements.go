package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hanko-field/orders/internal/platform/httpx"
	"github.com/hanko-field/orders/internal/platform/jobs"
	"github.com/hanko-field/orders/internal/platform/requestctx"
)

const (
	maxPushBodySize = 512 * 1024

	// Pub/Sub applies its own backoff to push retries; the header guides other callers.
	settlementRetryAfter = 10 * time.Second
)

type pushEnvelope struct {
	Message struct {
		Data       []byte            `json:"data"`
		Attributes map[string]string `json:"attributes"`
		MessageID  string            `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// SettlementPushHandlers receives Pub/Sub push deliveries of settlement events. Success and
// permanent failures answer 204 so Pub/Sub stops redelivering; transient failures answer 503.
type SettlementPushHandlers struct {
	handle jobs.Handler
}

func NewSettlementPushHandlers(handle jobs.Handler) *SettlementPushHandlers {
	return &SettlementPushHandlers{handle: handle}
}

// Routes registers the /internal endpoints.
func (h *SettlementPushHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments/settlements", h.push)
}

func (h *SettlementPushHandlers) push(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.handle == nil {
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeSettlementUnavailable, "settlement consumer unavailable", http.StatusServiceUnavailable))
		return
	}

	var envelope pushEnvelope
	if !decodeBody(ctx, w, r, maxPushBodySize, &envelope) {
		return
	}
	msg := jobs.Message{
		ID:         envelope.Message.MessageID,
		Data:       envelope.Message.Data,
		Attributes: envelope.Message.Attributes,
	}
	if id := msg.Attributes[jobs.AttrMessageID]; id != "" {
		msg.ID = id
	}

	logger := requestctx.Logger(ctx).With(zap.String("messageId", msg.ID), zap.String("subscription", envelope.Subscription))
	if err := h.handle(ctx, msg); err != nil {
		if jobs.IsPermanent(err) {
			logger.Warn("settlement push dropped", zap.Error(err))
			w.WriteHeader(http.StatusNoContent)
			return
		}
		logger.Warn("settlement push will be retried", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeSettlementRetry, "settlement could not be applied yet", http.StatusServiceUnavailable).
			WithRetryAfter(settlementRetryAfter))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
