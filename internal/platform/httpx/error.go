package httpx

import (
	"context"
	"encoding/json"
	"maps"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/hanko-field/orders/internal/platform/requestctx"
)

// Code is the machine readable "error" value of the envelope. Clients branch on it, so values
// are stable once published.
type Code string

const (
	CodeInvalidRequest       Code = "invalid_request"
	CodeInvalidSort          Code = "invalid_sort"
	CodePayloadTooLarge      Code = "payload_too_large"
	CodeUnauthenticated      Code = "unauthenticated"
	CodeInvalidToken         Code = "invalid_token"
	CodeTokenExpired         Code = "token_expired"
	CodeForbidden            Code = "forbidden"
	CodeOrderNotFound        Code = "order_not_found"
	CodeUserNotFound         Code = "user_not_found"
	CodeInsufficientStock    Code = "insufficient_stock"
	CodeOrderInvalidState    Code = "order_invalid_state"
	CodeCheckoutNotAllowed   Code = "checkout_not_allowed"
	CodeRateLimited          Code = "rate_limited"
	CodeSettlementRetry      Code = "settlement_retry"
	CodeServiceUnavailable   Code = "order_service_unavailable"
	CodeInternal             Code = "internal_server_error"
	CodeOrderError           Code = "order_error"
	CodeInvalidSignature     Code = "invalid_signature"
	CodeWebhookUnavailable   Code = "webhook_unavailable"
	CodeIdempotencyConflict  Code = "idempotency_key_conflict"
	CodeIdempotencyRequired  Code = "idempotency_key_required"
	CodeIdempotencyInFlight  Code = "idempotency_in_progress"
	CodeIdempotencyUnhealthy Code = "idempotency_unavailable"

	CodeInvalidBody             Code = "invalid_body"
	CodeInsufficientRole        Code = "insufficient_role"
	CodeVerificationUnavailable Code = "verification_unavailable"
	CodeSettlementUnavailable   Code = "settlement_unavailable"
	CodePaymentUnavailable      Code = "payment_service_unavailable"
	CodeRouteNotFound           Code = "route_not_found"
	CodeMethodNotAllowed        Code = "method_not_allowed"
	CodeNotImplemented          Code = "not_implemented"
)

const (
	codeLimit    = 80
	messageLimit = 512
	idLimit      = 80
)

// Error is the JSON error envelope returned by the API.
type Error struct {
	Code       Code
	Message    string
	Status     int
	RetryAfter time.Duration
	Details    map[string]any
}

// NewError builds an envelope. A zero status means 500.
func NewError(code Code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:    Code(truncate(clean(string(code)), codeLimit)),
		Message: truncate(clean(message), messageLimit),
		Status:  status,
	}
}

// InsufficientStock reports the product that could not be reserved. Amounts are in units.
func InsufficientStock(productID string, requested, available int64) Error {
	return NewError(CodeInsufficientStock, "insufficient stock", http.StatusConflict).WithDetails(map[string]any{
		"product_id": truncate(clean(productID), idLimit),
		"requested":  requested,
		"available":  max(available, 0),
	})
}

// OrderNotFound reports a missing order without echoing the caller's input back verbatim.
func OrderNotFound(orderID string) Error {
	err := NewError(CodeOrderNotFound, "order not found", http.StatusNotFound)
	if orderID = truncate(clean(orderID), idLimit); orderID != "" {
		err = err.WithDetails(map[string]any{"order_id": orderID})
	}
	return err
}

// WithDetails attaches additional JSON-serialisable fields to the top level of the envelope.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) == 0 {
		return e
	}
	merged := maps.Clone(e.Details)
	if merged == nil {
		merged = make(map[string]any, len(details))
	}
	maps.Copy(merged, details)
	e.Details = merged
	return e
}

// WithRetryAfter asks the client to retry after d, rounded up to whole seconds.
func (e Error) WithRetryAfter(d time.Duration) Error {
	e.RetryAfter = d
	return e
}

// WriteError writes err as JSON along with the request id and trace id of ctx.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	status := err.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}

	payload := make(map[string]any, len(err.Details)+5)
	for k, v := range err.Details {
		payload[k] = v
	}
	payload["error"] = err.Code
	payload["message"] = err.Message
	payload["status"] = status
	if requestID := truncate(clean(middleware.GetReqID(ctx)), idLimit); requestID != "" {
		payload["request_id"] = requestID
	}
	if traceID := requestctx.TraceID(ctx); traceID != "" {
		payload["trace_id"] = traceID
	}

	if err.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(err.RetryAfter.Seconds()))))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func clean(value string) string {
	return strings.TrimSpace(strings.NewReplacer("\n", " ", "\r", " ").Replace(value))
}

// truncate cuts value to at most limit bytes on a rune boundary.
func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(value[cut]) {
		cut--
	}
	return value[:cut]
}
