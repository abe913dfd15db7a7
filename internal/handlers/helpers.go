package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/platform/auth"
	"github.com/hanko-field/orders/internal/platform/httpx"
	"github.com/hanko-field/orders/internal/platform/pagination"
	"github.com/hanko-field/orders/internal/platform/requestctx"
	"github.com/hanko-field/orders/internal/repositories"
	"github.com/hanko-field/orders/internal/services"
)

const defaultMaxBodySize = 64 * 1024

var (
	errEmptyBody    = errors.New("request body is empty")
	errBodyTooLarge = errors.New("request body too large")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = defaultMaxBodySize
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

// decodeBody reads, unmarshals and validates a JSON request body, writing the error response
// itself. It reports whether the handler should continue.
func decodeBody(ctx context.Context, w http.ResponseWriter, r *http.Request, limit int64, dst any) bool {
	body, err := readLimitedBody(r, limit)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError(httpx.CodePayloadTooLarge, "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		default:
			httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeInvalidRequest, err.Error(), http.StatusBadRequest))
		}
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeInvalidRequest, "invalid JSON body", http.StatusBadRequest))
		return false
	}
	if err := validate.Struct(dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeInvalidRequest, describeValidation(err), http.StatusBadRequest))
		return false
	}
	return true
}

func describeValidation(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return "invalid request body"
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// callerFromContext resolves the authenticated caller, writing a 401 when there is none.
func callerFromContext(ctx context.Context, w http.ResponseWriter) (services.Caller, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeUnauthenticated, "authentication required", http.StatusUnauthorized))
		return services.Caller{}, false
	}
	return services.Caller{UserID: strings.TrimSpace(identity.UID), Admin: identity.IsAdmin()}, true
}

// parseListQuery turns list query parameters into repository criteria and a page request.
// Value checks that belong to the service (sort allow-list, inverted ranges, token contents) are
// left to it.
func parseListQuery(r *http.Request, maxPageSize int) (services.OrderCriteria, services.Pagination, error) {
	query := r.URL.Query()
	params, err := pagination.Parse(query, pagination.Options{MaxPageSize: maxPageSize})
	if err != nil {
		return services.OrderCriteria{}, services.Pagination{}, err
	}

	criteria := services.OrderCriteria{
		Search: strings.TrimSpace(query.Get("search")),
		UserID: strings.TrimSpace(query.Get("user_id")),
	}
	for _, raw := range splitValues(query["status"]) {
		status, ok := domain.ParseOrderStatus(raw)
		if !ok {
			return services.OrderCriteria{}, services.Pagination{}, fmt.Errorf("status %q is not supported", raw)
		}
		criteria.Statuses = append(criteria.Statuses, status)
	}
	for _, raw := range splitValues(query["payment_method"]) {
		method := domain.PaymentMethod(strings.ToUpper(raw))
		if !method.Valid() {
			return services.OrderCriteria{}, services.Pagination{}, fmt.Errorf("payment_method %q is not supported", raw)
		}
		criteria.PaymentMethods = append(criteria.PaymentMethods, method)
	}
	if raw := strings.TrimSpace(query.Get("has_transaction")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			return services.OrderCriteria{}, services.Pagination{}, errors.New("has_transaction must be a boolean")
		}
		criteria.HasTransactionID = &value
	}
	if criteria.OrderDate.From, err = parseTimeParam(query.Get("ordered_after")); err != nil {
		return services.OrderCriteria{}, services.Pagination{}, fmt.Errorf("ordered_after %w", err)
	}
	if criteria.OrderDate.To, err = parseTimeParam(query.Get("ordered_before")); err != nil {
		return services.OrderCriteria{}, services.Pagination{}, fmt.Errorf("ordered_before %w", err)
	}
	if criteria.Total.From, err = parseIntParam(query.Get("min_total")); err != nil {
		return services.OrderCriteria{}, services.Pagination{}, fmt.Errorf("min_total %w", err)
	}
	if criteria.Total.To, err = parseIntParam(query.Get("max_total")); err != nil {
		return services.OrderCriteria{}, services.Pagination{}, fmt.Errorf("max_total %w", err)
	}
	if params.OrderBy != "" {
		criteria.Sort.Field = repositories.OrderSortField(params.OrderBy)
		criteria.Sort.Order = domain.SortAsc
		if params.Desc {
			criteria.Sort.Order = domain.SortDesc
		}
	}

	return criteria, services.Pagination{PageSize: params.PageSize, PageToken: params.PageToken}, nil
}

func splitValues(values []string) []string {
	var out []string
	for _, raw := range values {
		for _, part := range strings.Split(raw, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
	}
	return out
}

func parseTimeParam(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, errors.New("must be an RFC3339 timestamp")
	}
	ts = ts.UTC()
	return &ts, nil
}

func parseIntParam(raw string) (*int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, errors.New("must be an integer amount in minor units")
	}
	return &value, nil
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	var stockErr *services.InsufficientStockError
	switch {
	case errors.As(err, &stockErr):
		httpx.WriteError(ctx, w, httpx.InsufficientStock(stockErr.ProductID, stockErr.Requested, stockErr.Available))
	case errors.Is(err, services.ErrInvalidSortParameter):
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeInvalidSort, err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrInvalidOrder):
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeInvalidRequest, err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrAccessDenied):
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeForbidden, "access to the requested order is denied", http.StatusForbidden))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.OrderNotFound(requestctx.CorrelationFrom(ctx).OrderID()))
	case errors.Is(err, services.ErrUserNotFound):
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeUserNotFound, "user not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderCancellation):
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeOrderInvalidState, err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutNotAllowed):
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeCheckoutNotAllowed, err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeOrderError, "failed to process order request", http.StatusInternalServerError))
	}
}
