package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/platform/auth"
	"github.com/hanko-field/orders/internal/platform/idempotency"
	"github.com/hanko-field/orders/internal/repositories"
	"github.com/hanko-field/orders/internal/services"
)

const createOrderBody = `{
	"shipping_address": {"recipient": "Aiko", "street": "1-2-3 Jingumae", "city": "Tokyo", "postal_code": "150-0001", "country": "JP"},
	"shipping_method": "standard",
	"payment_method": "CARD",
	"items": [{"product_id": "prod_hinoki", "quantity": 2}]
}`

var customer = &auth.Identity{UID: "user_1", Roles: []string{auth.RoleUser}}

func TestOrderHandlersCreateOrder(t *testing.T) {
	var received services.CreateOrderCommand
	var receivedCaller services.Caller
	lifecycle := &stubLifecycle{
		createFn: func(_ context.Context, caller services.Caller, cmd services.CreateOrderCommand) (services.Order, error) {
			receivedCaller, received = caller, cmd
			return sampleOrder("ord_1", cmd.UserID), nil
		},
	}
	router := mountRoutes(customer, NewOrderHandlers(OrderHandlersDeps{Lifecycle: lifecycle}).Routes)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(createOrderBody))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if loc := rr.Header().Get("Location"); loc != "/api/v1/orders/ord_1" {
		t.Fatalf("unexpected location %q", loc)
	}
	if received.UserID != "user_1" || receivedCaller.UserID != "user_1" || receivedCaller.Admin {
		t.Fatalf("unexpected caller %+v / user %q", receivedCaller, received.UserID)
	}
	if received.ShippingMethod != domain.ShippingMethodStandard {
		t.Fatalf("expected shipping method to be normalised, got %q", received.ShippingMethod)
	}
	if len(received.Cart) != 1 || received.Cart[0].ProductID != "prod_hinoki" || received.Cart[0].Quantity != 2 {
		t.Fatalf("unexpected cart %+v", received.Cart)
	}

	var body orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Order.ID != "ord_1" || body.Order.Total.Amount != 3000 || body.Order.Total.Currency != "JPY" {
		t.Fatalf("unexpected order payload %+v", body.Order)
	}
	if len(body.Order.Items) != 1 || body.Order.Items[0].LineTotal.Amount != 3000 {
		t.Fatalf("unexpected items %+v", body.Order.Items)
	}
	if body.Order.TransactionID != "pi_1" {
		t.Fatalf("expected transaction id, got %q", body.Order.TransactionID)
	}
}

func TestOrderHandlersCreateOrderRejectsInvalidBody(t *testing.T) {
	called := false
	lifecycle := &stubLifecycle{
		createFn: func(context.Context, services.Caller, services.CreateOrderCommand) (services.Order, error) {
			called = true
			return services.Order{}, nil
		},
	}
	router := mountRoutes(customer, NewOrderHandlers(OrderHandlersDeps{Lifecycle: lifecycle}).Routes)

	cases := map[string]string{
		"malformed":     `{"items":`,
		"no items":      `{"shipping_address":{"recipient":"A","street":"S","city":"C","postal_code":"P","country":"JP"},"shipping_method":"STANDARD","payment_method":"CARD","items":[]}`,
		"zero quantity": strings.Replace(createOrderBody, `"quantity": 2`, `"quantity": 0`, 1),
		"no address":    `{"shipping_method":"STANDARD","payment_method":"CARD","items":[{"product_id":"p","quantity":1}]}`,
		"empty":         ``,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(payload)))
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body.String())
			}
		})
	}
	if called {
		t.Fatal("service must not be called for invalid bodies")
	}
}

func TestOrderHandlersErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "stock", err: &services.InsufficientStockError{ProductID: "prod_hinoki", Requested: 2, Available: 1}, status: http.StatusConflict, code: "insufficient_stock"},
		{name: "invalid", err: fmt.Errorf("%w: bad", services.ErrInvalidOrder), status: http.StatusBadRequest, code: "invalid_request"},
		{name: "denied", err: services.ErrAccessDenied, status: http.StatusForbidden, code: "forbidden"},
		{name: "user", err: services.ErrUserNotFound, status: http.StatusNotFound, code: "user_not_found"},
		{name: "internal", err: &services.OrderServiceError{Op: "persist order", Err: fmt.Errorf("boom")}, status: http.StatusInternalServerError, code: "order_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			lifecycle := &stubLifecycle{
				createFn: func(context.Context, services.Caller, services.CreateOrderCommand) (services.Order, error) {
					return services.Order{}, tc.err
				},
			}
			router := mountRoutes(customer, NewOrderHandlers(OrderHandlersDeps{Lifecycle: lifecycle}).Routes)
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(createOrderBody)))

			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			var body map[string]any
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode error body: %v", err)
			}
			if body["error"] != tc.code {
				t.Fatalf("expected code %s, got %v", tc.code, body["error"])
			}
			if tc.name == "stock" && (body["product_id"] != "prod_hinoki" || body["requested"] != float64(2) || body["available"] != float64(1)) {
				t.Fatalf("expected product id in stock error, got %v", body)
			}
		})
	}
}

func TestOrderHandlersRequireIdentity(t *testing.T) {
	router := mountRoutes(nil, NewOrderHandlers(OrderHandlersDeps{Lifecycle: &stubLifecycle{}, Queries: &stubQueries{}}).Routes)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestOrderHandlersListOrdersParsesQuery(t *testing.T) {
	var gotCriteria services.OrderCriteria
	var gotPage services.Pagination
	queries := &stubQueries{
		listUserFn: func(_ context.Context, caller services.Caller, criteria services.OrderCriteria, page services.Pagination) (domain.CursorPage[services.Order], error) {
			gotCriteria, gotPage = criteria, page
			return domain.CursorPage[services.Order]{Items: []services.Order{sampleOrder("ord_1", caller.UserID)}, NextPageToken: "next"}, nil
		},
	}
	router := mountRoutes(customer, NewOrderHandlers(OrderHandlersDeps{Queries: queries, MaxPageSize: 50}).Routes)

	url := "/?status=pending,confirmed&payment_method=card&min_total=1000&ordered_after=2025-04-01T00:00:00Z&orderBy=-total&pageSize=500&has_transaction=true"
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, url, nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(gotCriteria.Statuses) != 2 || gotCriteria.Statuses[1] != domain.OrderStatusConfirmed {
		t.Fatalf("unexpected statuses %v", gotCriteria.Statuses)
	}
	if len(gotCriteria.PaymentMethods) != 1 || gotCriteria.PaymentMethods[0] != domain.PaymentMethodCard {
		t.Fatalf("unexpected payment methods %v", gotCriteria.PaymentMethods)
	}
	if gotCriteria.Total.From == nil || *gotCriteria.Total.From != 1000 || gotCriteria.Total.To != nil {
		t.Fatalf("unexpected total range %+v", gotCriteria.Total)
	}
	if gotCriteria.OrderDate.From == nil || gotCriteria.OrderDate.From.Month() != 4 {
		t.Fatalf("unexpected order date range %+v", gotCriteria.OrderDate)
	}
	if gotCriteria.HasTransactionID == nil || !*gotCriteria.HasTransactionID {
		t.Fatal("expected has_transaction filter")
	}
	if gotCriteria.Sort.Field != repositories.OrderSortTotal || gotCriteria.Sort.Order != domain.SortDesc {
		t.Fatalf("unexpected sort %+v", gotCriteria.Sort)
	}
	if gotPage.PageSize != 50 {
		t.Fatalf("expected page size clamped to 50, got %d", gotPage.PageSize)
	}

	var body orderListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Items) != 1 || body.NextPageToken != "next" {
		t.Fatalf("unexpected list response %+v", body)
	}
}

func TestOrderHandlersListOrdersRejectsBadQuery(t *testing.T) {
	router := mountRoutes(customer, NewOrderHandlers(OrderHandlersDeps{Queries: &stubQueries{}}).Routes)
	for _, url := range []string{"/?status=lost", "/?pageSize=abc", "/?ordered_after=yesterday", "/?min_total=1.5", "/?pageToken=not-base64!"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, url, nil))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", url, rr.Code)
		}
	}

	queries := &stubQueries{
		listUserFn: func(context.Context, services.Caller, services.OrderCriteria, services.Pagination) (domain.CursorPage[services.Order], error) {
			return domain.CursorPage[services.Order]{}, fmt.Errorf("%w: %q", services.ErrInvalidSortParameter, "shoeSize")
		},
	}
	router = mountRoutes(customer, NewOrderHandlers(OrderHandlersDeps{Queries: queries}).Routes)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/?orderBy=shoeSize", nil))
	if rr.Code != http.StatusBadRequest || !strings.Contains(rr.Body.String(), "invalid_sort") {
		t.Fatalf("expected invalid_sort 400, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestOrderHandlersGetAndCancel(t *testing.T) {
	queries := &stubQueries{
		getFn: func(_ context.Context, caller services.Caller, orderID string) (services.Order, error) {
			switch orderID {
			case "ord_1":
				return sampleOrder(orderID, caller.UserID), nil
			case "ord_other":
				return services.Order{}, services.ErrAccessDenied
			default:
				return services.Order{}, services.ErrOrderNotFound
			}
		},
	}
	lifecycle := &stubLifecycle{
		cancelFn: func(_ context.Context, _ services.Caller, orderID string) (services.Order, error) {
			if orderID == "ord_shipped" {
				return services.Order{}, fmt.Errorf("%w: order is SHIPPED", services.ErrOrderCancellation)
			}
			order := sampleOrder(orderID, "user_1")
			order.Status = domain.OrderStatusCancelled
			return order, nil
		},
	}
	router := mountRoutes(customer, NewOrderHandlers(OrderHandlersDeps{Lifecycle: lifecycle, Queries: queries}).Routes)

	cases := []struct {
		method, path string
		status       int
	}{
		{http.MethodGet, "/ord_1", http.StatusOK},
		{http.MethodGet, "/ord_other", http.StatusForbidden},
		{http.MethodGet, "/ord_missing", http.StatusNotFound},
		{http.MethodPost, "/ord_1:cancel", http.StatusOK},
		{http.MethodPost, "/ord_shipped:cancel", http.StatusConflict},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(tc.method, tc.path, nil))
		if rr.Code != tc.status {
			t.Fatalf("%s %s: expected %d, got %d: %s", tc.method, tc.path, tc.status, rr.Code, rr.Body.String())
		}
	}
}

func TestOrderHandlersCheckout(t *testing.T) {
	var loaded, initiated string
	queries := &stubQueries{
		getFn: func(_ context.Context, caller services.Caller, orderID string) (services.Order, error) {
			loaded = orderID
			if orderID == "ord_other" {
				return services.Order{}, services.ErrAccessDenied
			}
			return sampleOrder(orderID, caller.UserID), nil
		},
	}
	settlement := &stubSettlement{
		initiateFn: func(_ context.Context, order services.Order) (services.Order, error) {
			initiated = order.ID
			if order.ID == "ord_paid" {
				return services.Order{}, services.ErrCheckoutNotAllowed
			}
			order.PaymentStatus = domain.PaymentStatusPending
			return order, nil
		},
	}
	router := mountRoutes(customer, NewOrderHandlers(OrderHandlersDeps{Queries: queries, Settlement: settlement}).Routes)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/ord_1:checkout", nil))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	if loaded != "ord_1" || initiated != "ord_1" {
		t.Fatalf("expected order to be loaded then checked out, got %q/%q", loaded, initiated)
	}
	if !strings.Contains(rr.Body.String(), `"payment_status":"PENDING"`) {
		t.Fatalf("expected pending payment status in body: %s", rr.Body.String())
	}

	initiated = ""
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/ord_other:checkout", nil))
	if rr.Code != http.StatusForbidden || initiated != "" {
		t.Fatalf("expected 403 without checkout, got %d (initiated %q)", rr.Code, initiated)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/ord_paid:checkout", nil))
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
}

func TestOrderHandlersIdempotentCreate(t *testing.T) {
	calls := 0
	lifecycle := &stubLifecycle{
		createFn: func(_ context.Context, _ services.Caller, cmd services.CreateOrderCommand) (services.Order, error) {
			calls++
			return sampleOrder(fmt.Sprintf("ord_%d", calls), cmd.UserID), nil
		},
	}
	store := idempotency.NewMemoryStore()
	handlers := NewOrderHandlers(OrderHandlersDeps{
		Lifecycle:   lifecycle,
		Idempotency: idempotency.Middleware(store, idempotency.WithClock(func() time.Time { return fixedNow })),
	})
	router := mountRoutes(customer, handlers.Routes)

	send := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(body))
		req.Header.Set(idempotency.HeaderName, "key-1")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr
	}

	first := send(createOrderBody)
	second := send(createOrderBody)
	if first.Code != http.StatusCreated || second.Code != http.StatusCreated {
		t.Fatalf("expected both 201, got %d and %d", first.Code, second.Code)
	}
	if calls != 1 {
		t.Fatalf("expected one create call, got %d", calls)
	}
	if second.Header().Get(idempotency.ReplayHeader) != "true" {
		t.Fatal("expected replay header on retried request")
	}
	if first.Body.String() != second.Body.String() {
		t.Fatal("expected replayed body to match")
	}

	conflict := send(strings.Replace(createOrderBody, `"quantity": 2`, `"quantity": 3`, 1))
	if conflict.Code != http.StatusConflict {
		t.Fatalf("expected 409 for a different body, got %d", conflict.Code)
	}
}

func TestOrderHandlersRateLimitCreate(t *testing.T) {
	lifecycle := &stubLifecycle{
		createFn: func(_ context.Context, _ services.Caller, cmd services.CreateOrderCommand) (services.Order, error) {
			return sampleOrder("ord_1", cmd.UserID), nil
		},
	}
	handlers := NewOrderHandlers(OrderHandlersDeps{
		Lifecycle: lifecycle,
		RateLimit: RateLimit(1, time.Minute, func() time.Time { return fixedNow }),
	})
	router := mountRoutes(customer, handlers.Routes)

	for i, want := range []int{http.StatusCreated, http.StatusTooManyRequests} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(createOrderBody)))
		if rr.Code != want {
			t.Fatalf("request %d: expected %d, got %d", i, want, rr.Code)
		}
		if want == http.StatusTooManyRequests && rr.Header().Get("Retry-After") != "61" {
			t.Fatalf("unexpected Retry-After %q", rr.Header().Get("Retry-After"))
		}
	}
}
