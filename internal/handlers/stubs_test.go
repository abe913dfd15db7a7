package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/platform/auth"
	"github.com/hanko-field/orders/internal/services"
)

var fixedNow = time.Date(2025, 5, 1, 9, 30, 0, 0, time.UTC)

type stubLifecycle struct {
	createFn func(context.Context, services.Caller, services.CreateOrderCommand) (services.Order, error)
	cancelFn func(context.Context, services.Caller, string) (services.Order, error)
}

func (s *stubLifecycle) CreateOrder(ctx context.Context, caller services.Caller, cmd services.CreateOrderCommand) (services.Order, error) {
	if s.createFn != nil {
		return s.createFn(ctx, caller, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubLifecycle) CancelOrder(ctx context.Context, caller services.Caller, orderID string) (services.Order, error) {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, caller, orderID)
	}
	return services.Order{}, errors.New("not implemented")
}

type stubSettlement struct {
	initiateFn func(context.Context, services.Order) (services.Order, error)
}

func (s *stubSettlement) InitiateCheckout(ctx context.Context, order services.Order) (services.Order, error) {
	if s.initiateFn != nil {
		return s.initiateFn(ctx, order)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubSettlement) ApplySettlement(context.Context, services.PaymentSettlementEvent) error {
	return errors.New("not implemented")
}

type stubQueries struct {
	getFn      func(context.Context, services.Caller, string) (services.Order, error)
	getAdminFn func(context.Context, services.Caller, string) (services.Order, error)
	listUserFn func(context.Context, services.Caller, services.OrderCriteria, services.Pagination) (domain.CursorPage[services.Order], error)
	listAllFn  func(context.Context, services.Caller, services.OrderCriteria, services.Pagination) (domain.CursorPage[services.Order], error)
}

func (s *stubQueries) GetByID(ctx context.Context, caller services.Caller, orderID string) (services.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, caller, orderID)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubQueries) GetByIDAdmin(ctx context.Context, caller services.Caller, orderID string) (services.Order, error) {
	if s.getAdminFn != nil {
		return s.getAdminFn(ctx, caller, orderID)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubQueries) ListForUser(ctx context.Context, caller services.Caller, criteria services.OrderCriteria, page services.Pagination) (domain.CursorPage[services.Order], error) {
	if s.listUserFn != nil {
		return s.listUserFn(ctx, caller, criteria, page)
	}
	return domain.CursorPage[services.Order]{}, nil
}

func (s *stubQueries) ListAll(ctx context.Context, caller services.Caller, criteria services.OrderCriteria, page services.Pagination) (domain.CursorPage[services.Order], error) {
	if s.listAllFn != nil {
		return s.listAllFn(ctx, caller, criteria, page)
	}
	return domain.CursorPage[services.Order]{}, nil
}

// withIdentity stands in for the Firebase middleware in tests.
func withIdentity(identity *auth.Identity) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if identity != nil {
				r = r.WithContext(auth.WithIdentity(r.Context(), identity))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func mountRoutes(identity *auth.Identity, register func(chi.Router)) chi.Router {
	r := chi.NewRouter()
	r.Use(withIdentity(identity))
	r.Group(register)
	return r
}

func sampleOrder(id, userID string) services.Order {
	txID := "pi_1"
	return services.Order{
		ID:     id,
		UserID: userID,
		Items: []domain.OrderLineItem{
			{ProductID: "prod_hinoki", ProductName: "Hinoki seal", Quantity: 2, UnitPrice: domain.NewMoney(1500, "JPY")},
		},
		Total:                domain.NewMoney(3000, "JPY"),
		ShippingAddress:      domain.Address{Recipient: "Aiko", Street: "1-2-3 Jingumae", City: "Tokyo", PostalCode: "150-0001", Country: "JP"},
		ShippingMethod:       domain.ShippingMethodStandard,
		PaymentMethod:        domain.PaymentMethodCard,
		Status:               domain.OrderStatusPending,
		PaymentTransactionID: &txID,
		OrderDate:            fixedNow,
		CreatedAt:            fixedNow,
		UpdatedAt:            fixedNow,
	}
}
