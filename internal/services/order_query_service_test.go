package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/repositories"
)

func newQueryFixture(t *testing.T) (*fixture, OrderQueryService) {
	t.Helper()
	f := newFixture(t)
	seed := []struct {
		id     string
		user   string
		total  int64
		status domain.OrderStatus
		age    time.Duration
	}{
		{"ord_a", "user-1", 1200, domain.OrderStatusPending, 3 * time.Hour},
		{"ord_b", "user-1", 5000, domain.OrderStatusConfirmed, 2 * time.Hour},
		{"ord_c", "user-2", 800, domain.OrderStatusPending, time.Hour},
	}
	for _, s := range seed {
		seedOrder(t, f, func(o *Order) {
			o.ID = s.id
			o.UserID = s.user
			o.Total = domain.NewMoney(s.total, "JPY")
			o.Status = s.status
			o.OrderDate = testNow.Add(-s.age)
		})
	}
	svc, err := NewOrderQueryService(OrderQueryServiceDeps{Orders: f.store.Orders()})
	if err != nil {
		t.Fatalf("new query service: %v", err)
	}
	return f, svc
}

func TestOrderQueryServiceGetByID(t *testing.T) {
	_, svc := newQueryFixture(t)
	ctx := context.Background()

	order, err := svc.GetByID(ctx, Caller{UserID: "user-1"}, "ord_a")
	if err != nil || order.ID != "ord_a" {
		t.Fatalf("expected owner lookup to succeed, got %v", err)
	}

	if _, err := svc.GetByID(ctx, Caller{UserID: "user-2"}, "ord_a"); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected access denied for other user, got %v", err)
	}

	if _, err := svc.GetByID(ctx, Caller{UserID: "user-2"}, "ord_missing"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found before access check, got %v", err)
	}

	if _, err := svc.GetByID(ctx, Caller{UserID: "ops", Admin: true}, "ord_a"); err != nil {
		t.Fatalf("expected admin lookup to succeed, got %v", err)
	}
}

func TestOrderQueryServiceGetByIDAdmin(t *testing.T) {
	_, svc := newQueryFixture(t)
	ctx := context.Background()

	order, err := svc.GetByIDAdmin(ctx, Caller{UserID: "ops", Admin: true}, "ord_c")
	if err != nil || order.UserID != "user-2" {
		t.Fatalf("expected admin to read any order, got %v", err)
	}
	if _, err := svc.GetByIDAdmin(ctx, Caller{UserID: "user-2"}, "ord_c"); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected non-admin to be denied, got %v", err)
	}
	if _, err := svc.GetByIDAdmin(ctx, Caller{UserID: "ops", Admin: true}, "ord_missing"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestOrderQueryServiceListForUser(t *testing.T) {
	_, svc := newQueryFixture(t)
	ctx := context.Background()

	page, err := svc.ListForUser(ctx, Caller{UserID: "user-1"}, OrderCriteria{}, Pagination{})
	if err != nil {
		t.Fatalf("list for user: %v", err)
	}
	if len(page.Items) != 2 || page.Items[0].ID != "ord_b" || page.Items[1].ID != "ord_a" {
		t.Fatalf("expected newest-first orders for user-1, got %+v", page.Items)
	}

	if _, err := svc.ListForUser(ctx, Caller{UserID: "user-2"}, OrderCriteria{UserID: "user-1"}, Pagination{}); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected access denied, got %v", err)
	}

	from := int64(2000)
	page, err = svc.ListForUser(ctx, Caller{UserID: "user-1"}, OrderCriteria{Total: domain.RangeQuery[int64]{From: &from}}, Pagination{})
	if err != nil {
		t.Fatalf("list with total filter: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].ID != "ord_b" {
		t.Fatalf("expected only ord_b, got %+v", page.Items)
	}
}

func TestOrderQueryServiceListAll(t *testing.T) {
	_, svc := newQueryFixture(t)
	ctx := context.Background()
	admin := Caller{UserID: "ops", Admin: true}

	if _, err := svc.ListAll(ctx, Caller{UserID: "user-1"}, OrderCriteria{}, Pagination{}); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected non-admin to be denied, got %v", err)
	}

	criteria := OrderCriteria{
		Statuses: []domain.OrderStatus{domain.OrderStatusPending},
		Sort:     repositories.OrderSort{Field: repositories.OrderSortTotal, Order: domain.SortAsc},
	}
	page, err := svc.ListAll(ctx, admin, criteria, Pagination{PageSize: 1})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].ID != "ord_c" || page.NextPageToken == "" {
		t.Fatalf("unexpected first page %+v", page)
	}

	next, err := svc.ListAll(ctx, admin, criteria, Pagination{PageSize: 1, PageToken: page.NextPageToken})
	if err != nil {
		t.Fatalf("list all next page: %v", err)
	}
	if len(next.Items) != 1 || next.Items[0].ID != "ord_a" || next.NextPageToken != "" {
		t.Fatalf("unexpected second page %+v", next)
	}
}

func TestOrderQueryServiceRejectsInvalidCriteria(t *testing.T) {
	_, svc := newQueryFixture(t)
	ctx := context.Background()
	admin := Caller{UserID: "ops", Admin: true}

	_, err := svc.ListAll(ctx, admin, OrderCriteria{Sort: repositories.OrderSort{Field: "customerPassword"}}, Pagination{})
	if !errors.Is(err, ErrInvalidSortParameter) {
		t.Fatalf("expected invalid sort parameter, got %v", err)
	}

	_, err = svc.ListForUser(ctx, Caller{UserID: "user-1"}, OrderCriteria{Sort: repositories.OrderSort{Field: repositories.OrderSortID, Order: "sideways"}}, Pagination{})
	if !errors.Is(err, ErrInvalidSortParameter) {
		t.Fatalf("expected invalid sort direction, got %v", err)
	}

	lo, hi := int64(10), int64(1)
	_, err = svc.ListAll(ctx, admin, OrderCriteria{Total: domain.RangeQuery[int64]{From: &lo, To: &hi}}, Pagination{})
	if !errors.Is(err, ErrInvalidOrder) {
		t.Fatalf("expected inverted range to be rejected, got %v", err)
	}

	_, err = svc.ListAll(ctx, admin, OrderCriteria{}, Pagination{PageToken: "%%%"})
	if !errors.Is(err, ErrInvalidOrder) {
		t.Fatalf("expected bad page token to be rejected, got %v", err)
	}
}
