package services

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	domain "github.com/hanko-field/orders/internal/domain"
)

func TestOrderLifecycleServiceCreateOrderReservesStock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	svc := f.lifecycle(t, nil)

	order, err := svc.CreateOrder(ctx, Caller{UserID: "user-1"}, sampleCommand("user-1",
		CartLine{ProductID: "prod_p", Quantity: 2},
		CartLine{ProductID: "prod_q", Quantity: 1},
	))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	if order.ID != "ord_TESTA" {
		t.Fatalf("unexpected order id %s", order.ID)
	}
	if order.Status != domain.OrderStatusPending {
		t.Fatalf("expected pending status, got %s", order.Status)
	}
	if order.PaymentStatus != domain.PaymentStatusUnset {
		t.Fatalf("expected unset payment status, got %q", order.PaymentStatus)
	}
	if order.Total.Amount != 2900 || order.Total.Currency != "JPY" {
		t.Fatalf("unexpected total %s", order.Total)
	}
	if len(order.Items) != 2 || order.Items[0].ProductName != "Brush Set" || order.Items[0].UnitPrice.Amount != 1200 {
		t.Fatalf("unexpected line items %+v", order.Items)
	}
	if order.CustomerEmail != "aiko@example.com" {
		t.Fatalf("expected customer email snapshot, got %q", order.CustomerEmail)
	}
	if !order.OrderDate.Equal(testNow) || !order.CreatedAt.Equal(testNow) {
		t.Fatalf("expected timestamps from clock, got %s", order.OrderDate)
	}
	if order.ShippingAddress.Country != "JP" {
		t.Fatalf("expected country to be normalised, got %q", order.ShippingAddress.Country)
	}

	if got := f.available(t, "prod_p"); got != 3 {
		t.Fatalf("expected P stock 3, got %d", got)
	}
	if got := f.available(t, "prod_q"); got != 0 {
		t.Fatalf("expected Q stock 0, got %d", got)
	}

	stored := f.order(t, order.ID)
	if stored.Total != order.Total {
		t.Fatalf("stored order mismatch: %+v", stored)
	}

	if got := f.notifier.templates(); !slices.Equal(got, []string{"order-confirmation"}) {
		t.Fatalf("unexpected notifications %v", got)
	}
	note := f.notifier.sent[0]
	if note.Recipient != "aiko@example.com" || note.CorrelationID != order.ID {
		t.Fatalf("unexpected notification %+v", note)
	}
	if note.Data["total"] != "2900 JPY" {
		t.Fatalf("expected total in notification data, got %v", note.Data["total"])
	}
	if f.metrics.created != 1 {
		t.Fatalf("expected created metric, got %d", f.metrics.created)
	}
	if !f.logged("order.created") {
		t.Fatalf("expected order.created log, got %v", f.logs)
	}
}

func TestOrderLifecycleServiceCreateOrderInsufficientStock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	svc := f.lifecycle(t, nil)

	_, err := svc.CreateOrder(ctx, Caller{UserID: "user-1"}, sampleCommand("user-1",
		CartLine{ProductID: "prod_q", Quantity: 3},
	))
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	var stockErr *InsufficientStockError
	if !errors.As(err, &stockErr) || stockErr.ProductID != "prod_q" || stockErr.Available != 1 {
		t.Fatalf("expected typed stock error for prod_q, got %#v", err)
	}
	if got := f.available(t, "prod_q"); got != 1 {
		t.Fatalf("expected Q stock to remain 1, got %d", got)
	}

	page, err := f.store.Orders().FindAll(ctx, OrderCriteria{}, Pagination{})
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}
	if len(page.Items) != 0 {
		t.Fatalf("expected no order persisted, got %d", len(page.Items))
	}
	if len(f.notifier.sent) != 0 {
		t.Fatalf("expected no notifications, got %v", f.notifier.templates())
	}
}

func TestOrderLifecycleServiceCreateOrderAggregatesRepeatedLines(t *testing.T) {
	f := newFixture(t)
	svc := f.lifecycle(t, nil)

	_, err := svc.CreateOrder(context.Background(), Caller{UserID: "user-1"}, sampleCommand("user-1",
		CartLine{ProductID: "prod_p", Quantity: 3},
		CartLine{ProductID: "prod_p", Quantity: 3},
	))
	var stockErr *InsufficientStockError
	if !errors.As(err, &stockErr) || stockErr.Requested != 6 {
		t.Fatalf("expected aggregated shortfall, got %v", err)
	}
	if got := f.available(t, "prod_p"); got != 5 {
		t.Fatalf("expected P stock untouched, got %d", got)
	}
}

func TestOrderLifecycleServiceCreateOrderCompensatesEarlierLines(t *testing.T) {
	f := newFixture(t)
	stock := &stubStock{StockLedger: f.store.Stock()}
	stock.reserveFn = func(ctx context.Context, productID string, qty int64) (bool, error) {
		if productID == "prod_q" {
			// another checkout took the last unit between the check and the reservation
			return false, nil
		}
		return stock.StockLedger.TryReserve(ctx, productID, qty)
	}
	svc := f.lifecycle(t, func(d *OrderLifecycleServiceDeps) { d.Stock = stock })

	_, err := svc.CreateOrder(context.Background(), Caller{UserID: "user-1"}, sampleCommand("user-1",
		CartLine{ProductID: "prod_p", Quantity: 2},
		CartLine{ProductID: "prod_q", Quantity: 1},
	))
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if !slices.Equal(stock.releases, []string{"prod_p"}) {
		t.Fatalf("expected only P to be released, got %v", stock.releases)
	}
	if got := f.available(t, "prod_p"); got != 5 {
		t.Fatalf("expected P stock restored to 5, got %d", got)
	}
	if !slices.Equal(f.metrics.rejected, []string{"prod_q"}) {
		t.Fatalf("expected rejection metric for Q, got %v", f.metrics.rejected)
	}
}

func TestOrderLifecycleServiceCreateOrderReleasesWhenSaveFails(t *testing.T) {
	f := newFixture(t)
	orders := &stubOrders{OrderRepository: f.store.Orders()}
	orders.saveFn = func(context.Context, domain.Order) (domain.Order, error) {
		return domain.Order{}, errors.New("firestore unavailable")
	}
	svc := f.lifecycle(t, func(d *OrderLifecycleServiceDeps) { d.Orders = orders })

	_, err := svc.CreateOrder(context.Background(), Caller{UserID: "user-1"}, sampleCommand("user-1",
		CartLine{ProductID: "prod_p", Quantity: 2},
		CartLine{ProductID: "prod_q", Quantity: 1},
	))
	var svcErr *OrderServiceError
	if !errors.As(err, &svcErr) {
		t.Fatalf("expected order service error, got %v", err)
	}
	if f.available(t, "prod_p") != 5 || f.available(t, "prod_q") != 1 {
		t.Fatalf("expected all reservations released")
	}
	if !f.logged("order.create.persist_failed") {
		t.Fatalf("expected persist failure log, got %v", f.logs)
	}
}

func TestOrderLifecycleServiceCreateOrderConcurrentLastUnit(t *testing.T) {
	f := newFixture(t)
	svc := f.lifecycle(t, func(d *OrderLifecycleServiceDeps) {
		d.Metrics = nil
		d.Logger = nil
		d.IDGenerator = nil
	})

	const buyers = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CreateOrder(context.Background(), Caller{UserID: "user-1"}, sampleCommand("user-1",
				CartLine{ProductID: "prod_q", Quantity: 1},
			))
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			if !errors.Is(err, ErrInsufficientStock) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 1 {
		t.Fatalf("expected exactly one order, got %d", succeeded)
	}
	if got := f.available(t, "prod_q"); got != 0 {
		t.Fatalf("expected Q stock 0, got %d", got)
	}
}

func TestOrderLifecycleServiceCreateOrderValidation(t *testing.T) {
	f := newFixture(t)
	svc := f.lifecycle(t, nil)
	ctx := context.Background()

	tests := []struct {
		name   string
		caller Caller
		mutate func(*CreateOrderCommand)
		want   error
	}{
		{name: "empty cart", caller: Caller{UserID: "user-1"}, mutate: func(c *CreateOrderCommand) { c.Cart = nil }, want: ErrInvalidOrder},
		{name: "zero quantity", caller: Caller{UserID: "user-1"}, mutate: func(c *CreateOrderCommand) { c.Cart[0].Quantity = 0 }, want: ErrInvalidOrder},
		{name: "unknown product", caller: Caller{UserID: "user-1"}, mutate: func(c *CreateOrderCommand) { c.Cart[0].ProductID = "prod_x" }, want: ErrInvalidOrder},
		{name: "unsupported shipping", caller: Caller{UserID: "user-1"}, mutate: func(c *CreateOrderCommand) { c.ShippingMethod = "DRONE" }, want: ErrInvalidOrder},
		{name: "missing street", caller: Caller{UserID: "user-1"}, mutate: func(c *CreateOrderCommand) { c.ShippingAddress.Street = " " }, want: ErrInvalidOrder},
		{name: "unknown user", caller: Caller{UserID: "ghost"}, mutate: func(c *CreateOrderCommand) { c.UserID = "ghost" }, want: ErrUserNotFound},
		{name: "other user", caller: Caller{UserID: "user-2"}, mutate: nil, want: ErrAccessDenied},
		{name: "anonymous", caller: Caller{}, mutate: nil, want: ErrAccessDenied},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cmd := sampleCommand("user-1", CartLine{ProductID: "prod_p", Quantity: 1})
			if tc.mutate != nil {
				tc.mutate(&cmd)
			}
			_, err := svc.CreateOrder(ctx, tc.caller, cmd)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	if got := f.available(t, "prod_p"); got != 5 {
		t.Fatalf("expected no stock consumed by rejected commands, got %d", got)
	}
}

func TestOrderLifecycleServiceCreateOrderPickupSkipsAddress(t *testing.T) {
	f := newFixture(t)
	svc := f.lifecycle(t, nil)

	cmd := sampleCommand("user-1", CartLine{ProductID: "prod_p", Quantity: 1})
	cmd.ShippingMethod = domain.ShippingMethodPickup
	cmd.ShippingAddress = Address{}
	if _, err := svc.CreateOrder(context.Background(), Caller{UserID: "user-1"}, cmd); err != nil {
		t.Fatalf("expected pickup order without address, got %v", err)
	}
}

func TestOrderLifecycleServiceCreateOrderSanitisesAddress(t *testing.T) {
	f := newFixture(t)
	svc := f.lifecycle(t, nil)

	cmd := sampleCommand("user-1", CartLine{ProductID: "prod_p", Quantity: 1})
	cmd.ShippingAddress.Street = "<script>alert(1)</script>1-2-3 <b>Shibuya</b> & Co"
	order, err := svc.CreateOrder(context.Background(), Caller{UserID: "user-1"}, cmd)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if order.ShippingAddress.Street != "1-2-3 Shibuya & Co" {
		t.Fatalf("unexpected sanitised street %q", order.ShippingAddress.Street)
	}
}

func TestOrderLifecycleServiceCreateOrderStripsEscapedMarkup(t *testing.T) {
	f := newFixture(t)
	svc := f.lifecycle(t, nil)

	cmd := sampleCommand("user-1", CartLine{ProductID: "prod_p", Quantity: 1})
	cmd.ShippingAddress.Street = "&lt;script&gt;alert(1)&lt;/script&gt;Jingumae &amp; Co"
	order, err := svc.CreateOrder(context.Background(), Caller{UserID: "user-1"}, cmd)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if order.ShippingAddress.Street != "Jingumae & Co" {
		t.Fatalf("unexpected sanitised street %q", order.ShippingAddress.Street)
	}
}

func TestOrderLifecycleServiceCreateOrderTruncatesOnRuneBoundary(t *testing.T) {
	f := newFixture(t)
	svc := f.lifecycle(t, nil)

	cmd := sampleCommand("user-1", CartLine{ProductID: "prod_p", Quantity: 1})
	cmd.ShippingAddress.Street = "a" + strings.Repeat("東", 80)
	order, err := svc.CreateOrder(context.Background(), Caller{UserID: "user-1"}, cmd)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	street := order.ShippingAddress.Street
	if !utf8.ValidString(street) {
		t.Fatalf("truncated street is not valid utf-8: %q", street)
	}
	if want := "a" + strings.Repeat("東", 66); street != want {
		t.Fatalf("expected %d bytes, got %d", len(want), len(street))
	}
	if got := f.order(t, order.ID).ShippingAddress.Street; got != street {
		t.Fatalf("expected stored street to match, got %q", got)
	}
}

func TestTruncateUTF8(t *testing.T) {
	cases := []struct {
		in    string
		limit int
		want  string
	}{
		{"Shibuya", 20, "Shibuya"},
		{"Shibuya", 3, "Shi"},
		{"東京都", 4, "東"},
		{"東京都", 6, "東京"},
		{"東京都", 2, ""},
	}
	for _, tc := range cases {
		if got := truncateUTF8(tc.in, tc.limit); got != tc.want {
			t.Fatalf("truncateUTF8(%q, %d) = %q, want %q", tc.in, tc.limit, got, tc.want)
		}
	}
}

func TestOrderLifecycleServiceCreateOrderNotificationFailureIsSwallowed(t *testing.T) {
	f := newFixture(t)
	f.notifier.failOn = map[string]error{"order-confirmation": errors.New("smtp down")}
	svc := f.lifecycle(t, nil)

	order, err := svc.CreateOrder(context.Background(), Caller{UserID: "user-1"}, sampleCommand("user-1",
		CartLine{ProductID: "prod_p", Quantity: 1},
	))
	if err != nil {
		t.Fatalf("expected success despite notification failure, got %v", err)
	}
	if f.order(t, order.ID).Status != domain.OrderStatusPending {
		t.Fatalf("expected order persisted")
	}
	if !f.logged("order.notification.failed") {
		t.Fatalf("expected notification failure log, got %v", f.logs)
	}
}

func TestOrderLifecycleServiceCreateOrderAutoCheckout(t *testing.T) {
	f := newFixture(t)
	settlement := f.settlement(t, nil)
	svc := f.lifecycle(t, func(d *OrderLifecycleServiceDeps) {
		d.Checkout = settlement
		d.AutoCheckout = true
	})

	order, err := svc.CreateOrder(context.Background(), Caller{UserID: "user-1"}, sampleCommand("user-1",
		CartLine{ProductID: "prod_p", Quantity: 1},
	))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if order.PaymentStatus != domain.PaymentStatusPending {
		t.Fatalf("expected payment pending after auto checkout, got %q", order.PaymentStatus)
	}
	if len(f.gateway.requests) != 1 || f.gateway.requests[0].OrderID != order.ID {
		t.Fatalf("expected one checkout request for %s, got %+v", order.ID, f.gateway.requests)
	}
}

func TestOrderLifecycleServiceCancelOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	svc := f.lifecycle(t, nil)

	order, err := svc.CreateOrder(ctx, Caller{UserID: "user-1"}, sampleCommand("user-1",
		CartLine{ProductID: "prod_p", Quantity: 2},
	))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	t.Run("other user is denied", func(t *testing.T) {
		_, err := svc.CancelOrder(ctx, Caller{UserID: "user-2"}, order.ID)
		if !errors.Is(err, ErrAccessDenied) {
			t.Fatalf("expected access denied, got %v", err)
		}
		if f.order(t, order.ID).Status != domain.OrderStatusPending {
			t.Fatalf("expected status to remain pending")
		}
	})

	t.Run("unknown order", func(t *testing.T) {
		_, err := svc.CancelOrder(ctx, Caller{UserID: "user-1"}, "ord_missing")
		if !errors.Is(err, ErrOrderNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	})

	t.Run("owner cancels", func(t *testing.T) {
		cancelled, err := svc.CancelOrder(ctx, Caller{UserID: "user-1"}, order.ID)
		if err != nil {
			t.Fatalf("cancel order: %v", err)
		}
		if cancelled.Status != domain.OrderStatusCancelled {
			t.Fatalf("expected cancelled, got %s", cancelled.Status)
		}
		if got := f.available(t, "prod_p"); got != 3 {
			t.Fatalf("expected reserved stock to stay with the order, got %d", got)
		}
		if got := f.notifier.templates(); !slices.Equal(got, []string{"order-confirmation", "order-cancelled"}) {
			t.Fatalf("unexpected notifications %v", got)
		}
	})

	t.Run("second cancel is rejected", func(t *testing.T) {
		_, err := svc.CancelOrder(ctx, Caller{UserID: "user-1"}, order.ID)
		if !errors.Is(err, ErrOrderCancellation) {
			t.Fatalf("expected cancellation error, got %v", err)
		}
	})
}

func TestOrderLifecycleServiceCancelOrderRejectsConfirmed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	svc := f.lifecycle(t, nil)

	order, err := svc.CreateOrder(ctx, Caller{UserID: "user-1"}, sampleCommand("user-1",
		CartLine{ProductID: "prod_p", Quantity: 1},
	))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	order.Status = domain.OrderStatusConfirmed
	if _, err := f.store.Orders().Save(ctx, order); err != nil {
		t.Fatalf("save: %v", err)
	}

	_, err = svc.CancelOrder(ctx, Caller{UserID: "user-1"}, order.ID)
	if !errors.Is(err, ErrOrderCancellation) {
		t.Fatalf("expected cancellation error, got %v", err)
	}
	if f.order(t, order.ID).Status != domain.OrderStatusConfirmed {
		t.Fatalf("expected confirmed status to be preserved")
	}
}

func TestOrderLifecycleServiceAdminCancelsAnyOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	svc := f.lifecycle(t, nil)

	order, err := svc.CreateOrder(ctx, Caller{UserID: "user-1"}, sampleCommand("user-1",
		CartLine{ProductID: "prod_p", Quantity: 1},
	))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if _, err := svc.CancelOrder(ctx, Caller{UserID: "ops", Admin: true}, order.ID); err != nil {
		t.Fatalf("admin cancel: %v", err)
	}
	if !slices.Equal(f.metrics.cancelled, []bool{true}) {
		t.Fatalf("expected admin cancellation metric, got %v", f.metrics.cancelled)
	}
}

func TestNewOrderLifecycleServiceRequiresDependencies(t *testing.T) {
	if _, err := NewOrderLifecycleService(OrderLifecycleServiceDeps{}); err == nil {
		t.Fatalf("expected error for missing dependencies")
	}
}
