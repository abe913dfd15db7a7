package services

import (
	"context"
	"sync"
	"testing"
	"time"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/repositories"
	"github.com/hanko-field/orders/internal/repositories/memory"
)

var testNow = time.Date(2025, 5, 1, 9, 30, 0, 0, time.UTC)

type recordingNotifier struct {
	mu     sync.Mutex
	sent   []Notification
	failOn map[string]error
}

func (n *recordingNotifier) Send(_ context.Context, notification Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification)
	if err, ok := n.failOn[notification.TemplateID]; ok {
		return err
	}
	return nil
}

func (n *recordingNotifier) templates() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.sent))
	for _, s := range n.sent {
		out = append(out, s.TemplateID)
	}
	return out
}

type stubGateway struct {
	requests []CheckoutSessionRequest
	err      error
}

func (g *stubGateway) RequestCheckoutSession(_ context.Context, req CheckoutSessionRequest) error {
	g.requests = append(g.requests, req)
	return g.err
}

type recordingReporter struct {
	errs []error
	tags []map[string]string
}

func (r *recordingReporter) Report(_ context.Context, err error, tags map[string]string) {
	r.errs = append(r.errs, err)
	r.tags = append(r.tags, tags)
}

type countingMetrics struct {
	created   int
	rejected  []string
	cancelled []bool
	outcomes  []string
	escalated int
}

func (m *countingMetrics) OrderCreated(string, int64, int) { m.created++ }
func (m *countingMetrics) StockRejected(productID string)  { m.rejected = append(m.rejected, productID) }
func (m *countingMetrics) OrderCancelled(admin bool)       { m.cancelled = append(m.cancelled, admin) }
func (m *countingMetrics) SettlementApplied(status, outcome string) {
	m.outcomes = append(m.outcomes, status+":"+outcome)
}
func (m *countingMetrics) SettlementEscalated() { m.escalated++ }

// stubStock wraps a ledger so individual calls can be overridden.
type stubStock struct {
	repositories.StockLedger
	reserveFn func(ctx context.Context, productID string, qty int64) (bool, error)
	releases  []string
}

func (s *stubStock) TryReserve(ctx context.Context, productID string, qty int64) (bool, error) {
	if s.reserveFn != nil {
		return s.reserveFn(ctx, productID, qty)
	}
	return s.StockLedger.TryReserve(ctx, productID, qty)
}

func (s *stubStock) Release(ctx context.Context, productID string, qty int64) error {
	s.releases = append(s.releases, productID)
	return s.StockLedger.Release(ctx, productID, qty)
}

// stubOrders wraps an order repository so Save can be forced to fail.
type stubOrders struct {
	repositories.OrderRepository
	saveFn func(ctx context.Context, order domain.Order) (domain.Order, error)
	saves  int
}

func (s *stubOrders) Save(ctx context.Context, order domain.Order) (domain.Order, error) {
	s.saves++
	if s.saveFn != nil {
		return s.saveFn(ctx, order)
	}
	return s.OrderRepository.Save(ctx, order)
}

type fixture struct {
	store    *memory.Store
	users    *memory.UserDirectory
	notifier *recordingNotifier
	gateway  *stubGateway
	reporter *recordingReporter
	metrics  *countingMetrics
	logs     []string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	store.PutProduct(domain.Product{ID: "prod_p", Name: "Brush Set", UnitPrice: domain.NewMoney(1200, "JPY"), Available: 5})
	store.PutProduct(domain.Product{ID: "prod_q", Name: "Ink Stone", UnitPrice: domain.NewMoney(500, "JPY"), Available: 1})

	users := memory.NewUserDirectory(
		domain.User{ID: "user-1", Email: "aiko@example.com", DisplayName: "Aiko"},
		domain.User{ID: "user-2", Email: "ken@example.com", DisplayName: "Ken"},
		domain.User{ID: "ops", Email: "ops@example.com", DisplayName: "Ops"},
	)
	return &fixture{
		store:    store,
		users:    users,
		notifier: &recordingNotifier{},
		gateway:  &stubGateway{},
		reporter: &recordingReporter{},
		metrics:  &countingMetrics{},
	}
}

func (f *fixture) logger(_ context.Context, event string, _ map[string]any) {
	f.logs = append(f.logs, event)
}

func (f *fixture) logged(event string) bool {
	for _, e := range f.logs {
		if e == event {
			return true
		}
	}
	return false
}

func (f *fixture) lifecycle(t *testing.T, mutate func(*OrderLifecycleServiceDeps)) OrderLifecycleService {
	t.Helper()
	seq := 0
	deps := OrderLifecycleServiceDeps{
		Orders:        f.store.Orders(),
		Stock:         f.store.Stock(),
		Catalog:       f.store.Catalog(),
		Users:         f.users,
		Notifications: f.notifier,
		UnitOfWork:    f.store,
		Metrics:       f.metrics,
		Clock:         func() time.Time { return testNow },
		IDGenerator: func() string {
			seq++
			return "TEST" + string(rune('A'+seq-1))
		},
		Logger: f.logger,
	}
	if mutate != nil {
		mutate(&deps)
	}
	svc, err := NewOrderLifecycleService(deps)
	if err != nil {
		t.Fatalf("new lifecycle service: %v", err)
	}
	return svc
}

func (f *fixture) settlement(t *testing.T, mutate func(*PaymentSettlementServiceDeps)) PaymentSettlementService {
	t.Helper()
	deps := PaymentSettlementServiceDeps{
		Orders:        f.store.Orders(),
		Users:         f.users,
		Gateway:       f.gateway,
		Notifications: f.notifier,
		UnitOfWork:    f.store,
		Reporter:      f.reporter,
		Metrics:       f.metrics,
		SuccessURL:    "https://shop.example.com/orders/{ORDER_ID}/complete",
		CancelURL:     "https://shop.example.com/orders/{ORDER_ID}",
		OpsRecipient:  "ops@example.com",
		Clock:         func() time.Time { return testNow },
		Logger:        f.logger,
	}
	if mutate != nil {
		mutate(&deps)
	}
	svc, err := NewPaymentSettlementService(deps)
	if err != nil {
		t.Fatalf("new settlement service: %v", err)
	}
	return svc
}

func (f *fixture) available(t *testing.T, productID string) int64 {
	t.Helper()
	n, err := f.store.Stock().Available(context.Background(), productID)
	if err != nil {
		t.Fatalf("available %s: %v", productID, err)
	}
	return n
}

func (f *fixture) order(t *testing.T, orderID string) Order {
	t.Helper()
	order, err := f.store.Orders().FindByID(context.Background(), orderID)
	if err != nil {
		t.Fatalf("find order %s: %v", orderID, err)
	}
	return order
}

func sampleCommand(userID string, cart ...CartLine) CreateOrderCommand {
	return CreateOrderCommand{
		UserID: userID,
		ShippingAddress: Address{
			Recipient:  "Aiko Tanaka",
			Street:     "1-2-3 Shibuya",
			City:       "Tokyo",
			PostalCode: "150-0002",
			Country:    "jp",
		},
		ShippingMethod: domain.ShippingMethodStandard,
		PaymentMethod:  domain.PaymentMethodCard,
		Cart:           cart,
	}
}
