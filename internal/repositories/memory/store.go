// Package memory provides process-local repositories for local development and tests.
package memory

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/repositories"
)

// Store keeps products, stock and orders in memory and satisfies repositories.Registry.
type Store struct {
	mu       sync.Mutex
	products map[string]domain.Product
	orders   map[string]domain.Order

	txMu sync.Mutex
	now  func() time.Time
}

type txKey struct{}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{
		products: make(map[string]domain.Product),
		orders:   make(map[string]domain.Order),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// PutProduct seeds or replaces a product and its available stock.
func (s *Store) PutProduct(product domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	product.UpdatedAt = s.now()
	s.products[product.ID] = product
}

func (s *Store) Orders() repositories.OrderRepository { return orderRepository{s} }
func (s *Store) Stock() repositories.StockLedger      { return stockLedger{s} }
func (s *Store) Catalog() repositories.ProductCatalog { return productCatalog{s} }

// Close is a no-op.
func (s *Store) Close(context.Context) error { return nil }

// RunInTx serialises transactional bodies. Nested calls on the same context run inline.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return fn(context.WithValue(ctx, txKey{}, true))
}

type stockLedger struct{ s *Store }

func (l stockLedger) Available(_ context.Context, productID string) (int64, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	product, ok := l.s.products[productID]
	if !ok {
		return 0, repositories.NotFound("stock.available", "product "+productID+" not found")
	}
	return product.Available, nil
}

func (l stockLedger) TryReserve(_ context.Context, productID string, qty int64) (bool, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	product, ok := l.s.products[productID]
	if !ok {
		return false, repositories.NotFound("stock.reserve", "product "+productID+" not found")
	}
	if qty <= 0 || product.Available < qty {
		return false, nil
	}
	product.Available -= qty
	product.UpdatedAt = l.s.now()
	l.s.products[productID] = product
	return true, nil
}

func (l stockLedger) Release(_ context.Context, productID string, qty int64) error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	product, ok := l.s.products[productID]
	if !ok {
		return repositories.NotFound("stock.release", "product "+productID+" not found")
	}
	if qty <= 0 {
		return nil
	}
	product.Available += qty
	product.UpdatedAt = l.s.now()
	l.s.products[productID] = product
	return nil
}

type productCatalog struct{ s *Store }

func (c productCatalog) FindProducts(_ context.Context, productIDs []string) (map[string]domain.Product, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	out := make(map[string]domain.Product, len(productIDs))
	for _, id := range productIDs {
		if product, ok := c.s.products[id]; ok {
			out[id] = product
		}
	}
	return out, nil
}

type orderRepository struct{ s *Store }

func (r orderRepository) Save(_ context.Context, order domain.Order) (domain.Order, error) {
	if strings.TrimSpace(order.ID) == "" {
		return domain.Order{}, repositories.NewStoreError("order.save", repositories.StoreErrorUnknown, "order id is required", nil)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored := cloneOrder(order)
	r.s.orders[order.ID] = stored
	return cloneOrder(stored), nil
}

func (r orderRepository) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	order, ok := r.s.orders[orderID]
	if !ok {
		return domain.Order{}, repositories.NotFound("order.find", "order "+orderID+" not found")
	}
	return cloneOrder(order), nil
}

func (r orderRepository) FindByUser(ctx context.Context, userID string, criteria repositories.OrderCriteria, page domain.Pagination) (domain.CursorPage[domain.Order], error) {
	criteria.UserID = userID
	return r.FindAll(ctx, criteria, page)
}

func (r orderRepository) FindAll(_ context.Context, criteria repositories.OrderCriteria, page domain.Pagination) (domain.CursorPage[domain.Order], error) {
	criteria = criteria.WithDefaults()

	r.s.mu.Lock()
	matched := make([]domain.Order, 0, len(r.s.orders))
	for _, order := range r.s.orders {
		if repositories.MatchOrder(criteria, order) {
			matched = append(matched, cloneOrder(order))
		}
	}
	r.s.mu.Unlock()

	repositories.SortOrders(matched, criteria.Sort)
	return repositories.PageOrders(matched, page)
}

func cloneOrder(order domain.Order) domain.Order {
	order.Items = slices.Clone(order.Items)
	order.PaymentDetails = maps.Clone(order.PaymentDetails)
	order.PaymentTransactionID = cloneString(order.PaymentTransactionID)
	order.CheckoutSessionURL = cloneString(order.CheckoutSessionURL)
	order.ReceiptURL = cloneString(order.ReceiptURL)
	return order
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}
