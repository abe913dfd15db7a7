package repositories

import (
	"context"

	domain "github.com/hanko-field/orders/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Stock() StockLedger
	Catalog() ProductCatalog
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
// Repositories invoked with the context passed to fn participate in the transaction.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// StockLedger guards per-product available quantity. TryReserve must re-check availability and
// decrement atomically; it returns false rather than driving the count negative.
type StockLedger interface {
	Available(ctx context.Context, productID string) (int64, error)
	TryReserve(ctx context.Context, productID string, qty int64) (bool, error)
	Release(ctx context.Context, productID string, qty int64) error
}

// ProductCatalog resolves the name and price snapshot for products referenced by a cart.
type ProductCatalog interface {
	FindProducts(ctx context.Context, productIDs []string) (map[string]domain.Product, error)
}

// OrderRepository persists order aggregates. FindByID returns a not-found RepositoryError when the
// order does not exist and locks the order when called inside a unit of work.
type OrderRepository interface {
	Save(ctx context.Context, order domain.Order) (domain.Order, error)
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByUser(ctx context.Context, userID string, criteria OrderCriteria, page domain.Pagination) (domain.CursorPage[domain.Order], error)
	FindAll(ctx context.Context, criteria OrderCriteria, page domain.Pagination) (domain.CursorPage[domain.Order], error)
}

// UserDirectory looks up customers by id. Missing users yield a not-found RepositoryError.
type UserDirectory interface {
	FindByID(ctx context.Context, userID string) (domain.User, error)
}
