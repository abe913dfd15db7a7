package firestore

import (
	"context"

	pfirestore "github.com/hanko-field/orders/internal/platform/firestore"
	"github.com/hanko-field/orders/internal/repositories"
)

// Registry groups the Firestore repositories and satisfies repositories.Registry.
type Registry struct {
	*pfirestore.UnitOfWork

	provider *pfirestore.Provider
	orders   *OrderRepository
	stock    *StockLedger
	catalog  *ProductCatalog
}

// NewRegistry builds every Firestore repository over one provider.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	stock, err := NewStockLedger(provider)
	if err != nil {
		return nil, err
	}
	catalog, err := NewProductCatalog(provider)
	if err != nil {
		return nil, err
	}
	return &Registry{
		UnitOfWork: pfirestore.NewUnitOfWork(provider),
		provider:   provider,
		orders:     orders,
		stock:      stock,
		catalog:    catalog,
	}, nil
}

func (r *Registry) Orders() repositories.OrderRepository { return r.orders }
func (r *Registry) Stock() repositories.StockLedger      { return r.stock }
func (r *Registry) Catalog() repositories.ProductCatalog { return r.catalog }
func (r *Registry) Close(ctx context.Context) error      { return r.provider.Close(ctx) }
