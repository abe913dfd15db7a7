// Package firestore implements the order repositories on Cloud Firestore.
package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/hanko-field/orders/internal/domain"
	pfirestore "github.com/hanko-field/orders/internal/platform/firestore"
)

const meterName = "github.com/hanko-field/orders/internal/repositories/firestore"

// StockLedger keeps available quantity on the product document. Every mutation runs in its own
// transaction so the availability check and the decrement commit together.
type StockLedger struct {
	provider *pfirestore.Provider
	products *pfirestore.Collection[productDocument]
	clock    func() time.Time

	reservations metric.Int64Counter
	releases     metric.Int64Counter
}

// NewStockLedger constructs the ledger over the products collection.
func NewStockLedger(provider *pfirestore.Provider) (*StockLedger, error) {
	if provider == nil {
		return nil, errors.New("stock ledger requires firestore provider")
	}
	meter := otel.GetMeterProvider().Meter(meterName)
	reservations, err := meter.Int64Counter("orders.stock.reservations",
		metric.WithDescription("Guarded stock decrements by result"))
	if err != nil {
		return nil, err
	}
	releases, err := meter.Int64Counter("orders.stock.released_units",
		metric.WithDescription("Units returned to the ledger by compensation"))
	if err != nil {
		return nil, err
	}
	return &StockLedger{
		provider:     provider,
		products:     pfirestore.NewCollection[productDocument](provider, productsCollection),
		clock:        func() time.Time { return time.Now().UTC() },
		reservations: reservations,
		releases:     releases,
	}, nil
}

func (l *StockLedger) Available(ctx context.Context, productID string) (int64, error) {
	doc, err := l.products.Get(ctx, strings.TrimSpace(productID))
	if err != nil {
		return 0, err
	}
	return doc.Available, nil
}

func (l *StockLedger) TryReserve(ctx context.Context, productID string, qty int64) (bool, error) {
	productID = strings.TrimSpace(productID)
	if qty <= 0 {
		return false, nil
	}
	var reserved bool
	err := l.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		reserved = false
		doc, err := l.products.Get(ctx, productID)
		if err != nil {
			return err
		}
		if doc.Available < qty {
			return nil
		}
		ref, err := l.products.Doc(ctx, productID)
		if err != nil {
			return err
		}
		if err := tx.Update(ref, []firestore.Update{
			{Path: "available", Value: doc.Available - qty},
			{Path: "updatedAt", Value: l.clock()},
		}); err != nil {
			return pfirestore.WrapError("products.reserve", err)
		}
		reserved = true
		return nil
	})
	if err != nil {
		return false, err
	}
	result := "rejected"
	if reserved {
		result = "reserved"
	}
	l.reservations.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
	return reserved, nil
}

func (l *StockLedger) Release(ctx context.Context, productID string, qty int64) error {
	productID = strings.TrimSpace(productID)
	if qty <= 0 {
		return nil
	}
	ref, err := l.products.Doc(ctx, productID)
	if err != nil {
		return err
	}
	updates := []firestore.Update{
		{Path: "available", Value: firestore.Increment(qty)},
		{Path: "updatedAt", Value: l.clock()},
	}
	if tx := pfirestore.TxFromContext(ctx); tx != nil {
		err = tx.Update(ref, updates)
	} else {
		_, err = ref.Update(ctx, updates)
	}
	if err != nil {
		return pfirestore.WrapError("products.release", err)
	}
	l.releases.Add(ctx, qty)
	return nil
}

// ProductCatalog reads name and price snapshots from the products collection.
type ProductCatalog struct {
	products *pfirestore.Collection[productDocument]
}

// NewProductCatalog constructs the catalog reader.
func NewProductCatalog(provider *pfirestore.Provider) (*ProductCatalog, error) {
	if provider == nil {
		return nil, errors.New("product catalog requires firestore provider")
	}
	return &ProductCatalog{products: pfirestore.NewCollection[productDocument](provider, productsCollection)}, nil
}

func (c *ProductCatalog) FindProducts(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	docs, err := c.products.GetAll(ctx, productIDs)
	if err != nil {
		return nil, err
	}
	out := make(map[string]domain.Product, len(docs))
	for id, doc := range docs {
		out[id] = doc.toDomain(id)
	}
	return out, nil
}
