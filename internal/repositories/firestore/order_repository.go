package firestore

import (
	"context"
	"errors"
	"strings"

	"cloud.google.com/go/firestore"

	domain "github.com/hanko-field/orders/internal/domain"
	pfirestore "github.com/hanko-field/orders/internal/platform/firestore"
	"github.com/hanko-field/orders/internal/repositories"
)

// firestore "in" filters accept at most this many values.
const maxInFilterValues = 30

// OrderRepository stores orders keyed by order id.
type OrderRepository struct {
	orders *pfirestore.Collection[orderDocument]
}

// NewOrderRepository constructs the repository over the orders collection.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{orders: pfirestore.NewCollection[orderDocument](provider, ordersCollection)}, nil
}

func (r *OrderRepository) Save(ctx context.Context, order domain.Order) (domain.Order, error) {
	if strings.TrimSpace(order.ID) == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	doc := newOrderDocument(order)
	if err := r.orders.Set(ctx, order.ID, doc); err != nil {
		return domain.Order{}, err
	}
	return doc.toDomain(), nil
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.orders.Get(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, err
	}
	return doc.toDomain(), nil
}

func (r *OrderRepository) FindByUser(ctx context.Context, userID string, criteria repositories.OrderCriteria, page domain.Pagination) (domain.CursorPage[domain.Order], error) {
	criteria.UserID = userID
	return r.FindAll(ctx, criteria, page)
}

// FindAll pushes the equality and range predicates Firestore can serve down to the query and
// evaluates the rest in process.
func (r *OrderRepository) FindAll(ctx context.Context, criteria repositories.OrderCriteria, page domain.Pagination) (domain.CursorPage[domain.Order], error) {
	criteria = criteria.WithDefaults()
	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		if criteria.UserID != "" {
			q = q.Where("userId", "==", criteria.UserID)
		}
		if n := len(criteria.Statuses); n > 0 && n <= maxInFilterValues {
			statuses := make([]string, 0, n)
			for _, s := range criteria.Statuses {
				statuses = append(statuses, string(s))
			}
			q = q.Where("status", "in", statuses)
		}
		if criteria.OrderDate.From != nil {
			q = q.Where("orderDate", ">=", criteria.OrderDate.From.UTC())
		}
		if criteria.OrderDate.To != nil {
			q = q.Where("orderDate", "<=", criteria.OrderDate.To.UTC())
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	matched := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		order := doc.toDomain()
		if repositories.MatchOrder(criteria, order) {
			matched = append(matched, order)
		}
	}
	repositories.SortOrders(matched, criteria.Sort)
	return repositories.PageOrders(matched, page)
}
