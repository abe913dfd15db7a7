package repositories

import (
	"cmp"
	"slices"
	"strings"
	"time"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/platform/pagination"
)

// OrderSortField names a sortable order attribute.
type OrderSortField string

const (
	OrderSortOrderDate     OrderSortField = "orderDate"
	OrderSortCreatedAt     OrderSortField = "createdAt"
	OrderSortUpdatedAt     OrderSortField = "updatedAt"
	OrderSortTotal         OrderSortField = "total"
	OrderSortStatus        OrderSortField = "status"
	OrderSortPaymentStatus OrderSortField = "paymentStatus"
	OrderSortID            OrderSortField = "id"
)

var allowedOrderSortFields = []OrderSortField{
	OrderSortOrderDate,
	OrderSortCreatedAt,
	OrderSortUpdatedAt,
	OrderSortTotal,
	OrderSortStatus,
	OrderSortPaymentStatus,
	OrderSortID,
}

// AllowedOrderSortField reports whether the field is part of the sort allow-list.
func AllowedOrderSortField(field OrderSortField) bool {
	return slices.Contains(allowedOrderSortFields, field)
}

// OrderSort selects the ordering of list results.
type OrderSort struct {
	Field OrderSortField
	Order domain.SortOrder
}

// OrderCriteria combines optional predicates with a logical AND. Zero-valued fields do not filter.
type OrderCriteria struct {
	Search           string
	Statuses         []domain.OrderStatus
	Total            domain.RangeQuery[int64]
	OrderDate        domain.RangeQuery[time.Time]
	UserID           string
	PaymentMethods   []domain.PaymentMethod
	HasTransactionID *bool
	Sort             OrderSort
}

// WithDefaults fills in the default sort (newest order date first).
func (c OrderCriteria) WithDefaults() OrderCriteria {
	if c.Sort.Field == "" {
		c.Sort.Field = OrderSortOrderDate
	}
	if c.Sort.Order == "" {
		c.Sort.Order = domain.SortDesc
	}
	return c
}

// MatchOrder evaluates the criteria against an order in memory. Backends that cannot express
// every predicate natively use it to post-filter.
func MatchOrder(c OrderCriteria, order domain.Order) bool {
	if c.UserID != "" && order.UserID != c.UserID {
		return false
	}
	if len(c.Statuses) > 0 && !slices.Contains(c.Statuses, order.Status) {
		return false
	}
	if len(c.PaymentMethods) > 0 && !slices.Contains(c.PaymentMethods, order.PaymentMethod) {
		return false
	}
	if c.Total.From != nil && order.Total.Amount < *c.Total.From {
		return false
	}
	if c.Total.To != nil && order.Total.Amount > *c.Total.To {
		return false
	}
	if c.OrderDate.From != nil && order.OrderDate.Before(*c.OrderDate.From) {
		return false
	}
	if c.OrderDate.To != nil && order.OrderDate.After(*c.OrderDate.To) {
		return false
	}
	if c.HasTransactionID != nil {
		has := order.PaymentTransactionID != nil && *order.PaymentTransactionID != ""
		if has != *c.HasTransactionID {
			return false
		}
	}
	if term := strings.ToLower(strings.TrimSpace(c.Search)); term != "" {
		haystack := []string{order.ID, order.CustomerEmail, order.CustomerName}
		if order.PaymentTransactionID != nil {
			haystack = append(haystack, *order.PaymentTransactionID)
		}
		if !slices.ContainsFunc(haystack, func(v string) bool {
			return strings.Contains(strings.ToLower(v), term)
		}) {
			return false
		}
	}
	return true
}

// SortOrders orders the slice in place according to the sort; ties break on id.
func SortOrders(orders []domain.Order, sort OrderSort) {
	desc := sort.Order == domain.SortDesc
	slices.SortStableFunc(orders, func(a, b domain.Order) int {
		var c int
		switch sort.Field {
		case OrderSortCreatedAt:
			c = a.CreatedAt.Compare(b.CreatedAt)
		case OrderSortUpdatedAt:
			c = a.UpdatedAt.Compare(b.UpdatedAt)
		case OrderSortTotal:
			c = cmp.Compare(a.Total.Amount, b.Total.Amount)
		case OrderSortStatus:
			c = cmp.Compare(a.Status, b.Status)
		case OrderSortPaymentStatus:
			c = cmp.Compare(a.PaymentStatus, b.PaymentStatus)
		case OrderSortID:
			c = cmp.Compare(a.ID, b.ID)
		default:
			c = a.OrderDate.Compare(b.OrderDate)
		}
		if c == 0 {
			c = cmp.Compare(a.ID, b.ID)
		}
		if desc {
			return -c
		}
		return c
	})
}

// PageOrders slices an already filtered and sorted result set using offset page tokens.
func PageOrders(orders []domain.Order, page domain.Pagination) (domain.CursorPage[domain.Order], error) {
	cursor, err := pagination.DecodeToken(page.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	size := page.PageSize
	if size <= 0 {
		size = pagination.DefaultPageSize
	}
	start := min(cursor.Offset, len(orders))
	end := min(start+size, len(orders))

	result := domain.CursorPage[domain.Order]{Items: orders[start:end]}
	if end < len(orders) {
		token, err := pagination.EncodeToken(pagination.Cursor{Offset: end})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		result.NextPageToken = token
	}
	return result, nil
}
