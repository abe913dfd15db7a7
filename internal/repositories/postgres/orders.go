package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/platform/pagination"
	"github.com/hanko-field/orders/internal/repositories"
)

const orderColumns = `id, user_id, customer_email, customer_name, items, total, currency, shipping_address,
	shipping_method, payment_method, status, payment_status, payment_transaction_id, checkout_session_url,
	receipt_url, payment_details, order_date, created_at, updated_at`

// sortColumns maps allow-listed sort fields onto columns. Only values from this map reach SQL.
var sortColumns = map[repositories.OrderSortField]string{
	repositories.OrderSortOrderDate:     "order_date",
	repositories.OrderSortCreatedAt:     "created_at",
	repositories.OrderSortUpdatedAt:     "updated_at",
	repositories.OrderSortTotal:         "total",
	repositories.OrderSortStatus:        "status",
	repositories.OrderSortPaymentStatus: "payment_status",
	repositories.OrderSortID:            "id",
}

type lineItemJSON struct {
	ProductID   string `json:"productId"`
	ProductName string `json:"productName"`
	Quantity    int64  `json:"quantity"`
	UnitPrice   int64  `json:"unitPrice"`
	Currency    string `json:"currency"`
}

type addressJSON struct {
	Recipient  string `json:"recipient,omitempty"`
	Street     string `json:"street,omitempty"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country,omitempty"`
}

type orderRepository struct{ s *Store }

func (r orderRepository) Save(ctx context.Context, order domain.Order) (domain.Order, error) {
	if strings.TrimSpace(order.ID) == "" {
		return domain.Order{}, repositories.NewStoreError("order.save", repositories.StoreErrorUnknown, "order id is required", nil)
	}
	items := make([]lineItemJSON, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, lineItemJSON{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice.Amount,
			Currency:    item.UnitPrice.Currency,
		})
	}
	addr := addressJSON(order.ShippingAddress)

	q, _ := r.s.conn(ctx)
	_, err := q.Exec(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			payment_status = EXCLUDED.payment_status,
			payment_transaction_id = EXCLUDED.payment_transaction_id,
			checkout_session_url = EXCLUDED.checkout_session_url,
			receipt_url = EXCLUDED.receipt_url,
			payment_details = EXCLUDED.payment_details,
			updated_at = EXCLUDED.updated_at`,
		order.ID, order.UserID, order.CustomerEmail, order.CustomerName, items,
		order.Total.Amount, order.Total.Currency, addr,
		string(order.ShippingMethod), string(order.PaymentMethod),
		string(order.Status), string(order.PaymentStatus),
		order.PaymentTransactionID, order.CheckoutSessionURL, order.ReceiptURL, order.PaymentDetails,
		order.OrderDate.UTC(), order.CreatedAt.UTC(), order.UpdatedAt.UTC(),
	)
	if err != nil {
		return domain.Order{}, wrapError("order.save", err)
	}
	return order, nil
}

func (r orderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	q, inTx := r.s.conn(ctx)
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	if inTx {
		query += ` FOR UPDATE`
	}
	order, err := scanOrder(q.QueryRow(ctx, query, strings.TrimSpace(orderID)))
	if err != nil {
		return domain.Order{}, wrapError("order.find", err)
	}
	return order, nil
}

func (r orderRepository) FindByUser(ctx context.Context, userID string, criteria repositories.OrderCriteria, page domain.Pagination) (domain.CursorPage[domain.Order], error) {
	criteria.UserID = userID
	return r.FindAll(ctx, criteria, page)
}

func (r orderRepository) FindAll(ctx context.Context, criteria repositories.OrderCriteria, page domain.Pagination) (domain.CursorPage[domain.Order], error) {
	query, args, limit, offset, err := buildOrderQuery(criteria, page)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	q, _ := r.s.conn(ctx)
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, wrapError("order.list", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0, limit)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, wrapError("order.scan", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return domain.CursorPage[domain.Order]{}, wrapError("order.list", err)
	}

	result := domain.CursorPage[domain.Order]{Items: orders}
	if len(orders) > limit {
		result.Items = orders[:limit]
		token, err := pagination.EncodeToken(pagination.Cursor{Offset: offset + limit})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		result.NextPageToken = token
	}
	return result, nil
}

// buildOrderQuery renders the criteria as a parameterised SELECT. One extra row is fetched to
// detect whether a next page exists.
func buildOrderQuery(criteria repositories.OrderCriteria, page domain.Pagination) (string, []any, int, int, error) {
	criteria = criteria.WithDefaults()
	column, ok := sortColumns[criteria.Sort.Field]
	if !ok {
		return "", nil, 0, 0, fmt.Errorf("postgres: unsupported sort field %q", criteria.Sort.Field)
	}
	cursor, err := pagination.DecodeToken(page.PageToken)
	if err != nil {
		return "", nil, 0, 0, err
	}
	limit := page.PageSize
	if limit <= 0 {
		limit = pagination.DefaultPageSize
	}

	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if criteria.UserID != "" {
		where = append(where, "user_id = "+arg(criteria.UserID))
	}
	if len(criteria.Statuses) > 0 {
		statuses := make([]string, 0, len(criteria.Statuses))
		for _, s := range criteria.Statuses {
			statuses = append(statuses, string(s))
		}
		where = append(where, "status = ANY("+arg(statuses)+")")
	}
	if len(criteria.PaymentMethods) > 0 {
		methods := make([]string, 0, len(criteria.PaymentMethods))
		for _, m := range criteria.PaymentMethods {
			methods = append(methods, string(m))
		}
		where = append(where, "payment_method = ANY("+arg(methods)+")")
	}
	if criteria.Total.From != nil {
		where = append(where, "total >= "+arg(*criteria.Total.From))
	}
	if criteria.Total.To != nil {
		where = append(where, "total <= "+arg(*criteria.Total.To))
	}
	if criteria.OrderDate.From != nil {
		where = append(where, "order_date >= "+arg(criteria.OrderDate.From.UTC()))
	}
	if criteria.OrderDate.To != nil {
		where = append(where, "order_date <= "+arg(criteria.OrderDate.To.UTC()))
	}
	if criteria.HasTransactionID != nil {
		if *criteria.HasTransactionID {
			where = append(where, "COALESCE(payment_transaction_id, '') <> ''")
		} else {
			where = append(where, "COALESCE(payment_transaction_id, '') = ''")
		}
	}
	if term := strings.TrimSpace(criteria.Search); term != "" {
		p := arg("%" + escapeLike(term) + "%")
		where = append(where, fmt.Sprintf(
			"(id ILIKE %[1]s OR customer_email ILIKE %[1]s OR customer_name ILIKE %[1]s OR payment_transaction_id ILIKE %[1]s)", p))
	}

	var b strings.Builder
	b.WriteString("SELECT " + orderColumns + " FROM orders")
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	direction := "DESC"
	if criteria.Sort.Order == domain.SortAsc {
		direction = "ASC"
	}
	fmt.Fprintf(&b, " ORDER BY %s %s, id %s", column, direction, direction)
	fmt.Fprintf(&b, " LIMIT %s OFFSET %s", arg(limit+1), arg(cursor.Offset))
	return b.String(), args, limit, cursor.Offset, nil
}

func escapeLike(v string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(v)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		o              domain.Order
		items          []lineItemJSON
		addr           addressJSON
		total          int64
		currency       string
		shipping       string
		payment        string
		status         string
		paymentStatus  string
		orderDate      time.Time
		createdAt      time.Time
		updatedAt      time.Time
		paymentDetails map[string]any
	)
	err := row.Scan(&o.ID, &o.UserID, &o.CustomerEmail, &o.CustomerName, &items, &total, &currency, &addr,
		&shipping, &payment, &status, &paymentStatus, &o.PaymentTransactionID, &o.CheckoutSessionURL,
		&o.ReceiptURL, &paymentDetails, &orderDate, &createdAt, &updatedAt)
	if err != nil {
		return domain.Order{}, err
	}

	o.Items = make([]domain.OrderLineItem, 0, len(items))
	for _, item := range items {
		o.Items = append(o.Items, domain.OrderLineItem{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   domain.NewMoney(item.UnitPrice, item.Currency),
		})
	}
	o.Total = domain.NewMoney(total, currency)
	o.ShippingAddress = domain.Address(addr)
	o.ShippingMethod = domain.ShippingMethod(shipping)
	o.PaymentMethod = domain.PaymentMethod(payment)
	o.Status = domain.OrderStatus(status)
	o.PaymentStatus = domain.PaymentStatus(paymentStatus)
	o.PaymentDetails = paymentDetails
	o.OrderDate = orderDate.UTC()
	o.CreatedAt = createdAt.UTC()
	o.UpdatedAt = updatedAt.UTC()
	return o, nil
}
