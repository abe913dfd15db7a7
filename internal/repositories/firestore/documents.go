package firestore

import (
	"time"

	domain "github.com/hanko-field/orders/internal/domain"
)

const (
	productsCollection = "products"
	ordersCollection   = "orders"
)

type productDocument struct {
	Name      string    `firestore:"name"`
	UnitPrice int64     `firestore:"unitPrice"`
	Currency  string    `firestore:"currency"`
	Available int64     `firestore:"available"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func (d productDocument) toDomain(id string) domain.Product {
	return domain.Product{
		ID:        id,
		Name:      d.Name,
		UnitPrice: domain.NewMoney(d.UnitPrice, d.Currency),
		Available: d.Available,
		UpdatedAt: d.UpdatedAt,
	}
}

type addressDocument struct {
	Recipient  string `firestore:"recipient,omitempty"`
	Street     string `firestore:"street,omitempty"`
	Line2      string `firestore:"line2,omitempty"`
	City       string `firestore:"city,omitempty"`
	PostalCode string `firestore:"postalCode,omitempty"`
	Country    string `firestore:"country,omitempty"`
}

type lineItemDocument struct {
	ProductID   string `firestore:"productId"`
	ProductName string `firestore:"productName"`
	Quantity    int64  `firestore:"quantity"`
	UnitPrice   int64  `firestore:"unitPrice"`
	Currency    string `firestore:"currency"`
}

type orderDocument struct {
	ID                   string             `firestore:"id"`
	UserID               string             `firestore:"userId"`
	CustomerEmail        string             `firestore:"customerEmail"`
	CustomerName         string             `firestore:"customerName"`
	Items                []lineItemDocument `firestore:"items"`
	Total                int64              `firestore:"total"`
	Currency             string             `firestore:"currency"`
	ShippingAddress      addressDocument    `firestore:"shippingAddress"`
	ShippingMethod       string             `firestore:"shippingMethod"`
	PaymentMethod        string             `firestore:"paymentMethod"`
	Status               string             `firestore:"status"`
	PaymentStatus        string             `firestore:"paymentStatus"`
	PaymentTransactionID *string            `firestore:"paymentTransactionId"`
	CheckoutSessionURL   *string            `firestore:"checkoutSessionUrl"`
	ReceiptURL           *string            `firestore:"receiptUrl"`
	PaymentDetails       map[string]any     `firestore:"paymentDetails,omitempty"`
	OrderDate            time.Time          `firestore:"orderDate"`
	CreatedAt            time.Time          `firestore:"createdAt"`
	UpdatedAt            time.Time          `firestore:"updatedAt"`
}

func newOrderDocument(order domain.Order) orderDocument {
	items := make([]lineItemDocument, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, lineItemDocument{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice.Amount,
			Currency:    item.UnitPrice.Currency,
		})
	}
	addr := order.ShippingAddress
	return orderDocument{
		ID:            order.ID,
		UserID:        order.UserID,
		CustomerEmail: order.CustomerEmail,
		CustomerName:  order.CustomerName,
		Items:         items,
		Total:         order.Total.Amount,
		Currency:      order.Total.Currency,
		ShippingAddress: addressDocument{
			Recipient:  addr.Recipient,
			Street:     addr.Street,
			Line2:      addr.Line2,
			City:       addr.City,
			PostalCode: addr.PostalCode,
			Country:    addr.Country,
		},
		ShippingMethod:       string(order.ShippingMethod),
		PaymentMethod:        string(order.PaymentMethod),
		Status:               string(order.Status),
		PaymentStatus:        string(order.PaymentStatus),
		PaymentTransactionID: order.PaymentTransactionID,
		CheckoutSessionURL:   order.CheckoutSessionURL,
		ReceiptURL:           order.ReceiptURL,
		PaymentDetails:       order.PaymentDetails,
		OrderDate:            order.OrderDate.UTC(),
		CreatedAt:            order.CreatedAt.UTC(),
		UpdatedAt:            order.UpdatedAt.UTC(),
	}
}

func (d orderDocument) toDomain() domain.Order {
	items := make([]domain.OrderLineItem, 0, len(d.Items))
	for _, item := range d.Items {
		items = append(items, domain.OrderLineItem{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   domain.NewMoney(item.UnitPrice, item.Currency),
		})
	}
	addr := d.ShippingAddress
	return domain.Order{
		ID:            d.ID,
		UserID:        d.UserID,
		CustomerEmail: d.CustomerEmail,
		CustomerName:  d.CustomerName,
		Items:         items,
		Total:         domain.NewMoney(d.Total, d.Currency),
		ShippingAddress: domain.Address{
			Recipient:  addr.Recipient,
			Street:     addr.Street,
			Line2:      addr.Line2,
			City:       addr.City,
			PostalCode: addr.PostalCode,
			Country:    addr.Country,
		},
		ShippingMethod:       domain.ShippingMethod(d.ShippingMethod),
		PaymentMethod:        domain.PaymentMethod(d.PaymentMethod),
		Status:               domain.OrderStatus(d.Status),
		PaymentStatus:        domain.PaymentStatus(d.PaymentStatus),
		PaymentTransactionID: d.PaymentTransactionID,
		CheckoutSessionURL:   d.CheckoutSessionURL,
		ReceiptURL:           d.ReceiptURL,
		PaymentDetails:       d.PaymentDetails,
		OrderDate:            d.OrderDate.UTC(),
		CreatedAt:            d.CreatedAt.UTC(),
		UpdatedAt:            d.UpdatedAt.UTC(),
	}
}
