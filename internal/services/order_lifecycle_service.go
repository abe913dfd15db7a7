package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/repositories"
)

const (
	orderIDPrefix = "ord_"

	templateOrderConfirmation = "order-confirmation"
	templateOrderCancelled    = "order-cancelled"

	maxCartLines     = 100
	maxAddressLength = 200
	maxLineQuantity  = 10_000
)

// OrderLifecycleServiceDeps bundles collaborators required to construct the lifecycle service.
// When Checkout is set and AutoCheckout is true a checkout session is opened right after the order
// is persisted.
type OrderLifecycleServiceDeps struct {
	Orders        repositories.OrderRepository
	Stock         repositories.StockLedger
	Catalog       repositories.ProductCatalog
	Users         repositories.UserDirectory
	Access        AccessControl
	Notifications NotificationDispatcher
	UnitOfWork    repositories.UnitOfWork
	Checkout      PaymentSettlementService
	AutoCheckout  bool
	Metrics       OrderMetrics
	Clock         func() time.Time
	IDGenerator   func() string
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type orderLifecycleService struct {
	orders        repositories.OrderRepository
	stock         repositories.StockLedger
	catalog       repositories.ProductCatalog
	users         repositories.UserDirectory
	access        AccessControl
	notifications NotificationDispatcher
	unitOfWork    repositories.UnitOfWork
	checkout      PaymentSettlementService
	autoCheckout  bool
	metrics       OrderMetrics
	sanitizer     *bluemonday.Policy
	clock         func() time.Time
	newID         func() string
	logger        func(context.Context, string, map[string]any)
}

// reservation is a token for stock acquired on behalf of one cart line.
type reservation struct {
	productID string
	qty       int64
}

// NewOrderLifecycleService wires dependencies into a concrete OrderLifecycleService.
func NewOrderLifecycleService(deps OrderLifecycleServiceDeps) (OrderLifecycleService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order lifecycle service: order repository is required")
	}
	if deps.Stock == nil {
		return nil, errors.New("order lifecycle service: stock ledger is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("order lifecycle service: product catalog is required")
	}
	if deps.Users == nil {
		return nil, errors.New("order lifecycle service: user directory is required")
	}

	access := deps.Access
	if access == nil {
		access = RoleAccessControl{}
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	metrics := deps.Metrics
	if metrics == nil {
		metrics = nopMetrics{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderLifecycleService{
		orders:        deps.Orders,
		stock:         deps.Stock,
		catalog:       deps.Catalog,
		users:         deps.Users,
		access:        access,
		notifications: deps.Notifications,
		unitOfWork:    unit,
		checkout:      deps.Checkout,
		autoCheckout:  deps.AutoCheckout,
		metrics:       metrics,
		sanitizer:     bluemonday.StrictPolicy(),
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *orderLifecycleService) CreateOrder(ctx context.Context, caller Caller, cmd CreateOrderCommand) (Order, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Order{}, fmt.Errorf("%w: user id is required", ErrInvalidOrder)
	}
	if err := s.access.CheckAccess(caller, userID); err != nil {
		return Order{}, err
	}
	if err := s.validateCommand(cmd); err != nil {
		return Order{}, err
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return Order{}, mapRepositoryError("find user", err, ErrUserNotFound)
	}
	if user.Disabled {
		return Order{}, fmt.Errorf("%w: user %s is disabled", ErrUserNotFound, userID)
	}

	products, err := s.loadProducts(ctx, cmd.Cart)
	if err != nil {
		return Order{}, err
	}

	if err := s.checkAvailability(ctx, cmd.Cart); err != nil {
		return Order{}, err
	}

	reserved, err := s.reserveAll(ctx, cmd.Cart)
	if err != nil {
		return Order{}, err
	}

	order, err := s.buildOrder(user, cmd, products)
	if err != nil {
		s.releaseAll(ctx, reserved)
		return Order{}, err
	}

	saved, err := s.orders.Save(ctx, order)
	if err != nil {
		s.releaseAll(ctx, reserved)
		s.logger(ctx, "order.create.persist_failed", map[string]any{
			"orderId": order.ID,
			"userId":  userID,
			"error":   err.Error(),
		})
		return Order{}, internalError("persist order", err)
	}

	s.metrics.OrderCreated(saved.Total.Currency, saved.Total.Amount, len(saved.Items))
	s.logger(ctx, "order.created", map[string]any{
		"orderId": saved.ID,
		"userId":  saved.UserID,
		"total":   saved.Total.String(),
		"items":   len(saved.Items),
	})

	s.notify(ctx, templateOrderConfirmation, saved, map[string]any{
		"items": lineItemData(saved.Items),
	})

	if s.autoCheckout && s.checkout != nil {
		updated, err := s.checkout.InitiateCheckout(ctx, saved)
		if err != nil {
			s.logger(ctx, "order.checkout.initiate_failed", map[string]any{
				"orderId": saved.ID,
				"error":   err.Error(),
			})
		} else {
			saved = updated
		}
	}

	return saved, nil
}

func (s *orderLifecycleService) CancelOrder(ctx context.Context, caller Caller, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrInvalidOrder)
	}

	var (
		saved    Order
		previous OrderStatus
	)
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return mapRepositoryError("find order", err, ErrOrderNotFound)
		}
		if err := s.access.CheckAccess(caller, order.UserID); err != nil {
			return err
		}
		if order.Status != domain.OrderStatusPending {
			return fmt.Errorf("%w: order %s is %s", ErrOrderCancellation, order.ID, order.Status)
		}

		// Reserved stock stays with the order; cancelled reservations are written off.
		previous = order.Status
		order.Status = domain.OrderStatusCancelled
		order.UpdatedAt = s.clock()

		saved, err = s.orders.Save(txCtx, order)
		if err != nil {
			return internalError("cancel order", err)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.metrics.OrderCancelled(s.access.IsAdmin(caller) && caller.UserID != saved.UserID)
	s.logger(ctx, "order.cancelled", map[string]any{
		"orderId":        saved.ID,
		"actorId":        caller.UserID,
		"previousStatus": string(previous),
	})
	s.notify(ctx, templateOrderCancelled, saved, nil)

	return saved, nil
}

func (s *orderLifecycleService) validateCommand(cmd CreateOrderCommand) error {
	if len(cmd.Cart) == 0 {
		return fmt.Errorf("%w: cart must contain at least one item", ErrInvalidOrder)
	}
	if len(cmd.Cart) > maxCartLines {
		return fmt.Errorf("%w: cart exceeds %d lines", ErrInvalidOrder, maxCartLines)
	}
	for i, line := range cmd.Cart {
		if strings.TrimSpace(line.ProductID) == "" {
			return fmt.Errorf("%w: cart line %d product id is required", ErrInvalidOrder, i)
		}
		if line.Quantity <= 0 || line.Quantity > maxLineQuantity {
			return fmt.Errorf("%w: cart line %d quantity must be between 1 and %d", ErrInvalidOrder, i, maxLineQuantity)
		}
	}
	if !cmd.ShippingMethod.Valid() {
		return fmt.Errorf("%w: unsupported shipping method %q", ErrInvalidOrder, cmd.ShippingMethod)
	}
	if !cmd.PaymentMethod.Valid() {
		return fmt.Errorf("%w: unsupported payment method %q", ErrInvalidOrder, cmd.PaymentMethod)
	}
	addr := cmd.ShippingAddress
	if cmd.ShippingMethod != domain.ShippingMethodPickup {
		required := []struct{ name, value string }{
			{"street", addr.Street},
			{"city", addr.City},
			{"postal code", addr.PostalCode},
			{"country", addr.Country},
		}
		for _, field := range required {
			if strings.TrimSpace(field.value) == "" {
				return fmt.Errorf("%w: shipping address %s is required", ErrInvalidOrder, field.name)
			}
		}
	}
	return nil
}

func (s *orderLifecycleService) loadProducts(ctx context.Context, cart []CartLine) (map[string]domain.Product, error) {
	ids := make([]string, 0, len(cart))
	seen := make(map[string]struct{}, len(cart))
	for _, line := range cart {
		id := strings.TrimSpace(line.ProductID)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	products, err := s.catalog.FindProducts(ctx, ids)
	if err != nil {
		return nil, internalError("load products", err)
	}
	for _, id := range ids {
		if _, ok := products[id]; !ok {
			return nil, fmt.Errorf("%w: product %s does not exist", ErrInvalidOrder, id)
		}
	}
	return products, nil
}

// checkAvailability verifies every product can cover the cart before anything is reserved.
// Quantities of repeated product lines are summed.
func (s *orderLifecycleService) checkAvailability(ctx context.Context, cart []CartLine) error {
	requested := make(map[string]int64, len(cart))
	order := make([]string, 0, len(cart))
	for _, line := range cart {
		id := strings.TrimSpace(line.ProductID)
		if _, ok := requested[id]; !ok {
			order = append(order, id)
		}
		requested[id] += line.Quantity
	}

	for _, id := range order {
		available, err := s.stock.Available(ctx, id)
		if err != nil {
			return mapRepositoryError("read stock", err, ErrInvalidOrder)
		}
		if available < requested[id] {
			s.metrics.StockRejected(id)
			return &InsufficientStockError{ProductID: id, Requested: requested[id], Available: available}
		}
	}
	return nil
}

// reserveAll performs the guarded decrement per cart line. On any failure the tokens acquired so
// far are released before returning.
func (s *orderLifecycleService) reserveAll(ctx context.Context, cart []CartLine) ([]reservation, error) {
	acquired := make([]reservation, 0, len(cart))
	for _, line := range cart {
		id := strings.TrimSpace(line.ProductID)
		ok, err := s.stock.TryReserve(ctx, id, line.Quantity)
		if err != nil {
			s.releaseAll(ctx, acquired)
			return nil, mapRepositoryError("reserve stock", err, ErrInvalidOrder)
		}
		if !ok {
			s.releaseAll(ctx, acquired)
			s.metrics.StockRejected(id)
			available, availErr := s.stock.Available(ctx, id)
			if availErr != nil {
				available = 0
			}
			s.logger(ctx, "order.stock.reserve_rejected", map[string]any{
				"productId": id,
				"requested": line.Quantity,
				"available": available,
			})
			return nil, &InsufficientStockError{ProductID: id, Requested: line.Quantity, Available: available}
		}
		acquired = append(acquired, reservation{productID: id, qty: line.Quantity})
	}
	return acquired, nil
}

func (s *orderLifecycleService) releaseAll(ctx context.Context, acquired []reservation) {
	if len(acquired) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for i := len(acquired) - 1; i >= 0; i-- {
		token := acquired[i]
		if err := s.stock.Release(ctx, token.productID, token.qty); err != nil {
			s.logger(ctx, "order.stock.release_failed", map[string]any{
				"productId": token.productID,
				"quantity":  token.qty,
				"error":     err.Error(),
			})
		}
	}
}

func (s *orderLifecycleService) buildOrder(user domain.User, cmd CreateOrderCommand, products map[string]domain.Product) (Order, error) {
	now := s.clock()
	items := make([]OrderLineItem, 0, len(cmd.Cart))
	var total Money
	for _, line := range cmd.Cart {
		product := products[strings.TrimSpace(line.ProductID)]
		item := OrderLineItem{
			ProductID:   product.ID,
			ProductName: product.Name,
			Quantity:    line.Quantity,
			UnitPrice:   domain.NewMoney(product.UnitPrice.Amount, product.UnitPrice.Currency),
		}
		sum, err := total.Add(item.LineTotal())
		if err != nil {
			return Order{}, fmt.Errorf("%w: %v", ErrInvalidOrder, err)
		}
		total = sum
		items = append(items, item)
	}

	return Order{
		ID:              orderIDPrefix + s.newID(),
		UserID:          user.ID,
		CustomerEmail:   user.Email,
		CustomerName:    user.DisplayName,
		Items:           items,
		Total:           total,
		ShippingAddress: s.sanitizeAddress(cmd.ShippingAddress),
		ShippingMethod:  cmd.ShippingMethod,
		PaymentMethod:   cmd.PaymentMethod,
		Status:          domain.OrderStatusPending,
		PaymentStatus:   domain.PaymentStatusUnset,
		OrderDate:       now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

func (s *orderLifecycleService) sanitizeAddress(addr Address) Address {
	// Entities are decoded before sanitising so escaped markup is stripped like literal markup.
	clean := func(v string) string {
		v = s.sanitizer.Sanitize(html.UnescapeString(strings.TrimSpace(v)))
		return truncateUTF8(strings.TrimSpace(html.UnescapeString(v)), maxAddressLength)
	}
	return Address{
		Recipient:  clean(addr.Recipient),
		Street:     clean(addr.Street),
		Line2:      clean(addr.Line2),
		City:       clean(addr.City),
		PostalCode: clean(addr.PostalCode),
		Country:    strings.ToUpper(clean(addr.Country)),
	}
}

// truncateUTF8 cuts v to at most limit bytes without splitting a rune.
func truncateUTF8(v string, limit int) string {
	if len(v) <= limit {
		return v
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(v[cut]) {
		cut--
	}
	return v[:cut]
}

func (s *orderLifecycleService) notify(ctx context.Context, template string, order Order, extra map[string]any) {
	if s.notifications == nil || order.CustomerEmail == "" {
		return
	}
	data := orderTemplateData(order)
	for k, v := range extra {
		data[k] = v
	}
	if err := s.notifications.Send(ctx, Notification{
		TemplateID:    template,
		Recipient:     order.CustomerEmail,
		Data:          data,
		CorrelationID: order.ID,
	}); err != nil {
		s.logger(ctx, "order.notification.failed", map[string]any{
			"orderId":  order.ID,
			"template": template,
			"error":    err.Error(),
		})
	}
}
