package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/platform/auth"
	"github.com/hanko-field/orders/internal/platform/httpx"
	"github.com/hanko-field/orders/internal/platform/observability"
	"github.com/hanko-field/orders/internal/services"
)

const maxOrderBodySize = 32 * 1024

type addressRequest struct {
	Recipient  string `json:"recipient" validate:"required,max=200"`
	Street     string `json:"street" validate:"required,max=200"`
	Line2      string `json:"line2" validate:"max=200"`
	City       string `json:"city" validate:"required,max=100"`
	PostalCode string `json:"postal_code" validate:"required,max=20"`
	Country    string `json:"country" validate:"required,max=56"`
}

type cartLineRequest struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int64  `json:"quantity" validate:"gt=0"`
}

type createOrderRequest struct {
	UserID          string            `json:"user_id"`
	ShippingAddress addressRequest    `json:"shipping_address"`
	ShippingMethod  string            `json:"shipping_method" validate:"required"`
	PaymentMethod   string            `json:"payment_method" validate:"required"`
	Items           []cartLineRequest `json:"items" validate:"required,min=1,dive"`
}

// OrderHandlers exposes the customer order endpoints.
type OrderHandlers struct {
	authn       *auth.Authenticator
	lifecycle   services.OrderLifecycleService
	settlement  services.PaymentSettlementService
	queries     services.OrderQueryService
	writeGuards []func(http.Handler) http.Handler
	maxPageSize int
}

// OrderHandlersDeps bundles the services behind the order endpoints. RateLimit and Idempotency,
// when set, wrap the order creation and checkout routes in that order.
type OrderHandlersDeps struct {
	Authenticator *auth.Authenticator
	Lifecycle     services.OrderLifecycleService
	Settlement    services.PaymentSettlementService
	Queries       services.OrderQueryService
	RateLimit     func(http.Handler) http.Handler
	Idempotency   func(http.Handler) http.Handler
	MaxPageSize   int
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(deps OrderHandlersDeps) *OrderHandlers {
	h := &OrderHandlers{
		authn:       deps.Authenticator,
		lifecycle:   deps.Lifecycle,
		settlement:  deps.Settlement,
		queries:     deps.Queries,
		maxPageSize: deps.MaxPageSize,
	}
	for _, mw := range []func(http.Handler) http.Handler{deps.RateLimit, deps.Idempotency} {
		if mw != nil {
			h.writeGuards = append(h.writeGuards, mw)
		}
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	guarded := r.With(h.writeGuards...)
	guarded.Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}:cancel", h.cancelOrder)
	guarded.Post("/{orderID}:checkout", h.checkout)
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.lifecycle == nil {
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeServiceUnavailable, "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	caller, ok := callerFromContext(ctx, w)
	if !ok {
		return
	}

	var req createOrderRequest
	if !decodeBody(ctx, w, r, maxOrderBodySize, &req) {
		return
	}

	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		userID = caller.UserID
	}
	cmd := services.CreateOrderCommand{
		UserID: userID,
		ShippingAddress: domain.Address{
			Recipient:  req.ShippingAddress.Recipient,
			Street:     req.ShippingAddress.Street,
			Line2:      req.ShippingAddress.Line2,
			City:       req.ShippingAddress.City,
			PostalCode: req.ShippingAddress.PostalCode,
			Country:    req.ShippingAddress.Country,
		},
		ShippingMethod: domain.ShippingMethod(strings.ToUpper(strings.TrimSpace(req.ShippingMethod))),
		PaymentMethod:  domain.PaymentMethod(strings.ToUpper(strings.TrimSpace(req.PaymentMethod))),
		Cart:           make([]services.CartLine, 0, len(req.Items)),
	}
	for _, item := range req.Items {
		cmd.Cart = append(cmd.Cart, services.CartLine{ProductID: strings.TrimSpace(item.ProductID), Quantity: item.Quantity})
	}

	order, err := h.lifecycle.CreateOrder(ctx, caller, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	observability.AnnotateOrder(ctx, order.ID)
	w.Header().Set("Location", "/api/v1/orders/"+order.ID)
	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.queries == nil {
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeServiceUnavailable, "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	caller, ok := callerFromContext(ctx, w)
	if !ok {
		return
	}

	criteria, page, err := parseListQuery(r, h.maxPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeInvalidRequest, err.Error(), http.StatusBadRequest))
		return
	}
	result, err := h.queries.ListForUser(ctx, caller, criteria, page)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderList(result))
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.queries == nil {
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeServiceUnavailable, "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	caller, ok := callerFromContext(ctx, w)
	if !ok {
		return
	}

	orderID := chi.URLParam(r, "orderID")
	observability.AnnotateOrder(ctx, orderID)
	order, err := h.queries.GetByID(ctx, caller, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.lifecycle == nil {
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeServiceUnavailable, "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	caller, ok := callerFromContext(ctx, w)
	if !ok {
		return
	}

	orderID := chi.URLParam(r, "orderID")
	observability.AnnotateOrder(ctx, orderID)
	order, err := h.lifecycle.CancelOrder(ctx, caller, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

// checkout loads the order through the ownership-checked read path before asking the settlement
// service for a session. The session URL arrives later on the order itself.
func (h *OrderHandlers) checkout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.queries == nil || h.settlement == nil {
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodePaymentUnavailable, "payment service unavailable", http.StatusServiceUnavailable))
		return
	}
	caller, ok := callerFromContext(ctx, w)
	if !ok {
		return
	}

	orderID := chi.URLParam(r, "orderID")
	observability.AnnotateOrder(ctx, orderID)
	order, err := h.queries.GetByID(ctx, caller, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	updated, err := h.settlement.InitiateCheckout(ctx, order)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusAccepted, orderResponse{Order: buildOrderPayload(updated)})
}

type orderListResponse struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type moneyPayload struct {
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Formatted string `json:"formatted"`
}

type addressPayload struct {
	Recipient  string `json:"recipient"`
	Street     string `json:"street"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

type orderItemPayload struct {
	ProductID   string       `json:"product_id"`
	ProductName string       `json:"product_name"`
	Quantity    int64        `json:"quantity"`
	UnitPrice   moneyPayload `json:"unit_price"`
	LineTotal   moneyPayload `json:"line_total"`
}

type orderPayload struct {
	ID                 string             `json:"id"`
	UserID             string             `json:"user_id"`
	Status             string             `json:"status"`
	PaymentStatus      string             `json:"payment_status,omitempty"`
	PaymentMethod      string             `json:"payment_method"`
	ShippingMethod     string             `json:"shipping_method"`
	Total              moneyPayload       `json:"total"`
	Items              []orderItemPayload `json:"items"`
	ShippingAddress    addressPayload     `json:"shipping_address"`
	TransactionID      string             `json:"transaction_id,omitempty"`
	CheckoutSessionURL string             `json:"checkout_session_url,omitempty"`
	ReceiptURL         string             `json:"receipt_url,omitempty"`
	OrderDate          string             `json:"order_date"`
	CreatedAt          string             `json:"created_at"`
	UpdatedAt          string             `json:"updated_at,omitempty"`
}

func buildMoney(m domain.Money) moneyPayload {
	return moneyPayload{Amount: m.Amount, Currency: strings.ToUpper(m.Currency), Formatted: m.String()}
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:             order.ID,
		UserID:         order.UserID,
		Status:         string(order.Status),
		PaymentStatus:  string(order.PaymentStatus),
		PaymentMethod:  string(order.PaymentMethod),
		ShippingMethod: string(order.ShippingMethod),
		Total:          buildMoney(order.Total),
		Items:          make([]orderItemPayload, 0, len(order.Items)),
		ShippingAddress: addressPayload{
			Recipient:  order.ShippingAddress.Recipient,
			Street:     order.ShippingAddress.Street,
			Line2:      order.ShippingAddress.Line2,
			City:       order.ShippingAddress.City,
			PostalCode: order.ShippingAddress.PostalCode,
			Country:    order.ShippingAddress.Country,
		},
		TransactionID:      deref(order.PaymentTransactionID),
		CheckoutSessionURL: deref(order.CheckoutSessionURL),
		ReceiptURL:         deref(order.ReceiptURL),
		OrderDate:          formatTime(order.OrderDate),
		CreatedAt:          formatTime(order.CreatedAt),
		UpdatedAt:          formatTime(order.UpdatedAt),
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   buildMoney(item.UnitPrice),
			LineTotal:   buildMoney(item.LineTotal()),
		})
	}
	return payload
}

func buildOrderList(page domain.CursorPage[services.Order]) orderListResponse {
	items := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderPayload(order))
	}
	return orderListResponse{Items: items, NextPageToken: page.NextPageToken}
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
