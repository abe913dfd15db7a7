package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/orders/internal/platform/auth"
	"github.com/hanko-field/orders/internal/platform/httpx"
	"github.com/hanko-field/orders/internal/platform/observability"
	"github.com/hanko-field/orders/internal/services"
)

// AdminOrderHandlers exposes staff-only order endpoints under /admin.
type AdminOrderHandlers struct {
	authn       *auth.Authenticator
	lifecycle   services.OrderLifecycleService
	queries     services.OrderQueryService
	maxPageSize int
}

func NewAdminOrderHandlers(authn *auth.Authenticator, lifecycle services.OrderLifecycleService, queries services.OrderQueryService, maxPageSize int) *AdminOrderHandlers {
	return &AdminOrderHandlers{
		authn:       authn,
		lifecycle:   lifecycle,
		queries:     queries,
		maxPageSize: maxPageSize,
	}
}

// Routes registers the /admin/orders endpoints.
func (h *AdminOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Route("/orders", func(rt chi.Router) {
		if h.authn != nil {
			rt.Use(h.authn.RequireFirebaseAuth(auth.RoleAdmin, auth.RoleStaff))
		}
		rt.Get("/", h.listOrders)
		rt.Get("/{orderID}", h.getOrder)
		rt.Post("/{orderID}:cancel", h.cancelOrder)
	})
}

func (h *AdminOrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
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
	result, err := h.queries.ListAll(ctx, caller, criteria, page)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderList(result))
}

func (h *AdminOrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
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
	order, err := h.queries.GetByIDAdmin(ctx, caller, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminOrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
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
