package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/platform/pagination"
	"github.com/hanko-field/orders/internal/repositories"
)

// OrderQueryServiceDeps bundles collaborators required to construct the query service.
type OrderQueryServiceDeps struct {
	Orders      repositories.OrderRepository
	Access      AccessControl
	MaxPageSize int
}

type orderQueryService struct {
	orders      repositories.OrderRepository
	access      AccessControl
	maxPageSize int
}

// NewOrderQueryService wires dependencies into a concrete OrderQueryService.
func NewOrderQueryService(deps OrderQueryServiceDeps) (OrderQueryService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order query service: order repository is required")
	}
	access := deps.Access
	if access == nil {
		access = RoleAccessControl{}
	}
	maxSize := deps.MaxPageSize
	if maxSize <= 0 {
		maxSize = pagination.DefaultMaxPageSize
	}
	return &orderQueryService{
		orders:      deps.Orders,
		access:      access,
		maxPageSize: maxSize,
	}, nil
}

// GetByID resolves the order before checking ownership so a missing order is reported as not
// found to every caller.
func (s *orderQueryService) GetByID(ctx context.Context, caller Caller, orderID string) (Order, error) {
	order, err := s.find(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if err := s.access.CheckAccess(caller, order.UserID); err != nil {
		return Order{}, err
	}
	return order, nil
}

// GetByIDAdmin is restricted to administrators and skips the ownership check.
func (s *orderQueryService) GetByIDAdmin(ctx context.Context, caller Caller, orderID string) (Order, error) {
	if !s.access.IsAdmin(caller) {
		return Order{}, fmt.Errorf("%w: administrator role required", ErrAccessDenied)
	}
	return s.find(ctx, orderID)
}

func (s *orderQueryService) ListForUser(ctx context.Context, caller Caller, criteria OrderCriteria, page Pagination) (domain.CursorPage[Order], error) {
	userID := strings.TrimSpace(criteria.UserID)
	if userID == "" {
		userID = strings.TrimSpace(caller.UserID)
	}
	if err := s.access.CheckAccess(caller, userID); err != nil {
		return domain.CursorPage[Order]{}, err
	}
	criteria, page, err := s.prepare(criteria, page)
	if err != nil {
		return domain.CursorPage[Order]{}, err
	}
	criteria.UserID = userID

	result, err := s.orders.FindByUser(ctx, userID, criteria, page)
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapListError(err)
	}
	return result, nil
}

func (s *orderQueryService) ListAll(ctx context.Context, caller Caller, criteria OrderCriteria, page Pagination) (domain.CursorPage[Order], error) {
	if !s.access.IsAdmin(caller) {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: administrator role required", ErrAccessDenied)
	}
	criteria, page, err := s.prepare(criteria, page)
	if err != nil {
		return domain.CursorPage[Order]{}, err
	}

	result, err := s.orders.FindAll(ctx, criteria, page)
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapListError(err)
	}
	return result, nil
}

func (s *orderQueryService) find(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrInvalidOrder)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError("find order", err, ErrOrderNotFound)
	}
	return order, nil
}

func (s *orderQueryService) prepare(criteria OrderCriteria, page Pagination) (OrderCriteria, Pagination, error) {
	if criteria.Sort.Field != "" && !repositories.AllowedOrderSortField(criteria.Sort.Field) {
		return criteria, page, fmt.Errorf("%w: %q", ErrInvalidSortParameter, criteria.Sort.Field)
	}
	switch criteria.Sort.Order {
	case "", domain.SortAsc, domain.SortDesc:
	default:
		return criteria, page, fmt.Errorf("%w: direction %q", ErrInvalidSortParameter, criteria.Sort.Order)
	}
	if r := criteria.Total; r.From != nil && r.To != nil && *r.From > *r.To {
		return criteria, page, fmt.Errorf("%w: total range is inverted", ErrInvalidOrder)
	}
	if r := criteria.OrderDate; r.From != nil && r.To != nil && r.From.After(*r.To) {
		return criteria, page, fmt.Errorf("%w: order date range is inverted", ErrInvalidOrder)
	}
	if _, err := pagination.DecodeToken(page.PageToken); err != nil {
		return criteria, page, fmt.Errorf("%w: %v", ErrInvalidOrder, err)
	}

	if page.PageSize <= 0 {
		page.PageSize = pagination.DefaultPageSize
	}
	if page.PageSize > s.maxPageSize {
		page.PageSize = s.maxPageSize
	}
	return criteria.WithDefaults(), page, nil
}

func (s *orderQueryService) mapListError(err error) error {
	if errors.Is(err, pagination.ErrInvalidPageToken) {
		return fmt.Errorf("%w: %v", ErrInvalidOrder, err)
	}
	return internalError("list orders", err)
}
