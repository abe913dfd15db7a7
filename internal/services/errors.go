package services

import (
	"errors"
	"fmt"

	"github.com/hanko-field/orders/internal/repositories"
)

var (
	// ErrUserNotFound indicates the customer could not be resolved in the user directory.
	ErrUserNotFound = errors.New("order: user not found")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrAccessDenied indicates the caller may not act on the target user's orders.
	ErrAccessDenied = errors.New("order: access denied")
	// ErrInsufficientStock indicates a product cannot cover the requested quantity.
	ErrInsufficientStock = errors.New("order: insufficient stock")
	// ErrOrderCancellation indicates the order is not in a cancellable status.
	ErrOrderCancellation = errors.New("order: cannot cancel order")
	// ErrInvalidSortParameter indicates the sort field is not in the allow-list.
	ErrInvalidSortParameter = errors.New("order: invalid sort parameter")
	// ErrInvalidOrder signals the caller provided invalid data.
	ErrInvalidOrder = errors.New("order: invalid input")
	// ErrCheckoutNotAllowed indicates a checkout session cannot be opened for the order's status.
	ErrCheckoutNotAllowed = errors.New("order: checkout not allowed")
	// ErrUnrecognizedPaymentStatus indicates a settlement event carried a status that is not mapped.
	ErrUnrecognizedPaymentStatus = errors.New("order: unrecognized payment status")
)

// InsufficientStockError names the first product that could not be reserved.
type InsufficientStockError struct {
	ProductID string
	Requested int64
	Available int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("%s: product %s requested %d available %d", ErrInsufficientStock, e.ProductID, e.Requested, e.Available)
}

// Is matches ErrInsufficientStock.
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// OrderServiceError wraps unexpected persistence or infrastructure failures. Handlers render it
// as a generic internal error.
type OrderServiceError struct {
	Op  string
	Err error
}

func (e *OrderServiceError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("order service: %s: %v", e.Op, e.Err)
}

func (e *OrderServiceError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func internalError(op string, err error) error {
	if err == nil {
		return nil
	}
	var svcErr *OrderServiceError
	if errors.As(err, &svcErr) {
		return err
	}
	return &OrderServiceError{Op: op, Err: err}
}

// mapRepositoryError converts categorised repository failures into service errors. notFound is
// the sentinel to use when the repository reports a missing record.
func mapRepositoryError(op string, err error, notFound error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() && notFound != nil {
		return fmt.Errorf("%w: %v", notFound, err)
	}
	return internalError(op, err)
}
