package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// CursorPage captures a page of results and the token for the next page.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// User is the subset of the identity directory record the order subsystem relies on.
type User struct {
	ID          string
	Email       string
	DisplayName string
	Disabled    bool
}

// Product is the catalog snapshot copied into order line items at creation time.
type Product struct {
	ID        string
	Name      string
	UnitPrice Money
	Available int64
	UpdatedAt time.Time
}

// Notification is a templated message handed to the notification transport.
type Notification struct {
	TemplateID    string
	Recipient     string
	Data          map[string]any
	CorrelationID string
}
