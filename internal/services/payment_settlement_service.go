package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/repositories"
)

const (
	templatePaymentSucceeded        = "payment-succeeded"
	templatePaymentFailed           = "payment-failed"
	templatePaymentCanceled         = "payment-canceled"
	templateSettlementErrorAdmin    = "settlement-error-admin"
	templateSettlementErrorCustomer = "settlement-error-customer"

	orderIDPlaceholder = "{ORDER_ID}"

	// attemptMetadataKey travels with the checkout request and every provider event it produces.
	attemptMetadataKey = "attempt_id"
	detailAttemptID    = "attemptId"
)

// Outcomes recorded for each settlement event.
const (
	settlementApplied   = "applied"
	settlementDuplicate = "duplicate"
	settlementStale     = "stale"
	settlementDropped   = "dropped"
	settlementUnhandled = "unhandled"
	settlementEscalated = "escalated"
)

// PaymentSettlementServiceDeps bundles collaborators required to construct the settlement service.
type PaymentSettlementServiceDeps struct {
	Orders        repositories.OrderRepository
	Users         repositories.UserDirectory
	Gateway       PaymentGatewayClient
	Notifications NotificationDispatcher
	UnitOfWork    repositories.UnitOfWork
	Reporter      ErrorReporter
	Metrics       OrderMetrics
	SuccessURL    string
	CancelURL     string
	OpsRecipient  string
	Clock         func() time.Time
	AttemptIDs    func() string
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type paymentSettlementService struct {
	orders        repositories.OrderRepository
	users         repositories.UserDirectory
	gateway       PaymentGatewayClient
	notifications NotificationDispatcher
	unitOfWork    repositories.UnitOfWork
	reporter      ErrorReporter
	metrics       OrderMetrics
	successURL    string
	cancelURL     string
	opsRecipient  string
	clock         func() time.Time
	attemptIDs    func() string
	logger        func(context.Context, string, map[string]any)
}

// NewPaymentSettlementService wires dependencies into a concrete PaymentSettlementService.
func NewPaymentSettlementService(deps PaymentSettlementServiceDeps) (PaymentSettlementService, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment settlement service: order repository is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("payment settlement service: payment gateway client is required")
	}
	if strings.TrimSpace(deps.SuccessURL) == "" || strings.TrimSpace(deps.CancelURL) == "" {
		return nil, errors.New("payment settlement service: success and cancel urls are required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}
	reporter := deps.Reporter
	if reporter == nil {
		reporter = nopReporter{}
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = nopMetrics{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	attemptIDs := deps.AttemptIDs
	if attemptIDs == nil {
		attemptIDs = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &paymentSettlementService{
		orders:        deps.Orders,
		users:         deps.Users,
		gateway:       deps.Gateway,
		notifications: deps.Notifications,
		unitOfWork:    unit,
		reporter:      reporter,
		metrics:       metrics,
		successURL:    strings.TrimSpace(deps.SuccessURL),
		cancelURL:     strings.TrimSpace(deps.CancelURL),
		opsRecipient:  strings.TrimSpace(deps.OpsRecipient),
		clock: func() time.Time {
			return clock().UTC()
		},
		attemptIDs: attemptIDs,
		logger:     logger,
	}, nil
}

// InitiateCheckout claims the order for a new payment attempt, then dispatches the checkout
// session request keyed by the order id. A failed dispatch restores the previous payment status.
func (s *paymentSettlementService) InitiateCheckout(ctx context.Context, order Order) (Order, error) {
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrInvalidOrder)
	}

	var (
		claimed  Order
		previous Order
	)
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		current, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return mapRepositoryError("find order", err, ErrOrderNotFound)
		}
		if current.Status != domain.OrderStatusPending || !domain.CheckoutRetryable(current.PaymentStatus) {
			return fmt.Errorf("%w: order %s is %s with payment status %q", ErrCheckoutNotAllowed, current.ID, current.Status, current.PaymentStatus)
		}
		previous = current

		current.PaymentStatus = domain.PaymentStatusPending
		current.CheckoutSessionURL = nil
		current.PaymentTransactionID = nil
		current.ReceiptURL = nil
		details := ensureMap(cloneMap(current.PaymentDetails))
		for _, key := range []string{"sessionId", "sessionExpiresAt", "errorDetail", "receipt_url"} {
			delete(details, key)
		}
		details[detailAttemptID] = s.attemptIDs()
		current.PaymentDetails = details
		current.UpdatedAt = s.clock()
		claimed, err = s.orders.Save(txCtx, current)
		if err != nil {
			return internalError("persist checkout", err)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	req, err := s.buildCheckoutRequest(ctx, claimed)
	if err == nil {
		err = s.gateway.RequestCheckoutSession(ctx, req)
	}
	if err != nil {
		s.logger(ctx, "payment.checkout.dispatch_failed", map[string]any{
			"orderId": orderID,
			"error":   err.Error(),
		})
		s.restorePaymentStatus(ctx, previous)
		return Order{}, internalError("request checkout session", err)
	}

	s.logger(ctx, "payment.checkout.requested", map[string]any{
		"orderId":  orderID,
		"currency": req.Currency,
		"items":    len(req.LineItems),
	})
	return claimed, nil
}

func (s *paymentSettlementService) restorePaymentStatus(ctx context.Context, previous Order) {
	ctx = context.WithoutCancel(ctx)
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		current, err := s.orders.FindByID(txCtx, previous.ID)
		if err != nil {
			return err
		}
		if current.PaymentStatus != domain.PaymentStatusPending {
			return nil
		}
		current.PaymentStatus = previous.PaymentStatus
		current.CheckoutSessionURL = previous.CheckoutSessionURL
		current.PaymentTransactionID = previous.PaymentTransactionID
		current.ReceiptURL = previous.ReceiptURL
		current.PaymentDetails = previous.PaymentDetails
		current.UpdatedAt = s.clock()
		_, err = s.orders.Save(txCtx, current)
		return err
	})
	if err != nil {
		s.logger(ctx, "payment.checkout.restore_failed", map[string]any{
			"orderId": previous.ID,
			"error":   err.Error(),
		})
	}
}

func (s *paymentSettlementService) buildCheckoutRequest(ctx context.Context, order Order) (CheckoutSessionRequest, error) {
	email := order.CustomerEmail
	if email == "" && s.users != nil {
		user, err := s.users.FindByID(ctx, order.UserID)
		if err != nil {
			return CheckoutSessionRequest{}, mapRepositoryError("find user", err, ErrUserNotFound)
		}
		email = user.Email
	}

	items := make([]domain.CheckoutItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, domain.CheckoutItem{
			Name:       item.ProductName,
			UnitAmount: item.UnitPrice.Amount,
			Quantity:   item.Quantity,
		})
	}

	return CheckoutSessionRequest{
		OrderID:       order.ID,
		CustomerEmail: email,
		LineItems:     items,
		SuccessURL:    strings.ReplaceAll(s.successURL, orderIDPlaceholder, order.ID),
		CancelURL:     strings.ReplaceAll(s.cancelURL, orderIDPlaceholder, order.ID),
		Currency:      strings.ToLower(order.Total.Currency),
		Metadata: map[string]string{
			"order_id":         order.ID,
			"user_id":          order.UserID,
			attemptMetadataKey: attemptOf(order.PaymentDetails),
		},
		CorrelationID: order.ID,
	}, nil
}

type settlementResult struct {
	order   *Order
	outcome string
}

// ApplySettlement records an asynchronous payment outcome against its order. Events for unknown
// orders are dropped. Events whose status cannot follow the current payment status are ignored.
func (s *paymentSettlementService) ApplySettlement(ctx context.Context, event PaymentSettlementEvent) error {
	orderID := strings.TrimSpace(event.OrderID)
	if orderID == "" {
		s.logger(ctx, "payment.settlement.invalid", map[string]any{"eventId": event.EventID})
		return fmt.Errorf("%w: settlement event order id is required", ErrInvalidOrder)
	}

	status, ok := domain.ParsePaymentStatus(event.Status)
	if !ok {
		s.metrics.SettlementApplied(event.Status, settlementUnhandled)
		s.logger(ctx, "payment.settlement.unhandled_status", map[string]any{
			"orderId": orderID,
			"eventId": event.EventID,
			"status":  event.Status,
		})
		return fmt.Errorf("%w: %q", ErrUnrecognizedPaymentStatus, event.Status)
	}

	var result settlementResult
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		result = settlementResult{}
		order, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			var repoErr repositories.RepositoryError
			if errors.As(err, &repoErr) && repoErr.IsNotFound() {
				result.outcome = settlementDropped
				return nil
			}
			return internalError("find order", err)
		}

		result.outcome = classifySettlement(order, status, event)
		if result.outcome == settlementStale {
			result.order = &order
			return nil
		}

		s.applyPaymentFields(txCtx, &order, status, event)
		result.order = &order

		saved, err := s.orders.Save(txCtx, order)
		if err != nil {
			return internalError("persist settlement", err)
		}
		result.order = &saved
		return nil
	})
	if err != nil {
		return s.escalate(ctx, event, status, result.order, err)
	}

	fields := map[string]any{
		"orderId":   orderID,
		"eventId":   event.EventID,
		"status":    string(status),
		"outcome":   result.outcome,
		"eventType": event.Status,
	}
	switch result.outcome {
	case settlementDropped:
		s.metrics.SettlementApplied(string(status), settlementDropped)
		s.logger(ctx, "payment.settlement.order_missing", fields)
		return nil
	case settlementStale:
		fields["currentPaymentStatus"] = string(result.order.PaymentStatus)
		s.metrics.SettlementApplied(string(status), settlementStale)
		s.logger(ctx, "payment.settlement.stale", fields)
		return nil
	case settlementDuplicate:
		s.metrics.SettlementApplied(string(status), settlementDuplicate)
		s.logger(ctx, "payment.settlement.duplicate", fields)
		return nil
	}

	s.logger(ctx, "payment.settlement.applied", fields)
	if status == domain.PaymentStatusPending {
		s.metrics.SettlementApplied(string(status), settlementApplied)
		return nil
	}

	if err := s.notifyOutcome(ctx, *result.order, status); err != nil {
		return s.escalate(ctx, event, status, result.order, err)
	}
	s.metrics.SettlementApplied(string(status), settlementApplied)
	return nil
}

// classifySettlement decides how an incoming status relates to the stored payment status. An
// unset status is treated as pending so a settlement is not lost when the checkout claim was not
// recorded. Only a success may come from a session other than the current attempt, since that
// money has been captured regardless.
func classifySettlement(order Order, incoming PaymentStatus, event PaymentSettlementEvent) string {
	current := order.PaymentStatus
	if current == domain.PaymentStatusUnset {
		current = domain.PaymentStatusPending
	}
	if incoming != domain.PaymentStatusSucceeded {
		want, got := attemptOf(order.PaymentDetails), attemptOf(event.Details)
		if want != "" && got != "" && want != got {
			return settlementStale
		}
	}
	switch {
	case incoming == domain.PaymentStatusPending && current == domain.PaymentStatusPending:
		return settlementApplied
	case domain.CanTransitionPayment(current, incoming):
		return settlementApplied
	case current == incoming:
		return settlementDuplicate
	default:
		return settlementStale
	}
}

func attemptOf(details map[string]any) string {
	id, _ := details[detailAttemptID].(string)
	return strings.TrimSpace(id)
}

func (s *paymentSettlementService) applyPaymentFields(ctx context.Context, order *Order, status PaymentStatus, event PaymentSettlementEvent) {
	now := s.clock()
	order.PaymentStatus = status
	if tx := strings.TrimSpace(event.TransactionID); tx != "" {
		order.PaymentTransactionID = valuePtr(tx)
	}
	if url := strings.TrimSpace(event.CheckoutURL); url != "" {
		order.CheckoutSessionURL = valuePtr(url)
	}
	receipt := strings.TrimSpace(event.ReceiptURL)
	if receipt == "" {
		if nested, ok := event.Details["receipt_url"].(string); ok {
			receipt = strings.TrimSpace(nested)
		}
	}
	if receipt != "" {
		order.ReceiptURL = valuePtr(receipt)
	}

	details := ensureMap(cloneMap(order.PaymentDetails))
	attempt := attemptOf(details)
	for k, v := range event.Details {
		details[k] = v
	}
	if attempt != "" {
		// A success from an earlier session must not repoint the order at that attempt.
		details[detailAttemptID] = attempt
	}
	if status == domain.PaymentStatusSucceeded && event.ErrorDetail == "" {
		delete(details, "errorDetail")
	}
	if event.EventID != "" {
		details["lastEventId"] = event.EventID
	}
	if !event.OccurredAt.IsZero() {
		details["lastEventAt"] = event.OccurredAt.UTC().Format(time.RFC3339)
	}
	if event.ErrorDetail != "" {
		details["errorDetail"] = event.ErrorDetail
	}
	if event.Amount != 0 {
		details["amount"] = event.Amount
		details["currency"] = strings.ToUpper(event.Currency)
	}
	order.PaymentDetails = details

	if status == domain.PaymentStatusSucceeded {
		if event.Amount != 0 && (event.Amount != order.Total.Amount || !strings.EqualFold(event.Currency, order.Total.Currency)) {
			s.logger(ctx, "payment.settlement.amount_mismatch", map[string]any{
				"orderId":  order.ID,
				"expected": order.Total.String(),
				"received": domain.NewMoney(event.Amount, event.Currency).String(),
			})
		}
		switch {
		case domain.CanTransitionOrder(order.Status, domain.OrderStatusConfirmed):
			order.Status = domain.OrderStatusConfirmed
		case order.Status == domain.OrderStatusCancelled:
			s.logger(ctx, "payment.settlement.paid_after_cancel", map[string]any{
				"orderId":       order.ID,
				"transactionId": event.TransactionID,
			})
		}
	}
	order.UpdatedAt = now
}

func (s *paymentSettlementService) notifyOutcome(ctx context.Context, order Order, status PaymentStatus) error {
	if s.notifications == nil || order.CustomerEmail == "" {
		return nil
	}
	var template string
	switch status {
	case domain.PaymentStatusSucceeded:
		template = templatePaymentSucceeded
	case domain.PaymentStatusFailed:
		template = templatePaymentFailed
	case domain.PaymentStatusCanceled:
		template = templatePaymentCanceled
	default:
		return nil
	}
	data := orderTemplateData(order)
	data["items"] = lineItemData(order.Items)
	return s.notifications.Send(ctx, Notification{
		TemplateID:    template,
		Recipient:     order.CustomerEmail,
		Data:          data,
		CorrelationID: order.ID,
	})
}

// escalate handles a settlement that could not be fully processed: the payment fields are written
// again, operations and the customer are told, and the cause is returned to the caller.
func (s *paymentSettlementService) escalate(ctx context.Context, event PaymentSettlementEvent, status PaymentStatus, order *Order, cause error) error {
	ctx = context.WithoutCancel(ctx)
	orderID := strings.TrimSpace(event.OrderID)

	s.metrics.SettlementEscalated()
	s.metrics.SettlementApplied(string(status), settlementEscalated)
	s.logger(ctx, "payment.settlement.escalated", map[string]any{
		"orderId": orderID,
		"eventId": event.EventID,
		"status":  string(status),
		"error":   cause.Error(),
	})
	s.reporter.Report(ctx, cause, map[string]string{
		"order_id": orderID,
		"event_id": event.EventID,
		"status":   string(status),
	})

	if order != nil {
		retry := *order
		s.applyPaymentFields(ctx, &retry, status, event)
		if _, err := s.orders.Save(ctx, retry); err != nil {
			s.logger(ctx, "payment.settlement.reapply_failed", map[string]any{
				"orderId": orderID,
				"error":   err.Error(),
			})
		}
	}

	if s.notifications != nil {
		if s.opsRecipient != "" {
			data := map[string]any{
				"orderId":       orderID,
				"eventId":       event.EventID,
				"status":        string(status),
				"transactionId": event.TransactionID,
				"error":         cause.Error(),
			}
			if err := s.notifications.Send(ctx, Notification{
				TemplateID:    templateSettlementErrorAdmin,
				Recipient:     s.opsRecipient,
				Data:          data,
				CorrelationID: orderID,
			}); err != nil {
				s.logger(ctx, "payment.settlement.admin_notice_failed", map[string]any{"orderId": orderID, "error": err.Error()})
			}
		}
		if order != nil && order.CustomerEmail != "" {
			if err := s.notifications.Send(ctx, Notification{
				TemplateID: templateSettlementErrorCustomer,
				Recipient:  order.CustomerEmail,
				Data: map[string]any{
					"orderId":      orderID,
					"customerName": order.CustomerName,
				},
				CorrelationID: orderID,
			}); err != nil {
				s.logger(ctx, "payment.settlement.customer_notice_failed", map[string]any{"orderId": orderID, "error": err.Error()})
			}
		}
	}

	return internalError("apply settlement", cause)
}
