package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/changerplanet/WebWaka2-sub010/internal/domain"
	"github.com/changerplanet/WebWaka2-sub010/internal/payments"
	"github.com/changerplanet/WebWaka2-sub010/internal/repositories"
)

var orderTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusDraft:      {domain.OrderStatusPlaced, domain.OrderStatusCancelled},
	domain.OrderStatusPlaced:     {domain.OrderStatusPaid, domain.OrderStatusCancelled},
	domain.OrderStatusPaid:       {domain.OrderStatusProcessing, domain.OrderStatusCancelled, domain.OrderStatusRefunded},
	domain.OrderStatusProcessing: {domain.OrderStatusShipped, domain.OrderStatusCancelled, domain.OrderStatusRefunded},
	domain.OrderStatusShipped:    {domain.OrderStatusDelivered, domain.OrderStatusRefunded},
	domain.OrderStatusDelivered:  {domain.OrderStatusFulfilled, domain.OrderStatusRefunded},
	domain.OrderStatusFulfilled:  {domain.OrderStatusRefunded},
	domain.OrderStatusCancelled:  {},
	domain.OrderStatusRefunded:   {},
}

// AllowedTransitions lists the statuses reachable from status.
func AllowedTransitions(status domain.OrderStatus) []domain.OrderStatus {
	return append([]domain.OrderStatus(nil), orderTransitions[status]...)
}

// CanTransition reports whether from -> to is in the lifecycle table.
func CanTransition(from, to domain.OrderStatus) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves status.
func IsTerminal(status domain.OrderStatus) bool {
	return status == domain.OrderStatusCancelled || status == domain.OrderStatusRefunded
}

type statusTarget struct {
	status       *domain.OrderStatus
	stamps       *domain.StatusTimestamps
	cancelReason *string
	refundReason *string
	updatedAt    *time.Time
}

func applyTransition(t statusTarget, to domain.OrderStatus, reason string, now time.Time) error {
	from := *t.status
	if !CanTransition(from, to) {
		return &TransitionError{From: from, To: to, Allowed: AllowedTransitions(from)}
	}
	reason = strings.TrimSpace(reason)
	if (to == domain.OrderStatusCancelled || to == domain.OrderStatusRefunded) && reason == "" {
		return fmt.Errorf("%w: %s requires a reason", ErrReasonRequired, to)
	}

	stamp := now
	switch to {
	case domain.OrderStatusPaid:
		t.stamps.PaidAt = &stamp
	case domain.OrderStatusShipped:
		t.stamps.ShippedAt = &stamp
	case domain.OrderStatusDelivered:
		t.stamps.DeliveredAt = &stamp
	case domain.OrderStatusCancelled:
		t.stamps.CancelledAt = &stamp
		*t.cancelReason = reason
	case domain.OrderStatusRefunded:
		t.stamps.RefundedAt = &stamp
		*t.refundReason = reason
	}
	*t.status = to
	*t.updatedAt = now
	return nil
}

// Transition moves a parent order to target, stamping the matching timestamp. It is the only way
// order statuses change.
func Transition(order *domain.Order, target domain.OrderStatus, reason string, now time.Time) error {
	return applyTransition(statusTarget{
		status:       &order.Status,
		stamps:       &order.StatusTimestamps,
		cancelReason: &order.CancellationReason,
		refundReason: &order.RefundReason,
		updatedAt:    &order.UpdatedAt,
	}, target, reason, now)
}

// TransitionSub is Transition for a vendor sub-order.
func TransitionSub(sub *domain.SubOrder, target domain.OrderStatus, reason string, now time.Time) error {
	return applyTransition(statusTarget{
		status:       &sub.Status,
		stamps:       &sub.StatusTimestamps,
		cancelReason: &sub.CancellationReason,
		refundReason: &sub.RefundReason,
		updatedAt:    &sub.UpdatedAt,
	}, target, reason, now)
}

// GatewayResolver finds the payment adapter for a provider.
type GatewayResolver interface {
	Gateway(provider string) (payments.Gateway, error)
}

// LifecycleServiceDeps wires the lifecycle service.
type LifecycleServiceDeps struct {
	Orders    repositories.OrderRepository
	Partners  repositories.PaymentPartnerRepository
	OrderSvc  OrderService
	Inventory InventoryService
	Gateways  GatewayResolver
	Events    EventPublisher
	Clock     func() time.Time
	Logger    Logger
}

type lifecycleService struct {
	orders    repositories.OrderRepository
	partners  repositories.PaymentPartnerRepository
	orderSvc  OrderService
	inventory InventoryService
	gateways  GatewayResolver
	events    EventPublisher
	now       func() time.Time
	logger    Logger
}

// NewLifecycleService constructs a LifecycleService validating required dependencies.
func NewLifecycleService(deps LifecycleServiceDeps) (LifecycleService, error) {
	switch {
	case deps.Orders == nil:
		return nil, errors.New("lifecycle service: order repository is required")
	case deps.OrderSvc == nil:
		return nil, errors.New("lifecycle service: order service is required")
	case deps.Inventory == nil:
		return nil, errors.New("lifecycle service: inventory service is required")
	}
	return &lifecycleService{
		orders:    deps.Orders,
		partners:  deps.Partners,
		orderSvc:  deps.OrderSvc,
		inventory: deps.Inventory,
		gateways:  deps.Gateways,
		events:    publisherOrNoop(deps.Events),
		now:       utcClock(deps.Clock),
		logger:    loggerOrNoop(deps.Logger),
	}, nil
}

// TransitionOrder moves the parent and every sub-order still at the parent's status. Cancellation and
// refunds take their dedicated paths so stock and payment follow.
func (s *lifecycleService) TransitionOrder(ctx context.Context, tenantID, orderID string, target domain.OrderStatus, reason string) (domain.Order, error) {
	switch target {
	case domain.OrderStatusCancelled:
		return s.orderSvc.CancelOrder(ctx, tenantID, orderID, reason)
	case domain.OrderStatusRefunded:
		return s.RefundOrder(ctx, tenantID, orderID, reason)
	}

	order, err := s.load(ctx, tenantID, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if err := requireSettledPayment(order, target); err != nil {
		return domain.Order{}, err
	}
	now := s.now()
	previous := order.Status
	if err := Transition(&order, target, reason, now); err != nil {
		return domain.Order{}, err
	}
	for i := range order.SubOrders {
		if order.SubOrders[i].Status == previous {
			if err := TransitionSub(&order.SubOrders[i], target, reason, now); err != nil {
				return domain.Order{}, err
			}
		}
	}
	saved, err := s.save(ctx, order)
	if err != nil {
		return domain.Order{}, err
	}
	s.statusChanged(ctx, saved, "", previous, reason)
	return saved, nil
}

// TransitionSubOrder moves one vendor's sub-order. When every live sub-order has reached a status the
// parent can move to, the parent follows.
func (s *lifecycleService) TransitionSubOrder(ctx context.Context, tenantID, orderID, subOrderID string, target domain.OrderStatus, reason string) (domain.Order, error) {
	order, err := s.load(ctx, tenantID, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	idx := -1
	for i := range order.SubOrders {
		if order.SubOrders[i].ID == subOrderID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return domain.Order{}, fmt.Errorf("%w: sub-order %q", ErrOrderNotFound, subOrderID)
	}

	if err := requireSettledPayment(order, target); err != nil {
		return domain.Order{}, err
	}

	now := s.now()
	sub := &order.SubOrders[idx]
	previousSub := sub.Status
	if err := TransitionSub(sub, target, reason, now); err != nil {
		return domain.Order{}, err
	}

	previousParent := order.Status
	if rollup, ok := rollupStatus(order); ok && CanTransition(order.Status, rollup) {
		if err := Transition(&order, rollup, reason, now); err != nil {
			return domain.Order{}, err
		}
	}
	order.UpdatedAt = now

	saved, err := s.save(ctx, order)
	if err != nil {
		return domain.Order{}, err
	}
	s.statusChanged(ctx, saved, subOrderID, previousSub, reason)
	if saved.Status != previousParent {
		s.statusChanged(ctx, saved, "", previousParent, reason)
	}
	return saved, nil
}

// requireSettledPayment keeps gateway orders out of PAID until ConfirmPayment has settled them, so
// stock is deducted exactly where the payment is recorded.
func requireSettledPayment(order domain.Order, target domain.OrderStatus) error {
	if target != domain.OrderStatusPaid || order.PaymentMethod == domain.PaymentMethodCOD || order.PaymentStatus == domain.PaymentStatusPaid {
		return nil
	}
	return fmt.Errorf("%w: %s orders become PAID when the gateway confirms", ErrPaymentNotConfirmed, order.PaymentMethod)
}

// rollupStatus returns the status shared by every sub-order that is not cancelled or refunded.
func rollupStatus(order domain.Order) (domain.OrderStatus, bool) {
	var shared domain.OrderStatus
	for _, sub := range order.SubOrders {
		if IsTerminal(sub.Status) {
			continue
		}
		if shared == "" {
			shared = sub.Status
			continue
		}
		if sub.Status != shared {
			return "", false
		}
	}
	return shared, shared != ""
}

// RefundOrder refunds the captured payment through the gateway, then marks the order and its
// sub-orders refunded. Stock returns only if nothing had shipped.
func (s *lifecycleService) RefundOrder(ctx context.Context, tenantID, orderID, reason string) (domain.Order, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return domain.Order{}, fmt.Errorf("%w: refund requires a reason", ErrReasonRequired)
	}
	order, err := s.load(ctx, tenantID, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if order.Status == domain.OrderStatusRefunded {
		return order, nil
	}

	now := s.now()
	previous := order.Status
	if err := Transition(&order, domain.OrderStatusRefunded, reason, now); err != nil {
		return domain.Order{}, err
	}
	for i := range order.SubOrders {
		if IsTerminal(order.SubOrders[i].Status) {
			continue
		}
		if err := TransitionSub(&order.SubOrders[i], domain.OrderStatusRefunded, reason, now); err != nil {
			return domain.Order{}, err
		}
	}

	if order.PaymentStatus == domain.PaymentStatusPaid {
		if err := s.refundPayment(ctx, order, reason); err != nil {
			return domain.Order{}, err
		}
		order.PaymentStatus = domain.PaymentStatusRefunded
	}
	if order.InventoryDeductedAt != nil && (previous == domain.OrderStatusPaid || previous == domain.OrderStatusProcessing) {
		if err := s.inventory.Restock(ctx, order); err != nil {
			return domain.Order{}, err
		}
	}

	saved, err := s.save(ctx, order)
	if err != nil {
		return domain.Order{}, err
	}
	s.statusChanged(ctx, saved, "", previous, reason)
	return saved, nil
}

func (s *lifecycleService) refundPayment(ctx context.Context, order domain.Order, reason string) error {
	if order.PaymentMethod == domain.PaymentMethodCOD || order.Payment.TransactionID == "" || s.gateways == nil {
		return nil
	}
	gw, err := s.gateways.Gateway(order.Payment.Provider)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	refunder, ok := gw.(payments.Refunder)
	if !ok {
		s.logger(ctx, "order.refund.manual", map[string]any{"orderId": order.ID, "provider": order.Payment.Provider})
		return nil
	}
	var partner domain.PaymentPartner
	if s.partners != nil {
		partner, err = s.partners.ActiveForTenant(ctx, order.TenantID, domain.PaymentCapabilityPayments)
		if err != nil && !repositories.IsNotFound(err) {
			return translateRepoError(err, nil, nil)
		}
	}
	if err := refunder.Refund(ctx, payments.RefundRequest{
		Partner:        partner,
		TransactionID:  order.Payment.TransactionID,
		Reason:         reason,
		IdempotencyKey: "refund-" + order.ID,
	}); err != nil {
		return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	return nil
}

func (s *lifecycleService) load(ctx context.Context, tenantID, orderID string) (domain.Order, error) {
	if strings.TrimSpace(tenantID) == "" || strings.TrimSpace(orderID) == "" {
		return domain.Order{}, ErrOrderInvalidInput
	}
	order, err := s.orders.FindByID(ctx, tenantID, orderID)
	if err != nil {
		return domain.Order{}, translateRepoError(err, ErrOrderNotFound, nil)
	}
	return order, nil
}

func (s *lifecycleService) save(ctx context.Context, order domain.Order) (domain.Order, error) {
	saved, err := s.orders.Update(ctx, order)
	if err != nil {
		return domain.Order{}, translateRepoError(err, ErrOrderNotFound, ErrOrderConflict)
	}
	return saved, nil
}

func (s *lifecycleService) statusChanged(ctx context.Context, order domain.Order, subOrderID string, previous domain.OrderStatus, reason string) {
	status := order.Status
	if subOrderID != "" {
		for _, sub := range order.SubOrders {
			if sub.ID == subOrderID {
				status = sub.Status
			}
		}
	}
	s.logger(ctx, "order.status_changed", map[string]any{
		"orderId":        order.ID,
		"subOrderId":     subOrderID,
		"status":         string(status),
		"previousStatus": string(previous),
	})
	publishEvent(ctx, s.events, s.logger, OrderEvent{
		Type:           EventOrderStatusChanged,
		TenantID:       order.TenantID,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		SubOrderID:     subOrderID,
		Status:         string(status),
		PreviousStatus: string(previous),
		Reason:         reason,
		OccurredAt:     s.now(),
	})
}
