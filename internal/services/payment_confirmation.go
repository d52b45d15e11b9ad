package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/changerplanet/WebWaka2-sub010/internal/domain"
)

const paymentFailedReason = "payment_failed"

// ConfirmPayment settles a gateway notification. Replays of an already settled outcome return the
// order unchanged.
func (s *paymentService) ConfirmPayment(ctx context.Context, c PaymentConfirmation) (domain.Order, error) {
	if strings.TrimSpace(c.Provider) == "" || strings.TrimSpace(c.Reference) == "" {
		return domain.Order{}, fmt.Errorf("%w: provider and reference are required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByPaymentReference(ctx, c.Provider, c.Reference)
	if err != nil {
		return domain.Order{}, translateRepoError(err, ErrOrderNotFound, nil)
	}
	if c.Succeeded {
		return s.confirmSuccess(ctx, order, c)
	}
	return s.confirmFailure(ctx, order, c)
}

func (s *paymentService) confirmSuccess(ctx context.Context, order domain.Order, c PaymentConfirmation) (domain.Order, error) {
	if order.PaymentStatus == domain.PaymentStatusPaid {
		s.logger(ctx, "payment.confirmation.duplicate", map[string]any{"orderId": order.ID, "reference": c.Reference})
		return order, nil
	}
	if IsTerminal(order.Status) {
		// Captured after compensation or a refund ran; operators reconcile it.
		s.logger(ctx, "payment.confirmation.closed_order", map[string]any{"orderId": order.ID, "status": string(order.Status), "reference": c.Reference})
		return order, nil
	}
	advance := order.Status != domain.OrderStatusPaid && !reachedVia(order.Status, domain.OrderStatusPaid)
	if advance && !CanTransition(order.Status, domain.OrderStatusPaid) {
		return domain.Order{}, &TransitionError{From: order.Status, To: domain.OrderStatusPaid, Allowed: AllowedTransitions(order.Status)}
	}

	now := s.now()
	if order.InventoryDeductedAt == nil {
		if err := s.inventory.Deduct(ctx, order); err != nil {
			return domain.Order{}, err
		}
		order.InventoryDeductedAt = &now
	}

	previous := order.Status
	order.PaymentStatus = domain.PaymentStatusPaid
	order.UpdatedAt = now
	if c.TransactionID != "" {
		order.Payment.TransactionID = c.TransactionID
	}
	if advance {
		if err := Transition(&order, domain.OrderStatusPaid, "", now); err != nil {
			return domain.Order{}, err
		}
		for i := range order.SubOrders {
			if order.SubOrders[i].Status != domain.OrderStatusPlaced {
				continue
			}
			if err := TransitionSub(&order.SubOrders[i], domain.OrderStatusPaid, "", now); err != nil {
				return domain.Order{}, err
			}
		}
	}

	saved, err := s.orders.Update(ctx, order)
	if err != nil {
		return domain.Order{}, translateRepoError(err, ErrOrderNotFound, ErrOrderConflict)
	}

	s.logger(ctx, "payment.confirmed", map[string]any{
		"orderId":       saved.ID,
		"reference":     c.Reference,
		"transactionId": saved.Payment.TransactionID,
	})
	publishEvent(ctx, s.events, s.logger, OrderEvent{
		Type:        EventPaymentConfirmed,
		TenantID:    saved.TenantID,
		OrderID:     saved.ID,
		OrderNumber: saved.OrderNumber,
		Status:      string(saved.Status),
		OccurredAt:  now,
	})
	if !advance {
		return saved, nil
	}
	publishEvent(ctx, s.events, s.logger, OrderEvent{
		Type:           EventOrderStatusChanged,
		TenantID:       saved.TenantID,
		OrderID:        saved.ID,
		OrderNumber:    saved.OrderNumber,
		Status:         string(saved.Status),
		PreviousStatus: string(previous),
		OccurredAt:     now,
	})
	return saved, nil
}

func (s *paymentService) confirmFailure(ctx context.Context, order domain.Order, c PaymentConfirmation) (domain.Order, error) {
	switch {
	case order.PaymentStatus == domain.PaymentStatusFailed, order.Status == domain.OrderStatusCancelled:
		return order, nil
	case order.PaymentStatus == domain.PaymentStatusPaid:
		s.logger(ctx, "payment.confirmation.failure_after_paid", map[string]any{"orderId": order.ID, "reference": c.Reference})
		return order, nil
	}
	s.logger(ctx, "payment.declined", map[string]any{
		"orderId":   order.ID,
		"reference": c.Reference,
		"reason":    c.FailureReason,
	})
	return s.orderSvc.CancelOrder(ctx, order.TenantID, order.ID, paymentFailedReason, WithPaymentStatus(domain.PaymentStatusFailed))
}

// reachedVia reports whether status lies downstream of via on the non-terminal path.
func reachedVia(status, via domain.OrderStatus) bool {
	seen := map[domain.OrderStatus]bool{}
	queue := AllowedTransitions(via)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if seen[next] || IsTerminal(next) {
			continue
		}
		if next == status {
			return true
		}
		seen[next] = true
		queue = append(queue, AllowedTransitions(next)...)
	}
	return false
}
