package services

import (
	"context"
	"errors"
	"testing"

	"github.com/changerplanet/WebWaka2-sub010/internal/domain"
	"github.com/changerplanet/WebWaka2-sub010/internal/payments"
	"github.com/changerplanet/WebWaka2-sub010/internal/repositories"
	"github.com/changerplanet/WebWaka2-sub010/internal/repositories/memory"
)

func TestTransitionTable(t *testing.T) {
	now := fixedNow()
	order := domain.Order{Status: domain.OrderStatusPaid}

	err := Transition(&order, domain.OrderStatusDelivered, "", now)
	var transitionErr *TransitionError
	if !errors.As(err, &transitionErr) || !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected TransitionError, got %v", err)
	}
	if transitionErr.From != domain.OrderStatusPaid || len(transitionErr.Allowed) != 3 {
		t.Fatalf("unexpected transition error %+v", transitionErr)
	}

	for _, next := range []domain.OrderStatus{domain.OrderStatusProcessing, domain.OrderStatusShipped, domain.OrderStatusDelivered, domain.OrderStatusFulfilled} {
		if err := Transition(&order, next, "", now); err != nil {
			t.Fatalf("Transition to %s: %v", next, err)
		}
	}
	if order.ShippedAt == nil || order.DeliveredAt == nil {
		t.Fatalf("expected shipped and delivered stamps, got %+v", order.StatusTimestamps)
	}

	if err := Transition(&order, domain.OrderStatusRefunded, "", now); !errors.Is(err, ErrReasonRequired) {
		t.Fatalf("expected ErrReasonRequired, got %v", err)
	}
	if err := Transition(&order, domain.OrderStatusRefunded, "damaged", now); err != nil {
		t.Fatalf("refund: %v", err)
	}
	if !IsTerminal(order.Status) || order.RefundReason != "damaged" || order.RefundedAt == nil {
		t.Fatalf("unexpected refunded order %+v", order)
	}
	if err := Transition(&order, domain.OrderStatusPaid, "", now); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("terminal state must reject transitions, got %v", err)
	}
}

type lifecycleFixture struct {
	store     *memory.Store
	orders    OrderService
	lifecycle LifecycleService
	events    *recordingPublisher
	order     domain.Order
}

func newLifecycleFixture(t *testing.T, gateways GatewayResolver) lifecycleFixture {
	t.Helper()
	store := seedMarketplace(t)
	cart := seedCart(t, store)
	events := &recordingPublisher{}
	gate := newGate(t, store)
	orders := newOrderService(t, store, events)
	lifecycle, err := NewLifecycleService(LifecycleServiceDeps{
		Orders:    store.Orders(),
		Partners:  store.PaymentPartners(),
		OrderSvc:  orders,
		Inventory: gate,
		Gateways:  gateways,
		Events:    events,
		Clock:     fixedNow,
	})
	if err != nil {
		t.Fatalf("NewLifecycleService: %v", err)
	}

	ctx := context.Background()
	order, err := orders.CreateOrder(ctx, decompositionInput(cart, domain.PaymentMethodCard))
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if err := gate.Deduct(ctx, order); err != nil {
		t.Fatalf("Deduct: %v", err)
	}
	now := fixedNow()
	order.InventoryDeductedAt = &now
	order.PaymentStatus = domain.PaymentStatusPaid
	order.Payment = domain.OrderPayment{Provider: "stripe", Reference: "cs_1", TransactionID: "pi_1"}
	if err := Transition(&order, domain.OrderStatusPaid, "", now); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	for i := range order.SubOrders {
		if err := TransitionSub(&order.SubOrders[i], domain.OrderStatusPaid, "", now); err != nil {
			t.Fatalf("TransitionSub: %v", err)
		}
	}
	order, err = store.Orders().Update(ctx, order)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	events.events = nil
	return lifecycleFixture{store: store, orders: orders, lifecycle: lifecycle, events: events, order: order}
}

func TestTransitionOrderCascadesToSubOrders(t *testing.T) {
	fx := newLifecycleFixture(t, nil)
	ctx := context.Background()

	if _, err := fx.lifecycle.TransitionOrder(ctx, "t1", fx.order.ID, domain.OrderStatusDelivered, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected PAID -> DELIVERED to be rejected, got %v", err)
	}

	var order domain.Order
	var err error
	for _, next := range []domain.OrderStatus{domain.OrderStatusProcessing, domain.OrderStatusShipped, domain.OrderStatusDelivered} {
		order, err = fx.lifecycle.TransitionOrder(ctx, "t1", fx.order.ID, next, "")
		if err != nil {
			t.Fatalf("TransitionOrder(%s): %v", next, err)
		}
	}
	for _, sub := range order.SubOrders {
		if sub.Status != domain.OrderStatusDelivered {
			t.Fatalf("expected sub-order delivered, got %s", sub.Status)
		}
	}
	if len(fx.events.events) != 3 || fx.events.events[2].PreviousStatus != string(domain.OrderStatusShipped) {
		t.Fatalf("expected three status_changed events, got %+v", fx.events.events)
	}
}

func TestTransitionSubOrderRollsUpParent(t *testing.T) {
	fx := newLifecycleFixture(t, nil)
	ctx := context.Background()
	first, second := fx.order.SubOrders[0].ID, fx.order.SubOrders[1].ID

	order, err := fx.lifecycle.TransitionSubOrder(ctx, "t1", fx.order.ID, first, domain.OrderStatusProcessing, "")
	if err != nil {
		t.Fatalf("TransitionSubOrder: %v", err)
	}
	if order.Status != domain.OrderStatusPaid {
		t.Fatalf("parent must wait for every vendor, got %s", order.Status)
	}
	order, err = fx.lifecycle.TransitionSubOrder(ctx, "t1", fx.order.ID, second, domain.OrderStatusProcessing, "")
	if err != nil {
		t.Fatalf("TransitionSubOrder: %v", err)
	}
	if order.Status != domain.OrderStatusProcessing {
		t.Fatalf("expected parent to follow, got %s", order.Status)
	}

	if _, err := fx.lifecycle.TransitionSubOrder(ctx, "t1", fx.order.ID, "nope", domain.OrderStatusShipped, ""); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected unknown sub-order to be not found, got %v", err)
	}
}

type staleOrders struct {
	repositories.OrderRepository
}

func (staleOrders) Update(context.Context, domain.Order) (domain.Order, error) {
	return domain.Order{}, repositories.Conflict("order.update", "stale version")
}

func TestTransitionOrderStaleVersion(t *testing.T) {
	fx := newLifecycleFixture(t, nil)
	lifecycle, err := NewLifecycleService(LifecycleServiceDeps{
		Orders:    staleOrders{fx.store.Orders()},
		OrderSvc:  fx.orders,
		Inventory: newGate(t, fx.store),
		Clock:     fixedNow,
	})
	if err != nil {
		t.Fatalf("NewLifecycleService: %v", err)
	}
	if _, err := lifecycle.TransitionOrder(context.Background(), "t1", fx.order.ID, domain.OrderStatusProcessing, ""); !errors.Is(err, ErrOrderConflict) {
		t.Fatalf("expected ErrOrderConflict, got %v", err)
	}
}

type refundingGateway struct {
	payments.Gateway
	refundFn func(context.Context, payments.RefundRequest) error
}

func (g refundingGateway) Name() string { return "stripe" }

func (g refundingGateway) Refund(ctx context.Context, req payments.RefundRequest) error {
	return g.refundFn(ctx, req)
}

type stubResolver struct {
	gatewayFn func(string) (payments.Gateway, error)
}

func (s stubResolver) Gateway(provider string) (payments.Gateway, error) { return s.gatewayFn(provider) }

func TestRefundOrderRefundsAndRestocks(t *testing.T) {
	var refunded payments.RefundRequest
	gw := refundingGateway{refundFn: func(_ context.Context, req payments.RefundRequest) error {
		refunded = req
		return nil
	}}
	fx := newLifecycleFixture(t, stubResolver{gatewayFn: func(string) (payments.Gateway, error) { return gw, nil }})
	ctx := context.Background()

	if _, err := fx.lifecycle.RefundOrder(ctx, "t1", fx.order.ID, ""); !errors.Is(err, ErrReasonRequired) {
		t.Fatalf("expected ErrReasonRequired, got %v", err)
	}
	order, err := fx.lifecycle.RefundOrder(ctx, "t1", fx.order.ID, "out of stock at vendor")
	if err != nil {
		t.Fatalf("RefundOrder: %v", err)
	}
	if order.Status != domain.OrderStatusRefunded || order.PaymentStatus != domain.PaymentStatusRefunded {
		t.Fatalf("unexpected refunded order %s/%s", order.Status, order.PaymentStatus)
	}
	if refunded.TransactionID != "pi_1" || refunded.IdempotencyKey != "refund-"+fx.order.ID {
		t.Fatalf("unexpected refund request %+v", refunded)
	}
	if got := fx.store.SellableStock("t1", "p1", ""); got != 10 {
		t.Fatalf("expected unshipped stock returned, got %d", got)
	}
}

func TestRefundOrderGatewayFailureKeepsOrder(t *testing.T) {
	gw := refundingGateway{refundFn: func(context.Context, payments.RefundRequest) error {
		return errors.New("connection reset")
	}}
	fx := newLifecycleFixture(t, stubResolver{gatewayFn: func(string) (payments.Gateway, error) { return gw, nil }})
	ctx := context.Background()

	if _, err := fx.lifecycle.RefundOrder(ctx, "t1", fx.order.ID, "duplicate order"); !errors.Is(err, ErrServiceUnavailable) {
		t.Fatalf("expected ErrServiceUnavailable, got %v", err)
	}
	stored, err := fx.orders.GetOrder(ctx, "t1", fx.order.ID)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if stored.Status != domain.OrderStatusPaid || stored.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("failed refund must not change the order, got %s/%s", stored.Status, stored.PaymentStatus)
	}
}

func TestTransitionOrderCancelDelegates(t *testing.T) {
	fx := newLifecycleFixture(t, nil)
	order, err := fx.lifecycle.TransitionOrder(context.Background(), "t1", fx.order.ID, domain.OrderStatusCancelled, "vendor closed")
	if err != nil {
		t.Fatalf("TransitionOrder: %v", err)
	}
	if order.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled, got %s", order.Status)
	}
	if got := fx.store.SellableStock("t1", "p2", ""); got != 10 {
		t.Fatalf("expected restock on cancel, got %d", got)
	}
}
