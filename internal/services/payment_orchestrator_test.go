package services

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/changerplanet/WebWaka2-sub010/internal/domain"
	"github.com/changerplanet/WebWaka2-sub010/internal/payments"
	"github.com/changerplanet/WebWaka2-sub010/internal/repositories"
	"github.com/changerplanet/WebWaka2-sub010/internal/repositories/memory"
)

type stubGateway struct {
	availableFn func(context.Context, domain.PaymentPartner) bool
	initiateFn  func(context.Context, payments.InitiateRequest) (payments.InitiateResult, error)
	initiated   int
}

func (g *stubGateway) Name() string { return "stripe" }

func (g *stubGateway) IsAvailable(ctx context.Context, partner domain.PaymentPartner) bool {
	if g.availableFn == nil {
		return true
	}
	return g.availableFn(ctx, partner)
}

func (g *stubGateway) InitiatePayment(ctx context.Context, req payments.InitiateRequest) (payments.InitiateResult, error) {
	g.initiated++
	return g.initiateFn(ctx, req)
}

func (g *stubGateway) ParseConfirmation(context.Context, []byte, http.Header) (payments.Confirmation, error) {
	return payments.Confirmation{}, errors.New("not used")
}

type paymentFixture struct {
	store    *memory.Store
	payments PaymentService
	orders   OrderService
	gate     InventoryService
	events   *recordingPublisher
	order    domain.Order
	cart     domain.Cart
}

func newPaymentFixture(t *testing.T, gw *stubGateway, method domain.PaymentMethod, withPartner bool) paymentFixture {
	t.Helper()
	store := seedMarketplace(t)
	if withPartner {
		store.PutPartner(domain.PaymentPartner{ID: "pp_1", TenantID: "t1", Provider: "stripe", AccountID: "acct_1", Active: true, Capabilities: []string{domain.PaymentCapabilityPayments}})
	}
	cart := seedCart(t, store)
	events := &recordingPublisher{}
	gate := newGate(t, store)
	orders := newOrderService(t, store, events)
	manager, err := payments.NewManager(gw)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	svc, err := NewPaymentService(PaymentServiceDeps{
		Orders:          store.Orders(),
		Carts:           store.Carts(),
		Partners:        store.PaymentPartners(),
		Gateways:        manager,
		OrderSvc:        orders,
		Inventory:       gate,
		Events:          events,
		Clock:           fixedNow,
		Timeout:         50 * time.Millisecond,
		CallbackBaseURL: "https://shop.example.com/checkout/return",
	})
	if err != nil {
		t.Fatalf("NewPaymentService: %v", err)
	}
	order, err := orders.CreateOrder(context.Background(), decompositionInput(cart, method))
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	events.events = nil
	return paymentFixture{store: store, payments: svc, orders: orders, gate: gate, events: events, order: order, cart: cart}
}

func (fx paymentFixture) pay(t *testing.T, tenant domain.Tenant) (PaymentOutcome, error) {
	t.Helper()
	return fx.payments.Pay(context.Background(), PaymentRequest{Tenant: tenant, Order: fx.order, CartID: fx.cart.ID, Customer: fx.order.Customer})
}

func successfulInitiation(_ context.Context, req payments.InitiateRequest) (payments.InitiateResult, error) {
	return payments.InitiateResult{
		Success:          true,
		Reference:        "cs_test_1",
		TransactionID:    "pi_1",
		AuthorizationURL: "https://checkout.stripe.test/" + req.Reference,
	}, nil
}

func TestPayCashOnDelivery(t *testing.T) {
	gw := &stubGateway{initiateFn: successfulInitiation}
	fx := newPaymentFixture(t, gw, domain.PaymentMethodCOD, false)

	outcome, err := fx.pay(t, testTenant())
	if err != nil {
		t.Fatalf("Pay: %v", err)
	}
	if !outcome.Deferred || outcome.Order.PaymentStatus != domain.PaymentStatusPending || outcome.Order.InventoryDeductedAt == nil {
		t.Fatalf("unexpected COD outcome %+v", outcome)
	}
	if gw.initiated != 0 {
		t.Fatalf("COD must not call the gateway")
	}
	if got := fx.store.SellableStock("t1", "p1", ""); got != 9 {
		t.Fatalf("expected immediate deduction, got %d", got)
	}
	if _, err := fx.store.Carts().FindByKey(context.Background(), "t1", "sess-1"); !repositories.IsNotFound(err) {
		t.Fatalf("expected cart cleared, got %v", err)
	}
}

func TestPayCashOnDeliveryShortStockCompensates(t *testing.T) {
	gw := &stubGateway{initiateFn: successfulInitiation}
	fx := newPaymentFixture(t, gw, domain.PaymentMethodCOD, false)
	fx.store.PutLevel("t1", domain.InventoryLevel{ProductID: "p2", LocationID: "lagos", Available: 0})

	_, err := fx.pay(t, testTenant())
	if !errors.Is(err, ErrInventoryDeductionFailed) {
		t.Fatalf("expected ErrInventoryDeductionFailed, got %v", err)
	}
	if got := fx.store.SellableStock("t1", "p1", ""); got != 10 {
		t.Fatalf("failed batch must not deduct p1, got %d", got)
	}
	stored, _ := fx.store.Orders().FindByID(context.Background(), "t1", fx.order.ID)
	if stored.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected compensated order, got %s", stored.Status)
	}
}

func TestPayGatewaySuccess(t *testing.T) {
	var seen payments.InitiateRequest
	gw := &stubGateway{initiateFn: func(ctx context.Context, req payments.InitiateRequest) (payments.InitiateResult, error) {
		seen = req
		if _, ok := ctx.Deadline(); !ok {
			t.Fatalf("gateway call must carry a deadline")
		}
		return successfulInitiation(ctx, req)
	}}
	fx := newPaymentFixture(t, gw, domain.PaymentMethodCard, true)

	outcome, err := fx.pay(t, testTenant())
	if err != nil {
		t.Fatalf("Pay: %v", err)
	}
	if outcome.Order.PaymentStatus != domain.PaymentStatusInitiated || outcome.Reference != "cs_test_1" {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if seen.Reference != fx.order.OrderNumber || !seen.Amount.Equal(fx.order.GrandTotal) || seen.Partner.ID != "pp_1" {
		t.Fatalf("unexpected initiate request %+v", seen)
	}
	if seen.CallbackURL != "https://shop.example.com/checkout/return" || len(seen.Items) != 2 {
		t.Fatalf("expected callback and items, got %+v", seen)
	}
	if got := fx.store.SellableStock("t1", "p1", ""); got != 10 {
		t.Fatalf("gateway path must not deduct, got %d", got)
	}
	byRef, err := fx.store.Orders().FindByPaymentReference(context.Background(), "stripe", "cs_test_1")
	if err != nil || byRef.ID != fx.order.ID {
		t.Fatalf("expected order indexed by reference, got %q %v", byRef.ID, err)
	}
	if _, err := fx.store.Carts().FindByKey(context.Background(), "t1", "sess-1"); !repositories.IsNotFound(err) {
		t.Fatalf("expected cart cleared, got %v", err)
	}
}

func TestPayGatewayFailuresCompensate(t *testing.T) {
	cases := []struct {
		name        string
		gw          *stubGateway
		withPartner bool
		code        string
	}{
		{
			name: "declined",
			gw: &stubGateway{initiateFn: func(context.Context, payments.InitiateRequest) (payments.InitiateResult, error) {
				return payments.InitiateResult{Success: false, Error: "card_declined: insufficient funds"}, nil
			}},
			withPartner: true,
			code:        PaymentInitiationFailed,
		},
		{
			name: "transport error",
			gw: &stubGateway{initiateFn: func(context.Context, payments.InitiateRequest) (payments.InitiateResult, error) {
				return payments.InitiateResult{}, errors.New("dial tcp: connection refused")
			}},
			withPartner: true,
			code:        PaymentGatewayException,
		},
		{
			name: "timeout",
			gw: &stubGateway{initiateFn: func(ctx context.Context, _ payments.InitiateRequest) (payments.InitiateResult, error) {
				<-ctx.Done()
				return payments.InitiateResult{}, ctx.Err()
			}},
			withPartner: true,
			code:        PaymentGatewayException,
		},
		{
			name: "panic",
			gw: &stubGateway{initiateFn: func(context.Context, payments.InitiateRequest) (payments.InitiateResult, error) {
				panic("nil session")
			}},
			withPartner: true,
			code:        PaymentGatewayException,
		},
		{
			name:        "no partner",
			gw:          &stubGateway{initiateFn: successfulInitiation},
			withPartner: false,
			code:        PaymentPartnerNotConfigured,
		},
		{
			name: "unavailable",
			gw: &stubGateway{
				availableFn: func(context.Context, domain.PaymentPartner) bool { return false },
				initiateFn:  successfulInitiation,
			},
			withPartner: true,
			code:        PaymentGatewayUnavailable,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fx := newPaymentFixture(t, tc.gw, domain.PaymentMethodCard, tc.withPartner)
			_, err := fx.pay(t, testTenant())

			var payErr *PaymentError
			if !errors.As(err, &payErr) || payErr.Code != tc.code || !errors.Is(err, ErrPaymentFailed) {
				t.Fatalf("expected PaymentError %s, got %v", tc.code, err)
			}
			stored, err := fx.store.Orders().FindByID(context.Background(), "t1", fx.order.ID)
			if err != nil {
				t.Fatalf("FindByID: %v", err)
			}
			if stored.Status != domain.OrderStatusCancelled || stored.PaymentStatus != domain.PaymentStatusFailed {
				t.Fatalf("expected compensated order, got %s/%s", stored.Status, stored.PaymentStatus)
			}
			cart, err := fx.store.Carts().FindByKey(context.Background(), "t1", "sess-1")
			if err != nil || cart.Status != domain.CartStatusActive || len(cart.Items) != 2 {
				t.Fatalf("expected reopened cart, got %+v %v", cart, err)
			}
			if got := fx.store.SellableStock("t1", "p1", ""); got != 10 {
				t.Fatalf("inventory must be untouched, got %d", got)
			}
		})
	}
}

func TestPayDemoTenantSkipsAvailabilityProbe(t *testing.T) {
	gw := &stubGateway{
		availableFn: func(context.Context, domain.PaymentPartner) bool { return false },
		initiateFn:  successfulInitiation,
	}
	fx := newPaymentFixture(t, gw, domain.PaymentMethodCard, true)
	tenant := testTenant()
	tenant.Demo = true
	if _, err := fx.pay(t, tenant); err != nil {
		t.Fatalf("Pay: %v", err)
	}
	if gw.initiated != 1 {
		t.Fatalf("expected one initiation, got %d", gw.initiated)
	}
}

func TestCompensateIgnoresRequestCancellation(t *testing.T) {
	fx := newPaymentFixture(t, &stubGateway{initiateFn: successfulInitiation}, domain.PaymentMethodCard, true)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := fx.payments.Compensate(ctx, fx.order, "client_gone"); err != nil {
		t.Fatalf("Compensate: %v", err)
	}
	stored, _ := fx.store.Orders().FindByID(context.Background(), "t1", fx.order.ID)
	if stored.Status != domain.OrderStatusCancelled || stored.CancellationReason != "client_gone" {
		t.Fatalf("expected cancelled order, got %+v", stored)
	}
}

func TestConfirmPaymentDeductsOnce(t *testing.T) {
	fx := newPaymentFixture(t, &stubGateway{initiateFn: successfulInitiation}, domain.PaymentMethodCard, true)
	if _, err := fx.pay(t, testTenant()); err != nil {
		t.Fatalf("Pay: %v", err)
	}
	ctx := context.Background()
	confirmation := PaymentConfirmation{Provider: "stripe", Reference: "cs_test_1", TransactionID: "pi_1", Succeeded: true}

	var order domain.Order
	for i := 0; i < 2; i++ {
		var err error
		order, err = fx.payments.ConfirmPayment(ctx, confirmation)
		if err != nil {
			t.Fatalf("ConfirmPayment #%d: %v", i, err)
		}
	}
	if order.Status != domain.OrderStatusPaid || order.PaymentStatus != domain.PaymentStatusPaid || order.PaidAt == nil {
		t.Fatalf("unexpected confirmed order %s/%s", order.Status, order.PaymentStatus)
	}
	for _, sub := range order.SubOrders {
		if sub.Status != domain.OrderStatusPaid {
			t.Fatalf("expected sub-order PAID, got %s", sub.Status)
		}
	}
	if got := fx.store.SellableStock("t1", "p1", ""); got != 9 {
		t.Fatalf("expected a single deduction, got %d", got)
	}
	confirmed := 0
	for _, e := range fx.events.events {
		if e.Type == EventPaymentConfirmed {
			confirmed++
		}
	}
	if confirmed != 1 {
		t.Fatalf("expected one payment.confirmed event, got %d", confirmed)
	}
}

func TestConfirmPaymentFailureCancels(t *testing.T) {
	fx := newPaymentFixture(t, &stubGateway{initiateFn: successfulInitiation}, domain.PaymentMethodCard, true)
	if _, err := fx.pay(t, testTenant()); err != nil {
		t.Fatalf("Pay: %v", err)
	}
	ctx := context.Background()
	failure := PaymentConfirmation{Provider: "stripe", Reference: "cs_test_1", FailureReason: "session_expired"}

	order, err := fx.payments.ConfirmPayment(ctx, failure)
	if err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}
	if order.Status != domain.OrderStatusCancelled || order.PaymentStatus != domain.PaymentStatusFailed || order.CancellationReason != "payment_failed" {
		t.Fatalf("unexpected order after failure %s/%s %q", order.Status, order.PaymentStatus, order.CancellationReason)
	}
	again, err := fx.payments.ConfirmPayment(ctx, failure)
	if err != nil || again.Version != order.Version {
		t.Fatalf("repeated failure must be a no-op, got %v", err)
	}

	if _, err := fx.payments.ConfirmPayment(ctx, PaymentConfirmation{Provider: "stripe", Reference: "cs_unknown", Succeeded: true}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestManualPaidRejectedUntilGatewayConfirms(t *testing.T) {
	fx := newPaymentFixture(t, &stubGateway{initiateFn: successfulInitiation}, domain.PaymentMethodCard, true)
	if _, err := fx.pay(t, testTenant()); err != nil {
		t.Fatalf("Pay: %v", err)
	}
	lifecycle, err := NewLifecycleService(LifecycleServiceDeps{
		Orders:    fx.store.Orders(),
		OrderSvc:  fx.orders,
		Inventory: fx.gate,
		Clock:     fixedNow,
	})
	if err != nil {
		t.Fatalf("NewLifecycleService: %v", err)
	}
	ctx := context.Background()

	if _, err := lifecycle.TransitionOrder(ctx, "t1", fx.order.ID, domain.OrderStatusPaid, ""); !errors.Is(err, ErrPaymentNotConfirmed) {
		t.Fatalf("expected ErrPaymentNotConfirmed, got %v", err)
	}
	sub := fx.order.SubOrders[0].ID
	if _, err := lifecycle.TransitionSubOrder(ctx, "t1", fx.order.ID, sub, domain.OrderStatusPaid, ""); !errors.Is(err, ErrPaymentNotConfirmed) {
		t.Fatalf("expected ErrPaymentNotConfirmed for sub-order, got %v", err)
	}

	order, err := fx.payments.ConfirmPayment(ctx, PaymentConfirmation{Provider: "stripe", Reference: "cs_test_1", TransactionID: "pi_1", Succeeded: true})
	if err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}
	if order.Status != domain.OrderStatusPaid || order.InventoryDeductedAt == nil {
		t.Fatalf("unexpected confirmed order %s deductedAt=%v", order.Status, order.InventoryDeductedAt)
	}
	if _, err := fx.orders.CancelOrder(ctx, "t1", order.ID, "customer_request"); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if got := fx.store.SellableStock("t1", "p1", ""); got != 10 {
		t.Fatalf("cancel after confirmation must restock, got %d", got)
	}
}

func TestConfirmPaymentOnAdvancedOrderRecordsDeduction(t *testing.T) {
	fx := newPaymentFixture(t, &stubGateway{initiateFn: successfulInitiation}, domain.PaymentMethodCard, true)
	if _, err := fx.pay(t, testTenant()); err != nil {
		t.Fatalf("Pay: %v", err)
	}
	ctx := context.Background()

	// An order moved to PAID outside ConfirmPayment, with stock still in place.
	stored, err := fx.store.Orders().FindByID(ctx, "t1", fx.order.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	now := fixedNow()
	if err := Transition(&stored, domain.OrderStatusPaid, "", now); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if _, err := fx.store.Orders().Update(ctx, stored); err != nil {
		t.Fatalf("Update: %v", err)
	}

	confirmation := PaymentConfirmation{Provider: "stripe", Reference: "cs_test_1", TransactionID: "pi_1", Succeeded: true}
	order, err := fx.payments.ConfirmPayment(ctx, confirmation)
	if err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}
	if order.Status != domain.OrderStatusPaid || order.PaymentStatus != domain.PaymentStatusPaid || order.InventoryDeductedAt == nil {
		t.Fatalf("unexpected order %s/%s deductedAt=%v", order.Status, order.PaymentStatus, order.InventoryDeductedAt)
	}
	if got := fx.store.SellableStock("t1", "p1", ""); got != 9 {
		t.Fatalf("expected a single deduction, got %d", got)
	}
	if _, err := fx.payments.ConfirmPayment(ctx, confirmation); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if got := fx.store.SellableStock("t1", "p1", ""); got != 9 {
		t.Fatalf("redelivery must not deduct again, got %d", got)
	}

	if _, err := fx.orders.CancelOrder(ctx, "t1", order.ID, "customer_request"); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if got := fx.store.SellableStock("t1", "p1", ""); got != 10 {
		t.Fatalf("cancel must return the deducted stock, got %d", got)
	}
}
