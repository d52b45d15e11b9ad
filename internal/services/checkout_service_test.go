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

func newCheckout(t *testing.T, store *memory.Store, gw *stubGateway) CheckoutService {
	t.Helper()
	gate := newGate(t, store)
	resolver := newResolver(t, store)
	orders := newOrderService(t, store, nil)
	manager, err := payments.NewManager(gw)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	pay, err := NewPaymentService(PaymentServiceDeps{
		Orders:    store.Orders(),
		Carts:     store.Carts(),
		Partners:  store.PaymentPartners(),
		Gateways:  manager,
		OrderSvc:  orders,
		Inventory: gate,
		Clock:     fixedNow,
	})
	if err != nil {
		t.Fatalf("NewPaymentService: %v", err)
	}
	svc, err := NewCheckoutService(CheckoutServiceDeps{
		Resolver:   resolver,
		Inventory:  gate,
		Promotions: store.Promotions(),
		Orders:     orders,
		Payments:   pay,
		Clock:      fixedNow,
	})
	if err != nil {
		t.Fatalf("NewCheckoutService: %v", err)
	}
	return svc
}

func placeCommand(method domain.PaymentMethod) PlaceCommand {
	return PlaceCommand{
		Tenant:          testTenant(),
		CartKey:         "sess-1",
		Customer:        domain.Customer{Email: "ngozi@example.com", Name: "Ngozi <script>alert(1)</script>Okafor"},
		ShippingAddress: domain.Address{Line1: "1 Marina <b>Road</b>", City: "Lagos", Country: "ng"},
		PaymentMethod:   method,
	}
}

func withTenPercentCoupon(store *memory.Store) {
	store.PutPromotion(domain.Promotion{ID: "pr_ten", TenantID: "t1", Code: "TEN", Active: true, Type: domain.PromotionTypePercentage, DiscountValue: money("10")})
}

func TestQuoteTotals(t *testing.T) {
	store := seedMarketplace(t)
	withTenPercentCoupon(store)
	seedCart(t, store, "TEN", "GHOST")
	svc := newCheckout(t, store, &stubGateway{initiateFn: successfulInitiation})

	quote, err := svc.Quote(context.Background(), QuoteCommand{Tenant: testTenant(), CartKey: "sess-1"})
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	checks := []struct {
		name string
		got  string
		want string
	}{
		{"subtotal", quote.Subtotal.StringFixed(2), "7000.00"},
		{"discount", quote.DiscountTotal.StringFixed(2), "700.00"},
		{"shipping", quote.ShippingTotal.StringFixed(2), "1200.00"},
		{"tax", quote.TaxTotal.StringFixed(2), "472.50"},
		{"grand", quote.GrandTotal.StringFixed(2), "7972.50"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Fatalf("%s: got %s, want %s", c.name, c.got, c.want)
		}
	}
	if len(quote.Vendors) != 2 || !quote.Vendors[0].Subtotal.Equal(money("2000")) || !quote.Vendors[1].Subtotal.Equal(money("5000")) {
		t.Fatalf("unexpected vendor split %+v", quote.Vendors)
	}
	if len(quote.CouponErrors) != 1 || quote.CouponErrors[0].Code != "GHOST" {
		t.Fatalf("expected GHOST reported, got %+v", quote.CouponErrors)
	}
}

func TestPlaceCashOnDelivery(t *testing.T) {
	store := seedMarketplace(t)
	withTenPercentCoupon(store)
	seedCart(t, store, "TEN")
	gw := &stubGateway{initiateFn: successfulInitiation}
	svc := newCheckout(t, store, gw)

	result, err := svc.Place(context.Background(), placeCommand(domain.PaymentMethodCOD))
	if err != nil {
		t.Fatalf("Place: %v", err)
	}
	order := result.Order
	if !result.Deferred || order.PaymentStatus != domain.PaymentStatusPending || order.InventoryDeductedAt == nil {
		t.Fatalf("unexpected COD order %+v", order)
	}
	if !order.Subtotal.Equal(money("7000")) || !order.DiscountTotal.Equal(money("700")) || !order.GrandTotal.Equal(money("7972.5")) {
		t.Fatalf("unexpected totals %s/%s/%s", order.Subtotal, order.DiscountTotal, order.GrandTotal)
	}
	if len(order.SubOrders) != 2 || !order.SubOrders[0].Subtotal.Equal(money("2000")) || !order.SubOrders[1].Subtotal.Equal(money("5000")) {
		t.Fatalf("unexpected sub-orders %+v", order.SubOrders)
	}
	if order.Customer.Name != "Ngozi Okafor" || order.ShippingAddress.Line1 != "1 Marina Road" || order.ShippingAddress.Country != "NG" {
		t.Fatalf("expected sanitized input, got %+v / %+v", order.Customer, order.ShippingAddress)
	}
	if len(order.AppliedPromotions) != 1 || order.AppliedPromotions[0].Code != "TEN" {
		t.Fatalf("expected TEN applied, got %+v", order.AppliedPromotions)
	}
	if gw.initiated != 0 {
		t.Fatalf("COD must not reach the gateway")
	}
	if got := store.SellableStock("t1", "p2", ""); got != 9 {
		t.Fatalf("expected stock deducted, got %d", got)
	}
	if _, err := svc.Quote(context.Background(), QuoteCommand{Tenant: testTenant(), CartKey: "sess-1"}); !errors.Is(err, ErrCartNotFound) {
		t.Fatalf("placed cart must be gone, got %v", err)
	}
}

func TestPlaceInsufficientStockCreatesNothing(t *testing.T) {
	store := seedMarketplace(t)
	store.PutLevel("t1", domain.InventoryLevel{ProductID: "p2", LocationID: "lagos", Available: 0})
	seedCart(t, store)
	svc := newCheckout(t, store, &stubGateway{initiateFn: successfulInitiation})
	ctx := context.Background()

	_, err := svc.Place(ctx, placeCommand(domain.PaymentMethodCOD))
	var stockErr *InsufficientStockError
	if !errors.As(err, &stockErr) || len(stockErr.Items) != 1 || stockErr.Items[0].ProductID != "p2" {
		t.Fatalf("expected p2 reported short, got %v", err)
	}
	if stockErr.Items[0].ProductName != "Adire Scarf" || stockErr.Items[0].Requested != 1 || stockErr.Items[0].Available != 0 {
		t.Fatalf("unexpected shortage detail %+v", stockErr.Items[0])
	}
	if seq, _ := store.Counters().Next(ctx, "orders", 1); seq != 1 {
		t.Fatalf("no order number may be consumed, got %d", seq)
	}
	cart, err := store.Carts().FindByKey(ctx, "t1", "sess-1")
	if err != nil || cart.Status != domain.CartStatusActive {
		t.Fatalf("cart must stay active, got %+v %v", cart, err)
	}

	result, err := svc.Validate(ctx, ValidateCommand{Tenant: testTenant(), CartKey: "sess-1"})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if result.Valid || len(result.Insufficient) != 1 {
		t.Fatalf("expected invalid result with one short item, got %+v", result)
	}
}

func TestValidateReportsConflicts(t *testing.T) {
	store := seedMarketplace(t)
	seedCart(t, store)
	store.PutVendor(domain.Vendor{ID: "v1", TenantID: "t1", Status: domain.VendorStatusRejected})
	svc := newCheckout(t, store, &stubGateway{initiateFn: successfulInitiation})

	result, err := svc.Validate(context.Background(), ValidateCommand{Tenant: testTenant(), CartKey: "sess-1"})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if result.Valid || len(result.Conflicts) != 1 || result.Conflicts[0].Code != ConflictVendorNotApproved {
		t.Fatalf("unexpected validation %+v", result)
	}

	_, err = svc.Place(context.Background(), placeCommand(domain.PaymentMethodCOD))
	if !errors.Is(err, ErrBlockingConflicts) {
		t.Fatalf("expected ErrBlockingConflicts, got %v", err)
	}
}

func TestPlaceRejectsBadInputBeforeSideEffects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*PlaceCommand)
	}{
		{"missing email", func(c *PlaceCommand) { c.Customer.Email = "" }},
		{"bad email", func(c *PlaceCommand) { c.Customer.Email = "not-an-email" }},
		{"markup-only name", func(c *PlaceCommand) { c.Customer.Name = "<i></i>" }},
		{"missing line1", func(c *PlaceCommand) { c.ShippingAddress.Line1 = " " }},
		{"long country", func(c *PlaceCommand) { c.ShippingAddress.Country = "Nigeria" }},
		{"missing method", func(c *PlaceCommand) { c.PaymentMethod = "" }},
		{"unknown method", func(c *PlaceCommand) { c.PaymentMethod = "BARTER" }},
		{"bad billing", func(c *PlaceCommand) { c.BillingAddress = &domain.Address{Line1: "x"} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := seedMarketplace(t)
			seedCart(t, store)
			svc := newCheckout(t, store, &stubGateway{initiateFn: successfulInitiation})
			cmd := placeCommand(domain.PaymentMethodCOD)
			tc.mutate(&cmd)
			if _, err := svc.Place(context.Background(), cmd); !errors.Is(err, ErrCheckoutInvalidInput) {
				t.Fatalf("expected ErrCheckoutInvalidInput, got %v", err)
			}
			cart, err := store.Carts().FindByKey(context.Background(), "t1", "sess-1")
			if err != nil || cart.Status != domain.CartStatusActive {
				t.Fatalf("cart must be untouched, got %+v %v", cart, err)
			}
		})
	}
}

func TestPlaceGatewayFailureAllowsRetry(t *testing.T) {
	store := seedMarketplace(t)
	store.PutPartner(domain.PaymentPartner{ID: "pp_1", TenantID: "t1", Provider: "stripe", Active: true, Capabilities: []string{domain.PaymentCapabilityPayments}})
	seedCart(t, store)
	declined := true
	gw := &stubGateway{initiateFn: func(ctx context.Context, req payments.InitiateRequest) (payments.InitiateResult, error) {
		if declined {
			return payments.InitiateResult{Error: "do_not_honor"}, nil
		}
		return successfulInitiation(ctx, req)
	}}
	svc := newCheckout(t, store, gw)
	ctx := context.Background()

	_, err := svc.Place(ctx, placeCommand(domain.PaymentMethodCard))
	var payErr *PaymentError
	if !errors.As(err, &payErr) || payErr.Code != PaymentInitiationFailed {
		t.Fatalf("expected PaymentError, got %v", err)
	}
	if got := store.SellableStock("t1", "p1", ""); got != 10 {
		t.Fatalf("inventory must be untouched, got %d", got)
	}
	cancelled, err := store.Orders().FindByID(ctx, "t1", payErr.OrderID)
	if err != nil || cancelled.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled order, got %+v %v", cancelled.Status, err)
	}

	declined = false
	result, err := svc.Place(ctx, placeCommand(domain.PaymentMethodCard))
	if err != nil {
		t.Fatalf("retry Place: %v", err)
	}
	if result.Order.OrderNumber != "ORD-2025-000002" || result.AuthorizationURL == "" {
		t.Fatalf("unexpected retry result %+v", result)
	}
	if _, err := store.Carts().FindByKey(ctx, "t1", "sess-1"); !repositories.IsNotFound(err) {
		t.Fatalf("expected cart cleared after successful initiation, got %v", err)
	}
}
