package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/changerplanet/WebWaka2-sub010/internal/domain"
	"github.com/changerplanet/WebWaka2-sub010/internal/payments"
	"github.com/changerplanet/WebWaka2-sub010/internal/platform/idempotency"
	"github.com/changerplanet/WebWaka2-sub010/internal/repositories/memory"
	"github.com/changerplanet/WebWaka2-sub010/internal/services"
)

func fixedNow() time.Time {
	return time.Date(2025, 5, 1, 9, 30, 0, 0, time.UTC)
}

func money(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

type stubGateway struct {
	initiateFn func(context.Context, payments.InitiateRequest) (payments.InitiateResult, error)
	parseFn    func(context.Context, []byte, http.Header) (payments.Confirmation, error)
}

func (g *stubGateway) Name() string { return "stripe" }

func (g *stubGateway) IsAvailable(context.Context, domain.PaymentPartner) bool { return true }

func (g *stubGateway) InitiatePayment(ctx context.Context, req payments.InitiateRequest) (payments.InitiateResult, error) {
	if g.initiateFn == nil {
		return payments.InitiateResult{Success: true, Reference: "cs_" + req.Reference, AuthorizationURL: "https://pay.test/" + req.Reference}, nil
	}
	return g.initiateFn(ctx, req)
}

func (g *stubGateway) ParseConfirmation(ctx context.Context, payload []byte, header http.Header) (payments.Confirmation, error) {
	if g.parseFn == nil {
		return payments.Confirmation{}, errors.New("not configured")
	}
	return g.parseFn(ctx, payload, header)
}

type testAPI struct {
	handler http.Handler
	store   *memory.Store
	gateway *stubGateway
}

// newTestAPI wires the real services over the memory store, the way cmd/api does.
func newTestAPI(t *testing.T, opts ...CheckoutOption) testAPI {
	t.Helper()
	store := memory.NewStore(memory.WithClock(fixedNow))
	store.PutTenant(domain.Tenant{ID: "t1", Slug: "acme", Name: "Acme", Currency: "NGN", Locale: "en-NG", TaxRate: money("7.5")})
	store.PutVendor(domain.Vendor{ID: "v1", TenantID: "t1", Name: "Kola Crafts", Status: domain.VendorStatusApproved, Active: true, ShippingFee: money("500")})
	store.PutVendor(domain.Vendor{ID: "v2", TenantID: "t1", Name: "Ada Textiles", Status: domain.VendorStatusApproved, Active: true, ShippingFee: money("700")})
	store.PutProduct(domain.Product{ID: "p1", TenantID: "t1", VendorID: "v1", Name: "Bead Necklace", Price: money("2000"), Active: true, TrackInventory: true})
	store.PutProduct(domain.Product{ID: "p2", TenantID: "t1", VendorID: "v2", Name: "Adire Scarf", Price: money("5000"), Active: true, TrackInventory: true})
	store.PutLevel("t1", domain.InventoryLevel{ProductID: "p1", LocationID: "lagos", Available: 10})
	store.PutLevel("t1", domain.InventoryLevel{ProductID: "p2", LocationID: "lagos", Available: 10})
	store.PutPromotion(domain.Promotion{ID: "pr_ten", TenantID: "t1", Code: "TEN", Active: true, Type: domain.PromotionTypePercentage, DiscountValue: money("10")})
	store.PutPartner(domain.PaymentPartner{ID: "pp_1", TenantID: "t1", Provider: "stripe", Active: true, Capabilities: []string{domain.PaymentCapabilityPayments}})

	gw := &stubGateway{}
	manager, err := payments.NewManager(gw)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	seq := 0
	ids := func() string {
		seq++
		return fmt.Sprintf("id_%03d", seq)
	}
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("wire services: %v", err)
		}
	}

	carts, err := services.NewCartService(services.CartServiceDeps{
		Carts: store.Carts(), Products: store.Products(), Vendors: store.Vendors(), Promotions: store.Promotions(),
		Clock: fixedNow, IDGenerator: ids,
	})
	must(err)
	gate, err := services.NewInventoryGate(services.InventoryGateDeps{Products: store.Products(), Inventory: store.Inventory(), Clock: fixedNow})
	must(err)
	resolver, err := services.NewCartResolver(services.CartResolverDeps{
		Carts: store.Carts(), Vendors: store.Vendors(), Products: store.Products(), Promotions: store.Promotions(), Clock: fixedNow,
	})
	must(err)
	orders, err := services.NewOrderService(services.OrderServiceDeps{
		Orders: store.Orders(), Counters: store.Counters(), Inventory: gate, Clock: fixedNow, IDGenerator: ids,
	})
	must(err)
	paymentSvc, err := services.NewPaymentService(services.PaymentServiceDeps{
		Orders: store.Orders(), Carts: store.Carts(), Partners: store.PaymentPartners(), Gateways: manager,
		OrderSvc: orders, Inventory: gate, Clock: fixedNow, Timeout: time.Second,
	})
	must(err)
	checkout, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Resolver: resolver, Inventory: gate, Promotions: store.Promotions(), Orders: orders, Payments: paymentSvc, Clock: fixedNow,
	})
	must(err)
	lifecycle, err := services.NewLifecycleService(services.LifecycleServiceDeps{
		Orders: store.Orders(), Partners: store.PaymentPartners(), OrderSvc: orders, Inventory: gate, Gateways: manager, Clock: fixedNow,
	})
	must(err)

	checkoutOpts := append([]CheckoutOption{
		WithPlaceMiddleware(idempotency.Middleware(idempotency.NewMemoryStore(), idempotency.WithClock(fixedNow))),
	}, opts...)

	router := NewRouter(
		WithTenantRepository(store.Tenants()),
		WithTenantRoutes(
			NewCartHandlers(carts).Routes,
			NewCheckoutHandlers(checkout, checkoutOpts...).Routes,
			NewOrderHandlers(orders, lifecycle).Routes,
		),
		WithWebhookRoutes(NewPaymentWebhookHandlers(manager, paymentSvc).Routes),
	)
	return testAPI{handler: router, store: store, gateway: gw}
}

func (api testAPI) do(t *testing.T, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	api.handler.ServeHTTP(rr, req)
	return rr
}

// fillCart adds one p1 and one p2 to cart "sess-1" through the HTTP surface.
func (api testAPI) fillCart(t *testing.T) {
	t.Helper()
	for _, product := range []string{"p1", "p2"} {
		rr := api.do(t, http.MethodPost, "/api/v1/tenants/acme/carts/sess-1/actions",
			`{"action":"add_item","productId":"`+product+`","quantity":1}`)
		if rr.Code != http.StatusOK {
			t.Fatalf("add %s: status %d body %s", product, rr.Code, rr.Body.String())
		}
	}
}
