package di

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/changerplanet/WebWaka2-sub010/internal/domain"
	"github.com/changerplanet/WebWaka2-sub010/internal/platform/config"
	"github.com/changerplanet/WebWaka2-sub010/internal/repositories/memory"
)

func fixedNow() time.Time {
	return time.Date(2025, 5, 1, 9, 30, 0, 0, time.UTC)
}

func testConfig() config.Config {
	return config.Config{
		Storage:     config.StorageConfig{Driver: config.StorageMemory},
		Payments:    config.PaymentConfig{Timeout: time.Second},
		Orders:      config.OrderConfig{NumberPrefix: "ORD"},
		Checkout:    config.CheckoutConfig{PlaceRateLimit: 1, PlaceRateWindow: time.Minute},
		Build:       config.BuildConfig{Version: "dev", CommitSHA: "unknown"},
		Idempotency: config.IdempotencyConfig{Backend: config.IdempotencyMemory, Header: "Idempotency-Key", TTL: time.Hour},
	}
}

func seededStore() *memory.Store {
	store := memory.NewStore(memory.WithClock(fixedNow))
	store.PutTenant(domain.Tenant{ID: "t1", Slug: "acme", Name: "Acme", Currency: "NGN", Locale: "en-NG", TaxRate: decimal.RequireFromString("7.5")})
	store.PutVendor(domain.Vendor{ID: "v1", TenantID: "t1", Name: "Kola Crafts", Status: domain.VendorStatusApproved, Active: true, ShippingFee: decimal.RequireFromString("500")})
	store.PutProduct(domain.Product{ID: "p1", TenantID: "t1", VendorID: "v1", Name: "Bead Necklace", Price: decimal.RequireFromString("2000"), Active: true, TrackInventory: true})
	store.PutLevel("t1", domain.InventoryLevel{ProductID: "p1", LocationID: "lagos", Available: 3})
	store.PutPartner(domain.PaymentPartner{ID: "pp_1", TenantID: "t1", Provider: "stripe", Active: true, Capabilities: []string{domain.PaymentCapabilityPayments}})
	return store
}

func serve(t *testing.T, h http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

const placeBody = `{"type":"place","cartKey":"sess-1",` +
	`"customer":{"email":"ngozi@example.com","name":"Ngozi Okafor"},` +
	`"shippingAddress":{"line1":"1 Marina Road","city":"Lagos","country":"NG"},` +
	`"paymentMethod":"%s"}`

func TestNewContainerRequiresRegistry(t *testing.T) {
	if _, err := NewContainer(context.Background(), testConfig(), nil); err == nil {
		t.Fatalf("expected error without registry")
	}
}

func TestContainerRouterPlacesCashOnDeliveryOrder(t *testing.T) {
	store := seededStore()
	c, err := NewContainer(context.Background(), testConfig(), store, WithClock(fixedNow))
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	router := c.Router()

	if rr := serve(t, router, http.MethodGet, "/healthz", ""); rr.Code != http.StatusOK {
		t.Fatalf("healthz: %d", rr.Code)
	}
	if rr := serve(t, router, http.MethodGet, "/readyz", ""); rr.Code != http.StatusOK {
		t.Fatalf("readyz: %d %s", rr.Code, rr.Body.String())
	}
	if rr := serve(t, router, http.MethodGet, "/api/v1/tenants/unknown/carts/sess-1", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("unknown tenant: expected 404, got %d", rr.Code)
	}

	rr := serve(t, router, http.MethodPost, "/api/v1/tenants/acme/carts/sess-1/actions", `{"action":"add_item","productId":"p1","quantity":2}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("add item: %d %s", rr.Code, rr.Body.String())
	}

	rr = serve(t, router, http.MethodPost, "/api/v1/tenants/acme/checkout", strings.Replace(placeBody, "%s", "COD", 1), "Idempotency-Key", "k-1")
	if rr.Code != http.StatusCreated {
		t.Fatalf("place: %d %s", rr.Code, rr.Body.String())
	}
	var placed struct {
		Order struct {
			OrderNumber string `json:"orderNumber"`
			GrandTotal  string `json:"grandTotal"`
		} `json:"order"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &placed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	// 4000 + 500 shipping + 7.5% tax on 4000.
	if placed.Order.OrderNumber != "ORD-2025-000001" || placed.Order.GrandTotal != "4800.00" {
		t.Fatalf("unexpected order %+v", placed.Order)
	}
	if got := store.SellableStock("t1", "p1", ""); got != 1 {
		t.Fatalf("expected stock 1 after placement, got %d", got)
	}

	rr = serve(t, router, http.MethodPost, "/api/v1/tenants/acme/checkout", strings.Replace(placeBody, "%s", "COD", 1), "Idempotency-Key", "k-2")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected place throttle, got %d", rr.Code)
	}
}

func TestContainerWithoutGatewayRejectsCardPayments(t *testing.T) {
	store := seededStore()
	c, err := NewContainer(context.Background(), testConfig(), store, WithClock(fixedNow))
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}
	router := c.Router()
	serve(t, router, http.MethodPost, "/api/v1/tenants/acme/carts/sess-1/actions", `{"action":"add_item","productId":"p1","quantity":1}`)

	rr := serve(t, router, http.MethodPost, "/api/v1/tenants/acme/checkout", strings.Replace(placeBody, "%s", "CARD", 1), "Idempotency-Key", "k-1")
	if rr.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d %s", rr.Code, rr.Body.String())
	}
	if got := store.SellableStock("t1", "p1", ""); got != 3 {
		t.Fatalf("stock must be untouched, got %d", got)
	}

	rr = serve(t, router, http.MethodPost, "/api/v1/webhooks/payments/stripe", `{}`)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("webhook for unregistered provider: expected 404, got %d", rr.Code)
	}
}
