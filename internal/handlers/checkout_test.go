package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/changerplanet/WebWaka2-sub010/internal/domain"
	"github.com/changerplanet/WebWaka2-sub010/internal/payments"
)

const placeBody = `{"type":"place","cartKey":"sess-1",` +
	`"customer":{"email":"Ngozi@Example.com","name":"Ngozi Okafor"},` +
	`"shippingAddress":{"line1":"1 Marina Road","city":"Lagos","country":"NG"},` +
	`"paymentMethod":"%s"}`

func placeJSON(method string) string {
	return strings.Replace(placeBody, "%s", method, 1)
}

func TestCheckoutQuote(t *testing.T) {
	api := newTestAPI(t)
	api.fillCart(t)
	api.do(t, http.MethodPost, "/api/v1/tenants/acme/carts/sess-1/actions", `{"action":"apply_coupon","code":"TEN"}`)

	rr := api.do(t, http.MethodPost, "/api/v1/tenants/acme/checkout", `{"type":"quote","cartKey":"sess-1"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("quote: %d %s", rr.Code, rr.Body.String())
	}
	var resp quoteResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	q := resp.Quote
	if q.Subtotal != "7000.00" || q.DiscountTotal != "700.00" || q.ShippingTotal != "1200.00" || q.TaxTotal != "472.50" || q.GrandTotal != "7972.50" {
		t.Fatalf("unexpected quote %+v", q)
	}
	if len(q.Vendors) != 2 || len(q.Applied) != 1 || q.Applied[0].Amount != "700.00" {
		t.Fatalf("unexpected breakdown %+v", q)
	}
}

func TestCheckoutValidateReportsConflicts(t *testing.T) {
	api := newTestAPI(t)
	api.fillCart(t)
	api.store.PutVendor(domain.Vendor{ID: "v2", TenantID: "t1", Name: "Ada Textiles", Status: domain.VendorStatusSuspended, Active: true})

	rr := api.do(t, http.MethodPost, "/api/v1/tenants/acme/checkout", `{"type":"validate","cartKey":"sess-1"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("validate: %d %s", rr.Code, rr.Body.String())
	}
	var resp validationPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Valid || len(resp.Conflicts) != 1 || resp.Conflicts[0].VendorID != "v2" {
		t.Fatalf("unexpected validation %+v", resp)
	}

	rr = api.do(t, http.MethodPost, "/api/v1/tenants/acme/checkout", placeJSON("COD"), "Idempotency-Key", "k-1")
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil || body["error"] != "cart_conflicts" || body["conflicts"] == nil {
		t.Fatalf("unexpected envelope %v %v", body, err)
	}
}

func TestCheckoutPlaceCashOnDeliveryIsIdempotent(t *testing.T) {
	api := newTestAPI(t)
	api.fillCart(t)

	rr := api.do(t, http.MethodPost, "/api/v1/tenants/acme/checkout", placeJSON("COD"))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("place without key: expected 400, got %d", rr.Code)
	}

	first := api.do(t, http.MethodPost, "/api/v1/tenants/acme/checkout", placeJSON("COD"), "Idempotency-Key", "k-1")
	if first.Code != http.StatusCreated {
		t.Fatalf("place: %d %s", first.Code, first.Body.String())
	}
	var placed placeResponse
	if err := json.Unmarshal(first.Body.Bytes(), &placed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if placed.Order.OrderNumber != "ORD-2025-000001" || placed.Order.Status != "PLACED" || !placed.Deferred {
		t.Fatalf("unexpected order %+v", placed.Order)
	}
	if len(placed.Order.SubOrders) != 2 || placed.Order.GrandTotal != "8725.00" || placed.Order.Customer.Email != "ngozi@example.com" {
		t.Fatalf("unexpected order detail %+v", placed.Order)
	}

	replay := api.do(t, http.MethodPost, "/api/v1/tenants/acme/checkout", placeJSON("COD"), "Idempotency-Key", "k-1")
	if replay.Code != http.StatusCreated || replay.Header().Get("Idempotent-Replayed") != "true" {
		t.Fatalf("expected replayed 201, got %d %v", replay.Code, replay.Header())
	}
	if got := api.store.SellableStock("t1", "p1", ""); got != 9 {
		t.Fatalf("stock must be deducted once, got %d", got)
	}

	rr = api.do(t, http.MethodGet, "/api/v1/tenants/acme/orders/"+placed.Order.ID, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("get order: %d", rr.Code)
	}
}

func TestCheckoutPlaceInsufficientStock(t *testing.T) {
	api := newTestAPI(t)
	api.fillCart(t)
	api.store.PutLevel("t1", domain.InventoryLevel{ProductID: "p2", LocationID: "lagos", Available: 0})

	rr := api.do(t, http.MethodPost, "/api/v1/tenants/acme/checkout", placeJSON("COD"), "Idempotency-Key", "k-1")
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d %s", rr.Code, rr.Body.String())
	}
	var body struct {
		Error string `json:"error"`
		Items []struct {
			ProductID string `json:"productId"`
			Available int64  `json:"available"`
		} `json:"items"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error != "insufficient_stock" || len(body.Items) != 1 || body.Items[0].ProductID != "p2" {
		t.Fatalf("unexpected envelope %+v", body)
	}
}

func TestCheckoutPlacePaymentFailureHidesGatewayDetail(t *testing.T) {
	api := newTestAPI(t)
	api.fillCart(t)
	api.gateway.initiateFn = func(context.Context, payments.InitiateRequest) (payments.InitiateResult, error) {
		return payments.InitiateResult{}, errors.New("acquirer 05 at bank-node-7")
	}

	rr := api.do(t, http.MethodPost, "/api/v1/tenants/acme/checkout", placeJSON("CARD"), "Idempotency-Key", "k-1")
	if rr.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d %s", rr.Code, rr.Body.String())
	}
	if strings.Contains(rr.Body.String(), "bank-node-7") {
		t.Fatalf("gateway detail leaked: %s", rr.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "payment_failed" || body["code"] != "PAYMENT_GATEWAY_EXCEPTION" || body["retryable"] != true {
		t.Fatalf("unexpected envelope %v", body)
	}

	rr = api.do(t, http.MethodGet, "/api/v1/tenants/acme/carts/sess-1", "")
	if rr.Code != http.StatusOK || len(decodeCart(t, rr.Body.Bytes()).Items) != 2 {
		t.Fatalf("cart must be reopened after a failed payment, got %d", rr.Code)
	}
}

func TestCheckoutPlaceGatewayRedirect(t *testing.T) {
	api := newTestAPI(t)
	api.fillCart(t)

	rr := api.do(t, http.MethodPost, "/api/v1/tenants/acme/checkout", placeJSON("card"), "Idempotency-Key", "k-1")
	if rr.Code != http.StatusCreated {
		t.Fatalf("place: %d %s", rr.Code, rr.Body.String())
	}
	var placed placeResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &placed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if placed.AuthorizationURL != "https://pay.test/ORD-2025-000001" || placed.Order.PaymentStatus != "INITIATED" || placed.Deferred {
		t.Fatalf("unexpected gateway result %+v", placed)
	}
	if got := api.store.SellableStock("t1", "p1", ""); got != 10 {
		t.Fatalf("gateway orders deduct on confirmation, got %d", got)
	}
}

func TestCheckoutRejectsMalformedRequests(t *testing.T) {
	api := newTestAPI(t)
	cases := []struct {
		name string
		body string
	}{
		{"missing type", `{"cartKey":"sess-1"}`},
		{"unknown type", `{"type":"refund","cartKey":"sess-1"}`},
		{"unknown field", `{"type":"quote","cartKey":"sess-1","coupon":"TEN"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := api.do(t, http.MethodPost, "/api/v1/tenants/acme/checkout", tc.body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rr.Code)
			}
		})
	}
}

func TestCheckoutPlaceRateLimited(t *testing.T) {
	api := newTestAPI(t, WithPlaceLimiter(NewWindowLimiter(1, time.Minute, fixedNow)))
	api.fillCart(t)
	api.store.PutLevel("t1", domain.InventoryLevel{ProductID: "p2", LocationID: "lagos", Available: 0})

	if rr := api.do(t, http.MethodPost, "/api/v1/tenants/acme/checkout", placeJSON("COD"), "Idempotency-Key", "k-1"); rr.Code != http.StatusConflict {
		t.Fatalf("first attempt: expected 409, got %d", rr.Code)
	}
	rr := api.do(t, http.MethodPost, "/api/v1/tenants/acme/checkout", placeJSON("COD"), "Idempotency-Key", "k-2")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
}
