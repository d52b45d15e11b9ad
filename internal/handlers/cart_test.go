package handlers

import (
	"encoding/json"
	"net/http"
	"testing"
)

func decodeCart(t *testing.T, body []byte) cartPayload {
	t.Helper()
	var resp cartResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decode cart: %v", err)
	}
	return resp.Cart
}

func TestCartActionsRoundTrip(t *testing.T) {
	api := newTestAPI(t)
	api.fillCart(t)

	rr := api.do(t, http.MethodPost, "/api/v1/tenants/acme/carts/sess-1/actions", `{"action":"add_item","productId":"p1","quantity":2}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("merge add: %d %s", rr.Code, rr.Body.String())
	}
	cart := decodeCart(t, rr.Body.Bytes())
	if len(cart.Items) != 2 || cart.Items[0].Quantity != 3 || cart.Items[0].LineTotal != "6000.00" {
		t.Fatalf("expected merged p1 line, got %+v", cart.Items)
	}

	rr = api.do(t, http.MethodPost, "/api/v1/tenants/acme/carts/sess-1/actions", `{"action":"apply_coupon","code":" ten "}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("apply coupon: %d %s", rr.Code, rr.Body.String())
	}
	cart = decodeCart(t, rr.Body.Bytes())
	if len(cart.CouponCodes) != 1 || cart.CouponCodes[0] != "TEN" {
		t.Fatalf("expected normalised coupon, got %v", cart.CouponCodes)
	}

	rr = api.do(t, http.MethodPost, "/api/v1/tenants/acme/carts/sess-1/actions", `{"action":"update_quantity","itemId":"`+cart.Items[1].ID+`","quantity":0}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("update quantity: %d %s", rr.Code, rr.Body.String())
	}
	if cart = decodeCart(t, rr.Body.Bytes()); len(cart.Items) != 1 {
		t.Fatalf("quantity zero must remove the line, got %+v", cart.Items)
	}

	rr = api.do(t, http.MethodGet, "/api/v1/tenants/acme/carts/sess-1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("get cart: %d", rr.Code)
	}
	if rr.Header().Get("ETag") == "" || rr.Header().Get("Cache-Control") == "" {
		t.Fatalf("expected cache headers, got %v", rr.Header())
	}

	rr = api.do(t, http.MethodPost, "/api/v1/tenants/acme/carts/sess-1/actions", `{"action":"clear"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("clear: %d", rr.Code)
	}
	if cart = decodeCart(t, rr.Body.Bytes()); len(cart.Items) != 0 || len(cart.CouponCodes) != 0 {
		t.Fatalf("expected empty cart, got %+v", cart)
	}
}

func TestCartActionRejectsBadBodies(t *testing.T) {
	api := newTestAPI(t)
	api.fillCart(t)

	cases := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"missing action", `{"productId":"p1"}`, http.StatusBadRequest, "invalid_request"},
		{"unknown action", `{"action":"explode"}`, http.StatusBadRequest, "invalid_request"},
		{"unknown field", `{"action":"remove_item","itemId":"x","extra":1}`, http.StatusBadRequest, "invalid_request"},
		{"not json", `add p1`, http.StatusBadRequest, "invalid_request"},
		{"bad quantity", `{"action":"add_item","productId":"p1","quantity":0}`, http.StatusBadRequest, "invalid_request"},
		{"unknown coupon", `{"action":"apply_coupon","code":"GHOST"}`, http.StatusBadRequest, "invalid_request"},
		{"unknown product", `{"action":"add_item","productId":"p9","quantity":1}`, http.StatusBadRequest, "invalid_request"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := api.do(t, http.MethodPost, "/api/v1/tenants/acme/carts/sess-1/actions", tc.body)
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rr.Code, rr.Body.String())
			}
			var body map[string]any
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil || body["error"] != tc.code {
				t.Fatalf("unexpected envelope %v %v", body, err)
			}
		})
	}
}

func TestGetMissingCart(t *testing.T) {
	api := newTestAPI(t)
	rr := api.do(t, http.MethodGet, "/api/v1/tenants/acme/carts/nobody", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}
