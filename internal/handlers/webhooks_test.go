package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/changerplanet/WebWaka2-sub010/internal/payments"
)

// webhookBody is the payment reference; the stub gateway echoes it back as a confirmation.
func echoConfirmation(succeeded bool) func(context.Context, []byte, http.Header) (payments.Confirmation, error) {
	return func(_ context.Context, payload []byte, header http.Header) (payments.Confirmation, error) {
		switch {
		case header.Get("Stripe-Signature") == "":
			return payments.Confirmation{}, payments.ErrInvalidSignature
		case string(payload) == "ping":
			return payments.Confirmation{Provider: "stripe", Ignored: true}, nil
		}
		return payments.Confirmation{
			Provider:      "stripe",
			EventID:       "evt_1",
			Reference:     string(payload),
			TransactionID: "pi_1",
			Succeeded:     succeeded,
			FailureReason: "card_declined",
		}, nil
	}
}

func postWebhook(t *testing.T, api testAPI, provider, body string, signed bool) (int, webhookResponse) {
	t.Helper()
	var headers []string
	if signed {
		headers = []string{"Stripe-Signature", "t=1,v1=abc"}
	}
	rr := api.do(t, http.MethodPost, "/api/v1/webhooks/payments/"+provider, body, headers...)
	var resp webhookResponse
	_ = json.Unmarshal(rr.Body.Bytes(), &resp)
	return rr.Code, resp
}

func TestPaymentWebhookSettlesOnce(t *testing.T) {
	api := newTestAPI(t)
	api.gateway.parseFn = echoConfirmation(true)
	order := placeOrder(t, api, "CARD")
	reference := order.Payment.Reference

	for i := 0; i < 2; i++ {
		status, resp := postWebhook(t, api, "stripe", reference, true)
		if status != http.StatusOK || resp.Status != "processed" || resp.PaymentStatus != "PAID" || resp.OrderID != order.ID {
			t.Fatalf("delivery %d: unexpected %d %+v", i, status, resp)
		}
	}
	if got := api.store.SellableStock("t1", "p1", ""); got != 9 {
		t.Fatalf("duplicate webhook must not deduct twice, got %d", got)
	}

	rr := api.do(t, http.MethodGet, "/api/v1/tenants/acme/orders/"+order.ID, "")
	var resp orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Order.Status != "PAID" || resp.Order.Payment == nil || resp.Order.Payment.TransactionID != "pi_1" {
		t.Fatalf("unexpected settled order %+v", resp.Order)
	}
}

func TestPaymentWebhookFailureCancels(t *testing.T) {
	api := newTestAPI(t)
	api.gateway.parseFn = echoConfirmation(false)
	order := placeOrder(t, api, "CARD")

	status, resp := postWebhook(t, api, "stripe", order.Payment.Reference, true)
	if status != http.StatusOK || resp.PaymentStatus != "FAILED" {
		t.Fatalf("unexpected %d %+v", status, resp)
	}
	rr := api.do(t, http.MethodGet, "/api/v1/tenants/acme/orders/"+order.ID, "")
	var got orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Order.Status != "CANCELLED" || got.Order.CancellationReason != "payment_failed" {
		t.Fatalf("expected cancelled order, got %+v", got.Order)
	}
}

func TestPaymentWebhookEdgeCases(t *testing.T) {
	api := newTestAPI(t)
	api.gateway.parseFn = echoConfirmation(true)

	cases := []struct {
		name     string
		provider string
		body     string
		signed   bool
		status   int
		want     string
	}{
		{"unknown provider", "paystack", "cs_1", true, http.StatusNotFound, ""},
		{"bad signature", "stripe", "cs_1", false, http.StatusBadRequest, ""},
		{"ignored event", "stripe", "ping", true, http.StatusOK, "ignored"},
		{"unknown reference", "stripe", "cs_unknown", true, http.StatusAccepted, "unknown_reference"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, resp := postWebhook(t, api, tc.provider, tc.body, tc.signed)
			if status != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, status)
			}
			if tc.want != "" && resp.Status != tc.want {
				t.Fatalf("expected status %q, got %+v", tc.want, resp)
			}
		})
	}
}
