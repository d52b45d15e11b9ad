package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWriteErrorEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	err := NewError("insufficient_stock", "not enough\nstock", http.StatusConflict).
		AsRetryable().
		WithDetails(map[string]any{"items": []string{"p1"}, "status": 999})

	WriteError(context.Background(), rec, err)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "insufficient_stock" || body["message"] != "not enough stock" {
		t.Fatalf("unexpected body %v", body)
	}
	if body["retryable"] != true {
		t.Fatalf("expected retryable flag")
	}
	if body["status"] != float64(http.StatusConflict) {
		t.Fatalf("details must not override status, got %v", body["status"])
	}
}

func TestDecodeJSON(t *testing.T) {
	var dst struct {
		Type string `json:"type"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"type":"quote"}`))
	if err := DecodeJSON(req, &dst); err != nil || dst.Type != "quote" {
		t.Fatalf("unexpected decode result %q %v", dst.Type, err)
	}

	for _, body := range []string{``, `{"type":"quote","extra":1}`, `{"type":"a"}{"type":"b"}`} {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		if err := DecodeJSON(req, &dst); err == nil {
			t.Fatalf("expected %q to be rejected", body)
		}
	}
}
