package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/changerplanet/WebWaka2-sub010/internal/domain"
	"github.com/changerplanet/WebWaka2-sub010/internal/platform/requestctx"
)

var fixedTime = time.Date(2025, 5, 1, 9, 30, 0, 0, time.UTC)

func newPlaceRequest(tenantID, key, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tenants/acme/checkout", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	if tenantID != "" {
		req = req.WithContext(requestctx.WithTenant(req.Context(), domain.Tenant{ID: tenantID}))
	}
	return req
}

func TestMiddlewareRequiresKey(t *testing.T) {
	handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run without a key")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newPlaceRequest("t1", "", `{"type":"place"}`))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	assertErrorResponse(t, rr.Body.Bytes(), "idempotency_key_required")
}

func TestMiddlewareReplaysStoredResponse(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore(), WithClock(func() time.Time { return fixedTime }))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"orderId":"ord_1"}`))
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, newPlaceRequest("t1", "abc-123", `{"type":"place"}`))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, newPlaceRequest("t1", "abc-123", `{"type":"place"}`))

	if calls != 1 {
		t.Fatalf("expected one handler call, got %d", calls)
	}
	if second.Code != http.StatusCreated || second.Body.String() != first.Body.String() {
		t.Fatalf("unexpected replay %d %s", second.Code, second.Body.String())
	}
	if second.Header().Get(replayHeaderName) != "true" {
		t.Fatalf("expected replay header")
	}
}

func TestMiddlewareScopesKeysPerTenant(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), newPlaceRequest("t1", "shared", `{}`))
	handler.ServeHTTP(httptest.NewRecorder(), newPlaceRequest("t2", "shared", `{}`))

	if calls != 2 {
		t.Fatalf("same key in two tenants must run twice, got %d", calls)
	}
}

func TestMiddlewareRejectsReusedKeyWithDifferentBody(t *testing.T) {
	handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), newPlaceRequest("t1", "same", `{"cartKey":"a"}`))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newPlaceRequest("t1", "same", `{"cartKey":"b"}`))

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
	assertErrorResponse(t, rr.Body.Bytes(), "idempotency_key_conflict")
}

func TestMiddlewarePendingReservationConflicts(t *testing.T) {
	store := NewMemoryStore()
	req := newPlaceRequest("t1", "pending", `{"type":"place"}`)
	body, _ := readAndReplayBody(req)
	if _, err := store.Reserve(context.Background(), scopedKey("t1", "pending"), requestFingerprint(req, body), fixedTime, time.Hour); err != nil {
		t.Fatalf("seed: %v", err)
	}

	handler := Middleware(store, WithClock(func() time.Time { return fixedTime }))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run while the key is pending")
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	assertErrorResponse(t, rr.Body.Bytes(), "idempotency_in_progress")
}

func TestMiddlewareReleasesKeyOnServerError(t *testing.T) {
	store := &stubStore{}
	handler := Middleware(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newPlaceRequest("t1", "retry-me", `{}`))

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected handler status to pass through, got %d", rr.Code)
	}
	if !store.released || store.saved {
		t.Fatalf("expected release without save, released=%v saved=%v", store.released, store.saved)
	}
}

func TestMiddlewareDeliversResponseWhenSaveFails(t *testing.T) {
	store := &stubStore{saveErr: errors.New("save failed")}
	handler := Middleware(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("ok"))
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newPlaceRequest("t1", "k", `{}`))

	if rr.Code != http.StatusCreated || rr.Body.String() != "ok" {
		t.Fatalf("expected original response, got %d %q", rr.Code, rr.Body.String())
	}
}

func TestMemoryStoreCleanupExpired(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	_, _ = store.Reserve(ctx, "a", "fp", fixedTime, time.Minute)
	_, _ = store.Reserve(ctx, "b", "fp", fixedTime, time.Hour)

	removed, err := store.CleanupExpired(ctx, fixedTime.Add(2*time.Minute), 10)
	if err != nil || removed != 1 {
		t.Fatalf("expected one expired record removed, got %d %v", removed, err)
	}
}

type stubStore struct {
	saveErr  error
	saved    bool
	released bool
}

func (s *stubStore) Reserve(context.Context, string, string, time.Time, time.Duration) (Reservation, error) {
	return Reservation{State: ReservationStateNew}, nil
}

func (s *stubStore) SaveResponse(context.Context, string, string, Response, time.Time, time.Duration) error {
	s.saved = s.saveErr == nil
	return s.saveErr
}

func (s *stubStore) Release(context.Context, string, string) error {
	s.released = true
	return nil
}

func (s *stubStore) CleanupExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

func assertErrorResponse(t *testing.T, payload []byte, expected string) {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if body.Error != expected {
		t.Fatalf("expected error code %s, got %s", expected, body.Error)
	}
}
