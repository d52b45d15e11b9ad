package idempotency

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store, err := NewRedisStore(client)
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	return store, mr
}

func TestRedisStoreReserveLifecycle(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()

	res, err := store.Reserve(ctx, "t1|key-1", "fp", fixedTime, time.Hour)
	if err != nil || res.State != ReservationStateNew {
		t.Fatalf("expected new reservation, got %v %v", res.State, err)
	}

	res, err = store.Reserve(ctx, "t1|key-1", "fp", fixedTime, time.Hour)
	if err != nil || res.State != ReservationStatePending {
		t.Fatalf("expected pending reservation, got %v %v", res.State, err)
	}

	if _, err := store.Reserve(ctx, "t1|key-1", "other", fixedTime, time.Hour); !errors.Is(err, ErrFingerprintMismatch) {
		t.Fatalf("expected fingerprint mismatch, got %v", err)
	}

	resp := Response{Status: http.StatusCreated, Headers: http.Header{"Content-Type": {"application/json"}, "Date": {"x"}}, Body: []byte(`{"id":"ord_1"}`)}
	if err := store.SaveResponse(ctx, "t1|key-1", "fp", resp, fixedTime, time.Hour); err != nil {
		t.Fatalf("SaveResponse: %v", err)
	}

	res, err = store.Reserve(ctx, "t1|key-1", "fp", fixedTime, time.Hour)
	if err != nil || res.State != ReservationStateCompleted {
		t.Fatalf("expected completed reservation, got %v %v", res.State, err)
	}
	if res.Record.ResponseStatus != http.StatusCreated || string(res.Record.ResponseBody) != `{"id":"ord_1"}` {
		t.Fatalf("unexpected stored record %+v", res.Record)
	}
	if _, ok := res.Record.ResponseHeaders["Date"]; ok {
		t.Fatalf("hop headers must not be stored")
	}
}

func TestRedisStoreReleaseAndExpiry(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	if _, err := store.Reserve(ctx, "t1|key-2", "fp", fixedTime, time.Minute); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if err := store.Release(ctx, "t1|key-2", "someone-else"); err != nil {
		t.Fatalf("Release foreign: %v", err)
	}
	res, _ := store.Reserve(ctx, "t1|key-2", "fp", fixedTime, time.Minute)
	if res.State != ReservationStatePending {
		t.Fatalf("foreign release must not drop the record, got %v", res.State)
	}

	if err := store.Release(ctx, "t1|key-2", "fp"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	res, _ = store.Reserve(ctx, "t1|key-2", "fp", fixedTime, time.Minute)
	if res.State != ReservationStateNew {
		t.Fatalf("expected fresh reservation after release, got %v", res.State)
	}

	mr.FastForward(2 * time.Minute)
	res, err := store.Reserve(ctx, "t1|key-2", "other", fixedTime, time.Minute)
	if err != nil || res.State != ReservationStateNew {
		t.Fatalf("expected expired key to be reusable, got %v %v", res.State, err)
	}
}
