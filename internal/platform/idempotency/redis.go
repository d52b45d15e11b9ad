package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisPrefix = "idempotency:"
	redisWatchRetries  = 3
)

// RedisStore keeps records as JSON strings and lets Redis expire them.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

type RedisOption func(*RedisStore)

func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("idempotency redis store: client is required")
	}
	s := &RedisStore{client: client, prefix: defaultRedisPrefix}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

func (s *RedisStore) redisKey(key string) string {
	return s.prefix + recordID(key)
}

func (s *RedisStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	ttl = normalizeTTL(ttl)
	rk := s.redisKey(key)
	pending := newPendingRecord(key, fingerprint, now, ttl)
	payload, err := json.Marshal(pending)
	if err != nil {
		return Reservation{}, fmt.Errorf("idempotency redis: encode record: %w", err)
	}

	for attempt := 0; attempt < redisWatchRetries; attempt++ {
		created, err := s.client.SetNX(ctx, rk, payload, ttl).Result()
		if err != nil {
			return Reservation{}, fmt.Errorf("idempotency redis: reserve: %w", err)
		}
		if created {
			return Reservation{State: ReservationStateNew, Record: pending}, nil
		}
		record, found, err := s.load(ctx, s.client, rk)
		if err != nil {
			return Reservation{}, err
		}
		if !found {
			// Expired between SETNX and GET.
			continue
		}
		if record.Fingerprint != fingerprint {
			return Reservation{}, ErrFingerprintMismatch
		}
		if record.Status == StatusCompleted {
			return Reservation{State: ReservationStateCompleted, Record: record}, nil
		}
		return Reservation{State: ReservationStatePending, Record: record}, nil
	}
	return Reservation{}, errors.New("idempotency redis: reservation kept racing with expiry")
}

func (s *RedisStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	ttl = normalizeTTL(ttl)
	rk := s.redisKey(key)
	return s.watch(ctx, rk, func(tx *redis.Tx) error {
		record, found, err := s.load(ctx, tx, rk)
		if err != nil {
			return err
		}
		if !found {
			record = Record{Key: key, Fingerprint: fingerprint}
		} else if record.Fingerprint != fingerprint {
			return ErrFingerprintMismatch
		}
		payload, err := json.Marshal(record.complete(resp, now, ttl))
		if err != nil {
			return fmt.Errorf("idempotency redis: encode record: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, rk, payload, ttl)
			return nil
		})
		return err
	})
}

func (s *RedisStore) Release(ctx context.Context, key, fingerprint string) error {
	rk := s.redisKey(key)
	return s.watch(ctx, rk, func(tx *redis.Tx) error {
		record, found, err := s.load(ctx, tx, rk)
		if err != nil || !found || record.Fingerprint != fingerprint {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, rk)
			return nil
		})
		return err
	})
}

// CleanupExpired is a no-op: keys carry their own TTL.
func (s *RedisStore) CleanupExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

// Ping reports whether Redis answers; used by readiness probes.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) watch(ctx context.Context, rk string, fn func(*redis.Tx) error) error {
	var err error
	for attempt := 0; attempt < redisWatchRetries; attempt++ {
		err = s.client.Watch(ctx, fn, rk)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("idempotency redis: optimistic lock failed: %w", err)
}

type redisGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) load(ctx context.Context, cmd redisGetter, rk string) (Record, bool, error) {
	raw, err := cmd.Get(ctx, rk).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("idempotency redis: load: %w", err)
	}
	var record Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return Record{}, false, fmt.Errorf("idempotency redis: decode record: %w", err)
	}
	return record, true, nil
}
