package idempotency

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/changerplanet/WebWaka2-sub010/internal/platform/firestore"
)

const defaultCollection = "idempotencyKeys"

// FirestoreStore keeps records as documents keyed by the hashed scoped key.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
	attempts   int
}

type FirestoreOption func(*FirestoreStore)

func WithCollection(name string) FirestoreOption {
	return func(s *FirestoreStore) {
		if name != "" {
			s.collection = name
		}
	}
}

func WithMaxAttempts(attempts int) FirestoreOption {
	return func(s *FirestoreStore) {
		if attempts > 0 {
			s.attempts = attempts
		}
	}
}

func NewFirestoreStore(client *firestore.Client, opts ...FirestoreOption) (*FirestoreStore, error) {
	if client == nil {
		return nil, errors.New("idempotency firestore store: client is required")
	}
	s := &FirestoreStore{client: client, collection: defaultCollection, attempts: 5}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

func (s *FirestoreStore) doc(key string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(recordID(key))
}

func (s *FirestoreStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	ref := s.doc(key)
	var result Reservation
	err := pfirestore.RunTransaction(ctx, s.client, func(_ context.Context, tx *firestore.Transaction) error {
		doc, err := pfirestore.GetTx[recordDocument](tx, "idempotency.reserve", ref)
		if err != nil && !pfirestore.IsNotFound(err) {
			return err
		}
		record := doc.toRecord()
		if err == nil && !record.expired(now) {
			if record.Fingerprint != fingerprint {
				return ErrFingerprintMismatch
			}
			state := ReservationStatePending
			if record.Status == StatusCompleted {
				state = ReservationStateCompleted
			}
			result = Reservation{State: state, Record: record}
			return nil
		}
		record = newPendingRecord(key, fingerprint, now, normalizeTTL(ttl))
		result = Reservation{State: ReservationStateNew, Record: record}
		return tx.Set(ref, toRecordDocument(record))
	}, pfirestore.WithTxAttempts(s.attempts))
	return result, err
}

func (s *FirestoreStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	ref := s.doc(key)
	return pfirestore.RunTransaction(ctx, s.client, func(_ context.Context, tx *firestore.Transaction) error {
		doc, err := pfirestore.GetTx[recordDocument](tx, "idempotency.saveResponse", ref)
		record := Record{Key: key, Fingerprint: fingerprint}
		switch {
		case err == nil:
			record = doc.toRecord()
			if record.Fingerprint != fingerprint {
				return ErrFingerprintMismatch
			}
		case !pfirestore.IsNotFound(err):
			return err
		}
		return tx.Set(ref, toRecordDocument(record.complete(resp, now, normalizeTTL(ttl))))
	}, pfirestore.WithTxAttempts(s.attempts))
}

func (s *FirestoreStore) Release(ctx context.Context, key, fingerprint string) error {
	ref := s.doc(key)
	return pfirestore.RunTransaction(ctx, s.client, func(_ context.Context, tx *firestore.Transaction) error {
		doc, err := pfirestore.GetTx[recordDocument](tx, "idempotency.release", ref)
		if pfirestore.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		if doc.Fingerprint != fingerprint {
			return nil
		}
		return tx.Delete(ref)
	}, pfirestore.WithTxAttempts(s.attempts))
}

func (s *FirestoreStore) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	iter := s.client.Collection(s.collection).Where("expiresAt", "<=", now.UTC()).Limit(limit).Documents(ctx)
	docs, err := pfirestore.All[recordDocument]("idempotency.cleanup", iter)
	if err != nil || len(docs) == 0 {
		return 0, err
	}
	bw := s.client.BulkWriter(ctx)
	for _, doc := range docs {
		if _, err := bw.Delete(s.client.Collection(s.collection).Doc(doc.ID)); err != nil {
			bw.End()
			return 0, pfirestore.WrapError("idempotency.cleanup", err)
		}
	}
	bw.End()
	return len(docs), nil
}

type recordDocument struct {
	Key             string              `firestore:"key"`
	Fingerprint     string              `firestore:"fingerprint"`
	Status          string              `firestore:"status"`
	ResponseStatus  int                 `firestore:"responseStatus"`
	ResponseHeaders map[string][]string `firestore:"responseHeaders,omitempty"`
	ResponseBody    []byte              `firestore:"responseBody,omitempty"`
	CreatedAt       time.Time           `firestore:"createdAt"`
	UpdatedAt       time.Time           `firestore:"updatedAt"`
	ExpiresAt       time.Time           `firestore:"expiresAt"`
}

func toRecordDocument(r Record) recordDocument {
	return recordDocument{
		Key:             r.Key,
		Fingerprint:     r.Fingerprint,
		Status:          string(r.Status),
		ResponseStatus:  r.ResponseStatus,
		ResponseHeaders: r.ResponseHeaders,
		ResponseBody:    r.ResponseBody,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		ExpiresAt:       r.ExpiresAt,
	}
}

func (d recordDocument) toRecord() Record {
	return Record{
		Key:             d.Key,
		Fingerprint:     d.Fingerprint,
		Status:          Status(d.Status),
		ResponseStatus:  d.ResponseStatus,
		ResponseHeaders: d.ResponseHeaders,
		ResponseBody:    d.ResponseBody,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
		ExpiresAt:       d.ExpiresAt,
	}
}
