package firestore

import (
	"context"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
)

// Get reads ref and decodes it into T.
func Get[T any](ctx context.Context, op string, ref *firestore.DocumentRef) (T, error) {
	var out T
	snap, err := ref.Get(ctx)
	if err != nil {
		return out, WrapError(op, err)
	}
	if err := snap.DataTo(&out); err != nil {
		return out, WrapError(op, err)
	}
	return out, nil
}

// GetTx reads ref inside tx and decodes it into T.
func GetTx[T any](tx *firestore.Transaction, op string, ref *firestore.DocumentRef) (T, error) {
	var out T
	snap, err := tx.Get(ref)
	if err != nil {
		return out, WrapError(op, err)
	}
	if err := snap.DataTo(&out); err != nil {
		return out, WrapError(op, err)
	}
	return out, nil
}

// Snapshot pairs a decoded document with its id.
type Snapshot[T any] struct {
	ID   string
	Data T
}

// All drains the iterator, decoding every document into T.
func All[T any](op string, iter *firestore.DocumentIterator) ([]Snapshot[T], error) {
	defer iter.Stop()
	var out []Snapshot[T]
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			return out, nil
		}
		if err != nil {
			return nil, WrapError(op, err)
		}
		var data T
		if err := snap.DataTo(&data); err != nil {
			return nil, WrapError(op, err)
		}
		out = append(out, Snapshot[T]{ID: snap.Ref.ID, Data: data})
	}
}
