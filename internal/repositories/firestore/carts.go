package firestore

import (
	"context"

	"cloud.google.com/go/firestore"

	"github.com/changerplanet/WebWaka2-sub010/internal/domain"
	pfirestore "github.com/changerplanet/WebWaka2-sub010/internal/platform/firestore"
)

// cartKeyDocument indexes a session key to the cart it currently owns.
type cartKeyDocument struct {
	CartID string `firestore:"cartId"`
}

type cartRepo struct{ r *Registry }

type cartRefs struct {
	carts *firestore.CollectionRef
	keys  *firestore.CollectionRef
}

func (c cartRepo) refs(ctx context.Context, op, tenantID string) (cartRefs, error) {
	client, err := c.r.client(ctx, op)
	if err != nil {
		return cartRefs{}, err
	}
	return cartRefs{
		carts: tenantCollection(client, tenantID, cartsCollection),
		keys:  tenantCollection(client, tenantID, cartKeysCollection),
	}, nil
}

func (refs cartRefs) key(cartKey string) *firestore.DocumentRef {
	return refs.keys.Doc(hashedID(cartKey))
}

func (c cartRepo) FindByKey(ctx context.Context, tenantID, cartKey string) (domain.Cart, error) {
	const op = "cart.findByKey"
	refs, err := c.refs(ctx, op, tenantID)
	if err != nil {
		return domain.Cart{}, err
	}
	index, err := pfirestore.Get[cartKeyDocument](ctx, op, refs.key(cartKey))
	if err != nil {
		return domain.Cart{}, err
	}
	doc, err := pfirestore.Get[cartDocument](ctx, op, refs.carts.Doc(index.CartID))
	if err != nil {
		return domain.Cart{}, err
	}
	cart, err := doc.toDomain(tenantID, index.CartID)
	return cart, pfirestore.WrapError(op, err)
}

func (c cartRepo) Save(ctx context.Context, cart domain.Cart, expectedVersion int64) (domain.Cart, error) {
	const op = "cart.save"
	refs, err := c.refs(ctx, op, cart.TenantID)
	if err != nil {
		return domain.Cart{}, err
	}
	cartRef := refs.carts.Doc(cart.ID)
	keyRef := refs.key(cart.Key)

	var saved domain.Cart
	err = c.r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		next := cart
		now := c.r.clock()
		stored, err := pfirestore.GetTx[cartDocument](tx, op, cartRef)
		exists := err == nil
		if err != nil && !pfirestore.IsNotFound(err) {
			return err
		}

		switch {
		case expectedVersion == 0 && exists:
			return pfirestore.ConflictError(op, "cart %q already exists", cart.ID)
		case expectedVersion == 0:
			if _, err := tx.Get(keyRef); err == nil {
				return pfirestore.ConflictError(op, "cart key %q already in use", cart.Key)
			} else if !pfirestore.IsNotFound(err) {
				return err
			}
			next.CreatedAt = now
		case !exists:
			return pfirestore.NotFoundError(op, "cart %q not found", cart.ID)
		case stored.Version != expectedVersion:
			return pfirestore.ConflictError(op, "cart %q version %d, expected %d", cart.ID, stored.Version, expectedVersion)
		case domain.CartStatus(stored.Status) != domain.CartStatusActive:
			return pfirestore.ConflictError(op, "cart %q is %s", cart.ID, stored.Status)
		}

		next.Version = expectedVersion + 1
		next.UpdatedAt = now
		if err := tx.Set(cartRef, toCartDocument(next)); err != nil {
			return err
		}
		if err := tx.Set(keyRef, cartKeyDocument{CartID: cart.ID}); err != nil {
			return err
		}
		saved = next
		return nil
	})
	if err != nil {
		return domain.Cart{}, pfirestore.WrapError(op, err)
	}
	return saved, nil
}

func (c cartRepo) Clear(ctx context.Context, tenantID, cartID string) error {
	const op = "cart.clear"
	refs, err := c.refs(ctx, op, tenantID)
	if err != nil {
		return err
	}
	cartRef := refs.carts.Doc(cartID)
	err = c.r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := pfirestore.GetTx[cartDocument](tx, op, cartRef)
		if err != nil {
			return err
		}
		if domain.CartStatus(doc.Status) != domain.CartStatusConverted {
			return pfirestore.ConflictError(op, "cart %q is %s", cartID, doc.Status)
		}
		keyRef := refs.key(doc.Key)
		index, err := pfirestore.GetTx[cartKeyDocument](tx, op, keyRef)
		ownsKey := err == nil && index.CartID == cartID
		if err != nil && !pfirestore.IsNotFound(err) {
			return err
		}

		if ownsKey {
			if err := tx.Delete(keyRef); err != nil {
				return err
			}
		}
		return tx.Update(cartRef, []firestore.Update{
			{Path: "items", Value: []cartItemDocument{}},
			{Path: "couponCodes", Value: []string{}},
			{Path: "version", Value: doc.Version + 1},
			{Path: "updatedAt", Value: c.r.clock()},
		})
	})
	return pfirestore.WrapError(op, err)
}

func (c cartRepo) Reopen(ctx context.Context, tenantID, cartID, orderID string) error {
	const op = "cart.reopen"
	refs, err := c.refs(ctx, op, tenantID)
	if err != nil {
		return err
	}
	cartRef := refs.carts.Doc(cartID)
	err = c.r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := pfirestore.GetTx[cartDocument](tx, op, cartRef)
		if err != nil {
			return err
		}
		status := domain.CartStatus(doc.Status)
		if status == domain.CartStatusActive && doc.ConvertedOrderID == "" {
			return nil
		}
		if status != domain.CartStatusConverted || doc.ConvertedOrderID != orderID {
			return pfirestore.ConflictError(op, "cart %q not converted by order %q", cartID, orderID)
		}
		index, err := pfirestore.GetTx[cartKeyDocument](tx, op, refs.key(doc.Key))
		if pfirestore.IsNotFound(err) || (err == nil && index.CartID != cartID) {
			return pfirestore.ConflictError(op, "cart %q was detached from its key", cartID)
		}
		if err != nil {
			return err
		}
		return tx.Update(cartRef, []firestore.Update{
			{Path: "status", Value: string(domain.CartStatusActive)},
			{Path: "convertedOrderId", Value: ""},
			{Path: "version", Value: doc.Version + 1},
			{Path: "updatedAt", Value: c.r.clock()},
		})
	})
	return pfirestore.WrapError(op, err)
}
