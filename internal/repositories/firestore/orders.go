package firestore

import (
	"context"

	"cloud.google.com/go/firestore"

	"github.com/changerplanet/WebWaka2-sub010/internal/domain"
	pfirestore "github.com/changerplanet/WebWaka2-sub010/internal/platform/firestore"
	"github.com/changerplanet/WebWaka2-sub010/internal/repositories"
)

type orderRepo struct{ r *Registry }

// CreateCheckout converts the cart and writes the order tree in one transaction.
func (o orderRepo) CreateCheckout(ctx context.Context, record repositories.CheckoutRecord) (domain.Order, error) {
	const op = "order.createCheckout"
	order := record.Order
	client, err := o.r.client(ctx, op)
	if err != nil {
		return domain.Order{}, err
	}
	orderRef := client.Collection(ordersCollection).Doc(order.ID)
	cartRef := tenantCollection(client, order.TenantID, cartsCollection).Doc(record.CartID)

	err = o.r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		cart, err := pfirestore.GetTx[cartDocument](tx, op, cartRef)
		if err != nil {
			return err
		}
		if domain.CartStatus(cart.Status) != domain.CartStatusActive || cart.Version != record.CartVersion {
			return pfirestore.ConflictError(op, "cart %q is %s at version %d, expected ACTIVE at %d", record.CartID, cart.Status, cart.Version, record.CartVersion)
		}

		now := o.r.clock()
		if err := tx.Update(cartRef, []firestore.Update{
			{Path: "status", Value: string(domain.CartStatusConverted)},
			{Path: "convertedOrderId", Value: order.ID},
			{Path: "version", Value: cart.Version + 1},
			{Path: "updatedAt", Value: now},
		}); err != nil {
			return err
		}
		order.Version = 1
		// Create fails with AlreadyExists when the id was taken, which surfaces as a conflict.
		if err := tx.Create(orderRef, toOrderDocument(order)); err != nil {
			return err
		}
		for _, sub := range order.SubOrders {
			if err := tx.Create(orderRef.Collection(subOrdersCollection).Doc(sub.ID), toSubOrderDocument(sub)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.Order{}, pfirestore.WrapError(op, err)
	}
	return order, nil
}

func (o orderRepo) FindByID(ctx context.Context, tenantID, orderID string) (domain.Order, error) {
	const op = "order.findByID"
	client, err := o.r.client(ctx, op)
	if err != nil {
		return domain.Order{}, err
	}
	ref := client.Collection(ordersCollection).Doc(orderID)
	doc, err := pfirestore.Get[orderDocument](ctx, op, ref)
	if err != nil {
		return domain.Order{}, err
	}
	if doc.TenantID != tenantID {
		return domain.Order{}, pfirestore.NotFoundError(op, "order %q not found", orderID)
	}
	return o.load(ctx, op, ref, doc)
}

func (o orderRepo) FindByPaymentReference(ctx context.Context, provider, reference string) (domain.Order, error) {
	const op = "order.findByPaymentReference"
	client, err := o.r.client(ctx, op)
	if err != nil {
		return domain.Order{}, err
	}
	iter := client.Collection(ordersCollection).
		Where("payment.provider", "==", provider).
		Where("payment.reference", "==", reference).
		Limit(1).
		Documents(ctx)
	snaps, err := pfirestore.All[orderDocument](op, iter)
	if err != nil {
		return domain.Order{}, err
	}
	if len(snaps) == 0 {
		return domain.Order{}, pfirestore.NotFoundError(op, "no order for %s reference %q", provider, reference)
	}
	return o.load(ctx, op, client.Collection(ordersCollection).Doc(snaps[0].ID), snaps[0].Data)
}

func (o orderRepo) load(ctx context.Context, op string, ref *firestore.DocumentRef, doc orderDocument) (domain.Order, error) {
	snaps, err := pfirestore.All[subOrderDocument](op, ref.Collection(subOrdersCollection).OrderBy("number", firestore.Asc).Documents(ctx))
	if err != nil {
		return domain.Order{}, err
	}
	subs := make([]domain.SubOrder, 0, len(snaps))
	for _, snap := range snaps {
		sub, err := snap.Data.toDomain(ref.ID, snap.ID)
		if err != nil {
			return domain.Order{}, pfirestore.WrapError(op, err)
		}
		subs = append(subs, sub)
	}
	order, err := doc.toDomain(ref.ID, subs)
	return order, pfirestore.WrapError(op, err)
}

// Update rewrites the parent and every sub-order when the stored version still matches.
func (o orderRepo) Update(ctx context.Context, order domain.Order) (domain.Order, error) {
	const op = "order.update"
	client, err := o.r.client(ctx, op)
	if err != nil {
		return domain.Order{}, err
	}
	ref := client.Collection(ordersCollection).Doc(order.ID)
	next := order
	err = o.r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		stored, err := pfirestore.GetTx[orderDocument](tx, op, ref)
		if err != nil {
			return err
		}
		if stored.TenantID != order.TenantID {
			return pfirestore.NotFoundError(op, "order %q not found", order.ID)
		}
		if stored.Version != order.Version {
			return pfirestore.ConflictError(op, "order %q version %d, expected %d", order.ID, stored.Version, order.Version)
		}
		next.Version = order.Version + 1
		if err := tx.Set(ref, toOrderDocument(next)); err != nil {
			return err
		}
		for _, sub := range next.SubOrders {
			if err := tx.Set(ref.Collection(subOrdersCollection).Doc(sub.ID), toSubOrderDocument(sub)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.Order{}, pfirestore.WrapError(op, err)
	}
	return next, nil
}
