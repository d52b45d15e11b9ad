package postgres

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/changerplanet/WebWaka2-sub010/internal/domain"
	"github.com/changerplanet/WebWaka2-sub010/internal/repositories"
)

type orderRepo struct{ r *Registry }

// CreateCheckout flips the cart to CONVERTED under a version check and inserts the order in the
// same transaction.
func (o orderRepo) CreateCheckout(ctx context.Context, record repositories.CheckoutRecord) (domain.Order, error) {
	order := record.Order
	order.Version = 1
	doc, err := json.Marshal(order)
	if err != nil {
		return domain.Order{}, wrapErr("order.createCheckout", err)
	}

	err = o.r.inTx(ctx, "order.createCheckout", func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
UPDATE carts
SET status = 'CONVERTED', converted_order_id = $3, version = version + 1, updated_at = $5
WHERE tenant_id = $1 AND id = $2 AND status = 'ACTIVE' AND version = $4
`, order.TenantID, record.CartID, order.ID, record.CartVersion, o.r.clock())
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			exists, err := cartExists(ctx, tx, order.TenantID, record.CartID)
			if err != nil {
				return err
			}
			if !exists {
				return repositories.NotFound("order.createCheckout", "cart %q not found", record.CartID)
			}
			return repositories.Conflict("order.createCheckout", "cart %q is no longer ACTIVE at version %d", record.CartID, record.CartVersion)
		}

		_, err = tx.Exec(ctx, `
INSERT INTO orders (id, tenant_id, order_number, cart_id, status, payment_status, payment_provider, payment_reference, version, document, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, $9, $10, $11)
`, order.ID, order.TenantID, order.OrderNumber, record.CartID, string(order.Status), string(order.PaymentStatus),
			order.Payment.Provider, order.Payment.Reference, doc, order.CreatedAt, order.UpdatedAt)
		return err
	})
	if err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func (o orderRepo) FindByID(ctx context.Context, tenantID, orderID string) (domain.Order, error) {
	row := o.r.pool.QueryRow(ctx, `SELECT version, document FROM orders WHERE tenant_id = $1 AND id = $2`, tenantID, orderID)
	order, err := scanOrder(row)
	return order, wrapErr("order.findByID", err)
}

func (o orderRepo) FindByPaymentReference(ctx context.Context, provider, reference string) (domain.Order, error) {
	row := o.r.pool.QueryRow(ctx, `SELECT version, document FROM orders WHERE payment_provider = $1 AND payment_reference = $2`, provider, reference)
	order, err := scanOrder(row)
	return order, wrapErr("order.findByPaymentReference", err)
}

func (o orderRepo) Update(ctx context.Context, order domain.Order) (domain.Order, error) {
	expected := order.Version
	order.Version++
	doc, err := json.Marshal(order)
	if err != nil {
		return domain.Order{}, wrapErr("order.update", err)
	}
	tag, err := o.r.pool.Exec(ctx, `
UPDATE orders
SET status = $3, payment_status = $4, payment_provider = $5, payment_reference = $6,
    version = $7, document = $8, updated_at = $9
WHERE tenant_id = $1 AND id = $2 AND version = $10
`, order.TenantID, order.ID, string(order.Status), string(order.PaymentStatus), order.Payment.Provider,
		order.Payment.Reference, order.Version, doc, order.UpdatedAt, expected)
	if err != nil {
		return domain.Order{}, wrapErr("order.update", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := o.FindByID(ctx, order.TenantID, order.ID); err != nil {
			return domain.Order{}, err
		}
		return domain.Order{}, repositories.Conflict("order.update", "order %q changed since version %d", order.ID, expected)
	}
	return order, nil
}

func scanOrder(row pgx.Row) (domain.Order, error) {
	var (
		version int64
		doc     []byte
		order   domain.Order
	)
	if err := row.Scan(&version, &doc); err != nil {
		return domain.Order{}, err
	}
	if err := json.Unmarshal(doc, &order); err != nil {
		return domain.Order{}, err
	}
	order.Version = version
	return order, nil
}
