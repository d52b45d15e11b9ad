package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/changerplanet/WebWaka2-sub010/internal/domain"
	"github.com/changerplanet/WebWaka2-sub010/internal/repositories"
)

type cartRepo struct{ r *Registry }

const cartColumns = `id, tenant_id, coalesce(cart_key, ''), customer_id, channel, currency, status, version, items, coupon_codes, converted_order_id, created_at, updated_at`

func (c cartRepo) FindByKey(ctx context.Context, tenantID, cartKey string) (domain.Cart, error) {
	row := c.r.pool.QueryRow(ctx, `SELECT `+cartColumns+` FROM carts WHERE tenant_id = $1 AND cart_key = $2`, tenantID, cartKey)
	cart, err := scanCart(row)
	return cart, wrapErr("cart.findByKey", err)
}

func (c cartRepo) Save(ctx context.Context, cart domain.Cart, expectedVersion int64) (domain.Cart, error) {
	items, err := json.Marshal(cart.Items)
	if err != nil {
		return domain.Cart{}, wrapErr("cart.save", err)
	}
	coupons := cart.CouponCodes
	if coupons == nil {
		coupons = []string{}
	}
	now := c.r.clock()

	if expectedVersion == 0 {
		row := c.r.pool.QueryRow(ctx, `
INSERT INTO carts (id, tenant_id, cart_key, customer_id, channel, currency, status, version, items, coupon_codes, converted_order_id, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, 1, $8, $9, '', $10, $10)
RETURNING `+cartColumns,
			cart.ID, cart.TenantID, cart.Key, cart.CustomerID, cart.Channel, cart.Currency, string(cart.Status), items, coupons, now)
		created, err := scanCart(row)
		return created, wrapErr("cart.save", err)
	}

	row := c.r.pool.QueryRow(ctx, `
UPDATE carts
SET customer_id = $3, channel = $4, currency = $5, items = $6, coupon_codes = $7,
    version = version + 1, updated_at = $8
WHERE tenant_id = $1 AND id = $2 AND version = $9 AND status = 'ACTIVE'
RETURNING `+cartColumns,
		cart.TenantID, cart.ID, cart.CustomerID, cart.Channel, cart.Currency, items, coupons, now, expectedVersion)
	updated, err := scanCart(row)
	if errors.Is(err, pgx.ErrNoRows) {
		if exists, existsErr := cartExists(ctx, c.r.pool, cart.TenantID, cart.ID); existsErr != nil {
			return domain.Cart{}, wrapErr("cart.save", existsErr)
		} else if !exists {
			return domain.Cart{}, repositories.NotFound("cart.save", "cart %q not found", cart.ID)
		}
		return domain.Cart{}, repositories.Conflict("cart.save", "cart %q is not ACTIVE at version %d", cart.ID, expectedVersion)
	}
	return updated, wrapErr("cart.save", err)
}

func (c cartRepo) Clear(ctx context.Context, tenantID, cartID string) error {
	tag, err := c.r.pool.Exec(ctx, `
UPDATE carts
SET items = '[]'::jsonb, coupon_codes = '{}', cart_key = NULL, version = version + 1, updated_at = $3
WHERE tenant_id = $1 AND id = $2 AND status = 'CONVERTED'
`, tenantID, cartID, c.r.clock())
	if err != nil {
		return wrapErr("cart.clear", err)
	}
	if tag.RowsAffected() == 0 {
		return c.missingOrConflict(ctx, "cart.clear", tenantID, cartID)
	}
	return nil
}

func (c cartRepo) Reopen(ctx context.Context, tenantID, cartID, orderID string) error {
	tag, err := c.r.pool.Exec(ctx, `
UPDATE carts
SET status = 'ACTIVE', converted_order_id = '', version = version + 1, updated_at = $4
WHERE tenant_id = $1 AND id = $2 AND status = 'CONVERTED' AND converted_order_id = $3 AND cart_key IS NOT NULL
`, tenantID, cartID, orderID, c.r.clock())
	if err != nil {
		return wrapErr("cart.reopen", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var status, converted string
	err = c.r.pool.QueryRow(ctx, `SELECT status, converted_order_id FROM carts WHERE tenant_id = $1 AND id = $2`, tenantID, cartID).Scan(&status, &converted)
	if errors.Is(err, pgx.ErrNoRows) {
		return repositories.NotFound("cart.reopen", "cart %q not found", cartID)
	}
	if err != nil {
		return wrapErr("cart.reopen", err)
	}
	if domain.CartStatus(status) == domain.CartStatusActive && converted == "" {
		return nil
	}
	return repositories.Conflict("cart.reopen", "cart %q not reopenable for order %q", cartID, orderID)
}

func (c cartRepo) missingOrConflict(ctx context.Context, op, tenantID, cartID string) error {
	exists, err := cartExists(ctx, c.r.pool, tenantID, cartID)
	if err != nil {
		return wrapErr(op, err)
	}
	if !exists {
		return repositories.NotFound(op, "cart %q not found", cartID)
	}
	return repositories.Conflict(op, "cart %q is not CONVERTED", cartID)
}

func cartExists(ctx context.Context, q querier, tenantID, cartID string) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM carts WHERE tenant_id = $1 AND id = $2)`, tenantID, cartID).Scan(&exists)
	return exists, err
}

func scanCart(row pgx.Row) (domain.Cart, error) {
	var (
		cart   domain.Cart
		status string
		items  []byte
	)
	err := row.Scan(&cart.ID, &cart.TenantID, &cart.Key, &cart.CustomerID, &cart.Channel, &cart.Currency,
		&status, &cart.Version, &items, &cart.CouponCodes, &cart.ConvertedOrderID, &cart.CreatedAt, &cart.UpdatedAt)
	if err != nil {
		return domain.Cart{}, err
	}
	cart.Status = domain.CartStatus(status)
	if len(items) > 0 {
		if err := json.Unmarshal(items, &cart.Items); err != nil {
			return domain.Cart{}, err
		}
	}
	if len(cart.CouponCodes) == 0 {
		cart.CouponCodes = nil
	}
	return cart, nil
}
