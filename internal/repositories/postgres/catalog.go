package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/changerplanet/WebWaka2-sub010/internal/domain"
	"github.com/changerplanet/WebWaka2-sub010/internal/repositories"
)

type tenantRepo struct{ r *Registry }

const tenantColumns = `id, slug, name, currency, locale, demo, tax_rate::text, features`

func (t tenantRepo) FindBySlug(ctx context.Context, slug string) (domain.Tenant, error) {
	row := t.r.pool.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE lower(slug) = lower($1)`, strings.TrimSpace(slug))
	return scanTenant(row, "tenant.findBySlug")
}

func (t tenantRepo) FindByID(ctx context.Context, tenantID string) (domain.Tenant, error) {
	row := t.r.pool.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, tenantID)
	return scanTenant(row, "tenant.findByID")
}

func scanTenant(row pgx.Row, op string) (domain.Tenant, error) {
	var (
		tenant   domain.Tenant
		taxRate  string
		features []byte
	)
	if err := row.Scan(&tenant.ID, &tenant.Slug, &tenant.Name, &tenant.Currency, &tenant.Locale, &tenant.Demo, &taxRate, &features); err != nil {
		return domain.Tenant{}, wrapErr(op, err)
	}
	var err error
	if tenant.TaxRate, err = decimal.NewFromString(taxRate); err != nil {
		return domain.Tenant{}, wrapErr(op, fmt.Errorf("tax rate: %w", err))
	}
	if len(features) > 0 {
		if err := json.Unmarshal(features, &tenant.Features); err != nil {
			return domain.Tenant{}, wrapErr(op, fmt.Errorf("features: %w", err))
		}
	}
	return tenant, nil
}

type vendorRepo struct{ r *Registry }

func (v vendorRepo) FindByID(ctx context.Context, tenantID, vendorID string) (domain.Vendor, error) {
	var (
		vendor domain.Vendor
		status string
		fee    string
	)
	err := v.r.pool.QueryRow(ctx, `
SELECT id, tenant_id, name, status, active, shipping_fee::text
FROM vendors
WHERE tenant_id = $1 AND id = $2
`, tenantID, vendorID).Scan(&vendor.ID, &vendor.TenantID, &vendor.Name, &status, &vendor.Active, &fee)
	if err != nil {
		return domain.Vendor{}, wrapErr("vendor.findByID", err)
	}
	vendor.Status = domain.VendorStatus(status)
	if vendor.ShippingFee, err = decimal.NewFromString(fee); err != nil {
		return domain.Vendor{}, wrapErr("vendor.findByID", err)
	}
	return vendor, nil
}

type productRepo struct{ r *Registry }

func (p productRepo) FindByID(ctx context.Context, tenantID, productID string) (domain.Product, error) {
	return findProduct(ctx, p.r.pool, tenantID, productID, false)
}

// findProduct optionally row-locks the product so channel allocations can be adjusted in a transaction.
func findProduct(ctx context.Context, q querier, tenantID, productID string, forUpdate bool) (domain.Product, error) {
	query := `
SELECT id, tenant_id, vendor_id, name, category_ids, price::text, active, track_inventory, channels
FROM products
WHERE tenant_id = $1 AND id = $2`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var (
		product  domain.Product
		price    string
		channels []byte
	)
	err := q.QueryRow(ctx, query, tenantID, productID).Scan(
		&product.ID, &product.TenantID, &product.VendorID, &product.Name, &product.CategoryIDs,
		&price, &product.Active, &product.TrackInventory, &channels,
	)
	if err != nil {
		return domain.Product{}, wrapErr("product.findByID", err)
	}
	if product.Price, err = decimal.NewFromString(price); err != nil {
		return domain.Product{}, wrapErr("product.findByID", err)
	}
	if len(channels) > 0 {
		if err := json.Unmarshal(channels, &product.Channels); err != nil {
			return domain.Product{}, wrapErr("product.findByID", fmt.Errorf("channels: %w", err))
		}
	}
	return product, nil
}

type promotionRepo struct{ r *Registry }

func (p promotionRepo) ListAutomatic(ctx context.Context, tenantID string, _ time.Time) ([]domain.Promotion, error) {
	rows, err := p.r.pool.Query(ctx, `
SELECT document FROM promotions
WHERE tenant_id = $1 AND automatic AND active
ORDER BY id
`, tenantID)
	if err != nil {
		return nil, wrapErr("promotion.listAutomatic", err)
	}
	promos, err := pgx.CollectRows(rows, scanPromotion)
	return promos, wrapErr("promotion.listAutomatic", err)
}

func (p promotionRepo) FindByCodes(ctx context.Context, tenantID string, codes []string) (map[string]domain.Promotion, error) {
	upper := make([]string, 0, len(codes))
	for _, c := range codes {
		if c = strings.ToUpper(strings.TrimSpace(c)); c != "" {
			upper = append(upper, c)
		}
	}
	out := make(map[string]domain.Promotion, len(upper))
	if len(upper) == 0 {
		return out, nil
	}
	rows, err := p.r.pool.Query(ctx, `
SELECT document FROM promotions
WHERE tenant_id = $1 AND upper(code) = ANY($2)
`, tenantID, upper)
	if err != nil {
		return nil, wrapErr("promotion.findByCodes", err)
	}
	promos, err := pgx.CollectRows(rows, scanPromotion)
	if err != nil {
		return nil, wrapErr("promotion.findByCodes", err)
	}
	for _, promo := range promos {
		out[strings.ToUpper(promo.Code)] = promo
	}
	return out, nil
}

func scanPromotion(row pgx.CollectableRow) (domain.Promotion, error) {
	var (
		raw   []byte
		promo domain.Promotion
	)
	if err := row.Scan(&raw); err != nil {
		return promo, err
	}
	err := json.Unmarshal(raw, &promo)
	return promo, err
}

type partnerRepo struct{ r *Registry }

func (p partnerRepo) ActiveForTenant(ctx context.Context, tenantID, capability string) (domain.PaymentPartner, error) {
	var partner domain.PaymentPartner
	err := p.r.pool.QueryRow(ctx, `
SELECT id, tenant_id, provider, account_id, active, capabilities
FROM payment_partners
WHERE tenant_id = $1 AND active AND $2 = ANY(capabilities)
ORDER BY id
LIMIT 1
`, tenantID, capability).Scan(&partner.ID, &partner.TenantID, &partner.Provider, &partner.AccountID, &partner.Active, &partner.Capabilities)
	if err != nil {
		return domain.PaymentPartner{}, wrapErr("paymentPartner.active", err)
	}
	return partner, nil
}

type counterRepo struct{ r *Registry }

func (c counterRepo) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	if err := repositories.ValidateCounterStep(counterID, step); err != nil {
		return 0, err
	}
	var value int64
	err := c.r.pool.QueryRow(ctx, `
INSERT INTO counters (id, value) VALUES ($1, $2)
ON CONFLICT (id) DO UPDATE SET value = counters.value + EXCLUDED.value
RETURNING value
`, counterID, step).Scan(&value)
	return value, wrapErr("counter.next", err)
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}
