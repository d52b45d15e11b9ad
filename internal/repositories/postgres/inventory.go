package postgres

import (
	"context"
	"sort"

	"github.com/jackc/pgx/v5"

	"github.com/changerplanet/WebWaka2-sub010/internal/domain"
	"github.com/changerplanet/WebWaka2-sub010/internal/repositories"
)

type inventoryRepo struct{ r *Registry }

func (i inventoryRepo) Levels(ctx context.Context, tenantID, productID, variantID string) ([]domain.InventoryLevel, error) {
	levels, err := loadLevels(ctx, i.r.pool, tenantID, productID, variantID, false)
	return levels, wrapErr("inventory.levels", err)
}

// ApplyEvents locks every touched level row in (product, variant) order, records each event key
// and writes the new quantities. Any failure rolls the whole batch back.
func (i inventoryRepo) ApplyEvents(ctx context.Context, tenantID string, events []domain.InventoryEvent) error {
	for _, event := range events {
		if err := repositories.ValidateInventoryEvent(event); err != nil {
			return err
		}
	}
	ordered := append([]domain.InventoryEvent(nil), events...)
	sort.SliceStable(ordered, func(a, b int) bool {
		if ordered[a].ProductID != ordered[b].ProductID {
			return ordered[a].ProductID < ordered[b].ProductID
		}
		return ordered[a].VariantID < ordered[b].VariantID
	})

	return i.r.inTx(ctx, "inventory.applyEvents", func(tx pgx.Tx) error {
		for _, event := range ordered {
			if event.OccurredAt.IsZero() {
				event.OccurredAt = i.r.clock()
			}
			tag, err := tx.Exec(ctx, `
INSERT INTO inventory_events (tenant_id, event_key, product_id, variant_id, quantity, type, reference_id, channel, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (tenant_id, event_key) DO NOTHING
`, tenantID, event.Key(), event.ProductID, event.VariantID, event.Quantity, string(event.Type), event.ReferenceID, event.Channel, event.OccurredAt)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				continue
			}

			levels, err := loadLevels(ctx, tx, tenantID, event.ProductID, event.VariantID, true)
			if err != nil {
				return err
			}
			next, err := repositories.ApplyToLevels(levels, event)
			if err != nil {
				return err
			}
			for _, level := range next {
				if _, err := tx.Exec(ctx, `
INSERT INTO inventory_levels (tenant_id, product_id, variant_id, location_id, available, reserved, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (tenant_id, product_id, variant_id, location_id)
DO UPDATE SET available = EXCLUDED.available, updated_at = EXCLUDED.updated_at
`, tenantID, event.ProductID, event.VariantID, level.LocationID, level.Available, level.Reserved, event.OccurredAt); err != nil {
					return err
				}
			}

			if event.Channel == "" {
				continue
			}
			product, err := findProduct(ctx, tx, tenantID, event.ProductID, true)
			if repositories.IsNotFound(err) {
				continue
			}
			if err != nil {
				return err
			}
			updated, changed, err := repositories.ApplyToChannel(product, event)
			if err != nil {
				return err
			}
			if changed {
				if _, err := tx.Exec(ctx, `UPDATE products SET channels = $3 WHERE tenant_id = $1 AND id = $2`,
					tenantID, event.ProductID, updated.Channels); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func loadLevels(ctx context.Context, q querier, tenantID, productID, variantID string, forUpdate bool) ([]domain.InventoryLevel, error) {
	query := `
SELECT product_id, variant_id, location_id, available, reserved, updated_at
FROM inventory_levels
WHERE tenant_id = $1 AND product_id = $2 AND variant_id = $3
ORDER BY location_id`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	rows, err := q.Query(ctx, query, tenantID, productID, variantID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.InventoryLevel, error) {
		var level domain.InventoryLevel
		err := row.Scan(&level.ProductID, &level.VariantID, &level.LocationID, &level.Available, &level.Reserved, &level.UpdatedAt)
		return level, err
	})
}
