package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"cloud.google.com/go/firestore"

	"github.com/changerplanet/WebWaka2-sub010/internal/domain"
	pfirestore "github.com/changerplanet/WebWaka2-sub010/internal/platform/firestore"
	"github.com/changerplanet/WebWaka2-sub010/internal/repositories"
)

type inventoryRepo struct{ r *Registry }

func levelDocID(productID, variantID, locationID string) string {
	variant := variantID
	if variant == "" {
		variant = "-"
	}
	return strings.Join([]string{productID, variant, locationID}, "__")
}

// hashedID turns caller-supplied keys into valid document ids.
func hashedID(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func levelsQuery(coll *firestore.CollectionRef, productID, variantID string) firestore.Query {
	return coll.Where("productId", "==", productID).
		Where("variantId", "==", variantID).
		OrderBy("locationId", firestore.Asc)
}

func decodeLevels(snaps []pfirestore.Snapshot[levelDocument]) []domain.InventoryLevel {
	levels := make([]domain.InventoryLevel, 0, len(snaps))
	for _, snap := range snaps {
		levels = append(levels, snap.Data.toDomain())
	}
	return levels
}

func (i inventoryRepo) Levels(ctx context.Context, tenantID, productID, variantID string) ([]domain.InventoryLevel, error) {
	const op = "inventory.levels"
	client, err := i.r.client(ctx, op)
	if err != nil {
		return nil, err
	}
	coll := tenantCollection(client, tenantID, levelsCollection)
	snaps, err := pfirestore.All[levelDocument](op, levelsQuery(coll, productID, variantID).Documents(ctx))
	if err != nil {
		return nil, err
	}
	return decodeLevels(snaps), nil
}

type stockKey struct{ productID, variantID string }

// ApplyEvents reads every marker, level and channel-bearing product before staging the batch in memory,
// then writes it in one transaction. Firestore transactions forbid reads after the first write.
func (i inventoryRepo) ApplyEvents(ctx context.Context, tenantID string, events []domain.InventoryEvent) error {
	const op = "inventory.applyEvents"
	for _, event := range events {
		if err := repositories.ValidateInventoryEvent(event); err != nil {
			return err
		}
	}
	if len(events) == 0 {
		return nil
	}
	client, err := i.r.client(ctx, op)
	if err != nil {
		return err
	}
	levelsColl := tenantCollection(client, tenantID, levelsCollection)
	eventsColl := tenantCollection(client, tenantID, inventoryEventsCollection)
	productsColl := tenantCollection(client, tenantID, productsCollection)

	err = i.r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		now := i.r.clock()

		markerRefs := make([]*firestore.DocumentRef, len(events))
		for idx, event := range events {
			markerRefs[idx] = eventsColl.Doc(hashedID(event.Key()))
		}
		markers, err := tx.GetAll(markerRefs)
		if err != nil {
			return err
		}

		var pending []domain.InventoryEvent
		var pendingRefs []*firestore.DocumentRef
		seen := map[string]struct{}{}
		for idx, event := range events {
			if markers[idx].Exists() {
				continue
			}
			if _, dup := seen[markerRefs[idx].ID]; dup {
				continue
			}
			seen[markerRefs[idx].ID] = struct{}{}
			if event.OccurredAt.IsZero() {
				event.OccurredAt = now
			}
			pending = append(pending, event)
			pendingRefs = append(pendingRefs, markerRefs[idx])
		}
		if len(pending) == 0 {
			return nil
		}

		levels := map[stockKey][]domain.InventoryLevel{}
		products := map[string]domain.Product{}
		for _, event := range pending {
			key := stockKey{event.ProductID, event.VariantID}
			if _, ok := levels[key]; !ok {
				snaps, err := pfirestore.All[levelDocument](op, tx.Documents(levelsQuery(levelsColl, event.ProductID, event.VariantID)))
				if err != nil {
					return err
				}
				levels[key] = decodeLevels(snaps)
			}
			if event.Channel == "" {
				continue
			}
			if _, ok := products[event.ProductID]; ok {
				continue
			}
			doc, err := pfirestore.GetTx[productDocument](tx, op, productsColl.Doc(event.ProductID))
			if pfirestore.IsNotFound(err) {
				products[event.ProductID] = domain.Product{ID: event.ProductID}
				continue
			}
			if err != nil {
				return err
			}
			product, err := doc.toDomain(tenantID, event.ProductID)
			if err != nil {
				return err
			}
			products[event.ProductID] = product
		}

		touchedProducts := map[string]struct{}{}
		for _, event := range pending {
			key := stockKey{event.ProductID, event.VariantID}
			next, err := repositories.ApplyToLevels(levels[key], event)
			if err != nil {
				return err
			}
			levels[key] = next

			if product, ok := products[event.ProductID]; ok {
				updated, changed, err := repositories.ApplyToChannel(product, event)
				if err != nil {
					return err
				}
				if changed {
					products[event.ProductID] = updated
					touchedProducts[event.ProductID] = struct{}{}
				}
			}
		}

		for key, stock := range levels {
			for _, level := range stock {
				doc := levelDocument{
					ProductID:  key.productID,
					VariantID:  key.variantID,
					LocationID: level.LocationID,
					Available:  level.Available,
					Reserved:   level.Reserved,
					UpdatedAt:  now,
				}
				if err := tx.Set(levelsColl.Doc(levelDocID(key.productID, key.variantID, level.LocationID)), doc); err != nil {
					return err
				}
			}
		}
		for productID := range touchedProducts {
			update := []firestore.Update{{Path: "channels", Value: channelDocuments(products[productID].Channels)}}
			if err := tx.Update(productsColl.Doc(productID), update); err != nil {
				return err
			}
		}
		for idx, event := range pending {
			marker := inventoryEventDocument{
				Key:         event.Key(),
				ProductID:   event.ProductID,
				VariantID:   event.VariantID,
				Quantity:    event.Quantity,
				Type:        string(event.Type),
				ReferenceID: event.ReferenceID,
				Channel:     event.Channel,
				OccurredAt:  event.OccurredAt,
			}
			if err := tx.Create(pendingRefs[idx], marker); err != nil {
				return err
			}
		}
		return nil
	})
	return pfirestore.WrapError(op, err)
}
