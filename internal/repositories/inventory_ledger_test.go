package repositories

import (
	"errors"
	"testing"

	"github.com/changerplanet/WebWaka2-sub010/internal/domain"
)

func TestApplyToLevelsDrainsLocationsInOrder(t *testing.T) {
	levels := []domain.InventoryLevel{
		{ProductID: "p1", LocationID: "wh-b", Available: 10},
		{ProductID: "p1", LocationID: "wh-a", Available: 3, Reserved: 1},
	}

	out, err := ApplyToLevels(levels, domain.InventoryEvent{ProductID: "p1", Quantity: -5, ReferenceID: "ord"})
	if err != nil {
		t.Fatalf("ApplyToLevels: %v", err)
	}
	if out[0].LocationID != "wh-a" || out[0].Available != 1 {
		t.Fatalf("expected wh-a drained to reserved floor, got %+v", out[0])
	}
	if out[1].Available != 7 {
		t.Fatalf("expected wh-b to cover remainder, got %+v", out[1])
	}
	if levels[0].Available != 10 {
		t.Fatalf("input mutated")
	}
}

func TestApplyToLevelsRejectsShortfall(t *testing.T) {
	levels := []domain.InventoryLevel{{ProductID: "p1", LocationID: "a", Available: 2}}

	_, err := ApplyToLevels(levels, domain.InventoryEvent{ProductID: "p1", Quantity: -3, ReferenceID: "ord"})
	var invErr *InventoryError
	if !errors.As(err, &invErr) || invErr.Code != InventoryErrorInsufficientStock {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if !IsConflict(err) {
		t.Fatalf("expected stock race to classify as conflict")
	}
}

func TestApplyToLevelsRestockCreatesDefaultLocation(t *testing.T) {
	out, err := ApplyToLevels(nil, domain.InventoryEvent{ProductID: "p1", VariantID: "v1", Quantity: 4, ReferenceID: "ord"})
	if err != nil {
		t.Fatalf("ApplyToLevels: %v", err)
	}
	if len(out) != 1 || out[0].LocationID != DefaultLocationID || out[0].Available != 4 {
		t.Fatalf("unexpected restock result %+v", out)
	}
}

func TestApplyToChannelAllocated(t *testing.T) {
	product := domain.Product{
		ID: "p1",
		Channels: map[string]domain.ChannelInventory{
			"POS": {Mode: domain.InventoryModeAllocated, AllocatedQuantity: 2},
			"WEB": {Mode: domain.InventoryModeUnlimited},
		},
	}

	updated, changed, err := ApplyToChannel(product, domain.InventoryEvent{ProductID: "p1", Quantity: -2, Channel: "POS"})
	if err != nil || !changed {
		t.Fatalf("expected allocation change, got changed=%v err=%v", changed, err)
	}
	if updated.Channels["POS"].AllocatedQuantity != 0 {
		t.Fatalf("expected allocation 0, got %d", updated.Channels["POS"].AllocatedQuantity)
	}
	if product.Channels["POS"].AllocatedQuantity != 2 {
		t.Fatalf("input product mutated")
	}

	if _, _, err := ApplyToChannel(updated, domain.InventoryEvent{ProductID: "p1", Quantity: -1, Channel: "POS"}); err == nil {
		t.Fatalf("expected allocation exceeded")
	}
	if _, changed, _ := ApplyToChannel(product, domain.InventoryEvent{ProductID: "p1", Quantity: -1, Channel: "WEB"}); changed {
		t.Fatalf("unlimited channel must not change")
	}
}

func TestValidateInventoryEvent(t *testing.T) {
	if err := ValidateInventoryEvent(domain.InventoryEvent{ProductID: "p", ReferenceID: "r"}); err == nil {
		t.Fatalf("expected zero quantity rejection")
	}
	if err := ValidateInventoryEvent(domain.InventoryEvent{ProductID: "p", Quantity: -1}); err == nil {
		t.Fatalf("expected missing reference rejection")
	}
	if err := ValidateInventoryEvent(domain.InventoryEvent{ProductID: "p", Quantity: -1, ReferenceID: "r"}); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
}
