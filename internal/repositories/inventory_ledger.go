package repositories

import (
	"sort"
	"strings"

	"github.com/changerplanet/WebWaka2-sub010/internal/domain"
)

// DefaultLocationID receives restocks for variants without any stock record.
const DefaultLocationID = "default"

// ValidateInventoryEvent rejects events no backend can apply.
func ValidateInventoryEvent(event domain.InventoryEvent) error {
	switch {
	case strings.TrimSpace(event.ProductID) == "":
		return NewInventoryError(InventoryErrorInvalidEvent, "", "product id is required", nil)
	case strings.TrimSpace(event.ReferenceID) == "":
		return NewInventoryError(InventoryErrorInvalidEvent, event.ProductID, "reference id is required", nil)
	case event.Quantity == 0:
		return NewInventoryError(InventoryErrorInvalidEvent, event.ProductID, "quantity must be non-zero", nil)
	}
	return nil
}

// ApplyToLevels moves a signed quantity across location levels ordered by location id. Deductions drain
// locations in order and fail without mutation when total sellable stock is short. Restocks land on the
// first location. The input slice is not modified.
func ApplyToLevels(levels []domain.InventoryLevel, event domain.InventoryEvent) ([]domain.InventoryLevel, error) {
	out := make([]domain.InventoryLevel, len(levels))
	copy(out, levels)
	sort.SliceStable(out, func(i, j int) bool { return out[i].LocationID < out[j].LocationID })

	if event.Quantity > 0 {
		if len(out) == 0 {
			out = append(out, domain.InventoryLevel{
				ProductID:  event.ProductID,
				VariantID:  event.VariantID,
				LocationID: DefaultLocationID,
			})
		}
		out[0].Available += event.Quantity
		out[0].UpdatedAt = event.OccurredAt
		return out, nil
	}

	need := -event.Quantity
	var total int64
	for _, level := range out {
		total += level.Sellable()
	}
	if total < need {
		return nil, NewInventoryError(InventoryErrorInsufficientStock, event.ProductID, "deduction exceeds sellable stock", nil)
	}
	for i := range out {
		if need == 0 {
			break
		}
		take := out[i].Sellable()
		if take > need {
			take = need
		}
		if take == 0 {
			continue
		}
		out[i].Available -= take
		out[i].UpdatedAt = event.OccurredAt
		need -= take
	}
	return out, nil
}

// ApplyToChannel adjusts a ring-fenced channel allocation. It reports whether the product changed.
func ApplyToChannel(product domain.Product, event domain.InventoryEvent) (domain.Product, bool, error) {
	if event.Channel == "" {
		return product, false, nil
	}
	policy, ok := product.Channels[event.Channel]
	if !ok || policy.Mode != domain.InventoryModeAllocated {
		return product, false, nil
	}
	next := policy.AllocatedQuantity + event.Quantity
	if next < 0 {
		return product, false, NewInventoryError(InventoryErrorAllocationExceeded, product.ID, "deduction exceeds channel allocation", nil)
	}
	channels := make(map[string]domain.ChannelInventory, len(product.Channels))
	for k, v := range product.Channels {
		channels[k] = v
	}
	policy.AllocatedQuantity = next
	channels[event.Channel] = policy
	product.Channels = channels
	return product, true, nil
}
