package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/changerplanet/WebWaka2-sub010/internal/domain"
	"github.com/changerplanet/WebWaka2-sub010/internal/repositories"
)

// InsufficientReport lists the items that cannot be fulfilled. An empty report means the cart is stockable.
type InsufficientReport struct {
	Items []InsufficientItem
}

// OK reports whether every item is in stock.
func (r InsufficientReport) OK() bool { return len(r.Items) == 0 }

// Err returns an *InsufficientStockError when the report is not empty.
func (r InsufficientReport) Err() error {
	if r.OK() {
		return nil
	}
	return &InsufficientStockError{Items: r.Items}
}

// InventoryGateDeps wires the inventory gate.
type InventoryGateDeps struct {
	Products  repositories.ProductRepository
	Inventory repositories.InventoryRepository
	Events    EventPublisher
	Clock     func() time.Time
	Logger    Logger
}

type inventoryGate struct {
	products  repositories.ProductRepository
	inventory repositories.InventoryRepository
	events    EventPublisher
	now       func() time.Time
	logger    Logger
}

// NewInventoryGate constructs the inventory service.
func NewInventoryGate(deps InventoryGateDeps) (InventoryService, error) {
	if deps.Products == nil {
		return nil, errors.New("inventory gate: product repository is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("inventory gate: inventory repository is required")
	}
	return &inventoryGate{
		products:  deps.Products,
		inventory: deps.Inventory,
		events:    publisherOrNoop(deps.Events),
		now:       utcClock(deps.Clock),
		logger:    loggerOrNoop(deps.Logger),
	}, nil
}

type stockLine struct {
	productID string
	variantID string
	name      string
	quantity  int64
}

func aggregateCart(items []domain.CartItem) []stockLine {
	index := map[string]int{}
	var out []stockLine
	for _, it := range items {
		key := it.ProductID + "\x00" + it.VariantID
		if i, ok := index[key]; ok {
			out[i].quantity += it.Quantity
			continue
		}
		index[key] = len(out)
		out = append(out, stockLine{productID: it.ProductID, variantID: it.VariantID, name: it.ProductName, quantity: it.Quantity})
	}
	return out
}

func aggregateOrder(order domain.Order) []stockLine {
	items := order.Items()
	cart := make([]domain.CartItem, 0, len(items))
	for _, li := range items {
		cart = append(cart, domain.CartItem{ProductID: li.ProductID, VariantID: li.VariantID, ProductName: li.ProductName, Quantity: li.Quantity})
	}
	lines := aggregateCart(cart)
	sort.Slice(lines, func(i, j int) bool {
		if lines[i].productID != lines[j].productID {
			return lines[i].productID < lines[j].productID
		}
		return lines[i].variantID < lines[j].variantID
	})
	return lines
}

// Check compares the requested quantity of every product variant with what the channel may sell. A
// channel allocation is shared by all variants of the product.
func (g *inventoryGate) Check(ctx context.Context, tenantID, channel string, items []domain.CartItem) (InsufficientReport, error) {
	var report InsufficientReport
	lines := aggregateCart(items)
	perProduct := make(map[string]int64, len(lines))
	for _, line := range lines {
		perProduct[line.productID] += line.quantity
	}
	for _, line := range lines {
		product, err := g.products.FindByID(ctx, tenantID, line.productID)
		if err != nil {
			if repositories.IsNotFound(err) {
				report.Items = append(report.Items, InsufficientItem{
					ProductID:   line.productID,
					VariantID:   line.variantID,
					ProductName: line.name,
					Requested:   line.quantity,
				})
				continue
			}
			return InsufficientReport{}, translateRepoError(err, nil, nil)
		}
		siblings := perProduct[line.productID] - line.quantity
		tracked, available, err := g.sellable(ctx, tenantID, channel, product, line.variantID, siblings)
		if err != nil {
			return InsufficientReport{}, err
		}
		if !tracked || available >= line.quantity {
			continue
		}
		name := line.name
		if name == "" {
			name = product.Name
		}
		report.Items = append(report.Items, InsufficientItem{
			ProductID:   line.productID,
			VariantID:   line.variantID,
			ProductName: name,
			Requested:   line.quantity,
			Available:   available,
		})
	}
	return report, nil
}

// sellable returns the quantity the channel may sell and whether the product is stock limited at all.
// siblings is what other variants of the product already draw from the channel allocation.
func (g *inventoryGate) sellable(ctx context.Context, tenantID, channel string, product domain.Product, variantID string, siblings int64) (bool, int64, error) {
	if !product.TrackInventory {
		return false, 0, nil
	}
	policy := product.ChannelPolicy(channel)
	if policy.Mode == domain.InventoryModeUnlimited {
		return false, 0, nil
	}
	levels, err := g.inventory.Levels(ctx, tenantID, product.ID, variantID)
	if err != nil {
		return false, 0, translateRepoError(err, nil, nil)
	}
	var total int64
	for _, level := range levels {
		total += level.Sellable()
	}
	if policy.Mode == domain.InventoryModeAllocated {
		total = min(total, max(policy.AllocatedQuantity-siblings, 0))
	}
	return true, total, nil
}

// Deduct applies one SALE event per product variant of the order as a single atomic batch. Replays
// are skipped by the ledger, so calling it twice for the same order is safe.
func (g *inventoryGate) Deduct(ctx context.Context, order domain.Order) error {
	events, err := g.orderEvents(ctx, order, domain.InventoryEventSale, -1)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}
	if err := g.inventory.ApplyEvents(ctx, order.TenantID, events); err != nil {
		if invErr, ok := repositories.AsInventoryError("inventory.deduct", err); ok {
			g.logger(ctx, "inventory.deduct.rejected", map[string]any{
				"orderId":   order.ID,
				"productId": invErr.ProductID,
				"code":      string(invErr.Code),
			})
			return fmt.Errorf("%w: %w", ErrInventoryDeductionFailed, invErr)
		}
		if repositories.IsUnavailable(err) {
			return fmt.Errorf("%w: %w: %v", ErrInventoryDeductionFailed, ErrServiceUnavailable, err)
		}
		return fmt.Errorf("%w: %v", ErrInventoryDeductionFailed, err)
	}
	g.logger(ctx, "inventory.deducted", map[string]any{"orderId": order.ID, "lines": len(events)})
	publishEvent(ctx, g.events, g.logger, OrderEvent{
		Type:        EventInventoryDeducted,
		TenantID:    order.TenantID,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		OccurredAt:  g.now(),
	})
	return nil
}

// Restock returns the order's stock with RESTOCK events keyed to the order.
func (g *inventoryGate) Restock(ctx context.Context, order domain.Order) error {
	events, err := g.orderEvents(ctx, order, domain.InventoryEventRestock, 1)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}
	if err := g.inventory.ApplyEvents(ctx, order.TenantID, events); err != nil {
		return translateRepoError(err, nil, nil)
	}
	g.logger(ctx, "inventory.restocked", map[string]any{"orderId": order.ID, "lines": len(events)})
	return nil
}

// ProcessEvent applies one externally reported stock movement.
func (g *inventoryGate) ProcessEvent(ctx context.Context, tenantID string, event domain.InventoryEvent) error {
	if strings.TrimSpace(tenantID) == "" {
		return repositories.NewInventoryError(repositories.InventoryErrorInvalidEvent, event.ProductID, "tenant id is required", nil)
	}
	if err := repositories.ValidateInventoryEvent(event); err != nil {
		return err
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = g.now()
	}
	if err := g.inventory.ApplyEvents(ctx, tenantID, []domain.InventoryEvent{event}); err != nil {
		if _, ok := repositories.AsInventoryError("inventory.processEvent", err); ok {
			return err
		}
		return translateRepoError(err, nil, nil)
	}
	return nil
}

// orderEvents builds sign*quantity events for the stock-limited lines of the order.
func (g *inventoryGate) orderEvents(ctx context.Context, order domain.Order, eventType domain.InventoryEventType, sign int64) ([]domain.InventoryEvent, error) {
	now := g.now()
	var events []domain.InventoryEvent
	for _, line := range aggregateOrder(order) {
		product, err := g.products.FindByID(ctx, order.TenantID, line.productID)
		if err != nil {
			if repositories.IsNotFound(err) {
				g.logger(ctx, "inventory.product_missing", map[string]any{"orderId": order.ID, "productId": line.productID})
				continue
			}
			return nil, translateRepoError(err, nil, nil)
		}
		if !product.TrackInventory || product.ChannelPolicy(order.Channel).Mode == domain.InventoryModeUnlimited {
			continue
		}
		events = append(events, domain.InventoryEvent{
			ProductID:   line.productID,
			VariantID:   line.variantID,
			Quantity:    sign * line.quantity,
			Type:        eventType,
			ReferenceID: order.ID,
			Channel:     order.Channel,
			OccurredAt:  now,
		})
	}
	return events, nil
}
