package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/changerplanet/WebWaka2-sub010/internal/domain"
	"github.com/changerplanet/WebWaka2-sub010/internal/repositories"
)

const (
	defaultOrderNumberPrefix = "ORD"
	orderCounterID           = "orders"
)

// OrderTotals are the rounded amounts frozen onto the parent order.
type OrderTotals struct {
	Subtotal decimal.Decimal
	Discount decimal.Decimal
	Shipping decimal.Decimal
	Tax      decimal.Decimal
	Grand    decimal.Decimal
}

// DecompositionInput is a resolved, stock-checked and priced cart ready to become an order.
type DecompositionInput struct {
	Tenant            domain.Tenant
	Cart              domain.Cart
	Customer          domain.Customer
	ShippingAddress   domain.Address
	BillingAddress    *domain.Address
	PaymentMethod     domain.PaymentMethod
	Totals            OrderTotals
	AppliedPromotions []domain.AppliedPromotion
}

// OrderServiceDeps wires the order service.
type OrderServiceDeps struct {
	Orders       repositories.OrderRepository
	Counters     repositories.CounterRepository
	Inventory    InventoryService
	Events       EventPublisher
	Clock        func() time.Time
	IDGenerator  func() string
	Logger       Logger
	NumberPrefix string
}

type orderService struct {
	orders    repositories.OrderRepository
	counters  repositories.CounterRepository
	inventory InventoryService
	events    EventPublisher
	now       func() time.Time
	newID     func() string
	logger    Logger
	prefix    string
}

// CancelOption adjusts the order while it is being cancelled.
type CancelOption func(*domain.Order)

// WithPaymentStatus records the payment outcome alongside the cancellation.
func WithPaymentStatus(status domain.PaymentStatus) CancelOption {
	return func(o *domain.Order) {
		o.PaymentStatus = status
	}
}

// NewOrderService constructs the order decomposition engine.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	switch {
	case deps.Orders == nil:
		return nil, errors.New("order service: order repository is required")
	case deps.Counters == nil:
		return nil, errors.New("order service: counter repository is required")
	case deps.Inventory == nil:
		return nil, errors.New("order service: inventory service is required")
	}
	prefix := strings.ToUpper(strings.TrimSpace(deps.NumberPrefix))
	if prefix == "" {
		prefix = defaultOrderNumberPrefix
	}
	return &orderService{
		orders:    deps.Orders,
		counters:  deps.Counters,
		inventory: deps.Inventory,
		events:    publisherOrNoop(deps.Events),
		now:       utcClock(deps.Clock),
		newID:     idGenOrULID(deps.IDGenerator),
		logger:    loggerOrNoop(deps.Logger),
		prefix:    prefix,
	}, nil
}

// CreateOrder splits the cart into one sub-order per vendor and stores the tree while converting the
// cart. Losing the conversion race persists nothing.
func (s *orderService) CreateOrder(ctx context.Context, input DecompositionInput) (domain.Order, error) {
	if input.Tenant.ID == "" || input.Cart.ID == "" {
		return domain.Order{}, fmt.Errorf("%w: tenant and cart are required", ErrOrderInvalidInput)
	}
	if len(input.Cart.Items) == 0 {
		return domain.Order{}, ErrCartEmpty
	}
	if !input.PaymentMethod.Valid() {
		return domain.Order{}, fmt.Errorf("%w: unsupported payment method %q", ErrOrderInvalidInput, input.PaymentMethod)
	}

	now := s.now()
	seq, err := s.counters.Next(ctx, orderCounterID, 1)
	if err != nil {
		return domain.Order{}, translateRepoError(err, nil, nil)
	}
	orderID := s.newID()
	number := fmt.Sprintf("%s-%04d-%06d", s.prefix, now.Year(), seq)

	currency := input.Cart.Currency
	if currency == "" {
		currency = input.Tenant.Currency
	}
	order := domain.Order{
		ID:                orderID,
		TenantID:          input.Tenant.ID,
		OrderNumber:       number,
		CartID:            input.Cart.ID,
		Channel:           input.Cart.Channel,
		Customer:          input.Customer,
		ShippingAddress:   input.ShippingAddress,
		BillingAddress:    input.BillingAddress,
		PaymentMethod:     input.PaymentMethod,
		Currency:          strings.ToUpper(currency),
		DiscountTotal:     domain.RoundMoney(input.Totals.Discount),
		ShippingTotal:     domain.RoundMoney(input.Totals.Shipping),
		TaxTotal:          domain.RoundMoney(input.Totals.Tax),
		GrandTotal:        domain.RoundMoney(input.Totals.Grand),
		AppliedPromotions: input.AppliedPromotions,
		Status:            domain.OrderStatusPlaced,
		PaymentStatus:     domain.PaymentStatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	order.SubOrders = s.splitByVendor(orderID, number, input.Cart.Items, now)
	order.Subtotal = decimal.Zero
	for _, sub := range order.SubOrders {
		order.Subtotal = order.Subtotal.Add(sub.Subtotal)
	}

	created, err := s.orders.CreateCheckout(ctx, repositories.CheckoutRecord{
		Order:       order,
		CartID:      input.Cart.ID,
		CartVersion: input.Cart.Version,
	})
	if err != nil {
		return domain.Order{}, translateRepoError(err, ErrCartNotFound, ErrCartAlreadyConverted)
	}

	s.logger(ctx, "order.created", map[string]any{
		"orderId":     created.ID,
		"orderNumber": created.OrderNumber,
		"subOrders":   len(created.SubOrders),
		"grandTotal":  domain.FormatMoney(created.GrandTotal),
	})
	publishEvent(ctx, s.events, s.logger, OrderEvent{
		Type:        EventOrderCreated,
		TenantID:    created.TenantID,
		OrderID:     created.ID,
		OrderNumber: created.OrderNumber,
		Status:      string(created.Status),
		OccurredAt:  now,
	})
	return created, nil
}

func (s *orderService) splitByVendor(orderID, number string, items []domain.CartItem, now time.Time) []domain.SubOrder {
	byVendor := map[string][]domain.CartItem{}
	for _, it := range items {
		byVendor[it.VendorID] = append(byVendor[it.VendorID], it)
	}
	vendors := make([]string, 0, len(byVendor))
	for id := range byVendor {
		vendors = append(vendors, id)
	}
	sort.Strings(vendors)

	subs := make([]domain.SubOrder, 0, len(vendors))
	for i, vendorID := range vendors {
		sub := domain.SubOrder{
			ID:        s.newID(),
			OrderID:   orderID,
			VendorID:  vendorID,
			Number:    fmt.Sprintf("%s-%02d", number, i+1),
			Subtotal:  decimal.Zero,
			Status:    domain.OrderStatusPlaced,
			CreatedAt: now,
			UpdatedAt: now,
		}
		for _, it := range byVendor[vendorID] {
			line := domain.OrderLineItem{
				ID:          it.ID,
				ProductID:   it.ProductID,
				VariantID:   it.VariantID,
				ProductName: it.ProductName,
				Quantity:    it.Quantity,
				UnitPrice:   it.UnitPrice,
				LineTotal:   domain.RoundMoney(it.LineTotal()),
			}
			if line.ID == "" {
				line.ID = s.newID()
			}
			sub.Items = append(sub.Items, line)
			sub.Subtotal = sub.Subtotal.Add(line.LineTotal)
		}
		subs = append(subs, sub)
	}
	return subs
}

// CancelOrder cancels the order and every live sub-order, returning deducted stock. Cancelling an
// already cancelled order returns it unchanged.
func (s *orderService) CancelOrder(ctx context.Context, tenantID, orderID, reason string, opts ...CancelOption) (domain.Order, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return domain.Order{}, fmt.Errorf("%w: cancellation requires a reason", ErrReasonRequired)
	}
	order, err := s.GetOrder(ctx, tenantID, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if order.Status == domain.OrderStatusCancelled {
		return order, nil
	}

	now := s.now()
	previous := order.Status
	if err := Transition(&order, domain.OrderStatusCancelled, reason, now); err != nil {
		return domain.Order{}, err
	}
	for i := range order.SubOrders {
		if IsTerminal(order.SubOrders[i].Status) {
			continue
		}
		if err := TransitionSub(&order.SubOrders[i], domain.OrderStatusCancelled, reason, now); err != nil {
			return domain.Order{}, err
		}
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&order)
		}
	}

	if order.InventoryDeductedAt != nil {
		if err := s.inventory.Restock(ctx, order); err != nil {
			return domain.Order{}, err
		}
	}

	saved, err := s.orders.Update(ctx, order)
	if err != nil {
		return domain.Order{}, translateRepoError(err, ErrOrderNotFound, ErrOrderConflict)
	}

	s.logger(ctx, "order.cancelled", map[string]any{
		"orderId":        saved.ID,
		"previousStatus": string(previous),
		"reason":         reason,
		"restocked":      saved.InventoryDeductedAt != nil,
	})
	publishEvent(ctx, s.events, s.logger, OrderEvent{
		Type:           EventOrderCancelled,
		TenantID:       saved.TenantID,
		OrderID:        saved.ID,
		OrderNumber:    saved.OrderNumber,
		Status:         string(saved.Status),
		PreviousStatus: string(previous),
		Reason:         reason,
		OccurredAt:     now,
	})
	return saved, nil
}

// GetOrder loads one order with its sub-orders.
func (s *orderService) GetOrder(ctx context.Context, tenantID, orderID string) (domain.Order, error) {
	if strings.TrimSpace(tenantID) == "" || strings.TrimSpace(orderID) == "" {
		return domain.Order{}, fmt.Errorf("%w: tenant and order id are required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, tenantID, orderID)
	if err != nil {
		return domain.Order{}, translateRepoError(err, ErrOrderNotFound, nil)
	}
	return order, nil
}
