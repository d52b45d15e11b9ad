package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tenant is a storefront operator. Only the fields the checkout pipeline reads are modelled.
type Tenant struct {
	ID       string
	Slug     string
	Name     string
	Currency string
	Locale   string
	// Demo tenants skip the payment gateway availability probe.
	Demo     bool
	TaxRate  decimal.Decimal
	Features map[string]bool
}

// FeatureEnabled reports whether the named tenant feature flag is on.
func (t Tenant) FeatureEnabled(name string) bool {
	if t.Features == nil {
		return false
	}
	return t.Features[name]
}

// VendorStatus captures marketplace approval state.
type VendorStatus string

const (
	VendorStatusApproved  VendorStatus = "APPROVED"
	VendorStatusPending   VendorStatus = "PENDING"
	VendorStatusSuspended VendorStatus = "SUSPENDED"
	VendorStatusRejected  VendorStatus = "REJECTED"
)

// Vendor sells products through a tenant marketplace.
type Vendor struct {
	ID          string
	TenantID    string
	Name        string
	Status      VendorStatus
	Active      bool
	ShippingFee decimal.Decimal
}

// Sellable reports whether the vendor may take part in a checkout.
func (v Vendor) Sellable() bool {
	return v.Active && v.Status == VendorStatusApproved
}

// InventoryMode controls how much stock a sales channel can see.
type InventoryMode string

const (
	// InventoryModeUnlimited never restricts sales on the channel.
	InventoryModeUnlimited InventoryMode = "UNLIMITED"
	// InventoryModeAllocated caps the channel at a ring-fenced allocation.
	InventoryModeAllocated InventoryMode = "ALLOCATED"
	// InventoryModeTotal exposes the full stock across locations.
	InventoryModeTotal InventoryMode = "TOTAL"
)

// ChannelInventory is the per-channel stock policy of a product.
type ChannelInventory struct {
	Mode              InventoryMode
	AllocatedQuantity int64
}

// Product is a vendor catalog entry.
type Product struct {
	ID             string
	TenantID       string
	VendorID       string
	Name           string
	CategoryIDs    []string
	Price          decimal.Decimal
	Active         bool
	TrackInventory bool
	Channels       map[string]ChannelInventory
}

// ChannelPolicy returns the inventory policy for the channel, defaulting to total-stock tracking.
func (p Product) ChannelPolicy(channel string) ChannelInventory {
	if policy, ok := p.Channels[channel]; ok && policy.Mode != "" {
		return policy
	}
	return ChannelInventory{Mode: InventoryModeTotal}
}

// InventoryLevel tracks stock of one product variant at one location.
type InventoryLevel struct {
	ProductID  string
	VariantID  string
	LocationID string
	Available  int64
	Reserved   int64
	UpdatedAt  time.Time
}

// Sellable is the quantity not held by reservations.
func (l InventoryLevel) Sellable() int64 {
	if l.Available-l.Reserved < 0 {
		return 0
	}
	return l.Available - l.Reserved
}

// InventoryEventType labels a stock movement.
type InventoryEventType string

const (
	InventoryEventSale       InventoryEventType = "SALE"
	InventoryEventRestock    InventoryEventType = "RESTOCK"
	InventoryEventAdjustment InventoryEventType = "ADJUSTMENT"
)

// InventoryEvent is a signed stock movement. Negative quantities deduct.
type InventoryEvent struct {
	ProductID   string
	VariantID   string
	Quantity    int64
	Type        InventoryEventType
	ReferenceID string
	Channel     string
	OccurredAt  time.Time
}

// Key identifies the event for replay detection.
func (e InventoryEvent) Key() string {
	variant := e.VariantID
	if variant == "" {
		variant = "-"
	}
	return e.ReferenceID + ":" + string(e.Type) + ":" + e.ProductID + ":" + variant
}

// CartStatus tracks cart conversion.
type CartStatus string

const (
	CartStatusActive    CartStatus = "ACTIVE"
	CartStatusConverted CartStatus = "CONVERTED"
	CartStatusAbandoned CartStatus = "ABANDONED"
)

// Cart is a shared multi-vendor basket keyed by an opaque session key.
type Cart struct {
	ID               string
	TenantID         string
	Key              string
	CustomerID       string
	Channel          string
	Currency         string
	Status           CartStatus
	Version          int64
	Items            []CartItem
	CouponCodes      []string
	ConvertedOrderID string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// CartItem holds a price snapshot taken when the item was added.
type CartItem struct {
	ID          string
	VendorID    string
	ProductID   string
	VariantID   string
	ProductName string
	CategoryIDs []string
	Quantity    int64
	UnitPrice   decimal.Decimal
	AddedAt     time.Time
}

// LineTotal is the unrounded quantity times unit price.
func (i CartItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(i.Quantity))
}

// OrderStatus enumerates lifecycle states shared by orders and sub-orders.
type OrderStatus string

const (
	OrderStatusDraft      OrderStatus = "DRAFT"
	OrderStatusPlaced     OrderStatus = "PLACED"
	OrderStatusPaid       OrderStatus = "PAID"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusShipped    OrderStatus = "SHIPPED"
	OrderStatusDelivered  OrderStatus = "DELIVERED"
	OrderStatusFulfilled  OrderStatus = "FULFILLED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
	OrderStatusRefunded   OrderStatus = "REFUNDED"
)

// PaymentStatus tracks the payment leg of an order.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusInitiated PaymentStatus = "INITIATED"
	PaymentStatusPaid      PaymentStatus = "PAID"
	PaymentStatusFailed    PaymentStatus = "FAILED"
	PaymentStatusRefunded  PaymentStatus = "REFUNDED"
)

// PaymentMethod is chosen by the customer at checkout.
type PaymentMethod string

const (
	PaymentMethodCOD          PaymentMethod = "COD"
	PaymentMethodCard         PaymentMethod = "CARD"
	PaymentMethodBankTransfer PaymentMethod = "BANK_TRANSFER"
)

// Valid reports whether the method is known.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCOD, PaymentMethodCard, PaymentMethodBankTransfer:
		return true
	default:
		return false
	}
}

// Address is a postal address captured at checkout.
type Address struct {
	Recipient  string
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
	Phone      string
}

// Customer identifies the buyer.
type Customer struct {
	ID    string
	Email string
	Name  string
	Phone string
}

// OrderPayment records the gateway leg of an order.
type OrderPayment struct {
	PartnerID        string
	Provider         string
	Reference        string
	TransactionID    string
	AuthorizationURL string
}

// StatusTimestamps are stamped when a lifecycle state is entered.
type StatusTimestamps struct {
	PaidAt      *time.Time
	ShippedAt   *time.Time
	DeliveredAt *time.Time
	CancelledAt *time.Time
	RefundedAt  *time.Time
}

// Order is the parent record of one checkout.
type Order struct {
	ID                  string
	TenantID            string
	OrderNumber         string
	CartID              string
	Channel             string
	Customer            Customer
	ShippingAddress     Address
	BillingAddress      *Address
	PaymentMethod       PaymentMethod
	Currency            string
	Subtotal            decimal.Decimal
	DiscountTotal       decimal.Decimal
	ShippingTotal       decimal.Decimal
	TaxTotal            decimal.Decimal
	GrandTotal          decimal.Decimal
	AppliedPromotions   []AppliedPromotion
	Status              OrderStatus
	PaymentStatus       PaymentStatus
	Payment             OrderPayment
	InventoryDeductedAt *time.Time
	SubOrders           []SubOrder
	StatusTimestamps
	CancellationReason string
	RefundReason       string
	Version            int64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Items flattens the line items of every sub-order.
func (o Order) Items() []OrderLineItem {
	var items []OrderLineItem
	for _, sub := range o.SubOrders {
		items = append(items, sub.Items...)
	}
	return items
}

// SubOrder is the slice of an order fulfilled by one vendor.
type SubOrder struct {
	ID       string
	OrderID  string
	VendorID string
	Number   string
	Items    []OrderLineItem
	Subtotal decimal.Decimal
	Status   OrderStatus
	StatusTimestamps
	CancellationReason string
	RefundReason       string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// OrderLineItem is a cart item frozen into a sub-order.
type OrderLineItem struct {
	ID          string
	ProductID   string
	VariantID   string
	ProductName string
	Quantity    int64
	UnitPrice   decimal.Decimal
	LineTotal   decimal.Decimal
}

// PromotionType is the discount shape of a promotion.
type PromotionType string

const (
	PromotionTypePercentage   PromotionType = "PERCENTAGE"
	PromotionTypeFixedAmount  PromotionType = "FIXED_AMOUNT"
	PromotionTypeFixedPerItem PromotionType = "FIXED_PER_ITEM"
	PromotionTypeFreeShipping PromotionType = "FREE_SHIPPING"
	PromotionTypeBuyXGetY     PromotionType = "BUY_X_GET_Y"
)

// Promotion is a tenant-scoped discount rule, either automatic or redeemed by code.
type Promotion struct {
	ID                  string
	TenantID            string
	VendorID            string
	Name                string
	Code                string
	Automatic           bool
	Active              bool
	Type                PromotionType
	DiscountValue       decimal.Decimal
	MaxDiscount         *decimal.Decimal
	MinOrderTotal       *decimal.Decimal
	MinQuantity         int64
	ProductIDs          []string
	CategoryIDs         []string
	ExcludedProductIDs  []string
	ExcludedCategoryIDs []string
	CustomerIDs         []string
	FirstOrderOnly      bool
	UsageLimit          *int64
	UsageCount          int64
	StartsAt            *time.Time
	EndsAt              *time.Time
	Priority            int
	Stackable           bool
	BuyQuantity         int64
	GetQuantity         int64
	GetDiscountPercent  decimal.Decimal
}

// ActiveAt reports whether the promotion is enabled and inside its date window.
func (p Promotion) ActiveAt(now time.Time) bool {
	if !p.Active {
		return false
	}
	if p.StartsAt != nil && now.Before(*p.StartsAt) {
		return false
	}
	if p.EndsAt != nil && now.After(*p.EndsAt) {
		return false
	}
	return true
}

// Exhausted reports whether the usage limit has been reached.
func (p Promotion) Exhausted() bool {
	return p.UsageLimit != nil && p.UsageCount >= *p.UsageLimit
}

// AppliedPromotion is the result of one promotion against one cart.
type AppliedPromotion struct {
	PromotionID      string
	Code             string
	Name             string
	Type             PromotionType
	Amount           decimal.Decimal
	FreeShipping     bool
	ShippingDiscount decimal.Decimal
	EligibleItemIDs  []string
}

// PaymentCapability flags what a partner integration can do.
const PaymentCapabilityPayments = "PAYMENTS"

// PaymentPartner is a tenant's configured payment integration.
type PaymentPartner struct {
	ID           string
	TenantID     string
	Provider     string
	AccountID    string
	Active       bool
	Capabilities []string
}

// Supports reports whether the partner has the capability.
func (p PaymentPartner) Supports(capability string) bool {
	for _, c := range p.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}
