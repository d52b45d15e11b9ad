package repositories

import (
	"context"
	"time"

	"github.com/changerplanet/WebWaka2-sub010/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Tenants() TenantRepository
	Vendors() VendorRepository
	Products() ProductRepository
	Inventory() InventoryRepository
	Carts() CartRepository
	Orders() OrderRepository
	Promotions() PromotionRepository
	PaymentPartners() PaymentPartnerRepository
	Counters() CounterRepository
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// TenantRepository resolves tenants. Tenant configuration is owned elsewhere.
type TenantRepository interface {
	FindBySlug(ctx context.Context, slug string) (domain.Tenant, error)
	FindByID(ctx context.Context, tenantID string) (domain.Tenant, error)
}

// VendorRepository resolves marketplace vendors.
type VendorRepository interface {
	FindByID(ctx context.Context, tenantID, vendorID string) (domain.Vendor, error)
}

// ProductRepository resolves catalog entries with their channel stock policy.
type ProductRepository interface {
	FindByID(ctx context.Context, tenantID, productID string) (domain.Product, error)
}

// InventoryRepository reads stock levels and applies signed stock movements.
type InventoryRepository interface {
	// Levels lists per-location stock for a product variant. An empty variant means the base product.
	Levels(ctx context.Context, tenantID, productID, variantID string) ([]domain.InventoryLevel, error)
	// ApplyEvents applies every event or none. Deductions that would take sellable stock below zero
	// fail with an InventoryError coded InventoryErrorInsufficientStock. Events whose Key was already
	// applied are skipped.
	ApplyEvents(ctx context.Context, tenantID string, events []domain.InventoryEvent) error
}

// CartRepository persists carts. Writes are guarded by the cart version.
type CartRepository interface {
	FindByKey(ctx context.Context, tenantID, cartKey string) (domain.Cart, error)
	// Save writes the cart when the stored version equals expectedVersion and returns it with the
	// version bumped. expectedVersion zero creates the cart.
	Save(ctx context.Context, cart domain.Cart, expectedVersion int64) (domain.Cart, error)
	// Clear drops the items and coupons of a converted cart and detaches its session key.
	Clear(ctx context.Context, tenantID, cartID string) error
	// Reopen returns a cart converted by orderID to ACTIVE.
	Reopen(ctx context.Context, tenantID, cartID, orderID string) error
}

// CheckoutRecord is the unit persisted atomically when a cart becomes an order.
type CheckoutRecord struct {
	Order       domain.Order
	CartID      string
	CartVersion int64
}

// OrderRepository persists parent orders together with their sub-orders and line items.
type OrderRepository interface {
	// CreateCheckout inserts the order tree and converts the cart in one transaction. A cart that is no
	// longer ACTIVE at CartVersion yields a conflict error and nothing is written.
	CreateCheckout(ctx context.Context, record CheckoutRecord) (domain.Order, error)
	FindByID(ctx context.Context, tenantID, orderID string) (domain.Order, error)
	FindByPaymentReference(ctx context.Context, provider, reference string) (domain.Order, error)
	// Update replaces the order tree when the stored version equals order.Version and returns it with the
	// version bumped.
	Update(ctx context.Context, order domain.Order) (domain.Order, error)
}

// PromotionRepository lists promotion rules. Usage counters are maintained by an external ledger.
type PromotionRepository interface {
	ListAutomatic(ctx context.Context, tenantID string, at time.Time) ([]domain.Promotion, error)
	// FindByCodes returns promotions keyed by upper-cased code. Unknown codes are absent from the map.
	FindByCodes(ctx context.Context, tenantID string, codes []string) (map[string]domain.Promotion, error)
}

// PaymentPartnerRepository resolves a tenant's payment integration.
type PaymentPartnerRepository interface {
	ActiveForTenant(ctx context.Context, tenantID, capability string) (domain.PaymentPartner, error)
}

// CounterRepository issues monotonically increasing sequence values.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
}

// HealthRepository reports the readiness of storage dependencies.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
