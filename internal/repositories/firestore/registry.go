// Package firestore implements the repository registry on Cloud Firestore.
//
// Layout:
//
//	tenants/{tenantId}
//	tenants/{tenantId}/vendors|products|inventoryLevels|inventoryEvents|carts|cartKeys|promotions|paymentPartners/{id}
//	orders/{orderId}, orders/{orderId}/subOrders/{subOrderId}
//	counters/{counterId}
package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/changerplanet/WebWaka2-sub010/internal/platform/firestore"
	"github.com/changerplanet/WebWaka2-sub010/internal/repositories"
)

const (
	tenantsCollection         = "tenants"
	vendorsCollection         = "vendors"
	productsCollection        = "products"
	levelsCollection          = "inventoryLevels"
	inventoryEventsCollection = "inventoryEvents"
	cartsCollection           = "carts"
	cartKeysCollection        = "cartKeys"
	promotionsCollection      = "promotions"
	partnersCollection        = "paymentPartners"
	ordersCollection          = "orders"
	subOrdersCollection       = "subOrders"
	countersCollection        = "counters"
)

// Registry hands out repositories sharing one provider.
type Registry struct {
	provider *pfirestore.Provider
	clock    func() time.Time
}

var _ repositories.Registry = (*Registry)(nil)

type Option func(*Registry)

func WithClock(clock func() time.Time) Option {
	return func(r *Registry) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// New wraps a provider. The client is dialled lazily on first use.
func New(provider *pfirestore.Provider, opts ...Option) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry: provider is required")
	}
	r := &Registry{provider: provider, clock: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

func (r *Registry) Close(ctx context.Context) error { return r.provider.Close(ctx) }

func (r *Registry) Tenants() repositories.TenantRepository { return tenantRepo{r} }
func (r *Registry) Vendors() repositories.VendorRepository { return vendorRepo{r} }
func (r *Registry) Products() repositories.ProductRepository { return productRepo{r} }
func (r *Registry) Inventory() repositories.InventoryRepository { return inventoryRepo{r} }
func (r *Registry) Carts() repositories.CartRepository { return cartRepo{r} }
func (r *Registry) Orders() repositories.OrderRepository { return orderRepo{r} }
func (r *Registry) Promotions() repositories.PromotionRepository { return promotionRepo{r} }
func (r *Registry) PaymentPartners() repositories.PaymentPartnerRepository { return partnerRepo{r} }
func (r *Registry) Counters() repositories.CounterRepository { return counterRepo{r} }

func (r *Registry) Health() repositories.HealthRepository {
	repo, _ := repositories.NewProbeHealthRepository([]repositories.DependencyProbe{
		{Name: "firestore", Ping: r.provider.Ping},
	}, r.clock)
	return repo
}

func (r *Registry) client(ctx context.Context, op string) (*firestore.Client, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, repositories.Unavailable(op, err)
	}
	return client, nil
}

func tenantDoc(client *firestore.Client, tenantID string) *firestore.DocumentRef {
	return client.Collection(tenantsCollection).Doc(tenantID)
}

func tenantCollection(client *firestore.Client, tenantID, name string) *firestore.CollectionRef {
	return tenantDoc(client, tenantID).Collection(name)
}
