// Package memory is a process-local repository backend for tests and local development.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/changerplanet/WebWaka2-sub010/internal/domain"
	"github.com/changerplanet/WebWaka2-sub010/internal/repositories"
)

// Store holds every collection behind one mutex so multi-collection writes are atomic.
type Store struct {
	mu    sync.Mutex
	clock func() time.Time

	tenants    map[string]domain.Tenant
	vendors    map[string]domain.Vendor
	products   map[string]domain.Product
	levels     map[string][]domain.InventoryLevel
	applied    map[string]struct{}
	carts      map[string]domain.Cart
	cartKeys   map[string]string
	orders     map[string]domain.Order
	paymentRef map[string]string
	promotions map[string]domain.Promotion
	partners   map[string]domain.PaymentPartner
	counters   map[string]int64
}

var _ repositories.Registry = (*Store)(nil)

// Option customises the store.
type Option func(*Store)

// WithClock overrides the timestamp source.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewStore returns an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		clock:      func() time.Time { return time.Now().UTC() },
		tenants:    map[string]domain.Tenant{},
		vendors:    map[string]domain.Vendor{},
		products:   map[string]domain.Product{},
		levels:     map[string][]domain.InventoryLevel{},
		applied:    map[string]struct{}{},
		carts:      map[string]domain.Cart{},
		cartKeys:   map[string]string{},
		orders:     map[string]domain.Order{},
		paymentRef: map[string]string{},
		promotions: map[string]domain.Promotion{},
		partners:   map[string]domain.PaymentPartner{},
		counters:   map[string]int64{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *Store) Close(context.Context) error { return nil }

func (s *Store) Tenants() repositories.TenantRepository { return tenantRepo{s} }
func (s *Store) Vendors() repositories.VendorRepository { return vendorRepo{s} }
func (s *Store) Products() repositories.ProductRepository { return productRepo{s} }
func (s *Store) Inventory() repositories.InventoryRepository { return inventoryRepo{s} }
func (s *Store) Carts() repositories.CartRepository { return cartRepo{s} }
func (s *Store) Orders() repositories.OrderRepository { return orderRepo{s} }
func (s *Store) Promotions() repositories.PromotionRepository { return promotionRepo{s} }
func (s *Store) PaymentPartners() repositories.PaymentPartnerRepository { return partnerRepo{s} }
func (s *Store) Counters() repositories.CounterRepository { return counterRepo{s} }

func (s *Store) Health() repositories.HealthRepository {
	repo, _ := repositories.NewProbeHealthRepository([]repositories.DependencyProbe{
		{Name: "memory", Ping: func(context.Context) error { return nil }},
	}, s.clock)
	return repo
}

// Seeding helpers. Reference data is owned by other systems, so these exist for tests and local runs.

func (s *Store) PutTenant(t domain.Tenant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants[t.ID] = t
}

func (s *Store) PutVendor(v domain.Vendor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vendors[scoped(v.TenantID, v.ID)] = v
}

func (s *Store) PutProduct(p domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[scoped(p.TenantID, p.ID)] = cloneProduct(p)
}

func (s *Store) PutLevel(tenantID string, level domain.InventoryLevel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := levelKey(tenantID, level.ProductID, level.VariantID)
	levels := s.levels[key]
	for i := range levels {
		if levels[i].LocationID == level.LocationID {
			levels[i] = level
			return
		}
	}
	s.levels[key] = append(levels, level)
}

func (s *Store) PutPromotion(p domain.Promotion) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.promotions[scoped(p.TenantID, p.ID)] = p
}

func (s *Store) PutPartner(p domain.PaymentPartner) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.partners[scoped(p.TenantID, p.ID)] = p
}

// SellableStock sums sellable quantity across locations.
func (s *Store) SellableStock(tenantID, productID, variantID string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, l := range s.levels[levelKey(tenantID, productID, variantID)] {
		total += l.Sellable()
	}
	return total
}

func scoped(tenantID, id string) string {
	return tenantID + "/" + id
}

func levelKey(tenantID, productID, variantID string) string {
	return tenantID + "/" + productID + "/" + variantID
}

type tenantRepo struct{ s *Store }

func (r tenantRepo) FindBySlug(_ context.Context, slug string) (domain.Tenant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, t := range r.s.tenants {
		if strings.EqualFold(t.Slug, slug) {
			return t, nil
		}
	}
	return domain.Tenant{}, repositories.NotFound("tenant.findBySlug", "tenant %q not found", slug)
}

func (r tenantRepo) FindByID(_ context.Context, tenantID string) (domain.Tenant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tenants[tenantID]
	if !ok {
		return domain.Tenant{}, repositories.NotFound("tenant.findByID", "tenant %q not found", tenantID)
	}
	return t, nil
}

type vendorRepo struct{ s *Store }

func (r vendorRepo) FindByID(_ context.Context, tenantID, vendorID string) (domain.Vendor, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	v, ok := r.s.vendors[scoped(tenantID, vendorID)]
	if !ok {
		return domain.Vendor{}, repositories.NotFound("vendor.findByID", "vendor %q not found", vendorID)
	}
	return v, nil
}

type productRepo struct{ s *Store }

func (r productRepo) FindByID(_ context.Context, tenantID, productID string) (domain.Product, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.products[scoped(tenantID, productID)]
	if !ok {
		return domain.Product{}, repositories.NotFound("product.findByID", "product %q not found", productID)
	}
	return cloneProduct(p), nil
}

type inventoryRepo struct{ s *Store }

func (r inventoryRepo) Levels(_ context.Context, tenantID, productID, variantID string) ([]domain.InventoryLevel, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	levels := append([]domain.InventoryLevel(nil), r.s.levels[levelKey(tenantID, productID, variantID)]...)
	sort.Slice(levels, func(i, j int) bool { return levels[i].LocationID < levels[j].LocationID })
	return levels, nil
}

func (r inventoryRepo) ApplyEvents(_ context.Context, tenantID string, events []domain.InventoryEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	// Stage every change first so a failing event leaves the store untouched.
	stagedLevels := map[string][]domain.InventoryLevel{}
	stagedProducts := map[string]domain.Product{}
	stagedKeys := map[string]struct{}{}

	for _, event := range events {
		if err := repositories.ValidateInventoryEvent(event); err != nil {
			return err
		}
		eventKey := scoped(tenantID, event.Key())
		if _, done := r.s.applied[eventKey]; done {
			continue
		}
		if _, dup := stagedKeys[eventKey]; dup {
			continue
		}

		lk := levelKey(tenantID, event.ProductID, event.VariantID)
		current, ok := stagedLevels[lk]
		if !ok {
			current = r.s.levels[lk]
		}
		next, err := repositories.ApplyToLevels(current, event)
		if err != nil {
			return err
		}
		stagedLevels[lk] = next

		pk := scoped(tenantID, event.ProductID)
		product, ok := stagedProducts[pk]
		if !ok {
			product = r.s.products[pk]
		}
		if updated, changed, err := repositories.ApplyToChannel(product, event); err != nil {
			return err
		} else if changed {
			stagedProducts[pk] = updated
		}
		stagedKeys[eventKey] = struct{}{}
	}

	for k, v := range stagedLevels {
		r.s.levels[k] = v
	}
	for k, v := range stagedProducts {
		r.s.products[k] = v
	}
	for k := range stagedKeys {
		r.s.applied[k] = struct{}{}
	}
	return nil
}

type promotionRepo struct{ s *Store }

func (r promotionRepo) ListAutomatic(_ context.Context, tenantID string, _ time.Time) ([]domain.Promotion, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Promotion
	for _, p := range r.s.promotions {
		if p.TenantID == tenantID && p.Automatic && p.Active {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r promotionRepo) FindByCodes(_ context.Context, tenantID string, codes []string) (map[string]domain.Promotion, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	wanted := map[string]struct{}{}
	for _, c := range codes {
		wanted[strings.ToUpper(strings.TrimSpace(c))] = struct{}{}
	}
	out := map[string]domain.Promotion{}
	for _, p := range r.s.promotions {
		code := strings.ToUpper(p.Code)
		if p.TenantID != tenantID || code == "" {
			continue
		}
		if _, ok := wanted[code]; ok {
			out[code] = p
		}
	}
	return out, nil
}

type partnerRepo struct{ s *Store }

func (r partnerRepo) ActiveForTenant(_ context.Context, tenantID, capability string) (domain.PaymentPartner, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var candidates []domain.PaymentPartner
	for _, p := range r.s.partners {
		if p.TenantID == tenantID && p.Active && p.Supports(capability) {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return domain.PaymentPartner{}, repositories.NotFound("paymentPartner.active", "no active %s partner for tenant %q", capability, tenantID)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })
	return candidates[0], nil
}

type counterRepo struct{ s *Store }

func (r counterRepo) Next(_ context.Context, counterID string, step int64) (int64, error) {
	if err := repositories.ValidateCounterStep(counterID, step); err != nil {
		return 0, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.counters[counterID] += step
	return r.s.counters[counterID], nil
}
