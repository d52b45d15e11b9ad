package services

import (
	"context"
	"testing"

	"github.com/changerplanet/WebWaka2-sub010/internal/domain"
	"github.com/changerplanet/WebWaka2-sub010/internal/repositories/memory"
)

func testTenant() domain.Tenant {
	return domain.Tenant{ID: "t1", Slug: "acme", Name: "Acme", Currency: "NGN", Locale: "en-NG", TaxRate: money("7.5")}
}

// seedMarketplace stocks two approved vendors with one tracked product each.
func seedMarketplace(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.NewStore(memory.WithClock(fixedNow))
	store.PutTenant(testTenant())
	store.PutVendor(domain.Vendor{ID: "v1", TenantID: "t1", Name: "Kola Crafts", Status: domain.VendorStatusApproved, Active: true, ShippingFee: money("500")})
	store.PutVendor(domain.Vendor{ID: "v2", TenantID: "t1", Name: "Ada Textiles", Status: domain.VendorStatusApproved, Active: true, ShippingFee: money("700")})
	store.PutProduct(domain.Product{ID: "p1", TenantID: "t1", VendorID: "v1", Name: "Bead Necklace", Price: money("2000"), Active: true, TrackInventory: true, CategoryIDs: []string{"jewellery"}})
	store.PutProduct(domain.Product{ID: "p2", TenantID: "t1", VendorID: "v2", Name: "Adire Scarf", Price: money("5000"), Active: true, TrackInventory: true, CategoryIDs: []string{"textiles"}})
	store.PutLevel("t1", domain.InventoryLevel{ProductID: "p1", LocationID: "lagos", Available: 10})
	store.PutLevel("t1", domain.InventoryLevel{ProductID: "p2", LocationID: "lagos", Available: 10})
	return store
}

// seedCart saves an active cart under key "sess-1" holding one p1 at 2000 and one p2 at 5000.
func seedCart(t *testing.T, store *memory.Store, coupons ...string) domain.Cart {
	t.Helper()
	cart, err := store.Carts().Save(context.Background(), domain.Cart{
		ID:          "cart_1",
		TenantID:    "t1",
		Key:         "sess-1",
		Channel:     "web",
		Currency:    "NGN",
		Status:      domain.CartStatusActive,
		CouponCodes: coupons,
		Items: []domain.CartItem{
			{ID: "ci_1", VendorID: "v1", ProductID: "p1", ProductName: "Bead Necklace", Quantity: 1, UnitPrice: money("2000"), CategoryIDs: []string{"jewellery"}},
			{ID: "ci_2", VendorID: "v2", ProductID: "p2", ProductName: "Adire Scarf", Quantity: 1, UnitPrice: money("5000"), CategoryIDs: []string{"textiles"}},
		},
	}, 0)
	if err != nil {
		t.Fatalf("seed cart: %v", err)
	}
	return cart
}

type recordingPublisher struct {
	events []OrderEvent
}

func (p *recordingPublisher) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types() []string {
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

func sequentialIDs(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return prefix + string(rune('a'+n-1))
	}
}
