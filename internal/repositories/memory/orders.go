package memory

import (
	"context"

	"github.com/changerplanet/WebWaka2-sub010/internal/domain"
	"github.com/changerplanet/WebWaka2-sub010/internal/repositories"
)

type cartRepo struct{ s *Store }

func (r cartRepo) FindByKey(_ context.Context, tenantID, cartKey string) (domain.Cart, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	id, ok := r.s.cartKeys[scoped(tenantID, cartKey)]
	if !ok {
		return domain.Cart{}, repositories.NotFound("cart.findByKey", "cart %q not found", cartKey)
	}
	return cloneCart(r.s.carts[id]), nil
}

func (r cartRepo) Save(_ context.Context, cart domain.Cart, expectedVersion int64) (domain.Cart, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	keyIndex := scoped(cart.TenantID, cart.Key)
	stored, exists := r.s.carts[cart.ID]
	switch {
	case expectedVersion == 0 && exists:
		return domain.Cart{}, repositories.Conflict("cart.save", "cart %q already exists", cart.ID)
	case expectedVersion == 0:
		if _, taken := r.s.cartKeys[keyIndex]; taken {
			return domain.Cart{}, repositories.Conflict("cart.save", "cart key %q already in use", cart.Key)
		}
		cart.CreatedAt = r.s.clock()
	case !exists:
		return domain.Cart{}, repositories.NotFound("cart.save", "cart %q not found", cart.ID)
	case stored.Version != expectedVersion:
		return domain.Cart{}, repositories.Conflict("cart.save", "cart %q version %d, expected %d", cart.ID, stored.Version, expectedVersion)
	case stored.Status != domain.CartStatusActive:
		return domain.Cart{}, repositories.Conflict("cart.save", "cart %q is %s", cart.ID, stored.Status)
	}

	cart.Version = expectedVersion + 1
	cart.UpdatedAt = r.s.clock()
	r.s.carts[cart.ID] = cloneCart(cart)
	r.s.cartKeys[keyIndex] = cart.ID
	return cloneCart(cart), nil
}

func (r cartRepo) Clear(_ context.Context, tenantID, cartID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cart, ok := r.s.carts[cartID]
	if !ok || cart.TenantID != tenantID {
		return repositories.NotFound("cart.clear", "cart %q not found", cartID)
	}
	if cart.Status != domain.CartStatusConverted {
		return repositories.Conflict("cart.clear", "cart %q is %s", cartID, cart.Status)
	}
	if r.s.cartKeys[scoped(tenantID, cart.Key)] == cartID {
		delete(r.s.cartKeys, scoped(tenantID, cart.Key))
	}
	cart.Items = nil
	cart.CouponCodes = nil
	cart.Version++
	cart.UpdatedAt = r.s.clock()
	r.s.carts[cartID] = cart
	return nil
}

func (r cartRepo) Reopen(_ context.Context, tenantID, cartID, orderID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cart, ok := r.s.carts[cartID]
	if !ok || cart.TenantID != tenantID {
		return repositories.NotFound("cart.reopen", "cart %q not found", cartID)
	}
	if cart.Status == domain.CartStatusActive && cart.ConvertedOrderID == "" {
		return nil
	}
	if cart.Status != domain.CartStatusConverted || cart.ConvertedOrderID != orderID {
		return repositories.Conflict("cart.reopen", "cart %q not converted by order %q", cartID, orderID)
	}
	if owner, taken := r.s.cartKeys[scoped(tenantID, cart.Key)]; !taken || owner != cartID {
		return repositories.Conflict("cart.reopen", "cart %q was detached from its key", cartID)
	}
	cart.Status = domain.CartStatusActive
	cart.ConvertedOrderID = ""
	cart.Version++
	cart.UpdatedAt = r.s.clock()
	r.s.carts[cartID] = cart
	return nil
}

type orderRepo struct{ s *Store }

func (r orderRepo) CreateCheckout(_ context.Context, record repositories.CheckoutRecord) (domain.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	order := record.Order
	if _, exists := r.s.orders[order.ID]; exists {
		return domain.Order{}, repositories.Conflict("order.createCheckout", "order %q already exists", order.ID)
	}
	cart, ok := r.s.carts[record.CartID]
	if !ok || cart.TenantID != order.TenantID {
		return domain.Order{}, repositories.NotFound("order.createCheckout", "cart %q not found", record.CartID)
	}
	if cart.Status != domain.CartStatusActive || cart.Version != record.CartVersion {
		return domain.Order{}, repositories.Conflict("order.createCheckout", "cart %q is %s at version %d, expected ACTIVE at %d", cart.ID, cart.Status, cart.Version, record.CartVersion)
	}

	now := r.s.clock()
	cart.Status = domain.CartStatusConverted
	cart.ConvertedOrderID = order.ID
	cart.Version++
	cart.UpdatedAt = now

	order.Version = 1
	r.s.carts[cart.ID] = cart
	r.s.orders[order.ID] = cloneOrder(order)
	r.s.indexPayment(order)
	return cloneOrder(order), nil
}

func (r orderRepo) FindByID(_ context.Context, tenantID, orderID string) (domain.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	order, ok := r.s.orders[orderID]
	if !ok || order.TenantID != tenantID {
		return domain.Order{}, repositories.NotFound("order.findByID", "order %q not found", orderID)
	}
	return cloneOrder(order), nil
}

func (r orderRepo) FindByPaymentReference(_ context.Context, provider, reference string) (domain.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	id, ok := r.s.paymentRef[provider+"/"+reference]
	if !ok {
		return domain.Order{}, repositories.NotFound("order.findByPaymentReference", "no order for %s reference %q", provider, reference)
	}
	return cloneOrder(r.s.orders[id]), nil
}

func (r orderRepo) Update(_ context.Context, order domain.Order) (domain.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored, ok := r.s.orders[order.ID]
	if !ok || stored.TenantID != order.TenantID {
		return domain.Order{}, repositories.NotFound("order.update", "order %q not found", order.ID)
	}
	if stored.Version != order.Version {
		return domain.Order{}, repositories.Conflict("order.update", "order %q version %d, expected %d", order.ID, stored.Version, order.Version)
	}
	order.Version++
	r.s.orders[order.ID] = cloneOrder(order)
	r.s.indexPayment(order)
	return cloneOrder(order), nil
}

func (s *Store) indexPayment(order domain.Order) {
	if order.Payment.Reference == "" {
		return
	}
	s.paymentRef[order.Payment.Provider+"/"+order.Payment.Reference] = order.ID
}
