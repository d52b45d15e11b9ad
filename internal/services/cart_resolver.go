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

// ReadyCart is a cart that passed resolution together with the reference data it was checked against.
type ReadyCart struct {
	Tenant   domain.Tenant
	Cart     domain.Cart
	Vendors  map[string]domain.Vendor
	Products map[string]domain.Product
	// Coupons holds the promotions behind the cart's coupon codes, keyed by upper-cased code.
	Coupons map[string]domain.Promotion
}

// VendorIDs returns the distinct vendors of the cart in ascending order.
func (r ReadyCart) VendorIDs() []string {
	ids := make([]string, 0, len(r.Vendors))
	for id := range r.Vendors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CartResolverDeps wires the resolver.
type CartResolverDeps struct {
	Carts      repositories.CartRepository
	Vendors    repositories.VendorRepository
	Products   repositories.ProductRepository
	Promotions repositories.PromotionRepository
	Clock      func() time.Time
}

type cartResolver struct {
	carts      repositories.CartRepository
	vendors    repositories.VendorRepository
	products   repositories.ProductRepository
	promotions repositories.PromotionRepository
	now        func() time.Time
}

// NewCartResolver constructs a CartResolver.
func NewCartResolver(deps CartResolverDeps) (CartResolver, error) {
	switch {
	case deps.Carts == nil:
		return nil, errors.New("cart resolver: cart repository is required")
	case deps.Vendors == nil:
		return nil, errors.New("cart resolver: vendor repository is required")
	case deps.Products == nil:
		return nil, errors.New("cart resolver: product repository is required")
	case deps.Promotions == nil:
		return nil, errors.New("cart resolver: promotion repository is required")
	}
	return &cartResolver{
		carts:      deps.Carts,
		vendors:    deps.Vendors,
		products:   deps.Products,
		promotions: deps.Promotions,
		now:        utcClock(deps.Clock),
	}, nil
}

// Resolve loads the active cart under cartKey and reports every blocking conflict in one pass.
func (r *cartResolver) Resolve(ctx context.Context, tenant domain.Tenant, cartKey string) (ReadyCart, error) {
	if strings.TrimSpace(cartKey) == "" {
		return ReadyCart{}, fmt.Errorf("%w: cart key is required", ErrCheckoutInvalidInput)
	}
	cart, err := r.carts.FindByKey(ctx, tenant.ID, cartKey)
	if err != nil {
		return ReadyCart{}, translateRepoError(err, ErrCartNotFound, nil)
	}
	if cart.Status != domain.CartStatusActive {
		return ReadyCart{}, fmt.Errorf("%w: cart is %s", ErrCartNotFound, cart.Status)
	}
	if len(cart.Items) == 0 {
		return ReadyCart{}, ErrCartEmpty
	}

	ready := ReadyCart{
		Tenant:   tenant,
		Cart:     cart,
		Vendors:  map[string]domain.Vendor{},
		Products: map[string]domain.Product{},
		Coupons:  map[string]domain.Promotion{},
	}
	var conflicts []CartConflict
	vendorChecked := map[string]bool{}

	if cart.Currency != "" && !strings.EqualFold(cart.Currency, tenant.Currency) {
		conflicts = append(conflicts, CartConflict{
			Code:    ConflictCurrencyMismatch,
			Message: fmt.Sprintf("cart currency %s does not match store currency %s", cart.Currency, tenant.Currency),
		})
	}

	for _, it := range cart.Items {
		if it.Quantity <= 0 {
			conflicts = append(conflicts, CartConflict{
				Code:      ConflictInvalidQuantity,
				VendorID:  it.VendorID,
				ProductID: it.ProductID,
				Message:   fmt.Sprintf("quantity %d is not valid", it.Quantity),
			})
		}

		if !vendorChecked[it.VendorID] {
			vendorChecked[it.VendorID] = true
			vendor, conflict, err := r.checkVendor(ctx, tenant.ID, it.VendorID)
			if err != nil {
				return ReadyCart{}, err
			}
			if conflict != nil {
				conflicts = append(conflicts, *conflict)
			} else {
				ready.Vendors[vendor.ID] = vendor
			}
		}

		if _, seen := ready.Products[it.ProductID]; seen {
			continue
		}
		product, err := r.products.FindByID(ctx, tenant.ID, it.ProductID)
		switch {
		case repositories.IsNotFound(err):
			conflicts = append(conflicts, productConflict(it, "product no longer exists"))
		case err != nil:
			return ReadyCart{}, translateRepoError(err, nil, nil)
		case !product.Active:
			conflicts = append(conflicts, productConflict(it, "product is no longer for sale"))
		case product.VendorID != it.VendorID:
			conflicts = append(conflicts, productConflict(it, "product changed vendor"))
		default:
			ready.Products[product.ID] = product
		}
	}

	couponConflicts, err := r.checkCoupons(ctx, &ready)
	if err != nil {
		return ReadyCart{}, err
	}
	conflicts = append(conflicts, couponConflicts...)

	if len(conflicts) > 0 {
		return ReadyCart{}, &CartConflictError{Conflicts: conflicts}
	}
	return ready, nil
}

func (r *cartResolver) checkVendor(ctx context.Context, tenantID, vendorID string) (domain.Vendor, *CartConflict, error) {
	vendor, err := r.vendors.FindByID(ctx, tenantID, vendorID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return domain.Vendor{}, &CartConflict{Code: ConflictVendorNotFound, VendorID: vendorID, Message: "vendor not found"}, nil
		}
		return domain.Vendor{}, nil, translateRepoError(err, nil, nil)
	}
	switch {
	case vendor.Status != domain.VendorStatusApproved:
		return vendor, &CartConflict{Code: ConflictVendorNotApproved, VendorID: vendorID, Message: fmt.Sprintf("vendor %s is %s", vendor.Name, strings.ToLower(string(vendor.Status)))}, nil
	case !vendor.Active:
		return vendor, &CartConflict{Code: ConflictVendorInactive, VendorID: vendorID, Message: fmt.Sprintf("vendor %s is not accepting orders", vendor.Name)}, nil
	}
	return vendor, nil, nil
}

// checkCoupons loads the cart's coupons. Vendor promotions must be usable and their vendor present in
// the cart; tenant-wide coupon problems are reported by the evaluator instead.
func (r *cartResolver) checkCoupons(ctx context.Context, ready *ReadyCart) ([]CartConflict, error) {
	if len(ready.Cart.CouponCodes) == 0 {
		return nil, nil
	}
	found, err := r.promotions.FindByCodes(ctx, ready.Tenant.ID, ready.Cart.CouponCodes)
	if err != nil {
		return nil, translateRepoError(err, nil, nil)
	}
	ready.Coupons = found

	inCart := map[string]bool{}
	for _, it := range ready.Cart.Items {
		inCart[it.VendorID] = true
	}
	now := r.now()
	codes := make([]string, 0, len(found))
	for code := range found {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	var conflicts []CartConflict
	for _, code := range codes {
		promo := found[code]
		if promo.VendorID == "" {
			continue
		}
		var msg string
		switch {
		case !inCart[promo.VendorID]:
			msg = "promotion belongs to a vendor with no items in the cart"
		case !promo.ActiveAt(now):
			msg = "vendor promotion is not active"
		case promo.Exhausted():
			msg = "vendor promotion usage limit reached"
		default:
			continue
		}
		conflicts = append(conflicts, CartConflict{
			Code:          ConflictVendorPromotionInvalid,
			VendorID:      promo.VendorID,
			PromotionCode: code,
			Message:       msg,
		})
	}
	return conflicts, nil
}

func productConflict(it domain.CartItem, msg string) CartConflict {
	return CartConflict{
		Code:      ConflictProductUnavailable,
		VendorID:  it.VendorID,
		ProductID: it.ProductID,
		Message:   msg,
	}
}
