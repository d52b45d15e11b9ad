package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/changerplanet/WebWaka2-sub010/internal/domain"
	"github.com/changerplanet/WebWaka2-sub010/internal/platform/textutil"
	"github.com/changerplanet/WebWaka2-sub010/internal/repositories"
)

const (
	maxItemQuantity = 999
	maxCartLines    = 100
	maxCouponCodes  = 5
	maxCouponLength = 64
	defaultChannel  = "web"
)

// CartMutation is one shopper edit. The set of variants is closed.
type CartMutation interface {
	cartMutation()
}

// AddItem adds a product at its current price, merging with an existing line for the same variant.
type AddItem struct {
	ProductID  string
	VariantID  string
	Quantity   int64
	Channel    string
	CustomerID string
}

// UpdateQuantity sets a line's quantity. Zero removes the line.
type UpdateQuantity struct {
	ItemID   string
	Quantity int64
}

// RemoveItem drops a line.
type RemoveItem struct {
	ItemID string
}

// ApplyCoupon attaches a coupon code.
type ApplyCoupon struct {
	Code string
}

// RemoveCoupon detaches a coupon code.
type RemoveCoupon struct {
	Code string
}

// ClearCart empties the cart.
type ClearCart struct{}

func (AddItem) cartMutation()        {}
func (UpdateQuantity) cartMutation() {}
func (RemoveItem) cartMutation()     {}
func (ApplyCoupon) cartMutation()    {}
func (RemoveCoupon) cartMutation()   {}
func (ClearCart) cartMutation()      {}

// CartServiceDeps wires the cart service.
type CartServiceDeps struct {
	Carts       repositories.CartRepository
	Products    repositories.ProductRepository
	Vendors     repositories.VendorRepository
	Promotions  repositories.PromotionRepository
	Clock       func() time.Time
	IDGenerator func() string
	Logger      Logger
}

type cartService struct {
	carts      repositories.CartRepository
	products   repositories.ProductRepository
	vendors    repositories.VendorRepository
	promotions repositories.PromotionRepository
	now        func() time.Time
	newID      func() string
	logger     Logger
}

// NewCartService constructs the cart service.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	switch {
	case deps.Carts == nil:
		return nil, errors.New("cart service: cart repository is required")
	case deps.Products == nil:
		return nil, errors.New("cart service: product repository is required")
	case deps.Vendors == nil:
		return nil, errors.New("cart service: vendor repository is required")
	case deps.Promotions == nil:
		return nil, errors.New("cart service: promotion repository is required")
	}
	return &cartService{
		carts:      deps.Carts,
		products:   deps.Products,
		vendors:    deps.Vendors,
		promotions: deps.Promotions,
		now:        utcClock(deps.Clock),
		newID:      idGenOrULID(deps.IDGenerator),
		logger:     loggerOrNoop(deps.Logger),
	}, nil
}

// GetCart returns the active cart stored under the key.
func (s *cartService) GetCart(ctx context.Context, tenant domain.Tenant, cartKey string) (domain.Cart, error) {
	cartKey = strings.TrimSpace(cartKey)
	if cartKey == "" {
		return domain.Cart{}, fmt.Errorf("%w: cart key is required", ErrCartInvalidInput)
	}
	cart, err := s.carts.FindByKey(ctx, tenant.ID, cartKey)
	if err != nil {
		return domain.Cart{}, translateRepoError(err, ErrCartNotFound, nil)
	}
	if cart.Status != domain.CartStatusActive {
		return domain.Cart{}, fmt.Errorf("%w: cart is %s", ErrCartNotFound, cart.Status)
	}
	return cart, nil
}

// ApplyMutation applies one edit and saves the cart against the version it was read at.
func (s *cartService) ApplyMutation(ctx context.Context, tenant domain.Tenant, cartKey string, mutation CartMutation) (domain.Cart, error) {
	if mutation == nil {
		return domain.Cart{}, fmt.Errorf("%w: mutation is required", ErrCartInvalidInput)
	}
	cart, err := s.GetCart(ctx, tenant, cartKey)
	switch {
	case err == nil:
	case errors.Is(err, ErrCartNotFound):
		add, ok := mutation.(AddItem)
		if !ok {
			return domain.Cart{}, err
		}
		cart = s.newCart(tenant, strings.TrimSpace(cartKey), add)
	default:
		return domain.Cart{}, err
	}
	expected := cart.Version

	switch m := mutation.(type) {
	case AddItem:
		err = s.addItem(ctx, &cart, m)
	case UpdateQuantity:
		err = updateQuantity(&cart, m)
	case RemoveItem:
		err = removeItem(&cart, m.ItemID)
	case ApplyCoupon:
		err = s.applyCoupon(ctx, &cart, m.Code)
	case RemoveCoupon:
		err = removeCoupon(&cart, m.Code)
	case ClearCart:
		cart.Items = nil
		cart.CouponCodes = nil
	default:
		err = fmt.Errorf("%w: unsupported mutation %T", ErrCartInvalidInput, mutation)
	}
	if err != nil {
		return domain.Cart{}, err
	}

	saved, err := s.carts.Save(ctx, cart, expected)
	if err != nil {
		return domain.Cart{}, translateRepoError(err, ErrCartNotFound, ErrCartConflict)
	}
	s.logger(ctx, "cart.mutated", map[string]any{
		"cartId":   saved.ID,
		"mutation": fmt.Sprintf("%T", mutation),
		"version":  saved.Version,
		"items":    len(saved.Items),
	})
	return saved, nil
}

func (s *cartService) newCart(tenant domain.Tenant, key string, add AddItem) domain.Cart {
	channel := strings.ToLower(strings.TrimSpace(add.Channel))
	if channel == "" {
		channel = defaultChannel
	}
	return domain.Cart{
		ID:         s.newID(),
		TenantID:   tenant.ID,
		Key:        key,
		CustomerID: strings.TrimSpace(add.CustomerID),
		Channel:    channel,
		Currency:   tenant.Currency,
		Status:     domain.CartStatusActive,
	}
}

func (s *cartService) addItem(ctx context.Context, cart *domain.Cart, m AddItem) error {
	productID := strings.TrimSpace(m.ProductID)
	if productID == "" {
		return fmt.Errorf("%w: product id is required", ErrCartInvalidInput)
	}
	if m.Quantity <= 0 || m.Quantity > maxItemQuantity {
		return fmt.Errorf("%w: quantity must be between 1 and %d", ErrCartInvalidInput, maxItemQuantity)
	}
	product, err := s.products.FindByID(ctx, cart.TenantID, productID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return fmt.Errorf("%w: product %q not found", ErrCartInvalidInput, productID)
		}
		return translateRepoError(err, nil, nil)
	}
	if !product.Active {
		return fmt.Errorf("%w: product %q is not for sale", ErrCartInvalidInput, productID)
	}
	vendor, err := s.vendors.FindByID(ctx, cart.TenantID, product.VendorID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return fmt.Errorf("%w: vendor for product %q not found", ErrCartInvalidInput, productID)
		}
		return translateRepoError(err, nil, nil)
	}
	if !vendor.Sellable() {
		return fmt.Errorf("%w: vendor %q is not accepting orders", ErrCartInvalidInput, vendor.ID)
	}

	variantID := strings.TrimSpace(m.VariantID)
	for i := range cart.Items {
		it := &cart.Items[i]
		if it.ProductID != productID || it.VariantID != variantID {
			continue
		}
		if it.Quantity+m.Quantity > maxItemQuantity {
			return fmt.Errorf("%w: quantity must be between 1 and %d", ErrCartInvalidInput, maxItemQuantity)
		}
		it.Quantity += m.Quantity
		return nil
	}
	if len(cart.Items) >= maxCartLines {
		return fmt.Errorf("%w: cart holds at most %d lines", ErrCartInvalidInput, maxCartLines)
	}
	cart.Items = append(cart.Items, domain.CartItem{
		ID:          s.newID(),
		VendorID:    product.VendorID,
		ProductID:   product.ID,
		VariantID:   variantID,
		ProductName: product.Name,
		CategoryIDs: append([]string(nil), product.CategoryIDs...),
		Quantity:    m.Quantity,
		UnitPrice:   product.Price,
		AddedAt:     s.now(),
	})
	return nil
}

func updateQuantity(cart *domain.Cart, m UpdateQuantity) error {
	if m.Quantity < 0 || m.Quantity > maxItemQuantity {
		return fmt.Errorf("%w: quantity must be between 0 and %d", ErrCartInvalidInput, maxItemQuantity)
	}
	if m.Quantity == 0 {
		return removeItem(cart, m.ItemID)
	}
	for i := range cart.Items {
		if cart.Items[i].ID == m.ItemID {
			cart.Items[i].Quantity = m.Quantity
			return nil
		}
	}
	return fmt.Errorf("%w: item %q not in cart", ErrCartInvalidInput, m.ItemID)
}

func removeItem(cart *domain.Cart, itemID string) error {
	for i := range cart.Items {
		if cart.Items[i].ID == itemID {
			cart.Items = append(cart.Items[:i], cart.Items[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: item %q not in cart", ErrCartInvalidInput, itemID)
}

func normaliseCouponCode(raw string) string {
	return strings.ToUpper(textutil.CleanText(raw, maxCouponLength))
}

func (s *cartService) applyCoupon(ctx context.Context, cart *domain.Cart, raw string) error {
	code := normaliseCouponCode(raw)
	if code == "" {
		return fmt.Errorf("%w: coupon code is required", ErrCartInvalidInput)
	}
	for _, existing := range cart.CouponCodes {
		if existing == code {
			return nil
		}
	}
	if len(cart.CouponCodes) >= maxCouponCodes {
		return fmt.Errorf("%w: at most %d coupon codes", ErrCartInvalidInput, maxCouponCodes)
	}
	found, err := s.promotions.FindByCodes(ctx, cart.TenantID, []string{code})
	if err != nil {
		return translateRepoError(err, nil, nil)
	}
	if _, ok := found[code]; !ok {
		return fmt.Errorf("%w: coupon %q not found", ErrCartInvalidInput, code)
	}
	cart.CouponCodes = append(cart.CouponCodes, code)
	return nil
}

func removeCoupon(cart *domain.Cart, raw string) error {
	code := normaliseCouponCode(raw)
	for i, existing := range cart.CouponCodes {
		if existing == code {
			cart.CouponCodes = append(cart.CouponCodes[:i], cart.CouponCodes[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: coupon %q not applied", ErrCartInvalidInput, code)
}
