package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"github.com/changerplanet/WebWaka2-sub010/internal/domain"
	"github.com/changerplanet/WebWaka2-sub010/internal/platform/textutil"
	"github.com/changerplanet/WebWaka2-sub010/internal/repositories"
)

const (
	maxNameLength    = 120
	maxAddressLength = 200
	maxPhoneLength   = 32
)

// ValidateCommand checks whether the cart under CartKey can be checked out.
type ValidateCommand struct {
	Tenant  domain.Tenant
	CartKey string
}

// ValidationResult lists everything that blocks checkout. Valid is true only when both lists are empty.
type ValidationResult struct {
	Cart         domain.Cart
	Valid        bool
	Conflicts    []CartConflict
	Insufficient []InsufficientItem
}

// QuoteCommand prices the cart without side effects.
type QuoteCommand struct {
	Tenant     domain.Tenant
	CartKey    string
	CustomerID string
	FirstOrder bool
}

// VendorQuote is one vendor's share of a quote.
type VendorQuote struct {
	VendorID   string
	VendorName string
	Items      int
	Subtotal   decimal.Decimal
	Shipping   decimal.Decimal
}

// Quote holds amounts rounded for display.
type Quote struct {
	CartID        string
	Currency      string
	Subtotal      decimal.Decimal
	DiscountTotal decimal.Decimal
	ShippingTotal decimal.Decimal
	TaxTotal      decimal.Decimal
	GrandTotal    decimal.Decimal
	FreeShipping  bool
	Applied       []domain.AppliedPromotion
	CouponErrors  []CouponError
	Vendors       []VendorQuote
}

// PlaceCommand runs the whole checkout.
type PlaceCommand struct {
	Tenant          domain.Tenant
	CartKey         string
	Customer        domain.Customer
	ShippingAddress domain.Address
	BillingAddress  *domain.Address
	PaymentMethod   domain.PaymentMethod
	CallbackURL     string
	IdempotencyKey  string
	FirstOrder      bool
}

// PlaceResult is the placed order and where to send the shopper next.
type PlaceResult struct {
	Order            domain.Order
	Quote            Quote
	AuthorizationURL string
	PaymentReference string
	Deferred         bool
}

// CheckoutServiceDeps wires the checkout pipeline.
type CheckoutServiceDeps struct {
	Resolver   CartResolver
	Inventory  InventoryService
	Promotions repositories.PromotionRepository
	Orders     OrderService
	Payments   PaymentService
	Clock      func() time.Time
	Logger     Logger
}

type checkoutService struct {
	resolver   CartResolver
	inventory  InventoryService
	promotions repositories.PromotionRepository
	orders     OrderService
	payments   PaymentService
	now        func() time.Time
	logger     Logger
}

// NewCheckoutService constructs the checkout pipeline.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	switch {
	case deps.Resolver == nil:
		return nil, errors.New("checkout service: cart resolver is required")
	case deps.Inventory == nil:
		return nil, errors.New("checkout service: inventory service is required")
	case deps.Promotions == nil:
		return nil, errors.New("checkout service: promotion repository is required")
	case deps.Orders == nil:
		return nil, errors.New("checkout service: order service is required")
	case deps.Payments == nil:
		return nil, errors.New("checkout service: payment service is required")
	}
	return &checkoutService{
		resolver:   deps.Resolver,
		inventory:  deps.Inventory,
		promotions: deps.Promotions,
		orders:     deps.Orders,
		payments:   deps.Payments,
		now:        utcClock(deps.Clock),
		logger:     loggerOrNoop(deps.Logger),
	}, nil
}

// Validate runs the resolver and the inventory gate. Blocking problems are reported in the result.
func (s *checkoutService) Validate(ctx context.Context, cmd ValidateCommand) (ValidationResult, error) {
	ctx, span := startSpan(ctx, "checkout.validate", attribute.String("tenant.id", cmd.Tenant.ID))
	result, err := s.validate(ctx, cmd)
	endSpan(span, err)
	return result, err
}

func (s *checkoutService) validate(ctx context.Context, cmd ValidateCommand) (ValidationResult, error) {
	ready, err := s.resolver.Resolve(ctx, cmd.Tenant, cmd.CartKey)
	if err != nil {
		var conflictErr *CartConflictError
		if errors.As(err, &conflictErr) {
			return ValidationResult{Conflicts: conflictErr.Conflicts}, nil
		}
		return ValidationResult{}, err
	}
	report, err := s.inventory.Check(ctx, cmd.Tenant.ID, ready.Cart.Channel, ready.Cart.Items)
	if err != nil {
		return ValidationResult{}, err
	}
	return ValidationResult{
		Cart:         ready.Cart,
		Valid:        report.OK(),
		Insufficient: report.Items,
	}, nil
}

// Quote prices a checkout-ready cart.
func (s *checkoutService) Quote(ctx context.Context, cmd QuoteCommand) (Quote, error) {
	ctx, span := startSpan(ctx, "checkout.quote", attribute.String("tenant.id", cmd.Tenant.ID))
	ready, err := s.resolver.Resolve(ctx, cmd.Tenant, cmd.CartKey)
	if err != nil {
		endSpan(span, err)
		return Quote{}, err
	}
	quote, _, err := s.price(ctx, ready, cmd.CustomerID, cmd.FirstOrder)
	endSpan(span, err)
	return quote, err
}

// price evaluates promotions and totals. Totals stay unrounded; the quote is rounded.
func (s *checkoutService) price(ctx context.Context, ready ReadyCart, customerID string, firstOrder bool) (Quote, OrderTotals, error) {
	now := s.now()
	automatic, err := s.promotions.ListAutomatic(ctx, ready.Tenant.ID, now)
	if err != nil {
		return Quote{}, OrderTotals{}, translateRepoError(err, nil, nil)
	}

	subtotal := decimal.Zero
	vendorSubtotals := map[string]decimal.Decimal{}
	vendorItems := map[string]int{}
	for _, it := range ready.Cart.Items {
		line := domain.RoundMoney(it.LineTotal())
		subtotal = subtotal.Add(line)
		vendorSubtotals[it.VendorID] = vendorSubtotals[it.VendorID].Add(line)
		vendorItems[it.VendorID]++
	}

	shipping := decimal.Zero
	vendors := make([]VendorQuote, 0, len(ready.Vendors))
	for _, id := range ready.VendorIDs() {
		vendor := ready.Vendors[id]
		shipping = shipping.Add(vendor.ShippingFee)
		vendors = append(vendors, VendorQuote{
			VendorID:   id,
			VendorName: vendor.Name,
			Items:      vendorItems[id],
			Subtotal:   domain.RoundMoney(vendorSubtotals[id]),
			Shipping:   domain.RoundMoney(vendor.ShippingFee),
		})
	}

	promo := EvaluatePromotions(PromotionInput{
		Items:          ready.Cart.Items,
		Subtotal:       subtotal,
		Shipping:       shipping,
		Automatic:      automatic,
		Coupons:        ready.Coupons,
		RequestedCodes: ready.Cart.CouponCodes,
		CustomerID:     customerID,
		FirstOrder:     firstOrder,
		Now:            now,
	})

	tax := promo.DiscountedSubtotal.Mul(ready.Tenant.TaxRate).Div(hundred)
	totals := OrderTotals{
		Subtotal: subtotal,
		Discount: promo.DiscountTotal,
		Shipping: promo.Shipping,
		Tax:      tax,
		Grand:    promo.DiscountedSubtotal.Add(promo.Shipping).Add(tax),
	}
	for i := range promo.Applied {
		promo.Applied[i].Amount = domain.RoundMoney(promo.Applied[i].Amount)
		promo.Applied[i].ShippingDiscount = domain.RoundMoney(promo.Applied[i].ShippingDiscount)
	}

	currency := ready.Cart.Currency
	if currency == "" {
		currency = ready.Tenant.Currency
	}
	return Quote{
		CartID:        ready.Cart.ID,
		Currency:      currency,
		Subtotal:      domain.RoundMoney(totals.Subtotal),
		DiscountTotal: domain.RoundMoney(totals.Discount),
		ShippingTotal: domain.RoundMoney(totals.Shipping),
		TaxTotal:      domain.RoundMoney(totals.Tax),
		GrandTotal:    domain.RoundMoney(totals.Grand),
		FreeShipping:  promo.FreeShipping,
		Applied:       promo.Applied,
		CouponErrors:  promo.Errors,
		Vendors:       vendors,
	}, totals, nil
}

// Place resolves, stock-checks and prices the cart, creates the order and starts payment.
func (s *checkoutService) Place(ctx context.Context, cmd PlaceCommand) (PlaceResult, error) {
	ctx, span := startSpan(ctx, "checkout.place",
		attribute.String("tenant.id", cmd.Tenant.ID),
		attribute.String("payment.method", string(cmd.PaymentMethod)),
	)
	result, err := s.place(ctx, cmd)
	if err != nil {
		recordFailure(ctx, cmd.Tenant.ID, err)
		s.logger(ctx, "checkout.place.failed", map[string]any{
			"reason": failureReason(err),
			"error":  err,
		})
	} else {
		span.SetAttributes(attribute.String("order.id", result.Order.ID))
		recordPlaced(ctx, cmd.Tenant.ID, string(cmd.PaymentMethod))
	}
	endSpan(span, err)
	return result, err
}

func (s *checkoutService) place(ctx context.Context, cmd PlaceCommand) (PlaceResult, error) {
	cmd, err := sanitizePlaceCommand(cmd)
	if err != nil {
		return PlaceResult{}, err
	}

	ready, err := s.resolver.Resolve(ctx, cmd.Tenant, cmd.CartKey)
	if err != nil {
		return PlaceResult{}, err
	}
	report, err := s.inventory.Check(ctx, cmd.Tenant.ID, ready.Cart.Channel, ready.Cart.Items)
	if err != nil {
		return PlaceResult{}, err
	}
	if err := report.Err(); err != nil {
		return PlaceResult{}, err
	}

	customerID := cmd.Customer.ID
	if customerID == "" {
		customerID = ready.Cart.CustomerID
		cmd.Customer.ID = customerID
	}
	quote, totals, err := s.price(ctx, ready, customerID, cmd.FirstOrder)
	if err != nil {
		return PlaceResult{}, err
	}

	order, err := s.orders.CreateOrder(ctx, DecompositionInput{
		Tenant:            cmd.Tenant,
		Cart:              ready.Cart,
		Customer:          cmd.Customer,
		ShippingAddress:   cmd.ShippingAddress,
		BillingAddress:    cmd.BillingAddress,
		PaymentMethod:     cmd.PaymentMethod,
		Totals:            totals,
		AppliedPromotions: quote.Applied,
	})
	if err != nil {
		return PlaceResult{}, err
	}

	outcome, err := s.payments.Pay(ctx, PaymentRequest{
		Tenant:         cmd.Tenant,
		Order:          order,
		CartID:         ready.Cart.ID,
		Customer:       cmd.Customer,
		CallbackURL:    cmd.CallbackURL,
		IdempotencyKey: cmd.IdempotencyKey,
	})
	if err != nil {
		return PlaceResult{}, err
	}
	return PlaceResult{
		Order:            outcome.Order,
		Quote:            quote,
		AuthorizationURL: outcome.AuthorizationURL,
		PaymentReference: outcome.Reference,
		Deferred:         outcome.Deferred,
	}, nil
}

// sanitizePlaceCommand cleans free text and rejects incomplete input before anything is written.
func sanitizePlaceCommand(cmd PlaceCommand) (PlaceCommand, error) {
	invalid := func(format string, args ...any) (PlaceCommand, error) {
		return PlaceCommand{}, fmt.Errorf("%w: %s", ErrCheckoutInvalidInput, fmt.Sprintf(format, args...))
	}
	if cmd.Tenant.ID == "" {
		return invalid("tenant is required")
	}
	if strings.TrimSpace(cmd.CartKey) == "" {
		return invalid("cart key is required")
	}
	cmd.PaymentMethod = domain.PaymentMethod(strings.ToUpper(strings.TrimSpace(string(cmd.PaymentMethod))))
	if cmd.PaymentMethod == "" {
		return invalid("payment method is required")
	}
	if !cmd.PaymentMethod.Valid() {
		return invalid("unsupported payment method %q", cmd.PaymentMethod)
	}

	cmd.Customer.ID = strings.TrimSpace(cmd.Customer.ID)
	cmd.Customer.Name = textutil.CleanText(cmd.Customer.Name, maxNameLength)
	cmd.Customer.Phone = textutil.CleanText(cmd.Customer.Phone, maxPhoneLength)
	email := strings.TrimSpace(cmd.Customer.Email)
	addr, err := mail.ParseAddress(email)
	if email == "" || err != nil || addr.Address != email {
		return invalid("a valid customer email is required")
	}
	cmd.Customer.Email = strings.ToLower(email)
	if cmd.Customer.Name == "" {
		return invalid("customer name is required")
	}

	shipping, err := cleanAddress(cmd.ShippingAddress, "shipping")
	if err != nil {
		return PlaceCommand{}, err
	}
	if shipping.Recipient == "" {
		shipping.Recipient = cmd.Customer.Name
	}
	cmd.ShippingAddress = shipping
	if cmd.BillingAddress != nil {
		billing, err := cleanAddress(*cmd.BillingAddress, "billing")
		if err != nil {
			return PlaceCommand{}, err
		}
		cmd.BillingAddress = &billing
	}
	cmd.CallbackURL = strings.TrimSpace(cmd.CallbackURL)
	cmd.IdempotencyKey = strings.TrimSpace(cmd.IdempotencyKey)
	return cmd, nil
}

func cleanAddress(a domain.Address, kind string) (domain.Address, error) {
	a = domain.Address{
		Recipient:  textutil.CleanText(a.Recipient, maxNameLength),
		Line1:      textutil.CleanText(a.Line1, maxAddressLength),
		Line2:      textutil.CleanText(a.Line2, maxAddressLength),
		City:       textutil.CleanText(a.City, maxNameLength),
		State:      textutil.CleanText(a.State, maxNameLength),
		PostalCode: textutil.CleanText(a.PostalCode, maxPhoneLength),
		Country:    strings.ToUpper(textutil.CleanText(a.Country, maxPhoneLength)),
		Phone:      textutil.CleanText(a.Phone, maxPhoneLength),
	}
	switch {
	case a.Line1 == "":
		return domain.Address{}, fmt.Errorf("%w: %s address line 1 is required", ErrCheckoutInvalidInput, kind)
	case a.City == "":
		return domain.Address{}, fmt.Errorf("%w: %s address city is required", ErrCheckoutInvalidInput, kind)
	case len(a.Country) != 2:
		return domain.Address{}, fmt.Errorf("%w: %s address country must be a two-letter code", ErrCheckoutInvalidInput, kind)
	}
	return a, nil
}
