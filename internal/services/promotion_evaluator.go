package services

import (
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/changerplanet/WebWaka2-sub010/internal/domain"
)

// Coupon rejection reasons.
const (
	CouponNotFound            = "not_found"
	CouponInactive            = "inactive"
	CouponNotStarted          = "not_started"
	CouponExpired             = "expired"
	CouponUsageLimitReached   = "usage_limit_reached"
	CouponMinOrderNotMet      = "min_order_not_met"
	CouponMinQuantityNotMet   = "min_quantity_not_met"
	CouponCustomerNotEligible = "customer_not_eligible"
	CouponFirstOrderOnly      = "first_order_only"
	CouponNotCombinable       = "not_combinable"
	CouponNoEligibleItems     = "no_eligible_items"
)

var hundred = decimal.NewFromInt(100)

// PromotionInput is everything the evaluator looks at. Coupons is keyed by upper-cased code.
type PromotionInput struct {
	Items          []domain.CartItem
	Subtotal       decimal.Decimal
	Shipping       decimal.Decimal
	Automatic      []domain.Promotion
	Coupons        map[string]domain.Promotion
	RequestedCodes []string
	CustomerID     string
	FirstOrder     bool
	Now            time.Time
}

// CouponError explains why a requested code was not applied.
type CouponError struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

func (e CouponError) Error() string { return "coupon " + e.Code + ": " + e.Reason }

// PromotionResult holds unrounded amounts.
type PromotionResult struct {
	DiscountTotal      decimal.Decimal
	DiscountedSubtotal decimal.Decimal
	Shipping           decimal.Decimal
	FreeShipping       bool
	Applied            []domain.AppliedPromotion
	Errors             []CouponError
}

type promotionCandidate struct {
	promo    domain.Promotion
	explicit bool
	code     string
}

// EvaluatePromotions applies automatic promotions and requested coupons to a cart. It never fails:
// unusable coupons are reported in Errors.
func EvaluatePromotions(in PromotionInput) PromotionResult {
	result := PromotionResult{Shipping: in.Shipping}
	candidates := promotionCandidates(in, &result)

	var units int64
	for _, item := range in.Items {
		units += item.Quantity
	}

	discount := decimal.Zero
	shipping := in.Shipping
	blocked := false
	for _, c := range candidates {
		reject := func(reason string) {
			if c.explicit {
				result.Errors = append(result.Errors, CouponError{Code: c.code, Reason: reason})
			}
		}
		if blocked {
			reject(CouponNotCombinable)
			continue
		}
		if reason := ineligibility(c.promo, in, units); reason != "" {
			reject(reason)
			continue
		}

		eligible := eligibleItems(c.promo, in.Items)
		if len(eligible) == 0 && c.promo.Type != domain.PromotionTypeFreeShipping {
			reject(CouponNoEligibleItems)
			continue
		}

		applied := domain.AppliedPromotion{
			PromotionID: c.promo.ID,
			Code:        c.promo.Code,
			Name:        c.promo.Name,
			Type:        c.promo.Type,
			Amount:      decimal.Zero,
		}
		for _, item := range eligible {
			applied.EligibleItemIDs = append(applied.EligibleItemIDs, item.ID)
		}
		if c.promo.Type == domain.PromotionTypeFreeShipping {
			applied.FreeShipping = true
			applied.ShippingDiscount = shipping
			shipping = decimal.Zero
			result.FreeShipping = true
		} else {
			applied.Amount = promotionAmount(c.promo, eligible)
			discount = discount.Add(applied.Amount)
		}
		result.Applied = append(result.Applied, applied)

		if !c.promo.Stackable {
			blocked = true
		}
	}

	result.DiscountTotal = domain.ClampMoney(discount, decimal.Zero, decimal.Max(in.Subtotal, decimal.Zero))
	trimApplied(result.Applied, discount.Sub(result.DiscountTotal))
	result.DiscountedSubtotal = in.Subtotal.Sub(result.DiscountTotal)
	result.Shipping = shipping
	return result
}

// trimApplied takes the clamped excess off the last applied promotions so the breakdown sums to the
// discount total.
func trimApplied(applied []domain.AppliedPromotion, excess decimal.Decimal) {
	for i := len(applied) - 1; i >= 0 && excess.IsPositive(); i-- {
		take := decimal.Min(excess, applied[i].Amount)
		applied[i].Amount = applied[i].Amount.Sub(take)
		excess = excess.Sub(take)
	}
}

func promotionCandidates(in PromotionInput, result *PromotionResult) []promotionCandidate {
	var out []promotionCandidate
	index := map[string]int{}
	for _, p := range in.Automatic {
		if _, dup := index[p.ID]; dup {
			continue
		}
		index[p.ID] = len(out)
		out = append(out, promotionCandidate{promo: p, code: strings.ToUpper(p.Code)})
	}

	requested := map[string]struct{}{}
	for _, raw := range in.RequestedCodes {
		code := strings.ToUpper(strings.TrimSpace(raw))
		if code == "" {
			continue
		}
		if _, dup := requested[code]; dup {
			continue
		}
		requested[code] = struct{}{}

		promo, ok := in.Coupons[code]
		if !ok {
			result.Errors = append(result.Errors, CouponError{Code: code, Reason: CouponNotFound})
			continue
		}
		if i, dup := index[promo.ID]; dup {
			out[i].explicit = true
			out[i].code = code
			continue
		}
		index[promo.ID] = len(out)
		out = append(out, promotionCandidate{promo: promo, explicit: true, code: code})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].promo.Priority != out[j].promo.Priority {
			return out[i].promo.Priority > out[j].promo.Priority
		}
		return out[i].promo.DiscountValue.GreaterThan(out[j].promo.DiscountValue)
	})
	return out
}

func ineligibility(p domain.Promotion, in PromotionInput, units int64) string {
	switch {
	case !p.Active:
		return CouponInactive
	case p.StartsAt != nil && in.Now.Before(*p.StartsAt):
		return CouponNotStarted
	case p.EndsAt != nil && in.Now.After(*p.EndsAt):
		return CouponExpired
	case p.Exhausted():
		return CouponUsageLimitReached
	case p.MinOrderTotal != nil && in.Subtotal.LessThan(*p.MinOrderTotal):
		return CouponMinOrderNotMet
	case p.MinQuantity > 0 && units < p.MinQuantity:
		return CouponMinQuantityNotMet
	case len(p.CustomerIDs) > 0 && !slices.Contains(p.CustomerIDs, in.CustomerID):
		return CouponCustomerNotEligible
	case p.FirstOrderOnly && !in.FirstOrder:
		return CouponFirstOrderOnly
	}
	return ""
}

func eligibleItems(p domain.Promotion, items []domain.CartItem) []domain.CartItem {
	scoped := len(p.ProductIDs) > 0 || len(p.CategoryIDs) > 0
	var out []domain.CartItem
	for _, item := range items {
		if p.VendorID != "" && item.VendorID != p.VendorID {
			continue
		}
		if scoped && !slices.Contains(p.ProductIDs, item.ProductID) && !overlaps(p.CategoryIDs, item.CategoryIDs) {
			continue
		}
		if slices.Contains(p.ExcludedProductIDs, item.ProductID) || overlaps(p.ExcludedCategoryIDs, item.CategoryIDs) {
			continue
		}
		out = append(out, item)
	}
	return out
}

func promotionAmount(p domain.Promotion, eligible []domain.CartItem) decimal.Decimal {
	subtotal := decimal.Zero
	var units int64
	for _, item := range eligible {
		subtotal = subtotal.Add(item.LineTotal())
		units += item.Quantity
	}

	switch p.Type {
	case domain.PromotionTypePercentage:
		amount := subtotal.Mul(p.DiscountValue).Div(hundred)
		if p.MaxDiscount != nil && amount.GreaterThan(*p.MaxDiscount) {
			amount = *p.MaxDiscount
		}
		return amount
	case domain.PromotionTypeFixedAmount:
		return decimal.Min(p.DiscountValue, subtotal)
	case domain.PromotionTypeFixedPerItem:
		return decimal.Min(p.DiscountValue.Mul(decimal.NewFromInt(units)), subtotal)
	case domain.PromotionTypeBuyXGetY:
		return buyXGetYAmount(p, eligible, units)
	}
	return decimal.Zero
}

// buyXGetYAmount discounts the cheapest units: every buy+get units earn get discounted units.
// A zero GetDiscountPercent means the units are free.
func buyXGetYAmount(p domain.Promotion, eligible []domain.CartItem, units int64) decimal.Decimal {
	if p.BuyQuantity <= 0 || p.GetQuantity <= 0 {
		return decimal.Zero
	}
	free := (units / (p.BuyQuantity + p.GetQuantity)) * p.GetQuantity
	if free == 0 {
		return decimal.Zero
	}
	percent := p.GetDiscountPercent
	if percent.IsZero() {
		percent = hundred
	}

	byPrice := append([]domain.CartItem(nil), eligible...)
	sort.SliceStable(byPrice, func(i, j int) bool { return byPrice[i].UnitPrice.LessThan(byPrice[j].UnitPrice) })
	discounted := decimal.Zero
	for _, item := range byPrice {
		if free == 0 {
			break
		}
		take := min(item.Quantity, free)
		discounted = discounted.Add(item.UnitPrice.Mul(decimal.NewFromInt(take)))
		free -= take
	}
	return discounted.Mul(percent).Div(hundred)
}

func overlaps(a, b []string) bool {
	for _, v := range a {
		if slices.Contains(b, v) {
			return true
		}
	}
	return false
}
