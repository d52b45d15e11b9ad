package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/changerplanet/WebWaka2-sub010/internal/domain"
	"github.com/changerplanet/WebWaka2-sub010/internal/repositories"
)

var (
	// ErrCheckoutInvalidInput indicates the caller supplied invalid checkout parameters.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrTenantNotFound indicates the tenant slug or id did not resolve.
	ErrTenantNotFound = errors.New("tenant: not found")
	// ErrCartNotFound indicates no active cart exists under the key.
	ErrCartNotFound = errors.New("cart: not found")
	// ErrCartEmpty indicates the cart has no items to check out.
	ErrCartEmpty = errors.New("cart: empty")
	// ErrCartInvalidInput indicates a cart mutation was malformed.
	ErrCartInvalidInput = errors.New("cart: invalid input")
	// ErrCartConflict indicates a concurrent cart write won.
	ErrCartConflict = errors.New("cart: concurrent modification")
	// ErrBlockingConflicts indicates the cart cannot be checked out as is.
	ErrBlockingConflicts = errors.New("checkout: blocking conflicts")
	// ErrInsufficientStock indicates at least one item cannot be fulfilled.
	ErrInsufficientStock = errors.New("checkout: insufficient stock")
	// ErrCartAlreadyConverted indicates another checkout converted the cart first.
	ErrCartAlreadyConverted = errors.New("checkout: cart already converted")
	// ErrPaymentFailed indicates payment initiation failed and the order was compensated.
	ErrPaymentFailed = errors.New("checkout: payment failed")
	// ErrInventoryDeductionFailed indicates a stock decrement batch was rejected. It is retryable.
	ErrInventoryDeductionFailed = errors.New("inventory: deduction failed")
	// ErrOrderNotFound indicates the order does not exist for the tenant.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderConflict indicates the order changed since it was read.
	ErrOrderConflict = errors.New("order: concurrent modification")
	// ErrOrderInvalidInput indicates an order command was malformed.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrInvalidTransition indicates a status change outside the lifecycle table.
	ErrInvalidTransition = errors.New("order: invalid transition")
	// ErrPaymentNotConfirmed indicates a gateway order was moved to PAID before its payment settled.
	ErrPaymentNotConfirmed = errors.New("order: payment not confirmed")
	// ErrReasonRequired indicates a cancellation or refund without a reason.
	ErrReasonRequired = errors.New("order: reason required")
	// ErrServiceUnavailable indicates a backing store or provider is unreachable.
	ErrServiceUnavailable = errors.New("service unavailable")
)

// Cart conflict codes.
const (
	ConflictVendorNotFound         = "VENDOR_NOT_FOUND"
	ConflictVendorNotApproved      = "VENDOR_NOT_APPROVED"
	ConflictVendorInactive         = "VENDOR_INACTIVE"
	ConflictProductUnavailable     = "PRODUCT_UNAVAILABLE"
	ConflictInvalidQuantity        = "INVALID_QUANTITY"
	ConflictCurrencyMismatch       = "CURRENCY_MISMATCH"
	ConflictVendorPromotionInvalid = "VENDOR_PROMOTION_INVALID"
)

// CartConflict describes one reason a cart cannot be checked out.
type CartConflict struct {
	Code          string `json:"code"`
	VendorID      string `json:"vendorId,omitempty"`
	ProductID     string `json:"productId,omitempty"`
	PromotionCode string `json:"promotionCode,omitempty"`
	Message       string `json:"message"`
}

// CartConflictError carries every blocking conflict found in one pass.
type CartConflictError struct {
	Conflicts []CartConflict
}

func (e *CartConflictError) Error() string {
	codes := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		codes = append(codes, c.Code)
	}
	return fmt.Sprintf("%v: %s", ErrBlockingConflicts, strings.Join(codes, ", "))
}

func (e *CartConflictError) Unwrap() error { return ErrBlockingConflicts }

// InsufficientItem reports one product that cannot be fulfilled.
type InsufficientItem struct {
	ProductID   string `json:"productId"`
	VariantID   string `json:"variantId,omitempty"`
	ProductName string `json:"productName"`
	Requested   int64  `json:"requested"`
	Available   int64  `json:"available"`
}

// InsufficientStockError lists every short item.
type InsufficientStockError struct {
	Items []InsufficientItem
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("%v: %d item(s)", ErrInsufficientStock, len(e.Items))
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// Payment failure codes.
const (
	PaymentPartnerNotConfigured = "PARTNER_NOT_CONFIGURED"
	PaymentGatewayUnavailable   = "GATEWAY_UNAVAILABLE"
	PaymentInitiationFailed     = "PAYMENT_INITIATION_FAILED"
	PaymentGatewayException     = "PAYMENT_GATEWAY_EXCEPTION"

	// PaymentFailedUserMessage is the only payment failure text shown to customers.
	PaymentFailedUserMessage = "payment failed, please try again"
)

// PaymentError is returned once a failed payment leg has been compensated. Cause is for logs only.
type PaymentError struct {
	Code    string
	OrderID string
	Cause   error
}

func (e *PaymentError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%v [%s]: %v", ErrPaymentFailed, e.Code, e.Cause)
	}
	return fmt.Sprintf("%v [%s]", ErrPaymentFailed, e.Code)
}

func (e *PaymentError) Unwrap() error { return ErrPaymentFailed }

// TransitionError names the rejected transition and the legal targets.
type TransitionError struct {
	From    domain.OrderStatus
	To      domain.OrderStatus
	Allowed []domain.OrderStatus
}

func (e *TransitionError) Error() string {
	allowed := make([]string, 0, len(e.Allowed))
	for _, s := range e.Allowed {
		allowed = append(allowed, string(s))
	}
	return fmt.Sprintf("%v: %s -> %s (allowed: %s)", ErrInvalidTransition, e.From, e.To, strings.Join(allowed, ", "))
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// translateRepoError maps storage failures onto service sentinels.
func translateRepoError(err error, notFound, conflict error) error {
	switch {
	case err == nil:
		return nil
	case repositories.IsNotFound(err) && notFound != nil:
		return fmt.Errorf("%w: %v", notFound, err)
	case repositories.IsConflict(err) && conflict != nil:
		return fmt.Errorf("%w: %v", conflict, err)
	case repositories.IsUnavailable(err):
		return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	default:
		return err
	}
}
