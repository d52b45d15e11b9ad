package services

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/changerplanet/WebWaka2-sub010/internal/domain"
)

// Logger is the structured logging hook services emit through.
type Logger func(ctx context.Context, event string, fields map[string]any)

// CartService reads carts and applies shopper mutations.
type CartService interface {
	GetCart(ctx context.Context, tenant domain.Tenant, cartKey string) (domain.Cart, error)
	ApplyMutation(ctx context.Context, tenant domain.Tenant, cartKey string, mutation CartMutation) (domain.Cart, error)
}

// CheckoutService runs the validate, quote and place steps of checkout.
type CheckoutService interface {
	Validate(ctx context.Context, cmd ValidateCommand) (ValidationResult, error)
	Quote(ctx context.Context, cmd QuoteCommand) (Quote, error)
	Place(ctx context.Context, cmd PlaceCommand) (PlaceResult, error)
}

// OrderService creates and cancels orders.
type OrderService interface {
	CreateOrder(ctx context.Context, input DecompositionInput) (domain.Order, error)
	CancelOrder(ctx context.Context, tenantID, orderID, reason string, opts ...CancelOption) (domain.Order, error)
	GetOrder(ctx context.Context, tenantID, orderID string) (domain.Order, error)
}

// LifecycleService applies externally requested status changes.
type LifecycleService interface {
	TransitionOrder(ctx context.Context, tenantID, orderID string, target domain.OrderStatus, reason string) (domain.Order, error)
	TransitionSubOrder(ctx context.Context, tenantID, orderID, subOrderID string, target domain.OrderStatus, reason string) (domain.Order, error)
	RefundOrder(ctx context.Context, tenantID, orderID, reason string) (domain.Order, error)
}

// PaymentService collects payment for placed orders and settles gateway notifications.
type PaymentService interface {
	Pay(ctx context.Context, req PaymentRequest) (PaymentOutcome, error)
	Compensate(ctx context.Context, order domain.Order, reason string) error
	ConfirmPayment(ctx context.Context, confirmation PaymentConfirmation) (domain.Order, error)
}

// InventoryService gates checkout on stock and moves stock for orders.
type InventoryService interface {
	Check(ctx context.Context, tenantID, channel string, items []domain.CartItem) (InsufficientReport, error)
	Deduct(ctx context.Context, order domain.Order) error
	Restock(ctx context.Context, order domain.Order) error
	ProcessEvent(ctx context.Context, tenantID string, event domain.InventoryEvent) error
}

// CartResolver decides whether a cart can be checked out.
type CartResolver interface {
	Resolve(ctx context.Context, tenant domain.Tenant, cartKey string) (ReadyCart, error)
}

func noopLogger(context.Context, string, map[string]any) {}

func loggerOrNoop(logger Logger) Logger {
	if logger == nil {
		return noopLogger
	}
	return logger
}

func utcClock(clock func() time.Time) func() time.Time {
	if clock == nil {
		clock = time.Now
	}
	return func() time.Time { return clock().UTC() }
}

func idGenOrULID(gen func() string) func() string {
	if gen == nil {
		return func() string { return ulid.Make().String() }
	}
	return gen
}

func publisherOrNoop(publisher EventPublisher) EventPublisher {
	if publisher == nil {
		return noopPublisher{}
	}
	return publisher
}
