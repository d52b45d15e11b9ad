package services

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/changerplanet/WebWaka2-sub010/internal/services"

var (
	tracer = otel.Tracer(instrumentationName)
	meter  = otel.Meter(instrumentationName)

	ordersPlaced   metric.Int64Counter
	checkoutFailed metric.Int64Counter
)

func init() {
	ordersPlaced, _ = meter.Int64Counter("checkout.orders.placed",
		metric.WithDescription("Orders created by checkout."),
	)
	checkoutFailed, _ = meter.Int64Counter("checkout.failures",
		metric.WithDescription("Checkout attempts rejected or compensated, by reason."),
	)
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// endSpan records err on the span before ending it.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, failureReason(err))
	}
	span.End()
}

func recordPlaced(ctx context.Context, tenantID, method string) {
	if ordersPlaced == nil {
		return
	}
	ordersPlaced.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tenant.id", tenantID),
		attribute.String("payment.method", method),
	))
}

func recordFailure(ctx context.Context, tenantID string, err error) {
	if checkoutFailed == nil || err == nil {
		return
	}
	checkoutFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tenant.id", tenantID),
		attribute.String("reason", failureReason(err)),
	))
}

// failureReason buckets an error into a low-cardinality label.
func failureReason(err error) string {
	var payErr *PaymentError
	switch {
	case errors.As(err, &payErr):
		return payErr.Code
	case errors.Is(err, ErrCheckoutInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrCartNotFound):
		return "cart_not_found"
	case errors.Is(err, ErrCartEmpty):
		return "cart_empty"
	case errors.Is(err, ErrBlockingConflicts):
		return "blocking_conflicts"
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrCartAlreadyConverted):
		return "cart_already_converted"
	case errors.Is(err, ErrInventoryDeductionFailed):
		return "inventory_deduction_failed"
	case errors.Is(err, ErrServiceUnavailable):
		return "unavailable"
	default:
		return "internal"
	}
}
