package handlers

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/changerplanet/WebWaka2-sub010/internal/platform/httpx"
	"github.com/changerplanet/WebWaka2-sub010/internal/platform/requestctx"
	"github.com/changerplanet/WebWaka2-sub010/internal/services"
)

// writeServiceError maps service sentinels and typed errors onto the JSON envelope.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	var (
		conflictErr   *services.CartConflictError
		stockErr      *services.InsufficientStockError
		paymentErr    *services.PaymentError
		transitionErr *services.TransitionError
	)
	switch {
	case errors.As(err, &conflictErr):
		httpx.WriteError(ctx, w, httpx.NewError("cart_conflicts", "cart cannot be checked out", http.StatusConflict).
			WithDetails(map[string]any{"conflicts": conflictErr.Conflicts}))
	case errors.As(err, &stockErr):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", "some items are out of stock", http.StatusConflict).
			WithDetails(map[string]any{"items": stockErr.Items}))
	case errors.As(err, &paymentErr):
		requestctx.Logger(ctx).Warn("payment failed",
			zap.String("code", paymentErr.Code),
			zap.String("orderId", paymentErr.OrderID),
			zap.Error(paymentErr.Cause),
		)
		httpx.WriteError(ctx, w, httpx.NewError("payment_failed", services.PaymentFailedUserMessage, http.StatusPaymentRequired).
			AsRetryable().
			WithDetails(map[string]any{"code": paymentErr.Code, "orderId": paymentErr.OrderID}))
	case errors.As(err, &transitionErr):
		allowed := make([]string, 0, len(transitionErr.Allowed))
		for _, s := range transitionErr.Allowed {
			allowed = append(allowed, string(s))
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", err.Error(), http.StatusConflict).
			WithDetails(map[string]any{"from": transitionErr.From, "to": transitionErr.To, "allowed": allowed}))
	case errors.Is(err, services.ErrPaymentNotConfirmed):
		httpx.WriteError(ctx, w, httpx.NewError("payment_not_confirmed", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutInvalidInput),
		errors.Is(err, services.ErrCartInvalidInput),
		errors.Is(err, services.ErrOrderInvalidInput),
		errors.Is(err, services.ErrReasonRequired):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrTenantNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("tenant_not_found", "tenant not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCartNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("cart_not_found", "cart not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCartEmpty):
		httpx.WriteError(ctx, w, httpx.NewError("cart_empty", "cart has no items", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCartConflict):
		httpx.WriteError(ctx, w, httpx.NewError("cart_conflict", "cart has been modified; refresh and retry", http.StatusConflict).AsRetryable())
	case errors.Is(err, services.ErrCartAlreadyConverted):
		httpx.WriteError(ctx, w, httpx.NewError("cart_already_converted", "cart was already checked out", http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", "order has been modified; refresh and retry", http.StatusConflict).AsRetryable())
	case errors.Is(err, services.ErrInventoryDeductionFailed):
		httpx.WriteError(ctx, w, httpx.NewError("inventory_unavailable", "stock changed while placing the order", http.StatusConflict).AsRetryable())
	case errors.Is(err, services.ErrServiceUnavailable), errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "service temporarily unavailable", http.StatusServiceUnavailable).AsRetryable())
	default:
		requestctx.Logger(ctx).Error("unhandled service error", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "failed to process request", http.StatusInternalServerError))
	}
}
