package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/changerplanet/WebWaka2-sub010/internal/payments"
	"github.com/changerplanet/WebWaka2-sub010/internal/platform/httpx"
	"github.com/changerplanet/WebWaka2-sub010/internal/platform/requestctx"
	"github.com/changerplanet/WebWaka2-sub010/internal/services"
)

const maxWebhookBodySize = 64 * 1024

// PaymentWebhookHandlers receives gateway notifications. Signatures are checked by each gateway.
type PaymentWebhookHandlers struct {
	gateways services.GatewayResolver
	payments services.PaymentService
}

// NewPaymentWebhookHandlers constructs webhook handlers.
func NewPaymentWebhookHandlers(gateways services.GatewayResolver, paymentSvc services.PaymentService) *PaymentWebhookHandlers {
	return &PaymentWebhookHandlers{gateways: gateways, payments: paymentSvc}
}

// Routes registers the webhook endpoints under /webhooks.
func (h *PaymentWebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments/{provider}", h.handlePayment)
}

type webhookResponse struct {
	Status        string `json:"status"`
	OrderID       string `json:"orderId,omitempty"`
	PaymentStatus string `json:"paymentStatus,omitempty"`
}

func (h *PaymentWebhookHandlers) handlePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.gateways == nil || h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}
	logger := requestctx.Logger(ctx)
	provider := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "provider")))

	gateway, err := h.gateways.Gateway(provider)
	if err != nil {
		if errors.Is(err, payments.ErrUnsupportedProvider) {
			httpx.WriteError(ctx, w, httpx.NewError("unknown_provider", "payment provider not supported", http.StatusNotFound))
			return
		}
		writeServiceError(ctx, w, err)
		return
	}

	body, err := readLimitedBody(r, maxWebhookBodySize)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}

	confirmation, err := gateway.ParseConfirmation(ctx, body, r.Header)
	if err != nil {
		if errors.Is(err, payments.ErrInvalidSignature) {
			logger.Warn("webhook signature rejected", zap.String("provider", provider))
			httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusBadRequest))
			return
		}
		logger.Warn("webhook payload rejected", zap.String("provider", provider), zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("invalid_payload", "webhook payload could not be parsed", http.StatusBadRequest))
		return
	}
	if confirmation.Ignored {
		writeJSONResponse(w, http.StatusOK, webhookResponse{Status: "ignored"})
		return
	}

	providerName := confirmation.Provider
	if providerName == "" {
		providerName = gateway.Name()
	}
	order, err := h.payments.ConfirmPayment(ctx, services.PaymentConfirmation{
		Provider:      providerName,
		Reference:     confirmation.Reference,
		TransactionID: confirmation.TransactionID,
		Succeeded:     confirmation.Succeeded,
		FailureReason: confirmation.FailureReason,
	})
	switch {
	case errors.Is(err, services.ErrOrderNotFound):
		// Acknowledge so the gateway stops retrying a reference this service never issued.
		logger.Warn("webhook for unknown payment reference",
			zap.String("provider", providerName),
			zap.String("reference", confirmation.Reference),
			zap.String("eventId", confirmation.EventID),
		)
		writeJSONResponse(w, http.StatusAccepted, webhookResponse{Status: "unknown_reference"})
		return
	case err != nil:
		writeServiceError(ctx, w, err)
		return
	}

	logger.Info("payment webhook processed",
		zap.String("provider", providerName),
		zap.String("orderId", order.ID),
		zap.String("paymentStatus", string(order.PaymentStatus)),
	)
	writeJSONResponse(w, http.StatusOK, webhookResponse{
		Status:        "processed",
		OrderID:       order.ID,
		PaymentStatus: string(order.PaymentStatus),
	})
}
