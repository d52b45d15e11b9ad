package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/changerplanet/WebWaka2-sub010/internal/domain"
	"github.com/changerplanet/WebWaka2-sub010/internal/platform/httpx"
	"github.com/changerplanet/WebWaka2-sub010/internal/platform/textutil"
	"github.com/changerplanet/WebWaka2-sub010/internal/services"
)

const (
	maxOrderActionBodySize = 4 * 1024
	maxReasonLength        = 500
)

// OrderHandlers exposes order reads and lifecycle actions.
type OrderHandlers struct {
	orders    services.OrderService
	lifecycle services.LifecycleService
}

// NewOrderHandlers constructs order handlers.
func NewOrderHandlers(orders services.OrderService, lifecycle services.LifecycleService) *OrderHandlers {
	return &OrderHandlers{orders: orders, lifecycle: lifecycle}
}

// Routes registers the /orders endpoints on the tenant router.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/orders/{orderID}", h.getOrder)
	r.Post("/orders/{orderID}/actions", h.applyAction)
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	tenant, ok := tenantFromRequest(w, r)
	if !ok {
		return
	}
	order, err := h.orders.GetOrder(ctx, tenant.ID, strings.TrimSpace(chi.URLParam(r, "orderID")))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderActionRequest struct {
	Action     string `json:"action"`
	Status     string `json:"status"`
	SubOrderID string `json:"subOrderId"`
	Reason     string `json:"reason"`
}

func (h *OrderHandlers) applyAction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil || h.lifecycle == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	tenant, ok := tenantFromRequest(w, r)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxOrderActionBodySize)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}
	var req orderActionRequest
	if err := decodeStrict(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	reason := textutil.CleanText(req.Reason, maxReasonLength)

	var (
		order  domain.Order
		actErr error
	)
	switch strings.ToLower(strings.TrimSpace(req.Action)) {
	case "transition":
		target, err := parseOrderStatus(req.Status)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
			return
		}
		order, actErr = h.lifecycle.TransitionOrder(ctx, tenant.ID, orderID, target, reason)
	case "transition_sub_order":
		target, err := parseOrderStatus(req.Status)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
			return
		}
		subID := strings.TrimSpace(req.SubOrderID)
		if subID == "" {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "subOrderId is required", http.StatusBadRequest))
			return
		}
		order, actErr = h.lifecycle.TransitionSubOrder(ctx, tenant.ID, orderID, subID, target, reason)
	case "cancel":
		order, actErr = h.orders.CancelOrder(ctx, tenant.ID, orderID, reason)
	case "refund":
		order, actErr = h.lifecycle.RefundOrder(ctx, tenant.ID, orderID, reason)
	case "":
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "action is required", http.StatusBadRequest))
		return
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", fmt.Sprintf("unsupported action %q", req.Action), http.StatusBadRequest))
		return
	}
	if actErr != nil {
		writeServiceError(ctx, w, actErr)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

var knownOrderStatuses = map[domain.OrderStatus]struct{}{
	domain.OrderStatusDraft:      {},
	domain.OrderStatusPlaced:     {},
	domain.OrderStatusPaid:       {},
	domain.OrderStatusProcessing: {},
	domain.OrderStatusShipped:    {},
	domain.OrderStatusDelivered:  {},
	domain.OrderStatusFulfilled:  {},
	domain.OrderStatusCancelled:  {},
	domain.OrderStatusRefunded:   {},
}

func parseOrderStatus(raw string) (domain.OrderStatus, error) {
	status := domain.OrderStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if status == "" {
		return "", errors.New("status is required")
	}
	if _, ok := knownOrderStatuses[status]; !ok {
		return "", fmt.Errorf("unknown status %q", raw)
	}
	return status, nil
}

