package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/changerplanet/WebWaka2-sub010/internal/domain"
	"github.com/changerplanet/WebWaka2-sub010/internal/platform/httpx"
	"github.com/changerplanet/WebWaka2-sub010/internal/services"
)

const maxCartBodySize = 8 * 1024

// CartHandlers exposes the shared multi-vendor cart.
type CartHandlers struct {
	carts services.CartService
}

// NewCartHandlers constructs cart handlers.
func NewCartHandlers(carts services.CartService) *CartHandlers {
	return &CartHandlers{carts: carts}
}

// Routes wires the /carts endpoints onto the tenant router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/carts/{cartKey}", h.getCart)
	r.Post("/carts/{cartKey}/actions", h.applyAction)
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}
	tenant, ok := tenantFromRequest(w, r)
	if !ok {
		return
	}

	cart, err := h.carts.GetCart(ctx, tenant, chi.URLParam(r, "cartKey"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	setCartResponseHeaders(w, cart)
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

func (h *CartHandlers) applyAction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}
	tenant, ok := tenantFromRequest(w, r)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxCartBodySize)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}
	mutation, err := decodeCartMutation(body)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	cart, err := h.carts.ApplyMutation(ctx, tenant, chi.URLParam(r, "cartKey"), mutation)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	setCartResponseHeaders(w, cart)
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

type cartResponse struct {
	Cart cartPayload `json:"cart"`
}

type cartActionEnvelope struct {
	Action string `json:"action"`
}

type addItemRequest struct {
	Action     string `json:"action"`
	ProductID  string `json:"productId"`
	VariantID  string `json:"variantId"`
	Quantity   int64  `json:"quantity"`
	Channel    string `json:"channel"`
	CustomerID string `json:"customerId"`
}

type updateQuantityRequest struct {
	Action   string `json:"action"`
	ItemID   string `json:"itemId"`
	Quantity int64  `json:"quantity"`
}

type itemRequest struct {
	Action string `json:"action"`
	ItemID string `json:"itemId"`
}

type couponRequest struct {
	Action string `json:"action"`
	Code   string `json:"code"`
}

// decodeCartMutation turns the {"action": ...} body into a CartMutation variant.
func decodeCartMutation(body []byte) (services.CartMutation, error) {
	var envelope cartActionEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, errors.New("request body must be valid JSON")
	}

	switch strings.ToLower(strings.TrimSpace(envelope.Action)) {
	case "add_item":
		var req addItemRequest
		if err := decodeStrict(body, &req); err != nil {
			return nil, err
		}
		return services.AddItem{
			ProductID:  strings.TrimSpace(req.ProductID),
			VariantID:  strings.TrimSpace(req.VariantID),
			Quantity:   req.Quantity,
			Channel:    strings.TrimSpace(req.Channel),
			CustomerID: strings.TrimSpace(req.CustomerID),
		}, nil
	case "update_quantity":
		var req updateQuantityRequest
		if err := decodeStrict(body, &req); err != nil {
			return nil, err
		}
		return services.UpdateQuantity{ItemID: strings.TrimSpace(req.ItemID), Quantity: req.Quantity}, nil
	case "remove_item":
		var req itemRequest
		if err := decodeStrict(body, &req); err != nil {
			return nil, err
		}
		return services.RemoveItem{ItemID: strings.TrimSpace(req.ItemID)}, nil
	case "apply_coupon", "remove_coupon":
		var req couponRequest
		if err := decodeStrict(body, &req); err != nil {
			return nil, err
		}
		if strings.EqualFold(strings.TrimSpace(envelope.Action), "apply_coupon") {
			return services.ApplyCoupon{Code: req.Code}, nil
		}
		return services.RemoveCoupon{Code: req.Code}, nil
	case "clear":
		var req cartActionEnvelope
		if err := decodeStrict(body, &req); err != nil {
			return nil, err
		}
		return services.ClearCart{}, nil
	case "":
		return nil, errors.New("action is required")
	default:
		return nil, fmt.Errorf("unsupported action %q", envelope.Action)
	}
}

func decodeStrict(body []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func setCartResponseHeaders(w http.ResponseWriter, cart domain.Cart) {
	w.Header().Set("Cache-Control", "no-store, no-cache, max-age=0, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	if cart.Version > 0 {
		w.Header().Set("ETag", strconv.Quote(cart.ID+"-"+strconv.FormatInt(cart.Version, 10)))
	}
}
