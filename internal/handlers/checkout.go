package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/changerplanet/WebWaka2-sub010/internal/domain"
	"github.com/changerplanet/WebWaka2-sub010/internal/platform/httpx"
	"github.com/changerplanet/WebWaka2-sub010/internal/services"
)

const maxCheckoutRequestBody = 16 * 1024

// CheckoutRequest is one of ValidateRequest, QuoteRequest or PlaceRequest.
type CheckoutRequest interface {
	checkoutRequest()
}

// ValidateRequest checks a cart without pricing it.
type ValidateRequest struct {
	Type    string `json:"type"`
	CartKey string `json:"cartKey"`
}

// QuoteRequest prices a cart.
type QuoteRequest struct {
	Type       string `json:"type"`
	CartKey    string `json:"cartKey"`
	CustomerID string `json:"customerId"`
	FirstOrder bool   `json:"firstOrder"`
}

// PlaceRequest converts a cart into an order and starts payment.
type PlaceRequest struct {
	Type            string          `json:"type"`
	CartKey         string          `json:"cartKey"`
	Customer        customerPayload `json:"customer"`
	ShippingAddress addressPayload  `json:"shippingAddress"`
	BillingAddress  *addressPayload `json:"billingAddress"`
	PaymentMethod   string          `json:"paymentMethod"`
	CallbackURL     string          `json:"callbackUrl"`
	FirstOrder      bool            `json:"firstOrder"`
}

func (ValidateRequest) checkoutRequest() {}
func (QuoteRequest) checkoutRequest()    {}
func (PlaceRequest) checkoutRequest()    {}

// CheckoutOption customises checkout handlers.
type CheckoutOption func(*CheckoutHandlers)

// WithPlaceMiddleware wraps only the place step, typically with the idempotency middleware.
func WithPlaceMiddleware(mw func(http.Handler) http.Handler) CheckoutOption {
	return func(h *CheckoutHandlers) {
		if mw != nil {
			h.placeMiddleware = append(h.placeMiddleware, mw)
		}
	}
}

// WithPlaceLimiter throttles place attempts per tenant and cart key.
func WithPlaceLimiter(limiter RateLimiter) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.limiter = limiter
	}
}

// CheckoutHandlers exposes validate, quote and place on a single endpoint.
type CheckoutHandlers struct {
	checkout        services.CheckoutService
	placeMiddleware []func(http.Handler) http.Handler
	limiter         RateLimiter
	place           http.Handler
}

// NewCheckoutHandlers constructs checkout handlers.
func NewCheckoutHandlers(checkout services.CheckoutService, opts ...CheckoutOption) *CheckoutHandlers {
	h := &CheckoutHandlers{checkout: checkout}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	var place http.Handler = http.HandlerFunc(h.servePlace)
	for i := len(h.placeMiddleware) - 1; i >= 0; i-- {
		place = h.placeMiddleware[i](place)
	}
	h.place = place
	return h
}

// Routes registers the checkout endpoint on the tenant router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/checkout", h.handle)
}

type checkoutEnvelope struct {
	Type string `json:"type"`
}

func (h *CheckoutHandlers) handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}
	tenant, ok := tenantFromRequest(w, r)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxCheckoutRequestBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}
	req, err := decodeCheckoutRequest(body)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	switch req := req.(type) {
	case ValidateRequest:
		result, err := h.checkout.Validate(ctx, services.ValidateCommand{Tenant: tenant, CartKey: req.CartKey})
		if err != nil {
			writeServiceError(ctx, w, err)
			return
		}
		writeJSONResponse(w, http.StatusOK, buildValidationPayload(result))
	case QuoteRequest:
		quote, err := h.checkout.Quote(ctx, services.QuoteCommand{
			Tenant:     tenant,
			CartKey:    req.CartKey,
			CustomerID: strings.TrimSpace(req.CustomerID),
			FirstOrder: req.FirstOrder,
		})
		if err != nil {
			writeServiceError(ctx, w, err)
			return
		}
		writeJSONResponse(w, http.StatusOK, quoteResponse{Quote: buildQuotePayload(quote)})
	case PlaceRequest:
		if h.limiter != nil && !h.limiter.Allow(tenant.ID+"|"+strings.TrimSpace(req.CartKey)) {
			httpx.WriteError(ctx, w, httpx.NewError("too_many_requests", "too many checkout attempts for this cart", http.StatusTooManyRequests).AsRetryable())
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		h.place.ServeHTTP(w, r)
	}
}

// servePlace runs behind the place middleware, which may have replayed the body.
func (h *CheckoutHandlers) servePlace(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenant, ok := tenantFromRequest(w, r)
	if !ok {
		return
	}
	body, err := readLimitedBody(r, maxCheckoutRequestBody)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	var req PlaceRequest
	if err := decodeStrict(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	cmd := services.PlaceCommand{
		Tenant:  tenant,
		CartKey: req.CartKey,
		Customer: domain.Customer{
			ID:    strings.TrimSpace(req.Customer.ID),
			Email: req.Customer.Email,
			Name:  req.Customer.Name,
			Phone: req.Customer.Phone,
		},
		ShippingAddress: req.ShippingAddress.toDomain(),
		PaymentMethod:   domain.PaymentMethod(strings.TrimSpace(req.PaymentMethod)),
		CallbackURL:     strings.TrimSpace(req.CallbackURL),
		IdempotencyKey:  strings.TrimSpace(r.Header.Get("Idempotency-Key")),
		FirstOrder:      req.FirstOrder,
	}
	if req.BillingAddress != nil {
		billing := req.BillingAddress.toDomain()
		cmd.BillingAddress = &billing
	}

	result, err := h.checkout.Place(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	resp := placeResponse{
		Order:            buildOrderPayload(result.Order),
		Quote:            buildQuotePayload(result.Quote),
		AuthorizationURL: result.AuthorizationURL,
		PaymentReference: result.PaymentReference,
		Deferred:         result.Deferred,
	}
	w.Header().Set("Location", "orders/"+result.Order.ID)
	writeJSONResponse(w, http.StatusCreated, resp)
}

func decodeCheckoutRequest(body []byte) (CheckoutRequest, error) {
	var envelope checkoutEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, errors.New("request body must be valid JSON")
	}
	switch strings.ToLower(strings.TrimSpace(envelope.Type)) {
	case "validate":
		var req ValidateRequest
		if err := decodeStrict(body, &req); err != nil {
			return nil, err
		}
		return req, nil
	case "quote":
		var req QuoteRequest
		if err := decodeStrict(body, &req); err != nil {
			return nil, err
		}
		return req, nil
	case "place":
		var req PlaceRequest
		if err := decodeStrict(body, &req); err != nil {
			return nil, err
		}
		return req, nil
	case "":
		return nil, errors.New("type is required")
	default:
		return nil, fmt.Errorf("unsupported checkout type %q", envelope.Type)
	}
}

type validationPayload struct {
	Valid        bool                        `json:"valid"`
	CartID       string                      `json:"cartId,omitempty"`
	Conflicts    []services.CartConflict     `json:"conflicts"`
	Insufficient []services.InsufficientItem `json:"insufficient"`
}

func buildValidationPayload(result services.ValidationResult) validationPayload {
	payload := validationPayload{
		Valid:        result.Valid,
		CartID:       result.Cart.ID,
		Conflicts:    result.Conflicts,
		Insufficient: result.Insufficient,
	}
	if payload.Conflicts == nil {
		payload.Conflicts = []services.CartConflict{}
	}
	if payload.Insufficient == nil {
		payload.Insufficient = []services.InsufficientItem{}
	}
	return payload
}

type quoteResponse struct {
	Quote quotePayload `json:"quote"`
}

type placeResponse struct {
	Order            orderPayload `json:"order"`
	Quote            quotePayload `json:"quote"`
	AuthorizationURL string       `json:"authorizationUrl,omitempty"`
	PaymentReference string       `json:"paymentReference,omitempty"`
	Deferred         bool         `json:"deferred"`
}
