package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/changerplanet/WebWaka2-sub010/internal/domain"
	"github.com/changerplanet/WebWaka2-sub010/internal/payments"
	"github.com/changerplanet/WebWaka2-sub010/internal/repositories"
)

const (
	defaultPaymentTimeout      = 15 * time.Second
	defaultCompensationTimeout = 10 * time.Second
)

// PaymentRequest asks for payment of a freshly placed order.
type PaymentRequest struct {
	Tenant         domain.Tenant
	Order          domain.Order
	CartID         string
	Customer       domain.Customer
	CallbackURL    string
	IdempotencyKey string
}

// PaymentOutcome is the order after its payment leg started.
type PaymentOutcome struct {
	Order            domain.Order
	AuthorizationURL string
	Reference        string
	// Deferred is set for cash on delivery, where no gateway is involved.
	Deferred bool
}

// PaymentConfirmation is a verified gateway notification routed to its order.
type PaymentConfirmation struct {
	Provider      string
	Reference     string
	TransactionID string
	Succeeded     bool
	FailureReason string
}

// PaymentServiceDeps wires the payment orchestrator.
type PaymentServiceDeps struct {
	Orders              repositories.OrderRepository
	Carts               repositories.CartRepository
	Partners            repositories.PaymentPartnerRepository
	Gateways            GatewayResolver
	OrderSvc            OrderService
	Inventory           InventoryService
	Events              EventPublisher
	Clock               func() time.Time
	Logger              Logger
	Timeout             time.Duration
	CompensationTimeout time.Duration
	CallbackBaseURL     string
}

type paymentService struct {
	orders              repositories.OrderRepository
	carts               repositories.CartRepository
	partners            repositories.PaymentPartnerRepository
	gateways            GatewayResolver
	orderSvc            OrderService
	inventory           InventoryService
	events              EventPublisher
	now                 func() time.Time
	logger              Logger
	timeout             time.Duration
	compensationTimeout time.Duration
	callbackBaseURL     string
}

// NewPaymentService constructs the payment orchestrator.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	switch {
	case deps.Orders == nil:
		return nil, errors.New("payment service: order repository is required")
	case deps.Carts == nil:
		return nil, errors.New("payment service: cart repository is required")
	case deps.Partners == nil:
		return nil, errors.New("payment service: payment partner repository is required")
	case deps.Gateways == nil:
		return nil, errors.New("payment service: gateway resolver is required")
	case deps.OrderSvc == nil:
		return nil, errors.New("payment service: order service is required")
	case deps.Inventory == nil:
		return nil, errors.New("payment service: inventory service is required")
	}
	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = defaultPaymentTimeout
	}
	compensation := deps.CompensationTimeout
	if compensation <= 0 {
		compensation = defaultCompensationTimeout
	}
	return &paymentService{
		orders:              deps.Orders,
		carts:               deps.Carts,
		partners:            deps.Partners,
		gateways:            deps.Gateways,
		orderSvc:            deps.OrderSvc,
		inventory:           deps.Inventory,
		events:              publisherOrNoop(deps.Events),
		now:                 utcClock(deps.Clock),
		logger:              loggerOrNoop(deps.Logger),
		timeout:             timeout,
		compensationTimeout: compensation,
		callbackBaseURL:     strings.TrimSpace(deps.CallbackBaseURL),
	}, nil
}

// Pay runs the cash on delivery or the gateway leg for a placed order. Every failure after the order
// exists is compensated before it is returned.
func (s *paymentService) Pay(ctx context.Context, req PaymentRequest) (PaymentOutcome, error) {
	if req.Order.ID == "" || req.Tenant.ID == "" {
		return PaymentOutcome{}, fmt.Errorf("%w: order and tenant are required", ErrCheckoutInvalidInput)
	}
	cartID := req.CartID
	if cartID == "" {
		cartID = req.Order.CartID
	}
	if req.Order.PaymentMethod == domain.PaymentMethodCOD {
		return s.payOnDelivery(ctx, req.Order, cartID)
	}
	return s.payThroughGateway(ctx, req, cartID)
}

func (s *paymentService) payOnDelivery(ctx context.Context, order domain.Order, cartID string) (PaymentOutcome, error) {
	if err := s.inventory.Deduct(ctx, order); err != nil {
		s.compensate(ctx, order, "inventory_unavailable")
		return PaymentOutcome{}, err
	}
	now := s.now()
	order.InventoryDeductedAt = &now
	order.UpdatedAt = now
	saved, err := s.orders.Update(ctx, order)
	if err != nil {
		if restockErr := s.inventory.Restock(context.WithoutCancel(ctx), order); restockErr != nil {
			s.logger(ctx, "inventory.restock_failed", map[string]any{"orderId": order.ID, "error": restockErr})
		}
		s.compensate(ctx, order, "order_update_failed")
		return PaymentOutcome{}, translateRepoError(err, ErrOrderNotFound, ErrOrderConflict)
	}
	s.clearCart(ctx, saved.TenantID, cartID, saved.ID)
	s.logger(ctx, "payment.cod.accepted", map[string]any{"orderId": saved.ID})
	return PaymentOutcome{Order: saved, Deferred: true}, nil
}

func (s *paymentService) payThroughGateway(ctx context.Context, req PaymentRequest, cartID string) (PaymentOutcome, error) {
	order := req.Order
	fail := func(code, reason string, cause error) (PaymentOutcome, error) {
		s.logger(ctx, "payment.failed", map[string]any{
			"orderId": order.ID,
			"code":    code,
			"error":   cause,
		})
		s.compensate(ctx, order, reason)
		return PaymentOutcome{}, &PaymentError{Code: code, OrderID: order.ID, Cause: cause}
	}

	partner, err := s.partners.ActiveForTenant(ctx, order.TenantID, domain.PaymentCapabilityPayments)
	if err != nil {
		if repositories.IsNotFound(err) {
			return fail(PaymentPartnerNotConfigured, "payment_partner_not_configured", err)
		}
		return fail(PaymentGatewayException, "payment_gateway_error", err)
	}
	gateway, err := s.gateways.Gateway(partner.Provider)
	if err != nil {
		return fail(PaymentPartnerNotConfigured, "payment_partner_not_configured", err)
	}
	if !req.Tenant.Demo && !gateway.IsAvailable(ctx, partner) {
		return fail(PaymentGatewayUnavailable, "payment_gateway_unavailable", errors.New("gateway reported unavailable"))
	}

	result, err := s.initiate(ctx, gateway, s.initiateRequest(req, partner))
	switch {
	case err != nil:
		return fail(PaymentGatewayException, "payment_gateway_error", err)
	case !result.Success:
		return fail(PaymentInitiationFailed, "payment_initiation_failed", errors.New(result.Error))
	}

	reference := result.Reference
	if reference == "" {
		reference = order.OrderNumber
	}
	order.PaymentStatus = domain.PaymentStatusInitiated
	order.Payment = domain.OrderPayment{
		PartnerID:        partner.ID,
		Provider:         gateway.Name(),
		Reference:        reference,
		TransactionID:    result.TransactionID,
		AuthorizationURL: result.AuthorizationURL,
	}
	order.UpdatedAt = s.now()
	saved, err := s.orders.Update(ctx, order)
	if err != nil {
		return fail(PaymentGatewayException, "payment_gateway_error", err)
	}

	s.clearCart(ctx, saved.TenantID, cartID, saved.ID)
	s.logger(ctx, "payment.initiated", map[string]any{
		"orderId":   saved.ID,
		"provider":  saved.Payment.Provider,
		"reference": reference,
	})
	return PaymentOutcome{Order: saved, AuthorizationURL: result.AuthorizationURL, Reference: reference}, nil
}

// initiate bounds the gateway call by the payment timeout and turns a panicking adapter into an error.
func (s *paymentService) initiate(ctx context.Context, gateway payments.Gateway, req payments.InitiateRequest) (result payments.InitiateResult, err error) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			result = payments.InitiateResult{}
			err = fmt.Errorf("gateway %s panicked: %v", gateway.Name(), r)
		}
	}()
	return gateway.InitiatePayment(callCtx, req)
}

func (s *paymentService) initiateRequest(req PaymentRequest, partner domain.PaymentPartner) payments.InitiateRequest {
	order := req.Order
	customer := req.Customer
	if customer.Email == "" {
		customer = order.Customer
	}
	callback := req.CallbackURL
	if callback == "" {
		callback = s.callbackBaseURL
	}
	idempotencyKey := req.IdempotencyKey
	if idempotencyKey == "" {
		idempotencyKey = "order-" + order.ID
	}

	items := make([]payments.LineItem, 0, len(order.Items()))
	for _, li := range order.Items() {
		items = append(items, payments.LineItem{
			Name:     li.ProductName,
			SKU:      li.ProductID,
			Quantity: li.Quantity,
			Amount:   li.UnitPrice,
		})
	}
	return payments.InitiateRequest{
		Partner:        partner,
		TenantID:       order.TenantID,
		OrderID:        order.ID,
		Reference:      order.OrderNumber,
		Amount:         domain.RoundMoney(order.GrandTotal),
		Currency:       order.Currency,
		Locale:         req.Tenant.Locale,
		Customer:       customer,
		CallbackURL:    callback,
		IdempotencyKey: idempotencyKey,
		Items:          items,
	}
}

// Compensate cancels the order and reopens the cart it converted. It ignores the caller's cancellation
// and runs under its own deadline.
func (s *paymentService) Compensate(ctx context.Context, order domain.Order, reason string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.compensationTimeout)
	defer cancel()

	var errs []error
	var opts []CancelOption
	if order.PaymentMethod != domain.PaymentMethodCOD {
		opts = append(opts, WithPaymentStatus(domain.PaymentStatusFailed))
	}
	if _, err := s.orderSvc.CancelOrder(ctx, order.TenantID, order.ID, reason, opts...); err != nil {
		errs = append(errs, fmt.Errorf("cancel order: %w", err))
	}
	if order.CartID != "" {
		if err := s.carts.Reopen(ctx, order.TenantID, order.CartID, order.ID); err != nil {
			errs = append(errs, fmt.Errorf("reopen cart: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (s *paymentService) compensate(ctx context.Context, order domain.Order, reason string) {
	if err := s.Compensate(ctx, order, reason); err != nil {
		s.logger(ctx, "payment.compensation_failed", map[string]any{
			"orderId": order.ID,
			"reason":  reason,
			"error":   err,
		})
		return
	}
	s.logger(ctx, "payment.compensated", map[string]any{"orderId": order.ID, "reason": reason})
}

func (s *paymentService) clearCart(ctx context.Context, tenantID, cartID, orderID string) {
	if cartID == "" {
		return
	}
	if err := s.carts.Clear(ctx, tenantID, cartID); err != nil {
		s.logger(ctx, "cart.clear_failed", map[string]any{"cartId": cartID, "orderId": orderID, "error": err})
	}
}
